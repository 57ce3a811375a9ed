package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/voice-journal/backend/internal/config"
)

// Conn is the subset of *websocket.Conn the bridge relies on.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens one upstream connection per session.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// UpstreamDialer dials the realtime speech API over websocket.
type UpstreamDialer struct {
	endpoint string
	apiKey   string
	dialer   *websocket.Dialer
}

// NewUpstreamDialer builds a dialer from the realtime configuration.
func NewUpstreamDialer(cfg config.RealtimeConfig) *UpstreamDialer {
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &UpstreamDialer{
		endpoint: buildEndpoint(cfg.URL, cfg.Model),
		apiKey:   strings.TrimSpace(cfg.APIKey),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
	}
}

// Endpoint returns the URL the dialer connects to.
func (d *UpstreamDialer) Endpoint() string {
	return d.endpoint
}

// Dial connects once; there is no retry.
func (d *UpstreamDialer) Dial(ctx context.Context) (Conn, error) {
	apiKey, err := resolveAPIKey(d.apiKey)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := d.dialer.DialContext(ctx, d.endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// buildEndpoint appends the model query parameter, keeping any query the
// base URL already carries.
func buildEndpoint(base, model string) string {
	u, err := url.Parse(base)
	if err != nil || model == "" {
		return base
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()
	return u.String()
}

// resolveAPIKey 返回规范化后的密钥，缺失时给出明确错误。
func resolveAPIKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return "", ErrMissingCredential
	}
	return key, nil
}

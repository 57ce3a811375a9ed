// Package realtime relays a browser voice session to the upstream realtime
// speech API and records the transcript while doing so.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/voice-journal/backend/internal/config"
	"github.com/zhouzirui/voice-journal/backend/internal/model/journal"
	rtmodel "github.com/zhouzirui/voice-journal/backend/internal/model/realtime"
	"github.com/zhouzirui/voice-journal/backend/internal/service/transcript"
)

const (
	defaultFlushTimeout = 10 * time.Second
	readyMessage        = "Voice session ready"
)

// InstructionSource picks the system instructions for a session type.
type InstructionSource interface {
	VoiceInstructions(ctx context.Context, sessionType journal.SessionType) string
}

// TranscriptSink receives the recorded fragments when a session ends.
type TranscriptSink interface {
	SaveTranscript(ctx context.Context, sessionType journal.SessionType, fragments []journal.Fragment) error
}

// Bridge holds what every session needs. It carries no per-session state.
type Bridge struct {
	cfg          config.RealtimeConfig
	dialer       Dialer
	instructions InstructionSource
	sink         TranscriptSink
	flushTimeout time.Duration
	now          func() time.Time
}

// Option customises a Bridge.
type Option func(*Bridge)

// WithFlushTimeout bounds how long the end-of-session save may take.
func WithFlushTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.flushTimeout = d
		}
	}
}

// WithClock sets the time source for fragment timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBridge creates a bridge. A nil dialer dials the configured upstream URL.
func NewBridge(cfg config.RealtimeConfig, dialer Dialer, instructions InstructionSource, sink TranscriptSink, opts ...Option) *Bridge {
	if dialer == nil {
		dialer = NewUpstreamDialer(cfg)
	}
	b := &Bridge{
		cfg:          cfg,
		dialer:       dialer,
		instructions: instructions,
		sink:         sink,
		flushTimeout: defaultFlushTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// session is the state of one client connection.
type session struct {
	id          string
	sessionType journal.SessionType
	client      Conn
	upstream    *lockedConn

	// pending is true while a generation has been requested and not finished.
	pending    atomic.Bool
	transcript *transcript.Accumulator
}

// lockedConn serialises writes; both pumps write upstream.
type lockedConn struct {
	mu   sync.Mutex
	conn Conn
}

func (c *lockedConn) ReadMessage() (int, []byte, error) {
	return c.conn.ReadMessage()
}

func (c *lockedConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

func (c *lockedConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, data)
}

func (c *lockedConn) Close() error {
	return c.conn.Close()
}

// Serve runs one session on an accepted client connection and returns when
// either side closes. Only setup failures are returned; a session that ran
// and ended returns nil.
func (b *Bridge) Serve(ctx context.Context, client Conn) error {
	s := &session{
		id:         uuid.NewString(),
		client:     client,
		transcript: transcript.NewAccumulator(b.now),
	}

	if _, err := resolveAPIKey(b.cfg.APIKey); err != nil {
		sendStatus(client, rtmodel.ClientMessageError, ErrMissingCredential.Error())
		return newError(KindSetup, "credential", err)
	}

	sessionType, err := readSessionStart(client)
	if err != nil {
		sendStatus(client, rtmodel.ClientMessageError, "Invalid session configuration")
		return newError(KindSetup, "read session start", err)
	}
	s.sessionType = sessionType

	upstream, err := b.dialer.Dial(ctx)
	if err != nil {
		sendStatus(client, rtmodel.ClientMessageError, fmt.Sprintf("Failed to connect to voice service: %v", err))
		return newError(KindSetup, "dial upstream", err)
	}
	s.upstream = &lockedConn{conn: upstream}
	defer s.upstream.Close()

	log.Printf("[realtime] session %s started (type=%s)", s.id, s.sessionType)

	if err := s.upstream.WriteJSON(b.sessionUpdate(ctx, s.sessionType)); err != nil {
		sendStatus(client, rtmodel.ClientMessageError, "Failed to configure voice session")
		return newError(KindSetup, "session update", err)
	}

	if err := sendStatus(client, rtmodel.ClientMessageReady, readyMessage); err != nil {
		return newError(KindSetup, "send ready", err)
	}

	runErr := s.run(ctx)
	if runErr != nil {
		log.Printf("[realtime] session %s closed: %v", s.id, runErr)
	}

	b.flush(ctx, s)
	return nil
}

func (b *Bridge) sessionUpdate(ctx context.Context, sessionType journal.SessionType) rtmodel.SessionUpdate {
	var instructions string
	if b.instructions != nil {
		instructions = b.instructions.VoiceInstructions(ctx, sessionType)
	}

	cfg := rtmodel.SessionConfig{
		Modalities:              append([]string(nil), rtmodel.DefaultModalities...),
		Instructions:            instructions,
		Voice:                   b.cfg.Voice,
		InputAudioFormat:        b.cfg.AudioFormat,
		OutputAudioFormat:       b.cfg.AudioFormat,
		Temperature:             b.cfg.Temperature,
		MaxResponseOutputTokens: b.cfg.MaxTokens,
	}
	if b.cfg.TranscriptionModel != "" {
		cfg.InputAudioTranscription = &rtmodel.TranscriptionModel{Model: b.cfg.TranscriptionModel}
	}

	return rtmodel.SessionUpdate{Type: rtmodel.EventSessionUpdate, Session: cfg}
}

// run forwards frames in both directions until one side stops.
func (s *session) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(s.pumpUpstream)
	g.Go(s.pumpClient)
	g.Go(func() error {
		// 任一方向结束后关闭两端，解除另一方向的阻塞读
		<-gctx.Done()
		s.upstream.Close()
		s.client.Close()
		return nil
	})

	return g.Wait()
}

// pumpUpstream forwards upstream frames to the client, inspecting text
// frames on the way.
func (s *session) pumpUpstream() error {
	for {
		messageType, data, err := s.upstream.ReadMessage()
		if err != nil {
			return newError(KindTransportClosed, "read upstream", err)
		}

		if messageType == websocket.TextMessage {
			s.inspectUpstream(data)
		}

		if err := s.client.WriteMessage(messageType, data); err != nil {
			return newError(KindTransportClosed, "write client", err)
		}
	}
}

// pumpClient forwards client frames upstream.
func (s *session) pumpClient() error {
	for {
		messageType, data, err := s.client.ReadMessage()
		if err != nil {
			return newError(KindTransportClosed, "read client", err)
		}

		if messageType == websocket.TextMessage {
			var ev rtmodel.ClientEvent
			if json.Unmarshal(data, &ev) == nil && ev.Type == rtmodel.EventResponseCreate {
				s.pending.Store(true)
			}
		}

		if err := s.upstream.WriteMessage(messageType, data); err != nil {
			return newError(KindTransportClosed, "write upstream", err)
		}
	}
}

func (s *session) inspectUpstream(data []byte) {
	var ev rtmodel.ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Printf("[realtime] session %s: %v", s.id, newError(KindParse, "decode upstream event", err))
		return
	}

	switch {
	case ev.Type == rtmodel.EventInputAudioBufferCommitted:
		s.autoAdvance()
	case ev.IsCompletion():
		s.pending.Store(false)
	}

	if text, ok := ev.UserTranscript(); ok {
		s.transcript.Add(journal.RoleUser, text)
	}
	if text, ok := ev.AssistantText(); ok {
		s.transcript.Add(journal.RoleAssistant, text)
	}
}

// autoAdvance requests a response for committed input unless one is
// already outstanding.
func (s *session) autoAdvance() {
	if !s.pending.CompareAndSwap(false, true) {
		return
	}
	if err := s.upstream.WriteJSON(rtmodel.NewResponseCreate()); err != nil {
		s.pending.Store(false)
		log.Printf("[realtime] session %s: request response failed: %v", s.id, err)
	}
}

// flush hands the transcript to the sink. The request context is usually
// already cancelled here, so the save runs on a detached one.
func (b *Bridge) flush(ctx context.Context, s *session) {
	fragments := s.transcript.Fragments()
	if len(fragments) == 0 || b.sink == nil {
		return
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.flushTimeout)
	defer cancel()

	if err := b.sink.SaveTranscript(flushCtx, s.sessionType, fragments); err != nil {
		log.Printf("[realtime] session %s: %v", s.id, newError(KindPersistence, "save transcript", err))
		return
	}
	log.Printf("[realtime] session %s: saved %d fragments (type=%s)", s.id, len(fragments), s.sessionType)
}

// readSessionStart reads the first client frame. It must be a JSON object;
// an absent or unknown session_type falls back to the default.
func readSessionStart(client Conn) (journal.SessionType, error) {
	_, data, err := client.ReadMessage()
	if err != nil {
		return "", err
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", fmt.Errorf("decode session start: %w", err)
	}
	if fields == nil {
		return "", errors.New("session start must be a JSON object")
	}

	raw, _ := fields["session_type"].(string)
	return journal.ParseSessionType(raw), nil
}

func sendStatus(conn Conn, messageType, message string) error {
	data, err := json.Marshal(rtmodel.StatusMessage{Type: messageType, Message: message})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/voice-journal/backend/internal/config"
	"github.com/zhouzirui/voice-journal/backend/internal/model/journal"
	rtmodel "github.com/zhouzirui/voice-journal/backend/internal/model/realtime"
)

const testTimeout = 3 * time.Second

type upstreamConn struct {
	conn   *websocket.Conn
	header http.Header
	query  url.Values
}

type upstreamServer struct {
	*httptest.Server
	conns chan upstreamConn
}

func newUpstreamServer(t *testing.T) *upstreamServer {
	t.Helper()

	u := &upstreamServer{conns: make(chan upstreamConn, 8)}
	upgrader := websocket.Upgrader{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		u.conns <- upstreamConn{conn: conn, header: r.Header.Clone(), query: r.URL.Query()}
	}))
	t.Cleanup(u.Close)
	return u
}

type sinkCall struct {
	sessionType journal.SessionType
	fragments   []journal.Fragment
}

type recordingSink struct {
	calls chan sinkCall
	err   error
}

func (s *recordingSink) SaveTranscript(_ context.Context, sessionType journal.SessionType, fragments []journal.Fragment) error {
	s.calls <- sinkCall{sessionType: sessionType, fragments: fragments}
	return s.err
}

type instructionsByType struct{}

func (instructionsByType) VoiceInstructions(_ context.Context, sessionType journal.SessionType) string {
	return "instructions for " + string(sessionType)
}

type failingDialer struct {
	calls int
}

func (d *failingDialer) Dial(context.Context) (Conn, error) {
	d.calls++
	return nil, errors.New("connection refused")
}

// stepClock advances one second per reading.
type stepClock struct {
	mu   sync.Mutex
	next time.Time
}

func newStepClock() *stepClock {
	return &stepClock{next: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.next
	c.next = c.next.Add(time.Second)
	return now
}

type harness struct {
	upstream *upstreamServer
	sink     *recordingSink
	clock    *stepClock
	url      string
	served   chan error
}

func testConfig(upstreamURL string) config.RealtimeConfig {
	return config.RealtimeConfig{
		APIKey:             "test-key",
		URL:                upstreamURL,
		Model:              "gpt-test",
		Voice:              "coral",
		AudioFormat:        "pcm16",
		TranscriptionModel: "whisper-1",
		Temperature:        0.7,
		MaxTokens:          300,
		HandshakeTimeout:   testTimeout,
	}
}

func newHarness(t *testing.T, mutate func(*config.RealtimeConfig), dialer Dialer) *harness {
	t.Helper()

	h := &harness{
		upstream: newUpstreamServer(t),
		sink:     &recordingSink{calls: make(chan sinkCall, 8)},
		clock:    newStepClock(),
		served:   make(chan error, 8),
	}

	cfg := testConfig("ws" + strings.TrimPrefix(h.upstream.URL, "http"))
	if mutate != nil {
		mutate(&cfg)
	}
	bridge := NewBridge(cfg, dialer, instructionsByType{}, h.sink,
		WithFlushTimeout(testTimeout), WithClock(h.clock.Now))

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		h.served <- bridge.Serve(r.Context(), conn)
	}))
	t.Cleanup(server.Close)

	h.url = "ws" + strings.TrimPrefix(server.URL, "http")
	return h
}

func (h *harness) dialClient(t *testing.T) *websocket.Conn {
	t.Helper()
	client, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func (h *harness) waitServed(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.served:
		return err
	case <-time.After(testTimeout):
		t.Fatal("session did not end")
		return nil
	}
}

func (h *harness) waitSink(t *testing.T) sinkCall {
	t.Helper()
	select {
	case call := <-h.sink.calls:
		return call
	case <-time.After(testTimeout):
		t.Fatal("transcript was not saved")
		return sinkCall{}
	}
}

type liveSession struct {
	client   *websocket.Conn
	upstream upstreamConn
	update   rtmodel.SessionUpdate
}

func (h *harness) start(t *testing.T, sessionType string) *liveSession {
	t.Helper()

	client := h.dialClient(t)
	require.NoError(t, client.WriteJSON(map[string]string{"session_type": sessionType}))

	var up upstreamConn
	select {
	case up = <-h.upstream.conns:
	case <-time.After(testTimeout):
		t.Fatal("bridge did not dial upstream")
	}
	t.Cleanup(func() { up.conn.Close() })

	s := &liveSession{client: client, upstream: up}
	_, data := readFrame(t, up.conn)
	require.NoError(t, json.Unmarshal(data, &s.update))

	status := readStatus(t, client)
	require.Equal(t, rtmodel.StatusMessage{Type: "ready", Message: "Voice session ready"}, status)
	return s
}

func (s *liveSession) fromUpstream(t *testing.T, data string) {
	t.Helper()
	require.NoError(t, s.upstream.conn.WriteMessage(websocket.TextMessage, []byte(data)))
	messageType, got := readFrame(t, s.client)
	require.Equal(t, websocket.TextMessage, messageType)
	require.Equal(t, data, string(got))
}

func (s *liveSession) expectUpstream(t *testing.T, want string) {
	t.Helper()
	_, got := readFrame(t, s.upstream.conn)
	assert.JSONEq(t, want, string(got))
}

// expectNoAutoResponse sends a marker from the client and checks it is the
// next frame upstream sees.
func (s *liveSession) expectNoAutoResponse(t *testing.T) {
	t.Helper()
	marker := `{"type":"input_audio_buffer.clear"}`
	require.NoError(t, s.client.WriteMessage(websocket.TextMessage, []byte(marker)))
	s.expectUpstream(t, marker)
}

func readFrame(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return messageType, data
}

func readStatus(t *testing.T, conn *websocket.Conn) rtmodel.StatusMessage {
	t.Helper()
	_, data := readFrame(t, conn)
	var status rtmodel.StatusMessage
	require.NoError(t, json.Unmarshal(data, &status))
	return status
}

func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatal("connection still open")
		}
		return
	}
}

const responseCreate = `{"type":"response.create","response":{"modalities":["text","audio"]}}`

func TestServeMissingCredential(t *testing.T) {
	dialer := &failingDialer{}
	h := newHarness(t, func(cfg *config.RealtimeConfig) { cfg.APIKey = "" }, dialer)

	client := h.dialClient(t)
	status := readStatus(t, client)
	assert.Equal(t, rtmodel.StatusMessage{Type: "error", Message: "OpenAI API key not configured"}, status)

	err := h.waitServed(t)
	assert.True(t, IsKind(err, KindSetup))
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.Zero(t, dialer.calls)
}

func TestServeRejectsMalformedSessionStart(t *testing.T) {
	dialer := &failingDialer{}
	h := newHarness(t, nil, dialer)

	client := h.dialClient(t)
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`[1,2]`)))

	status := readStatus(t, client)
	assert.Equal(t, "error", status.Type)
	assert.True(t, IsKind(h.waitServed(t), KindSetup))
	assert.Zero(t, dialer.calls)
}

func TestServeDialFailure(t *testing.T) {
	dialer := &failingDialer{}
	h := newHarness(t, nil, dialer)

	client := h.dialClient(t)
	require.NoError(t, client.WriteJSON(map[string]string{"session_type": "notes"}))

	status := readStatus(t, client)
	assert.Equal(t, "error", status.Type)
	assert.Contains(t, status.Message, "connection refused")

	err := h.waitServed(t)
	assert.Equal(t, KindSetup, KindOf(err))
	assert.Equal(t, 1, dialer.calls)
}

func TestServeConfiguresUpstreamSession(t *testing.T) {
	h := newHarness(t, nil, nil)
	s := h.start(t, "planning")

	assert.Equal(t, "Bearer test-key", s.upstream.header.Get("Authorization"))
	assert.Equal(t, "realtime=v1", s.upstream.header.Get("OpenAI-Beta"))
	assert.Equal(t, "gpt-test", s.upstream.query.Get("model"))

	assert.Equal(t, "session.update", s.update.Type)
	session := s.update.Session
	assert.Equal(t, []string{"text", "audio"}, session.Modalities)
	assert.Equal(t, "instructions for planning", session.Instructions)
	assert.Equal(t, "coral", session.Voice)
	assert.Equal(t, "pcm16", session.InputAudioFormat)
	assert.Equal(t, "pcm16", session.OutputAudioFormat)
	require.NotNil(t, session.InputAudioTranscription)
	assert.Equal(t, "whisper-1", session.InputAudioTranscription.Model)
	assert.InDelta(t, 0.7, session.Temperature, 1e-9)
	assert.Equal(t, 300, session.MaxResponseOutputTokens)
}

func TestServeUnknownSessionTypeFallsBack(t *testing.T) {
	h := newHarness(t, nil, nil)

	s := h.start(t, "daydreaming")
	assert.Equal(t, "instructions for reflection", s.update.Session.Instructions)

	s = h.start(t, "")
	assert.Equal(t, "instructions for reflection", s.update.Session.Instructions)
}

func TestCommittedAutoRequestsOneResponse(t *testing.T) {
	h := newHarness(t, nil, nil)
	s := h.start(t, "reflection")

	committed := `{"type":"input_audio_buffer.committed","item_id":"item_1"}`

	require.NoError(t, s.upstream.conn.WriteMessage(websocket.TextMessage, []byte(committed)))
	s.expectUpstream(t, responseCreate)
	_, forwarded := readFrame(t, s.client)
	assert.Equal(t, committed, string(forwarded))

	// a generation is outstanding, so the second commit is only forwarded
	s.fromUpstream(t, committed)
	s.expectNoAutoResponse(t)
}

// scriptedConn is an in-memory upstream whose response.create writes can
// be made to fail.
type scriptedConn struct {
	frames      chan []byte
	writes      chan []byte
	failCreates atomic.Int32
	closed      chan struct{}
	closeOnce   sync.Once
}

func newScriptedConn() *scriptedConn {
	return &scriptedConn{
		frames: make(chan []byte, 8),
		writes: make(chan []byte, 8),
		closed: make(chan struct{}),
	}
}

func (c *scriptedConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.frames:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *scriptedConn) WriteMessage(_ int, data []byte) error {
	var ev rtmodel.ClientEvent
	if json.Unmarshal(data, &ev) == nil && ev.Type == rtmodel.EventResponseCreate && c.failCreates.Add(-1) >= 0 {
		return errors.New("broken pipe")
	}
	select {
	case c.writes <- data:
		return nil
	case <-c.closed:
		return net.ErrClosed
	}
}

func (c *scriptedConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *scriptedConn) nextWrite(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-c.writes:
		return data
	case <-time.After(testTimeout):
		t.Fatal("nothing written upstream")
		return nil
	}
}

type scriptedDialer struct {
	conn *scriptedConn
}

func (d scriptedDialer) Dial(context.Context) (Conn, error) {
	return d.conn, nil
}

func TestFailedAutoRequestClearsPending(t *testing.T) {
	upstream := newScriptedConn()
	upstream.failCreates.Store(1)
	h := newHarness(t, nil, scriptedDialer{conn: upstream})

	client := h.dialClient(t)
	require.NoError(t, client.WriteJSON(map[string]string{"session_type": "reflection"}))
	assert.Contains(t, string(upstream.nextWrite(t)), `"session.update"`)
	require.Equal(t, "ready", readStatus(t, client).Type)

	committed := `{"type":"input_audio_buffer.committed"}`

	// the first request fails; the commit still reaches the browser
	upstream.frames <- []byte(committed)
	_, got := readFrame(t, client)
	assert.Equal(t, committed, string(got))

	// pending was cleared, so the next commit asks again
	upstream.frames <- []byte(committed)
	assert.JSONEq(t, responseCreate, string(upstream.nextWrite(t)))
	_, got = readFrame(t, client)
	assert.Equal(t, committed, string(got))

	// and that request is now outstanding
	upstream.frames <- []byte(committed)
	_, got = readFrame(t, client)
	assert.Equal(t, committed, string(got))
	marker := `{"type":"input_audio_buffer.clear"}`
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(marker)))
	assert.Equal(t, marker, string(upstream.nextWrite(t)))

	require.NoError(t, client.Close())
	assert.NoError(t, h.waitServed(t))
}

func TestCompletionEventsResetPending(t *testing.T) {
	completions := []string{
		"response.done",
		"response.completed",
		"response.audio.done",
		"response.output_audio.done",
		"response.text.done",
		"response.output_text.done",
	}

	h := newHarness(t, nil, nil)
	s := h.start(t, "reflection")
	committed := `{"type":"input_audio_buffer.committed"}`

	for _, kind := range completions {
		t.Run(kind, func(t *testing.T) {
			s.fromUpstream(t, committed)
			s.expectUpstream(t, responseCreate)

			s.fromUpstream(t, `{"type":"`+kind+`"}`)

			s.fromUpstream(t, committed)
			s.expectUpstream(t, responseCreate)

			s.fromUpstream(t, `{"type":"response.done"}`)
		})
	}
}

func TestClientResponseCreateSetsPending(t *testing.T) {
	h := newHarness(t, nil, nil)
	s := h.start(t, "goals")

	manual := `{"type":"response.create","response":{"instructions":"be brief"}}`
	require.NoError(t, s.client.WriteMessage(websocket.TextMessage, []byte(manual)))
	s.expectUpstream(t, manual)

	s.fromUpstream(t, `{"type":"input_audio_buffer.committed"}`)
	s.expectNoAutoResponse(t)

	s.fromUpstream(t, `{"type":"response.done"}`)
	s.fromUpstream(t, `{"type":"input_audio_buffer.committed"}`)
	s.expectUpstream(t, responseCreate)
}

func TestMalformedUpstreamFramesAreForwardedRaw(t *testing.T) {
	h := newHarness(t, nil, nil)
	s := h.start(t, "notes")

	s.fromUpstream(t, `{"type": "response.text.delta", "delta": `)
	s.fromUpstream(t, `not json at all`)

	audio := []byte{0x00, 0x01, 0xfe, 0xff}
	require.NoError(t, s.upstream.conn.WriteMessage(websocket.BinaryMessage, audio))
	messageType, got := readFrame(t, s.client)
	assert.Equal(t, websocket.BinaryMessage, messageType)
	assert.Equal(t, audio, got)

	// session is still live
	s.fromUpstream(t, `{"type":"input_audio_buffer.committed"}`)
	s.expectUpstream(t, responseCreate)
}

func TestClientFramesForwardedVerbatim(t *testing.T) {
	h := newHarness(t, nil, nil)
	s := h.start(t, "notes")

	audio := []byte{0x10, 0x20, 0x30}
	require.NoError(t, s.client.WriteMessage(websocket.BinaryMessage, audio))
	messageType, got := readFrame(t, s.upstream.conn)
	assert.Equal(t, websocket.BinaryMessage, messageType)
	assert.Equal(t, audio, got)

	frame := `{"type":"input_audio_buffer.append","audio":"AAEC"}`
	require.NoError(t, s.client.WriteMessage(websocket.TextMessage, []byte(frame)))
	_, got = readFrame(t, s.upstream.conn)
	assert.Equal(t, frame, string(got))
}

func TestTranscriptSavedOnClientClose(t *testing.T) {
	h := newHarness(t, nil, nil)
	s := h.start(t, "planning")

	s.fromUpstream(t, `{"type":"conversation.item.input_audio_transcription.completed","transcript":"A"}`)
	s.fromUpstream(t, `{"type":"response.audio_transcript.done","transcript":"B"}`)
	s.fromUpstream(t, `{"type":"response.text.done","text":"B2"}`)
	s.fromUpstream(t, `{"type":"conversation.item.input_audio_transcription.completed","transcript":"C"}`)

	require.NoError(t, s.client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	call := h.waitSink(t)
	assert.Equal(t, journal.Planning, call.sessionType)
	require.Len(t, call.fragments, 4)
	assert.Equal(t, journal.RoleUser, call.fragments[0].Role)
	assert.Equal(t, "A", call.fragments[0].Content)
	assert.Equal(t, journal.RoleAssistant, call.fragments[1].Role)
	assert.Equal(t, "B", call.fragments[1].Content)
	assert.Equal(t, "B2", call.fragments[2].Content)
	assert.Equal(t, "C", call.fragments[3].Content)

	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	for i, f := range call.fragments {
		assert.Equal(t, start.Add(time.Duration(i)*time.Second), f.Timestamp, "fragment %d", i)
	}

	assert.NoError(t, h.waitServed(t))
	expectClosed(t, s.upstream.conn)
}

func TestUpstreamCloseEndsSessionAndFlushes(t *testing.T) {
	h := newHarness(t, nil, nil)
	s := h.start(t, "reflection")

	s.fromUpstream(t, `{"type":"conversation.item.input_audio_transcription.completed","transcript":"hello"}`)
	require.NoError(t, s.upstream.conn.Close())

	expectClosed(t, s.client)
	call := h.waitSink(t)
	assert.Equal(t, journal.Reflection, call.sessionType)
	require.Len(t, call.fragments, 1)
	assert.Equal(t, "hello", call.fragments[0].Content)
	assert.NoError(t, h.waitServed(t))
}

func TestEmptySessionWritesNothing(t *testing.T) {
	h := newHarness(t, nil, nil)
	s := h.start(t, "planning")

	require.NoError(t, s.client.Close())

	expectClosed(t, s.upstream.conn)
	assert.NoError(t, h.waitServed(t))
	select {
	case call := <-h.sink.calls:
		t.Fatalf("unexpected save: %+v", call)
	default:
	}
}

func TestPersistenceFailureIsNotReturned(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.sink.err = errors.New("disk full")
	s := h.start(t, "notes")

	s.fromUpstream(t, `{"type":"conversation.item.input_audio_transcription.completed","transcript":"x"}`)
	require.NoError(t, s.client.Close())

	h.waitSink(t)
	assert.NoError(t, h.waitServed(t))
}

func TestConcurrentSessionsAreIsolated(t *testing.T) {
	h := newHarness(t, nil, nil)
	a := h.start(t, "planning")
	b := h.start(t, "goals")

	committed := `{"type":"input_audio_buffer.committed"}`

	a.fromUpstream(t, committed)
	a.expectUpstream(t, responseCreate)

	// a's outstanding request does not hold back b
	b.fromUpstream(t, committed)
	b.expectUpstream(t, responseCreate)

	a.fromUpstream(t, `{"type":"conversation.item.input_audio_transcription.completed","transcript":"alpha"}`)
	b.fromUpstream(t, `{"type":"conversation.item.input_audio_transcription.completed","transcript":"beta"}`)

	require.NoError(t, a.client.Close())
	first := h.waitSink(t)
	assert.Equal(t, journal.Planning, first.sessionType)
	require.Len(t, first.fragments, 1)
	assert.Equal(t, "alpha", first.fragments[0].Content)

	// b keeps running after a ends
	b.fromUpstream(t, `{"type":"response.done"}`)
	b.fromUpstream(t, committed)
	b.expectUpstream(t, responseCreate)

	require.NoError(t, b.client.Close())
	second := h.waitSink(t)
	assert.Equal(t, journal.Goals, second.sessionType)
	require.Len(t, second.fragments, 1)
	assert.Equal(t, "beta", second.fragments[0].Content)
}

package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/bevpro/voicerelay/internal/config"
	"github.com/bevpro/voicerelay/internal/observe"
	"github.com/bevpro/voicerelay/pkg/resolver"
	"github.com/bevpro/voicerelay/pkg/session"
	"github.com/bevpro/voicerelay/pkg/tts"
	"github.com/bevpro/voicerelay/pkg/voice"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type wsFrame struct {
	mt   int
	data []byte
}

// fakeSocket scripts inbound frames and records everything the relay writes.
type fakeSocket struct {
	in     chan wsFrame
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes []wsFrame
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:     make(chan wsFrame, 256),
		closed: make(chan struct{}),
	}
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case fr, ok := <-f.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return fr.mt, fr.data, nil
	case <-f.closed:
		return 0, nil, net.ErrClosed
	}
}

func (f *fakeSocket) WriteMessage(mt int, data []byte) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.mu.Lock()
	f.writes = append(f.writes, wsFrame{mt: mt, data: cp})
	f.mu.Unlock()
	return nil
}

func (f *fakeSocket) SetReadDeadline(time.Time) error { return nil }

func (f *fakeSocket) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSocket) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeSocket) clientText(t *testing.T, msg string) {
	t.Helper()
	select {
	case f.in <- wsFrame{mt: websocket.TextMessage, data: []byte(msg)}:
	case <-time.After(time.Second):
		t.Fatal("reader not draining text frames")
	}
}

func (f *fakeSocket) clientAudio(t *testing.T, frame []byte) {
	t.Helper()
	select {
	case f.in <- wsFrame{mt: websocket.BinaryMessage, data: frame}:
	case <-time.After(time.Second):
		t.Fatal("reader not draining audio frames")
	}
}

func (f *fakeSocket) textWrites() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, w := range f.writes {
		if w.mt == websocket.TextMessage {
			out = append(out, string(w.data))
		}
	}
	return out
}

func (f *fakeSocket) binaryWrites() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, w := range f.writes {
		if w.mt == websocket.BinaryMessage {
			out = append(out, w.data)
		}
	}
	return out
}

// fakeAdapter records upstream traffic and lets tests fire provider events.
type fakeAdapter struct {
	startErr error

	mu        sync.Mutex
	connected bool
	stops     int
	audio     [][]byte
	raw       [][]byte
	results   map[string]string

	onTranscript func(voice.TranscriptEvent)
	onAudioOut   func([]byte)
	onEvent      func([]byte)
	onToolCall   func(voice.ToolCall)
	onError      func(error)
}

func (a *fakeAdapter) Start(context.Context) error {
	if a.startErr != nil {
		return a.startErr
	}
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) Stop() error {
	a.mu.Lock()
	a.connected = false
	a.stops++
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *fakeAdapter) SendAudio(pcm16 []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return voice.ErrNotConnected
	}
	a.audio = append(a.audio, pcm16)
	return nil
}

func (a *fakeAdapter) SendRaw(msg []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return voice.ErrNotConnected
	}
	a.raw = append(a.raw, msg)
	return nil
}

func (a *fakeAdapter) OnTranscript(fn func(voice.TranscriptEvent)) { a.onTranscript = fn }
func (a *fakeAdapter) OnAudioOut(fn func([]byte))                  { a.onAudioOut = fn }
func (a *fakeAdapter) OnEvent(fn func([]byte))                     { a.onEvent = fn }
func (a *fakeAdapter) OnSpeechStart(func())                        {}
func (a *fakeAdapter) OnSpeechEnd(func())                          {}
func (a *fakeAdapter) OnToolCall(fn func(voice.ToolCall))          { a.onToolCall = fn }
func (a *fakeAdapter) OnError(fn func(error))                      { a.onError = fn }

func (a *fakeAdapter) SubmitToolResult(callID, result string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results[callID] = result
	return nil
}

func (a *fakeAdapter) Metrics() voice.Metrics { return voice.Metrics{} }

func (a *fakeAdapter) audioCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.audio)
}

func (a *fakeAdapter) rawCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.raw)
}

func (a *fakeAdapter) stopCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stops
}

func (a *fakeAdapter) emitFinal(text string) {
	a.onTranscript(voice.TranscriptEvent{Text: text, IsFinal: true})
}

// fakeFactory hands out fake adapters and counts how many were created.
type fakeFactory struct {
	mu       sync.Mutex
	adapters []*fakeAdapter
	startErr error
}

func (f *fakeFactory) make(voice.Config) (voice.Adapter, error) {
	f.mu.Lock()
	a := &fakeAdapter{
		startErr: f.startErr,
		results:  map[string]string{},
	}
	f.adapters = append(f.adapters, a)
	f.mu.Unlock()
	return a, nil
}

func (f *fakeFactory) setStartErr(err error) {
	f.mu.Lock()
	f.startErr = err
	f.mu.Unlock()
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.adapters)
}

func (f *fakeFactory) adapter(i int) *fakeAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.adapters) {
		return nil
	}
	return f.adapters[i]
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	return m
}

func baseConfig() config.Config {
	return config.Config{
		Port:               8787,
		DeepgramModel:      "nova-2",
		WakePhrase:         "hey bev",
		TerminationPhrases: []string{"stop listening", "thanks bev"},
		ShutdownPhrases:    []string{"shut down"},
		CommandLimit:       15,
		AgentName:          "Bev",
	}
}

func testDeps(t *testing.T, cfg config.Config, ff *fakeFactory, synth tts.Provider, resolverURL string) connDeps {
	t.Helper()
	return connDeps{
		cfg:        cfg,
		synth:      synth,
		resolver:   resolver.NewClient(resolverURL),
		metrics:    testMetrics(t),
		adapterFor: ff.make,
		backoff:    Backoff{Min: 5 * time.Millisecond, Max: 20 * time.Millisecond, Attempts: 2},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// startConn runs the session and returns a channel closed when Run returns.
func startConn(c *Conn) chan struct{} {
	done := make(chan struct{})
	go func() {
		c.Run()
		close(done)
	}()
	return done
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func inMode(c *Conn, want session.Mode) func() bool {
	return func() bool {
		mode, _ := c.sessionState()
		return mode == want
	}
}

func hasTextWrite(fs *fakeSocket, substr string) func() bool {
	return func() bool {
		for _, w := range fs.textWrites() {
			if strings.Contains(w, substr) {
				return true
			}
		}
		return false
	}
}

func sayServer(t *testing.T, say string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"say":"` + say + `"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSelectLane(t *testing.T) {
	tests := []struct {
		name     string
		deepgram string
		openai   string
		want     Lane
	}{
		{"both keys prefers realtime", "dg", "oa", LaneRealtime},
		{"openai only", "", "oa", LaneRealtime},
		{"deepgram only", "dg", "", LaneASR},
		{"no keys", "", "", LaneDemo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.DeepgramKey = tt.deepgram
			cfg.OpenAIKey = tt.openai
			if got := selectLane(cfg); got != tt.want {
				t.Errorf("selectLane() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFrameRingDropsOldestOnOverflow(t *testing.T) {
	r := newFrameRing(3)
	for _, b := range []byte{1, 2, 3, 4, 5} {
		r.push([]byte{b})
	}

	frames := r.drain()
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for i, want := range []byte{3, 4, 5} {
		if frames[i][0] != want {
			t.Errorf("frame %d = %d, want %d", i, frames[i][0], want)
		}
	}
	if r.len() != 0 {
		t.Error("drain should empty the ring")
	}
}

func TestConnPingPong(t *testing.T) {
	fs := newFakeSocket()
	ff := &fakeFactory{}
	c := newConn(fs, testDeps(t, baseConfig(), ff, tts.NewMock(), ""))
	done := startConn(c)

	fs.clientText(t, `{"type":"ping","t":1712345678901}`)

	waitFor(t, "pong", hasTextWrite(fs, `"type":"pong"`))
	waitFor(t, "echoed timestamp", hasTextWrite(fs, `1712345678901`))

	fs.Close()
	<-done
}

func TestConnASRSessionFlow(t *testing.T) {
	srv := sayServer(t, "Two old fashioneds, coming right up.")

	cfg := baseConfig()
	cfg.DeepgramKey = "dg-key"
	ff := &fakeFactory{}
	mock := tts.NewMock()
	fs := newFakeSocket()
	c := newConn(fs, testDeps(t, cfg, ff, mock, srv.URL))
	done := startConn(c)

	// First audio frame opens the upstream and is flushed from the ring.
	fs.clientAudio(t, []byte{0, 1})
	waitFor(t, "upstream open", func() bool { return ff.count() == 1 && ff.adapter(0).IsConnected() })
	waitFor(t, "buffered frame flush", func() bool { return ff.adapter(0).audioCount() == 1 })
	fa := ff.adapter(0)

	// Connected frames go straight upstream.
	fs.clientAudio(t, []byte{2, 3})
	waitFor(t, "direct frame", func() bool { return fa.audioCount() == 2 })

	// Wake word: greeting spoken, session conversing.
	fa.emitFinal("hey bev please")
	waitFor(t, "wake partial", hasTextWrite(fs, `"isFinal":true`))
	waitFor(t, "greeting", hasTextWrite(fs, `"type":"speak"`))
	waitFor(t, "conversing", inMode(c, session.ModeConversing))

	// Command: resolved and spoken back.
	fa.emitFinal("two old fashioneds")
	waitFor(t, "resolver reply spoken", func() bool {
		for _, call := range mock.Calls() {
			if call.Text == "Two old fashioneds, coming right up." {
				return true
			}
		}
		return false
	})

	// Termination: farewell spoken, ASR upstream torn down.
	fa.emitFinal("thanks bev")
	waitFor(t, "back to wake-listening", inMode(c, session.ModeWakeListening))
	waitFor(t, "upstream closed on sleep", func() bool { return fa.stopCount() == 1 })

	// The next audio frame lazily reopens the upstream.
	fs.clientAudio(t, []byte{4, 5})
	waitFor(t, "upstream reopened", func() bool { return ff.count() == 2 })

	fs.Close()
	<-done
}

func TestConnResolverFailureSpeaksApology(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	cfg := baseConfig()
	cfg.DeepgramKey = "dg-key"
	ff := &fakeFactory{}
	mock := tts.NewMock()
	fs := newFakeSocket()
	c := newConn(fs, testDeps(t, cfg, ff, mock, srv.URL))
	done := startConn(c)

	fs.clientAudio(t, []byte{0, 1})
	waitFor(t, "upstream open", func() bool { return ff.count() == 1 && ff.adapter(0).IsConnected() })
	fa := ff.adapter(0)

	fa.emitFinal("hey bev")
	fa.emitFinal("one negroni")

	waitFor(t, "apology spoken", func() bool {
		for _, call := range mock.Calls() {
			if call.Text == apologyLine {
				return true
			}
		}
		return false
	})

	fs.Close()
	<-done
}

func TestConnShutdownPhraseClosesSession(t *testing.T) {
	cfg := baseConfig()
	cfg.DeepgramKey = "dg-key"
	ff := &fakeFactory{}
	fs := newFakeSocket()
	c := newConn(fs, testDeps(t, cfg, ff, tts.NewMock(), ""))
	done := startConn(c)

	fs.clientAudio(t, []byte{0, 1})
	waitFor(t, "upstream open", func() bool { return ff.count() == 1 && ff.adapter(0).IsConnected() })
	fa := ff.adapter(0)

	fa.emitFinal("hey bev")
	waitFor(t, "conversing", inMode(c, session.ModeConversing))

	fa.emitFinal("please shut down now")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close after shutdown phrase")
	}
	if !fs.isClosed() {
		t.Error("client socket should be closed")
	}
	if fa.stopCount() == 0 {
		t.Error("upstream should be stopped on shutdown")
	}
}

func TestConnRealtimePassthrough(t *testing.T) {
	cfg := baseConfig()
	cfg.OpenAIKey = "oa-key"
	ff := &fakeFactory{}
	fs := newFakeSocket()
	c := newConn(fs, testDeps(t, cfg, ff, tts.NewMock(), ""))
	done := startConn(c)

	// session.update opens the upstream and is forwarded once connected.
	update := `{"type":"session.update","session":{"voice":"shimmer"}}`
	fs.clientText(t, update)
	waitFor(t, "upstream open", func() bool { return ff.count() == 1 && ff.adapter(0).IsConnected() })
	fa := ff.adapter(0)
	waitFor(t, "session.update forwarded", func() bool { return fa.rawCount() == 1 })

	// Unknown client message types pass through on the realtime lane.
	fs.clientText(t, `{"type":"response.create"}`)
	waitFor(t, "response.create forwarded", func() bool { return fa.rawCount() == 2 })

	// Provider-native events reach the client verbatim.
	native := `{"type":"response.audio_transcript.delta","delta":"Sure"}`
	fa.onEvent([]byte(native))
	waitFor(t, "native event passthrough", hasTextWrite(fs, native))

	// Model audio reaches the client as binary frames.
	fa.onAudioOut([]byte{9, 9, 9})
	waitFor(t, "model audio", func() bool { return len(fs.binaryWrites()) == 1 })

	fs.Close()
	<-done
}

func TestConnRealtimeTranscriptsNotDoubleAnswered(t *testing.T) {
	var resolverHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resolverHits.Add(1)
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"say":"ok"}`))
	}))
	t.Cleanup(srv.Close)

	cfg := baseConfig()
	cfg.OpenAIKey = "oa-key"
	ff := &fakeFactory{}
	mock := tts.NewMock()
	fs := newFakeSocket()
	c := newConn(fs, testDeps(t, cfg, ff, mock, srv.URL))
	done := startConn(c)

	fs.clientText(t, `{"type":"session.update","session":{}}`)
	waitFor(t, "upstream open", func() bool { return ff.count() == 1 && ff.adapter(0).IsConnected() })
	fa := ff.adapter(0)

	fa.emitFinal("hey bev")
	waitFor(t, "conversing", inMode(c, session.ModeConversing))

	// The model answers this itself; local handling is count-keeping only.
	fa.emitFinal("two old fashioneds")
	waitFor(t, "command counted", func() bool {
		_, commands := c.sessionState()
		return commands == 1
	})

	if n := resolverHits.Load(); n != 0 {
		t.Errorf("resolver hits = %d, want 0 on the realtime lane", n)
	}
	if n := mock.CallCount("Synthesize"); n != 0 {
		t.Errorf("synthesis calls = %d, want 0 on the realtime lane", n)
	}

	fs.Close()
	<-done
}

func TestConnRealtimeConfigCarriesPromptAndTools(t *testing.T) {
	cfg := baseConfig()
	cfg.OpenAIKey = "oa-key"
	c := newConn(newFakeSocket(), testDeps(t, cfg, &fakeFactory{}, tts.NewMock(), ""))
	t.Cleanup(c.cancel)

	vc := c.voiceConfig()
	if vc.SystemPrompt == "" {
		t.Fatal("realtime config must carry instructions")
	}
	if !strings.Contains(vc.SystemPrompt, "hey bev") {
		t.Error("instructions should restate the wake phrase")
	}

	want := []string{"cart_add", "search_drinks", "cart_view", "cart_create_order"}
	if len(vc.Tools) != len(want) {
		t.Fatalf("got %d tools, want %d", len(vc.Tools), len(want))
	}
	for i, name := range want {
		if vc.Tools[i].Name != name {
			t.Errorf("tool %d = %q, want %q", i, vc.Tools[i].Name, name)
		}
	}
	required, _ := vc.Tools[0].Parameters["required"].([]string)
	if len(required) != 1 || required[0] != "drink_name" {
		t.Errorf("cart_add required = %v, want [drink_name]", required)
	}
}

func TestConnSessionUpdateRejectedWithoutRealtime(t *testing.T) {
	cfg := baseConfig()
	cfg.DeepgramKey = "dg-key"
	ff := &fakeFactory{}
	fs := newFakeSocket()
	c := newConn(fs, testDeps(t, cfg, ff, tts.NewMock(), ""))
	done := startConn(c)

	fs.clientText(t, `{"type":"session.update","session":{"voice":"shimmer"}}`)

	waitFor(t, "error reply", hasTextWrite(fs, "OpenAI not configured"))
	if ff.count() != 0 {
		t.Error("transcription lane must not dial an upstream for session.update")
	}

	fs.Close()
	<-done
}

func TestConnToolCallResolved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"say":"Added.","data":{"cart_size":2}}`))
	}))
	t.Cleanup(srv.Close)

	cfg := baseConfig()
	cfg.OpenAIKey = "oa-key"
	ff := &fakeFactory{}
	fs := newFakeSocket()
	c := newConn(fs, testDeps(t, cfg, ff, tts.NewMock(), srv.URL))
	done := startConn(c)

	fs.clientText(t, `{"type":"session.update","session":{}}`)
	waitFor(t, "upstream open", func() bool { return ff.count() == 1 && ff.adapter(0).IsConnected() })
	fa := ff.adapter(0)

	fa.onToolCall(voice.ToolCall{
		ID:        "call-1",
		Name:      "cart_add",
		Arguments: map[string]any{"drink": "negroni"},
	})

	waitFor(t, "tool result submitted", func() bool {
		fa.mu.Lock()
		defer fa.mu.Unlock()
		return fa.results["call-1"] == `{"cart_size":2}`
	})

	fs.Close()
	<-done
}

func TestConnUpstreamErrorReconnects(t *testing.T) {
	cfg := baseConfig()
	cfg.DeepgramKey = "dg-key"
	ff := &fakeFactory{}
	fs := newFakeSocket()
	c := newConn(fs, testDeps(t, cfg, ff, tts.NewMock(), ""))
	done := startConn(c)

	fs.clientAudio(t, []byte{0, 1})
	waitFor(t, "upstream open", func() bool { return ff.count() == 1 && ff.adapter(0).IsConnected() })
	fa := ff.adapter(0)

	fa.emitFinal("hey bev")
	waitFor(t, "conversing", inMode(c, session.ModeConversing))

	fa.onError(errors.New("connection reset"))

	waitFor(t, "replacement upstream", func() bool {
		return ff.count() == 2 && ff.adapter(1).IsConnected()
	})
	if fa.stopCount() == 0 {
		t.Error("failed upstream should be stopped before reconnect")
	}

	fs.Close()
	<-done
}

func TestConnExhaustedBackoffKeepsSessionAlive(t *testing.T) {
	cfg := baseConfig()
	cfg.DeepgramKey = "dg-key"
	ff := &fakeFactory{}
	fs := newFakeSocket()
	c := newConn(fs, testDeps(t, cfg, ff, tts.NewMock(), ""))
	done := startConn(c)

	fs.clientAudio(t, []byte{0, 1})
	waitFor(t, "upstream open", func() bool { return ff.count() == 1 && ff.adapter(0).IsConnected() })
	fa := ff.adapter(0)

	fa.emitFinal("hey bev")
	waitFor(t, "conversing", inMode(c, session.ModeConversing))

	// Every redial fails until the backoff budget runs out.
	ff.setStartErr(errors.New("dial refused"))
	fa.onError(errors.New("connection reset"))

	waitFor(t, "provider error surfaced", hasTextWrite(fs, "speech provider unavailable"))
	waitFor(t, "dropped to wake-listening", inMode(c, session.ModeWakeListening))
	if fs.isClosed() {
		t.Fatal("client socket must stay open after upstream loss")
	}

	// Once the provider recovers, the next audio frame dials fresh.
	ff.setStartErr(nil)
	before := ff.count()
	fs.clientAudio(t, []byte{2, 3})
	waitFor(t, "fresh upstream dial", func() bool {
		n := ff.count()
		return n > before && ff.adapter(n-1).IsConnected()
	})

	fs.Close()
	<-done
}

func TestConnCloseDuringUpstreamErrors(t *testing.T) {
	cfg := baseConfig()
	cfg.DeepgramKey = "dg-key"
	ff := &fakeFactory{}
	fs := newFakeSocket()
	c := newConn(fs, testDeps(t, cfg, ff, tts.NewMock(), ""))
	done := startConn(c)

	fs.clientAudio(t, []byte{0, 1})
	waitFor(t, "upstream open", func() bool { return ff.count() == 1 && ff.adapter(0).IsConnected() })
	fa := ff.adapter(0)

	// Error bursts race the client disconnect; teardown and the reconnect
	// scheduling share timer and machine state.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 25; i++ {
			fa.onError(errors.New("connection reset"))
		}
	}()
	go func() {
		defer wg.Done()
		fs.Close()
	}()
	wg.Wait()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close")
	}
}

func TestConnDemoLane(t *testing.T) {
	srv := sayServer(t, "Coming right up.")

	cfg := baseConfig() // no provider keys
	ff := &fakeFactory{}
	mock := tts.NewMock()
	fs := newFakeSocket()
	c := newConn(fs, testDeps(t, cfg, ff, mock, srv.URL))
	done := startConn(c)

	if c.lane != LaneDemo {
		t.Fatalf("lane = %v, want demo", c.lane)
	}

	for i := 0; i < demoFrameInterval; i++ {
		fs.clientAudio(t, []byte{0, 0})
	}

	waitFor(t, "canned wake transcript", hasTextWrite(fs, "hey bev"))
	waitFor(t, "conversing", inMode(c, session.ModeConversing))
	if ff.count() != 0 {
		t.Error("demo lane must not dial any upstream")
	}

	fs.Close()
	<-done
}

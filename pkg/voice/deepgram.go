package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
)

const (
	deepgramListenURL = "wss://api.deepgram.com/v1/listen"

	// deepgramKeepAliveInterval keeps the socket open across silence;
	// Deepgram drops connections idle for ~10s.
	deepgramKeepAliveInterval = 5 * time.Second
)

// Deepgram implements Adapter for Deepgram's streaming transcription API.
// It is ASR-only: OnAudioOut and OnToolCall never fire, SendRaw and
// SubmitToolResult return ErrUnsupported.
type Deepgram struct {
	config Config
	logger *slog.Logger

	// WebSocket connection
	conn   *websocket.Conn
	connMu sync.Mutex

	// Session state
	mu        sync.RWMutex
	connected bool
	closed    bool
	cancel    context.CancelFunc

	lastAudioMu sync.Mutex
	lastAudio   time.Time

	// Metrics
	metrics *MetricsCollector

	// Callbacks
	onTranscript  func(ev TranscriptEvent)
	onSpeechStart func()
	onSpeechEnd   func()
	onError       func(err error)
}

// NewDeepgram creates a new Deepgram ASR adapter.
func NewDeepgram(cfg Config) (*Deepgram, error) {
	if cfg.DeepgramKey == "" {
		return nil, ErrMissingAPIKey
	}

	return &Deepgram{
		config:  cfg,
		logger:  slog.Default().With("component", "voice.deepgram"),
		metrics: NewMetricsCollector(),
	}, nil
}

// Start dials the listen endpoint and begins processing messages.
func (d *Deepgram) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.connected {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	d.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, d.listenURL(), http.Header{
		"Authorization": {"Token " + d.config.DeepgramKey},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("voice/deepgram: failed to connect: %w", err)
	}

	d.connMu.Lock()
	d.conn = conn
	d.connMu.Unlock()

	d.mu.Lock()
	d.connected = true
	d.closed = false
	d.mu.Unlock()

	go d.readLoop(conn)
	go d.keepAliveLoop(ctx)

	return nil
}

// listenURL builds the listen endpoint with query parameters for the
// configured audio format and endpointing behavior.
func (d *Deepgram) listenURL() string {
	u, _ := url.Parse(deepgramListenURL)
	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(d.config.SampleRate))
	q.Set("channels", "1")
	q.Set("model", d.config.Model)
	q.Set("language", d.config.Language)
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	q.Set("filler_words", "true")
	q.Set("numerals", "true")
	q.Set("vad_events", "true")
	q.Set("endpointing", strconv.FormatInt(d.config.Endpointing.Milliseconds(), 10))
	if d.config.Interim {
		q.Set("interim_results", "true")
	}
	if d.config.Utterances {
		q.Set("utterance_end_ms", "1000")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Stop closes the stream and tears down the connection. Safe to call twice.
func (d *Deepgram) Stop() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.connected = false
	d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}

	d.connMu.Lock()
	defer d.connMu.Unlock()
	if d.conn == nil {
		return nil
	}

	// Flush the server-side buffer before closing so trailing audio still
	// produces a final transcript.
	if err := d.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)}); err != nil {
		d.logger.Debug("close stream write failed", "error", err)
	}

	return d.conn.Close()
}

// IsConnected returns true if connected and ready.
func (d *Deepgram) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected && !d.closed
}

// SendAudio forwards one PCM16 frame as a binary message.
func (d *Deepgram) SendAudio(pcm16 []byte) error {
	if !d.IsConnected() {
		return ErrNotConnected
	}

	d.lastAudioMu.Lock()
	d.lastAudio = time.Now()
	d.lastAudioMu.Unlock()

	d.metrics.IncrementFramesIn()

	d.connMu.Lock()
	defer d.connMu.Unlock()
	if err := d.conn.WriteMessage(websocket.BinaryMessage, pcm16); err != nil {
		return fmt.Errorf("voice/deepgram: write audio: %w", err)
	}
	return nil
}

// SendRaw is not supported by the ASR lane.
func (d *Deepgram) SendRaw([]byte) error { return ErrUnsupported }

// SubmitToolResult is not supported by the ASR lane.
func (d *Deepgram) SubmitToolResult(string, string) error { return ErrUnsupported }

// OnTranscript sets the callback for transcript events.
func (d *Deepgram) OnTranscript(fn func(ev TranscriptEvent)) { d.onTranscript = fn }

// OnAudioOut is a no-op; Deepgram produces no audio.
func (d *Deepgram) OnAudioOut(func(pcm16 []byte)) {}

// OnEvent is a no-op; normalized transcripts are the only output.
func (d *Deepgram) OnEvent(func(raw []byte)) {}

// OnSpeechStart sets the callback for VAD speech onset.
func (d *Deepgram) OnSpeechStart(fn func()) { d.onSpeechStart = fn }

// OnSpeechEnd sets the callback for utterance end.
func (d *Deepgram) OnSpeechEnd(fn func()) { d.onSpeechEnd = fn }

// OnToolCall is a no-op; Deepgram has no tools.
func (d *Deepgram) OnToolCall(func(call ToolCall)) {}

// OnError sets the error callback.
func (d *Deepgram) OnError(fn func(err error)) { d.onError = fn }

// Metrics returns current latency metrics.
func (d *Deepgram) Metrics() Metrics { return d.metrics.Current() }

// readLoop processes incoming WebSocket messages until the socket closes.
func (d *Deepgram) readLoop(conn *websocket.Conn) {
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			d.mu.RLock()
			closed := d.closed
			d.mu.RUnlock()

			if !closed && d.onError != nil {
				d.onError(fmt.Errorf("voice/deepgram: read: %w", err))
			}
			return
		}
		if msgType == websocket.BinaryMessage {
			continue
		}
		d.handleMessage(msg)
	}
}

// handleMessage parses one text frame from the listen socket and dispatches
// the matching callback.
func (d *Deepgram) handleMessage(msg []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &envelope); err != nil {
		d.logger.Warn("unparseable message", "error", err)
		return
	}

	switch api.TypeResponse(envelope.Type) {
	case api.TypeMessageResponse:
		var resp api.MessageResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			d.logger.Warn("unparseable results message", "error", err)
			return
		}
		d.handleResults(&resp)

	case api.TypeUtteranceEndResponse:
		d.metrics.MarkSpeechEnd()
		if d.onSpeechEnd != nil {
			d.onSpeechEnd()
		}

	case api.TypeSpeechStartedResponse:
		if d.onSpeechStart != nil {
			d.onSpeechStart()
		}

	// TypeErrorResponse lives in the SDK's common interfaces package with its
	// own TypeResponse type, so it needs an explicit conversion to land in
	// this switch.
	case api.TypeResponse(api.TypeErrorResponse):
		var resp api.ErrorResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			return
		}
		if d.onError != nil {
			d.onError(fmt.Errorf("voice/deepgram: %s: %s", resp.ErrCode, resp.ErrMsg))
		}
	}
}

// handleResults normalizes one Results message into a TranscriptEvent.
// A result counts as final when either is_final or speech_final is set;
// final events with no recognized text are logged and dropped.
func (d *Deepgram) handleResults(resp *api.MessageResponse) {
	if len(resp.Channel.Alternatives) == 0 {
		return
	}
	alt := resp.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	final := resp.IsFinal || resp.SpeechFinal

	if final && text == "" {
		d.logger.Debug("dropping empty final transcript")
		return
	}
	if text == "" {
		return
	}
	if !final && !d.config.Interim {
		return
	}

	if final {
		d.metrics.MarkTranscript()
	}
	if d.onTranscript != nil {
		d.onTranscript(TranscriptEvent{
			Text:       text,
			IsFinal:    final,
			EndOfTurn:  resp.SpeechFinal,
			Confidence: alt.Confidence,
		})
	}
}

// keepAliveLoop sends KeepAlive messages while the microphone is silent.
func (d *Deepgram) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(deepgramKeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.lastAudioMu.Lock()
			idle := time.Since(d.lastAudio) >= deepgramKeepAliveInterval
			d.lastAudioMu.Unlock()
			if !idle || !d.IsConnected() {
				continue
			}

			d.connMu.Lock()
			err := d.conn.WriteJSON(struct {
				Type string `json:"type"`
			}{Type: "KeepAlive"})
			d.connMu.Unlock()
			if err != nil {
				d.logger.Debug("keepalive write failed", "error", err)
			}
		}
	}
}

// Verify Deepgram implements Adapter at compile time.
var _ Adapter = (*Deepgram)(nil)

func init() {
	Register(ProviderDeepgram, func(cfg Config) (Adapter, error) {
		return NewDeepgram(cfg)
	})
}

package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	openAIRealtimeURL   = "wss://api.openai.com/v1/realtime"
	openAIRealtimeModel = "gpt-4o-realtime-preview-2024-12-17"
)

// OpenAIRealtime implements Adapter using OpenAI's Realtime API.
// One WebSocket carries VAD, ASR, the model, and TTS; the relay forwards
// provider-native events to the client via OnEvent and handles tool calls
// through the command resolver.
type OpenAIRealtime struct {
	config Config

	// WebSocket connection
	ws   *websocket.Conn
	wsMu sync.Mutex

	// Session state
	mu           sync.RWMutex
	connected    bool
	sessionReady bool
	closed       bool
	cancel       context.CancelFunc

	// Metrics
	metrics *MetricsCollector

	// Callbacks
	onTranscript  func(ev TranscriptEvent)
	onAudioOut    func(pcm16 []byte)
	onEvent       func(raw []byte)
	onSpeechStart func()
	onSpeechEnd   func()
	onToolCall    func(call ToolCall)
	onError       func(err error)
}

// NewOpenAIRealtime creates a new OpenAI Realtime adapter.
func NewOpenAIRealtime(cfg Config) (*OpenAIRealtime, error) {
	if cfg.OpenAIKey == "" {
		return nil, ErrMissingAPIKey
	}

	return &OpenAIRealtime{
		config:  cfg,
		metrics: NewMetricsCollector(),
	}, nil
}

// Start establishes the WebSocket connection and configures the session.
func (o *OpenAIRealtime) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.connected {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	model := o.config.Model
	if model == "" {
		model = openAIRealtimeModel
	}
	url := fmt.Sprintf("%s?model=%s", openAIRealtimeURL, model)

	header := http.Header{
		"Authorization": {"Bearer " + o.config.OpenAIKey},
		"OpenAI-Beta":   {"realtime=v1"},
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		cancel()
		return fmt.Errorf("voice/openai: failed to connect: %w", err)
	}

	o.wsMu.Lock()
	o.ws = ws
	o.wsMu.Unlock()

	o.mu.Lock()
	o.connected = true
	o.closed = false
	o.mu.Unlock()

	if err := o.configureSession(); err != nil {
		o.Stop()
		return fmt.Errorf("voice/openai: failed to configure session: %w", err)
	}

	go o.readLoop(ws)

	return nil
}

// Stop gracefully shuts down the adapter. Safe to call more than once.
func (o *OpenAIRealtime) Stop() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.connected = false
	o.sessionReady = false
	o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}

	o.wsMu.Lock()
	defer o.wsMu.Unlock()
	if o.ws != nil {
		return o.ws.Close()
	}
	return nil
}

// IsConnected returns true if connected and the session is configured.
func (o *OpenAIRealtime) IsConnected() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.connected && o.sessionReady && !o.closed
}

// SendAudio base64-encodes one PCM16 frame into an audio buffer append.
func (o *OpenAIRealtime) SendAudio(pcm16 []byte) error {
	o.mu.RLock()
	if !o.connected || o.closed {
		o.mu.RUnlock()
		return ErrNotConnected
	}
	o.mu.RUnlock()

	o.metrics.IncrementFramesIn()

	return o.sendJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm16),
	})
}

// SendRaw forwards a client control message upstream unmodified. Used for
// session.update and other pass-through messages from realtime clients.
func (o *OpenAIRealtime) SendRaw(msg []byte) error {
	o.mu.RLock()
	if !o.connected || o.closed {
		o.mu.RUnlock()
		return ErrNotConnected
	}
	o.mu.RUnlock()

	o.wsMu.Lock()
	defer o.wsMu.Unlock()
	if o.ws == nil {
		return ErrNotConnected
	}
	return o.ws.WriteMessage(websocket.TextMessage, msg)
}

// OnTranscript sets the callback for transcript events.
func (o *OpenAIRealtime) OnTranscript(fn func(ev TranscriptEvent)) { o.onTranscript = fn }

// OnAudioOut sets the callback for model audio output.
func (o *OpenAIRealtime) OnAudioOut(fn func(pcm16 []byte)) { o.onAudioOut = fn }

// OnEvent sets the callback for raw provider events.
func (o *OpenAIRealtime) OnEvent(fn func(raw []byte)) { o.onEvent = fn }

// OnSpeechStart sets the callback for VAD speech onset.
func (o *OpenAIRealtime) OnSpeechStart(fn func()) { o.onSpeechStart = fn }

// OnSpeechEnd sets the callback for VAD speech end.
func (o *OpenAIRealtime) OnSpeechEnd(fn func()) { o.onSpeechEnd = fn }

// OnToolCall sets the callback for tool invocations.
func (o *OpenAIRealtime) OnToolCall(fn func(call ToolCall)) { o.onToolCall = fn }

// OnError sets the error callback.
func (o *OpenAIRealtime) OnError(fn func(err error)) { o.onError = fn }

// SubmitToolResult returns a tool result and requests continued generation,
// so the model can chain further tool calls within the same user turn.
func (o *OpenAIRealtime) SubmitToolResult(callID string, result string) error {
	if err := o.sendJSON(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  result,
		},
	}); err != nil {
		return err
	}

	return o.sendJSON(map[string]string{"type": "response.create"})
}

// Metrics returns current latency metrics.
func (o *OpenAIRealtime) Metrics() Metrics { return o.metrics.Current() }

// configureSession sends session.update built from the current config.
func (o *OpenAIRealtime) configureSession() error {
	voiceName := o.config.Voice
	if voiceName == "" {
		voiceName = "shimmer"
	}

	apiTools := make([]map[string]any, len(o.config.Tools))
	for i, tool := range o.config.Tools {
		params := tool.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		apiTools[i] = map[string]any{
			"type":        "function",
			"name":        tool.Name,
			"description": tool.Description,
			"parameters":  params,
		}
	}

	prefixMs := int(o.config.VADPrefix.Milliseconds())
	if prefixMs == 0 {
		prefixMs = 100
	}
	silenceMs := int(o.config.VADSilence.Milliseconds())
	if silenceMs == 0 {
		silenceMs = 300
	}
	threshold := o.config.VADThreshold
	if threshold == 0 {
		threshold = 0.15
	}
	temperature := o.config.Temperature
	if temperature == 0 {
		temperature = 0.2
	}

	return o.sendJSON(map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":          []string{"text", "audio"},
			"instructions":        o.config.SystemPrompt,
			"voice":               voiceName,
			"temperature":         temperature,
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"input_audio_transcription": map[string]any{
				"model": "whisper-1",
			},
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"threshold":           threshold,
				"prefix_padding_ms":   prefixMs,
				"silence_duration_ms": silenceMs,
			},
			"tools":       apiTools,
			"tool_choice": "auto",
		},
	})
}

// readLoop processes incoming WebSocket messages until the socket closes.
func (o *OpenAIRealtime) readLoop(ws *websocket.Conn) {
	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			o.mu.RLock()
			closed := o.closed
			o.mu.RUnlock()

			if !closed && o.onError != nil {
				o.onError(fmt.Errorf("voice/openai: read: %w", err))
			}
			return
		}

		o.handleEvent(message)
	}
}

// handleEvent dispatches one provider event: every event is surfaced raw via
// OnEvent, and recognized types additionally drive the normalized callbacks.
func (o *OpenAIRealtime) handleEvent(raw []byte) {
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	msgType, _ := msg["type"].(string)

	if o.onEvent != nil {
		o.onEvent(raw)
	}

	switch msgType {
	case "session.created":
		o.mu.Lock()
		o.sessionReady = true
		o.mu.Unlock()

	case "input_audio_buffer.speech_started":
		if o.onSpeechStart != nil {
			o.onSpeechStart()
		}

	case "input_audio_buffer.speech_stopped":
		o.metrics.MarkSpeechEnd()
		if o.onSpeechEnd != nil {
			o.onSpeechEnd()
		}

	case "conversation.item.input_audio_transcription.completed":
		transcript, _ := msg["transcript"].(string)
		transcript = strings.TrimSpace(transcript)
		if transcript == "" {
			return
		}
		o.metrics.MarkTranscript()
		if o.onTranscript != nil {
			o.onTranscript(TranscriptEvent{Text: transcript, IsFinal: true, EndOfTurn: true})
		}

	case "response.audio.delta":
		o.metrics.MarkFirstAudio()
		o.metrics.IncrementChunksOut()
		if delta, ok := msg["delta"].(string); ok && o.onAudioOut != nil {
			if audio, err := base64.StdEncoding.DecodeString(delta); err == nil {
				o.onAudioOut(audio)
			}
		}

	case "response.done":
		o.metrics.MarkTurnDone()

	case "response.function_call_arguments.done":
		o.handleFunctionCall(msg)

	case "error":
		if errData, ok := msg["error"].(map[string]any); ok {
			if errMsg, ok := errData["message"].(string); ok && o.onError != nil {
				o.onError(fmt.Errorf("voice/openai: API error: %s", errMsg))
			}
		}
	}
}

// handleFunctionCall parses a completed tool call and hands it to the relay.
func (o *OpenAIRealtime) handleFunctionCall(msg map[string]any) {
	name, _ := msg["name"].(string)
	callID, _ := msg["call_id"].(string)
	argsStr, _ := msg["arguments"].(string)

	var args map[string]any
	if err := json.Unmarshal([]byte(argsStr), &args); err != nil {
		args = make(map[string]any)
	}

	if o.onToolCall != nil {
		o.onToolCall(ToolCall{
			ID:        callID,
			Name:      name,
			Arguments: args,
		})
	}
}

// sendJSON sends a JSON message over the WebSocket.
func (o *OpenAIRealtime) sendJSON(v any) error {
	o.wsMu.Lock()
	defer o.wsMu.Unlock()

	if o.ws == nil {
		return ErrNotConnected
	}

	return o.ws.WriteJSON(v)
}

// Verify OpenAIRealtime implements Adapter at compile time.
var _ Adapter = (*OpenAIRealtime)(nil)

func init() {
	Register(ProviderOpenAIRealtime, func(cfg Config) (Adapter, error) {
		return NewOpenAIRealtime(cfg)
	})
}

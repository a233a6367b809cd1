package voice

import (
	"context"
	"errors"
	"fmt"
)

// Common errors returned by adapters.
var (
	ErrNotConnected   = errors.New("voice: adapter not connected")
	ErrAlreadyStarted = errors.New("voice: adapter already started")
	ErrMissingAPIKey  = errors.New("voice: missing API key")
	ErrUnsupported    = errors.New("voice: operation not supported by this adapter")
)

// TranscriptEvent is the normalized unit emitted by any adapter.
type TranscriptEvent struct {
	// Text is the recognized speech. Never empty for final events; adapters
	// drop empty finals before emitting.
	Text string

	// IsFinal marks the end of an utterance.
	IsFinal bool

	// EndOfTurn marks the end of a conversational turn, when the provider
	// distinguishes it from utterance end. Implies IsFinal.
	EndOfTurn bool

	// Confidence is the provider's confidence score, 0 when unknown.
	Confidence float64
}

// Adapter wraps one streaming speech provider. An adapter owns exactly one
// upstream connection; discard the adapter to tear it down.
type Adapter interface {
	// Lifecycle

	// Start establishes the upstream connection and begins processing.
	// Set up callbacks before calling Start.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the adapter. Safe to call more than once.
	Stop() error

	// IsConnected returns true if the adapter is connected and ready.
	IsConnected() bool

	// Audio I/O

	// SendAudio forwards one PCM16 audio frame upstream.
	SendAudio(pcm16 []byte) error

	// SendRaw forwards a provider-native control message upstream unmodified.
	// ASR-only adapters return ErrUnsupported.
	SendRaw(msg []byte) error

	// Events

	// OnTranscript sets the callback for normalized transcript events.
	OnTranscript(fn func(ev TranscriptEvent))

	// OnAudioOut sets the callback for model-generated audio (PCM16).
	// Never fires for ASR-only adapters.
	OnAudioOut(fn func(pcm16 []byte))

	// OnEvent sets the callback for provider-native event envelopes, raw as
	// received. The relay forwards these to realtime clients unmodified.
	OnEvent(fn func(raw []byte))

	// OnSpeechStart is called when the provider detects speech onset.
	OnSpeechStart(fn func())

	// OnSpeechEnd is called when the provider detects end of speech.
	OnSpeechEnd(fn func())

	// OnError is called with provider-boundary errors. Errors never escape
	// as panics; everything funnels through here.
	OnError(fn func(err error))

	// Tools

	// OnToolCall sets the callback for tool invocations.
	// Call SubmitToolResult with the call ID to return the result.
	OnToolCall(fn func(call ToolCall))

	// SubmitToolResult returns a tool call result upstream and requests
	// continued generation, chaining multi-tool turns without new speech.
	SubmitToolResult(callID string, result string) error

	// Metrics returns per-turn latency metrics.
	Metrics() Metrics
}

// Factory creates an Adapter from a validated Config.
type Factory func(cfg Config) (Adapter, error)

var factories = map[Provider]Factory{}

// Register installs a factory for a provider. Called from adapter init().
func Register(p Provider, f Factory) {
	factories[p] = f
}

// New creates an Adapter for the configured provider.
func New(cfg Config) (Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f, ok := factories[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("voice: no adapter registered for provider %q", cfg.Provider)
	}
	return f(cfg)
}

// Callbacks groups all adapter callbacks for convenience.
type Callbacks struct {
	OnTranscript  func(ev TranscriptEvent)
	OnAudioOut    func(pcm16 []byte)
	OnEvent       func(raw []byte)
	OnSpeechStart func()
	OnSpeechEnd   func()
	OnToolCall    func(call ToolCall)
	OnError       func(err error)
}

// Apply sets all non-nil callbacks on an adapter.
func (c *Callbacks) Apply(a Adapter) {
	if c.OnTranscript != nil {
		a.OnTranscript(c.OnTranscript)
	}
	if c.OnAudioOut != nil {
		a.OnAudioOut(c.OnAudioOut)
	}
	if c.OnEvent != nil {
		a.OnEvent(c.OnEvent)
	}
	if c.OnSpeechStart != nil {
		a.OnSpeechStart(c.OnSpeechStart)
	}
	if c.OnSpeechEnd != nil {
		a.OnSpeechEnd(c.OnSpeechEnd)
	}
	if c.OnToolCall != nil {
		a.OnToolCall(c.OnToolCall)
	}
	if c.OnError != nil {
		a.OnError(c.OnError)
	}
}

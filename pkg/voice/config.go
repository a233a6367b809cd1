package voice

import (
	"errors"
	"time"
)

// Provider identifies the speech provider behind an adapter.
type Provider string

const (
	// ProviderDeepgram uses Deepgram's streaming transcription API.
	// Transcripts only; synthesis happens elsewhere.
	ProviderDeepgram Provider = "deepgram"

	// ProviderOpenAIRealtime uses OpenAI's Realtime API: VAD, ASR, the
	// model, and TTS in a single WebSocket.
	ProviderOpenAIRealtime Provider = "openai-realtime"
)

// Config holds all tunable parameters for speech adapters.
type Config struct {
	// Provider selection
	Provider Provider

	// API keys (provider-specific)
	DeepgramKey string
	OpenAIKey   string

	// Audio settings. Microphone input is PCM16 mono.
	SampleRate int // Input sample rate (default: 16000)

	// ASR settings
	Model       string        // Provider model name
	Language    string        // Language hint (default: "en-US")
	Endpointing time.Duration // Silence gap that finalizes an utterance
	Interim     bool          // Emit interim (non-final) transcripts
	Utterances  bool          // Enable provider utterance-end events

	// Realtime model settings
	SystemPrompt string
	Voice        string        // Model voice name
	Temperature  float64       // Response randomness 0.0-2.0
	Tools        []Tool        // Tools exposed to the model
	VADThreshold float64       // Activation threshold 0.0-1.0
	VADPrefix    time.Duration // Audio included before speech start
	VADSilence   time.Duration // Silence duration to detect end of speech

	// Debug settings
	Debug bool
}

// DefaultDeepgramConfig returns a Config tuned for the transcription lane.
func DefaultDeepgramConfig(apiKey string) Config {
	return Config{
		Provider:    ProviderDeepgram,
		DeepgramKey: apiKey,
		SampleRate:  16000,
		Model:       "nova-2",
		Language:    "en-US",
		Endpointing: 200 * time.Millisecond,
		Interim:     true,
		Utterances:  true,
	}
}

// DefaultRealtimeConfig returns a Config tuned for the realtime lane.
func DefaultRealtimeConfig(apiKey string) Config {
	return Config{
		Provider:     ProviderOpenAIRealtime,
		OpenAIKey:    apiKey,
		SampleRate:   24000,
		Voice:        "shimmer",
		Temperature:  0.2,
		VADThreshold: 0.15,
		VADPrefix:    100 * time.Millisecond,
		VADSilence:   300 * time.Millisecond,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderDeepgram:
		if c.DeepgramKey == "" {
			return ErrMissingAPIKey
		}
	case ProviderOpenAIRealtime:
		if c.OpenAIKey == "" {
			return ErrMissingAPIKey
		}
	default:
		return errors.New("voice: unknown provider: " + string(c.Provider))
	}

	if c.VADThreshold < 0 || c.VADThreshold > 1 {
		return errors.New("voice: VAD threshold must be between 0 and 1")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return errors.New("voice: temperature must be between 0 and 2")
	}
	if c.SampleRate < 0 {
		return errors.New("voice: sample rate must be positive")
	}

	return nil
}

// WithSystemPrompt returns a copy with the system prompt set.
func (c Config) WithSystemPrompt(prompt string) Config {
	c.SystemPrompt = prompt
	return c
}

// WithTools returns a copy with the tool set.
func (c Config) WithTools(tools ...Tool) Config {
	c.Tools = tools
	return c
}

// WithVAD returns a copy with VAD settings.
func (c Config) WithVAD(threshold float64, silence time.Duration) Config {
	c.VADThreshold = threshold
	c.VADSilence = silence
	return c
}

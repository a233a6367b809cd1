// Package tts provides a unified interface for text-to-speech providers.
//
// The package supports multiple TTS backends including ElevenLabs (custom
// voices) and OpenAI (built-in voices). All providers implement the Provider
// interface, and Chain composes them into a fallback sequence: primary first,
// then secondary on any failure.
//
// Example usage:
//
//	primary, _ := tts.NewElevenLabs(
//	    tts.WithAPIKey(os.Getenv("ELEVENLABS_API_KEY")),
//	    tts.WithVoice("your-voice-id"),
//	)
//	secondary, _ := tts.NewOpenAI(tts.WithAPIKey(os.Getenv("OPENAI_API_KEY")))
//	chain, _ := tts.NewChain(primary, secondary)
//	defer chain.Close()
//
//	result, _ := chain.Synthesize(ctx, "Right away.")
//	// result.Audio contains MP3 bytes, result.Provider names who produced them
package tts

import (
	"context"
	"time"
)

// Provider defines the TTS provider interface.
// All implementations must satisfy this interface for seamless provider switching.
type Provider interface {
	// Name identifies the provider ("elevenlabs", "openai").
	Name() string

	// Synthesize converts text to audio, returning the complete audio buffer.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// VoiceSelector is implemented by providers that accept a per-request voice
// instead of the one they were configured with. An empty voice falls back to
// the configured default.
type VoiceSelector interface {
	SynthesizeVoice(ctx context.Context, text, voice string) (*AudioResult, error)
}

// AudioResult represents a complete audio synthesis result.
type AudioResult struct {
	// Audio contains the raw audio data in the specified format.
	Audio []byte

	// Format is the audio container ("mp3", "pcm16").
	Format string

	// Provider names the provider that produced the audio.
	Provider string

	// Fallback is true when a non-primary provider produced the audio.
	Fallback bool

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the request round-trip time in milliseconds.
	LatencyMs int64
}

// FormatMIME returns the MIME type for the result's audio format.
func (r *AudioResult) FormatMIME() string {
	switch r.Format {
	case "mp3":
		return "audio/mpeg"
	case "pcm16":
		return "audio/pcm"
	default:
		return "application/octet-stream"
	}
}

// EstimatedDuration estimates playback time for PCM16 audio. Returns zero for
// compressed formats where byte count does not map to duration.
func (r *AudioResult) EstimatedDuration(sampleRate int) time.Duration {
	if r.Format != "pcm16" || sampleRate <= 0 {
		return 0
	}
	samples := len(r.Audio) / 2
	seconds := float64(samples) / float64(sampleRate)
	return time.Duration(seconds * float64(time.Second))
}

// VoiceSettings controls voice characteristics for providers that support it.
type VoiceSettings struct {
	// Stability controls voice consistency (0.0-1.0).
	// Lower values = more expressive/variable, higher = more consistent.
	Stability float64

	// SimilarityBoost controls how closely the voice matches the original (0.0-1.0).
	SimilarityBoost float64

	// Style controls style exaggeration (0.0-1.0).
	// Only supported by ElevenLabs v2 models.
	Style float64

	// SpeakerBoost enhances speaker clarity.
	SpeakerBoost bool
}

// DefaultVoiceSettings returns sensible defaults for voice synthesis.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.5,
		SimilarityBoost: 0.75,
		Style:           0.0,
		SpeakerBoost:    true,
	}
}

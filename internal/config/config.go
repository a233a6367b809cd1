// Package config provides environment-style configuration for the voice relay.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults mirror the tuning the relay shipped with.
const (
	DefaultPort          = 8787
	DefaultDeepgramModel = "nova-2"
	DefaultEndpointing   = 200 * time.Millisecond
	DefaultWakePhrase    = "hey bev"
	DefaultAgentName     = "Bev"
	DefaultCommandLimit  = 15
	DefaultVoiceID       = "21m00Tcm4TlvDq8ikWAM" // Rachel
	DefaultTTSVoice      = "sage"

	// Server VAD tuning for the realtime lane. Tuned for instant
	// detection on kiosk hardware; configuration defaults, not invariants.
	DefaultVADThreshold   = 0.15
	DefaultVADPrefix      = 100 * time.Millisecond
	DefaultVADSilence     = 300 * time.Millisecond
	DefaultResolverPath   = "/api/nlu/resolve-run"
	DefaultResolverOrigin = "http://localhost:3000"
)

// Config holds all relay settings, read once at startup. After Load it is
// read-only shared state, safe for concurrent reads.
type Config struct {
	Port     int
	LogLevel string

	// Provider credentials. A missing key disables that lane.
	DeepgramKey   string
	OpenAIKey     string
	ElevenLabsKey string

	// Provider tuning
	DeepgramModel    string
	Endpointing      time.Duration
	EnableUtterances bool
	VoiceID          string // ElevenLabs voice
	TTSVoice         string // OpenAI TTS voice
	VADThreshold     float64
	VADPrefix        time.Duration
	VADSilence       time.Duration

	// Conversation state machine
	AgentName          string
	WakePhrase         string
	TerminationPhrases []string
	ShutdownPhrases    []string
	CommandLimit       int

	// Command resolver collaborator
	ResolverURL string
}

// Load reads configuration from the environment, applying defaults.
func Load() Config {
	cfg := Config{
		Port:             envInt("VOICE_WS_PORT", DefaultPort),
		LogLevel:         env("LOG_LEVEL", "info"),
		DeepgramKey:      envAny("DEEPGRAM_API_KEY", "DG_API_KEY"),
		OpenAIKey:        envAny("OPENAI_API_KEY", "OAI_API_KEY"),
		ElevenLabsKey:    envAny("ELEVENLABS_API_KEY", "ELEVEN_API_KEY"),
		DeepgramModel:    env("DEEPGRAM_MODEL", DefaultDeepgramModel),
		Endpointing:      envMillis("DG_ENDPOINTING_MS", DefaultEndpointing),
		EnableUtterances: envBool("DG_ENABLE_UTTERANCES", true),
		VoiceID:          env("ELEVENLABS_VOICE_ID", DefaultVoiceID),
		TTSVoice:         env("OPENAI_TTS_VOICE", DefaultTTSVoice),
		VADThreshold:     envFloat("VAD_THRESHOLD", DefaultVADThreshold),
		VADPrefix:        envMillis("VAD_PREFIX_MS", DefaultVADPrefix),
		VADSilence:       envMillis("VAD_SILENCE_MS", DefaultVADSilence),
		AgentName:        env("AGENT_NAME", DefaultAgentName),
		WakePhrase:       env("WAKE_PHRASE", DefaultWakePhrase),
		CommandLimit:     envInt("COMMAND_LIMIT", DefaultCommandLimit),
		ResolverURL:      env("NLU_RESOLVER_URL", DefaultResolverOrigin+DefaultResolverPath),
	}

	cfg.TerminationPhrases = envList("TERMINATION_PHRASES",
		"stop listening", "end call", "bye bev", "thanks bev")
	cfg.ShutdownPhrases = envList("SHUTDOWN_PHRASES",
		"shut down", "shutdown", "turn off")

	return cfg
}

// Validate checks that the configuration is usable. At least one speech
// provider key is required unless demo mode is explicitly allowed.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("config: invalid port")
	}
	if strings.TrimSpace(c.WakePhrase) == "" {
		return errors.New("config: wake phrase required")
	}
	if c.CommandLimit <= 0 {
		return errors.New("config: command limit must be positive")
	}
	if c.VADThreshold < 0 || c.VADThreshold > 1 {
		return errors.New("config: VAD threshold must be between 0 and 1")
	}
	return nil
}

// HasASR reports whether the streaming transcription lane is available.
func (c Config) HasASR() bool { return c.DeepgramKey != "" }

// HasRealtime reports whether the realtime voice-model lane is available.
func (c Config) HasRealtime() bool { return c.OpenAIKey != "" }

// HasSynthesis reports whether at least one TTS provider is configured.
func (c Config) HasSynthesis() bool { return c.ElevenLabsKey != "" || c.OpenAIKey != "" }

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envAny returns the first non-empty value among the given keys.
func envAny(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envMillis(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v != "false" && v != "0"
}

// envList reads a comma-separated list, falling back to the given phrases.
func envList(key string, fallback ...string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

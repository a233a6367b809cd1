package voice

import (
	"errors"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid deepgram",
			cfg:  DefaultDeepgramConfig("key"),
		},
		{
			name: "valid realtime",
			cfg:  DefaultRealtimeConfig("key"),
		},
		{
			name:    "deepgram missing key",
			cfg:     DefaultDeepgramConfig(""),
			wantErr: true,
		},
		{
			name:    "realtime missing key",
			cfg:     DefaultRealtimeConfig(""),
			wantErr: true,
		},
		{
			name:    "unknown provider",
			cfg:     Config{Provider: "whisper-cpp"},
			wantErr: true,
		},
		{
			name: "vad threshold out of range",
			cfg: func() Config {
				c := DefaultRealtimeConfig("key")
				c.VADThreshold = 1.5
				return c
			}(),
			wantErr: true,
		},
		{
			name: "temperature out of range",
			cfg: func() Config {
				c := DefaultRealtimeConfig("key")
				c.Temperature = 3
				return c
			}(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfigs(t *testing.T) {
	dg := DefaultDeepgramConfig("key")
	if dg.SampleRate != 16000 {
		t.Errorf("deepgram sample rate = %d, want 16000", dg.SampleRate)
	}
	if dg.Endpointing != 200*time.Millisecond {
		t.Errorf("endpointing = %v, want 200ms", dg.Endpointing)
	}
	if !dg.Interim {
		t.Error("interim results should default on for the transcription lane")
	}

	rt := DefaultRealtimeConfig("key")
	if rt.VADThreshold != 0.15 {
		t.Errorf("vad threshold = %v, want 0.15", rt.VADThreshold)
	}
	if rt.Voice != "shimmer" {
		t.Errorf("voice = %v, want shimmer", rt.Voice)
	}
}

func TestConfigWith(t *testing.T) {
	cfg := DefaultRealtimeConfig("key").
		WithSystemPrompt("you are a bartender").
		WithVAD(0.3, 500*time.Millisecond).
		WithTools(Tool{Name: "cart_add"})

	if cfg.SystemPrompt != "you are a bartender" {
		t.Errorf("SystemPrompt = %q", cfg.SystemPrompt)
	}
	if cfg.VADThreshold != 0.3 || cfg.VADSilence != 500*time.Millisecond {
		t.Error("VAD settings not applied")
	}
	if len(cfg.Tools) != 1 || cfg.Tools[0].Name != "cart_add" {
		t.Error("tools not applied")
	}
}

func TestRegistry(t *testing.T) {
	a, err := New(DefaultDeepgramConfig("key"))
	if err != nil {
		t.Fatalf("New(deepgram) error = %v", err)
	}
	if _, ok := a.(*Deepgram); !ok {
		t.Errorf("New(deepgram) returned %T", a)
	}

	a, err = New(DefaultRealtimeConfig("key"))
	if err != nil {
		t.Fatalf("New(realtime) error = %v", err)
	}
	if _, ok := a.(*OpenAIRealtime); !ok {
		t.Errorf("New(realtime) returned %T", a)
	}

	_, err = New(Config{Provider: "nope", DeepgramKey: "k"})
	if err == nil {
		t.Error("expected error for unregistered provider")
	}
}

func TestAdaptersRejectMissingKey(t *testing.T) {
	if _, err := NewDeepgram(Config{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("NewDeepgram error = %v, want ErrMissingAPIKey", err)
	}
	if _, err := NewOpenAIRealtime(Config{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("NewOpenAIRealtime error = %v, want ErrMissingAPIKey", err)
	}
}

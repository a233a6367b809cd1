package protocol

import (
	"encoding/json"
	"testing"
)

func TestPeekType(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    MessageType
		wantErr bool
	}{
		{
			name:  "ping",
			input: `{"type":"ping","t":1234567890}`,
			want:  TypePing,
		},
		{
			name:  "session update",
			input: `{"type":"session.update","session":{"voice":"shimmer"}}`,
			want:  TypeSessionUpdate,
		},
		{
			name:  "provider-native passthrough",
			input: `{"type":"response.create","response":{}}`,
			want:  MessageType("response.create"),
		},
		{
			name:    "invalid json",
			input:   "not json",
			wantErr: true,
		},
		{
			name:  "missing type",
			input: `{}`,
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PeekType([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("PeekType() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("PeekType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPingPongEcho(t *testing.T) {
	raw := []byte(`{"type":"ping","t":1700000000123}`)

	ping, err := ParsePing(raw)
	if err != nil {
		t.Fatalf("ParsePing() error = %v", err)
	}
	if ping.T != 1700000000123 {
		t.Errorf("T = %v, want 1700000000123", ping.T)
	}

	pong := NewPong(ping.T)
	if pong.Type != TypePong {
		t.Errorf("Type = %v, want %v", pong.Type, TypePong)
	}
	if pong.T != ping.T {
		t.Errorf("pong should echo ping timestamp, got %v", pong.T)
	}

	data, err := Marshal(pong)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal as map: %v", err)
	}
	if parsed["type"] != "pong" {
		t.Errorf("type = %v, want pong", parsed["type"])
	}
}

func TestASRPartialWireFormat(t *testing.T) {
	data, err := Marshal(NewASRPartial("two old fashioneds", true))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal as map: %v", err)
	}
	if parsed["type"] != "asr.partial" {
		t.Errorf("type = %v, want asr.partial", parsed["type"])
	}
	if parsed["text"] != "two old fashioneds" {
		t.Errorf("text = %v", parsed["text"])
	}
	if parsed["isFinal"] != true {
		t.Errorf("isFinal = %v, want true", parsed["isFinal"])
	}
}

func TestASRPartialIncludesFalseFinal(t *testing.T) {
	// isFinal must be present even when false; the client keys interim
	// rendering off it.
	data, err := Marshal(NewASRPartial("two old", false))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal as map: %v", err)
	}
	v, ok := parsed["isFinal"]
	if !ok {
		t.Fatal("isFinal field should be present when false")
	}
	if v != false {
		t.Errorf("isFinal = %v, want false", v)
	}
}

func TestSpeakRoundTrip(t *testing.T) {
	audio := []byte{0x49, 0x44, 0x33, 0x04, 0x00} // Fake ID3 header

	msg := NewSpeak(audio, "mp3", "elevenlabs")
	if msg.Format != "mp3" {
		t.Errorf("Format = %v, want mp3", msg.Format)
	}
	if msg.Provider != "elevenlabs" {
		t.Errorf("Provider = %v, want elevenlabs", msg.Provider)
	}

	decoded, err := msg.DecodeAudio()
	if err != nil {
		t.Fatalf("DecodeAudio() error = %v", err)
	}
	if len(decoded) != len(audio) {
		t.Errorf("decoded length = %v, want %v", len(decoded), len(audio))
	}
}

func TestSessionUpdatePreservesRawSession(t *testing.T) {
	raw := []byte(`{"type":"session.update","session":{"voice":"shimmer","temperature":0.2}}`)

	upd, err := ParseSessionUpdate(raw)
	if err != nil {
		t.Fatalf("ParseSessionUpdate() error = %v", err)
	}
	if upd.Type != TypeSessionUpdate {
		t.Errorf("Type = %v, want %v", upd.Type, TypeSessionUpdate)
	}

	var session map[string]interface{}
	if err := json.Unmarshal(upd.Session, &session); err != nil {
		t.Fatalf("session body should stay valid JSON: %v", err)
	}
	if session["voice"] != "shimmer" {
		t.Errorf("voice = %v, want shimmer", session["voice"])
	}
}

func TestSessionEvent(t *testing.T) {
	ev := NewSessionEvent("abc-123", "open")
	if ev.Type != TypeSessionEvent {
		t.Errorf("Type = %v, want %v", ev.Type, TypeSessionEvent)
	}
	if ev.SessionID != "abc-123" {
		t.Errorf("SessionID = %v", ev.SessionID)
	}
	if ev.Timestamp == 0 {
		t.Error("timestamp should be set")
	}
}

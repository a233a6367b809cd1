package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewPong creates a pong reply echoing the ping's timestamp.
func NewPong(pingT int64) Pong {
	return Pong{Type: TypePong, T: pingT}
}

// NewASRPartial creates a transcript update message.
func NewASRPartial(text string, isFinal bool) ASRPartial {
	return ASRPartial{Type: TypeASRPartial, Text: text, IsFinal: isFinal}
}

// NewSpeak creates a speak message from raw audio bytes.
func NewSpeak(audio []byte, format, provider string) Speak {
	return Speak{
		Type:     TypeSpeak,
		Format:   format,
		Data:     base64.StdEncoding.EncodeToString(audio),
		Provider: provider,
	}
}

// NewError creates an error event.
func NewError(message string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Message: message}
}

// NewSessionEvent creates a monitor broadcast with the current timestamp.
func NewSessionEvent(sessionID, event string) SessionEvent {
	return SessionEvent{
		Type:      TypeSessionEvent,
		SessionID: sessionID,
		Event:     event,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Marshal encodes any protocol message to its wire form.
func Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// ParsePing decodes a ping message.
func ParsePing(data []byte) (*Ping, error) {
	var p Ping
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse ping: %w", err)
	}
	return &p, nil
}

// ParseSessionUpdate decodes a session.update message.
func ParseSessionUpdate(data []byte) (*SessionUpdate, error) {
	var s SessionUpdate
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session.update: %w", err)
	}
	return &s, nil
}

// ParseASRPartial decodes a transcript update message.
func ParseASRPartial(data []byte) (*ASRPartial, error) {
	var a ASRPartial
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse asr.partial: %w", err)
	}
	return &a, nil
}

// DecodeAudio decodes the base64 audio payload of a speak message.
func (s *Speak) DecodeAudio() ([]byte, error) {
	return base64.StdEncoding.DecodeString(s.Data)
}

// Package protocol defines the WebSocket control messages exchanged between
// the browser client and the voice relay. Binary frames carry raw audio and
// are not represented here; everything text-encoded goes through these types.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies the type of a control message.
type MessageType string

const (
	// Client → Relay messages
	TypePing          MessageType = "ping"           // Heartbeat probe
	TypeSessionUpdate MessageType = "session.update" // Provider session configuration

	// Relay → Client messages
	TypePong       MessageType = "pong"        // Heartbeat reply
	TypeASRPartial MessageType = "asr.partial" // Transcript update
	TypeSpeak      MessageType = "speak"       // Synthesized audio to play
	TypeError      MessageType = "error"       // Session-fatal error

	// Relay → Monitor messages
	TypeSessionEvent MessageType = "session.event" // Session lifecycle broadcast
)

// Envelope carries only the type discriminator. Incoming text frames are
// decoded into an Envelope first so provider-native messages (which carry
// their own type vocabulary) can be passed through untouched.
type Envelope struct {
	Type MessageType `json:"type"`
}

// PeekType returns the message type of a raw text frame without decoding the
// full payload.
func PeekType(data []byte) (MessageType, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("failed to parse message envelope: %w", err)
	}
	return env.Type, nil
}

// Ping is a client heartbeat. T is the client's send time in Unix
// milliseconds and is echoed back verbatim in the Pong.
type Ping struct {
	Type MessageType `json:"type"`
	T    int64       `json:"t"`
}

// Pong is the relay's heartbeat reply.
type Pong struct {
	Type MessageType `json:"type"`
	T    int64       `json:"t"`
}

// SessionUpdate carries provider session configuration from the client. The
// session body is provider-specific and forwarded upstream unmodified, so it
// stays a raw message here.
type SessionUpdate struct {
	Type    MessageType     `json:"type"`
	Session json.RawMessage `json:"session,omitempty"`
}

// ASRPartial is a transcript update. IsFinal marks the end of an utterance.
type ASRPartial struct {
	Type    MessageType `json:"type"`
	Text    string      `json:"text"`
	IsFinal bool        `json:"isFinal"`
}

// Speak carries synthesized audio for client-side playback.
type Speak struct {
	Type     MessageType `json:"type"`
	Format   string      `json:"format"`             // "mp3", "pcm16"
	Data     string      `json:"data"`               // base64 encoded
	Provider string      `json:"provider,omitempty"` // Provider that produced the audio
}

// ErrorEvent reports a session-fatal failure to the client.
type ErrorEvent struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// SessionEvent is broadcast to monitor connections on session lifecycle
// changes and finalized transcripts.
type SessionEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Event     string      `json:"event"` // "open", "close", "transcript", "mode"
	Mode      string      `json:"mode,omitempty"`
	Text      string      `json:"text,omitempty"`
	Commands  int         `json:"commands,omitempty"`
	Timestamp int64       `json:"ts"` // Unix milliseconds
}

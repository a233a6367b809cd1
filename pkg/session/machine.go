// Package session implements the per-session conversation state machine.
//
// A session starts in wake-listening, where finalized transcripts are only
// scanned for the wake phrase. Hearing it moves the session to conversing,
// where transcripts count as commands until a termination phrase, a shutdown
// phrase, or the command limit ends the conversation.
//
// The machine is pure: Advance never blocks and never touches I/O. The caller
// owns serialization; one goroutine per session must call Advance.
package session

import "strings"

// Mode is the coarse conversation state.
type Mode string

const (
	ModeWakeListening Mode = "wake-listening"
	ModeConversing    Mode = "conversing"
	ModeShutdown      Mode = "shutdown"
)

// Event classifies what a finalized transcript meant to the session.
type Event string

const (
	// EventIgnored means the transcript produced no transition and no command.
	EventIgnored Event = "ignored"

	// EventWake means the wake phrase was heard; the session is now conversing.
	EventWake Event = "wake"

	// EventCommand means the transcript is an in-scope command to resolve.
	EventCommand Event = "command"

	// EventSleep means a termination phrase was heard; back to wake-listening.
	EventSleep Event = "sleep"

	// EventShutdown means a shutdown phrase ended the session permanently.
	EventShutdown Event = "shutdown"

	// EventLimit means the command limit was reached; the transcript is still
	// resolved, then the session shuts down.
	EventLimit Event = "limit"
)

// Decision is the outcome of advancing the machine with one transcript.
type Decision struct {
	// Event classifies the transcript.
	Event Event

	// Mode is the machine's mode after the transition.
	Mode Mode

	// Say is an acknowledgement to speak to the user, empty if none.
	Say string

	// Resolve is the command text to send to the resolver, empty if none.
	Resolve string
}

// Config tunes phrase matching and spoken acknowledgements.
type Config struct {
	// WakePhrase is matched by case-insensitive substring containment.
	// Partial containment is intentional to tolerate recognition noise.
	WakePhrase string

	// TerminationPhrases end the conversation and return to wake-listening.
	TerminationPhrases []string

	// ShutdownPhrases end the session permanently.
	ShutdownPhrases []string

	// CommandLimit caps commands per conversation; reaching it forces
	// shutdown. Must be positive.
	CommandLimit int

	// Spoken acknowledgements. Zero values get defaults.
	Greeting    string
	Farewell    string
	ShutdownAck string
	LimitNotice string
}

// Default acknowledgement lines.
const (
	DefaultGreeting    = "Hey! What can I get you?"
	DefaultFarewell    = "Okay, just say the wake word when you need me."
	DefaultShutdownAck = "Alright, shutting down. Goodbye!"
	DefaultLimitNotice = "That's all I can take for now. Shutting down."
)

// Machine holds one session's conversation state. Not safe for concurrent
// use; the owning goroutine serializes all calls.
type Machine struct {
	cfg      Config
	mode     Mode
	commands int
}

// New creates a machine in wake-listening mode.
func New(cfg Config) *Machine {
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	if cfg.Farewell == "" {
		cfg.Farewell = DefaultFarewell
	}
	if cfg.ShutdownAck == "" {
		cfg.ShutdownAck = DefaultShutdownAck
	}
	if cfg.LimitNotice == "" {
		cfg.LimitNotice = DefaultLimitNotice
	}
	return &Machine{cfg: cfg, mode: ModeWakeListening}
}

// Mode returns the current mode.
func (m *Machine) Mode() Mode { return m.mode }

// Commands returns the number of commands counted this conversation.
func (m *Machine) Commands() int { return m.commands }

// Sleep drops a conversing session back to wake-listening without consuming
// a command turn. Used when the relay loses its speech upstream and cannot
// hear the user anyway. No-op outside conversing; shutdown stays terminal.
func (m *Machine) Sleep() {
	if m.mode == ModeConversing {
		m.mode = ModeWakeListening
	}
}

// Advance processes one finalized transcript and returns the resulting
// decision. Empty or whitespace-only transcripts are always ignored.
func (m *Machine) Advance(text string) Decision {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Decision{Event: EventIgnored, Mode: m.mode}
	}
	lower := strings.ToLower(trimmed)

	switch m.mode {
	case ModeWakeListening:
		return m.advanceWakeListening(lower)
	case ModeConversing:
		return m.advanceConversing(trimmed, lower)
	default:
		// Shutdown is terminal; late transcripts are dropped.
		return Decision{Event: EventIgnored, Mode: ModeShutdown}
	}
}

func (m *Machine) advanceWakeListening(lower string) Decision {
	if containsPhrase(lower, m.cfg.WakePhrase) {
		m.mode = ModeConversing
		m.commands = 0
		return Decision{Event: EventWake, Mode: ModeConversing, Say: m.cfg.Greeting}
	}
	return Decision{Event: EventIgnored, Mode: ModeWakeListening}
}

func (m *Machine) advanceConversing(text, lower string) Decision {
	// Every finalized non-empty transcript consumes a command turn,
	// termination phrases included.
	m.commands++

	if matchAny(lower, m.cfg.ShutdownPhrases) {
		m.mode = ModeShutdown
		return Decision{Event: EventShutdown, Mode: ModeShutdown, Say: m.cfg.ShutdownAck}
	}
	// The limit is checked before termination phrases: a conversation at its
	// cap shuts down even when the last utterance would otherwise only sleep.
	if m.cfg.CommandLimit > 0 && m.commands >= m.cfg.CommandLimit {
		m.mode = ModeShutdown
		return Decision{Event: EventLimit, Mode: ModeShutdown, Say: m.cfg.LimitNotice, Resolve: text}
	}
	if matchAny(lower, m.cfg.TerminationPhrases) {
		m.mode = ModeWakeListening
		return Decision{Event: EventSleep, Mode: ModeWakeListening, Say: m.cfg.Farewell}
	}
	return Decision{Event: EventCommand, Mode: ModeConversing, Resolve: text}
}

func containsPhrase(lower, phrase string) bool {
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	return phrase != "" && strings.Contains(lower, phrase)
}

func matchAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		if containsPhrase(lower, p) {
			return true
		}
	}
	return false
}

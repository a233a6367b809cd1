package voice

import (
	"strings"
	"testing"
)

func newTestDeepgram(t *testing.T) *Deepgram {
	t.Helper()
	d, err := NewDeepgram(DefaultDeepgramConfig("test-key"))
	if err != nil {
		t.Fatalf("NewDeepgram() error = %v", err)
	}
	return d
}

func TestDeepgramListenURL(t *testing.T) {
	d := newTestDeepgram(t)
	u := d.listenURL()

	for _, want := range []string{
		"encoding=linear16",
		"sample_rate=16000",
		"channels=1",
		"model=nova-2",
		"language=en-US",
		"smart_format=true",
		"punctuate=true",
		"vad_events=true",
		"endpointing=200",
		"interim_results=true",
		"utterance_end_ms=1000",
	} {
		if !strings.Contains(u, want) {
			t.Errorf("listen URL missing %q: %s", want, u)
		}
	}
}

func TestDeepgramFinalTranscript(t *testing.T) {
	d := newTestDeepgram(t)

	var events []TranscriptEvent
	d.OnTranscript(func(ev TranscriptEvent) { events = append(events, ev) })

	d.handleMessage([]byte(`{
		"type": "Results",
		"is_final": true,
		"speech_final": false,
		"channel": {"alternatives": [{"transcript": " two old fashioneds ", "confidence": 0.98}]}
	}`))

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Text != "two old fashioneds" {
		t.Errorf("Text = %q, want trimmed transcript", events[0].Text)
	}
	if !events[0].IsFinal {
		t.Error("is_final should mark the event final")
	}
	if events[0].Confidence != 0.98 {
		t.Errorf("Confidence = %v", events[0].Confidence)
	}
}

func TestDeepgramSpeechFinalCountsAsFinal(t *testing.T) {
	d := newTestDeepgram(t)

	var events []TranscriptEvent
	d.OnTranscript(func(ev TranscriptEvent) { events = append(events, ev) })

	d.handleMessage([]byte(`{
		"type": "Results",
		"is_final": false,
		"speech_final": true,
		"channel": {"alternatives": [{"transcript": "one negroni"}]}
	}`))

	if len(events) != 1 || !events[0].IsFinal {
		t.Fatalf("speech_final should produce a final event, got %+v", events)
	}
	if !events[0].EndOfTurn {
		t.Error("speech_final should mark end of turn")
	}
}

func TestDeepgramEmptyFinalDropped(t *testing.T) {
	d := newTestDeepgram(t)

	var events []TranscriptEvent
	d.OnTranscript(func(ev TranscriptEvent) { events = append(events, ev) })

	d.handleMessage([]byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {"alternatives": [{"transcript": "   "}]}
	}`))
	d.handleMessage([]byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {"alternatives": [{"transcript": ""}]}
	}`))

	if len(events) != 0 {
		t.Errorf("empty finals must be dropped, got %+v", events)
	}
}

func TestDeepgramInterimTranscripts(t *testing.T) {
	d := newTestDeepgram(t)

	var events []TranscriptEvent
	d.OnTranscript(func(ev TranscriptEvent) { events = append(events, ev) })

	d.handleMessage([]byte(`{
		"type": "Results",
		"is_final": false,
		"channel": {"alternatives": [{"transcript": "two old"}]}
	}`))

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].IsFinal {
		t.Error("interim result should not be final")
	}
}

func TestDeepgramInterimSuppressedWhenDisabled(t *testing.T) {
	cfg := DefaultDeepgramConfig("test-key")
	cfg.Interim = false
	d, err := NewDeepgram(cfg)
	if err != nil {
		t.Fatalf("NewDeepgram() error = %v", err)
	}

	var events []TranscriptEvent
	d.OnTranscript(func(ev TranscriptEvent) { events = append(events, ev) })

	d.handleMessage([]byte(`{
		"type": "Results",
		"is_final": false,
		"channel": {"alternatives": [{"transcript": "two old"}]}
	}`))

	if len(events) != 0 {
		t.Errorf("interim events should be suppressed, got %+v", events)
	}
}

func TestDeepgramVADEvents(t *testing.T) {
	d := newTestDeepgram(t)

	var started, ended int
	d.OnSpeechStart(func() { started++ })
	d.OnSpeechEnd(func() { ended++ })

	d.handleMessage([]byte(`{"type": "SpeechStarted"}`))
	d.handleMessage([]byte(`{"type": "UtteranceEnd"}`))

	if started != 1 {
		t.Errorf("speech start fired %d times", started)
	}
	if ended != 1 {
		t.Errorf("speech end fired %d times", ended)
	}
}

func TestDeepgramErrorMessageFiresCallback(t *testing.T) {
	d := newTestDeepgram(t)

	var errs []error
	d.OnError(func(err error) { errs = append(errs, err) })

	d.handleMessage([]byte(`{
		"type": "Error",
		"err_code": "DATA-0000",
		"err_msg": "unable to process audio"
	}`))

	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1", len(errs))
	}
	for _, want := range []string{"DATA-0000", "unable to process audio"} {
		if !strings.Contains(errs[0].Error(), want) {
			t.Errorf("error %q missing %q", errs[0], want)
		}
	}
}

func TestDeepgramGarbageIgnored(t *testing.T) {
	d := newTestDeepgram(t)
	d.OnTranscript(func(ev TranscriptEvent) {
		t.Errorf("unexpected event %+v", ev)
	})

	d.handleMessage([]byte(`not json`))
	d.handleMessage([]byte(`{"type": "Metadata"}`))
	d.handleMessage([]byte(`{"type": "Results", "channel": {"alternatives": []}}`))
}

func TestDeepgramUnsupportedOperations(t *testing.T) {
	d := newTestDeepgram(t)

	if err := d.SendRaw([]byte(`{}`)); err != ErrUnsupported {
		t.Errorf("SendRaw error = %v, want ErrUnsupported", err)
	}
	if err := d.SubmitToolResult("id", "out"); err != ErrUnsupported {
		t.Errorf("SubmitToolResult error = %v, want ErrUnsupported", err)
	}
}

func TestDeepgramSendAudioRequiresConnection(t *testing.T) {
	d := newTestDeepgram(t)
	if err := d.SendAudio([]byte{0, 0}); err != ErrNotConnected {
		t.Errorf("SendAudio error = %v, want ErrNotConnected", err)
	}
}

func TestDeepgramStopBeforeStart(t *testing.T) {
	d := newTestDeepgram(t)
	if err := d.Stop(); err != nil {
		t.Errorf("Stop() before Start() error = %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

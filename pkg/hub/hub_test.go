package hub

import (
	"context"
	"testing"
	"time"
)

// attach registers a bare client without starting pumps, so tests can read
// from the send channel directly.
func attach(t *testing.T, h *Hub) *Client {
	t.Helper()
	c := &Client{hub: h, send: make(chan []byte, 256)}
	select {
	case h.register <- c:
	case <-time.After(time.Second):
		t.Fatal("register timed out; is Run() started?")
	}
	return c
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
		return nil
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	h := New("test")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	a := attach(t, h)
	b := attach(t, h)

	h.Broadcast([]byte(`{"event":"open"}`))

	if got := string(receive(t, a)); got != `{"event":"open"}` {
		t.Errorf("client a got %s", got)
	}
	if got := string(receive(t, b)); got != `{"event":"open"}` {
		t.Errorf("client b got %s", got)
	}
}

func TestBroadcastJSON(t *testing.T) {
	h := New("test")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	c := attach(t, h)

	if err := h.BroadcastJSON(map[string]string{"session_id": "s1"}); err != nil {
		t.Fatalf("BroadcastJSON() error = %v", err)
	}

	if got := string(receive(t, c)); got != `{"session_id":"s1"}` {
		t.Errorf("got %s", got)
	}
}

func TestUnregisterClosesSendChannel(t *testing.T) {
	h := New("test")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	c := attach(t, h)
	h.unregister <- c

	select {
	case _, ok := <-c.send:
		if ok {
			t.Error("expected closed channel, got message")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed after unregister")
	}

	if n := h.ClientCount(); n != 0 {
		t.Errorf("ClientCount() = %d, want 0", n)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	h := New("test")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	c := attach(t, h)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if _, ok := <-c.send; ok {
		t.Error("client channel should be closed on shutdown")
	}
}

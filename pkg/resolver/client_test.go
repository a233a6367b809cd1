package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestResolve(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("method = %v, want POST", r.Method)
		}
		if r.Header.Get("X-Session-ID") != "sess-1" {
			t.Errorf("missing session header, got %q", r.Header.Get("X-Session-ID"))
		}

		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.Text != "two old fashioneds" {
			t.Errorf("text = %q", req.Text)
		}

		json.NewEncoder(w).Encode(Result{
			Say:    "Two old fashioneds, coming up.",
			Action: "cart_add",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	result, err := client.Resolve(context.Background(), Request{
		Text:      "two old fashioneds",
		SessionID: "sess-1",
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if result.Say != "Two old fashioneds, coming up." {
		t.Errorf("Say = %q", result.Say)
	}
	if result.Action != "cart_add" {
		t.Errorf("Action = %q", result.Action)
	}
}

func TestResolveServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "resolver exploded", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.Resolve(context.Background(), Request{Text: "hi", SessionID: "s"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d", apiErr.StatusCode)
	}
}

func TestResolveTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, WithTimeout(20*time.Millisecond))
	_, err := client.Resolve(context.Background(), Request{Text: "hi", SessionID: "s"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestResolveCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body before parking, or server.Close waits on this handler.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	client := NewClient(server.URL)
	_, err := client.Resolve(ctx, Request{Text: "hi", SessionID: "s"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestResolveNoEndpoint(t *testing.T) {
	client := NewClient("")
	_, err := client.Resolve(context.Background(), Request{Text: "hi"})
	if !errors.Is(err, ErrNoResolver) {
		t.Errorf("expected ErrNoResolver, got %v", err)
	}
}

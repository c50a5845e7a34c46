package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tymbalhq/tymbal/internal/agent"
)

func TestFleetActivateClassifiesRejections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer srv.Close()

	b := NewFleetBackend(FleetConfig{BaseURL: srv.URL})
	err := b.Activate(context.Background(), agent.ID{Channel: "c", Session: "s"}, ActivateOptions{})
	var ae *ActivationError
	if !errors.As(err, &ae) {
		t.Fatalf("activate = %v; want *ActivationError", err)
	}
	if !ae.Permanent {
		t.Fatalf("4xx rejection should be permanent: %v", err)
	}
}

func TestFleetActivateServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "provisioning backlog", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := NewFleetBackend(FleetConfig{BaseURL: srv.URL})
	err := b.Activate(context.Background(), agent.ID{Channel: "c", Session: "s"}, ActivateOptions{})
	var ae *ActivationError
	if !errors.As(err, &ae) {
		t.Fatalf("activate = %v; want *ActivationError", err)
	}
	if ae.Permanent {
		t.Fatalf("5xx failure should be retryable: %v", err)
	}
}

func TestFleetActivateSendsRequest(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/containers" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer fleet-key" {
			t.Errorf("auth header = %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"container": map[string]any{"id": "abc", "name": "tymbal-c-s", "image": "agent:dev", "status": "provisioning"},
		})
	}))
	defer srv.Close()

	b := NewFleetBackend(FleetConfig{BaseURL: srv.URL, Token: "fleet-key", Image: "agent:dev"})
	id := agent.ID{Channel: "c", Session: "s"}
	if err := b.Activate(context.Background(), id, ActivateOptions{}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if got["agentId"] != "c/s" || got["image"] != "agent:dev" {
		t.Fatalf("request body = %+v", got)
	}
	ev := <-b.Events()
	if ev.Kind != EventStatus || ev.Container == nil || ev.Container.State != "provisioning" {
		t.Fatalf("event = %+v", ev)
	}
	// Stop the status poller started by Activate.
	_ = b.Suspend(context.Background(), id)
}

func TestFleetSuspendIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such container", http.StatusNotFound)
	}))
	defer srv.Close()

	b := NewFleetBackend(FleetConfig{BaseURL: srv.URL})
	if err := b.Suspend(context.Background(), agent.ID{Channel: "c", Session: "s"}); err != nil {
		t.Fatalf("suspend of unknown agent = %v; want nil", err)
	}
}

func TestFleetSendNotActive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent suspended", http.StatusConflict)
	}))
	defer srv.Close()

	b := NewFleetBackend(FleetConfig{BaseURL: srv.URL})
	err := b.Send(context.Background(), agent.ID{Channel: "c", Session: "s"}, Message{Payload: json.RawMessage(`{}`)})
	if !errors.Is(err, ErrNotActive) {
		t.Fatalf("send = %v; want ErrNotActive", err)
	}
}

// Package runtime defines the execution backend contract and its concrete
// variants. A backend hosts agents somewhere (a local container, a fleet
// container, a process on a user's machine) and reports what they do as an
// ordered stream of events.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tymbalhq/tymbal/internal/agent"
	"github.com/tymbalhq/tymbal/internal/creds"
	"github.com/tymbalhq/tymbal/internal/tymbal"
)

var (
	// ErrNotActive is returned when delivery is attempted to an agent that is
	// not in a deliverable state.
	ErrNotActive = errors.New("runtime: agent not active")

	// ErrBackpressure is returned when a bounded delivery queue is full. The
	// message was not sent and was not silently dropped; the caller decides
	// whether to retry.
	ErrBackpressure = errors.New("runtime: delivery queue full")
)

// ActivationError reports that a backend could not provision or locate an
// execution unit. Permanent rejections (quota exceeded, bad image) must not
// be retried; everything else may be.
type ActivationError struct {
	Permanent bool
	Err       error
}

func (e *ActivationError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("runtime: activation rejected: %v", e.Err)
	}
	return fmt.Sprintf("runtime: activation failed: %v", e.Err)
}

func (e *ActivationError) Unwrap() error { return e.Err }

// DisconnectedError reports a lost runtime connection. Always retryable;
// reconnection is owned by an external supervisor.
type DisconnectedError struct {
	Reason string
}

func (e *DisconnectedError) Error() string {
	return "runtime: disconnected: " + e.Reason
}

// ActivateOptions parameterizes agent activation.
type ActivateOptions struct {
	Image       string            `json:"image,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Credentials *creds.Token      `json:"credentials,omitempty"`
}

// Message is an opaque payload delivered to a running agent.
type Message struct {
	Payload json.RawMessage `json:"payload"`
}

// EventKind discriminates backend events.
type EventKind string

const (
	EventStatus  EventKind = "status"
	EventCheckin EventKind = "checkin"
	EventFrame   EventKind = "frame"
	EventError   EventKind = "error"
)

// Event is one observation a backend reports about an agent. Events for one
// agent are delivered in the order the backend observed them; no gaps are
// guaranteed only while the underlying connection is alive.
type Event struct {
	Kind      EventKind
	Agent     agent.ID
	Frame     tymbal.Frame
	Container *agent.ContainerInfo
	Err       error
}

// Backend is the capability contract every execution variant satisfies.
//
// Activate provisions or locates the agent's execution unit; it fails with
// *ActivationError when the backend cannot. Send delivers a message to a
// running agent and fails with ErrNotActive when it cannot accept one.
// Suspend pauses the agent and is idempotent: suspending an agent that is
// already suspended is a no-op, not an error. Suspend also cancels any
// outstanding Activate for the agent.
type Backend interface {
	Activate(ctx context.Context, id agent.ID, opts ActivateOptions) error
	Send(ctx context.Context, id agent.ID, msg Message) error
	Suspend(ctx context.Context, id agent.ID) error
	Events() <-chan Event
}

package agent

import "time"

// Status is an agent's lifecycle position.
type Status string

const (
	StatusPending    Status = "pending"
	StatusActivating Status = "activating"
	StatusActive     Status = "active"
	StatusSuspended  Status = "suspended"
	StatusError      Status = "error"
	StatusTerminated Status = "terminated"
)

// ErrorKind classifies the failure recorded on an agent state.
type ErrorKind string

const (
	ErrKindActivation ErrorKind = "activation"
	ErrKindDelivery   ErrorKind = "delivery"
	ErrKindDisconnect ErrorKind = "disconnect"
	ErrKindProtocol   ErrorKind = "protocol"
	ErrKindInternal   ErrorKind = "internal"
)

// Error is the failure detail attached to a state in StatusError. Retryable
// errors may be recovered by reactivation; fatal ones lead to termination
// after a grace period owned by the caller.
type Error struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// ContainerInfo is the last known execution unit for container backends.
type ContainerInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
	State string `json:"state"`
}

// State is one agent's runtime snapshot. It is a value: reducers return a new
// State and never mutate their input, so replaying the same event sequence
// from NewState always produces the same result.
type State struct {
	Status        Status         `json:"status"`
	LastCheckinAt time.Time      `json:"lastCheckinAt,omitzero"`
	Container     *ContainerInfo `json:"container,omitempty"`
	Err           *Error         `json:"error,omitempty"`
	FrameCursor   uint64         `json:"frameCursor,omitempty"`
}

// NewState returns the initial pending state.
func NewState() State {
	return State{Status: StatusPending}
}

// Terminal reports whether no further transitions are accepted.
func (s State) Terminal() bool { return s.Status == StatusTerminated }

// ReduceActivate records an activation request. Pending and suspended agents
// move to activating, as does an agent parked on a retryable error; any other
// state is returned unchanged.
func ReduceActivate(s State) State {
	switch s.Status {
	case StatusPending, StatusSuspended:
	case StatusError:
		if s.Err == nil || !s.Err.Retryable {
			return s
		}
	default:
		return s
	}
	s.Status = StatusActivating
	s.Err = nil
	return s
}

// ReduceCheckin folds a liveness signal. The first checkin confirms
// activation; while active it refreshes LastCheckinAt. Checkins never regress
// status: applied to any other state they are a no-op, so a stale checkin
// from a superseded connection cannot resurrect a suspended or failed agent.
func ReduceCheckin(s State, at time.Time) State {
	switch s.Status {
	case StatusActivating:
		s.Status = StatusActive
	case StatusActive:
	default:
		return s
	}
	s.LastCheckinAt = at
	return s
}

// ReduceFrame advances the frame cursor. Frames are only valid while active;
// otherwise the state is unchanged and dropped is true so the caller can log
// the out-of-protocol frame without failing the stream.
func ReduceFrame(s State, seq uint64) (State, bool) {
	if s.Status != StatusActive {
		return s, true
	}
	if seq > s.FrameCursor {
		s.FrameCursor = seq
	}
	return s, false
}

// ReduceSuspend pauses the agent. Idempotent: any non-terminal state moves to
// suspended, and suspending twice yields the same state as once.
func ReduceSuspend(s State) State {
	if s.Terminal() {
		return s
	}
	s.Status = StatusSuspended
	s.Err = nil
	return s
}

// ReduceError records a failure. Any non-terminal state moves to error with
// the detail attached. Whether the agent is later reactivated (retryable) or
// terminated after a grace period (fatal) is the caller's decision.
func ReduceError(s State, e Error) State {
	if s.Terminal() {
		return s
	}
	s.Status = StatusError
	s.Err = &e
	return s
}

// ReduceContainer records the last known execution unit reported by a
// container backend. Status is unaffected.
func ReduceContainer(s State, info ContainerInfo) State {
	c := info
	s.Container = &c
	return s
}

// ReduceTerminate moves the agent to its final state. No transition is
// accepted afterwards.
func ReduceTerminate(s State) State {
	s.Status = StatusTerminated
	return s
}

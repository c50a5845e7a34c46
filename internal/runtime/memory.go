package runtime

import (
	"context"
	"sync"

	"github.com/tymbalhq/tymbal/internal/agent"
)

// ActivateCall records one Activate invocation on the memory backend.
type ActivateCall struct {
	Agent agent.ID
	Opts  ActivateOptions
}

// SendCall records one Send invocation on the memory backend.
type SendCall struct {
	Agent agent.ID
	Msg   Message
}

// MemoryBackend is the in-memory test double. It performs no I/O, records
// every call for assertion, and lets tests inject events deterministically.
type MemoryBackend struct {
	mu        sync.Mutex
	active    map[agent.ID]bool
	activates []ActivateCall
	sends     []SendCall
	suspends  []agent.ID
	events    chan Event

	// ActivateErr, when set, is returned by the next Activate call.
	ActivateErr error
}

// NewMemoryBackend returns an empty test double.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		active: make(map[agent.ID]bool),
		events: make(chan Event, 64),
	}
}

func (b *MemoryBackend) Activate(ctx context.Context, id agent.ID, opts ActivateOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activates = append(b.activates, ActivateCall{Agent: id, Opts: opts})
	if b.ActivateErr != nil {
		err := b.ActivateErr
		b.ActivateErr = nil
		return err
	}
	b.active[id] = true
	return nil
}

func (b *MemoryBackend) Send(ctx context.Context, id agent.ID, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active[id] {
		return ErrNotActive
	}
	b.sends = append(b.sends, SendCall{Agent: id, Msg: msg})
	return nil
}

func (b *MemoryBackend) Suspend(ctx context.Context, id agent.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.suspends = append(b.suspends, id)
	delete(b.active, id)
	return nil
}

func (b *MemoryBackend) Events() <-chan Event { return b.events }

// Emit injects an event as if the backend observed it.
func (b *MemoryBackend) Emit(ev Event) { b.events <- ev }

// Activates returns a copy of the recorded Activate calls.
func (b *MemoryBackend) Activates() []ActivateCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ActivateCall(nil), b.activates...)
}

// Sends returns a copy of the recorded Send calls.
func (b *MemoryBackend) Sends() []SendCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]SendCall(nil), b.sends...)
}

// Suspends returns a copy of the recorded Suspend calls.
func (b *MemoryBackend) Suspends() []agent.ID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]agent.ID(nil), b.suspends...)
}

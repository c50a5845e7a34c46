package connmgr

import (
	"context"

	"github.com/tymbalhq/tymbal/internal/agent"
	"github.com/tymbalhq/tymbal/internal/runtime"
)

// RemoteBackend adapts a Manager to the runtime.Backend contract for agents
// hosted as processes on a user's machine. There is no local execution unit
// to manage: every capability call becomes a connection protocol message, and
// the backend's events are the ones the manager produces from inbound
// traffic.
type RemoteBackend struct {
	m *Manager
}

// NewRemoteBackend wraps the manager as a backend.
func NewRemoteBackend(m *Manager) *RemoteBackend {
	return &RemoteBackend{m: m}
}

func (b *RemoteBackend) Activate(ctx context.Context, id agent.ID, opts runtime.ActivateOptions) error {
	return b.m.Activate(ctx, id, opts)
}

func (b *RemoteBackend) Send(ctx context.Context, id agent.ID, msg runtime.Message) error {
	return b.m.Deliver(ctx, id, msg)
}

func (b *RemoteBackend) Suspend(ctx context.Context, id agent.ID) error {
	return b.m.Suspend(ctx, id)
}

func (b *RemoteBackend) Events() <-chan runtime.Event {
	return b.m.Events()
}

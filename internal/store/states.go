// Package store owns the map from agent id to runtime state. All mutation
// goes through reducer-applying methods under a per-agent lock, preserving
// the single-writer-per-agent discipline without a global lock around the
// reducers themselves.
package store

import (
	"sync"
	"time"

	"github.com/tymbalhq/tymbal/internal/agent"
	"github.com/tymbalhq/tymbal/internal/logx"
)

// Finalizer receives an agent's final state when it is terminated. The store
// itself has no persistence obligation; history is delegated downstream.
type Finalizer interface {
	Finalize(id agent.ID, final agent.State) error
}

// NoopFinalizer discards finalized state.
type NoopFinalizer struct{}

func (NoopFinalizer) Finalize(agent.ID, agent.State) error { return nil }

type entry struct {
	mu    sync.Mutex
	state agent.State
}

// States tracks the runtime state of every known agent.
type States struct {
	mu        sync.RWMutex
	agents    map[agent.ID]*entry
	finalizer Finalizer
}

// NewStates returns an empty store handing finalized state to fin.
func NewStates(fin Finalizer) *States {
	if fin == nil {
		fin = NoopFinalizer{}
	}
	return &States{agents: make(map[agent.ID]*entry), finalizer: fin}
}

func (s *States) entryFor(id agent.ID) *entry {
	s.mu.RLock()
	e, ok := s.agents[id]
	s.mu.RUnlock()
	if ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.agents[id]; ok {
		return e
	}
	e = &entry{state: agent.NewState()}
	s.agents[id] = e
	return e
}

// Activate applies the activation reducer and returns the new state.
func (s *States) Activate(id agent.ID) agent.State {
	e := s.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = agent.ReduceActivate(e.state)
	return e.state
}

// Checkin applies a liveness signal.
func (s *States) Checkin(id agent.ID, at time.Time) agent.State {
	e := s.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = agent.ReduceCheckin(e.state, at)
	return e.state
}

// Frame advances the agent's frame cursor. Dropped frames are logged and
// leave the state unchanged.
func (s *States) Frame(id agent.ID, seq uint64) (agent.State, bool) {
	e := s.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	next, dropped := agent.ReduceFrame(e.state, seq)
	if dropped {
		logx.Log.Warn().Str("agent", id.String()).Str("status", string(e.state.Status)).Uint64("seq", seq).Msg("dropping frame for inactive agent")
		return e.state, true
	}
	e.state = next
	return e.state, false
}

// Suspend applies the suspend reducer.
func (s *States) Suspend(id agent.ID) agent.State {
	e := s.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = agent.ReduceSuspend(e.state)
	return e.state
}

// Error records a failure on the agent.
func (s *States) Error(id agent.ID, aerr agent.Error) agent.State {
	e := s.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = agent.ReduceError(e.state, aerr)
	return e.state
}

// Container records the last known execution unit.
func (s *States) Container(id agent.ID, info agent.ContainerInfo) agent.State {
	e := s.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = agent.ReduceContainer(e.state, info)
	return e.state
}

// Terminate moves the agent to its final state, hands it to the finalizer,
// and drops it from the store.
func (s *States) Terminate(id agent.ID) agent.State {
	e := s.entryFor(id)
	e.mu.Lock()
	e.state = agent.ReduceTerminate(e.state)
	final := e.state
	e.mu.Unlock()

	if err := s.finalizer.Finalize(id, final); err != nil {
		logx.Log.Error().Str("agent", id.String()).Err(err).Msg("finalize failed")
	}
	s.mu.Lock()
	delete(s.agents, id)
	s.mu.Unlock()
	return final
}

// Get returns the agent's current state.
func (s *States) Get(id agent.ID) (agent.State, bool) {
	s.mu.RLock()
	e, ok := s.agents[id]
	s.mu.RUnlock()
	if !ok {
		return agent.State{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

// Snapshot returns a copy of every tracked agent state keyed by canonical id.
func (s *States) Snapshot() map[string]agent.State {
	s.mu.RLock()
	ids := make([]agent.ID, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := make(map[string]agent.State, len(ids))
	for _, id := range ids {
		if st, ok := s.Get(id); ok {
			out[id.String()] = st
		}
	}
	return out
}

package store

import (
	"sync"
	"testing"
	"time"

	"github.com/tymbalhq/tymbal/internal/agent"
)

type recordingFinalizer struct {
	mu    sync.Mutex
	calls map[agent.ID]agent.State
}

func (r *recordingFinalizer) Finalize(id agent.ID, final agent.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[agent.ID]agent.State)
	}
	r.calls[id] = final
	return nil
}

func TestStatesLifecycle(t *testing.T) {
	s := NewStates(nil)
	id := agent.ID{Channel: "general", Session: "s1"}

	if st := s.Activate(id); st.Status != agent.StatusActivating {
		t.Fatalf("activate = %s", st.Status)
	}
	if st := s.Checkin(id, time.Now()); st.Status != agent.StatusActive {
		t.Fatalf("checkin = %s", st.Status)
	}
	st, dropped := s.Frame(id, 1)
	if dropped || st.FrameCursor != 1 {
		t.Fatalf("frame = %+v dropped=%v", st, dropped)
	}
	if st := s.Suspend(id); st.Status != agent.StatusSuspended {
		t.Fatalf("suspend = %s", st.Status)
	}
	// A frame for a suspended agent is dropped without disturbing the state.
	if _, dropped := s.Frame(id, 2); !dropped {
		t.Fatalf("expected frame drop while suspended")
	}
	if got, ok := s.Get(id); !ok || got.FrameCursor != 1 {
		t.Fatalf("state after drop = %+v ok=%v", got, ok)
	}
}

func TestStatesTerminateFinalizes(t *testing.T) {
	fin := &recordingFinalizer{}
	s := NewStates(fin)
	id := agent.ID{Channel: "c", Session: "s"}

	s.Activate(id)
	s.Error(id, agent.Error{Kind: agent.ErrKindActivation, Message: "bad image"})
	final := s.Terminate(id)
	if final.Status != agent.StatusTerminated {
		t.Fatalf("final = %s", final.Status)
	}
	if got := fin.calls[id]; got.Status != agent.StatusTerminated || got.Err == nil {
		t.Fatalf("finalized = %+v", got)
	}
	if _, ok := s.Get(id); ok {
		t.Fatalf("terminated agent still tracked")
	}
}

func TestStatesIsolation(t *testing.T) {
	s := NewStates(nil)
	a := agent.ID{Channel: "c", Session: "a"}
	b := agent.ID{Channel: "c", Session: "b"}
	s.Activate(a)
	s.Activate(b)
	s.Error(a, agent.Error{Kind: agent.ErrKindDisconnect, Retryable: true})

	if st, _ := s.Get(a); st.Status != agent.StatusError {
		t.Fatalf("a = %s", st.Status)
	}
	if st, _ := s.Get(b); st.Status != agent.StatusActivating {
		t.Fatalf("b must be untouched; got %s", st.Status)
	}
	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot size = %d", len(snap))
	}
	if snap["c/a"].Status != agent.StatusError || snap["c/b"].Status != agent.StatusActivating {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestStatesConcurrentCheckins(t *testing.T) {
	s := NewStates(nil)
	id := agent.ID{Channel: "c", Session: "s"}
	s.Activate(id)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Checkin(id, time.Now())
		}()
	}
	wg.Wait()
	if st, _ := s.Get(id); st.Status != agent.StatusActive {
		t.Fatalf("status = %s", st.Status)
	}
}

package connmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tymbalhq/tymbal/internal/agent"
	"github.com/tymbalhq/tymbal/internal/logx"
	"github.com/tymbalhq/tymbal/internal/metrics"
	"github.com/tymbalhq/tymbal/internal/runtime"
	"github.com/tymbalhq/tymbal/internal/store"
	"github.com/tymbalhq/tymbal/internal/tymbal"
)

// Config bounds and paces the connection manager.
type Config struct {
	// Key, when non-empty, is the bearer key runtimes must present.
	Key string
	// KeepaliveInterval paces pings per session.
	KeepaliveInterval time.Duration
	// MaxMissedPongs is how many consecutive unanswered pings disconnect a
	// session.
	MaxMissedPongs int
	// SendQueue bounds each session's outbound channel.
	SendQueue int
	// PendingQueue bounds deliveries parked before runtime_ready.
	PendingQueue int
	// WriteTimeout bounds one socket write.
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 15 * time.Second
	}
	if c.MaxMissedPongs <= 0 {
		c.MaxMissedPongs = 3
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 32
	}
	if c.PendingQueue <= 0 {
		c.PendingQueue = 16
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Manager owns the socket sessions to user-machine runtimes. Each session is
// identified by the channel scope it serves; agents route to a session by
// their id's channel. Inbound messages are dispatched to the state store from
// the session's single read loop, which is what serializes state mutation per
// agent.
type Manager struct {
	cfg    Config
	states *store.States
	events chan runtime.Event

	mu       sync.RWMutex
	sessions map[string]*Session

	asmMu sync.Mutex
	asm   map[agent.ID]*tymbal.Assembler
}

// NewManager returns a manager applying events to states.
func NewManager(cfg Config, states *store.States) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		states:   states,
		events:   make(chan runtime.Event, 256),
		sessions: make(map[string]*Session),
		asm:      make(map[agent.ID]*tymbal.Assembler),
	}
}

// Events returns the stream of runtime events the manager produces.
func (m *Manager) Events() <-chan runtime.Event { return m.events }

// publish hands an event to the consumer without ever stalling the caller:
// dispatch runs on session read loops and a lagging (or absent) consumer must
// not wedge them. State is folded before publication, so a dropped event
// loses observability, not correctness.
func (m *Manager) publish(ev runtime.Event) {
	select {
	case m.events <- ev:
	default:
		metrics.EventDropped()
		logx.Log.Warn().Str("agent", ev.Agent.String()).Str("kind", string(ev.Kind)).Msg("event consumer lagging; dropping event")
	}
}

// Session returns the live session for a channel, if any.
func (m *Manager) Session(channel string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[channel]
	return s, ok
}

// WSHandler accepts runtime websocket connections. The runtime identifies
// itself with a bearer key and the channel it serves; a new connection for a
// channel supersedes the previous one.
func (m *Manager) WSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.cfg.Key != "" {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != m.cfg.Key {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		channel := r.Header.Get("X-Tymbal-Channel")
		if channel == "" {
			channel = r.URL.Query().Get("channel")
		}
		if channel == "" {
			http.Error(w, "missing channel", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		sess := newSession(channel, conn, m.cfg.SendQueue, m.cfg.PendingQueue)

		m.mu.Lock()
		if old, ok := m.sessions[channel]; ok {
			old.close("superseded")
		}
		m.sessions[channel] = sess
		m.mu.Unlock()
		metrics.SessionOpened()
		logx.Log.Info().Str("channel", channel).Str("remote_addr", r.RemoteAddr).Msg("runtime connected")

		ctx := r.Context()
		go sess.writePump(ctx, m.cfg.WriteTimeout)
		go sess.keepalive(ctx, m.cfg.KeepaliveInterval, m.cfg.MaxMissedPongs)

		m.readPump(ctx, sess)
		m.teardown(sess)
	}
}

func (m *Manager) readPump(ctx context.Context, sess *Session) {
	for {
		_, data, err := sess.conn.Read(ctx)
		if err != nil {
			sess.close("read failed")
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logx.Log.Warn().Str("channel", sess.channel).Err(err).Msg("unparseable runtime message")
			continue
		}
		m.dispatch(sess, env)
		select {
		case <-sess.closed():
			return
		default:
		}
	}
}

// dispatch folds one inbound message. Runs only on the session's read loop.
func (m *Manager) dispatch(sess *Session, env Envelope) {
	switch env.Type {
	case MsgRuntimeReady:
		failed := sess.markReady()
		for _, f := range failed {
			m.deliveryFailed(f, runtime.ErrBackpressure)
		}
		logx.Log.Info().Str("channel", sess.channel).Msg("runtime ready")
	case MsgPong:
		sess.pongReceived()
	case MsgAgentCheckin:
		id, err := agent.ParseID(env.AgentID)
		if err != nil {
			logx.Log.Warn().Str("channel", sess.channel).Str("agent", env.AgentID).Err(err).Msg("checkin for invalid agent id")
			return
		}
		sess.track(id)
		at := time.UnixMilli(env.TS)
		if env.TS == 0 {
			at = time.Now()
		}
		m.states.Checkin(id, at)
		m.publish(runtime.Event{Kind: runtime.EventCheckin, Agent: id})
	case MsgAgentFrame:
		id, err := agent.ParseID(env.AgentID)
		if err != nil {
			logx.Log.Warn().Str("channel", sess.channel).Str("agent", env.AgentID).Err(err).Msg("frame for invalid agent id")
			return
		}
		if env.Frame == nil {
			logx.Log.Warn().Str("channel", sess.channel).Str("agent", env.AgentID).Msg("agent_frame without frame")
			return
		}
		sess.track(id)
		if _, dropped := m.states.Frame(id, env.Frame.Seq); dropped {
			metrics.FrameDropped(id.Channel)
			return
		}
		metrics.FrameFolded(id.Channel)
		m.assemble(id, *env.Frame)
		m.publish(runtime.Event{Kind: runtime.EventFrame, Agent: id, Frame: *env.Frame})
	default:
		logx.Log.Warn().Str("channel", sess.channel).Str("type", string(env.Type)).Msg("unknown runtime message type")
	}
}

// teardown releases a dropped session: queued deliveries become delivery
// failures and every agent the session carried records one retryable
// disconnect error.
func (m *Manager) teardown(sess *Session) {
	sess.close("connection closed")

	m.mu.Lock()
	if m.sessions[sess.channel] == sess {
		delete(m.sessions, sess.channel)
	}
	m.mu.Unlock()
	metrics.SessionClosed()

	for _, env := range sess.drainQueued() {
		m.deliveryFailed(env, &runtime.DisconnectedError{Reason: "session dropped"})
	}
	derr := &runtime.DisconnectedError{Reason: "session dropped"}
	for _, id := range sess.trackedAgents() {
		m.states.Error(id, agent.Error{Kind: agent.ErrKindDisconnect, Message: derr.Reason, Retryable: true})
		m.publish(runtime.Event{Kind: runtime.EventError, Agent: id, Err: derr})
	}
	logx.Log.Info().Str("channel", sess.channel).Msg("runtime disconnected")
}

// assemble folds a frame into the agent's assembler so lagging consumers can
// be caught up via sync. Frames the assembler rejects are already recorded in
// the cursor; the rejection is logged and the stream continues.
func (m *Manager) assemble(id agent.ID, f tymbal.Frame) {
	m.asmMu.Lock()
	defer m.asmMu.Unlock()
	a, ok := m.asm[id]
	if !ok {
		a = tymbal.NewAssembler(0)
		m.asm[id] = a
	}
	if _, err := a.Apply(f); err != nil {
		logx.Log.Warn().Str("agent", id.String()).Err(err).Msg("frame rejected by assembler")
	}
}

// SyncAgent answers a lagging consumer's sync_request against one agent's
// assembled stream. ok is false when no frames have been seen for the agent.
func (m *Manager) SyncAgent(id agent.ID, lastSeq uint64) (tymbal.Frame, bool) {
	m.asmMu.Lock()
	defer m.asmMu.Unlock()
	a, ok := m.asm[id]
	if !ok {
		return tymbal.Frame{}, false
	}
	return a.Sync(lastSeq), true
}

// AgentMessages returns the messages assembled from an agent's frames in
// start order.
func (m *Manager) AgentMessages(id agent.ID) ([]tymbal.Message, bool) {
	m.asmMu.Lock()
	defer m.asmMu.Unlock()
	a, ok := m.asm[id]
	if !ok {
		return nil, false
	}
	return a.Messages(), true
}

func (m *Manager) deliveryFailed(env Envelope, cause error) {
	id, err := agent.ParseID(env.AgentID)
	if err != nil {
		return
	}
	logx.Log.Warn().Str("agent", env.AgentID).Err(cause).Msg("queued delivery cancelled")
	m.publish(runtime.Event{Kind: runtime.EventError, Agent: id, Err: fmt.Errorf("delivery cancelled: %w", cause)})
}

// Activate requests activation of an agent on its channel's runtime. With no
// session connected the attempt fails with a retryable *ActivationError.
func (m *Manager) Activate(ctx context.Context, id agent.ID, opts runtime.ActivateOptions) error {
	sess, ok := m.Session(id.Channel)
	if !ok {
		return &runtime.ActivationError{Err: fmt.Errorf("no runtime connected for channel %s", id.Channel)}
	}
	m.states.Activate(id)
	sess.track(id)
	env := Envelope{Type: MsgActivateAgent, AgentID: id.String(), TS: time.Now().UnixMilli(), Options: &opts}
	if err := m.enqueueOn(sess, env); err != nil {
		// The agent must not stay parked in activating when the request never
		// reached the runtime.
		m.states.Error(id, agent.Error{Kind: agent.ErrKindActivation, Message: err.Error(), Retryable: true})
		return &runtime.ActivationError{Err: err}
	}
	return nil
}

// Deliver sends a message to an agent's runtime. Agents that are neither
// activating nor active refuse delivery with ErrNotActive; deliveries to a
// runtime that has not announced readiness are queued up to the configured
// bound.
func (m *Manager) Deliver(ctx context.Context, id agent.ID, msg runtime.Message) error {
	st, ok := m.states.Get(id)
	if !ok || (st.Status != agent.StatusActive && st.Status != agent.StatusActivating) {
		return runtime.ErrNotActive
	}
	sess, ok := m.Session(id.Channel)
	if !ok {
		return runtime.ErrNotActive
	}
	env := Envelope{Type: MsgDeliverMessage, AgentID: id.String(), TS: time.Now().UnixMilli(), Message: msg.Payload}
	return m.enqueueOn(sess, env)
}

// Suspend pauses an agent. Idempotent: with no session or an already
// suspended agent it still succeeds. Queued deliveries for the agent are
// cancelled, and the suspend supersedes any outstanding activation.
func (m *Manager) Suspend(ctx context.Context, id agent.ID) error {
	m.states.Suspend(id)
	sess, ok := m.Session(id.Channel)
	if !ok {
		return nil
	}
	for _, env := range sess.dropPending(id) {
		m.deliveryFailed(env, errors.New("agent suspended"))
	}
	env := Envelope{Type: MsgSuspendAgent, AgentID: id.String(), TS: time.Now().UnixMilli()}
	if err := m.enqueueOn(sess, env); err != nil {
		return err
	}
	return nil
}

func (m *Manager) enqueueOn(sess *Session, env Envelope) error {
	err := sess.enqueue(env)
	if errors.Is(err, runtime.ErrBackpressure) {
		logx.Log.Warn().Str("channel", sess.channel).Str("type", string(env.Type)).Msg("send queue full")
	}
	return err
}

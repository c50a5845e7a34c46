package connmgr

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tymbalhq/tymbal/internal/agent"
	"github.com/tymbalhq/tymbal/internal/logx"
	"github.com/tymbalhq/tymbal/internal/metrics"
	"github.com/tymbalhq/tymbal/internal/runtime"
)

// Session is one runtime socket. Outbound messages flow through a bounded
// send channel; deliver_message envelopes are parked in a bounded pending
// queue until the runtime announces runtime_ready. Either bound overflowing
// refuses the send with runtime.ErrBackpressure instead of blocking.
type Session struct {
	channel string
	conn    *websocket.Conn

	sendQueue    int
	pendingQueue int

	mu      sync.Mutex
	ready   bool
	pending []Envelope
	agents  map[agent.ID]bool

	send      chan Envelope
	pongs     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	reason    string
}

func newSession(channel string, conn *websocket.Conn, sendQueue, pendingQueue int) *Session {
	return &Session{
		channel:      channel,
		conn:         conn,
		sendQueue:    sendQueue,
		pendingQueue: pendingQueue,
		agents:       make(map[agent.ID]bool),
		send:         make(chan Envelope, sendQueue),
		pongs:        make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Channel returns the channel scope this runtime serves.
func (s *Session) Channel() string { return s.channel }

// enqueue hands an envelope to the writer. Deliveries are parked until the
// runtime is ready; everything else goes straight to the send channel.
func (s *Session) enqueue(env Envelope) error {
	s.mu.Lock()
	if env.Type == MsgDeliverMessage && !s.ready {
		if len(s.pending) >= s.pendingQueue {
			s.mu.Unlock()
			metrics.Backpressure()
			return runtime.ErrBackpressure
		}
		s.pending = append(s.pending, env)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	select {
	case s.send <- env:
		return nil
	case <-s.done:
		return &runtime.DisconnectedError{Reason: s.reason}
	default:
		metrics.Backpressure()
		return runtime.ErrBackpressure
	}
}

// markReady flushes the pending deliveries. Envelopes that no longer fit the
// send channel are returned so the caller can surface them as failures.
func (s *Session) markReady() []Envelope {
	s.mu.Lock()
	s.ready = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	var failed []Envelope
	for _, env := range pending {
		select {
		case s.send <- env:
		default:
			failed = append(failed, env)
		}
	}
	return failed
}

// dropPending removes queued deliveries for one agent, returning them so the
// caller can surface the cancellation.
func (s *Session) dropPending(id agent.ID) []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept, dropped []Envelope
	for _, env := range s.pending {
		if env.AgentID == id.String() {
			dropped = append(dropped, env)
		} else {
			kept = append(kept, env)
		}
	}
	s.pending = kept
	return dropped
}

// drainQueued empties both queues after a disconnect and returns every
// cancelled delivery.
func (s *Session) drainQueued() []Envelope {
	s.mu.Lock()
	cancelled := s.pending
	s.pending = nil
	s.mu.Unlock()
	for {
		select {
		case env := <-s.send:
			if env.Type == MsgDeliverMessage {
				cancelled = append(cancelled, env)
			}
		default:
			return cancelled
		}
	}
}

func (s *Session) track(id agent.ID) {
	s.mu.Lock()
	s.agents[id] = true
	s.mu.Unlock()
}

func (s *Session) trackedAgents() []agent.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]agent.ID, 0, len(s.agents))
	for id := range s.agents {
		out = append(out, id)
	}
	return out
}

func (s *Session) pongReceived() {
	select {
	case s.pongs <- struct{}{}:
	default:
	}
}

// close tears the socket down once. reason is retained for errors returned to
// later senders.
func (s *Session) close(reason string) {
	s.closeOnce.Do(func() {
		s.reason = reason
		close(s.done)
		_ = s.conn.Close(websocket.StatusNormalClosure, reason)
	})
}

func (s *Session) closed() <-chan struct{} { return s.done }

// writePump serializes outbound envelopes onto the socket. One writer per
// session; it exits when the session closes.
func (s *Session) writePump(ctx context.Context, writeTimeout time.Duration) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case env := <-s.send:
			b, err := json.Marshal(env)
			if err != nil {
				logx.Log.Error().Err(err).Msg("marshal outbound envelope")
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = s.conn.Write(wctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				s.close("write failed")
				return
			}
		}
	}
}

// keepalive pings the runtime on every interval tick and counts intervals
// without a pong. Missing maxMissed consecutive pongs closes the session.
func (s *Session) keepalive(ctx context.Context, interval time.Duration, maxMissed int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	missed := 0
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-s.pongs:
			missed = 0
		case <-ticker.C:
			if missed >= maxMissed {
				logx.Log.Warn().Str("channel", s.channel).Int("missed", missed).Msg("keepalive timeout")
				metrics.KeepaliveDisconnect()
				s.close("keepalive timeout")
				return
			}
			missed++
			if err := s.enqueue(Envelope{Type: MsgPing, TS: time.Now().UnixMilli()}); err != nil {
				logx.Log.Debug().Str("channel", s.channel).Err(err).Msg("ping not queued")
			}
		}
	}
}

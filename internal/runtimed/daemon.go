package runtimed

import (
	"context"
	"sync"
	"time"

	"github.com/tymbalhq/tymbal/internal/agent"
	"github.com/tymbalhq/tymbal/internal/config"
	"github.com/tymbalhq/tymbal/internal/connmgr"
	"github.com/tymbalhq/tymbal/internal/logx"
	"github.com/tymbalhq/tymbal/internal/runtime"
)

// daemon holds the agents this runtime hosts and the outbound message queue
// for the current connection.
type daemon struct {
	cfg config.RuntimeConfig
	out chan connmgr.Envelope

	mu     sync.Mutex
	agents map[agent.ID]*agentProc
}

func newDaemon(cfg config.RuntimeConfig) *daemon {
	return &daemon{
		cfg:    cfg,
		out:    make(chan connmgr.Envelope, 64),
		agents: make(map[agent.ID]*agentProc),
	}
}

// emit queues an envelope for the writer; a full queue drops the message
// with a warning rather than blocking the read loop. Agent frames do not go
// through here: stream sends them with a blocking write to preserve order.
func (d *daemon) emit(env connmgr.Envelope) {
	select {
	case d.out <- env:
	default:
		logx.Log.Warn().Str("type", string(env.Type)).Msg("outbound queue full; dropping")
	}
}

// handle dispatches one inbound protocol message.
func (d *daemon) handle(ctx context.Context, env connmgr.Envelope) {
	switch env.Type {
	case connmgr.MsgPing:
		d.emit(connmgr.Envelope{Type: connmgr.MsgPong, TS: time.Now().UnixMilli()})
	case connmgr.MsgActivateAgent:
		id, err := agent.ParseID(env.AgentID)
		if err != nil {
			logx.Log.Warn().Str("agent", env.AgentID).Err(err).Msg("activate for invalid agent id")
			return
		}
		var opts runtime.ActivateOptions
		if env.Options != nil {
			opts = *env.Options
		}
		if err := d.activate(ctx, id, opts); err != nil {
			logx.Log.Error().Str("agent", env.AgentID).Err(err).Msg("activate failed")
			return
		}
		// First checkin confirms the activation.
		d.checkin(id)
	case connmgr.MsgDeliverMessage:
		id, err := agent.ParseID(env.AgentID)
		if err != nil {
			logx.Log.Warn().Str("agent", env.AgentID).Err(err).Msg("delivery for invalid agent id")
			return
		}
		if err := d.deliver(id, env.Message); err != nil {
			logx.Log.Warn().Str("agent", env.AgentID).Err(err).Msg("delivery failed")
		}
	case connmgr.MsgSuspendAgent:
		id, err := agent.ParseID(env.AgentID)
		if err != nil {
			return
		}
		d.suspend(id)
	default:
		logx.Log.Warn().Str("type", string(env.Type)).Msg("unknown server message type")
	}
}

func (d *daemon) checkin(id agent.ID) {
	d.emit(connmgr.Envelope{
		Type:    connmgr.MsgAgentCheckin,
		AgentID: id.String(),
		TS:      time.Now().UnixMilli(),
		Stats:   hostStats(),
	})
}

// checkinLoop reports liveness for every hosted agent on an interval.
func (d *daemon) checkinLoop(ctx context.Context) {
	interval := d.cfg.CheckinInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.mu.Lock()
			ids := make([]agent.ID, 0, len(d.agents))
			for id := range d.agents {
				ids = append(ids, id)
			}
			d.mu.Unlock()
			for _, id := range ids {
				d.checkin(id)
			}
		}
	}
}

func (d *daemon) stopAll() {
	d.mu.Lock()
	procs := make([]*agentProc, 0, len(d.agents))
	for _, p := range d.agents {
		procs = append(procs, p)
	}
	d.agents = make(map[agent.ID]*agentProc)
	d.mu.Unlock()
	for _, p := range procs {
		p.stop()
	}
}

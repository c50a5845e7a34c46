package runtimed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/tymbalhq/tymbal/internal/agent"
	"github.com/tymbalhq/tymbal/internal/connmgr"
	"github.com/tymbalhq/tymbal/internal/logx"
	"github.com/tymbalhq/tymbal/internal/runtime"
	"github.com/tymbalhq/tymbal/internal/tymbal"
)

type agentProc struct {
	id     agent.ID
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc
	seq    atomic.Uint64
}

func (p *agentProc) stop() {
	p.cancel()
	_ = p.stdin.Close()
}

// activate spawns the agent process and begins relaying its stdout frames.
// Activating an agent that is already running is a no-op.
func (d *daemon) activate(ctx context.Context, id agent.ID, opts runtime.ActivateOptions) error {
	d.mu.Lock()
	if _, ok := d.agents[id]; ok {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	command := opts.Command
	if len(command) == 0 {
		command = d.cfg.AgentCommand
	}
	if len(command) == 0 {
		return fmt.Errorf("no agent command configured for %s", id)
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, command[0], command[1:]...)
	cmd.Env = append(cmd.Environ(),
		"TYMBAL_CHANNEL="+id.Channel,
		"TYMBAL_AGENT_ID="+id.String(),
	)
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if opts.Credentials != nil {
		cmd.Env = append(cmd.Env, "TYMBAL_CONTAINER_TOKEN="+opts.Credentials.AccessToken)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return err
	}

	p := &agentProc{id: id, cmd: cmd, stdin: stdin, cancel: cancel}
	d.mu.Lock()
	d.agents[id] = p
	d.mu.Unlock()
	logx.Log.Info().Str("agent", id.String()).Int("pid", cmd.Process.Pid).Msg("agent started")

	go d.stream(procCtx, p, stdout)
	return nil
}

// stream relays the agent's stdout frames, stamping each with the agent's
// next sequence number. Malformed lines are logged and skipped. Frames are
// ordered, so a full outbound queue blocks the relay until the writer drains
// rather than losing frames mid-stream.
func (d *daemon) stream(ctx context.Context, p *agentProc, stdout io.Reader) {
	dec := tymbal.NewDecoder(stdout)
	for {
		f, err := dec.Decode()
		if err != nil {
			if pe, ok := err.(*tymbal.ParseError); ok {
				logx.Log.Warn().Str("agent", p.id.String()).Err(pe).Msg("dropping malformed frame line")
				continue
			}
			break
		}
		if f.Seq == 0 {
			f.Seq = p.seq.Add(1)
		}
		frame := f
		select {
		case d.out <- connmgr.Envelope{
			Type:    connmgr.MsgAgentFrame,
			AgentID: p.id.String(),
			TS:      time.Now().UnixMilli(),
			Frame:   &frame,
		}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}

	err := p.cmd.Wait()
	d.mu.Lock()
	_, hosted := d.agents[p.id]
	delete(d.agents, p.id)
	d.mu.Unlock()
	if hosted {
		logx.Log.Warn().Str("agent", p.id.String()).Err(err).Msg("agent exited")
	}
}

// deliver writes one message line to the agent's stdin.
func (d *daemon) deliver(id agent.ID, payload json.RawMessage) error {
	d.mu.Lock()
	p, ok := d.agents[id]
	d.mu.Unlock()
	if !ok {
		return runtime.ErrNotActive
	}
	_, err := p.stdin.Write(append(payload, '\n'))
	return err
}

// suspend stops the agent's process. Suspending an agent that is not running
// is a no-op.
func (d *daemon) suspend(id agent.ID) {
	d.mu.Lock()
	p, ok := d.agents[id]
	if ok {
		delete(d.agents, id)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	p.stop()
	logx.Log.Info().Str("agent", id.String()).Msg("agent suspended")
}

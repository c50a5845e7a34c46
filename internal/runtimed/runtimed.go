// Package runtimed implements the user-machine runtime daemon. It connects
// out to the tymbald service, announces readiness, answers keepalive pings,
// reports agent checkins with host stats, and hosts agent processes whose
// NDJSON stdout is relayed as agent_frame messages.
package runtimed

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/tymbalhq/tymbal/internal/config"
	"github.com/tymbalhq/tymbal/internal/connmgr"
	"github.com/tymbalhq/tymbal/internal/logx"
)

// Run starts the runtime daemon and blocks until ctx is cancelled or, with
// reconnection disabled, until the connection drops.
func Run(ctx context.Context, cfg config.RuntimeConfig) error {
	attempt := 0
	for {
		connected, err := connectAndServe(ctx, cfg)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !cfg.Reconnect {
			return err
		}
		if connected {
			attempt = 0
		}
		delay := reconnectDelay(attempt)
		attempt++
		logx.Log.Warn().Dur("backoff", delay).Err(err).Msg("connection to server lost; retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func reconnectDelay(attempt int) time.Duration {
	d := time.Second << attempt
	if d > 30*time.Second || d <= 0 {
		d = 30 * time.Second
	}
	return d
}

func connectAndServe(ctx context.Context, cfg config.RuntimeConfig) (bool, error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hdr := http.Header{}
	hdr.Set("X-Tymbal-Channel", cfg.Channel)
	if cfg.RuntimeKey != "" {
		hdr.Set("Authorization", "Bearer "+cfg.RuntimeKey)
	}
	conn, _, err := websocket.Dial(connCtx, cfg.ServerURL, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return false, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")
	logx.Log.Info().Str("channel", cfg.Channel).Str("server", cfg.ServerURL).Msg("connected")

	d := newDaemon(cfg)
	defer d.stopAll()

	// Writer: everything the daemon emits goes out through one goroutine.
	go func() {
		for {
			select {
			case <-connCtx.Done():
				return
			case env := <-d.out:
				b, err := json.Marshal(env)
				if err != nil {
					logx.Log.Error().Err(err).Msg("marshal outbound")
					continue
				}
				if err := conn.Write(connCtx, websocket.MessageText, b); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	go d.checkinLoop(connCtx)

	d.emit(connmgr.Envelope{Type: connmgr.MsgRuntimeReady, TS: time.Now().UnixMilli()})

	for {
		_, data, err := conn.Read(connCtx)
		if err != nil {
			return true, err
		}
		var env connmgr.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logx.Log.Warn().Err(err).Msg("unparseable server message")
			continue
		}
		d.handle(connCtx, env)
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tymbalhq/tymbal/internal/agent"
	"github.com/tymbalhq/tymbal/internal/config"
	"github.com/tymbalhq/tymbal/internal/connmgr"
	"github.com/tymbalhq/tymbal/internal/logx"
	"github.com/tymbalhq/tymbal/internal/metrics"
	"github.com/tymbalhq/tymbal/internal/runtime"
	"github.com/tymbalhq/tymbal/internal/server"
	"github.com/tymbalhq/tymbal/internal/store"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	var cfg config.ServerConfig
	cfg.BindFlags()
	flag.Parse()
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil {
			logx.Log.Fatal().Str("path", cfg.ConfigFile).Err(err).Msg("load config")
		}
	}
	logx.Configure(cfg.LogLevel)

	var fin store.Finalizer
	if cfg.RedisURL != "" {
		rf, err := store.NewRedisFinalizer(cfg.RedisURL)
		if err != nil {
			logx.Log.Fatal().Err(err).Msg("connect redis")
		}
		fin = rf
		logx.Log.Info().Msg("finalized state handoff to redis enabled")
	}
	states := store.NewStates(fin)

	mgr := connmgr.NewManager(connmgr.Config{
		Key:               cfg.RuntimeKey,
		KeepaliveInterval: cfg.Keepalive,
		MaxMissedPongs:    cfg.MaxMissed,
		SendQueue:         cfg.SendQueue,
		PendingQueue:      cfg.PendQueue,
	}, states)

	var backend runtime.Backend
	switch cfg.Backend {
	case "docker":
		b, err := runtime.NewDockerBackend(runtime.DockerConfig{Image: cfg.AgentImage, APIURL: cfg.APIURL})
		if err != nil {
			logx.Log.Fatal().Err(err).Msg("docker backend")
		}
		backend = b
	case "fleet":
		backend = runtime.NewFleetBackend(runtime.FleetConfig{BaseURL: cfg.FleetURL, Token: cfg.FleetToken, Image: cfg.AgentImage})
	case "remote":
		backend = connmgr.NewRemoteBackend(mgr)
	default:
		logx.Log.Fatal().Str("backend", cfg.Backend).Msg("unknown backend")
	}
	go foldEvents(states, backend)

	metrics.Register(prometheus.DefaultRegisterer)
	metrics.SetBuildInfo(version, buildSHA, buildDate)

	handler := server.New(mgr, states, cfg)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	if cfg.RuntimeKey != "" {
		logx.Log.Info().Msg("runtime key required")
	}
	logx.Log.Info().Int("port", cfg.Port).Str("backend", cfg.Backend).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
}

// foldEvents applies backend events to the state store. The remote backend's
// events are already folded by the connection manager; they are drained here
// so emission never backs up into a session's read loop.
func foldEvents(states *store.States, backend runtime.Backend) {
	if _, ok := backend.(*connmgr.RemoteBackend); ok {
		for range backend.Events() {
		}
		return
	}
	for ev := range backend.Events() {
		switch ev.Kind {
		case runtime.EventCheckin:
			states.Checkin(ev.Agent, time.Now())
		case runtime.EventFrame:
			states.Frame(ev.Agent, ev.Frame.Seq)
		case runtime.EventStatus:
			if ev.Container != nil {
				states.Container(ev.Agent, *ev.Container)
			}
		case runtime.EventError:
			kind := agent.ErrKindInternal
			retryable := false
			var de *runtime.DisconnectedError
			if errors.As(ev.Err, &de) {
				kind = agent.ErrKindDisconnect
				retryable = true
			}
			states.Error(ev.Agent, agent.Error{Kind: kind, Message: ev.Err.Error(), Retryable: retryable})
		}
	}
}

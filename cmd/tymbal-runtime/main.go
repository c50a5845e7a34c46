package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/tymbalhq/tymbal/internal/config"
	"github.com/tymbalhq/tymbal/internal/logx"
	"github.com/tymbalhq/tymbal/internal/runtimed"
)

func main() {
	var cfg config.RuntimeConfig
	cfg.BindFlags()
	flag.Parse()
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil {
			logx.Log.Fatal().Str("path", cfg.ConfigFile).Err(err).Msg("load config")
		}
	}
	logx.Configure(cfg.LogLevel)
	if len(cfg.AgentCommand) == 0 {
		logx.Log.Fatal().Msg("agent_command must be configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runtimed.Run(ctx, cfg); err != nil && ctx.Err() == nil {
		logx.Log.Fatal().Err(err).Msg("runtime error")
	}
	logx.Log.Info().Msg("runtime stopped")
}

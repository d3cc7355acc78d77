// Package main is the entry point for the VKYC bulk request API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dharsanguruparan/VKYCVault/internal/config"
	"github.com/dharsanguruparan/VKYCVault/internal/logger"
	"github.com/dharsanguruparan/VKYCVault/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logger.Get()
		l.Fatal().Err(err).Msg("load config")
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := server.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init server")
	}
	defer app.Close()

	if err := app.Serve(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped")
		app.Close()
		os.Exit(1)
	}
}

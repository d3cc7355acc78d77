package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/VKYCVault/internal/config"
	"github.com/dharsanguruparan/VKYCVault/internal/logger"
	"github.com/dharsanguruparan/VKYCVault/internal/queue"
	"github.com/dharsanguruparan/VKYCVault/internal/server"
	"github.com/dharsanguruparan/VKYCVault/internal/worker"
)

// purgeSpec is how often expired archives are swept.
const purgeSpec = "@every 1h"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		l := logger.Get()
		l.Fatal().Err(err).Msg("load config")
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Component("worker-main")
	if cfg.QueueMode != config.QueueAsynq {
		log.Fatal().Str("queue_mode", cfg.QueueMode).Msg("the worker only runs with VKYC_QUEUE_MODE=asynq")
	}

	app, err := server.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init dependencies")
	}
	defer app.Close()

	redisOpt := server.RedisOpt(cfg)
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.ProcessingPool,
	})
	scheduler := asynq.NewScheduler(redisOpt, nil)
	if _, err := scheduler.Register(purgeSpec, queue.NewPurgeTask()); err != nil {
		log.Fatal().Err(err).Msg("register purge task")
	}
	if err := scheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("start scheduler")
	}
	defer scheduler.Shutdown()

	processor := worker.NewProcessor(app.Coordinator, app.Assembler, cfg.ArtifactRetention)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()

	log.Info().Int("concurrency", cfg.ProcessingPool).Msg("worker started")
	if err := srv.Run(mux); err != nil {
		log.Error().Err(err).Msg("worker stopped")
		os.Exit(1)
	}
}

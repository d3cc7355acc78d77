// Package server builds every runtime dependency from configuration and runs
// the HTTP API with graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/VKYCVault/internal/api"
	"github.com/dharsanguruparan/VKYCVault/internal/archive"
	"github.com/dharsanguruparan/VKYCVault/internal/bulk"
	"github.com/dharsanguruparan/VKYCVault/internal/cache"
	"github.com/dharsanguruparan/VKYCVault/internal/config"
	"github.com/dharsanguruparan/VKYCVault/internal/database"
	"github.com/dharsanguruparan/VKYCVault/internal/logger"
	"github.com/dharsanguruparan/VKYCVault/internal/processing"
	"github.com/dharsanguruparan/VKYCVault/internal/queue"
	"github.com/dharsanguruparan/VKYCVault/internal/repository"
	"github.com/dharsanguruparan/VKYCVault/internal/s3storage"
	"github.com/dharsanguruparan/VKYCVault/internal/signing"
	"github.com/dharsanguruparan/VKYCVault/internal/storage"
)

// App is the fully wired service.
type App struct {
	Coordinator *bulk.Coordinator
	Assembler   *archive.Assembler

	cfg     *config.Config
	local   *processing.Dispatcher
	handler http.Handler
	closers []func()
	once    sync.Once
	log     zerolog.Logger
}

// RedisOpt is the asynq connection shared by the API and the worker.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

// Build connects to the result store, the recording storage and the status
// cache, and wires the coordinator. The caller must Close the App.
func Build(ctx context.Context, cfg *config.Config) (app *App, err error) {
	app = &App{cfg: cfg, log: logger.Component("server")}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	store, err := app.buildStore(ctx)
	if err != nil {
		return nil, err
	}
	recordings, err := buildAccessor(ctx, cfg)
	if err != nil {
		return nil, err
	}
	var asmOpts []archive.Option
	if cfg.ArtifactBackend == config.StorageS3 {
		artifacts, err := s3storage.NewArtifactStore(cfg)
		if err != nil {
			return nil, err
		}
		if err := artifacts.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		asmOpts = append(asmOpts, archive.WithSink(artifacts))
	}
	asm, err := archive.NewAssembler(recordings, cfg.ArtifactDir, cfg.AssemblyTimeout, asmOpts...)
	if err != nil {
		return nil, err
	}

	var dispatcher bulk.Dispatcher
	switch cfg.QueueMode {
	case config.QueueAsynq:
		client := asynq.NewClient(RedisOpt(cfg))
		app.closers = append(app.closers, func() { _ = client.Close() })
		dispatcher = queue.NewDispatcher(client)
	default:
		app.local = processing.NewDispatcher(cfg.ProcessingPool)
		dispatcher = app.local
	}

	app.Assembler = asm
	app.Coordinator = bulk.NewCoordinator(store, processing.NewResolver(recordings, cfg.ItemTimeout), asm,
		app.buildCache(), dispatcher, bulk.Options{MaxBatchSize: cfg.MaxBatchSize, ItemWorkers: cfg.ItemWorkers})
	app.handler = api.New(app.Coordinator, signing.NewSigner(cfg.SigningSecret), cfg.SignedURLTTL).Routes()
	app.log.Info().
		Str("result_store", cfg.ResultStore).
		Str("storage", cfg.StorageBackend).
		Str("artifacts", cfg.ArtifactBackend).
		Str("queue", cfg.QueueMode).
		Str("status_cache", cfg.StatusCache).
		Msg("dependencies ready")
	return app, nil
}

func (a *App) buildStore(ctx context.Context) (repository.Store, error) {
	if a.cfg.ResultStore == config.StoreMemory {
		return repository.NewMemoryStore(), nil
	}
	if err := database.Migrate(a.cfg.DatabaseURL); err != nil {
		return nil, err
	}
	pool, err := database.Connect(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pool.Close)
	return repository.NewPostgresStore(pool), nil
}

func buildAccessor(ctx context.Context, cfg *config.Config) (storage.Accessor, error) {
	if cfg.StorageBackend == config.StorageS3 {
		s3, err := s3storage.New(cfg)
		if err != nil {
			return nil, err
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s3, nil
	}
	fs, err := storage.NewFSAccessor(cfg.StorageRoot, cfg.ObjectExt)
	if err != nil {
		return nil, err
	}
	return fs, nil
}

func (a *App) buildCache() bulk.StatusCache {
	switch a.cfg.StatusCache {
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr, Password: a.cfg.RedisPassword, DB: a.cfg.RedisDB})
		a.closers = append(a.closers, func() { _ = client.Close() })
		return cache.NewRedis(client, a.cfg.StatusCacheTTL)
	case config.CacheNone:
		return cache.Nop{}
	default:
		return cache.NewLRU(a.cfg.StatusCacheSize, a.cfg.StatusCacheTTL)
	}
}

// Handler returns the HTTP routes.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Start runs the background side of local queue mode: the in-process
// dispatcher and the artifact purge loop. With asynq both live in the worker
// binary and Start does nothing.
func (a *App) Start(ctx context.Context) {
	a.once.Do(func() {
		if a.local != nil {
			a.local.Start(ctx, a.Coordinator.Process)
			go a.purgeLoop(ctx)
		}
	})
}

// Serve launches the HTTP server until the context is cancelled.
func (a *App) Serve(ctx context.Context) error {
	a.Start(ctx)
	httpServer := &http.Server{
		Addr:              a.cfg.Address,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	a.log.Info().Str("address", a.cfg.Address).Msg("api listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

func (a *App) purgeLoop(ctx context.Context) {
	interval := a.cfg.ArtifactRetention / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Assembler.Purge(ctx, a.cfg.ArtifactRetention); err != nil {
				a.log.Warn().Err(err).Msg("artifact purge failed")
			}
		}
	}
}

// Close drains the local dispatcher and releases connections.
func (a *App) Close() {
	if a.local != nil {
		a.local.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

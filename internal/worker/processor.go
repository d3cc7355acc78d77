// Package worker runs queued bulk requests and artifact housekeeping inside
// an asynq server.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/VKYCVault/internal/logger"
	"github.com/dharsanguruparan/VKYCVault/internal/model"
	"github.com/dharsanguruparan/VKYCVault/internal/queue"
)

// RequestRunner runs one bulk request to completion.
type RequestRunner interface {
	Process(ctx context.Context, requestID string) error
}

// Purger removes archives older than a retention window.
type Purger interface {
	Purge(ctx context.Context, olderThan time.Duration) (int, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	runner    RequestRunner
	purger    Purger
	retention time.Duration
	log       zerolog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(runner RequestRunner, purger Purger, retention time.Duration) *Processor {
	return &Processor{runner: runner, purger: purger, retention: retention, log: logger.Component("worker")}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ProcessRequestTask, p.handleProcess)
	mux.HandleFunc(queue.PurgeArtifactsTask, p.handlePurge)
	return mux
}

func (p *Processor) handleProcess(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodeProcess(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := p.runner.Process(ctx, payload.RequestID); err != nil {
		var asmErr *model.AssemblyError
		if errors.As(err, &asmErr) {
			// Already finalized as FAILED; a retry would be a no-op.
			p.log.Warn().Err(err).Str("request_id", payload.RequestID).Msg("request failed during assembly")
			return nil
		}
		if errors.Is(err, model.ErrNotFound) {
			p.log.Warn().Str("request_id", payload.RequestID).Msg("dropping task for unknown request")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		p.log.Error().Err(err).Str("request_id", payload.RequestID).Msg("process failed")
		return err
	}
	return nil
}

func (p *Processor) handlePurge(ctx context.Context, _ *asynq.Task) error {
	removed, err := p.purger.Purge(ctx, p.retention)
	if err != nil {
		return fmt.Errorf("purge artifacts: %w", err)
	}
	p.log.Debug().Int("removed", removed).Msg("purge finished")
	return nil
}

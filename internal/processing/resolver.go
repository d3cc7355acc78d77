package processing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/VKYCVault/internal/logger"
	"github.com/dharsanguruparan/VKYCVault/internal/metrics"
	"github.com/dharsanguruparan/VKYCVault/internal/model"
	"github.com/dharsanguruparan/VKYCVault/internal/storage"
)

// Resolver checks one identifier against storage. It never returns an
// error: every failure becomes a NOT_FOUND or ERROR result so one bad item
// cannot abort its batch.
type Resolver struct {
	store   storage.Accessor
	timeout time.Duration
	log     zerolog.Logger
}

// NewResolver builds a Resolver that gives each identifier at most timeout.
func NewResolver(store storage.Accessor, timeout time.Duration) *Resolver {
	return &Resolver{store: store, timeout: timeout, log: logger.Component("resolver")}
}

// Resolve runs the storage calls in their own goroutine so an accessor that
// ignores ctx still cannot hold the item past its deadline.
func (r *Resolver) Resolve(ctx context.Context, identifier string) model.ItemResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan model.ItemResult, 1)
	go func() {
		done <- r.resolve(ctx, identifier)
	}()

	var res model.ItemResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = model.Errored(identifier, r.describe(ctx, ctx.Err()))
	}
	metrics.ResolveDuration.Observe(time.Since(start).Seconds())
	metrics.ItemsResolved.WithLabelValues(string(res.Outcome)).Inc()
	r.log.Debug().Str("identifier", identifier).Str("outcome", string(res.Outcome)).Dur("took", time.Since(start)).Msg("identifier resolved")
	return res
}

func (r *Resolver) resolve(ctx context.Context, identifier string) (res model.ItemResult) {
	defer func() {
		if p := recover(); p != nil {
			res = model.Errored(identifier, fmt.Sprintf("storage accessor panicked: %v", p))
		}
	}()
	exists, err := r.store.Exists(ctx, identifier)
	if err != nil {
		return model.Errored(identifier, r.describe(ctx, err))
	}
	if !exists {
		return model.Missing(identifier, fmt.Sprintf("recording %s not found in storage", identifier))
	}
	info, err := r.store.Metadata(ctx, identifier)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Missing(identifier, fmt.Sprintf("recording %s disappeared before metadata could be read", identifier))
	}
	if err != nil {
		return model.Errored(identifier, r.describe(ctx, err))
	}
	return model.Succeeded(identifier, info.Name, info.Size, info.LastModified)
}

func (r *Resolver) describe(ctx context.Context, err error) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("timed out after %s", r.timeout)
	}
	return err.Error()
}

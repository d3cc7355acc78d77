// Package bulk owns the lifecycle of bulk recording requests: validation,
// persistence, concurrent resolution, aggregation and archive assembly.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/VKYCVault/internal/archive"
	"github.com/dharsanguruparan/VKYCVault/internal/cache"
	"github.com/dharsanguruparan/VKYCVault/internal/logger"
	"github.com/dharsanguruparan/VKYCVault/internal/metrics"
	"github.com/dharsanguruparan/VKYCVault/internal/model"
	"github.com/dharsanguruparan/VKYCVault/internal/repository"
)

// Resolver turns one identifier into an item result. Implementations must
// not fail; storage problems are expressed as NOT_FOUND or ERROR results.
type Resolver interface {
	Resolve(ctx context.Context, identifier string) model.ItemResult
}

// Assembler builds and serves download archives.
type Assembler interface {
	Assemble(ctx context.Context, requestID string, items []model.ItemResult) (string, error)
	Open(ctx context.Context, location string) (io.ReadCloser, error)
	Remove(ctx context.Context, location string) error
}

// StatusCache is consulted before the store on status lookups.
type StatusCache interface {
	Get(ctx context.Context, requestID string) (*model.Snapshot, bool)
	Put(ctx context.Context, requestID string, snap *model.Snapshot)
	Delete(ctx context.Context, requestID string)
}

// Dispatcher hands a request id to asynchronous processing.
type Dispatcher interface {
	Dispatch(ctx context.Context, requestID string) error
}

// Options tunes the coordinator.
type Options struct {
	MaxBatchSize int
	ItemWorkers  int
}

// Coordinator runs bulk requests end to end.
type Coordinator struct {
	store      repository.Store
	resolver   Resolver
	assembler  Assembler
	cache      StatusCache
	dispatcher Dispatcher
	opts       Options
	now        func() time.Time
	log        zerolog.Logger
}

// NewCoordinator wires a coordinator. cache may be nil to disable caching.
// dispatcher may be nil, in which case Submit only persists and the caller
// is responsible for calling Process.
func NewCoordinator(store repository.Store, resolver Resolver, assembler Assembler, statusCache StatusCache, dispatcher Dispatcher, opts Options) *Coordinator {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 10
	}
	if opts.ItemWorkers <= 0 {
		opts.ItemWorkers = 5
	}
	if statusCache == nil {
		statusCache = cache.Nop{}
	}
	return &Coordinator{
		store:      store,
		resolver:   resolver,
		assembler:  assembler,
		cache:      statusCache,
		dispatcher: dispatcher,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
		log:        logger.Component("coordinator"),
	}
}

// Submit validates and persists a request, hands it to the dispatcher and
// returns its id without waiting for processing. If persistence succeeded but
// dispatch failed, the id is returned together with the error; the request
// stays PENDING and may be dispatched again.
func (c *Coordinator) Submit(ctx context.Context, in SubmitRequest) (string, error) {
	if in.Kind == "" {
		in.Kind = model.KindValidate
	}
	if err := validate(in, c.opts.MaxBatchSize); err != nil {
		metrics.RequestsRejected.Inc()
		return "", err
	}
	req := &model.BulkRequest{
		ID:          uuid.NewString(),
		Kind:        in.Kind,
		RequestedBy: in.RequestedBy,
		Identifiers: append([]string(nil), in.Identifiers...),
		RequestedAt: c.now(),
	}
	id, err := c.store.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("persist request: %w", err)
	}
	metrics.RequestsSubmitted.WithLabelValues(string(req.Kind)).Inc()
	c.log.Info().Str("request_id", id).Str("kind", string(req.Kind)).Str("requested_by", req.RequestedBy).
		Int("identifiers", len(req.Identifiers)).Msg("request submitted")

	if c.dispatcher != nil {
		if err := c.dispatcher.Dispatch(ctx, id); err != nil {
			return id, fmt.Errorf("dispatch request %s: %w", id, err)
		}
	}
	return id, nil
}

// Redispatch hands a PENDING request to the dispatcher again, for requests
// whose dispatch failed at submission or that were still queued when a
// local dispatcher stopped. Requests past PENDING yield model.ErrConflict.
func (c *Coordinator) Redispatch(ctx context.Context, requestID string) error {
	if c.dispatcher == nil {
		return errors.New("no dispatcher configured")
	}
	req, _, err := c.store.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != model.StatusPending {
		return fmt.Errorf("request %s is %s: %w", requestID, req.Status, model.ErrConflict)
	}
	if err := c.dispatcher.Dispatch(ctx, requestID); err != nil {
		return fmt.Errorf("dispatch request %s: %w", requestID, err)
	}
	c.log.Info().Str("request_id", requestID).Msg("request re-dispatched")
	return nil
}

// Process runs one request to a terminal status. Calling it for a request
// that is already PROCESSING or terminal is a no-op. A *model.AssemblyError
// is returned after the request was finalized as FAILED; any other error
// means the store failed or ctx ended, and the request is left in its last
// persisted status. Cancellation is never recorded as an item outcome.
func (c *Coordinator) Process(ctx context.Context, requestID string) error {
	log := c.log.With().Str("request_id", requestID).Logger()
	started, err := c.store.MarkProcessing(ctx, requestID)
	if err != nil {
		return fmt.Errorf("start request %s: %w", requestID, err)
	}
	if !started {
		log.Debug().Msg("request already started, skipping")
		return nil
	}
	c.cache.Delete(ctx, requestID)

	req, _, err := c.store.Get(ctx, requestID)
	if err != nil {
		return fmt.Errorf("load request %s: %w", requestID, err)
	}
	results, err := c.resolveAll(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return c.abandon(ctx, log, requestID, ctxErr)
		}
		return err
	}

	fin := repository.Finalization{Status: Aggregate(results)}
	var assemblyErr error
	if req.Kind.RequiresArtifact() && fin.Status != model.StatusFailed {
		loc, err := c.assembler.Assemble(ctx, requestID, successes(results))
		if err != nil && ctx.Err() != nil {
			return c.abandon(ctx, log, requestID, ctx.Err())
		}
		if err != nil {
			reason := fmt.Sprintf("artifact assembly failed: %v", err)
			log.Warn().Err(err).Msg("assembly failed, failing request")
			fin.Status = model.StatusFailed
			fin.FailureReason = &reason
			assemblyErr = &model.AssemblyError{RequestID: requestID, Err: err}
		} else {
			fin.ArtifactLocation = &loc
		}
	}
	fin.CompletedAt = c.now()

	if err := c.store.Finalize(ctx, requestID, fin); err != nil {
		if fin.ArtifactLocation != nil {
			if rmErr := c.assembler.Remove(context.WithoutCancel(ctx), *fin.ArtifactLocation); rmErr != nil {
				log.Warn().Err(rmErr).Msg("remove unrecorded artifact")
			}
		}
		return fmt.Errorf("finalize request %s: %w", requestID, err)
	}
	c.cache.Delete(ctx, requestID)
	metrics.RequestsFinalized.WithLabelValues(string(fin.Status)).Inc()
	log.Info().Str("status", string(fin.Status)).Bool("artifact", fin.ArtifactLocation != nil).Msg("request finalized")
	return assemblyErr
}

func (c *Coordinator) abandon(ctx context.Context, log zerolog.Logger, requestID string, cause error) error {
	log.Warn().Err(cause).Msg("processing interrupted, request left PROCESSING")
	c.cache.Delete(context.WithoutCancel(ctx), requestID)
	return fmt.Errorf("process request %s: %w", requestID, cause)
}

// resolveAll resolves every identifier with at most ItemWorkers in flight and
// records each result as soon as it is known. It returns only after every
// worker has finished.
func (c *Coordinator) resolveAll(ctx context.Context, req *model.BulkRequest) ([]model.ItemResult, error) {
	results := make([]model.ItemResult, len(req.Identifiers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.ItemWorkers)
	for i, identifier := range req.Identifiers {
		i, identifier := i, identifier
		g.Go(func() error {
			res := c.resolver.Resolve(gctx, identifier)
			if err := gctx.Err(); err != nil {
				// The outcome may only reflect the cancellation; keep it out
				// of the store.
				return err
			}
			res.RequestID = req.ID
			res.Identifier = identifier
			if err := c.store.UpsertItemResult(gctx, req.ID, res); err != nil {
				return fmt.Errorf("record item %s of request %s: %w", identifier, req.ID, err)
			}
			c.cache.Delete(gctx, req.ID)
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func successes(items []model.ItemResult) []model.ItemResult {
	out := make([]model.ItemResult, 0, len(items))
	for _, item := range items {
		if item.Outcome == model.OutcomeSuccess {
			out = append(out, item)
		}
	}
	return out
}

// GetStatus returns the current snapshot, from cache when possible. Only
// terminal snapshots are cached: an in-flight snapshot read here could be
// stored after Process invalidated the key and would then hide the final
// status until it expired.
func (c *Coordinator) GetStatus(ctx context.Context, requestID string) (*model.Snapshot, error) {
	if snap, ok := c.cache.Get(ctx, requestID); ok {
		return snap, nil
	}
	req, items, err := c.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	snap := model.NewSnapshot(*req, items)
	if req.Status.Terminal() {
		c.cache.Put(ctx, requestID, snap)
	}
	return snap, nil
}

// GetArtifact opens the archive of a finished download request. It always
// reads the store, never the cache, because snapshots do not carry the
// artifact location.
func (c *Coordinator) GetArtifact(ctx context.Context, requestID string) (io.ReadCloser, string, error) {
	req, _, err := c.store.Get(ctx, requestID)
	if err != nil {
		return nil, "", err
	}
	if !req.Status.Terminal() {
		return nil, "", fmt.Errorf("request %s is %s: %w", requestID, req.Status, model.ErrNotReady)
	}
	if !req.HasArtifact() {
		return nil, "", fmt.Errorf("request %s finished %s without an artifact: %w", requestID, req.Status, model.ErrNotReady)
	}
	rc, err := c.assembler.Open(ctx, *req.ArtifactLocation)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("artifact for request %s: %w", requestID, model.ErrArtifactExpired)
		}
		return nil, "", fmt.Errorf("open artifact for request %s: %w", requestID, err)
	}
	return rc, archive.Filename(requestID), nil
}

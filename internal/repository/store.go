package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/dharsanguruparan/VKYCVault/internal/model"
)

// Store is the durable record of bulk requests and their item results.
// Every method is scoped to one request id.
type Store interface {
	// Create inserts a PENDING request and returns its id.
	Create(ctx context.Context, req *model.BulkRequest) (string, error)
	// MarkProcessing moves a PENDING request to PROCESSING. It reports false
	// without error when the request is already past PENDING.
	MarkProcessing(ctx context.Context, requestID string) (bool, error)
	// UpsertItemResult writes the result row for one identifier.
	UpsertItemResult(ctx context.Context, requestID string, item model.ItemResult) error
	// Finalize moves a PROCESSING request to a terminal status in one update.
	Finalize(ctx context.Context, requestID string, fin Finalization) error
	// Get returns the request and the item rows written so far.
	Get(ctx context.Context, requestID string) (*model.BulkRequest, []model.ItemResult, error)
}

// Finalization carries the fields written when a request terminates.
type Finalization struct {
	Status           model.Status
	CompletedAt      time.Time
	ArtifactLocation *string
	FailureReason    *string
}

func checkCreate(req *model.BulkRequest) error {
	if req.ID == "" {
		return fmt.Errorf("create request: empty id: %w", model.ErrConflict)
	}
	if len(req.Identifiers) == 0 {
		return fmt.Errorf("create request %s: no identifiers: %w", req.ID, model.ErrConflict)
	}
	seen := make(map[string]struct{}, len(req.Identifiers))
	for _, id := range req.Identifiers {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("create request %s: duplicate identifier %q: %w", req.ID, id, model.ErrConflict)
		}
		seen[id] = struct{}{}
	}
	if !req.Kind.IsValid() {
		return fmt.Errorf("create request %s: unknown kind %q: %w", req.ID, req.Kind, model.ErrConflict)
	}
	return nil
}

func checkItem(req *model.BulkRequest, item model.ItemResult) error {
	if req.Status != model.StatusProcessing {
		return fmt.Errorf("upsert item %s: request %s is %s: %w", item.Identifier, req.ID, req.Status, model.ErrConflict)
	}
	if !contains(req.Identifiers, item.Identifier) {
		return fmt.Errorf("upsert item %s: not part of request %s: %w", item.Identifier, req.ID, model.ErrConflict)
	}
	if err := item.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, model.ErrConflict)
	}
	return nil
}

func checkFinalize(req *model.BulkRequest, fin Finalization, items int) error {
	if !fin.Status.Terminal() {
		return fmt.Errorf("finalize %s: %s is not terminal: %w", req.ID, fin.Status, model.ErrConflict)
	}
	if req.Status != model.StatusProcessing {
		return fmt.Errorf("finalize %s: request is %s: %w", req.ID, req.Status, model.ErrConflict)
	}
	if items != len(req.Identifiers) {
		return fmt.Errorf("finalize %s: %d of %d items resolved: %w", req.ID, items, len(req.Identifiers), model.ErrConflict)
	}
	if fin.ArtifactLocation != nil && fin.Status == model.StatusFailed {
		return fmt.Errorf("finalize %s: failed request with artifact: %w", req.ID, model.ErrConflict)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

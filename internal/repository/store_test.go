package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/VKYCVault/internal/model"
)

func newRequest(ids ...string) *model.BulkRequest {
	return &model.BulkRequest{
		ID:          uuid.NewString(),
		Kind:        model.KindDownload,
		RequestedBy: "auditor@bank",
		Identifiers: ids,
	}
}

// testStore runs the behaviour every Store implementation must share.
func testStore(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		req := newRequest("A", "B")
		id, err := store.Create(ctx, req)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		got, items, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != model.StatusPending {
			t.Fatalf("status = %s, want PENDING", got.Status)
		}
		if len(got.Identifiers) != 2 || got.Identifiers[0] != "A" || got.Identifiers[1] != "B" {
			t.Fatalf("identifiers = %v", got.Identifiers)
		}
		if got.RequestedBy != "auditor@bank" || got.Kind != model.KindDownload {
			t.Fatalf("unexpected request %+v", got)
		}
		if len(items) != 0 {
			t.Fatalf("expected no items, got %d", len(items))
		}
	})

	t.Run("create rejects bad input", func(t *testing.T) {
		if _, err := store.Create(ctx, newRequest()); !errors.Is(err, model.ErrConflict) {
			t.Fatalf("empty identifiers err = %v", err)
		}
		if _, err := store.Create(ctx, newRequest("A", "A")); !errors.Is(err, model.ErrConflict) {
			t.Fatalf("duplicate identifiers err = %v", err)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("get err = %v", err)
		}
		if _, err := store.MarkProcessing(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("mark err = %v", err)
		}
	})

	t.Run("lifecycle", func(t *testing.T) {
		id, err := store.Create(ctx, newRequest("A", "X"))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := store.UpsertItemResult(ctx, id, model.Missing("X", "nope")); !errors.Is(err, model.ErrConflict) {
			t.Fatalf("upsert before processing err = %v", err)
		}
		started, err := store.MarkProcessing(ctx, id)
		if err != nil || !started {
			t.Fatalf("mark processing = %v, %v", started, err)
		}
		started, err = store.MarkProcessing(ctx, id)
		if err != nil || started {
			t.Fatalf("second mark processing = %v, %v", started, err)
		}
		if err := store.UpsertItemResult(ctx, id, model.Missing("Z", "nope")); !errors.Is(err, model.ErrConflict) {
			t.Fatalf("foreign identifier err = %v", err)
		}
		if err := store.UpsertItemResult(ctx, id, model.Succeeded("A", "A.mp4", 10, time.Now())); err != nil {
			t.Fatalf("upsert A: %v", err)
		}
		fin := Finalization{Status: model.StatusPartialSuccess, CompletedAt: time.Now()}
		if err := store.Finalize(ctx, id, fin); !errors.Is(err, model.ErrConflict) {
			t.Fatalf("finalize with missing items err = %v", err)
		}
		if err := store.UpsertItemResult(ctx, id, model.Errored("X", "first")); err != nil {
			t.Fatalf("upsert X: %v", err)
		}
		if err := store.UpsertItemResult(ctx, id, model.Missing("X", "second")); err != nil {
			t.Fatalf("re-upsert X: %v", err)
		}
		if err := store.Finalize(ctx, id, Finalization{Status: model.StatusProcessing}); !errors.Is(err, model.ErrConflict) {
			t.Fatalf("non-terminal finalize err = %v", err)
		}
		loc := "/tmp/a.zip"
		fin.ArtifactLocation = &loc
		if err := store.Finalize(ctx, id, fin); err != nil {
			t.Fatalf("finalize: %v", err)
		}
		if err := store.Finalize(ctx, id, fin); !errors.Is(err, model.ErrConflict) {
			t.Fatalf("second finalize err = %v", err)
		}
		got, items, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != model.StatusPartialSuccess || got.CompletedAt == nil {
			t.Fatalf("unexpected final request %+v", got)
		}
		if got.ArtifactLocation == nil || *got.ArtifactLocation != loc {
			t.Fatalf("artifact location = %v", got.ArtifactLocation)
		}
		if len(items) != 2 {
			t.Fatalf("items = %d, want 2", len(items))
		}
		if items[1].Identifier != "X" || items[1].Outcome != model.OutcomeNotFound || *items[1].ErrorMessage != "second" {
			t.Fatalf("unexpected X row %+v", items[1])
		}
		if items[0].SizeBytes == nil || *items[0].SizeBytes != 10 || items[0].ObjectName != "A.mp4" {
			t.Fatalf("unexpected A row %+v", items[0])
		}
	})

	t.Run("concurrent item writers", func(t *testing.T) {
		ids := make([]string, 10)
		for i := range ids {
			ids[i] = fmt.Sprintf("ID%02d", i)
		}
		id, err := store.Create(ctx, newRequest(ids...))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := store.MarkProcessing(ctx, id); err != nil {
			t.Fatalf("mark: %v", err)
		}
		var wg sync.WaitGroup
		errs := make(chan error, len(ids))
		for _, ident := range ids {
			wg.Add(1)
			go func(ident string) {
				defer wg.Done()
				errs <- store.UpsertItemResult(ctx, id, model.Succeeded(ident, ident+".mp4", 1, time.Now()))
			}(ident)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("upsert: %v", err)
			}
		}
		if err := store.Finalize(ctx, id, Finalization{Status: model.StatusCompleted, CompletedAt: time.Now()}); err != nil {
			t.Fatalf("finalize: %v", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	id, err := store.Create(ctx, newRequest("A"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _, _ := store.Get(ctx, id)
	got.Identifiers[0] = "mutated"
	got.Status = model.StatusFailed
	again, _, _ := store.Get(ctx, id)
	if again.Identifiers[0] != "A" || again.Status != model.StatusPending {
		t.Fatalf("stored request was mutated: %+v", again)
	}
}

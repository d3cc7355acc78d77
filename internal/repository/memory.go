package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dharsanguruparan/VKYCVault/internal/model"
)

// MemoryStore implements Store in process memory with the same checks as
// PostgresStore. It backs tests and the single-binary demo mode.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*model.BulkRequest
	items    map[string]map[string]model.ItemResult
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*model.BulkRequest),
		items:    make(map[string]map[string]model.ItemResult),
	}
}

// Create stores a copy of req with status PENDING.
func (m *MemoryStore) Create(_ context.Context, req *model.BulkRequest) (string, error) {
	if err := checkCreate(req); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[req.ID]; ok {
		return "", fmt.Errorf("create request %s: already exists: %w", req.ID, model.ErrConflict)
	}
	now := time.Now().UTC()
	if req.RequestedAt.IsZero() {
		req.RequestedAt = now
	}
	req.Status = model.StatusPending
	req.UpdatedAt = now
	stored := *req
	stored.Identifiers = append([]string(nil), req.Identifiers...)
	m.requests[req.ID] = &stored
	m.items[req.ID] = make(map[string]model.ItemResult, len(req.Identifiers))
	return req.ID, nil
}

// MarkProcessing transitions PENDING to PROCESSING.
func (m *MemoryStore) MarkProcessing(_ context.Context, requestID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok {
		return false, fmt.Errorf("request %s: %w", requestID, model.ErrNotFound)
	}
	if req.Status != model.StatusPending {
		return false, nil
	}
	req.Status = model.StatusProcessing
	req.UpdatedAt = time.Now().UTC()
	return true, nil
}

// UpsertItemResult inserts or replaces the row for item.Identifier.
func (m *MemoryStore) UpsertItemResult(_ context.Context, requestID string, item model.ItemResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok {
		return fmt.Errorf("request %s: %w", requestID, model.ErrNotFound)
	}
	if err := checkItem(req, item); err != nil {
		return err
	}
	item.RequestID = requestID
	m.items[requestID][item.Identifier] = item
	return nil
}

// Finalize writes the terminal status and artifact fields together.
func (m *MemoryStore) Finalize(_ context.Context, requestID string, fin Finalization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok {
		return fmt.Errorf("request %s: %w", requestID, model.ErrNotFound)
	}
	if err := checkFinalize(req, fin, len(m.items[requestID])); err != nil {
		return err
	}
	completed := fin.CompletedAt.UTC()
	req.Status = fin.Status
	req.CompletedAt = &completed
	req.ArtifactLocation = fin.ArtifactLocation
	req.FailureReason = fin.FailureReason
	req.UpdatedAt = time.Now().UTC()
	return nil
}

// Get returns copies so callers cannot mutate stored state.
func (m *MemoryStore) Get(_ context.Context, requestID string) (*model.BulkRequest, []model.ItemResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[requestID]
	if !ok {
		return nil, nil, fmt.Errorf("request %s: %w", requestID, model.ErrNotFound)
	}
	out := *req
	out.Identifiers = append([]string(nil), req.Identifiers...)
	items := make([]model.ItemResult, 0, len(m.items[requestID]))
	for _, item := range m.items[requestID] {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Identifier < items[j].Identifier })
	return &out, items, nil
}

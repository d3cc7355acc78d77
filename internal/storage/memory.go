package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Fault makes MemoryAccessor misbehave for one identifier.
type Fault struct {
	// Delay is applied before every call; calls honour ctx while waiting.
	Delay time.Duration
	// ExistsErr, MetadataErr and OpenErr are returned by the matching call.
	ExistsErr   error
	MetadataErr error
	OpenErr     error
	// ReadErr is returned by the opened stream after its first byte.
	ReadErr error
}

type memObject struct {
	name     string
	data     []byte
	modified time.Time
}

// MemoryAccessor keeps recordings in a map guarded by an RWMutex. It backs
// tests and the local demo mode.
type MemoryAccessor struct {
	mu      sync.RWMutex
	objects map[string]memObject
	faults  map[string]Fault
	calls   map[string]int
}

// NewMemoryAccessor constructs an empty MemoryAccessor.
func NewMemoryAccessor() *MemoryAccessor {
	return &MemoryAccessor{
		objects: make(map[string]memObject),
		faults:  make(map[string]Fault),
		calls:   make(map[string]int),
	}
}

// Put stores data for identifier under the given object name.
func (m *MemoryAccessor) Put(identifier, name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[identifier] = memObject{
		name:     name,
		data:     append([]byte(nil), data...),
		modified: time.Now().UTC(),
	}
}

// SetFault installs a fault for identifier.
func (m *MemoryAccessor) SetFault(identifier string, f Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[identifier] = f
}

// Calls returns how many Exists calls were made for identifier.
func (m *MemoryAccessor) Calls(identifier string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[identifier]
}

func (m *MemoryAccessor) lookup(identifier string) (memObject, bool, Fault) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[identifier]
	return obj, ok, m.faults[identifier]
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Exists reports whether identifier was Put.
func (m *MemoryAccessor) Exists(ctx context.Context, identifier string) (bool, error) {
	m.mu.Lock()
	m.calls[identifier]++
	m.mu.Unlock()
	_, ok, fault := m.lookup(identifier)
	if err := wait(ctx, fault.Delay); err != nil {
		return false, err
	}
	if fault.ExistsErr != nil {
		return false, fault.ExistsErr
	}
	return ok, nil
}

// Metadata returns the stored object's name, size and Put time.
func (m *MemoryAccessor) Metadata(ctx context.Context, identifier string) (ObjectInfo, error) {
	obj, ok, fault := m.lookup(identifier)
	if err := wait(ctx, fault.Delay); err != nil {
		return ObjectInfo{}, err
	}
	if fault.MetadataErr != nil {
		return ObjectInfo{}, fault.MetadataErr
	}
	if !ok {
		return ObjectInfo{}, fmt.Errorf("%s: %w", identifier, ErrNotFound)
	}
	return ObjectInfo{Name: obj.name, Size: int64(len(obj.data)), LastModified: obj.modified}, nil
}

// Open returns a reader over a copy of the stored bytes.
func (m *MemoryAccessor) Open(ctx context.Context, identifier string) (io.ReadCloser, error) {
	obj, ok, fault := m.lookup(identifier)
	if err := wait(ctx, fault.Delay); err != nil {
		return nil, err
	}
	if fault.OpenErr != nil {
		return nil, fault.OpenErr
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", identifier, ErrNotFound)
	}
	var r io.Reader = bytes.NewReader(obj.data)
	if fault.ReadErr != nil {
		r = io.MultiReader(io.LimitReader(r, 1), &failingReader{err: fault.ReadErr})
	}
	return io.NopCloser(r), nil
}

type failingReader struct{ err error }

func (f *failingReader) Read([]byte) (int, error) {
	return 0, f.err
}

package processing

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/dharsanguruparan/VKYCVault/internal/model"
	"github.com/dharsanguruparan/VKYCVault/internal/storage"
)

func TestResolveOutcomes(t *testing.T) {
	acc := storage.NewMemoryAccessor()
	acc.Put("A", "A.mp4", []byte("recording"))
	acc.SetFault("E", storage.Fault{ExistsErr: errors.New("nfs: stale file handle")})
	acc.Put("M", "M.mp4", []byte("x"))
	acc.SetFault("M", storage.Fault{MetadataErr: errors.New("permission denied")})
	r := NewResolver(acc, time.Second)
	ctx := context.Background()

	res := r.Resolve(ctx, "A")
	if res.Outcome != model.OutcomeSuccess {
		t.Fatalf("A outcome = %s", res.Outcome)
	}
	if *res.SizeBytes != int64(len("recording")) || res.ObjectName != "A.mp4" || res.LastModified == nil {
		t.Fatalf("unexpected A result %+v", res)
	}
	if err := res.Validate(); err != nil {
		t.Fatalf("A result invalid: %v", err)
	}

	res = r.Resolve(ctx, "X")
	if res.Outcome != model.OutcomeNotFound || res.ErrorMessage == nil || res.SizeBytes != nil {
		t.Fatalf("unexpected X result %+v", res)
	}

	res = r.Resolve(ctx, "E")
	if res.Outcome != model.OutcomeError || *res.ErrorMessage != "nfs: stale file handle" {
		t.Fatalf("unexpected E result %+v", res)
	}

	res = r.Resolve(ctx, "M")
	if res.Outcome != model.OutcomeError || *res.ErrorMessage != "permission denied" {
		t.Fatalf("unexpected M result %+v", res)
	}
}

func TestResolveTimeout(t *testing.T) {
	acc := storage.NewMemoryAccessor()
	acc.Put("S", "S.mp4", []byte("slow"))
	acc.SetFault("S", storage.Fault{Delay: time.Minute})
	r := NewResolver(acc, 20*time.Millisecond)

	start := time.Now()
	res := r.Resolve(context.Background(), "S")
	if time.Since(start) > 5*time.Second {
		t.Fatalf("resolve was not bounded by its timeout")
	}
	if res.Outcome != model.OutcomeError || !strings.Contains(*res.ErrorMessage, "timed out after") {
		t.Fatalf("unexpected timeout result %+v", res)
	}
}

// stubborn ignores ctx entirely.
type stubborn struct{ release chan struct{} }

func (s stubborn) Exists(context.Context, string) (bool, error) {
	<-s.release
	return true, nil
}
func (s stubborn) Metadata(context.Context, string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, nil
}
func (s stubborn) Open(context.Context, string) (io.ReadCloser, error) { return nil, nil }

func TestResolveTimeoutWhenAccessorIgnoresContext(t *testing.T) {
	acc := stubborn{release: make(chan struct{})}
	defer close(acc.release)
	r := NewResolver(acc, 20*time.Millisecond)
	res := r.Resolve(context.Background(), "A")
	if res.Outcome != model.OutcomeError || !strings.Contains(*res.ErrorMessage, "timed out") {
		t.Fatalf("unexpected result %+v", res)
	}
}

type panicking struct{ storage.Accessor }

func (panicking) Exists(context.Context, string) (bool, error) { panic("driver bug") }

func TestResolveRecoversPanic(t *testing.T) {
	r := NewResolver(panicking{}, time.Second)
	res := r.Resolve(context.Background(), "A")
	if res.Outcome != model.OutcomeError || !strings.Contains(*res.ErrorMessage, "driver bug") {
		t.Fatalf("unexpected result %+v", res)
	}
}

package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apiserver "github.com/dharsanguruparan/VKYCVault/internal/api"
	"github.com/dharsanguruparan/VKYCVault/internal/archive"
	"github.com/dharsanguruparan/VKYCVault/internal/bulk"
	"github.com/dharsanguruparan/VKYCVault/internal/processing"
	"github.com/dharsanguruparan/VKYCVault/internal/repository"
	"github.com/dharsanguruparan/VKYCVault/internal/signing"
	"github.com/dharsanguruparan/VKYCVault/internal/storage"
)

func startAPI(t *testing.T) *httptest.Server {
	t.Helper()
	recs := storage.NewMemoryAccessor()
	recs.Put("LAN001", "LAN001.mp4", []byte("recording"))
	asm, err := archive.NewAssembler(recs, t.TempDir(), time.Second)
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	dispatcher := processing.NewDispatcher(1)
	coord := bulk.NewCoordinator(repository.NewMemoryStore(), processing.NewResolver(recs, time.Second), asm, nil, dispatcher, bulk.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx, coord.Process)
	srv := httptest.NewServer(apiserver.New(coord, signing.NewSigner([]byte("k")), time.Minute).Routes())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		dispatcher.Stop()
	})
	return srv
}

func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", srv.URL, "--as", "ops@bank"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSubmitWaitFetch(t *testing.T) {
	srv := startAPI(t)
	out, err := run(t, srv, "submit", "--download", "LAN001", "LAN404")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	id := strings.TrimSpace(out)
	if id == "" {
		t.Fatalf("submit printed no id")
	}

	out, err = run(t, srv, "wait", id, "--interval", "10ms", "--timeout", "5s")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !strings.Contains(out, `"PARTIAL_SUCCESS"`) {
		t.Fatalf("wait output = %s", out)
	}

	dest := filepath.Join(t.TempDir(), "out.zip")
	if _, err := run(t, srv, "fetch", id, "-o", dest); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	info, err := os.Stat(dest)
	if err != nil || info.Size() == 0 {
		t.Fatalf("fetched archive missing or empty: %v", err)
	}

	out, err = run(t, srv, "signed-url", id)
	if err != nil {
		t.Fatalf("signed-url: %v", err)
	}
	if !strings.Contains(out, srv.URL+"/api/v1/download?") {
		t.Fatalf("signed-url output = %s", out)
	}
}

func TestSubmitReportsValidationErrors(t *testing.T) {
	srv := startAPI(t)
	_, err := run(t, srv, "submit", "LAN001", "LAN001")
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("err = %v, want duplicate identifier error", err)
	}
	if _, err := run(t, srv, "status", "unknown"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("status unknown err = %v", err)
	}
}

func TestFetchRemovesFileOnError(t *testing.T) {
	srv := startAPI(t)
	dest := filepath.Join(t.TempDir(), "out.zip")
	if _, err := run(t, srv, "fetch", "unknown", "-o", dest); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatalf("partial file left behind: %v", err)
	}
}

func TestDispatchRequeuesOnlyPendingRequests(t *testing.T) {
	recs := storage.NewMemoryAccessor()
	recs.Put("LAN001", "LAN001.mp4", []byte("recording"))
	// Never started: submitted requests stay PENDING in the queue.
	dispatcher := processing.NewDispatcher(1)
	coord := bulk.NewCoordinator(repository.NewMemoryStore(), processing.NewResolver(recs, time.Second), nil, nil, dispatcher, bulk.Options{})
	srv := httptest.NewServer(apiserver.New(coord, signing.NewSigner([]byte("k")), time.Minute).Routes())
	t.Cleanup(func() {
		srv.Close()
		dispatcher.Stop()
	})

	out, err := run(t, srv, "submit", "LAN001")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	id := strings.TrimSpace(out)
	out, err = run(t, srv, "dispatch", id)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !strings.Contains(out, "dispatched "+id) {
		t.Fatalf("dispatch output = %s", out)
	}

	if err := coord.Process(context.Background(), id); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, err := run(t, srv, "dispatch", id); err == nil || !strings.Contains(err.Error(), "409") {
		t.Fatalf("dispatch finished request err = %v", err)
	}
	if _, err := run(t, srv, "dispatch", "unknown"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("dispatch unknown err = %v", err)
	}
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dharsanguruparan/VKYCVault/internal/config"
	"github.com/dharsanguruparan/VKYCVault/internal/model"
)

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	for id, body := range map[string]string{"LAN001": "one", "LAN002": "two"} {
		if err := os.WriteFile(filepath.Join(root, id+".mp4"), []byte(body), 0o600); err != nil {
			t.Fatalf("write recording: %v", err)
		}
	}
	t.Setenv("VKYC_RESULT_STORE", "memory")
	t.Setenv("VKYC_STORAGE_ROOT", root)
	t.Setenv("VKYC_ARTIFACT_DIR", t.TempDir())
	t.Setenv("VKYC_STATUS_CACHE", "none")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func TestLocalModeEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app, err := Build(ctx, localConfig(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close()
	app.Start(ctx)
	h := app.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests",
		strings.NewReader(`{"identifiers":["LAN001","LAN002","LAN003"],"download":true}`))
	req.Header.Set("X-Requested-By", "ops@bank")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit code = %d body=%s", rec.Code, rec.Body.String())
	}
	var submitted struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &submitted); err != nil {
		t.Fatalf("decode: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var snap model.Snapshot
	for {
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/requests/"+submitted.ID, nil))
		if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		if snap.Request.Status.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("request still %s after 5s", snap.Request.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if snap.Request.Status != model.StatusPartialSuccess {
		t.Fatalf("status = %s, want PARTIAL_SUCCESS", snap.Request.Status)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/requests/"+submitted.ID+"/artifact", nil))
	if rec.Code != http.StatusOK || rec.Body.Len() == 0 {
		t.Fatalf("artifact code = %d len=%d", rec.Code, rec.Body.Len())
	}
}

func TestBuildFailsOnMissingStorageRoot(t *testing.T) {
	cfg := localConfig(t)
	cfg.StorageRoot = filepath.Join(t.TempDir(), "missing")
	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for missing storage root")
	}
}

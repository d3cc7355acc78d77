package s3storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dharsanguruparan/VKYCVault/internal/config"
)

func TestArtifactLocations(t *testing.T) {
	s, err := NewArtifactStore(&config.Config{
		S3Endpoint:     "localhost:9000",
		S3Region:       "us-east-1",
		ArtifactBucket: "artifacts",
		ArtifactPrefix: "bulk/",
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := s.objectKey("req-1"); got != "bulk/req-1.zip" {
		t.Fatalf("objectKey = %q", got)
	}
	key, err := s.key("s3://artifacts/bulk/req-1.zip")
	if err != nil || key != "bulk/req-1.zip" {
		t.Fatalf("key = %q, %v", key, err)
	}
	for _, loc := range []string{
		"s3://recordings/bulk/req-1.zip",
		"s3://artifacts/other/req-1.zip",
		"s3://artifacts/bulk/",
		"/tmp/vkyc-artifacts/req-1.zip",
	} {
		if _, err := s.key(loc); err == nil {
			t.Errorf("key(%q) should be refused", loc)
		}
	}
}

// setupMinio starts a throwaway MinIO container. Skipped unless
// TEST_INTEGRATION is set.
func setupMinio(t *testing.T) *ArtifactStore {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "docker.io/minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env:          map[string]string{"MINIO_ROOT_USER": "vkyc", "MINIO_ROOT_PASSWORD": "test-password"},
			Cmd:          []string{"server", "/data"},
			WaitingFor:   wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})
	endpoint, err := container.PortEndpoint(ctx, "9000/tcp", "")
	if err != nil {
		t.Fatalf("endpoint: %v", err)
	}
	s, err := NewArtifactStore(&config.Config{
		S3Endpoint:     endpoint,
		S3AccessKey:    "vkyc",
		S3SecretKey:    "test-password",
		S3Region:       "us-east-1",
		ArtifactBucket: "vkyc-artifacts",
		ArtifactPrefix: "bulk/",
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.EnsureBucket(ctx); err != nil {
		t.Fatalf("ensure bucket: %v", err)
	}
	return s
}

func TestArtifactStoreRoundTrip(t *testing.T) {
	s := setupMinio(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "req-1.zip.tmp")
	if err := os.WriteFile(path, []byte("zip bytes"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	loc, err := s.Put(ctx, "req-1", path)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if loc != "s3://vkyc-artifacts/bulk/req-1.zip" {
		t.Fatalf("location = %s", loc)
	}
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("local copy kept after upload: %v", err)
	}

	rc, err := s.Open(ctx, loc)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "zip bytes" {
		t.Fatalf("content = %q", data)
	}
	if _, ok := rc.(io.ReadSeeker); !ok {
		t.Fatalf("artifact stream does not seek")
	}

	removed, err := s.Purge(ctx, 0)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := s.Open(ctx, loc); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("open after purge err = %v", err)
	}
	if err := s.Remove(ctx, loc); err != nil {
		t.Fatalf("remove of missing artifact: %v", err)
	}
}

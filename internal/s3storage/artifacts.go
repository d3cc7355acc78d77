package s3storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/VKYCVault/internal/config"
)

const locationScheme = "s3://"

// ArtifactStore publishes finished archives to a bucket so that the API can
// serve archives a worker on another host assembled. Locations have the form
// s3://<bucket>/<prefix><requestID>.zip.
type ArtifactStore struct {
	client *minio.Client
	bucket string
	prefix string
	region string
}

// NewArtifactStore uses the same endpoint and credentials as the recordings
// bucket.
func NewArtifactStore(cfg *config.Config) (*ArtifactStore, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &ArtifactStore{
		client: client,
		bucket: cfg.ArtifactBucket,
		prefix: cfg.ArtifactPrefix,
		region: cfg.S3Region,
	}, nil
}

// EnsureBucket creates the artifact bucket when it is missing.
func (s *ArtifactStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

func (s *ArtifactStore) objectKey(requestID string) string {
	return s.prefix + requestID + ".zip"
}

// key maps a location back to an object key, refusing locations issued for
// another bucket or prefix.
func (s *ArtifactStore) key(location string) (string, error) {
	rest, ok := strings.CutPrefix(location, locationScheme+s.bucket+"/")
	if !ok || !strings.HasPrefix(rest, s.prefix) || rest == s.prefix {
		return "", fmt.Errorf("artifact %s is outside %s%s/%s", location, locationScheme, s.bucket, s.prefix)
	}
	return rest, nil
}

// Put uploads the archive at path and removes the local copy.
func (s *ArtifactStore) Put(ctx context.Context, requestID, path string) (string, error) {
	key := s.objectKey(requestID)
	opts := minio.PutObjectOptions{ContentType: "application/zip"}
	if _, err := s.client.FPutObject(ctx, s.bucket, key, path, opts); err != nil {
		return "", fmt.Errorf("upload artifact %s: %w", key, err)
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("remove uploaded archive: %w", err)
	}
	return locationScheme + s.bucket + "/" + key, nil
}

// Open streams the archive. The returned object also seeks, so HTTP range
// requests work.
func (s *ArtifactStore) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	key, err := s.key(location)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", key, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, fmt.Errorf("artifact %s: %w", key, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("get artifact %s: %w", key, err)
	}
	return obj, nil
}

// Remove deletes the archive. S3 treats a missing key as success.
func (s *ArtifactStore) Remove(ctx context.Context, location string) error {
	key, err := s.key(location)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove artifact %s: %w", key, err)
	}
	return nil
}

// Purge deletes archives under the prefix last modified before
// now-olderThan.
func (s *ArtifactStore) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	// Stops the listing goroutine on early return.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix, Recursive: true}) {
		if obj.Err != nil {
			return removed, fmt.Errorf("list artifacts: %w", obj.Err)
		}
		if !strings.HasSuffix(obj.Key, ".zip") || obj.LastModified.After(cutoff) {
			continue
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("purge %s: %w", obj.Key, err)
		}
		removed++
	}
	return removed, nil
}

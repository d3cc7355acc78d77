package s3storage

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/VKYCVault/internal/config"
	"github.com/dharsanguruparan/VKYCVault/internal/storage"
)

// Storage reads recordings from a MinIO/S3 bucket. The recording for
// identifier X is stored under <prefix>X<ext>.
type Storage struct {
	client *minio.Client
	bucket string
	prefix string
	ext    string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client: client,
		bucket: cfg.S3Bucket,
		prefix: cfg.S3Prefix,
		ext:    cfg.ObjectExt,
	}, nil
}

// EnsureBucket fails when the recordings bucket is missing. The service
// never writes recordings, so it does not create the bucket either.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

func (s *Storage) key(identifier string) string {
	return s.prefix + identifier + s.ext
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

// Exists stats the object; a missing key is (false, nil).
func (s *Storage) Exists(ctx context.Context, identifier string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.key(identifier), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", identifier, err)
	}
	return true, nil
}

// Metadata returns size and modification time of the object.
func (s *Storage) Metadata(ctx context.Context, identifier string) (storage.ObjectInfo, error) {
	key := s.key(identifier)
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return storage.ObjectInfo{}, fmt.Errorf("%s: %w", identifier, storage.ErrNotFound)
		}
		return storage.ObjectInfo{}, fmt.Errorf("stat object %s: %w", identifier, err)
	}
	return storage.ObjectInfo{
		Name:         path.Base(key),
		Size:         info.Size,
		LastModified: info.LastModified.UTC(),
	}, nil
}

// Open streams the object. GetObject is lazy, so the object is stat'ed
// first to surface a missing key here rather than on the first Read.
func (s *Storage) Open(ctx context.Context, identifier string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(identifier), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", identifier, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", identifier, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("get object %s: %w", identifier, err)
	}
	return obj, nil
}

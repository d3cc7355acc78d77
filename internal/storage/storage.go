// Package storage defines how the service reaches recordings and provides
// the filesystem and in-memory backends. The S3 backend lives in s3storage.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Metadata and Open when the object is missing.
// Exists reports a missing object as (false, nil) instead.
var ErrNotFound = errors.New("object not found")

// ObjectInfo is the metadata the resolver records for a found identifier.
type ObjectInfo struct {
	Name         string
	Size         int64
	LastModified time.Time
}

// Accessor is the read-only view of the recording store.
type Accessor interface {
	Exists(ctx context.Context, identifier string) (bool, error)
	Metadata(ctx context.Context, identifier string) (ObjectInfo, error)
	Open(ctx context.Context, identifier string) (io.ReadCloser, error)
}

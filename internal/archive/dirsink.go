package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// DirSink keeps archives as <dir>/<requestID>.zip. Locations are absolute
// paths. With an asynq worker the directory must be shared with the API.
type DirSink struct {
	dir string
}

// NewDirSink creates dir if needed.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact dir %s: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact dir: %w", err)
	}
	return &DirSink{dir: abs}, nil
}

// Put renames path into the directory, so path should live on the same
// filesystem.
func (d *DirSink) Put(_ context.Context, requestID, path string) (string, error) {
	final := filepath.Join(d.dir, requestID+artifactExt)
	if err := os.Rename(path, final); err != nil {
		return "", fmt.Errorf("move archive into %s: %w", d.dir, err)
	}
	return final, nil
}

func (d *DirSink) Open(_ context.Context, location string) (io.ReadCloser, error) {
	p, err := d.within(location)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

func (d *DirSink) Remove(_ context.Context, location string) error {
	p, err := d.within(location)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

func (d *DirSink) Purge(_ context.Context, olderThan time.Duration) (int, error) {
	return purgeDir(d.dir, artifactExt, olderThan)
}

func (d *DirSink) within(location string) (string, error) {
	p := filepath.Clean(location)
	if filepath.Dir(p) != d.dir {
		return "", fmt.Errorf("artifact %s is outside %s", location, d.dir)
	}
	return p, nil
}

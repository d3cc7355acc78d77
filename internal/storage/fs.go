package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FSAccessor serves recordings from a directory, typically an NFS mount.
// The recording for identifier X lives at <root>/X<ext>.
type FSAccessor struct {
	root string
	ext  string
}

// NewFSAccessor checks that root is a readable directory.
func NewFSAccessor(root, ext string) (*FSAccessor, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat storage root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage root %s is not a directory", root)
	}
	return &FSAccessor{root: root, ext: ext}, nil
}

func (a *FSAccessor) path(identifier string) (string, error) {
	// Identifiers are validated at submission, but the accessor is also
	// reachable from tests and the CLI, so refuse anything path-like here too.
	if identifier == "" || identifier == "." || identifier == ".." ||
		strings.ContainsAny(identifier, `/\`) {
		return "", fmt.Errorf("invalid identifier %q", identifier)
	}
	return filepath.Join(a.root, identifier+a.ext), nil
}

// Exists reports whether a regular file exists for identifier.
func (a *FSAccessor) Exists(ctx context.Context, identifier string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := a.path(identifier)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", identifier, err)
	}
	return info.Mode().IsRegular(), nil
}

// Metadata returns size and modification time of the recording.
func (a *FSAccessor) Metadata(ctx context.Context, identifier string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	p, err := a.path(identifier)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return ObjectInfo{}, fmt.Errorf("%s: %w", identifier, ErrNotFound)
	}
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("stat %s: %w", identifier, err)
	}
	return ObjectInfo{
		Name:         info.Name(),
		Size:         info.Size(),
		LastModified: info.ModTime().UTC(),
	}, nil
}

// Open opens the recording for reading. The caller closes it.
func (a *FSAccessor) Open(ctx context.Context, identifier string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := a.path(identifier)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", identifier, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", identifier, err)
	}
	return f, nil
}

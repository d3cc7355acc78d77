// Package archive assembles download artifacts: one zip per request holding
// every recording that resolved successfully.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/VKYCVault/internal/logger"
	"github.com/dharsanguruparan/VKYCVault/internal/metrics"
	"github.com/dharsanguruparan/VKYCVault/internal/model"
	"github.com/dharsanguruparan/VKYCVault/internal/storage"
)

const (
	artifactExt = ".zip"
	tempExt     = artifactExt + ".tmp"
)

// Sink keeps finished archives. Put takes ownership of the file at path.
// Locations are opaque outside the sink that issued them; Open reports a
// missing archive with an error wrapping fs.ErrNotExist.
type Sink interface {
	Put(ctx context.Context, requestID, path string) (location string, err error)
	Open(ctx context.Context, location string) (io.ReadCloser, error)
	Remove(ctx context.Context, location string) error
	Purge(ctx context.Context, olderThan time.Duration) (int, error)
}

// Assembler builds archives in a scratch directory and publishes them to a
// Sink. It owns cleanup of partial files; retention of finished artifacts
// belongs to the caller (see Purge).
type Assembler struct {
	store   storage.Accessor
	dir     string
	sink    Sink
	timeout time.Duration
	log     zerolog.Logger
}

// Option customises an Assembler.
type Option func(*Assembler)

// WithSink publishes archives to s instead of keeping them in dir.
func WithSink(s Sink) Option {
	return func(a *Assembler) { a.sink = s }
}

// NewAssembler creates dir if needed. Without WithSink, finished archives
// stay in dir.
func NewAssembler(store storage.Accessor, dir string, timeout time.Duration, opts ...Option) (*Assembler, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact dir %s: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact dir: %w", err)
	}
	a := &Assembler{store: store, dir: abs, timeout: timeout, log: logger.Component("archive")}
	for _, opt := range opts {
		opt(a)
	}
	if a.sink == nil {
		a.sink = &DirSink{dir: abs}
	}
	return a, nil
}

// EntryName is the name an item gets inside the archive.
func EntryName(item model.ItemResult) string {
	base := path.Base(filepath.ToSlash(item.ObjectName))
	if item.ObjectName == "" || base == "." || base == "/" {
		return item.Identifier
	}
	return item.Identifier + "_" + base
}

// Filename is the download name offered to clients.
func Filename(requestID string) string {
	return "vkyc_" + requestID + artifactExt
}

// Assemble streams every item into a temp file, publishes it to the sink and
// returns the sink's location. Any failure removes the partial file and
// fails the whole call.
func (a *Assembler) Assemble(ctx context.Context, requestID string, items []model.ItemResult) (location string, err error) {
	if len(items) == 0 {
		return "", errors.New("assemble: no items")
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	tmp, err := os.CreateTemp(a.dir, requestID+"-*"+tempExt)
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			if rmErr := os.Remove(tmp.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				a.log.Warn().Err(rmErr).Str("request_id", requestID).Msg("remove partial artifact")
			}
		}
	}()

	zw := zip.NewWriter(tmp)
	var total int64
	for _, item := range items {
		n, err := a.addEntry(ctx, zw, item)
		if err != nil {
			zw.Close()
			return "", fmt.Errorf("assemble %s: %w", item.Identifier, err)
		}
		total += n
	}
	if err = zw.Close(); err != nil {
		return "", fmt.Errorf("finish archive: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync archive: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}
	if location, err = a.sink.Put(ctx, requestID, tmp.Name()); err != nil {
		return "", fmt.Errorf("publish archive: %w", err)
	}
	metrics.ArchiveBytes.Add(float64(total))
	a.log.Info().Str("request_id", requestID).Int("entries", len(items)).Int64("bytes", total).Msg("artifact assembled")
	return location, nil
}

func (a *Assembler) addEntry(ctx context.Context, zw *zip.Writer, item model.ItemResult) (int64, error) {
	if item.Outcome != model.OutcomeSuccess {
		return 0, fmt.Errorf("item outcome is %s", item.Outcome)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rc, err := a.store.Open(ctx, item.Identifier)
	if err != nil {
		return 0, fmt.Errorf("open stream: %w", err)
	}
	defer rc.Close()

	name := EntryName(item)
	header := &zip.FileHeader{Name: name, Method: methodFor(name)}
	if item.LastModified != nil {
		header.Modified = *item.LastModified
	}
	w, err := zw.CreateHeader(header)
	if err != nil {
		return 0, fmt.Errorf("create entry: %w", err)
	}
	n, err := io.Copy(w, &ctxReader{ctx: ctx, r: rc})
	if err != nil {
		return n, fmt.Errorf("copy stream: %w", err)
	}
	return n, nil
}

// methodFor stores media that is already compressed and deflates the rest.
func methodFor(name string) uint16 {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4", ".webm", ".mkv", ".mov", ".jpg", ".jpeg", ".png", ".zip", ".gz":
		return zip.Store
	}
	return zip.Deflate
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Open returns a finished artifact for streaming.
func (a *Assembler) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	return a.sink.Open(ctx, location)
}

// Remove deletes a finished artifact. Missing artifacts are not an error.
func (a *Assembler) Remove(ctx context.Context, location string) error {
	return a.sink.Remove(ctx, location)
}

// Purge deletes artifacts and stray temp files last modified before
// now-olderThan and returns how many were removed.
func (a *Assembler) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	stray, err := purgeDir(a.dir, tempExt, olderThan)
	if err != nil {
		return stray, err
	}
	removed, err := a.sink.Purge(ctx, olderThan)
	removed += stray
	if removed > 0 {
		a.log.Info().Int("removed", removed).Dur("older_than", olderThan).Msg("artifacts purged")
	}
	return removed, err
}

// purgeDir removes files in dir ending in suffix and last modified before
// now-olderThan.
func purgeDir(dir, suffix string, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read artifact dir: %w", err)
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("purge %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

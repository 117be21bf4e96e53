package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sdejongh/branchsync/pkg/digest"
	"github.com/sdejongh/branchsync/pkg/logging"
	"github.com/sdejongh/branchsync/pkg/models"
	"github.com/sdejongh/branchsync/pkg/storage"
)

// BuildStats summarizes one manifest build
type BuildStats struct {
	Files       int
	Directories int
	Bytes       int64
	Excluded    int
	Failed      int
	Errors      []FileError
}

// FileError records a file that could not be hashed
type FileError struct {
	Path string
	Err  error
}

// Builder walks a backend and produces a manifest of its files
type Builder struct {
	hasher  *digest.Hasher
	exclude []string
	workers int
	logger  logging.Logger
	now     func() time.Time
}

// BuilderOption configures a Builder
type BuilderOption func(*Builder)

// WithExclude skips files matching any of the glob patterns
func WithExclude(patterns []string) BuilderOption {
	return func(b *Builder) { b.exclude = patterns }
}

// WithWorkers sets how many files are hashed concurrently
func WithWorkers(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithLogger sets the logger used to report per-file failures
func WithLogger(logger logging.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock overrides the clock used for the created_date field
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

// NewBuilder creates a manifest builder
func NewBuilder(hasher *digest.Hasher, opts ...BuilderOption) *Builder {
	b := &Builder{
		hasher:  hasher,
		workers: 4,
		logger:  logging.NewNullLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build hashes every file of the backend and groups the digests by directory.
// A missing or empty root yields a NotFound error: an empty manifest would classify
// every file on the other side as new. Files that cannot be hashed are counted and
// logged, and the build then fails with an IO error so no partial digest is used.
func (b *Builder) Build(ctx context.Context, backend storage.Backend, kind Kind, root string) (*Manifest, *BuildStats, error) {
	stats := &BuildStats{}

	entries, err := backend.List(ctx, "")
	if err != nil {
		if ctx.Err() != nil {
			return nil, stats, ctx.Err()
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, stats, models.NotFoundError("build manifest", root, err)
		}
		return nil, stats, models.IOError("build manifest", root, err)
	}

	m := New(kind, root)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		if ShouldExclude(entry.RelativePath, b.exclude) {
			stats.Excluded++
			continue
		}

		entry := entry
		g.Go(func() error {
			sum, err := b.hasher.HashFile(gctx, backend, entry.RelativePath)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				stats.Failed++
				stats.Errors = append(stats.Errors, FileError{Path: entry.RelativePath, Err: err})
				b.logger.Warn(gctx, "failed to hash file", logging.Fields{
					"path":  entry.RelativePath,
					"error": err.Error(),
				})
				return nil
			}

			m.Add(entry.RelativePath, sum)
			stats.Files++
			stats.Bytes += entry.Size
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	if stats.Failed > 0 {
		return nil, stats, models.IOError("build manifest", root,
			fmt.Errorf("%d files could not be hashed, first: %w", stats.Failed, stats.Errors[0].Err))
	}

	if stats.Files == 0 {
		return nil, stats, models.NotFoundError("build manifest", root, errors.New("no files to index"))
	}

	m.Seal()
	m.Metadata.CreatedDate = b.now().UTC().Format(time.RFC3339)
	stats.Directories = len(m.Directories)

	b.logger.Debug(ctx, "manifest built", logging.Fields{
		"root":        root,
		"type":        string(kind),
		"files":       stats.Files,
		"directories": stats.Directories,
		"excluded":    stats.Excluded,
	})

	return m, stats, nil
}

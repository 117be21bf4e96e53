// Package apply carries a list of change records out between two storage backends.
package apply

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/sdejongh/branchsync/internal/platform"
	"github.com/sdejongh/branchsync/pkg/logging"
	"github.com/sdejongh/branchsync/pkg/models"
	"github.com/sdejongh/branchsync/pkg/output"
	"github.com/sdejongh/branchsync/pkg/ratelimit"
	"github.com/sdejongh/branchsync/pkg/storage"
)

// ErrAlreadyAbsent is reported for a removal whose target does not exist
var ErrAlreadyAbsent = errors.New("file already absent")

// Result holds the aggregate outcome of one Apply call
type Result struct {
	Applied int
	Failed  int
	Bytes   int64
	Errors  []FileError
}

// FileError records a change that could not be applied
type FileError struct {
	Path   string
	Action models.Action
	Err    error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Action, e.Path, e.Err)
}

// Applier applies change records. It never stops at the first failure.
type Applier struct {
	workers   int
	limiter   *ratelimit.Limiter
	dryRun    bool
	logger    logging.Logger
	formatter output.Formatter
	phase     string
}

// Option configures an Applier
type Option func(*Applier)

// WithWorkers sets how many files are copied concurrently
func WithWorkers(n int) Option {
	return func(a *Applier) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithLimiter throttles reads from the source backend
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(a *Applier) { a.limiter = l }
}

// WithDryRun counts what would be applied without touching the destination
func WithDryRun(dryRun bool) Option {
	return func(a *Applier) { a.dryRun = dryRun }
}

// WithLogger sets the logger for per-change failures
func WithLogger(logger logging.Logger) Option {
	return func(a *Applier) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithFormatter reports per-file progress under the given phase name
func WithFormatter(f output.Formatter, phase string) Option {
	return func(a *Applier) {
		a.formatter = f
		a.phase = phase
	}
}

// New creates an Applier
func New(opts ...Option) *Applier {
	a := &Applier{
		workers: 4,
		logger:  logging.NewNullLogger(),
		phase:   "APPLY",
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply copies ADD and UPDATE records from source to dest and deletes REMOVE records from dest.
// Every record is attempted. Failures are counted in the result; the returned error is only set
// when ctx was cancelled, in which case the records not attempted are counted as failed.
func (a *Applier) Apply(ctx context.Context, changes []models.ChangeRecord, source, dest storage.Backend) (*Result, error) {
	result := &Result{}
	total := len(changes)
	var mu sync.Mutex
	processed := 0

	record := func(c models.ChangeRecord, bytes int64, err error) {
		mu.Lock()
		defer mu.Unlock()

		processed++
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, FileError{Path: c.Path, Action: c.Action, Err: err})
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				a.logger.Warn(ctx, "failed to apply change", logging.Fields{
					"path":   c.Path,
					"action": string(c.Action),
					"error":  err.Error(),
				})
			}
			output.Notify(a.formatter, output.ProgressUpdate{
				Type:        "file_error",
				Phase:       a.phase,
				FilePath:    c.Path,
				CurrentFile: processed,
				TotalFiles:  total,
				Error:       err,
			})
			return
		}

		result.Applied++
		result.Bytes += bytes
		output.Notify(a.formatter, output.ProgressUpdate{
			Type:         "file_complete",
			Phase:        a.phase,
			FilePath:     c.Path,
			BytesWritten: bytes,
			CurrentFile:  processed,
			TotalFiles:   total,
		})
	}

	var copies, removals []models.ChangeRecord
	for _, c := range changes {
		if err := platform.ValidateRelPath(c.Path); err != nil {
			record(c, 0, models.NewError(models.KindIO, "apply", c.Path, err))
			continue
		}
		switch c.Action {
		case models.ActionAdd, models.ActionUpdate:
			copies = append(copies, c)
		case models.ActionRemove:
			removals = append(removals, c)
		default:
			record(c, 0, fmt.Errorf("unknown action %q", c.Action))
		}
	}

	w := newWorker(source, dest, a.workers)
	w.limiter = a.limiter
	w.dryRun = a.dryRun
	w.execute(ctx, copies, func(o copyOutcome) {
		err := o.err
		if err != nil && ctx.Err() == nil {
			err = models.IOError("copy", o.record.Path, err)
		}
		record(o.record, o.bytes, err)
	})

	// Removals run after copies and one at a time so directory pruning never races a copy
	for _, c := range removals {
		if err := ctx.Err(); err != nil {
			record(c, 0, err)
			continue
		}
		record(c, 0, a.remove(ctx, dest, c.Path))
	}

	a.logger.Info(ctx, "changes applied", logging.Fields{
		"applied": result.Applied,
		"failed":  result.Failed,
		"dry_run": a.dryRun,
	})

	return result, ctx.Err()
}

// remove deletes one file and prunes the directories it leaves empty
func (a *Applier) remove(ctx context.Context, dest storage.Backend, p string) error {
	exists, err := dest.Exists(ctx, p)
	if err != nil {
		return models.IOError("remove", p, err)
	}
	if !exists {
		return models.NotFoundError("remove", p, ErrAlreadyAbsent)
	}
	if a.dryRun {
		return nil
	}

	if err := dest.Delete(ctx, p); err != nil {
		return models.IOError("remove", p, err)
	}

	for dir := path.Dir(p); dir != "." && dir != "/"; dir = path.Dir(dir) {
		entries, err := dest.List(ctx, dir)
		if err != nil || len(entries) > 1 {
			break
		}
		if err := dest.Delete(ctx, dir); err != nil {
			a.logger.Debug(ctx, "failed to prune directory", logging.Fields{"path": dir, "error": err.Error()})
			break
		}
	}
	return nil
}

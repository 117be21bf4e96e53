package apply

import (
	"context"
	"fmt"
	"sync"

	"github.com/sdejongh/branchsync/pkg/models"
	"github.com/sdejongh/branchsync/pkg/ratelimit"
	"github.com/sdejongh/branchsync/pkg/storage"
)

// copyOutcome is the result of one copy attempt
type copyOutcome struct {
	record models.ChangeRecord
	bytes  int64
	err    error
}

// worker copies files from source to dest on a bounded number of goroutines
type worker struct {
	source    storage.Backend
	dest      storage.Backend
	limiter   *ratelimit.Limiter
	dryRun    bool
	semaphore chan struct{}
}

func newWorker(source, dest storage.Backend, maxWorkers int) *worker {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &worker{
		source:    source,
		dest:      dest,
		semaphore: make(chan struct{}, maxWorkers),
	}
}

// execute copies every record and returns one outcome per record, in input order.
// Records not started before ctx is cancelled carry the context error.
func (w *worker) execute(ctx context.Context, records []models.ChangeRecord, done func(copyOutcome)) []copyOutcome {
	outcomes := make([]copyOutcome, len(records))
	var wg sync.WaitGroup

	for i := range records {
		outcomes[i].record = records[i]

		select {
		case <-ctx.Done():
			outcomes[i].err = ctx.Err()
			done(outcomes[i])
			continue
		case w.semaphore <- struct{}{}:
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-w.semaphore }()

			n, err := w.copyFile(ctx, records[i].Path)
			outcomes[i].bytes = n
			outcomes[i].err = err
			done(outcomes[i])
		}(i)
	}

	wg.Wait()
	return outcomes
}

// copyFile copies a single file from source to destination, preserving its permissions
func (w *worker) copyFile(ctx context.Context, path string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	sourceInfo, err := w.source.Stat(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("failed to get source metadata: %w", err)
	}
	if sourceInfo.IsDir {
		return 0, fmt.Errorf("source is a directory: %s", path)
	}
	if w.dryRun {
		return sourceInfo.Size, nil
	}

	reader, err := w.source.Read(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("failed to read source: %w", err)
	}
	defer reader.Close()

	limited := ratelimit.NewReadCloser(ctx, reader, w.limiter)
	if err := w.dest.Write(ctx, path, limited, sourceInfo.Size, sourceInfo); err != nil {
		return 0, fmt.Errorf("failed to write destination: %w", err)
	}

	return sourceInfo.Size, nil
}

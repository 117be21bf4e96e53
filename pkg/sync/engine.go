// Package sync runs a full reconciliation cycle between a project directory and a branch.
package sync

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sdejongh/branchsync/pkg/logging"
	"github.com/sdejongh/branchsync/pkg/models"
	"github.com/sdejongh/branchsync/pkg/output"
	"github.com/sdejongh/branchsync/pkg/remote"
)

// Remote is the host API a cycle needs: the archive download plus the write pipeline calls
type Remote interface {
	remote.API
	DownloadZipball(ctx context.Context, owner, repo, ref string, w io.Writer, progress func(written, total int64)) (int64, error)
}

// Engine orchestrates sync cycles for one operation
type Engine struct {
	client    Remote
	formatter output.Formatter
	logger    logging.Logger
	operation *models.CycleOperation
	now       func() time.Time

	// one cycle at a time per engine; the scratch lock file covers other processes
	mu sync.Mutex
}

// NewEngine creates a new sync engine
func NewEngine(
	client Remote,
	formatter output.Formatter,
	logger logging.Logger,
	operation *models.CycleOperation,
) *Engine {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &Engine{
		client:    client,
		formatter: formatter,
		logger:    logger,
		operation: operation,
		now:       time.Now,
	}
}

// Run executes one cycle. The report is always returned; the error is a *PhaseError
// naming the phase that stopped the cycle, or a validation error.
func (e *Engine) Run(ctx context.Context) (*models.CycleReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	op := e.operation
	startTime := e.now()
	op.StartedAt = &startTime

	report := &models.CycleReport{
		OperationID: op.ID,
		Repository:  op.Owner + "/" + op.Repo,
		Branch:      op.Branch,
		ProjectPath: op.ProjectPath,
		Direction:   op.Direction,
		AnalyzeOnly: op.AnalyzeOnly,
		StartTime:   startTime,
		Status:      models.StatusSuccess,
	}

	if err := op.Validate(); err != nil {
		return e.finish(ctx, report, err)
	}

	log := e.logger.WithFields(logging.Fields{"operation_id": op.ID})
	log.Info(ctx, "Starting sync cycle", logging.Fields{
		"repository":   report.Repository,
		"branch":       op.Branch,
		"project":      op.ProjectPath,
		"scratch":      op.ScratchPath,
		"direction":    string(op.Direction),
		"analyze_only": op.AnalyzeOnly,
	})

	c := newCycle(e, log, report)
	err := c.run(ctx)
	return e.finish(ctx, report, err)
}

// finish stamps timing and maps the cycle error onto the report status
func (e *Engine) finish(ctx context.Context, report *models.CycleReport, err error) (*models.CycleReport, error) {
	endTime := e.now()
	e.operation.CompletedAt = &endTime
	report.EndTime = endTime
	report.Duration = endTime.Sub(report.StartTime)
	report.CountChanges()

	log := e.logger.WithFields(logging.Fields{"operation_id": report.OperationID})

	if err == nil {
		log.Info(ctx, "Sync cycle completed", logging.Fields{
			"duration": report.Duration.String(),
			"changes":  len(report.Changes),
			"commit":   report.CommitSHA,
		})
		return report, nil
	}

	var perr *PhaseError
	if errors.As(err, &perr) {
		report.FailedPhase = string(perr.Phase)
	}
	report.Errors = append(report.Errors, models.CycleError{
		Phase:     report.FailedPhase,
		Kind:      models.KindOf(err),
		Error:     err.Error(),
		Timestamp: endTime,
	})

	switch {
	case ctx.Err() != nil:
		report.Status = models.StatusCancelled
	case errors.Is(err, ErrChangesFailed):
		report.Status = models.StatusPartial
	default:
		report.Status = models.StatusFailed
	}

	log.Error(ctx, "Sync cycle stopped", err, logging.Fields{
		"phase":  report.FailedPhase,
		"status": string(report.Status),
	})
	return report, err
}

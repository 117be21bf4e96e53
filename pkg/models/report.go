package models

import (
	"time"
)

// CycleReport represents the results of one sync cycle
type CycleReport struct {
	// Operation details
	OperationID string
	Repository  string
	Branch      string
	ProjectPath string
	Direction   Direction
	AnalyzeOnly bool

	// Timing
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// Phases completed in order, and the phase that failed if any
	Phases      []string
	FailedPhase string

	// Changes computed by the diff phase
	Changes []ChangeRecord

	// Statistics
	Stats Statistics

	// Commit created by the upload phase, empty when nothing was pushed
	CommitSHA string

	// Errors encountered
	Errors []CycleError

	// Overall status
	Status CycleStatus
}

// Statistics holds sync cycle metrics
type Statistics struct {
	LocalFiles  int
	RemoteFiles int

	FilesAdded   int
	FilesUpdated int
	FilesRemoved int

	ChangesApplied int
	ChangesFailed  int

	BlobsCreated int

	BytesDownloaded int64
	BytesUploaded   int64
}

// CycleStatus represents the overall result
type CycleStatus string

const (
	// StatusSuccess indicates all phases completed successfully
	StatusSuccess CycleStatus = "success"
	// StatusPartial indicates some changes could not be applied
	StatusPartial CycleStatus = "partial"
	// StatusFailed indicates a phase failed
	StatusFailed CycleStatus = "failed"
	// StatusCancelled indicates the cycle was cancelled
	StatusCancelled CycleStatus = "cancelled"
)

// CycleError represents an error recorded during a cycle
type CycleError struct {
	Phase     string
	FilePath  string
	Kind      ErrorKind
	Error     string
	Timestamp time.Time
}

// ExitCode returns the appropriate exit code for the cycle status
func (s CycleStatus) ExitCode() int {
	switch s {
	case StatusSuccess:
		return 0
	case StatusPartial:
		return 1
	case StatusFailed:
		return 2
	case StatusCancelled:
		return 3
	default:
		return 2
	}
}

// CountChanges fills the per-action counters from the report changes
func (r *CycleReport) CountChanges() {
	r.Stats.FilesAdded, r.Stats.FilesUpdated, r.Stats.FilesRemoved = 0, 0, 0
	for _, c := range r.Changes {
		switch c.Action {
		case ActionAdd:
			r.Stats.FilesAdded++
		case ActionUpdate:
			r.Stats.FilesUpdated++
		case ActionRemove:
			r.Stats.FilesRemoved++
		}
	}
}

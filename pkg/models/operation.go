package models

import (
	"time"
)

// Direction defines which side of the reconciliation wins
type Direction string

const (
	// DirectionPull applies remote branch content to the local project
	DirectionPull Direction = "pull"
	// DirectionPush publishes local project content as a new commit
	DirectionPush Direction = "push"
)

// Priority returns the change priority associated with the direction
func (d Direction) Priority() Priority {
	if d == DirectionPush {
		return PriorityLocal
	}
	return PriorityRemote
}

// CycleOperation represents the configuration of one sync cycle
type CycleOperation struct {
	ID            string
	Owner         string
	Repo          string
	Branch        string
	ProjectPath   string
	ScratchPath   string
	Direction     Direction
	AnalyzeOnly   bool
	CommitMessage string
	// ReuseLocalManifest loads LocalManifest.json from the scratch space
	// instead of rescanning the project, when the document is valid
	ReuseLocalManifest bool
	ExcludePatterns    []string
	MaxWorkers         int
	BandwidthLimit     int64 // bytes per second, 0 = unlimited
	BufferSize         int
	CreatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
}

// Validate checks if the operation configuration is valid
func (op *CycleOperation) Validate() error {
	if op.Owner == "" {
		return &ValidationError{Field: "Owner", Message: "repository owner is required"}
	}
	if op.Repo == "" {
		return &ValidationError{Field: "Repo", Message: "repository name is required"}
	}
	if op.Branch == "" {
		return &ValidationError{Field: "Branch", Message: "branch is required"}
	}
	if op.ProjectPath == "" {
		return &ValidationError{Field: "ProjectPath", Message: "project path is required"}
	}
	if op.ScratchPath == "" {
		return &ValidationError{Field: "ScratchPath", Message: "scratch path is required"}
	}
	if op.Direction != DirectionPull && op.Direction != DirectionPush {
		return &ValidationError{Field: "Direction", Message: "direction must be 'pull' or 'push'"}
	}
	if op.Direction == DirectionPush && !op.AnalyzeOnly && op.CommitMessage == "" {
		return &ValidationError{Field: "CommitMessage", Message: "commit message is required to push"}
	}
	if op.MaxWorkers < 1 {
		return &ValidationError{Field: "MaxWorkers", Message: "max workers must be at least 1"}
	}
	if op.BufferSize < 1024 {
		return &ValidationError{Field: "BufferSize", Message: "buffer size must be at least 1024 bytes"}
	}
	return nil
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

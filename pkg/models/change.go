package models

import (
	"path"
)

// Action represents what should be done with a path to reconcile two trees
type Action string

const (
	// ActionAdd copies a file that does not exist in the target yet
	ActionAdd Action = "ADD"
	// ActionUpdate overwrites a file whose content differs
	ActionUpdate Action = "UPDATE"
	// ActionRemove deletes a file that no longer exists on the winning side
	ActionRemove Action = "REMOVE"
)

// Valid reports whether the action is one of the known actions
func (a Action) Valid() bool {
	switch a {
	case ActionAdd, ActionUpdate, ActionRemove:
		return true
	default:
		return false
	}
}

// Reason explains why a change record was produced
type Reason string

const (
	// ReasonNewFile marks a file missing from the current tree
	ReasonNewFile Reason = "NEW_FILE"
	// ReasonNewDirectory marks a file whose whole directory is missing from the current tree
	ReasonNewDirectory Reason = "NEW_DIRECTORY"
	// ReasonHashMismatch marks a file present on both sides with different digests
	ReasonHashMismatch Reason = "HASH_MISMATCH"
	// ReasonDeletedRemote marks a file that only exists in the current tree
	ReasonDeletedRemote Reason = "DELETED_REMOTE"
)

// Priority records which side won when both sides disagree
type Priority string

const (
	// PriorityRemote means the remote branch content wins
	PriorityRemote Priority = "REMOTE"
	// PriorityLocal means the local project content wins
	PriorityLocal Priority = "LOCAL"
)

// ChangeRecord is one classified difference between two manifests
type ChangeRecord struct {
	Action   Action   `json:"action"`
	Path     string   `json:"file_path"`
	Reason   Reason   `json:"reason"`
	Priority Priority `json:"priority"`
}

// Dir returns the slash-separated parent directory of the record path
func (c ChangeRecord) Dir() string {
	return path.Dir(c.Path)
}

// IsCopy reports whether the record transfers content (ADD or UPDATE)
func (c ChangeRecord) IsCopy() bool {
	return c.Action == ActionAdd || c.Action == ActionUpdate
}

// BlobInfo describes a blob created on the host for one uploaded file
type BlobInfo struct {
	RelativePath string
	SHA          string
	Mode         string
	Size         int64
}

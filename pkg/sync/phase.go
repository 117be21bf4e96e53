package sync

import (
	"errors"
	"fmt"
)

// Phase names one step of a sync cycle
type Phase string

const (
	PhasePrepareScratch   Phase = "PREPARE_SCRATCH"
	PhaseDownload         Phase = "DOWNLOAD"
	PhaseUnpack           Phase = "UNPACK"
	PhaseRemoteManifest   Phase = "REMOTE_MANIFEST"
	PhaseLocalManifest    Phase = "LOCAL_MANIFEST"
	PhaseDiff             Phase = "DIFF"
	PhaseApply            Phase = "APPLY"
	PhaseRebuildManifests Phase = "REBUILD_MANIFESTS"
	PhaseRepack           Phase = "REPACK"
	PhaseUpload           Phase = "UPLOAD"
)

var (
	// ErrChangesFailed is returned when at least one change record could not be applied
	ErrChangesFailed = errors.New("some changes could not be applied")

	// ErrManifestMismatch is returned when the tree after apply does not match the desired manifest
	ErrManifestMismatch = errors.New("rebuilt manifest does not match the desired state")
)

// PhaseError wraps the error that stopped a cycle with the phase it happened in
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

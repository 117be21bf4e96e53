package remote

import (
	"errors"
	"fmt"

	"github.com/sdejongh/branchsync/pkg/models"
)

// Phase is a state of the write pipeline
type Phase string

const (
	PhaseIdle         Phase = "IDLE"
	PhaseProbe        Phase = "PROBE"
	PhaseGetHead      Phase = "GET_HEAD"
	PhaseCreateBlobs  Phase = "CREATE_BLOBS"
	PhaseCreateTree   Phase = "CREATE_TREE"
	PhaseCreateCommit Phase = "CREATE_COMMIT"
	PhaseUpdateRef    Phase = "UPDATE_REF"
	PhaseDone         Phase = "DONE"
	PhaseFailed       Phase = "FAILED"
)

// Phases lists the working phases in execution order
var Phases = []Phase{
	PhaseProbe,
	PhaseGetHead,
	PhaseCreateBlobs,
	PhaseCreateTree,
	PhaseCreateCommit,
	PhaseUpdateRef,
}

var (
	// ErrNotFastForward is returned when the branch moved while the commit was being built
	ErrNotFastForward = errors.New("branch moved, update is not a fast-forward")

	// ErrBlobMismatch is returned when the host acknowledges a blob with an unexpected SHA
	ErrBlobMismatch = errors.New("blob sha does not match content")

	// ErrIncompleteBatch is returned when a blob batch ends without every blob created
	ErrIncompleteBatch = errors.New("blob batch incomplete")
)

// PipelineError reports the phase the pipeline failed in and the host status code, if any
type PipelineError struct {
	Phase      Phase
	StatusCode int
	Err        error
}

func (e *PipelineError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed (status %d): %v", e.Phase, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Phase, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func failAt(phase Phase, err error) *PipelineError {
	return &PipelineError{Phase: phase, StatusCode: models.StatusCodeOf(err), Err: err}
}

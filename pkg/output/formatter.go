package output

import (
	"io"
	"os"

	"golang.org/x/term"

	"github.com/sdejongh/branchsync/pkg/models"
)

// ProgressUpdate represents a progress notification during a cycle
type ProgressUpdate struct {
	Type         string // "phase_start", "phase_complete", "phase_error", "transfer_progress", "file_complete", "file_error", "blob_created"
	Phase        string
	FilePath     string
	BytesWritten int64
	TotalBytes   int64
	CurrentFile  int
	TotalFiles   int
	Error        error
}

// Formatter defines the interface for output formatting
// Implementations include human-readable, JSON and progress bar formatters
type Formatter interface {
	// Start initializes the formatter for a new cycle
	Start(writer io.Writer, op *models.CycleOperation) error

	// Progress reports progress during the cycle. Implementations must be safe for concurrent use.
	Progress(update ProgressUpdate) error

	// Complete finalizes output and displays the cycle report
	Complete(report *models.CycleReport) error

	// Error reports an error during the cycle
	Error(err error) error

	// Name returns the formatter name
	Name() string
}

// New returns the formatter for the configured format.
// The progress formatter needs a terminal and falls back to human output otherwise.
func New(format string, progress bool, w io.Writer) Formatter {
	switch format {
	case "json":
		return NewJSONFormatter()
	}
	if progress && IsTerminal(w) {
		return NewProgressFormatter()
	}
	return NewHumanFormatter()
}

// IsTerminal reports whether w is attached to a terminal
func IsTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

// Notify sends an update to a formatter that may be nil
func Notify(f Formatter, update ProgressUpdate) {
	if f != nil {
		f.Progress(update)
	}
}

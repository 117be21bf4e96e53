package output

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sdejongh/branchsync/pkg/models"
)

// HumanFormatter formats output in human-readable format
type HumanFormatter struct {
	mu        sync.Mutex
	writer    io.Writer
	startTime time.Time
}

// NewHumanFormatter creates a new human-readable formatter
func NewHumanFormatter() *HumanFormatter {
	return &HumanFormatter{}
}

// Start initializes the formatter
func (f *HumanFormatter) Start(writer io.Writer, op *models.CycleOperation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writer = writer
	f.startTime = time.Now()

	if writer != nil {
		mode := string(op.Direction)
		if op.AnalyzeOnly {
			mode += ", analyze only"
		}
		fmt.Fprintf(writer, "Starting %s cycle: %s/%s@%s <-> %s\n",
			mode, op.Owner, op.Repo, op.Branch, op.ProjectPath)
	}

	return nil
}

// Progress reports progress during the cycle
func (f *HumanFormatter) Progress(update ProgressUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writer == nil {
		return nil
	}

	switch update.Type {
	case "phase_start":
		fmt.Fprintf(f.writer, "==> %s\n", update.Phase)

	case "file_complete":
		fmt.Fprintf(f.writer, "[%d/%d] ✓ %s (%s)\n",
			update.CurrentFile, update.TotalFiles,
			update.FilePath, formatBytes(update.BytesWritten))

	case "file_error":
		fmt.Fprintf(f.writer, "[%d/%d] ✗ %s: %v\n",
			update.CurrentFile, update.TotalFiles,
			update.FilePath, update.Error)

	case "blob_created":
		fmt.Fprintf(f.writer, "[%d/%d] ↑ %s\n",
			update.CurrentFile, update.TotalFiles, update.FilePath)
	}

	return nil
}

// Complete finalizes output and displays summary
func (f *HumanFormatter) Complete(report *models.CycleReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writer == nil {
		f.writer = io.Discard
	}
	writeSummary(f.writer, report)
	return nil
}

// Error reports an error
func (f *HumanFormatter) Error(err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writer != nil {
		fmt.Fprintf(f.writer, "Error: %v\n", err)
	}
	return nil
}

// Name returns the formatter name
func (f *HumanFormatter) Name() string {
	return "human"
}

// writeSummary prints the end-of-cycle summary shared by the human and progress formatters
func writeSummary(w io.Writer, report *models.CycleReport) {
	verb := "Cycle"
	if report.AnalyzeOnly {
		verb = "Analysis"
	}

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "%s completed in %s\n", verb, report.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Summary:\n")
	fmt.Fprintf(w, "  Repository:       %s@%s (%s)\n", report.Repository, report.Branch, report.Direction)
	fmt.Fprintf(w, "  Scanned:\n")
	fmt.Fprintf(w, "    Local:          %d files\n", report.Stats.LocalFiles)
	fmt.Fprintf(w, "    Remote:         %d files\n", report.Stats.RemoteFiles)
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  Changes:\n")
	fmt.Fprintf(w, "    Added:          %d\n", report.Stats.FilesAdded)
	fmt.Fprintf(w, "    Updated:        %d\n", report.Stats.FilesUpdated)
	fmt.Fprintf(w, "    Removed:        %d\n", report.Stats.FilesRemoved)

	if !report.AnalyzeOnly {
		fmt.Fprintf(w, "    Applied:        %d\n", report.Stats.ChangesApplied)
		fmt.Fprintf(w, "    Failed:         %d\n", report.Stats.ChangesFailed)
		fmt.Fprintf(w, "\n")
		fmt.Fprintf(w, "  Transfer:\n")
		fmt.Fprintf(w, "    Downloaded:     %s\n", formatBytes(report.Stats.BytesDownloaded))
		if report.Stats.BlobsCreated > 0 {
			fmt.Fprintf(w, "    Uploaded:       %s in %d blobs\n", formatBytes(report.Stats.BytesUploaded), report.Stats.BlobsCreated)
		}
	}

	if report.CommitSHA != "" {
		fmt.Fprintf(w, "\n")
		fmt.Fprintf(w, "Commit: %s\n", report.CommitSHA)
	}

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Status: %s\n", report.Status)
	if report.FailedPhase != "" {
		fmt.Fprintf(w, "Failed phase: %s\n", report.FailedPhase)
	}

	if len(report.Errors) > 0 {
		fmt.Fprintf(w, "\nErrors:\n")
		for _, e := range report.Errors {
			if e.FilePath != "" {
				fmt.Fprintf(w, "  [%s] %s: %s\n", e.Phase, e.FilePath, e.Error)
			} else {
				fmt.Fprintf(w, "  [%s] %s\n", e.Phase, e.Error)
			}
		}
	}
}

// formatBytes formats bytes in human-readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

package output

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"golang.org/x/term"

	"github.com/sdejongh/branchsync/pkg/models"
)

const (
	bytesTemplate = `{{string . "prefix"}} {{counters . }} {{bar . "[" "█" "█" "░" "]"}} {{percent . }} {{speed . }}`
	countTemplate = `{{string . "prefix"}} {{counters . }} {{bar . "[" "█" "█" "░" "]"}} {{percent . }}`
)

// getUpdateInterval returns the bar refresh interval based on OS
// Windows terminals have higher latency with ANSI sequences, so we use a longer interval
func getUpdateInterval() time.Duration {
	if runtime.GOOS == "windows" {
		return 300 * time.Millisecond
	}
	return 100 * time.Millisecond
}

// ProgressFormatter renders transfer phases as progress bars.
// One bar is live at a time: download bytes, applied changes or uploaded blobs.
type ProgressFormatter struct {
	mu        sync.Mutex
	writer    io.Writer
	termWidth int
	bar       *pb.ProgressBar
	barPhase  string
	startTime time.Time
}

// NewProgressFormatter creates a new progress bar formatter
func NewProgressFormatter() *ProgressFormatter {
	return &ProgressFormatter{}
}

// Start initializes the formatter
func (f *ProgressFormatter) Start(writer io.Writer, op *models.CycleOperation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if writer == nil {
		writer = os.Stdout
	}
	f.writer = writer
	f.startTime = time.Now()

	// Detect terminal width to keep bars on one line
	if file, ok := writer.(*os.File); ok {
		if width, _, err := term.GetSize(int(file.Fd())); err == nil && width > 0 {
			f.termWidth = width
		}
	}
	if f.termWidth == 0 {
		f.termWidth = 120
	}

	fmt.Fprintf(writer, "%s %s/%s@%s\n", op.Direction, op.Owner, op.Repo, op.Branch)
	return nil
}

// Progress reports progress during the cycle
func (f *ProgressFormatter) Progress(update ProgressUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writer == nil {
		return nil
	}

	switch update.Type {
	case "phase_start":
		f.finishBar()
		fmt.Fprintf(f.writer, "==> %s\n", update.Phase)

	case "phase_complete", "phase_error":
		if f.barPhase == update.Phase {
			f.finishBar()
		}

	case "transfer_progress":
		bar := f.ensureBar(update.Phase, update.TotalBytes, true)
		bar.SetCurrent(update.BytesWritten)

	case "file_complete", "blob_created":
		bar := f.ensureBar(update.Phase, int64(update.TotalFiles), false)
		bar.SetCurrent(int64(update.CurrentFile))

	case "file_error":
		bar := f.ensureBar(update.Phase, int64(update.TotalFiles), false)
		bar.SetCurrent(int64(update.CurrentFile))
		fmt.Fprintf(f.writer, "\n✗ %s: %v\n", update.FilePath, update.Error)
	}

	return nil
}

// ensureBar returns the bar of the phase, replacing the bar of a previous phase
func (f *ProgressFormatter) ensureBar(phase string, total int64, bytes bool) *pb.ProgressBar {
	if f.bar != nil && f.barPhase == phase {
		if total > 0 {
			f.bar.SetTotal(total)
		}
		return f.bar
	}
	f.finishBar()

	tmpl := countTemplate
	if bytes {
		tmpl = bytesTemplate
	}

	bar := pb.New64(total)
	bar.SetTemplateString(tmpl)
	bar.SetWriter(f.writer)
	bar.SetWidth(f.termWidth)
	bar.SetRefreshRate(getUpdateInterval())
	bar.Set(pb.Bytes, bytes)
	bar.Set("prefix", fmt.Sprintf("%-14s", phase))
	bar.Start()

	f.bar = bar
	f.barPhase = phase
	return bar
}

func (f *ProgressFormatter) finishBar() {
	if f.bar != nil {
		f.bar.Finish()
		f.bar = nil
		f.barPhase = ""
	}
}

// Complete finalizes output and displays summary
func (f *ProgressFormatter) Complete(report *models.CycleReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.finishBar()
	if f.writer == nil {
		f.writer = io.Discard
	}
	writeSummary(f.writer, report)
	return nil
}

// Error reports an error
func (f *ProgressFormatter) Error(err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.finishBar()
	if f.writer != nil {
		fmt.Fprintf(f.writer, "\n❌ Error: %v\n", err)
	}
	return nil
}

// Name returns the formatter name
func (f *ProgressFormatter) Name() string {
	return "progress"
}

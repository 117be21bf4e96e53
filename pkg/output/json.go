package output

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sdejongh/branchsync/pkg/models"
)

// JSONFormatter formats output as JSON for automation and scripting
type JSONFormatter struct {
	mu        sync.Mutex
	writer    io.Writer
	startTime time.Time
	events    []JSONEvent
}

// JSONEvent represents a single event recorded during the cycle
type JSONEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Phase     string    `json:"phase,omitempty"`
	Path      string    `json:"path,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// JSONReportData represents the final report data
type JSONReportData struct {
	OperationID string                `json:"operation_id"`
	Repository  string                `json:"repository"`
	Branch      string                `json:"branch"`
	Direction   string                `json:"direction"`
	AnalyzeOnly bool                  `json:"analyze_only"`
	Status      string                `json:"status"`
	FailedPhase string                `json:"failed_phase,omitempty"`
	Duration    string                `json:"duration"`
	DurationMs  int64                 `json:"duration_ms"`
	Phases      []string              `json:"phases"`
	CommitSHA   string                `json:"commit_sha,omitempty"`
	Stats       JSONStatsData         `json:"stats"`
	Changes     []models.ChangeRecord `json:"changes,omitempty"`
	Errors      []JSONErrorData       `json:"errors,omitempty"`
	Events      []JSONEvent           `json:"events,omitempty"`
}

// JSONStatsData represents statistics in JSON format
type JSONStatsData struct {
	LocalFiles      int   `json:"local_files"`
	RemoteFiles     int   `json:"remote_files"`
	FilesAdded      int   `json:"files_added"`
	FilesUpdated    int   `json:"files_updated"`
	FilesRemoved    int   `json:"files_removed"`
	ChangesApplied  int   `json:"changes_applied"`
	ChangesFailed   int   `json:"changes_failed"`
	BlobsCreated    int   `json:"blobs_created"`
	BytesDownloaded int64 `json:"bytes_downloaded"`
	BytesUploaded   int64 `json:"bytes_uploaded"`
}

// JSONErrorData represents an error entry
type JSONErrorData struct {
	Phase string `json:"phase"`
	Path  string `json:"path,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error"`
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{
		events: make([]JSONEvent, 0),
	}
}

// Start initializes the formatter
func (f *JSONFormatter) Start(writer io.Writer, op *models.CycleOperation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if writer == nil {
		writer = os.Stdout
	}
	f.writer = writer
	f.startTime = time.Now()
	return nil
}

// Progress records phase boundaries and file failures; per-byte progress is dropped
// to keep the output clean and parseable
func (f *JSONFormatter) Progress(update ProgressUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch update.Type {
	case "phase_start", "phase_complete":
		f.events = append(f.events, JSONEvent{Timestamp: time.Now(), Type: update.Type, Phase: update.Phase})
	case "file_error", "phase_error":
		event := JSONEvent{Timestamp: time.Now(), Type: update.Type, Phase: update.Phase, Path: update.FilePath}
		if update.Error != nil {
			event.Error = update.Error.Error()
		}
		f.events = append(f.events, event)
	}
	return nil
}

// Complete writes the cycle report as one JSON document
func (f *JSONFormatter) Complete(report *models.CycleReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writer == nil {
		f.writer = io.Discard
	}

	var errors []JSONErrorData
	for _, e := range report.Errors {
		errors = append(errors, JSONErrorData{
			Phase: e.Phase,
			Path:  e.FilePath,
			Kind:  string(e.Kind),
			Error: e.Error,
		})
	}

	phases := report.Phases
	if phases == nil {
		phases = []string{}
	}

	data := JSONReportData{
		OperationID: report.OperationID,
		Repository:  report.Repository,
		Branch:      report.Branch,
		Direction:   string(report.Direction),
		AnalyzeOnly: report.AnalyzeOnly,
		Status:      string(report.Status),
		FailedPhase: report.FailedPhase,
		Duration:    report.Duration.Round(time.Millisecond).String(),
		DurationMs:  report.Duration.Milliseconds(),
		Phases:      phases,
		CommitSHA:   report.CommitSHA,
		Stats: JSONStatsData{
			LocalFiles:      report.Stats.LocalFiles,
			RemoteFiles:     report.Stats.RemoteFiles,
			FilesAdded:      report.Stats.FilesAdded,
			FilesUpdated:    report.Stats.FilesUpdated,
			FilesRemoved:    report.Stats.FilesRemoved,
			ChangesApplied:  report.Stats.ChangesApplied,
			ChangesFailed:   report.Stats.ChangesFailed,
			BlobsCreated:    report.Stats.BlobsCreated,
			BytesDownloaded: report.Stats.BytesDownloaded,
			BytesUploaded:   report.Stats.BytesUploaded,
		},
		Changes: report.Changes,
		Errors:  errors,
		Events:  f.events,
	}

	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Error records an error event
func (f *JSONFormatter) Error(err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, JSONEvent{
		Timestamp: time.Now(),
		Type:      "error",
		Error:     err.Error(),
	})
	return nil
}

// Name returns the formatter name
func (f *JSONFormatter) Name() string {
	return "json"
}

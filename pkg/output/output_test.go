package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdejongh/branchsync/pkg/models"
)

func testOperation() *models.CycleOperation {
	return &models.CycleOperation{
		ID:          "op-1",
		Owner:       "octo",
		Repo:        "site",
		Branch:      "main",
		ProjectPath: "/srv/site",
		Direction:   models.DirectionPush,
	}
}

func testReport() *models.CycleReport {
	r := &models.CycleReport{
		OperationID: "op-1",
		Repository:  "octo/site",
		Branch:      "main",
		Direction:   models.DirectionPush,
		Duration:    1500 * time.Millisecond,
		Phases:      []string{"PREPARE_SCRATCH", "DOWNLOAD"},
		FailedPhase: "UPLOAD",
		Changes: []models.ChangeRecord{
			{Action: models.ActionAdd, Path: "docs/new.md", Reason: models.ReasonNewDirectory, Priority: models.PriorityLocal},
			{Action: models.ActionRemove, Path: "old.txt", Reason: models.ReasonDeletedRemote, Priority: models.PriorityLocal},
		},
		Errors: []models.CycleError{
			{Phase: "UPLOAD", Kind: models.KindPermission, Error: "token has no push permission"},
		},
		Status: models.StatusFailed,
	}
	r.CountChanges()
	return r
}

func TestNewSelectsFormatter(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, "json", New("json", true, &buf).Name())
	// A buffer is never a terminal, so progress falls back to human output
	assert.Equal(t, "human", New("human", true, &buf).Name())
	assert.Equal(t, "human", New("human", false, &buf).Name())
}

func TestNotifyNilFormatter(t *testing.T) {
	assert.NotPanics(t, func() {
		Notify(nil, ProgressUpdate{Type: "phase_start", Phase: "DOWNLOAD"})
	})
}

func TestHumanFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewHumanFormatter()
	require.NoError(t, f.Start(&buf, testOperation()))

	f.Progress(ProgressUpdate{Type: "phase_start", Phase: "UPLOAD"})
	f.Progress(ProgressUpdate{Type: "blob_created", FilePath: "docs/new.md", CurrentFile: 1, TotalFiles: 1})
	f.Progress(ProgressUpdate{Type: "file_error", FilePath: "old.txt", CurrentFile: 2, TotalFiles: 2, Error: errors.New("boom")})
	require.NoError(t, f.Complete(testReport()))

	out := buf.String()
	assert.Contains(t, out, "Starting push cycle: octo/site@main <-> /srv/site")
	assert.Contains(t, out, "==> UPLOAD")
	assert.Contains(t, out, "[1/1] ↑ docs/new.md")
	assert.Contains(t, out, "✗ old.txt: boom")
	assert.Contains(t, out, "Added:          1")
	assert.Contains(t, out, "Removed:        1")
	assert.Contains(t, out, "Status: failed")
	assert.Contains(t, out, "Failed phase: UPLOAD")
	assert.Contains(t, out, "[UPLOAD] token has no push permission")
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewJSONFormatter()
	require.NoError(t, f.Start(&buf, testOperation()))

	f.Progress(ProgressUpdate{Type: "phase_start", Phase: "UPLOAD"})
	f.Progress(ProgressUpdate{Type: "transfer_progress", Phase: "DOWNLOAD", BytesWritten: 10})
	f.Progress(ProgressUpdate{Type: "phase_error", Phase: "UPLOAD", Error: errors.New("forbidden")})
	require.NoError(t, f.Complete(testReport()))

	var got JSONReportData
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))

	assert.Equal(t, "octo/site", got.Repository)
	assert.Equal(t, "failed", got.Status)
	assert.Equal(t, "UPLOAD", got.FailedPhase)
	assert.Equal(t, int64(1500), got.DurationMs)
	assert.Equal(t, 1, got.Stats.FilesAdded)
	assert.Len(t, got.Changes, 2)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, string(models.KindPermission), got.Errors[0].Kind)

	// Transfer progress is not recorded as an event
	require.Len(t, got.Events, 2)
	assert.Equal(t, "phase_start", got.Events[0].Type)
	assert.Equal(t, "phase_error", got.Events[1].Type)
	assert.Equal(t, "forbidden", got.Events[1].Error)
}

func TestJSONFormatterEmptyPhases(t *testing.T) {
	var buf bytes.Buffer
	f := NewJSONFormatter()
	require.NoError(t, f.Start(&buf, testOperation()))
	require.NoError(t, f.Complete(&models.CycleReport{Status: models.StatusFailed}))
	assert.Contains(t, buf.String(), `"phases": []`)
}

func TestWriteChangesReport(t *testing.T) {
	header := ChangesHeader{
		Current:  "RemoteManifest.json",
		Desired:  "LocalManifest.json",
		Priority: models.PriorityLocal,
		Analyzed: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	changes := testReport().Changes

	t.Run("Human", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteChangesReport(&buf, header, changes, "human"))
		out := buf.String()
		assert.Contains(t, out, "Generated: 2026-03-01T12:00:00Z")
		assert.Contains(t, out, "Total Changes: 2")
		assert.Contains(t, out, "Added (1 files)")
		assert.Contains(t, out, "Removed (1 files)")
		assert.NotContains(t, out, "Updated (")
		assert.Less(t, strings.Index(out, "Added"), strings.Index(out, "Removed"))
	})

	t.Run("JSON", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteChangesReport(&buf, header, nil, "json"))
		var doc map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
		assert.Equal(t, float64(0), doc["total_count"])
		assert.Equal(t, []any{}, doc["changes"])
		assert.Equal(t, "LOCAL", doc["priority"])
	})
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBytes(tt.in))
	}
}

package diff

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sdejongh/branchsync/internal/platform"
	"github.com/sdejongh/branchsync/pkg/manifest"
	"github.com/sdejongh/branchsync/pkg/models"
)

// ChangeList is the persisted result of one analysis
type ChangeList struct {
	Differences      []models.ChangeRecord `json:"differences"`
	AnalysisDate     string                `json:"analysis_date"`
	TotalDifferences int                   `json:"total_differences"`
}

// NewChangeList wraps change records into a document stamped with the analysis time
func NewChangeList(changes []models.ChangeRecord, now time.Time) *ChangeList {
	if changes == nil {
		changes = []models.ChangeRecord{}
	}
	return &ChangeList{
		Differences:      changes,
		AnalysisDate:     now.UTC().Format(time.RFC3339),
		TotalDifferences: len(changes),
	}
}

// SaveChangeList writes the change list document atomically
func SaveChangeList(path string, cl *ChangeList) error {
	data, err := json.MarshalIndent(cl, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal change list: %w", err)
	}
	if err := manifest.WriteFileAtomic(path, data); err != nil {
		return models.IOError("save change list", path, err)
	}
	return nil
}

type rawChangeList struct {
	Differences []struct {
		Action   *models.Action   `json:"action"`
		Path     *string          `json:"file_path"`
		Reason   models.Reason    `json:"reason"`
		Priority *models.Priority `json:"priority"`
	} `json:"differences"`
	AnalysisDate     *string `json:"analysis_date"`
	TotalDifferences *int    `json:"total_differences"`
}

// LoadChangeList reads and validates a change list document
func LoadChangeList(path string) (*ChangeList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, models.NotFoundError("load change list", path, err)
		}
		return nil, models.IOError("load change list", path, err)
	}

	cl, err := ParseChangeList(data)
	if err != nil {
		return nil, models.ParseError("load change list", path, err)
	}
	return cl, nil
}

// ParseChangeList decodes a change list document and rejects missing or invalid fields
func ParseChangeList(data []byte) (*ChangeList, error) {
	var raw rawChangeList
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}

	if raw.Differences == nil {
		return nil, errors.New("missing field: differences")
	}
	if raw.AnalysisDate == nil {
		return nil, errors.New("missing field: analysis_date")
	}
	if _, err := time.Parse(time.RFC3339, *raw.AnalysisDate); err != nil {
		return nil, fmt.Errorf("invalid analysis_date: %w", err)
	}
	if raw.TotalDifferences == nil {
		return nil, errors.New("missing field: total_differences")
	}
	if *raw.TotalDifferences != len(raw.Differences) {
		return nil, fmt.Errorf("total_differences is %d but %d records are listed", *raw.TotalDifferences, len(raw.Differences))
	}

	cl := &ChangeList{
		Differences:      make([]models.ChangeRecord, 0, len(raw.Differences)),
		AnalysisDate:     *raw.AnalysisDate,
		TotalDifferences: *raw.TotalDifferences,
	}

	for i, d := range raw.Differences {
		if d.Action == nil {
			return nil, fmt.Errorf("differences[%d]: missing field: action", i)
		}
		if !d.Action.Valid() {
			return nil, fmt.Errorf("differences[%d]: unknown action %q", i, *d.Action)
		}
		if d.Path == nil {
			return nil, fmt.Errorf("differences[%d]: missing field: file_path", i)
		}
		if err := platform.ValidateRelPath(*d.Path); err != nil {
			return nil, fmt.Errorf("differences[%d]: %w", i, err)
		}
		if d.Priority == nil {
			return nil, fmt.Errorf("differences[%d]: missing field: priority", i)
		}

		cl.Differences = append(cl.Differences, models.ChangeRecord{
			Action:   *d.Action,
			Path:     *d.Path,
			Reason:   d.Reason,
			Priority: *d.Priority,
		})
	}

	return cl, nil
}

package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sdejongh/branchsync/pkg/models"
)

// ChangesHeader describes where a change report comes from
type ChangesHeader struct {
	Current  string
	Desired  string
	Priority models.Priority
	Analyzed time.Time
}

// WriteChangesReport writes a change list in "human" or "json" format
func WriteChangesReport(w io.Writer, header ChangesHeader, changes []models.ChangeRecord, format string) error {
	switch format {
	case "json":
		return writeChangesJSON(w, header, changes)
	default:
		return writeChangesHuman(w, header, changes)
	}
}

// writeChangesHuman writes changes in human-readable format, grouped by action
func writeChangesHuman(w io.Writer, header ChangesHeader, changes []models.ChangeRecord) error {
	fmt.Fprintf(w, "Changes Report\n")
	fmt.Fprintf(w, "==============\n\n")
	fmt.Fprintf(w, "Generated: %s\n", header.Analyzed.Format(time.RFC3339))
	if header.Current != "" {
		fmt.Fprintf(w, "Current:   %s\n", header.Current)
	}
	if header.Desired != "" {
		fmt.Fprintf(w, "Desired:   %s\n", header.Desired)
	}
	if header.Priority != "" {
		fmt.Fprintf(w, "Priority:  %s\n", header.Priority)
	}
	fmt.Fprintf(w, "\nTotal Changes: %d\n\n", len(changes))

	byAction := make(map[models.Action][]models.ChangeRecord)
	for _, c := range changes {
		byAction[c.Action] = append(byAction[c.Action], c)
	}

	order := []models.Action{models.ActionAdd, models.ActionUpdate, models.ActionRemove}
	labels := map[models.Action]string{
		models.ActionAdd:    "Added",
		models.ActionUpdate: "Updated",
		models.ActionRemove: "Removed",
	}

	for _, action := range order {
		records := byAction[action]
		if len(records) == 0 {
			continue
		}

		label := fmt.Sprintf("%s (%d files)", labels[action], len(records))
		fmt.Fprintf(w, "%s\n", label)
		fmt.Fprintf(w, "%s\n", strings.Repeat("-", len(label)))
		for _, c := range records {
			fmt.Fprintf(w, "  %-60s %s\n", c.Path, c.Reason)
		}
		fmt.Fprintf(w, "\n")
	}

	return nil
}

// writeChangesJSON writes changes in JSON format
func writeChangesJSON(w io.Writer, header ChangesHeader, changes []models.ChangeRecord) error {
	if changes == nil {
		changes = []models.ChangeRecord{}
	}
	doc := struct {
		Generated  string                `json:"generated"`
		Current    string                `json:"current,omitempty"`
		Desired    string                `json:"desired,omitempty"`
		Priority   models.Priority       `json:"priority,omitempty"`
		TotalCount int                   `json:"total_count"`
		Changes    []models.ChangeRecord `json:"changes"`
	}{
		Generated:  header.Analyzed.Format(time.RFC3339),
		Current:    header.Current,
		Desired:    header.Desired,
		Priority:   header.Priority,
		TotalCount: len(changes),
		Changes:    changes,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(doc)
}

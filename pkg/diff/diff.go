// Package diff classifies the differences between two manifests into change records.
package diff

import (
	"sort"

	"github.com/sdejongh/branchsync/pkg/manifest"
	"github.com/sdejongh/branchsync/pkg/models"
)

// Diff returns the changes that turn current into desired, sorted by path.
// Directories whose digests match on both sides are skipped without looking at their files.
func Diff(current, desired *manifest.Manifest, priority models.Priority) []models.ChangeRecord {
	var changes []models.ChangeRecord

	for dir, want := range desired.Directories {
		have, ok := current.Directories[dir]
		if !ok {
			for name := range want.Files {
				changes = append(changes, record(models.ActionAdd, dir, name, models.ReasonNewDirectory, priority))
			}
			continue
		}
		if have.Hash != "" && have.Hash == want.Hash {
			continue
		}

		for name, sum := range want.Files {
			existing, found := have.Files[name]
			switch {
			case !found:
				changes = append(changes, record(models.ActionAdd, dir, name, models.ReasonNewFile, priority))
			case existing != sum:
				changes = append(changes, record(models.ActionUpdate, dir, name, models.ReasonHashMismatch, priority))
			}
		}
	}

	for dir, have := range current.Directories {
		want, ok := desired.Directories[dir]
		if ok && have.Hash != "" && have.Hash == want.Hash {
			continue
		}
		for name := range have.Files {
			if ok {
				if _, found := want.Files[name]; found {
					continue
				}
			}
			changes = append(changes, record(models.ActionRemove, dir, name, models.ReasonDeletedRemote, priority))
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Path < changes[j].Path
	})

	return changes
}

func record(action models.Action, dir, name string, reason models.Reason, priority models.Priority) models.ChangeRecord {
	return models.ChangeRecord{
		Action:   action,
		Path:     manifest.JoinPath(dir, name),
		Reason:   reason,
		Priority: priority,
	}
}

// Summary counts change records per action
type Summary struct {
	Added   int
	Updated int
	Removed int
}

// Total returns the number of records summarized
func (s Summary) Total() int {
	return s.Added + s.Updated + s.Removed
}

// Summarize counts the records per action
func Summarize(changes []models.ChangeRecord) Summary {
	var s Summary
	for _, c := range changes {
		switch c.Action {
		case models.ActionAdd:
			s.Added++
		case models.ActionUpdate:
			s.Updated++
		case models.ActionRemove:
			s.Removed++
		}
	}
	return s
}

// Split separates the records that transfer content from the removals
func Split(changes []models.ChangeRecord) (copies, removals []models.ChangeRecord) {
	for _, c := range changes {
		if c.IsCopy() {
			copies = append(copies, c)
		} else {
			removals = append(removals, c)
		}
	}
	return copies, removals
}

package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sdejongh/branchsync/internal/platform"
	"github.com/sdejongh/branchsync/pkg/digest"
	"github.com/sdejongh/branchsync/pkg/models"
)

// Save writes the manifest document to path, replacing any previous version atomically
func Save(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := WriteFileAtomic(path, data); err != nil {
		return models.IOError("save manifest", path, err)
	}
	return nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames it into place
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// rawManifest mirrors the document with pointers so missing fields can be told apart from zero values
type rawManifest struct {
	Metadata *struct {
		CreatedDate *string `json:"created_date"`
		TotalFiles  *int    `json:"total_files"`
		Type        Kind    `json:"manifest_type"`
		Root        string  `json:"root"`
	} `json:"metadata"`
	Directories map[string]*struct {
		Hash  *string           `json:"directory_hash"`
		Files map[string]string `json:"files"`
	} `json:"directories"`
}

// Load reads and validates a manifest document.
// A missing file is a NotFound error, anything malformed is a Parse error.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, models.NotFoundError("load manifest", path, err)
		}
		return nil, models.IOError("load manifest", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, models.ParseError("load manifest", path, err)
	}
	return m, nil
}

// Parse decodes and validates a manifest document in one step
func Parse(data []byte) (*Manifest, error) {
	var raw rawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}

	if raw.Metadata == nil {
		return nil, errors.New("missing field: metadata")
	}
	if raw.Metadata.CreatedDate == nil {
		return nil, errors.New("missing field: metadata.created_date")
	}
	if _, err := time.Parse(time.RFC3339, *raw.Metadata.CreatedDate); err != nil {
		return nil, fmt.Errorf("invalid metadata.created_date: %w", err)
	}
	if raw.Metadata.TotalFiles == nil {
		return nil, errors.New("missing field: metadata.total_files")
	}
	if raw.Directories == nil {
		return nil, errors.New("missing field: directories")
	}

	m := New(raw.Metadata.Type, raw.Metadata.Root)
	m.Metadata.CreatedDate = *raw.Metadata.CreatedDate

	total := 0
	for dir, d := range raw.Directories {
		if d == nil {
			return nil, fmt.Errorf("directory %q: null entry", dir)
		}
		if dir != RootDir {
			if err := platform.ValidateRelPath(dir); err != nil {
				return nil, fmt.Errorf("directory %q: %w", dir, err)
			}
		}
		if d.Hash == nil {
			return nil, fmt.Errorf("directory %q: missing field: directory_hash", dir)
		}
		if d.Files == nil {
			return nil, fmt.Errorf("directory %q: missing field: files", dir)
		}
		for name, sum := range d.Files {
			if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
				return nil, fmt.Errorf("directory %q: invalid file name %q", dir, name)
			}
			if !digest.Valid(sum) {
				return nil, fmt.Errorf("file %q: invalid digest", JoinPath(dir, name))
			}
		}
		if *d.Hash != digest.HashDirectory(d.Files) {
			return nil, fmt.Errorf("directory %q: directory_hash does not match its files", dir)
		}
		m.Directories[dir] = &Directory{Hash: *d.Hash, Files: d.Files}
		total += len(d.Files)
	}

	if total != *raw.Metadata.TotalFiles {
		return nil, fmt.Errorf("metadata.total_files is %d but directories list %d files", *raw.Metadata.TotalFiles, total)
	}
	m.Metadata.TotalFiles = total

	return m, nil
}

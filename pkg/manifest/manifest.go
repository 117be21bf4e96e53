// Package manifest builds, persists and loads content-addressed snapshots of a directory tree.
package manifest

import (
	"path"
	"sort"
	"strings"

	"github.com/sdejongh/branchsync/pkg/digest"
)

// RootDir is the directory key used for files directly under the manifest root
const RootDir = "."

// Kind tells which side of the reconciliation a manifest describes
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

// Manifest maps directory paths to the digests of the files they contain
type Manifest struct {
	Metadata    Metadata              `json:"metadata"`
	Directories map[string]*Directory `json:"directories"`
}

// Metadata describes when and from where a manifest was built
type Metadata struct {
	CreatedDate string `json:"created_date"`
	TotalFiles  int    `json:"total_files"`
	Type        Kind   `json:"manifest_type,omitempty"`
	Root        string `json:"root,omitempty"`
}

// Directory holds the file digests of one directory and their aggregate digest
type Directory struct {
	Hash  string            `json:"directory_hash"`
	Files map[string]string `json:"files"`
}

// New creates an empty manifest
func New(kind Kind, root string) *Manifest {
	return &Manifest{
		Metadata:    Metadata{Type: kind, Root: root},
		Directories: make(map[string]*Directory),
	}
}

// SplitPath splits a slash-separated file path into its directory key and file name
func SplitPath(p string) (dir, name string) {
	dir, name = path.Split(p)
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		dir = RootDir
	}
	return dir, name
}

// JoinPath is the inverse of SplitPath
func JoinPath(dir, name string) string {
	if dir == RootDir || dir == "" {
		return name
	}
	return dir + "/" + name
}

// Add records the digest of a file. Directory digests are stale until Seal is called.
func (m *Manifest) Add(filePath, sum string) {
	dir, name := SplitPath(filePath)
	d, ok := m.Directories[dir]
	if !ok {
		d = &Directory{Files: make(map[string]string)}
		m.Directories[dir] = d
	}
	d.Files[name] = sum
}

// Seal recomputes every directory digest and the file total
func (m *Manifest) Seal() {
	total := 0
	for _, d := range m.Directories {
		d.Hash = digest.HashDirectory(d.Files)
		total += len(d.Files)
	}
	m.Metadata.TotalFiles = total
}

// Lookup returns the digest recorded for a file path
func (m *Manifest) Lookup(filePath string) (string, bool) {
	dir, name := SplitPath(filePath)
	d, ok := m.Directories[dir]
	if !ok {
		return "", false
	}
	sum, ok := d.Files[name]
	return sum, ok
}

// Files flattens the manifest into a map of file path to digest
func (m *Manifest) Files() map[string]string {
	files := make(map[string]string, m.Metadata.TotalFiles)
	for dir, d := range m.Directories {
		for name, sum := range d.Files {
			files[JoinPath(dir, name)] = sum
		}
	}
	return files
}

// Paths returns every file path in lexical order
func (m *Manifest) Paths() []string {
	files := m.Files()
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// DirNames returns the directory keys in lexical order
func (m *Manifest) DirNames() []string {
	names := make([]string, 0, len(m.Directories))
	for name := range m.Directories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Equal reports whether two manifests describe the same tree. Metadata is ignored.
func (m *Manifest) Equal(other *Manifest) bool {
	if len(m.Directories) != len(other.Directories) {
		return false
	}
	for dir, d := range m.Directories {
		o, ok := other.Directories[dir]
		if !ok || d.Hash != o.Hash || len(d.Files) != len(o.Files) {
			return false
		}
		for name, sum := range d.Files {
			if o.Files[name] != sum {
				return false
			}
		}
	}
	return true
}

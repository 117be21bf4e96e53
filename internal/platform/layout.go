package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Scratch file and directory names
const (
	DownloadArchiveName = "branch_download.zip"
	UploadArchiveName   = "updated_branch.zip"
	ExtractedDirName    = "extracted"
	UpdatedDirName      = "updated"
	LocalManifestName   = "LocalManifest.json"
	RemoteManifestName  = "RemoteManifest.json"
	ChangeListName      = "Differences.json"
	LockFileName        = ".lock"
)

// ErrScratchLocked is returned when another cycle holds the scratch lock
var ErrScratchLocked = errors.New("scratch space is locked by another cycle")

// Layout resolves every file a cycle reads or writes under one scratch root
type Layout struct {
	Root string
}

// NewLayout creates a layout rooted at the given directory
func NewLayout(root string) Layout {
	return Layout{Root: NormalizePath(root)}
}

func (l Layout) DownloadArchive() string { return filepath.Join(l.Root, DownloadArchiveName) }
func (l Layout) UploadArchive() string   { return filepath.Join(l.Root, UploadArchiveName) }
func (l Layout) ExtractedDir() string    { return filepath.Join(l.Root, ExtractedDirName) }
func (l Layout) UpdatedDir() string      { return filepath.Join(l.Root, UpdatedDirName) }
func (l Layout) LocalManifest() string   { return filepath.Join(l.Root, LocalManifestName) }
func (l Layout) RemoteManifest() string  { return filepath.Join(l.Root, RemoteManifestName) }
func (l Layout) ChangeList() string      { return filepath.Join(l.Root, ChangeListName) }
func (l Layout) LockFile() string        { return filepath.Join(l.Root, LockFileName) }

// Reset removes the transient archives and snapshot directories and recreates the root.
// Manifest and change-list documents survive so an interrupted cycle can be resumed.
func (l Layout) Reset() error {
	if err := os.MkdirAll(l.Root, 0755); err != nil {
		return fmt.Errorf("failed to create scratch root: %w", err)
	}
	for _, p := range []string{l.DownloadArchive(), l.UploadArchive(), l.ExtractedDir(), l.UpdatedDir()} {
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("failed to clear %s: %w", p, err)
		}
	}
	for _, dir := range []string{l.ExtractedDir(), l.UpdatedDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Lock takes the scratch lock file exclusively. The returned function releases it.
// The owner string is written into the file so a stale lock can be traced.
func (l Layout) Lock(owner string) (func() error, error) {
	if err := os.MkdirAll(l.Root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch root: %w", err)
	}

	lockPath := l.LockFile()
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			holder, _ := os.ReadFile(lockPath)
			return nil, fmt.Errorf("%w: %s (held by %s)", ErrScratchLocked, lockPath, string(holder))
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}

	fmt.Fprintf(f, "%s %s", owner, time.Now().UTC().Format(time.RFC3339))
	if err := f.Close(); err != nil {
		os.Remove(lockPath)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	return func() error {
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to release lock: %w", err)
		}
		return nil
	}, nil
}

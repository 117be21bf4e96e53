package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// FS is a storage backend over a billy filesystem
type FS struct {
	fs   billy.Filesystem
	root string
}

// NewLocal creates a backend rooted at an existing directory on disk
func NewLocal(rootPath string) (*FS, error) {
	absPath, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to access path: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", absPath)
	}

	return NewFS(osfs.New(absPath)), nil
}

// NewMemory creates an empty in-memory backend
func NewMemory() *FS {
	return NewFS(memfs.New())
}

// NewFS wraps an arbitrary billy filesystem
func NewFS(fsys billy.Filesystem) *FS {
	return &FS{fs: fsys, root: fsys.Root()}
}

// Root returns the directory the backend is rooted at ("/" for memory backends)
func (b *FS) Root() string {
	if b.root == "" {
		return b.fs.Root()
	}
	return b.root
}

// List returns all files in the directory recursively, in lexical order
func (b *FS) List(ctx context.Context, dir string) ([]FileInfo, error) {
	var files []FileInfo

	start := "/" + strings.TrimPrefix(dir, "/")
	err := util.Walk(b.fs, start, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Check context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rel := strings.TrimPrefix(filepath.ToSlash(p), "/")
		files = append(files, FileInfo{
			Path:         b.fs.Join(b.Root(), rel),
			Size:         info.Size(),
			ModTime:      info.ModTime(),
			IsDir:        info.IsDir(),
			Permissions:  uint32(info.Mode().Perm()),
			RelativePath: rel,
		})

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return files, nil
}

// Read opens a file for reading
func (b *FS) Read(ctx context.Context, name string) (io.ReadCloser, error) {
	file, err := b.fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Write creates or overwrites a file
func (b *FS) Write(ctx context.Context, name string, reader io.Reader, size int64, metadata *FileInfo) error {
	if dir := path.Dir(name); dir != "." {
		if err := b.fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	perm := os.FileMode(0644)
	if metadata != nil && metadata.Permissions != 0 {
		perm = os.FileMode(metadata.Permissions).Perm()
		// billy applies permissions on creation only
		if err := b.fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to replace file: %w", err)
		}
	}

	file, err := b.fs.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, reader)
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	if size >= 0 && written != size {
		return fmt.Errorf("incomplete write: expected %d bytes, wrote %d", size, written)
	}

	return nil
}

// Delete removes a file or directory
func (b *FS) Delete(ctx context.Context, name string) error {
	if err := util.RemoveAll(b.fs, name); err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}

	return nil
}

// Exists checks if a file or directory exists
func (b *FS) Exists(ctx context.Context, name string) (bool, error) {
	_, err := b.fs.Stat(name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check existence: %w", err)
}

// Stat returns file metadata
func (b *FS) Stat(ctx context.Context, name string) (*FileInfo, error) {
	info, err := b.fs.Stat(name)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	rel := strings.TrimPrefix(filepath.ToSlash(name), "/")
	return &FileInfo{
		Path:         b.fs.Join(b.Root(), rel),
		Size:         info.Size(),
		ModTime:      info.ModTime(),
		IsDir:        info.IsDir(),
		Permissions:  uint32(info.Mode().Perm()),
		RelativePath: rel,
	}, nil
}

// MkdirAll creates a directory and all necessary parents
func (b *FS) MkdirAll(ctx context.Context, name string) error {
	if err := b.fs.MkdirAll(name, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	return nil
}

// Close releases resources (no-op for billy filesystems)
func (b *FS) Close() error {
	return nil
}

// Package archive packs and unpacks directory trees as zip archives.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sdejongh/branchsync/internal/platform"
	"github.com/sdejongh/branchsync/pkg/storage"
)

// ErrMultipleRoots is returned when StripTopLevel is set but entries do not share one root folder
var ErrMultipleRoots = errors.New("archive has more than one top-level entry")

// File is one file to pack
type File struct {
	AbsolutePath string
	RelativePath string // slash-separated name inside the archive
}

// Pack writes the files into a zip archive, sorted by relative path, keeping permission bits
func Pack(w io.Writer, files []File) (int, error) {
	sorted := make([]File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].RelativePath < sorted[j].RelativePath
	})

	zw := zip.NewWriter(w)
	count := 0
	for _, f := range sorted {
		if err := platform.ValidateRelPath(f.RelativePath); err != nil {
			zw.Close()
			return count, fmt.Errorf("invalid path %s: %w", f.RelativePath, err)
		}
		if err := addFile(zw, f); err != nil {
			zw.Close()
			return count, err
		}
		count++
	}

	if err := zw.Close(); err != nil {
		return count, fmt.Errorf("finish archive: %w", err)
	}
	return count, nil
}

// PackFile packs the files into a new archive at path
func PackFile(path string, files []File) (int, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create archive: %w", err)
	}

	count, err := Pack(out, files)
	closeErr := out.Close()
	if err != nil {
		os.Remove(path)
		return count, err
	}
	if closeErr != nil {
		return count, fmt.Errorf("close archive: %w", closeErr)
	}
	return count, nil
}

func addFile(zw *zip.Writer, f File) error {
	in, err := os.Open(f.AbsolutePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.RelativePath, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", f.RelativePath, err)
	}

	hdr := &zip.FileHeader{
		Name:   f.RelativePath,
		Method: zip.Deflate,
	}
	hdr.SetMode(info.Mode().Perm())

	body, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("write header %s: %w", f.RelativePath, err)
	}
	if _, err := io.Copy(body, in); err != nil {
		return fmt.Errorf("write body %s: %w", f.RelativePath, err)
	}
	return nil
}

// Options controls Unpack
type Options struct {
	// StripTopLevel drops the single root folder that wraps every entry
	StripTopLevel bool
}

// UnpackStats summarizes one Unpack call
type UnpackStats struct {
	Files int
	Bytes int64
	Root  string // stripped root folder, empty when nothing was stripped
}

// Unpack extracts a zip archive into dest.
// Entries that would land outside dest are rejected before anything is written.
func Unpack(ctx context.Context, r io.ReaderAt, size int64, dest storage.Backend, opts Options) (*UnpackStats, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("read zip: %w", err)
	}

	stats := &UnpackStats{}
	if opts.StripTopLevel {
		root, err := topLevel(zr.File)
		if err != nil {
			return nil, err
		}
		stats.Root = root
	}

	type entry struct {
		file *zip.File
		name string
	}
	entries := make([]entry, 0, len(zr.File))
	for _, f := range zr.File {
		name := strings.TrimSuffix(f.Name, "/")
		if stats.Root != "" {
			name = strings.TrimPrefix(strings.TrimPrefix(name, stats.Root), "/")
		}
		if name == "" {
			continue
		}
		if err := platform.ValidateRelPath(name); err != nil {
			return nil, fmt.Errorf("unsafe entry %q: %w", f.Name, err)
		}
		entries = append(entries, entry{file: f, name: platform.CleanRelPath(name)})
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if e.file.FileInfo().IsDir() {
			if err := dest.MkdirAll(ctx, e.name); err != nil {
				return stats, fmt.Errorf("mkdir %s: %w", e.name, err)
			}
			continue
		}
		if !e.file.Mode().IsRegular() {
			continue
		}

		n, err := extractFile(ctx, e.file, e.name, dest)
		if err != nil {
			return stats, err
		}
		stats.Files++
		stats.Bytes += n
	}

	return stats, nil
}

func extractFile(ctx context.Context, f *zip.File, name string, dest storage.Backend) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	perm := f.Mode().Perm()
	if perm == 0 {
		perm = 0644
	}

	size := int64(f.UncompressedSize64)
	if err := dest.Write(ctx, name, rc, size, &storage.FileInfo{Permissions: uint32(perm)}); err != nil {
		return 0, fmt.Errorf("write %s: %w", name, err)
	}
	return size, nil
}

// topLevel returns the single folder every entry lives under
func topLevel(files []*zip.File) (string, error) {
	root := ""
	for _, f := range files {
		first, _, nested := strings.Cut(f.Name, "/")
		if !nested && !f.FileInfo().IsDir() {
			return "", fmt.Errorf("%w: file %q at the root", ErrMultipleRoots, f.Name)
		}
		if root == "" {
			root = first
			continue
		}
		if first != root {
			return "", fmt.Errorf("%w: %q and %q", ErrMultipleRoots, root, first)
		}
	}
	if root == "" {
		return "", errors.New("archive is empty")
	}
	return root, nil
}

// Reader gives random access to the entries of an archive on disk
type Reader struct {
	zr      *zip.ReadCloser
	entries map[string]*zip.File
}

// Open opens an archive for entry reads
func Open(path string) (*Reader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	r := &Reader{zr: zr, entries: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		if !f.FileInfo().IsDir() {
			r.entries[f.Name] = f
		}
	}
	return r, nil
}

// Names returns the file entries in lexical order
func (r *Reader) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Mode returns the permission bits recorded for an entry
func (r *Reader) Mode(name string) (os.FileMode, error) {
	f, ok := r.entries[name]
	if !ok {
		return 0, fmt.Errorf("entry %s: %w", name, os.ErrNotExist)
	}
	return f.Mode(), nil
}

// ReadEntry returns the full content of one entry
func (r *Reader) ReadEntry(name string) ([]byte, error) {
	f, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("entry %s: %w", name, os.ErrNotExist)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read entry %s: %w", name, err)
	}
	return data, nil
}

// Close releases the archive file
func (r *Reader) Close() error {
	return r.zr.Close()
}

// FilesUnder lists the regular files below dir as archive entries, for use with Pack
func FilesUnder(dir string, relPaths []string) []File {
	files := make([]File, 0, len(relPaths))
	for _, rel := range relPaths {
		files = append(files, File{
			AbsolutePath: filepath.Join(dir, filepath.FromSlash(rel)),
			RelativePath: rel,
		})
	}
	return files
}

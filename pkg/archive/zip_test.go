package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdejongh/branchsync/pkg/storage"
)

func writeTree(t *testing.T, dir string, files map[string]string) []string {
	t.Helper()
	var rels []string
	for rel, content := range files {
		abs := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0644))
		rels = append(rels, rel)
	}
	return rels
}

func readAll(t *testing.T, b storage.Backend, p string) string {
	t.Helper()
	rc, err := b.Read(context.Background(), p)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

// zipOf builds an in-memory archive from name -> content; names ending in "/" are directories
func zipOf(t *testing.T, entries [][2]string) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e[0])
		require.NoError(t, err)
		if e[1] != "" {
			_, err = w.Write([]byte(e[1]))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return bytes.NewReader(buf.Bytes())
}

func TestPackUnpackRoundTrip(t *testing.T) {
	src := t.TempDir()
	files := map[string]string{
		"README.md":         "# hello\n",
		"docs/guide.md":     "guide",
		"docs/img/logo.svg": "<svg/>",
		"empty.txt":         "",
	}
	rels := writeTree(t, src, files)
	require.NoError(t, os.Chmod(filepath.Join(src, "docs", "guide.md"), 0755))

	var buf bytes.Buffer
	count, err := Pack(&buf, FilesUnder(src, rels))
	require.NoError(t, err)
	assert.Equal(t, len(files), count)

	dest := storage.NewMemory()
	stats, err := Unpack(context.Background(), bytes.NewReader(buf.Bytes()), int64(buf.Len()), dest, Options{})
	require.NoError(t, err)
	assert.Equal(t, len(files), stats.Files)
	assert.Empty(t, stats.Root)

	for rel, content := range files {
		assert.Equal(t, content, readAll(t, dest, rel), rel)
	}

	info, err := dest.Stat(context.Background(), "docs/guide.md")
	require.NoError(t, err)
	assert.NotZero(t, info.Permissions&0100, "executable bit should survive the round trip")
}

func TestPackSortsEntries(t *testing.T) {
	src := t.TempDir()
	rels := writeTree(t, src, map[string]string{"z.txt": "z", "a/b.txt": "b", "m.txt": "m"})

	path := filepath.Join(t.TempDir(), "out.zip")
	_, err := PackFile(path, FilesUnder(src, rels))
	require.NoError(t, err)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	var order []string
	for _, f := range zr.File {
		order = append(order, f.Name)
	}
	assert.Equal(t, []string{"a/b.txt", "m.txt", "z.txt"}, order)
	assert.Equal(t, order, r.Names())
}

func TestPackRejectsBadPaths(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "a"})

	_, err := Pack(io.Discard, []File{{AbsolutePath: filepath.Join(src, "a.txt"), RelativePath: "../a.txt"}})
	assert.Error(t, err)
}

func TestPackFileRemovesPartialArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.zip")
	_, err := PackFile(path, []File{{AbsolutePath: "/does/not/exist", RelativePath: "x.txt"}})
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestUnpackStripTopLevel(t *testing.T) {
	r := zipOf(t, [][2]string{
		{"octo-repo-abc123/", ""},
		{"octo-repo-abc123/README.md", "readme"},
		{"octo-repo-abc123/src/", ""},
		{"octo-repo-abc123/src/main.go", "package main"},
	})

	dest := storage.NewMemory()
	stats, err := Unpack(context.Background(), r, r.Size(), dest, Options{StripTopLevel: true})
	require.NoError(t, err)

	assert.Equal(t, "octo-repo-abc123", stats.Root)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, "readme", readAll(t, dest, "README.md"))
	assert.Equal(t, "package main", readAll(t, dest, "src/main.go"))

	exists, err := dest.Exists(context.Background(), "octo-repo-abc123")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUnpackStripTopLevelNeedsSingleRoot(t *testing.T) {
	tests := map[string][][2]string{
		"TwoRoots":  {{"a/x.txt", "x"}, {"b/y.txt", "y"}},
		"RootFile":  {{"a/x.txt", "x"}, {"loose.txt", "l"}},
		"NoEntries": {},
	}
	for name, entries := range tests {
		t.Run(name, func(t *testing.T) {
			r := zipOf(t, entries)
			_, err := Unpack(context.Background(), r, r.Size(), storage.NewMemory(), Options{StripTopLevel: true})
			assert.Error(t, err)
		})
	}
}

func TestUnpackRejectsTraversal(t *testing.T) {
	tests := map[string][][2]string{
		"ParentEntry":   {{"ok.txt", "ok"}, {"../evil.txt", "x"}},
		"NestedEscape":  {{"a/../../evil.txt", "x"}},
		"AbsoluteEntry": {{"/etc/evil", "x"}},
	}
	for name, entries := range tests {
		t.Run(name, func(t *testing.T) {
			r := zipOf(t, entries)
			dest := storage.NewMemory()

			_, err := Unpack(context.Background(), r, r.Size(), dest, Options{})
			require.Error(t, err)

			// Validation happens before any write
			exists, existsErr := dest.Exists(context.Background(), "ok.txt")
			require.NoError(t, existsErr)
			assert.False(t, exists)
		})
	}

	t.Run("EscapeBelowStrippedRoot", func(t *testing.T) {
		r := zipOf(t, [][2]string{{"root/../../evil.txt", "x"}})
		_, err := Unpack(context.Background(), r, r.Size(), storage.NewMemory(), Options{StripTopLevel: true})
		assert.Error(t, err)
	})
}

func TestUnpackCancelled(t *testing.T) {
	r := zipOf(t, [][2]string{{"a.txt", "a"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Unpack(ctx, r, r.Size(), storage.NewMemory(), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUnpackNotAZip(t *testing.T) {
	r := bytes.NewReader([]byte("definitely not a zip"))
	_, err := Unpack(context.Background(), r, r.Size(), storage.NewMemory(), Options{})
	assert.Error(t, err)
}

func TestReaderEntries(t *testing.T) {
	src := t.TempDir()
	rels := writeTree(t, src, map[string]string{"bin/tool": "#!/bin/sh\n", "data.txt": "payload"})
	require.NoError(t, os.Chmod(filepath.Join(src, "bin", "tool"), 0755))

	path := filepath.Join(t.TempDir(), "updated_branch.zip")
	_, err := PackFile(path, FilesUnder(src, rels))
	require.NoError(t, err)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	data, err := r.ReadEntry("data.txt")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	mode, err := r.Mode("bin/tool")
	require.NoError(t, err)
	assert.NotZero(t, mode&0100)

	_, err = r.ReadEntry("missing.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

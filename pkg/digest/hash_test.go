package digest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdejongh/branchsync/pkg/models"
	"github.com/sdejongh/branchsync/pkg/storage"
)

func writeFile(t *testing.T, b storage.Backend, path, content string) {
	t.Helper()
	require.NoError(t, b.Write(context.Background(), path, strings.NewReader(content), int64(len(content)), nil))
}

func TestHashFile(t *testing.T) {
	backend := storage.NewMemory()
	writeFile(t, backend, "docs/a.txt", "hello")

	h := NewHasher(4096)
	sum, err := h.HashFile(context.Background(), backend, "docs/a.txt")
	require.NoError(t, err)

	// sha256("hello")
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sum)
	assert.True(t, Valid(sum))
}

func TestHashFileLargerThanBuffer(t *testing.T) {
	backend := storage.NewMemory()
	content := strings.Repeat("0123456789", 2000)
	writeFile(t, backend, "big.bin", content)

	sum, err := NewHasher(4096).HashFile(context.Background(), backend, "big.bin")
	require.NoError(t, err)
	assert.Equal(t, HashBytes([]byte(content)), sum)
}

func TestHashFileMissingIsIOError(t *testing.T) {
	_, err := NewHasher(0).HashFile(context.Background(), storage.NewMemory(), "missing.txt")
	require.Error(t, err)
	assert.Equal(t, models.KindIO, models.KindOf(err))
	assert.ErrorIs(t, err, models.ErrIO)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }
func (failingReader) Close() error             { return nil }

func TestHashFileReadFailure(t *testing.T) {
	backend := storage.NewMemory()
	writeFile(t, backend, "a.txt", "a")

	h := NewHasher(0)
	h.SetReaderWrapper(func(io.ReadCloser) io.ReadCloser { return failingReader{} })

	sum, err := h.HashFile(context.Background(), backend, "a.txt")
	require.Error(t, err)
	assert.Empty(t, sum, "a failed hash must not produce a digest")
	assert.Equal(t, models.KindIO, models.KindOf(err))
}

func TestHashReaderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHasher(0).HashReader(ctx, bytes.NewReader([]byte("data")))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHashDirectory(t *testing.T) {
	t.Run("OrderIndependent", func(t *testing.T) {
		a := map[string]string{}
		b := map[string]string{}
		names := []string{"z.txt", "a.txt", "m.txt", "b.txt"}
		for i, n := range names {
			a[n] = HashBytes([]byte(n))
			b[names[len(names)-1-i]] = HashBytes([]byte(names[len(names)-1-i]))
		}
		assert.Equal(t, HashDirectory(a), HashDirectory(b))
	})

	t.Run("SensitiveToDigest", func(t *testing.T) {
		a := map[string]string{"f": HashBytes([]byte("1"))}
		b := map[string]string{"f": HashBytes([]byte("2"))}
		assert.NotEqual(t, HashDirectory(a), HashDirectory(b))
	})

	t.Run("SensitiveToName", func(t *testing.T) {
		d := HashBytes([]byte("x"))
		assert.NotEqual(t,
			HashDirectory(map[string]string{"a": d}),
			HashDirectory(map[string]string{"b": d}))
	})

	t.Run("Empty", func(t *testing.T) {
		assert.Equal(t, HashBytes(nil), HashDirectory(map[string]string{}))
	})
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(HashBytes([]byte("x"))))
	assert.False(t, Valid("abc"))
	assert.False(t, Valid(strings.Repeat("z", Size)))
}

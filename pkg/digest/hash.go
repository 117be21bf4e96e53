// Package digest computes content digests for files and directories.
package digest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/sdejongh/branchsync/pkg/models"
	"github.com/sdejongh/branchsync/pkg/storage"
)

// Size is the length of a hex-encoded digest
const Size = sha256.Size * 2

// ReaderWrapper wraps a reader before it is hashed (e.g., for rate limiting)
type ReaderWrapper func(io.ReadCloser) io.ReadCloser

// Hasher computes SHA-256 file digests using pooled buffers
type Hasher struct {
	bufferPool    *sync.Pool
	readerWrapper ReaderWrapper
}

// NewHasher creates a hasher that reads files in chunks of bufferSize bytes
func NewHasher(bufferSize int) *Hasher {
	if bufferSize < 4096 {
		bufferSize = 4096
	}
	return &Hasher{
		bufferPool: &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, bufferSize)
				return &buf
			},
		},
	}
}

// SetReaderWrapper sets a function to wrap readers before hashing
func (h *Hasher) SetReaderWrapper(wrapper ReaderWrapper) {
	h.readerWrapper = wrapper
}

// HashFile computes the digest of one file of the backend.
// Any open or read failure is returned as an IO error.
func (h *Hasher) HashFile(ctx context.Context, backend storage.Backend, path string) (string, error) {
	reader, err := backend.Read(ctx, path)
	if err != nil {
		return "", models.IOError("hash", path, err)
	}

	if h.readerWrapper != nil {
		reader = h.readerWrapper(reader)
	}
	defer reader.Close()

	sum, err := h.HashReader(ctx, reader)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", models.IOError("hash", path, err)
	}
	return sum, nil
}

// HashReader computes the digest of everything read from r
func (h *Hasher) HashReader(ctx context.Context, r io.Reader) (string, error) {
	hasher := sha256.New()

	bufPtr := h.bufferPool.Get().(*[]byte)
	buffer := *bufPtr
	defer h.bufferPool.Put(bufPtr)

	for {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		n, err := r.Read(buffer)
		if n > 0 {
			hasher.Write(buffer[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// HashBytes returns the digest of an in-memory buffer
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashDirectory computes the aggregate digest of a directory from its file digests.
// Pairs are hashed in name order, so the result does not depend on map iteration.
func HashDirectory(files map[string]string) string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for _, name := range names {
		buf.WriteString(name)
		buf.WriteByte(0)
		buf.WriteString(files[name])
		buf.WriteByte('\n')
	}
	return HashBytes(buf.Bytes())
}

// Valid reports whether s looks like a hex-encoded digest
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Package ratelimit shares one bandwidth budget between the readers and writers of a cycle.
package ratelimit

import (
	"context"
	"io"
	"sync"
	"time"
)

// minBucket keeps small limits from degrading into tiny reads
const minBucket = 64 * 1024

// Limiter is a token bucket shared by every stream of a cycle
type Limiter struct {
	bytesPerSecond int64
	mu             sync.Mutex
	tokens         int64     // Available tokens (bytes)
	lastUpdate     time.Time // Last time tokens were updated
	bucketSize     int64     // Maximum tokens (burst size)
	now            func() time.Time
}

// NewLimiter creates a limiter for the given bytes per second.
// A non-positive rate returns nil, which every wrapper treats as unlimited.
func NewLimiter(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}

	// One second worth of data, never below minBucket
	bucketSize := bytesPerSecond
	if bucketSize < minBucket {
		bucketSize = minBucket
	}

	return &Limiter{
		bytesPerSecond: bytesPerSecond,
		tokens:         bucketSize,
		lastUpdate:     time.Now(),
		bucketSize:     bucketSize,
		now:            time.Now,
	}
}

// Rate returns the configured bytes per second, 0 for an unlimited (nil) limiter
func (l *Limiter) Rate() int64 {
	if l == nil {
		return 0
	}
	return l.bytesPerSecond
}

// chunk caps a transfer so one call never asks for more than the bucket holds
func (l *Limiter) chunk(n int) int {
	if int64(n) > l.bucketSize {
		return int(l.bucketSize)
	}
	return n
}

// Wait blocks until n bytes may be transferred or ctx is done
func (l *Limiter) Wait(ctx context.Context, n int64) error {
	if l == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if n > l.bucketSize {
		n = l.bucketSize
	}

	for {
		l.mu.Lock()
		l.refill()
		if l.tokens >= n {
			l.mu.Unlock()
			return nil
		}
		deficit := n - l.tokens
		wait := time.Duration(float64(deficit) / float64(l.bytesPerSecond) * float64(time.Second))
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Take blocks until n bytes of budget are available and spends them.
// Requests larger than the bucket are served one bucket at a time.
func (l *Limiter) Take(ctx context.Context, n int64) error {
	if l == nil {
		return nil
	}
	for n > 0 {
		size := n
		if size > l.bucketSize {
			size = l.bucketSize
		}
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			l.mu.Lock()
			l.refill()
			if l.tokens >= size {
				l.tokens -= size
				l.mu.Unlock()
				break
			}
			wait := time.Duration(float64(size-l.tokens) / float64(l.bytesPerSecond) * float64(time.Second))
			if wait < time.Millisecond {
				wait = time.Millisecond
			}
			l.mu.Unlock()

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		n -= size
	}
	return nil
}

// refill adds tokens for the elapsed time (must be called with lock held)
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastUpdate)

	add := int64(float64(elapsed) / float64(time.Second) * float64(l.bytesPerSecond))
	if add > 0 {
		l.tokens += add
		if l.tokens > l.bucketSize {
			l.tokens = l.bucketSize
		}
		l.lastUpdate = now
	}
}

// consume removes tokens after a transfer
func (l *Limiter) consume(n int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens -= n
	if l.tokens < 0 {
		l.tokens = 0
	}
}

// Reader wraps an io.Reader with bandwidth limiting
type Reader struct {
	reader  io.Reader
	limiter *Limiter
	ctx     context.Context
}

// NewReader wraps an io.Reader with rate limiting
func NewReader(ctx context.Context, reader io.Reader, limiter *Limiter) io.Reader {
	if limiter == nil {
		return reader
	}
	return &Reader{reader: reader, limiter: limiter, ctx: ctx}
}

// Read implements io.Reader
func (r *Reader) Read(p []byte) (int, error) {
	toRead := r.limiter.chunk(len(p))
	if err := r.limiter.Wait(r.ctx, int64(toRead)); err != nil {
		return 0, err
	}

	n, err := r.reader.Read(p[:toRead])
	if n > 0 {
		r.limiter.consume(int64(n))
	}
	return n, err
}

// ReadCloser wraps an io.ReadCloser with rate limiting
type ReadCloser struct {
	Reader
	closer io.Closer
}

// NewReadCloser wraps an io.ReadCloser with rate limiting
func NewReadCloser(ctx context.Context, rc io.ReadCloser, limiter *Limiter) io.ReadCloser {
	if limiter == nil {
		return rc
	}
	return &ReadCloser{
		Reader: Reader{reader: rc, limiter: limiter, ctx: ctx},
		closer: rc,
	}
}

// Close implements io.Closer
func (rc *ReadCloser) Close() error {
	return rc.closer.Close()
}

// Writer wraps an io.Writer with bandwidth limiting
type Writer struct {
	writer  io.Writer
	limiter *Limiter
	ctx     context.Context
}

// NewWriter wraps an io.Writer with rate limiting
func NewWriter(ctx context.Context, writer io.Writer, limiter *Limiter) io.Writer {
	if limiter == nil {
		return writer
	}
	return &Writer{writer: writer, limiter: limiter, ctx: ctx}
}

// Write implements io.Writer, splitting p into bucket-sized chunks
func (w *Writer) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		size := w.limiter.chunk(len(p) - written)
		if err := w.limiter.Wait(w.ctx, int64(size)); err != nil {
			return written, err
		}
		n, err := w.writer.Write(p[written : written+size])
		written += n
		if n > 0 {
			w.limiter.consume(int64(n))
		}
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

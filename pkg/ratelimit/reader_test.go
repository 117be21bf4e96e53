package ratelimit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

// TestNewLimiter tests the Limiter constructor
func TestNewLimiter(t *testing.T) {
	t.Run("ValidBytesPerSecond", func(t *testing.T) {
		limiter := NewLimiter(1024 * 1024)
		if limiter == nil {
			t.Fatal("NewLimiter() returned nil for valid input")
		}
		if limiter.Rate() != 1024*1024 {
			t.Errorf("Rate() = %d, want %d", limiter.Rate(), 1024*1024)
		}
	})

	t.Run("Unlimited", func(t *testing.T) {
		for _, rate := range []int64{0, -100} {
			limiter := NewLimiter(rate)
			if limiter != nil {
				t.Errorf("NewLimiter(%d) should return nil", rate)
			}
			if limiter.Rate() != 0 {
				t.Errorf("nil Rate() = %d, want 0", limiter.Rate())
			}
		}
	})

	t.Run("SmallRateKeepsMinimumBucket", func(t *testing.T) {
		limiter := NewLimiter(1000)
		if limiter.bucketSize != minBucket {
			t.Errorf("bucketSize = %d, want %d", limiter.bucketSize, minBucket)
		}
	})
}

func TestWait(t *testing.T) {
	t.Run("NilLimiter", func(t *testing.T) {
		var limiter *Limiter
		if err := limiter.Wait(context.Background(), 1<<30); err != nil {
			t.Errorf("Wait() on nil limiter error = %v", err)
		}
	})

	t.Run("CancelledBeforeWait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := NewLimiter(1024*1024).Wait(ctx, 1)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Wait() error = %v, want context.Canceled", err)
		}
	})

	t.Run("DeadlineWhileStarved", func(t *testing.T) {
		limiter := NewLimiter(1000)
		// Freeze the clock so no tokens come back
		frozen := time.Now()
		limiter.now = func() time.Time { return frozen }
		limiter.lastUpdate = frozen
		limiter.tokens = 0

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		start := time.Now()
		err := limiter.Wait(ctx, 500)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Wait() error = %v, want deadline exceeded", err)
		}
		if time.Since(start) > 2*time.Second {
			t.Error("Wait() did not return promptly after the deadline")
		}
	})
}

func TestTake(t *testing.T) {
	t.Run("NilLimiter", func(t *testing.T) {
		var limiter *Limiter
		if err := limiter.Take(context.Background(), 1<<30); err != nil {
			t.Errorf("Take() on nil limiter error = %v", err)
		}
	})

	t.Run("SpendsTokens", func(t *testing.T) {
		limiter := NewLimiter(minBucket)
		frozen := time.Now()
		limiter.now = func() time.Time { return frozen }
		limiter.lastUpdate = frozen

		if err := limiter.Take(context.Background(), 1000); err != nil {
			t.Fatalf("Take() error = %v", err)
		}
		if limiter.tokens != minBucket-1000 {
			t.Errorf("tokens = %d, want %d", limiter.tokens, minBucket-1000)
		}
	})

	t.Run("LargerThanBucket", func(t *testing.T) {
		limiter := NewLimiter(minBucket)

		// One full bucket is free, the remaining half needs about 500ms
		start := time.Now()
		if err := limiter.Take(context.Background(), minBucket+minBucket/2); err != nil {
			t.Fatalf("Take() error = %v", err)
		}
		if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
			t.Errorf("Take() returned after %v, want at least 400ms", elapsed)
		}
	})

	t.Run("DeadlineWhileStarved", func(t *testing.T) {
		limiter := NewLimiter(1000)
		frozen := time.Now()
		limiter.now = func() time.Time { return frozen }
		limiter.lastUpdate = frozen
		limiter.tokens = 0

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		if err := limiter.Take(ctx, 500); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Take() error = %v, want deadline exceeded", err)
		}
	})
}

func TestReader(t *testing.T) {
	t.Run("NilLimiterPassesThrough", func(t *testing.T) {
		base := strings.NewReader("test content")
		if NewReader(context.Background(), base, nil) != base {
			t.Error("NewReader() should return the original reader when limiter is nil")
		}
	})

	t.Run("ReadsEverything", func(t *testing.T) {
		content := []byte("0123456789abcdef")
		reader := NewReader(context.Background(), bytes.NewReader(content), NewLimiter(1024*1024))

		got, err := io.ReadAll(reader)
		if err != nil {
			t.Fatalf("ReadAll() error = %v", err)
		}
		if !bytes.Equal(got, content) {
			t.Errorf("content = %q, want %q", got, content)
		}
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		reader := NewReader(ctx, bytes.NewReader(make([]byte, 1024)), NewLimiter(1024*1024))
		if _, err := reader.Read(make([]byte, 100)); err == nil {
			t.Error("Read() should return error on cancelled context")
		}
	})

	t.Run("ChunksLargeBuffers", func(t *testing.T) {
		limiter := NewLimiter(1000)
		reader := NewReader(context.Background(), bytes.NewReader(make([]byte, 2*minBucket)), limiter)

		n, err := reader.Read(make([]byte, 2*minBucket))
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if n != minBucket {
			t.Errorf("Read() n = %d, want one bucket (%d)", n, minBucket)
		}
	})
}

func TestReadCloser(t *testing.T) {
	base := io.NopCloser(strings.NewReader("test content"))
	if NewReadCloser(context.Background(), base, nil) != base {
		t.Error("NewReadCloser() should return the original reader when limiter is nil")
	}

	rc := NewReadCloser(context.Background(), io.NopCloser(strings.NewReader("abc")), NewLimiter(1024*1024))
	if _, ok := rc.(*ReadCloser); !ok {
		t.Fatal("NewReadCloser() should return *ReadCloser when limiter is provided")
	}
	got, err := io.ReadAll(rc)
	if err != nil || string(got) != "abc" {
		t.Errorf("ReadAll() = %q, %v", got, err)
	}
	if err := rc.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestWriter(t *testing.T) {
	t.Run("NilLimiterPassesThrough", func(t *testing.T) {
		var buf bytes.Buffer
		if NewWriter(context.Background(), &buf, nil) != io.Writer(&buf) {
			t.Error("NewWriter() should return the original writer when limiter is nil")
		}
	})

	t.Run("WritesEverythingInChunks", func(t *testing.T) {
		var buf bytes.Buffer
		limiter := NewLimiter(10 * 1024 * 1024)
		content := bytes.Repeat([]byte("x"), 3*minBucket/2)

		n, err := NewWriter(context.Background(), &buf, limiter).Write(content)
		if err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if n != len(content) || buf.Len() != len(content) {
			t.Errorf("Write() n = %d, buffered = %d, want %d", n, buf.Len(), len(content))
		}
	})

	t.Run("SharesBudgetWithReaders", func(t *testing.T) {
		limiter := NewLimiter(1000)
		frozen := time.Now()
		limiter.now = func() time.Time { return frozen }
		limiter.lastUpdate = frozen

		// Drain the bucket through a reader
		reader := NewReader(context.Background(), bytes.NewReader(make([]byte, minBucket)), limiter)
		if _, err := io.ReadFull(reader, make([]byte, minBucket)); err != nil {
			t.Fatalf("ReadFull() error = %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		var buf bytes.Buffer
		n, err := NewWriter(ctx, &buf, limiter).Write([]byte("late"))
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Write() error = %v, want deadline exceeded", err)
		}
		if n != 0 {
			t.Errorf("Write() n = %d, want 0", n)
		}
	})
}

// TestTokenBucket tests the token bucket bookkeeping
func TestTokenBucket(t *testing.T) {
	t.Run("InitialTokens", func(t *testing.T) {
		limiter := NewLimiter(1024 * 1024)
		if limiter.tokens != limiter.bucketSize {
			t.Errorf("Initial tokens = %d, want %d", limiter.tokens, limiter.bucketSize)
		}
	})

	t.Run("ConsumeClampsAtZero", func(t *testing.T) {
		limiter := NewLimiter(1024)
		limiter.tokens = 100
		limiter.consume(200)
		if limiter.tokens != 0 {
			t.Errorf("After over-consume, tokens = %d, want 0", limiter.tokens)
		}
	})

	t.Run("Refill", func(t *testing.T) {
		limiter := NewLimiter(1000)
		start := time.Now()
		limiter.tokens = 0
		limiter.lastUpdate = start
		limiter.now = func() time.Time { return start.Add(100 * time.Millisecond) }

		limiter.refill()

		if limiter.tokens < 99 || limiter.tokens > 100 {
			t.Errorf("After refill, tokens = %d, want ~100", limiter.tokens)
		}
	})

	t.Run("RefillCapped", func(t *testing.T) {
		limiter := NewLimiter(1000)
		start := time.Now()
		limiter.tokens = limiter.bucketSize - 10
		limiter.lastUpdate = start
		limiter.now = func() time.Time { return start.Add(time.Second) }

		limiter.refill()

		if limiter.tokens != limiter.bucketSize {
			t.Errorf("After capped refill, tokens = %d, want %d", limiter.tokens, limiter.bucketSize)
		}
	})
}

// BenchmarkRateLimitedRead benchmarks rate-limited reading
func BenchmarkRateLimitedRead(b *testing.B) {
	content := make([]byte, 1024*1024)
	limiter := NewLimiter(100 * 1024 * 1024)
	ctx := context.Background()
	buf := make([]byte, 64*1024)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reader := NewReader(ctx, bytes.NewReader(content), limiter)
		for {
			_, err := reader.Read(buf)
			if err == io.EOF {
				break
			}
			if err != nil {
				b.Fatalf("Read() error = %v", err)
			}
		}
	}
}

package cache

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = filepath.Join(t.TempDir(), "cache")
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestGetCachesOnFirstCall(t *testing.T) {
	c := newTestCache(t, Options{})

	var calls int32
	fetch := func(ctx context.Context, key string, w io.Writer) error {
		atomic.AddInt32(&calls, 1)
		_, err := w.Write([]byte("hello"))
		return err
	}

	entry, _, err := c.Get(context.Background(), "a", false, fetch)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.Size != 5 {
		t.Fatalf("got size %d, want 5", entry.Size)
	}

	if _, _, err := c.Get(context.Background(), "a", false, fetch); err != nil {
		t.Fatalf("second Get: %v", err)
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("fetch called %d times, want 1", got)
	}
}

func TestGetSingleFlightUnderConcurrency(t *testing.T) {
	c := newTestCache(t, Options{})

	var calls int32
	start := make(chan struct{})

	fetch := func(ctx context.Context, key string, w io.Writer) error {
		atomic.AddInt32(&calls, 1)
		<-start
		_, err := w.Write([]byte("data"))
		return err
	}

	var wg sync.WaitGroup
	results := make([]*Entry, 10)
	errs := make([]error, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = c.Get(context.Background(), "shared", false, fetch)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(start)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Get[%d]: %v", i, err)
		}
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("fetch called %d times, want 1", got)
	}
}

func TestDownloadCompletesDespiteCallerCancel(t *testing.T) {
	c := newTestCache(t, Options{})

	started := make(chan struct{})
	finished := make(chan struct{})

	fetch := func(ctx context.Context, key string, w io.Writer) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		_, err := w.Write([]byte("payload"))
		close(finished)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		<-started
		cancel()
	}()

	_, _, err := c.Get(ctx, "k", false, fetch)
	if err == nil {
		t.Fatalf("expected cancellation error from the caller's Get")
	}

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatalf("download did not complete after caller cancelled")
	}

	if !c.Contains("k") {
		t.Fatalf("expected entry to be cached despite caller cancellation")
	}
}

func TestGetPropagatesFetchError(t *testing.T) {
	c := newTestCache(t, Options{})

	wantErr := errors.New("boom")
	fetch := func(ctx context.Context, key string, w io.Writer) error {
		return wantErr
	}

	if _, _, err := c.Get(context.Background(), "k", false, fetch); err == nil {
		t.Fatalf("expected error")
	}

	if c.Contains("k") {
		t.Fatalf("failed download should not be cached")
	}
}

func TestCleanEvictsLeastRecentlyUsedNonPermanent(t *testing.T) {
	c := newTestCache(t, Options{MaxSize: 10, PruneThreshold: 0.3})

	write := func(n int) Fetcher {
		return func(ctx context.Context, key string, w io.Writer) error {
			_, err := w.Write(make([]byte, n))
			return err
		}
	}

	if _, _, err := c.Get(context.Background(), "old", false, write(6)); err != nil {
		t.Fatalf("Get old: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, _, err := c.Get(context.Background(), "new", false, write(6)); err != nil {
		t.Fatalf("Get new: %v", err)
	}

	c.Clean()

	if !c.Contains("new") {
		t.Fatalf("expected most recently used entry to survive Clean")
	}
	if c.Contains("old") {
		t.Fatalf("expected least recently used entry to be evicted")
	}
}

func TestCleanNeverEvictsPermanentEntries(t *testing.T) {
	c := newTestCache(t, Options{MaxSize: 4, PruneThreshold: 0.5})

	write := func(n int) Fetcher {
		return func(ctx context.Context, key string, w io.Writer) error {
			_, err := w.Write(make([]byte, n))
			return err
		}
	}

	if _, _, err := c.Get(context.Background(), "pinned", true, write(100)); err != nil {
		t.Fatalf("Get: %v", err)
	}

	c.Clean()

	if !c.Contains("pinned") {
		t.Fatalf("expected permanent entry to survive Clean despite exceeding MaxSize")
	}
}

func TestCleanExpiresEntriesPastTTL(t *testing.T) {
	c := newTestCache(t, Options{TTL: 10 * time.Millisecond})

	fetch := func(ctx context.Context, key string, w io.Writer) error {
		_, err := w.Write([]byte("x"))
		return err
	}

	if _, _, err := c.Get(context.Background(), "k", false, fetch); err != nil {
		t.Fatalf("Get: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	c.Clean()

	if c.Contains("k") {
		t.Fatalf("expected expired entry to be removed")
	}
}

func TestIndexRecoversEntriesFromDisk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c := newTestCache(t, Options{Dir: dir})

	fetch := func(ctx context.Context, key string, w io.Writer) error {
		_, err := w.Write([]byte("payload"))
		return err
	}
	if _, _, err := c.Get(context.Background(), "42", true, fetch); err != nil {
		t.Fatalf("Get: %v", err)
	}

	// Simulate a process restart: a fresh Cache over the same directory,
	// with no in-memory entries until Index runs.
	restarted := newTestCache(t, Options{Dir: dir})
	if restarted.Contains("42") {
		t.Fatalf("expected no entries before Index runs")
	}

	if err := restarted.Index(map[string]bool{"42": true}); err != nil {
		t.Fatalf("Index: %v", err)
	}

	if !restarted.Contains("42") {
		t.Fatalf("expected Index to recover the on-disk entry")
	}
	if got := restarted.Size(); got != 0 {
		t.Fatalf("expected recovered permanent entry to not count toward Size, got %d", got)
	}
}

func TestCleanNeverEvictsEntryWithOpenReader(t *testing.T) {
	c := newTestCache(t, Options{MaxSize: 4, PruneThreshold: 0.5})

	fetch := func(ctx context.Context, key string, w io.Writer) error {
		_, err := w.Write(make([]byte, 100))
		return err
	}

	entry, _, err := c.Get(context.Background(), "held", false, fetch)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	rc, err := Stream(context.Background(), entry, FullRange)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer rc.Close()

	c.Clean()

	if !c.Contains("held") {
		t.Fatalf("expected entry with an open reader to survive Clean despite exceeding MaxSize")
	}
	if _, err := os.Stat(entry.Path); err != nil {
		t.Fatalf("expected backing file to remain on disk while a reader is open: %v", err)
	}

	rc.Close()
	c.Clean()

	if c.Contains("held") {
		t.Fatalf("expected entry to be evictable once its reader closed")
	}
}

func TestIndexRemovesStalePartialDownloads(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c := newTestCache(t, Options{Dir: dir})

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "7.part"), []byte("partial"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := c.Index(nil); err != nil {
		t.Fatalf("Index: %v", err)
	}

	if c.Contains("7") {
		t.Fatalf("expected a leftover .part file to not be registered as an entry")
	}
	if _, err := os.Stat(filepath.Join(dir, "7.part")); !os.IsNotExist(err) {
		t.Fatalf("expected leftover .part file to be removed")
	}
}

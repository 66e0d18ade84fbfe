// Package cache implements the File Cache and Cache Manager: a
// disk-backed, single-flight download cache with LRU eviction and
// permanent-entry pinning. Grounded on the original's cache.py
// (FileCache.index/get/contains/clean/update/download, CacheManager.cache/
// clean), translated from gevent greenlets/Events to goroutines and
// channels, and from the catalog-api pkg/semaphore and pkg/lazy idioms for
// bounded concurrency and once-only initialization.
package cache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/basilfx/subdaap/internal/errkind"
)

// Fetcher downloads the content for key into w. It must write the full
// content or return an error; partial writes are discarded.
type Fetcher func(ctx context.Context, key string, w io.Writer) error

// Options configures a Cache.
type Options struct {
	Dir             string
	MaxSize         int64         // bytes; 0 means unbounded
	PruneThreshold  float64       // fraction of MaxSize to prune below on clean
	TTL             time.Duration // 0 means entries never expire by age
	ReadyTimeout    time.Duration // how long Get waits for an in-flight download
}

// Cache is a single directory of cached files keyed by an opaque string
// (the remote item or artwork id). At most one download is ever in
// flight per key: concurrent Get calls for the same key share the first
// caller's download via Entry.Ready, matching the original's
// fetching_items guard in cache.py.
type Cache struct {
	opts Options

	mu      sync.Mutex
	entries map[string]*Entry

	onHit    func()
	onMiss   func()
	onEvict  func()
}

// New creates a Cache rooted at opts.Dir, creating the directory if needed.
func New(opts Options) (*Cache, error) {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 60 * time.Second
	}
	if opts.PruneThreshold <= 0 || opts.PruneThreshold >= 1 {
		opts.PruneThreshold = 0.1
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, errkind.New(errkind.CacheIO, "cache.New", err)
	}

	return &Cache{opts: opts, entries: make(map[string]*Entry)}, nil
}

// OnMetrics registers hit/miss/evict callbacks for the metrics package to
// hook into, without the cache package depending on prometheus directly.
func (c *Cache) OnMetrics(onHit, onMiss, onEvict func()) {
	c.onHit, c.onMiss, c.onEvict = onHit, onMiss, onEvict
}

func (c *Cache) pathFor(key string) string {
	return filepath.Join(c.opts.Dir, sanitizeKey(key))
}

func sanitizeKey(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		b := key[i]
		switch {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9', b == '-', b == '_', b == '.':
			out = append(out, b)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// Contains reports whether key is present and ready, without affecting LRU
// order.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	return ok && e.IsReady()
}

// Index walks the cache directory and registers one ready Entry per file
// found there, so a restarted process recovers its on-disk cache instead
// of re-downloading everything on first access. Entries whose key is in
// permanentKeys are marked permanent (pinned against eviction); every
// other file counts toward Size. Safe to call again on a live cache (as
// Manager.Prefetch does after a sync): a key already known in memory keeps
// its Entry and only has its permanent flag updated, and the .part file of
// a download still in flight is left alone.
func (c *Cache) Index(permanentKeys map[string]bool) error {
	dirEntries, err := os.ReadDir(c.opts.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errkind.New(errkind.CacheIO, "cache.Index", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}

		name := de.Name()
		if filepath.Ext(name) == ".part" {
			if _, inFlight := c.entries[strings.TrimSuffix(name, ".part")]; inFlight {
				continue
			}
			// Leftover from a process that died mid-download; the next
			// Get for this key starts a fresh download over it.
			os.Remove(filepath.Join(c.opts.Dir, name))
			continue
		}

		info, err := de.Info()
		if err != nil {
			continue
		}

		key := name
		if e, ok := c.entries[key]; ok {
			e.Permanent = permanentKeys[key]
			continue
		}
		entry := &Entry{
			Key:       key,
			Path:      filepath.Join(c.opts.Dir, name),
			Size:      info.Size(),
			Permanent: permanentKeys[key],
			state:     stateReady,
			ready:     closedChan(),
			accessedAt: info.ModTime(),
		}
		c.entries[key] = entry
	}

	return nil
}

// Get returns the cache Entry for key, fetching it via fetch if it is not
// already cached. At most one fetch runs per key regardless of how many
// concurrent Get calls arrive. If permanent is true, the entry is pinned
// and never evicted or expired. The returned fresh is true exactly for the
// caller whose Get call was the one that triggered the fetch (a cache
// miss); every other concurrent or later caller sees fresh=false, letting
// Provider distinguish a first access (report size unknown) from a cached
// one (report the entry's real, final size) per spec.md §4.8.
//
// The download itself is started on a detached context and is never
// cancelled by ctx: a reader that gives up partway through must not starve
// every other waiter of the one download that would have completed the
// entry, matching the original's explicit choice not to kill the
// downloading greenlet when a single consumer disconnects.
func (c *Cache) Get(ctx context.Context, key string, permanent bool, fetch Fetcher) (entry *Entry, fresh bool, err error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.touch()
		c.mu.Unlock()
		if c.onHit != nil {
			c.onHit()
		}
		entry, err = c.waitReady(ctx, e)
		return entry, false, err
	}
	c.mu.Unlock()

	if c.onMiss != nil {
		c.onMiss()
	}

	newEntry := newReservedEntry(key, c.pathFor(key), permanent)
	newEntry.touch()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		// Lost the race to another Get call between unlock and relock.
		c.mu.Unlock()
		entry, err = c.waitReady(ctx, e)
		return entry, false, err
	}
	c.entries[key] = newEntry
	c.mu.Unlock()

	go c.download(newEntry, fetch)

	entry, err = c.waitReady(ctx, newEntry)
	return entry, err == nil, err
}

// waitReady blocks until entry is ready, the ready-wait timeout elapses or
// ctx is cancelled, whichever comes first. The entry's own download keeps
// running regardless of which of those happens.
func (c *Cache) waitReady(ctx context.Context, entry *Entry) (*Entry, error) {
	timeout := time.NewTimer(c.opts.ReadyTimeout)
	defer timeout.Stop()

	select {
	case <-entry.Ready():
		if err := entry.Err(); err != nil {
			return nil, errkind.New(errkind.CacheIO, "cache.Get", err)
		}
		return entry, nil
	case <-ctx.Done():
		return nil, errkind.New(errkind.CacheBusyTimeout, "cache.Get", ctx.Err())
	case <-timeout.C:
		return nil, errkind.New(errkind.CacheBusyTimeout, "cache.Get", fmt.Errorf("timed out waiting for %q after %s", entry.Key, c.opts.ReadyTimeout))
	}
}

// download runs fetch against a detached background context, writing to a
// temp file and renaming it into place atomically on success so that a
// partially-written file is never observed at entry.Path by another
// process or a restart mid-download.
func (c *Cache) download(entry *Entry, fetch Fetcher) {
	tmpPath := entry.Path + ".part"

	// fail drops the entry from the map before waking its waiters, so the
	// next Get for this key starts a fresh download instead of returning
	// the same error forever.
	fail := func(err error) {
		c.mu.Lock()
		if c.entries[entry.Key] == entry {
			delete(c.entries, entry.Key)
		}
		c.mu.Unlock()
		entry.markFailed(err)
	}

	f, err := os.Create(tmpPath)
	if err != nil {
		fail(err)
		return
	}

	err = fetch(context.Background(), entry.Key, f)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}

	if err != nil {
		os.Remove(tmpPath)
		fail(err)
		return
	}

	info, statErr := os.Stat(tmpPath)
	if statErr != nil {
		os.Remove(tmpPath)
		fail(statErr)
		return
	}

	if renameErr := os.Rename(tmpPath, entry.Path); renameErr != nil {
		os.Remove(tmpPath)
		fail(renameErr)
		return
	}

	entry.markReady(info.Size())
}

// Clean runs the two-phase maintenance pass the original's FileCache.clean
// performs: first expire entries not accessed within the configured TTL, then, if
// still over MaxSize, evict the least-recently-used non-permanent entries
// until total size is back under MaxSize * (1 - PruneThreshold). An entry
// with an open reader (Entry.inUse) is never a candidate in either phase:
// its backing file must stay on disk until every Stream reading it closes,
// per spec.md §4.3's invariant that eviction never removes a file a
// consumer still holds open.
func (c *Cache) Clean() {
	c.mu.Lock()
	var expired []*Entry
	for key, e := range c.entries {
		if e.IsReady() && e.expired(c.opts.TTL) && !e.inUse() {
			expired = append(expired, e)
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	for _, e := range expired {
		e.remove()
		if c.onEvict != nil {
			c.onEvict()
		}
	}

	if c.opts.MaxSize <= 0 {
		return
	}

	c.mu.Lock()
	type scored struct {
		key string
		e   *Entry
	}
	var candidates []scored
	var total int64
	for key, e := range c.entries {
		if e.IsReady() && !e.Permanent {
			total += e.Size
		}
		if e.IsReady() && !e.Permanent && !e.inUse() {
			candidates = append(candidates, scored{key, e})
		}
	}

	target := int64(float64(c.opts.MaxSize) * (1 - c.opts.PruneThreshold))
	if total <= c.opts.MaxSize {
		c.mu.Unlock()
		return
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].e.lastAccessed().Before(candidates[j].e.lastAccessed())
	})

	var toEvict []*Entry
	for _, cand := range candidates {
		if total <= target {
			break
		}
		toEvict = append(toEvict, cand.e)
		delete(c.entries, cand.key)
		total -= cand.e.Size
	}
	c.mu.Unlock()

	for _, e := range toEvict {
		e.remove()
		if c.onEvict != nil {
			c.onEvict()
		}
	}
}

// Size returns the combined size in bytes of every ready, non-permanent
// entry, the quantity MaxSize/PruneThreshold are measured against.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total int64
	for _, e := range c.entries {
		if e.IsReady() && !e.Permanent {
			total += e.Size
		}
	}
	return total
}

// Count returns the number of ready entries currently cached.
func (c *Cache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.entries {
		if e.IsReady() {
			n++
		}
	}
	return n
}

package cache

import (
	"os"
	"sync"
	"time"
)

// entryState tracks where an Entry is in its lifecycle: reserved (a
// download has been started but not finished), ready (file on disk and
// readable) or failed (download errored; waiters should retry or fail).
type entryState int

const (
	stateReserved entryState = iota
	stateReady
	stateFailed
)

// Entry is one cached file: the original's FileCacheItem translated into
// Go. A chan struct{} closed exactly once stands in for gevent.Event as
// the ready signal, so multiple waiters can block on it cheaply.
type Entry struct {
	Key       string
	Path      string
	Size      int64
	Permanent bool

	createdAt  time.Time
	accessedAt time.Time

	mu    sync.Mutex
	state entryState
	ready chan struct{}
	err   error
	uses  int
}

// closedChan returns an already-closed channel, used for entries recovered
// from disk on startup that are ready without ever having been downloaded
// this process lifetime.
func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// newReservedEntry creates an Entry in the reserved state: a download is
// about to start (or already in flight) and callers must wait on Ready.
func newReservedEntry(key, path string, permanent bool) *Entry {
	return &Entry{
		Key:       key,
		Path:      path,
		Permanent: permanent,
		createdAt: time.Now(),
		state:     stateReserved,
		ready:     make(chan struct{}),
	}
}

// markReady transitions the entry to ready, recording its final size and
// waking every waiter blocked on Ready.
func (e *Entry) markReady(size int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stateReserved {
		return
	}
	e.Size = size
	e.state = stateReady
	close(e.ready)
}

// markFailed transitions the entry to failed, recording err and waking
// every waiter; they receive err when they check Err after Ready fires.
func (e *Entry) markFailed(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stateReserved {
		return
	}
	e.err = err
	e.state = stateFailed
	close(e.ready)
}

// Ready returns a channel that is closed once the entry's download has
// finished (successfully or not).
func (e *Entry) Ready() <-chan struct{} {
	return e.ready
}

// Err returns the download error, if any. Only meaningful after Ready is
// closed.
func (e *Entry) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// IsReady reports whether the entry has finished downloading successfully.
func (e *Entry) IsReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateReady
}

// touch records an access for LRU purposes.
func (e *Entry) touch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accessedAt = time.Now()
}

// lastAccessed returns the last access time for LRU ordering.
func (e *Entry) lastAccessed() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accessedAt
}

// expired reports whether the entry has gone unaccessed for longer than
// ttl. Permanent entries never expire.
func (e *Entry) expired(ttl time.Duration) bool {
	if e.Permanent || ttl <= 0 {
		return false
	}
	return time.Since(e.lastAccessed()) > ttl
}

// acquireUse registers one open reader against the entry, preventing Clean
// from evicting it while the reader is in flight.
func (e *Entry) acquireUse() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.uses++
}

// releaseUse unregisters one open reader, called once a Stream's Close
// runs.
func (e *Entry) releaseUse() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.uses > 0 {
		e.uses--
	}
}

// inUse reports whether any reader currently holds the entry open. Clean
// must never remove the backing file of an entry for which this is true.
func (e *Entry) inUse() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.uses > 0
}

// remove deletes the backing file from disk. Safe to call on a reserved
// entry's partial download file.
func (e *Entry) remove() error {
	err := os.Remove(e.Path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Package state implements the State Store: a small persistent key/value
// blob used to remember per-connection synchronization bookkeeping (last
// known remote version, container checksums) across restarts. Grounded on
// the original's state.py, which pickled a plain dict to a file; Go
// substitutes encoding/gob and adds an atomic write-temp-then-rename the
// original did not have, the way catalog-api's config.saveConfig avoids
// leaving a half-written file on disk.
package state

import (
	"encoding/binary"
	"encoding/gob"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/basilfx/subdaap/internal/errkind"
)

// SyncState is the per-origin synchronization bookkeeping the Synchronizer
// persists across restarts: spec.md §3's
// "synchronizers → {origin_index → {connection_version, items_version,
// containers_version}}" map entry. Registered with gob below so it survives
// round-tripping through the Store's map[string]interface{}.
type SyncState struct {
	ConnectionVersion uint32
	ItemsVersion      string
	ContainersVersion uint32
}

func init() {
	gob.Register(SyncState{})
}

// syncStatePrefix namespaces per-origin SyncState keys in the flat map so
// they cannot collide with other keys (e.g. "<name>.last_sync").
const syncStatePrefix = "synchronizers."

// persistentIDKey is the key the stable 64-bit server identity is stored
// under, spec.md §3's "persistent_id → 64-bit".
const persistentIDKey = "persistent_id"

// Store is a goroutine-safe, disk-backed key/value map.
type Store struct {
	mu   sync.Mutex
	path string
	data map[string]interface{}
}

// Open loads the store from path if it exists, or starts with an empty map.
// A file whose contents do not decode as the store's map also starts empty.
func Open(path string) (*Store, error) {
	s := &Store{path: path, data: make(map[string]interface{})}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errkind.New(errkind.CatalogIO, "state.Open", err)
	}
	defer f.Close()

	if err := gob.NewDecoder(f).Decode(&s.data); err != nil {
		s.data = make(map[string]interface{})
	}

	return s, nil
}

// Get returns the value for key and whether it was present.
func (s *Store) Get(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data[key]
	return v, ok
}

// Set stores value under key. Callers must call Save to persist it.
func (s *Store) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
}

// Contains reports whether key is present.
func (s *Store) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.data[key]
	return ok
}

// Delete removes key, if present.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
}

// SyncState returns the persisted SyncState for origin, and whether one was
// found. A missing entry means origin has never completed a sync pass.
func (s *Store) SyncState(origin string) (SyncState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data[syncStatePrefix+origin]
	if !ok {
		return SyncState{}, false
	}
	st, ok := v.(SyncState)
	return st, ok
}

// SetSyncState stores st under origin. Callers must call Save to persist it.
func (s *Store) SetSyncState(origin string, st SyncState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[syncStatePrefix+origin] = st
}

// PersistentID returns this server's stable 64-bit identity, generating and
// persisting one on first use via a random uuid.UUID truncated to 64 bits.
// Callers must call Save to persist a freshly generated id.
func (s *Store) PersistentID() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.data[persistentIDKey]; ok {
		if id, ok := v.(uint64); ok {
			return id, nil
		}
	}

	u, err := uuid.NewRandom()
	if err != nil {
		return 0, errkind.New(errkind.CatalogIO, "state.PersistentID", err)
	}

	id := binary.BigEndian.Uint64(u[:8])
	s.data[persistentIDKey] = id

	return id, nil
}

// Save persists the store to disk by writing to a temp file in the same
// directory and renaming it over the destination, so a crash mid-write
// never leaves a truncated state file behind.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return errkind.New(errkind.CatalogIO, "state.Save", err)
	}
	tmpPath := tmp.Name()

	if err := gob.NewEncoder(tmp).Encode(s.data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errkind.New(errkind.CatalogIO, "state.Save", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errkind.New(errkind.CatalogIO, "state.Save", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errkind.New(errkind.CatalogIO, "state.Save", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return errkind.New(errkind.CatalogIO, "state.Save", err)
	}

	return nil
}

package cache

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// prefetchConcurrency bounds how many pinned items Prefetch downloads at
// once, so a large library doesn't open hundreds of simultaneous Subsonic
// connections on one sync pass.
const prefetchConcurrency = 4

// Manager groups the item and artwork caches for a single connection,
// matching the original's CacheManager, which wrapped an ItemCache and an
// ArtworkCache pair and exposed combined cache()/clean() operations to the
// scheduler.
type Manager struct {
	Items    *Cache
	Artworks *Cache
}

// NewManager wires an item cache and artwork cache into one Manager.
func NewManager(items, artworks *Cache) *Manager {
	return &Manager{Items: items, Artworks: artworks}
}

// Clean runs Clean on both caches. Called periodically by the scheduler's
// cache-clean job.
func (m *Manager) Clean() {
	m.Items.Clean()
	m.Artworks.Clean()
}

// WarmItem ensures item key is cached, fetching it with fetch if missing.
// Permanent items (e.g. currently playing) are pinned against eviction.
// fresh is true only for the caller whose request triggered the fetch.
func (m *Manager) WarmItem(ctx context.Context, key string, permanent bool, fetch Fetcher) (entry *Entry, fresh bool, err error) {
	return m.Items.Get(ctx, key, permanent, fetch)
}

// WarmArtwork ensures artwork key is cached, fetching it with fetch if
// missing. An entry it creates is never pinned; only Prefetch pins the
// artwork of pinned items.
func (m *Manager) WarmArtwork(ctx context.Context, key string, fetch Fetcher) (entry *Entry, fresh bool, err error) {
	return m.Artworks.Get(ctx, key, false, fetch)
}

// PinnedItem identifies one catalog item flagged cache=1, exclude=0: a
// permanent entry the Cache Manager prefetches so it survives LRU
// eviction regardless of whether any DAAP client has asked for it yet.
type PinnedItem struct {
	ItemKey    string
	ArtworkKey string // empty if the item's album has no cover art
}

// Prefetch re-indexes both caches against the current set of pinned keys
// and downloads any pinned item (and its artwork) that is not yet on
// disk, matching the original's CacheManager.cache: run once after every
// synchronization pass so permanently-cached items are ready before a
// DAAP client ever asks for them. Each pinned entry fetches its artwork
// first, then its item; entries run concurrently, bounded to
// prefetchConcurrency in flight at once via errgroup.SetLimit, the way the original's CacheManager
// dispatched one gevent greenlet pool worker per pinned item rather than
// downloading the whole pinned set serially.
func (m *Manager) Prefetch(ctx context.Context, items []PinnedItem, itemFetch, artworkFetch func(key string) Fetcher, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	itemKeys := make(map[string]bool, len(items))
	artKeys := make(map[string]bool, len(items))
	for _, it := range items {
		itemKeys[it.ItemKey] = true
		if it.ArtworkKey != "" {
			artKeys[it.ArtworkKey] = true
		}
	}

	if err := m.Items.Index(itemKeys); err != nil {
		return err
	}
	if err := m.Artworks.Index(artKeys); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchConcurrency)

	for _, it := range items {
		it := it
		g.Go(func() error {
			if it.ArtworkKey != "" && !m.Artworks.Contains(it.ArtworkKey) {
				if _, _, err := m.Artworks.Get(gctx, it.ArtworkKey, true, artworkFetch(it.ArtworkKey)); err != nil {
					logger.Warn("prefetch artwork failed", zap.String("key", it.ArtworkKey), zap.Error(err))
				}
			}

			if !m.Items.Contains(it.ItemKey) {
				if _, _, err := m.Items.Get(gctx, it.ItemKey, true, itemFetch(it.ItemKey)); err != nil {
					logger.Warn("prefetch item failed", zap.String("key", it.ItemKey), zap.Error(err))
				}
			}

			// Per-item fetch failures are logged, not fatal to the whole
			// prefetch pass: one bad remote id must not abort every other
			// pinned item's download.
			return nil
		})
	}

	return g.Wait()
}

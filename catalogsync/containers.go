package catalogsync

import (
	"context"
	"database/sql"

	"github.com/basilfx/subdaap/checksum"
	"github.com/basilfx/subdaap/subsonic"
)

// syncContainers re-materializes the base "library" container (every item
// in the database, in a stable order) and each remote playlist as a
// Container + its ordered Container_Items. Returns the number of
// containers whose contents actually changed. playlists is the summary
// list the caller already fetched to compute containers_version; when
// containersUnchanged is true (the aggregate containers_version matched
// the last persisted one) the per-playlist pass is skipped entirely and
// only the base container, checked on every pass, is brought up to date.
//
// For playlists that are walked, this resolves the containers_version Open
// Question at the row level too: a playlist's Subsonic "changed" timestamp
// is used as its checksum input when present, avoiding a full getPlaylist
// round-trip just to detect "no change". Only when changed is empty (older
// servers) does this fall back to fetching the playlist and checksumming
// its entry ids directly.
func (s *Synchronizer) syncContainers(ctx context.Context, databaseID int64, playlists []subsonic.Playlist, containersUnchanged bool) (int, error) {
	changed := 0

	baseChanged, err := s.syncBaseContainer(ctx, databaseID)
	if err != nil {
		return changed, err
	}
	if baseChanged {
		changed++
	}

	if containersUnchanged {
		s.logger.Debug("containers unchanged since last sync, skipping playlist walk")
		return changed, nil
	}

	seen := make(map[string]bool)
	for _, pl := range playlists {
		seen[pl.ID] = true

		sum := checksum.Of(checksum.Fields{pl.Name, pl.Changed, pl.SongCount})
		if pl.Changed == "" {
			// Older server: fall back to a full fetch so the checksum
			// reflects actual membership instead of just the summary.
			detail, err := s.client.GetPlaylist(ctx, pl.ID)
			if err != nil {
				return changed, err
			}
			ids := make(checksum.Fields, 0, len(detail.Entries))
			for _, e := range detail.Entries {
				ids = append(ids, e.ID)
			}
			sum = checksum.Of(append(checksum.Fields{pl.Name}, ids...))
		}

		containerID, rowChanged, err := s.upsertContainer(ctx, databaseID, nil, pl.ID, pl.Name, false, sum)
		if err != nil {
			return changed, err
		}
		if !rowChanged {
			continue
		}
		changed++

		detail, err := s.client.GetPlaylist(ctx, pl.ID)
		if err != nil {
			return changed, err
		}

		itemIDs := make([]string, 0, len(detail.Entries))
		for _, e := range detail.Entries {
			itemIDs = append(itemIDs, e.ID)
		}
		if err := s.replaceContainerItems(ctx, databaseID, containerID, itemIDs); err != nil {
			return changed, err
		}
	}

	if err := s.removeContainersNotIn(ctx, databaseID, seen, false); err != nil {
		return changed, err
	}

	return changed, nil
}

func (s *Synchronizer) syncBaseContainer(ctx context.Context, databaseID int64) (bool, error) {
	var itemIDs []string
	rows, err := s.db.QueryDict(ctx, `SELECT persistent_id FROM items WHERE database_id = ? ORDER BY id`, databaseID)
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if pid, ok := row["persistent_id"].(string); ok {
			itemIDs = append(itemIDs, pid)
		}
	}

	fields := checksum.Fields{len(itemIDs)}
	for _, pid := range itemIDs {
		fields = append(fields, pid)
	}
	sum := checksum.Of(fields)

	containerID, changed, err := s.upsertContainer(ctx, databaseID, nil, "base", baseContainerName, true, sum)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	if err := s.replaceContainerItemsByPersistentID(ctx, databaseID, containerID, itemIDs); err != nil {
		return false, err
	}

	return true, nil
}

func (s *Synchronizer) upsertContainer(ctx context.Context, databaseID int64, parentID *int64, remoteID, name string, isBase bool, sum uint32) (int64, bool, error) {
	var existingID int64
	var existingSum uint32
	err := s.db.QueryValue(ctx, &existingID,
		`SELECT id FROM containers WHERE database_id = ? AND persistent_id = ?`, databaseID, remoteID)

	switch err {
	case nil:
		s.db.QueryValue(ctx, &existingSum, `SELECT checksum FROM containers WHERE id = ?`, existingID)
		if existingSum == sum {
			return existingID, false, nil
		}
		if _, execErr := s.db.Exec(ctx,
			`UPDATE containers SET name = ?, checksum = ? WHERE id = ?`, name, sum, existingID); execErr != nil {
			return 0, false, execErr
		}
		return existingID, true, nil

	case sql.ErrNoRows:
		var newID int64
		txErr := s.db.WithTx(ctx, func(tx *sql.Tx) error {
			id, err := s.db.InsertReturningID(ctx, tx,
				`INSERT INTO containers (database_id, parent_id, persistent_id, name, is_base, is_smart, checksum)
				 VALUES (?, ?, ?, ?, ?, 0, ?)`,
				databaseID, parentID, remoteID, name, isBase, sum)
			if err != nil {
				return err
			}
			newID = id
			return nil
		})
		if txErr != nil {
			return 0, false, txErr
		}
		return newID, true, nil

	default:
		return 0, false, err
	}
}

// replaceContainerItems replaces a container's membership given remote
// item ids, resolving them to local item rows by persistent_id.
func (s *Synchronizer) replaceContainerItems(ctx context.Context, databaseID, containerID int64, remoteItemIDs []string) error {
	return s.replaceContainerItemsByPersistentID(ctx, databaseID, containerID, remoteItemIDs)
}

func (s *Synchronizer) replaceContainerItemsByPersistentID(ctx context.Context, databaseID, containerID int64, persistentIDs []string) error {
	d := s.db.Dialect()

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, d.RewritePlaceholders(`DELETE FROM container_items WHERE container_id = ?`), containerID); err != nil {
			return err
		}

		for i, pid := range persistentIDs {
			var itemID int64
			row := tx.QueryRowContext(ctx,
				d.RewritePlaceholders(`SELECT id FROM items WHERE database_id = ? AND persistent_id = ?`), databaseID, pid)
			if err := row.Scan(&itemID); err != nil {
				if err == sql.ErrNoRows {
					continue
				}
				return err
			}

			if _, err := tx.ExecContext(ctx,
				d.RewritePlaceholders(`INSERT INTO container_items (container_id, item_id, "order") VALUES (?, ?, ?)`),
				containerID, itemID, i); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *Synchronizer) removeContainersNotIn(ctx context.Context, databaseID int64, seen map[string]bool, includeBase bool) error {
	rows, err := s.db.QueryDict(ctx,
		`SELECT id, persistent_id, is_base FROM containers WHERE database_id = ?`, databaseID)
	if err != nil {
		return err
	}

	for _, row := range rows {
		isBase := truthy(row["is_base"])
		if isBase && !includeBase {
			continue
		}
		pid, _ := row["persistent_id"].(string)
		if seen[pid] {
			continue
		}
		if _, err := s.db.Exec(ctx, `DELETE FROM containers WHERE id = ?`, row["id"]); err != nil {
			return err
		}
	}

	return nil
}

// truthy normalizes a scanned boolean-ish column value (int64 0/1, bool, or
// nil) the way database/sql returns it across SQLite and Postgres drivers.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	default:
		return false
	}
}

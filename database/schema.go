package database

import (
	"context"
	"fmt"
)

// schemaStatements returns the CREATE TABLE statements for the catalog
// schema, in a foreign-key-safe order (parents before children). Column
// shapes follow the relational model: one or more Databases, each owning
// Artists, Albums, Items and Containers; Container_Items links containers
// to items in playback order.
func (db *DB) schemaStatements() []string {
	d := db.dialect

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS databases (
			id %s,
			persistent_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			exclude %s NOT NULL %s,
			checksum INTEGER NOT NULL %s
		)`, d.AutoIncrement(), d.BooleanType(), d.BooleanDefault(false), defaultZero()),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS artists (
			id %s,
			database_id INTEGER NOT NULL REFERENCES databases(id) ON DELETE CASCADE,
			persistent_id TEXT NOT NULL,
			name TEXT NOT NULL,
			exclude %s NOT NULL %s,
			checksum INTEGER NOT NULL,
			UNIQUE(database_id, persistent_id)
		)`, d.AutoIncrement(), d.BooleanType(), d.BooleanDefault(false)),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS albums (
			id %s,
			database_id INTEGER NOT NULL REFERENCES databases(id) ON DELETE CASCADE,
			artist_id INTEGER NOT NULL REFERENCES artists(id) ON DELETE CASCADE,
			persistent_id TEXT NOT NULL,
			name TEXT NOT NULL,
			art_name TEXT NOT NULL %s,
			art_type TEXT NOT NULL %s,
			art_size INTEGER NOT NULL %s,
			exclude %s NOT NULL %s,
			checksum INTEGER NOT NULL,
			UNIQUE(database_id, persistent_id)
		)`, d.AutoIncrement(), defaultEmptyString(), defaultEmptyString(), defaultZero(), d.BooleanType(), d.BooleanDefault(false)),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS items (
			id %s,
			database_id INTEGER NOT NULL REFERENCES databases(id) ON DELETE CASCADE,
			artist_id INTEGER NOT NULL REFERENCES artists(id) ON DELETE CASCADE,
			album_artist_id INTEGER REFERENCES artists(id) ON DELETE SET NULL,
			album_id INTEGER NOT NULL REFERENCES albums(id) ON DELETE CASCADE,
			persistent_id TEXT NOT NULL,
			remote_id TEXT NOT NULL,
			name TEXT NOT NULL,
			track INTEGER NOT NULL %s,
			track_count INTEGER NOT NULL %s,
			disc INTEGER NOT NULL %s,
			disc_count INTEGER NOT NULL %s,
			year INTEGER NOT NULL %s,
			duration INTEGER NOT NULL %s,
			bitrate INTEGER NOT NULL %s,
			file_size INTEGER NOT NULL %s,
			file_suffix TEXT NOT NULL %s,
			file_type TEXT NOT NULL %s,
			file_name TEXT NOT NULL %s,
			genre TEXT NOT NULL %s,
			exclude %s NOT NULL %s,
			cache %s NOT NULL %s,
			checksum INTEGER NOT NULL,
			UNIQUE(database_id, persistent_id)
		)`, d.AutoIncrement(), defaultZero(), defaultZero(), defaultZero(), defaultZero(),
			defaultZero(), defaultZero(), defaultZero(), defaultZero(), defaultEmptyString(), defaultEmptyString(),
			defaultEmptyString(), defaultEmptyString(),
			d.BooleanType(), d.BooleanDefault(false), d.BooleanType(), d.BooleanDefault(false)),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS containers (
			id %s,
			database_id INTEGER NOT NULL REFERENCES databases(id) ON DELETE CASCADE,
			parent_id INTEGER REFERENCES containers(id) ON DELETE CASCADE,
			persistent_id TEXT NOT NULL,
			name TEXT NOT NULL,
			is_base %s NOT NULL %s,
			is_smart %s NOT NULL %s,
			exclude %s NOT NULL %s,
			cache %s NOT NULL %s,
			checksum INTEGER NOT NULL,
			UNIQUE(database_id, persistent_id)
		)`, d.AutoIncrement(), d.BooleanType(), d.BooleanDefault(false), d.BooleanType(), d.BooleanDefault(false),
			d.BooleanType(), d.BooleanDefault(false), d.BooleanType(), d.BooleanDefault(false)),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS container_items (
			id %s,
			container_id INTEGER NOT NULL REFERENCES containers(id) ON DELETE CASCADE,
			item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
			"order" INTEGER NOT NULL %s,
			UNIQUE(container_id, item_id)
		)`, d.AutoIncrement(), defaultZero()),

		`CREATE INDEX IF NOT EXISTS idx_artists_database ON artists(database_id)`,
		`CREATE INDEX IF NOT EXISTS idx_albums_database ON albums(database_id)`,
		`CREATE INDEX IF NOT EXISTS idx_albums_artist ON albums(artist_id)`,
		`CREATE INDEX IF NOT EXISTS idx_items_database ON items(database_id)`,
		`CREATE INDEX IF NOT EXISTS idx_items_album ON items(album_id)`,
		`CREATE INDEX IF NOT EXISTS idx_containers_database ON containers(database_id)`,
		`CREATE INDEX IF NOT EXISTS idx_container_items_container ON container_items(container_id)`,
		`CREATE INDEX IF NOT EXISTS idx_container_items_item ON container_items(item_id)`,
	}
}

func defaultZero() string        { return "DEFAULT 0" }
func defaultEmptyString() string { return "DEFAULT ''" }

// CreateSchema creates the catalog tables if they do not already exist. If
// dropExisting is true, all tables are dropped first (used by tests that
// need a clean slate).
func (db *DB) CreateSchema(ctx context.Context, dropExisting bool) error {
	if dropExisting {
		dropOrder := []string{
			"container_items", "containers", "items", "albums", "artists", "databases",
		}
		for _, table := range dropOrder {
			if _, err := db.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
				return err
			}
		}
	}

	for _, stmt := range db.schemaStatements() {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

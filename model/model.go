// Package model defines the catalog entities shared by the database,
// synchronizer and provider packages: Database, Artist, Album, Item,
// Container and ContainerItem, matching the relational schema.
package model

// Database is a top-level media library, one per configured connection.
type Database struct {
	ID           int64
	PersistentID string
	Name         string
	Exclude      bool
	Checksum     uint32
}

// Artist is a performer, grouping zero or more Albums.
type Artist struct {
	ID           int64
	DatabaseID   int64
	PersistentID string
	Name         string
	Exclude      bool
	Checksum     uint32
}

// Album is a release by an Artist, optionally carrying embedded artwork
// metadata (art_name/art_type/art_size supplement the distilled schema
// with the fields the original's database.py Album entity carried).
type Album struct {
	ID           int64
	DatabaseID   int64
	ArtistID     int64
	PersistentID string
	Name         string
	ArtName      string
	ArtType      string
	ArtSize      int64
	Exclude      bool
	Checksum     uint32
}

// Item is a single track belonging to an Artist and Album. ArtistID is the
// track's own (possibly synthetic or fallback) artist; AlbumArtistID is
// always the owning album's artist, which can differ on compilations.
type Item struct {
	ID            int64
	DatabaseID    int64
	ArtistID      int64
	AlbumArtistID int64
	AlbumID       int64
	PersistentID string
	RemoteID     string
	Name         string
	Track        int
	TrackCount   int
	Disc         int
	DiscCount    int
	Year         int
	Duration     int
	Bitrate      int
	FileSize     int64
	FileSuffix   string
	FileType     string
	FileName     string
	Genre        string
	Exclude      bool
	Cache        bool
	Checksum     uint32
}

// Container is a playlist or base library container. ParentID is nil for
// top-level containers; IsBase marks the synthetic "all items" container.
type Container struct {
	ID           int64
	DatabaseID   int64
	ParentID     *int64
	PersistentID string
	Name         string
	IsBase       bool
	IsSmart      bool
	Exclude      bool
	Cache        bool
	Checksum     uint32
}

// ContainerItem links a Container to an Item at a given playback position.
type ContainerItem struct {
	ID          int64
	ContainerID int64
	ItemID      int64
	Order       int
}

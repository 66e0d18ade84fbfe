package subsonic

import (
	"context"
	"net/url"
)

// GetIndexes fetches the full artist index (id3-tag browsing mode).
// ifModifiedSince is forwarded as the Subsonic ifModifiedSince parameter so
// a server that tracks its own last-modified time can short-circuit an
// unchanged origin; the returned lastModified is the response's own
// indexes.lastModified, empty when the server does not report one, per
// spec.md §4.6 step 2's version probe.
func (c *Client) GetIndexes(ctx context.Context, ifModifiedSince string) (indexes []Index, lastModified string, err error) {
	var body struct {
		Indexes struct {
			LastModified string          `json:"lastModified"`
			Index        FlexList[Index] `json:"index"`
		} `json:"indexes"`
	}

	var params url.Values
	if ifModifiedSince != "" {
		params = url.Values{"ifModifiedSince": {ifModifiedSince}}
	}

	if err := c.getJSON(ctx, "getIndexes", params, &body); err != nil {
		return nil, "", err
	}
	return body.Indexes.Index, body.Indexes.LastModified, nil
}

// GetArtist fetches one artist's albums.
func (c *Client) GetArtist(ctx context.Context, id string) (*ArtistDetail, error) {
	var body struct {
		Artist ArtistDetail `json:"artist"`
	}
	if err := c.getJSON(ctx, "getArtist", url.Values{"id": {id}}, &body); err != nil {
		return nil, err
	}
	return &body.Artist, nil
}

// GetAlbum fetches one album's songs.
func (c *Client) GetAlbum(ctx context.Context, id string) (*Directory, error) {
	var body struct {
		Album Directory `json:"album"`
	}
	if err := c.getJSON(ctx, "getAlbum", url.Values{"id": {id}}, &body); err != nil {
		return nil, err
	}
	return &body.Album, nil
}

// GetMusicDirectory fetches one folder (folder-style browsing mode).
func (c *Client) GetMusicDirectory(ctx context.Context, id string) (*Directory, error) {
	var body struct {
		Directory Directory `json:"directory"`
	}
	if err := c.getJSON(ctx, "getMusicDirectory", url.Values{"id": {id}}, &body); err != nil {
		return nil, err
	}
	return &body.Directory, nil
}

// GetPlaylists fetches the list of playlists visible to the client.
func (c *Client) GetPlaylists(ctx context.Context) ([]Playlist, error) {
	var body struct {
		Playlists FlexList[Playlist] `json:"playlist"`
	}
	if err := c.getJSON(ctx, "getPlaylists", nil, &body); err != nil {
		return nil, err
	}
	return body.Playlists, nil
}

// GetPlaylist fetches one playlist's ordered entries.
func (c *Client) GetPlaylist(ctx context.Context, id string) (*PlaylistDetail, error) {
	var body struct {
		Playlist PlaylistDetail `json:"playlist"`
	}
	if err := c.getJSON(ctx, "getPlaylist", url.Values{"id": {id}}, &body); err != nil {
		return nil, err
	}
	return &body.Playlist, nil
}

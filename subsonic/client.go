// Package subsonic is a thin HTTP/JSON client for the Subsonic API,
// providing the listing and binary-fetch operations the synchronizer and
// provider need: getIndexes, getArtist, getMusicDirectory, getPlaylists,
// getPlaylist, getCoverArt, download and stream. Modeled on catalog-api's
// services/webdav_client.go wrapper-struct style; URL validation follows
// the original's subsonic.py.
package subsonic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/basilfx/subdaap/internal/errkind"
)

const apiVersion = "1.16.1"
const clientName = "subdaap"

// Client talks to a single Subsonic origin.
type Client struct {
	baseURL    *url.URL
	username   string
	password   string
	httpClient *http.Client
}

// New validates rawURL (scheme must be http or https, defaulting the port
// per scheme the way the original's subsonic.py does) and returns a Client.
func New(rawURL, username, password string) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errkind.New(errkind.ConfigInvalid, "subsonic.New", err)
	}

	switch u.Scheme {
	case "http", "https":
	default:
		return nil, errkind.New(errkind.ConfigInvalid, "subsonic.New", fmt.Errorf("unsupported URL scheme: %s", u.Scheme))
	}

	if u.Port() == "" {
		if u.Scheme == "https" {
			u.Host = u.Host + ":443"
		} else {
			u.Host = u.Host + ":80"
		}
	}

	return &Client{
		baseURL:    u,
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (c *Client) endpoint(method string, extra url.Values) string {
	q := url.Values{}
	q.Set("u", c.username)
	q.Set("p", c.password)
	q.Set("v", apiVersion)
	q.Set("c", clientName)
	q.Set("f", "json")
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}

	u := *c.baseURL
	u.Path = u.Path + "/rest/" + method + ".view"
	u.RawQuery = q.Encode()
	return u.String()
}

// subsonicResponse is the envelope every JSON endpoint returns.
type subsonicResponse struct {
	SubsonicResponse json.RawMessage `json:"subsonic-response"`
}

type errorEnvelope struct {
	Status string `json:"status"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) getJSON(ctx context.Context, method string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(method, params), nil)
	if err != nil {
		return errkind.New(errkind.RemoteProtocol, "subsonic."+method, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errkind.New(errkind.RemoteUnavailable, "subsonic."+method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return errkind.New(errkind.RemoteUnavailable, "subsonic."+method, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return errkind.New(errkind.RemoteProtocol, "subsonic."+method, fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errkind.New(errkind.RemoteUnavailable, "subsonic."+method, err)
	}

	var envelope struct {
		SubsonicResponse json.RawMessage `json:"subsonic-response"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return errkind.New(errkind.RemoteProtocol, "subsonic."+method, err)
	}

	var status errorEnvelope
	if err := json.Unmarshal(envelope.SubsonicResponse, &status); err != nil {
		return errkind.New(errkind.RemoteProtocol, "subsonic."+method, err)
	}
	if status.Status == "failed" {
		msg := "unknown error"
		if status.Error != nil {
			msg = status.Error.Message
		}
		return errkind.New(errkind.RemoteProtocol, "subsonic."+method, fmt.Errorf("subsonic error: %s", msg))
	}

	if out != nil {
		if err := json.Unmarshal(envelope.SubsonicResponse, out); err != nil {
			return errkind.New(errkind.RemoteProtocol, "subsonic."+method, err)
		}
	}

	return nil
}

// getBinary issues a GET expected to return a binary body (cover art,
// download, stream), returning the response for the caller to stream from.
func (c *Client) getBinary(ctx context.Context, method string, params url.Values) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(method, params), nil)
	if err != nil {
		return nil, 0, errkind.New(errkind.RemoteProtocol, "subsonic."+method, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, errkind.New(errkind.RemoteUnavailable, "subsonic."+method, err)
	}

	if resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, 0, errkind.New(errkind.RemoteUnavailable, "subsonic."+method, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, 0, errkind.New(errkind.RemoteProtocol, "subsonic."+method, fmt.Errorf("status %d", resp.StatusCode))
	}

	size := int64(-1)
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if v, err := strconv.ParseInt(cl, 10, 64); err == nil {
			size = v
		}
	}

	return resp.Body, size, nil
}

// CoverArt fetches raw artwork bytes for a cover art id.
func (c *Client) CoverArt(ctx context.Context, id string) (io.ReadCloser, int64, error) {
	return c.getBinary(ctx, "getCoverArt", url.Values{"id": {id}})
}

// Download fetches the original, untranscoded file for an item id.
func (c *Client) Download(ctx context.Context, id string) (io.ReadCloser, int64, error) {
	return c.getBinary(ctx, "download", url.Values{"id": {id}})
}

// Stream fetches a (possibly transcoded) stream for an item id. maxBitRate
// of 0 requests the server's default.
func (c *Client) Stream(ctx context.Context, id string, maxBitRate int, format string) (io.ReadCloser, int64, error) {
	params := url.Values{"id": {id}}
	if maxBitRate > 0 {
		params.Set("maxBitRate", strconv.Itoa(maxBitRate))
	}
	if format != "" {
		params.Set("format", format)
	}
	return c.getBinary(ctx, "stream", params)
}

package subsonic

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, method string, body string) (*httptest.Server, *Client) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Path; got != "/rest/"+method+".view" {
			t.Fatalf("unexpected path: %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)

	c, err := New(server.URL, "user", "pass")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return server, c
}

func TestGetIndexesParsesArtists(t *testing.T) {
	_, c := newTestServer(t, "getIndexes", `{
		"subsonic-response": {
			"status": "ok",
			"indexes": {"index": [{"name": "B", "artist": [{"id": "ar1", "name": "The Beatles"}]}]}
		}
	}`)

	indexes, _, err := c.GetIndexes(context.Background(), "")
	if err != nil {
		t.Fatalf("GetIndexes: %v", err)
	}
	if len(indexes) != 1 || len(indexes[0].Artists) != 1 || indexes[0].Artists[0].Name != "The Beatles" {
		t.Fatalf("unexpected indexes: %+v", indexes)
	}
}

func TestGetJSONReturnsRemoteProtocolOnFailedStatus(t *testing.T) {
	_, c := newTestServer(t, "getIndexes", `{
		"subsonic-response": {
			"status": "failed",
			"error": {"code": 40, "message": "Wrong username or password"}
		}
	}`)

	_, _, err := c.GetIndexes(context.Background(), "")
	if err == nil {
		t.Fatalf("expected error for failed status")
	}
}

func TestNewRejectsUnsupportedScheme(t *testing.T) {
	if _, err := New("ftp://example.com", "u", "p"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestNewDefaultsPort(t *testing.T) {
	c, err := New("http://example.com", "u", "p")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.baseURL.Port() != "80" {
		t.Fatalf("got port %q, want 80", c.baseURL.Port())
	}
}

func TestCoverArtStreamsBinaryBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("binary-data"))
	}))
	t.Cleanup(server.Close)

	c, err := New(server.URL, "u", "p")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rc, size, err := c.CoverArt(context.Background(), "al1")
	if err != nil {
		t.Fatalf("CoverArt: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "binary-data" {
		t.Fatalf("got %q, want %q", data, "binary-data")
	}
	if size != int64(len("binary-data")) {
		t.Fatalf("got size %d, want %d", size, len("binary-data"))
	}
}

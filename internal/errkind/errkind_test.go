package errkind

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesWrappedKind(t *testing.T) {
	base := New(CacheIO, "cache.Get", errors.New("disk full"))
	wrapped := fmt.Errorf("context: %w", base)

	if !Is(wrapped, CacheIO) {
		t.Fatalf("expected Is to find CacheIO through fmt.Errorf wrapping")
	}
	if Is(wrapped, RemoteProtocol) {
		t.Fatalf("expected Is to not match a different kind")
	}
}

func TestIsFalseForPlainError(t *testing.T) {
	if Is(errors.New("plain"), CacheIO) {
		t.Fatalf("expected Is to return false for a non-errkind error")
	}
}

func TestErrorMessageIncludesKindAndOp(t *testing.T) {
	err := New(RemoteUnavailable, "subsonic.GetIndexes", errors.New("connection refused"))
	msg := err.Error()

	if msg == "" {
		t.Fatalf("expected non-empty message")
	}
	want := "subsonic.GetIndexes: remote_unavailable: connection refused"
	if msg != want {
		t.Fatalf("got %q, want %q", msg, want)
	}
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("cause")
	err := New(CatalogIO, "op", cause)

	if errors.Unwrap(err) != cause {
		t.Fatalf("expected Unwrap to return the cause")
	}
}

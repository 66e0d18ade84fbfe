package cache

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/basilfx/subdaap/internal/errkind"
)

// streamPollInterval is how often a Stream reader checks for new bytes
// while its entry's download is still in flight.
const streamPollInterval = 50 * time.Millisecond

// ByteRange is a half-open byte span [Start, End) a caller wants from a
// cached entry: End is exclusive, and End of -1 means "to EOF" rather
// than a fixed byte count, since a transcoded item's final length is not
// known until its download completes.
type ByteRange struct {
	Start int64
	End   int64
}

// FullRange reads an entry from the beginning with no upper bound.
var FullRange = ByteRange{Start: 0, End: -1}

// Stream returns a ReadCloser over entry's file within byteRange. It opens
// entry.Path, which exists only once the download has completed and its
// .part file has been renamed into place; Cache.Get hands out an entry only
// after that point. Reading while a download is still in flight is not
// supported: for an entry that is not yet ready the open fails with a
// CacheIO error.
//
// The returned reader holds entry "in use" (Entry.acquireUse) until Close
// is called, so Cache.Clean never removes the backing file while a reader
// is still attached to it.
func Stream(ctx context.Context, entry *Entry, byteRange ByteRange) (io.ReadCloser, error) {
	f, err := os.Open(entry.Path)
	if err != nil {
		return nil, errkind.New(errkind.CacheIO, "cache.Stream", err)
	}

	if byteRange.Start > 0 {
		if _, err := f.Seek(byteRange.Start, io.SeekStart); err != nil {
			f.Close()
			return nil, errkind.New(errkind.CacheIO, "cache.Stream", err)
		}
	}

	entry.acquireUse()

	limit := int64(-1)
	if byteRange.End >= byteRange.Start {
		limit = byteRange.End - byteRange.Start
	}

	return &streamReader{ctx: ctx, f: f, entry: entry, remaining: limit}, nil
}

type streamReader struct {
	ctx       context.Context
	f         *os.File
	entry     *Entry
	remaining int64 // -1 means unbounded
	closed    bool
}

func (r *streamReader) Read(p []byte) (int, error) {
	if r.remaining == 0 {
		return 0, io.EOF
	}
	if r.remaining > 0 && int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}

	for {
		n, err := r.f.Read(p)
		if n > 0 {
			if r.remaining > 0 {
				r.remaining -= int64(n)
			}
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, err
		}

		// Real EOF: the download has finished and we've read everything.
		if r.entry.IsReady() {
			return 0, io.EOF
		}

		select {
		case <-r.ctx.Done():
			return 0, r.ctx.Err()
		case <-r.entry.Ready():
			// Download just finished; loop once more to pick up the tail.
			continue
		case <-time.After(streamPollInterval):
			continue
		}
	}
}

func (r *streamReader) Close() error {
	if !r.closed {
		r.closed = true
		r.entry.releaseUse()
	}
	return r.f.Close()
}

package blobstore

import (
	"context"
	"errors"
	"iter"
	"strings"

	"google.golang.org/api/iterator"
)

// ErrNoMoreBlobs is returned by BlobIterator.Next once the listing is
// exhausted. It is iterator.Done, so callers used to Google API iterators
// can test for either.
var ErrNoMoreBlobs = iterator.Done

type cursorState int

const (
	cursorNoPage cursorState = iota
	cursorBuffered
	cursorExhausted
)

// BlobSource is a single-pass sequence of blobs.
type BlobSource interface {
	HasNext(ctx context.Context) (bool, error)
	Next(ctx context.Context) (*Blob, error)
	Close() error
}

// BlobIterator lazily pages through the blobs below a key prefix. Pages are
// fetched on demand; directory markers and keys that do not map to a valid
// path are skipped. It is single-owner and cannot be restarted.
type BlobIterator struct {
	store  *Store
	prefix string

	state cursorState
	page  []*Blob
	pos   int
	// more and token describe the page after the buffered one.
	more  bool
	token string
}

func newBlobIterator(s *Store, prefix string) *BlobIterator {
	return &BlobIterator{store: s, prefix: prefix, more: true}
}

// Prefix returns the key prefix being listed.
func (it *BlobIterator) Prefix() string {
	return it.prefix
}

// HasNext reports whether Next will return a blob, fetching pages as
// needed. Repeated calls do not advance the iterator. Fetch failures are
// returned as-is and leave the iterator able to retry.
func (it *BlobIterator) HasNext(ctx context.Context) (bool, error) {
	for {
		switch it.state {
		case cursorExhausted:
			return false, nil
		case cursorBuffered:
			if it.pos < len(it.page) {
				return true, nil
			}
			if !it.more {
				it.finish()
				return false, nil
			}
		}
		if err := it.fetch(ctx); err != nil {
			return false, err
		}
	}
}

// Next returns the next blob. It advances on its own when HasNext was not
// called, and returns ErrNoMoreBlobs when nothing remains.
func (it *BlobIterator) Next(ctx context.Context) (*Blob, error) {
	ok, err := it.HasNext(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoMoreBlobs
	}
	b := it.page[it.pos]
	it.page[it.pos] = nil
	it.pos++
	return b, nil
}

// Close releases the buffered page. The iterator reports no further blobs.
func (it *BlobIterator) Close() error {
	it.finish()
	return nil
}

// All adapts the iterator to a range-over-func sequence. Iteration stops at
// the first error, which is yielded with a nil blob.
func (it *BlobIterator) All(ctx context.Context) iter.Seq2[*Blob, error] {
	return func(yield func(*Blob, error) bool) {
		for {
			b, err := it.Next(ctx)
			if errors.Is(err, ErrNoMoreBlobs) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}

func (it *BlobIterator) finish() {
	it.state = cursorExhausted
	it.page = nil
	it.pos = 0
	it.more = false
}

func (it *BlobIterator) fetch(ctx context.Context) error {
	s := it.store
	resp, err := s.client.ListObjects(ctx, &ListObjectsRequest{
		Bucket:            s.bucket,
		Prefix:            it.prefix,
		MaxKeys:           s.listPageSize,
		ContinuationToken: it.token,
	})
	observe("list", err)
	if err != nil {
		return &StoreError{Op: "list objects", Bucket: s.bucket, Key: it.prefix, Err: err}
	}

	page := make([]*Blob, 0, len(resp.Objects))
	for _, obj := range resp.Objects {
		if obj.Key == it.prefix || strings.HasSuffix(obj.Key, "/") {
			// Directory marker.
			continue
		}
		p, ok := s.keys.KeyToPath(obj.Key)
		if !ok {
			s.logger.Warn("Skipping key that does not map to a blob path", "key", obj.Key, "prefix", it.prefix)
			continue
		}
		page = append(page, &Blob{store: s, path: p, key: obj.Key})
	}

	it.page = page
	it.pos = 0
	it.state = cursorBuffered
	it.more = resp.IsTruncated && resp.NextContinuationToken != ""
	it.token = resp.NextContinuationToken
	return nil
}

var _ BlobSource = (*BlobIterator)(nil)

package blobstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bleepstore/s3blob/internal/blobpath"
	"github.com/bleepstore/s3blob/internal/metrics"
)

// ByteRange is the half-open interval [Start, End) of an object. A negative
// End means "through the end of the object".
type ByteRange struct {
	Start int64
	End   int64
}

// RangeFrom returns the range from off to the end of the object.
func RangeFrom(off int64) ByteRange {
	return ByteRange{Start: off, End: -1}
}

// Validate rejects negative offsets and inverted or empty ranges.
func (r ByteRange) Validate() error {
	if r.Start < 0 {
		return fmt.Errorf("invalid byte range: negative start %d", r.Start)
	}
	if r.End >= 0 && r.End <= r.Start {
		return fmt.Errorf("invalid byte range: end %d not after start %d", r.End, r.Start)
	}
	return nil
}

// Header renders the range as an HTTP Range header value. HTTP ranges are
// inclusive, so the end is shifted by one.
func (r ByteRange) Header() string {
	if r.End < 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End-1)
}

func (r ByteRange) String() string {
	if r.End < 0 {
		return fmt.Sprintf("[%d,EOF)", r.Start)
	}
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// ObjectInfo describes a stored blob.
type ObjectInfo struct {
	Path         blobpath.Path
	Size         int64
	ETag         string
	LastModified time.Time
	Metadata     ObjectMetadata
}

// Blob is a handle to one path of a Store. It is a value: it holds no
// state beyond its location and is safe to share.
type Blob struct {
	store *Store
	path  blobpath.Path
	key   string
}

func (b *Blob) Store() *Store       { return b.store }
func (b *Blob) Path() blobpath.Path { return b.path }
func (b *Blob) Key() string         { return b.key }
func (b *Blob) String() string      { return "s3://" + b.store.bucket + "/" + b.key }

// Equal reports whether both handles address the same bucket and key.
func (b *Blob) Equal(o *Blob) bool {
	if b == nil || o == nil {
		return b == o
	}
	return b.store.bucket == o.store.bucket && b.key == o.key
}

func (b *Blob) notFound(err error) error {
	return &NotFoundError{Store: b.store.name, Path: b.path.String(), Err: err}
}

func (b *Blob) storeError(op string, err error) error {
	return &StoreError{Op: op, Bucket: b.store.bucket, Key: b.key, Err: err}
}

func (b *Blob) head(ctx context.Context) (*HeadObjectResponse, error) {
	return b.store.client.HeadObject(ctx, &HeadObjectRequest{Bucket: b.store.bucket, Key: b.key})
}

// Exists reports whether the blob is present.
func (b *Blob) Exists(ctx context.Context) (bool, error) {
	_, err := b.head(ctx)
	switch {
	case err == nil:
		return true, nil
	case IsMissing(err):
		return false, nil
	}
	return false, b.storeError("head object", err)
}

// Size returns the blob size in bytes.
func (b *Blob) Size(ctx context.Context) (int64, error) {
	info, err := b.Stat(ctx)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// Stat returns size, ETag, modification time and metadata of the blob.
func (b *Blob) Stat(ctx context.Context) (*ObjectInfo, error) {
	resp, err := b.head(ctx)
	if err != nil {
		if IsMissing(err) {
			return nil, b.notFound(err)
		}
		return nil, b.storeError("head object", err)
	}
	return &ObjectInfo{
		Path:         b.path,
		Size:         resp.ContentLength,
		ETag:         resp.ETag,
		LastModified: resp.LastModified,
		Metadata:     resp.Metadata,
	}, nil
}

// NewReader streams the blob, or only rng of it when rng is non-nil. The
// caller must close the reader.
func (b *Blob) NewReader(ctx context.Context, rng *ByteRange) (io.ReadCloser, error) {
	if rng != nil {
		if err := rng.Validate(); err != nil {
			return nil, err
		}
	}
	resp, err := b.store.client.GetObject(ctx, &GetObjectRequest{
		Bucket: b.store.bucket,
		Key:    b.key,
		Range:  rng,
	})
	if err != nil {
		observe("get", err)
		if IsMissing(err) {
			return nil, b.notFound(err)
		}
		return nil, b.storeError("get object", err)
	}
	observe("get", nil)
	return &countingReader{ReadCloser: resp.Body}, nil
}

// NewWriter returns a buffered writer for the blob. Nothing is sent until
// the buffer fills or the writer is closed.
func (b *Blob) NewWriter(ctx context.Context, opts ...WriterOption) (Writer, error) {
	return newBlobWriter(ctx, b, ApplyWriterOptions(opts...)), nil
}

// Delete removes the blob. Deleting a missing blob succeeds.
func (b *Blob) Delete(ctx context.Context) error {
	err := b.store.client.DeleteObject(ctx, &DeleteObjectRequest{Bucket: b.store.bucket, Key: b.key})
	observe("delete", err)
	if err != nil {
		return fmt.Errorf("delete blob %s: %w", b.path, b.storeError("delete object", err))
	}
	return nil
}

// countingReader reports downloaded bytes to metrics.
type countingReader struct {
	io.ReadCloser
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	if n > 0 {
		metrics.BytesDownloadedTotal.Add(float64(n))
	}
	return n, err
}

// Package blobstore implements a hierarchical blob store on top of an
// S3-compatible object storage service.
//
// A Store binds a bucket and an optional key prefix to a wire Client. Blobs
// are addressed by blobpath.Path and mapped onto flat keys by a KeyMapper.
// Large payloads are streamed through bounded memory with multipart uploads
// and server-side multipart copies, and CreateNew writes are enforced with
// conditional requests rather than a separate existence check.
//
// Stores, blobs and iterators are cheap handles. Writers, iterators and
// multipart sessions are single-owner and must not be used concurrently.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bleepstore/s3blob/internal/blobpath"
	"github.com/bleepstore/s3blob/internal/metrics"
)

const (
	// DefaultUploadPartSize is the buffer size of a blob writer and the size
	// of every non-final part of a multipart upload.
	DefaultUploadPartSize int64 = 16 << 20
	// DefaultCopyPartSize is the largest object copied with a single request,
	// and the part size of larger copies.
	DefaultCopyPartSize int64 = 512 << 20
	// DefaultListPageSize is the number of keys requested per listing page.
	DefaultListPageSize int32 = 1000
	// MaxMultipartParts is the protocol limit on parts per upload.
	MaxMultipartParts = 10000
	// MaxDeleteBatch is the protocol limit on keys per bulk delete.
	MaxDeleteBatch = 1000
)

// WriteMode controls what a write does when the target already exists.
type WriteMode int

const (
	// Overwrite replaces any existing blob.
	Overwrite WriteMode = iota
	// CreateNew fails with ErrAlreadyExists if the blob exists when the
	// write is committed.
	CreateNew
)

func (m WriteMode) String() string {
	switch m {
	case Overwrite:
		return "overwrite"
	case CreateNew:
		return "create_new"
	}
	return fmt.Sprintf("WriteMode(%d)", int(m))
}

// WriterOptions configure a blob writer.
type WriterOptions struct {
	Mode     WriteMode
	Metadata ObjectMetadata
}

// WriterOption mutates WriterOptions.
type WriterOption func(*WriterOptions)

// WithWriteMode selects Overwrite or CreateNew semantics.
func WithWriteMode(mode WriteMode) WriterOption {
	return func(o *WriterOptions) { o.Mode = mode }
}

// WithContentType sets the Content-Type stored with the blob.
func WithContentType(contentType string) WriterOption {
	return func(o *WriterOptions) { o.Metadata.ContentType = contentType }
}

// WithMetadata sets the object metadata stored with the blob.
func WithMetadata(md ObjectMetadata) WriterOption {
	return func(o *WriterOptions) { o.Metadata = md }
}

// ApplyWriterOptions resolves opts over the defaults (Overwrite, no metadata).
func ApplyWriterOptions(opts ...WriterOption) WriterOptions {
	var o WriterOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Writer is a sequential sink for one blob. Close commits the blob; Abort
// discards everything written so far. After either, further writes fail.
type Writer interface {
	io.WriteCloser
	Abort() error
}

// Backend is any store blobs can be read from, written to, copied between
// and deleted from. *Store is the protocol-native implementation; other
// backends (filesystem, other clouds) are reached through streaming copies.
type Backend interface {
	// Name identifies the backend in logs and errors.
	Name() string
	Exists(ctx context.Context, p blobpath.Path) (bool, error)
	// Size returns the blob size, or an error matching ErrNotFound.
	Size(ctx context.Context, p blobpath.Path) (int64, error)
	// NewReader streams the blob, or the part of it selected by rng.
	NewReader(ctx context.Context, p blobpath.Path, rng *ByteRange) (io.ReadCloser, error)
	NewWriter(ctx context.Context, p blobpath.Path, opts ...WriterOption) (Writer, error)
	Delete(ctx context.Context, p blobpath.Path) error
}

// Store is a blob namespace inside one bucket. Two stores are equal when
// they address the same bucket and normalized prefix; the name is only a
// label.
type Store struct {
	name           string
	bucket         string
	keys           KeyMapper
	uploadPartSize int64
	copyPartSize   int64
	listPageSize   int32
	client         Client
	logger         *slog.Logger
	now            func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithName sets the label used in logs and errors. Defaults to the bucket.
func WithName(name string) Option {
	return func(s *Store) { s.name = name }
}

// WithPrefix namespaces every key of the store below prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.keys = NewKeyMapper(prefix) }
}

// WithUploadPartSize sets the writer buffer and multipart part size.
func WithUploadPartSize(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.uploadPartSize = n
		}
	}
}

// WithCopyPartSize sets the single-request copy limit and copy part size.
func WithCopyPartSize(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.copyPartSize = n
		}
	}
}

// WithListPageSize sets the max-keys of each listing request.
func WithListPageSize(n int32) Option {
	return func(s *Store) {
		if n > 0 {
			s.listPageSize = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used to age multipart uploads.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns a store over bucket that issues requests through client.
// Part sizes are taken as given; validating them against service limits is
// the caller's job (see config.Load).
func New(client Client, bucket string, opts ...Option) *Store {
	s := &Store{
		name:           bucket,
		bucket:         bucket,
		uploadPartSize: DefaultUploadPartSize,
		copyPartSize:   DefaultCopyPartSize,
		listPageSize:   DefaultListPageSize,
		client:         client,
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("store", s.name, "bucket", s.bucket)
	return s
}

func (s *Store) Name() string          { return s.name }
func (s *Store) Bucket() string        { return s.bucket }
func (s *Store) Prefix() string        { return s.keys.Prefix() }
func (s *Store) KeyMapper() KeyMapper  { return s.keys }
func (s *Store) UploadPartSize() int64 { return s.uploadPartSize }
func (s *Store) CopyPartSize() int64   { return s.copyPartSize }
func (s *Store) Client() Client        { return s.client }
func (s *Store) String() string        { return "s3://" + s.bucket + "/" + s.keys.Prefix() }

// Equal reports whether s and o address the same keys of the same bucket.
func (s *Store) Equal(o *Store) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.bucket == o.bucket && s.keys.Equal(o.keys)
}

// GetBlob returns the handle for p. No request is made.
func (s *Store) GetBlob(p blobpath.Path) *Blob {
	return &Blob{store: s, path: p, key: s.keys.BuildKey(p)}
}

// ListBlobs lazily enumerates every blob below p.
func (s *Store) ListBlobs(p blobpath.Path) *BlobIterator {
	prefix := s.keys.KeyPrefixFor(p)
	if prefix == "/" {
		// Root of an unprefixed store: keys never start with "/".
		prefix = ""
	}
	return newBlobIterator(s, prefix)
}

// DeleteBlob removes the blob at p. Deleting a missing blob succeeds.
func (s *Store) DeleteBlob(ctx context.Context, p blobpath.Path) error {
	return s.GetBlob(p).Delete(ctx)
}

// DeleteBlobs removes every blob listed below p.
func (s *Store) DeleteBlobs(ctx context.Context, p blobpath.Path) error {
	return s.DeleteAll(ctx, s.ListBlobs(p))
}

// CopyBlob copies the blob at src to dst in target, which may be s itself,
// another Store, or any other Backend. The target must not exist.
func (s *Store) CopyBlob(ctx context.Context, src blobpath.Path, target Backend, dst blobpath.Path) error {
	return Copy(ctx, s, src, target, dst)
}

// MoveBlob copies src to dst in target and then deletes src. The source is
// left untouched if the copy fails.
func (s *Store) MoveBlob(ctx context.Context, src blobpath.Path, target Backend, dst blobpath.Path) error {
	return Move(ctx, s, src, target, dst)
}

// Exists implements Backend.
func (s *Store) Exists(ctx context.Context, p blobpath.Path) (bool, error) {
	return s.GetBlob(p).Exists(ctx)
}

// Size implements Backend.
func (s *Store) Size(ctx context.Context, p blobpath.Path) (int64, error) {
	return s.GetBlob(p).Size(ctx)
}

// NewReader implements Backend.
func (s *Store) NewReader(ctx context.Context, p blobpath.Path, rng *ByteRange) (io.ReadCloser, error) {
	return s.GetBlob(p).NewReader(ctx, rng)
}

// NewWriter implements Backend.
func (s *Store) NewWriter(ctx context.Context, p blobpath.Path, opts ...WriterOption) (Writer, error) {
	return s.GetBlob(p).NewWriter(ctx, opts...)
}

// Delete implements Backend.
func (s *Store) Delete(ctx context.Context, p blobpath.Path) error {
	return s.DeleteBlob(ctx, p)
}

// observe records the outcome of a store operation.
func observe(op string, err error) {
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound) || IsMissing(err):
		status = "not_found"
	case errors.Is(err, ErrAlreadyExists) || IsPreconditionFailed(err):
		status = "already_exists"
	default:
		status = "error"
	}
	metrics.BlobOperationsTotal.WithLabelValues(op, status).Inc()
}

var _ Backend = (*Store)(nil)

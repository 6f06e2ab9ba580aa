package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/bleepstore/s3blob/internal/blobpath"
	"github.com/bleepstore/s3blob/internal/blobstore"
)

// GCSAPI defines the subset of the GCS client interface that GCSBackend
// uses. This allows mocking in tests.
type GCSAPI interface {
	// NewWriter returns a writer for the given GCS object. With
	// ifNotExist set the upload fails with 412 if the object exists.
	NewWriter(ctx context.Context, bucket, object string, ifNotExist bool, md blobstore.ObjectMetadata) io.WriteCloser
	// NewRangeReader reads length bytes from offset; a negative length reads
	// to the end of the object.
	NewRangeReader(ctx context.Context, bucket, object string, offset, length int64) (io.ReadCloser, error)
	// Delete deletes the given GCS object.
	Delete(ctx context.Context, bucket, object string) error
	// Attrs returns the attributes of the given GCS object.
	Attrs(ctx context.Context, bucket, object string) (*GCSAttrs, error)
}

// GCSAttrs holds object attributes returned from GCS operations.
type GCSAttrs struct {
	Size int64
}

// realGCSClient wraps the official GCS client to satisfy GCSAPI.
type realGCSClient struct {
	client *gcs.Client
}

func (c *realGCSClient) NewWriter(ctx context.Context, bucket, object string, ifNotExist bool, md blobstore.ObjectMetadata) io.WriteCloser {
	obj := c.client.Bucket(bucket).Object(object)
	if ifNotExist {
		obj = obj.If(gcs.Conditions{DoesNotExist: true})
	}
	w := obj.NewWriter(ctx)
	w.ContentType = md.ContentType
	w.ContentEncoding = md.ContentEncoding
	w.ContentDisposition = md.ContentDisposition
	w.ContentLanguage = md.ContentLanguage
	w.CacheControl = md.CacheControl
	w.Metadata = md.User
	return w
}

func (c *realGCSClient) NewRangeReader(ctx context.Context, bucket, object string, offset, length int64) (io.ReadCloser, error) {
	return c.client.Bucket(bucket).Object(object).NewRangeReader(ctx, offset, length)
}

func (c *realGCSClient) Delete(ctx context.Context, bucket, object string) error {
	return c.client.Bucket(bucket).Object(object).Delete(ctx)
}

func (c *realGCSClient) Attrs(ctx context.Context, bucket, object string) (*GCSAttrs, error) {
	attrs, err := c.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		return nil, err
	}
	return &GCSAttrs{Size: attrs.Size}, nil
}

// GCSBackend implements blobstore.Backend on a Google Cloud Storage bucket.
// Blob paths map to object names the same way a Store maps them to S3 keys.
type GCSBackend struct {
	name   string
	bucket string
	keys   blobstore.KeyMapper
	client GCSAPI
}

// NewGCSBackend creates a GCS client and verifies the bucket is reachable.
// Credentials come from credentialsFile when set, otherwise from
// Application Default Credentials (GOOGLE_APPLICATION_CREDENTIALS, gcloud
// auth, metadata server).
func NewGCSBackend(ctx context.Context, name, bucket, prefix, credentialsFile string) (*GCSBackend, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		return nil, fmt.Errorf("cannot access GCS bucket %q: %w", bucket, err)
	}

	slog.Debug("GCS backend initialized", "store", name, "bucket", bucket, "prefix", prefix)
	return NewGCSBackendWithClient(name, bucket, prefix, &realGCSClient{client: client}), nil
}

// NewGCSBackendWithClient creates a GCSBackend with a pre-configured GCS
// client. This is primarily used for testing with mock clients.
func NewGCSBackendWithClient(name, bucket, prefix string, client GCSAPI) *GCSBackend {
	return &GCSBackend{
		name:   name,
		bucket: bucket,
		keys:   blobstore.NewKeyMapper(prefix),
		client: client,
	}
}

func (b *GCSBackend) Name() string { return b.name }

func (b *GCSBackend) object(p blobpath.Path) (string, error) {
	if p.IsRoot() {
		return "", fmt.Errorf("%w: root is not a blob", blobpath.ErrInvalidPath)
	}
	return b.keys.BuildKey(p), nil
}

func (b *GCSBackend) wrap(op string, p blobpath.Path, err error) error {
	if isGCSNotFound(err) {
		return &blobstore.NotFoundError{Store: b.name, Path: p.String(), Err: err}
	}
	return &blobstore.StoreError{Op: op, Key: "gs://" + b.bucket + "/" + b.keys.BuildKey(p), Err: err}
}

func (b *GCSBackend) Exists(ctx context.Context, p blobpath.Path) (bool, error) {
	_, err := b.Size(ctx, p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, blobstore.ErrNotFound):
		return false, nil
	}
	return false, err
}

func (b *GCSBackend) Size(ctx context.Context, p blobpath.Path) (int64, error) {
	name, err := b.object(p)
	if err != nil {
		return 0, err
	}
	attrs, err := b.client.Attrs(ctx, b.bucket, name)
	if err != nil {
		return 0, b.wrap("stat object", p, err)
	}
	return attrs.Size, nil
}

func (b *GCSBackend) NewReader(ctx context.Context, p blobpath.Path, rng *blobstore.ByteRange) (io.ReadCloser, error) {
	name, err := b.object(p)
	if err != nil {
		return nil, err
	}
	offset, length := int64(0), int64(-1)
	if rng != nil {
		if err := rng.Validate(); err != nil {
			return nil, err
		}
		offset = rng.Start
		if rng.End >= 0 {
			length = rng.End - rng.Start
		}
	}
	r, err := b.client.NewRangeReader(ctx, b.bucket, name, offset, length)
	if err != nil {
		return nil, b.wrap("read object", p, err)
	}
	return r, nil
}

// NewWriter streams to a resumable GCS upload. CreateNew is enforced by a
// DoesNotExist precondition evaluated when the upload is finalized.
func (b *GCSBackend) NewWriter(ctx context.Context, p blobpath.Path, opts ...blobstore.WriterOption) (blobstore.Writer, error) {
	name, err := b.object(p)
	if err != nil {
		return nil, err
	}
	o := blobstore.ApplyWriterOptions(opts...)
	wctx, cancel := context.WithCancel(ctx)
	return &gcsWriter{
		backend: b,
		path:    p,
		w:       b.client.NewWriter(wctx, b.bucket, name, o.Mode == blobstore.CreateNew, o.Metadata),
		cancel:  cancel,
	}, nil
}

// Delete removes the object. Deleting a missing blob succeeds.
func (b *GCSBackend) Delete(ctx context.Context, p blobpath.Path) error {
	name, err := b.object(p)
	if err != nil {
		return err
	}
	if err := b.client.Delete(ctx, b.bucket, name); err != nil && !isGCSNotFound(err) {
		return b.wrap("delete object", p, err)
	}
	return nil
}

// gcsWriter adapts a GCS object writer to blobstore.Writer. The upload is
// discarded by cancelling its context.
type gcsWriter struct {
	backend *GCSBackend
	path    blobpath.Path
	w       io.WriteCloser
	cancel  context.CancelFunc

	closed   bool
	closeErr error
}

func (w *gcsWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, blobstore.ErrWriterClosed
	}
	return w.w.Write(p)
}

func (w *gcsWriter) Close() error {
	if w.closed {
		return w.closeErr
	}
	w.closed = true
	defer w.cancel()
	if err := w.w.Close(); err != nil {
		if isGCSPreconditionFailed(err) {
			w.closeErr = &blobstore.AlreadyExistsError{Store: w.backend.name, Path: w.path.String(), Err: err}
		} else {
			w.closeErr = w.backend.wrap("write object", w.path, err)
		}
	}
	return w.closeErr
}

// Abort cancels the upload. Abort after Close is a no-op.
func (w *gcsWriter) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.closeErr = fmt.Errorf("%w: aborted", blobstore.ErrWriterClosed)
	w.cancel()
	_ = w.w.Close()
	return nil
}

// isGCSNotFound checks if a GCS error is a 404/not-found error.
func isGCSNotFound(err error) bool {
	if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
		return true
	}
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

func isGCSPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

var _ blobstore.Backend = (*GCSBackend)(nil)

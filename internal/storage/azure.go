package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/google/uuid"

	"github.com/bleepstore/s3blob/internal/blobpath"
	"github.com/bleepstore/s3blob/internal/blobstore"
)

// DefaultAzureBlockSize is the size of each staged block of a large upload.
const DefaultAzureBlockSize = 4 << 20

// AzureBlobAPI defines the subset of the Azure Blob Storage client interface
// that AzureBackend uses. This allows mocking in tests.
type AzureBlobAPI interface {
	// UploadBlob uploads data to a blob in one request. With ifNotExist set
	// the upload fails if the blob exists.
	UploadBlob(ctx context.Context, containerName, blobName string, data []byte, ifNotExist bool, md blobstore.ObjectMetadata) error
	// StageBlock stages a block on a blob for later commit.
	StageBlock(ctx context.Context, containerName, blobName, blockID string, data []byte) error
	// CommitBlockList commits a list of block IDs to finalize a blob.
	CommitBlockList(ctx context.Context, containerName, blobName string, blockIDs []string, ifNotExist bool, md blobstore.ObjectMetadata) error
	// DownloadRange streams count bytes from offset; a zero count reads to
	// the end of the blob.
	DownloadRange(ctx context.Context, containerName, blobName string, offset, count int64) (io.ReadCloser, error)
	// GetBlobProperties retrieves the size of a blob.
	GetBlobProperties(ctx context.Context, containerName, blobName string) (int64, error)
	// DeleteBlob deletes a blob. Returns an error if the blob does not exist.
	DeleteBlob(ctx context.Context, containerName, blobName string) error
	// ContainerExists checks that the container is reachable.
	ContainerExists(ctx context.Context, containerName string) error
}

// AzureBackend implements blobstore.Backend on an Azure Blob Storage
// container. Large writes use Block Blob primitives:
//
//	buffer full → StageBlock() on the final blob (no temp objects)
//	Close()     → CommitBlockList() to finalize
//	Abort()     → nothing to do (uncommitted blocks auto-expire in 7 days)
type AzureBackend struct {
	name      string
	container string
	keys      blobstore.KeyMapper
	client    AzureBlobAPI
	// BlockSize is the writer buffer and staged block size.
	BlockSize int
}

// NewAzureBackend creates an Azure client and verifies the container is
// reachable. connectionString wins over accountURL when both are set.
func NewAzureBackend(ctx context.Context, name, container, prefix, accountURL, connectionString string) (*AzureBackend, error) {
	client, err := newRealAzureClient(accountURL, connectionString)
	if err != nil {
		return nil, fmt.Errorf("creating Azure client: %w", err)
	}
	if err := client.ContainerExists(ctx, container); err != nil {
		return nil, fmt.Errorf("cannot access Azure container %q: %w", container, err)
	}

	slog.Debug("Azure backend initialized", "store", name, "container", container, "account", accountURL, "prefix", prefix)
	return NewAzureBackendWithClient(name, container, prefix, client), nil
}

// NewAzureBackendWithClient creates an AzureBackend with a pre-configured
// Azure client. This is primarily used for testing with mock clients.
func NewAzureBackendWithClient(name, container, prefix string, client AzureBlobAPI) *AzureBackend {
	return &AzureBackend{
		name:      name,
		container: container,
		keys:      blobstore.NewKeyMapper(prefix),
		client:    client,
		BlockSize: DefaultAzureBlockSize,
	}
}

func (b *AzureBackend) Name() string { return b.name }

func (b *AzureBackend) blobName(p blobpath.Path) (string, error) {
	if p.IsRoot() {
		return "", fmt.Errorf("%w: root is not a blob", blobpath.ErrInvalidPath)
	}
	return b.keys.BuildKey(p), nil
}

func (b *AzureBackend) wrap(op string, p blobpath.Path, err error) error {
	switch {
	case isAzureNotFound(err):
		return &blobstore.NotFoundError{Store: b.name, Path: p.String(), Err: err}
	case isAzureExists(err):
		return &blobstore.AlreadyExistsError{Store: b.name, Path: p.String(), Err: err}
	}
	return &blobstore.StoreError{Op: op, Key: b.container + "/" + b.keys.BuildKey(p), Err: err}
}

func (b *AzureBackend) Exists(ctx context.Context, p blobpath.Path) (bool, error) {
	_, err := b.Size(ctx, p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, blobstore.ErrNotFound):
		return false, nil
	}
	return false, err
}

func (b *AzureBackend) Size(ctx context.Context, p blobpath.Path) (int64, error) {
	name, err := b.blobName(p)
	if err != nil {
		return 0, err
	}
	n, err := b.client.GetBlobProperties(ctx, b.container, name)
	if err != nil {
		return 0, b.wrap("get blob properties", p, err)
	}
	return n, nil
}

func (b *AzureBackend) NewReader(ctx context.Context, p blobpath.Path, rng *blobstore.ByteRange) (io.ReadCloser, error) {
	name, err := b.blobName(p)
	if err != nil {
		return nil, err
	}
	var offset, count int64
	if rng != nil {
		if err := rng.Validate(); err != nil {
			return nil, err
		}
		offset = rng.Start
		if rng.End >= 0 {
			count = rng.End - rng.Start
		}
	}
	r, err := b.client.DownloadRange(ctx, b.container, name, offset, count)
	if err != nil {
		return nil, b.wrap("download blob", p, err)
	}
	return r, nil
}

func (b *AzureBackend) NewWriter(ctx context.Context, p blobpath.Path, opts ...blobstore.WriterOption) (blobstore.Writer, error) {
	name, err := b.blobName(p)
	if err != nil {
		return nil, err
	}
	return &azureWriter{
		ctx:     ctx,
		backend: b,
		path:    p,
		name:    name,
		opts:    blobstore.ApplyWriterOptions(opts...),
		id:      uuid.NewString(),
		buf:     make([]byte, 0, b.BlockSize),
	}, nil
}

// Delete removes the blob. Deleting a missing blob succeeds.
func (b *AzureBackend) Delete(ctx context.Context, p blobpath.Path) error {
	name, err := b.blobName(p)
	if err != nil {
		return err
	}
	if err := b.client.DeleteBlob(ctx, b.container, name); err != nil && !isAzureNotFound(err) {
		return b.wrap("delete blob", p, err)
	}
	return nil
}

// blockID generates a block ID for Azure staged blocks.
// Block IDs must be base64-encoded and the same length for all blocks
// in a blob. Includes the writer ID to avoid collisions between concurrent
// writers to the same blob.
func blockID(writerID string, n int) string {
	return base64.StdEncoding.EncodeToString(
		fmt.Appendf(nil, "%s:%05d", writerID, n),
	)
}

// azureWriter buffers one block at a time. A blob that fits in one block
// is uploaded with a single request.
type azureWriter struct {
	ctx     context.Context
	backend *AzureBackend
	path    blobpath.Path
	name    string
	opts    blobstore.WriterOptions
	id      string
	buf     []byte
	blocks  []string

	err      error
	closed   bool
	closeErr error
}

func (w *azureWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, blobstore.ErrWriterClosed
	}
	if w.err != nil {
		return 0, w.err
	}
	written := 0
	for len(p) > 0 {
		n := min(len(p), w.backend.BlockSize-len(w.buf))
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]
		written += n
		if len(w.buf) == w.backend.BlockSize {
			if err := w.stage(); err != nil {
				w.err = err
				return written, err
			}
		}
	}
	return written, nil
}

func (w *azureWriter) stage() error {
	id := blockID(w.id, len(w.blocks))
	if err := w.backend.client.StageBlock(w.ctx, w.backend.container, w.name, id, w.buf); err != nil {
		return w.backend.wrap(fmt.Sprintf("stage block %d", len(w.blocks)), w.path, err)
	}
	w.blocks = append(w.blocks, id)
	w.buf = w.buf[:0]
	return nil
}

func (w *azureWriter) Close() error {
	if w.closed {
		return w.closeErr
	}
	w.closed = true
	w.closeErr = w.commit()
	return w.closeErr
}

func (w *azureWriter) commit() error {
	if w.err != nil {
		return w.err
	}
	createNew := w.opts.Mode == blobstore.CreateNew
	if len(w.blocks) == 0 {
		err := w.backend.client.UploadBlob(w.ctx, w.backend.container, w.name, w.buf, createNew, w.opts.Metadata)
		if err != nil {
			return w.backend.wrap("upload blob", w.path, err)
		}
		return nil
	}
	if len(w.buf) > 0 {
		if err := w.stage(); err != nil {
			return err
		}
	}
	err := w.backend.client.CommitBlockList(w.ctx, w.backend.container, w.name, w.blocks, createNew, w.opts.Metadata)
	if err != nil {
		return w.backend.wrap("commit block list", w.path, err)
	}
	return nil
}

// Abort drops the buffer. Staged blocks are never committed and expire on
// their own. Abort after Close is a no-op.
func (w *azureWriter) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.closeErr = fmt.Errorf("%w: aborted", blobstore.ErrWriterClosed)
	w.buf = nil
	return nil
}

// isAzureNotFound checks if an Azure error is a not-found error.
func isAzureNotFound(err error) bool {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return true
	}
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// isAzureExists checks if an Azure error is the rejection of a conditional
// create.
func isAzureExists(err error) bool {
	if bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
		return true
	}
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusPreconditionFailed
}

var _ blobstore.Backend = (*AzureBackend)(nil)

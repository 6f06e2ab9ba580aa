package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bleepstore/s3blob/internal/blobpath"
	"github.com/bleepstore/s3blob/internal/blobstore"
)

// mockAzureClient implements AzureBlobAPI for unit testing.
type mockAzureClient struct {
	// blobs stores all blobs keyed by "container/blobName".
	blobs map[string][]byte
	// metadata records the metadata each blob was committed with.
	metadata map[string]blobstore.ObjectMetadata
	// stagedBlocks stores staged (uncommitted) blocks keyed by
	// "container/blobName" mapping to a map of blockID -> data.
	stagedBlocks map[string]map[string][]byte
	// uploadCalls tracks the number of single-shot uploads.
	uploadCalls int
	// stageBlockCalls tracks the number of StageBlock operations.
	stageBlockCalls int
	// commitBlockListCalls tracks the number of CommitBlockList operations.
	commitBlockListCalls int
}

func newMockAzureClient() *mockAzureClient {
	return &mockAzureClient{
		blobs:        make(map[string][]byte),
		metadata:     make(map[string]blobstore.ObjectMetadata),
		stagedBlocks: make(map[string]map[string][]byte),
	}
}

func (m *mockAzureClient) blobKey(containerName, blobName string) string {
	return containerName + "/" + blobName
}

func azureErr(status int, code bloberror.Code) error {
	return &azcore.ResponseError{StatusCode: status, ErrorCode: string(code)}
}

func (m *mockAzureClient) UploadBlob(ctx context.Context, containerName, blobName string, data []byte, ifNotExist bool, md blobstore.ObjectMetadata) error {
	m.uploadCalls++
	key := m.blobKey(containerName, blobName)
	if _, ok := m.blobs[key]; ok && ifNotExist {
		return azureErr(http.StatusConflict, bloberror.BlobAlreadyExists)
	}
	m.blobs[key] = bytes.Clone(data)
	m.metadata[key] = md
	return nil
}

func (m *mockAzureClient) StageBlock(ctx context.Context, containerName, blobName, blockID string, data []byte) error {
	m.stageBlockCalls++
	key := m.blobKey(containerName, blobName)
	if m.stagedBlocks[key] == nil {
		m.stagedBlocks[key] = make(map[string][]byte)
	}
	m.stagedBlocks[key][blockID] = bytes.Clone(data)
	return nil
}

func (m *mockAzureClient) CommitBlockList(ctx context.Context, containerName, blobName string, blockIDs []string, ifNotExist bool, md blobstore.ObjectMetadata) error {
	m.commitBlockListCalls++
	key := m.blobKey(containerName, blobName)
	if _, ok := m.blobs[key]; ok && ifNotExist {
		return azureErr(http.StatusPreconditionFailed, bloberror.ConditionNotMet)
	}
	var assembled bytes.Buffer
	for _, id := range blockIDs {
		data, ok := m.stagedBlocks[key][id]
		if !ok {
			return azureErr(http.StatusBadRequest, bloberror.InvalidBlockList)
		}
		assembled.Write(data)
	}
	m.blobs[key] = assembled.Bytes()
	m.metadata[key] = md
	delete(m.stagedBlocks, key)
	return nil
}

func (m *mockAzureClient) DownloadRange(ctx context.Context, containerName, blobName string, offset, count int64) (io.ReadCloser, error) {
	data, ok := m.blobs[m.blobKey(containerName, blobName)]
	if !ok {
		return nil, azureErr(http.StatusNotFound, bloberror.BlobNotFound)
	}
	data = data[min(offset, int64(len(data))):]
	if count > 0 {
		data = data[:min(count, int64(len(data)))]
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockAzureClient) GetBlobProperties(ctx context.Context, containerName, blobName string) (int64, error) {
	data, ok := m.blobs[m.blobKey(containerName, blobName)]
	if !ok {
		return 0, azureErr(http.StatusNotFound, bloberror.BlobNotFound)
	}
	return int64(len(data)), nil
}

func (m *mockAzureClient) DeleteBlob(ctx context.Context, containerName, blobName string) error {
	key := m.blobKey(containerName, blobName)
	if _, ok := m.blobs[key]; !ok {
		return azureErr(http.StatusNotFound, bloberror.BlobNotFound)
	}
	delete(m.blobs, key)
	return nil
}

func (m *mockAzureClient) ContainerExists(ctx context.Context, containerName string) error {
	return nil
}

func newTestAzureBackend(t *testing.T, blockSize int) (*AzureBackend, *mockAzureClient) {
	t.Helper()
	mock := newMockAzureClient()
	b := NewAzureBackendWithClient("az", "container", "pre", mock)
	if blockSize > 0 {
		b.BlockSize = blockSize
	}
	return b, mock
}

func TestAzureSmallUpload(t *testing.T) {
	b, mock := newTestAzureBackend(t, 0)
	md := blobstore.ObjectMetadata{ContentType: "application/json", User: map[string]string{"k": "v"}}

	require.NoError(t, putBlob(t, b, "doc.json", []byte(`{"a":1}`), blobstore.WithMetadata(md)))
	assert.Equal(t, 1, mock.uploadCalls)
	assert.Zero(t, mock.stageBlockCalls)
	assert.Equal(t, md, mock.metadata["container/pre/doc.json"])
	assert.Equal(t, []byte(`{"a":1}`), getBlob(t, b, "doc.json", nil))
}

func TestAzureBlockUpload(t *testing.T) {
	b, mock := newTestAzureBackend(t, 8)
	data := []byte("0123456789abcdefghij") // 20 bytes: 8 + 8 + 4

	require.NoError(t, putBlob(t, b, "big", data))
	assert.Zero(t, mock.uploadCalls)
	assert.Equal(t, 3, mock.stageBlockCalls)
	assert.Equal(t, 1, mock.commitBlockListCalls)
	assert.Equal(t, data, mock.blobs["container/pre/big"])
	assert.Empty(t, mock.stagedBlocks)
}

func TestAzureBlockUploadExactMultiple(t *testing.T) {
	b, mock := newTestAzureBackend(t, 4)
	require.NoError(t, putBlob(t, b, "even", []byte("abcdefgh")))
	assert.Equal(t, 2, mock.stageBlockCalls, "no empty trailing block")
	assert.Equal(t, []byte("abcdefgh"), mock.blobs["container/pre/even"])
}

func TestAzureCreateNew(t *testing.T) {
	createNew := blobstore.WithWriteMode(blobstore.CreateNew)

	t.Run("single upload", func(t *testing.T) {
		b, _ := newTestAzureBackend(t, 0)
		require.NoError(t, putBlob(t, b, "x", []byte("1"), createNew))
		assert.ErrorIs(t, putBlob(t, b, "x", []byte("2"), createNew), blobstore.ErrAlreadyExists)
	})
	t.Run("block list", func(t *testing.T) {
		b, mock := newTestAzureBackend(t, 2)
		require.NoError(t, putBlob(t, b, "x", []byte("one")))
		assert.ErrorIs(t, putBlob(t, b, "x", []byte("two"), createNew), blobstore.ErrAlreadyExists)
		assert.Equal(t, []byte("one"), mock.blobs["container/pre/x"])
	})
}

func TestAzureRangedRead(t *testing.T) {
	b, _ := newTestAzureBackend(t, 0)
	require.NoError(t, putBlob(t, b, "r", []byte("0123456789")))
	assert.Equal(t, []byte("12"), getBlob(t, b, "r", &blobstore.ByteRange{Start: 1, End: 3}))
	tail := blobstore.RangeFrom(9)
	assert.Equal(t, []byte("9"), getBlob(t, b, "r", &tail))
}

func TestAzureMissingBlob(t *testing.T) {
	b, _ := newTestAzureBackend(t, 0)
	ctx := context.Background()
	p := blobpath.MustParse("nope")

	ok, err := b.Exists(ctx, p)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = b.NewReader(ctx, p, nil)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
	assert.NoError(t, b.Delete(ctx, p))
}

func TestAzureWriterAbort(t *testing.T) {
	b, mock := newTestAzureBackend(t, 4)
	w, err := b.NewWriter(context.Background(), blobpath.MustParse("x"))
	require.NoError(t, err)
	_, err = w.Write([]byte("abcdef"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())
	assert.ErrorIs(t, w.Close(), blobstore.ErrWriterClosed)
	assert.Zero(t, mock.commitBlockListCalls)
	assert.Empty(t, mock.blobs)
}

func TestBlockIDFormat(t *testing.T) {
	id0 := blockID("writer", 0)
	id1 := blockID("writer", 12345)
	assert.Len(t, id1, len(id0), "all IDs of a blob have the same length")

	raw, err := base64.StdEncoding.DecodeString(id1)
	require.NoError(t, err)
	assert.Equal(t, "writer:12345", string(raw))
}

package blobstore_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bleepstore/s3blob/internal/blobpath"
	"github.com/bleepstore/s3blob/internal/blobstore"
	"github.com/bleepstore/s3blob/internal/blobstore/blobstoretest"
)

func TestMultipartSessionLifecycle(t *testing.T) {
	s, client := newTestStore(t, blobstore.WithPrefix("pre"))
	ctx := context.Background()
	p := blobpath.MustParse("obj")

	m, err := s.StartMultipart(ctx, p, blobstore.Overwrite, blobstore.ObjectMetadata{ContentType: "application/x-test"})
	require.NoError(t, err)
	assert.NotEmpty(t, m.UploadID())
	assert.Equal(t, "pre/obj", m.Key())

	for i := int32(1); i <= 3; i++ {
		n, err := m.NextPartNumber()
		require.NoError(t, err)
		assert.Equal(t, i, n)
		_, err = client.UploadPart(ctx, &blobstore.UploadPartRequest{
			Bucket: testBucket, Key: m.Key(), UploadID: m.UploadID(), PartNumber: n, Body: strings.NewReader("x"),
		})
		require.NoError(t, err)
		require.NoError(t, m.AddCompletedPart(fmt.Sprintf(`"part-%d"`, n)))
	}
	assert.Len(t, m.Parts(), 3)

	require.NoError(t, m.Complete(ctx, nil))
	obj, ok := client.Object(testBucket, "pre/obj")
	require.True(t, ok)
	assert.Equal(t, []byte("xxx"), obj.Data)
	assert.Equal(t, "application/x-test", obj.Metadata.ContentType)

	_, err = m.NextPartNumber()
	assert.ErrorIs(t, err, blobstore.ErrSessionCompleted)
	assert.ErrorIs(t, m.AddCompletedPart("x"), blobstore.ErrSessionCompleted)
	assert.ErrorIs(t, m.Complete(ctx, nil), blobstore.ErrSessionCompleted)

	m.Abort(ctx)
	assert.Zero(t, client.Calls("AbortMultipartUpload"), "abort after complete is a no-op")
}

func TestMultipartSessionAbortOnce(t *testing.T) {
	s, client := newTestStore(t)
	ctx := context.Background()

	m, err := s.StartMultipart(ctx, blobpath.MustParse("obj"), blobstore.Overwrite, blobstore.ObjectMetadata{})
	require.NoError(t, err)
	m.Abort(ctx)
	m.Abort(ctx)
	assert.Equal(t, 1, client.Calls("AbortMultipartUpload"))
	assert.Zero(t, client.OpenUploads())

	_, err = m.NextPartNumber()
	assert.ErrorIs(t, err, blobstore.ErrSessionAborted)
	assert.ErrorIs(t, m.AddCompletedPart("x"), blobstore.ErrSessionAborted)
}

func TestMultipartSessionAbortWithCancelledContext(t *testing.T) {
	s, client := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	m, err := s.StartMultipart(ctx, blobpath.MustParse("obj"), blobstore.Overwrite, blobstore.ObjectMetadata{})
	require.NoError(t, err)
	cancel()
	m.Abort(ctx)
	assert.Zero(t, client.OpenUploads())
}

func TestMultipartSessionStartFailure(t *testing.T) {
	s, client := newTestStore(t)
	client.Fail = func(op, _ string) error {
		return blobstoretest.Internal("no")
	}

	m, err := s.StartMultipart(context.Background(), blobpath.MustParse("obj"), blobstore.Overwrite, blobstore.ObjectMetadata{})
	assert.Nil(t, m)
	var se *blobstore.StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "create multipart upload", se.Op)
	assert.Equal(t, "obj", se.Key)
}

func TestMultipartSessionCompleteCreateNewConflict(t *testing.T) {
	s, client := newTestStore(t)
	ctx := context.Background()
	client.PutData(testBucket, "obj", []byte("existing"))

	m, err := s.StartMultipart(ctx, blobpath.MustParse("obj"), blobstore.CreateNew, blobstore.ObjectMetadata{})
	require.NoError(t, err)
	err = m.Complete(ctx, nil)
	var ae *blobstore.AlreadyExistsError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "obj", ae.Path)
}

func TestMultipartSessionCompleteCustomize(t *testing.T) {
	s, client := newTestStore(t)
	ctx := context.Background()

	m, err := s.StartMultipart(ctx, blobpath.MustParse("obj"), blobstore.CreateNew, blobstore.ObjectMetadata{})
	require.NoError(t, err)
	require.NoError(t, m.Complete(ctx, func(req *blobstore.CompleteMultipartUploadRequest) {
		req.IfNoneMatch = ""
	}))
	assert.Equal(t, "", client.Completes[0].IfNoneMatch)
}

func TestMultipartSessionPartsIsACopy(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	m, err := s.StartMultipart(ctx, blobpath.MustParse("obj"), blobstore.Overwrite, blobstore.ObjectMetadata{})
	require.NoError(t, err)
	_, err = m.NextPartNumber()
	require.NoError(t, err)
	require.NoError(t, m.AddCompletedPart("etag-1"))

	parts := m.Parts()
	parts[0].ETag = "changed"
	assert.Equal(t, "etag-1", m.Parts()[0].ETag)
}

package blobstore_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bleepstore/s3blob/internal/blobpath"
	"github.com/bleepstore/s3blob/internal/blobstore"
	"github.com/bleepstore/s3blob/internal/blobstore/blobstoretest"
)

func TestStoreIdentity(t *testing.T) {
	client := blobstoretest.New()
	a := blobstore.New(client, "b", blobstore.WithName("one"), blobstore.WithPrefix("/x//y/"))
	b := blobstore.New(blobstoretest.New(), "b", blobstore.WithName("two"), blobstore.WithPrefix("x/y"))
	c := blobstore.New(client, "b", blobstore.WithPrefix("x"))
	d := blobstore.New(client, "other", blobstore.WithPrefix("x/y"))

	assert.True(t, a.Equal(b), "name and client are not part of identity")
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(d))
	assert.Equal(t, "x/y", a.Prefix())
	assert.Equal(t, "one", a.Name())
	assert.Equal(t, "b", c.Name(), "name defaults to the bucket")
}

func TestStoreDefaults(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Equal(t, blobstore.DefaultUploadPartSize, s.UploadPartSize())
	assert.Equal(t, blobstore.DefaultCopyPartSize, s.CopyPartSize())
	assert.Equal(t, "", s.Prefix())
}

func TestBlobIdentity(t *testing.T) {
	client := blobstoretest.New()
	a := blobstore.New(client, "b", blobstore.WithPrefix("p"))
	b := blobstore.New(client, "b", blobstore.WithName("other"), blobstore.WithPrefix("p"))

	x := a.GetBlob(blobpath.MustParse("dir/f"))
	assert.Equal(t, "p/dir/f", x.Key())
	assert.Equal(t, "s3://b/p/dir/f", x.String())
	assert.True(t, x.Equal(b.GetBlob(blobpath.MustParse("dir/f"))))
	assert.False(t, x.Equal(a.GetBlob(blobpath.MustParse("dir/g"))))
}

func TestBlobExistsSizeStat(t *testing.T) {
	s, client := newTestStore(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	client.Now = func() time.Time { return now }
	client.PutObjectWithMetadata(testBucket, "f", []byte("hello"), blobstore.ObjectMetadata{ContentType: "text/plain"})
	ctx := context.Background()

	b := s.GetBlob(blobpath.MustParse("f"))
	ok, err := b.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	size, err := b.Size(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)
	info, err := b.Stat(ctx)
	require.NoError(t, err)
	assert.Equal(t, now, info.LastModified)
	assert.Equal(t, "text/plain", info.Metadata.ContentType)
	assert.NotEmpty(t, info.ETag)

	missing := s.GetBlob(blobpath.MustParse("nope"))
	ok, err = missing.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = missing.Size(ctx)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestBlobExistsPropagatesFailures(t *testing.T) {
	s, client := newTestStore(t)
	client.Fail = func(string, string) error { return blobstoretest.Internal("throttled") }

	_, err := s.GetBlob(blobpath.MustParse("f")).Exists(context.Background())
	var se *blobstore.StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "head object", se.Op)
	assert.Equal(t, testBucket, se.Bucket)
}

func TestBlobNewReader(t *testing.T) {
	s, client := newTestStore(t)
	client.PutData(testBucket, "f", []byte("0123456789"))
	ctx := context.Background()
	b := s.GetBlob(blobpath.MustParse("f"))

	read := func(rng *blobstore.ByteRange) string {
		r, err := b.NewReader(ctx, rng)
		require.NoError(t, err)
		defer r.Close()
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		return string(data)
	}
	assert.Equal(t, "0123456789", read(nil))
	assert.Equal(t, "234", read(&blobstore.ByteRange{Start: 2, End: 5}))
	from := blobstore.RangeFrom(7)
	assert.Equal(t, "789", read(&from))

	_, err := b.NewReader(ctx, &blobstore.ByteRange{Start: 5, End: 5})
	assert.Error(t, err)
	_, err = b.NewReader(ctx, &blobstore.ByteRange{Start: -1, End: 5})
	assert.Error(t, err)

	_, err = s.GetBlob(blobpath.MustParse("nope")).NewReader(ctx, nil)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestByteRangeHeader(t *testing.T) {
	assert.Equal(t, "bytes=0-99", blobstore.ByteRange{Start: 0, End: 100}.Header())
	assert.Equal(t, "bytes=100-", blobstore.RangeFrom(100).Header())
	assert.Equal(t, "[0,100)", blobstore.ByteRange{Start: 0, End: 100}.String())
}

func TestMoveBlob(t *testing.T) {
	s, client := newTestStore(t)
	client.PutData(testBucket, "a", []byte("x"))

	require.NoError(t, s.MoveBlob(context.Background(), blobpath.MustParse("a"), s, blobpath.MustParse("b")))
	assert.Equal(t, []string{"b"}, client.Keys(testBucket))
}

func TestMoveBlobKeepsSourceOnCopyFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("target exists", func(t *testing.T) {
		s, client := newTestStore(t)
		client.PutData(testBucket, "a", []byte("x"))
		client.PutData(testBucket, "b", []byte("y"))

		err := s.MoveBlob(ctx, blobpath.MustParse("a"), s, blobpath.MustParse("b"))
		assert.ErrorIs(t, err, blobstore.ErrAlreadyExists)
		assert.Equal(t, []string{"a", "b"}, client.Keys(testBucket))
		assert.Zero(t, client.Calls("DeleteObject"))
	})

	t.Run("copy failure", func(t *testing.T) {
		s, client := newTestStore(t)
		client.PutData(testBucket, "a", []byte("x"))
		client.Fail = func(op, _ string) error {
			if op == "CopyObject" {
				return blobstoretest.Internal("nope")
			}
			return nil
		}

		err := s.MoveBlob(ctx, blobpath.MustParse("a"), s, blobpath.MustParse("b"))
		require.Error(t, err)
		assert.Equal(t, []string{"a"}, client.Keys(testBucket))
		assert.Zero(t, client.Calls("DeleteObject"))
	})

	t.Run("same location", func(t *testing.T) {
		s, client := newTestStore(t)
		client.PutData(testBucket, "a", []byte("x"))

		err := s.MoveBlob(ctx, blobpath.MustParse("a"), s, blobpath.MustParse("a"))
		assert.ErrorIs(t, err, blobstore.ErrSameLocation)
		assert.Equal(t, []string{"a"}, client.Keys(testBucket))
	})
}

func TestMoveBlobToGenericBackend(t *testing.T) {
	s, client := newTestStore(t)
	client.PutData(testBucket, "a", []byte("x"))
	mem := blobstoretest.NewBackend("mem")

	require.NoError(t, s.MoveBlob(context.Background(), blobpath.MustParse("a"), mem, blobpath.MustParse("a")))
	assert.Empty(t, client.Keys(testBucket))
	got, ok := mem.Get(blobpath.MustParse("a"))
	require.True(t, ok)
	assert.Equal(t, []byte("x"), got)
}

func TestStoreImplementsBackend(t *testing.T) {
	s, _ := newTestStore(t, blobstore.WithUploadPartSize(8))
	ctx := context.Background()
	p := blobpath.MustParse("x/y")
	var b blobstore.Backend = s

	w, err := b.NewWriter(ctx, p)
	require.NoError(t, err)
	_, err = w.Write(payload(20))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	size, err := b.Size(ctx, p)
	require.NoError(t, err)
	assert.EqualValues(t, 20, size)
	assert.Equal(t, payload(20), readAll(t, b, "x/y"))
	require.NoError(t, b.Delete(ctx, p))
	ok, err := b.Exists(ctx, p)
	require.NoError(t, err)
	assert.False(t, ok)
}

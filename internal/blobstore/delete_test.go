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

// sliceSource is a BlobSource over a fixed list that records Close.
type sliceSource struct {
	blobs  []*blobstore.Blob
	pos    int
	closed bool
	err    error
}

func (s *sliceSource) HasNext(context.Context) (bool, error) {
	if s.err != nil && s.pos == len(s.blobs)/2 {
		return false, s.err
	}
	return s.pos < len(s.blobs), nil
}

func (s *sliceSource) Next(ctx context.Context) (*blobstore.Blob, error) {
	ok, err := s.HasNext(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, blobstore.ErrNoMoreBlobs
	}
	b := s.blobs[s.pos]
	s.pos++
	return b, nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

func seed(t *testing.T, s *blobstore.Store, client *blobstoretest.Client, n int) *sliceSource {
	t.Helper()
	src := &sliceSource{}
	for i := range n {
		p := blobpath.MustParse(fmt.Sprintf("d/%05d", i))
		client.PutData(testBucket, s.KeyMapper().BuildKey(p), []byte("x"))
		src.blobs = append(src.blobs, s.GetBlob(p))
	}
	return src
}

func TestDeleteAllBatching(t *testing.T) {
	for _, tt := range []struct {
		n       int
		batches []int
	}{
		{0, nil},
		{1, []int{1}},
		{1000, []int{1000}},
		{1001, []int{1000, 1}},
		{2500, []int{1000, 1000, 500}},
	} {
		t.Run(fmt.Sprint(tt.n), func(t *testing.T) {
			s, client := newTestStore(t)
			src := seed(t, s, client, tt.n)

			require.NoError(t, s.DeleteAll(context.Background(), src))

			var sizes []int
			for _, b := range client.Batches {
				sizes = append(sizes, len(b))
			}
			assert.Equal(t, tt.batches, sizes)
			assert.Empty(t, client.Keys(testBucket))
			assert.True(t, src.closed)
			if tt.n > 0 {
				assert.Equal(t, "d/00000", client.Batches[0][0], "input order is kept")
			}
		})
	}
}

func TestDeleteAllAggregatesPartialFailures(t *testing.T) {
	s, client := newTestStore(t)
	src := seed(t, s, client, 2500)
	rejected := map[string]bool{"d/00003": true, "d/01500": true, "d/02499": true}
	client.RejectDelete = func(key string) bool { return rejected[key] }

	err := s.DeleteAll(context.Background(), src)
	require.ErrorIs(t, err, blobstore.ErrPartialDelete)
	var be *blobstore.BatchDeleteError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, []string{"d/00003", "d/01500", "d/02499"}, be.Keys)
	assert.Len(t, be.Errs.Errors, 3)
	for key := range rejected {
		assert.Contains(t, err.Error(), key)
	}

	assert.Len(t, client.Batches, 3, "later batches still run")
	assert.Equal(t, []string{"d/00003", "d/01500", "d/02499"}, client.Keys(testBucket))
	assert.True(t, src.closed)
}

func TestDeleteAllTransportFailureStops(t *testing.T) {
	s, client := newTestStore(t)
	src := seed(t, s, client, 2500)
	client.Fail = func(op, _ string) error {
		if op == "DeleteObjects" && len(client.Batches) == 2 {
			return blobstoretest.Internal("connection reset")
		}
		return nil
	}

	err := s.DeleteAll(context.Background(), src)
	require.Error(t, err)
	assert.False(t, errors.Is(err, blobstore.ErrPartialDelete))
	var se *blobstore.StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "d/01000", se.Key)
	assert.Len(t, client.Batches, 2, "no batch after the failure")
	assert.True(t, src.closed)
}

func TestDeleteAllSourceFailure(t *testing.T) {
	s, client := newTestStore(t)
	src := seed(t, s, client, 4)
	src.err = errors.New("listing broke")

	err := s.DeleteAll(context.Background(), src)
	assert.EqualError(t, err, "listing broke")
	assert.Empty(t, client.Batches)
	assert.True(t, src.closed)
}

func TestDeleteBlobs(t *testing.T) {
	s, client := newTestStore(t, blobstore.WithPrefix("root"), blobstore.WithListPageSize(3))
	for _, k := range []string{"root/dir/a", "root/dir/b/c", "root/dir/d", "root/dir/e", "root/keep", "root/dirx"} {
		client.PutData(testBucket, k, []byte("x"))
	}

	require.NoError(t, s.DeleteBlobs(context.Background(), blobpath.MustParse("dir")))
	assert.Equal(t, []string{"root/dirx", "root/keep"}, client.Keys(testBucket))
}

func TestDeleteBlob(t *testing.T) {
	s, client := newTestStore(t)
	client.PutData(testBucket, "a", []byte("x"))
	ctx := context.Background()

	require.NoError(t, s.DeleteBlob(ctx, blobpath.MustParse("a")))
	require.NoError(t, s.DeleteBlob(ctx, blobpath.MustParse("a")), "missing blob is not an error")
	assert.Empty(t, client.Keys(testBucket))

	client.Fail = func(string, string) error { return blobstoretest.Internal("nope") }
	err := s.DeleteBlob(ctx, blobpath.MustParse("dir/b"))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "delete blob dir/b: "))
}

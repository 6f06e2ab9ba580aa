package blobstore_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bleepstore/s3blob/internal/blobpath"
	"github.com/bleepstore/s3blob/internal/blobstore"
	"github.com/bleepstore/s3blob/internal/blobstore/blobstoretest"
)

const testBucket = "test-bucket"

func newTestStore(t *testing.T, opts ...blobstore.Option) (*blobstore.Store, *blobstoretest.Client) {
	t.Helper()
	client := blobstoretest.New()
	return blobstore.New(client, testBucket, opts...), client
}

func writeBlob(t *testing.T, s *blobstore.Store, path string, data []byte, opts ...blobstore.WriterOption) error {
	t.Helper()
	w, err := s.GetBlob(blobpath.MustParse(path)).NewWriter(context.Background(), opts...)
	require.NoError(t, err)
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.Close()
}

func readAll(t *testing.T, b blobstore.Backend, path string) []byte {
	t.Helper()
	r, err := b.NewReader(context.Background(), blobpath.MustParse(path), nil)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

func payload(n int) []byte {
	return bytes.Repeat([]byte("0123456789abcdef"), n/16+1)[:n]
}

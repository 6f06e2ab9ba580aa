package blobstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bleepstore/s3blob/internal/blobstore"
	"github.com/bleepstore/s3blob/internal/blobstore/blobstoretest"
)

func TestAbortStaleUploads(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, client := newTestStore(t, blobstore.WithPrefix("p"), blobstore.WithClock(func() time.Time { return now }))

	client.StartUpload(testBucket, "p/old", now.Add(-48*time.Hour))
	client.StartUpload(testBucket, "p/older", now.Add(-72*time.Hour))
	client.StartUpload(testBucket, "p/fresh", now.Add(-time.Hour))
	client.StartUpload(testBucket, "other/old", now.Add(-48*time.Hour))

	n, err := s.AbortStaleUploads(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, client.OpenUploads(), "fresh and out-of-prefix uploads survive")
}

func TestAbortStaleUploadsCollectsFailures(t *testing.T) {
	now := time.Now()
	s, client := newTestStore(t, blobstore.WithClock(func() time.Time { return now }))
	client.StartUpload(testBucket, "a", now.Add(-time.Hour))
	client.StartUpload(testBucket, "b", now.Add(-time.Hour))
	client.Fail = func(op, key string) error {
		if op == "AbortMultipartUpload" && key == "a" {
			return blobstoretest.Internal("denied")
		}
		return nil
	}

	n, err := s.AbortStaleUploads(context.Background(), time.Minute)
	assert.Equal(t, 1, n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
	assert.Equal(t, 1, client.OpenUploads())
}

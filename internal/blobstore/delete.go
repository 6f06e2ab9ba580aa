package blobstore

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/bleepstore/s3blob/internal/metrics"
)

// DeleteAll deletes every blob produced by src with bulk deletes of up to
// MaxDeleteBatch keys, in source order. Blobs must belong to s's bucket.
//
// Keys the service refuses to delete are collected across all batches and
// reported together as a *BatchDeleteError once every batch was sent. A
// failed request or listing stops immediately and is returned as is. src is
// always closed.
func (s *Store) DeleteAll(ctx context.Context, src BlobSource) (err error) {
	defer func() {
		if cerr := src.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var (
		failed []string
		errs   *multierror.Error
	)
	send := func(keys []string) error {
		resp, err := s.client.DeleteObjects(ctx, &DeleteObjectsRequest{Bucket: s.bucket, Keys: keys})
		observe("delete_batch", err)
		if err != nil {
			return &StoreError{
				Op:     fmt.Sprintf("delete %d objects starting at", len(keys)),
				Bucket: s.bucket,
				Key:    keys[0],
				Err:    err,
			}
		}
		for _, e := range resp.Errors {
			failed = append(failed, e.Key)
			errs = multierror.Append(errs, fmt.Errorf("%s: %s: %s", e.Key, e.Code, e.Message))
		}
		metrics.DeleteFailuresTotal.Add(float64(len(resp.Errors)))
		return nil
	}

	batch := make([]string, 0, MaxDeleteBatch)
	for {
		ok, err := src.HasNext(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		b, err := src.Next(ctx)
		if err != nil {
			return err
		}
		batch = append(batch, b.key)
		if len(batch) == MaxDeleteBatch {
			if err := send(batch); err != nil {
				return err
			}
			batch = make([]string, 0, MaxDeleteBatch)
		}
	}
	if len(batch) > 0 {
		if err := send(batch); err != nil {
			return err
		}
	}

	if len(failed) > 0 {
		s.logger.Warn("Bulk delete left keys behind", "failed", len(failed))
		return &BatchDeleteError{Bucket: s.bucket, Keys: failed, Errs: errs}
	}
	return nil
}

package blobstore

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// AbortStaleUploads aborts every multipart upload below the store's prefix
// that was initiated more than olderThan ago. Uploads left behind by a
// crashed writer hold storage until they are aborted. It returns the number
// of uploads aborted; failed aborts are collected into the error and do not
// stop the sweep.
func (s *Store) AbortStaleUploads(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	prefix := ""
	if p := s.keys.Prefix(); p != "" {
		prefix = p + "/"
	}

	var (
		aborted   int
		errs      *multierror.Error
		keyMarker string
		idMarker  string
	)
	for {
		resp, err := s.client.ListMultipartUploads(ctx, &ListMultipartUploadsRequest{
			Bucket:         s.bucket,
			Prefix:         prefix,
			KeyMarker:      keyMarker,
			UploadIDMarker: idMarker,
		})
		observe("list_multipart", err)
		if err != nil {
			return aborted, &StoreError{Op: "list multipart uploads", Bucket: s.bucket, Key: prefix, Err: err}
		}
		for _, u := range resp.Uploads {
			if !u.Initiated.Before(cutoff) {
				continue
			}
			err := s.client.AbortMultipartUpload(ctx, &AbortMultipartUploadRequest{
				Bucket:   s.bucket,
				Key:      u.Key,
				UploadID: u.UploadID,
			})
			observe("abort_multipart", err)
			if IsMissing(err) {
				// Completed or aborted since the listing.
				continue
			}
			if err != nil {
				s.logger.Warn("Failed to abort stale multipart upload", "key", u.Key, "upload_id", u.UploadID, "error", err)
				errs = multierror.Append(errs, fmt.Errorf("abort upload %s of %s: %w", u.UploadID, u.Key, err))
				continue
			}
			aborted++
			s.logger.Info("Aborted stale multipart upload",
				"key", u.Key, "upload_id", u.UploadID, "initiated", u.Initiated)
		}
		if !resp.IsTruncated || (resp.NextKeyMarker == "" && resp.NextUploadIDMarker == "") {
			break
		}
		keyMarker, idMarker = resp.NextKeyMarker, resp.NextUploadIDMarker
	}
	return aborted, errs.ErrorOrNil()
}

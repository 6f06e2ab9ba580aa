package blobstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bleepstore/s3blob/internal/blobpath"
	"github.com/bleepstore/s3blob/internal/metrics"
)

type sessionState int

const (
	sessionOpen sessionState = iota
	sessionCompleted
	sessionAborted
)

func (s sessionState) String() string {
	switch s {
	case sessionOpen:
		return "open"
	case sessionCompleted:
		return "completed"
	case sessionAborted:
		return "aborted"
	}
	return "unknown"
}

// MultipartSession tracks one in-progress multipart upload or copy. It is
// created by StartMultipart and must be discarded after Complete or Abort.
// Not safe for concurrent use.
type MultipartSession struct {
	store    *Store
	path     blobpath.Path
	key      string
	mode     WriteMode
	uploadID string
	logger   *slog.Logger

	state    sessionState
	partNum  int32
	parts    []CompletedPart
	maxParts int32
}

// StartMultipart creates a multipart upload for p. On error nothing was
// created on the service and there is nothing to abort.
func (s *Store) StartMultipart(ctx context.Context, p blobpath.Path, mode WriteMode, md ObjectMetadata) (*MultipartSession, error) {
	key := s.keys.BuildKey(p)
	resp, err := s.client.CreateMultipartUpload(ctx, &CreateMultipartUploadRequest{
		Bucket:   s.bucket,
		Key:      key,
		Metadata: md,
	})
	observe("create_multipart", err)
	if err != nil {
		return nil, &StoreError{Op: "create multipart upload", Bucket: s.bucket, Key: key, Err: err}
	}
	return &MultipartSession{
		store:    s,
		path:     p,
		key:      key,
		mode:     mode,
		uploadID: resp.UploadID,
		logger:   s.logger.With("key", key, "upload_id", resp.UploadID),
		maxParts: MaxMultipartParts,
	}, nil
}

// UploadID returns the service-assigned upload id.
func (m *MultipartSession) UploadID() string { return m.uploadID }

// Key returns the object key the upload will create.
func (m *MultipartSession) Key() string { return m.key }

// Parts returns a copy of the completed parts in order.
func (m *MultipartSession) Parts() []CompletedPart {
	return append([]CompletedPart(nil), m.parts...)
}

func (m *MultipartSession) checkOpen() error {
	switch m.state {
	case sessionAborted:
		return fmt.Errorf("%w: %s", ErrSessionAborted, m.key)
	case sessionCompleted:
		return fmt.Errorf("%w: %s", ErrSessionCompleted, m.key)
	}
	return nil
}

// NextPartNumber returns the number for the next part, starting at 1.
func (m *MultipartSession) NextPartNumber() (int32, error) {
	if err := m.checkOpen(); err != nil {
		return 0, err
	}
	if m.partNum >= m.maxParts {
		return 0, fmt.Errorf("multipart upload of %s exceeds the maximum of %d parts; increase the configured part size", m.path, m.maxParts)
	}
	m.partNum++
	return m.partNum, nil
}

// AddCompletedPart records etag for the current part number.
func (m *MultipartSession) AddCompletedPart(etag string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	m.parts = append(m.parts, CompletedPart{PartNumber: m.partNum, ETag: etag})
	return nil
}

// Complete submits the recorded parts. In CreateNew mode the request only
// succeeds if the key does not exist; losing that race returns an
// *AlreadyExistsError for the session's path. customize, if non-nil, may
// adjust the request before it is sent.
func (m *MultipartSession) Complete(ctx context.Context, customize func(*CompleteMultipartUploadRequest)) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	req := &CompleteMultipartUploadRequest{
		Bucket:   m.store.bucket,
		Key:      m.key,
		UploadID: m.uploadID,
		Parts:    m.Parts(),
	}
	if m.mode == CreateNew {
		req.IfNoneMatch = "*"
	}
	if customize != nil {
		customize(req)
	}
	_, err := m.store.client.CompleteMultipartUpload(ctx, req)
	observe("complete_multipart", err)
	if err != nil {
		if IsPreconditionFailed(err) {
			return &AlreadyExistsError{Store: m.store.name, Path: m.path.String(), Err: err}
		}
		return &StoreError{Op: "complete multipart upload", Bucket: m.store.bucket, Key: m.key, Err: err}
	}
	m.state = sessionCompleted
	return nil
}

// Abort cancels the upload. Only the first call sends a request; failures
// are logged and swallowed so they never mask the error that led here.
// Aborting a completed session does nothing. The request is sent even if
// ctx is already cancelled.
func (m *MultipartSession) Abort(ctx context.Context) {
	if m.state != sessionOpen {
		return
	}
	m.state = sessionAborted
	metrics.MultipartAbortsTotal.Inc()
	err := m.store.client.AbortMultipartUpload(context.WithoutCancel(ctx), &AbortMultipartUploadRequest{
		Bucket:   m.store.bucket,
		Key:      m.key,
		UploadID: m.uploadID,
	})
	observe("abort_multipart", err)
	if err != nil {
		m.logger.Warn("Failed to abort multipart upload", "error", err)
	}
}

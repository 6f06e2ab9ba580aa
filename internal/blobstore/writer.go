package blobstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/bleepstore/s3blob/internal/metrics"
)

// blobWriter buffers up to one part of data. A blob that never fills the
// buffer is sent with a single PutObject on Close. As soon as the buffer is
// full the writer switches to a multipart upload and sends every full
// buffer as a part; Close sends the remainder as the last part and
// completes the upload.
type blobWriter struct {
	ctx      context.Context
	blob     *Blob
	opts     WriterOptions
	partSize int64

	buf     []byte
	session *MultipartSession

	// err is the first failure; once set every call returns it.
	err      error
	closed   bool
	closeErr error
}

func newBlobWriter(ctx context.Context, b *Blob, opts WriterOptions) *blobWriter {
	return &blobWriter{
		ctx:      ctx,
		blob:     b,
		opts:     opts,
		partSize: b.store.uploadPartSize,
	}
}

// Write buffers p, uploading a part each time the buffer fills.
func (w *blobWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrWriterClosed
	}
	if w.err != nil {
		return 0, w.err
	}
	n := 0
	for len(p) > 0 {
		room := int(w.partSize) - len(w.buf)
		k := min(room, len(p))
		w.buf = append(w.buf, p[:k]...)
		p = p[k:]
		n += k
		if int64(len(w.buf)) == w.partSize {
			if err := w.flushPart(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// Flush does nothing: upload decisions are made by Write and Close only.
func (w *blobWriter) Flush() error {
	return nil
}

// Close commits the blob. Only the first call does any work.
func (w *blobWriter) Close() error {
	if w.closed {
		return w.closeErr
	}
	w.closed = true
	w.closeErr = w.finish()
	w.buf = nil
	return w.closeErr
}

// Abort discards the blob, aborting the multipart upload if one was
// started. It does nothing after Close.
func (w *blobWriter) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.closeErr = fmt.Errorf("%w: aborted", ErrWriterClosed)
	w.buf = nil
	if w.session != nil {
		w.session.Abort(w.ctx)
	}
	return nil
}

func (w *blobWriter) finish() error {
	if w.err != nil {
		return w.err
	}
	if w.session == nil {
		return w.putSimple()
	}
	if len(w.buf) > 0 {
		if err := w.uploadPart(); err != nil {
			return w.fail(err)
		}
	}
	if err := w.session.Complete(w.ctx, nil); err != nil {
		return w.fail(err)
	}
	return nil
}

// fail records err and releases the multipart upload.
func (w *blobWriter) fail(err error) error {
	w.err = err
	if w.session != nil {
		w.session.Abort(w.ctx)
	}
	return err
}

func (w *blobWriter) flushPart() error {
	if w.session == nil {
		s, err := w.blob.store.StartMultipart(w.ctx, w.blob.path, w.opts.Mode, w.opts.Metadata)
		if err != nil {
			w.err = err
			return err
		}
		w.session = s
	}
	if err := w.uploadPart(); err != nil {
		return w.fail(err)
	}
	w.buf = w.buf[:0]
	return nil
}

func (w *blobWriter) uploadPart() error {
	pn, err := w.session.NextPartNumber()
	if err != nil {
		return err
	}
	b := w.blob
	resp, err := b.store.client.UploadPart(w.ctx, &UploadPartRequest{
		Bucket:        b.store.bucket,
		Key:           b.key,
		UploadID:      w.session.UploadID(),
		PartNumber:    pn,
		Body:          bytes.NewReader(w.buf),
		ContentLength: int64(len(w.buf)),
	})
	observe("upload_part", err)
	if err != nil {
		return b.storeError(fmt.Sprintf("upload part %d", pn), err)
	}
	metrics.MultipartPartsTotal.WithLabelValues("upload").Inc()
	metrics.BytesUploadedTotal.Add(float64(len(w.buf)))
	return w.session.AddCompletedPart(resp.ETag)
}

func (w *blobWriter) putSimple() error {
	b := w.blob
	req := &PutObjectRequest{
		Bucket:        b.store.bucket,
		Key:           b.key,
		Body:          bytes.NewReader(w.buf),
		ContentLength: int64(len(w.buf)),
		Metadata:      w.opts.Metadata,
	}
	if w.opts.Mode == CreateNew {
		req.IfNoneMatch = "*"
	}
	_, err := b.store.client.PutObject(w.ctx, req)
	observe("put", err)
	if err != nil {
		if IsPreconditionFailed(err) {
			return &AlreadyExistsError{Store: b.store.name, Path: b.path.String(), Err: err}
		}
		return b.storeError("put object", err)
	}
	metrics.BytesUploadedTotal.Add(float64(len(w.buf)))
	return nil
}

var _ Writer = (*blobWriter)(nil)

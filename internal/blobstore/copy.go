package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bleepstore/s3blob/internal/blobpath"
	"github.com/bleepstore/s3blob/internal/metrics"
)

// Copy copies the blob at srcPath in src to dstPath in dst. The target must
// not exist; a conflicting target yields an error matching
// ErrAlreadyExists and a missing source one matching ErrNotFound.
//
// Between two Stores the copy runs server side, as a single request up to
// the source store's copy part size and as a multipart copy above it. Any
// other pairing streams the data through this process.
func Copy(ctx context.Context, src Backend, srcPath blobpath.Path, dst Backend, dstPath blobpath.Path) error {
	if srcPath == dstPath && sameBackend(src, dst) {
		return fmt.Errorf("%w: %s:%s", ErrSameLocation, src.Name(), srcPath)
	}
	srcStore, srcNative := src.(*Store)
	dstStore, dstNative := dst.(*Store)
	if srcNative && dstNative {
		return nativeCopy(ctx, srcStore, srcPath, dstStore, dstPath)
	}
	return streamCopy(ctx, src, srcPath, dst, dstPath)
}

// Move copies srcPath to dstPath as Copy does and then deletes the source.
// The source is left untouched if the copy fails.
func Move(ctx context.Context, src Backend, srcPath blobpath.Path, dst Backend, dstPath blobpath.Path) error {
	if err := Copy(ctx, src, srcPath, dst, dstPath); err != nil {
		return err
	}
	if err := src.Delete(ctx, srcPath); err != nil {
		return fmt.Errorf("move %s: copied to %s but could not delete source: %w", srcPath, dstPath, err)
	}
	return nil
}

func sameBackend(a, b Backend) bool {
	as, aok := a.(*Store)
	bs, bok := b.(*Store)
	if aok && bok {
		return as.Equal(bs)
	}
	return a == b
}

// CopyRanges splits [0, size) into consecutive half-open ranges of partSize
// bytes; the last range holds the remainder.
func CopyRanges(size, partSize int64) []ByteRange {
	if size <= 0 || partSize <= 0 {
		return nil
	}
	ranges := make([]ByteRange, 0, (size+partSize-1)/partSize)
	for start := int64(0); start < size; start += partSize {
		ranges = append(ranges, ByteRange{Start: start, End: min(start+partSize, size)})
	}
	return ranges
}

func nativeCopy(ctx context.Context, src *Store, srcPath blobpath.Path, dst *Store, dstPath blobpath.Path) error {
	sb := src.GetBlob(srcPath)
	db := dst.GetBlob(dstPath)

	exists, err := db.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return &AlreadyExistsError{Store: dst.name, Path: dstPath.String()}
	}
	info, err := sb.Stat(ctx)
	if err != nil {
		return err
	}

	partSize := src.copyPartSize
	if info.Size <= partSize {
		_, err := dst.client.CopyObject(ctx, &CopyObjectRequest{
			SourceBucket: src.bucket,
			SourceKey:    sb.key,
			Bucket:       dst.bucket,
			Key:          db.key,
		})
		observe("copy", err)
		if err != nil {
			if IsMissing(err) {
				return sb.notFound(err)
			}
			return &StoreError{Op: "copy object from s3://" + src.bucket + "/" + sb.key + " to", Bucket: dst.bucket, Key: db.key, Err: err}
		}
		return nil
	}

	sess, err := dst.StartMultipart(ctx, dstPath, CreateNew, info.Metadata)
	if err != nil {
		return err
	}
	for _, rng := range CopyRanges(info.Size, partSize) {
		pn, err := sess.NextPartNumber()
		if err != nil {
			sess.Abort(ctx)
			return err
		}
		resp, err := dst.client.UploadPartCopy(ctx, &UploadPartCopyRequest{
			SourceBucket: src.bucket,
			SourceKey:    sb.key,
			SourceRange:  rng,
			Bucket:       dst.bucket,
			Key:          db.key,
			UploadID:     sess.UploadID(),
			PartNumber:   pn,
		})
		observe("upload_part_copy", err)
		if err != nil {
			sess.Abort(ctx)
			return &StoreError{Op: fmt.Sprintf("copy part %d %s of s3://%s/%s to", pn, rng, src.bucket, sb.key), Bucket: dst.bucket, Key: db.key, Err: err}
		}
		metrics.MultipartPartsTotal.WithLabelValues("copy").Inc()
		if err := sess.AddCompletedPart(resp.ETag); err != nil {
			sess.Abort(ctx)
			return err
		}
	}
	if err := sess.Complete(ctx, nil); err != nil {
		sess.Abort(ctx)
		return err
	}
	dst.logger.Debug("Copied blob with multipart copy",
		"source", sb.String(), "target", db.String(), "size", info.Size, "parts", len(sess.Parts()))
	return nil
}

// streamCopy reads the source and writes it to the target in CreateNew
// mode. Metadata is carried over when the source is a Store.
func streamCopy(ctx context.Context, src Backend, srcPath blobpath.Path, dst Backend, dstPath blobpath.Path) (err error) {
	defer func() { observe("copy_stream", err) }()

	exists, err := dst.Exists(ctx, dstPath)
	if err != nil {
		return fmt.Errorf("copy %s:%s to %s:%s: %w", src.Name(), srcPath, dst.Name(), dstPath, err)
	}
	if exists {
		return &AlreadyExistsError{Store: dst.Name(), Path: dstPath.String()}
	}

	opts := []WriterOption{WithWriteMode(CreateNew)}
	if s, ok := src.(*Store); ok {
		info, err := s.GetBlob(srcPath).Stat(ctx)
		if err != nil {
			return err
		}
		opts = append(opts, WithMetadata(info.Metadata))
	}

	r, err := src.NewReader(ctx, srcPath, nil)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("copy %s:%s: open source: %w", src.Name(), srcPath, err)
	}
	defer r.Close()

	w, err := dst.NewWriter(ctx, dstPath, opts...)
	if err != nil {
		return fmt.Errorf("copy to %s:%s: open target: %w", dst.Name(), dstPath, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Abort()
		return fmt.Errorf("copy %s:%s to %s:%s: %w", src.Name(), srcPath, dst.Name(), dstPath, err)
	}
	if err := w.Close(); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return err
		}
		return fmt.Errorf("copy %s:%s to %s:%s: commit: %w", src.Name(), srcPath, dst.Name(), dstPath, err)
	}
	return nil
}

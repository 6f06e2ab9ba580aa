package blobstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Error kinds. Match them with errors.Is; the concrete types below carry the
// details.
var (
	// ErrNotFound means the addressed blob does not exist.
	ErrNotFound = errors.New("blob not found")
	// ErrAlreadyExists means a CreateNew write found the target present.
	ErrAlreadyExists = errors.New("blob already exists")
	// ErrPartialDelete means a bulk delete left some keys behind.
	ErrPartialDelete = errors.New("failed to delete some blobs")
	// ErrSameLocation is returned when a copy or move targets its own source.
	ErrSameLocation = errors.New("source and target are the same blob")
	// ErrWriterClosed is returned by writes after Close or Abort.
	ErrWriterClosed = errors.New("blob writer is closed")
	// ErrSessionAborted is returned by any use of an aborted multipart session.
	ErrSessionAborted = errors.New("multipart upload was aborted")
	// ErrSessionCompleted is returned by any use of a completed multipart session.
	ErrSessionCompleted = errors.New("multipart upload already completed")
)

// NotFoundError reports a missing blob.
type NotFoundError struct {
	Store string
	Path  string
	Err   error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("blob %q not found in store %q", e.Path, e.Store)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func (e *NotFoundError) Unwrap() error { return e.Err }

// AlreadyExistsError reports that a CreateNew write lost against an
// existing blob. Path is always the attempted target.
type AlreadyExistsError struct {
	Store string
	Path  string
	Err   error
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("blob %q already exists in store %q", e.Path, e.Store)
}

func (e *AlreadyExistsError) Is(target error) bool { return target == ErrAlreadyExists }

func (e *AlreadyExistsError) Unwrap() error { return e.Err }

// StoreError wraps any other backend failure with the operation and the
// location it was applied to.
type StoreError struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *StoreError) Error() string {
	switch {
	case e.Bucket == "" && e.Key == "":
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Bucket == "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s s3://%s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// BatchDeleteError aggregates the per-key failures of a bulk delete.
type BatchDeleteError struct {
	Bucket string
	// Keys lists every key that could not be deleted, in the order reported.
	Keys []string
	// Errs holds one error per failing key.
	Errs *multierror.Error
}

func (e *BatchDeleteError) Error() string {
	return fmt.Sprintf("failed to delete some blobs from bucket %q: [%s]", e.Bucket, strings.Join(e.Keys, ", "))
}

func (e *BatchDeleteError) Is(target error) bool { return target == ErrPartialDelete }

func (e *BatchDeleteError) Unwrap() error {
	if e.Errs == nil {
		return nil
	}
	return e.Errs.ErrorOrNil()
}

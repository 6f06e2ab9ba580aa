package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the object-storage wire protocol the store is built on. It is
// deliberately shaped after the S3 API but uses plain request/response
// structs so that the core never depends on a vendor SDK. Implementations
// own transport, authentication, endpoint resolution and retries.
//
// Failures should be reported as *ResponseError so that the store can tell a
// missing key or a failed precondition apart from other errors.
type Client interface {
	PutObject(ctx context.Context, req *PutObjectRequest) (*PutObjectResponse, error)
	CreateMultipartUpload(ctx context.Context, req *CreateMultipartUploadRequest) (*CreateMultipartUploadResponse, error)
	UploadPart(ctx context.Context, req *UploadPartRequest) (*UploadPartResponse, error)
	CompleteMultipartUpload(ctx context.Context, req *CompleteMultipartUploadRequest) (*CompleteMultipartUploadResponse, error)
	AbortMultipartUpload(ctx context.Context, req *AbortMultipartUploadRequest) error
	ListMultipartUploads(ctx context.Context, req *ListMultipartUploadsRequest) (*ListMultipartUploadsResponse, error)
	CopyObject(ctx context.Context, req *CopyObjectRequest) (*CopyObjectResponse, error)
	UploadPartCopy(ctx context.Context, req *UploadPartCopyRequest) (*UploadPartCopyResponse, error)
	HeadObject(ctx context.Context, req *HeadObjectRequest) (*HeadObjectResponse, error)
	GetObject(ctx context.Context, req *GetObjectRequest) (*GetObjectResponse, error)
	DeleteObject(ctx context.Context, req *DeleteObjectRequest) error
	DeleteObjects(ctx context.Context, req *DeleteObjectsRequest) (*DeleteObjectsResponse, error)
	ListObjects(ctx context.Context, req *ListObjectsRequest) (*ListObjectsResponse, error)
}

// ObjectMetadata is the subset of object headers that travels with an object
// when it is written or copied.
type ObjectMetadata struct {
	ContentType        string
	ContentEncoding    string
	ContentDisposition string
	ContentLanguage    string
	CacheControl       string
	// User holds user-defined metadata (x-amz-meta-*), without the prefix.
	User map[string]string
}

// PutObjectRequest uploads a whole object in one request.
type PutObjectRequest struct {
	Bucket        string
	Key           string
	Body          io.Reader
	ContentLength int64
	Metadata      ObjectMetadata
	// IfNoneMatch is sent as the If-None-Match header; "*" means the write
	// only succeeds if the key does not exist.
	IfNoneMatch string
}

type PutObjectResponse struct {
	ETag string
}

type CreateMultipartUploadRequest struct {
	Bucket   string
	Key      string
	Metadata ObjectMetadata
}

type CreateMultipartUploadResponse struct {
	UploadID string
}

type UploadPartRequest struct {
	Bucket        string
	Key           string
	UploadID      string
	PartNumber    int32
	Body          io.Reader
	ContentLength int64
}

type UploadPartResponse struct {
	ETag string
}

// CompletedPart pairs a part number with the ETag returned when it was
// uploaded or copied.
type CompletedPart struct {
	PartNumber int32
	ETag       string
}

type CompleteMultipartUploadRequest struct {
	Bucket      string
	Key         string
	UploadID    string
	Parts       []CompletedPart
	IfNoneMatch string
}

type CompleteMultipartUploadResponse struct {
	ETag string
}

type AbortMultipartUploadRequest struct {
	Bucket   string
	Key      string
	UploadID string
}

type ListMultipartUploadsRequest struct {
	Bucket         string
	Prefix         string
	KeyMarker      string
	UploadIDMarker string
}

// MultipartUpload describes an in-progress multipart upload.
type MultipartUpload struct {
	Key       string
	UploadID  string
	Initiated time.Time
}

type ListMultipartUploadsResponse struct {
	Uploads            []MultipartUpload
	IsTruncated        bool
	NextKeyMarker      string
	NextUploadIDMarker string
}

type CopyObjectRequest struct {
	SourceBucket string
	SourceKey    string
	Bucket       string
	Key          string
}

type CopyObjectResponse struct {
	ETag string
}

type UploadPartCopyRequest struct {
	SourceBucket string
	SourceKey    string
	// SourceRange is the half-open byte interval of the source to copy.
	SourceRange ByteRange
	Bucket      string
	Key         string
	UploadID    string
	PartNumber  int32
}

type UploadPartCopyResponse struct {
	ETag string
}

type HeadObjectRequest struct {
	Bucket string
	Key    string
}

type HeadObjectResponse struct {
	ContentLength int64
	ETag          string
	LastModified  time.Time
	Metadata      ObjectMetadata
}

type GetObjectRequest struct {
	Bucket string
	Key    string
	// Range restricts the response to part of the object when non-nil.
	Range *ByteRange
}

// GetObjectResponse carries the object body. The caller must close Body.
type GetObjectResponse struct {
	Body          io.ReadCloser
	ContentLength int64
	ETag          string
}

type DeleteObjectRequest struct {
	Bucket string
	Key    string
}

type DeleteObjectsRequest struct {
	Bucket string
	Keys   []string
}

// DeleteObjectError is a per-key failure reported by a bulk delete.
type DeleteObjectError struct {
	Key     string
	Code    string
	Message string
}

type DeleteObjectsResponse struct {
	Errors []DeleteObjectError
}

type ListObjectsRequest struct {
	Bucket            string
	Prefix            string
	MaxKeys           int32
	ContinuationToken string
}

// ObjectSummary is a single entry of a listing page.
type ObjectSummary struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type ListObjectsResponse struct {
	Objects               []ObjectSummary
	IsTruncated           bool
	NextContinuationToken string
}

// ResponseError is the error a Client returns when the service rejected a
// request. StatusCode is the HTTP status; Code is the service error code
// (e.g. "NoSuchKey") when one was returned.
type ResponseError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *ResponseError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("status %d %s: %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, msg)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

// IsMissing reports whether err signals that the addressed key (or bucket)
// does not exist.
func IsMissing(err error) bool {
	var re *ResponseError
	if !errors.As(err, &re) {
		return false
	}
	switch re.Code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return true
	}
	return re.StatusCode == http.StatusNotFound
}

// IsPreconditionFailed reports whether err is the rejection of a conditional
// write. A 409 ConditionalRequestConflict means another conditional write to
// the same key won the race, which is the same outcome for the caller.
func IsPreconditionFailed(err error) bool {
	var re *ResponseError
	if !errors.As(err, &re) {
		return false
	}
	switch re.Code {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return re.StatusCode == http.StatusPreconditionFailed
}

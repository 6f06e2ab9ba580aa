// Package blobstoretest provides an in-memory blobstore.Client for tests.
package blobstoretest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bleepstore/s3blob/internal/blobstore"
)

// Object is a stored object.
type Object struct {
	Data         []byte
	ETag         string
	LastModified time.Time
	Metadata     blobstore.ObjectMetadata
}

// Upload is an in-progress multipart upload.
type Upload struct {
	Bucket    string
	Key       string
	Metadata  blobstore.ObjectMetadata
	Initiated time.Time
	Parts     map[int32][]byte
}

// Client implements blobstore.Client over maps. Buckets are created on
// first write. Every call is counted, and Fail lets a test inject an error
// for any operation.
type Client struct {
	mu      sync.Mutex
	buckets map[string]map[string]*Object
	uploads map[string]*Upload
	calls   map[string]int

	// Fail, if set, is consulted before every operation. A non-nil result
	// is returned in place of the operation's normal outcome.
	Fail func(op, key string) error
	// RejectDelete, if set, makes bulk deletes report key as failed when it
	// returns true.
	RejectDelete func(key string) bool
	// Now is the clock for LastModified and Initiated. Defaults to time.Now.
	Now func() time.Time

	// Recorded requests, without bodies.
	Puts       []blobstore.PutObjectRequest
	Completes  []blobstore.CompleteMultipartUploadRequest
	PartCopies []blobstore.UploadPartCopyRequest
	Batches    [][]string
	Lists      []blobstore.ListObjectsRequest
}

// New returns an empty client.
func New() *Client {
	return &Client{
		buckets: make(map[string]map[string]*Object),
		uploads: make(map[string]*Upload),
		calls:   make(map[string]int),
		Now:     time.Now,
	}
}

// NotFound returns the error the client reports for a missing key.
func NotFound(key string) error {
	return &blobstore.ResponseError{StatusCode: http.StatusNotFound, Code: "NoSuchKey", Message: "no such key " + key}
}

// PreconditionFailed returns the error the client reports when If-None-Match
// fails.
func PreconditionFailed(key string) error {
	return &blobstore.ResponseError{StatusCode: http.StatusPreconditionFailed, Code: "PreconditionFailed", Message: "key exists " + key}
}

// Internal returns a generic server failure.
func Internal(msg string) error {
	return &blobstore.ResponseError{StatusCode: http.StatusInternalServerError, Code: "InternalError", Message: msg}
}

// Calls returns how many times op was invoked, e.g. "UploadPart".
func (c *Client) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// PutData stores data directly, bypassing call counting.
func (c *Client) PutData(bucket, key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(bucket, key, data, blobstore.ObjectMetadata{})
}

// PutObjectWithMetadata stores data with metadata, bypassing call counting.
func (c *Client) PutObjectWithMetadata(bucket, key string, data []byte, md blobstore.ObjectMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(bucket, key, data, md)
}

// Object returns the stored object at key.
func (c *Client) Object(bucket, key string) (*Object, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.buckets[bucket][key]
	return o, ok
}

// Data returns the content at key.
func (c *Client) Data(bucket, key string) ([]byte, bool) {
	o, ok := c.Object(bucket, key)
	if !ok {
		return nil, false
	}
	return o.Data, true
}

// Keys returns the sorted keys of bucket.
func (c *Client) Keys(bucket string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.buckets[bucket]))
	for k := range c.buckets[bucket] {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// OpenUploads returns the number of multipart uploads neither completed nor
// aborted.
func (c *Client) OpenUploads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.uploads)
}

// StartUpload registers an upload initiated at t, bypassing call counting.
func (c *Client) StartUpload(bucket, key string, t time.Time) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := uuid.NewString()
	c.uploads[id] = &Upload{Bucket: bucket, Key: key, Initiated: t, Parts: make(map[int32][]byte)}
	return id
}

func (c *Client) enter(op, key string) error {
	c.calls[op]++
	if c.Fail != nil {
		return c.Fail(op, key)
	}
	return nil
}

func (c *Client) store(bucket, key string, data []byte, md blobstore.ObjectMetadata) *Object {
	b, ok := c.buckets[bucket]
	if !ok {
		b = make(map[string]*Object)
		c.buckets[bucket] = b
	}
	sum := md5.Sum(data)
	o := &Object{Data: data, ETag: `"` + hex.EncodeToString(sum[:]) + `"`, LastModified: c.Now(), Metadata: md}
	b[key] = o
	return o
}

func (c *Client) lookup(bucket, key string) (*Object, error) {
	o, ok := c.buckets[bucket][key]
	if !ok {
		return nil, NotFound(key)
	}
	return o, nil
}

func (c *Client) upload(id string) (*Upload, error) {
	u, ok := c.uploads[id]
	if !ok {
		return nil, &blobstore.ResponseError{StatusCode: http.StatusNotFound, Code: "NoSuchUpload", Message: "no such upload " + id}
	}
	return u, nil
}

func (c *Client) checkIfNoneMatch(bucket, key, ifNoneMatch string) error {
	if ifNoneMatch != "*" {
		return nil
	}
	if _, ok := c.buckets[bucket][key]; ok {
		return PreconditionFailed(key)
	}
	return nil
}

func (c *Client) PutObject(_ context.Context, req *blobstore.PutObjectRequest) (*blobstore.PutObjectResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := *req
	rec.Body = nil
	c.Puts = append(c.Puts, rec)
	if err := c.enter("PutObject", req.Key); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	if err := c.checkIfNoneMatch(req.Bucket, req.Key, req.IfNoneMatch); err != nil {
		return nil, err
	}
	o := c.store(req.Bucket, req.Key, data, req.Metadata)
	return &blobstore.PutObjectResponse{ETag: o.ETag}, nil
}

func (c *Client) CreateMultipartUpload(_ context.Context, req *blobstore.CreateMultipartUploadRequest) (*blobstore.CreateMultipartUploadResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("CreateMultipartUpload", req.Key); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	c.uploads[id] = &Upload{
		Bucket:    req.Bucket,
		Key:       req.Key,
		Metadata:  req.Metadata,
		Initiated: c.Now(),
		Parts:     make(map[int32][]byte),
	}
	return &blobstore.CreateMultipartUploadResponse{UploadID: id}, nil
}

func (c *Client) UploadPart(_ context.Context, req *blobstore.UploadPartRequest) (*blobstore.UploadPartResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("UploadPart", req.Key); err != nil {
		return nil, err
	}
	u, err := c.upload(req.UploadID)
	if err != nil {
		return nil, err
	}
	// The caller reuses its buffer, so the bytes must be copied.
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	u.Parts[req.PartNumber] = data
	return &blobstore.UploadPartResponse{ETag: partETag(req.PartNumber)}, nil
}

func partETag(n int32) string {
	return fmt.Sprintf(`"part-%d"`, n)
}

func (c *Client) CompleteMultipartUpload(_ context.Context, req *blobstore.CompleteMultipartUploadRequest) (*blobstore.CompleteMultipartUploadResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := *req
	rec.Parts = slices.Clone(req.Parts)
	c.Completes = append(c.Completes, rec)
	if err := c.enter("CompleteMultipartUpload", req.Key); err != nil {
		return nil, err
	}
	u, err := c.upload(req.UploadID)
	if err != nil {
		return nil, err
	}
	if err := c.checkIfNoneMatch(req.Bucket, req.Key, req.IfNoneMatch); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for i, p := range req.Parts {
		if p.PartNumber != int32(i+1) {
			return nil, &blobstore.ResponseError{StatusCode: http.StatusBadRequest, Code: "InvalidPartOrder"}
		}
		data, ok := u.Parts[p.PartNumber]
		if !ok || p.ETag != partETag(p.PartNumber) {
			return nil, &blobstore.ResponseError{StatusCode: http.StatusBadRequest, Code: "InvalidPart"}
		}
		buf.Write(data)
	}
	delete(c.uploads, req.UploadID)
	o := c.store(u.Bucket, u.Key, buf.Bytes(), u.Metadata)
	return &blobstore.CompleteMultipartUploadResponse{ETag: o.ETag}, nil
}

func (c *Client) AbortMultipartUpload(_ context.Context, req *blobstore.AbortMultipartUploadRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("AbortMultipartUpload", req.Key); err != nil {
		return err
	}
	if _, err := c.upload(req.UploadID); err != nil {
		return err
	}
	delete(c.uploads, req.UploadID)
	return nil
}

func (c *Client) ListMultipartUploads(_ context.Context, req *blobstore.ListMultipartUploadsRequest) (*blobstore.ListMultipartUploadsResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("ListMultipartUploads", req.Prefix); err != nil {
		return nil, err
	}
	resp := &blobstore.ListMultipartUploadsResponse{}
	for id, u := range c.uploads {
		if u.Bucket == req.Bucket && strings.HasPrefix(u.Key, req.Prefix) {
			resp.Uploads = append(resp.Uploads, blobstore.MultipartUpload{Key: u.Key, UploadID: id, Initiated: u.Initiated})
		}
	}
	slices.SortFunc(resp.Uploads, func(a, b blobstore.MultipartUpload) int {
		return strings.Compare(a.Key+"\x00"+a.UploadID, b.Key+"\x00"+b.UploadID)
	})
	return resp, nil
}

func (c *Client) CopyObject(_ context.Context, req *blobstore.CopyObjectRequest) (*blobstore.CopyObjectResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("CopyObject", req.SourceKey); err != nil {
		return nil, err
	}
	src, err := c.lookup(req.SourceBucket, req.SourceKey)
	if err != nil {
		return nil, err
	}
	o := c.store(req.Bucket, req.Key, slices.Clone(src.Data), src.Metadata)
	return &blobstore.CopyObjectResponse{ETag: o.ETag}, nil
}

func (c *Client) UploadPartCopy(_ context.Context, req *blobstore.UploadPartCopyRequest) (*blobstore.UploadPartCopyResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PartCopies = append(c.PartCopies, *req)
	if err := c.enter("UploadPartCopy", req.SourceKey); err != nil {
		return nil, err
	}
	u, err := c.upload(req.UploadID)
	if err != nil {
		return nil, err
	}
	src, err := c.lookup(req.SourceBucket, req.SourceKey)
	if err != nil {
		return nil, err
	}
	rng := req.SourceRange
	end := rng.End
	if end < 0 || end > int64(len(src.Data)) {
		end = int64(len(src.Data))
	}
	if rng.Start < 0 || rng.Start >= end {
		return nil, &blobstore.ResponseError{StatusCode: http.StatusRequestedRangeNotSatisfiable, Code: "InvalidRange"}
	}
	u.Parts[req.PartNumber] = slices.Clone(src.Data[rng.Start:end])
	return &blobstore.UploadPartCopyResponse{ETag: partETag(req.PartNumber)}, nil
}

func (c *Client) HeadObject(_ context.Context, req *blobstore.HeadObjectRequest) (*blobstore.HeadObjectResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("HeadObject", req.Key); err != nil {
		return nil, err
	}
	o, err := c.lookup(req.Bucket, req.Key)
	if err != nil {
		return nil, err
	}
	return &blobstore.HeadObjectResponse{
		ContentLength: int64(len(o.Data)),
		ETag:          o.ETag,
		LastModified:  o.LastModified,
		Metadata:      o.Metadata,
	}, nil
}

func (c *Client) GetObject(_ context.Context, req *blobstore.GetObjectRequest) (*blobstore.GetObjectResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("GetObject", req.Key); err != nil {
		return nil, err
	}
	o, err := c.lookup(req.Bucket, req.Key)
	if err != nil {
		return nil, err
	}
	data := o.Data
	if r := req.Range; r != nil {
		size := int64(len(data))
		if r.Start >= size && size > 0 {
			return nil, &blobstore.ResponseError{StatusCode: http.StatusRequestedRangeNotSatisfiable, Code: "InvalidRange"}
		}
		end := r.End
		if end < 0 || end > size {
			end = size
		}
		start := min(r.Start, end)
		data = data[start:end]
	}
	return &blobstore.GetObjectResponse{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: int64(len(data)),
		ETag:          o.ETag,
	}, nil
}

func (c *Client) DeleteObject(_ context.Context, req *blobstore.DeleteObjectRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DeleteObject", req.Key); err != nil {
		return err
	}
	delete(c.buckets[req.Bucket], req.Key)
	return nil
}

func (c *Client) DeleteObjects(_ context.Context, req *blobstore.DeleteObjectsRequest) (*blobstore.DeleteObjectsResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Batches = append(c.Batches, slices.Clone(req.Keys))
	first := ""
	if len(req.Keys) > 0 {
		first = req.Keys[0]
	}
	if err := c.enter("DeleteObjects", first); err != nil {
		return nil, err
	}
	if len(req.Keys) > blobstore.MaxDeleteBatch {
		return nil, &blobstore.ResponseError{StatusCode: http.StatusBadRequest, Code: "MalformedXML", Message: "too many keys"}
	}
	resp := &blobstore.DeleteObjectsResponse{}
	for _, k := range req.Keys {
		if c.RejectDelete != nil && c.RejectDelete(k) {
			resp.Errors = append(resp.Errors, blobstore.DeleteObjectError{Key: k, Code: "AccessDenied", Message: "Access Denied"})
			continue
		}
		delete(c.buckets[req.Bucket], k)
	}
	return resp, nil
}

func (c *Client) ListObjects(_ context.Context, req *blobstore.ListObjectsRequest) (*blobstore.ListObjectsResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Lists = append(c.Lists, *req)
	if err := c.enter("ListObjects", req.Prefix); err != nil {
		return nil, err
	}
	keys := make([]string, 0)
	for k := range c.buckets[req.Bucket] {
		if strings.HasPrefix(k, req.Prefix) && k > req.ContinuationToken {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	limit := int(req.MaxKeys)
	if limit <= 0 {
		limit = 1000
	}
	resp := &blobstore.ListObjectsResponse{}
	if len(keys) > limit {
		keys = keys[:limit]
		resp.IsTruncated = true
		resp.NextContinuationToken = keys[len(keys)-1]
	}
	for _, k := range keys {
		o := c.buckets[req.Bucket][k]
		resp.Objects = append(resp.Objects, blobstore.ObjectSummary{
			Key:          k,
			Size:         int64(len(o.Data)),
			ETag:         o.ETag,
			LastModified: o.LastModified,
		})
	}
	return resp, nil
}

var _ blobstore.Client = (*Client)(nil)

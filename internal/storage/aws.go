package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/bleepstore/s3blob/internal/blobstore"
)

// S3API defines the subset of the AWS S3 client interface that S3Client
// uses. This allows mocking in tests.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	UploadPartCopy(ctx context.Context, params *s3.UploadPartCopyInput, optFns ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListMultipartUploads(ctx context.Context, params *s3.ListMultipartUploadsInput, optFns ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Options configures NewS3Client.
type S3Options struct {
	Region string
	// Endpoint overrides the service endpoint, e.g. for MinIO or LocalStack.
	Endpoint string
	// PathStyle addresses buckets as {endpoint}/{bucket} instead of as a
	// subdomain.
	PathStyle bool
	// AccessKey and SecretKey select static credentials. When empty the
	// default credential chain is used (env vars, ~/.aws/credentials, IAM
	// role, etc.).
	AccessKey string
	SecretKey string
}

// S3Client implements blobstore.Client with the AWS SDK for Go v2. It only
// translates requests and errors; retries and signing are left to the SDK.
type S3Client struct {
	api S3API
}

// NewS3Client initializes an AWS SDK client from opts.
func NewS3Client(ctx context.Context, opts S3Options) (*S3Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))

	// Use static credentials if provided, otherwise fall back to default chain.
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		})
	}
	if opts.PathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	slog.Debug("S3 client initialized", "region", opts.Region, "endpoint", opts.Endpoint, "path_style", opts.PathStyle)
	return &S3Client{api: s3.NewFromConfig(cfg, s3Opts...)}, nil
}

// NewS3ClientWithAPI wraps a pre-configured S3 client. This is primarily
// used for testing with mock clients.
func NewS3ClientWithAPI(api S3API) *S3Client {
	return &S3Client{api: api}
}

// CheckBucket verifies that bucket exists and is accessible.
func (c *S3Client) CheckBucket(ctx context.Context, bucket string) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		return fmt.Errorf("cannot access S3 bucket %q: %w", bucket, translateS3Error(err))
	}
	return nil
}

func (c *S3Client) PutObject(ctx context.Context, req *blobstore.PutObjectRequest) (*blobstore.PutObjectResponse, error) {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(req.Bucket),
		Key:           aws.String(req.Key),
		Body:          req.Body,
		ContentLength: aws.Int64(req.ContentLength),
		IfNoneMatch:   optString(req.IfNoneMatch),
	}
	md := req.Metadata
	in.ContentType = optString(md.ContentType)
	in.ContentEncoding = optString(md.ContentEncoding)
	in.ContentDisposition = optString(md.ContentDisposition)
	in.ContentLanguage = optString(md.ContentLanguage)
	in.CacheControl = optString(md.CacheControl)
	in.Metadata = md.User

	out, err := c.api.PutObject(ctx, in)
	if err != nil {
		return nil, translateS3Error(err)
	}
	return &blobstore.PutObjectResponse{ETag: aws.ToString(out.ETag)}, nil
}

func (c *S3Client) CreateMultipartUpload(ctx context.Context, req *blobstore.CreateMultipartUploadRequest) (*blobstore.CreateMultipartUploadResponse, error) {
	in := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(req.Bucket),
		Key:    aws.String(req.Key),
	}
	md := req.Metadata
	in.ContentType = optString(md.ContentType)
	in.ContentEncoding = optString(md.ContentEncoding)
	in.ContentDisposition = optString(md.ContentDisposition)
	in.ContentLanguage = optString(md.ContentLanguage)
	in.CacheControl = optString(md.CacheControl)
	in.Metadata = md.User

	out, err := c.api.CreateMultipartUpload(ctx, in)
	if err != nil {
		return nil, translateS3Error(err)
	}
	return &blobstore.CreateMultipartUploadResponse{UploadID: aws.ToString(out.UploadId)}, nil
}

func (c *S3Client) UploadPart(ctx context.Context, req *blobstore.UploadPartRequest) (*blobstore.UploadPartResponse, error) {
	out, err := c.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(req.Bucket),
		Key:           aws.String(req.Key),
		UploadId:      aws.String(req.UploadID),
		PartNumber:    aws.Int32(req.PartNumber),
		Body:          req.Body,
		ContentLength: aws.Int64(req.ContentLength),
	})
	if err != nil {
		return nil, translateS3Error(err)
	}
	return &blobstore.UploadPartResponse{ETag: aws.ToString(out.ETag)}, nil
}

func (c *S3Client) CompleteMultipartUpload(ctx context.Context, req *blobstore.CompleteMultipartUploadRequest) (*blobstore.CompleteMultipartUploadResponse, error) {
	parts := make([]types.CompletedPart, 0, len(req.Parts))
	for _, p := range req.Parts {
		parts = append(parts, types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.PartNumber),
		})
	}
	out, err := c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(req.Bucket),
		Key:             aws.String(req.Key),
		UploadId:        aws.String(req.UploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
		IfNoneMatch:     optString(req.IfNoneMatch),
	})
	if err != nil {
		return nil, translateS3Error(err)
	}
	return &blobstore.CompleteMultipartUploadResponse{ETag: aws.ToString(out.ETag)}, nil
}

func (c *S3Client) AbortMultipartUpload(ctx context.Context, req *blobstore.AbortMultipartUploadRequest) error {
	_, err := c.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(req.Bucket),
		Key:      aws.String(req.Key),
		UploadId: aws.String(req.UploadID),
	})
	return translateS3Error(err)
}

func (c *S3Client) ListMultipartUploads(ctx context.Context, req *blobstore.ListMultipartUploadsRequest) (*blobstore.ListMultipartUploadsResponse, error) {
	out, err := c.api.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{
		Bucket:         aws.String(req.Bucket),
		Prefix:         optString(req.Prefix),
		KeyMarker:      optString(req.KeyMarker),
		UploadIdMarker: optString(req.UploadIDMarker),
	})
	if err != nil {
		return nil, translateS3Error(err)
	}
	resp := &blobstore.ListMultipartUploadsResponse{
		IsTruncated:        aws.ToBool(out.IsTruncated),
		NextKeyMarker:      aws.ToString(out.NextKeyMarker),
		NextUploadIDMarker: aws.ToString(out.NextUploadIdMarker),
	}
	for _, u := range out.Uploads {
		resp.Uploads = append(resp.Uploads, blobstore.MultipartUpload{
			Key:       aws.ToString(u.Key),
			UploadID:  aws.ToString(u.UploadId),
			Initiated: aws.ToTime(u.Initiated),
		})
	}
	return resp, nil
}

func (c *S3Client) CopyObject(ctx context.Context, req *blobstore.CopyObjectRequest) (*blobstore.CopyObjectResponse, error) {
	out, err := c.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(req.Bucket),
		Key:        aws.String(req.Key),
		CopySource: aws.String(copySource(req.SourceBucket, req.SourceKey)),
	})
	if err != nil {
		return nil, translateS3Error(err)
	}
	etag := ""
	if out.CopyObjectResult != nil {
		etag = aws.ToString(out.CopyObjectResult.ETag)
	}
	return &blobstore.CopyObjectResponse{ETag: etag}, nil
}

func (c *S3Client) UploadPartCopy(ctx context.Context, req *blobstore.UploadPartCopyRequest) (*blobstore.UploadPartCopyResponse, error) {
	out, err := c.api.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
		Bucket:          aws.String(req.Bucket),
		Key:             aws.String(req.Key),
		UploadId:        aws.String(req.UploadID),
		PartNumber:      aws.Int32(req.PartNumber),
		CopySource:      aws.String(copySource(req.SourceBucket, req.SourceKey)),
		CopySourceRange: aws.String(req.SourceRange.Header()),
	})
	if err != nil {
		return nil, translateS3Error(err)
	}
	etag := ""
	if out.CopyPartResult != nil {
		etag = aws.ToString(out.CopyPartResult.ETag)
	}
	return &blobstore.UploadPartCopyResponse{ETag: etag}, nil
}

func (c *S3Client) HeadObject(ctx context.Context, req *blobstore.HeadObjectRequest) (*blobstore.HeadObjectResponse, error) {
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(req.Bucket),
		Key:    aws.String(req.Key),
	})
	if err != nil {
		return nil, translateS3Error(err)
	}
	return &blobstore.HeadObjectResponse{
		ContentLength: aws.ToInt64(out.ContentLength),
		ETag:          aws.ToString(out.ETag),
		LastModified:  aws.ToTime(out.LastModified),
		Metadata: blobstore.ObjectMetadata{
			ContentType:        aws.ToString(out.ContentType),
			ContentEncoding:    aws.ToString(out.ContentEncoding),
			ContentDisposition: aws.ToString(out.ContentDisposition),
			ContentLanguage:    aws.ToString(out.ContentLanguage),
			CacheControl:       aws.ToString(out.CacheControl),
			User:               out.Metadata,
		},
	}, nil
}

func (c *S3Client) GetObject(ctx context.Context, req *blobstore.GetObjectRequest) (*blobstore.GetObjectResponse, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(req.Bucket),
		Key:    aws.String(req.Key),
	}
	if req.Range != nil {
		in.Range = aws.String(req.Range.Header())
	}
	out, err := c.api.GetObject(ctx, in)
	if err != nil {
		return nil, translateS3Error(err)
	}
	return &blobstore.GetObjectResponse{
		Body:          out.Body,
		ContentLength: aws.ToInt64(out.ContentLength),
		ETag:          aws.ToString(out.ETag),
	}, nil
}

// DeleteObject removes a key. S3 does not report missing keys.
func (c *S3Client) DeleteObject(ctx context.Context, req *blobstore.DeleteObjectRequest) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(req.Bucket),
		Key:    aws.String(req.Key),
	})
	return translateS3Error(err)
}

// DeleteObjects sends a quiet bulk delete, so only failures are returned.
func (c *S3Client) DeleteObjects(ctx context.Context, req *blobstore.DeleteObjectsRequest) (*blobstore.DeleteObjectsResponse, error) {
	objects := make([]types.ObjectIdentifier, 0, len(req.Keys))
	for _, k := range req.Keys {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
	}
	out, err := c.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(req.Bucket),
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		return nil, translateS3Error(err)
	}
	resp := &blobstore.DeleteObjectsResponse{}
	for _, e := range out.Errors {
		resp.Errors = append(resp.Errors, blobstore.DeleteObjectError{
			Key:     aws.ToString(e.Key),
			Code:    aws.ToString(e.Code),
			Message: aws.ToString(e.Message),
		})
	}
	return resp, nil
}

func (c *S3Client) ListObjects(ctx context.Context, req *blobstore.ListObjectsRequest) (*blobstore.ListObjectsResponse, error) {
	in := &s3.ListObjectsV2Input{
		Bucket:            aws.String(req.Bucket),
		Prefix:            optString(req.Prefix),
		ContinuationToken: optString(req.ContinuationToken),
	}
	if req.MaxKeys > 0 {
		in.MaxKeys = aws.Int32(req.MaxKeys)
	}
	out, err := c.api.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, translateS3Error(err)
	}
	resp := &blobstore.ListObjectsResponse{
		IsTruncated:           aws.ToBool(out.IsTruncated),
		NextContinuationToken: aws.ToString(out.NextContinuationToken),
	}
	for _, obj := range out.Contents {
		resp.Objects = append(resp.Objects, blobstore.ObjectSummary{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			ETag:         aws.ToString(obj.ETag),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	return resp, nil
}

// copySource renders the x-amz-copy-source value. Each key segment is
// URL-escaped; the separators are kept.
func copySource(bucket, key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segs, "/")
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

// translateS3Error converts an SDK error into a *blobstore.ResponseError so
// that missing keys and failed preconditions can be recognised. Errors
// without an HTTP response (e.g. cancelled contexts, DNS failures) are
// returned unchanged.
func translateS3Error(err error) error {
	if err == nil {
		return nil
	}
	re := &blobstore.ResponseError{Err: err}
	found := false

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		re.Code = apiErr.ErrorCode()
		re.Message = apiErr.ErrorMessage()
		found = true
	}
	// Check HTTP status code via ResponseError.
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		re.StatusCode = respErr.HTTPStatusCode()
		found = true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) && re.StatusCode == 0 {
		re.StatusCode = http.StatusNotFound
	}
	if !found {
		return err
	}
	return re
}

var _ blobstore.Client = (*S3Client)(nil)

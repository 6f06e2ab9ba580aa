package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"

	"github.com/bleepstore/s3blob/internal/blobstore"
)

// realAzureClient wraps the official Azure SDK client to satisfy AzureBlobAPI.
type realAzureClient struct {
	client *azblob.Client
}

// newRealAzureClient creates a real Azure Blob client. If connectionString is
// non-empty, it uses connection string auth. Otherwise it falls back to
// DefaultAzureCredential (env vars, managed identity, Azure CLI, etc.).
func newRealAzureClient(accountURL, connectionString string) (*realAzureClient, error) {
	if connectionString != "" {
		client, err := azblob.NewClientFromConnectionString(connectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("creating Azure Blob client from connection string: %w", err)
		}
		return &realAzureClient{client: client}, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure credential: %w", err)
	}

	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure Blob client: %w", err)
	}

	return &realAzureClient{client: client}, nil
}

// accessConditions returns the If-None-Match: * condition when ifNotExist
// is set.
func accessConditions(ifNotExist bool) *blob.AccessConditions {
	if !ifNotExist {
		return nil
	}
	return &blob.AccessConditions{
		ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: to.Ptr(azcore.ETagAny)},
	}
}

func httpHeaders(md blobstore.ObjectMetadata) *blob.HTTPHeaders {
	return &blob.HTTPHeaders{
		BlobContentType:        optString(md.ContentType),
		BlobContentEncoding:    optString(md.ContentEncoding),
		BlobContentDisposition: optString(md.ContentDisposition),
		BlobContentLanguage:    optString(md.ContentLanguage),
		BlobCacheControl:       optString(md.CacheControl),
	}
}

func userMetadata(md blobstore.ObjectMetadata) map[string]*string {
	if len(md.User) == 0 {
		return nil
	}
	out := make(map[string]*string, len(md.User))
	for k, v := range md.User {
		out[k] = to.Ptr(v)
	}
	return out
}

func (c *realAzureClient) UploadBlob(ctx context.Context, containerName, blobName string, data []byte, ifNotExist bool, md blobstore.ObjectMetadata) error {
	_, err := c.client.UploadBuffer(ctx, containerName, blobName, data, &azblob.UploadBufferOptions{
		HTTPHeaders:      httpHeaders(md),
		Metadata:         userMetadata(md),
		AccessConditions: accessConditions(ifNotExist),
	})
	return err
}

func (c *realAzureClient) StageBlock(ctx context.Context, containerName, blobName, blockID string, data []byte) error {
	bbClient := c.client.ServiceClient().NewContainerClient(containerName).NewBlockBlobClient(blobName)
	body := streaming.NopCloser(bytes.NewReader(data))
	_, err := bbClient.StageBlock(ctx, blockID, body, nil)
	return err
}

func (c *realAzureClient) CommitBlockList(ctx context.Context, containerName, blobName string, blockIDs []string, ifNotExist bool, md blobstore.ObjectMetadata) error {
	bbClient := c.client.ServiceClient().NewContainerClient(containerName).NewBlockBlobClient(blobName)
	_, err := bbClient.CommitBlockList(ctx, blockIDs, &blockblob.CommitBlockListOptions{
		HTTPHeaders:      httpHeaders(md),
		Metadata:         userMetadata(md),
		AccessConditions: accessConditions(ifNotExist),
	})
	return err
}

func (c *realAzureClient) DownloadRange(ctx context.Context, containerName, blobName string, offset, count int64) (io.ReadCloser, error) {
	resp, err := c.client.DownloadStream(ctx, containerName, blobName, &azblob.DownloadStreamOptions{
		Range: blob.HTTPRange{Offset: offset, Count: count},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *realAzureClient) GetBlobProperties(ctx context.Context, containerName, blobName string) (int64, error) {
	resp, err := c.client.ServiceClient().NewContainerClient(containerName).NewBlobClient(blobName).GetProperties(ctx, nil)
	if err != nil {
		return 0, err
	}
	if resp.ContentLength != nil {
		return *resp.ContentLength, nil
	}
	return 0, nil
}

func (c *realAzureClient) DeleteBlob(ctx context.Context, containerName, blobName string) error {
	_, err := c.client.DeleteBlob(ctx, containerName, blobName, nil)
	return err
}

func (c *realAzureClient) ContainerExists(ctx context.Context, containerName string) error {
	_, err := c.client.ServiceClient().NewContainerClient(containerName).GetProperties(ctx, nil)
	return err
}

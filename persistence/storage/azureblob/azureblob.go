// Package azureblob persists tables into Azure blob storage: one
// container per table, file names as blob names. The destination is an
// Azure storage connection string.
package azureblob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-pipeline-go/pipeline"
	"github.com/Azure/azure-storage-blob-go/azblob"

	"github.com/MyJetTools/my-no-sql-server-sub000/persistence/storage"
)

func init() {
	_ = storage.Register("azureblob", func(destination string) (storage.Backend, error) {
		return New(destination)
	})
}

// AzureBlob storage backend.
type AzureBlob struct {
	service azblob.ServiceURL
}

// New builds a backend from an Azure storage connection string
// (AccountName=...;AccountKey=...).
func New(connString string) (*AzureBlob, error) {
	accountName, accountKey, endpointSuffix, err := parseConnString(connString)
	if err != nil {
		return nil, err
	}
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("azureblob: bad credentials: %w", err)
	}
	endpoint, err := url.Parse(fmt.Sprintf("https://%s.blob.%s", accountName, endpointSuffix))
	if err != nil {
		return nil, err
	}
	p := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	return NewWithPipeline(*endpoint, p), nil
}

// NewWithPipeline builds a backend over a prepared pipeline. Tests use
// it to point at an emulator endpoint.
func NewWithPipeline(endpoint url.URL, p pipeline.Pipeline) *AzureBlob {
	return &AzureBlob{service: azblob.NewServiceURL(endpoint, p)}
}

func parseConnString(connString string) (name, key, endpointSuffix string, err error) {
	endpointSuffix = "core.windows.net"
	for _, part := range strings.Split(connString, ";") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "AccountName":
			name = kv[1]
		case "AccountKey":
			key = kv[1]
		case "EndpointSuffix":
			endpointSuffix = kv[1]
		}
	}
	if name == "" || key == "" {
		return "", "", "", fmt.Errorf("azureblob: connection string misses AccountName or AccountKey")
	}
	return name, key, endpointSuffix, nil
}

func isServiceCode(err error, codes ...azblob.ServiceCodeType) bool {
	storageErr, ok := err.(azblob.StorageError)
	if !ok {
		return false
	}
	for _, code := range codes {
		if storageErr.ServiceCode() == code {
			return true
		}
	}
	return false
}

// ListTables returns all containers of the account.
func (a *AzureBlob) ListTables(ctx context.Context) ([]string, error) {
	var tables []string
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := a.service.ListContainersSegment(ctx, marker, azblob.ListContainersSegmentOptions{})
		if err != nil {
			return nil, fmt.Errorf("azureblob: failed to list containers: %w", err)
		}
		for _, item := range resp.ContainerItems {
			tables = append(tables, item.Name)
		}
		marker = resp.NextMarker
	}
	return tables, nil
}

// CreateTableFolder creates the table container if it is missing.
func (a *AzureBlob) CreateTableFolder(ctx context.Context, table string) error {
	_, err := a.service.NewContainerURL(table).Create(ctx, azblob.Metadata{}, azblob.PublicAccessNone)
	if err != nil && isServiceCode(err, azblob.ServiceCodeContainerAlreadyExists) {
		return nil
	}
	return err
}

// DeleteTableFolder removes the table container with all its blobs.
func (a *AzureBlob) DeleteTableFolder(ctx context.Context, table string) error {
	_, err := a.service.NewContainerURL(table).Delete(ctx, azblob.ContainerAccessConditions{})
	if err != nil && isServiceCode(err, azblob.ServiceCodeContainerNotFound) {
		return nil
	}
	return err
}

// SaveFile uploads the blob, creating the container if needed.
func (a *AzureBlob) SaveFile(ctx context.Context, table, fileName string, content []byte) error {
	blob := a.service.NewContainerURL(table).NewBlockBlobURL(fileName)
	_, err := blob.Upload(ctx, bytes.NewReader(content),
		azblob.BlobHTTPHeaders{ContentType: "application/json"}, azblob.Metadata{},
		azblob.BlobAccessConditions{}, azblob.DefaultAccessTier, azblob.BlobTagsMap{},
		azblob.ClientProvidedKeyOptions{}, azblob.ImmutabilityPolicyOptions{})
	if err != nil && isServiceCode(err, azblob.ServiceCodeContainerNotFound) {
		if err := a.CreateTableFolder(ctx, table); err != nil {
			return err
		}
		_, err = blob.Upload(ctx, bytes.NewReader(content),
			azblob.BlobHTTPHeaders{ContentType: "application/json"}, azblob.Metadata{},
			azblob.BlobAccessConditions{}, azblob.DefaultAccessTier, azblob.BlobTagsMap{},
			azblob.ClientProvidedKeyOptions{}, azblob.ImmutabilityPolicyOptions{})
	}
	return err
}

// DeleteFile removes the blob; a missing blob is not an error.
func (a *AzureBlob) DeleteFile(ctx context.Context, table, fileName string) error {
	blob := a.service.NewContainerURL(table).NewBlockBlobURL(fileName)
	_, err := blob.Delete(ctx, azblob.DeleteSnapshotsOptionNone, azblob.BlobAccessConditions{})
	if err != nil && isServiceCode(err, azblob.ServiceCodeBlobNotFound, azblob.ServiceCodeContainerNotFound) {
		return nil
	}
	return err
}

// LoadFile downloads the blob content, or storage.ErrNotFound.
func (a *AzureBlob) LoadFile(ctx context.Context, table, fileName string) ([]byte, error) {
	blob := a.service.NewContainerURL(table).NewBlockBlobURL(fileName)
	download, err := blob.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{},
		false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isServiceCode(err, azblob.ServiceCodeBlobNotFound, azblob.ServiceCodeContainerNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	body := download.Body(azblob.RetryReaderOptions{MaxRetryRequests: 3})
	defer body.Close()
	return io.ReadAll(body)
}

// ListFiles returns the blob names of the table container.
func (a *AzureBlob) ListFiles(ctx context.Context, table string) ([]string, error) {
	container := a.service.NewContainerURL(table)
	var files []string
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := container.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{})
		if err != nil {
			if isServiceCode(err, azblob.ServiceCodeContainerNotFound) {
				return nil, nil
			}
			return nil, err
		}
		for _, item := range resp.Segment.BlobItems {
			files = append(files, item.Name)
		}
		marker = resp.NextMarker
	}
	return files, nil
}

package archive

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/rescale/simchain/internal/config"
	"github.com/rescale/simchain/internal/http"
	"github.com/rescale/simchain/internal/version"
)

// AzureBackend writes block blobs into one container addressed by a SAS URL.
type AzureBackend struct {
	client    *azblob.Client
	container string
}

// NewAzureBackend splits the container URL into the service URL (keeping
// the SAS query) and the container name.
func NewAzureBackend(s config.ArchiveSettings, proxy config.ProxySettings) (*AzureBackend, error) {
	if s.ContainerURL == "" {
		return nil, config.ErrArchiveMissingURL
	}
	serviceURL, container, err := splitContainerURL(s.ContainerURL)
	if err != nil {
		return nil, err
	}
	httpClient, err := http.CreateOptimizedClient(proxy)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	client, err := azblob.NewClientWithNoCredential(serviceURL, &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Transport: httpClient,
			Telemetry: policy.TelemetryOptions{ApplicationID: "simchain/" + version.Version},
			// ExecuteWithRetry owns retries.
			Retry: policy.RetryOptions{MaxRetries: -1},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}
	return &AzureBackend{client: client, container: container}, nil
}

func splitContainerURL(raw string) (string, string, error) {
	parts, err := azblob.ParseURL(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid container_url: %w", err)
	}
	if parts.ContainerName == "" {
		return "", "", fmt.Errorf("container_url %q names no container", parts.Host)
	}
	container := parts.ContainerName
	parts.ContainerName = ""
	parts.BlobName = ""
	return parts.String(), container, nil
}

func (b *AzureBackend) Name() string { return BackendAzure }

// Put streams body as a block blob, advancing the progress bar as it reads.
func (b *AzureBackend) Put(ctx context.Context, key string, body io.ReadSeeker, _ int64, wrap func(io.Reader) io.Reader) error {
	var r io.Reader = body
	if wrap != nil {
		r = wrap(body)
	}
	if _, err := b.client.UploadStream(ctx, b.container, key, r, nil); err != nil {
		return fmt.Errorf("upload blob %s/%s: %w", b.container, key, err)
	}
	return nil
}

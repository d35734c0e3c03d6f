package archive

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/rescale/simchain/internal/config"
	"github.com/rescale/simchain/internal/http"
)

// S3Backend writes objects to one bucket.
type S3Backend struct {
	client *s3.Client
	bucket string
}

// NewS3Backend loads the default AWS configuration (environment, shared
// files, instance role). Static keys from the settings take precedence.
func NewS3Backend(ctx context.Context, s config.ArchiveSettings, proxy config.ProxySettings) (*S3Backend, error) {
	if s.Bucket == "" {
		return nil, config.ErrArchiveMissingBucket
	}
	httpClient, err := http.CreateOptimizedClient(proxy)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(httpClient),
	}
	if s.Region != "" {
		opts = append(opts, awsconfig.WithRegion(s.Region))
	}
	if s.AccessKeyID != "" && s.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(s.AccessKeyID, s.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &S3Backend{client: s3.NewFromConfig(cfg), bucket: s.Bucket}, nil
}

func (b *S3Backend) Name() string { return BackendS3 }

// Put uploads body in a single request. The SDK signs the payload and
// needs a seekable body, so progress is reported on completion only.
func (b *S3Backend) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, _ func(io.Reader) io.Reader) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", b.bucket, key, err)
	}
	return nil
}

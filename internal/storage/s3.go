package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "civicbrief/internal/config"
)

// Uploader stores rendered audio and re-hosted images and hands back a
// publicly reachable URL.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// S3Client implements Uploader against any S3-compatible endpoint.
type S3Client struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

// NewS3Client builds an S3 client from config. A custom endpoint and
// path-style addressing cover S3-compatible object stores.
func NewS3Client(ctx context.Context, cfg *appconfig.Config) (*S3Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.StorageRegion),
	}
	if cfg.StorageAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.StorageAccessKey, cfg.StorageSecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.StorageEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.StorageEndpoint)
		}
		o.UsePathStyle = cfg.StoragePathStyle
	})

	return &S3Client{
		client:    client,
		bucket:    cfg.StorageBucket,
		publicURL: strings.TrimRight(cfg.StoragePublicURL, "/"),
	}, nil
}

// Upload writes the object and returns its public URL.
func (c *S3Client) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return c.publicURL + "/" + key, nil
}

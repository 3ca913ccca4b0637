package internal

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3Store implements ObjectStore against an S3-compatible bucket. No example
// repo in the corpus pulls an object-store SDK; aws-sdk-go-v2 is named here
// (not grounded) per the engine's own framing of "the object-store client
// driver itself" as an external collaborator.
type s3Store struct {
	client *s3.Client
	bucket string
}

// S3Config configures the durable object-store driver.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // non-empty for S3-compatible providers (e.g. R2, MinIO)
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Store builds an ObjectStore backed by S3 or an S3-compatible API.
func NewS3Store(ctx context.Context, cfg S3Config) (*s3Store, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &s3Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *s3Store) GetObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}

func (s *s3Store) PutObject(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	return err
}

var _ ObjectStore = (*s3Store)(nil)

package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Store is the production blob backend. Conditional writes map onto S3's
// If-Match / If-None-Match support, with the object ETag as version token.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store wraps an S3 client for one bucket.
func NewS3Store(client *s3.Client, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

func init() {
	Register("s3", func(cfg Config) (VersionedStore, error) {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("blobstore: load aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
				o.UsePathStyle = true
			}
		})
		return NewS3Store(client, cfg.Bucket), nil
	})
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	body, _, err := s.GetVersioned(ctx, key)
	return body, err
}

func (s *S3Store) GetVersioned(ctx context.Context, key string) ([]byte, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) || apiErrorCode(err) == "NoSuchKey" || apiErrorCode(err) == "NotFound" {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("blobstore: get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("blobstore: read s3://%s/%s: %w", s.bucket, key, err)
	}
	return body, aws.ToString(out.ETag), nil
}

func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata:    metadata,
	})
	if err != nil {
		return fmt.Errorf("blobstore: put s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *S3Store) PutIfVersion(ctx context.Context, key string, body []byte, contentType string, version string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		IfMatch:     aws.String(version),
	})
	return s.mapConditionalErr(err, key)
}

func (s *S3Store) PutIfAbsent(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		IfNoneMatch: aws.String("*"),
	})
	return s.mapConditionalErr(err, key)
}

func (s *S3Store) mapConditionalErr(err error, key string) error {
	if err == nil {
		return nil
	}
	switch apiErrorCode(err) {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return ErrPreconditionFailed
	}
	return fmt.Errorf("blobstore: conditional put s3://%s/%s: %w", s.bucket, key, err)
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return strings.TrimSpace(apiErr.ErrorCode())
	}
	return ""
}

package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	flowerr "github.com/docuflow/docuflow/internal/errors"
)

// S3Store implements Store on top of an S3-compatible service.
type S3Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	retry     flowerr.RetryConfig
}

// S3Options configures the S3 client.
type S3Options struct {
	Region string
	// Endpoint overrides the service endpoint (MinIO, localstack).
	Endpoint string
	// ForcePathStyle is required by most S3-compatible servers.
	ForcePathStyle bool
}

// NewS3Store creates an S3-backed object store.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.ForcePathStyle
	})

	return &S3Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		retry:     flowerr.DefaultRetryConfig(),
	}, nil
}

// GetBytes reads the full object body, retrying transient failures.
func (s *S3Store) GetBytes(ctx context.Context, uri URI) ([]byte, error) {
	return flowerr.RetryWithResult(ctx, s.retry, func() ([]byte, error) {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(uri.Bucket),
			Key:    aws.String(uri.Key),
		})
		if err != nil {
			var notFound *types.NoSuchKey
			if errors.As(err, &notFound) {
				return nil, flowerr.Permanent(fmt.Errorf("get %s: %w", uri, err))
			}
			return nil, fmt.Errorf("get %s: %w", uri, err)
		}
		defer out.Body.Close()

		data, err := io.ReadAll(out.Body)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", uri, err)
		}
		return data, nil
	})
}

// PutBytes writes an object, retrying transient failures.
func (s *S3Store) PutBytes(ctx context.Context, uri URI, data []byte, contentType string) error {
	return flowerr.Retry(ctx, s.retry, func() error {
		input := &s3.PutObjectInput{
			Bucket: aws.String(uri.Bucket),
			Key:    aws.String(uri.Key),
			Body:   bytes.NewReader(data),
		}
		if contentType != "" {
			input.ContentType = aws.String(contentType)
		}
		if _, err := s.client.PutObject(ctx, input); err != nil {
			return fmt.Errorf("put %s: %w", uri, err)
		}
		return nil
	})
}

// PresignGet mints a time-limited download URL.
func (s *S3Store) PresignGet(ctx context.Context, uri URI, ttl time.Duration) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(uri.Bucket),
		Key:    aws.String(uri.Key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign get %s: %w", uri, err)
	}
	return req.URL, nil
}

// PresignPut mints a time-limited upload URL.
func (s *S3Store) PresignPut(ctx context.Context, uri URI, ttl time.Duration, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(uri.Bucket),
		Key:    aws.String(uri.Key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	req, err := s.presigner.PresignPutObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign put %s: %w", uri, err)
	}
	return req.URL, nil
}

// ListPrefix lists all objects under the prefix, following pagination.
func (s *S3Store) ListPrefix(ctx context.Context, prefix URI) ([]Object, error) {
	var objects []Object

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(prefix.Bucket),
		Prefix: aws.String(prefix.Key),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, Object{
				URI:  URI{Bucket: prefix.Bucket, Key: aws.ToString(obj.Key)},
				Size: aws.ToInt64(obj.Size),
			})
		}
	}
	return objects, nil
}

// DeletePrefix deletes every object under the prefix.
func (s *S3Store) DeletePrefix(ctx context.Context, prefix URI) error {
	objects, err := s.ListPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	for _, obj := range objects {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(obj.URI.Bucket),
			Key:    aws.String(obj.URI.Key),
		})
		if err != nil {
			return fmt.Errorf("delete %s: %w", obj.URI, err)
		}
	}
	return nil
}

// Verify interface implementation at compile time.
var _ Store = (*S3Store)(nil)

package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"nottu-serverless/internal/config"
)

// ManagedScheme prefixes photo references that live in our bucket. Anything
// else stored in users.profile_photo is an external URL and is served as-is.
const ManagedScheme = "s3://"

var ErrNotConfigured = errors.New("object storage is not configured")

type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	urlTTL  time.Duration
}

func NewS3Store(ctx context.Context, cfg config.S3Config) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken,
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	ttl := cfg.PhotoURLTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  strings.TrimSpace(cfg.Bucket),
		urlTTL:  ttl,
	}, nil
}

func IsManaged(ref string) bool {
	return strings.HasPrefix(ref, ManagedScheme)
}

func (s *S3Store) ObjectRef(key string) string {
	return ManagedScheme + s.bucket + "/" + key
}

func parseRef(ref string) (bucket, key string, err error) {
	if !IsManaged(ref) {
		return "", "", fmt.Errorf("not a managed object reference: %q", ref)
	}
	rest := strings.TrimPrefix(ref, ManagedScheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed object reference: %q", ref)
	}
	return bucket, key, nil
}

// ResolvePhotoURL turns a stored photo reference into something a browser
// can fetch: a time-limited GET URL for managed objects, the value itself
// otherwise.
func (s *S3Store) ResolvePhotoURL(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || !IsManaged(ref) {
		return ref, nil
	}

	bucket, key, err := parseRef(ref)
	if err != nil {
		return "", err
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.urlTTL))
	if err != nil {
		return "", fmt.Errorf("presign photo url: %w", err)
	}

	return req.URL, nil
}

func (s *S3Store) PutPhoto(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if s.bucket == "" {
		return "", ErrNotConfigured
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put photo object: %w", err)
	}

	return s.ObjectRef(key), nil
}

// DeletePhoto removes a managed object. External references are ignored.
func (s *S3Store) DeletePhoto(ctx context.Context, ref string) error {
	if !IsManaged(ref) {
		return nil
	}

	bucket, key, err := parseRef(ref)
	if err != nil {
		return err
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete photo object: %w", err)
	}

	return nil
}

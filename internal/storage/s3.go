package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// S3Config configures S3Storage. Each portal bucket maps to the S3 bucket of
// the same name.
type S3Config struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	UsePathStyle  bool
	PublicBaseURL string // overrides the endpoint in public URLs, e.g. a CDN
}

// S3Storage stores objects in any S3-compatible service (AWS S3, MinIO,
// RustFS).
type S3Storage struct {
	client        *s3.Client
	endpoint      *url.URL
	usePathStyle  bool
	publicBaseURL string
	logger        *zap.Logger
}

var _ ObjectStorage = (*S3Storage)(nil)

func NewS3Storage(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3Storage, error) {
	if cfg.AccessKey == "" {
		return nil, errors.New("storage: s3 access key is required")
	}
	if cfg.SecretKey == "" {
		return nil, errors.New("storage: s3 secret key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:9000"
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("storage: invalid s3 endpoint: %w", err)
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithRetryMaxAttempts(1),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: loading s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		o.BaseEndpoint = aws.String(u.String())
	})

	return &S3Storage{
		client:        client,
		endpoint:      u,
		usePathStyle:  cfg.UsePathStyle,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		logger:        logger,
	}, nil
}

func (s *S3Storage) Upload(ctx context.Context, bucket, objectPath string, data []byte, opts UploadOptions) error {
	if err := validKey(bucket, objectPath); err != nil {
		return err
	}

	if !opts.Overwrite {
		exists, err := s.exists(ctx, bucket, objectPath)
		if err != nil {
			return err
		}
		if exists {
			return ErrObjectExists
		}
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectPath),
		Body:   bytes.NewReader(data),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("storage: uploading %s/%s: %w", bucket, objectPath, err)
	}

	s.logger.Debug("object uploaded",
		zap.String("bucket", bucket),
		zap.String("path", objectPath),
		zap.Int("bytes", len(data)))
	return nil
}

func (s *S3Storage) exists(ctx context.Context, bucket, objectPath string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectPath),
	})
	if err == nil {
		return true, nil
	}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return false, nil
	}
	// Some S3-compatible services report a missing key differently.
	if strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "NoSuchKey") {
		return false, nil
	}
	return false, fmt.Errorf("storage: checking %s/%s: %w", bucket, objectPath, err)
}

// PublicURL assumes the bucket allows anonymous reads.
func (s *S3Storage) PublicURL(bucket, objectPath string) string {
	key := escapePath(objectPath)
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + escapePath(bucket) + "/" + key
	}

	base := strings.TrimRight(s.endpoint.Path, "/")
	if s.usePathStyle {
		return fmt.Sprintf("%s://%s%s/%s/%s", s.endpoint.Scheme, s.endpoint.Host, base, escapePath(bucket), key)
	}
	return fmt.Sprintf("%s://%s.%s%s/%s", s.endpoint.Scheme, bucket, s.endpoint.Host, base, key)
}

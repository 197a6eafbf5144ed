// Package storage downloads source objects from S3 or an S3-compatible store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/fundsync/internal/domain"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
)

var (
	// ErrObjectTooLarge is returned for objects above the configured size limit.
	ErrObjectTooLarge = errors.New("object exceeds size limit")
	// ErrObjectNotFound is returned when the bucket or key does not exist.
	ErrObjectNotFound = errors.New("object not found")
	// ErrAccessDenied is returned when the credentials cannot read the object.
	ErrAccessDenied = errors.New("access denied")
)

// ObjectStore fetches whole objects into memory.
type ObjectStore interface {
	Fetch(ctx context.Context, ref domain.ObjectRef) ([]byte, error)
}

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	manager.DownloadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Config holds S3 connection settings.
type Config struct {
	Region string
	// Endpoint overrides the AWS endpoint for S3-compatible stores (MinIO, R2).
	Endpoint        string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
	DownloadTimeout time.Duration
	MaxObjectBytes  int64
}

// S3Store implements ObjectStore on top of S3.
type S3Store struct {
	client     S3API
	downloader *manager.Downloader
	timeout    time.Duration
	maxBytes   int64
	log        zerolog.Logger
}

// NewS3Store builds an S3 client from the default AWS credential chain, or
// from static keys when they are configured.
func NewS3Store(ctx context.Context, cfg Config, log zerolog.Logger) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return NewS3StoreWithClient(client, cfg, log), nil
}

// NewS3StoreWithClient wraps an existing client.
func NewS3StoreWithClient(client S3API, cfg Config, log zerolog.Logger) *S3Store {
	return &S3Store{
		client:     client,
		downloader: manager.NewDownloader(client),
		timeout:    cfg.DownloadTimeout,
		maxBytes:   cfg.MaxObjectBytes,
		log:        log.With().Str("component", "s3_store").Logger(),
	}
}

// Fetch downloads the object referenced by ref. Failures that may clear on
// redelivery are returned as *domain.TransientError.
func (s *S3Store) Fetch(ctx context.Context, ref domain.ObjectRef) ([]byte, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(ref.Container),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		return nil, classifyError("head object", ref, err)
	}

	size := aws.ToInt64(head.ContentLength)
	if s.maxBytes > 0 && size > s.maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrObjectTooLarge, ref, size, s.maxBytes)
	}

	buf := manager.NewWriteAtBuffer(make([]byte, 0, size))
	n, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(ref.Container),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		return nil, classifyError("download object", ref, err)
	}

	s.log.Debug().
		Str("bucket", ref.Container).
		Str("key", ref.Key).
		Int64("bytes", n).
		Dur("duration", time.Since(start)).
		Msg("Object downloaded")

	return buf.Bytes()[:n], nil
}

// classifyError separates missing or forbidden objects from failures worth retrying.
func classifyError(op string, ref domain.ObjectRef, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return fmt.Errorf("failed to %s %s: %w: %v", op, ref, ErrObjectNotFound, err)
		case "AccessDenied", "Forbidden":
			return fmt.Errorf("failed to %s %s: %w: %v", op, ref, ErrAccessDenied, err)
		}
	}
	return domain.NewTransientError(op+" "+ref.String(), err)
}

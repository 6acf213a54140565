package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3KeyPrefix mirrors the layout the audio authoring pipeline uploads to:
// audio-files/<kind>/<key>.mp3
const s3KeyPrefix = "audio-files"

// S3Store implements Store on top of an S3 bucket.
type S3Store struct {
	client *s3.Client
	bucket string
	logger *slog.Logger
}

// S3Options configures the S3-backed store.
type S3Options struct {
	Bucket   string
	Region   string
	Endpoint string // optional, for S3-compatible stores in development

	// AccessKey and SecretKey override the default AWS credential chain.
	// Required for most S3-compatible stores (MinIO etc.).
	AccessKey string
	SecretKey string
}

// NewS3Store creates an S3-backed store. Without explicit keys it uses the
// default AWS credential chain (env vars, shared config, task role).
func NewS3Store(ctx context.Context, opts S3Options, logger *slog.Logger) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client: client,
		bucket: opts.Bucket,
		logger: logger.With("subsystem", "objectstore", "bucket", opts.Bucket),
	}, nil
}

func objectKey(kind, key string) string {
	return fmt.Sprintf("%s/%s/%s.mp3", s3KeyPrefix, kind, key)
}

// Get downloads the object for (kind, key). Returns ErrNotFound when the
// bucket has no such object.
func (s *S3Store) Get(ctx context.Context, kind, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(kind, key)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting s3 object %s/%s: %w", kind, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading s3 object %s/%s: %w", kind, key, err)
	}
	return data, nil
}

// Put uploads the object for (kind, key).
func (s *S3Store) Put(ctx context.Context, kind, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey(kind, key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("audio/mpeg"),
	})
	if err != nil {
		return fmt.Errorf("putting s3 object %s/%s: %w", kind, key, err)
	}

	s.logger.Debug("uploaded object", "kind", kind, "key", key, "bytes", len(data))
	return nil
}

var _ Store = (*S3Store)(nil)

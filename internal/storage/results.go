package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/example/dsr-baton/internal/config"
	"github.com/example/dsr-baton/internal/models"
)

// S3API is the subset of the S3 client used by the results store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// ResultsStore stages exported subject-access result files in an object
// store, keyed by initiation reference.
type ResultsStore struct {
	logger zerolog.Logger
	client S3API
	bucket string
	prefix string
}

// NewResultsStore builds a store backed by a live S3 client.
func NewResultsStore(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (*ResultsStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("results store: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("results store: load AWS config: %w", err)
	}

	return NewResultsStoreWithClient(s3.NewFromConfig(awsCfg), cfg, logger)
}

// NewResultsStoreWithClient builds a store around an existing S3 client.
func NewResultsStoreWithClient(client S3API, cfg config.StorageConfig, logger zerolog.Logger) (*ResultsStore, error) {
	if client == nil {
		return nil, errors.New("results store: client dependency is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("results store: bucket is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	prefix := strings.Trim(strings.TrimSpace(cfg.KeyPrefix), "/")
	if prefix == "" {
		prefix = "results"
	}

	return &ResultsStore{
		logger: logger,
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

// Write stages the result stream under a key derived from the initiation
// reference and returns the object locator.
func (s *ResultsStore) Write(ctx context.Context, ref models.InitiationReference, body io.Reader) (string, error) {
	key := s.key(ref)

	s.logger.Debug().
		Str("bucket", s.bucket).
		Str("key", key).
		Msg("staging result object")

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        body,
		ContentType: ptr("application/zip"),
	})
	if err != nil {
		return "", fmt.Errorf("results store: put object: %w", err)
	}

	return s.locator(key), nil
}

// ExistsFor reports the locator of a previously staged result for the
// reference, or empty when none exists. Redelivered callbacks use this to
// avoid downloading the same export twice.
func (s *ResultsStore) ExistsFor(ctx context.Context, ref models.InitiationReference) (string, error) {
	key := s.key(ref)

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("results store: head object: %w", err)
	}

	return s.locator(key), nil
}

func (s *ResultsStore) key(ref models.InitiationReference) string {
	return fmt.Sprintf("%s/%s.zip", s.prefix, ref.String())
}

func (s *ResultsStore) locator(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

func ptr(s string) *string { return &s }

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/pkg/config"
	"github.com/evalkit-dev/evalkit-engine/pkg/models"
)

// S3Store implements BlobStore on S3 or an S3-compatible endpoint.
type S3Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	ttl       time.Duration
	logger    *zap.Logger
}

var _ BlobStore = (*S3Store)(nil)

// NewS3Store creates a store for the configured bucket. A custom endpoint and
// path-style addressing are applied when configured (MinIO, LocalStack).
func NewS3Store(awsCfg aws.Config, cfg *config.StorageConfig, logger *zap.Logger) *S3Store {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	ttl := cfg.UploadURLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &S3Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		ttl:       ttl,
		logger:    logger.Named("s3-store"),
	}
}

// IssueUploadURL presigns a single PutObject for a new key in the project's
// upload prefix. The URL cannot be used to read, list or delete objects.
func (s *S3Store) IssueUploadURL(ctx context.Context, projectID uuid.UUID) (*models.UploadURL, error) {
	blobName := NewBlobName(projectID)

	presigned, err := s.presigner.PresignPutObject(ctx,
		&s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(blobName),
		},
		s3.WithPresignExpires(s.ttl),
	)
	if err != nil {
		s.logger.Error("Failed to presign upload",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}

	return &models.UploadURL{
		URL:       presigned.URL,
		Container: s.bucket,
		BlobName:  blobName,
		ExpiresAt: time.Now().Add(s.ttl).UTC(),
	}, nil
}

// Open streams the blob. The caller must close the returned reader.
func (s *S3Store) Open(ctx context.Context, blobName string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(blobName),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, blobName)
		}
		return nil, fmt.Errorf("failed to get object %s: %w", blobName, err)
	}
	return out.Body, nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}

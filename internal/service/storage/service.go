package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"workchat-backend/internal/config"
	apperrors "workchat-backend/pkg/errors"
)

// Service issues presigned URLs for attachment upload and download. Clients
// talk to object storage directly; the chat service never proxies file bytes.
type Service struct {
	client    *minio.Client
	bucket    string
	urlExpiry time.Duration
}

// NewService creates a new storage service
func NewService(cfg *config.MinIOConfig) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Service{
		client:    client,
		bucket:    cfg.Bucket,
		urlExpiry: cfg.URLExpiry,
	}, nil
}

// EnsureBucket creates the attachments bucket if it does not exist yet
func (s *Service) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// UploadURLInput requests a presigned upload slot for one attachment
type UploadURLInput struct {
	ConversationID uuid.UUID
	FileName       string
	MimeType       string
}

// UploadURLOutput carries the presigned PUT URL and the object key the
// client must echo back when sending the message.
type UploadURLOutput struct {
	UploadURL string `json:"upload_url"`
	ObjectKey string `json:"object_key"`
	ExpiresIn int    `json:"expires_in_seconds"`
}

// CreateUploadURL issues a presigned PUT URL. Objects are keyed under the
// conversation so access control follows conversation membership.
func (s *Service) CreateUploadURL(ctx context.Context, input *UploadURLInput) (*UploadURLOutput, error) {
	if input.FileName == "" {
		return nil, apperrors.ValidationError("file_name is required")
	}

	objectKey := path.Join(
		input.ConversationID.String(),
		uuid.New().String(),
		path.Base(input.FileName),
	)

	presigned, err := s.client.PresignedPutObject(ctx, s.bucket, objectKey, s.urlExpiry)
	if err != nil {
		return nil, apperrors.StorageError(err)
	}

	return &UploadURLOutput{
		UploadURL: presigned.String(),
		ObjectKey: objectKey,
		ExpiresIn: int(s.urlExpiry.Seconds()),
	}, nil
}

// CreateDownloadURL issues a presigned GET URL for a stored attachment,
// forcing a download filename so browsers do not render unknown content.
func (s *Service) CreateDownloadURL(ctx context.Context, objectKey, fileName string) (string, error) {
	params := make(url.Values)
	if fileName != "" {
		params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	}

	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, s.urlExpiry, params)
	if err != nil {
		return "", apperrors.StorageError(err)
	}
	return presigned.String(), nil
}

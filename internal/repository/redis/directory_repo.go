package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "workchat-backend/pkg/errors"
)

// DirectoryRepository maps workspace emails to user identities in Redis for
// fast lookups without touching the relational store.
type DirectoryRepository struct {
	client *redis.Client
}

// NewDirectoryRepository creates a new DirectoryRepository
func NewDirectoryRepository(client *redis.Client) *DirectoryRepository {
	return &DirectoryRepository{client: client}
}

func directoryKey(tenantID uuid.UUID, email string) string {
	return fmt.Sprintf("directory:%s:%s", tenantID, strings.ToLower(email))
}

// SetEmail maps a tenant-scoped email to a user ID
func (r *DirectoryRepository) SetEmail(ctx context.Context, tenantID uuid.UUID, email string, userID uuid.UUID) error {
	err := r.client.Set(ctx, directoryKey(tenantID, email), userID.String(), 0).Err()
	if err != nil {
		return fmt.Errorf("failed to set directory entry: %w", err)
	}
	return nil
}

// LookupEmail resolves a tenant-scoped email to a user ID
func (r *DirectoryRepository) LookupEmail(ctx context.Context, tenantID uuid.UUID, email string) (uuid.UUID, error) {
	value, err := r.client.Get(ctx, directoryKey(tenantID, email)).Result()
	if err != nil {
		if err == redis.Nil {
			return uuid.Nil, apperrors.NotFoundError("User")
		}
		return uuid.Nil, fmt.Errorf("failed to look up directory entry: %w", err)
	}

	userID, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid directory entry: %w", err)
	}
	return userID, nil
}

// DeleteEmail removes a directory mapping
func (r *DirectoryRepository) DeleteEmail(ctx context.Context, tenantID uuid.UUID, email string) error {
	return r.client.Del(ctx, directoryKey(tenantID, email)).Err()
}

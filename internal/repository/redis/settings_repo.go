package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SettingsRepository stores per-user preference flags in Redis
type SettingsRepository struct {
	client *redis.Client
}

// NewSettingsRepository creates a new SettingsRepository
func NewSettingsRepository(client *redis.Client) *SettingsRepository {
	return &SettingsRepository{client: client}
}

func readReceiptsKey(userID, tenantID uuid.UUID) string {
	return fmt.Sprintf("settings:read_receipts:%s:%s", tenantID, userID)
}

// SetReadReceipts stores the read-receipt sharing preference
func (r *SettingsRepository) SetReadReceipts(ctx context.Context, userID, tenantID uuid.UUID, enabled bool) error {
	value := "1"
	if !enabled {
		value = "0"
	}
	if err := r.client.Set(ctx, readReceiptsKey(userID, tenantID), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set read receipt setting: %w", err)
	}
	return nil
}

// GetReadReceipts returns the read-receipt sharing preference. Sharing is on
// by default: an absent key reads as enabled.
func (r *SettingsRepository) GetReadReceipts(ctx context.Context, userID, tenantID uuid.UUID) (bool, error) {
	value, err := r.client.Get(ctx, readReceiptsKey(userID, tenantID)).Result()
	if err != nil {
		if err == redis.Nil {
			return true, nil
		}
		return false, fmt.Errorf("failed to get read receipt setting: %w", err)
	}
	return value != "0", nil
}

package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// OnlineWindow is how long a heartbeat keeps an identity online.
const OnlineWindow = 2 * time.Minute

// PresenceRepository handles online/offline status in Redis. A heartbeat
// writes a TTL key; expiry is the offline transition, so a crashed client
// goes offline without any explicit signal.
type PresenceRepository struct {
	client *redis.Client
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *redis.Client) *PresenceRepository {
	return &PresenceRepository{client: client}
}

func presenceKey(userID, tenantID uuid.UUID) string {
	return fmt.Sprintf("presence:%s:%s", tenantID, userID)
}

// Heartbeat marks the identity online for the online window
func (r *PresenceRepository) Heartbeat(ctx context.Context, userID, tenantID uuid.UUID) error {
	err := r.client.Set(ctx, presenceKey(userID, tenantID), "online", OnlineWindow).Err()
	if err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	return nil
}

// SetOffline drops the presence key immediately (explicit sign-out)
func (r *PresenceRepository) SetOffline(ctx context.Context, userID, tenantID uuid.UUID) error {
	err := r.client.Del(ctx, presenceKey(userID, tenantID)).Err()
	if err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}
	return nil
}

// IsOnline checks if the identity has a live heartbeat
func (r *PresenceRepository) IsOnline(ctx context.Context, userID, tenantID uuid.UUID) (bool, error) {
	exists, err := r.client.Exists(ctx, presenceKey(userID, tenantID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return exists > 0, nil
}

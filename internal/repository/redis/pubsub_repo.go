package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Event is the envelope pushed over Pub/Sub to live subscribers
type Event struct {
	Type           string          `json:"type"`
	ConversationID uuid.UUID       `json:"conversation_id"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Event types fanned out to connected clients
const (
	EventMessageSent      = "message.sent"
	EventMessageEdited    = "message.edited"
	EventMessageDeleted   = "message.deleted"
	EventReactionsUpdated = "message.reactions"
	EventReceiptUpdated   = "message.receipt"
	EventCallRinging      = "call.ringing"
	EventCallAnswered     = "call.answered"
	EventCallEnded        = "call.ended"
)

// PubSubRepository fans conversation events out through Redis Pub/Sub so every
// gateway instance sees writes regardless of which one handled them.
type PubSubRepository struct {
	client *redis.Client
}

// NewPubSubRepository creates a new PubSubRepository
func NewPubSubRepository(client *redis.Client) *PubSubRepository {
	return &PubSubRepository{client: client}
}

func channelFor(conversationID uuid.UUID) string {
	return fmt.Sprintf("conversation:%s", conversationID)
}

// Publish pushes an event onto the conversation's channel. Delivery is
// best-effort: history lives in the message log, not the channel.
func (r *PubSubRepository) Publish(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := r.client.Publish(ctx, channelFor(event.ConversationID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe opens a subscription on the given conversations' channels. The
// caller owns the returned PubSub and must Close it.
func (r *PubSubRepository) Subscribe(ctx context.Context, conversationIDs ...uuid.UUID) *redis.PubSub {
	channels := make([]string, len(conversationIDs))
	for i, id := range conversationIDs {
		channels[i] = channelFor(id)
	}
	return r.client.Subscribe(ctx, channels...)
}

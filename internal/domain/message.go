package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageType categorizes message payloads
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
	MessageCall   MessageType = "call"
)

// Message represents a chat message entity
// Maps to Cassandra messages table, partitioned by (conversation_id, bucket)
// and clustered by a TIMEUUID message_id so clustering order is creation order.
type Message struct {
	MessageID      uuid.UUID `json:"message_id" cql:"message_id"` // TIMEUUID
	ConversationID uuid.UUID `json:"conversation_id" cql:"conversation_id"`
	Bucket         int       `json:"-" cql:"bucket"`

	SenderParticipantID uuid.UUID  `json:"sender_participant_id" cql:"sender_participant_id"`
	SenderName          string     `json:"sender_name" cql:"sender_name"`
	SenderAvatarURL     *string    `json:"sender_avatar_url,omitempty" cql:"sender_avatar_url"`
	SenderTenantID      *uuid.UUID `json:"sender_tenant_id,omitempty" cql:"sender_tenant_id"`

	Content   *string     `json:"content,omitempty" cql:"content"` // nil once soft-deleted
	Type      MessageType `json:"type" cql:"message_type"`
	ReplyToID *uuid.UUID  `json:"reply_to_id,omitempty" cql:"reply_to_id"`

	// Reactions maps emoji to the set of participant IDs that reacted with it.
	Reactions map[string][]uuid.UUID `json:"reactions,omitempty" cql:"reactions"`

	// Per-recipient receipt sets, always excluding the sender. Appended with
	// CQL set-union so membership is idempotent and never shrinks.
	DeliveredTo []uuid.UUID `json:"delivered_to,omitempty" cql:"delivered_to"`
	ReadBy      []uuid.UUID `json:"read_by,omitempty" cql:"read_by"`

	IsEdited  bool       `json:"is_edited" cql:"is_edited"`
	IsDeleted bool       `json:"is_deleted" cql:"is_deleted"`
	CallID    *uuid.UUID `json:"call_id,omitempty" cql:"call_id"`
	CreatedAt time.Time  `json:"created_at" cql:"created_at"`

	Attachments []*Attachment `json:"attachments,omitempty" cql:"-"`
}

// DeliveredToContains reports whether the participant is already in delivered_to.
func (m *Message) DeliveredToContains(participantID uuid.UUID) bool {
	return containsID(m.DeliveredTo, participantID)
}

// ReadByContains reports whether the participant is already in read_by.
func (m *Message) ReadByContains(participantID uuid.UUID) bool {
	return containsID(m.ReadBy, participantID)
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Attachment represents file metadata attached to a message.
// Written in the same logged batch as its message; immutable afterwards.
type Attachment struct {
	AttachmentID   uuid.UUID `json:"attachment_id" cql:"attachment_id"`
	MessageID      uuid.UUID `json:"message_id" cql:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id" cql:"conversation_id"`
	FileName       string    `json:"file_name" cql:"file_name"`
	MimeType       string    `json:"mime_type" cql:"mime_type"`
	SizeBytes      int64     `json:"size_bytes" cql:"size_bytes"`
	URL            string    `json:"url" cql:"url"`
	ThumbnailURL   *string   `json:"thumbnail_url,omitempty" cql:"thumbnail_url"`
	Width          *int      `json:"width,omitempty" cql:"width"`
	Height         *int      `json:"height,omitempty" cql:"height"`
}

// CalculateBucket maps a timestamp to its month bucket (YYYYMM).
// Keeps Cassandra partitions bounded per conversation.
func CalculateBucket(t time.Time) int {
	t = t.UTC()
	return t.Year()*100 + int(t.Month())
}

// PreviousBucket returns the month bucket preceding the given one.
func PreviousBucket(bucket int) int {
	year, month := bucket/100, bucket%100
	if month == 1 {
		return (year-1)*100 + 12
	}
	return year*100 + month - 1
}

package cassandra

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"workchat-backend/internal/domain"
	apperrors "workchat-backend/pkg/errors"
)

// MessageRepository handles the append-only message log in Cassandra.
//
// Messages are partitioned by (conversation_id, bucket) with month buckets to
// keep partitions bounded, and clustered by a TIMEUUID message_id so
// clustering order is creation order and any message's bucket is derivable
// from its ID alone. Receipt sets use CQL set-union so appends are idempotent
// and membership never shrinks.
type MessageRepository struct {
	session *gocql.Session
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(session *gocql.Session) *MessageRepository {
	return &MessageRepository{session: session}
}

// NewMessageID generates a TIMEUUID message identifier.
func NewMessageID() uuid.UUID {
	return uuid.UUID(gocql.TimeUUID())
}

// MessageTime extracts the creation timestamp embedded in a TIMEUUID
// message identifier.
func MessageTime(messageID uuid.UUID) time.Time {
	return gocql.UUID(messageID).Time().UTC()
}

// MessageBucket returns the month bucket a message lives in.
func MessageBucket(messageID uuid.UUID) int {
	return domain.CalculateBucket(MessageTime(messageID))
}

const messageColumns = `
	conversation_id, bucket, message_id, sender_participant_id, sender_name,
	sender_avatar_url, sender_tenant_id, content, message_type, reply_to_id,
	reactions, delivered_to, read_by, is_edited, is_deleted, call_id, created_at`

// SaveWithAttachments persists a message and its attachments in one logged
// batch so they commit atomically.
func (r *MessageRepository) SaveWithAttachments(msg *domain.Message, attachments []*domain.Attachment) error {
	batch := r.session.NewBatch(gocql.LoggedBatch)

	batch.Query(`
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		gocql.UUID(msg.ConversationID),
		msg.Bucket,
		gocql.UUID(msg.MessageID),
		gocql.UUID(msg.SenderParticipantID),
		msg.SenderName,
		msg.SenderAvatarURL,
		uuidPtr(msg.SenderTenantID),
		msg.Content,
		string(msg.Type),
		uuidPtr(msg.ReplyToID),
		toCQLReactions(msg.Reactions),
		toCQLSet(msg.DeliveredTo),
		toCQLSet(msg.ReadBy),
		msg.IsEdited,
		msg.IsDeleted,
		uuidPtr(msg.CallID),
		msg.CreatedAt,
	)

	for _, a := range attachments {
		batch.Query(`
			INSERT INTO attachments (
				conversation_id, bucket, message_id, attachment_id,
				file_name, mime_type, size_bytes, url, thumbnail_url, width, height
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			gocql.UUID(a.ConversationID),
			msg.Bucket,
			gocql.UUID(a.MessageID),
			gocql.UUID(a.AttachmentID),
			a.FileName,
			a.MimeType,
			a.SizeBytes,
			a.URL,
			a.ThumbnailURL,
			a.Width,
			a.Height,
		)
	}

	if err := r.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// GetByID retrieves a single message; the bucket is derived from the ID.
func (r *MessageRepository) GetByID(conversationID, messageID uuid.UUID) (*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ? AND bucket = ? AND message_id = ?
		LIMIT 1
	`

	iter := r.session.Query(query,
		gocql.UUID(conversationID),
		MessageBucket(messageID),
		gocql.UUID(messageID),
	).Iter()

	msg, ok := scanMessage(iter)
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if !ok {
		return nil, apperrors.NotFoundError("Message")
	}

	attachments, err := r.ListAttachments(conversationID, messageID)
	if err != nil {
		return nil, err
	}
	msg.Attachments = attachments

	return msg, nil
}

// ListBefore returns up to limit messages strictly older than anchor (or
// including it when inclusive is set), newest first, walking month buckets
// down to minBucket.
func (r *MessageRepository) ListBefore(
	conversationID uuid.UUID,
	anchor time.Time,
	inclusive bool,
	limit int,
	minBucket int,
) ([]*domain.Message, error) {
	op := "<"
	if inclusive {
		op = "<="
	}
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ? AND bucket = ? AND message_id ` + op + ` maxTimeuuid(?)
		LIMIT ?
	`

	var messages []*domain.Message
	for bucket := domain.CalculateBucket(anchor); bucket >= minBucket && len(messages) < limit; bucket = domain.PreviousBucket(bucket) {
		iter := r.session.Query(query,
			gocql.UUID(conversationID),
			bucket,
			anchor,
			limit-len(messages),
		).Iter()

		for {
			msg, ok := scanMessage(iter)
			if !ok {
				break
			}
			messages = append(messages, msg)
		}
		if err := iter.Close(); err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}
	}

	return messages, nil
}

// ListAfter returns up to limit messages strictly newer than anchor, oldest
// first, walking month buckets up to maxBucket.
func (r *MessageRepository) ListAfter(
	conversationID uuid.UUID,
	anchor time.Time,
	limit int,
	maxBucket int,
) ([]*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ? AND bucket = ? AND message_id > minTimeuuid(?)
		ORDER BY message_id ASC
		LIMIT ?
	`

	var messages []*domain.Message
	for bucket := domain.CalculateBucket(anchor); bucket <= maxBucket && len(messages) < limit; bucket = nextBucket(bucket) {
		iter := r.session.Query(query,
			gocql.UUID(conversationID),
			bucket,
			anchor,
			limit-len(messages),
		).Iter()

		for {
			msg, ok := scanMessage(iter)
			if !ok {
				break
			}
			messages = append(messages, msg)
		}
		if err := iter.Close(); err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}
	}

	return messages, nil
}

// UpdateContent rewrites a message body and marks it edited.
func (r *MessageRepository) UpdateContent(conversationID, messageID uuid.UUID, content string) error {
	query := `
		UPDATE messages
		SET content = ?, is_edited = true
		WHERE conversation_id = ? AND bucket = ? AND message_id = ?
	`

	err := r.session.Query(query,
		content,
		gocql.UUID(conversationID),
		MessageBucket(messageID),
		gocql.UUID(messageID),
	).Exec()
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	return nil
}

// SoftDelete clears the content and flags the message deleted, preserving
// metadata and attribution.
func (r *MessageRepository) SoftDelete(conversationID, messageID uuid.UUID) error {
	query := `
		UPDATE messages
		SET content = null, is_deleted = true
		WHERE conversation_id = ? AND bucket = ? AND message_id = ?
	`

	err := r.session.Query(query,
		gocql.UUID(conversationID),
		MessageBucket(messageID),
		gocql.UUID(messageID),
	).Exec()
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// SetReactions replaces the full reactions map. Emoji sets are frozen, so
// toggles are read-modify-write at the service layer.
func (r *MessageRepository) SetReactions(conversationID, messageID uuid.UUID, reactions map[string][]uuid.UUID) error {
	query := `
		UPDATE messages
		SET reactions = ?
		WHERE conversation_id = ? AND bucket = ? AND message_id = ?
	`

	err := r.session.Query(query,
		toCQLReactions(reactions),
		gocql.UUID(conversationID),
		MessageBucket(messageID),
		gocql.UUID(messageID),
	).Exec()
	if err != nil {
		return fmt.Errorf("failed to set reactions: %w", err)
	}
	return nil
}

// AddDelivered appends a participant to delivered_to via set-union.
func (r *MessageRepository) AddDelivered(conversationID, messageID, participantID uuid.UUID) error {
	return r.addToSet(conversationID, messageID, participantID, "delivered_to")
}

// AddRead appends a participant to read_by via set-union.
func (r *MessageRepository) AddRead(conversationID, messageID, participantID uuid.UUID) error {
	return r.addToSet(conversationID, messageID, participantID, "read_by")
}

func (r *MessageRepository) addToSet(conversationID, messageID, participantID uuid.UUID, column string) error {
	query := fmt.Sprintf(`
		UPDATE messages
		SET %s = %s + ?
		WHERE conversation_id = ? AND bucket = ? AND message_id = ?
	`, column, column)

	err := r.session.Query(query,
		[]gocql.UUID{gocql.UUID(participantID)},
		gocql.UUID(conversationID),
		MessageBucket(messageID),
		gocql.UUID(messageID),
	).Exec()
	if err != nil {
		return fmt.Errorf("failed to append to %s: %w", column, err)
	}
	return nil
}

// ListAttachments returns a message's attachments in insertion order.
func (r *MessageRepository) ListAttachments(conversationID, messageID uuid.UUID) ([]*domain.Attachment, error) {
	query := `
		SELECT attachment_id, message_id, conversation_id, file_name, mime_type,
		       size_bytes, url, thumbnail_url, width, height
		FROM attachments
		WHERE conversation_id = ? AND bucket = ? AND message_id = ?
	`

	iter := r.session.Query(query,
		gocql.UUID(conversationID),
		MessageBucket(messageID),
		gocql.UUID(messageID),
	).Iter()

	var attachments []*domain.Attachment
	for {
		var (
			a                    domain.Attachment
			attachmentID, msgID  gocql.UUID
			convID               gocql.UUID
		)
		if !iter.Scan(
			&attachmentID,
			&msgID,
			&convID,
			&a.FileName,
			&a.MimeType,
			&a.SizeBytes,
			&a.URL,
			&a.ThumbnailURL,
			&a.Width,
			&a.Height,
		) {
			break
		}
		a.AttachmentID = uuid.UUID(attachmentID)
		a.MessageID = uuid.UUID(msgID)
		a.ConversationID = uuid.UUID(convID)
		attachments = append(attachments, &a)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}

	return attachments, nil
}

func scanMessage(iter *gocql.Iter) (*domain.Message, bool) {
	var (
		msg                    domain.Message
		convID, msgID, sender  gocql.UUID
		senderTenant, replyTo  *gocql.UUID
		callID                 *gocql.UUID
		msgType                string
		reactions              map[string][]gocql.UUID
		deliveredTo, readBy    []gocql.UUID
	)

	if !iter.Scan(
		&convID,
		&msg.Bucket,
		&msgID,
		&sender,
		&msg.SenderName,
		&msg.SenderAvatarURL,
		&senderTenant,
		&msg.Content,
		&msgType,
		&replyTo,
		&reactions,
		&deliveredTo,
		&readBy,
		&msg.IsEdited,
		&msg.IsDeleted,
		&callID,
		&msg.CreatedAt,
	) {
		return nil, false
	}

	msg.ConversationID = uuid.UUID(convID)
	msg.MessageID = uuid.UUID(msgID)
	msg.SenderParticipantID = uuid.UUID(sender)
	msg.SenderTenantID = fromUUIDPtr(senderTenant)
	msg.ReplyToID = fromUUIDPtr(replyTo)
	msg.CallID = fromUUIDPtr(callID)
	msg.Type = domain.MessageType(msgType)
	msg.Reactions = fromCQLReactions(reactions)
	msg.DeliveredTo = fromCQLSet(deliveredTo)
	msg.ReadBy = fromCQLSet(readBy)

	return &msg, true
}

func nextBucket(bucket int) int {
	year, month := bucket/100, bucket%100
	if month == 12 {
		return (year+1)*100 + 1
	}
	return year*100 + month + 1
}

func uuidPtr(id *uuid.UUID) *gocql.UUID {
	if id == nil {
		return nil
	}
	gid := gocql.UUID(*id)
	return &gid
}

func fromUUIDPtr(id *gocql.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	uid := uuid.UUID(*id)
	return &uid
}

func toCQLSet(ids []uuid.UUID) []gocql.UUID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]gocql.UUID, len(ids))
	for i, id := range ids {
		out[i] = gocql.UUID(id)
	}
	return out
}

func fromCQLSet(ids []gocql.UUID) []uuid.UUID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]uuid.UUID, len(ids))
	for i, id := range ids {
		out[i] = uuid.UUID(id)
	}
	return out
}

func toCQLReactions(reactions map[string][]uuid.UUID) map[string][]gocql.UUID {
	if len(reactions) == 0 {
		return nil
	}
	out := make(map[string][]gocql.UUID, len(reactions))
	for emoji, ids := range reactions {
		out[emoji] = toCQLSet(ids)
	}
	return out
}

func fromCQLReactions(reactions map[string][]gocql.UUID) map[string][]uuid.UUID {
	if len(reactions) == 0 {
		return nil
	}
	out := make(map[string][]uuid.UUID, len(reactions))
	for emoji, ids := range reactions {
		out[emoji] = fromCQLSet(ids)
	}
	return out
}

package chat

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"workchat-backend/internal/domain"
	"workchat-backend/internal/repository/cassandra"
	redisrepo "workchat-backend/internal/repository/redis"
	apperrors "workchat-backend/pkg/errors"
	"workchat-backend/pkg/logger"
	"workchat-backend/pkg/metrics"
)

const previewLength = 100

// SystemSenderName labels messages that have no human author
const SystemSenderName = "System"

// MessageRepository is the message log surface the service needs
type MessageRepository interface {
	SaveWithAttachments(msg *domain.Message, attachments []*domain.Attachment) error
	GetByID(conversationID, messageID uuid.UUID) (*domain.Message, error)
	ListBefore(conversationID uuid.UUID, anchor time.Time, inclusive bool, limit int, minBucket int) ([]*domain.Message, error)
	ListAfter(conversationID uuid.UUID, anchor time.Time, limit int, maxBucket int) ([]*domain.Message, error)
	UpdateContent(conversationID, messageID uuid.UUID, content string) error
	SoftDelete(conversationID, messageID uuid.UUID) error
	SetReactions(conversationID, messageID uuid.UUID, reactions map[string][]uuid.UUID) error
}

// ConversationRepository is the conversation metadata surface
type ConversationRepository interface {
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	BumpLastMessage(ctx context.Context, conversationID uuid.UUID, senderName, snippet string, at time.Time) error
}

// ParticipantRepository resolves membership and unread counters
type ParticipantRepository interface {
	GetActiveByUser(ctx context.Context, conversationID, userID, tenantID uuid.UUID) (*domain.Participant, error)
	IncrementUnread(ctx context.Context, conversationID, exceptParticipantID uuid.UUID) error
}

// Publisher fans events out to live subscribers
type Publisher interface {
	Publish(ctx context.Context, event *redisrepo.Event) error
}

// Service handles the message log business logic
type Service struct {
	messageRepo MessageRepository
	convRepo    ConversationRepository
	partRepo    ParticipantRepository
	publisher   Publisher
	metrics     *metrics.Metrics
}

// NewService creates a new chat service
func NewService(
	messageRepo MessageRepository,
	convRepo ConversationRepository,
	partRepo ParticipantRepository,
	publisher Publisher,
	m *metrics.Metrics,
) *Service {
	return &Service{
		messageRepo: messageRepo,
		convRepo:    convRepo,
		partRepo:    partRepo,
		publisher:   publisher,
		metrics:     m,
	}
}

// AttachmentInput describes one uploaded file to attach
type AttachmentInput struct {
	FileName     string
	MimeType     string
	SizeBytes    int64
	URL          string
	ThumbnailURL *string
	Width        *int
	Height       *int
}

// SendMessageInput contains message data
type SendMessageInput struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	TenantID       uuid.UUID
	Content        string
	Type           domain.MessageType
	ReplyToID      *uuid.UUID
	Attachments    []*AttachmentInput
}

// SendMessageOutput contains the persisted message
type SendMessageOutput struct {
	Message *domain.Message
}

// SendMessage appends a message to the conversation log, refreshes the
// denormalized preview, bumps unread counters for everyone else and publishes
// the live event. Only the log write is load-bearing; the side effects are
// best-effort.
func (s *Service) SendMessage(ctx context.Context, input *SendMessageInput) (*SendMessageOutput, error) {
	if input.Content == "" && len(input.Attachments) == 0 {
		return nil, apperrors.ValidationError("message needs content or attachments")
	}
	if input.Type == "" {
		input.Type = domain.MessageText
	}
	if input.Type == domain.MessageSystem || input.Type == domain.MessageCall {
		return nil, apperrors.ValidationError("reserved message type")
	}

	sender, err := s.partRepo.GetActiveByUser(ctx, input.ConversationID, input.UserID, input.TenantID)
	if err != nil {
		return nil, err
	}

	if input.ReplyToID != nil {
		if _, err := s.messageRepo.GetByID(input.ConversationID, *input.ReplyToID); err != nil {
			return nil, err
		}
	}

	msg := s.buildMessage(input.ConversationID, sender, input.Content, input.Type)
	msg.ReplyToID = input.ReplyToID

	attachments := make([]*domain.Attachment, len(input.Attachments))
	for i, a := range input.Attachments {
		attachments[i] = &domain.Attachment{
			AttachmentID:   uuid.New(),
			MessageID:      msg.MessageID,
			ConversationID: msg.ConversationID,
			FileName:       a.FileName,
			MimeType:       a.MimeType,
			SizeBytes:      a.SizeBytes,
			URL:            a.URL,
			ThumbnailURL:   a.ThumbnailURL,
			Width:          a.Width,
			Height:         a.Height,
		}
	}

	if err := s.messageRepo.SaveWithAttachments(msg, attachments); err != nil {
		return nil, err
	}
	msg.Attachments = attachments

	s.afterAppend(ctx, msg)
	if s.metrics != nil {
		s.metrics.MessagesSent.WithLabelValues(string(msg.Type)).Inc()
	}

	return &SendMessageOutput{Message: msg}, nil
}

func (s *Service) buildMessage(conversationID uuid.UUID, sender *domain.Participant, content string, msgType domain.MessageType) *domain.Message {
	messageID := cassandra.NewMessageID()
	createdAt := cassandra.MessageTime(messageID)

	msg := &domain.Message{
		MessageID:      messageID,
		ConversationID: conversationID,
		Bucket:         domain.CalculateBucket(createdAt),
		Type:           msgType,
		CreatedAt:      createdAt,
	}
	if content != "" {
		msg.Content = &content
	}
	if sender != nil {
		msg.SenderParticipantID = sender.ParticipantID
		msg.SenderName = sender.DisplayName
		msg.SenderAvatarURL = sender.AvatarURL
		msg.SenderTenantID = sender.TenantID
	} else {
		msg.SenderName = SystemSenderName
	}
	return msg
}

// afterAppend runs the non-load-bearing side effects of a log append
func (s *Service) afterAppend(ctx context.Context, msg *domain.Message) {
	snippet := previewSnippet(msg)
	if err := s.convRepo.BumpLastMessage(ctx, msg.ConversationID, msg.SenderName, snippet, msg.CreatedAt); err != nil {
		logger.Warn("failed to bump last message preview", zap.Error(err))
	}
	if err := s.partRepo.IncrementUnread(ctx, msg.ConversationID, msg.SenderParticipantID); err != nil {
		logger.Warn("failed to increment unread counts", zap.Error(err))
	}
	s.publish(ctx, redisrepo.EventMessageSent, msg.ConversationID, msg)
}

func previewSnippet(msg *domain.Message) string {
	if msg.Content == nil {
		if len(msg.Attachments) > 0 {
			return "[Attachment]"
		}
		return ""
	}
	snippet := *msg.Content
	if len(snippet) > previewLength {
		snippet = snippet[:previewLength]
	}
	return snippet
}

func (s *Service) publish(ctx context.Context, eventType string, conversationID uuid.UUID, payload any) {
	if s.publisher == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Warn("failed to marshal event payload", zap.Error(err))
		return
	}
	event := &redisrepo.Event{Type: eventType, ConversationID: conversationID, Payload: data}
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.Warn("failed to publish event",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

// VerifyMembership checks that the user holds an active participant row.
// Used by endpoints that gate side resources (e.g. attachment upload slots)
// on conversation membership.
func (s *Service) VerifyMembership(ctx context.Context, conversationID, userID, tenantID uuid.UUID) error {
	_, err := s.partRepo.GetActiveByUser(ctx, conversationID, userID, tenantID)
	return err
}

// AppendSystem writes an authorless system message into the log. Used by the
// conversation and call services to narrate membership and call outcomes.
func (s *Service) AppendSystem(ctx context.Context, conversationID uuid.UUID, text string) error {
	msg := s.buildMessage(conversationID, nil, text, domain.MessageSystem)
	if err := s.messageRepo.SaveWithAttachments(msg, nil); err != nil {
		return err
	}
	s.afterAppend(ctx, msg)
	return nil
}

// AppendCallSummary writes a call-summary message tied to a call record.
func (s *Service) AppendCallSummary(ctx context.Context, conversationID, callID uuid.UUID, text string) error {
	msg := s.buildMessage(conversationID, nil, text, domain.MessageCall)
	msg.CallID = &callID
	if err := s.messageRepo.SaveWithAttachments(msg, nil); err != nil {
		return err
	}
	s.afterAppend(ctx, msg)
	return nil
}

// ListMessagesInput pages through a conversation's history by timestamp cursor
type ListMessagesInput struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	TenantID       uuid.UUID

	// Before pages into history (default now); After tails forward from a
	// known point. At most one may be set.
	Before *time.Time
	After  *time.Time
	Limit  int
}

// ListMessagesOutput carries one page of messages in chronological order
type ListMessagesOutput struct {
	Messages []*domain.Message
	HasMore  bool
}

// ListMessages returns a page of the conversation log. History pages walk
// month buckets down to the conversation's creation month, so empty months
// never terminate pagination early.
func (s *Service) ListMessages(ctx context.Context, input *ListMessagesInput) (*ListMessagesOutput, error) {
	if input.Before != nil && input.After != nil {
		return nil, apperrors.ValidationError("before and after are mutually exclusive")
	}
	if input.Limit <= 0 || input.Limit > 100 {
		input.Limit = 50
	}

	if _, err := s.partRepo.GetActiveByUser(ctx, input.ConversationID, input.UserID, input.TenantID); err != nil {
		return nil, err
	}
	conv, err := s.convRepo.GetByID(ctx, input.ConversationID)
	if err != nil {
		return nil, err
	}
	minBucket := domain.CalculateBucket(conv.CreatedAt)

	if input.After != nil {
		maxBucket := domain.CalculateBucket(time.Now().UTC())
		messages, err := s.messageRepo.ListAfter(input.ConversationID, *input.After, input.Limit+1, maxBucket)
		if err != nil {
			return nil, err
		}
		hasMore := len(messages) > input.Limit
		if hasMore {
			messages = messages[:input.Limit]
		}
		return &ListMessagesOutput{Messages: messages, HasMore: hasMore}, nil
	}

	anchor := time.Now().UTC()
	if input.Before != nil {
		anchor = *input.Before
	}

	messages, err := s.messageRepo.ListBefore(input.ConversationID, anchor, false, input.Limit+1, minBucket)
	if err != nil {
		return nil, err
	}
	hasMore := len(messages) > input.Limit
	if hasMore {
		messages = messages[:input.Limit]
	}

	// Storage order is newest-first; the page is served oldest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return &ListMessagesOutput{Messages: messages, HasMore: hasMore}, nil
}

// EditMessageInput rewrites a message body
type EditMessageInput struct {
	ConversationID uuid.UUID
	MessageID      uuid.UUID
	UserID         uuid.UUID
	TenantID       uuid.UUID
	Content        string
}

// EditMessage rewrites a message's content. Only the original sender may
// edit, and deleted or system messages are immutable.
func (s *Service) EditMessage(ctx context.Context, input *EditMessageInput) (*domain.Message, error) {
	if input.Content == "" {
		return nil, apperrors.ValidationError("content is required")
	}

	_, msg, err := s.resolveOwnMessage(ctx, input.ConversationID, input.MessageID, input.UserID, input.TenantID)
	if err != nil {
		return nil, err
	}
	if msg.Type != domain.MessageText {
		return nil, apperrors.InvalidStateError("only text messages can be edited")
	}

	if err := s.messageRepo.UpdateContent(input.ConversationID, input.MessageID, input.Content); err != nil {
		return nil, err
	}

	msg.Content = &input.Content
	msg.IsEdited = true
	s.publish(ctx, redisrepo.EventMessageEdited, input.ConversationID, msg)

	return msg, nil
}

// DeleteMessageInput soft-deletes a message
type DeleteMessageInput struct {
	ConversationID uuid.UUID
	MessageID      uuid.UUID
	UserID         uuid.UUID
	TenantID       uuid.UUID
}

// DeleteMessage clears a message's content and flags it deleted. The row
// survives so replies and receipts keep resolving.
func (s *Service) DeleteMessage(ctx context.Context, input *DeleteMessageInput) error {
	_, msg, err := s.resolveOwnMessage(ctx, input.ConversationID, input.MessageID, input.UserID, input.TenantID)
	if err != nil {
		return err
	}

	if err := s.messageRepo.SoftDelete(input.ConversationID, input.MessageID); err != nil {
		return err
	}

	msg.Content = nil
	msg.IsDeleted = true
	s.publish(ctx, redisrepo.EventMessageDeleted, input.ConversationID, msg)

	return nil
}

// resolveOwnMessage loads a live message and verifies the requester sent it
func (s *Service) resolveOwnMessage(ctx context.Context, conversationID, messageID, userID, tenantID uuid.UUID) (*domain.Participant, *domain.Message, error) {
	self, err := s.partRepo.GetActiveByUser(ctx, conversationID, userID, tenantID)
	if err != nil {
		return nil, nil, err
	}

	msg, err := s.messageRepo.GetByID(conversationID, messageID)
	if err != nil {
		return nil, nil, err
	}
	if msg.IsDeleted {
		return nil, nil, apperrors.InvalidStateError("message is deleted")
	}
	if msg.SenderParticipantID != self.ParticipantID {
		return nil, nil, apperrors.NotAuthorizedError("only the sender can modify a message")
	}

	return self, msg, nil
}

// ToggleReactionInput flips one emoji reaction for the requester
type ToggleReactionInput struct {
	ConversationID uuid.UUID
	MessageID      uuid.UUID
	UserID         uuid.UUID
	TenantID       uuid.UUID
	Emoji          string
}

// ToggleReaction adds the requester to the emoji's reactor set, or removes
// them if already present. An emoji whose last reactor leaves is dropped
// entirely rather than kept as an empty set.
func (s *Service) ToggleReaction(ctx context.Context, input *ToggleReactionInput) (*domain.Message, error) {
	if strings.TrimSpace(input.Emoji) == "" {
		return nil, apperrors.ValidationError("emoji is required")
	}

	self, err := s.partRepo.GetActiveByUser(ctx, input.ConversationID, input.UserID, input.TenantID)
	if err != nil {
		return nil, err
	}

	msg, err := s.messageRepo.GetByID(input.ConversationID, input.MessageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, apperrors.InvalidStateError("message is deleted")
	}

	reactions := msg.Reactions
	if reactions == nil {
		reactions = make(map[string][]uuid.UUID)
	}

	reactors := reactions[input.Emoji]
	found := false
	for i, id := range reactors {
		if id == self.ParticipantID {
			reactors = append(reactors[:i], reactors[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		reactors = append(reactors, self.ParticipantID)
	}

	if len(reactors) == 0 {
		delete(reactions, input.Emoji)
	} else {
		reactions[input.Emoji] = reactors
	}

	if err := s.messageRepo.SetReactions(input.ConversationID, input.MessageID, reactions); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ReactionsToggled.Inc()
	}

	msg.Reactions = reactions
	s.publish(ctx, redisrepo.EventReactionsUpdated, input.ConversationID, msg)

	return msg, nil
}

// ForwardMessageInput copies one message into other conversations
type ForwardMessageInput struct {
	SourceConversationID uuid.UUID
	MessageID            uuid.UUID
	UserID               uuid.UUID
	TenantID             uuid.UUID
	TargetIDs            []uuid.UUID
}

// ForwardResult reports the outcome for one forwarding target
type ForwardResult struct {
	ConversationID uuid.UUID  `json:"conversation_id"`
	MessageID      *uuid.UUID `json:"message_id,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// ForwardMessageOutput carries per-target forwarding results
type ForwardMessageOutput struct {
	Results []*ForwardResult
}

// ForwardMessage copies a message into each target conversation as a fresh
// send attributed to the forwarder. Targets fail independently; one
// inaccessible conversation never blocks the rest.
func (s *Service) ForwardMessage(ctx context.Context, input *ForwardMessageInput) (*ForwardMessageOutput, error) {
	if len(input.TargetIDs) == 0 {
		return nil, apperrors.ValidationError("at least one target conversation is required")
	}

	if _, err := s.partRepo.GetActiveByUser(ctx, input.SourceConversationID, input.UserID, input.TenantID); err != nil {
		return nil, err
	}

	source, err := s.messageRepo.GetByID(input.SourceConversationID, input.MessageID)
	if err != nil {
		return nil, err
	}
	if source.IsDeleted {
		return nil, apperrors.InvalidStateError("cannot forward a deleted message")
	}

	content := "[Forwarded message]"
	if source.Content != nil {
		content += "\n" + *source.Content
	}

	results := make([]*ForwardResult, 0, len(input.TargetIDs))
	for _, targetID := range input.TargetIDs {
		result := &ForwardResult{ConversationID: targetID}

		sender, err := s.partRepo.GetActiveByUser(ctx, targetID, input.UserID, input.TenantID)
		if err != nil {
			result.Error = apperrors.GetAppError(err).Message
			results = append(results, result)
			continue
		}

		msg := s.buildMessage(targetID, sender, content, source.Type)
		attachments := cloneAttachments(source.Attachments, msg)
		if err := s.messageRepo.SaveWithAttachments(msg, attachments); err != nil {
			result.Error = apperrors.GetAppError(err).Message
			results = append(results, result)
			continue
		}
		msg.Attachments = attachments

		s.afterAppend(ctx, msg)
		if s.metrics != nil {
			s.metrics.MessagesForwarded.Inc()
		}

		id := msg.MessageID
		result.MessageID = &id
		results = append(results, result)
	}

	return &ForwardMessageOutput{Results: results}, nil
}

// cloneAttachments copies attachment metadata onto a forwarded message. The
// stored objects are shared; only the references are duplicated.
func cloneAttachments(source []*domain.Attachment, msg *domain.Message) []*domain.Attachment {
	if len(source) == 0 {
		return nil
	}
	attachments := make([]*domain.Attachment, len(source))
	for i, a := range source {
		clone := *a
		clone.AttachmentID = uuid.New()
		clone.MessageID = msg.MessageID
		clone.ConversationID = msg.ConversationID
		attachments[i] = &clone
	}
	return attachments
}

package receipt

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"workchat-backend/internal/domain"
	redisrepo "workchat-backend/internal/repository/redis"
	"workchat-backend/pkg/cache"
	"workchat-backend/pkg/logger"
	"workchat-backend/pkg/metrics"
)

const settingsCacheTTL = 30 * time.Second

// MessageRepository is the receipt surface of the message log
type MessageRepository interface {
	GetByID(conversationID, messageID uuid.UUID) (*domain.Message, error)
	ListBefore(conversationID uuid.UUID, anchor time.Time, inclusive bool, limit int, minBucket int) ([]*domain.Message, error)
	AddDelivered(conversationID, messageID, participantID uuid.UUID) error
	AddRead(conversationID, messageID, participantID uuid.UUID) error
}

// ConversationRepository resolves conversation metadata
type ConversationRepository interface {
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
}

// ParticipantRepository resolves membership and read pointers
type ParticipantRepository interface {
	GetActiveByUser(ctx context.Context, conversationID, userID, tenantID uuid.UUID) (*domain.Participant, error)
	ListActive(ctx context.Context, conversationID uuid.UUID) ([]*domain.Participant, error)
	SetReadPointer(ctx context.Context, participantID uuid.UUID, readAt time.Time, lastReadMessageID *uuid.UUID) error
}

// SettingsRepository stores the read-receipt sharing preference
type SettingsRepository interface {
	GetReadReceipts(ctx context.Context, userID, tenantID uuid.UUID) (bool, error)
}

// Publisher fans receipt events out to live subscribers
type Publisher interface {
	Publish(ctx context.Context, event *redisrepo.Event) error
}

// Service tracks two-level read state: a coarse per-participant read pointer
// for list rendering and fine-grained per-message receipt sets.
type Service struct {
	messageRepo   MessageRepository
	convRepo      ConversationRepository
	partRepo      ParticipantRepository
	settingsRepo  SettingsRepository
	publisher     Publisher
	settingsCache *cache.MemoryCache
	metrics       *metrics.Metrics
}

// NewService creates a new receipt service
func NewService(
	messageRepo MessageRepository,
	convRepo ConversationRepository,
	partRepo ParticipantRepository,
	settingsRepo SettingsRepository,
	publisher Publisher,
	m *metrics.Metrics,
) *Service {
	return &Service{
		messageRepo:   messageRepo,
		convRepo:      convRepo,
		partRepo:      partRepo,
		settingsRepo:  settingsRepo,
		publisher:     publisher,
		settingsCache: cache.NewMemoryCache(settingsCacheTTL, 10000),
		metrics:       m,
	}
}

// MarkDeliveredInput acknowledges delivery of messages. An empty MessageIDs
// slice means every message in the conversation.
type MarkDeliveredInput struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	TenantID       uuid.UUID
	MessageIDs     []uuid.UUID
}

// MarkDelivered appends the requester to the delivered set of each given
// message, or of every non-own message in the conversation when no IDs are
// given. Set-union semantics make replays harmless, and the sender's own
// messages are skipped rather than rejected. Returns the number of messages
// newly marked.
func (s *Service) MarkDelivered(ctx context.Context, input *MarkDeliveredInput) (int, error) {
	self, err := s.partRepo.GetActiveByUser(ctx, input.ConversationID, input.UserID, input.TenantID)
	if err != nil {
		return 0, err
	}

	if len(input.MessageIDs) == 0 {
		return s.markAllDelivered(ctx, input.ConversationID, self)
	}

	marked := 0
	for _, messageID := range input.MessageIDs {
		msg, err := s.messageRepo.GetByID(input.ConversationID, messageID)
		if err != nil {
			return marked, err
		}
		added, err := s.markDelivered(ctx, input.ConversationID, msg, self)
		if err != nil {
			return marked, err
		}
		if added {
			marked++
		}
	}

	return marked, nil
}

// markDelivered appends self to one message's delivered set, skipping own
// and already-delivered messages. Reports whether an append happened.
func (s *Service) markDelivered(ctx context.Context, conversationID uuid.UUID, msg *domain.Message, self *domain.Participant) (bool, error) {
	if msg.SenderParticipantID == self.ParticipantID {
		return false, nil
	}
	if msg.DeliveredToContains(self.ParticipantID) {
		return false, nil
	}
	if err := s.messageRepo.AddDelivered(conversationID, msg.MessageID, self.ParticipantID); err != nil {
		return false, err
	}
	if s.metrics != nil {
		s.metrics.ReceiptsMarked.WithLabelValues("delivered").Inc()
	}
	s.publishReceipt(ctx, conversationID, msg.MessageID)
	return true, nil
}

// markAllDelivered walks the full log backwards from now. Unlike the read
// walk there is no monotone pointer to stop at, so every page is visited.
func (s *Service) markAllDelivered(ctx context.Context, conversationID uuid.UUID, self *domain.Participant) (int, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	minBucket := domain.CalculateBucket(conv.CreatedAt)

	const pageSize = 100
	cursor := time.Now().UTC()
	inclusive := true
	marked := 0
	for {
		messages, err := s.messageRepo.ListBefore(conversationID, cursor, inclusive, pageSize, minBucket)
		if err != nil {
			return marked, err
		}
		for _, msg := range messages {
			added, err := s.markDelivered(ctx, conversationID, msg, self)
			if err != nil {
				return marked, err
			}
			if added {
				marked++
			}
		}
		if len(messages) < pageSize {
			return marked, nil
		}
		cursor = messages[len(messages)-1].CreatedAt
		inclusive = false
	}
}

// MarkReadInput advances the requester's read state up to one message
type MarkReadInput struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	TenantID       uuid.UUID
	MessageID      uuid.UUID
}

// MarkRead advances the coarse read pointer and, unless the requester has
// read-receipt sharing off, appends them to read_by on every message up to
// and including the given one. Reading implies delivery, so both sets are
// appended together. The pointer always moves regardless of the privacy
// setting; only the per-message visibility to others is suppressed.
func (s *Service) MarkRead(ctx context.Context, input *MarkReadInput) error {
	self, err := s.partRepo.GetActiveByUser(ctx, input.ConversationID, input.UserID, input.TenantID)
	if err != nil {
		return err
	}

	anchor, err := s.messageRepo.GetByID(input.ConversationID, input.MessageID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	anchorID := anchor.MessageID
	if err := s.partRepo.SetReadPointer(ctx, self.ParticipantID, now, &anchorID); err != nil {
		return err
	}

	if !s.readReceiptsEnabled(ctx, input.UserID, input.TenantID) {
		return nil
	}

	conv, err := s.convRepo.GetByID(ctx, input.ConversationID)
	if err != nil {
		return err
	}
	minBucket := domain.CalculateBucket(conv.CreatedAt)

	// Walk history back from the anchor; stop at the first message already
	// read since read_by membership never shrinks.
	const pageSize = 100
	cursor := anchor.CreatedAt
	inclusive := true
	for {
		messages, err := s.messageRepo.ListBefore(input.ConversationID, cursor, inclusive, pageSize, minBucket)
		if err != nil {
			return err
		}
		if len(messages) == 0 {
			return nil
		}

		for _, msg := range messages {
			if msg.SenderParticipantID == self.ParticipantID {
				continue
			}
			if msg.ReadByContains(self.ParticipantID) {
				return nil
			}
			if !msg.DeliveredToContains(self.ParticipantID) {
				if err := s.messageRepo.AddDelivered(input.ConversationID, msg.MessageID, self.ParticipantID); err != nil {
					return err
				}
			}
			if err := s.messageRepo.AddRead(input.ConversationID, msg.MessageID, self.ParticipantID); err != nil {
				return err
			}
			if s.metrics != nil {
				s.metrics.ReceiptsMarked.WithLabelValues("read").Inc()
			}
			s.publishReceipt(ctx, input.ConversationID, msg.MessageID)
		}

		if len(messages) < pageSize {
			return nil
		}
		cursor = messages[len(messages)-1].CreatedAt
		inclusive = false
	}
}

// readReceiptsEnabled resolves the privacy flag, memoized briefly so bulk
// reads do not hammer the settings store. Sharing defaults to on.
func (s *Service) readReceiptsEnabled(ctx context.Context, userID, tenantID uuid.UUID) bool {
	key := fmt.Sprintf("%s:%s", tenantID, userID)
	if cached, ok := s.settingsCache.Get(key); ok {
		return cached.(bool)
	}

	enabled, err := s.settingsRepo.GetReadReceipts(ctx, userID, tenantID)
	if err != nil {
		logger.Warn("failed to resolve read-receipt setting, defaulting to enabled",
			zap.Error(err),
		)
		return true
	}

	s.settingsCache.Set(key, enabled, settingsCacheTTL)
	return enabled
}

// GetReceiptsInput identifies the message whose receipts are requested
type GetReceiptsInput struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	TenantID       uuid.UUID
	MessageID      uuid.UUID
}

// ReceiptEntry is one recipient resolved to current display info
type ReceiptEntry struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	DisplayName   string    `json:"display_name"`
	AvatarURL     *string   `json:"avatar_url,omitempty"`
}

// GetReceiptsOutput summarizes a message's delivery and read state
type GetReceiptsOutput struct {
	MessageID      uuid.UUID       `json:"message_id"`
	DeliveredTo    []*ReceiptEntry `json:"delivered_to"`
	ReadBy         []*ReceiptEntry `json:"read_by"`
	DeliveredCount int             `json:"delivered_count"`
	ReadCount      int             `json:"read_count"`
	Recipients     int             `json:"recipients"`
	AllRead        bool            `json:"all_read"`
}

// GetReceipts reports a message's receipt state with each entry resolved
// against current active-participant display info; departed participants
// drop out of the lists. Recipient totals exclude the sender; a message is
// fully read when every other active participant appears in read_by.
func (s *Service) GetReceipts(ctx context.Context, input *GetReceiptsInput) (*GetReceiptsOutput, error) {
	if _, err := s.partRepo.GetActiveByUser(ctx, input.ConversationID, input.UserID, input.TenantID); err != nil {
		return nil, err
	}

	msg, err := s.messageRepo.GetByID(input.ConversationID, input.MessageID)
	if err != nil {
		return nil, err
	}

	participants, err := s.partRepo.ListActive(ctx, input.ConversationID)
	if err != nil {
		return nil, err
	}

	active := make(map[uuid.UUID]*domain.Participant, len(participants))
	recipients := 0
	allRead := true
	for _, p := range participants {
		active[p.ParticipantID] = p
		if p.ParticipantID == msg.SenderParticipantID {
			continue
		}
		recipients++
		if !msg.ReadByContains(p.ParticipantID) {
			allRead = false
		}
	}
	if recipients == 0 {
		allRead = false
	}

	delivered := resolveEntries(msg.DeliveredTo, active)
	read := resolveEntries(msg.ReadBy, active)

	return &GetReceiptsOutput{
		MessageID:      msg.MessageID,
		DeliveredTo:    delivered,
		ReadBy:         read,
		DeliveredCount: len(delivered),
		ReadCount:      len(read),
		Recipients:     recipients,
		AllRead:        allRead,
	}, nil
}

func resolveEntries(ids []uuid.UUID, active map[uuid.UUID]*domain.Participant) []*ReceiptEntry {
	entries := make([]*ReceiptEntry, 0, len(ids))
	for _, id := range ids {
		p, ok := active[id]
		if !ok {
			continue
		}
		entries = append(entries, &ReceiptEntry{
			ParticipantID: p.ParticipantID,
			DisplayName:   p.DisplayName,
			AvatarURL:     p.AvatarURL,
		})
	}
	return entries
}

func (s *Service) publishReceipt(ctx context.Context, conversationID, messageID uuid.UUID) {
	if s.publisher == nil {
		return
	}
	payload := []byte(fmt.Sprintf(`{"message_id":%q}`, messageID))
	event := &redisrepo.Event{
		Type:           redisrepo.EventReceiptUpdated,
		ConversationID: conversationID,
		Payload:        payload,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.Warn("failed to publish receipt event", zap.Error(err))
	}
}

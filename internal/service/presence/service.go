package presence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"workchat-backend/internal/domain"
	redisrepo "workchat-backend/internal/repository/redis"
	"workchat-backend/pkg/logger"
)

// ParticipantRepository is the persistence surface the service needs
type ParticipantRepository interface {
	GetActiveByUser(ctx context.Context, conversationID, userID, tenantID uuid.UUID) (*domain.Participant, error)
	ListActive(ctx context.Context, conversationID uuid.UUID) ([]*domain.Participant, error)
	TouchLastSeen(ctx context.Context, userID, tenantID uuid.UUID, at time.Time) error
}

// PresenceRepository is the fast-path presence store
type PresenceRepository interface {
	Heartbeat(ctx context.Context, userID, tenantID uuid.UUID) error
	SetOffline(ctx context.Context, userID, tenantID uuid.UUID) error
	IsOnline(ctx context.Context, userID, tenantID uuid.UUID) (bool, error)
}

// Service tracks who is online. Redis TTL keys answer the online question;
// last_seen_at stamps on participant rows survive Redis restarts and cover
// the "last seen 5 minutes ago" rendering.
type Service struct {
	partRepo     ParticipantRepository
	presenceRepo PresenceRepository
}

// NewService creates a new presence service
func NewService(partRepo ParticipantRepository, presenceRepo PresenceRepository) *Service {
	return &Service{partRepo: partRepo, presenceRepo: presenceRepo}
}

// Heartbeat marks the identity online and fans last_seen_at out to all of
// the user's active participant rows. The relational stamp is best-effort;
// losing it only stales the "last seen" label, never the online answer.
func (s *Service) Heartbeat(ctx context.Context, userID, tenantID uuid.UUID) error {
	if err := s.presenceRepo.Heartbeat(ctx, userID, tenantID); err != nil {
		return err
	}

	if err := s.partRepo.TouchLastSeen(ctx, userID, tenantID, time.Now().UTC()); err != nil {
		logger.Warn("failed to fan out last_seen_at",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
	}
	return nil
}

// SetOffline drops the identity's presence immediately on explicit sign-out
func (s *Service) SetOffline(ctx context.Context, userID, tenantID uuid.UUID) error {
	return s.presenceRepo.SetOffline(ctx, userID, tenantID)
}

// ParticipantPresence is one member's presence as seen in a conversation
type ParticipantPresence struct {
	ParticipantID uuid.UUID  `json:"participant_id"`
	DisplayName   string     `json:"display_name"`
	Online        bool       `json:"online"`
	LastSeenAt    *time.Time `json:"last_seen_at,omitempty"`
}

// GetConversationPresenceInput identifies the requested conversation
type GetConversationPresenceInput struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	TenantID       uuid.UUID
}

// GetConversationPresenceOutput lists member presence
type GetConversationPresenceOutput struct {
	Participants []*ParticipantPresence
}

// GetConversationPresence reports online state for every active member.
// Workspace users are online while their heartbeat key lives; guests have no
// heartbeat and fall back to the recent-activity window on last_seen_at.
func (s *Service) GetConversationPresence(ctx context.Context, input *GetConversationPresenceInput) (*GetConversationPresenceOutput, error) {
	if _, err := s.partRepo.GetActiveByUser(ctx, input.ConversationID, input.UserID, input.TenantID); err != nil {
		return nil, err
	}

	participants, err := s.partRepo.ListActive(ctx, input.ConversationID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]*ParticipantPresence, 0, len(participants))
	for _, p := range participants {
		pp := &ParticipantPresence{
			ParticipantID: p.ParticipantID,
			DisplayName:   p.DisplayName,
			LastSeenAt:    p.LastSeenAt,
		}

		if p.UserID != nil && p.TenantID != nil {
			online, err := s.presenceRepo.IsOnline(ctx, *p.UserID, *p.TenantID)
			if err != nil {
				logger.Warn("presence lookup failed, falling back to last_seen_at", zap.Error(err))
				pp.Online = recentlySeen(p.LastSeenAt, now)
			} else {
				pp.Online = online
			}
		} else {
			pp.Online = recentlySeen(p.LastSeenAt, now)
		}

		out = append(out, pp)
	}

	return &GetConversationPresenceOutput{Participants: out}, nil
}

func recentlySeen(lastSeen *time.Time, now time.Time) bool {
	return lastSeen != nil && now.Sub(lastSeen.UTC()) <= redisrepo.OnlineWindow
}

package invitation

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"workchat-backend/internal/domain"
	"workchat-backend/internal/service/notification"
	apperrors "workchat-backend/pkg/errors"
	"workchat-backend/pkg/logger"
)

// DefaultTTL is how long an invitation stays usable
const DefaultTTL = 7 * 24 * time.Hour

// InvitationRepository is the invitation persistence surface
type InvitationRepository interface {
	Create(ctx context.Context, inv *domain.ChatInvitation) error
	GetByToken(ctx context.Context, token string) (*domain.ChatInvitation, error)
	FlipStatus(ctx context.Context, token string, to domain.InvitationStatus) (bool, error)
	ListForConversation(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*domain.ChatInvitation, error)
}

// ConversationRepository resolves and upgrades conversations
type ConversationRepository interface {
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	UpdateScope(ctx context.Context, conversationID uuid.UUID, scope domain.ConversationScope) error
}

// ParticipantRepository manages membership rows
type ParticipantRepository interface {
	Add(ctx context.Context, p *domain.Participant) error
	GetByID(ctx context.Context, participantID uuid.UUID) (*domain.Participant, error)
	GetActiveByUser(ctx context.Context, conversationID, userID, tenantID uuid.UUID) (*domain.Participant, error)
	GetActiveByContact(ctx context.Context, conversationID, contactID uuid.UUID) (*domain.Participant, error)
}

// ContactStore finds and links external contacts
type ContactStore interface {
	Create(ctx context.Context, contact *domain.ExternalContact) error
	GetByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*domain.ExternalContact, error)
	LinkIdentity(ctx context.Context, contactID, userID, tenantID uuid.UUID) error
}

// SystemAppender records system messages in the conversation log
type SystemAppender interface {
	AppendSystem(ctx context.Context, conversationID uuid.UUID, text string) error
}

// Service manages token-based invitations that bring outside identities into
// a conversation. Tokens are single-use; expiry is enforced lazily at lookup.
type Service struct {
	invRepo     InvitationRepository
	convRepo    ConversationRepository
	partRepo    ParticipantRepository
	contacts    ContactStore
	notifier    notification.Notifier
	messages    SystemAppender
	acceptURLFn func(token string) string
}

// NewService creates a new invitation service. acceptURLFn renders the public
// link embedded in notification emails.
func NewService(
	invRepo InvitationRepository,
	convRepo ConversationRepository,
	partRepo ParticipantRepository,
	contacts ContactStore,
	notifier notification.Notifier,
	messages SystemAppender,
	acceptURLFn func(token string) string,
) *Service {
	return &Service{
		invRepo:     invRepo,
		convRepo:    convRepo,
		partRepo:    partRepo,
		contacts:    contacts,
		notifier:    notifier,
		messages:    messages,
		acceptURLFn: acceptURLFn,
	}
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate invitation token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CreateInput describes a new invitation
type CreateInput struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	TenantID       uuid.UUID
	InviteeEmail   string
	Message        *string
	TTL            time.Duration
}

// CreateOutput carries the pending invitation
type CreateOutput struct {
	Invitation *domain.ChatInvitation
}

// Create issues a pending invitation and emails the invitee. The email is
// fire-and-forget: a dead SMTP relay never loses the invitation itself,
// since the token can still be shared out of band.
func (s *Service) Create(ctx context.Context, input *CreateInput) (*CreateOutput, error) {
	email := strings.ToLower(strings.TrimSpace(input.InviteeEmail))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperrors.ValidationError("a valid invitee email is required")
	}

	inviter, err := s.partRepo.GetActiveByUser(ctx, input.ConversationID, input.UserID, input.TenantID)
	if err != nil {
		return nil, err
	}

	conv, err := s.convRepo.GetByID(ctx, input.ConversationID)
	if err != nil {
		return nil, err
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now().UTC()
	inv := &domain.ChatInvitation{
		InvitationID:         uuid.New(),
		ConversationID:       input.ConversationID,
		InviterParticipantID: inviter.ParticipantID,
		InviterTenantID:      inviter.TenantID,
		InviteeEmail:         email,
		Message:              input.Message,
		Token:                token,
		Status:               domain.InvitationPending,
		ExpiresAt:            now.Add(ttl),
		CreatedAt:            now,
	}

	if err := s.invRepo.Create(ctx, inv); err != nil {
		return nil, err
	}

	s.notify(inv, inviter, conv)

	return &CreateOutput{Invitation: inv}, nil
}

func (s *Service) notify(inv *domain.ChatInvitation, inviter *domain.Participant, conv *domain.Conversation) {
	if s.notifier == nil {
		return
	}

	payload := &notification.Invitation{
		RecipientEmail: inv.InviteeEmail,
		InviterName:    inviter.DisplayName,
	}
	if conv.Name != nil {
		payload.ConversationName = *conv.Name
	}
	if inv.Message != nil {
		payload.Message = *inv.Message
	}
	if s.acceptURLFn != nil {
		payload.AcceptURL = s.acceptURLFn(inv.Token)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.notifier.SendInvitation(ctx, payload); err != nil {
			logger.Warn("failed to send invitation email",
				zap.String("invitation_id", inv.InvitationID.String()),
				zap.Error(err),
			)
		}
	}()
}

// Preview returns an invitation's public-facing state by token, flipping it
// to expired lazily when its deadline has passed.
func (s *Service) Preview(ctx context.Context, token string) (*domain.ChatInvitation, error) {
	inv, err := s.invRepo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.applyLazyExpiry(ctx, inv)
}

func (s *Service) applyLazyExpiry(ctx context.Context, inv *domain.ChatInvitation) (*domain.ChatInvitation, error) {
	if inv.Status != domain.InvitationPending || !inv.Expired(time.Now().UTC()) {
		return inv, nil
	}
	if _, err := s.invRepo.FlipStatus(ctx, inv.Token, domain.InvitationExpired); err != nil {
		return nil, err
	}
	inv.Status = domain.InvitationExpired
	return inv, nil
}

// Acceptor identifies who is accepting an invitation. Workspace users carry
// their identity; anyone else joins as a guest contact owned by the
// inviter's tenant.
type Acceptor struct {
	UserID      *uuid.UUID
	TenantID    *uuid.UUID
	DisplayName string
	AvatarURL   *string
	Company     *string
}

// AcceptInput redeems an invitation token
type AcceptInput struct {
	Token    string
	Acceptor Acceptor
}

// AcceptOutput reports the joined conversation and the new participant row
type AcceptOutput struct {
	Conversation *domain.Conversation
	Participant  *domain.Participant
}

// Accept redeems a pending invitation. The pending-only status flip is the
// race closure: of two concurrent redeems exactly one wins, the other gets a
// conflict. Workspace acceptors join as internal or external-user members
// depending on tenant; everyone else joins as a guest, and the conversation
// scope widens accordingly.
func (s *Service) Accept(ctx context.Context, input *AcceptInput) (*AcceptOutput, error) {
	inv, err := s.invRepo.GetByToken(ctx, input.Token)
	if err != nil {
		return nil, err
	}

	inv, err = s.applyLazyExpiry(ctx, inv)
	if err != nil {
		return nil, err
	}
	switch inv.Status {
	case domain.InvitationPending:
	case domain.InvitationExpired:
		return nil, apperrors.InvalidStateError("invitation has expired")
	default:
		return nil, apperrors.ConflictError("invitation has already been used")
	}

	conv, err := s.convRepo.GetByID(ctx, inv.ConversationID)
	if err != nil {
		return nil, err
	}

	flipped, err := s.invRepo.FlipStatus(ctx, input.Token, domain.InvitationAccepted)
	if err != nil {
		return nil, err
	}
	if !flipped {
		return nil, apperrors.ConflictError("invitation has already been used")
	}
	inv.Status = domain.InvitationAccepted

	participant, err := s.join(ctx, inv, conv, &input.Acceptor)
	if err != nil {
		return nil, err
	}

	if s.messages != nil {
		text := fmt.Sprintf("%s joined via invitation", participant.DisplayName)
		if err := s.messages.AppendSystem(ctx, conv.ConversationID, text); err != nil {
			logger.Warn("failed to append system message", zap.Error(err))
		}
	}

	return &AcceptOutput{Conversation: conv, Participant: participant}, nil
}

// join materializes the acceptor as a participant and widens the
// conversation scope if the newcomer falls outside it.
func (s *Service) join(ctx context.Context, inv *domain.ChatInvitation, conv *domain.Conversation, acceptor *Acceptor) (*domain.Participant, error) {
	now := time.Now().UTC()

	if acceptor.UserID != nil && acceptor.TenantID != nil {
		// Workspace user. Already a member means accept is a no-op join.
		if existing, err := s.partRepo.GetActiveByUser(ctx, conv.ConversationID, *acceptor.UserID, *acceptor.TenantID); err == nil {
			return existing, nil
		} else if !apperrors.IsCode(err, apperrors.ErrCodeNotFound) {
			return nil, err
		}

		// Same tenant as the inviter means internal, even when the
		// conversation itself has no owning tenant.
		pType := domain.ParticipantExternalUser
		if inv.InviterTenantID != nil && *inv.InviterTenantID == *acceptor.TenantID {
			pType = domain.ParticipantInternal
		}

		p := &domain.Participant{
			ParticipantID:  uuid.New(),
			ConversationID: conv.ConversationID,
			Type:           pType,
			UserID:         acceptor.UserID,
			TenantID:       acceptor.TenantID,
			DisplayName:    displayNameOr(acceptor.DisplayName, inv.InviteeEmail),
			Email:          inv.InviteeEmail,
			AvatarURL:      acceptor.AvatarURL,
			Company:        acceptor.Company,
			Role:           domain.RoleMember,
			JoinedAt:       now,
		}
		if err := s.partRepo.Add(ctx, p); err != nil {
			return nil, err
		}

		if pType == domain.ParticipantExternalUser {
			s.widenScope(ctx, conv, domain.ScopeCrossTenant)
		}
		s.linkContact(ctx, inv, *acceptor.UserID, *acceptor.TenantID)

		return p, nil
	}

	// Guest path: find or create a contact owned by the inviter's tenant.
	if inv.InviterTenantID == nil {
		return nil, apperrors.InvalidStateError("guest accept requires a tenant-owned invitation")
	}
	tenantID := *inv.InviterTenantID

	contact, err := s.contacts.GetByEmail(ctx, tenantID, inv.InviteeEmail)
	if apperrors.IsCode(err, apperrors.ErrCodeNotFound) {
		contact = &domain.ExternalContact{
			ContactID: uuid.New(),
			TenantID:  tenantID,
			Email:     inv.InviteeEmail,
			Name:      displayNameOr(acceptor.DisplayName, inv.InviteeEmail),
			Company:   acceptor.Company,
			AvatarURL: acceptor.AvatarURL,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.contacts.Create(ctx, contact); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if existing, err := s.partRepo.GetActiveByContact(ctx, conv.ConversationID, contact.ContactID); err == nil {
		return existing, nil
	} else if !apperrors.IsCode(err, apperrors.ErrCodeNotFound) {
		return nil, err
	}

	contactID := contact.ContactID
	p := &domain.Participant{
		ParticipantID:  uuid.New(),
		ConversationID: conv.ConversationID,
		Type:           domain.ParticipantGuest,
		ContactID:      &contactID,
		DisplayName:    contact.Name,
		Email:          contact.Email,
		AvatarURL:      contact.AvatarURL,
		Company:        contact.Company,
		Role:           domain.RoleMember,
		JoinedAt:       now,
	}
	if err := s.partRepo.Add(ctx, p); err != nil {
		return nil, err
	}

	if conv.Scope == domain.ScopeInternal {
		s.widenScope(ctx, conv, domain.ScopeExternal)
	}

	return p, nil
}

func (s *Service) widenScope(ctx context.Context, conv *domain.Conversation, to domain.ConversationScope) {
	if conv.Scope == to || conv.Scope == domain.ScopeCrossTenant {
		return
	}
	if err := s.convRepo.UpdateScope(ctx, conv.ConversationID, to); err != nil {
		logger.Warn("failed to widen conversation scope",
			zap.String("conversation_id", conv.ConversationID.String()),
			zap.Error(err),
		)
		return
	}
	conv.Scope = to
}

// linkContact ties an existing contact record for the invitee email to the
// workspace identity that accepted. Absence of a contact is not an error.
func (s *Service) linkContact(ctx context.Context, inv *domain.ChatInvitation, userID, tenantID uuid.UUID) {
	if inv.InviterTenantID == nil {
		return
	}
	contact, err := s.contacts.GetByEmail(ctx, *inv.InviterTenantID, inv.InviteeEmail)
	if err != nil {
		return
	}
	if err := s.contacts.LinkIdentity(ctx, contact.ContactID, userID, tenantID); err != nil {
		logger.Warn("failed to link contact to workspace identity", zap.Error(err))
	}
}

func displayNameOr(name, email string) string {
	if strings.TrimSpace(name) != "" {
		return strings.TrimSpace(name)
	}
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}

// Decline marks a pending invitation declined. First flip wins; a token
// already redeemed or declined reports a conflict.
func (s *Service) Decline(ctx context.Context, token string) error {
	inv, err := s.invRepo.GetByToken(ctx, token)
	if err != nil {
		return err
	}

	inv, err = s.applyLazyExpiry(ctx, inv)
	if err != nil {
		return err
	}
	if inv.Status == domain.InvitationExpired {
		return apperrors.InvalidStateError("invitation has expired")
	}

	flipped, err := s.invRepo.FlipStatus(ctx, token, domain.InvitationDeclined)
	if err != nil {
		return err
	}
	if !flipped {
		return apperrors.ConflictError("invitation has already been used")
	}
	return nil
}

// ListInput pages a conversation's invitations for an active member
type ListInput struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	TenantID       uuid.UUID
	Limit          int
	Offset         int
}

// List returns a conversation's invitations, newest first
func (s *Service) List(ctx context.Context, input *ListInput) ([]*domain.ChatInvitation, error) {
	if _, err := s.partRepo.GetActiveByUser(ctx, input.ConversationID, input.UserID, input.TenantID); err != nil {
		return nil, err
	}
	if input.Limit <= 0 || input.Limit > 100 {
		input.Limit = 50
	}
	return s.invRepo.ListForConversation(ctx, input.ConversationID, input.Limit, input.Offset)
}

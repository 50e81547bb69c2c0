package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"workchat-backend/internal/domain"
	"workchat-backend/internal/repository/cockroach"
	apperrors "workchat-backend/pkg/errors"
	"workchat-backend/pkg/logger"
)

// ConversationRepository is the persistence surface the service needs
type ConversationRepository interface {
	CreateDirect(ctx context.Context, conv *domain.Conversation, participants []*domain.Participant) (*domain.Conversation, bool, error)
	CreateGroup(ctx context.Context, conv *domain.Conversation, participants []*domain.Participant) error
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	ListForUser(ctx context.Context, userID, tenantID uuid.UUID, filter *cockroach.ListFilter) ([]*domain.Conversation, error)
}

// ParticipantRepository is the participant persistence surface
type ParticipantRepository interface {
	Add(ctx context.Context, p *domain.Participant) error
	GetByID(ctx context.Context, participantID uuid.UUID) (*domain.Participant, error)
	GetActiveByUser(ctx context.Context, conversationID, userID, tenantID uuid.UUID) (*domain.Participant, error)
	GetActiveByContact(ctx context.Context, conversationID, contactID uuid.UUID) (*domain.Participant, error)
	ListActive(ctx context.Context, conversationID uuid.UUID) ([]*domain.Participant, error)
	MarkLeft(ctx context.Context, participantID uuid.UUID, at time.Time) error
	SetFlag(ctx context.Context, participantID uuid.UUID, flag cockroach.ParticipantFlag, value bool) error
}

// MessageAppender records system messages in the conversation log. Implemented
// by the chat service; wired at startup to avoid a service cycle.
type MessageAppender interface {
	AppendSystem(ctx context.Context, conversationID uuid.UUID, text string) error
}

// Service handles conversation lifecycle and membership
type Service struct {
	convRepo ConversationRepository
	partRepo ParticipantRepository
	messages MessageAppender
}

// NewService creates a new conversation service
func NewService(convRepo ConversationRepository, partRepo ParticipantRepository) *Service {
	return &Service{convRepo: convRepo, partRepo: partRepo}
}

// SetMessageAppender wires the system-message sink after both services exist
func (s *Service) SetMessageAppender(messages MessageAppender) {
	s.messages = messages
}

// deriveScope classifies a conversation by its participant composition.
// All workspace users from one tenant is internal; any guest makes it
// external; workspace users from different tenants make it cross-tenant.
// The owning tenant is the single workspace tenant, nil for cross-tenant.
func deriveScope(descriptors []*domain.ParticipantDescriptor) (domain.ConversationScope, *uuid.UUID) {
	var tenantID *uuid.UUID
	multiTenant := false
	hasGuest := false

	for _, d := range descriptors {
		if d.Kind == domain.DescriptorGuest {
			hasGuest = true
			continue
		}
		if tenantID == nil {
			t := d.TenantID
			tenantID = &t
		} else if *tenantID != d.TenantID {
			multiTenant = true
		}
	}

	switch {
	case multiTenant:
		return domain.ScopeCrossTenant, nil
	case hasGuest:
		return domain.ScopeExternal, tenantID
	default:
		return domain.ScopeInternal, tenantID
	}
}

func buildParticipant(conversationID uuid.UUID, d *domain.ParticipantDescriptor, role domain.ParticipantRole, now time.Time) *domain.Participant {
	p := &domain.Participant{
		ParticipantID:  uuid.New(),
		ConversationID: conversationID,
		Type:           d.ParticipantType(),
		DisplayName:    d.DisplayName,
		Email:          d.Email,
		AvatarURL:      d.AvatarURL,
		Company:        d.Company,
		Role:           role,
		JoinedAt:       now,
	}
	if d.Kind == domain.DescriptorGuest {
		contactID := d.ContactID
		p.ContactID = &contactID
	} else {
		userID, tenantID := d.UserID, d.TenantID
		p.UserID = &userID
		p.TenantID = &tenantID
	}
	return p
}

func validateDescriptor(d *domain.ParticipantDescriptor) error {
	switch d.Kind {
	case domain.DescriptorGuest:
		if d.ContactID == uuid.Nil {
			return apperrors.ValidationError("guest descriptor requires contact_id")
		}
	case domain.DescriptorInternal, domain.DescriptorExternalUser:
		if d.UserID == uuid.Nil || d.TenantID == uuid.Nil {
			return apperrors.ValidationError("user descriptor requires user_id and tenant_id")
		}
	default:
		return apperrors.ValidationError(fmt.Sprintf("unknown participant kind: %s", d.Kind))
	}
	if d.DisplayName == "" {
		return apperrors.ValidationError("display_name is required")
	}
	return nil
}

// GetOrCreateDirectInput identifies the two endpoints of a direct chat
type GetOrCreateDirectInput struct {
	Requester *domain.ParticipantDescriptor
	Other     *domain.ParticipantDescriptor
}

// GetOrCreateDirectOutput reports the resolved conversation
type GetOrCreateDirectOutput struct {
	Conversation *domain.Conversation
	Created      bool
}

// GetOrCreateDirect resolves the direct conversation between two identities,
// creating it on first use. Resolution is order-insensitive and idempotent:
// the canonical pair key collapses concurrent creates onto one row.
func (s *Service) GetOrCreateDirect(ctx context.Context, input *GetOrCreateDirectInput) (*GetOrCreateDirectOutput, error) {
	if err := validateDescriptor(input.Requester); err != nil {
		return nil, err
	}
	if err := validateDescriptor(input.Other); err != nil {
		return nil, err
	}
	if input.Requester.IdentityKey() == input.Other.IdentityKey() {
		return nil, apperrors.ValidationError("cannot open a direct conversation with yourself")
	}

	descriptors := []*domain.ParticipantDescriptor{input.Requester, input.Other}
	scope, tenantID := deriveScope(descriptors)
	pairKey := domain.DirectPairKey(input.Requester.IdentityKey(), input.Other.IdentityKey())

	now := time.Now().UTC()
	conv := &domain.Conversation{
		ConversationID: uuid.New(),
		Type:           domain.ConversationDirect,
		Scope:          scope,
		TenantID:       tenantID,
		PairKey:        &pairKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	participants := make([]*domain.Participant, len(descriptors))
	for i, d := range descriptors {
		participants[i] = buildParticipant(conv.ConversationID, d, domain.RoleMember, now)
	}

	resolved, created, err := s.convRepo.CreateDirect(ctx, conv, participants)
	if err != nil {
		return nil, err
	}
	if created {
		logger.Info("direct conversation created",
			zap.String("conversation_id", resolved.ConversationID.String()),
			zap.String("scope", string(scope)),
		)
	}

	return &GetOrCreateDirectOutput{Conversation: resolved, Created: created}, nil
}

// CreateGroupInput describes a new group conversation
type CreateGroupInput struct {
	Creator     *domain.ParticipantDescriptor
	Name        string
	Description *string
	AvatarURL   *string
	Members     []*domain.ParticipantDescriptor
}

// CreateGroupOutput reports the created conversation
type CreateGroupOutput struct {
	Conversation *domain.Conversation
	Participants []*domain.Participant
}

// CreateGroup creates a group conversation with the creator as owner and
// records a system message announcing it.
func (s *Service) CreateGroup(ctx context.Context, input *CreateGroupInput) (*CreateGroupOutput, error) {
	if input.Name == "" {
		return nil, apperrors.ValidationError("group name is required")
	}
	if err := validateDescriptor(input.Creator); err != nil {
		return nil, err
	}
	seen := map[string]bool{input.Creator.IdentityKey(): true}
	for _, m := range input.Members {
		if err := validateDescriptor(m); err != nil {
			return nil, err
		}
		if seen[m.IdentityKey()] {
			return nil, apperrors.ValidationError("duplicate participant: " + m.Email)
		}
		seen[m.IdentityKey()] = true
	}

	all := append([]*domain.ParticipantDescriptor{input.Creator}, input.Members...)
	scope, tenantID := deriveScope(all)

	now := time.Now().UTC()
	conv := &domain.Conversation{
		ConversationID: uuid.New(),
		Type:           domain.ConversationGroup,
		Scope:          scope,
		TenantID:       tenantID,
		Name:           &input.Name,
		Description:    input.Description,
		AvatarURL:      input.AvatarURL,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	participants := make([]*domain.Participant, len(all))
	for i, d := range all {
		role := domain.RoleMember
		if i == 0 {
			role = domain.RoleOwner
		}
		participants[i] = buildParticipant(conv.ConversationID, d, role, now)
	}

	if err := s.convRepo.CreateGroup(ctx, conv, participants); err != nil {
		return nil, err
	}

	s.appendSystem(ctx, conv.ConversationID, fmt.Sprintf("%s created the group \"%s\"", input.Creator.DisplayName, input.Name))

	return &CreateGroupOutput{Conversation: conv, Participants: participants}, nil
}

// GetInput identifies a conversation fetch by a requesting user
type GetInput struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	TenantID       uuid.UUID
}

// GetOutput carries the conversation with its active membership and the
// requester's own participant row.
type GetOutput struct {
	Conversation *domain.Conversation
	Participants []*domain.Participant
	Self         *domain.Participant
}

// Get retrieves one conversation for an active member. Requesters without an
// active participant row get NotFound, indistinguishable from a conversation
// that does not exist.
func (s *Service) Get(ctx context.Context, input *GetInput) (*GetOutput, error) {
	self, err := s.partRepo.GetActiveByUser(ctx, input.ConversationID, input.UserID, input.TenantID)
	if err != nil {
		return nil, err
	}

	conv, err := s.convRepo.GetByID(ctx, input.ConversationID)
	if err != nil {
		return nil, err
	}

	participants, err := s.partRepo.ListActive(ctx, input.ConversationID)
	if err != nil {
		return nil, err
	}

	return &GetOutput{Conversation: conv, Participants: participants, Self: self}, nil
}

// ListInput filters a user's conversation listing
type ListInput struct {
	UserID     uuid.UUID
	TenantID   uuid.UUID
	Scope      *domain.ConversationScope
	Type       *domain.ConversationType
	UnreadOnly bool
	Archived   *bool
	Limit      int
	Offset     int
}

// ListOutput carries one page of conversations
type ListOutput struct {
	Conversations []*domain.Conversation
}

// List returns the user's conversations, most recent activity first.
// Conversations the user has left never appear.
func (s *Service) List(ctx context.Context, input *ListInput) (*ListOutput, error) {
	if input.Limit <= 0 || input.Limit > 100 {
		input.Limit = 50
	}

	filter := &cockroach.ListFilter{
		Scope:      input.Scope,
		Type:       input.Type,
		UnreadOnly: input.UnreadOnly,
		Archived:   input.Archived,
		Limit:      input.Limit,
		Offset:     input.Offset,
	}

	conversations, err := s.convRepo.ListForUser(ctx, input.UserID, input.TenantID, filter)
	if err != nil {
		return nil, err
	}

	return &ListOutput{Conversations: conversations}, nil
}

// AddMembersInput adds identities to a group conversation
type AddMembersInput struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	TenantID       uuid.UUID
	Members        []*domain.ParticipantDescriptor
}

// AddMembersOutput reports the participants actually added
type AddMembersOutput struct {
	Added []*domain.Participant
}

// AddMembers adds new members to a group. Identities already holding an
// active row are skipped, so retries are harmless.
func (s *Service) AddMembers(ctx context.Context, input *AddMembersInput) (*AddMembersOutput, error) {
	self, err := s.partRepo.GetActiveByUser(ctx, input.ConversationID, input.UserID, input.TenantID)
	if err != nil {
		return nil, err
	}

	conv, err := s.convRepo.GetByID(ctx, input.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.Type != domain.ConversationGroup {
		return nil, apperrors.InvalidStateError("members can only be added to group conversations")
	}

	now := time.Now().UTC()
	var added []*domain.Participant
	for _, d := range input.Members {
		if err := validateDescriptor(d); err != nil {
			return nil, err
		}
		existing, err := s.activeByDescriptor(ctx, input.ConversationID, d)
		if err != nil && !apperrors.IsCode(err, apperrors.ErrCodeNotFound) {
			return nil, err
		}
		if existing != nil {
			continue
		}

		p := buildParticipant(input.ConversationID, d, domain.RoleMember, now)
		if err := s.partRepo.Add(ctx, p); err != nil {
			return nil, err
		}
		added = append(added, p)
		s.appendSystem(ctx, input.ConversationID, fmt.Sprintf("%s added %s", self.DisplayName, d.DisplayName))
	}

	return &AddMembersOutput{Added: added}, nil
}

func (s *Service) activeByDescriptor(ctx context.Context, conversationID uuid.UUID, d *domain.ParticipantDescriptor) (*domain.Participant, error) {
	if d.Kind == domain.DescriptorGuest {
		return s.partRepo.GetActiveByContact(ctx, conversationID, d.ContactID)
	}
	return s.partRepo.GetActiveByUser(ctx, conversationID, d.UserID, d.TenantID)
}

// RemoveMemberInput removes one participant from a group
type RemoveMemberInput struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	TenantID       uuid.UUID
	ParticipantID  uuid.UUID
}

// RemoveMember soft-removes a participant. Only owners and admins may remove,
// and nobody may remove themselves through this path; leaving is explicit.
func (s *Service) RemoveMember(ctx context.Context, input *RemoveMemberInput) error {
	self, err := s.partRepo.GetActiveByUser(ctx, input.ConversationID, input.UserID, input.TenantID)
	if err != nil {
		return err
	}
	if !self.CanManageMembers() {
		return apperrors.NotAuthorizedError("only owners and admins can remove members")
	}
	if self.ParticipantID == input.ParticipantID {
		return apperrors.CannotRemoveSelfError()
	}

	target, err := s.partRepo.GetByID(ctx, input.ParticipantID)
	if err != nil {
		return err
	}
	if target.ConversationID != input.ConversationID || !target.Active() {
		return apperrors.NotFoundError("Participant")
	}

	if err := s.partRepo.MarkLeft(ctx, input.ParticipantID, time.Now().UTC()); err != nil {
		return err
	}

	s.appendSystem(ctx, input.ConversationID, fmt.Sprintf("%s removed %s", self.DisplayName, target.DisplayName))
	return nil
}

// LeaveInput removes the requester from a conversation
type LeaveInput struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	TenantID       uuid.UUID
}

// Leave soft-removes the requester's own participant row. The row survives so
// past message attribution keeps working.
func (s *Service) Leave(ctx context.Context, input *LeaveInput) error {
	self, err := s.partRepo.GetActiveByUser(ctx, input.ConversationID, input.UserID, input.TenantID)
	if err != nil {
		return err
	}

	if err := s.partRepo.MarkLeft(ctx, self.ParticipantID, time.Now().UTC()); err != nil {
		return err
	}

	s.appendSystem(ctx, input.ConversationID, fmt.Sprintf("%s left the conversation", self.DisplayName))
	return nil
}

// SetFlagInput toggles one per-participant view preference
type SetFlagInput struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	TenantID       uuid.UUID
	Flag           cockroach.ParticipantFlag
	Value          bool
}

// SetFlag toggles mute, pin or archive on the requester's own row. The flags
// are strictly per-participant; nobody else's view changes.
func (s *Service) SetFlag(ctx context.Context, input *SetFlagInput) error {
	self, err := s.partRepo.GetActiveByUser(ctx, input.ConversationID, input.UserID, input.TenantID)
	if err != nil {
		return err
	}
	return s.partRepo.SetFlag(ctx, self.ParticipantID, input.Flag, input.Value)
}

// appendSystem records a system message, best-effort. A failed announcement
// never fails the mutation it narrates.
func (s *Service) appendSystem(ctx context.Context, conversationID uuid.UUID, text string) {
	if s.messages == nil {
		return
	}
	if err := s.messages.AppendSystem(ctx, conversationID, text); err != nil {
		logger.Warn("failed to append system message",
			zap.String("conversation_id", conversationID.String()),
			zap.Error(err),
		)
	}
}

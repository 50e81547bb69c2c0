package invitation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"workchat-backend/internal/domain"
	apperrors "workchat-backend/pkg/errors"
)

// Mocks
type MockInvitationRepository struct {
	mock.Mock
}

func (m *MockInvitationRepository) Create(ctx context.Context, inv *domain.ChatInvitation) error {
	args := m.Called(ctx, inv)
	return args.Error(0)
}

func (m *MockInvitationRepository) GetByToken(ctx context.Context, token string) (*domain.ChatInvitation, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ChatInvitation), args.Error(1)
}

func (m *MockInvitationRepository) FlipStatus(ctx context.Context, token string, to domain.InvitationStatus) (bool, error) {
	args := m.Called(ctx, token, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockInvitationRepository) ListForConversation(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*domain.ChatInvitation, error) {
	args := m.Called(ctx, conversationID, limit, offset)
	return args.Get(0).([]*domain.ChatInvitation), args.Error(1)
}

type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepository) UpdateScope(ctx context.Context, conversationID uuid.UUID, scope domain.ConversationScope) error {
	args := m.Called(ctx, conversationID, scope)
	return args.Error(0)
}

type MockParticipantRepository struct {
	mock.Mock
}

func (m *MockParticipantRepository) Add(ctx context.Context, p *domain.Participant) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockParticipantRepository) GetByID(ctx context.Context, participantID uuid.UUID) (*domain.Participant, error) {
	args := m.Called(ctx, participantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Participant), args.Error(1)
}

func (m *MockParticipantRepository) GetActiveByUser(ctx context.Context, conversationID, userID, tenantID uuid.UUID) (*domain.Participant, error) {
	args := m.Called(ctx, conversationID, userID, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Participant), args.Error(1)
}

func (m *MockParticipantRepository) GetActiveByContact(ctx context.Context, conversationID, contactID uuid.UUID) (*domain.Participant, error) {
	args := m.Called(ctx, conversationID, contactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Participant), args.Error(1)
}

type MockContactStore struct {
	mock.Mock
}

func (m *MockContactStore) Create(ctx context.Context, contact *domain.ExternalContact) error {
	args := m.Called(ctx, contact)
	return args.Error(0)
}

func (m *MockContactStore) GetByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*domain.ExternalContact, error) {
	args := m.Called(ctx, tenantID, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ExternalContact), args.Error(1)
}

func (m *MockContactStore) LinkIdentity(ctx context.Context, contactID, userID, tenantID uuid.UUID) error {
	args := m.Called(ctx, contactID, userID, tenantID)
	return args.Error(0)
}

type MockSystemAppender struct {
	mock.Mock
}

func (m *MockSystemAppender) AppendSystem(ctx context.Context, conversationID uuid.UUID, text string) error {
	args := m.Called(ctx, conversationID, text)
	return args.Error(0)
}

type invitationFixture struct {
	invRepo  *MockInvitationRepository
	convRepo *MockConversationRepository
	partRepo *MockParticipantRepository
	contacts *MockContactStore
	messages *MockSystemAppender
	service  *Service
}

func newInvitationFixture() *invitationFixture {
	f := &invitationFixture{
		invRepo:  new(MockInvitationRepository),
		convRepo: new(MockConversationRepository),
		partRepo: new(MockParticipantRepository),
		contacts: new(MockContactStore),
		messages: new(MockSystemAppender),
	}
	f.service = NewService(f.invRepo, f.convRepo, f.partRepo, f.contacts, nil, f.messages, nil)
	return f
}

func TestCreateInvitation(t *testing.T) {
	f := newInvitationFixture()

	conversationID := uuid.New()
	userID, tenantID := uuid.New(), uuid.New()
	inviter := &domain.Participant{ParticipantID: uuid.New(), TenantID: &tenantID, DisplayName: "alice"}

	f.partRepo.On("GetActiveByUser", mock.Anything, conversationID, userID, tenantID).Return(inviter, nil)
	f.convRepo.On("GetByID", mock.Anything, conversationID).
		Return(&domain.Conversation{ConversationID: conversationID}, nil)

	var created *domain.ChatInvitation
	f.invRepo.On("Create", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { created = args.Get(1).(*domain.ChatInvitation) }).
		Return(nil)

	out, err := f.service.Create(context.Background(), &CreateInput{
		ConversationID: conversationID,
		UserID:         userID,
		TenantID:       tenantID,
		InviteeEmail:   "  Bob@Partner.COM ",
	})

	assert.NoError(t, err)
	assert.Equal(t, "bob@partner.com", created.InviteeEmail)
	assert.Equal(t, domain.InvitationPending, created.Status)
	assert.NotEmpty(t, created.Token)
	assert.WithinDuration(t, time.Now().UTC().Add(DefaultTTL), created.ExpiresAt, time.Minute)
	assert.Equal(t, created.Token, out.Invitation.Token)
}

func TestCreateInvitationRequiresMembership(t *testing.T) {
	f := newInvitationFixture()

	conversationID := uuid.New()
	userID, tenantID := uuid.New(), uuid.New()

	f.partRepo.On("GetActiveByUser", mock.Anything, conversationID, userID, tenantID).
		Return(nil, apperrors.NotFoundError("Participant"))

	_, err := f.service.Create(context.Background(), &CreateInput{
		ConversationID: conversationID,
		UserID:         userID,
		TenantID:       tenantID,
		InviteeEmail:   "bob@partner.com",
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func TestPreviewLazyExpiry(t *testing.T) {
	f := newInvitationFixture()

	token := "expired-token"
	f.invRepo.On("GetByToken", mock.Anything, token).Return(&domain.ChatInvitation{
		Token:     token,
		Status:    domain.InvitationPending,
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}, nil)
	f.invRepo.On("FlipStatus", mock.Anything, token, domain.InvitationExpired).Return(true, nil)

	inv, err := f.service.Preview(context.Background(), token)

	assert.NoError(t, err)
	assert.Equal(t, domain.InvitationExpired, inv.Status)
	f.invRepo.AssertExpectations(t)
}

func TestAcceptExpiredInvitation(t *testing.T) {
	f := newInvitationFixture()

	token := "stale"
	f.invRepo.On("GetByToken", mock.Anything, token).Return(&domain.ChatInvitation{
		Token:     token,
		Status:    domain.InvitationPending,
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}, nil)
	f.invRepo.On("FlipStatus", mock.Anything, token, domain.InvitationExpired).Return(true, nil)

	_, err := f.service.Accept(context.Background(), &AcceptInput{Token: token})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidState))
}

func TestAcceptDoubleRedeemConflict(t *testing.T) {
	f := newInvitationFixture()

	token := "contested"
	conversationID := uuid.New()

	f.invRepo.On("GetByToken", mock.Anything, token).Return(&domain.ChatInvitation{
		Token:          token,
		ConversationID: conversationID,
		Status:         domain.InvitationPending,
		ExpiresAt:      time.Now().UTC().Add(time.Hour),
	}, nil)
	f.convRepo.On("GetByID", mock.Anything, conversationID).
		Return(&domain.Conversation{ConversationID: conversationID}, nil)
	// A concurrent accept flipped the status first.
	f.invRepo.On("FlipStatus", mock.Anything, token, domain.InvitationAccepted).Return(false, nil)

	_, err := f.service.Accept(context.Background(), &AcceptInput{Token: token})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConflict))
	f.partRepo.AssertNotCalled(t, "Add", mock.Anything, mock.Anything)
}

func TestAcceptGuestCreatesContactAndWidensScope(t *testing.T) {
	f := newInvitationFixture()

	token := "guest-token"
	conversationID := uuid.New()
	inviterTenant := uuid.New()

	f.invRepo.On("GetByToken", mock.Anything, token).Return(&domain.ChatInvitation{
		Token:           token,
		ConversationID:  conversationID,
		InviterTenantID: &inviterTenant,
		InviteeEmail:    "carol@outside.example",
		Status:          domain.InvitationPending,
		ExpiresAt:       time.Now().UTC().Add(time.Hour),
	}, nil)
	f.convRepo.On("GetByID", mock.Anything, conversationID).
		Return(&domain.Conversation{ConversationID: conversationID, Scope: domain.ScopeInternal, TenantID: &inviterTenant}, nil)
	f.invRepo.On("FlipStatus", mock.Anything, token, domain.InvitationAccepted).Return(true, nil)

	f.contacts.On("GetByEmail", mock.Anything, inviterTenant, "carol@outside.example").
		Return(nil, apperrors.NotFoundError("Contact"))

	var contact *domain.ExternalContact
	f.contacts.On("Create", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { contact = args.Get(1).(*domain.ExternalContact) }).
		Return(nil)
	f.partRepo.On("GetActiveByContact", mock.Anything, conversationID, mock.Anything).
		Return(nil, apperrors.NotFoundError("Participant"))

	var participant *domain.Participant
	f.partRepo.On("Add", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { participant = args.Get(1).(*domain.Participant) }).
		Return(nil)
	f.convRepo.On("UpdateScope", mock.Anything, conversationID, domain.ScopeExternal).Return(nil)
	f.messages.On("AppendSystem", mock.Anything, conversationID, "Carol joined via invitation").Return(nil)

	out, err := f.service.Accept(context.Background(), &AcceptInput{
		Token:    token,
		Acceptor: Acceptor{DisplayName: "Carol"},
	})

	assert.NoError(t, err)
	assert.Equal(t, inviterTenant, contact.TenantID)
	assert.Equal(t, domain.ParticipantGuest, participant.Type)
	assert.Equal(t, domain.ScopeExternal, out.Conversation.Scope)
	f.convRepo.AssertCalled(t, "UpdateScope", mock.Anything, conversationID, domain.ScopeExternal)
}

func TestAcceptWorkspaceUserSameTenantJoinsInternal(t *testing.T) {
	f := newInvitationFixture()

	token := "workspace-token"
	conversationID := uuid.New()
	tenantID := uuid.New()
	userID := uuid.New()

	f.invRepo.On("GetByToken", mock.Anything, token).Return(&domain.ChatInvitation{
		Token:           token,
		ConversationID:  conversationID,
		InviterTenantID: &tenantID,
		InviteeEmail:    "dave@acme.test",
		Status:          domain.InvitationPending,
		ExpiresAt:       time.Now().UTC().Add(time.Hour),
	}, nil)
	f.convRepo.On("GetByID", mock.Anything, conversationID).
		Return(&domain.Conversation{ConversationID: conversationID, Scope: domain.ScopeInternal, TenantID: &tenantID}, nil)
	f.invRepo.On("FlipStatus", mock.Anything, token, domain.InvitationAccepted).Return(true, nil)
	f.partRepo.On("GetActiveByUser", mock.Anything, conversationID, userID, tenantID).
		Return(nil, apperrors.NotFoundError("Participant"))

	var participant *domain.Participant
	f.partRepo.On("Add", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { participant = args.Get(1).(*domain.Participant) }).
		Return(nil)
	f.contacts.On("GetByEmail", mock.Anything, tenantID, "dave@acme.test").
		Return(nil, apperrors.NotFoundError("Contact"))
	f.messages.On("AppendSystem", mock.Anything, conversationID, mock.Anything).Return(nil)

	out, err := f.service.Accept(context.Background(), &AcceptInput{
		Token:    token,
		Acceptor: Acceptor{UserID: &userID, TenantID: &tenantID, DisplayName: "Dave"},
	})

	assert.NoError(t, err)
	assert.Equal(t, domain.ParticipantInternal, participant.Type)
	assert.Equal(t, domain.ScopeInternal, out.Conversation.Scope)
	f.convRepo.AssertNotCalled(t, "UpdateScope", mock.Anything, mock.Anything, mock.Anything)
}

func TestAcceptInviterTenantPeerJoinsInternalOnCrossTenantConversation(t *testing.T) {
	f := newInvitationFixture()

	token := "peer-token"
	conversationID := uuid.New()
	inviterTenant := uuid.New()
	userID := uuid.New()

	f.invRepo.On("GetByToken", mock.Anything, token).Return(&domain.ChatInvitation{
		Token:           token,
		ConversationID:  conversationID,
		InviterTenantID: &inviterTenant,
		InviteeEmail:    "frank@acme.test",
		Status:          domain.InvitationPending,
		ExpiresAt:       time.Now().UTC().Add(time.Hour),
	}, nil)
	// A cross-tenant conversation has no owning tenant.
	f.convRepo.On("GetByID", mock.Anything, conversationID).
		Return(&domain.Conversation{ConversationID: conversationID, Scope: domain.ScopeCrossTenant}, nil)
	f.invRepo.On("FlipStatus", mock.Anything, token, domain.InvitationAccepted).Return(true, nil)
	f.partRepo.On("GetActiveByUser", mock.Anything, conversationID, userID, inviterTenant).
		Return(nil, apperrors.NotFoundError("Participant"))

	var participant *domain.Participant
	f.partRepo.On("Add", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { participant = args.Get(1).(*domain.Participant) }).
		Return(nil)
	f.contacts.On("GetByEmail", mock.Anything, inviterTenant, "frank@acme.test").
		Return(nil, apperrors.NotFoundError("Contact"))
	f.messages.On("AppendSystem", mock.Anything, conversationID, mock.Anything).Return(nil)

	_, err := f.service.Accept(context.Background(), &AcceptInput{
		Token:    token,
		Acceptor: Acceptor{UserID: &userID, TenantID: &inviterTenant, DisplayName: "Frank"},
	})

	assert.NoError(t, err)
	// Same tenant as the inviter stays internal regardless of the
	// conversation's owning tenant.
	assert.Equal(t, domain.ParticipantInternal, participant.Type)
	f.convRepo.AssertNotCalled(t, "UpdateScope", mock.Anything, mock.Anything, mock.Anything)
}

func TestAcceptWorkspaceUserOtherTenantWidensToCrossTenant(t *testing.T) {
	f := newInvitationFixture()

	token := "cross-token"
	conversationID := uuid.New()
	inviterTenant := uuid.New()
	otherTenant := uuid.New()
	userID := uuid.New()

	f.invRepo.On("GetByToken", mock.Anything, token).Return(&domain.ChatInvitation{
		Token:           token,
		ConversationID:  conversationID,
		InviterTenantID: &inviterTenant,
		InviteeEmail:    "eve@partner.example",
		Status:          domain.InvitationPending,
		ExpiresAt:       time.Now().UTC().Add(time.Hour),
	}, nil)
	f.convRepo.On("GetByID", mock.Anything, conversationID).
		Return(&domain.Conversation{ConversationID: conversationID, Scope: domain.ScopeInternal, TenantID: &inviterTenant}, nil)
	f.invRepo.On("FlipStatus", mock.Anything, token, domain.InvitationAccepted).Return(true, nil)
	f.partRepo.On("GetActiveByUser", mock.Anything, conversationID, userID, otherTenant).
		Return(nil, apperrors.NotFoundError("Participant"))

	var participant *domain.Participant
	f.partRepo.On("Add", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { participant = args.Get(1).(*domain.Participant) }).
		Return(nil)
	f.convRepo.On("UpdateScope", mock.Anything, conversationID, domain.ScopeCrossTenant).Return(nil)
	f.contacts.On("GetByEmail", mock.Anything, inviterTenant, "eve@partner.example").
		Return(&domain.ExternalContact{ContactID: uuid.New()}, nil)
	f.contacts.On("LinkIdentity", mock.Anything, mock.Anything, userID, otherTenant).Return(nil)
	f.messages.On("AppendSystem", mock.Anything, conversationID, mock.Anything).Return(nil)

	out, err := f.service.Accept(context.Background(), &AcceptInput{
		Token:    token,
		Acceptor: Acceptor{UserID: &userID, TenantID: &otherTenant, DisplayName: "Eve"},
	})

	assert.NoError(t, err)
	assert.Equal(t, domain.ParticipantExternalUser, participant.Type)
	assert.Equal(t, domain.ScopeCrossTenant, out.Conversation.Scope)
	f.contacts.AssertCalled(t, "LinkIdentity", mock.Anything, mock.Anything, userID, otherTenant)
}

func TestAcceptExistingMemberIsNoOpJoin(t *testing.T) {
	f := newInvitationFixture()

	token := "rejoin-token"
	conversationID := uuid.New()
	tenantID := uuid.New()
	userID := uuid.New()
	existing := &domain.Participant{ParticipantID: uuid.New(), DisplayName: "dave"}

	f.invRepo.On("GetByToken", mock.Anything, token).Return(&domain.ChatInvitation{
		Token:           token,
		ConversationID:  conversationID,
		InviterTenantID: &tenantID,
		InviteeEmail:    "dave@acme.test",
		Status:          domain.InvitationPending,
		ExpiresAt:       time.Now().UTC().Add(time.Hour),
	}, nil)
	f.convRepo.On("GetByID", mock.Anything, conversationID).
		Return(&domain.Conversation{ConversationID: conversationID, Scope: domain.ScopeInternal, TenantID: &tenantID}, nil)
	f.invRepo.On("FlipStatus", mock.Anything, token, domain.InvitationAccepted).Return(true, nil)
	f.partRepo.On("GetActiveByUser", mock.Anything, conversationID, userID, tenantID).Return(existing, nil)
	f.messages.On("AppendSystem", mock.Anything, conversationID, mock.Anything).Return(nil)

	out, err := f.service.Accept(context.Background(), &AcceptInput{
		Token:    token,
		Acceptor: Acceptor{UserID: &userID, TenantID: &tenantID},
	})

	assert.NoError(t, err)
	assert.Equal(t, existing.ParticipantID, out.Participant.ParticipantID)
	f.partRepo.AssertNotCalled(t, "Add", mock.Anything, mock.Anything)
}

func TestDeclineFirstWins(t *testing.T) {
	f := newInvitationFixture()

	token := "decline-token"
	f.invRepo.On("GetByToken", mock.Anything, token).Return(&domain.ChatInvitation{
		Token:     token,
		Status:    domain.InvitationPending,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}, nil)
	f.invRepo.On("FlipStatus", mock.Anything, token, domain.InvitationDeclined).Return(false, nil)

	err := f.service.Decline(context.Background(), token)

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConflict))
}

func TestDisplayNameOr(t *testing.T) {
	assert.Equal(t, "Carol", displayNameOr("Carol", "carol@x.test"))
	assert.Equal(t, "carol", displayNameOr("  ", "carol@x.test"))
	assert.Equal(t, "noat", displayNameOr("", "noat"))
}

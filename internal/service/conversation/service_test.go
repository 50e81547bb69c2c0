package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"workchat-backend/internal/domain"
	"workchat-backend/internal/repository/cockroach"
	apperrors "workchat-backend/pkg/errors"
)

// Mocks
type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) CreateDirect(ctx context.Context, conv *domain.Conversation, participants []*domain.Participant) (*domain.Conversation, bool, error) {
	args := m.Called(ctx, conv, participants)
	return args.Get(0).(*domain.Conversation), args.Bool(1), args.Error(2)
}

func (m *MockConversationRepository) CreateGroup(ctx context.Context, conv *domain.Conversation, participants []*domain.Participant) error {
	args := m.Called(ctx, conv, participants)
	return args.Error(0)
}

func (m *MockConversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepository) ListForUser(ctx context.Context, userID, tenantID uuid.UUID, filter *cockroach.ListFilter) ([]*domain.Conversation, error) {
	args := m.Called(ctx, userID, tenantID, filter)
	return args.Get(0).([]*domain.Conversation), args.Error(1)
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

func (m *MockParticipantRepository) ListActive(ctx context.Context, conversationID uuid.UUID) ([]*domain.Participant, error) {
	args := m.Called(ctx, conversationID)
	return args.Get(0).([]*domain.Participant), args.Error(1)
}

func (m *MockParticipantRepository) MarkLeft(ctx context.Context, participantID uuid.UUID, at time.Time) error {
	args := m.Called(ctx, participantID, at)
	return args.Error(0)
}

func (m *MockParticipantRepository) SetFlag(ctx context.Context, participantID uuid.UUID, flag cockroach.ParticipantFlag, value bool) error {
	args := m.Called(ctx, participantID, flag, value)
	return args.Error(0)
}

type MockMessageAppender struct {
	mock.Mock
}

func (m *MockMessageAppender) AppendSystem(ctx context.Context, conversationID uuid.UUID, text string) error {
	args := m.Called(ctx, conversationID, text)
	return args.Error(0)
}

func internalDescriptor(tenantID uuid.UUID, name string) *domain.ParticipantDescriptor {
	return &domain.ParticipantDescriptor{
		Kind:        domain.DescriptorInternal,
		UserID:      uuid.New(),
		TenantID:    tenantID,
		DisplayName: name,
		Email:       name + "@acme.test",
	}
}

func TestGetOrCreateDirectPairKeyOrderInsensitive(t *testing.T) {
	tenantID := uuid.New()
	alice := internalDescriptor(tenantID, "alice")
	bob := internalDescriptor(tenantID, "bob")

	var firstKey, secondKey string

	for i, pair := range [][2]*domain.ParticipantDescriptor{{alice, bob}, {bob, alice}} {
		mockConvRepo := new(MockConversationRepository)
		mockPartRepo := new(MockParticipantRepository)
		service := NewService(mockConvRepo, mockPartRepo)

		mockConvRepo.On("CreateDirect", mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				conv := args.Get(1).(*domain.Conversation)
				if i == 0 {
					firstKey = *conv.PairKey
				} else {
					secondKey = *conv.PairKey
				}
			}).
			Return(&domain.Conversation{ConversationID: uuid.New()}, true, nil)

		out, err := service.GetOrCreateDirect(context.Background(), &GetOrCreateDirectInput{
			Requester: pair[0],
			Other:     pair[1],
		})
		assert.NoError(t, err)
		assert.True(t, out.Created)
	}

	assert.Equal(t, firstKey, secondKey)
}

func TestGetOrCreateDirectRejectsSelf(t *testing.T) {
	service := NewService(new(MockConversationRepository), new(MockParticipantRepository))

	alice := internalDescriptor(uuid.New(), "alice")
	_, err := service.GetOrCreateDirect(context.Background(), &GetOrCreateDirectInput{
		Requester: alice,
		Other:     alice,
	})

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestGetOrCreateDirectExisting(t *testing.T) {
	mockConvRepo := new(MockConversationRepository)
	mockPartRepo := new(MockParticipantRepository)
	service := NewService(mockConvRepo, mockPartRepo)

	tenantID := uuid.New()
	existing := &domain.Conversation{ConversationID: uuid.New(), Type: domain.ConversationDirect}
	mockConvRepo.On("CreateDirect", mock.Anything, mock.Anything, mock.Anything).
		Return(existing, false, nil)

	out, err := service.GetOrCreateDirect(context.Background(), &GetOrCreateDirectInput{
		Requester: internalDescriptor(tenantID, "alice"),
		Other:     internalDescriptor(tenantID, "bob"),
	})

	assert.NoError(t, err)
	assert.False(t, out.Created)
	assert.Equal(t, existing.ConversationID, out.Conversation.ConversationID)
}

func TestScopeDerivation(t *testing.T) {
	tenantA := uuid.New()
	tenantB := uuid.New()

	tests := []struct {
		name        string
		descriptors []*domain.ParticipantDescriptor
		wantScope   domain.ConversationScope
		wantTenant  *uuid.UUID
	}{
		{
			name: "single tenant is internal",
			descriptors: []*domain.ParticipantDescriptor{
				internalDescriptor(tenantA, "alice"),
				internalDescriptor(tenantA, "bob"),
			},
			wantScope:  domain.ScopeInternal,
			wantTenant: &tenantA,
		},
		{
			name: "guest makes it external",
			descriptors: []*domain.ParticipantDescriptor{
				internalDescriptor(tenantA, "alice"),
				{Kind: domain.DescriptorGuest, ContactID: uuid.New(), DisplayName: "guest"},
			},
			wantScope:  domain.ScopeExternal,
			wantTenant: &tenantA,
		},
		{
			name: "two tenants are cross-tenant",
			descriptors: []*domain.ParticipantDescriptor{
				internalDescriptor(tenantA, "alice"),
				internalDescriptor(tenantB, "carol"),
			},
			wantScope:  domain.ScopeCrossTenant,
			wantTenant: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope, tenant := deriveScope(tt.descriptors)
			assert.Equal(t, tt.wantScope, scope)
			if tt.wantTenant == nil {
				assert.Nil(t, tenant)
			} else {
				assert.NotNil(t, tenant)
				assert.Equal(t, *tt.wantTenant, *tenant)
			}
		})
	}
}

func TestCreateGroupCreatorIsOwner(t *testing.T) {
	mockConvRepo := new(MockConversationRepository)
	mockPartRepo := new(MockParticipantRepository)
	mockAppender := new(MockMessageAppender)

	service := NewService(mockConvRepo, mockPartRepo)
	service.SetMessageAppender(mockAppender)

	tenantID := uuid.New()
	creator := internalDescriptor(tenantID, "alice")

	var captured []*domain.Participant
	mockConvRepo.On("CreateGroup", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(2).([]*domain.Participant)
		}).
		Return(nil)
	mockAppender.On("AppendSystem", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	out, err := service.CreateGroup(context.Background(), &CreateGroupInput{
		Creator: creator,
		Name:    "Design Team",
		Members: []*domain.ParticipantDescriptor{internalDescriptor(tenantID, "bob")},
	})

	assert.NoError(t, err)
	assert.Len(t, captured, 2)
	assert.Equal(t, domain.RoleOwner, captured[0].Role)
	assert.Equal(t, domain.RoleMember, captured[1].Role)
	assert.Equal(t, domain.ConversationGroup, out.Conversation.Type)
	mockAppender.AssertCalled(t, "AppendSystem", mock.Anything, out.Conversation.ConversationID, mock.Anything)
}

func TestCreateGroupRejectsDuplicateMembers(t *testing.T) {
	service := NewService(new(MockConversationRepository), new(MockParticipantRepository))

	tenantID := uuid.New()
	bob := internalDescriptor(tenantID, "bob")

	_, err := service.CreateGroup(context.Background(), &CreateGroupInput{
		Creator: internalDescriptor(tenantID, "alice"),
		Name:    "Team",
		Members: []*domain.ParticipantDescriptor{bob, bob},
	})

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestAddMembersRejectsDirectConversation(t *testing.T) {
	mockConvRepo := new(MockConversationRepository)
	mockPartRepo := new(MockParticipantRepository)
	service := NewService(mockConvRepo, mockPartRepo)

	conversationID := uuid.New()
	userID, tenantID := uuid.New(), uuid.New()

	mockPartRepo.On("GetActiveByUser", mock.Anything, conversationID, userID, tenantID).
		Return(&domain.Participant{ParticipantID: uuid.New(), Role: domain.RoleMember}, nil)
	mockConvRepo.On("GetByID", mock.Anything, conversationID).
		Return(&domain.Conversation{ConversationID: conversationID, Type: domain.ConversationDirect}, nil)

	_, err := service.AddMembers(context.Background(), &AddMembersInput{
		ConversationID: conversationID,
		UserID:         userID,
		TenantID:       tenantID,
		Members:        []*domain.ParticipantDescriptor{internalDescriptor(tenantID, "carol")},
	})

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidState))
}

func TestAddMembersSkipsExisting(t *testing.T) {
	mockConvRepo := new(MockConversationRepository)
	mockPartRepo := new(MockParticipantRepository)
	service := NewService(mockConvRepo, mockPartRepo)

	conversationID := uuid.New()
	userID, tenantID := uuid.New(), uuid.New()
	existing := internalDescriptor(tenantID, "carol")

	mockPartRepo.On("GetActiveByUser", mock.Anything, conversationID, userID, tenantID).
		Return(&domain.Participant{ParticipantID: uuid.New(), DisplayName: "alice"}, nil)
	mockConvRepo.On("GetByID", mock.Anything, conversationID).
		Return(&domain.Conversation{ConversationID: conversationID, Type: domain.ConversationGroup}, nil)
	mockPartRepo.On("GetActiveByUser", mock.Anything, conversationID, existing.UserID, existing.TenantID).
		Return(&domain.Participant{ParticipantID: uuid.New(), DisplayName: "carol"}, nil)

	out, err := service.AddMembers(context.Background(), &AddMembersInput{
		ConversationID: conversationID,
		UserID:         userID,
		TenantID:       tenantID,
		Members:        []*domain.ParticipantDescriptor{existing},
	})

	assert.NoError(t, err)
	assert.Empty(t, out.Added)
	mockPartRepo.AssertNotCalled(t, "Add", mock.Anything, mock.Anything)
}

func TestRemoveMemberRequiresManagerRole(t *testing.T) {
	mockConvRepo := new(MockConversationRepository)
	mockPartRepo := new(MockParticipantRepository)
	service := NewService(mockConvRepo, mockPartRepo)

	conversationID := uuid.New()
	userID, tenantID := uuid.New(), uuid.New()

	mockPartRepo.On("GetActiveByUser", mock.Anything, conversationID, userID, tenantID).
		Return(&domain.Participant{ParticipantID: uuid.New(), Role: domain.RoleMember}, nil)

	err := service.RemoveMember(context.Background(), &RemoveMemberInput{
		ConversationID: conversationID,
		UserID:         userID,
		TenantID:       tenantID,
		ParticipantID:  uuid.New(),
	})

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotAuthorized))
}

func TestRemoveMemberRejectsSelf(t *testing.T) {
	mockConvRepo := new(MockConversationRepository)
	mockPartRepo := new(MockParticipantRepository)
	service := NewService(mockConvRepo, mockPartRepo)

	conversationID := uuid.New()
	userID, tenantID := uuid.New(), uuid.New()
	selfID := uuid.New()

	mockPartRepo.On("GetActiveByUser", mock.Anything, conversationID, userID, tenantID).
		Return(&domain.Participant{ParticipantID: selfID, Role: domain.RoleOwner}, nil)

	err := service.RemoveMember(context.Background(), &RemoveMemberInput{
		ConversationID: conversationID,
		UserID:         userID,
		TenantID:       tenantID,
		ParticipantID:  selfID,
	})

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCannotRemoveSelf))
}

func TestGetRequiresActiveMembership(t *testing.T) {
	mockConvRepo := new(MockConversationRepository)
	mockPartRepo := new(MockParticipantRepository)
	service := NewService(mockConvRepo, mockPartRepo)

	conversationID := uuid.New()
	userID, tenantID := uuid.New(), uuid.New()

	mockPartRepo.On("GetActiveByUser", mock.Anything, conversationID, userID, tenantID).
		Return(nil, apperrors.NotFoundError("Participant"))

	_, err := service.Get(context.Background(), &GetInput{
		ConversationID: conversationID,
		UserID:         userID,
		TenantID:       tenantID,
	})

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
	mockConvRepo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestListClampsLimit(t *testing.T) {
	mockConvRepo := new(MockConversationRepository)
	service := NewService(mockConvRepo, new(MockParticipantRepository))

	userID, tenantID := uuid.New(), uuid.New()
	mockConvRepo.On("ListForUser", mock.Anything, userID, tenantID, mock.MatchedBy(func(f *cockroach.ListFilter) bool {
		return f.Limit == 50
	})).Return([]*domain.Conversation{}, nil)

	_, err := service.List(context.Background(), &ListInput{
		UserID:   userID,
		TenantID: tenantID,
		Limit:    500,
	})

	assert.NoError(t, err)
	mockConvRepo.AssertExpectations(t)
}

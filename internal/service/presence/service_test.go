package presence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"workchat-backend/internal/domain"
)

// Mocks
type MockParticipantRepository struct {
	mock.Mock
}

func (m *MockParticipantRepository) GetActiveByUser(ctx context.Context, conversationID, userID, tenantID uuid.UUID) (*domain.Participant, error) {
	args := m.Called(ctx, conversationID, userID, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Participant), args.Error(1)
}

func (m *MockParticipantRepository) ListActive(ctx context.Context, conversationID uuid.UUID) ([]*domain.Participant, error) {
	args := m.Called(ctx, conversationID)
	return args.Get(0).([]*domain.Participant), args.Error(1)
}

func (m *MockParticipantRepository) TouchLastSeen(ctx context.Context, userID, tenantID uuid.UUID, at time.Time) error {
	args := m.Called(ctx, userID, tenantID, at)
	return args.Error(0)
}

type MockPresenceRepository struct {
	mock.Mock
}

func (m *MockPresenceRepository) Heartbeat(ctx context.Context, userID, tenantID uuid.UUID) error {
	args := m.Called(ctx, userID, tenantID)
	return args.Error(0)
}

func (m *MockPresenceRepository) SetOffline(ctx context.Context, userID, tenantID uuid.UUID) error {
	args := m.Called(ctx, userID, tenantID)
	return args.Error(0)
}

func (m *MockPresenceRepository) IsOnline(ctx context.Context, userID, tenantID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID, tenantID)
	return args.Bool(0), args.Error(1)
}

func TestHeartbeatSurvivesLastSeenFailure(t *testing.T) {
	mockPartRepo := new(MockParticipantRepository)
	mockPresenceRepo := new(MockPresenceRepository)
	service := NewService(mockPartRepo, mockPresenceRepo)

	userID, tenantID := uuid.New(), uuid.New()
	mockPresenceRepo.On("Heartbeat", mock.Anything, userID, tenantID).Return(nil)
	mockPartRepo.On("TouchLastSeen", mock.Anything, userID, tenantID, mock.Anything).Return(assert.AnError)

	err := service.Heartbeat(context.Background(), userID, tenantID)

	assert.NoError(t, err)
}

func TestHeartbeatFailsWhenStoreDown(t *testing.T) {
	mockPartRepo := new(MockParticipantRepository)
	mockPresenceRepo := new(MockPresenceRepository)
	service := NewService(mockPartRepo, mockPresenceRepo)

	userID, tenantID := uuid.New(), uuid.New()
	mockPresenceRepo.On("Heartbeat", mock.Anything, userID, tenantID).Return(assert.AnError)

	err := service.Heartbeat(context.Background(), userID, tenantID)

	assert.Error(t, err)
	mockPartRepo.AssertNotCalled(t, "TouchLastSeen", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetConversationPresence(t *testing.T) {
	mockPartRepo := new(MockParticipantRepository)
	mockPresenceRepo := new(MockPresenceRepository)
	service := NewService(mockPartRepo, mockPresenceRepo)

	conversationID := uuid.New()
	userID, tenantID := uuid.New(), uuid.New()

	onlineUser, onlineTenant := uuid.New(), uuid.New()
	offlineUser, offlineTenant := uuid.New(), uuid.New()

	recentSeen := time.Now().UTC().Add(-time.Minute)
	staleSeen := time.Now().UTC().Add(-time.Hour)

	participants := []*domain.Participant{
		{ParticipantID: uuid.New(), DisplayName: "alice", UserID: &onlineUser, TenantID: &onlineTenant},
		{ParticipantID: uuid.New(), DisplayName: "bob", UserID: &offlineUser, TenantID: &offlineTenant},
		{ParticipantID: uuid.New(), DisplayName: "recent guest", LastSeenAt: &recentSeen},
		{ParticipantID: uuid.New(), DisplayName: "stale guest", LastSeenAt: &staleSeen},
	}

	mockPartRepo.On("GetActiveByUser", mock.Anything, conversationID, userID, tenantID).
		Return(&domain.Participant{ParticipantID: uuid.New()}, nil)
	mockPartRepo.On("ListActive", mock.Anything, conversationID).Return(participants, nil)
	mockPresenceRepo.On("IsOnline", mock.Anything, onlineUser, onlineTenant).Return(true, nil)
	mockPresenceRepo.On("IsOnline", mock.Anything, offlineUser, offlineTenant).Return(false, nil)

	out, err := service.GetConversationPresence(context.Background(), &GetConversationPresenceInput{
		ConversationID: conversationID,
		UserID:         userID,
		TenantID:       tenantID,
	})

	assert.NoError(t, err)
	assert.Len(t, out.Participants, 4)
	assert.True(t, out.Participants[0].Online)
	assert.False(t, out.Participants[1].Online)
	assert.True(t, out.Participants[2].Online)  // guest inside the activity window
	assert.False(t, out.Participants[3].Online) // guest long gone
}

func TestGetConversationPresenceFallsBackWhenRedisFails(t *testing.T) {
	mockPartRepo := new(MockParticipantRepository)
	mockPresenceRepo := new(MockPresenceRepository)
	service := NewService(mockPartRepo, mockPresenceRepo)

	conversationID := uuid.New()
	userID, tenantID := uuid.New(), uuid.New()
	memberUser, memberTenant := uuid.New(), uuid.New()
	recentSeen := time.Now().UTC().Add(-30 * time.Second)

	mockPartRepo.On("GetActiveByUser", mock.Anything, conversationID, userID, tenantID).
		Return(&domain.Participant{ParticipantID: uuid.New()}, nil)
	mockPartRepo.On("ListActive", mock.Anything, conversationID).Return([]*domain.Participant{
		{ParticipantID: uuid.New(), UserID: &memberUser, TenantID: &memberTenant, LastSeenAt: &recentSeen},
	}, nil)
	mockPresenceRepo.On("IsOnline", mock.Anything, memberUser, memberTenant).Return(false, assert.AnError)

	out, err := service.GetConversationPresence(context.Background(), &GetConversationPresenceInput{
		ConversationID: conversationID,
		UserID:         userID,
		TenantID:       tenantID,
	})

	assert.NoError(t, err)
	assert.True(t, out.Participants[0].Online)
}

package contact

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"workchat-backend/internal/domain"
	apperrors "workchat-backend/pkg/errors"
)

// Mocks
type MockContactRepository struct {
	mock.Mock
}

func (m *MockContactRepository) Create(ctx context.Context, contact *domain.ExternalContact) error {
	args := m.Called(ctx, contact)
	return args.Error(0)
}

func (m *MockContactRepository) GetByID(ctx context.Context, contactID uuid.UUID) (*domain.ExternalContact, error) {
	args := m.Called(ctx, contactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ExternalContact), args.Error(1)
}

func (m *MockContactRepository) GetByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*domain.ExternalContact, error) {
	args := m.Called(ctx, tenantID, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ExternalContact), args.Error(1)
}

func (m *MockContactRepository) ListForTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.ExternalContact, error) {
	args := m.Called(ctx, tenantID, limit, offset)
	return args.Get(0).([]*domain.ExternalContact), args.Error(1)
}

func (m *MockContactRepository) LinkIdentity(ctx context.Context, contactID, userID, tenantID uuid.UUID) error {
	args := m.Called(ctx, contactID, userID, tenantID)
	return args.Error(0)
}

type MockDirectoryRepository struct {
	mock.Mock
}

func (m *MockDirectoryRepository) LookupEmail(ctx context.Context, tenantID uuid.UUID, email string) (uuid.UUID, error) {
	args := m.Called(ctx, tenantID, email)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func TestCreateNormalizesEmail(t *testing.T) {
	mockRepo := new(MockContactRepository)
	service := NewService(mockRepo, new(MockDirectoryRepository))

	tenantID := uuid.New()
	mockRepo.On("Create", mock.Anything, mock.MatchedBy(func(c *domain.ExternalContact) bool {
		return c.Email == "carol@outside.example" && c.TenantID == tenantID
	})).Return(nil)

	contact, err := service.Create(context.Background(), &CreateInput{
		TenantID: tenantID,
		Email:    "  Carol@Outside.EXAMPLE ",
		Name:     " Carol ",
	})

	assert.NoError(t, err)
	assert.Equal(t, "Carol", contact.Name)
	mockRepo.AssertExpectations(t)
}

func TestCreateRejectsBadInput(t *testing.T) {
	service := NewService(new(MockContactRepository), new(MockDirectoryRepository))

	_, err := service.Create(context.Background(), &CreateInput{TenantID: uuid.New(), Email: "not-an-email", Name: "x"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))

	_, err = service.Create(context.Background(), &CreateInput{TenantID: uuid.New(), Email: "a@b.test", Name: "  "})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestCreateDuplicateConflict(t *testing.T) {
	mockRepo := new(MockContactRepository)
	service := NewService(mockRepo, new(MockDirectoryRepository))

	mockRepo.On("Create", mock.Anything, mock.Anything).Return(apperrors.EmailExistsError())

	_, err := service.Create(context.Background(), &CreateInput{
		TenantID: uuid.New(),
		Email:    "carol@outside.example",
		Name:     "Carol",
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeEmailExists))
}

func TestGetScopedToTenant(t *testing.T) {
	mockRepo := new(MockContactRepository)
	service := NewService(mockRepo, new(MockDirectoryRepository))

	contactID := uuid.New()
	owner := uuid.New()
	stranger := uuid.New()

	mockRepo.On("GetByID", mock.Anything, contactID).
		Return(&domain.ExternalContact{ContactID: contactID, TenantID: owner}, nil)

	found, err := service.Get(context.Background(), owner, contactID)
	assert.NoError(t, err)
	assert.Equal(t, contactID, found.ContactID)

	// Another tenant sees NotFound, not a hint the contact exists.
	_, err = service.Get(context.Background(), stranger, contactID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func TestListClampsLimit(t *testing.T) {
	mockRepo := new(MockContactRepository)
	service := NewService(mockRepo, new(MockDirectoryRepository))

	tenantID := uuid.New()
	mockRepo.On("ListForTenant", mock.Anything, tenantID, 100, 0).
		Return([]*domain.ExternalContact{}, nil)

	_, err := service.List(context.Background(), &ListInput{TenantID: tenantID, Limit: 999})

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

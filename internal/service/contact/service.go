package contact

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"workchat-backend/internal/domain"
	apperrors "workchat-backend/pkg/errors"
)

// ContactRepository is the persistence surface the service needs
type ContactRepository interface {
	Create(ctx context.Context, contact *domain.ExternalContact) error
	GetByID(ctx context.Context, contactID uuid.UUID) (*domain.ExternalContact, error)
	GetByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*domain.ExternalContact, error)
	ListForTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.ExternalContact, error)
	LinkIdentity(ctx context.Context, contactID, userID, tenantID uuid.UUID) error
}

// DirectoryRepository resolves workspace emails to identities
type DirectoryRepository interface {
	LookupEmail(ctx context.Context, tenantID uuid.UUID, email string) (uuid.UUID, error)
}

// Service manages external contacts: non-workspace identities a tenant chats
// with as guests.
type Service struct {
	contactRepo ContactRepository
	directory   DirectoryRepository
}

// NewService creates a new contact service
func NewService(contactRepo ContactRepository, directory DirectoryRepository) *Service {
	return &Service{contactRepo: contactRepo, directory: directory}
}

// CreateInput describes a new external contact
type CreateInput struct {
	TenantID  uuid.UUID
	Email     string
	Name      string
	Company   *string
	AvatarURL *string
}

// Create registers an external contact. Emails are unique per owning tenant;
// a duplicate surfaces as a conflict, not a silent merge.
func (s *Service) Create(ctx context.Context, input *CreateInput) (*domain.ExternalContact, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperrors.ValidationError("a valid email is required")
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, apperrors.ValidationError("name is required")
	}

	now := time.Now().UTC()
	contact := &domain.ExternalContact{
		ContactID: uuid.New(),
		TenantID:  input.TenantID,
		Email:     email,
		Name:      strings.TrimSpace(input.Name),
		Company:   input.Company,
		AvatarURL: input.AvatarURL,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.contactRepo.Create(ctx, contact); err != nil {
		return nil, err
	}
	return contact, nil
}

// Get retrieves one contact, scoped to the requesting tenant
func (s *Service) Get(ctx context.Context, tenantID, contactID uuid.UUID) (*domain.ExternalContact, error) {
	contact, err := s.contactRepo.GetByID(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if contact.TenantID != tenantID {
		return nil, apperrors.NotFoundError("Contact")
	}
	return contact, nil
}

// ListInput pages a tenant's contacts
type ListInput struct {
	TenantID uuid.UUID
	Limit    int
	Offset   int
}

// List returns the tenant's contacts ordered by name
func (s *Service) List(ctx context.Context, input *ListInput) ([]*domain.ExternalContact, error) {
	if input.Limit <= 0 || input.Limit > 200 {
		input.Limit = 100
	}
	return s.contactRepo.ListForTenant(ctx, input.TenantID, input.Limit, input.Offset)
}

// ResolveWorkspaceUser checks whether an email already belongs to a
// workspace user in the tenant. Used by invitation accept to pick between
// guest and external-user participant types.
func (s *Service) ResolveWorkspaceUser(ctx context.Context, tenantID uuid.UUID, email string) (uuid.UUID, error) {
	return s.directory.LookupEmail(ctx, tenantID, strings.ToLower(strings.TrimSpace(email)))
}

// LinkToWorkspaceIdentity ties a contact to the workspace identity that
// accepted an invitation, so future chats resolve to the real user.
func (s *Service) LinkToWorkspaceIdentity(ctx context.Context, contactID, userID, tenantID uuid.UUID) error {
	return s.contactRepo.LinkIdentity(ctx, contactID, userID, tenantID)
}

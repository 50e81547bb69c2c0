package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"workchat-backend/internal/domain"
	apperrors "workchat-backend/pkg/errors"
)

// ContactRepository handles external contact persistence
type ContactRepository struct {
	pool *pgxpool.Pool
}

// NewContactRepository creates a new contact repository
func NewContactRepository(pool *pgxpool.Pool) *ContactRepository {
	return &ContactRepository{pool: pool}
}

const contactColumns = `
	contact_id, tenant_id, email, name, company, avatar_url,
	linked_user_id, linked_tenant_id, created_at, updated_at`

func scanContact(row pgx.Row) (*domain.ExternalContact, error) {
	contact := &domain.ExternalContact{}
	err := row.Scan(
		&contact.ContactID,
		&contact.TenantID,
		&contact.Email,
		&contact.Name,
		&contact.Company,
		&contact.AvatarURL,
		&contact.LinkedUserID,
		&contact.LinkedTenantID,
		&contact.CreatedAt,
		&contact.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFoundError("Contact")
		}
		return nil, fmt.Errorf("failed to scan contact: %w", err)
	}
	return contact, nil
}

// Create inserts an external contact; duplicate (tenant, email) surfaces as
// a Conflict.
func (r *ContactRepository) Create(ctx context.Context, contact *domain.ExternalContact) error {
	query := `
		INSERT INTO external_contacts (
			contact_id, tenant_id, email, name, company, avatar_url, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		contact.ContactID,
		contact.TenantID,
		contact.Email,
		contact.Name,
		contact.Company,
		contact.AvatarURL,
		contact.CreatedAt,
		contact.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.EmailExistsError()
		}
		return fmt.Errorf("failed to create contact: %w", err)
	}
	return nil
}

// GetByID retrieves a contact by ID
func (r *ContactRepository) GetByID(ctx context.Context, contactID uuid.UUID) (*domain.ExternalContact, error) {
	query := `SELECT` + contactColumns + ` FROM external_contacts WHERE contact_id = $1`
	return scanContact(r.pool.QueryRow(ctx, query, contactID))
}

// GetByEmail retrieves a contact by (tenant, email)
func (r *ContactRepository) GetByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*domain.ExternalContact, error) {
	query := `SELECT` + contactColumns + ` FROM external_contacts WHERE tenant_id = $1 AND email = $2`
	return scanContact(r.pool.QueryRow(ctx, query, tenantID, email))
}

// ListForTenant returns a tenant's contacts ordered by name
func (r *ContactRepository) ListForTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.ExternalContact, error) {
	query := `SELECT` + contactColumns + `
		FROM external_contacts
		WHERE tenant_id = $1
		ORDER BY name ASC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*domain.ExternalContact
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}

	return contacts, rows.Err()
}

// LinkIdentity records the workspace identity a contact was linked to when
// an invitation was accepted.
func (r *ContactRepository) LinkIdentity(ctx context.Context, contactID, userID, tenantID uuid.UUID) error {
	query := `
		UPDATE external_contacts
		SET linked_user_id = $2, linked_tenant_id = $3, updated_at = now()
		WHERE contact_id = $1
	`

	tag, err := r.pool.Exec(ctx, query, contactID, userID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to link contact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFoundError("Contact")
	}
	return nil
}

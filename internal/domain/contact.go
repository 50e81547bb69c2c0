package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExternalContact is a non-workspace identity usable as a chat participant.
// Unique per (owning tenant, email); maps to CockroachDB external_contacts.
type ExternalContact struct {
	ContactID uuid.UUID `json:"contact_id" db:"contact_id"`
	TenantID  uuid.UUID `json:"tenant_id" db:"tenant_id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	Company   *string   `json:"company,omitempty" db:"company"`
	AvatarURL *string   `json:"avatar_url,omitempty" db:"avatar_url"`

	// Set when an invitation accept ties the contact to a real workspace
	// identity.
	LinkedUserID   *uuid.UUID `json:"linked_user_id,omitempty" db:"linked_user_id"`
	LinkedTenantID *uuid.UUID `json:"linked_tenant_id,omitempty" db:"linked_tenant_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DirectoryEntry is a row returned by the tenant directory lookup used for
// the participant picker. The chat core consumes this data, it does not own it.
type DirectoryEntry struct {
	UserID    uuid.UUID `json:"user_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
}

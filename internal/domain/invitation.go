package domain

import (
	"time"

	"github.com/google/uuid"
)

// InvitationStatus tracks the single-use invitation lifecycle
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
	InvitationExpired  InvitationStatus = "expired"
)

// ChatInvitation is a token-based external-user invitation into a
// conversation. Expiry is enforced lazily at lookup time, not by a sweep.
type ChatInvitation struct {
	InvitationID         uuid.UUID        `json:"invitation_id" db:"invitation_id"`
	ConversationID       uuid.UUID        `json:"conversation_id" db:"conversation_id"`
	InviterParticipantID uuid.UUID        `json:"inviter_participant_id" db:"inviter_participant_id"`
	InviterTenantID      *uuid.UUID       `json:"inviter_tenant_id,omitempty" db:"inviter_tenant_id"`
	InviteeEmail         string           `json:"invitee_email" db:"invitee_email"`
	Message              *string          `json:"message,omitempty" db:"message"`
	Token                string           `json:"-" db:"token"`
	Status               InvitationStatus `json:"status" db:"status"`
	ExpiresAt            time.Time        `json:"expires_at" db:"expires_at"`
	CreatedAt            time.Time        `json:"created_at" db:"created_at"`
}

// Expired reports whether the invitation's deadline has passed at the given
// instant.
func (i *ChatInvitation) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

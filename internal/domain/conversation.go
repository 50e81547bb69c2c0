package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ConversationType distinguishes one-to-one chats from group chats
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// ConversationScope classifies a conversation by participant composition
type ConversationScope string

const (
	ScopeInternal    ConversationScope = "internal"
	ScopeExternal    ConversationScope = "external"
	ScopeCrossTenant ConversationScope = "cross_tenant"
)

// Conversation represents conversation metadata
// Maps to CockroachDB conversations table
type Conversation struct {
	ConversationID uuid.UUID         `json:"conversation_id" db:"conversation_id"`
	Type           ConversationType  `json:"type" db:"type"`
	Scope          ConversationScope `json:"scope" db:"scope"`
	TenantID       *uuid.UUID        `json:"tenant_id,omitempty" db:"tenant_id"` // nil for pure-external
	Name           *string           `json:"name,omitempty" db:"name"`           // group only
	Description    *string           `json:"description,omitempty" db:"description"`
	AvatarURL      *string           `json:"avatar_url,omitempty" db:"avatar_url"`
	PairKey        *string           `json:"-" db:"pair_key"` // canonical identity-pair key, direct only

	// Denormalized preview of the latest message for list rendering
	LastMessageAt     *time.Time `json:"last_message_at,omitempty" db:"last_message_at"`
	LastMessageText   *string    `json:"last_message_text,omitempty" db:"last_message_text"`
	LastMessageSender *string    `json:"last_message_sender,omitempty" db:"last_message_sender"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ParticipantType identifies how a participant is registered in the workspace
type ParticipantType string

const (
	ParticipantInternal     ParticipantType = "internal"
	ParticipantExternalUser ParticipantType = "external_user"
	ParticipantGuest        ParticipantType = "guest"
)

// ParticipantRole controls privileged conversation mutations
type ParticipantRole string

const (
	RoleOwner  ParticipantRole = "owner"
	RoleAdmin  ParticipantRole = "admin"
	RoleMember ParticipantRole = "member"
)

// Participant represents one identity's membership in a conversation.
// Rows are never physically deleted; LeftAt marks soft removal so message
// attribution survives the member leaving.
type Participant struct {
	ParticipantID  uuid.UUID       `json:"participant_id" db:"participant_id"`
	ConversationID uuid.UUID       `json:"conversation_id" db:"conversation_id"`
	Type           ParticipantType `json:"type" db:"type"`
	UserID         *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`       // internal / external_user
	TenantID       *uuid.UUID      `json:"tenant_id,omitempty" db:"tenant_id"`   // internal / external_user
	ContactID      *uuid.UUID      `json:"contact_id,omitempty" db:"contact_id"` // guest

	DisplayName string  `json:"display_name" db:"display_name"`
	Email       string  `json:"email" db:"email"`
	AvatarURL   *string `json:"avatar_url,omitempty" db:"avatar_url"`
	Company     *string `json:"company,omitempty" db:"company"`

	Role ParticipantRole `json:"role" db:"role"`

	LastReadAt        *time.Time `json:"last_read_at,omitempty" db:"last_read_at"`
	LastReadMessageID *uuid.UUID `json:"last_read_message_id,omitempty" db:"last_read_message_id"`
	UnreadCount       int        `json:"unread_count" db:"unread_count"`
	IsMuted           bool       `json:"is_muted" db:"is_muted"`
	IsPinned          bool       `json:"is_pinned" db:"is_pinned"`
	IsArchived        bool       `json:"is_archived" db:"is_archived"`
	LastSeenAt        *time.Time `json:"last_seen_at,omitempty" db:"last_seen_at"`

	JoinedAt time.Time  `json:"joined_at" db:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty" db:"left_at"`
}

// Active reports whether the participant still belongs to the conversation.
func (p *Participant) Active() bool {
	return p.LeftAt == nil
}

// CanManageMembers reports whether the participant may remove other members.
func (p *Participant) CanManageMembers() bool {
	return p.Role == RoleOwner || p.Role == RoleAdmin
}

// DescriptorKind tags the ParticipantDescriptor union
type DescriptorKind string

const (
	DescriptorInternal     DescriptorKind = "internal"
	DescriptorExternalUser DescriptorKind = "external_user"
	DescriptorGuest        DescriptorKind = "guest"
)

// ParticipantDescriptor is a tagged union describing an identity to be added
// to a conversation. Internal and external_user carry (UserID, TenantID);
// guests carry a ContactID resolved through the contact directory.
type ParticipantDescriptor struct {
	Kind DescriptorKind `json:"kind" binding:"required,oneof=internal external_user guest"`

	UserID     uuid.UUID `json:"user_id,omitempty"`
	TenantID   uuid.UUID `json:"tenant_id,omitempty"`
	TenantName string    `json:"tenant_name,omitempty"` // external_user only

	ContactID uuid.UUID `json:"contact_id,omitempty"` // guest only

	DisplayName string  `json:"display_name"`
	Email       string  `json:"email"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	Company     *string `json:"company,omitempty"`
}

// IdentityKey returns a stable string identifying the descriptor's identity,
// used to build the canonical direct-conversation pair key.
func (d *ParticipantDescriptor) IdentityKey() string {
	if d.Kind == DescriptorGuest {
		return fmt.Sprintf("contact:%s", d.ContactID)
	}
	return fmt.Sprintf("user:%s@%s", d.UserID, d.TenantID)
}

// ParticipantType maps the descriptor kind to the stored participant type.
func (d *ParticipantDescriptor) ParticipantType() ParticipantType {
	switch d.Kind {
	case DescriptorGuest:
		return ParticipantGuest
	case DescriptorExternalUser:
		return ParticipantExternalUser
	default:
		return ParticipantInternal
	}
}

// DirectPairKey computes the canonical key for a direct conversation between
// two identities. The key is order-insensitive so (A,B) and (B,A) collide on
// the partial unique index that closes the create race.
func DirectPairKey(a, b string) string {
	keys := []string{a, b}
	sort.Strings(keys)
	sum := sha256.Sum256([]byte(keys[0] + "|" + keys[1]))
	return hex.EncodeToString(sum[:])
}

package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestDirectPairKeyOrderInsensitive(t *testing.T) {
	a := "user:" + uuid.NewString() + "@" + uuid.NewString()
	b := "user:" + uuid.NewString() + "@" + uuid.NewString()

	assert.Equal(t, DirectPairKey(a, b), DirectPairKey(b, a))
	assert.NotEqual(t, DirectPairKey(a, b), DirectPairKey(a, a))
}

func TestCalculateBucket(t *testing.T) {
	assert.Equal(t, 202603, CalculateBucket(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, 202612, CalculateBucket(time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC)))

	// Bucket follows the UTC month, not the local one.
	loc := time.FixedZone("UTC+10", 10*3600)
	assert.Equal(t, 202602, CalculateBucket(time.Date(2026, 3, 1, 5, 0, 0, 0, loc)))
}

func TestPreviousBucket(t *testing.T) {
	assert.Equal(t, 202602, PreviousBucket(202603))
	assert.Equal(t, 202512, PreviousBucket(202601))
}

func TestComputeDuration(t *testing.T) {
	answered := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	ended := answered.Add(323 * time.Second)

	call := &CallLog{AnsweredAt: &answered, EndedAt: &ended}
	duration := call.ComputeDuration()
	assert.NotNil(t, duration)
	assert.Equal(t, 323, *duration)
}

func TestComputeDurationUnanswered(t *testing.T) {
	ended := time.Now().UTC()
	call := &CallLog{EndedAt: &ended}
	assert.Nil(t, call.ComputeDuration())
}

func TestComputeDurationClockSkew(t *testing.T) {
	answered := time.Date(2026, 1, 1, 10, 0, 5, 0, time.UTC)
	ended := answered.Add(-2 * time.Second)

	call := &CallLog{AnsweredAt: &answered, EndedAt: &ended}
	duration := call.ComputeDuration()
	assert.NotNil(t, duration)
	assert.Equal(t, 0, *duration)
}

func TestParticipantActive(t *testing.T) {
	p := &Participant{}
	assert.True(t, p.Active())

	left := time.Now().UTC()
	p.LeftAt = &left
	assert.False(t, p.Active())
}

func TestCanManageMembers(t *testing.T) {
	assert.True(t, (&Participant{Role: RoleOwner}).CanManageMembers())
	assert.True(t, (&Participant{Role: RoleAdmin}).CanManageMembers())
	assert.False(t, (&Participant{Role: RoleMember}).CanManageMembers())
}

func TestInvitationExpired(t *testing.T) {
	now := time.Now().UTC()
	inv := &ChatInvitation{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, inv.Expired(now))
	assert.True(t, inv.Expired(now.Add(2*time.Hour)))
}

func TestDescriptorIdentityKey(t *testing.T) {
	contactID := uuid.New()
	guest := &ParticipantDescriptor{Kind: DescriptorGuest, ContactID: contactID}
	assert.Equal(t, "contact:"+contactID.String(), guest.IdentityKey())

	userID, tenantID := uuid.New(), uuid.New()
	internal := &ParticipantDescriptor{Kind: DescriptorInternal, UserID: userID, TenantID: tenantID}
	external := &ParticipantDescriptor{Kind: DescriptorExternalUser, UserID: userID, TenantID: tenantID}
	assert.Equal(t, internal.IdentityKey(), external.IdentityKey())
}

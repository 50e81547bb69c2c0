package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallType represents the media kind of a call
type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

// CallStatus is the call state machine state
type CallStatus string

const (
	CallRinging CallStatus = "ringing"
	CallOngoing CallStatus = "ongoing"
	CallEnded   CallStatus = "ended"
)

// CallEndReason explains how an ended call terminated
type CallEndReason string

const (
	EndCompleted CallEndReason = "completed"
	EndDeclined  CallEndReason = "declined"
	EndMissed    CallEndReason = "missed"
	EndNoAnswer  CallEndReason = "no_answer"
	EndError     CallEndReason = "error"
)

// CallLog records one call session tied to a conversation.
// Maps to CockroachDB call_logs table. At most one call per conversation may
// be in a non-terminal state, enforced by a partial unique index plus a guard
// inside the initiate transaction.
type CallLog struct {
	CallID              uuid.UUID      `json:"call_id" db:"call_id"`
	ConversationID      uuid.UUID      `json:"conversation_id" db:"conversation_id"`
	CallerParticipantID uuid.UUID      `json:"caller_participant_id" db:"caller_participant_id"`
	Type                CallType       `json:"call_type" db:"call_type"`
	Status              CallStatus     `json:"status" db:"status"`
	EndReason           *CallEndReason `json:"end_reason,omitempty" db:"end_reason"`

	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// Whole seconds between answered_at and ended_at; nil when never answered.
	DurationSeconds *int `json:"duration_seconds,omitempty" db:"duration_seconds"`

	ParticipantsJoined []*CallParticipant `json:"participants_joined,omitempty" db:"-"`
}

// Terminal reports whether the call reached its final state.
func (c *CallLog) Terminal() bool {
	return c.Status == CallEnded
}

// ComputeDuration derives the call duration once both endpoints are known.
// Both operands are normalized to UTC before subtraction; a negative result
// (clock skew) is floored at zero.
func (c *CallLog) ComputeDuration() *int {
	if c.AnsweredAt == nil || c.EndedAt == nil {
		return nil
	}
	secs := int(c.EndedAt.UTC().Sub(c.AnsweredAt.UTC()) / time.Second)
	if secs < 0 {
		secs = 0
	}
	return &secs
}

// CallParticipant is one entry in the ordered participants-joined log.
type CallParticipant struct {
	CallID        uuid.UUID `json:"call_id" db:"call_id"`
	ParticipantID uuid.UUID `json:"participant_id" db:"participant_id"`
	JoinedAt      time.Time `json:"joined_at" db:"joined_at"`
}

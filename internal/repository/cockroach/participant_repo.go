package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"workchat-backend/internal/domain"
	apperrors "workchat-backend/pkg/errors"
)

// ParticipantRepository handles participant row persistence
type ParticipantRepository struct {
	pool *pgxpool.Pool
}

// NewParticipantRepository creates a new participant repository
func NewParticipantRepository(pool *pgxpool.Pool) *ParticipantRepository {
	return &ParticipantRepository{pool: pool}
}

const participantColumns = `
	participant_id, conversation_id, type, user_id, tenant_id, contact_id,
	display_name, email, avatar_url, company, role,
	last_read_at, last_read_message_id, unread_count,
	is_muted, is_pinned, is_archived, last_seen_at, joined_at, left_at`

func scanParticipant(row pgx.Row) (*domain.Participant, error) {
	p := &domain.Participant{}
	err := row.Scan(
		&p.ParticipantID,
		&p.ConversationID,
		&p.Type,
		&p.UserID,
		&p.TenantID,
		&p.ContactID,
		&p.DisplayName,
		&p.Email,
		&p.AvatarURL,
		&p.Company,
		&p.Role,
		&p.LastReadAt,
		&p.LastReadMessageID,
		&p.UnreadCount,
		&p.IsMuted,
		&p.IsPinned,
		&p.IsArchived,
		&p.LastSeenAt,
		&p.JoinedAt,
		&p.LeftAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFoundError("Participant")
		}
		return nil, fmt.Errorf("failed to scan participant: %w", err)
	}
	return p, nil
}

func insertParticipant(ctx context.Context, tx pgx.Tx, p *domain.Participant) error {
	query := `
		INSERT INTO participants (
			participant_id, conversation_id, type, user_id, tenant_id, contact_id,
			display_name, email, avatar_url, company, role, joined_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := tx.Exec(ctx, query,
		p.ParticipantID,
		p.ConversationID,
		p.Type,
		p.UserID,
		p.TenantID,
		p.ContactID,
		p.DisplayName,
		p.Email,
		p.AvatarURL,
		p.Company,
		p.Role,
		p.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert participant: %w", err)
	}
	return nil
}

// Add inserts a participant outside an existing transaction
func (r *ParticipantRepository) Add(ctx context.Context, p *domain.Participant) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertParticipant(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetByID retrieves a participant row by ID
func (r *ParticipantRepository) GetByID(ctx context.Context, participantID uuid.UUID) (*domain.Participant, error) {
	query := `SELECT` + participantColumns + ` FROM participants WHERE participant_id = $1`
	return scanParticipant(r.pool.QueryRow(ctx, query, participantID))
}

// GetActiveByUser resolves the active participant row for a registered user
// in a conversation. Absence doubles as the access check: requesters without
// an active row get NotFound, indistinguishable from a missing conversation.
func (r *ParticipantRepository) GetActiveByUser(
	ctx context.Context,
	conversationID, userID, tenantID uuid.UUID,
) (*domain.Participant, error) {
	query := `SELECT` + participantColumns + `
		FROM participants
		WHERE conversation_id = $1 AND user_id = $2 AND tenant_id = $3 AND left_at IS NULL`
	return scanParticipant(r.pool.QueryRow(ctx, query, conversationID, userID, tenantID))
}

// GetActiveByContact resolves the active guest participant row for a contact
func (r *ParticipantRepository) GetActiveByContact(
	ctx context.Context,
	conversationID, contactID uuid.UUID,
) (*domain.Participant, error) {
	query := `SELECT` + participantColumns + `
		FROM participants
		WHERE conversation_id = $1 AND contact_id = $2 AND left_at IS NULL`
	return scanParticipant(r.pool.QueryRow(ctx, query, conversationID, contactID))
}

// ListActive returns all active participants of a conversation in join order
func (r *ParticipantRepository) ListActive(ctx context.Context, conversationID uuid.UUID) ([]*domain.Participant, error) {
	query := `SELECT` + participantColumns + `
		FROM participants
		WHERE conversation_id = $1 AND left_at IS NULL
		ORDER BY joined_at ASC`

	rows, err := r.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []*domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}

// MarkLeft soft-removes a participant by stamping left_at. The row survives
// for message attribution history.
func (r *ParticipantRepository) MarkLeft(ctx context.Context, participantID uuid.UUID, at time.Time) error {
	query := `UPDATE participants SET left_at = $2 WHERE participant_id = $1 AND left_at IS NULL`

	tag, err := r.pool.Exec(ctx, query, participantID, at)
	if err != nil {
		return fmt.Errorf("failed to mark participant left: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFoundError("Participant")
	}
	return nil
}

// ParticipantFlag names the per-participant boolean toggles
type ParticipantFlag string

const (
	FlagMuted    ParticipantFlag = "is_muted"
	FlagPinned   ParticipantFlag = "is_pinned"
	FlagArchived ParticipantFlag = "is_archived"
)

// SetFlag toggles one per-participant boolean, independent of any other
// participant's state.
func (r *ParticipantRepository) SetFlag(ctx context.Context, participantID uuid.UUID, flag ParticipantFlag, value bool) error {
	var query string
	switch flag {
	case FlagMuted:
		query = `UPDATE participants SET is_muted = $2 WHERE participant_id = $1 AND left_at IS NULL`
	case FlagPinned:
		query = `UPDATE participants SET is_pinned = $2 WHERE participant_id = $1 AND left_at IS NULL`
	case FlagArchived:
		query = `UPDATE participants SET is_archived = $2 WHERE participant_id = $1 AND left_at IS NULL`
	default:
		return fmt.Errorf("unknown participant flag: %s", flag)
	}

	tag, err := r.pool.Exec(ctx, query, participantID, value)
	if err != nil {
		return fmt.Errorf("failed to set participant flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFoundError("Participant")
	}
	return nil
}

// IncrementUnread bumps unread_count for every active participant except the
// sender. Called alongside every send.
func (r *ParticipantRepository) IncrementUnread(ctx context.Context, conversationID, exceptParticipantID uuid.UUID) error {
	query := `
		UPDATE participants
		SET unread_count = unread_count + 1
		WHERE conversation_id = $1 AND participant_id != $2 AND left_at IS NULL
	`

	_, err := r.pool.Exec(ctx, query, conversationID, exceptParticipantID)
	if err != nil {
		return fmt.Errorf("failed to increment unread counts: %w", err)
	}
	return nil
}

// SetReadPointer updates the coarse list-view read state for one participant.
func (r *ParticipantRepository) SetReadPointer(
	ctx context.Context,
	participantID uuid.UUID,
	readAt time.Time,
	lastReadMessageID *uuid.UUID,
) error {
	query := `
		UPDATE participants
		SET last_read_at = $2,
		    last_read_message_id = COALESCE($3, last_read_message_id),
		    unread_count = 0
		WHERE participant_id = $1 AND left_at IS NULL
	`

	tag, err := r.pool.Exec(ctx, query, participantID, readAt, lastReadMessageID)
	if err != nil {
		return fmt.Errorf("failed to set read pointer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFoundError("Participant")
	}
	return nil
}

// TouchLastSeen stamps last_seen_at on every active participant row for the
// user across all their conversations. Presence is surfaced per conversation,
// so the fan-out write here avoids a join at display time.
func (r *ParticipantRepository) TouchLastSeen(ctx context.Context, userID, tenantID uuid.UUID, at time.Time) error {
	query := `
		UPDATE participants
		SET last_seen_at = $3
		WHERE user_id = $1 AND tenant_id = $2 AND left_at IS NULL
	`

	_, err := r.pool.Exec(ctx, query, userID, tenantID, at)
	if err != nil {
		return fmt.Errorf("failed to touch last seen: %w", err)
	}
	return nil
}

package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"workchat-backend/internal/domain"
	apperrors "workchat-backend/pkg/errors"
)

// InvitationRepository handles chat invitation persistence
type InvitationRepository struct {
	pool *pgxpool.Pool
}

// NewInvitationRepository creates a new invitation repository
func NewInvitationRepository(pool *pgxpool.Pool) *InvitationRepository {
	return &InvitationRepository{pool: pool}
}

const invitationColumns = `
	invitation_id, conversation_id, inviter_participant_id, inviter_tenant_id,
	invitee_email, message, token, status, expires_at, created_at`

func scanInvitation(row pgx.Row) (*domain.ChatInvitation, error) {
	inv := &domain.ChatInvitation{}
	err := row.Scan(
		&inv.InvitationID,
		&inv.ConversationID,
		&inv.InviterParticipantID,
		&inv.InviterTenantID,
		&inv.InviteeEmail,
		&inv.Message,
		&inv.Token,
		&inv.Status,
		&inv.ExpiresAt,
		&inv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFoundError("Invitation")
		}
		return nil, fmt.Errorf("failed to scan invitation: %w", err)
	}
	return inv, nil
}

// Create inserts a pending invitation
func (r *InvitationRepository) Create(ctx context.Context, inv *domain.ChatInvitation) error {
	query := `
		INSERT INTO chat_invitations (
			invitation_id, conversation_id, inviter_participant_id, inviter_tenant_id,
			invitee_email, message, token, status, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		inv.InvitationID,
		inv.ConversationID,
		inv.InviterParticipantID,
		inv.InviterTenantID,
		inv.InviteeEmail,
		inv.Message,
		inv.Token,
		inv.Status,
		inv.ExpiresAt,
		inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

// GetByToken retrieves an invitation by its token
func (r *InvitationRepository) GetByToken(ctx context.Context, token string) (*domain.ChatInvitation, error) {
	query := `SELECT` + invitationColumns + ` FROM chat_invitations WHERE token = $1`
	return scanInvitation(r.pool.QueryRow(ctx, query, token))
}

// FlipStatus transitions the invitation from pending to the given status.
// The pending predicate makes replays race-safe: the first caller to flip
// wins, later callers see zero rows updated.
func (r *InvitationRepository) FlipStatus(ctx context.Context, token string, to domain.InvitationStatus) (bool, error) {
	query := `UPDATE chat_invitations SET status = $2 WHERE token = $1 AND status = 'pending'`

	tag, err := r.pool.Exec(ctx, query, token, to)
	if err != nil {
		return false, fmt.Errorf("failed to flip invitation status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListForConversation returns a conversation's invitations, newest first
func (r *InvitationRepository) ListForConversation(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*domain.ChatInvitation, error) {
	query := `SELECT` + invitationColumns + `
		FROM chat_invitations
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*domain.ChatInvitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, inv)
	}

	return invitations, rows.Err()
}

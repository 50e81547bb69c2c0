package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"workchat-backend/internal/domain"
	apperrors "workchat-backend/pkg/errors"
)

// CallRepository handles call log persistence
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

const callColumns = `
	call_id, conversation_id, caller_participant_id, call_type, status,
	end_reason, started_at, answered_at, ended_at, duration_seconds`

func scanCall(row pgx.Row) (*domain.CallLog, error) {
	call := &domain.CallLog{}
	err := row.Scan(
		&call.CallID,
		&call.ConversationID,
		&call.CallerParticipantID,
		&call.Type,
		&call.Status,
		&call.EndReason,
		&call.StartedAt,
		&call.AnsweredAt,
		&call.EndedAt,
		&call.DurationSeconds,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFoundError("Call")
		}
		return nil, fmt.Errorf("failed to scan call: %w", err)
	}
	return call, nil
}

// CreateRinging inserts a new ringing call with the caller as first joined
// participant, guarding the at-most-one-active-call invariant inside the
// transaction. Returns ActiveCallError when the conversation already has a
// call in a non-terminal state.
func (r *CallRepository) CreateRinging(ctx context.Context, call *domain.CallLog) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	guard := `
		SELECT call_id FROM call_logs
		WHERE conversation_id = $1 AND status IN ('ringing', 'ongoing')
		LIMIT 1
		FOR UPDATE
	`
	var existing uuid.UUID
	err = tx.QueryRow(ctx, guard, call.ConversationID).Scan(&existing)
	if err == nil {
		return apperrors.ActiveCallError()
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to check active call: %w", err)
	}

	insert := `
		INSERT INTO call_logs (
			call_id, conversation_id, caller_participant_id, call_type, status, started_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = tx.Exec(ctx, insert,
		call.CallID,
		call.ConversationID,
		call.CallerParticipantID,
		call.Type,
		call.Status,
		call.StartedAt,
	)
	if err != nil {
		// Two initiators can both pass the guard on an absent row; the
		// partial unique index catches the loser.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ActiveCallError()
		}
		return fmt.Errorf("failed to create call: %w", err)
	}

	joined := `INSERT INTO call_participants (call_id, participant_id, joined_at) VALUES ($1, $2, $3)`
	if _, err := tx.Exec(ctx, joined, call.CallID, call.CallerParticipantID, call.StartedAt); err != nil {
		return fmt.Errorf("failed to add caller: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.CallLog, error) {
	query := `SELECT` + callColumns + ` FROM call_logs WHERE call_id = $1`
	return scanCall(r.pool.QueryRow(ctx, query, callID))
}

// GetActive returns the single call in a non-terminal state for the
// conversation, by most recent start.
func (r *CallRepository) GetActive(ctx context.Context, conversationID uuid.UUID) (*domain.CallLog, error) {
	query := `SELECT` + callColumns + `
		FROM call_logs
		WHERE conversation_id = $1 AND status IN ('ringing', 'ongoing')
		ORDER BY started_at DESC
		LIMIT 1`
	return scanCall(r.pool.QueryRow(ctx, query, conversationID))
}

// MarkOngoing transitions a ringing call to ongoing. The status predicate in
// the WHERE clause makes concurrent answers race-safe: only one caller sees a
// row transition.
func (r *CallRepository) MarkOngoing(ctx context.Context, callID uuid.UUID, answeredAt time.Time) (bool, error) {
	query := `
		UPDATE call_logs
		SET status = 'ongoing', answered_at = $2
		WHERE call_id = $1 AND status = 'ringing'
	`

	tag, err := r.pool.Exec(ctx, query, callID, answeredAt)
	if err != nil {
		return false, fmt.Errorf("failed to mark call ongoing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkEnded transitions a non-terminal call to ended with the given reason.
func (r *CallRepository) MarkEnded(
	ctx context.Context,
	callID uuid.UUID,
	reason domain.CallEndReason,
	endedAt time.Time,
	durationSeconds *int,
) (bool, error) {
	query := `
		UPDATE call_logs
		SET status = 'ended', end_reason = $2, ended_at = $3, duration_seconds = $4
		WHERE call_id = $1 AND status IN ('ringing', 'ongoing')
	`

	tag, err := r.pool.Exec(ctx, query, callID, reason, endedAt, durationSeconds)
	if err != nil {
		return false, fmt.Errorf("failed to mark call ended: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AddParticipant appends a participant to the joined log, idempotent against
// double-joins by the same identity.
func (r *CallRepository) AddParticipant(ctx context.Context, callID, participantID uuid.UUID, joinedAt time.Time) error {
	query := `
		INSERT INTO call_participants (call_id, participant_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (call_id, participant_id) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query, callID, participantID, joinedAt)
	if err != nil {
		return fmt.Errorf("failed to add call participant: %w", err)
	}
	return nil
}

// GetParticipants returns the ordered joined log for a call
func (r *CallRepository) GetParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	query := `
		SELECT call_id, participant_id, joined_at
		FROM call_participants
		WHERE call_id = $1
		ORDER BY joined_at ASC
	`

	rows, err := r.pool.Query(ctx, query, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to get call participants: %w", err)
	}
	defer rows.Close()

	var participants []*domain.CallParticipant
	for rows.Next() {
		p := &domain.CallParticipant{}
		if err := rows.Scan(&p.CallID, &p.ParticipantID, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan call participant: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}

// ListForConversation returns the call history of a conversation, newest first
func (r *CallRepository) ListForConversation(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*domain.CallLog, error) {
	query := `SELECT` + callColumns + `
		FROM call_logs
		WHERE conversation_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()

	var calls []*domain.CallLog
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}

	return calls, rows.Err()
}

// ListRingingBefore returns IDs of calls still ringing after the cutoff
func (r *CallRepository) ListRingingBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	query := `SELECT call_id FROM call_logs
		WHERE status = 'ringing' AND started_at < $1`

	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list ringing calls: %w", err)
	}
	defer rows.Close()

	var callIDs []uuid.UUID
	for rows.Next() {
		var callID uuid.UUID
		if err := rows.Scan(&callID); err != nil {
			return nil, fmt.Errorf("failed to scan call id: %w", err)
		}
		callIDs = append(callIDs, callID)
	}

	return callIDs, rows.Err()
}

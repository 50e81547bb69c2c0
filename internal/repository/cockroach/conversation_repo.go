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

// Transaction provides transaction support
type Transaction struct {
	tx pgx.Tx
}

// Commit commits the transaction
func (t *Transaction) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback rolls back the transaction
func (t *Transaction) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

// ConversationRepository handles conversation and participant persistence
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// BeginTx starts a new transaction
func (r *ConversationRepository) BeginTx(ctx context.Context) (*Transaction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Transaction{tx: tx}, nil
}

const conversationColumns = `
	conversation_id, type, scope, tenant_id, name, description, avatar_url,
	pair_key, last_message_at, last_message_text, last_message_sender,
	created_at, updated_at`

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	conv := &domain.Conversation{}
	err := row.Scan(
		&conv.ConversationID,
		&conv.Type,
		&conv.Scope,
		&conv.TenantID,
		&conv.Name,
		&conv.Description,
		&conv.AvatarURL,
		&conv.PairKey,
		&conv.LastMessageAt,
		&conv.LastMessageText,
		&conv.LastMessageSender,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFoundError("Conversation")
		}
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	return conv, nil
}

// CreateDirect inserts a direct conversation and its two participants in one
// transaction. The pair_key unique index makes the insert race-safe: when a
// concurrent call already created the pair, no row is inserted and the
// existing conversation is returned instead.
func (r *ConversationRepository) CreateDirect(
	ctx context.Context,
	conv *domain.Conversation,
	participants []*domain.Participant,
) (*domain.Conversation, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO conversations (
			conversation_id, type, scope, tenant_id, pair_key, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (pair_key) DO NOTHING
	`

	tag, err := tx.Exec(ctx, insert,
		conv.ConversationID,
		conv.Type,
		conv.Scope,
		conv.TenantID,
		conv.PairKey,
		conv.CreatedAt,
		conv.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Lost the race; fetch the winner.
		existing, err := r.GetByPairKey(ctx, *conv.PairKey)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	for _, p := range participants {
		if err := insertParticipant(ctx, tx, p); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return conv, true, nil
}

// GetByPairKey retrieves a direct conversation by its canonical pair key
func (r *ConversationRepository) GetByPairKey(ctx context.Context, pairKey string) (*domain.Conversation, error) {
	query := `SELECT` + conversationColumns + ` FROM conversations WHERE pair_key = $1`
	return scanConversation(r.pool.QueryRow(ctx, query, pairKey))
}

// CreateGroup inserts a group conversation and all initial participants in
// one transaction.
func (r *ConversationRepository) CreateGroup(
	ctx context.Context,
	conv *domain.Conversation,
	participants []*domain.Participant,
) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO conversations (
			conversation_id, type, scope, tenant_id, name, description,
			avatar_url, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = tx.Exec(ctx, insert,
		conv.ConversationID,
		conv.Type,
		conv.Scope,
		conv.TenantID,
		conv.Name,
		conv.Description,
		conv.AvatarURL,
		conv.CreatedAt,
		conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	for _, p := range participants {
		if err := insertParticipant(ctx, tx, p); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a conversation by ID
func (r *ConversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	query := `SELECT` + conversationColumns + ` FROM conversations WHERE conversation_id = $1`
	return scanConversation(r.pool.QueryRow(ctx, query, conversationID))
}

// ListFilter narrows the conversation listing for one user.
type ListFilter struct {
	Scope      *domain.ConversationScope
	Type       *domain.ConversationType
	UnreadOnly bool
	Archived   *bool
	Limit      int
	Offset     int
}

// ListForUser returns conversations where the user holds an active
// participant row, ordered by last_message_at descending with nulls last.
func (r *ConversationRepository) ListForUser(
	ctx context.Context,
	userID, tenantID uuid.UUID,
	filter *ListFilter,
) ([]*domain.Conversation, error) {
	query := `
		SELECT c.conversation_id, c.type, c.scope, c.tenant_id, c.name,
		       c.description, c.avatar_url, c.pair_key, c.last_message_at,
		       c.last_message_text, c.last_message_sender, c.created_at, c.updated_at
		FROM conversations c
		INNER JOIN participants p ON c.conversation_id = p.conversation_id
		WHERE p.user_id = $1 AND p.tenant_id = $2 AND p.left_at IS NULL
	`
	args := []interface{}{userID, tenantID}

	if filter.Scope != nil {
		args = append(args, *filter.Scope)
		query += fmt.Sprintf(" AND c.scope = $%d", len(args))
	}
	if filter.Type != nil {
		args = append(args, *filter.Type)
		query += fmt.Sprintf(" AND c.type = $%d", len(args))
	}
	if filter.UnreadOnly {
		query += " AND p.unread_count > 0"
	}
	if filter.Archived != nil {
		args = append(args, *filter.Archived)
		query += fmt.Sprintf(" AND p.is_archived = $%d", len(args))
	}

	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY c.last_message_at DESC NULLS LAST LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}

	return conversations, rows.Err()
}

// UpdateScope upgrades the conversation scope (e.g. internal -> cross_tenant
// when an invitation introduces an outside participant).
func (r *ConversationRepository) UpdateScope(ctx context.Context, conversationID uuid.UUID, scope domain.ConversationScope) error {
	query := `UPDATE conversations SET scope = $2, updated_at = now() WHERE conversation_id = $1`

	tag, err := r.pool.Exec(ctx, query, conversationID, scope)
	if err != nil {
		return fmt.Errorf("failed to update scope: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFoundError("Conversation")
	}
	return nil
}

// BumpLastMessage refreshes the denormalized last-message preview used by
// list rendering. Called alongside every send.
func (r *ConversationRepository) BumpLastMessage(
	ctx context.Context,
	conversationID uuid.UUID,
	senderName, snippet string,
	at time.Time,
) error {
	query := `
		UPDATE conversations
		SET last_message_at = $2,
		    last_message_text = $3,
		    last_message_sender = $4,
		    updated_at = now()
		WHERE conversation_id = $1
	`

	_, err := r.pool.Exec(ctx, query, conversationID, at, snippet, senderName)
	if err != nil {
		return fmt.Errorf("failed to bump last message: %w", err)
	}
	return nil
}

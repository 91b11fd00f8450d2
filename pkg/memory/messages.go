package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

const messageColumns = "id, user_id, session_id, role, content, agent_type, tokens_used, processing_time_ms, created_at"

// MessageRepository persists conversation messages. Rows are append-only;
// the only delete path is retention cleanup.
type MessageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository creates a repository over the shared pool.
func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Insert appends the message and bumps the session's message count and
// activity timestamp in the same transaction.
func (r *MessageRepository) Insert(ctx context.Context, message *models.ConversationMessage) (*models.ConversationMessage, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
	INSERT INTO conversation_messages (user_id, session_id, role, content, agent_type, tokens_used, processing_time_ms)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING `+messageColumns,
		message.UserID, message.SessionID, string(message.Role), message.Content,
		message.AgentType, message.TokensUsed, message.ProcessingTimeMS,
	)
	saved, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message for user %d: %w", message.UserID, err)
	}

	_, err = tx.Exec(ctx, `
	UPDATE conversation_sessions
	SET message_count = message_count + 1, last_activity_at = now()
	WHERE id = $1`,
		message.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to update session activity: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}
	return saved, nil
}

// Recent returns the user's last messages across all sessions in
// chronological order (oldest of the window first).
func (r *MessageRepository) Recent(ctx context.Context, userID int64, limit int) ([]*models.ConversationMessage, error) {
	rows, err := r.pool.Query(ctx, `
	SELECT `+messageColumns+`
	FROM conversation_messages
	WHERE user_id = $1
	ORDER BY created_at DESC, id DESC
	LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent messages for user %d: %w", userID, err)
	}
	defer rows.Close()

	messages, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	reverseMessages(messages)
	return messages, nil
}

// BySession returns all messages of one session in chronological order.
func (r *MessageRepository) BySession(ctx context.Context, sessionID string) ([]*models.ConversationMessage, error) {
	rows, err := r.pool.Query(ctx, `
	SELECT `+messageColumns+`
	FROM conversation_messages
	WHERE session_id = $1
	ORDER BY created_at ASC, id ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// DeleteOlderThan removes messages created before the cutoff and reports
// how many were deleted.
func (r *MessageRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		"DELETE FROM conversation_messages WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the total number of stored messages.
func (r *MessageRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM conversation_messages").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func collectMessages(rows pgx.Rows) ([]*models.ConversationMessage, error) {
	var messages []*models.ConversationMessage
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

func scanMessage(row pgx.Row) (*models.ConversationMessage, error) {
	var (
		message models.ConversationMessage
		role    string
	)
	err := row.Scan(
		&message.ID,
		&message.UserID,
		&message.SessionID,
		&role,
		&message.Content,
		&message.AgentType,
		&message.TokensUsed,
		&message.ProcessingTimeMS,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	message.Role = models.MessageRole(role)
	return &message, nil
}

func reverseMessages(messages []*models.ConversationMessage) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}

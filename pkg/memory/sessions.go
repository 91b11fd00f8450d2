package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

const sessionColumns = "id, user_id, started_at, last_activity_at, ended_at, message_count, metadata"

// uniqueViolation is the PostgreSQL error code raised when the partial unique
// index rejects a second active session for the same user.
const uniqueViolation = "23505"

// SessionRepository persists conversation sessions. The schema enforces at
// most one active session per user.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a repository over the shared pool.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// GetOrCreate returns the user's active session, closing and replacing it
// first when it has been idle longer than staleAfter. Safe to call from
// concurrent turns: the partial unique index turns the create race into a
// constraint error, which is resolved by re-reading.
func (r *SessionRepository) GetOrCreate(ctx context.Context, userID int64, staleAfter time.Duration) (*models.ConversationSession, error) {
	session, err := r.ActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if session != nil {
		if staleAfter <= 0 || time.Since(session.LastActivityAt) <= staleAfter {
			return session, nil
		}
		if err := r.Close(ctx, session.ID); err != nil {
			return nil, err
		}
	}

	created, err := r.create(ctx, userID)
	if err == nil {
		return created, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if existing, readErr := r.ActiveByUser(ctx, userID); readErr == nil && existing != nil {
			return existing, nil
		}
	}
	return nil, err
}

func (r *SessionRepository) create(ctx context.Context, userID int64) (*models.ConversationSession, error) {
	row := r.pool.QueryRow(ctx, `
	INSERT INTO conversation_sessions (id, user_id)
	VALUES ($1, $2)
	RETURNING `+sessionColumns,
		uuid.NewString(), userID)

	session, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for user %d: %w", userID, err)
	}
	return session, nil
}

// Get returns the session, or (nil, nil) when it does not exist.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*models.ConversationSession, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM conversation_sessions WHERE id = $1", sessionID)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	return session, nil
}

// ActiveByUser returns the user's open session, or (nil, nil) when there is none.
func (r *SessionRepository) ActiveByUser(ctx context.Context, userID int64) (*models.ConversationSession, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM conversation_sessions WHERE user_id = $1 AND ended_at IS NULL",
		userID)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active session for user %d: %w", userID, err)
	}
	return session, nil
}

// Close marks the session as ended. Closing an already closed session is a no-op.
func (r *SessionRepository) Close(ctx context.Context, sessionID string) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE conversation_sessions SET ended_at = now() WHERE id = $1 AND ended_at IS NULL",
		sessionID)
	if err != nil {
		return fmt.Errorf("failed to close session %s: %w", sessionID, err)
	}
	return nil
}

// CloseStale ends every active session idle since before the cutoff and
// reports how many were closed.
func (r *SessionRepository) CloseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		"UPDATE conversation_sessions SET ended_at = now() WHERE ended_at IS NULL AND last_activity_at < $1",
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to close stale sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the total number of sessions.
func (r *SessionRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM conversation_sessions").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

// CountActive returns the number of open sessions.
func (r *SessionRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM conversation_sessions WHERE ended_at IS NULL").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return count, nil
}

func scanSession(row pgx.Row) (*models.ConversationSession, error) {
	var (
		session  models.ConversationSession
		metadata []byte
	)
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.StartedAt,
		&session.LastActivityAt,
		&session.EndedAt,
		&session.MessageCount,
		&metadata,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &session.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session metadata: %w", err)
		}
	}
	return &session, nil
}

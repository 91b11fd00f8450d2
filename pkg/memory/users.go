// Package memory implements the long-term memory subsystem: PostgreSQL
// repositories for users, profiles, facts, conversations and extraction
// events, the service assembling per-user memory context, and the LLM fact
// extraction pipeline.
package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

const userColumns = "telegram_id, username, first_name, last_name, language, is_allowed, created_at, updated_at"

// UserRepository persists users keyed by their Telegram id.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a repository over the shared pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Upsert inserts the user or refreshes the identity fields of an existing row.
// is_allowed is only set on insert; admission changes go through SetAllowed.
func (r *UserRepository) Upsert(ctx context.Context, user *models.User) (*models.User, error) {
	row := r.pool.QueryRow(ctx, `
	INSERT INTO users (telegram_id, username, first_name, last_name, language, is_allowed)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (telegram_id) DO UPDATE SET
		username = EXCLUDED.username,
		first_name = EXCLUDED.first_name,
		last_name = EXCLUDED.last_name,
		language = EXCLUDED.language,
		updated_at = now()
	RETURNING `+userColumns,
		user.TelegramID, user.Username, user.FirstName, user.LastName, user.Language, user.IsAllowed,
	)

	saved, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user %d: %w", user.TelegramID, err)
	}
	return saved, nil
}

// Get returns the user, or (nil, nil) when the row does not exist.
func (r *UserRepository) Get(ctx context.Context, telegramID int64) (*models.User, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE telegram_id = $1", telegramID)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user %d: %w", telegramID, err)
	}
	return user, nil
}

// SetAllowed flips the admission flag for an existing user.
func (r *UserRepository) SetAllowed(ctx context.Context, telegramID int64, allowed bool) error {
	tag, err := r.pool.Exec(ctx,
		"UPDATE users SET is_allowed = $2, updated_at = now() WHERE telegram_id = $1",
		telegramID, allowed)
	if err != nil {
		return fmt.Errorf("failed to update user %d: %w", telegramID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %d: %w", telegramID, ErrNotFound)
	}
	return nil
}

// List returns users ordered by creation time, newest first.
func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// Count returns the total number of users.
func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.TelegramID,
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&user.Language,
		&user.IsAllowed,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

package memory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

const factColumns = "id, user_id, fact_type, fact_key, fact_value, confidence, source, expires_at, created_at, updated_at"

// FactRepository persists extracted facts. Uniqueness key is
// (user_id, fact_type, fact_key); upserts replace value, confidence, source
// and expiry.
type FactRepository struct {
	pool *pgxpool.Pool
}

// NewFactRepository creates a repository over the shared pool.
func NewFactRepository(pool *pgxpool.Pool) *FactRepository {
	return &FactRepository{pool: pool}
}

// Upsert inserts the fact or replaces the stored value under the same key.
func (r *FactRepository) Upsert(ctx context.Context, fact *models.ProfileFact) (*models.ProfileFact, error) {
	row := r.pool.QueryRow(ctx, `
	INSERT INTO profile_facts (user_id, fact_type, fact_key, fact_value, confidence, source, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (user_id, fact_type, fact_key) DO UPDATE SET
		fact_value = EXCLUDED.fact_value,
		confidence = EXCLUDED.confidence,
		source = EXCLUDED.source,
		expires_at = EXCLUDED.expires_at,
		updated_at = now()
	RETURNING `+factColumns,
		fact.UserID, fact.FactType, fact.FactKey, fact.FactValue,
		fact.Confidence, fact.Source, fact.ExpiresAt,
	)

	saved, err := scanFact(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert fact %s/%s for user %d: %w",
			fact.FactType, fact.FactKey, fact.UserID, err)
	}
	return saved, nil
}

// ListByUser returns the user's unexpired facts, most recently updated first.
func (r *FactRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*models.ProfileFact, error) {
	rows, err := r.pool.Query(ctx, `
	SELECT `+factColumns+`
	FROM profile_facts
	WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > now())
	ORDER BY updated_at DESC
	LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list facts for user %d: %w", userID, err)
	}
	defer rows.Close()

	var facts []*models.ProfileFact
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

// Delete removes one fact by its uniqueness key.
func (r *FactRepository) Delete(ctx context.Context, userID int64, factType, factKey string) error {
	tag, err := r.pool.Exec(ctx,
		"DELETE FROM profile_facts WHERE user_id = $1 AND fact_type = $2 AND fact_key = $3",
		userID, factType, factKey)
	if err != nil {
		return fmt.Errorf("failed to delete fact %s/%s for user %d: %w", factType, factKey, userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fact %s/%s for user %d: %w", factType, factKey, userID, ErrNotFound)
	}
	return nil
}

// DeleteExpired removes facts whose expiry has passed and reports how many.
func (r *FactRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		"DELETE FROM profile_facts WHERE expires_at IS NOT NULL AND expires_at <= now()")
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired facts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the total number of stored facts.
func (r *FactRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM profile_facts").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count facts: %w", err)
	}
	return count, nil
}

func scanFact(row pgx.Row) (*models.ProfileFact, error) {
	var fact models.ProfileFact
	err := row.Scan(
		&fact.ID,
		&fact.UserID,
		&fact.FactType,
		&fact.FactKey,
		&fact.FactValue,
		&fact.Confidence,
		&fact.Source,
		&fact.ExpiresAt,
		&fact.CreatedAt,
		&fact.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &fact, nil
}

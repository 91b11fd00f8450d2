package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

const eventColumns = "id, user_id, message_id, facts_extracted, model, raw_response, created_at"

// ExtractionEventRepository records extraction attempts for auditing.
type ExtractionEventRepository struct {
	pool *pgxpool.Pool
}

// NewExtractionEventRepository creates a repository over the shared pool.
func NewExtractionEventRepository(pool *pgxpool.Pool) *ExtractionEventRepository {
	return &ExtractionEventRepository{pool: pool}
}

// Insert records one extraction attempt.
func (r *ExtractionEventRepository) Insert(ctx context.Context, event *models.MemoryExtractionEvent) (*models.MemoryExtractionEvent, error) {
	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}

	row := r.pool.QueryRow(ctx, `
	INSERT INTO memory_extraction_events (id, user_id, message_id, facts_extracted, model, raw_response)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING `+eventColumns,
		id, event.UserID, event.MessageID, event.FactsExtracted, event.Model, event.RawResponse,
	)

	saved, err := scanEvent(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert extraction event for user %d: %w", event.UserID, err)
	}
	return saved, nil
}

// Recent returns the user's latest extraction events, newest first.
func (r *ExtractionEventRepository) Recent(ctx context.Context, userID int64, limit int) ([]*models.MemoryExtractionEvent, error) {
	rows, err := r.pool.Query(ctx, `
	SELECT `+eventColumns+`
	FROM memory_extraction_events
	WHERE user_id = $1
	ORDER BY created_at DESC
	LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list extraction events for user %d: %w", userID, err)
	}
	defer rows.Close()

	var events []*models.MemoryExtractionEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan extraction event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanEvent(row pgx.Row) (*models.MemoryExtractionEvent, error) {
	var event models.MemoryExtractionEvent
	err := row.Scan(
		&event.ID,
		&event.UserID,
		&event.MessageID,
		&event.FactsExtracted,
		&event.Model,
		&event.RawResponse,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

const profileColumns = `user_id, preferred_name, age, location, timezone, occupation,
	languages, interests, expertise_areas, communication_style, custom_attributes,
	created_at, updated_at`

// ProfileRepository persists the single structured profile row per user.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository creates a repository over the shared pool.
func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// Get returns the profile, or (nil, nil) when none is stored yet.
func (r *ProfileRepository) Get(ctx context.Context, userID int64) (*models.UserProfile, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+profileColumns+" FROM user_profiles WHERE user_id = $1", userID)

	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile for user %d: %w", userID, err)
	}
	return profile, nil
}

// Upsert writes the complete profile row. Callers merge before writing; the
// stored row is replaced wholesale.
func (r *ProfileRepository) Upsert(ctx context.Context, profile *models.UserProfile) (*models.UserProfile, error) {
	attrs, err := json.Marshal(attributesOrEmpty(profile.CustomAttributes))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal custom attributes: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
	INSERT INTO user_profiles (user_id, preferred_name, age, location, timezone, occupation,
		languages, interests, expertise_areas, communication_style, custom_attributes)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (user_id) DO UPDATE SET
		preferred_name = EXCLUDED.preferred_name,
		age = EXCLUDED.age,
		location = EXCLUDED.location,
		timezone = EXCLUDED.timezone,
		occupation = EXCLUDED.occupation,
		languages = EXCLUDED.languages,
		interests = EXCLUDED.interests,
		expertise_areas = EXCLUDED.expertise_areas,
		communication_style = EXCLUDED.communication_style,
		custom_attributes = EXCLUDED.custom_attributes,
		updated_at = now()
	RETURNING `+profileColumns,
		profile.UserID,
		profile.PreferredName,
		profile.Age,
		profile.Location,
		profile.Timezone,
		profile.Occupation,
		sliceOrEmpty(profile.Languages),
		sliceOrEmpty(profile.Interests),
		sliceOrEmpty(profile.ExpertiseAreas),
		profile.CommunicationStyle,
		attrs,
	)

	saved, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert profile for user %d: %w", profile.UserID, err)
	}
	return saved, nil
}

func scanProfile(row pgx.Row) (*models.UserProfile, error) {
	var (
		profile models.UserProfile
		attrs   []byte
	)
	err := row.Scan(
		&profile.UserID,
		&profile.PreferredName,
		&profile.Age,
		&profile.Location,
		&profile.Timezone,
		&profile.Occupation,
		&profile.Languages,
		&profile.Interests,
		&profile.ExpertiseAreas,
		&profile.CommunicationStyle,
		&attrs,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &profile.CustomAttributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal custom attributes: %w", err)
		}
	}
	return &profile, nil
}

// sliceOrEmpty keeps TEXT[] columns NOT NULL by never sending a nil slice.
func sliceOrEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func attributesOrEmpty(attrs map[string]any) map[string]any {
	if attrs == nil {
		return map[string]any{}
	}
	return attrs
}

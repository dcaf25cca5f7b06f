package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edelae/frepi/pkg/database"
	"github.com/edelae/frepi/pkg/models"
)

// EngagementRepository provides data access for engagement profiles.
type EngagementRepository interface {
	// Upsert writes the full profile for a restaurant, creating the row on
	// first commit.
	Upsert(ctx context.Context, profile *models.EngagementProfile) error

	// GetByRestaurant retrieves the profile. Returns nil if not found.
	GetByRestaurant(ctx context.Context, restaurantID int64) (*models.EngagementProfile, error)

	// ListForRecalculation returns all profiles, for the nightly
	// engagement-score job.
	ListForRecalculation(ctx context.Context) ([]*models.EngagementProfile, error)

	// IncrementDripAnswered bumps the answered counter.
	IncrementDripAnswered(ctx context.Context, restaurantID int64) error

	// IncrementDripSkipped bumps the skipped counter.
	IncrementDripSkipped(ctx context.Context, restaurantID int64) error

	// RecordCorrection bumps the correction counters.
	RecordCorrection(ctx context.Context, restaurantID int64, withReason bool) error

	// TouchSession stamps the latest session time.
	TouchSession(ctx context.Context, restaurantID int64) error
}

type engagementRepository struct {
	db *database.DB
}

// NewEngagementRepository creates a new EngagementRepository.
func NewEngagementRepository(db *database.DB) EngagementRepository {
	return &engagementRepository{db: db}
}

var _ EngagementRepository = (*engagementRepository)(nil)

const engagementColumns = `
	id, restaurant_id, engagement_score, engagement_level, drip_questions_per_session,
	onboarding_depth, drip_questions_answered, drip_questions_skipped,
	total_corrections, corrections_with_reason, sessions_last_30_days,
	preferences_interacted, last_session_at, last_recalculated,
	created_at, updated_at`

func (r *engagementRepository) Upsert(ctx context.Context, profile *models.EngagementProfile) error {
	query := `
		INSERT INTO engagement_profiles (
			restaurant_id, engagement_score, engagement_level, drip_questions_per_session,
			onboarding_depth, drip_questions_answered, drip_questions_skipped,
			total_corrections, corrections_with_reason, sessions_last_30_days,
			preferences_interacted, last_session_at, last_recalculated,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW(), NOW())
		ON CONFLICT (restaurant_id) DO UPDATE
		SET engagement_score = EXCLUDED.engagement_score,
		    engagement_level = EXCLUDED.engagement_level,
		    drip_questions_per_session = EXCLUDED.drip_questions_per_session,
		    onboarding_depth = EXCLUDED.onboarding_depth,
		    drip_questions_answered = EXCLUDED.drip_questions_answered,
		    drip_questions_skipped = EXCLUDED.drip_questions_skipped,
		    total_corrections = EXCLUDED.total_corrections,
		    corrections_with_reason = EXCLUDED.corrections_with_reason,
		    sessions_last_30_days = EXCLUDED.sessions_last_30_days,
		    preferences_interacted = EXCLUDED.preferences_interacted,
		    last_session_at = EXCLUDED.last_session_at,
		    last_recalculated = NOW(),
		    updated_at = NOW()
		RETURNING id, last_recalculated, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		profile.RestaurantID, profile.EngagementScore, string(profile.EngagementLevel),
		profile.DripQuestionsPerSession, profile.OnboardingDepth,
		profile.DripQuestionsAnswered, profile.DripQuestionsSkipped,
		profile.TotalCorrections, profile.CorrectionsWithReason,
		profile.SessionsLast30Days, profile.PreferencesInteractedN,
		profile.LastSessionAt,
	).Scan(&profile.ID, &profile.LastRecalculated, &profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert engagement profile: %w", err)
	}

	return nil
}

func (r *engagementRepository) GetByRestaurant(ctx context.Context, restaurantID int64) (*models.EngagementProfile, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM engagement_profiles
		WHERE restaurant_id = $1
		LIMIT 1`, engagementColumns)

	row := r.db.QueryRow(ctx, query, restaurantID)
	profile, err := scanEngagementRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get engagement profile: %w", err)
	}
	return profile, nil
}

func (r *engagementRepository) ListForRecalculation(ctx context.Context) ([]*models.EngagementProfile, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM engagement_profiles
		ORDER BY restaurant_id ASC`, engagementColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list engagement profiles: %w", err)
	}
	defer rows.Close()

	profiles := make([]*models.EngagementProfile, 0)
	for rows.Next() {
		profile, err := scanEngagementRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan engagement profile: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate engagement profiles: %w", err)
	}

	return profiles, nil
}

func (r *engagementRepository) IncrementDripAnswered(ctx context.Context, restaurantID int64) error {
	return r.execProfileUpdate(ctx, `
		UPDATE engagement_profiles
		SET drip_questions_answered = drip_questions_answered + 1,
		    preferences_interacted = preferences_interacted + 1,
		    updated_at = NOW()
		WHERE restaurant_id = $1`, restaurantID)
}

func (r *engagementRepository) IncrementDripSkipped(ctx context.Context, restaurantID int64) error {
	return r.execProfileUpdate(ctx, `
		UPDATE engagement_profiles
		SET drip_questions_skipped = drip_questions_skipped + 1, updated_at = NOW()
		WHERE restaurant_id = $1`, restaurantID)
}

func (r *engagementRepository) RecordCorrection(ctx context.Context, restaurantID int64, withReason bool) error {
	query := `
		UPDATE engagement_profiles
		SET total_corrections = total_corrections + 1,
		    corrections_with_reason = corrections_with_reason + CASE WHEN $2 THEN 1 ELSE 0 END,
		    preferences_interacted = preferences_interacted + 1,
		    updated_at = NOW()
		WHERE restaurant_id = $1`

	return r.execProfileUpdate(ctx, query, restaurantID, withReason)
}

func (r *engagementRepository) TouchSession(ctx context.Context, restaurantID int64) error {
	return r.execProfileUpdate(ctx, `
		UPDATE engagement_profiles
		SET last_session_at = NOW(), updated_at = NOW()
		WHERE restaurant_id = $1`, restaurantID)
}

func (r *engagementRepository) execProfileUpdate(ctx context.Context, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update engagement profile: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("engagement profile not found for restaurant: %v", args[0])
	}
	return nil
}

func scanEngagementRow(row pgx.Row) (*models.EngagementProfile, error) {
	var p models.EngagementProfile
	var level string

	err := row.Scan(
		&p.ID, &p.RestaurantID, &p.EngagementScore, &level, &p.DripQuestionsPerSession,
		&p.OnboardingDepth, &p.DripQuestionsAnswered, &p.DripQuestionsSkipped,
		&p.TotalCorrections, &p.CorrectionsWithReason, &p.SessionsLast30Days,
		&p.PreferencesInteractedN, &p.LastSessionAt, &p.LastRecalculated,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.EngagementLevel = models.EngagementLevel(level)
	return &p, nil
}

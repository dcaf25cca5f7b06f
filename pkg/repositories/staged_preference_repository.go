package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/edelae/frepi/pkg/database"
	"github.com/edelae/frepi/pkg/models"
)

// StagedPreferenceRepository provides data access for staged preferences.
type StagedPreferenceRepository interface {
	// Create inserts a staged preference.
	Create(ctx context.Context, pref *models.StagedPreference) error

	// GetByID retrieves a staged preference. Returns nil if not found.
	GetByID(ctx context.Context, id uuid.UUID) (*models.StagedPreference, error)

	// ListBySession returns all staged preferences for a session.
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.StagedPreference, error)

	// ListByProduct returns the preferences bound to one staged product.
	ListByProduct(ctx context.Context, productID uuid.UUID) ([]*models.StagedPreference, error)

	// FindByTypeAndProduct finds the most recent preference of the given type
	// for a product. Pass a nil productID for global preferences. Returns nil
	// if none exists.
	FindByTypeAndProduct(ctx context.Context, sessionID uuid.UUID, prefType models.PreferenceType, productID *uuid.UUID) (*models.StagedPreference, error)

	// UpdateFeedback records the user's verdict on an inferred preference.
	UpdateFeedback(ctx context.Context, id uuid.UUID, feedback models.PreferenceFeedback) error

	// UpdateValue replaces the preference value and marks it modified.
	UpdateValue(ctx context.Context, id uuid.UUID, value map[string]any) error

	// SetCommittedID records the production preference row created for this
	// staged preference.
	SetCommittedID(ctx context.Context, id uuid.UUID, committedID int64) error

	// CountBySession returns the number of staged preferences in a session.
	CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error)
}

type stagedPreferenceRepository struct {
	db *database.DB
}

// NewStagedPreferenceRepository creates a new StagedPreferenceRepository.
func NewStagedPreferenceRepository(db *database.DB) StagedPreferenceRepository {
	return &stagedPreferenceRepository{db: db}
}

var _ StagedPreferenceRepository = (*stagedPreferenceRepository)(nil)

const stagedPreferenceColumns = `
	id, session_id, staging_product_id, preference_type, preference_value,
	confidence_score, source, inference_reasoning, user_feedback,
	committed_preference_id, created_at, updated_at`

func (r *stagedPreferenceRepository) Create(ctx context.Context, pref *models.StagedPreference) error {
	now := time.Now()
	if pref.ID == uuid.Nil {
		pref.ID = uuid.New()
	}
	if pref.CreatedAt.IsZero() {
		pref.CreatedAt = now
	}
	pref.UpdatedAt = now

	valueJSON, err := json.Marshal(pref.PreferenceValue)
	if err != nil {
		return fmt.Errorf("marshal preference value: %w", err)
	}

	query := `
		INSERT INTO staging_preferences (
			id, session_id, staging_product_id, preference_type, preference_value,
			confidence_score, source, inference_reasoning, user_feedback,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	var feedback *string
	if pref.UserFeedback != nil {
		s := string(*pref.UserFeedback)
		feedback = &s
	}

	_, err = r.db.Exec(ctx, query,
		pref.ID, pref.SessionID, pref.StagingProductID,
		string(pref.PreferenceType), valueJSON,
		pref.ConfidenceScore, string(pref.Source), pref.InferenceReasoning, feedback,
		pref.CreatedAt, pref.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert staged preference: %w", err)
	}

	return nil
}

func (r *stagedPreferenceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.StagedPreference, error) {
	query := fmt.Sprintf(`SELECT %s FROM staging_preferences WHERE id = $1`, stagedPreferenceColumns)

	row := r.db.QueryRow(ctx, query, id)
	pref, err := scanStagedPreferenceRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get staged preference by id: %w", err)
	}
	return pref, nil
}

func (r *stagedPreferenceRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.StagedPreference, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM staging_preferences
		WHERE session_id = $1
		ORDER BY created_at ASC`, stagedPreferenceColumns)

	return r.queryPreferences(ctx, query, sessionID)
}

func (r *stagedPreferenceRepository) ListByProduct(ctx context.Context, productID uuid.UUID) ([]*models.StagedPreference, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM staging_preferences
		WHERE staging_product_id = $1
		ORDER BY created_at ASC`, stagedPreferenceColumns)

	return r.queryPreferences(ctx, query, productID)
}

func (r *stagedPreferenceRepository) FindByTypeAndProduct(ctx context.Context, sessionID uuid.UUID, prefType models.PreferenceType, productID *uuid.UUID) (*models.StagedPreference, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM staging_preferences
		WHERE session_id = $1 AND preference_type = $2
		  AND (staging_product_id = $3 OR ($3::uuid IS NULL AND staging_product_id IS NULL))
		ORDER BY created_at DESC
		LIMIT 1`, stagedPreferenceColumns)

	row := r.db.QueryRow(ctx, query, sessionID, string(prefType), productID)
	pref, err := scanStagedPreferenceRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find staged preference: %w", err)
	}
	return pref, nil
}

func (r *stagedPreferenceRepository) queryPreferences(ctx context.Context, query string, args ...any) ([]*models.StagedPreference, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list staged preferences: %w", err)
	}
	defer rows.Close()

	prefs := make([]*models.StagedPreference, 0)
	for rows.Next() {
		pref, err := scanStagedPreferenceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan staged preference: %w", err)
		}
		prefs = append(prefs, pref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staged preferences: %w", err)
	}

	return prefs, nil
}

func (r *stagedPreferenceRepository) UpdateFeedback(ctx context.Context, id uuid.UUID, feedback models.PreferenceFeedback) error {
	query := `
		UPDATE staging_preferences
		SET user_feedback = $2, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, string(feedback))
	if err != nil {
		return fmt.Errorf("update preference feedback: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("staged preference not found: %s", id)
	}
	return nil
}

func (r *stagedPreferenceRepository) UpdateValue(ctx context.Context, id uuid.UUID, value map[string]any) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal preference value: %w", err)
	}

	query := `
		UPDATE staging_preferences
		SET preference_value = $2, user_feedback = $3, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, valueJSON, string(models.FeedbackModified))
	if err != nil {
		return fmt.Errorf("update preference value: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("staged preference not found: %s", id)
	}
	return nil
}

func (r *stagedPreferenceRepository) SetCommittedID(ctx context.Context, id uuid.UUID, committedID int64) error {
	query := `
		UPDATE staging_preferences
		SET committed_preference_id = $2, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, committedID)
	if err != nil {
		return fmt.Errorf("set committed preference id: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("staged preference not found: %s", id)
	}
	return nil
}

func (r *stagedPreferenceRepository) CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM staging_preferences WHERE session_id = $1`, sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count staged preferences: %w", err)
	}
	return count, nil
}

func scanStagedPreferenceRow(row pgx.Row) (*models.StagedPreference, error) {
	var p models.StagedPreference
	var prefType, source string
	var feedback *string
	var valueJSON []byte

	err := row.Scan(
		&p.ID, &p.SessionID, &p.StagingProductID, &prefType, &valueJSON,
		&p.ConfidenceScore, &source, &p.InferenceReasoning, &feedback,
		&p.CommittedPreferenceID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.PreferenceType = models.PreferenceType(prefType)
	p.Source = models.DataSource(source)
	if feedback != nil {
		f := models.PreferenceFeedback(*feedback)
		p.UserFeedback = &f
	}
	if len(valueJSON) > 0 {
		_ = json.Unmarshal(valueJSON, &p.PreferenceValue)
	}

	return &p, nil
}

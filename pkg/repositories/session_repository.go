// Package repositories provides pgx-backed data access for staging and
// production tables.
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

// SessionRepository provides data access for onboarding sessions.
type SessionRepository interface {
	// Create inserts a new session.
	Create(ctx context.Context, session *models.OnboardingSession) error

	// GetByID retrieves a session by ID. Returns nil if not found.
	GetByID(ctx context.Context, id uuid.UUID) (*models.OnboardingSession, error)

	// GetActiveByChatID returns the in-progress session for a chat, nil if none.
	GetActiveByChatID(ctx context.Context, chatID int64) (*models.OnboardingSession, error)

	// UpdateBasicInfo sets the restaurant name and city.
	UpdateBasicInfo(ctx context.Context, id uuid.UUID, name, city string) error

	// UpdatePhase advances the conversation phase.
	UpdatePhase(ctx context.Context, id uuid.UUID, phase models.SessionPhase) error

	// UpdateStatus changes the session lifecycle status.
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus) error

	// IncrementPhotosUploaded bumps the uploaded photo counter.
	IncrementPhotosUploaded(ctx context.Context, id uuid.UUID) error

	// UpdateStagedCounts records current staging counters on the session.
	UpdateStagedCounts(ctx context.Context, id uuid.UUID, products, suppliers, preferences int) error

	// IncrementPreferencesConfigured bumps the user-configured preference counter.
	IncrementPreferencesConfigured(ctx context.Context, id uuid.UUID) error

	// SetEngagementChoice records the depth the user picked (1, 2 or 3).
	SetEngagementChoice(ctx context.Context, id uuid.UUID, choice int) error

	// SetAnalysisResult stores the analysis snapshot and completion time.
	SetAnalysisResult(ctx context.Context, id uuid.UUID, snapshot *models.AnalysisSnapshot) error

	// MarkCommitted finalizes the session after a successful commit.
	MarkCommitted(ctx context.Context, id uuid.UUID, restaurantID, personID int64) error

	// TouchActivity updates last_activity_at.
	TouchActivity(ctx context.Context, id uuid.UUID) error

	// ExpireStale marks in-progress sessions idle longer than maxIdle as
	// expired. Returns the number of sessions expired.
	ExpireStale(ctx context.Context, maxIdle time.Duration) (int64, error)
}

type sessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *database.DB) SessionRepository {
	return &sessionRepository{db: db}
}

var _ SessionRepository = (*sessionRepository)(nil)

func (r *sessionRepository) Create(ctx context.Context, session *models.OnboardingSession) error {
	now := time.Now()
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	session.LastActivityAt = now
	if session.Status == "" {
		session.Status = models.SessionStatusInProgress
	}
	if session.CurrentPhase == "" {
		session.CurrentPhase = models.PhaseBasicInfo
	}

	query := `
		INSERT INTO onboarding_sessions (
			id, telegram_chat_id, status, current_phase,
			restaurant_name, city, restaurant_type, contact_name,
			photos_uploaded, products_staged, suppliers_staged,
			preferences_staged, preferences_configured,
			created_at, updated_at, last_activity_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.db.Exec(ctx, query,
		session.ID, session.TelegramChatID, string(session.Status), string(session.CurrentPhase),
		session.RestaurantName, session.City, session.RestaurantType, session.ContactName,
		session.PhotosUploaded, session.ProductsStaged, session.SuppliersStaged,
		session.PreferencesStaged, session.PreferencesConfigured,
		session.CreatedAt, session.UpdatedAt, session.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

const sessionColumns = `
	id, telegram_chat_id, status, current_phase,
	restaurant_name, city, restaurant_type, contact_name,
	photos_uploaded, products_staged, suppliers_staged,
	preferences_staged, preferences_configured,
	engagement_choice, engagement_choice_at,
	analysis_completed_at, analysis_result,
	committed_restaurant_id, committed_person_id, committed_at,
	created_at, updated_at, last_activity_at`

func (r *sessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.OnboardingSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM onboarding_sessions WHERE id = $1`, sessionColumns)

	row := r.db.QueryRow(ctx, query, id)
	session, err := scanSessionRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get session by id: %w", err)
	}
	return session, nil
}

func (r *sessionRepository) GetActiveByChatID(ctx context.Context, chatID int64) (*models.OnboardingSession, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM onboarding_sessions
		WHERE telegram_chat_id = $1 AND status = 'in_progress'
		ORDER BY created_at DESC
		LIMIT 1`, sessionColumns)

	row := r.db.QueryRow(ctx, query, chatID)
	session, err := scanSessionRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get active session by chat: %w", err)
	}
	return session, nil
}

func (r *sessionRepository) UpdateBasicInfo(ctx context.Context, id uuid.UUID, name, city string) error {
	query := `
		UPDATE onboarding_sessions
		SET restaurant_name = $2, city = $3, updated_at = NOW(), last_activity_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, name, city)
	if err != nil {
		return fmt.Errorf("update session basic info: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

func (r *sessionRepository) UpdatePhase(ctx context.Context, id uuid.UUID, phase models.SessionPhase) error {
	query := `
		UPDATE onboarding_sessions
		SET current_phase = $2, updated_at = NOW(), last_activity_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, string(phase))
	if err != nil {
		return fmt.Errorf("update session phase: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

func (r *sessionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus) error {
	query := `
		UPDATE onboarding_sessions
		SET status = $2, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

func (r *sessionRepository) IncrementPhotosUploaded(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE onboarding_sessions
		SET photos_uploaded = photos_uploaded + 1, updated_at = NOW(), last_activity_at = NOW()
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("increment photos uploaded: %w", err)
	}
	return nil
}

func (r *sessionRepository) UpdateStagedCounts(ctx context.Context, id uuid.UUID, products, suppliers, preferences int) error {
	query := `
		UPDATE onboarding_sessions
		SET products_staged = $2, suppliers_staged = $3, preferences_staged = $4,
		    updated_at = NOW(), last_activity_at = NOW()
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, products, suppliers, preferences)
	if err != nil {
		return fmt.Errorf("update staged counts: %w", err)
	}
	return nil
}

func (r *sessionRepository) IncrementPreferencesConfigured(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE onboarding_sessions
		SET preferences_configured = preferences_configured + 1,
		    updated_at = NOW(), last_activity_at = NOW()
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("increment preferences configured: %w", err)
	}
	return nil
}

func (r *sessionRepository) SetEngagementChoice(ctx context.Context, id uuid.UUID, choice int) error {
	query := `
		UPDATE onboarding_sessions
		SET engagement_choice = $2, engagement_choice_at = NOW(),
		    updated_at = NOW(), last_activity_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, choice)
	if err != nil {
		return fmt.Errorf("set engagement choice: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

func (r *sessionRepository) SetAnalysisResult(ctx context.Context, id uuid.UUID, snapshot *models.AnalysisSnapshot) error {
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal analysis snapshot: %w", err)
	}

	query := `
		UPDATE onboarding_sessions
		SET analysis_result = $2, analysis_completed_at = NOW(),
		    updated_at = NOW(), last_activity_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, snapshotJSON)
	if err != nil {
		return fmt.Errorf("set analysis result: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

func (r *sessionRepository) MarkCommitted(ctx context.Context, id uuid.UUID, restaurantID, personID int64) error {
	query := `
		UPDATE onboarding_sessions
		SET status = 'committed', committed_restaurant_id = $2, committed_person_id = $3,
		    committed_at = NOW(), updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, restaurantID, personID)
	if err != nil {
		return fmt.Errorf("mark session committed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

func (r *sessionRepository) TouchActivity(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE onboarding_sessions SET last_activity_at = NOW() WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("touch session activity: %w", err)
	}
	return nil
}

func (r *sessionRepository) ExpireStale(ctx context.Context, maxIdle time.Duration) (int64, error) {
	query := `
		UPDATE onboarding_sessions
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'in_progress' AND last_activity_at < NOW() - $1::interval`

	result, err := r.db.Exec(ctx, query, maxIdle.String())
	if err != nil {
		return 0, fmt.Errorf("expire stale sessions: %w", err)
	}
	return result.RowsAffected(), nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanSessionRow(row pgx.Row) (*models.OnboardingSession, error) {
	var s models.OnboardingSession
	var status, phase string
	var analysisJSON []byte

	err := row.Scan(
		&s.ID, &s.TelegramChatID, &status, &phase,
		&s.RestaurantName, &s.City, &s.RestaurantType, &s.ContactName,
		&s.PhotosUploaded, &s.ProductsStaged, &s.SuppliersStaged,
		&s.PreferencesStaged, &s.PreferencesConfigured,
		&s.EngagementChoice, &s.EngagementChoiceAt,
		&s.AnalysisCompletedAt, &analysisJSON,
		&s.CommittedRestaurantID, &s.CommittedPersonID, &s.CommittedAt,
		&s.CreatedAt, &s.UpdatedAt, &s.LastActivityAt,
	)
	if err != nil {
		return nil, err
	}

	s.Status = models.SessionStatus(status)
	s.CurrentPhase = models.SessionPhase(phase)

	if len(analysisJSON) > 0 {
		var snapshot models.AnalysisSnapshot
		if err := json.Unmarshal(analysisJSON, &snapshot); err == nil {
			s.AnalysisResult = &snapshot
		}
	}

	return &s, nil
}

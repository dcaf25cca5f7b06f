package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Session Status
// ============================================================================

// SessionStatus represents the lifecycle state of an onboarding session.
type SessionStatus string

const (
	SessionStatusInProgress          SessionStatus = "in_progress"
	SessionStatusPendingConfirmation SessionStatus = "pending_confirmation"
	SessionStatusCommitted           SessionStatus = "committed"
	SessionStatusAbandoned           SessionStatus = "abandoned"
	SessionStatusExpired             SessionStatus = "expired"
)

// ValidSessionStatuses contains all valid session status values.
var ValidSessionStatuses = []SessionStatus{
	SessionStatusInProgress,
	SessionStatusPendingConfirmation,
	SessionStatusCommitted,
	SessionStatusAbandoned,
	SessionStatusExpired,
}

// IsValidSessionStatus checks if the given status is valid.
func IsValidSessionStatus(s SessionStatus) bool {
	for _, v := range ValidSessionStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal returns true once the session can no longer accept staged data.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCommitted || s == SessionStatusAbandoned || s == SessionStatusExpired
}

// ============================================================================
// Session Phase
// ============================================================================

// SessionPhase tracks where the conversation is in the onboarding flow.
// Phases advance monotonically; the ordering below is the canonical order.
type SessionPhase string

const (
	PhaseBasicInfo           SessionPhase = "basic_info"
	PhaseInvoicesUpload      SessionPhase = "invoices_upload"
	PhaseInvoicesProcessing  SessionPhase = "invoices_processing"
	PhaseProductsCollected   SessionPhase = "products_collected"
	PhaseConfirmProducts     SessionPhase = "confirm_products"
	PhasePreferences         SessionPhase = "preferences"
	PhaseAnalysis            SessionPhase = "analysis"
	PhaseAnalysisComplete    SessionPhase = "analysis_complete"
	PhaseEngagementGauge     SessionPhase = "engagement_gauge"
	PhaseTargetedPreferences SessionPhase = "targeted_preferences"
	PhaseSummary             SessionPhase = "summary"
	PhaseCompleted           SessionPhase = "completed"
)

// ValidSessionPhases lists phases in canonical order.
var ValidSessionPhases = []SessionPhase{
	PhaseBasicInfo,
	PhaseInvoicesUpload,
	PhaseInvoicesProcessing,
	PhaseProductsCollected,
	PhaseConfirmProducts,
	PhasePreferences,
	PhaseAnalysis,
	PhaseAnalysisComplete,
	PhaseEngagementGauge,
	PhaseTargetedPreferences,
	PhaseSummary,
	PhaseCompleted,
}

// IsValidSessionPhase checks if the given phase is valid.
func IsValidSessionPhase(p SessionPhase) bool {
	for _, v := range ValidSessionPhases {
		if v == p {
			return true
		}
	}
	return false
}

// ============================================================================
// Session Model
// ============================================================================

// AnalysisSnapshot is the compact result summary stored on the session after
// the analysis pipeline completes.
type AnalysisSnapshot struct {
	TotalSpend       float64 `json:"total_spend"`
	SupplierCount    int     `json:"supplier_count"`
	ProductCount     int     `json:"product_count"`
	ParetoPercentage float64 `json:"pareto_percentage"`
}

// OnboardingSession is the scratch workspace for one restaurant registration.
// One in-progress session exists per Telegram chat at a time.
type OnboardingSession struct {
	ID             uuid.UUID     `json:"id"`
	TelegramChatID int64         `json:"telegram_chat_id"`
	Status         SessionStatus `json:"status"`
	CurrentPhase   SessionPhase  `json:"current_phase"`

	RestaurantName *string `json:"restaurant_name,omitempty"`
	City           *string `json:"city,omitempty"`
	RestaurantType *string `json:"restaurant_type,omitempty"`
	ContactName    *string `json:"contact_name,omitempty"`

	PhotosUploaded        int `json:"photos_uploaded"`
	ProductsStaged        int `json:"products_staged"`
	SuppliersStaged       int `json:"suppliers_staged"`
	PreferencesStaged     int `json:"preferences_staged"`
	PreferencesConfigured int `json:"preferences_configured"`

	// EngagementChoice records the depth the user picked after the analysis
	// summary: 1 = top 5, 2 = top 10, 3 = skip.
	EngagementChoice   *int       `json:"engagement_choice,omitempty"`
	EngagementChoiceAt *time.Time `json:"engagement_choice_at,omitempty"`

	AnalysisCompletedAt *time.Time        `json:"analysis_completed_at,omitempty"`
	AnalysisResult      *AnalysisSnapshot `json:"analysis_result,omitempty"`

	CommittedRestaurantID *int64     `json:"committed_restaurant_id,omitempty"`
	CommittedPersonID     *int64     `json:"committed_person_id,omitempty"`
	CommittedAt           *time.Time `json:"committed_at,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// IsActive returns true while the session is accepting staged data.
func (s *OnboardingSession) IsActive() bool {
	return s.Status == SessionStatusInProgress
}

// EngagementDepth maps the user's choice to the number of products they
// agreed to configure (0, 5 or 10).
func (s *OnboardingSession) EngagementDepth() int {
	if s.EngagementChoice == nil {
		return 0
	}
	switch *s.EngagementChoice {
	case 1:
		return 5
	case 2:
		return 10
	default:
		return 0
	}
}

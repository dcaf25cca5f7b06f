package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Preference Type
// ============================================================================

// PreferenceType classifies a staged or committed preference.
type PreferenceType string

const (
	PreferenceBrand             PreferenceType = "brand"
	PreferencePriceMax          PreferenceType = "price_max"
	PreferencePriceTypical      PreferenceType = "price_typical"
	PreferenceQuality           PreferenceType = "quality"
	PreferenceSupplier          PreferenceType = "supplier"
	PreferenceDeliveryDay       PreferenceType = "delivery_day"
	PreferencePurchaseFrequency PreferenceType = "purchase_frequency"
	PreferenceSpecification     PreferenceType = "specification"
)

// ValidPreferenceTypes contains all valid preference type values.
var ValidPreferenceTypes = []PreferenceType{
	PreferenceBrand,
	PreferencePriceMax,
	PreferencePriceTypical,
	PreferenceQuality,
	PreferenceSupplier,
	PreferenceDeliveryDay,
	PreferencePurchaseFrequency,
	PreferenceSpecification,
}

// IsValidPreferenceType checks if the given type is valid.
func IsValidPreferenceType(t PreferenceType) bool {
	for _, v := range ValidPreferenceTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ============================================================================
// User Feedback
// ============================================================================

// PreferenceFeedback is the user's verdict on an inferred preference.
type PreferenceFeedback string

const (
	FeedbackConfirmed PreferenceFeedback = "confirmed"
	FeedbackRejected  PreferenceFeedback = "rejected"
	FeedbackModified  PreferenceFeedback = "modified"
)

// ============================================================================
// Staged Preference
// ============================================================================

// StagedPreference is a typed preference captured or inferred during
// onboarding. Preferences are append-only during staging: corrections create
// a new record or update UserFeedback, never silently overwrite the
// inference reasoning.
type StagedPreference struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`

	// StagingProductID is nil for global preferences such as delivery
	// patterns.
	StagingProductID *uuid.UUID `json:"staging_product_id,omitempty"`

	PreferenceType  PreferenceType `json:"preference_type"`
	PreferenceValue map[string]any `json:"preference_value"`

	ConfidenceScore    float64             `json:"confidence_score"`
	Source             DataSource          `json:"source"`
	InferenceReasoning *string             `json:"inference_reasoning,omitempty"`
	UserFeedback       *PreferenceFeedback `json:"user_feedback,omitempty"`

	CommittedPreferenceID *int64 `json:"committed_preference_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsGlobal returns true for preferences not bound to a single product.
func (p *StagedPreference) IsGlobal() bool {
	return p.StagingProductID == nil
}

// IsRejected returns true if the user rejected this inference.
func (p *StagedPreference) IsRejected() bool {
	return p.UserFeedback != nil && *p.UserFeedback == FeedbackRejected
}

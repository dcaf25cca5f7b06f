package models

import "time"

// ============================================================================
// Engagement Level
// ============================================================================

// EngagementLevel buckets the 0-1 engagement score.
type EngagementLevel string

const (
	EngagementHigh    EngagementLevel = "high"
	EngagementMedium  EngagementLevel = "medium"
	EngagementLow     EngagementLevel = "low"
	EngagementDormant EngagementLevel = "dormant"
)

// LevelForScore maps a score to its level and per-session drip budget.
// Thresholds: >=0.65 high (2 questions), >=0.35 medium (1), >=0.10 low (0),
// else dormant (0).
func LevelForScore(score float64) (EngagementLevel, int) {
	switch {
	case score >= 0.65:
		return EngagementHigh, 2
	case score >= 0.35:
		return EngagementMedium, 1
	case score >= 0.10:
		return EngagementLow, 0
	default:
		return EngagementDormant, 0
	}
}

// ============================================================================
// Engagement Profile
// ============================================================================

// EngagementProfile holds per-restaurant behavioral signals and the derived
// score that governs drip-question volume.
type EngagementProfile struct {
	ID           int64 `json:"id"`
	RestaurantID int64 `json:"restaurant_id"`

	EngagementScore         float64         `json:"engagement_score"`
	EngagementLevel         EngagementLevel `json:"engagement_level"`
	DripQuestionsPerSession int             `json:"drip_questions_per_session"`

	// OnboardingDepth is the number of products the user agreed to configure
	// during onboarding: 0, 5 or 10.
	OnboardingDepth int `json:"onboarding_depth"`

	DripQuestionsAnswered int `json:"drip_questions_answered"`
	DripQuestionsSkipped  int `json:"drip_questions_skipped"`

	TotalCorrections       int `json:"total_corrections"`
	CorrectionsWithReason  int `json:"corrections_with_reason"`
	SessionsLast30Days     int `json:"sessions_last_30_days"`
	PreferencesInteractedN int `json:"preferences_interacted"`

	LastSessionAt    *time.Time `json:"last_session_at,omitempty"`
	LastRecalculated *time.Time `json:"last_recalculated,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TierEligible reports whether a queue item of the given tier may be asked
// at this profile's engagement level. High engagement unlocks mid-tail
// products; everyone else stays on the head tier.
func (p *EngagementProfile) TierEligible(tier ImportanceTier) bool {
	switch tier {
	case TierHead:
		return true
	case TierMidTail:
		return p.EngagementLevel == EngagementHigh
	default:
		return false
	}
}

// ============================================================================
// Drip Question
// ============================================================================

// DripQuestionStatus tracks a preference queue item through the drip flow.
type DripQuestionStatus string

const (
	DripStatusPending   DripQuestionStatus = "pending"
	DripStatusAskedDrip DripQuestionStatus = "asked_drip"
	DripStatusCollected DripQuestionStatus = "collected"
	DripStatusSkipped   DripQuestionStatus = "skipped"
	DripStatusSent      DripQuestionStatus = "sent"
)

// DripQuestion is one preference question ready to be injected into a
// conversation turn.
type DripQuestion struct {
	QueueItemID    int64          `json:"queue_item_id"`
	ProductName    string         `json:"product_name"`
	MasterListID   int64          `json:"master_list_id"`
	PreferenceType PreferenceType `json:"preference_type"`
	QueuePosition  int            `json:"queue_position"`
	ImportanceTier ImportanceTier `json:"importance_tier"`
	// KnownInfo carries already-collected preference values (brand,
	// price_max, quality) so questions never re-ask what is known.
	KnownInfo map[string]any `json:"known_info,omitempty"`
}

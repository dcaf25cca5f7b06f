package models

import "testing"

func TestLevelForScore(t *testing.T) {
	tests := []struct {
		name      string
		score     float64
		wantLevel EngagementLevel
		wantDrip  int
	}{
		{"zero is dormant", 0.0, EngagementDormant, 0},
		{"just below low", 0.09, EngagementDormant, 0},
		{"low boundary", 0.10, EngagementLow, 0},
		{"medium boundary", 0.35, EngagementMedium, 1},
		{"high boundary", 0.65, EngagementHigh, 2},
		{"clamped maximum", 1.0, EngagementHigh, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, drip := LevelForScore(tt.score)
			if level != tt.wantLevel {
				t.Errorf("LevelForScore(%v) level = %v, want %v", tt.score, level, tt.wantLevel)
			}
			if drip != tt.wantDrip {
				t.Errorf("LevelForScore(%v) drip = %d, want %d", tt.score, drip, tt.wantDrip)
			}
		})
	}
}

func TestEngagementProfile_TierEligible(t *testing.T) {
	high := &EngagementProfile{EngagementLevel: EngagementHigh}
	medium := &EngagementProfile{EngagementLevel: EngagementMedium}

	if !high.TierEligible(TierHead) || !high.TierEligible(TierMidTail) {
		t.Error("high engagement should unlock head and mid_tail tiers")
	}
	if high.TierEligible(TierLongTail) {
		t.Error("long_tail is never drip-eligible")
	}
	if !medium.TierEligible(TierHead) {
		t.Error("medium engagement should keep head tier")
	}
	if medium.TierEligible(TierMidTail) {
		t.Error("medium engagement should not unlock mid_tail")
	}
}

func TestPreferenceQueueItem_NextPendingPreference(t *testing.T) {
	fresh := &PreferenceQueueItem{}
	if got := fresh.NextPendingPreference(); got != PreferenceBrand {
		t.Errorf("fresh item should ask brand first, got %v", got)
	}

	partial := &PreferenceQueueItem{
		PreferencesCollected: []string{"brand"},
		PreferencesPending:   []string{"price_max", "quality"},
	}
	if got := partial.NextPendingPreference(); got != PreferencePriceMax {
		t.Errorf("expected price_max next, got %v", got)
	}

	done := &PreferenceQueueItem{
		PreferencesCollected: []string{"brand", "price_max", "quality", "supplier"},
	}
	if got := done.NextPendingPreference(); got != "" {
		t.Errorf("expected no pending preference, got %v", got)
	}
}

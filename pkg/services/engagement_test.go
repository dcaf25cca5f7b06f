package services

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/edelae/frepi/pkg/models"
	"github.com/edelae/frepi/pkg/repositories"
)

func TestScoreProfile(t *testing.T) {
	tests := []struct {
		name    string
		profile models.EngagementProfile
		want    float64
	}{
		{
			"all signals zero",
			models.EngagementProfile{},
			0.0,
		},
		{
			"all signals saturated",
			models.EngagementProfile{
				OnboardingDepth:       10,
				DripQuestionsAnswered: 10,
				DripQuestionsSkipped:  0,
				TotalCorrections:      5,
				CorrectionsWithReason: 5,
				SessionsLast30Days:    10,
			},
			1.0,
		},
		{
			"depth only",
			models.EngagementProfile{OnboardingDepth: 10},
			0.15,
		},
		{
			"half drip rate",
			models.EngagementProfile{
				DripQuestionsAnswered: 3,
				DripQuestionsSkipped:  3,
			},
			0.15,
		},
		{
			"mixed signals",
			models.EngagementProfile{
				OnboardingDepth:       5, // 0.5 * 0.15 = 0.075
				DripQuestionsAnswered: 4, // 4/5 * 0.30 = 0.24
				DripQuestionsSkipped:  1,
				TotalCorrections:      2, // 2/5 * 0.25 = 0.10
				CorrectionsWithReason: 2, // 2/2 * 0.15 = 0.15
				SessionsLast30Days:    5, // 5/10 * 0.15 = 0.075
			},
			0.64,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScoreProfile(&tt.profile); got != tt.want {
				t.Errorf("ScoreProfile() = %v, want %v", got, tt.want)
			}
		})
	}
}

type fakeEngagementProfiles struct {
	repositories.EngagementRepository
	stored *models.EngagementProfile
}

func (f *fakeEngagementProfiles) GetByRestaurant(_ context.Context, _ int64) (*models.EngagementProfile, error) {
	return f.stored, nil
}

func (f *fakeEngagementProfiles) Upsert(_ context.Context, profile *models.EngagementProfile) error {
	f.stored = profile
	return nil
}

func TestEngagementService_Recalculate(t *testing.T) {
	profiles := &fakeEngagementProfiles{
		stored: &models.EngagementProfile{
			RestaurantID:          42,
			OnboardingDepth:       10,
			DripQuestionsAnswered: 10,
			TotalCorrections:      5,
			CorrectionsWithReason: 5,
			SessionsLast30Days:    10,
		},
	}
	svc := NewEngagementService(profiles, zap.NewNop())

	updated, err := svc.Recalculate(context.Background(), 42)
	if err != nil {
		t.Fatalf("Recalculate: %v", err)
	}
	if updated.EngagementScore != 1.0 {
		t.Errorf("score = %v, want 1.0", updated.EngagementScore)
	}
	if updated.EngagementLevel != models.EngagementHigh {
		t.Errorf("level = %v, want high", updated.EngagementLevel)
	}
	if updated.DripQuestionsPerSession != 2 {
		t.Errorf("drip budget = %d, want 2", updated.DripQuestionsPerSession)
	}
}

func TestEngagementService_RecalculateNoProfile(t *testing.T) {
	svc := NewEngagementService(&fakeEngagementProfiles{}, zap.NewNop())

	updated, err := svc.Recalculate(context.Background(), 99)
	if err != nil {
		t.Fatalf("Recalculate: %v", err)
	}
	if updated != nil {
		t.Errorf("expected nil profile, got %+v", updated)
	}
}

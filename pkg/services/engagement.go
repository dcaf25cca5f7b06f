package services

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/edelae/frepi/pkg/models"
	"github.com/edelae/frepi/pkg/repositories"
)

// Engagement score weights. The score drives how many drip questions a
// restaurant is asked per session.
const (
	weightDepth       = 0.15
	weightDripRate    = 0.30
	weightCorrections = 0.25
	weightSessions    = 0.15
	weightReasoning   = 0.15
)

// EngagementService maintains the per-restaurant engagement profile: the
// behavioral counters and the weighted score derived from them.
type EngagementService interface {
	// Recalculate recomputes the score from the profile's counters and
	// stores the new score, level and drip budget. Returns nil if the
	// restaurant has no profile.
	Recalculate(ctx context.Context, restaurantID int64) (*models.EngagementProfile, error)

	// GetProfile returns the profile for a restaurant, nil if none.
	GetProfile(ctx context.Context, restaurantID int64) (*models.EngagementProfile, error)

	// RecordDripAnswered bumps the answered counter.
	RecordDripAnswered(ctx context.Context, restaurantID int64) error

	// RecordDripSkipped bumps the skipped counter.
	RecordDripSkipped(ctx context.Context, restaurantID int64) error

	// RecordCorrection bumps the correction counters; corrections that come
	// with a reason also feed the reasoning signal.
	RecordCorrection(ctx context.Context, restaurantID int64, withReason bool) error

	// IncrementSessionCount bumps the 30-day session counter and stamps the
	// session time. Call at the start of each conversation session.
	IncrementSessionCount(ctx context.Context, restaurantID int64) error

	// RecalculateAll recomputes every profile, for the heartbeat job.
	// Returns how many profiles were updated.
	RecalculateAll(ctx context.Context) (int, error)
}

type engagementService struct {
	profiles repositories.EngagementRepository
	logger   *zap.Logger
}

// NewEngagementService creates a new EngagementService.
func NewEngagementService(profiles repositories.EngagementRepository, logger *zap.Logger) EngagementService {
	return &engagementService{
		profiles: profiles,
		logger:   logger.Named("engagement-service"),
	}
}

var _ EngagementService = (*engagementService)(nil)

func (s *engagementService) Recalculate(ctx context.Context, restaurantID int64) (*models.EngagementProfile, error) {
	profile, err := s.profiles.GetByRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, nil
	}

	score := ScoreProfile(profile)
	level, dripBudget := models.LevelForScore(score)

	profile.EngagementScore = score
	profile.EngagementLevel = level
	profile.DripQuestionsPerSession = dripBudget
	if err := s.profiles.Upsert(ctx, profile); err != nil {
		return nil, err
	}

	s.logger.Info("Engagement recalculated",
		zap.Int64("restaurant_id", restaurantID),
		zap.Float64("score", score),
		zap.String("level", string(level)),
		zap.Int("drip_budget", dripBudget))

	return profile, nil
}

func (s *engagementService) GetProfile(ctx context.Context, restaurantID int64) (*models.EngagementProfile, error) {
	return s.profiles.GetByRestaurant(ctx, restaurantID)
}

func (s *engagementService) RecordDripAnswered(ctx context.Context, restaurantID int64) error {
	return s.profiles.IncrementDripAnswered(ctx, restaurantID)
}

func (s *engagementService) RecordDripSkipped(ctx context.Context, restaurantID int64) error {
	return s.profiles.IncrementDripSkipped(ctx, restaurantID)
}

func (s *engagementService) RecordCorrection(ctx context.Context, restaurantID int64, withReason bool) error {
	return s.profiles.RecordCorrection(ctx, restaurantID, withReason)
}

func (s *engagementService) IncrementSessionCount(ctx context.Context, restaurantID int64) error {
	return s.profiles.TouchSession(ctx, restaurantID)
}

func (s *engagementService) RecalculateAll(ctx context.Context) (int, error) {
	profiles, err := s.profiles.ListForRecalculation(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, profile := range profiles {
		if _, err := s.Recalculate(ctx, profile.RestaurantID); err != nil {
			s.logger.Warn("Engagement recalculation failed",
				zap.Int64("restaurant_id", profile.RestaurantID),
				zap.Error(err))
			continue
		}
		updated++
	}
	return updated, nil
}

// ScoreProfile computes the weighted engagement score from a profile's
// counters, rounded to two decimals and clamped to [0, 1].
func ScoreProfile(p *models.EngagementProfile) float64 {
	depthSignal := map[int]float64{0: 0.0, 5: 0.5, 10: 1.0}[p.OnboardingDepth]

	totalDrip := p.DripQuestionsAnswered + p.DripQuestionsSkipped
	dripRate := 0.0
	if totalDrip > 0 {
		dripRate = float64(p.DripQuestionsAnswered) / float64(totalDrip)
	}

	correctionSignal := math.Min(float64(p.TotalCorrections)/5.0, 1.0)
	sessionSignal := math.Min(float64(p.SessionsLast30Days)/10.0, 1.0)

	reasoningSignal := 0.0
	if p.TotalCorrections > 0 {
		reasoningSignal = float64(p.CorrectionsWithReason) / float64(p.TotalCorrections)
	}

	score := round2(weightDepth*depthSignal +
		weightDripRate*dripRate +
		weightCorrections*correctionSignal +
		weightSessions*sessionSignal +
		weightReasoning*reasoningSignal)

	return math.Max(0.0, math.Min(1.0, score))
}

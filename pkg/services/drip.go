package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edelae/frepi/pkg/models"
	"github.com/edelae/frepi/pkg/repositories"
)

// DripService sneaks preference questions into normal sessions after
// onboarding. The engagement level sets the per-session budget and which
// importance tiers are fair game; the queue position sets the order.
type DripService interface {
	// GetDripQuestions picks the questions for this session, marks them
	// asked, and returns them. Low and dormant restaurants get none.
	GetDripQuestions(ctx context.Context, restaurantID int64) ([]*models.DripQuestion, error)

	// RecordDripResponse stores the answer (or the skip) for a question,
	// updates the queue item and the engagement counters, and triggers a
	// score recalculation.
	RecordDripResponse(ctx context.Context, restaurantID, queueItemID int64, prefType models.PreferenceType, value string, skipped bool) error

	// FormatDripQuestions renders questions as the Portuguese snippet
	// appended to a normal reply. Empty when there are no questions.
	FormatDripQuestions(questions []*models.DripQuestion) string
}

type dripService struct {
	queue       repositories.QueueRepository
	preferences repositories.PreferenceRepository
	engagement  EngagementService
	logger      *zap.Logger
}

// NewDripService creates a new DripService.
func NewDripService(
	queue repositories.QueueRepository,
	preferences repositories.PreferenceRepository,
	engagement EngagementService,
	logger *zap.Logger,
) DripService {
	return &dripService{
		queue:       queue,
		preferences: preferences,
		engagement:  engagement,
		logger:      logger.Named("drip-service"),
	}
}

var _ DripService = (*dripService)(nil)

func (s *dripService) GetDripQuestions(ctx context.Context, restaurantID int64) ([]*models.DripQuestion, error) {
	profile, err := s.engagement.GetProfile(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	if profile == nil || profile.DripQuestionsPerSession == 0 {
		return nil, nil
	}

	// Over-fetch so tier filtering still fills the budget.
	candidates, err := s.queue.NextPending(ctx, restaurantID, profile.DripQuestionsPerSession*4)
	if err != nil {
		return nil, err
	}

	var questions []*models.DripQuestion
	for _, item := range candidates {
		if len(questions) == profile.DripQuestionsPerSession {
			break
		}
		if !profile.TierEligible(item.ImportanceTier) {
			continue
		}

		prefType := item.NextPendingPreference()
		if prefType == "" {
			continue
		}

		knownInfo, err := s.knownInfo(ctx, restaurantID, item.MasterListID)
		if err != nil {
			return nil, err
		}

		if err := s.queue.MarkAsked(ctx, item.ID); err != nil {
			return nil, err
		}

		questions = append(questions, &models.DripQuestion{
			QueueItemID:    item.ID,
			ProductName:    item.ProductName,
			MasterListID:   item.MasterListID,
			PreferenceType: prefType,
			QueuePosition:  item.QueuePosition,
			ImportanceTier: item.ImportanceTier,
			KnownInfo:      knownInfo,
		})
	}

	if len(questions) > 0 {
		s.logger.Info("Drip questions selected",
			zap.Int64("restaurant_id", restaurantID),
			zap.Int("count", len(questions)))
	}
	return questions, nil
}

func (s *dripService) RecordDripResponse(ctx context.Context, restaurantID, queueItemID int64, prefType models.PreferenceType, value string, skipped bool) error {
	item, err := s.queue.GetByID(ctx, queueItemID)
	if err != nil {
		return err
	}
	if item == nil || item.RestaurantID != restaurantID {
		return fmt.Errorf("queue item %d not found for restaurant %d", queueItemID, restaurantID)
	}

	if skipped || value == "" {
		if err := s.queue.MarkSkipped(ctx, queueItemID); err != nil {
			return err
		}
		if err := s.engagement.RecordDripSkipped(ctx, restaurantID); err != nil {
			return err
		}
	} else {
		if err := s.savePreference(ctx, restaurantID, item.MasterListID, prefType, value); err != nil {
			return err
		}
		if err := s.queue.MarkCollected(ctx, queueItemID, prefType); err != nil {
			return err
		}
		if err := s.engagement.RecordDripAnswered(ctx, restaurantID); err != nil {
			return err
		}
	}

	// A stale score only mispaces the next session's questions.
	if _, err := s.engagement.Recalculate(ctx, restaurantID); err != nil {
		s.logger.Warn("Engagement recalculation failed after drip response",
			zap.Int64("restaurant_id", restaurantID),
			zap.Error(err))
	}
	return nil
}

// savePreference folds a drip answer into the preference row for the pair.
func (s *dripService) savePreference(ctx context.Context, restaurantID, masterListID int64, prefType models.PreferenceType, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	doc := map[string]any{
		"_source":   "drip",
		"_added_at": now,
	}

	row := &models.RestaurantProductPreference{
		RestaurantID: restaurantID,
		MasterListID: masterListID,
	}
	switch prefType {
	case models.PreferenceBrand:
		doc["brand"] = value
		row.BrandPreferences = doc
	case models.PreferencePriceMax:
		doc["max_price"] = value
		row.PricePreference = doc
	case models.PreferenceQuality:
		doc["quality"] = value
		row.QualityPreference = doc
	case models.PreferenceSupplier:
		doc["supplier"] = value
		row.SpecificationPreferences = doc
	default:
		return fmt.Errorf("unsupported drip preference type %q", prefType)
	}

	return s.preferences.Upsert(ctx, row)
}

func (s *dripService) FormatDripQuestions(questions []*models.DripQuestion) string {
	if len(questions) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n---\n💡 **Aproveitando, uma perguntinha rápida:**\n")

	for _, q := range questions {
		b.WriteByte('\n')
		switch q.PreferenceType {
		case models.PreferenceBrand:
			fmt.Fprintf(&b, "Sobre **%s**: tem marca preferida? (pode ser qualquer marca ou prefere uma específica?)", q.ProductName)
		case models.PreferencePriceMax:
			if known, ok := q.KnownInfo["price_max"]; ok {
				fmt.Fprintf(&b, "Sobre **%s**: o preço médio que vi foi R$ %v. Qual seria o máximo aceitável?", q.ProductName, known)
			} else {
				fmt.Fprintf(&b, "Sobre **%s**: qual o preço máximo aceitável?", q.ProductName)
			}
		case models.PreferenceQuality:
			fmt.Fprintf(&b, "Sobre **%s**: prefere premium, padrão ou econômico?", q.ProductName)
		case models.PreferenceSupplier:
			fmt.Fprintf(&b, "Sobre **%s**: tem fornecedor preferido?", q.ProductName)
		}
	}

	b.WriteString("\n\n_(Pode responder ou ignorar, sem problema!)_")
	return b.String()
}

// knownInfo pulls the already-stored preference values for a product so a
// question never re-asks what is known.
func (s *dripService) knownInfo(ctx context.Context, restaurantID, masterListID int64) (map[string]any, error) {
	pref, err := s.preferences.Get(ctx, restaurantID, masterListID)
	if err != nil {
		return nil, err
	}
	if pref == nil {
		return nil, nil
	}

	info := make(map[string]any)
	if pref.BrandPreferences != nil {
		info["brand"] = pref.BrandPreferences["brand"]
	}
	if pref.PricePreference != nil {
		info["price_max"] = pref.PricePreference["max_price"]
	}
	if pref.QualityPreference != nil {
		info["quality"] = pref.QualityPreference["quality"]
	}
	if len(info) == 0 {
		return nil, nil
	}
	return info, nil
}

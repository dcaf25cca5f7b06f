package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edelae/frepi/pkg/apperrors"
	"github.com/edelae/frepi/pkg/llm"
	"github.com/edelae/frepi/pkg/models"
	"github.com/edelae/frepi/pkg/repositories"
)

// CommitService materializes a confirmed staging session into production
// rows: restaurant, contact person, suppliers, catalog products, supplier
// mappings, pricing history, folded preferences, the preference collection
// queue and the initial engagement profile.
type CommitService interface {
	// CommitOnboarding runs the commit pipeline. Every step checks for
	// existing rows first, so a failed commit can be retried without
	// creating duplicates. Step failures are collected on the result
	// instead of returned, leaving the session uncommitted for retry.
	// Already-committed sessions return apperrors.ErrSessionCommitted.
	CommitOnboarding(ctx context.Context, sessionID uuid.UUID, telegramChatID int64) (*models.CommitResult, error)
}

type commitService struct {
	staging        StagingService
	sessions       repositories.SessionRepository
	stagedSupplier repositories.StagedSupplierRepository
	stagedProduct  repositories.StagedProductRepository
	stagedPrice    repositories.StagedPriceRepository
	stagedPref     repositories.StagedPreferenceRepository
	restaurants    repositories.RestaurantRepository
	suppliers      repositories.SupplierRepository
	catalog        repositories.CatalogRepository
	mappings       repositories.MappingRepository
	priceRecords   repositories.PriceRecordRepository
	preferences    repositories.PreferenceRepository
	queue          repositories.QueueRepository
	engagement     repositories.EngagementRepository
	llmClient      llm.LLMClient
	embeddingModel string
	logger         *zap.Logger
}

// NewCommitService creates a new CommitService.
func NewCommitService(
	staging StagingService,
	sessions repositories.SessionRepository,
	stagedSupplier repositories.StagedSupplierRepository,
	stagedProduct repositories.StagedProductRepository,
	stagedPrice repositories.StagedPriceRepository,
	stagedPref repositories.StagedPreferenceRepository,
	restaurants repositories.RestaurantRepository,
	suppliers repositories.SupplierRepository,
	catalog repositories.CatalogRepository,
	mappings repositories.MappingRepository,
	priceRecords repositories.PriceRecordRepository,
	preferences repositories.PreferenceRepository,
	queue repositories.QueueRepository,
	engagement repositories.EngagementRepository,
	llmClient llm.LLMClient,
	embeddingModel string,
	logger *zap.Logger,
) CommitService {
	return &commitService{
		staging:        staging,
		sessions:       sessions,
		stagedSupplier: stagedSupplier,
		stagedProduct:  stagedProduct,
		stagedPrice:    stagedPrice,
		stagedPref:     stagedPref,
		restaurants:    restaurants,
		suppliers:      suppliers,
		catalog:        catalog,
		mappings:       mappings,
		priceRecords:   priceRecords,
		preferences:    preferences,
		queue:          queue,
		engagement:     engagement,
		llmClient:      llmClient,
		embeddingModel: embeddingModel,
		logger:         logger.Named("commit-service"),
	}
}

var _ CommitService = (*commitService)(nil)

func (s *commitService) CommitOnboarding(ctx context.Context, sessionID uuid.UUID, telegramChatID int64) (*models.CommitResult, error) {
	s.logger.Info("Starting commit", zap.String("session_id", sessionID.String()))

	session, err := s.staging.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionStatusCommitted {
		return nil, apperrors.ErrSessionCommitted
	}

	now := time.Now().UTC()
	result := &models.CommitResult{CommittedAt: &now}
	fail := func(step string, err error) (*models.CommitResult, error) {
		s.logger.Error("Commit step failed",
			zap.String("session_id", sessionID.String()),
			zap.String("step", step),
			zap.Error(err))
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", step, err))
		return result, nil
	}

	// Step 1: restaurant.
	restaurant, err := s.commitRestaurant(ctx, session)
	if err != nil {
		return fail("commit restaurant", err)
	}
	result.RestaurantID = &restaurant.ID

	// Step 2: contact person linked to the Telegram chat.
	person, err := s.commitPerson(ctx, restaurant.ID, session, telegramChatID)
	if err != nil {
		return fail("commit person", err)
	}
	result.PersonID = &person.ID

	// Step 3: suppliers.
	stagedSuppliers, err := s.staging.GetStagedSuppliers(ctx, sessionID)
	if err != nil {
		return fail("load staged suppliers", err)
	}
	supplierIDs, err := s.commitSuppliers(ctx, restaurant.ID, stagedSuppliers)
	if err != nil {
		return fail("commit suppliers", err)
	}
	result.SuppliersCommitted = len(supplierIDs)

	// Step 4: embeddings for unmatched products.
	stagedProducts, err := s.staging.GetStagedProducts(ctx, sessionID)
	if err != nil {
		return fail("load staged products", err)
	}
	if err := s.generateProductEmbeddings(ctx, stagedProducts); err != nil {
		// Missing embeddings degrade catalog search but do not block the
		// commit.
		result.Warnings = append(result.Warnings, fmt.Sprintf("generate embeddings: %v", err))
	}

	// Step 5: catalog products.
	productIDs, err := s.commitProducts(ctx, restaurant.ID, stagedProducts)
	if err != nil {
		return fail("commit products", err)
	}
	result.ProductsCommitted = len(productIDs)

	// Step 6: supplier-product mappings.
	if err := s.commitMappings(ctx, stagedProducts, supplierIDs, productIDs); err != nil {
		return fail("commit supplier mappings", err)
	}

	// Step 7: pricing history.
	stagedPrices, err := s.stagedPrice.ListBySession(ctx, sessionID)
	if err != nil {
		return fail("load staged prices", err)
	}
	pricesCommitted, err := s.commitPrices(ctx, stagedPrices, supplierIDs, productIDs)
	if err != nil {
		return fail("commit prices", err)
	}
	result.PricesCommitted = pricesCommitted

	// Step 8: preferences.
	stagedPrefs, err := s.staging.GetStagedPreferences(ctx, sessionID)
	if err != nil {
		return fail("load staged preferences", err)
	}
	prefsCommitted, err := s.commitPreferences(ctx, restaurant.ID, person.ID, stagedPrefs, productIDs)
	if err != nil {
		return fail("commit preferences", err)
	}
	result.PreferencesCommitted = prefsCommitted

	// Step 9: preference collection queue.
	if err := s.populateQueue(ctx, restaurant.ID, stagedProducts, productIDs); err != nil {
		return fail("populate preference queue", err)
	}

	// Step 10: engagement profile.
	if err := s.createEngagementProfile(ctx, restaurant.ID, session); err != nil {
		return fail("create engagement profile", err)
	}

	// Step 11: finalize.
	if err := s.sessions.MarkCommitted(ctx, sessionID, restaurant.ID, person.ID); err != nil {
		return fail("finalize session", err)
	}

	result.Success = true
	s.logger.Info("Commit complete",
		zap.String("session_id", sessionID.String()),
		zap.Int64("restaurant_id", restaurant.ID),
		zap.Int("suppliers", result.SuppliersCommitted),
		zap.Int("products", result.ProductsCommitted),
		zap.Int("prices", result.PricesCommitted),
		zap.Int("preferences", result.PreferencesCommitted))

	return result, nil
}

// ============================================================================
// Commit Steps
// ============================================================================

func (s *commitService) commitRestaurant(ctx context.Context, session *models.OnboardingSession) (*models.Restaurant, error) {
	if session.RestaurantName == nil || *session.RestaurantName == "" {
		return nil, fmt.Errorf("%w: session has no restaurant name", apperrors.ErrInvalidInput)
	}

	existing, err := s.restaurants.GetByNameAndCity(ctx, *session.RestaurantName, session.City)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	restaurant := &models.Restaurant{
		RestaurantName: *session.RestaurantName,
		City:           session.City,
		RestaurantType: session.RestaurantType,
		IsActive:       true,
	}
	if err := s.restaurants.Create(ctx, restaurant); err != nil {
		return nil, err
	}
	if err := s.restaurants.MarkOnboarded(ctx, restaurant.ID, session.ID.String()); err != nil {
		return nil, err
	}
	return restaurant, nil
}

func (s *commitService) commitPerson(ctx context.Context, restaurantID int64, session *models.OnboardingSession, telegramChatID int64) (*models.RestaurantPerson, error) {
	whatsapp := strconv.FormatInt(telegramChatID, 10)

	existing, err := s.restaurants.GetPersonByWhatsapp(ctx, whatsapp)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.RestaurantID == restaurantID {
		return existing, nil
	}

	contactName := "Contato Principal"
	if session.ContactName != nil && *session.ContactName != "" {
		contactName = *session.ContactName
	}
	firstName, lastName := splitName(contactName)

	person := &models.RestaurantPerson{
		RestaurantID:     restaurantID,
		FirstName:        &firstName,
		LastName:         &lastName,
		FullName:         &contactName,
		WhatsappNumber:   &whatsapp,
		IsPrimaryContact: true,
		IsActive:         true,
	}
	if err := s.restaurants.CreatePerson(ctx, person); err != nil {
		return nil, err
	}
	return person, nil
}

// commitSuppliers resolves every staged supplier to a production id: matched
// suppliers reuse the match, retried commits reuse the stored committed id,
// the rest are created. All of them get linked to the restaurant. The
// returned map is keyed by staging id.
func (s *commitService) commitSuppliers(ctx context.Context, restaurantID int64, staged []*models.StagedSupplier) (map[uuid.UUID]int64, error) {
	ids := make(map[uuid.UUID]int64, len(staged))

	for _, sup := range staged {
		var productionID int64
		switch {
		case sup.CommittedSupplierID != nil:
			productionID = *sup.CommittedSupplierID
		case sup.MatchedSupplierID != nil:
			productionID = *sup.MatchedSupplierID
		default:
			supplier := &models.Supplier{
				CompanyName:  sup.CompanyName,
				TaxNumber:    sup.CNPJ,
				ContactPhone: sup.Phone,
				Email:        sup.Email,
				Address:      sup.Address,
				City:         sup.City,
				IsActive:     true,
			}
			if err := s.suppliers.Create(ctx, supplier); err != nil {
				return nil, fmt.Errorf("create supplier %q: %w", sup.CompanyName, err)
			}
			productionID = supplier.ID
		}

		if sup.CommittedSupplierID == nil {
			if err := s.stagedSupplier.SetCommittedID(ctx, sup.ID, productionID); err != nil {
				return nil, err
			}
		}
		if err := s.suppliers.LinkRestaurant(ctx, restaurantID, productionID); err != nil {
			return nil, err
		}
		ids[sup.ID] = productionID
	}

	return ids, nil
}

func (s *commitService) generateProductEmbeddings(ctx context.Context, staged []*models.StagedProduct) error {
	var toEmbed []*models.StagedProduct
	for _, p := range staged {
		if p.NeedsEmbedding() {
			toEmbed = append(toEmbed, p)
		}
	}
	if len(toEmbed) == 0 {
		return nil
	}

	texts := make([]string, 0, len(toEmbed))
	for _, p := range toEmbed {
		texts = append(texts, p.ProductName)
	}

	vectors, err := s.llmClient.CreateEmbeddings(ctx, texts, s.embeddingModel)
	if err != nil {
		return err
	}
	if len(vectors) != len(toEmbed) {
		return fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(toEmbed))
	}

	for i, p := range toEmbed {
		if err := s.stagedProduct.SetEmbedding(ctx, p.ID, vectors[i]); err != nil {
			return err
		}
		p.EmbeddingVector = vectors[i]
		p.EmbeddingGenerated = true
	}

	s.logger.Info("Generated product embeddings", zap.Int("count", len(toEmbed)))
	return nil
}

// commitProducts resolves every staged product to a master-list id, creating
// catalog entries for unmatched products. The returned map is keyed by
// staging id.
func (s *commitService) commitProducts(ctx context.Context, restaurantID int64, staged []*models.StagedProduct) (map[uuid.UUID]int64, error) {
	ids := make(map[uuid.UUID]int64, len(staged))

	for _, p := range staged {
		var masterListID int64
		switch {
		case p.CommittedMasterListID != nil:
			masterListID = *p.CommittedMasterListID
		case p.MatchedMasterListID != nil:
			masterListID = *p.MatchedMasterListID
		default:
			existing, err := s.catalog.GetByNameExact(ctx, restaurantID, p.ProductName)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				masterListID = existing.ID
				break
			}

			product := &models.CatalogProduct{
				RestaurantID:    restaurantID,
				ProductName:     p.ProductName,
				Description:     p.Description,
				Brand:           p.Brand,
				QualityTier:     p.QualityTier,
				Category:        p.InferredCategory,
				IsActive:        true,
				PopularityScore: p.InferredImportanceScore,
				EmbeddingVector: p.EmbeddingVector,
			}
			if err := s.catalog.Create(ctx, product); err != nil {
				return nil, fmt.Errorf("create catalog product %q: %w", p.ProductName, err)
			}
			masterListID = product.ID
		}

		if p.CommittedMasterListID == nil {
			if err := s.stagedProduct.SetCommittedID(ctx, p.ID, masterListID); err != nil {
				return nil, err
			}
		}
		ids[p.ID] = masterListID
	}

	return ids, nil
}

func (s *commitService) commitMappings(
	ctx context.Context,
	staged []*models.StagedProduct,
	supplierIDs map[uuid.UUID]int64,
	productIDs map[uuid.UUID]int64,
) error {
	created := 0
	for _, p := range staged {
		if p.StagingSupplierID == nil {
			continue
		}
		supplierID, ok := supplierIDs[*p.StagingSupplierID]
		if !ok {
			continue
		}
		masterListID, ok := productIDs[p.ID]
		if !ok {
			continue
		}

		currentPrice := 0.0
		if p.AvgUnitPrice != nil {
			currentPrice = *p.AvgUnitPrice
		}
		confidence := p.ExtractionConfidence
		if confidence == 0 {
			confidence = 0.8
		}

		mapping := &models.SupplierMappedProduct{
			SupplierID:          supplierID,
			MasterListID:        masterListID,
			SupplierProductCode: fmt.Sprintf("AUTO-%d", masterListID),
			SupplierProductName: p.ProductName,
			SupplierBrand:       p.Brand,
			MappingConfidence:   confidence,
			MappingMethod:       "invoice_extraction",
			CurrentUnitPrice:    currentPrice,
			IsActive:            true,
		}
		if err := s.mappings.Upsert(ctx, mapping); err != nil {
			return fmt.Errorf("map product %q to supplier %d: %w", p.ProductName, supplierID, err)
		}
		created++
	}

	s.logger.Info("Committed supplier-product mappings", zap.Int("count", created))
	return nil
}

func (s *commitService) commitPrices(
	ctx context.Context,
	staged []*models.StagedPrice,
	supplierIDs map[uuid.UUID]int64,
	productIDs map[uuid.UUID]int64,
) (int, error) {
	committed := 0
	for _, price := range staged {
		if price.StagingSupplierID == nil {
			continue
		}
		supplierID, ok := supplierIDs[*price.StagingSupplierID]
		if !ok {
			continue
		}
		masterListID, ok := productIDs[price.StagingProductID]
		if !ok {
			continue
		}

		effectiveDate := time.Now().UTC()
		if price.InvoiceDate != nil {
			effectiveDate = *price.InvoiceDate
		}

		exists, err := s.priceRecords.ExistsForDate(ctx, supplierID, masterListID, effectiveDate)
		if err != nil {
			return committed, err
		}
		if exists {
			continue
		}

		var mappedProductID *int64
		mapping, err := s.mappings.Get(ctx, supplierID, masterListID)
		if err != nil {
			return committed, err
		}
		if mapping != nil {
			mappedProductID = &mapping.ID
		}

		record := &models.PriceRecord{
			SupplierID:              supplierID,
			MasterListID:            masterListID,
			SupplierMappedProductID: mappedProductID,
			UnitPrice:               price.UnitPrice,
			Currency:                price.Currency,
			PricePerUnitType:        price.PricePerUnitType,
			EffectiveDate:           effectiveDate,
			DataSource:              string(models.SourceInvoiceExtraction),
		}
		if err := s.priceRecords.Record(ctx, record); err != nil {
			return committed, err
		}
		committed++

		if mapping != nil {
			if err := s.mappings.UpdatePrice(ctx, mapping.ID, price.UnitPrice); err != nil {
				return committed, err
			}
		}
	}

	return committed, nil
}

// commitPreferences folds product-scoped preferences into one row per
// (restaurant, product) pair and stores delivery patterns on the restaurant.
// Rejected inferences are dropped.
func (s *commitService) commitPreferences(
	ctx context.Context,
	restaurantID, personID int64,
	staged []*models.StagedPreference,
	productIDs map[uuid.UUID]int64,
) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	byProduct := make(map[uuid.UUID][]*models.StagedPreference)
	var productOrder []uuid.UUID
	var deliveryPrefs []*models.StagedPreference

	for _, pref := range staged {
		if pref.IsRejected() {
			continue
		}
		if pref.StagingProductID != nil {
			id := *pref.StagingProductID
			if _, seen := byProduct[id]; !seen {
				productOrder = append(productOrder, id)
			}
			byProduct[id] = append(byProduct[id], pref)
		} else if pref.PreferenceType == models.PreferenceDeliveryDay {
			deliveryPrefs = append(deliveryPrefs, pref)
		}
	}

	committed := 0
	for _, stagingProductID := range productOrder {
		masterListID, ok := productIDs[stagingProductID]
		if !ok {
			continue
		}

		row := &models.RestaurantProductPreference{
			RestaurantID: restaurantID,
			MasterListID: masterListID,
		}
		prefs := byProduct[stagingProductID]
		for _, pref := range prefs {
			doc := annotatePreference(pref, personID, now)
			switch pref.PreferenceType {
			case models.PreferenceBrand:
				row.BrandPreferences = doc
			case models.PreferencePriceMax:
				row.PricePreference = doc
			case models.PreferenceQuality:
				row.QualityPreference = doc
			case models.PreferenceSpecification:
				row.SpecificationPreferences = doc
			default:
				continue
			}
		}
		if row.BrandPreferences == nil && row.PricePreference == nil &&
			row.QualityPreference == nil && row.SpecificationPreferences == nil {
			continue
		}

		if err := s.preferences.Upsert(ctx, row); err != nil {
			return committed, err
		}
		committed++

		stored, err := s.preferences.Get(ctx, restaurantID, masterListID)
		if err != nil {
			return committed, err
		}
		if stored != nil {
			for _, pref := range prefs {
				if pref.CommittedPreferenceID != nil {
					continue
				}
				if err := s.stagedPref.SetCommittedID(ctx, pref.ID, stored.ID); err != nil {
					return committed, err
				}
			}
		}
	}

	if len(deliveryPrefs) > 0 {
		patterns := make([]any, 0, len(deliveryPrefs))
		for _, pref := range deliveryPrefs {
			patterns = append(patterns, pref.PreferenceValue)
		}
		frequency := map[string]any{"delivery_patterns": patterns}
		if err := s.restaurants.UpdateOrderingFrequency(ctx, restaurantID, frequency); err != nil {
			return committed, err
		}
	}

	return committed, nil
}

func (s *commitService) populateQueue(
	ctx context.Context,
	restaurantID int64,
	staged []*models.StagedProduct,
	productIDs map[uuid.UUID]int64,
) error {
	sorted := make([]*models.StagedProduct, len(staged))
	copy(sorted, staged)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].InferredImportanceScore > sorted[j].InferredImportanceScore
	})

	var items []*models.PreferenceQueueItem
	position := 0
	for _, p := range sorted {
		masterListID, ok := productIDs[p.ID]
		if !ok {
			continue
		}
		position++

		tier := p.ImportanceTier
		if tier == "" {
			tier = models.TierLongTail
		}
		items = append(items, &models.PreferenceQueueItem{
			RestaurantID:    restaurantID,
			MasterListID:    masterListID,
			ProductName:     p.ProductName,
			ImportanceTier:  tier,
			ImportanceScore: p.InferredImportanceScore,
			TotalSpend:      p.TotalSpend,
			SpendSharePct:   p.SpendSharePercentage,
			Status:          models.DripStatusPending,
			QueuePosition:   position,
		})
	}

	if len(items) == 0 {
		return nil
	}
	if err := s.queue.CreateBatch(ctx, items); err != nil {
		return err
	}
	s.logger.Info("Populated preference queue", zap.Int("count", len(items)))
	return nil
}

// createEngagementProfile seeds the profile from the depth choice made
// during onboarding. The only signal available at commit time is depth, so
// the initial score is its weighted component alone.
func (s *commitService) createEngagementProfile(ctx context.Context, restaurantID int64, session *models.OnboardingSession) error {
	depth := session.EngagementDepth()
	signal := map[int]float64{0: 0.0, 5: 0.5, 10: 1.0}[depth]
	score := round2(0.15 * signal)
	level, dripBudget := models.LevelForScore(score)

	profile := &models.EngagementProfile{
		RestaurantID:            restaurantID,
		EngagementScore:         score,
		EngagementLevel:         level,
		DripQuestionsPerSession: dripBudget,
		OnboardingDepth:         depth,
	}
	if err := s.engagement.Upsert(ctx, profile); err != nil {
		return err
	}

	s.logger.Info("Created engagement profile",
		zap.Int64("restaurant_id", restaurantID),
		zap.Int("depth", depth),
		zap.Float64("score", score),
		zap.String("level", string(level)))
	return nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func splitName(full string) (string, string) {
	parts := strings.SplitN(strings.TrimSpace(full), " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// annotatePreference copies the preference value and adds the provenance
// keys stored alongside it in the folded row.
func annotatePreference(pref *models.StagedPreference, personID int64, addedAt string) map[string]any {
	doc := make(map[string]any, len(pref.PreferenceValue)+3)
	for k, v := range pref.PreferenceValue {
		doc[k] = v
	}
	source := "onboarding"
	if pref.Source == models.SourceInferred {
		source = string(models.SourceInferred)
	}
	doc["_source"] = source
	doc["_added_by"] = personID
	doc["_added_at"] = addedAt
	return doc
}

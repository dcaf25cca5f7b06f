package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edelae/frepi/pkg/config"
	"github.com/edelae/frepi/pkg/models"
	"github.com/edelae/frepi/pkg/repositories"
)

// categoryKeywords drives product categorization. Order matters: the first
// keyword contained in the lowercased product name wins, so more specific
// categories come before generic ones.
var categoryKeywords = []struct {
	category models.ProductCategory
	keywords []string
}{
	{models.CategoryProteinas, []string{
		"picanha", "carne", "bife", "alcatra", "costela", "frango", "peito",
		"coxa", "asa", "linguiça", "salsicha", "bacon", "presunto", "mortadela",
		"peixe", "tilápia", "salmão", "camarão", "atum", "sardinha", "bacalhau",
		"carne seca", "charque", "cupim", "maminha", "contra filé", "filé mignon",
		"acém", "patinho", "músculo", "pernil", "lombo", "bisteca", "coxinha",
		"sobrecoxa", "fígado", "moela", "coração", "porco", "suíno",
	}},
	{models.CategoryHortifruti, []string{
		"tomate", "cebola", "alho", "batata", "cenoura", "beterraba", "mandioca",
		"abobrinha", "berinjela", "pimentão", "pepino", "alface", "rúcula",
		"agrião", "espinafre", "couve", "repolho", "brócolis", "couve-flor",
		"vagem", "ervilha", "milho", "laranja", "limão", "maçã", "banana",
		"mamão", "melancia", "melão", "abacaxi", "uva", "morango", "manga",
		"goiaba", "maracujá", "abacate", "coco", "kiwi", "pera", "pêssego",
		"cheiro verde", "salsa", "cebolinha", "coentro", "hortelã", "manjericão",
		"jiló", "quiabo", "chuchu", "aipim", "inhame", "gengibre",
	}},
	{models.CategoryMercearia, []string{
		"arroz", "feijão", "macarrão", "farinha", "açúcar", "sal", "óleo",
		"azeite", "vinagre", "molho", "extrato", "massa", "tempero", "pimenta",
		"orégano", "colorau", "cominho", "curry", "mostarda", "ketchup",
		"maionese", "catchup", "sardinha lata", "atum lata", "milho lata",
		"ervilha lata", "leite condensado", "creme de leite", "café", "chá",
		"achocolatado", "biscoito", "bolacha", "pão", "torrada", "cereais",
		"aveia", "granola", "soja", "lentilha", "grão de bico",
	}},
	{models.CategoryLaticinios, []string{
		"leite", "queijo", "mussarela", "parmesão", "provolone", "gorgonzola",
		"requeijão", "cream cheese", "manteiga", "margarina", "iogurte",
		"creme de leite", "leite condensado", "nata", "ricota", "cottage",
		"coalho", "minas", "prato",
	}},
	{models.CategoryBebidas, []string{
		"água", "refrigerante", "suco", "cerveja", "vinho", "cachaça", "vodka",
		"whisky", "rum", "gin", "tequila", "energético", "isotônico", "chá gelado",
		"guaraná", "coca", "pepsi", "fanta", "sprite", "h2oh", "mate",
	}},
	{models.CategoryPadaria, []string{
		"pão", "bolo", "torta", "salgado", "croissant", "sonho", "rosquinha",
		"brioche", "ciabatta", "baguete", "pão de queijo", "fermento",
	}},
	{models.CategoryCongelados, []string{
		"congelado", "sorvete", "picolé", "hambúrguer", "nuggets", "empanado",
		"lasanha", "pizza congelada", "batata frita", "polpa",
	}},
	{models.CategoryLimpeza, []string{
		"detergente", "desinfetante", "água sanitária", "sabão", "esponja",
		"pano", "luva", "saco de lixo", "papel toalha", "guardanapo",
		"álcool", "multiuso", "limpa vidro", "removedor",
	}},
	{models.CategoryDescartaveis, []string{
		"copo descartável", "prato descartável", "talher descartável",
		"embalagem", "marmitex", "quentinha", "sacola", "canudo", "tampa",
		"papel alumínio", "filme plástico", "papel manteiga",
	}},
}

// diasSemana maps Go weekdays to their Portuguese names used in reports and
// staged delivery preferences.
var diasSemana = map[time.Weekday]string{
	time.Monday:    "segunda",
	time.Tuesday:   "terça",
	time.Wednesday: "quarta",
	time.Thursday:  "quinta",
	time.Friday:    "sexta",
	time.Saturday:  "sábado",
	time.Sunday:    "domingo",
}

const (
	// priorityProductCount is how many top products get the priority flag.
	priorityProductCount = 10

	// insightVarianceThreshold flags a price opportunity in the insight list;
	// it is looser than the threshold used for suggested maximum prices.
	insightVarianceThreshold = 15.0

	// insightFrequencyThreshold is the purchase count above which a product
	// is called out as high frequency.
	insightFrequencyThreshold = 5
)

// AnalysisService is the intelligence layer of onboarding. It turns the raw
// staged invoices into importance scores, categories, supplier rankings,
// price thresholds, delivery patterns, brand preferences and ranked insights.
type AnalysisService interface {
	// RunFullAnalysis executes all analysis stages over a session's staged
	// data, persists the derived fields and inferred preferences, and moves
	// the session to the summary phase. Safe to re-run: insights are
	// replaced and previously inferred preferences are not duplicated.
	RunFullAnalysis(ctx context.Context, sessionID uuid.UUID) (*models.AnalysisResult, error)

	// GetInsights returns the stored insights for a session, display order.
	GetInsights(ctx context.Context, sessionID uuid.UUID) ([]*models.AnalysisInsight, error)

	// FormatAnalysisSummary renders the analysis as the Portuguese Markdown
	// recap shown to the user before commit confirmation.
	FormatAnalysisSummary(ctx context.Context, sessionID uuid.UUID) (string, error)
}

type analysisService struct {
	staging        StagingService
	sessions       repositories.SessionRepository
	stagedProduct  repositories.StagedProductRepository
	stagedSupplier repositories.StagedSupplierRepository
	stagedPrice    repositories.StagedPriceRepository
	stagedPref     repositories.StagedPreferenceRepository
	insights       repositories.InsightRepository
	cfg            config.AnalysisConfig
	logger         *zap.Logger
}

// NewAnalysisService creates a new AnalysisService.
func NewAnalysisService(
	staging StagingService,
	sessions repositories.SessionRepository,
	stagedProduct repositories.StagedProductRepository,
	stagedSupplier repositories.StagedSupplierRepository,
	stagedPrice repositories.StagedPriceRepository,
	stagedPref repositories.StagedPreferenceRepository,
	insights repositories.InsightRepository,
	cfg config.AnalysisConfig,
	logger *zap.Logger,
) AnalysisService {
	return &analysisService{
		staging:        staging,
		sessions:       sessions,
		stagedProduct:  stagedProduct,
		stagedSupplier: stagedSupplier,
		stagedPrice:    stagedPrice,
		stagedPref:     stagedPref,
		insights:       insights,
		cfg:            cfg,
		logger:         logger.Named("analysis-service"),
	}
}

var _ AnalysisService = (*analysisService)(nil)

func (s *analysisService) RunFullAnalysis(ctx context.Context, sessionID uuid.UUID) (*models.AnalysisResult, error) {
	s.logger.Info("Starting full analysis", zap.String("session_id", sessionID.String()))

	if err := s.staging.UpdateSessionPhase(ctx, sessionID, models.PhaseAnalysis); err != nil {
		return nil, fmt.Errorf("enter analysis phase: %w", err)
	}

	suppliers, err := s.staging.GetStagedSuppliers(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load staged suppliers: %w", err)
	}
	products, err := s.staging.GetStagedProducts(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load staged products: %w", err)
	}
	prices, err := s.stagedPrice.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load staged prices: %w", err)
	}

	result := &models.AnalysisResult{
		SessionID:     sessionID,
		SupplierCount: len(suppliers),
		ProductCount:  len(products),
		CompletedAt:   time.Now().UTC(),
	}

	// Stage 1: product importance, categories, spend distribution, tiers.
	s.analyzeProducts(products, prices, result)
	if err := s.stagedProduct.UpdateAnalysisBatch(ctx, products); err != nil {
		return nil, fmt.Errorf("persist product analysis: %w", err)
	}
	topIDs := make([]uuid.UUID, 0, len(result.TopProducts))
	for _, p := range result.TopProducts {
		topIDs = append(topIDs, p.ID)
	}
	if err := s.stagedProduct.SetPriorities(ctx, sessionID, topIDs); err != nil {
		return nil, fmt.Errorf("set priority products: %w", err)
	}

	// Stage 2: supplier aggregates and per-category rankings.
	aggregates := s.analyzeSuppliers(suppliers, products, prices, result)
	for supplierID, agg := range aggregates {
		if err := s.stagedSupplier.UpdateAggregates(ctx, supplierID, agg.invoiceCount, agg.totalSpend, agg.categories); err != nil {
			return nil, fmt.Errorf("persist supplier aggregates: %w", err)
		}
	}

	// Preferences staged by the later stages must not be duplicated on
	// re-analysis, so build a key set of what is already there.
	staged, err := s.staging.GetStagedPreferences(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load staged preferences: %w", err)
	}
	seen := preferenceKeySet(staged)

	// Stage 3: price ranges, suggested maximums, price_max preferences.
	pricePrefs := s.analyzePrices(products, prices, result)

	// Stage 4: delivery patterns per category and supplier.
	patternPrefs := s.analyzePatterns(suppliers, products, prices, result)

	// Stage 5: brand preferences.
	brandPrefs := s.analyzeBrandPreferences(products, result)

	for _, pref := range concatPrefs(pricePrefs, patternPrefs, brandPrefs) {
		pref.SessionID = sessionID
		key := preferenceKey(pref)
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := s.staging.StagePreference(ctx, pref); err != nil {
			return nil, fmt.Errorf("stage inferred preference: %w", err)
		}
	}

	// Stage 6: ranked insights, replacing any previous run.
	if _, err := s.insights.DeleteBySession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("clear previous insights: %w", err)
	}
	generated := s.generateInsights(sessionID, result)
	if len(generated) > 0 {
		if err := s.insights.CreateBatch(ctx, generated); err != nil {
			return nil, fmt.Errorf("save insights: %w", err)
		}
	}
	result.Insights = make([]models.AnalysisInsight, 0, len(generated))
	for _, in := range generated {
		result.Insights = append(result.Insights, *in)
	}

	if err := s.sessions.SetAnalysisResult(ctx, sessionID, result.Snapshot()); err != nil {
		return nil, fmt.Errorf("record analysis result: %w", err)
	}
	if err := s.staging.UpdateSessionPhase(ctx, sessionID, models.PhaseSummary); err != nil {
		return nil, fmt.Errorf("enter summary phase: %w", err)
	}

	s.logger.Info("Analysis complete",
		zap.String("session_id", sessionID.String()),
		zap.Float64("total_spend", result.TotalSpend),
		zap.Int("insights", len(generated)))

	return result, nil
}

func (s *analysisService) GetInsights(ctx context.Context, sessionID uuid.UUID) ([]*models.AnalysisInsight, error) {
	return s.insights.ListBySession(ctx, sessionID)
}

// ============================================================================
// Stage 1: Products
// ============================================================================

// analyzeProducts fills in the analysis fields on each product in place and
// populates total spend, top products, category breakdown, tiers and the
// Pareto figures on the result.
func (s *analysisService) analyzeProducts(products []*models.StagedProduct, prices []*models.StagedPrice, result *models.AnalysisResult) {
	priceByProduct := make(map[uuid.UUID][]*models.StagedPrice)
	for _, p := range prices {
		priceByProduct[p.StagingProductID] = append(priceByProduct[p.StagingProductID], p)
	}

	totalSpend := 0.0
	for _, product := range products {
		productPrices := priceByProduct[product.ID]

		spend := 0.0
		totalQty := 0.0
		var unitPrices []float64
		for _, p := range productPrices {
			spend += p.LineSpend()
			if p.QuantityPurchased != nil {
				totalQty += *p.QuantityPurchased
			}
			if p.UnitPrice > 0 {
				unitPrices = append(unitPrices, p.UnitPrice)
			}
		}
		totalSpend += spend

		product.TotalSpend = spend
		product.PurchaseFrequency = len(productPrices)
		product.TotalQuantityPurchased = totalQty
		if len(unitPrices) > 0 {
			avg := mean(unitPrices)
			mn, mx := minMax(unitPrices)
			product.AvgUnitPrice = &avg
			product.MinUnitPrice = &mn
			product.MaxUnitPrice = &mx
		}
		product.InferredCategory = CategorizeProduct(product.ProductName)
	}

	result.TotalSpend = totalSpend

	for _, product := range products {
		if totalSpend > 0 {
			product.SpendSharePercentage = product.TotalSpend / totalSpend * 100
		}
		product.InferredImportanceScore = importanceScore(
			product.PurchaseFrequency, product.TotalSpend, product.SpendSharePercentage, totalSpend)
	}

	sorted := make([]*models.StagedProduct, len(products))
	copy(sorted, products)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].InferredImportanceScore > sorted[j].InferredImportanceScore
	})

	top := sorted
	if len(top) > priorityProductCount {
		top = top[:priorityProductCount]
	}
	result.TopProducts = derefProducts(top)
	result.PriorityProducts = result.TopProducts

	result.CategorySpend = categoryBreakdown(products, totalSpend)

	assignTiers(sorted, totalSpend)

	// Pareto: how many top-spend products cover 80% of total spend.
	// Without spend data there is nothing to cover.
	if totalSpend > 0 {
		bySpend := make([]*models.StagedProduct, len(products))
		copy(bySpend, products)
		sort.SliceStable(bySpend, func(i, j int) bool {
			return bySpend[i].TotalSpend > bySpend[j].TotalSpend
		})
		cumulative := 0.0
		count := 0
		for _, p := range bySpend {
			cumulative += p.TotalSpend
			count++
			if cumulative >= totalSpend*0.8 {
				break
			}
		}
		result.ParetoProductCount = count
		result.ParetoPercentage = float64(count) / float64(len(products)) * 100
	}
}

// CategorizeProduct maps a product name to its purchasing category by
// keyword containment. Unknown names fall into "outros".
func CategorizeProduct(name string) models.ProductCategory {
	lower := strings.ToLower(name)
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.category
			}
		}
	}
	return models.CategoryOutros
}

// importanceScore weighs purchase frequency, absolute spend and spend share.
// Frequency saturates at 10 purchases, spend at 20% of total, share at 10%.
func importanceScore(frequency int, spend, sharePct, totalSpend float64) float64 {
	freqScore := math.Min(float64(frequency)/10, 1.0)
	spendScore := 0.0
	if totalSpend > 0 {
		spendScore = math.Min(spend/(totalSpend*0.2), 1.0)
	}
	shareScore := math.Min(sharePct/10, 1.0)
	return round2(freqScore*0.3 + spendScore*0.4 + shareScore*0.3)
}

// assignTiers walks products in importance order and buckets them by the
// cumulative spend share reached so far: head up to 60%, mid_tail up to 90%,
// long_tail beyond.
func assignTiers(sorted []*models.StagedProduct, totalSpend float64) {
	if len(sorted) == 0 || totalSpend <= 0 {
		return
	}
	cumulative := 0.0
	for _, p := range sorted {
		cumulative += p.TotalSpend
		pct := cumulative / totalSpend
		switch {
		case pct <= 0.60:
			p.ImportanceTier = models.TierHead
		case pct <= 0.90:
			p.ImportanceTier = models.TierMidTail
		default:
			p.ImportanceTier = models.TierLongTail
		}
	}
}

func categoryBreakdown(products []*models.StagedProduct, totalSpend float64) []models.CategorySpend {
	type bucket struct {
		spend    float64
		count    int
		products []string
	}
	buckets := make(map[models.ProductCategory]*bucket)
	for _, p := range products {
		cat := p.InferredCategory
		if cat == "" {
			cat = models.CategoryOutros
		}
		b := buckets[cat]
		if b == nil {
			b = &bucket{}
			buckets[cat] = b
		}
		b.spend += p.TotalSpend
		b.count++
		b.products = append(b.products, p.ProductName)
	}

	out := make([]models.CategorySpend, 0, len(buckets))
	for cat, b := range buckets {
		pct := 0.0
		if totalSpend > 0 {
			pct = b.spend / totalSpend * 100
		}
		top := b.products
		if len(top) > 5 {
			top = top[:5]
		}
		out = append(out, models.CategorySpend{
			Category:     cat,
			TotalSpend:   b.spend,
			ProductCount: b.count,
			Percentage:   pct,
			TopProducts:  top,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalSpend > out[j].TotalSpend })
	return out
}

// ============================================================================
// Stage 2: Suppliers
// ============================================================================

type supplierAggregate struct {
	totalSpend   float64
	productCount int
	invoiceCount int
	categories   []string
}

// analyzeSuppliers computes per-supplier spend, product counts, distinct
// invoice counts and category sets, and ranks suppliers within each category
// by spend. Returns the aggregates keyed by staged supplier id for
// persistence.
func (s *analysisService) analyzeSuppliers(
	suppliers []*models.StagedSupplier,
	products []*models.StagedProduct,
	prices []*models.StagedPrice,
	result *models.AnalysisResult,
) map[uuid.UUID]*supplierAggregate {
	supplierByID := make(map[uuid.UUID]*models.StagedSupplier, len(suppliers))
	for _, sup := range suppliers {
		supplierByID[sup.ID] = sup
	}

	aggregates := make(map[uuid.UUID]*supplierAggregate)
	categorySets := make(map[uuid.UUID]map[string]bool)
	get := func(id uuid.UUID) *supplierAggregate {
		agg := aggregates[id]
		if agg == nil {
			agg = &supplierAggregate{}
			aggregates[id] = agg
			categorySets[id] = make(map[string]bool)
		}
		return agg
	}

	for _, product := range products {
		if product.StagingSupplierID == nil {
			continue
		}
		agg := get(*product.StagingSupplierID)
		agg.totalSpend += product.TotalSpend
		agg.productCount++
		if product.InferredCategory != "" {
			categorySets[*product.StagingSupplierID][string(product.InferredCategory)] = true
		}
	}

	// Distinct invoice numbers per supplier.
	invoiceNumbers := make(map[uuid.UUID]map[string]bool)
	for _, price := range prices {
		if price.StagingSupplierID == nil || price.InvoiceNumber == nil {
			continue
		}
		id := *price.StagingSupplierID
		if invoiceNumbers[id] == nil {
			invoiceNumbers[id] = make(map[string]bool)
		}
		invoiceNumbers[id][*price.InvoiceNumber] = true
	}
	for id, numbers := range invoiceNumbers {
		get(id).invoiceCount = len(numbers)
	}

	for id, set := range categorySets {
		cats := make([]string, 0, len(set))
		for c := range set {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		aggregates[id].categories = cats
	}

	// Rank suppliers by spend within each category.
	type entry struct {
		supplier *models.StagedSupplier
		agg      *supplierAggregate
	}
	byCategory := make(map[string][]entry)
	for id, agg := range aggregates {
		sup := supplierByID[id]
		if sup == nil {
			continue
		}
		for _, cat := range agg.categories {
			byCategory[cat] = append(byCategory[cat], entry{sup, agg})
		}
	}

	categories := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	var rankings []models.SupplierRanking
	for _, cat := range categories {
		entries := byCategory[cat]
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].agg.totalSpend > entries[j].agg.totalSpend
		})
		for rank, e := range entries {
			rankings = append(rankings, models.SupplierRanking{
				SupplierName: e.supplier.CompanyName,
				Category:     models.ProductCategory(cat),
				TotalSpend:   e.agg.totalSpend,
				ProductCount: e.agg.productCount,
				InvoiceCount: e.agg.invoiceCount,
				Rank:         rank + 1,
			})
		}
	}
	result.SupplierRankings = rankings

	return aggregates
}

// ============================================================================
// Stage 3: Prices
// ============================================================================

// analyzePrices derives a price range and a suggested maximum for every
// product with observed prices, and returns the price_max preferences to
// stage. High price variance lowers the inference confidence.
func (s *analysisService) analyzePrices(
	products []*models.StagedProduct,
	prices []*models.StagedPrice,
	result *models.AnalysisResult,
) []*models.StagedPreference {
	productByID := make(map[uuid.UUID]*models.StagedProduct, len(products))
	order := make([]uuid.UUID, 0, len(products))
	for _, p := range products {
		productByID[p.ID] = p
		order = append(order, p.ID)
	}

	pricesByProduct := make(map[uuid.UUID][]*models.StagedPrice)
	for _, price := range prices {
		pricesByProduct[price.StagingProductID] = append(pricesByProduct[price.StagingProductID], price)
	}

	var ranges []models.PriceRange
	var prefs []*models.StagedPreference

	for _, productID := range order {
		productPrices := pricesByProduct[productID]
		product := productByID[productID]
		if product == nil || len(productPrices) == 0 {
			continue
		}

		var unitPrices []float64
		for _, p := range productPrices {
			if p.UnitPrice > 0 {
				unitPrices = append(unitPrices, p.UnitPrice)
			}
		}
		if len(unitPrices) == 0 {
			continue
		}

		mn, mx := minMax(unitPrices)
		avg := mean(unitPrices)

		variancePct := 0.0
		if avg > 0 {
			variancePct = (mx - mn) / avg * 100
		}

		// 10% above the observed max, or 20% above the average when the
		// spread is too wide for the max to be trusted.
		var suggestedMax float64
		if variancePct > s.cfg.PriceVarianceThreshold {
			suggestedMax = avg * 1.2
		} else {
			suggestedMax = mx * 1.1
		}

		unit := "un"
		if productPrices[0].PricePerUnitType != nil && *productPrices[0].PricePerUnitType != "" {
			unit = *productPrices[0].PricePerUnitType
		}

		ranges = append(ranges, models.PriceRange{
			ProductName:  product.ProductName,
			MinPrice:     round2(mn),
			MaxPrice:     round2(mx),
			AvgPrice:     round2(avg),
			VariancePct:  round1(variancePct),
			SuggestedMax: round2(suggestedMax),
			Unit:         unit,
			SampleCount:  len(unitPrices),
		})

		confidence := 0.8
		if variancePct >= s.cfg.PriceVarianceThreshold {
			confidence = 0.6
		}
		reasoning := fmt.Sprintf("Baseado em %d registros de preço. Variação: %.1f%%",
			len(unitPrices), variancePct)
		pid := productID
		prefs = append(prefs, &models.StagedPreference{
			StagingProductID: &pid,
			PreferenceType:   models.PreferencePriceMax,
			PreferenceValue: map[string]any{
				"max_price":    round2(suggestedMax),
				"unit":         unit,
				"based_on_avg": round2(avg),
				"based_on_max": round2(mx),
			},
			ConfidenceScore:    confidence,
			Source:             models.SourceInferred,
			InferenceReasoning: &reasoning,
		})
	}

	sort.SliceStable(ranges, func(i, j int) bool { return ranges[i].AvgPrice > ranges[j].AvgPrice })
	if len(ranges) > 10 {
		ranges = ranges[:10]
	}
	result.PriceRanges = ranges

	return prefs
}

// ============================================================================
// Stage 4: Delivery Patterns
// ============================================================================

// analyzePatterns buckets invoice dates by weekday per category and per
// supplier, keeps the days seen more than once, and returns the delivery_day
// preferences to stage for the category patterns.
func (s *analysisService) analyzePatterns(
	suppliers []*models.StagedSupplier,
	products []*models.StagedProduct,
	prices []*models.StagedPrice,
	result *models.AnalysisResult,
) []*models.StagedPreference {
	supplierByID := make(map[uuid.UUID]*models.StagedSupplier, len(suppliers))
	for _, sup := range suppliers {
		supplierByID[sup.ID] = sup
	}
	productByID := make(map[uuid.UUID]*models.StagedProduct, len(products))
	for _, p := range products {
		productByID[p.ID] = p
	}

	categoryDays := make(map[string]map[string]int)
	supplierDays := make(map[string]map[string]int)
	bump := func(m map[string]map[string]int, key, day string) {
		if m[key] == nil {
			m[key] = make(map[string]int)
		}
		m[key][day]++
	}

	for _, price := range prices {
		if price.InvoiceDate == nil {
			continue
		}
		day := diasSemana[price.InvoiceDate.Weekday()]

		if product := productByID[price.StagingProductID]; product != nil && product.InferredCategory != "" {
			bump(categoryDays, string(product.InferredCategory), day)
		}
		if price.StagingSupplierID != nil {
			if sup := supplierByID[*price.StagingSupplierID]; sup != nil {
				bump(supplierDays, sup.CompanyName, day)
			}
		}
	}

	var patterns []models.DeliveryPattern
	var prefs []*models.StagedPreference

	for _, cat := range sortedKeys(categoryDays) {
		days := categoryDays[cat]
		common := commonDays(days)
		if len(common) == 0 {
			continue
		}

		total := 0
		for _, n := range days {
			total += n
		}
		freq := describeFrequency(len(common))
		patterns = append(patterns, models.DeliveryPattern{
			Scope:      "category",
			Name:       cat,
			CommonDays: common,
			Frequency:  freq,
			Confidence: math.Min(float64(total)/10, s.cfg.PatternConfidenceCap),
		})

		reasoning := fmt.Sprintf("Baseado em %d entregas registradas", total)
		prefs = append(prefs, &models.StagedPreference{
			PreferenceType: models.PreferenceDeliveryDay,
			PreferenceValue: map[string]any{
				"category":  cat,
				"days":      common,
				"frequency": freq,
			},
			ConfidenceScore:    0.7,
			Source:             models.SourceInferred,
			InferenceReasoning: &reasoning,
		})
	}

	for _, name := range sortedKeys(supplierDays) {
		days := supplierDays[name]
		common := commonDays(days)
		if len(common) == 0 {
			continue
		}
		total := 0
		for _, n := range days {
			total += n
		}
		patterns = append(patterns, models.DeliveryPattern{
			Scope:      "supplier",
			Name:       name,
			CommonDays: common,
			Frequency:  describeFrequency(len(common)),
			Confidence: math.Min(float64(total)/10, s.cfg.PatternConfidenceCap),
		})
	}

	result.DeliveryPatterns = patterns
	return prefs
}

// commonDays returns up to three weekdays observed more than once, most
// frequent first.
func commonDays(days map[string]int) []string {
	type dayCount struct {
		day   string
		count int
	}
	counts := make([]dayCount, 0, len(days))
	for d, n := range days {
		counts = append(counts, dayCount{d, n})
	}
	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].day < counts[j].day
	})

	var out []string
	for _, dc := range counts {
		if dc.count > 1 {
			out = append(out, dc.day)
		}
		if len(out) == 3 {
			break
		}
	}
	return out
}

// describeFrequency renders a delivery cadence in Portuguese.
func describeFrequency(daysPerWeek int) string {
	switch {
	case daysPerWeek >= 5:
		return "diariamente"
	case daysPerWeek >= 3:
		return fmt.Sprintf("%dx por semana", daysPerWeek)
	case daysPerWeek == 2:
		return "2x por semana"
	case daysPerWeek == 1:
		return "semanalmente"
	default:
		return "esporadicamente"
	}
}

// ============================================================================
// Stage 5: Brand Preferences
// ============================================================================

// analyzeBrandPreferences groups branded products by base name and flags a
// dominant brand when it covers at least the configured share of purchases.
func (s *analysisService) analyzeBrandPreferences(
	products []*models.StagedProduct,
	result *models.AnalysisResult,
) []*models.StagedPreference {
	groups := make(map[string][]*models.StagedProduct)
	for _, p := range products {
		if p.Brand == nil || *p.Brand == "" {
			continue
		}
		base := baseProductName(p.ProductName)
		groups[base] = append(groups[base], p)
	}

	var brandPrefs []models.BrandPreference
	var prefs []*models.StagedPreference

	for _, base := range sortedKeys(groups) {
		group := groups[base]
		if len(group) < 2 {
			continue
		}

		type brandCount struct {
			brand string
			count int
		}
		counts := make(map[string]int)
		total := 0
		for _, p := range group {
			freq := p.PurchaseFrequency
			if freq == 0 {
				freq = 1
			}
			counts[*p.Brand] += freq
			total += freq
		}
		if total == 0 {
			continue
		}

		sorted := make([]brandCount, 0, len(counts))
		for b, n := range counts {
			sorted = append(sorted, brandCount{b, n})
		}
		sort.SliceStable(sorted, func(i, j int) bool {
			if sorted[i].count != sorted[j].count {
				return sorted[i].count > sorted[j].count
			}
			return sorted[i].brand < sorted[j].brand
		})

		top := sorted[0]
		pct := float64(top.count) / float64(total)
		if pct < s.cfg.BrandDominanceThreshold {
			continue
		}

		confidence := math.Min(pct+0.1, s.cfg.BrandConfidenceCap)
		var alternatives []string
		for _, bc := range sorted[1:] {
			alternatives = append(alternatives, bc.brand)
			if len(alternatives) == 2 {
				break
			}
		}

		brandPrefs = append(brandPrefs, models.BrandPreference{
			ProductName:        base,
			PreferredBrand:     top.brand,
			PurchaseCount:      top.count,
			PurchasePercentage: pct,
			Confidence:         confidence,
			Alternatives:       alternatives,
		})

		// Attach the preference to the first product carrying the brand.
		mainProduct := group[0]
		for _, p := range group {
			if *p.Brand == top.brand {
				mainProduct = p
				break
			}
		}

		reasoning := fmt.Sprintf("%s representa %.0f%% das compras de %s", top.brand, pct*100, base)
		pid := mainProduct.ID
		prefs = append(prefs, &models.StagedPreference{
			StagingProductID: &pid,
			PreferenceType:   models.PreferenceBrand,
			PreferenceValue: map[string]any{
				"brand":        top.brand,
				"percentage":   round1(pct * 100),
				"alternatives": alternatives,
			},
			ConfidenceScore:    confidence,
			Source:             models.SourceInferred,
			InferenceReasoning: &reasoning,
		})
	}

	sort.SliceStable(brandPrefs, func(i, j int) bool {
		return brandPrefs[i].PurchasePercentage > brandPrefs[j].PurchasePercentage
	})
	result.BrandPreferences = brandPrefs

	return prefs
}

// baseProductName strips brand and size detail by keeping the first two
// words of the lowercased name.
func baseProductName(name string) string {
	words := strings.Fields(strings.ToLower(name))
	if len(words) > 2 {
		words = words[:2]
	}
	return strings.Join(words, " ")
}

// ============================================================================
// Stage 6: Insights
// ============================================================================

func (s *analysisService) generateInsights(sessionID uuid.UUID, result *models.AnalysisResult) []*models.AnalysisInsight {
	var insights []*models.AnalysisInsight

	if len(result.CategorySpend) > 0 {
		top := result.CategorySpend[0]
		cat := string(top.Category)
		categories := make([]map[string]any, 0, len(result.CategorySpend))
		for _, c := range result.CategorySpend {
			categories = append(categories, map[string]any{
				"name":       string(c.Category),
				"spend":      c.TotalSpend,
				"percentage": c.Percentage,
			})
		}
		insights = append(insights, &models.AnalysisInsight{
			SessionID:   sessionID,
			InsightType: models.InsightSpendDistribution,
			Category:    &cat,
			Title:       "Distribuição de Gastos",
			Description: fmt.Sprintf("A categoria '%s' representa %.0f%% do gasto total (R$%.2f)",
				cat, top.Percentage, top.TotalSpend),
			Data:            map[string]any{"categories": categories},
			ConfidenceScore: 0.95,
			DisplayPriority: 1,
		})
	}

	if result.ParetoPercentage > 0 {
		insights = append(insights, &models.AnalysisInsight{
			SessionID:   sessionID,
			InsightType: models.InsightParetoAnalysis,
			Title:       "Concentração de Gastos (80/20)",
			Description: fmt.Sprintf("80%% do seu gasto vem de apenas %d produtos (%.0f%% do total)",
				result.ParetoProductCount, result.ParetoPercentage),
			Data: map[string]any{
				"products_for_80_percent": result.ParetoProductCount,
				"percentage_of_products":  result.ParetoPercentage,
			},
			ConfidenceScore: 0.95,
			DisplayPriority: 2,
		})
	}

	if top := dominantSupplier(result.SupplierRankings); top != nil && result.TotalSpend > 0 {
		share := top.TotalSpend / result.TotalSpend * 100
		if share > 40 {
			insights = append(insights, &models.AnalysisInsight{
				SessionID:   sessionID,
				InsightType: models.InsightDiversificationSuggested,
				Title:       "Concentração em Fornecedor",
				Description: fmt.Sprintf("'%s' representa %.0f%% do gasto total. Considere diversificar fornecedores.",
					top.SupplierName, share),
				Data: map[string]any{
					"supplier":         top.SupplierName,
					"share_percentage": share,
					"spend":            top.TotalSpend,
				},
				ConfidenceScore: 0.85,
				DisplayPriority: 3,
			})
		}
	}

	for _, pr := range result.PriceRanges {
		if pr.VariancePct <= insightVarianceThreshold {
			continue
		}
		insights = append(insights, &models.AnalysisInsight{
			SessionID:   sessionID,
			InsightType: models.InsightPriceOpportunity,
			Title:       "Oportunidade de Preço",
			Description: fmt.Sprintf("'%s' tem variação de %.0f%% entre fornecedores - vale comparar",
				pr.ProductName, pr.VariancePct),
			Data: map[string]any{
				"product":   pr.ProductName,
				"min_price": pr.MinPrice,
				"max_price": pr.MaxPrice,
				"variance":  pr.VariancePct,
			},
			ConfidenceScore: 0.8,
			DisplayPriority: 4,
		})
		break
	}

	var highFreq []models.StagedProduct
	for _, p := range result.TopProducts {
		if p.PurchaseFrequency > insightFrequencyThreshold {
			highFreq = append(highFreq, p)
		}
	}
	if len(highFreq) > 0 {
		names := make([]string, 0, 3)
		data := make([]map[string]any, 0, 5)
		for i, p := range highFreq {
			if i < 3 {
				names = append(names, p.ProductName)
			}
			if i < 5 {
				data = append(data, map[string]any{
					"name":      p.ProductName,
					"frequency": p.PurchaseFrequency,
				})
			}
		}
		insights = append(insights, &models.AnalysisInsight{
			SessionID:   sessionID,
			InsightType: models.InsightPurchasingFrequency,
			Title:       "Alta Frequência de Compra",
			Description: fmt.Sprintf("%s são comprados frequentemente - considere negociar volume",
				strings.Join(names, ", ")),
			Data:            map[string]any{"products": data},
			ConfidenceScore: 0.85,
			DisplayPriority: 5,
		})
	}

	return insights
}

// dominantSupplier picks the highest-spend rank-1 supplier across categories.
func dominantSupplier(rankings []models.SupplierRanking) *models.SupplierRanking {
	var top *models.SupplierRanking
	for i := range rankings {
		r := &rankings[i]
		if r.Rank != 1 {
			continue
		}
		if top == nil || r.TotalSpend > top.TotalSpend {
			top = r
		}
	}
	return top
}

// ============================================================================
// Helper Functions
// ============================================================================

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func minMax(values []float64) (float64, float64) {
	mn, mx := values[0], values[0]
	for _, v := range values[1:] {
		if v < mn {
			mn = v
		}
		if v > mx {
			mx = v
		}
	}
	return mn, mx
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func derefProducts(products []*models.StagedProduct) []models.StagedProduct {
	out := make([]models.StagedProduct, 0, len(products))
	for _, p := range products {
		out = append(out, *p)
	}
	return out
}

func concatPrefs(groups ...[]*models.StagedPreference) []*models.StagedPreference {
	var out []*models.StagedPreference
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// preferenceKey identifies an inferred preference for dedup across analysis
// runs. Delivery patterns are global, so the category inside the value is
// part of the key.
func preferenceKey(pref *models.StagedPreference) string {
	productID := ""
	if pref.StagingProductID != nil {
		productID = pref.StagingProductID.String()
	}
	extra := ""
	if pref.PreferenceType == models.PreferenceDeliveryDay {
		if cat, ok := pref.PreferenceValue["category"].(string); ok {
			extra = cat
		}
	}
	return string(pref.PreferenceType) + "|" + productID + "|" + extra
}

func preferenceKeySet(prefs []*models.StagedPreference) map[string]bool {
	set := make(map[string]bool, len(prefs))
	for _, p := range prefs {
		if p.Source == models.SourceInferred {
			set[preferenceKey(p)] = true
		}
	}
	return set
}

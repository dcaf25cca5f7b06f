package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Insight Type
// ============================================================================

// InsightType classifies an analysis finding.
type InsightType string

const (
	InsightBrandPreference          InsightType = "brand_preference"
	InsightPriceThreshold           InsightType = "price_threshold"
	InsightDeliveryPattern          InsightType = "delivery_pattern"
	InsightSupplierRanking          InsightType = "supplier_ranking"
	InsightProductImportance        InsightType = "product_importance"
	InsightSpendDistribution        InsightType = "spend_distribution"
	InsightCategoryBreakdown        InsightType = "category_breakdown"
	InsightPurchasingFrequency      InsightType = "purchasing_frequency"
	InsightParetoAnalysis           InsightType = "pareto_analysis"
	InsightDiversificationSuggested InsightType = "diversification_suggestion"
	InsightPriceOpportunity         InsightType = "price_opportunity"
)

// ============================================================================
// Analysis Insight
// ============================================================================

// AnalysisInsight is a generated, ranked, human-readable finding.
// DisplayPriority controls presentation order; lower shows first.
type AnalysisInsight struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`

	InsightType     InsightType    `json:"insight_type"`
	Category        *string        `json:"category,omitempty"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Data            map[string]any `json:"data,omitempty"`
	ConfidenceScore float64        `json:"confidence_score"`
	DisplayPriority int            `json:"display_priority"`

	CreatedAt time.Time `json:"created_at"`
}

// ============================================================================
// Analysis Value Types
// ============================================================================

// CategorySpend aggregates spend within one product category.
type CategorySpend struct {
	Category     ProductCategory `json:"category"`
	TotalSpend   float64         `json:"total_spend"`
	ProductCount int             `json:"product_count"`
	Percentage   float64         `json:"percentage"`
	TopProducts  []string        `json:"top_products,omitempty"`
}

// SupplierRanking ranks one supplier within one category (rank 1 = highest
// spend). A supplier can rank in multiple categories.
type SupplierRanking struct {
	SupplierName string          `json:"supplier_name"`
	Category     ProductCategory `json:"category"`
	TotalSpend   float64         `json:"total_spend"`
	ProductCount int             `json:"product_count"`
	InvoiceCount int             `json:"invoice_count"`
	Rank         int             `json:"rank"`
}

// BrandPreference is a detected dominant brand for a base product.
type BrandPreference struct {
	ProductName        string   `json:"product_name"`
	PreferredBrand     string   `json:"preferred_brand"`
	PurchaseCount      int      `json:"purchase_count"`
	PurchasePercentage float64  `json:"purchase_percentage"`
	Confidence         float64  `json:"confidence"`
	Alternatives       []string `json:"alternatives,omitempty"`
}

// Strength describes the preference in Portuguese user-facing terms.
func (b *BrandPreference) Strength() string {
	switch {
	case b.Confidence >= 0.9:
		return "forte"
	case b.Confidence >= 0.7:
		return "moderada"
	default:
		return "fraca"
	}
}

// PriceRange summarizes the observed price dispersion for a product and the
// suggested maximum acceptable price derived from it.
type PriceRange struct {
	ProductName  string  `json:"product_name"`
	MinPrice     float64 `json:"min_price"`
	MaxPrice     float64 `json:"max_price"`
	AvgPrice     float64 `json:"avg_price"`
	VariancePct  float64 `json:"variance_pct"`
	SuggestedMax float64 `json:"suggested_max"`
	Unit         string  `json:"unit"`
	SampleCount  int     `json:"sample_count"`
}

// DeliveryPattern captures common delivery weekdays for a category or
// supplier.
type DeliveryPattern struct {
	Scope      string   `json:"scope"` // "category" or "supplier"
	Name       string   `json:"name"`
	CommonDays []string `json:"common_days"`
	Frequency  string   `json:"frequency"`
	Confidence float64  `json:"confidence"`
}

// ============================================================================
// Analysis Result
// ============================================================================

// AnalysisResult is the full output of one analysis run over a session.
type AnalysisResult struct {
	SessionID uuid.UUID `json:"session_id"`

	TotalSpend    float64 `json:"total_spend"`
	ProductCount  int     `json:"product_count"`
	SupplierCount int     `json:"supplier_count"`

	CategorySpend    []CategorySpend   `json:"category_spend,omitempty"`
	TopProducts      []StagedProduct   `json:"top_products,omitempty"`
	PriorityProducts []StagedProduct   `json:"priority_products,omitempty"`
	SupplierRankings []SupplierRanking `json:"supplier_rankings,omitempty"`
	BrandPreferences []BrandPreference `json:"brand_preferences,omitempty"`
	PriceRanges      []PriceRange      `json:"price_ranges,omitempty"`
	DeliveryPatterns []DeliveryPattern `json:"delivery_patterns,omitempty"`
	Insights         []AnalysisInsight `json:"insights,omitempty"`

	// ParetoProductCount is how many top products (by spend) are needed to
	// reach 80% of total spend; ParetoPercentage is that count as a share of
	// all products.
	ParetoProductCount int     `json:"pareto_product_count"`
	ParetoPercentage   float64 `json:"pareto_percentage"`

	CompletedAt time.Time `json:"completed_at"`
}

// Snapshot reduces the result to the compact form stored on the session.
func (r *AnalysisResult) Snapshot() *AnalysisSnapshot {
	return &AnalysisSnapshot{
		TotalSpend:       r.TotalSpend,
		SupplierCount:    r.SupplierCount,
		ProductCount:     r.ProductCount,
		ParetoPercentage: r.ParetoPercentage,
	}
}

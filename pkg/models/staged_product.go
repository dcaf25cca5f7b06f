package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Product Category
// ============================================================================

// ProductCategory is the coarse purchasing category a product falls in.
type ProductCategory string

const (
	CategoryProteinas    ProductCategory = "proteinas"
	CategoryHortifruti   ProductCategory = "hortifruti"
	CategoryMercearia    ProductCategory = "mercearia"
	CategoryLaticinios   ProductCategory = "laticinios"
	CategoryBebidas      ProductCategory = "bebidas"
	CategoryPadaria      ProductCategory = "padaria"
	CategoryCongelados   ProductCategory = "congelados"
	CategoryLimpeza      ProductCategory = "limpeza"
	CategoryDescartaveis ProductCategory = "descartaveis"
	CategoryOutros       ProductCategory = "outros"
)

// ValidProductCategories contains all valid category values.
var ValidProductCategories = []ProductCategory{
	CategoryProteinas,
	CategoryHortifruti,
	CategoryMercearia,
	CategoryLaticinios,
	CategoryBebidas,
	CategoryPadaria,
	CategoryCongelados,
	CategoryLimpeza,
	CategoryDescartaveis,
	CategoryOutros,
}

// ============================================================================
// Importance Tier
// ============================================================================

// ImportanceTier partitions products by cumulative spend share:
// head covers the top 60%, mid_tail the next 30%, long_tail the rest.
type ImportanceTier string

const (
	TierHead     ImportanceTier = "head"
	TierMidTail  ImportanceTier = "mid_tail"
	TierLongTail ImportanceTier = "long_tail"
)

// ValidImportanceTiers contains all valid tier values.
var ValidImportanceTiers = []ImportanceTier{TierHead, TierMidTail, TierLongTail}

// IsValidImportanceTier checks if the given tier is valid.
func IsValidImportanceTier(t ImportanceTier) bool {
	for _, v := range ValidImportanceTiers {
		if v == t {
			return true
		}
	}
	return false
}

// ============================================================================
// Staged Product
// ============================================================================

// StagedProduct is a product captured during onboarding. The analysis fields
// (frequency, spend, importance, tier, priority) are derived from staged
// prices and are recomputed whenever prices change; they are never authored
// directly by a user.
type StagedProduct struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`

	ProductName    string            `json:"product_name"`
	Description    *string           `json:"description,omitempty"`
	Brand          *string           `json:"brand,omitempty"`
	Specifications map[string]string `json:"specifications,omitempty"`
	QualityTier    *string           `json:"quality_tier,omitempty"`

	Source               DataSource `json:"source"`
	SourceInvoiceIndex   *int       `json:"source_invoice_index,omitempty"`
	ExtractionConfidence float64    `json:"extraction_confidence"`

	EmbeddingVector    []float32 `json:"-"`
	EmbeddingGenerated bool      `json:"embedding_generated"`

	MatchedMasterListID *int64   `json:"matched_master_list_id,omitempty"`
	MatchConfidence     *float64 `json:"match_confidence,omitempty"`
	IsNewProduct        bool     `json:"is_new_product"`

	IsPriority   bool `json:"is_priority"`
	PriorityRank *int `json:"priority_rank,omitempty"`

	PurchaseFrequency      int      `json:"purchase_frequency"`
	TotalQuantityPurchased float64  `json:"total_quantity_purchased"`
	TotalSpend             float64  `json:"total_spend"`
	AvgUnitPrice           *float64 `json:"avg_unit_price,omitempty"`
	MinUnitPrice           *float64 `json:"min_unit_price,omitempty"`
	MaxUnitPrice           *float64 `json:"max_unit_price,omitempty"`
	SpendSharePercentage   float64  `json:"spend_share_percentage"`

	InferredImportanceScore float64         `json:"inferred_importance_score"`
	InferredCategory        ProductCategory `json:"inferred_category,omitempty"`
	ImportanceTier          ImportanceTier  `json:"importance_tier,omitempty"`

	StagingSupplierID     *uuid.UUID `json:"staging_supplier_id,omitempty"`
	CommittedMasterListID *int64     `json:"committed_master_list_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsMatched returns true if this product was matched to a catalog entry.
func (p *StagedProduct) IsMatched() bool {
	return p.MatchedMasterListID != nil
}

// NeedsEmbedding returns true if the commit pipeline must generate an
// embedding for this product. Matched products reuse the catalog embedding.
func (p *StagedProduct) NeedsEmbedding() bool {
	return !p.EmbeddingGenerated && !p.IsMatched()
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// StagedSupplier is a supplier captured during onboarding, not yet committed.
// At most one staged supplier exists per distinct company name per session;
// deduplication happens at creation time.
type StagedSupplier struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`

	CompanyName string  `json:"company_name"`
	CNPJ        *string `json:"cnpj,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	Email       *string `json:"email,omitempty"`
	Address     *string `json:"address,omitempty"`
	City        *string `json:"city,omitempty"`

	Source               DataSource `json:"source"`
	SourceInvoiceIndex   *int       `json:"source_invoice_index,omitempty"`
	ExtractionConfidence float64    `json:"extraction_confidence"`
	UserConfirmed        bool       `json:"user_confirmed"`
	UserModified         bool       `json:"user_modified"`

	// Match against the production suppliers table. Tax-id matches carry
	// confidence 1.0, fuzzy name matches 0.85.
	MatchedSupplierID *int64   `json:"matched_supplier_id,omitempty"`
	MatchConfidence   *float64 `json:"match_confidence,omitempty"`

	// Analysis-computed aggregates.
	InvoiceCount      int      `json:"invoice_count"`
	TotalSpend        float64  `json:"total_spend"`
	ProductCategories []string `json:"product_categories,omitempty"`
	AvgDeliveryDays   []string `json:"avg_delivery_days,omitempty"`

	CommittedSupplierID *int64 `json:"committed_supplier_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsMatched returns true if this supplier was matched to a production row.
func (s *StagedSupplier) IsMatched() bool {
	return s.MatchedSupplierID != nil
}

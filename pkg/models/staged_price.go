package models

import (
	"time"

	"github.com/google/uuid"
)

// StagedPrice is one observed price point for a staged product, extracted
// from an invoice line. Immutable once created; multiple prices per product
// represent purchase history across invoices.
type StagedPrice struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`

	StagingProductID  uuid.UUID  `json:"staging_product_id"`
	StagingSupplierID *uuid.UUID `json:"staging_supplier_id,omitempty"`

	UnitPrice        float64 `json:"unit_price"`
	Currency         string  `json:"currency"`
	PricePerUnitType *string `json:"price_per_unit_type,omitempty"`

	InvoiceDate   *time.Time `json:"invoice_date,omitempty"`
	InvoiceNumber *string    `json:"invoice_number,omitempty"`

	QuantityPurchased *float64 `json:"quantity_purchased,omitempty"`
	TotalLineAmount   *float64 `json:"total_line_amount,omitempty"`

	Source               DataSource `json:"source"`
	SourceInvoiceIndex   *int       `json:"source_invoice_index,omitempty"`
	ExtractionConfidence float64    `json:"extraction_confidence"`

	CreatedAt time.Time `json:"created_at"`
}

// LineSpend returns the amount spent on this line: the extracted line total
// when present, otherwise unit price times quantity.
func (p *StagedPrice) LineSpend() float64 {
	if p.TotalLineAmount != nil {
		return *p.TotalLineAmount
	}
	if p.QuantityPurchased != nil {
		return p.UnitPrice * *p.QuantityPurchased
	}
	return p.UnitPrice
}

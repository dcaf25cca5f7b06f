package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/edelae/frepi/pkg/jsonutil"
	"github.com/edelae/frepi/pkg/retry"
)

// defaultVisionConfidence is assigned to successfully parsed invoices when the
// model does not report its own confidence.
const defaultVisionConfidence = 0.85

// ParsedInvoiceItem is a single line item extracted from an invoice photo.
type ParsedInvoiceItem struct {
	ProductName string  `json:"product_name"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
	UnitPrice   float64 `json:"unit_price"`
}

// UnmarshalJSON tolerates the model returning quantities and prices as
// strings ("10,5", "R$ 45,90") and product names as bare numbers.
func (it *ParsedInvoiceItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		ProductName jsonutil.String `json:"product_name"`
		Quantity    jsonutil.Number `json:"quantity"`
		Unit        jsonutil.String `json:"unit"`
		UnitPrice   jsonutil.Number `json:"unit_price"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	it.ProductName = string(raw.ProductName)
	it.Quantity = float64(raw.Quantity)
	it.Unit = string(raw.Unit)
	it.UnitPrice = float64(raw.UnitPrice)
	return nil
}

// ParsedInvoice is structured data extracted from a Nota Fiscal image.
type ParsedInvoice struct {
	SupplierName    string              `json:"supplier_name"`
	SupplierCNPJ    string              `json:"supplier_cnpj,omitempty"`
	InvoiceDate     string              `json:"invoice_date,omitempty"` // DD/MM/YYYY
	InvoiceNumber   string              `json:"invoice_number,omitempty"`
	Items           []ParsedInvoiceItem `json:"items"`
	TotalAmount     float64             `json:"total_amount,omitempty"`
	ConfidenceScore float64             `json:"confidence_score"`
}

// UnmarshalJSON tolerates string amounts and numeric invoice numbers.
func (inv *ParsedInvoice) UnmarshalJSON(data []byte) error {
	var raw struct {
		SupplierName    jsonutil.String     `json:"supplier_name"`
		SupplierCNPJ    jsonutil.String     `json:"supplier_cnpj"`
		InvoiceDate     jsonutil.String     `json:"invoice_date"`
		InvoiceNumber   jsonutil.String     `json:"invoice_number"`
		Items           []ParsedInvoiceItem `json:"items"`
		TotalAmount     jsonutil.Number     `json:"total_amount"`
		ConfidenceScore jsonutil.Number     `json:"confidence_score"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	inv.SupplierName = string(raw.SupplierName)
	inv.SupplierCNPJ = string(raw.SupplierCNPJ)
	inv.InvoiceDate = string(raw.InvoiceDate)
	inv.InvoiceNumber = string(raw.InvoiceNumber)
	inv.Items = raw.Items
	inv.TotalAmount = float64(raw.TotalAmount)
	inv.ConfidenceScore = float64(raw.ConfidenceScore)
	return nil
}

// ParsedDate returns the invoice date parsed from DD/MM/YYYY, or nil if absent
// or malformed.
func (inv *ParsedInvoice) ParsedDate() *time.Time {
	if inv.InvoiceDate == "" {
		return nil
	}
	t, err := time.Parse("02/01/2006", inv.InvoiceDate)
	if err != nil {
		return nil
	}
	return &t
}

// IsEmpty reports whether the extraction produced nothing usable.
func (inv *ParsedInvoice) IsEmpty() bool {
	return inv.SupplierName == "" && len(inv.Items) == 0
}

const visionSystemPrompt = `You are an expert at extracting data from Brazilian invoice photos (Nota Fiscal).

Extract the following information in JSON format:
{
    "supplier_name": "Company name",
    "supplier_cnpj": "XX.XXX.XXX/XXXX-XX",
    "invoice_date": "DD/MM/YYYY",
    "invoice_number": "Invoice number",
    "items": [
        {
            "product_name": "Product description",
            "quantity": 10.0,
            "unit": "kg",
            "unit_price": 45.90
        }
    ],
    "total_amount": 459.00
}

Be precise with numbers and product names. Return ONLY the JSON object, no other text.`

const visionUserPrompt = "Extract all products, quantities and prices from this invoice photo."

// InvoiceParseResult pairs one photo's extraction outcome with its error, if any.
// Results from ParseInvoices are aligned with the input photo order.
type InvoiceParseResult struct {
	Invoice *ParsedInvoice
	Err     error
}

// InvoiceParser extracts structured invoice data from photos using the vision
// model. Calls go through a circuit breaker and retry with backoff so one
// flaky upstream does not fail a whole photo batch.
type InvoiceParser struct {
	client   LLMClient
	pool     *WorkerPool
	breaker  *CircuitBreaker
	retryCfg *retry.Config
	logger   *zap.Logger
}

// NewInvoiceParser creates an invoice parser with bounded concurrency.
func NewInvoiceParser(client LLMClient, maxConcurrent int, logger *zap.Logger) *InvoiceParser {
	return &InvoiceParser{
		client:   client,
		pool:     NewWorkerPool(WorkerPoolConfig{MaxConcurrent: maxConcurrent}, logger),
		breaker:  NewCircuitBreaker(DefaultCircuitBreakerConfig()),
		retryCfg: retry.DefaultConfig(),
		logger:   logger.Named("invoice-parser"),
	}
}

// ParseInvoice extracts structured data from a single invoice photo.
// A response that is not valid JSON is not an error: it yields an invoice
// with ConfidenceScore 0 so the caller can record the photo as unparseable.
func (p *InvoiceParser) ParseInvoice(ctx context.Context, img ImageInput) (*ParsedInvoice, error) {
	if ok, err := p.breaker.Allow(); !ok {
		return nil, fmt.Errorf("vision calls suspended: %w", err)
	}

	response, err := retry.DoWithResult(ctx, p.retryCfg, func() (string, error) {
		return p.client.DescribeImage(ctx, img, visionUserPrompt, visionSystemPrompt)
	})
	if err != nil {
		p.breaker.RecordFailure()
		return nil, fmt.Errorf("vision request: %w", err)
	}
	p.breaker.RecordSuccess()

	invoice, err := ParseJSONResponse[ParsedInvoice](response)
	if err != nil {
		p.logger.Warn("Vision response was not valid JSON",
			zap.Int("response_len", len(response)),
			zap.Error(err))
		return &ParsedInvoice{ConfidenceScore: 0}, nil
	}

	if invoice.ConfidenceScore == 0 && !invoice.IsEmpty() {
		invoice.ConfidenceScore = defaultVisionConfidence
	}

	p.logger.Info("Invoice parsed",
		zap.String("supplier", invoice.SupplierName),
		zap.Int("items", len(invoice.Items)),
		zap.Float64("confidence", invoice.ConfidenceScore))

	return &invoice, nil
}

// ParseInvoices extracts data from multiple photos concurrently.
// The returned slice is aligned with the input order; individual failures do
// not abort the batch.
func (p *InvoiceParser) ParseInvoices(ctx context.Context, images []ImageInput) []InvoiceParseResult {
	if len(images) == 0 {
		return nil
	}

	items := make([]WorkItem[*ParsedInvoice], len(images))
	for i, img := range images {
		img := img
		items[i] = WorkItem[*ParsedInvoice]{
			ID: strconv.Itoa(i),
			Execute: func(ctx context.Context) (*ParsedInvoice, error) {
				return p.ParseInvoice(ctx, img)
			},
		}
	}

	results := Process(ctx, p.pool, items, func(completed, total int) {
		p.logger.Debug("Invoice batch progress",
			zap.Int("completed", completed),
			zap.Int("total", total))
	})

	ordered := make([]InvoiceParseResult, len(images))
	for _, r := range results {
		idx, err := strconv.Atoi(r.ID)
		if err != nil || idx < 0 || idx >= len(images) {
			continue
		}
		ordered[idx] = InvoiceParseResult{Invoice: r.Result, Err: r.Err}
	}

	return ordered
}

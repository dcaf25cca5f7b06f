package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/edelae/frepi/pkg/database"
	"github.com/edelae/frepi/pkg/models"
)

// StagedPriceRepository provides data access for staged price points.
// Price rows are immutable once inserted.
type StagedPriceRepository interface {
	// Create inserts a single price point.
	Create(ctx context.Context, price *models.StagedPrice) error

	// CreateBatch inserts many price points in one round trip.
	CreateBatch(ctx context.Context, prices []*models.StagedPrice) error

	// ListBySession returns all price points for a session.
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.StagedPrice, error)

	// ListByProduct returns the price history for one staged product,
	// oldest invoice first.
	ListByProduct(ctx context.Context, productID uuid.UUID) ([]*models.StagedPrice, error)

	// CountBySession returns the number of price points in a session.
	CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error)
}

type stagedPriceRepository struct {
	db *database.DB
}

// NewStagedPriceRepository creates a new StagedPriceRepository.
func NewStagedPriceRepository(db *database.DB) StagedPriceRepository {
	return &stagedPriceRepository{db: db}
}

var _ StagedPriceRepository = (*stagedPriceRepository)(nil)

const stagedPriceColumns = `
	id, session_id, staging_product_id, staging_supplier_id,
	unit_price, currency, price_per_unit_type,
	invoice_date, invoice_number, quantity_purchased, total_line_amount,
	source, source_invoice_index, extraction_confidence, created_at`

const insertStagedPriceQuery = `
	INSERT INTO staging_prices (
		id, session_id, staging_product_id, staging_supplier_id,
		unit_price, currency, price_per_unit_type,
		invoice_date, invoice_number, quantity_purchased, total_line_amount,
		source, source_invoice_index, extraction_confidence, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

func (r *stagedPriceRepository) Create(ctx context.Context, price *models.StagedPrice) error {
	preparePrice(price)

	_, err := r.db.Exec(ctx, insertStagedPriceQuery, priceArgs(price)...)
	if err != nil {
		return fmt.Errorf("insert staged price: %w", err)
	}
	return nil
}

func (r *stagedPriceRepository) CreateBatch(ctx context.Context, prices []*models.StagedPrice) error {
	if len(prices) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, price := range prices {
		preparePrice(price)
		batch.Queue(insertStagedPriceQuery, priceArgs(price)...)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for range prices {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch insert staged prices: %w", err)
		}
	}

	return nil
}

func (r *stagedPriceRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.StagedPrice, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM staging_prices
		WHERE session_id = $1
		ORDER BY created_at ASC`, stagedPriceColumns)

	return r.queryPrices(ctx, query, sessionID)
}

func (r *stagedPriceRepository) ListByProduct(ctx context.Context, productID uuid.UUID) ([]*models.StagedPrice, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM staging_prices
		WHERE staging_product_id = $1
		ORDER BY invoice_date ASC NULLS LAST, created_at ASC`, stagedPriceColumns)

	return r.queryPrices(ctx, query, productID)
}

func (r *stagedPriceRepository) queryPrices(ctx context.Context, query string, args ...any) ([]*models.StagedPrice, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list staged prices: %w", err)
	}
	defer rows.Close()

	prices := make([]*models.StagedPrice, 0)
	for rows.Next() {
		price, err := scanStagedPriceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan staged price: %w", err)
		}
		prices = append(prices, price)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staged prices: %w", err)
	}

	return prices, nil
}

func (r *stagedPriceRepository) CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM staging_prices WHERE session_id = $1`, sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count staged prices: %w", err)
	}
	return count, nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func preparePrice(price *models.StagedPrice) {
	if price.ID == uuid.Nil {
		price.ID = uuid.New()
	}
	if price.CreatedAt.IsZero() {
		price.CreatedAt = time.Now()
	}
	if price.Currency == "" {
		price.Currency = "BRL"
	}
}

func priceArgs(price *models.StagedPrice) []any {
	return []any{
		price.ID, price.SessionID, price.StagingProductID, price.StagingSupplierID,
		price.UnitPrice, price.Currency, price.PricePerUnitType,
		price.InvoiceDate, price.InvoiceNumber, price.QuantityPurchased, price.TotalLineAmount,
		string(price.Source), price.SourceInvoiceIndex, price.ExtractionConfidence, price.CreatedAt,
	}
}

func scanStagedPriceRow(row pgx.Row) (*models.StagedPrice, error) {
	var p models.StagedPrice
	var source string

	err := row.Scan(
		&p.ID, &p.SessionID, &p.StagingProductID, &p.StagingSupplierID,
		&p.UnitPrice, &p.Currency, &p.PricePerUnitType,
		&p.InvoiceDate, &p.InvoiceNumber, &p.QuantityPurchased, &p.TotalLineAmount,
		&source, &p.SourceInvoiceIndex, &p.ExtractionConfidence, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Source = models.DataSource(source)
	return &p, nil
}

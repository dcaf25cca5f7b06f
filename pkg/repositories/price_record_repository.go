package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edelae/frepi/pkg/database"
	"github.com/edelae/frepi/pkg/models"
)

// PriceRecordRepository provides data access for pricing history. The row
// with a NULL end_date is the current price for a supplier-product pair.
type PriceRecordRepository interface {
	// Record closes any open price row for the pair and inserts the new one.
	Record(ctx context.Context, record *models.PriceRecord) error

	// ExistsForDate reports whether a price row already exists for the pair
	// on the given effective date. Used to keep commit idempotent.
	ExistsForDate(ctx context.Context, supplierID, masterListID int64, effectiveDate time.Time) (bool, error)

	// GetCurrent returns the open price row for a pair. Returns nil if none.
	GetCurrent(ctx context.Context, supplierID, masterListID int64) (*models.PriceRecord, error)

	// ListHistory returns all price rows for a pair, newest first.
	ListHistory(ctx context.Context, supplierID, masterListID int64) ([]*models.PriceRecord, error)

	// ListStale returns current price rows older than the given age, for the
	// heartbeat price-refresh job.
	ListStale(ctx context.Context, maxAge time.Duration, limit int) ([]*models.PriceRecord, error)
}

type priceRecordRepository struct {
	db *database.DB
}

// NewPriceRecordRepository creates a new PriceRecordRepository.
func NewPriceRecordRepository(db *database.DB) PriceRecordRepository {
	return &priceRecordRepository{db: db}
}

var _ PriceRecordRepository = (*priceRecordRepository)(nil)

const priceRecordColumns = `
	id, supplier_id, master_list_id, supplier_mapped_product_id,
	unit_price, currency, price_per_unit_type,
	effective_date, end_date, data_source, created_at`

func (r *priceRecordRepository) Record(ctx context.Context, record *models.PriceRecord) error {
	if record.Currency == "" {
		record.Currency = "BRL"
	}
	if record.EffectiveDate.IsZero() {
		record.EffectiveDate = time.Now()
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin price record tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE pricing_history
		SET end_date = $3
		WHERE supplier_id = $1 AND master_list_id = $2 AND end_date IS NULL`,
		record.SupplierID, record.MasterListID, record.EffectiveDate,
	)
	if err != nil {
		return fmt.Errorf("close previous price: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO pricing_history (
			supplier_id, master_list_id, supplier_mapped_product_id,
			unit_price, currency, price_per_unit_type,
			effective_date, data_source, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id, created_at`,
		record.SupplierID, record.MasterListID, record.SupplierMappedProductID,
		record.UnitPrice, record.Currency, record.PricePerUnitType,
		record.EffectiveDate, record.DataSource,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert price record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit price record tx: %w", err)
	}
	return nil
}

func (r *priceRecordRepository) ExistsForDate(ctx context.Context, supplierID, masterListID int64, effectiveDate time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pricing_history
			WHERE supplier_id = $1 AND master_list_id = $2
			  AND effective_date::date = $3::date
		)`, supplierID, masterListID, effectiveDate,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check price record exists: %w", err)
	}
	return exists, nil
}

func (r *priceRecordRepository) GetCurrent(ctx context.Context, supplierID, masterListID int64) (*models.PriceRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM pricing_history
		WHERE supplier_id = $1 AND master_list_id = $2 AND end_date IS NULL
		ORDER BY effective_date DESC
		LIMIT 1`, priceRecordColumns)

	row := r.db.QueryRow(ctx, query, supplierID, masterListID)
	record, err := scanPriceRecordRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get current price: %w", err)
	}
	return record, nil
}

func (r *priceRecordRepository) ListHistory(ctx context.Context, supplierID, masterListID int64) ([]*models.PriceRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM pricing_history
		WHERE supplier_id = $1 AND master_list_id = $2
		ORDER BY effective_date DESC`, priceRecordColumns)

	return r.queryRecords(ctx, query, supplierID, masterListID)
}

func (r *priceRecordRepository) ListStale(ctx context.Context, maxAge time.Duration, limit int) ([]*models.PriceRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM pricing_history
		WHERE end_date IS NULL AND effective_date < NOW() - $1::interval
		ORDER BY effective_date ASC
		LIMIT $2`, priceRecordColumns)

	return r.queryRecords(ctx, query, maxAge.String(), limit)
}

func (r *priceRecordRepository) queryRecords(ctx context.Context, query string, args ...any) ([]*models.PriceRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list price records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.PriceRecord, 0)
	for rows.Next() {
		record, err := scanPriceRecordRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan price record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price records: %w", err)
	}

	return records, nil
}

func scanPriceRecordRow(row pgx.Row) (*models.PriceRecord, error) {
	var p models.PriceRecord
	err := row.Scan(
		&p.ID, &p.SupplierID, &p.MasterListID, &p.SupplierMappedProductID,
		&p.UnitPrice, &p.Currency, &p.PricePerUnitType,
		&p.EffectiveDate, &p.EndDate, &p.DataSource, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

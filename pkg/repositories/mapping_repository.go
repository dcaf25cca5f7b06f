package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edelae/frepi/pkg/database"
	"github.com/edelae/frepi/pkg/models"
)

// MappingRepository provides data access for supplier-to-catalog product
// mappings.
type MappingRepository interface {
	// Upsert creates the mapping if it does not exist, otherwise refreshes
	// the cached price. Returns the mapping row id.
	Upsert(ctx context.Context, mapping *models.SupplierMappedProduct) error

	// Get finds the mapping for a supplier-product pair. Returns nil if
	// not found.
	Get(ctx context.Context, supplierID, masterListID int64) (*models.SupplierMappedProduct, error)

	// ListBySupplier returns all active mappings for a supplier.
	ListBySupplier(ctx context.Context, supplierID int64) ([]*models.SupplierMappedProduct, error)

	// UpdatePrice refreshes the cached current price on a mapping.
	UpdatePrice(ctx context.Context, id int64, unitPrice float64) error
}

type mappingRepository struct {
	db *database.DB
}

// NewMappingRepository creates a new MappingRepository.
func NewMappingRepository(db *database.DB) MappingRepository {
	return &mappingRepository{db: db}
}

var _ MappingRepository = (*mappingRepository)(nil)

const mappingColumns = `
	id, supplier_id, master_list_id, supplier_product_code, supplier_product_name,
	supplier_brand, mapping_confidence, mapping_method,
	current_unit_price, currency, price_last_updated, is_active, created_at`

func (r *mappingRepository) Upsert(ctx context.Context, mapping *models.SupplierMappedProduct) error {
	if mapping.Currency == "" {
		mapping.Currency = "BRL"
	}

	query := `
		INSERT INTO supplier_mapped_products (
			supplier_id, master_list_id, supplier_product_code, supplier_product_name,
			supplier_brand, mapping_confidence, mapping_method,
			current_unit_price, currency, price_last_updated, is_active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), true, NOW())
		ON CONFLICT (supplier_id, master_list_id) DO UPDATE
		SET current_unit_price = EXCLUDED.current_unit_price,
		    price_last_updated = NOW(),
		    is_active = true
		RETURNING id, is_active, created_at`

	err := r.db.QueryRow(ctx, query,
		mapping.SupplierID, mapping.MasterListID,
		mapping.SupplierProductCode, mapping.SupplierProductName,
		mapping.SupplierBrand, mapping.MappingConfidence, mapping.MappingMethod,
		mapping.CurrentUnitPrice, mapping.Currency,
	).Scan(&mapping.ID, &mapping.IsActive, &mapping.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert supplier mapping: %w", err)
	}

	return nil
}

func (r *mappingRepository) Get(ctx context.Context, supplierID, masterListID int64) (*models.SupplierMappedProduct, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM supplier_mapped_products
		WHERE supplier_id = $1 AND master_list_id = $2
		LIMIT 1`, mappingColumns)

	row := r.db.QueryRow(ctx, query, supplierID, masterListID)
	mapping, err := scanMappingRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get supplier mapping: %w", err)
	}
	return mapping, nil
}

func (r *mappingRepository) ListBySupplier(ctx context.Context, supplierID int64) ([]*models.SupplierMappedProduct, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM supplier_mapped_products
		WHERE supplier_id = $1 AND is_active = true
		ORDER BY supplier_product_name ASC`, mappingColumns)

	rows, err := r.db.Query(ctx, query, supplierID)
	if err != nil {
		return nil, fmt.Errorf("list supplier mappings: %w", err)
	}
	defer rows.Close()

	mappings := make([]*models.SupplierMappedProduct, 0)
	for rows.Next() {
		mapping, err := scanMappingRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan supplier mapping: %w", err)
		}
		mappings = append(mappings, mapping)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate supplier mappings: %w", err)
	}

	return mappings, nil
}

func (r *mappingRepository) UpdatePrice(ctx context.Context, id int64, unitPrice float64) error {
	query := `
		UPDATE supplier_mapped_products
		SET current_unit_price = $2, price_last_updated = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, unitPrice)
	if err != nil {
		return fmt.Errorf("update mapping price: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("supplier mapping not found: %d", id)
	}
	return nil
}

func scanMappingRow(row pgx.Row) (*models.SupplierMappedProduct, error) {
	var m models.SupplierMappedProduct
	err := row.Scan(
		&m.ID, &m.SupplierID, &m.MasterListID,
		&m.SupplierProductCode, &m.SupplierProductName,
		&m.SupplierBrand, &m.MappingConfidence, &m.MappingMethod,
		&m.CurrentUnitPrice, &m.Currency, &m.PriceLastUpdated,
		&m.IsActive, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

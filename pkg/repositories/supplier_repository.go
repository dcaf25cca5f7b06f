package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edelae/frepi/pkg/database"
	"github.com/edelae/frepi/pkg/models"
)

// SupplierRepository provides data access for suppliers and the
// restaurant-supplier relationship table.
type SupplierRepository interface {
	// Create inserts a supplier and returns it with the assigned id.
	Create(ctx context.Context, supplier *models.Supplier) error

	// GetByID retrieves a supplier. Returns nil if not found.
	GetByID(ctx context.Context, id int64) (*models.Supplier, error)

	// GetByTaxNumber finds a supplier by exact CNPJ. Returns nil if not found.
	GetByTaxNumber(ctx context.Context, taxNumber string) (*models.Supplier, error)

	// GetByNameFuzzy finds a supplier whose company name matches
	// case-insensitively. Returns nil if not found.
	GetByNameFuzzy(ctx context.Context, name string) (*models.Supplier, error)

	// GetByWhatsapp finds a supplier by whatsapp number. Returns nil if
	// not found.
	GetByWhatsapp(ctx context.Context, whatsappNumber string) (*models.Supplier, error)

	// LinkRestaurant creates the restaurant-supplier relationship if it does
	// not already exist.
	LinkRestaurant(ctx context.Context, restaurantID, supplierID int64) error

	// ListByRestaurant returns the suppliers linked to a restaurant.
	ListByRestaurant(ctx context.Context, restaurantID int64) ([]*models.Supplier, error)
}

type supplierRepository struct {
	db *database.DB
}

// NewSupplierRepository creates a new SupplierRepository.
func NewSupplierRepository(db *database.DB) SupplierRepository {
	return &supplierRepository{db: db}
}

var _ SupplierRepository = (*supplierRepository)(nil)

const supplierColumns = `
	id, company_name, tax_number, contact_phone, email, address, city,
	whatsapp_number, primary_contact_name, is_active, created_at`

func (r *supplierRepository) Create(ctx context.Context, supplier *models.Supplier) error {
	query := `
		INSERT INTO suppliers (
			company_name, tax_number, contact_phone, email, address, city,
			whatsapp_number, primary_contact_name, is_active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, NOW())
		RETURNING id, is_active, created_at`

	err := r.db.QueryRow(ctx, query,
		supplier.CompanyName, supplier.TaxNumber, supplier.ContactPhone,
		supplier.Email, supplier.Address, supplier.City,
		supplier.WhatsappNumber, supplier.PrimaryContactName,
	).Scan(&supplier.ID, &supplier.IsActive, &supplier.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert supplier: %w", err)
	}

	return nil
}

func (r *supplierRepository) GetByID(ctx context.Context, id int64) (*models.Supplier, error) {
	query := fmt.Sprintf(`SELECT %s FROM suppliers WHERE id = $1`, supplierColumns)
	return r.getSupplier(ctx, query, id)
}

func (r *supplierRepository) GetByTaxNumber(ctx context.Context, taxNumber string) (*models.Supplier, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM suppliers
		WHERE tax_number = $1
		LIMIT 1`, supplierColumns)
	return r.getSupplier(ctx, query, taxNumber)
}

func (r *supplierRepository) GetByNameFuzzy(ctx context.Context, name string) (*models.Supplier, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM suppliers
		WHERE company_name ILIKE $1
		ORDER BY created_at ASC
		LIMIT 1`, supplierColumns)
	return r.getSupplier(ctx, query, name)
}

func (r *supplierRepository) GetByWhatsapp(ctx context.Context, whatsappNumber string) (*models.Supplier, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM suppliers
		WHERE whatsapp_number = $1 AND is_active = true
		LIMIT 1`, supplierColumns)
	return r.getSupplier(ctx, query, whatsappNumber)
}

func (r *supplierRepository) getSupplier(ctx context.Context, query string, args ...any) (*models.Supplier, error) {
	row := r.db.QueryRow(ctx, query, args...)
	supplier, err := scanSupplierRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get supplier: %w", err)
	}
	return supplier, nil
}

func (r *supplierRepository) LinkRestaurant(ctx context.Context, restaurantID, supplierID int64) error {
	query := `
		INSERT INTO restaurant_suppliers (restaurant_id, supplier_id, is_active, created_at)
		VALUES ($1, $2, true, NOW())
		ON CONFLICT (restaurant_id, supplier_id) DO NOTHING`

	_, err := r.db.Exec(ctx, query, restaurantID, supplierID)
	if err != nil {
		return fmt.Errorf("link restaurant supplier: %w", err)
	}
	return nil
}

func (r *supplierRepository) ListByRestaurant(ctx context.Context, restaurantID int64) ([]*models.Supplier, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM suppliers s
		JOIN restaurant_suppliers rs ON rs.supplier_id = s.id
		WHERE rs.restaurant_id = $1 AND rs.is_active = true
		ORDER BY s.company_name ASC`,
		supplierColumnsPrefixed("s"))

	rows, err := r.db.Query(ctx, query, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("list suppliers by restaurant: %w", err)
	}
	defer rows.Close()

	suppliers := make([]*models.Supplier, 0)
	for rows.Next() {
		supplier, err := scanSupplierRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan supplier: %w", err)
		}
		suppliers = append(suppliers, supplier)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate suppliers: %w", err)
	}

	return suppliers, nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func supplierColumnsPrefixed(alias string) string {
	return fmt.Sprintf(`
		%[1]s.id, %[1]s.company_name, %[1]s.tax_number, %[1]s.contact_phone,
		%[1]s.email, %[1]s.address, %[1]s.city, %[1]s.whatsapp_number,
		%[1]s.primary_contact_name, %[1]s.is_active, %[1]s.created_at`, alias)
}

func scanSupplierRow(row pgx.Row) (*models.Supplier, error) {
	var s models.Supplier
	err := row.Scan(
		&s.ID, &s.CompanyName, &s.TaxNumber, &s.ContactPhone,
		&s.Email, &s.Address, &s.City,
		&s.WhatsappNumber, &s.PrimaryContactName, &s.IsActive, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

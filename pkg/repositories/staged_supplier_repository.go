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

// StagedSupplierRepository provides data access for staged suppliers.
type StagedSupplierRepository interface {
	// Create inserts a staged supplier. If the session already staged a
	// supplier with the same company name, the existing row is returned
	// instead of creating a duplicate.
	Create(ctx context.Context, supplier *models.StagedSupplier) (*models.StagedSupplier, error)

	// GetByID retrieves a staged supplier. Returns nil if not found.
	GetByID(ctx context.Context, id uuid.UUID) (*models.StagedSupplier, error)

	// GetBySessionAndName finds a staged supplier by exact company name
	// within a session. Returns nil if not found.
	GetBySessionAndName(ctx context.Context, sessionID uuid.UUID, companyName string) (*models.StagedSupplier, error)

	// ListBySession returns all staged suppliers for a session.
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.StagedSupplier, error)

	// UpdateAggregates stores analysis-computed totals on a staged supplier.
	UpdateAggregates(ctx context.Context, id uuid.UUID, invoiceCount int, totalSpend float64, categories []string) error

	// SetMatch records a match against a production supplier.
	SetMatch(ctx context.Context, id uuid.UUID, supplierID int64, confidence float64) error

	// SetCommittedID records the production row created for this supplier.
	SetCommittedID(ctx context.Context, id uuid.UUID, supplierID int64) error

	// CountBySession returns the number of staged suppliers in a session.
	CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error)
}

type stagedSupplierRepository struct {
	db *database.DB
}

// NewStagedSupplierRepository creates a new StagedSupplierRepository.
func NewStagedSupplierRepository(db *database.DB) StagedSupplierRepository {
	return &stagedSupplierRepository{db: db}
}

var _ StagedSupplierRepository = (*stagedSupplierRepository)(nil)

const stagedSupplierColumns = `
	id, session_id, company_name, cnpj, phone, email, address, city,
	source, source_invoice_index, extraction_confidence,
	user_confirmed, user_modified,
	matched_supplier_id, match_confidence,
	invoice_count, total_spend, product_categories,
	committed_supplier_id, created_at, updated_at`

func (r *stagedSupplierRepository) Create(ctx context.Context, supplier *models.StagedSupplier) (*models.StagedSupplier, error) {
	now := time.Now()
	if supplier.ID == uuid.Nil {
		supplier.ID = uuid.New()
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = now
	}
	supplier.UpdatedAt = now

	query := `
		INSERT INTO staging_suppliers (
			id, session_id, company_name, cnpj, phone, email, address, city,
			source, source_invoice_index, extraction_confidence,
			user_confirmed, user_modified, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (session_id, company_name) DO NOTHING`

	result, err := r.db.Exec(ctx, query,
		supplier.ID, supplier.SessionID, supplier.CompanyName,
		supplier.CNPJ, supplier.Phone, supplier.Email, supplier.Address, supplier.City,
		string(supplier.Source), supplier.SourceInvoiceIndex, supplier.ExtractionConfidence,
		supplier.UserConfirmed, supplier.UserModified,
		supplier.CreatedAt, supplier.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert staged supplier: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Already staged in this session; hand back the existing row.
		existing, err := r.GetBySessionAndName(ctx, supplier.SessionID, supplier.CompanyName)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("staged supplier conflict but row missing: %s", supplier.CompanyName)
		}
		return existing, nil
	}

	return supplier, nil
}

func (r *stagedSupplierRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.StagedSupplier, error) {
	query := fmt.Sprintf(`SELECT %s FROM staging_suppliers WHERE id = $1`, stagedSupplierColumns)

	row := r.db.QueryRow(ctx, query, id)
	supplier, err := scanStagedSupplierRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get staged supplier by id: %w", err)
	}
	return supplier, nil
}

func (r *stagedSupplierRepository) GetBySessionAndName(ctx context.Context, sessionID uuid.UUID, companyName string) (*models.StagedSupplier, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM staging_suppliers
		WHERE session_id = $1 AND company_name = $2`, stagedSupplierColumns)

	row := r.db.QueryRow(ctx, query, sessionID, companyName)
	supplier, err := scanStagedSupplierRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get staged supplier by name: %w", err)
	}
	return supplier, nil
}

func (r *stagedSupplierRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.StagedSupplier, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM staging_suppliers
		WHERE session_id = $1
		ORDER BY created_at ASC`, stagedSupplierColumns)

	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list staged suppliers: %w", err)
	}
	defer rows.Close()

	suppliers := make([]*models.StagedSupplier, 0)
	for rows.Next() {
		supplier, err := scanStagedSupplierRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan staged supplier: %w", err)
		}
		suppliers = append(suppliers, supplier)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staged suppliers: %w", err)
	}

	return suppliers, nil
}

func (r *stagedSupplierRepository) UpdateAggregates(ctx context.Context, id uuid.UUID, invoiceCount int, totalSpend float64, categories []string) error {
	query := `
		UPDATE staging_suppliers
		SET invoice_count = $2, total_spend = $3, product_categories = $4, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, invoiceCount, totalSpend, categories)
	if err != nil {
		return fmt.Errorf("update supplier aggregates: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("staged supplier not found: %s", id)
	}
	return nil
}

func (r *stagedSupplierRepository) SetMatch(ctx context.Context, id uuid.UUID, supplierID int64, confidence float64) error {
	query := `
		UPDATE staging_suppliers
		SET matched_supplier_id = $2, match_confidence = $3, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, supplierID, confidence)
	if err != nil {
		return fmt.Errorf("set supplier match: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("staged supplier not found: %s", id)
	}
	return nil
}

func (r *stagedSupplierRepository) SetCommittedID(ctx context.Context, id uuid.UUID, supplierID int64) error {
	query := `
		UPDATE staging_suppliers
		SET committed_supplier_id = $2, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, supplierID)
	if err != nil {
		return fmt.Errorf("set committed supplier id: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("staged supplier not found: %s", id)
	}
	return nil
}

func (r *stagedSupplierRepository) CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM staging_suppliers WHERE session_id = $1`, sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count staged suppliers: %w", err)
	}
	return count, nil
}

func scanStagedSupplierRow(row pgx.Row) (*models.StagedSupplier, error) {
	var s models.StagedSupplier
	var source string

	err := row.Scan(
		&s.ID, &s.SessionID, &s.CompanyName, &s.CNPJ, &s.Phone, &s.Email, &s.Address, &s.City,
		&source, &s.SourceInvoiceIndex, &s.ExtractionConfidence,
		&s.UserConfirmed, &s.UserModified,
		&s.MatchedSupplierID, &s.MatchConfidence,
		&s.InvoiceCount, &s.TotalSpend, &s.ProductCategories,
		&s.CommittedSupplierID, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Source = models.DataSource(source)
	return &s, nil
}

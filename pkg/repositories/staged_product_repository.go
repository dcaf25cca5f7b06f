package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/edelae/frepi/pkg/database"
	"github.com/edelae/frepi/pkg/models"
)

// StagedProductRepository provides data access for staged products.
type StagedProductRepository interface {
	// Create inserts a staged product.
	Create(ctx context.Context, product *models.StagedProduct) error

	// GetByID retrieves a staged product. Returns nil if not found.
	GetByID(ctx context.Context, id uuid.UUID) (*models.StagedProduct, error)

	// ListBySession returns all staged products for a session, insertion order.
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.StagedProduct, error)

	// ListBySpend returns staged products ordered by total spend descending.
	ListBySpend(ctx context.Context, sessionID uuid.UUID) ([]*models.StagedProduct, error)

	// FindByNameContains finds the first product in the session whose name
	// contains the given fragment, case-insensitive. Returns nil if none.
	FindByNameContains(ctx context.Context, sessionID uuid.UUID, fragment string) (*models.StagedProduct, error)

	// UpdateAnalysisBatch writes analysis-derived fields for many products
	// in one round trip.
	UpdateAnalysisBatch(ctx context.Context, products []*models.StagedProduct) error

	// SetPriorities marks the given products as priority with their ranks
	// and clears the flag on everything else in the session.
	SetPriorities(ctx context.Context, sessionID uuid.UUID, rankedIDs []uuid.UUID) error

	// SetEmbedding stores a generated embedding vector.
	SetEmbedding(ctx context.Context, id uuid.UUID, vector []float32) error

	// SetMatch records a match against a catalog product.
	SetMatch(ctx context.Context, id uuid.UUID, masterListID int64, confidence float64) error

	// SetCommittedID records the catalog row created for this product.
	SetCommittedID(ctx context.Context, id uuid.UUID, masterListID int64) error

	// CountBySession returns the number of staged products in a session.
	CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error)
}

type stagedProductRepository struct {
	db *database.DB
}

// NewStagedProductRepository creates a new StagedProductRepository.
func NewStagedProductRepository(db *database.DB) StagedProductRepository {
	return &stagedProductRepository{db: db}
}

var _ StagedProductRepository = (*stagedProductRepository)(nil)

const stagedProductColumns = `
	id, session_id, product_name, description, brand, specifications, quality_tier,
	source, source_invoice_index, extraction_confidence,
	embedding_vector, embedding_generated,
	matched_master_list_id, match_confidence, is_new_product,
	is_priority, priority_rank,
	purchase_frequency, total_quantity_purchased, total_spend,
	avg_unit_price, min_unit_price, max_unit_price, spend_share_percentage,
	inferred_importance_score, inferred_category, importance_tier,
	staging_supplier_id, committed_master_list_id,
	created_at, updated_at`

func (r *stagedProductRepository) Create(ctx context.Context, product *models.StagedProduct) error {
	now := time.Now()
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	specsJSON, err := json.Marshal(product.Specifications)
	if err != nil {
		return fmt.Errorf("marshal specifications: %w", err)
	}

	query := `
		INSERT INTO staging_products (
			id, session_id, product_name, description, brand, specifications, quality_tier,
			source, source_invoice_index, extraction_confidence,
			staging_supplier_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = r.db.Exec(ctx, query,
		product.ID, product.SessionID, product.ProductName,
		product.Description, product.Brand, specsJSON, product.QualityTier,
		string(product.Source), product.SourceInvoiceIndex, product.ExtractionConfidence,
		product.StagingSupplierID, product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert staged product: %w", err)
	}

	return nil
}

func (r *stagedProductRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.StagedProduct, error) {
	query := fmt.Sprintf(`SELECT %s FROM staging_products WHERE id = $1`, stagedProductColumns)

	row := r.db.QueryRow(ctx, query, id)
	product, err := scanStagedProductRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get staged product by id: %w", err)
	}
	return product, nil
}

func (r *stagedProductRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.StagedProduct, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM staging_products
		WHERE session_id = $1
		ORDER BY created_at ASC`, stagedProductColumns)

	return r.queryProducts(ctx, query, sessionID)
}

func (r *stagedProductRepository) ListBySpend(ctx context.Context, sessionID uuid.UUID) ([]*models.StagedProduct, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM staging_products
		WHERE session_id = $1
		ORDER BY total_spend DESC, created_at ASC`, stagedProductColumns)

	return r.queryProducts(ctx, query, sessionID)
}

func (r *stagedProductRepository) queryProducts(ctx context.Context, query string, args ...any) ([]*models.StagedProduct, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list staged products: %w", err)
	}
	defer rows.Close()

	products := make([]*models.StagedProduct, 0)
	for rows.Next() {
		product, err := scanStagedProductRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan staged product: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staged products: %w", err)
	}

	return products, nil
}

func (r *stagedProductRepository) FindByNameContains(ctx context.Context, sessionID uuid.UUID, fragment string) (*models.StagedProduct, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM staging_products
		WHERE session_id = $1 AND product_name ILIKE '%%' || $2 || '%%'
		ORDER BY total_spend DESC, created_at ASC
		LIMIT 1`, stagedProductColumns)

	row := r.db.QueryRow(ctx, query, sessionID, fragment)
	product, err := scanStagedProductRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find staged product by name: %w", err)
	}
	return product, nil
}

func (r *stagedProductRepository) UpdateAnalysisBatch(ctx context.Context, products []*models.StagedProduct) error {
	if len(products) == 0 {
		return nil
	}

	query := `
		UPDATE staging_products
		SET purchase_frequency = $2, total_quantity_purchased = $3, total_spend = $4,
		    avg_unit_price = $5, min_unit_price = $6, max_unit_price = $7,
		    spend_share_percentage = $8, inferred_importance_score = $9,
		    inferred_category = $10, importance_tier = $11, brand = $12,
		    updated_at = NOW()
		WHERE id = $1`

	batch := &pgx.Batch{}
	for _, p := range products {
		batch.Queue(query,
			p.ID, p.PurchaseFrequency, p.TotalQuantityPurchased, p.TotalSpend,
			p.AvgUnitPrice, p.MinUnitPrice, p.MaxUnitPrice,
			p.SpendSharePercentage, p.InferredImportanceScore,
			nullableString(string(p.InferredCategory)), nullableString(string(p.ImportanceTier)),
			p.Brand,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for range products {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch update product analysis: %w", err)
		}
	}

	return nil
}

func (r *stagedProductRepository) SetPriorities(ctx context.Context, sessionID uuid.UUID, rankedIDs []uuid.UUID) error {
	batch := &pgx.Batch{}
	batch.Queue(`
		UPDATE staging_products
		SET is_priority = false, priority_rank = NULL, updated_at = NOW()
		WHERE session_id = $1`, sessionID)

	for rank, id := range rankedIDs {
		batch.Queue(`
			UPDATE staging_products
			SET is_priority = true, priority_rank = $2, updated_at = NOW()
			WHERE id = $1`, id, rank+1)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < len(rankedIDs)+1; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("set product priorities: %w", err)
		}
	}

	return nil
}

func (r *stagedProductRepository) SetEmbedding(ctx context.Context, id uuid.UUID, vector []float32) error {
	vectorJSON, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}

	query := `
		UPDATE staging_products
		SET embedding_vector = $2, embedding_generated = true, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, vectorJSON)
	if err != nil {
		return fmt.Errorf("set product embedding: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("staged product not found: %s", id)
	}
	return nil
}

func (r *stagedProductRepository) SetMatch(ctx context.Context, id uuid.UUID, masterListID int64, confidence float64) error {
	query := `
		UPDATE staging_products
		SET matched_master_list_id = $2, match_confidence = $3, is_new_product = false, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, masterListID, confidence)
	if err != nil {
		return fmt.Errorf("set product match: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("staged product not found: %s", id)
	}
	return nil
}

func (r *stagedProductRepository) SetCommittedID(ctx context.Context, id uuid.UUID, masterListID int64) error {
	query := `
		UPDATE staging_products
		SET committed_master_list_id = $2, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, masterListID)
	if err != nil {
		return fmt.Errorf("set committed master list id: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("staged product not found: %s", id)
	}
	return nil
}

func (r *stagedProductRepository) CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM staging_products WHERE session_id = $1`, sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count staged products: %w", err)
	}
	return count, nil
}

func scanStagedProductRow(row pgx.Row) (*models.StagedProduct, error) {
	var p models.StagedProduct
	var source string
	var category, tier *string
	var specsJSON, vectorJSON []byte

	err := row.Scan(
		&p.ID, &p.SessionID, &p.ProductName, &p.Description, &p.Brand, &specsJSON, &p.QualityTier,
		&source, &p.SourceInvoiceIndex, &p.ExtractionConfidence,
		&vectorJSON, &p.EmbeddingGenerated,
		&p.MatchedMasterListID, &p.MatchConfidence, &p.IsNewProduct,
		&p.IsPriority, &p.PriorityRank,
		&p.PurchaseFrequency, &p.TotalQuantityPurchased, &p.TotalSpend,
		&p.AvgUnitPrice, &p.MinUnitPrice, &p.MaxUnitPrice, &p.SpendSharePercentage,
		&p.InferredImportanceScore, &category, &tier,
		&p.StagingSupplierID, &p.CommittedMasterListID,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Source = models.DataSource(source)
	if category != nil {
		p.InferredCategory = models.ProductCategory(*category)
	}
	if tier != nil {
		p.ImportanceTier = models.ImportanceTier(*tier)
	}
	if len(specsJSON) > 0 {
		_ = json.Unmarshal(specsJSON, &p.Specifications)
	}
	if len(vectorJSON) > 0 {
		_ = json.Unmarshal(vectorJSON, &p.EmbeddingVector)
	}

	return &p, nil
}

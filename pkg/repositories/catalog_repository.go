package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edelae/frepi/pkg/database"
	"github.com/edelae/frepi/pkg/models"
)

// CatalogRepository provides data access for a restaurant's master product
// list.
type CatalogRepository interface {
	// Create inserts a catalog product and returns it with the assigned id.
	Create(ctx context.Context, product *models.CatalogProduct) error

	// GetByID retrieves a catalog product. Returns nil if not found.
	GetByID(ctx context.Context, id int64) (*models.CatalogProduct, error)

	// GetByNameExact finds a product by exact name within a restaurant's
	// catalog, case-insensitive. Returns nil if not found.
	GetByNameExact(ctx context.Context, restaurantID int64, name string) (*models.CatalogProduct, error)

	// ListByRestaurant returns the active catalog for a restaurant.
	ListByRestaurant(ctx context.Context, restaurantID int64) ([]*models.CatalogProduct, error)

	// ListWithEmbeddings returns active catalog entries that carry an
	// embedding vector, for similarity matching.
	ListWithEmbeddings(ctx context.Context, restaurantID int64) ([]*models.CatalogProduct, error)

	// SetEmbedding stores an embedding vector for a catalog product.
	SetEmbedding(ctx context.Context, id int64, vector []float32) error

	// IncrementPopularity bumps the search counters used for ranking.
	IncrementPopularity(ctx context.Context, id int64) error
}

type catalogRepository struct {
	db *database.DB
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(db *database.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

var _ CatalogRepository = (*catalogRepository)(nil)

const catalogColumns = `
	id, restaurant_id, product_name, description, brand, quality_tier, category,
	is_active, is_verified, search_frequency, total_orders, popularity_score,
	embedding_vector, created_at`

func (r *catalogRepository) Create(ctx context.Context, product *models.CatalogProduct) error {
	var vectorJSON []byte
	if len(product.EmbeddingVector) > 0 {
		var err error
		vectorJSON, err = json.Marshal(product.EmbeddingVector)
		if err != nil {
			return fmt.Errorf("marshal embedding: %w", err)
		}
	}

	query := `
		INSERT INTO master_list (
			restaurant_id, product_name, description, brand, quality_tier, category,
			is_active, is_verified, embedding_vector, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, true, $7, $8, NOW())
		RETURNING id, is_active, created_at`

	err := r.db.QueryRow(ctx, query,
		product.RestaurantID, product.ProductName, product.Description,
		product.Brand, product.QualityTier, nullableString(string(product.Category)),
		product.IsVerified, vectorJSON,
	).Scan(&product.ID, &product.IsActive, &product.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert catalog product: %w", err)
	}

	return nil
}

func (r *catalogRepository) GetByID(ctx context.Context, id int64) (*models.CatalogProduct, error) {
	query := fmt.Sprintf(`SELECT %s FROM master_list WHERE id = $1`, catalogColumns)

	row := r.db.QueryRow(ctx, query, id)
	product, err := scanCatalogRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get catalog product by id: %w", err)
	}
	return product, nil
}

func (r *catalogRepository) GetByNameExact(ctx context.Context, restaurantID int64, name string) (*models.CatalogProduct, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM master_list
		WHERE restaurant_id = $1 AND LOWER(product_name) = LOWER($2) AND is_active = true
		LIMIT 1`, catalogColumns)

	row := r.db.QueryRow(ctx, query, restaurantID, name)
	product, err := scanCatalogRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get catalog product by name: %w", err)
	}
	return product, nil
}

func (r *catalogRepository) ListByRestaurant(ctx context.Context, restaurantID int64) ([]*models.CatalogProduct, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM master_list
		WHERE restaurant_id = $1 AND is_active = true
		ORDER BY product_name ASC`, catalogColumns)

	return r.queryCatalog(ctx, query, restaurantID)
}

func (r *catalogRepository) ListWithEmbeddings(ctx context.Context, restaurantID int64) ([]*models.CatalogProduct, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM master_list
		WHERE restaurant_id = $1 AND is_active = true AND embedding_vector IS NOT NULL
		ORDER BY id ASC`, catalogColumns)

	return r.queryCatalog(ctx, query, restaurantID)
}

func (r *catalogRepository) queryCatalog(ctx context.Context, query string, args ...any) ([]*models.CatalogProduct, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list catalog products: %w", err)
	}
	defer rows.Close()

	products := make([]*models.CatalogProduct, 0)
	for rows.Next() {
		product, err := scanCatalogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan catalog product: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog products: %w", err)
	}

	return products, nil
}

func (r *catalogRepository) SetEmbedding(ctx context.Context, id int64, vector []float32) error {
	vectorJSON, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}

	query := `UPDATE master_list SET embedding_vector = $2 WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, vectorJSON)
	if err != nil {
		return fmt.Errorf("set catalog embedding: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("catalog product not found: %d", id)
	}
	return nil
}

func (r *catalogRepository) IncrementPopularity(ctx context.Context, id int64) error {
	query := `
		UPDATE master_list
		SET search_frequency = search_frequency + 1,
		    popularity_score = popularity_score + 0.1
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("increment popularity: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("catalog product not found: %d", id)
	}
	return nil
}

func scanCatalogRow(row pgx.Row) (*models.CatalogProduct, error) {
	var p models.CatalogProduct
	var category *string
	var vectorJSON []byte

	err := row.Scan(
		&p.ID, &p.RestaurantID, &p.ProductName, &p.Description, &p.Brand,
		&p.QualityTier, &category,
		&p.IsActive, &p.IsVerified, &p.SearchFrequency, &p.TotalOrders,
		&p.PopularityScore, &vectorJSON, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if category != nil {
		p.Category = models.ProductCategory(*category)
	}
	if len(vectorJSON) > 0 {
		_ = json.Unmarshal(vectorJSON, &p.EmbeddingVector)
	}

	return &p, nil
}

package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edelae/frepi/pkg/database"
	"github.com/edelae/frepi/pkg/models"
)

// PreferenceRepository provides data access for committed product
// preferences. One row holds every preference kind for a
// (restaurant, product) pair.
type PreferenceRepository interface {
	// Upsert merges the given sub-documents into the row for the pair,
	// creating it if absent. Nil sub-documents leave the stored value
	// untouched. Returns the row id.
	Upsert(ctx context.Context, pref *models.RestaurantProductPreference) error

	// Get retrieves the preference row for a pair. Returns nil if not found.
	Get(ctx context.Context, restaurantID, masterListID int64) (*models.RestaurantProductPreference, error)

	// ListByRestaurant returns all preference rows for a restaurant.
	ListByRestaurant(ctx context.Context, restaurantID int64) ([]*models.RestaurantProductPreference, error)
}

type preferenceRepository struct {
	db *database.DB
}

// NewPreferenceRepository creates a new PreferenceRepository.
func NewPreferenceRepository(db *database.DB) PreferenceRepository {
	return &preferenceRepository{db: db}
}

var _ PreferenceRepository = (*preferenceRepository)(nil)

const preferenceColumns = `
	id, restaurant_id, master_list_id,
	brand_preferences, price_preference, quality_preference, specification_preferences,
	created_at, updated_at`

func (r *preferenceRepository) Upsert(ctx context.Context, pref *models.RestaurantProductPreference) error {
	brandJSON, err := marshalOrNil(pref.BrandPreferences)
	if err != nil {
		return fmt.Errorf("marshal brand preferences: %w", err)
	}
	priceJSON, err := marshalOrNil(pref.PricePreference)
	if err != nil {
		return fmt.Errorf("marshal price preference: %w", err)
	}
	qualityJSON, err := marshalOrNil(pref.QualityPreference)
	if err != nil {
		return fmt.Errorf("marshal quality preference: %w", err)
	}
	specJSON, err := marshalOrNil(pref.SpecificationPreferences)
	if err != nil {
		return fmt.Errorf("marshal specification preferences: %w", err)
	}

	query := `
		INSERT INTO restaurant_product_preferences (
			restaurant_id, master_list_id,
			brand_preferences, price_preference, quality_preference,
			specification_preferences, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (restaurant_id, master_list_id) DO UPDATE
		SET brand_preferences = COALESCE(EXCLUDED.brand_preferences, restaurant_product_preferences.brand_preferences),
		    price_preference = COALESCE(EXCLUDED.price_preference, restaurant_product_preferences.price_preference),
		    quality_preference = COALESCE(EXCLUDED.quality_preference, restaurant_product_preferences.quality_preference),
		    specification_preferences = COALESCE(EXCLUDED.specification_preferences, restaurant_product_preferences.specification_preferences),
		    updated_at = NOW()
		RETURNING id, created_at, updated_at`

	err = r.db.QueryRow(ctx, query,
		pref.RestaurantID, pref.MasterListID,
		brandJSON, priceJSON, qualityJSON, specJSON,
	).Scan(&pref.ID, &pref.CreatedAt, &pref.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert product preference: %w", err)
	}

	return nil
}

func (r *preferenceRepository) Get(ctx context.Context, restaurantID, masterListID int64) (*models.RestaurantProductPreference, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM restaurant_product_preferences
		WHERE restaurant_id = $1 AND master_list_id = $2
		LIMIT 1`, preferenceColumns)

	row := r.db.QueryRow(ctx, query, restaurantID, masterListID)
	pref, err := scanPreferenceRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get product preference: %w", err)
	}
	return pref, nil
}

func (r *preferenceRepository) ListByRestaurant(ctx context.Context, restaurantID int64) ([]*models.RestaurantProductPreference, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM restaurant_product_preferences
		WHERE restaurant_id = $1
		ORDER BY master_list_id ASC`, preferenceColumns)

	rows, err := r.db.Query(ctx, query, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("list product preferences: %w", err)
	}
	defer rows.Close()

	prefs := make([]*models.RestaurantProductPreference, 0)
	for rows.Next() {
		pref, err := scanPreferenceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product preference: %w", err)
		}
		prefs = append(prefs, pref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product preferences: %w", err)
	}

	return prefs, nil
}

// ============================================================================
// Helper Functions
// ============================================================================

// marshalOrNil keeps nil maps as SQL NULL so a partial upsert does not wipe
// stored sub-documents.
func marshalOrNil(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func scanPreferenceRow(row pgx.Row) (*models.RestaurantProductPreference, error) {
	var p models.RestaurantProductPreference
	var brandJSON, priceJSON, qualityJSON, specJSON []byte

	err := row.Scan(
		&p.ID, &p.RestaurantID, &p.MasterListID,
		&brandJSON, &priceJSON, &qualityJSON, &specJSON,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(brandJSON) > 0 {
		_ = json.Unmarshal(brandJSON, &p.BrandPreferences)
	}
	if len(priceJSON) > 0 {
		_ = json.Unmarshal(priceJSON, &p.PricePreference)
	}
	if len(qualityJSON) > 0 {
		_ = json.Unmarshal(qualityJSON, &p.QualityPreference)
	}
	if len(specJSON) > 0 {
		_ = json.Unmarshal(specJSON, &p.SpecificationPreferences)
	}

	return &p, nil
}

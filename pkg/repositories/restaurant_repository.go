package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edelae/frepi/pkg/database"
	"github.com/edelae/frepi/pkg/models"
)

// RestaurantRepository provides data access for restaurants and their
// contact people.
type RestaurantRepository interface {
	// Create inserts a restaurant and returns it with the assigned id.
	Create(ctx context.Context, restaurant *models.Restaurant) error

	// GetByID retrieves a restaurant. Returns nil if not found.
	GetByID(ctx context.Context, id int64) (*models.Restaurant, error)

	// GetByNameAndCity finds a restaurant by exact name and city. Committing
	// twice must reuse the existing row. Returns nil if not found.
	GetByNameAndCity(ctx context.Context, name string, city *string) (*models.Restaurant, error)

	// UpdateOrderingFrequency replaces the ordering-frequency document.
	UpdateOrderingFrequency(ctx context.Context, id int64, frequency map[string]any) error

	// MarkOnboarded stamps the session id and completion time.
	MarkOnboarded(ctx context.Context, id int64, sessionID string) error

	// CreatePerson inserts a contact person and returns it with the
	// assigned id.
	CreatePerson(ctx context.Context, person *models.RestaurantPerson) error

	// GetPersonByWhatsapp finds a contact person by whatsapp number.
	// Returns nil if not found.
	GetPersonByWhatsapp(ctx context.Context, whatsappNumber string) (*models.RestaurantPerson, error)

	// ListActivePeople returns the active contacts for a restaurant.
	ListActivePeople(ctx context.Context, restaurantID int64) ([]*models.RestaurantPerson, error)
}

type restaurantRepository struct {
	db *database.DB
}

// NewRestaurantRepository creates a new RestaurantRepository.
func NewRestaurantRepository(db *database.DB) RestaurantRepository {
	return &restaurantRepository{db: db}
}

var _ RestaurantRepository = (*restaurantRepository)(nil)

const restaurantColumns = `
	id, restaurant_name, city, restaurant_type, ordering_frequency,
	onboarding_session_id, onboarding_completed_at, is_active,
	created_at, updated_at`

func (r *restaurantRepository) Create(ctx context.Context, restaurant *models.Restaurant) error {
	frequencyJSON, err := json.Marshal(restaurant.OrderingFrequency)
	if err != nil {
		return fmt.Errorf("marshal ordering frequency: %w", err)
	}

	query := `
		INSERT INTO restaurants (
			restaurant_name, city, restaurant_type, ordering_frequency,
			is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, true, NOW(), NOW())
		RETURNING id, is_active, created_at, updated_at`

	err = r.db.QueryRow(ctx, query,
		restaurant.RestaurantName, restaurant.City, restaurant.RestaurantType, frequencyJSON,
	).Scan(&restaurant.ID, &restaurant.IsActive, &restaurant.CreatedAt, &restaurant.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert restaurant: %w", err)
	}

	return nil
}

func (r *restaurantRepository) GetByID(ctx context.Context, id int64) (*models.Restaurant, error) {
	query := fmt.Sprintf(`SELECT %s FROM restaurants WHERE id = $1`, restaurantColumns)

	row := r.db.QueryRow(ctx, query, id)
	restaurant, err := scanRestaurantRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get restaurant by id: %w", err)
	}
	return restaurant, nil
}

func (r *restaurantRepository) GetByNameAndCity(ctx context.Context, name string, city *string) (*models.Restaurant, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM restaurants
		WHERE LOWER(restaurant_name) = LOWER($1)
		  AND (city = $2 OR ($2::text IS NULL AND city IS NULL))
		LIMIT 1`, restaurantColumns)

	row := r.db.QueryRow(ctx, query, name, city)
	restaurant, err := scanRestaurantRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get restaurant by name and city: %w", err)
	}
	return restaurant, nil
}

func (r *restaurantRepository) UpdateOrderingFrequency(ctx context.Context, id int64, frequency map[string]any) error {
	frequencyJSON, err := json.Marshal(frequency)
	if err != nil {
		return fmt.Errorf("marshal ordering frequency: %w", err)
	}

	query := `
		UPDATE restaurants
		SET ordering_frequency = $2, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, frequencyJSON)
	if err != nil {
		return fmt.Errorf("update ordering frequency: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("restaurant not found: %d", id)
	}
	return nil
}

func (r *restaurantRepository) MarkOnboarded(ctx context.Context, id int64, sessionID string) error {
	query := `
		UPDATE restaurants
		SET onboarding_session_id = $2, onboarding_completed_at = NOW(), updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, sessionID)
	if err != nil {
		return fmt.Errorf("mark restaurant onboarded: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("restaurant not found: %d", id)
	}
	return nil
}

func (r *restaurantRepository) CreatePerson(ctx context.Context, person *models.RestaurantPerson) error {
	query := `
		INSERT INTO restaurant_people (
			restaurant_id, first_name, last_name, full_name, whatsapp_number,
			is_primary_contact, is_active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, true, NOW())
		RETURNING id, is_active, created_at`

	err := r.db.QueryRow(ctx, query,
		person.RestaurantID, person.FirstName, person.LastName, person.FullName,
		person.WhatsappNumber, person.IsPrimaryContact,
	).Scan(&person.ID, &person.IsActive, &person.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert restaurant person: %w", err)
	}

	return nil
}

const restaurantPersonColumns = `
	id, restaurant_id, first_name, last_name, full_name, whatsapp_number,
	is_primary_contact, is_active, created_at`

func (r *restaurantRepository) GetPersonByWhatsapp(ctx context.Context, whatsappNumber string) (*models.RestaurantPerson, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM restaurant_people
		WHERE whatsapp_number = $1 AND is_active = true
		LIMIT 1`, restaurantPersonColumns)

	var person models.RestaurantPerson
	err := r.db.QueryRow(ctx, query, whatsappNumber).Scan(
		&person.ID, &person.RestaurantID, &person.FirstName, &person.LastName,
		&person.FullName, &person.WhatsappNumber, &person.IsPrimaryContact,
		&person.IsActive, &person.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get person by whatsapp: %w", err)
	}
	return &person, nil
}

func (r *restaurantRepository) ListActivePeople(ctx context.Context, restaurantID int64) ([]*models.RestaurantPerson, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM restaurant_people
		WHERE restaurant_id = $1 AND is_active = true
		ORDER BY is_primary_contact DESC, created_at ASC`, restaurantPersonColumns)

	rows, err := r.db.Query(ctx, query, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("list restaurant people: %w", err)
	}
	defer rows.Close()

	people := make([]*models.RestaurantPerson, 0)
	for rows.Next() {
		var person models.RestaurantPerson
		err := rows.Scan(
			&person.ID, &person.RestaurantID, &person.FirstName, &person.LastName,
			&person.FullName, &person.WhatsappNumber, &person.IsPrimaryContact,
			&person.IsActive, &person.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan restaurant person: %w", err)
		}
		people = append(people, &person)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate restaurant people: %w", err)
	}

	return people, nil
}

func scanRestaurantRow(row pgx.Row) (*models.Restaurant, error) {
	var restaurant models.Restaurant
	var frequencyJSON []byte

	err := row.Scan(
		&restaurant.ID, &restaurant.RestaurantName, &restaurant.City,
		&restaurant.RestaurantType, &frequencyJSON,
		&restaurant.OnboardingSessionID, &restaurant.OnboardingDoneAt,
		&restaurant.IsActive, &restaurant.CreatedAt, &restaurant.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(frequencyJSON) > 0 {
		_ = json.Unmarshal(frequencyJSON, &restaurant.OrderingFrequency)
	}

	return &restaurant, nil
}

package models

import "time"

// Production entities. These are the permanent rows the commit service
// materializes staged data into, plus the order rows the heartbeat jobs read.

// Restaurant is a committed restaurant account.
type Restaurant struct {
	ID                  int64          `json:"id"`
	RestaurantName      string         `json:"restaurant_name"`
	City                *string        `json:"city,omitempty"`
	RestaurantType      *string        `json:"restaurant_type,omitempty"`
	OrderingFrequency   map[string]any `json:"ordering_frequency,omitempty"`
	OnboardingSessionID *string        `json:"onboarding_session_id,omitempty"`
	OnboardingDoneAt    *time.Time     `json:"onboarding_completed_at,omitempty"`
	IsActive            bool           `json:"is_active"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// RestaurantPerson is a contact person at a restaurant. WhatsappNumber
// stores the Telegram chat id as a string.
type RestaurantPerson struct {
	ID               int64     `json:"id"`
	RestaurantID     int64     `json:"restaurant_id"`
	FirstName        *string   `json:"first_name,omitempty"`
	LastName         *string   `json:"last_name,omitempty"`
	FullName         *string   `json:"full_name,omitempty"`
	WhatsappNumber   *string   `json:"whatsapp_number,omitempty"`
	IsPrimaryContact bool      `json:"is_primary_contact"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
}

// Supplier is a committed supplier.
type Supplier struct {
	ID                 int64     `json:"id"`
	CompanyName        string    `json:"company_name"`
	TaxNumber          *string   `json:"tax_number,omitempty"`
	ContactPhone       *string   `json:"contact_phone,omitempty"`
	Email              *string   `json:"email,omitempty"`
	Address            *string   `json:"address,omitempty"`
	City               *string   `json:"city,omitempty"`
	WhatsappNumber     *string   `json:"whatsapp_number,omitempty"`
	PrimaryContactName *string   `json:"primary_contact_name,omitempty"`
	IsActive           bool      `json:"is_active"`
	CreatedAt          time.Time `json:"created_at"`
}

// CatalogProduct is a master-list entry owned by a restaurant.
type CatalogProduct struct {
	ID              int64           `json:"id"`
	RestaurantID    int64           `json:"restaurant_id"`
	ProductName     string          `json:"product_name"`
	Description     *string         `json:"description,omitempty"`
	Brand           *string         `json:"brand,omitempty"`
	QualityTier     *string         `json:"quality_tier,omitempty"`
	Category        ProductCategory `json:"category,omitempty"`
	IsActive        bool            `json:"is_active"`
	IsVerified      bool            `json:"is_verified"`
	SearchFrequency int             `json:"search_frequency"`
	TotalOrders     int             `json:"total_orders"`
	PopularityScore float64         `json:"popularity_score"`
	EmbeddingVector []float32       `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
}

// SupplierMappedProduct links a supplier to a catalog product with a cached
// current price.
type SupplierMappedProduct struct {
	ID                  int64      `json:"id"`
	SupplierID          int64      `json:"supplier_id"`
	MasterListID        int64      `json:"master_list_id"`
	SupplierProductCode string     `json:"supplier_product_code"`
	SupplierProductName string     `json:"supplier_product_name"`
	SupplierBrand       *string    `json:"supplier_brand,omitempty"`
	MappingConfidence   float64    `json:"mapping_confidence"`
	MappingMethod       string     `json:"mapping_method"`
	CurrentUnitPrice    float64    `json:"current_unit_price"`
	Currency            string     `json:"currency"`
	PriceLastUpdated    *time.Time `json:"price_last_updated,omitempty"`
	IsActive            bool       `json:"is_active"`
	CreatedAt           time.Time  `json:"created_at"`
}

// PriceRecord is one row of pricing history. A nil EndDate marks the
// current price.
type PriceRecord struct {
	ID                      int64      `json:"id"`
	SupplierID              int64      `json:"supplier_id"`
	MasterListID            int64      `json:"master_list_id"`
	SupplierMappedProductID *int64     `json:"supplier_mapped_product_id,omitempty"`
	UnitPrice               float64    `json:"unit_price"`
	Currency                string     `json:"currency"`
	PricePerUnitType        *string    `json:"price_per_unit_type,omitempty"`
	EffectiveDate           time.Time  `json:"effective_date"`
	EndDate                 *time.Time `json:"end_date,omitempty"`
	DataSource              string     `json:"data_source"`
	CreatedAt               time.Time  `json:"created_at"`
}

// RestaurantProductPreference folds all preference kinds for one
// (restaurant, product) pair into one row. Each sub-document carries
// _source, _added_by and _added_at keys alongside the values.
type RestaurantProductPreference struct {
	ID                       int64          `json:"id"`
	RestaurantID             int64          `json:"restaurant_id"`
	MasterListID             int64          `json:"master_list_id"`
	BrandPreferences         map[string]any `json:"brand_preferences,omitempty"`
	PricePreference          map[string]any `json:"price_preference,omitempty"`
	QualityPreference        map[string]any `json:"quality_preference,omitempty"`
	SpecificationPreferences map[string]any `json:"specification_preferences,omitempty"`
	CreatedAt                time.Time      `json:"created_at"`
	UpdatedAt                time.Time      `json:"updated_at"`
}

// PreferenceQueueItem is one entry in the preference-collection queue,
// ordered by importance. Drip scheduling consumes this queue.
type PreferenceQueueItem struct {
	ID           int64 `json:"id"`
	RestaurantID int64 `json:"restaurant_id"`
	MasterListID int64 `json:"master_list_id"`

	ProductName    string         `json:"product_name"`
	ImportanceTier ImportanceTier `json:"importance_tier"`
	ImportanceScore float64       `json:"importance_score"`
	TotalSpend      float64       `json:"total_spend"`
	SpendSharePct   float64       `json:"spend_share_pct"`

	Status        DripQuestionStatus `json:"status"`
	QueuePosition int                `json:"queue_position"`

	PreferencesCollected []string `json:"preferences_collected,omitempty"`
	PreferencesPending   []string `json:"preferences_pending,omitempty"`

	AskedCount  int        `json:"asked_count"`
	LastAskedAt *time.Time `json:"last_asked_at,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NextPendingPreference returns the first preference kind not yet collected
// for this queue item. Defaults to the standard ask order when the pending
// list was never initialized.
func (q *PreferenceQueueItem) NextPendingPreference() PreferenceType {
	pending := q.PreferencesPending
	if len(pending) == 0 && len(q.PreferencesCollected) == 0 {
		pending = []string{"brand", "price_max", "quality", "supplier"}
	}
	if len(pending) == 0 {
		return ""
	}
	return PreferenceType(pending[0])
}

// PurchaseOrder is read by the heartbeat jobs; orders are created elsewhere.
type PurchaseOrder struct {
	ID                   int64      `json:"id"`
	RestaurantID         int64      `json:"restaurant_id"`
	SupplierID           *int64     `json:"supplier_id,omitempty"`
	Status               string     `json:"status"`
	OrderSummary         *string    `json:"order_summary,omitempty"`
	ExpectedDeliveryDate *time.Time `json:"expected_delivery_date,omitempty"`
	DeliveredAt          *time.Time `json:"delivered_at,omitempty"`
	QualityRating        *int       `json:"quality_rating,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

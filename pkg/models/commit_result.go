package models

import "time"

// CommitResult records the outcome of one attempt to materialize a staging
// session into production rows.
type CommitResult struct {
	Success bool `json:"success"`

	RestaurantID *int64 `json:"restaurant_id,omitempty"`
	PersonID     *int64 `json:"person_id,omitempty"`

	SuppliersCommitted   int `json:"suppliers_committed"`
	ProductsCommitted    int `json:"products_committed"`
	PricesCommitted      int `json:"prices_committed"`
	PreferencesCommitted int `json:"preferences_committed"`

	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	CommittedAt *time.Time `json:"committed_at,omitempty"`
}

package models

// UserType classifies who is talking to the bot.
type UserType string

const (
	UserTypeRestaurant UserType = "restaurant"
	UserTypeSupplier   UserType = "supplier"
	UserTypeUnknown    UserType = "unknown"
)

// UserIdentity is the routing result for an incoming chat id.
type UserIdentity struct {
	UserType     UserType `json:"user_type"`
	UserID       int64    `json:"user_id,omitempty"`
	RestaurantID int64    `json:"restaurant_id,omitempty"`
	SupplierID   int64    `json:"supplier_id,omitempty"`
	Name         string   `json:"name,omitempty"`
	IsNewUser    bool     `json:"is_new_user"`
}

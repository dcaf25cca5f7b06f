package models

import (
	"time"

	"github.com/google/uuid"
)

// InvoicePhoto tracks one uploaded invoice image and its parse outcome.
// Photos are ordered by PhotoIndex, the order of upload.
type InvoicePhoto struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`

	TelegramFileID  string  `json:"telegram_file_id"`
	TelegramFileURL *string `json:"telegram_file_url,omitempty"`
	PhotoIndex      int     `json:"photo_index"`

	ParsingSuccess *bool   `json:"parsing_success,omitempty"`
	ParsingError   *string `json:"parsing_error,omitempty"`

	ExtractedSupplierName *string  `json:"extracted_supplier_name,omitempty"`
	ExtractedItemCount    *int     `json:"extracted_item_count,omitempty"`
	ExtractedTotalAmount  *float64 `json:"extracted_total_amount,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

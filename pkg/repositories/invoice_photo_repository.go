package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edelae/frepi/pkg/database"
	"github.com/edelae/frepi/pkg/models"
)

// InvoicePhotoRepository provides data access for uploaded invoice photos.
type InvoicePhotoRepository interface {
	// Create inserts a photo record.
	Create(ctx context.Context, photo *models.InvoicePhoto) error

	// ListBySession returns all photos for a session ordered by upload index.
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.InvoicePhoto, error)

	// UpdateParseOutcome records the result of parsing the photo.
	UpdateParseOutcome(ctx context.Context, id uuid.UUID, outcome ParseOutcome) error

	// CountBySession returns the number of photos uploaded in a session.
	CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error)
}

// ParseOutcome carries the fields recorded after an invoice photo is parsed.
type ParseOutcome struct {
	Success       bool
	Error         *string
	SupplierName  *string
	ItemCount     *int
	TotalAmount   *float64
}

type invoicePhotoRepository struct {
	db *database.DB
}

// NewInvoicePhotoRepository creates a new InvoicePhotoRepository.
func NewInvoicePhotoRepository(db *database.DB) InvoicePhotoRepository {
	return &invoicePhotoRepository{db: db}
}

var _ InvoicePhotoRepository = (*invoicePhotoRepository)(nil)

const invoicePhotoColumns = `
	id, session_id, telegram_file_id, telegram_file_url, photo_index,
	parsing_success, parsing_error,
	extracted_supplier_name, extracted_item_count, extracted_total_amount,
	created_at, updated_at`

func (r *invoicePhotoRepository) Create(ctx context.Context, photo *models.InvoicePhoto) error {
	now := time.Now()
	if photo.ID == uuid.Nil {
		photo.ID = uuid.New()
	}
	if photo.CreatedAt.IsZero() {
		photo.CreatedAt = now
	}
	photo.UpdatedAt = now

	query := `
		INSERT INTO invoice_photos (
			id, session_id, telegram_file_id, telegram_file_url, photo_index,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		photo.ID, photo.SessionID, photo.TelegramFileID, photo.TelegramFileURL,
		photo.PhotoIndex, photo.CreatedAt, photo.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invoice photo: %w", err)
	}

	return nil
}

func (r *invoicePhotoRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.InvoicePhoto, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM invoice_photos
		WHERE session_id = $1
		ORDER BY photo_index ASC`, invoicePhotoColumns)

	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list invoice photos: %w", err)
	}
	defer rows.Close()

	photos := make([]*models.InvoicePhoto, 0)
	for rows.Next() {
		var p models.InvoicePhoto
		err := rows.Scan(
			&p.ID, &p.SessionID, &p.TelegramFileID, &p.TelegramFileURL, &p.PhotoIndex,
			&p.ParsingSuccess, &p.ParsingError,
			&p.ExtractedSupplierName, &p.ExtractedItemCount, &p.ExtractedTotalAmount,
			&p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan invoice photo: %w", err)
		}
		photos = append(photos, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoice photos: %w", err)
	}

	return photos, nil
}

func (r *invoicePhotoRepository) UpdateParseOutcome(ctx context.Context, id uuid.UUID, outcome ParseOutcome) error {
	query := `
		UPDATE invoice_photos
		SET parsing_success = $2, parsing_error = $3,
		    extracted_supplier_name = $4, extracted_item_count = $5,
		    extracted_total_amount = $6, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		id, outcome.Success, outcome.Error,
		outcome.SupplierName, outcome.ItemCount, outcome.TotalAmount,
	)
	if err != nil {
		return fmt.Errorf("update photo parse outcome: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("invoice photo not found: %s", id)
	}
	return nil
}

func (r *invoicePhotoRepository) CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM invoice_photos WHERE session_id = $1`, sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count invoice photos: %w", err)
	}
	return count, nil
}

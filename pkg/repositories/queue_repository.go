package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edelae/frepi/pkg/database"
	"github.com/edelae/frepi/pkg/models"
)

// QueueRepository provides data access for the preference-collection queue.
type QueueRepository interface {
	// CreateBatch inserts queue items, skipping pairs already queued.
	CreateBatch(ctx context.Context, items []*models.PreferenceQueueItem) error

	// NextPending returns the highest-priority uncollected items for a
	// restaurant, up to limit. Items already asked but never answered
	// stay eligible so an ignored question is offered again.
	NextPending(ctx context.Context, restaurantID int64, limit int) ([]*models.PreferenceQueueItem, error)

	// GetByID retrieves a queue item. Returns nil if not found.
	GetByID(ctx context.Context, id int64) (*models.PreferenceQueueItem, error)

	// MarkAsked records that a drip question for this item was injected
	// into a conversation.
	MarkAsked(ctx context.Context, id int64) error

	// MarkCollected moves a preference kind from pending to collected,
	// finishing the item when nothing is left.
	MarkCollected(ctx context.Context, id int64, prefType models.PreferenceType) error

	// MarkSkipped marks the item skipped.
	MarkSkipped(ctx context.Context, id int64) error

	// MarkSent stamps the weekly proactive send.
	MarkSent(ctx context.Context, id int64) error

	// RestaurantsWithPending returns restaurant ids that still have pending
	// queue items, for the weekly drip job.
	RestaurantsWithPending(ctx context.Context) ([]int64, error)

	// CountPending returns the number of pending items for a restaurant.
	CountPending(ctx context.Context, restaurantID int64) (int, error)
}

type queueRepository struct {
	db *database.DB
}

// NewQueueRepository creates a new QueueRepository.
func NewQueueRepository(db *database.DB) QueueRepository {
	return &queueRepository{db: db}
}

var _ QueueRepository = (*queueRepository)(nil)

const queueColumns = `
	id, restaurant_id, master_list_id, product_name,
	importance_tier, importance_score, total_spend, spend_share_pct,
	status, queue_position, preferences_collected, preferences_pending,
	asked_count, last_asked_at, sent_at, created_at, updated_at`

func (r *queueRepository) CreateBatch(ctx context.Context, items []*models.PreferenceQueueItem) error {
	if len(items) == 0 {
		return nil
	}

	query := `
		INSERT INTO preference_collection_queue (
			restaurant_id, master_list_id, product_name,
			importance_tier, importance_score, total_spend, spend_share_pct,
			status, queue_position, preferences_collected, preferences_pending,
			asked_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, NOW(), NOW())
		ON CONFLICT (restaurant_id, master_list_id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, item := range items {
		if item.Status == "" {
			item.Status = models.DripStatusPending
		}
		collected := item.PreferencesCollected
		if collected == nil {
			collected = []string{}
		}
		pending := item.PreferencesPending
		if pending == nil {
			pending = []string{"brand", "price_max", "quality", "supplier"}
		}

		batch.Queue(query,
			item.RestaurantID, item.MasterListID, item.ProductName,
			string(item.ImportanceTier), item.ImportanceScore,
			item.TotalSpend, item.SpendSharePct,
			string(item.Status), item.QueuePosition, collected, pending,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for range items {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch insert queue items: %w", err)
		}
	}

	return nil
}

func (r *queueRepository) NextPending(ctx context.Context, restaurantID int64, limit int) ([]*models.PreferenceQueueItem, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM preference_collection_queue
		WHERE restaurant_id = $1 AND status IN ('pending', 'asked_drip')
		ORDER BY queue_position ASC
		LIMIT $2`, queueColumns)

	rows, err := r.db.Query(ctx, query, restaurantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending queue items: %w", err)
	}
	defer rows.Close()

	items := make([]*models.PreferenceQueueItem, 0)
	for rows.Next() {
		item, err := scanQueueItemRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue items: %w", err)
	}

	return items, nil
}

func (r *queueRepository) GetByID(ctx context.Context, id int64) (*models.PreferenceQueueItem, error) {
	query := fmt.Sprintf(`SELECT %s FROM preference_collection_queue WHERE id = $1`, queueColumns)

	row := r.db.QueryRow(ctx, query, id)
	item, err := scanQueueItemRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get queue item by id: %w", err)
	}
	return item, nil
}

func (r *queueRepository) MarkAsked(ctx context.Context, id int64) error {
	query := `
		UPDATE preference_collection_queue
		SET status = 'asked_drip', asked_count = asked_count + 1,
		    last_asked_at = NOW(), updated_at = NOW()
		WHERE id = $1`

	return r.execQueueUpdate(ctx, query, id)
}

func (r *queueRepository) MarkCollected(ctx context.Context, id int64, prefType models.PreferenceType) error {
	// Once the pending list empties the item is done; otherwise it goes back
	// to pending for the next drip pass.
	query := `
		UPDATE preference_collection_queue
		SET preferences_collected = array_append(preferences_collected, $2),
		    preferences_pending = array_remove(preferences_pending, $2),
		    status = CASE
		        WHEN array_length(array_remove(preferences_pending, $2), 1) IS NULL THEN 'collected'
		        ELSE 'pending'
		    END,
		    updated_at = NOW()
		WHERE id = $1`

	return r.execQueueUpdate(ctx, query, id, string(prefType))
}

func (r *queueRepository) MarkSkipped(ctx context.Context, id int64) error {
	query := `
		UPDATE preference_collection_queue
		SET status = 'skipped', updated_at = NOW()
		WHERE id = $1`

	return r.execQueueUpdate(ctx, query, id)
}

func (r *queueRepository) MarkSent(ctx context.Context, id int64) error {
	query := `
		UPDATE preference_collection_queue
		SET status = 'sent', sent_at = NOW(), updated_at = NOW()
		WHERE id = $1`

	return r.execQueueUpdate(ctx, query, id)
}

func (r *queueRepository) RestaurantsWithPending(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT restaurant_id
		FROM preference_collection_queue
		WHERE status = 'pending'
		ORDER BY restaurant_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list restaurants with pending items: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan restaurant id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate restaurant ids: %w", err)
	}

	return ids, nil
}

func (r *queueRepository) CountPending(ctx context.Context, restaurantID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM preference_collection_queue
		WHERE restaurant_id = $1 AND status = 'pending'`, restaurantID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending queue items: %w", err)
	}
	return count, nil
}

func (r *queueRepository) execQueueUpdate(ctx context.Context, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update queue item: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("queue item not found: %v", args[0])
	}
	return nil
}

func scanQueueItemRow(row pgx.Row) (*models.PreferenceQueueItem, error) {
	var item models.PreferenceQueueItem
	var tier, status string

	err := row.Scan(
		&item.ID, &item.RestaurantID, &item.MasterListID, &item.ProductName,
		&tier, &item.ImportanceScore, &item.TotalSpend, &item.SpendSharePct,
		&status, &item.QueuePosition,
		&item.PreferencesCollected, &item.PreferencesPending,
		&item.AskedCount, &item.LastAskedAt, &item.SentAt,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.ImportanceTier = models.ImportanceTier(tier)
	item.Status = models.DripQuestionStatus(status)

	return &item, nil
}

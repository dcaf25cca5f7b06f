package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/edelae/frepi/pkg/database"
	"github.com/edelae/frepi/pkg/models"
)

// OrderRepository reads purchase orders for the heartbeat jobs. Orders are
// created by the ordering flow, not here.
type OrderRepository interface {
	// ListUnconfirmedOlderThan returns sent orders created more than the
	// given age ago that the supplier has not confirmed.
	ListUnconfirmedOlderThan(ctx context.Context, age time.Duration) ([]*models.PurchaseOrder, error)

	// ListOverdueDeliveries returns confirmed orders whose expected delivery
	// date has passed without a delivery.
	ListOverdueDeliveries(ctx context.Context) ([]*models.PurchaseOrder, error)

	// ListDeliveredUnrated returns orders delivered within the given window
	// that have no quality rating yet.
	ListDeliveredUnrated(ctx context.Context, window time.Duration) ([]*models.PurchaseOrder, error)
}

type orderRepository struct {
	db *database.DB
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(db *database.DB) OrderRepository {
	return &orderRepository{db: db}
}

var _ OrderRepository = (*orderRepository)(nil)

const orderColumns = `
	id, restaurant_id, supplier_id, status, order_summary,
	expected_delivery_date, delivered_at, quality_rating, created_at`

func (r *orderRepository) ListUnconfirmedOlderThan(ctx context.Context, age time.Duration) ([]*models.PurchaseOrder, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM purchase_orders
		WHERE status = 'sent' AND created_at < NOW() - $1::interval
		ORDER BY created_at ASC`, orderColumns)

	return r.queryOrders(ctx, query, age.String())
}

func (r *orderRepository) ListOverdueDeliveries(ctx context.Context) ([]*models.PurchaseOrder, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM purchase_orders
		WHERE status = 'confirmed'
		  AND expected_delivery_date IS NOT NULL
		  AND expected_delivery_date < NOW()
		  AND delivered_at IS NULL
		ORDER BY expected_delivery_date ASC`, orderColumns)

	return r.queryOrders(ctx, query)
}

func (r *orderRepository) ListDeliveredUnrated(ctx context.Context, window time.Duration) ([]*models.PurchaseOrder, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM purchase_orders
		WHERE status = 'delivered'
		  AND delivered_at > NOW() - $1::interval
		  AND quality_rating IS NULL
		ORDER BY delivered_at ASC`, orderColumns)

	return r.queryOrders(ctx, query, window.String())
}

func (r *orderRepository) queryOrders(ctx context.Context, query string, args ...any) ([]*models.PurchaseOrder, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list purchase orders: %w", err)
	}
	defer rows.Close()

	orders := make([]*models.PurchaseOrder, 0)
	for rows.Next() {
		var o models.PurchaseOrder
		err := rows.Scan(
			&o.ID, &o.RestaurantID, &o.SupplierID, &o.Status, &o.OrderSummary,
			&o.ExpectedDeliveryDate, &o.DeliveredAt, &o.QualityRating, &o.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan purchase order: %w", err)
		}
		orders = append(orders, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchase orders: %w", err)
	}

	return orders, nil
}

package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/edelae/frepi/pkg/config"
	"github.com/edelae/frepi/pkg/models"
	"github.com/edelae/frepi/pkg/repositories"
)

type fakeNotifier struct {
	messages map[int64][]string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{messages: make(map[int64][]string)}
}

func (f *fakeNotifier) Notify(chatID int64, message string) {
	f.messages[chatID] = append(f.messages[chatID], message)
}

type fakeHeartbeatRestaurants struct {
	repositories.RestaurantRepository
	contacts map[int64][]*models.RestaurantPerson
}

func (f *fakeHeartbeatRestaurants) ListActivePeople(ctx context.Context, restaurantID int64) ([]*models.RestaurantPerson, error) {
	return f.contacts[restaurantID], nil
}

type fakeHeartbeatSuppliers struct {
	repositories.SupplierRepository
	byID map[int64]*models.Supplier
}

func (f *fakeHeartbeatSuppliers) GetByID(ctx context.Context, id int64) (*models.Supplier, error) {
	return f.byID[id], nil
}

type fakeHeartbeatCatalog struct {
	repositories.CatalogRepository
	byID map[int64]*models.CatalogProduct
}

func (f *fakeHeartbeatCatalog) GetByID(ctx context.Context, id int64) (*models.CatalogProduct, error) {
	return f.byID[id], nil
}

type fakeHeartbeatOrders struct {
	repositories.OrderRepository
	unconfirmed []*models.PurchaseOrder
	overdue     []*models.PurchaseOrder
	unrated     []*models.PurchaseOrder
	calls       int
}

func (f *fakeHeartbeatOrders) ListUnconfirmedOlderThan(ctx context.Context, age time.Duration) ([]*models.PurchaseOrder, error) {
	f.calls++
	return f.unconfirmed, nil
}

func (f *fakeHeartbeatOrders) ListOverdueDeliveries(ctx context.Context) ([]*models.PurchaseOrder, error) {
	f.calls++
	return f.overdue, nil
}

func (f *fakeHeartbeatOrders) ListDeliveredUnrated(ctx context.Context, window time.Duration) ([]*models.PurchaseOrder, error) {
	f.calls++
	return f.unrated, nil
}

type fakeHeartbeatPrices struct {
	repositories.PriceRecordRepository
	stale []*models.PriceRecord
}

func (f *fakeHeartbeatPrices) ListStale(ctx context.Context, maxAge time.Duration, limit int) ([]*models.PriceRecord, error) {
	return f.stale, nil
}

type fakeHeartbeatQueue struct {
	repositories.QueueRepository
	pending map[int64][]*models.PreferenceQueueItem
	sent    []int64
}

func (f *fakeHeartbeatQueue) RestaurantsWithPending(ctx context.Context) ([]int64, error) {
	ids := make([]int64, 0, len(f.pending))
	for id := range f.pending {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeHeartbeatQueue) NextPending(ctx context.Context, restaurantID int64, limit int) ([]*models.PreferenceQueueItem, error) {
	items := f.pending[restaurantID]
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (f *fakeHeartbeatQueue) MarkSent(ctx context.Context, id int64) error {
	f.sent = append(f.sent, id)
	return nil
}

type fakeHeartbeatSessions struct {
	repositories.SessionRepository
	expired int64
	calls   int
}

func (f *fakeHeartbeatSessions) ExpireStale(ctx context.Context, maxIdle time.Duration) (int64, error) {
	f.calls++
	return f.expired, nil
}

type fakeHeartbeatEngagement struct {
	EngagementService
	recalculated int
}

func (f *fakeHeartbeatEngagement) RecalculateAll(ctx context.Context) (int, error) {
	f.recalculated++
	return 3, nil
}

type heartbeatFakes struct {
	notifier    *fakeNotifier
	restaurants *fakeHeartbeatRestaurants
	suppliers   *fakeHeartbeatSuppliers
	catalog     *fakeHeartbeatCatalog
	orders      *fakeHeartbeatOrders
	prices      *fakeHeartbeatPrices
	queue       *fakeHeartbeatQueue
	sessions    *fakeHeartbeatSessions
	engagement  *fakeHeartbeatEngagement
}

func newTestHeartbeat(at time.Time) (*heartbeatService, *heartbeatFakes) {
	fakes := &heartbeatFakes{
		notifier:    newFakeNotifier(),
		restaurants: &fakeHeartbeatRestaurants{contacts: make(map[int64][]*models.RestaurantPerson)},
		suppliers:   &fakeHeartbeatSuppliers{byID: make(map[int64]*models.Supplier)},
		catalog:     &fakeHeartbeatCatalog{byID: make(map[int64]*models.CatalogProduct)},
		orders:      &fakeHeartbeatOrders{},
		prices:      &fakeHeartbeatPrices{},
		queue:       &fakeHeartbeatQueue{pending: make(map[int64][]*models.PreferenceQueueItem)},
		sessions:    &fakeHeartbeatSessions{},
		engagement:  &fakeHeartbeatEngagement{},
	}
	service := &heartbeatService{
		cfg:         config.HeartbeatConfig{Timezone: "UTC", PriceFreshnessDays: 30},
		location:    time.UTC,
		notifier:    fakes.notifier,
		restaurants: fakes.restaurants,
		suppliers:   fakes.suppliers,
		catalog:     fakes.catalog,
		orders:      fakes.orders,
		prices:      fakes.prices,
		queue:       fakes.queue,
		sessions:    fakes.sessions,
		engagement:  fakes.engagement,
		logger:      zap.NewNop(),
		now:         func() time.Time { return at },
	}
	return service, fakes
}

func contact(chatID string) *models.RestaurantPerson {
	return &models.RestaurantPerson{WhatsappNumber: &chatID, IsActive: true}
}

func TestCheckUnconfirmedOrders_BusinessHoursGate(t *testing.T) {
	service, fakes := newTestHeartbeat(time.Date(2026, 8, 29, 22, 0, 0, 0, time.UTC))
	fakes.orders.unconfirmed = []*models.PurchaseOrder{{ID: 1, RestaurantID: 7}}

	service.checkUnconfirmedOrders(context.Background())

	if fakes.orders.calls != 0 {
		t.Fatal("job must not query outside business hours")
	}
	if len(fakes.notifier.messages) != 0 {
		t.Fatal("no notifications expected outside business hours")
	}
}

func TestCheckUnconfirmedOrders_NotifiesContacts(t *testing.T) {
	service, fakes := newTestHeartbeat(time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC))

	supplierID := int64(3)
	fakes.orders.unconfirmed = []*models.PurchaseOrder{
		{ID: 101, RestaurantID: 7, SupplierID: &supplierID},
		{ID: 102, RestaurantID: 7, SupplierID: &supplierID},
	}
	fakes.suppliers.byID[3] = &models.Supplier{ID: 3, CompanyName: "Atacadão Boi Forte"}
	fakes.restaurants.contacts[7] = []*models.RestaurantPerson{contact("+5511999887766")}

	service.checkUnconfirmedOrders(context.Background())

	messages := fakes.notifier.messages[5511999887766]
	if len(messages) != 1 {
		t.Fatalf("expected 1 notification, got %v", fakes.notifier.messages)
	}
	if !strings.Contains(messages[0], "2 pedido(s)") {
		t.Errorf("order count missing: %q", messages[0])
	}
	if !strings.Contains(messages[0], "Pedido #101 — Atacadão Boi Forte") {
		t.Errorf("supplier line missing: %q", messages[0])
	}
}

func TestCheckStalePrices_GroupsByRestaurant(t *testing.T) {
	service, fakes := newTestHeartbeat(time.Date(2026, 8, 29, 8, 0, 0, 0, time.UTC))

	fakes.prices.stale = []*models.PriceRecord{
		{ID: 1, MasterListID: 10},
		{ID: 2, MasterListID: 20},
		{ID: 3, MasterListID: 10}, // duplicate product
	}
	fakes.catalog.byID[10] = &models.CatalogProduct{ID: 10, RestaurantID: 7, ProductName: "Picanha bovina"}
	fakes.catalog.byID[20] = &models.CatalogProduct{ID: 20, RestaurantID: 7, ProductName: "Arroz agulhinha"}
	fakes.restaurants.contacts[7] = []*models.RestaurantPerson{contact("100")}

	service.checkStalePrices(context.Background())

	messages := fakes.notifier.messages[100]
	if len(messages) != 1 {
		t.Fatalf("expected a single grouped alert, got %v", messages)
	}
	if !strings.Contains(messages[0], "2 produto(s)") {
		t.Errorf("deduplicated count missing: %q", messages[0])
	}
	if !strings.Contains(messages[0], "Picanha bovina") || !strings.Contains(messages[0], "Arroz agulhinha") {
		t.Errorf("product names missing: %q", messages[0])
	}
	if !strings.Contains(messages[0], "mais de 30 dias") {
		t.Errorf("freshness threshold missing: %q", messages[0])
	}
}

func TestSendDripReminders(t *testing.T) {
	service, fakes := newTestHeartbeat(time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC))

	fakes.queue.pending[7] = []*models.PreferenceQueueItem{{
		ID:           42,
		RestaurantID: 7,
		ProductName:  "Picanha",
	}}
	fakes.queue.pending[8] = []*models.PreferenceQueueItem{{
		ID:           43,
		RestaurantID: 8,
		ProductName:  "Alcatra",
	}}
	// Restaurant 8 has no reachable contact; its item must stay pending.
	fakes.restaurants.contacts[7] = []*models.RestaurantPerson{contact("100")}

	service.sendDripReminders(context.Background())

	messages := fakes.notifier.messages[100]
	if len(messages) != 1 {
		t.Fatalf("expected 1 drip message, got %v", fakes.notifier.messages)
	}
	if !strings.Contains(messages[0], "Picanha") || !strings.Contains(messages[0], "brand") {
		t.Errorf("drip question incomplete: %q", messages[0])
	}
	if len(fakes.queue.sent) != 1 || fakes.queue.sent[0] != 42 {
		t.Fatalf("only the delivered item may be marked sent: %v", fakes.queue.sent)
	}
}

func TestRequestDeliveryFeedback_CapsPerRestaurant(t *testing.T) {
	service, fakes := newTestHeartbeat(time.Date(2026, 8, 29, 17, 0, 0, 0, time.UTC))

	for i := int64(1); i <= 5; i++ {
		fakes.orders.unrated = append(fakes.orders.unrated, &models.PurchaseOrder{ID: i, RestaurantID: 7})
	}
	fakes.restaurants.contacts[7] = []*models.RestaurantPerson{contact("100")}

	service.requestDeliveryFeedback(context.Background())

	if got := len(fakes.notifier.messages[100]); got != 3 {
		t.Fatalf("feedback requests = %d, want 3", got)
	}
	for _, message := range fakes.notifier.messages[100] {
		if !strings.Contains(message, "Avalie de 1 a 5") {
			t.Errorf("rating scale missing: %q", message)
		}
	}
}

func TestRunMaintenance(t *testing.T) {
	service, fakes := newTestHeartbeat(time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC))
	fakes.sessions.expired = 2

	service.runMaintenance(context.Background())

	if fakes.sessions.calls != 1 {
		t.Fatal("stale sessions not expired")
	}
	if fakes.engagement.recalculated != 1 {
		t.Fatal("engagement profiles not recalculated")
	}
}

func TestParseChatID(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want int64
	}{
		{"5511999887766", 5511999887766},
		{"+5511999887766", 5511999887766},
	} {
		got, err := parseChatID(tc.in)
		if err != nil {
			t.Fatalf("parseChatID(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("parseChatID(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
	if _, err := parseChatID("not-a-number"); err == nil {
		t.Error("expected error for non-numeric chat id")
	}
}

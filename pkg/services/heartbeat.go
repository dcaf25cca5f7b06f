package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/edelae/frepi/pkg/config"
	"github.com/edelae/frepi/pkg/models"
	"github.com/edelae/frepi/pkg/repositories"
)

// jobTimeout bounds one heartbeat job run.
const jobTimeout = 2 * time.Minute

// staleSessionAge is how long an onboarding session may sit idle before the
// maintenance job expires it.
const staleSessionAge = 48 * time.Hour

// Notifier delivers a proactive message to one Telegram chat. Implemented by
// the telegram adapter; failures are the implementer's problem to log.
type Notifier interface {
	Notify(chatID int64, message string)
}

// HeartbeatService runs the scheduled proactive checks: stale price alerts,
// unconfirmed order reminders, overdue delivery alerts, delivery feedback
// requests, the weekly preference drip and nightly maintenance. Job errors
// are logged and swallowed; the next tick retries from scratch.
type HeartbeatService interface {
	// Start registers the cron jobs and starts the scheduler.
	Start() error

	// Stop stops the scheduler, waiting for running jobs.
	Stop()
}

type heartbeatService struct {
	cron     *cron.Cron
	cfg      config.HeartbeatConfig
	location *time.Location

	notifier    Notifier
	restaurants repositories.RestaurantRepository
	suppliers   repositories.SupplierRepository
	catalog     repositories.CatalogRepository
	orders      repositories.OrderRepository
	prices      repositories.PriceRecordRepository
	queue       repositories.QueueRepository
	sessions    repositories.SessionRepository
	engagement  EngagementService
	logger      *zap.Logger

	now func() time.Time
}

// NewHeartbeatService creates a new HeartbeatService.
func NewHeartbeatService(
	cfg config.HeartbeatConfig,
	notifier Notifier,
	restaurants repositories.RestaurantRepository,
	suppliers repositories.SupplierRepository,
	catalog repositories.CatalogRepository,
	orders repositories.OrderRepository,
	prices repositories.PriceRecordRepository,
	queue repositories.QueueRepository,
	sessions repositories.SessionRepository,
	engagement EngagementService,
	logger *zap.Logger,
) (HeartbeatService, error) {
	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load heartbeat timezone %q: %w", cfg.Timezone, err)
	}

	return &heartbeatService{
		cron:        cron.New(cron.WithLocation(location)),
		cfg:         cfg,
		location:    location,
		notifier:    notifier,
		restaurants: restaurants,
		suppliers:   suppliers,
		catalog:     catalog,
		orders:      orders,
		prices:      prices,
		queue:       queue,
		sessions:    sessions,
		engagement:  engagement,
		logger:      logger.Named("heartbeat"),
		now:         time.Now,
	}, nil
}

var _ HeartbeatService = (*heartbeatService)(nil)

func (s *heartbeatService) Start() error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context)
	}{
		{"stale-prices", "0 8 * * *", s.checkStalePrices},
		{"unconfirmed-orders", "0 */2 * * *", s.checkUnconfirmedOrders},
		{"overdue-deliveries", "0 */4 * * *", s.checkOverdueDeliveries},
		{"delivery-feedback", "0 17 * * *", s.requestDeliveryFeedback},
		{"preference-drip", "0 9 * * 1", s.sendDripReminders},
		{"maintenance", "0 3 * * *", s.runMaintenance},
	}

	for _, job := range jobs {
		job := job
		_, err := s.cron.AddFunc(job.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			job.run(ctx)
		})
		if err != nil {
			return fmt.Errorf("schedule %s job: %w", job.name, err)
		}
	}

	s.cron.Start()
	s.logger.Info("Heartbeat scheduler started",
		zap.Int("jobs", len(jobs)),
		zap.String("timezone", s.cfg.Timezone))
	return nil
}

func (s *heartbeatService) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Heartbeat scheduler stopped")
}

// ============================================================================
// Job 1: Stale Price Alerts
// ============================================================================

func (s *heartbeatService) checkStalePrices(ctx context.Context) {
	maxAge := time.Duration(s.cfg.PriceFreshnessDays) * 24 * time.Hour
	records, err := s.prices.ListStale(ctx, maxAge, 500)
	if err != nil {
		s.logger.Error("Stale price check failed", zap.Error(err))
		return
	}
	if len(records) == 0 {
		return
	}

	productsByRestaurant := make(map[int64]map[string]bool)
	for _, record := range records {
		product, err := s.catalog.GetByID(ctx, record.MasterListID)
		if err != nil {
			s.logger.Warn("Could not resolve stale price product",
				zap.Int64("master_list_id", record.MasterListID),
				zap.Error(err))
			continue
		}
		if product == nil {
			continue
		}
		names := productsByRestaurant[product.RestaurantID]
		if names == nil {
			names = make(map[string]bool)
			productsByRestaurant[product.RestaurantID] = names
		}
		names[product.ProductName] = true
	}

	alerted := 0
	for _, restaurantID := range sortedRestaurantIDs(productsByRestaurant) {
		names := make([]string, 0, len(productsByRestaurant[restaurantID]))
		for name := range productsByRestaurant[restaurantID] {
			names = append(names, name)
		}
		sort.Strings(names)

		shown := names
		if len(shown) > 10 {
			shown = shown[:10]
		}
		var b strings.Builder
		fmt.Fprintf(&b, "⚠️ *Alerta de Preços Desatualizados*\n\n%d produto(s) com preços há mais de %d dias:\n\n",
			len(names), s.cfg.PriceFreshnessDays)
		for _, name := range shown {
			fmt.Fprintf(&b, "  • %s\n", name)
		}
		if rest := len(names) - len(shown); rest > 0 {
			fmt.Fprintf(&b, "  ... e mais %d produtos\n", rest)
		}
		b.WriteString("\nDigite 2️⃣ para atualizar preços.")

		if s.notifyRestaurant(ctx, restaurantID, b.String()) {
			alerted++
		}
	}

	s.logger.Info("Stale price check complete", zap.Int("restaurants_alerted", alerted))
}

// ============================================================================
// Job 2: Unconfirmed Order Reminders
// ============================================================================

func (s *heartbeatService) checkUnconfirmedOrders(ctx context.Context) {
	if hour := s.now().In(s.location).Hour(); hour < 8 || hour > 20 {
		return
	}

	orders, err := s.orders.ListUnconfirmedOlderThan(ctx, 24*time.Hour)
	if err != nil {
		s.logger.Error("Unconfirmed order check failed", zap.Error(err))
		return
	}
	if len(orders) == 0 {
		return
	}

	notified := 0
	for restaurantID, group := range s.groupOrders(orders) {
		shown := group
		if len(shown) > 5 {
			shown = shown[:5]
		}
		var b strings.Builder
		fmt.Fprintf(&b, "🔔 *Pedidos Sem Confirmação*\n\n%d pedido(s) enviados há mais de 24h sem confirmação:\n\n",
			len(group))
		for _, order := range shown {
			fmt.Fprintf(&b, "  • Pedido #%d — %s\n", order.ID, s.supplierName(ctx, order.SupplierID))
		}
		if rest := len(group) - len(shown); rest > 0 {
			fmt.Fprintf(&b, "  ... e mais %d pedido(s)\n", rest)
		}
		b.WriteString("\nConsidere entrar em contato com o fornecedor.")

		if s.notifyRestaurant(ctx, restaurantID, b.String()) {
			notified++
		}
	}

	s.logger.Info("Unconfirmed order check complete", zap.Int("restaurants_notified", notified))
}

// ============================================================================
// Job 3: Overdue Delivery Alerts
// ============================================================================

func (s *heartbeatService) checkOverdueDeliveries(ctx context.Context) {
	if hour := s.now().In(s.location).Hour(); hour < 7 || hour > 21 {
		return
	}

	orders, err := s.orders.ListOverdueDeliveries(ctx)
	if err != nil {
		s.logger.Error("Overdue delivery check failed", zap.Error(err))
		return
	}
	if len(orders) == 0 {
		return
	}

	notified := 0
	for restaurantID, group := range s.groupOrders(orders) {
		shown := group
		if len(shown) > 5 {
			shown = shown[:5]
		}
		var b strings.Builder
		fmt.Fprintf(&b, "🚨 *Entregas Atrasadas*\n\n%d entrega(s) com data prevista já passada:\n\n", len(group))
		for _, order := range shown {
			name := s.supplierName(ctx, order.SupplierID)
			phone := s.supplierPhone(ctx, order.SupplierID)
			if phone != "" {
				fmt.Fprintf(&b, "  • Pedido #%d — %s (%s)\n", order.ID, name, phone)
			} else {
				fmt.Fprintf(&b, "  • Pedido #%d — %s\n", order.ID, name)
			}
		}
		b.WriteString("\nEntre em contato com os fornecedores para atualização.")

		if s.notifyRestaurant(ctx, restaurantID, b.String()) {
			notified++
		}
	}

	s.logger.Info("Overdue delivery check complete", zap.Int("restaurants_notified", notified))
}

// ============================================================================
// Job 4: Delivery Feedback Requests
// ============================================================================

func (s *heartbeatService) requestDeliveryFeedback(ctx context.Context) {
	orders, err := s.orders.ListDeliveredUnrated(ctx, 48*time.Hour)
	if err != nil {
		s.logger.Error("Delivery feedback check failed", zap.Error(err))
		return
	}
	if len(orders) == 0 {
		return
	}

	asked := 0
	for restaurantID, group := range s.groupOrders(orders) {
		// Max 3 feedback requests per restaurant per run.
		if len(group) > 3 {
			group = group[:3]
		}
		sent := false
		for _, order := range group {
			message := fmt.Sprintf(
				"⭐ *Avaliação de Entrega*\n\n"+
					"Como foi a entrega do pedido #%d (%s)?\n\n"+
					"Avalie de 1 a 5:\n"+
					"1️⃣ Péssima\n2️⃣ Ruim\n3️⃣ Regular\n4️⃣ Boa\n5️⃣ Excelente\n\n"+
					"Responda com o número e um comentário opcional.",
				order.ID, s.supplierName(ctx, order.SupplierID))
			if s.notifyRestaurant(ctx, restaurantID, message) {
				sent = true
			}
		}
		if sent {
			asked++
		}
	}

	s.logger.Info("Delivery feedback requests complete", zap.Int("restaurants_asked", asked))
}

// ============================================================================
// Job 5: Weekly Preference Drip
// ============================================================================

func (s *heartbeatService) sendDripReminders(ctx context.Context) {
	restaurantIDs, err := s.queue.RestaurantsWithPending(ctx)
	if err != nil {
		s.logger.Error("Preference drip check failed", zap.Error(err))
		return
	}

	asked := 0
	for _, restaurantID := range restaurantIDs {
		items, err := s.queue.NextPending(ctx, restaurantID, 1)
		if err != nil {
			s.logger.Warn("Could not fetch pending preference",
				zap.Int64("restaurant_id", restaurantID),
				zap.Error(err))
			continue
		}
		if len(items) == 0 {
			continue
		}
		item := items[0]

		prefType := item.NextPendingPreference()
		message := fmt.Sprintf(
			"💡 *Preferência: %s*\n\n"+
				"Gostaríamos de saber sua preferência de *%s* para *%s*.\n\n"+
				"Responda livremente — ex: marca, qualidade, faixa de preço.",
			item.ProductName, prefType, item.ProductName)

		if !s.notifyRestaurant(ctx, restaurantID, message) {
			continue
		}
		if err := s.queue.MarkSent(ctx, item.ID); err != nil {
			s.logger.Warn("Could not mark drip question sent",
				zap.Int64("queue_item", item.ID),
				zap.Error(err))
			continue
		}
		asked++
	}

	s.logger.Info("Preference drip complete", zap.Int("restaurants_asked", asked))
}

// ============================================================================
// Job 6: Nightly Maintenance
// ============================================================================

func (s *heartbeatService) runMaintenance(ctx context.Context) {
	expired, err := s.sessions.ExpireStale(ctx, staleSessionAge)
	if err != nil {
		s.logger.Error("Session expiry failed", zap.Error(err))
	} else if expired > 0 {
		s.logger.Info("Expired stale onboarding sessions", zap.Int64("count", expired))
	}

	recalculated, err := s.engagement.RecalculateAll(ctx)
	if err != nil {
		s.logger.Error("Engagement recalculation failed", zap.Error(err))
		return
	}
	s.logger.Info("Engagement profiles recalculated", zap.Int("count", recalculated))
}

// ============================================================================
// Helpers
// ============================================================================

// notifyRestaurant sends the message to every active contact of the
// restaurant. Returns true if at least one contact received it.
func (s *heartbeatService) notifyRestaurant(ctx context.Context, restaurantID int64, message string) bool {
	people, err := s.restaurants.ListActivePeople(ctx, restaurantID)
	if err != nil {
		s.logger.Warn("Could not list restaurant contacts",
			zap.Int64("restaurant_id", restaurantID),
			zap.Error(err))
		return false
	}

	sent := false
	for _, person := range people {
		if person.WhatsappNumber == nil {
			continue
		}
		chatID, err := parseChatID(*person.WhatsappNumber)
		if err != nil {
			continue
		}
		s.notifier.Notify(chatID, message)
		sent = true
	}
	return sent
}

// parseChatID converts a stored whatsapp_number to a Telegram chat id,
// tolerating the "+" prefix migrated numbers carry.
func parseChatID(number string) (int64, error) {
	return strconv.ParseInt(strings.TrimPrefix(number, "+"), 10, 64)
}

func (s *heartbeatService) groupOrders(orders []*models.PurchaseOrder) map[int64][]*models.PurchaseOrder {
	grouped := make(map[int64][]*models.PurchaseOrder)
	for _, order := range orders {
		grouped[order.RestaurantID] = append(grouped[order.RestaurantID], order)
	}
	return grouped
}

func (s *heartbeatService) supplierName(ctx context.Context, supplierID *int64) string {
	if supplierID == nil {
		return "Fornecedor"
	}
	supplier, err := s.suppliers.GetByID(ctx, *supplierID)
	if err != nil || supplier == nil {
		return "Fornecedor"
	}
	return supplier.CompanyName
}

func (s *heartbeatService) supplierPhone(ctx context.Context, supplierID *int64) string {
	if supplierID == nil {
		return ""
	}
	supplier, err := s.suppliers.GetByID(ctx, *supplierID)
	if err != nil || supplier == nil || supplier.ContactPhone == nil {
		return ""
	}
	return *supplier.ContactPhone
}

func sortedRestaurantIDs(m map[int64]map[string]bool) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edelae/frepi/pkg/apperrors"
	"github.com/edelae/frepi/pkg/models"
	"github.com/edelae/frepi/pkg/repositories"
)

// Partial fakes: embedding the interface satisfies the method set, tests
// override only what the step under test touches.

type fakeSupplierRepo struct {
	repositories.SupplierRepository
	nextID  int64
	created []string
	links   map[int64]bool
}

func (f *fakeSupplierRepo) Create(_ context.Context, s *models.Supplier) error {
	f.nextID++
	s.ID = f.nextID
	f.created = append(f.created, s.CompanyName)
	return nil
}

func (f *fakeSupplierRepo) LinkRestaurant(_ context.Context, _, supplierID int64) error {
	if f.links == nil {
		f.links = make(map[int64]bool)
	}
	f.links[supplierID] = true
	return nil
}

type fakeStagedSupplierRepo struct {
	repositories.StagedSupplierRepository
	committed map[uuid.UUID]int64
}

func (f *fakeStagedSupplierRepo) SetCommittedID(_ context.Context, id uuid.UUID, supplierID int64) error {
	if f.committed == nil {
		f.committed = make(map[uuid.UUID]int64)
	}
	f.committed[id] = supplierID
	return nil
}

type fakeQueueRepo struct {
	repositories.QueueRepository
	items []*models.PreferenceQueueItem
}

func (f *fakeQueueRepo) CreateBatch(_ context.Context, items []*models.PreferenceQueueItem) error {
	// Pairs already queued are skipped, like the conflict clause in the
	// real insert.
	for _, item := range items {
		dup := false
		for _, existing := range f.items {
			if existing.RestaurantID == item.RestaurantID && existing.MasterListID == item.MasterListID {
				dup = true
				break
			}
		}
		if !dup {
			f.items = append(f.items, item)
		}
	}
	return nil
}

type fakeEngagementRepo struct {
	repositories.EngagementRepository
	profile *models.EngagementProfile
}

func (f *fakeEngagementRepo) Upsert(_ context.Context, profile *models.EngagementProfile) error {
	f.profile = profile
	return nil
}

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }

func TestCommitSuppliers(t *testing.T) {
	suppliers := &fakeSupplierRepo{}
	stagedRepo := &fakeStagedSupplierRepo{}
	s := &commitService{
		suppliers:      suppliers,
		stagedSupplier: stagedRepo,
		logger:         zap.NewNop(),
	}

	matched := &models.StagedSupplier{
		ID:                uuid.New(),
		CompanyName:       "Marfrig Alimentos",
		MatchedSupplierID: int64Ptr(99),
	}
	fresh := &models.StagedSupplier{
		ID:          uuid.New(),
		CompanyName: "Hortifruti Central",
	}
	retried := &models.StagedSupplier{
		ID:                  uuid.New(),
		CompanyName:         "Distribuidora Sul",
		CommittedSupplierID: int64Ptr(7),
	}

	ids, err := s.commitSuppliers(context.Background(),
		42, []*models.StagedSupplier{matched, fresh, retried})
	if err != nil {
		t.Fatalf("commitSuppliers: %v", err)
	}

	// Only the unmatched, uncommitted supplier gets a new row.
	if len(suppliers.created) != 1 || suppliers.created[0] != "Hortifruti Central" {
		t.Errorf("created suppliers = %v, want only Hortifruti Central", suppliers.created)
	}
	if ids[matched.ID] != 99 {
		t.Errorf("matched supplier id = %d, want 99", ids[matched.ID])
	}
	if ids[retried.ID] != 7 {
		t.Errorf("retried supplier id = %d, want 7", ids[retried.ID])
	}
	if ids[fresh.ID] != 1 {
		t.Errorf("fresh supplier id = %d, want 1", ids[fresh.ID])
	}

	// The retried supplier already carries its committed id, so the staging
	// row is not rewritten.
	if _, rewritten := stagedRepo.committed[retried.ID]; rewritten {
		t.Error("retried supplier should not be re-stamped")
	}
	if stagedRepo.committed[matched.ID] != 99 {
		t.Errorf("matched supplier stamp = %d, want 99", stagedRepo.committed[matched.ID])
	}
	if stagedRepo.committed[fresh.ID] != 1 {
		t.Errorf("fresh supplier stamp = %d, want 1", stagedRepo.committed[fresh.ID])
	}

	// Every supplier, new or reused, is linked to the restaurant.
	for _, id := range []int64{99, 7, 1} {
		if !suppliers.links[id] {
			t.Errorf("supplier %d not linked to restaurant", id)
		}
	}
}

func TestPopulateQueue(t *testing.T) {
	queue := &fakeQueueRepo{}
	s := &commitService{queue: queue, logger: zap.NewNop()}

	picanha := &models.StagedProduct{
		ID:                      uuid.New(),
		ProductName:             "Picanha Bovina",
		InferredImportanceScore: 0.9,
		ImportanceTier:          models.TierHead,
		TotalSpend:              430,
		SpendSharePercentage:    74.8,
	}
	arroz := &models.StagedProduct{
		ID:                      uuid.New(),
		ProductName:             "Arroz Branco",
		InferredImportanceScore: 0.4,
		ImportanceTier:          models.TierMidTail,
	}
	unmapped := &models.StagedProduct{
		ID:                      uuid.New(),
		ProductName:             "Produto Sem Commit",
		InferredImportanceScore: 0.7,
	}

	productIDs := map[uuid.UUID]int64{
		arroz.ID:   11,
		picanha.ID: 10,
	}

	err := s.populateQueue(context.Background(), 42,
		[]*models.StagedProduct{arroz, unmapped, picanha}, productIDs)
	if err != nil {
		t.Fatalf("populateQueue: %v", err)
	}

	if len(queue.items) != 2 {
		t.Fatalf("queued items = %d, want 2 (unmapped product skipped)", len(queue.items))
	}

	first, second := queue.items[0], queue.items[1]
	if first.ProductName != "Picanha Bovina" || first.QueuePosition != 1 {
		t.Errorf("first item = %s at %d, want Picanha Bovina at 1", first.ProductName, first.QueuePosition)
	}
	if second.ProductName != "Arroz Branco" || second.QueuePosition != 2 {
		t.Errorf("second item = %s at %d, want Arroz Branco at 2", second.ProductName, second.QueuePosition)
	}
	if first.MasterListID != 10 || second.MasterListID != 11 {
		t.Errorf("master list ids = %d, %d, want 10, 11", first.MasterListID, second.MasterListID)
	}
	if first.Status != models.DripStatusPending {
		t.Errorf("status = %v, want pending", first.Status)
	}
	if first.ImportanceTier != models.TierHead {
		t.Errorf("tier = %v, want head", first.ImportanceTier)
	}
}

func TestCreateEngagementProfile(t *testing.T) {
	tests := []struct {
		name      string
		choice    *int
		wantDepth int
		wantScore float64
		wantLevel models.EngagementLevel
	}{
		{"full configuration", intPtr(2), 10, 0.15, models.EngagementLow},
		{"quick configuration", intPtr(1), 5, 0.08, models.EngagementDormant},
		{"skipped", intPtr(3), 0, 0.0, models.EngagementDormant},
		{"no choice recorded", nil, 0, 0.0, models.EngagementDormant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engagement := &fakeEngagementRepo{}
			s := &commitService{engagement: engagement, logger: zap.NewNop()}
			session := &models.OnboardingSession{EngagementChoice: tt.choice}

			if err := s.createEngagementProfile(context.Background(), 42, session); err != nil {
				t.Fatalf("createEngagementProfile: %v", err)
			}

			p := engagement.profile
			if p == nil {
				t.Fatal("no profile written")
			}
			if p.OnboardingDepth != tt.wantDepth {
				t.Errorf("depth = %d, want %d", p.OnboardingDepth, tt.wantDepth)
			}
			if p.EngagementScore != tt.wantScore {
				t.Errorf("score = %v, want %v", p.EngagementScore, tt.wantScore)
			}
			if p.EngagementLevel != tt.wantLevel {
				t.Errorf("level = %v, want %v", p.EngagementLevel, tt.wantLevel)
			}
		})
	}
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		in               string
		first, last      string
	}{
		{"Maria Silva Santos", "Maria", "Silva Santos"},
		{"João", "João", ""},
		{"  Ana Costa ", "Ana", "Costa"},
	}
	for _, tt := range tests {
		first, last := splitName(tt.in)
		if first != tt.first || last != tt.last {
			t.Errorf("splitName(%q) = %q, %q, want %q, %q", tt.in, first, last, tt.first, tt.last)
		}
	}
}

func TestAnnotatePreference(t *testing.T) {
	inferred := &models.StagedPreference{
		PreferenceValue: map[string]any{"brand": "Friboi"},
		Source:          models.SourceInferred,
	}
	doc := annotatePreference(inferred, 7, "2026-08-29T12:00:00Z")

	if doc["brand"] != "Friboi" {
		t.Errorf("value not carried over: %v", doc)
	}
	if doc["_source"] != "inferred" {
		t.Errorf("_source = %v, want inferred", doc["_source"])
	}
	if doc["_added_by"] != int64(7) {
		t.Errorf("_added_by = %v, want 7", doc["_added_by"])
	}

	stated := &models.StagedPreference{
		PreferenceValue: map[string]any{"max_price": 52.8},
		Source:          models.SourceUserStated,
	}
	doc = annotatePreference(stated, 7, "2026-08-29T12:00:00Z")
	if doc["_source"] != "onboarding" {
		t.Errorf("_source = %v, want onboarding", doc["_source"])
	}

	// The staged value itself is untouched.
	if _, leaked := inferred.PreferenceValue["_source"]; leaked {
		t.Error("annotation leaked into the staged preference value")
	}
}

// ============================================================================
// Full-run resume
// ============================================================================

type fakeResumeStaging struct {
	StagingService
	session   *models.OnboardingSession
	suppliers []*models.StagedSupplier
	products  []*models.StagedProduct
}

func (f *fakeResumeStaging) GetSession(_ context.Context, _ uuid.UUID) (*models.OnboardingSession, error) {
	return f.session, nil
}

func (f *fakeResumeStaging) GetStagedSuppliers(_ context.Context, _ uuid.UUID) ([]*models.StagedSupplier, error) {
	return f.suppliers, nil
}

func (f *fakeResumeStaging) GetStagedProducts(_ context.Context, _ uuid.UUID) ([]*models.StagedProduct, error) {
	return f.products, nil
}

func (f *fakeResumeStaging) GetStagedPreferences(_ context.Context, _ uuid.UUID) ([]*models.StagedPreference, error) {
	return nil, nil
}

type fakeResumeSessions struct {
	repositories.SessionRepository
	session *models.OnboardingSession
	marked  int
}

func (f *fakeResumeSessions) MarkCommitted(_ context.Context, _ uuid.UUID, restaurantID, personID int64) error {
	f.marked++
	f.session.Status = models.SessionStatusCommitted
	f.session.CommittedRestaurantID = &restaurantID
	f.session.CommittedPersonID = &personID
	return nil
}

type fakeResumeStagedSuppliers struct {
	repositories.StagedSupplierRepository
	rows []*models.StagedSupplier
}

func (f *fakeResumeStagedSuppliers) SetCommittedID(_ context.Context, id uuid.UUID, supplierID int64) error {
	for _, row := range f.rows {
		if row.ID == id {
			row.CommittedSupplierID = &supplierID
		}
	}
	return nil
}

type fakeResumeStagedProducts struct {
	repositories.StagedProductRepository
	rows []*models.StagedProduct
}

func (f *fakeResumeStagedProducts) SetCommittedID(_ context.Context, id uuid.UUID, masterListID int64) error {
	for _, row := range f.rows {
		if row.ID == id {
			row.CommittedMasterListID = &masterListID
		}
	}
	return nil
}

type fakeResumeStagedPrices struct {
	repositories.StagedPriceRepository
	rows []*models.StagedPrice
}

func (f *fakeResumeStagedPrices) ListBySession(_ context.Context, _ uuid.UUID) ([]*models.StagedPrice, error) {
	return f.rows, nil
}

type fakeRestaurantRepo struct {
	repositories.RestaurantRepository
	restaurants []*models.Restaurant
	people      []*models.RestaurantPerson
}

func (f *fakeRestaurantRepo) GetByNameAndCity(_ context.Context, name string, _ *string) (*models.Restaurant, error) {
	for _, r := range f.restaurants {
		if r.RestaurantName == name {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeRestaurantRepo) Create(_ context.Context, restaurant *models.Restaurant) error {
	restaurant.ID = int64(len(f.restaurants) + 1)
	f.restaurants = append(f.restaurants, restaurant)
	return nil
}

func (f *fakeRestaurantRepo) MarkOnboarded(_ context.Context, _ int64, _ string) error {
	return nil
}

func (f *fakeRestaurantRepo) GetPersonByWhatsapp(_ context.Context, whatsapp string) (*models.RestaurantPerson, error) {
	for _, p := range f.people {
		if p.WhatsappNumber != nil && *p.WhatsappNumber == whatsapp {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeRestaurantRepo) CreatePerson(_ context.Context, person *models.RestaurantPerson) error {
	person.ID = int64(len(f.people) + 1)
	f.people = append(f.people, person)
	return nil
}

type fakeCatalogRepo struct {
	repositories.CatalogRepository
	products []*models.CatalogProduct
}

func (f *fakeCatalogRepo) GetByNameExact(_ context.Context, restaurantID int64, name string) (*models.CatalogProduct, error) {
	for _, p := range f.products {
		if p.RestaurantID == restaurantID && p.ProductName == name {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeCatalogRepo) Create(_ context.Context, product *models.CatalogProduct) error {
	product.ID = int64(len(f.products) + 10)
	f.products = append(f.products, product)
	return nil
}

type fakeMappingRepo struct {
	repositories.MappingRepository
	failuresLeft int
	mappings     []*models.SupplierMappedProduct
}

func (f *fakeMappingRepo) Upsert(_ context.Context, mapping *models.SupplierMappedProduct) error {
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return errors.New("deadlock detected")
	}
	for _, m := range f.mappings {
		if m.SupplierID == mapping.SupplierID && m.MasterListID == mapping.MasterListID {
			return nil
		}
	}
	mapping.ID = int64(len(f.mappings) + 1)
	f.mappings = append(f.mappings, mapping)
	return nil
}

func (f *fakeMappingRepo) Get(_ context.Context, supplierID, masterListID int64) (*models.SupplierMappedProduct, error) {
	for _, m := range f.mappings {
		if m.SupplierID == supplierID && m.MasterListID == masterListID {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeMappingRepo) UpdatePrice(_ context.Context, _ int64, _ float64) error {
	return nil
}

type fakePriceRecordRepo struct {
	repositories.PriceRecordRepository
	records []*models.PriceRecord
}

func (f *fakePriceRecordRepo) ExistsForDate(_ context.Context, supplierID, masterListID int64, date time.Time) (bool, error) {
	for _, r := range f.records {
		if r.SupplierID == supplierID && r.MasterListID == masterListID && r.EffectiveDate.Equal(date) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePriceRecordRepo) Record(_ context.Context, record *models.PriceRecord) error {
	f.records = append(f.records, record)
	return nil
}

// TestCommitOnboarding_ResumesAfterFailure drives the whole commit twice:
// the first run dies at the supplier-mapping step, the second finishes.
// Nothing committed by the first run may be duplicated by the second.
func TestCommitOnboarding_ResumesAfterFailure(t *testing.T) {
	sessionID := uuid.New()
	session := &models.OnboardingSession{
		ID:               sessionID,
		TelegramChatID:   5511999887766,
		Status:           models.SessionStatusInProgress,
		RestaurantName:   strPtr("Churrascaria Fogo Alto"),
		City:             strPtr("São Paulo"),
		EngagementChoice: intPtr(1),
	}

	supplier := &models.StagedSupplier{ID: uuid.New(), CompanyName: "Marfrig Alimentos"}
	product := &models.StagedProduct{
		ID:                      uuid.New(),
		SessionID:               sessionID,
		ProductName:             "Picanha Bovina",
		StagingSupplierID:       &supplier.ID,
		ExtractionConfidence:    0.9,
		EmbeddingGenerated:      true,
		AvgUnitPrice:            floatPtr(45.90),
		InferredImportanceScore: 0.9,
		ImportanceTier:          models.TierHead,
	}
	invoiceDate := time.Date(2026, 8, 12, 0, 0, 0, 0, time.UTC)
	price := &models.StagedPrice{
		SessionID:         sessionID,
		StagingProductID:  product.ID,
		StagingSupplierID: &supplier.ID,
		UnitPrice:         45.90,
		Currency:          "BRL",
		InvoiceDate:       &invoiceDate,
	}

	sessions := &fakeResumeSessions{session: session}
	suppliers := &fakeSupplierRepo{}
	restaurants := &fakeRestaurantRepo{}
	catalog := &fakeCatalogRepo{}
	mappings := &fakeMappingRepo{failuresLeft: 1}
	priceRecords := &fakePriceRecordRepo{}
	queue := &fakeQueueRepo{}
	s := &commitService{
		staging: &fakeResumeStaging{
			session:   session,
			suppliers: []*models.StagedSupplier{supplier},
			products:  []*models.StagedProduct{product},
		},
		sessions:       sessions,
		stagedSupplier: &fakeResumeStagedSuppliers{rows: []*models.StagedSupplier{supplier}},
		stagedProduct:  &fakeResumeStagedProducts{rows: []*models.StagedProduct{product}},
		stagedPrice:    &fakeResumeStagedPrices{rows: []*models.StagedPrice{price}},
		restaurants:    restaurants,
		suppliers:      suppliers,
		catalog:        catalog,
		mappings:       mappings,
		priceRecords:   priceRecords,
		queue:          queue,
		engagement:     &fakeEngagementRepo{},
		logger:         zap.NewNop(),
	}
	ctx := context.Background()

	// First run fails at the supplier-mapping step.
	result, err := s.CommitOnboarding(ctx, sessionID, session.TelegramChatID)
	if err != nil {
		t.Fatalf("first CommitOnboarding: %v", err)
	}
	if result.Success {
		t.Fatal("first run should fail at the mapping step")
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "commit supplier mappings") {
		t.Fatalf("errors = %v, want the mapping step failure", result.Errors)
	}
	if sessions.marked != 0 || session.Status != models.SessionStatusInProgress {
		t.Fatal("failed run must leave the session uncommitted")
	}
	// Steps before the failure landed and got stamped onto the staging rows.
	if supplier.CommittedSupplierID == nil || product.CommittedMasterListID == nil {
		t.Fatal("first run should stamp committed ids for completed steps")
	}

	// Second run resumes and completes.
	result, err = s.CommitOnboarding(ctx, sessionID, session.TelegramChatID)
	if err != nil {
		t.Fatalf("second CommitOnboarding: %v", err)
	}
	if !result.Success || len(result.Errors) != 0 {
		t.Fatalf("second run should succeed, got %+v", result)
	}

	if len(restaurants.restaurants) != 1 {
		t.Errorf("restaurants created = %d, want 1", len(restaurants.restaurants))
	}
	if len(restaurants.people) != 1 {
		t.Errorf("people created = %d, want 1", len(restaurants.people))
	}
	if len(suppliers.created) != 1 {
		t.Errorf("suppliers created = %v, want one row", suppliers.created)
	}
	if len(catalog.products) != 1 {
		t.Errorf("catalog products created = %d, want 1", len(catalog.products))
	}
	if len(mappings.mappings) != 1 {
		t.Errorf("mappings created = %d, want 1", len(mappings.mappings))
	}
	if len(priceRecords.records) != 1 {
		t.Errorf("price records created = %d, want 1", len(priceRecords.records))
	}
	if len(queue.items) != 1 {
		t.Errorf("queue items created = %d, want 1", len(queue.items))
	}
	if sessions.marked != 1 || session.Status != models.SessionStatusCommitted {
		t.Error("second run must finalize the session")
	}

	// A third run is refused outright.
	if _, err := s.CommitOnboarding(ctx, sessionID, session.TelegramChatID); !errors.Is(err, apperrors.ErrSessionCommitted) {
		t.Errorf("third run error = %v, want ErrSessionCommitted", err)
	}
}

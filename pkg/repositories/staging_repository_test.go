//go:build integration

package repositories

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/edelae/frepi/pkg/models"
	"github.com/edelae/frepi/pkg/testhelpers"
)

// stagingTestContext holds test dependencies for the staging repositories.
type stagingTestContext struct {
	t         *testing.T
	testDB    *testhelpers.TestDB
	sessions  SessionRepository
	suppliers StagedSupplierRepository
	products  StagedProductRepository
	prices    StagedPriceRepository
	sessionID uuid.UUID
}

func setupStagingTest(t *testing.T, chatID int64) *stagingTestContext {
	testDB := testhelpers.GetTestDB(t)
	tc := &stagingTestContext{
		t:         t,
		testDB:    testDB,
		sessions:  NewSessionRepository(testDB.DB),
		suppliers: NewStagedSupplierRepository(testDB.DB),
		products:  NewStagedProductRepository(testDB.DB),
		prices:    NewStagedPriceRepository(testDB.DB),
	}

	session := &models.OnboardingSession{TelegramChatID: chatID}
	if err := tc.sessions.Create(context.Background(), session); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	tc.sessionID = session.ID
	return tc
}

func TestStagedSupplierRepository_CreateDedup(t *testing.T) {
	tc := setupStagingTest(t, 200001)
	ctx := context.Background()

	first, err := tc.suppliers.Create(ctx, &models.StagedSupplier{
		SessionID:            tc.sessionID,
		CompanyName:          "Marfrig Alimentos",
		Source:               models.SourceInvoiceExtraction,
		ExtractionConfidence: 0.85,
	})
	if err != nil {
		t.Fatalf("first Create failed: %v", err)
	}

	// Same name in the same session must hand back the existing row.
	second, err := tc.suppliers.Create(ctx, &models.StagedSupplier{
		SessionID:   tc.sessionID,
		CompanyName: "Marfrig Alimentos",
		Source:      models.SourceInvoiceExtraction,
	})
	if err != nil {
		t.Fatalf("second Create failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected dedup to return existing id %s, got %s", first.ID, second.ID)
	}

	count, err := tc.suppliers.CountBySession(ctx, tc.sessionID)
	if err != nil {
		t.Fatalf("CountBySession failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 staged supplier, got %d", count)
	}
}

func TestStagedProductRepository_AnalysisRoundTrip(t *testing.T) {
	tc := setupStagingTest(t, 200002)
	ctx := context.Background()

	product := &models.StagedProduct{
		SessionID:            tc.sessionID,
		ProductName:          "Picanha Bovina",
		Source:               models.SourceInvoiceExtraction,
		ExtractionConfidence: 0.85,
	}
	if err := tc.products.Create(ctx, product); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	product.PurchaseFrequency = 3
	product.TotalQuantityPurchased = 30
	product.TotalSpend = 1290.0
	avg := 43.0
	product.AvgUnitPrice = &avg
	product.SpendSharePercentage = 74.8
	product.InferredImportanceScore = 0.82
	product.InferredCategory = models.CategoryProteinas
	product.ImportanceTier = models.TierHead

	if err := tc.products.UpdateAnalysisBatch(ctx, []*models.StagedProduct{product}); err != nil {
		t.Fatalf("UpdateAnalysisBatch failed: %v", err)
	}

	got, err := tc.products.GetByID(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.TotalSpend != 1290.0 {
		t.Errorf("expected total spend 1290.0, got %f", got.TotalSpend)
	}
	if got.InferredCategory != models.CategoryProteinas {
		t.Errorf("expected category proteinas, got %s", got.InferredCategory)
	}
	if got.ImportanceTier != models.TierHead {
		t.Errorf("expected tier head, got %s", got.ImportanceTier)
	}
	if got.AvgUnitPrice == nil || *got.AvgUnitPrice != 43.0 {
		t.Error("avg unit price not round-tripped")
	}
}

func TestStagedProductRepository_FindByNameContains(t *testing.T) {
	tc := setupStagingTest(t, 200003)
	ctx := context.Background()

	for _, name := range []string{"Picanha Bovina", "Fraldinha", "Tomate Italiano"} {
		err := tc.products.Create(ctx, &models.StagedProduct{
			SessionID:   tc.sessionID,
			ProductName: name,
			Source:      models.SourceManualEntry,
		})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	got, err := tc.products.FindByNameContains(ctx, tc.sessionID, "picanha")
	if err != nil {
		t.Fatalf("FindByNameContains failed: %v", err)
	}
	if got == nil || got.ProductName != "Picanha Bovina" {
		t.Fatalf("expected Picanha Bovina, got %+v", got)
	}

	missing, err := tc.products.FindByNameContains(ctx, tc.sessionID, "alcatra")
	if err != nil {
		t.Fatalf("FindByNameContains failed: %v", err)
	}
	if missing != nil {
		t.Error("expected no match for alcatra")
	}
}

func TestStagedPriceRepository_BatchAndHistory(t *testing.T) {
	tc := setupStagingTest(t, 200004)
	ctx := context.Background()

	product := &models.StagedProduct{
		SessionID:   tc.sessionID,
		ProductName: "Fraldinha",
		Source:      models.SourceInvoiceExtraction,
	}
	if err := tc.products.Create(ctx, product); err != nil {
		t.Fatalf("Create product failed: %v", err)
	}

	qty := 8.0
	total := 145.0
	prices := []*models.StagedPrice{
		{
			SessionID:        tc.sessionID,
			StagingProductID: product.ID,
			UnitPrice:        18.125,
			QuantityPurchased: &qty,
			TotalLineAmount:   &total,
			Source:            models.SourceInvoiceExtraction,
		},
		{
			SessionID:        tc.sessionID,
			StagingProductID: product.ID,
			UnitPrice:        19.5,
			Source:           models.SourceInvoiceExtraction,
		},
	}
	if err := tc.prices.CreateBatch(ctx, prices); err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}

	history, err := tc.prices.ListByProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("ListByProduct failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 price rows, got %d", len(history))
	}
	for _, p := range history {
		if p.Currency != "BRL" {
			t.Errorf("expected default currency BRL, got %s", p.Currency)
		}
	}

	count, err := tc.prices.CountBySession(ctx, tc.sessionID)
	if err != nil {
		t.Fatalf("CountBySession failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 prices in session, got %d", count)
	}
}

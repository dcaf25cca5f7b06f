package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edelae/frepi/pkg/llm"
	"github.com/edelae/frepi/pkg/models"
	"github.com/edelae/frepi/pkg/repositories"
)

type fakeAgentStaging struct {
	StagingService
	session        *models.OnboardingSession
	basicInfoName  string
	basicInfoCity  string
	phases         []models.SessionPhase
	suppliers      []*models.StagedSupplier
	products       []*models.StagedProduct
	prices         []*models.StagedPrice
	preferences    []*models.StagedPreference
	photos         []*models.InvoicePhoto
	existing       []*models.StagedProduct
	choiceRecorded int
}

func (f *fakeAgentStaging) GetOrCreateSession(ctx context.Context, chatID int64) (*models.OnboardingSession, error) {
	if f.session == nil {
		f.session = &models.OnboardingSession{ID: uuid.New(), TelegramChatID: chatID}
	}
	return f.session, nil
}

func (f *fakeAgentStaging) SaveRestaurantBasicInfo(ctx context.Context, sessionID uuid.UUID, name, city string) error {
	f.basicInfoName = name
	f.basicInfoCity = city
	return nil
}

func (f *fakeAgentStaging) StageSupplier(ctx context.Context, supplier *models.StagedSupplier) (*models.StagedSupplier, error) {
	supplier.ID = uuid.New()
	f.suppliers = append(f.suppliers, supplier)
	return supplier, nil
}

func (f *fakeAgentStaging) StageProduct(ctx context.Context, product *models.StagedProduct) (*models.StagedProduct, error) {
	product.ID = uuid.New()
	f.products = append(f.products, product)
	return product, nil
}

func (f *fakeAgentStaging) StagePrice(ctx context.Context, price *models.StagedPrice) error {
	f.prices = append(f.prices, price)
	return nil
}

func (f *fakeAgentStaging) StagePreference(ctx context.Context, pref *models.StagedPreference) error {
	f.preferences = append(f.preferences, pref)
	return nil
}

func (f *fakeAgentStaging) GetStagedProducts(ctx context.Context, sessionID uuid.UUID) ([]*models.StagedProduct, error) {
	return f.existing, nil
}

func (f *fakeAgentStaging) FindStagedProduct(ctx context.Context, sessionID uuid.UUID, fragment string) (*models.StagedProduct, error) {
	for _, p := range f.existing {
		if strings.Contains(strings.ToLower(p.ProductName), strings.ToLower(fragment)) {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeAgentStaging) UpdateSessionPhase(ctx context.Context, sessionID uuid.UUID, phase models.SessionPhase) error {
	f.phases = append(f.phases, phase)
	return nil
}

func (f *fakeAgentStaging) SavePhotoMetadata(ctx context.Context, photo *models.InvoicePhoto) error {
	photo.ID = uuid.New()
	f.photos = append(f.photos, photo)
	return nil
}

func (f *fakeAgentStaging) UpdatePhotoParsingResult(ctx context.Context, photoID uuid.UUID, invoice *llm.ParsedInvoice, parseErr error) error {
	return nil
}

func (f *fakeAgentStaging) RecordEngagementChoice(ctx context.Context, sessionID uuid.UUID, choice int) error {
	f.choiceRecorded = choice
	return nil
}

func (f *fakeAgentStaging) RefreshStagedCounts(ctx context.Context, sessionID uuid.UUID) error {
	return nil
}

type fakeAgentSessions struct {
	repositories.SessionRepository
	prefsConfigured int
}

func (f *fakeAgentSessions) IncrementPreferencesConfigured(ctx context.Context, id uuid.UUID) error {
	f.prefsConfigured++
	return nil
}

type fakeAgentPrefs struct {
	repositories.StagedPreferenceRepository
	pref     *models.StagedPreference
	feedback *models.PreferenceFeedback
	newValue map[string]any
}

func (f *fakeAgentPrefs) FindByTypeAndProduct(ctx context.Context, sessionID uuid.UUID, prefType models.PreferenceType, productID *uuid.UUID) (*models.StagedPreference, error) {
	return f.pref, nil
}

func (f *fakeAgentPrefs) UpdateFeedback(ctx context.Context, id uuid.UUID, feedback models.PreferenceFeedback) error {
	f.feedback = &feedback
	return nil
}

func (f *fakeAgentPrefs) UpdateValue(ctx context.Context, id uuid.UUID, value map[string]any) error {
	f.newValue = value
	return nil
}

type fakeCommitService struct {
	result *models.CommitResult
	calls  int
}

func (f *fakeCommitService) CommitOnboarding(ctx context.Context, sessionID uuid.UUID, telegramChatID int64) (*models.CommitResult, error) {
	f.calls++
	return f.result, nil
}

func newTestAgent(staging *fakeAgentStaging, mock *llm.MockLLMClient) (*onboardingAgent, *fakeAgentSessions, *fakeAgentPrefs) {
	sessions := &fakeAgentSessions{}
	prefs := &fakeAgentPrefs{}
	agent := &onboardingAgent{
		llmClient:   mock,
		parser:      llm.NewInvoiceParser(mock, 2, zap.NewNop()),
		staging:     staging,
		sessions:    sessions,
		stagedPrefs: prefs,
		logger:      zap.NewNop(),
	}
	return agent, sessions, prefs
}

func executeTool(t *testing.T, agent *onboardingAgent, conversation *ConversationContext, name, arguments string) map[string]any {
	t.Helper()
	session := &onboardingToolSession{agent: agent, conversation: conversation}
	raw, err := session.ExecuteTool(context.Background(), name, arguments)
	if err != nil {
		t.Fatalf("ExecuteTool(%s): %v", name, err)
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		t.Fatalf("tool result is not JSON: %v\n%s", err, raw)
	}
	return result
}

func TestProcessMessage_AppendsTurns(t *testing.T) {
	mock := llm.NewMockLLMClient()
	mock.ChatWithToolsFunc = func(ctx context.Context, req *llm.ChatRequest, executor llm.ToolExecutor) (string, error) {
		if req.SystemPrompt == "" {
			t.Error("system prompt not set")
		}
		if len(req.Tools) == 0 {
			t.Error("tools not passed")
		}
		return "Olá! Qual o nome do seu restaurante?", nil
	}

	agent, _, _ := newTestAgent(&fakeAgentStaging{}, mock)
	conversation := &ConversationContext{TelegramChatID: 1}

	reply, err := agent.ProcessMessage(context.Background(), conversation, "oi")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if reply != "Olá! Qual o nome do seu restaurante?" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if len(conversation.Messages) != 2 {
		t.Fatalf("expected user+assistant turns, got %d", len(conversation.Messages))
	}
	if conversation.Messages[0].Role != llm.RoleUser || conversation.Messages[1].Role != llm.RoleAssistant {
		t.Fatalf("wrong roles: %+v", conversation.Messages)
	}
}

func TestExecuteTool_SaveRestaurantInfo(t *testing.T) {
	staging := &fakeAgentStaging{}
	agent, _, _ := newTestAgent(staging, llm.NewMockLLMClient())
	conversation := &ConversationContext{TelegramChatID: 99}

	result := executeTool(t, agent, conversation, "save_restaurant_info",
		`{"restaurant_name": "Boteco da Maria", "city": "São Paulo"}`)

	if result["status"] != "success" {
		t.Fatalf("expected success, got %v", result)
	}
	if staging.basicInfoName != "Boteco da Maria" || staging.basicInfoCity != "São Paulo" {
		t.Fatalf("basic info not staged: %q %q", staging.basicInfoName, staging.basicInfoCity)
	}
	if conversation.SessionID == nil {
		t.Fatal("session id not bound to the conversation")
	}
	if conversation.RestaurantName != "Boteco da Maria" {
		t.Fatalf("restaurant name not cached: %q", conversation.RestaurantName)
	}
}

func TestExecuteTool_UnknownToolIsSoftError(t *testing.T) {
	agent, _, _ := newTestAgent(&fakeAgentStaging{}, llm.NewMockLLMClient())
	result := executeTool(t, agent, &ConversationContext{}, "launch_rocket", `{}`)
	if _, ok := result["error"]; !ok {
		t.Fatalf("unknown tool must return an error payload, got %v", result)
	}
}

func TestExecuteTool_BadArgumentsAreSoftErrors(t *testing.T) {
	agent, _, _ := newTestAgent(&fakeAgentStaging{}, llm.NewMockLLMClient())
	result := executeTool(t, agent, &ConversationContext{}, "save_restaurant_info", `{not json`)
	if _, ok := result["error"]; !ok {
		t.Fatalf("malformed arguments must return an error payload, got %v", result)
	}
}

func TestProcessInvoicePhotos(t *testing.T) {
	mock := llm.NewMockLLMClient()
	mock.DescribeImageFunc = func(ctx context.Context, img llm.ImageInput, prompt, system string) (string, error) {
		return `{
			"supplier_name": "Atacadão Boi Forte",
			"supplier_cnpj": "12.345.678/0001-00",
			"invoice_date": "12/08/2026",
			"invoice_number": "NF-123",
			"items": [
				{"product_name": "Picanha bovina", "quantity": 10, "unit": "kg", "unit_price": 42.50},
				{"product_name": "Alcatra", "quantity": 5, "unit": "kg", "unit_price": 38.00}
			],
			"total_amount": 615.00
		}`, nil
	}

	staging := &fakeAgentStaging{}
	agent, _, _ := newTestAgent(staging, mock)

	sessionID := uuid.New()
	conversation := &ConversationContext{
		TelegramChatID: 1,
		SessionID:      &sessionID,
		UploadedPhotos: []UploadedPhoto{
			{TelegramFileID: "file-1", Image: llm.ImageInput{Data: []byte{1}, MediaType: "image/jpeg"}},
		},
	}

	result := executeTool(t, agent, conversation, "process_invoice_photos", `{}`)

	if result["status"] != "success" {
		t.Fatalf("expected success, got %v", result)
	}
	if len(staging.suppliers) != 1 || staging.suppliers[0].CompanyName != "Atacadão Boi Forte" {
		t.Fatalf("supplier not staged: %+v", staging.suppliers)
	}
	if staging.suppliers[0].CNPJ == nil || *staging.suppliers[0].CNPJ != "12.345.678/0001-00" {
		t.Fatal("cnpj not carried onto the staged supplier")
	}
	if len(staging.products) != 2 {
		t.Fatalf("expected 2 staged products, got %d", len(staging.products))
	}
	for _, product := range staging.products {
		if product.StagingSupplierID == nil || *product.StagingSupplierID != staging.suppliers[0].ID {
			t.Fatalf("staged product %q not linked to its supplier: %v", product.ProductName, product.StagingSupplierID)
		}
	}
	if len(staging.prices) != 2 {
		t.Fatalf("expected 2 staged prices, got %d", len(staging.prices))
	}
	price := staging.prices[0]
	if price.TotalLineAmount == nil || *price.TotalLineAmount != 425.0 {
		t.Fatalf("line total not computed: %+v", price)
	}
	if price.InvoiceDate == nil {
		t.Fatal("invoice date not parsed")
	}
	if len(staging.photos) != 1 || staging.photos[0].TelegramFileID != "file-1" {
		t.Fatalf("photo metadata not saved: %+v", staging.photos)
	}
	if len(conversation.UploadedPhotos) != 0 {
		t.Fatal("photos must be consumed after processing")
	}
	if len(staging.phases) == 0 || staging.phases[len(staging.phases)-1] != models.PhaseProductsCollected {
		t.Fatalf("phase not advanced: %v", staging.phases)
	}
	if _, ok := result["display_text"].(string); !ok {
		t.Fatal("display text missing")
	}
}

func TestProcessInvoicePhotos_NoPhotos(t *testing.T) {
	agent, _, _ := newTestAgent(&fakeAgentStaging{}, llm.NewMockLLMClient())
	sessionID := uuid.New()
	conversation := &ConversationContext{SessionID: &sessionID}

	result := executeTool(t, agent, conversation, "process_invoice_photos", `{}`)
	if result["status"] != "error" {
		t.Fatalf("expected error status, got %v", result)
	}
}

func TestSaveEngagementChoice(t *testing.T) {
	staging := &fakeAgentStaging{existing: []*models.StagedProduct{
		{ProductName: "Picanha", InferredImportanceScore: 0.9, ImportanceTier: models.TierHead},
		{ProductName: "Arroz", InferredImportanceScore: 0.7, ImportanceTier: models.TierHead},
		{ProductName: "Detergente", InferredImportanceScore: 0.1, ImportanceTier: models.TierLongTail},
	}}
	agent, _, _ := newTestAgent(staging, llm.NewMockLLMClient())
	sessionID := uuid.New()
	conversation := &ConversationContext{SessionID: &sessionID}

	result := executeTool(t, agent, conversation, "save_engagement_choice", `{"choice": 1}`)
	if result["status"] != "success" {
		t.Fatalf("expected success, got %v", result)
	}
	if staging.choiceRecorded != 1 {
		t.Fatalf("choice not recorded: %d", staging.choiceRecorded)
	}
	products, ok := result["products_to_configure"].([]any)
	if !ok || len(products) != 3 {
		t.Fatalf("expected 3 products to configure, got %v", result["products_to_configure"])
	}
	first := products[0].(map[string]any)
	if first["name"] != "Picanha" {
		t.Fatalf("products must be importance-sorted, got %v", first)
	}
	if staging.phases[len(staging.phases)-1] != models.PhaseTargetedPreferences {
		t.Fatalf("phase not advanced to targeted preferences: %v", staging.phases)
	}
}

func TestSaveEngagementChoice_Skip(t *testing.T) {
	staging := &fakeAgentStaging{}
	agent, _, _ := newTestAgent(staging, llm.NewMockLLMClient())
	sessionID := uuid.New()
	conversation := &ConversationContext{SessionID: &sessionID}

	result := executeTool(t, agent, conversation, "save_engagement_choice", `{"choice": 3}`)
	if result["status"] != "success" {
		t.Fatalf("expected success, got %v", result)
	}
	if staging.phases[len(staging.phases)-1] != models.PhaseSummary {
		t.Fatalf("skip must advance straight to summary: %v", staging.phases)
	}
}

func TestCollectProductPreferences(t *testing.T) {
	product := &models.StagedProduct{ID: uuid.New(), ProductName: "Picanha bovina"}
	staging := &fakeAgentStaging{existing: []*models.StagedProduct{product}}
	agent, sessions, _ := newTestAgent(staging, llm.NewMockLLMClient())
	sessionID := uuid.New()
	conversation := &ConversationContext{SessionID: &sessionID}

	result := executeTool(t, agent, conversation, "collect_product_preferences",
		`{"product_name": "picanha", "brand": "Friboi", "price_max": 45.0, "notes": "maturada"}`)

	if result["status"] != "success" {
		t.Fatalf("expected success, got %v", result)
	}
	if len(staging.preferences) != 3 {
		t.Fatalf("expected 3 staged preferences, got %d", len(staging.preferences))
	}
	for _, pref := range staging.preferences {
		if pref.Source != models.SourceUserStated || pref.ConfidenceScore != 1.0 {
			t.Fatalf("stated preferences must carry full confidence: %+v", pref)
		}
		if pref.StagingProductID == nil || *pref.StagingProductID != product.ID {
			t.Fatalf("preference not bound to product: %+v", pref)
		}
	}
	if sessions.prefsConfigured != 3 {
		t.Fatalf("configured counter not bumped: %d", sessions.prefsConfigured)
	}
}

func TestModifyPreference(t *testing.T) {
	pref := &models.StagedPreference{ID: uuid.New(), PreferenceType: models.PreferencePriceMax}
	staging := &fakeAgentStaging{}
	agent, _, prefs := newTestAgent(staging, llm.NewMockLLMClient())
	prefs.pref = pref
	sessionID := uuid.New()
	conversation := &ConversationContext{SessionID: &sessionID}

	result := executeTool(t, agent, conversation, "modify_preference",
		`{"preference_type": "price_max", "action": "modify", "new_value": "47,90"}`)
	if result["status"] != "success" {
		t.Fatalf("expected success, got %v", result)
	}
	if prefs.newValue["max_price"] != 47.90 {
		t.Fatalf("price not parsed from Brazilian decimal: %v", prefs.newValue)
	}

	result = executeTool(t, agent, conversation, "modify_preference",
		`{"preference_type": "price_max", "action": "reject"}`)
	if result["status"] != "success" {
		t.Fatalf("expected success, got %v", result)
	}
	if prefs.feedback == nil || *prefs.feedback != models.FeedbackRejected {
		t.Fatalf("rejection not recorded: %v", prefs.feedback)
	}
}

func TestConfirmAndCommit(t *testing.T) {
	restaurantID := int64(12)
	commits := &fakeCommitService{result: &models.CommitResult{
		Success:            true,
		RestaurantID:       &restaurantID,
		ProductsCommitted:  8,
		SuppliersCommitted: 2,
	}}
	staging := &fakeAgentStaging{}
	agent, _, _ := newTestAgent(staging, llm.NewMockLLMClient())
	agent.commits = commits

	sessionID := uuid.New()
	conversation := &ConversationContext{TelegramChatID: 5, SessionID: &sessionID}

	result := executeTool(t, agent, conversation, "confirm_and_commit_onboarding",
		`{"user_confirmed": false}`)
	if result["status"] != "cancelled" {
		t.Fatalf("unconfirmed commit must be cancelled, got %v", result)
	}
	if commits.calls != 0 {
		t.Fatal("commit must not run without confirmation")
	}

	result = executeTool(t, agent, conversation, "confirm_and_commit_onboarding",
		`{"user_confirmed": true}`)
	if result["status"] != "success" {
		t.Fatalf("expected success, got %v", result)
	}
	if commits.calls != 1 {
		t.Fatalf("expected one commit call, got %d", commits.calls)
	}
	if conversation.RestaurantID == nil || *conversation.RestaurantID != 12 {
		t.Fatalf("restaurant id not cached on conversation: %v", conversation.RestaurantID)
	}
}

func TestCompleteOnboarding(t *testing.T) {
	staging := &fakeAgentStaging{}
	agent, _, _ := newTestAgent(staging, llm.NewMockLLMClient())
	sessionID := uuid.New()
	conversation := &ConversationContext{SessionID: &sessionID, RestaurantName: "Boteco da Maria"}

	result := executeTool(t, agent, conversation, "complete_onboarding", `{}`)
	if result["status"] != "complete" {
		t.Fatalf("expected complete, got %v", result)
	}
	if !conversation.OnboardingComplete {
		t.Fatal("conversation not marked complete")
	}
	if staging.phases[len(staging.phases)-1] != models.PhaseCompleted {
		t.Fatalf("session phase not completed: %v", staging.phases)
	}
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edelae/frepi/pkg/jsonutil"
	"github.com/edelae/frepi/pkg/llm"
	"github.com/edelae/frepi/pkg/models"
	"github.com/edelae/frepi/pkg/prompts"
	"github.com/edelae/frepi/pkg/repositories"
)

// agentErrorReply is what the user sees when a turn fails outright.
const agentErrorReply = "❌ Desculpe, ocorreu um erro. Vamos tentar novamente?\n\n" +
	"Por favor, me diga o nome do seu restaurante."

// Confidence attached to data extracted from invoice photos, as opposed to
// values the user typed themselves.
const invoiceExtractionConfidence = 0.85

// OnboardingAgent runs the tool-calling registration conversation. One call
// to ProcessMessage is one full turn: the model may invoke any number of
// tools before producing the reply.
type OnboardingAgent interface {
	// ProcessMessage handles one user message, mutating the conversation in
	// place. The returned string is the reply to send.
	ProcessMessage(ctx context.Context, conversation *ConversationContext, userMessage string) (string, error)
}

type onboardingAgent struct {
	llmClient   llm.LLMClient
	parser      *llm.InvoiceParser
	staging     StagingService
	analysis    AnalysisService
	commits     CommitService
	sessions    repositories.SessionRepository
	stagedPrefs repositories.StagedPreferenceRepository
	logger      *zap.Logger
}

// NewOnboardingAgent creates a new OnboardingAgent.
func NewOnboardingAgent(
	llmClient llm.LLMClient,
	parser *llm.InvoiceParser,
	staging StagingService,
	analysis AnalysisService,
	commits CommitService,
	sessions repositories.SessionRepository,
	stagedPrefs repositories.StagedPreferenceRepository,
	logger *zap.Logger,
) OnboardingAgent {
	return &onboardingAgent{
		llmClient:   llmClient,
		parser:      parser,
		staging:     staging,
		analysis:    analysis,
		commits:     commits,
		sessions:    sessions,
		stagedPrefs: stagedPrefs,
		logger:      logger.Named("onboarding-agent"),
	}
}

var _ OnboardingAgent = (*onboardingAgent)(nil)

func (a *onboardingAgent) ProcessMessage(ctx context.Context, conversation *ConversationContext, userMessage string) (string, error) {
	a.logger.Info("Processing onboarding message",
		zap.Int64("chat_id", conversation.TelegramChatID),
		zap.Int("history_len", len(conversation.Messages)))

	conversation.AddMessage(llm.RoleUser, userMessage)

	req := &llm.ChatRequest{
		Messages:     conversation.Messages,
		Tools:        llm.GetOnboardingTools(),
		Temperature:  0.7,
		SystemPrompt: prompts.OnboardingSystem,
	}

	reply, err := a.llmClient.ChatWithTools(ctx, req, &onboardingToolSession{
		agent:        a,
		conversation: conversation,
	})
	if err != nil {
		a.logger.Error("Onboarding turn failed",
			zap.Int64("chat_id", conversation.TelegramChatID),
			zap.Error(err))
		return agentErrorReply, nil
	}

	conversation.AddMessage(llm.RoleAssistant, reply)
	return reply, nil
}

// ============================================================================
// Tool Execution
// ============================================================================

// onboardingToolSession binds tool execution to one conversation. Tool
// failures are reported back to the model as {"error": ...} payloads so it
// can recover in conversation; only context cancellation is a hard error.
type onboardingToolSession struct {
	agent        *onboardingAgent
	conversation *ConversationContext
}

var _ llm.ToolExecutor = (*onboardingToolSession)(nil)

func (t *onboardingToolSession) ExecuteTool(ctx context.Context, name string, arguments string) (string, error) {
	result, err := t.dispatch(ctx, name, arguments)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		t.agent.logger.Error("Tool execution failed",
			zap.String("tool", name),
			zap.Error(err))
		result = map[string]any{"error": err.Error()}
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal tool result: %w", err)
	}
	return string(payload), nil
}

func (t *onboardingToolSession) dispatch(ctx context.Context, name string, arguments string) (map[string]any, error) {
	a := t.agent
	c := t.conversation

	switch name {
	case "save_restaurant_info":
		var args struct {
			RestaurantName string `json:"restaurant_name"`
			City           string `json:"city"`
		}
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return nil, fmt.Errorf("invalid save_restaurant_info arguments: %w", err)
		}
		return a.saveRestaurantInfo(ctx, c, args.RestaurantName, args.City)

	case "get_uploaded_photos":
		return a.getUploadedPhotos(c), nil

	case "process_invoice_photos":
		return a.processInvoicePhotos(ctx, c)

	case "save_products_manually":
		var args struct {
			Products []string `json:"products"`
		}
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return nil, fmt.Errorf("invalid save_products_manually arguments: %w", err)
		}
		return a.saveProductsManually(ctx, c, args.Products)

	case "run_analysis":
		return a.runAnalysis(ctx, c)

	case "show_analysis_summary":
		return a.showAnalysisSummary(ctx, c)

	case "save_engagement_choice":
		var args struct {
			Choice int `json:"choice"`
		}
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return nil, fmt.Errorf("invalid save_engagement_choice arguments: %w", err)
		}
		return a.saveEngagementChoice(ctx, c, args.Choice)

	case "collect_product_preferences":
		var args struct {
			ProductName string   `json:"product_name"`
			Brand       string   `json:"brand"`
			Quality     string   `json:"quality"`
			PriceMax    *float64 `json:"price_max"`
			Notes       string   `json:"notes"`
		}
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return nil, fmt.Errorf("invalid collect_product_preferences arguments: %w", err)
		}
		return a.collectProductPreferences(ctx, c, args.ProductName, args.Brand, args.Quality, args.PriceMax, args.Notes)

	case "modify_preference":
		var args struct {
			PreferenceType string `json:"preference_type"`
			Action         string `json:"action"`
			ProductName    string `json:"product_name"`
			NewValue       string `json:"new_value"`
		}
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return nil, fmt.Errorf("invalid modify_preference arguments: %w", err)
		}
		return a.modifyPreference(ctx, c, args.PreferenceType, args.Action, args.ProductName, args.NewValue)

	case "confirm_and_commit_onboarding":
		var args struct {
			UserConfirmed bool `json:"user_confirmed"`
		}
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return nil, fmt.Errorf("invalid confirm_and_commit_onboarding arguments: %w", err)
		}
		return a.confirmAndCommit(ctx, c, args.UserConfirmed)

	case "complete_onboarding":
		return a.completeOnboarding(ctx, c)

	default:
		return map[string]any{"error": fmt.Sprintf("Unknown tool: %s", name)}, nil
	}
}

// ============================================================================
// Tool Implementations
// ============================================================================

func (a *onboardingAgent) saveRestaurantInfo(ctx context.Context, c *ConversationContext, name, city string) (map[string]any, error) {
	session, err := a.staging.GetOrCreateSession(ctx, c.TelegramChatID)
	if err != nil {
		return nil, err
	}
	c.SessionID = &session.ID
	c.RestaurantName = name

	if err := a.staging.SaveRestaurantBasicInfo(ctx, session.ID, name, city); err != nil {
		return nil, err
	}

	a.logger.Info("Restaurant info staged",
		zap.String("session_id", session.ID.String()),
		zap.String("restaurant", name),
		zap.String("city", city))

	return map[string]any{
		"status":          "success",
		"restaurant_name": name,
		"city":            city,
		"session_id":      session.ID.String(),
		"message":         fmt.Sprintf("Restaurant '%s' in '%s' saved to staging", name, city),
	}, nil
}

func (a *onboardingAgent) getUploadedPhotos(c *ConversationContext) map[string]any {
	count := len(c.UploadedPhotos)
	message := "No photos uploaded yet"
	if count > 0 {
		message = fmt.Sprintf("%d photo(s) uploaded", count)
	}
	return map[string]any{
		"photo_count": count,
		"has_photos":  count > 0,
		"message":     message,
	}
}

func (a *onboardingAgent) processInvoicePhotos(ctx context.Context, c *ConversationContext) (map[string]any, error) {
	if len(c.UploadedPhotos) == 0 {
		return map[string]any{
			"status":  "error",
			"message": "No photos uploaded. Ask the user to upload invoice photos first.",
		}, nil
	}
	if c.SessionID == nil {
		return map[string]any{
			"status":  "error",
			"message": "No staging session. Please provide restaurant info first.",
		}, nil
	}
	sessionID := *c.SessionID

	images := make([]llm.ImageInput, len(c.UploadedPhotos))
	for i, photo := range c.UploadedPhotos {
		images[i] = photo.Image
	}
	results := a.parser.ParseInvoices(ctx, images)

	var (
		suppliersStaged, productsStaged, pricesStaged int
		supplierByName                                = make(map[string]uuid.UUID)
		supplierNames, productNames                   []string
		parsedInvoices                                []*llm.ParsedInvoice
	)

	for invoiceIndex, result := range results {
		photo := &models.InvoicePhoto{
			SessionID:      sessionID,
			TelegramFileID: c.UploadedPhotos[invoiceIndex].TelegramFileID,
			PhotoIndex:     invoiceIndex,
		}
		if err := a.staging.SavePhotoMetadata(ctx, photo); err != nil {
			return nil, err
		}
		if err := a.staging.UpdatePhotoParsingResult(ctx, photo.ID, result.Invoice, result.Err); err != nil {
			return nil, err
		}

		invoice := result.Invoice
		if result.Err != nil || invoice == nil || invoice.IsEmpty() {
			continue
		}
		parsedInvoices = append(parsedInvoices, invoice)
		idx := invoiceIndex

		var supplierID *uuid.UUID
		if invoice.SupplierName != "" {
			if id, ok := supplierByName[invoice.SupplierName]; ok {
				supplierID = &id
			} else {
				staged, err := a.stageInvoiceSupplier(ctx, sessionID, invoice, idx)
				if err != nil {
					return nil, err
				}
				supplierByName[invoice.SupplierName] = staged.ID
				supplierNames = append(supplierNames, invoice.SupplierName)
				supplierID = &staged.ID
				suppliersStaged++
			}
		}

		for _, item := range invoice.Items {
			product, err := a.staging.StageProduct(ctx, &models.StagedProduct{
				SessionID:            sessionID,
				ProductName:          item.ProductName,
				Source:               models.SourceInvoiceExtraction,
				SourceInvoiceIndex:   &idx,
				ExtractionConfidence: invoiceExtractionConfidence,
				StagingSupplierID:    supplierID,
			})
			if err != nil {
				return nil, err
			}
			productNames = append(productNames, item.ProductName)
			productsStaged++

			if item.UnitPrice <= 0 {
				continue
			}
			price := &models.StagedPrice{
				SessionID:            sessionID,
				StagingProductID:     product.ID,
				StagingSupplierID:    supplierID,
				UnitPrice:            item.UnitPrice,
				Currency:             "BRL",
				InvoiceDate:          invoice.ParsedDate(),
				Source:               models.SourceInvoiceExtraction,
				SourceInvoiceIndex:   &idx,
				ExtractionConfidence: invoiceExtractionConfidence,
			}
			if item.Unit != "" {
				unit := item.Unit
				price.PricePerUnitType = &unit
			}
			if invoice.InvoiceNumber != "" {
				number := invoice.InvoiceNumber
				price.InvoiceNumber = &number
			}
			if item.Quantity > 0 {
				qty := item.Quantity
				total := qty * item.UnitPrice
				price.QuantityPurchased = &qty
				price.TotalLineAmount = &total
			}
			if err := a.staging.StagePrice(ctx, price); err != nil {
				return nil, err
			}
			pricesStaged++
		}
	}

	if len(parsedInvoices) == 0 {
		return map[string]any{
			"status":  "error",
			"message": "Could not extract information from the photos. The images may be unclear or not invoices.",
		}, nil
	}

	if err := a.staging.UpdateSessionPhase(ctx, sessionID, models.PhaseProductsCollected); err != nil {
		return nil, err
	}
	if err := a.staging.RefreshStagedCounts(ctx, sessionID); err != nil {
		return nil, err
	}
	c.UploadedPhotos = nil

	display := productNames
	if len(display) > 30 {
		display = display[:30]
	}

	return map[string]any{
		"status":          "success",
		"suppliers_found": supplierNames,
		"supplier_count":  suppliersStaged,
		"products_found":  display,
		"product_count":   productsStaged,
		"prices_count":    pricesStaged,
		"display_text":    formatParsedInvoices(parsedInvoices),
		"message": fmt.Sprintf(
			"Extraídos e salvos: %d produtos, %d fornecedores, %d preços. Agora vou analisar os padrões de compra.",
			productsStaged, suppliersStaged, pricesStaged),
	}, nil
}

func (a *onboardingAgent) stageInvoiceSupplier(ctx context.Context, sessionID uuid.UUID, invoice *llm.ParsedInvoice, invoiceIndex int) (*models.StagedSupplier, error) {
	supplier := &models.StagedSupplier{
		SessionID:            sessionID,
		CompanyName:          invoice.SupplierName,
		Source:               models.SourceInvoiceExtraction,
		SourceInvoiceIndex:   &invoiceIndex,
		ExtractionConfidence: invoiceExtractionConfidence,
	}
	if invoice.SupplierCNPJ != "" {
		cnpj := invoice.SupplierCNPJ
		supplier.CNPJ = &cnpj
	}
	return a.staging.StageSupplier(ctx, supplier)
}

func (a *onboardingAgent) saveProductsManually(ctx context.Context, c *ConversationContext, products []string) (map[string]any, error) {
	if c.SessionID == nil {
		return map[string]any{
			"status":  "error",
			"message": "No staging session. Please provide restaurant info first.",
		}, nil
	}

	staged := 0
	for _, name := range products {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		_, err := a.staging.StageProduct(ctx, &models.StagedProduct{
			SessionID:            *c.SessionID,
			ProductName:          name,
			Source:               models.SourceUserStated,
			ExtractionConfidence: 1.0,
		})
		if err != nil {
			return nil, err
		}
		staged++
	}

	if err := a.staging.UpdateSessionPhase(ctx, *c.SessionID, models.PhaseProductsCollected); err != nil {
		return nil, err
	}
	if err := a.staging.RefreshStagedCounts(ctx, *c.SessionID); err != nil {
		return nil, err
	}

	return map[string]any{
		"status":        "success",
		"product_count": staged,
		"products":      products,
		"message":       fmt.Sprintf("Salvos %d produtos. Agora você pode adicionar mais informações ou finalizar o cadastro.", staged),
	}, nil
}

func (a *onboardingAgent) runAnalysis(ctx context.Context, c *ConversationContext) (map[string]any, error) {
	if c.SessionID == nil {
		return map[string]any{
			"status":  "error",
			"message": "No staging session. Please process invoice photos first.",
		}, nil
	}

	result, err := a.analysis.RunFullAnalysis(ctx, *c.SessionID)
	if err != nil {
		return nil, err
	}

	preferencesInferred := len(result.BrandPreferences) + len(result.PriceRanges) + len(result.DeliveryPatterns)

	return map[string]any{
		"status":               "success",
		"total_spend":          result.TotalSpend,
		"product_count":        result.ProductCount,
		"supplier_count":       result.SupplierCount,
		"top_products_count":   len(result.TopProducts),
		"preferences_inferred": preferencesInferred,
		"insights_count":       len(result.Insights),
		"message": fmt.Sprintf(
			"Análise completa! Encontrei %d produtos, %d fornecedores, e inferi %d preferências. Use show_analysis_summary para mostrar os detalhes ao usuário.",
			result.ProductCount, result.SupplierCount, preferencesInferred),
	}, nil
}

func (a *onboardingAgent) showAnalysisSummary(ctx context.Context, c *ConversationContext) (map[string]any, error) {
	if c.SessionID == nil {
		return map[string]any{
			"status":  "error",
			"message": "No staging session. Please process invoice photos first.",
		}, nil
	}

	summary, err := a.analysis.FormatAnalysisSummary(ctx, *c.SessionID)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"status":  "success",
		"summary": summary,
		"message": "Summary generated. Display this to the user and ask for confirmation.",
	}, nil
}

func (a *onboardingAgent) saveEngagementChoice(ctx context.Context, c *ConversationContext, choice int) (map[string]any, error) {
	if c.SessionID == nil {
		return map[string]any{"status": "error", "message": "No staging session found."}, nil
	}
	sessionID := *c.SessionID

	if err := a.staging.RecordEngagementChoice(ctx, sessionID, choice); err != nil {
		return nil, err
	}

	labels := map[int]string{1: "Top 5 (rápido)", 2: "Top 10 (completo)", 3: "Pular"}
	label := labels[choice]

	if choice == 3 {
		if err := a.staging.UpdateSessionPhase(ctx, sessionID, models.PhaseSummary); err != nil {
			return nil, err
		}
		return map[string]any{
			"status":  "success",
			"choice":  choice,
			"label":   label,
			"message": "Preferências puladas. Vou aprender com o tempo baseado nas suas compras. Vamos confirmar o cadastro.",
		}, nil
	}

	count := 5
	if choice == 2 {
		count = 10
	}
	products, err := a.staging.GetStagedProducts(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(products, func(i, j int) bool {
		return products[i].InferredImportanceScore > products[j].InferredImportanceScore
	})
	if len(products) > count {
		products = products[:count]
	}

	toConfigure := make([]map[string]any, len(products))
	for i, p := range products {
		tier := string(p.ImportanceTier)
		if tier == "" {
			tier = "unknown"
		}
		toConfigure[i] = map[string]any{
			"name":           p.ProductName,
			"rank":           i + 1,
			"tier":           tier,
			"avg_price":      p.AvgUnitPrice,
			"brand_detected": p.Brand,
			"total_spend":    p.TotalSpend,
		}
	}

	if err := a.staging.UpdateSessionPhase(ctx, sessionID, models.PhaseTargetedPreferences); err != nil {
		return nil, err
	}

	return map[string]any{
		"status":                "success",
		"choice":                choice,
		"label":                 label,
		"products_to_configure": toConfigure,
		"message":               fmt.Sprintf("Escolha salva: %s. Agora vamos configurar preferências para os top %d produtos, um por vez.", label, count),
	}, nil
}

func (a *onboardingAgent) collectProductPreferences(ctx context.Context, c *ConversationContext, productName, brand, quality string, priceMax *float64, notes string) (map[string]any, error) {
	if c.SessionID == nil {
		return map[string]any{"status": "error", "message": "No staging session found."}, nil
	}
	sessionID := *c.SessionID

	product, err := a.staging.FindStagedProduct(ctx, sessionID, productName)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return map[string]any{
			"status":  "error",
			"message": fmt.Sprintf("Produto '%s' não encontrado no cadastro.", productName),
		}, nil
	}

	statedReason := "Preferência declarada durante o cadastro"
	var saved []string

	stage := func(prefType models.PreferenceType, value map[string]any, reason string) error {
		return a.staging.StagePreference(ctx, &models.StagedPreference{
			SessionID:          sessionID,
			StagingProductID:   &product.ID,
			PreferenceType:     prefType,
			PreferenceValue:    value,
			ConfidenceScore:    1.0,
			Source:             models.SourceUserStated,
			InferenceReasoning: &reason,
		})
	}

	if brand != "" {
		if err := stage(models.PreferenceBrand, map[string]any{"brand": brand}, statedReason); err != nil {
			return nil, err
		}
		saved = append(saved, "brand")
	}
	if quality != "" {
		if err := stage(models.PreferenceQuality, map[string]any{"quality": quality}, statedReason); err != nil {
			return nil, err
		}
		saved = append(saved, "quality")
	}
	if priceMax != nil && *priceMax > 0 {
		unit := "un"
		if product.Specifications != nil {
			if u, ok := product.Specifications["unit"]; ok && u != "" {
				unit = u
			}
		}
		reason := "Limite de preço declarado durante o cadastro"
		if err := stage(models.PreferencePriceMax, map[string]any{"max_price": *priceMax, "unit": unit}, reason); err != nil {
			return nil, err
		}
		saved = append(saved, "price_max")
	}
	if notes != "" {
		reason := "Especificação declarada durante o cadastro"
		if err := stage(models.PreferenceSpecification, map[string]any{"notes": notes}, reason); err != nil {
			return nil, err
		}
		saved = append(saved, "specification")
	}

	for range saved {
		if err := a.sessions.IncrementPreferencesConfigured(ctx, sessionID); err != nil {
			return nil, err
		}
	}

	return map[string]any{
		"status":            "success",
		"product":           product.ProductName,
		"preferences_saved": saved,
		"message":           fmt.Sprintf("Preferências salvas para %s: %s", product.ProductName, strings.Join(saved, ", ")),
	}, nil
}

func (a *onboardingAgent) modifyPreference(ctx context.Context, c *ConversationContext, prefType, action, productName, newValue string) (map[string]any, error) {
	if c.SessionID == nil {
		return map[string]any{"status": "error", "message": "No staging session found."}, nil
	}
	sessionID := *c.SessionID

	var productID *uuid.UUID
	if productName != "" {
		product, err := a.staging.FindStagedProduct(ctx, sessionID, productName)
		if err != nil {
			return nil, err
		}
		if product != nil {
			productID = &product.ID
		}
	}

	pref, err := a.stagedPrefs.FindByTypeAndProduct(ctx, sessionID, models.PreferenceType(prefType), productID)
	if err != nil {
		return nil, err
	}
	if pref == nil {
		suffix := ""
		if productName != "" {
			suffix = fmt.Sprintf(" for %s", productName)
		}
		return map[string]any{
			"status":  "error",
			"message": fmt.Sprintf("No %s preference found%s", prefType, suffix),
		}, nil
	}

	var message string
	switch action {
	case "confirm":
		if err := a.stagedPrefs.UpdateFeedback(ctx, pref.ID, models.FeedbackConfirmed); err != nil {
			return nil, err
		}
		message = fmt.Sprintf("Preferência de %s confirmada", prefType)

	case "reject":
		if err := a.stagedPrefs.UpdateFeedback(ctx, pref.ID, models.FeedbackRejected); err != nil {
			return nil, err
		}
		message = fmt.Sprintf("Preferência de %s rejeitada", prefType)

	case "modify":
		if newValue == "" {
			return map[string]any{
				"status":  "error",
				"message": "Invalid action or missing new_value for modify action",
			}, nil
		}
		value := map[string]any{"value": newValue}
		switch models.PreferenceType(prefType) {
		case models.PreferenceBrand:
			value = map[string]any{"brand": newValue}
		case models.PreferencePriceMax:
			parsed, err := jsonutil.ParseDecimal(newValue)
			if err != nil {
				return map[string]any{
					"status":  "error",
					"message": fmt.Sprintf("Could not parse %q as a price", newValue),
				}, nil
			}
			value = map[string]any{"max_price": parsed}
		}
		if err := a.stagedPrefs.UpdateValue(ctx, pref.ID, value); err != nil {
			return nil, err
		}
		message = fmt.Sprintf("Preferência de %s modificada para: %s", prefType, newValue)

	default:
		return map[string]any{
			"status":  "error",
			"message": "Invalid action or missing new_value for modify action",
		}, nil
	}

	return map[string]any{"status": "success", "message": message}, nil
}

func (a *onboardingAgent) confirmAndCommit(ctx context.Context, c *ConversationContext, userConfirmed bool) (map[string]any, error) {
	if !userConfirmed {
		return map[string]any{
			"status":  "cancelled",
			"message": "User did not confirm. Ask what they want to adjust.",
		}, nil
	}
	if c.SessionID == nil {
		return map[string]any{"status": "error", "message": "No staging session found."}, nil
	}

	result, err := a.commits.CommitOnboarding(ctx, *c.SessionID, c.TelegramChatID)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return map[string]any{
			"status":  "error",
			"message": fmt.Sprintf("Error committing: %s", strings.Join(result.Errors, ", ")),
		}, nil
	}

	c.RestaurantID = result.RestaurantID

	return map[string]any{
		"status":                "success",
		"restaurant_id":         result.RestaurantID,
		"person_id":             result.PersonID,
		"suppliers_committed":   result.SuppliersCommitted,
		"products_committed":    result.ProductsCommitted,
		"prices_committed":      result.PricesCommitted,
		"preferences_committed": result.PreferencesCommitted,
		"message": fmt.Sprintf(
			"🎉 Cadastro salvo com sucesso! %d produtos, %d fornecedores, %d preferências.",
			result.ProductsCommitted, result.SuppliersCommitted, result.PreferencesCommitted),
	}, nil
}

func (a *onboardingAgent) completeOnboarding(ctx context.Context, c *ConversationContext) (map[string]any, error) {
	c.OnboardingComplete = true

	if c.SessionID != nil {
		if err := a.staging.UpdateSessionPhase(ctx, *c.SessionID, models.PhaseCompleted); err != nil {
			// Completion is cosmetic at this point; the commit already landed.
			a.logger.Warn("Could not mark session phase completed", zap.Error(err))
		}
	}

	a.logger.Info("Onboarding completed",
		zap.Int64("chat_id", c.TelegramChatID),
		zap.String("restaurant", c.RestaurantName))

	return map[string]any{
		"status":          "complete",
		"restaurant_name": c.RestaurantName,
		"message":         "Onboarding completed successfully! Show the main menu to the user.",
	}, nil
}

// formatParsedInvoices renders the extraction result the model can echo back
// to the user for a sanity check.
func formatParsedInvoices(invoices []*llm.ParsedInvoice) string {
	var b strings.Builder
	b.WriteString("📸 **Notas fiscais processadas:**\n")

	for i, invoice := range invoices {
		fmt.Fprintf(&b, "\n**Nota %d**", i+1)
		if invoice.SupplierName != "" {
			fmt.Fprintf(&b, " - %s", invoice.SupplierName)
		}
		if invoice.InvoiceDate != "" {
			fmt.Fprintf(&b, " (%s)", invoice.InvoiceDate)
		}
		b.WriteByte('\n')

		shown := invoice.Items
		if len(shown) > 8 {
			shown = shown[:8]
		}
		for _, item := range shown {
			fmt.Fprintf(&b, "• %s", item.ProductName)
			if item.UnitPrice > 0 {
				fmt.Fprintf(&b, " - R$ %.2f", item.UnitPrice)
				if item.Unit != "" {
					fmt.Fprintf(&b, "/%s", item.Unit)
				}
			}
			b.WriteByte('\n')
		}
		if rest := len(invoice.Items) - len(shown); rest > 0 {
			fmt.Fprintf(&b, "… e mais %d itens\n", rest)
		}
		if invoice.TotalAmount > 0 {
			fmt.Fprintf(&b, "Total: R$ %.2f\n", invoice.TotalAmount)
		}
	}

	return b.String()
}

package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/edelae/frepi/pkg/models"
)

var categoryEmojis = map[models.ProductCategory]string{
	models.CategoryProteinas:    "🥩",
	models.CategoryHortifruti:   "🥬",
	models.CategoryMercearia:    "🛒",
	models.CategoryLaticinios:   "🧈",
	models.CategoryBebidas:      "🍺",
	models.CategoryPadaria:      "🥖",
	models.CategoryCongelados:   "🧊",
	models.CategoryLimpeza:      "🧹",
	models.CategoryDescartaveis: "📦",
	models.CategoryOutros:       "📋",
}

const summaryDivider = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

func (s *analysisService) FormatAnalysisSummary(ctx context.Context, sessionID uuid.UUID) (string, error) {
	session, err := s.staging.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	products, err := s.staging.GetStagedProducts(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("load staged products: %w", err)
	}
	suppliers, err := s.staging.GetStagedSuppliers(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("load staged suppliers: %w", err)
	}
	preferences, err := s.staging.GetStagedPreferences(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("load staged preferences: %w", err)
	}
	photos, err := s.staging.GetInvoicePhotos(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("load invoice photos: %w", err)
	}
	insights, err := s.insights.ListBySession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("load insights: %w", err)
	}

	sortProductsByImportance(products)
	sortSuppliersBySpend(suppliers)

	totalSpend := 0.0
	for _, p := range products {
		totalSpend += p.TotalSpend
	}

	productNameByID := make(map[uuid.UUID]string, len(products))
	priorityCount := 0
	for _, p := range products {
		productNameByID[p.ID] = p.ProductName
		if p.IsPriority {
			priorityCount++
		}
	}

	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("📊 **Análise do seu Histórico de Compras**")
	line("")
	line(summaryDivider)
	line("")
	line("🍽️ **Restaurante:** %s", orNA(session.RestaurantName))
	line("📍 **Cidade:** %s", orNA(session.City))
	line("📅 **Período analisado:** %d notas fiscais", len(photos))
	line("")
	line(summaryDivider)
	line("")
	line("## 💰 DISTRIBUIÇÃO DE GASTOS")
	line("")
	line("Total analisado: **R$ %.2f**", totalSpend)
	line("")

	categories := categoryBreakdown(products, totalSpend)
	line("| Categoria | Gasto | %% Total |")
	line("|-----------|-------|---------|")
	for i, c := range categories {
		if i == 6 {
			break
		}
		line("| %s %s | R$ %.0f | %.0f%% |",
			emojiFor(c.Category), titleCase(string(c.Category)), c.TotalSpend, c.Percentage)
	}

	line("")
	line(summaryDivider)
	line("")
	line("## ⭐ TOP 10 PRODUTOS MAIS IMPORTANTES")
	line("")
	line("Baseado em frequência de compra e valor gasto:")
	line("")
	line("| # | Produto | Freq. | Gasto Total | Preço Médio |")
	line("|---|---------|-------|-------------|-------------|")
	for i, p := range products {
		if i == 10 {
			break
		}
		avg := 0.0
		if p.AvgUnitPrice != nil {
			avg = *p.AvgUnitPrice
		}
		line("| %d | %s | %dx | R$ %.0f | R$ %.2f |",
			i+1, truncate(p.ProductName, 20), p.PurchaseFrequency, p.TotalSpend, avg)
	}

	line("")
	line(summaryDivider)
	line("")
	line("## 📦 FORNECEDORES IDENTIFICADOS")
	line("")
	line("| Fornecedor | Categoria Principal | Gasto | Notas |")
	line("|------------|---------------------|-------|-------|")
	rankEmojis := map[int]string{1: "🥇", 2: "🥈", 3: "🥉"}
	for i, sup := range suppliers {
		if i == 5 {
			break
		}
		marker := rankEmojis[i+1]
		if marker == "" {
			marker = fmt.Sprintf("%d.", i+1)
		}
		mainCat := "N/A"
		if len(sup.ProductCategories) > 0 {
			mainCat = sup.ProductCategories[0]
		}
		line("| %s %s | %s | R$ %.0f | %d |",
			marker, truncate(sup.CompanyName, 20), mainCat, sup.TotalSpend, sup.InvoiceCount)
	}

	brandPrefs := filterPreferences(preferences, models.PreferenceBrand)
	if len(brandPrefs) > 0 {
		line("")
		line(summaryDivider)
		line("")
		line("## 🎯 PREFERÊNCIAS DETECTADAS")
		line("")
		line("### Marcas Preferidas")
		for i, pref := range brandPrefs {
			if i == 5 {
				break
			}
			brand, _ := pref.PreferenceValue["brand"].(string)
			pct := floatValue(pref.PreferenceValue["percentage"])
			strength := "✅ Preferência moderada"
			if pct > 80 {
				strength = "✅ Forte preferência"
			}
			name := "N/A"
			if pref.StagingProductID != nil {
				if n, ok := productNameByID[*pref.StagingProductID]; ok {
					name = n
				}
			}
			line("- **%s:** %s (%.0f%%) %s", name, brand, pct, strength)
		}
	}

	pricePrefs := filterPreferences(preferences, models.PreferencePriceMax)
	if len(pricePrefs) > 0 {
		line("")
		line("### Faixas de Preço Típicas")
		line("| Produto | Preço Médio | Preço Máx | Limite Sugerido |")
		line("|---------|-------------|-----------|-----------------|")
		for i, pref := range pricePrefs {
			if i == 5 {
				break
			}
			unit, _ := pref.PreferenceValue["unit"].(string)
			if unit == "" {
				unit = "un"
			}
			name := "-"
			if pref.StagingProductID != nil {
				if n, ok := productNameByID[*pref.StagingProductID]; ok {
					name = truncate(n, 20)
				}
			}
			line("| %s | R$ %.2f | R$ %.2f | R$ %.2f/%s |",
				name,
				floatValue(pref.PreferenceValue["based_on_avg"]),
				floatValue(pref.PreferenceValue["based_on_max"]),
				floatValue(pref.PreferenceValue["max_price"]),
				unit)
		}
	}

	deliveryPrefs := filterPreferences(preferences, models.PreferenceDeliveryDay)
	if len(deliveryPrefs) > 0 {
		line("")
		line(summaryDivider)
		line("")
		line("## 📅 PADRÕES DE ENTREGA IDENTIFICADOS")
		line("")
		line("| Categoria | Dias de Entrega | Frequência |")
		line("|-----------|-----------------|------------|")
		for _, pref := range deliveryPrefs {
			cat, _ := pref.PreferenceValue["category"].(string)
			freq, _ := pref.PreferenceValue["frequency"].(string)
			days := stringSlice(pref.PreferenceValue["days"])
			line("| %s %s | %s | %s |",
				emojiFor(models.ProductCategory(cat)), titleCase(cat),
				titleCase(strings.Join(days, ", ")), freq)
		}
	}

	if len(insights) > 0 {
		line("")
		line(summaryDivider)
		line("")
		line("## 📈 INSIGHTS ADICIONAIS")
		line("")
		for _, in := range insights {
			line("💡 **%s:** %s", in.Title, in.Description)
			line("")
		}
	}

	line(summaryDivider)
	line("")
	line("## ✅ CONFIRMAR CADASTRO")
	line("")
	line("Com base nesta análise, vou configurar:")
	line("- ✅ %d fornecedores", len(suppliers))
	line("- ✅ %d produtos (%d prioritários)", len(products), priorityCount)
	line("- ✅ %d preferências de marca", len(brandPrefs))
	line("- ✅ %d limites de preço", len(pricePrefs))
	line("- ✅ %d padrões de entrega", len(deliveryPrefs))
	line("")
	line("**Estas informações estão corretas?**")
	line("")
	line("Digite:")
	line("- **sim** → Salvar tudo e iniciar")
	line("- **ajustar** → Modificar alguma informação")
	line("- **não** → Cancelar e recomeçar")

	return strings.TrimRight(b.String(), "\n"), nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func sortProductsByImportance(products []*models.StagedProduct) {
	sort.SliceStable(products, func(i, j int) bool {
		return products[i].InferredImportanceScore > products[j].InferredImportanceScore
	})
}

func sortSuppliersBySpend(suppliers []*models.StagedSupplier) {
	sort.SliceStable(suppliers, func(i, j int) bool {
		return suppliers[i].TotalSpend > suppliers[j].TotalSpend
	})
}

func filterPreferences(prefs []*models.StagedPreference, t models.PreferenceType) []*models.StagedPreference {
	var out []*models.StagedPreference
	for _, p := range prefs {
		if p.PreferenceType == t && !p.IsRejected() {
			out = append(out, p)
		}
	}
	return out
}

func emojiFor(cat models.ProductCategory) string {
	if e, ok := categoryEmojis[cat]; ok {
		return e
	}
	return "📋"
}

func orNA(s *string) string {
	if s == nil || *s == "" {
		return "N/A"
	}
	return *s
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	words := strings.Split(s, " ")
	for i, w := range words {
		r := []rune(w)
		if len(r) > 0 {
			words[i] = strings.ToUpper(string(r[0])) + string(r[1:])
		}
	}
	return strings.Join(words, " ")
}

// floatValue reads a numeric preference value field. Values round-trip
// through jsonb, so stored ints come back as float64.
func floatValue(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func stringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

package llm

// ToolDefinition defines a tool that can be called by the LLM.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ParameterProperty defines a parameter property in JSON Schema format.
type ParameterProperty struct {
	Type        string         `json:"type"`
	Description string         `json:"description,omitempty"`
	Enum        []any          `json:"enum,omitempty"`
	Items       map[string]any `json:"items,omitempty"`
}

// NewToolDefinition creates a new tool definition with standard JSON Schema parameters.
func NewToolDefinition(name, description string, properties map[string]ParameterProperty, required []string) ToolDefinition {
	props := make(map[string]any)
	for k, v := range properties {
		prop := map[string]any{
			"type":        v.Type,
			"description": v.Description,
		}
		if len(v.Enum) > 0 {
			prop["enum"] = v.Enum
		}
		if v.Items != nil {
			prop["items"] = v.Items
		}
		props[k] = prop
	}

	if required == nil {
		required = []string{}
	}

	return ToolDefinition{
		Name:        name,
		Description: description,
		Parameters: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

// GetOnboardingTools returns the tool definitions for the restaurant
// onboarding conversation.
func GetOnboardingTools() []ToolDefinition {
	return []ToolDefinition{
		NewToolDefinition(
			"save_restaurant_info",
			"Save the restaurant's basic information (name and city). Call this after collecting both pieces of information from the user.",
			map[string]ParameterProperty{
				"restaurant_name": {
					Type:        "string",
					Description: "Name of the restaurant",
				},
				"city": {
					Type:        "string",
					Description: "City where the restaurant is located",
				},
			},
			[]string{"restaurant_name", "city"},
		),
		NewToolDefinition(
			"get_uploaded_photos",
			"Get the list of invoice photos that the user has uploaded. Use this to check if there are photos to process.",
			nil,
			nil,
		),
		NewToolDefinition(
			"process_invoice_photos",
			"Process all uploaded invoice photos using the vision model to extract products, suppliers, and prices. Call this after the user has uploaded photos and said they are done (e.g., 'pronto').",
			nil,
			nil,
		),
		NewToolDefinition(
			"save_products_manually",
			"Save a list of products provided manually by the user (when they don't have invoice photos).",
			map[string]ParameterProperty{
				"products": {
					Type:        "array",
					Items:       map[string]any{"type": "string"},
					Description: "List of product names that the restaurant purchases",
				},
			},
			[]string{"products"},
		),
		NewToolDefinition(
			"run_analysis",
			"Run intelligent analysis on all staged data (products, suppliers, prices) to detect buying patterns, preferences, and insights. Call this after processing invoice photos and before showing the summary to the user.",
			nil,
			nil,
		),
		NewToolDefinition(
			"show_analysis_summary",
			"Display the comprehensive analysis summary including spend distribution, top products, supplier rankings, detected preferences, and actionable insights. Call this after run_analysis to show results to the user for confirmation.",
			nil,
			nil,
		),
		NewToolDefinition(
			"modify_preference",
			"Modify a specific preference that was detected during analysis. Use this when the user wants to adjust an inferred preference (brand, price threshold, etc).",
			map[string]ParameterProperty{
				"preference_type": {
					Type:        "string",
					Enum:        []any{"brand", "price_max", "quality", "supplier", "delivery_day"},
					Description: "Type of preference to modify",
				},
				"product_name": {
					Type:        "string",
					Description: "Name of the product to modify preference for (optional for global preferences)",
				},
				"new_value": {
					Type:        "string",
					Description: "New preference value (e.g., brand name, max price, quality tier)",
				},
				"action": {
					Type:        "string",
					Enum:        []any{"confirm", "reject", "modify"},
					Description: "Action to take: confirm the detected preference, reject it, or modify to new value",
				},
			},
			[]string{"preference_type", "action"},
		),
		NewToolDefinition(
			"save_engagement_choice",
			"Save the user's engagement choice after showing the analysis summary. Call this when the user picks how many products they want to configure preferences for: 1=Top 5, 2=Top 10, 3=Skip.",
			map[string]ParameterProperty{
				"choice": {
					Type:        "integer",
					Enum:        []any{1, 2, 3},
					Description: "1=Top 5 (quick), 2=Top 10 (complete), 3=Skip",
				},
			},
			[]string{"choice"},
		),
		NewToolDefinition(
			"collect_product_preferences",
			"Save preferences collected for a specific product during targeted preference collection. Call this after asking the user about a product and receiving their preferences.",
			map[string]ParameterProperty{
				"product_name": {
					Type:        "string",
					Description: "The product name",
				},
				"brand": {
					Type:        "string",
					Description: "Preferred brand (if any)",
				},
				"quality": {
					Type:        "string",
					Description: "Quality preference (premium, standard, economy)",
				},
				"price_max": {
					Type:        "number",
					Description: "Maximum acceptable price per unit",
				},
				"notes": {
					Type:        "string",
					Description: "Any additional specifications or notes",
				},
			},
			[]string{"product_name"},
		),
		NewToolDefinition(
			"confirm_and_commit_onboarding",
			"Commit all staged data to production tables after user confirms. This creates the restaurant, suppliers, products, prices, and preferences in the production database. Call this ONLY after the engagement gauge step (and optionally preference collection) and receiving user confirmation.",
			map[string]ParameterProperty{
				"user_confirmed": {
					Type:        "boolean",
					Description: "Whether the user explicitly confirmed the summary",
				},
			},
			[]string{"user_confirmed"},
		),
		NewToolDefinition(
			"complete_onboarding",
			"Mark the onboarding process as complete and show the main menu. Call this AFTER confirm_and_commit_onboarding has successfully committed the data.",
			nil,
			nil,
		),
	}
}

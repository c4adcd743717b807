package registry

// RiskLevel grades how much damage a tool can do if misused.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid reports whether l is a known risk level.
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	default:
		return false
	}
}

// ToolContract describes an invocable tool.
// Loaded once at startup, from the default catalog or the tool_contracts table.
type ToolContract struct {
	Name                string
	Description         string
	RiskLevel           RiskLevel
	CanSimulate         bool
	RequiredPermissions []string
	ParameterSchema     map[string]any // JSON Schema, nil if not set
}

func (c ToolContract) clone() ToolContract {
	out := c
	if c.RequiredPermissions != nil {
		out.RequiredPermissions = append([]string(nil), c.RequiredPermissions...)
	}
	return out
}

// DefaultContracts is the built-in tool catalog of the advisor.
func DefaultContracts() []ToolContract {
	amountSchema := func(required ...string) map[string]any {
		props := map[string]any{
			"amount":   map[string]any{"type": []any{"number", "string"}},
			"currency": map[string]any{"type": "string", "minLength": float64(3), "maxLength": float64(3)},
		}
		req := []any{"amount"}
		for _, r := range required {
			props[r] = map[string]any{"type": "string", "minLength": float64(1)}
			req = append(req, r)
		}
		return map[string]any{
			"type":       "object",
			"required":   req,
			"properties": props,
		}
	}

	orderSchema := amountSchema("symbol")
	orderSchema["properties"].(map[string]any)["side"] = map[string]any{
		"type": "string",
		"enum": []any{"buy", "sell"},
	}

	return []ToolContract{
		{
			Name:        "market_data_lookup",
			Description: "Fetch quotes and historical prices",
			RiskLevel:   RiskLow,
			ParameterSchema: map[string]any{
				"type":     "object",
				"required": []any{"symbols"},
				"properties": map[string]any{
					"symbols": map[string]any{
						"type":     "array",
						"items":    map[string]any{"type": "string"},
						"minItems": float64(1),
					},
				},
			},
		},
		{
			Name:        "portfolio_analysis",
			Description: "Analyse allocation, risk and performance of a portfolio",
			RiskLevel:   RiskLow,
			ParameterSchema: map[string]any{
				"type": "object",
			},
		},
		{
			Name:        "retirement_projection",
			Description: "Project retirement savings under assumptions",
			RiskLevel:   RiskLow,
			ParameterSchema: map[string]any{
				"type": "object",
			},
		},
		{
			Name:        "legal_lookup",
			Description: "Look up statutes and regulations",
			RiskLevel:   RiskLow,
			ParameterSchema: map[string]any{
				"type": "object",
			},
		},
		{
			Name:                "generate_document",
			Description:         "Draft a document such as a statement of advice",
			RiskLevel:           RiskMedium,
			RequiredPermissions: []string{"documents:write"},
			ParameterSchema: map[string]any{
				"type":     "object",
				"required": []any{"template"},
				"properties": map[string]any{
					"template": map[string]any{"type": "string", "minLength": float64(1)},
				},
			},
		},
		{
			Name:                "schedule_task",
			Description:         "Schedule a follow-up task for the adviser",
			RiskLevel:           RiskMedium,
			RequiredPermissions: []string{"tasks:write"},
			ParameterSchema: map[string]any{
				"type": "object",
			},
		},
		{
			Name:                "place_order",
			Description:         "Place a securities order",
			RiskLevel:           RiskHigh,
			CanSimulate:         true,
			RequiredPermissions: []string{"trade:write"},
			ParameterSchema:     orderSchema,
		},
		{
			Name:                "charge_customer",
			Description:         "Charge the customer's payment method",
			RiskLevel:           RiskHigh,
			CanSimulate:         true,
			RequiredPermissions: []string{"payments:write"},
			ParameterSchema:     amountSchema(),
		},
		{
			Name:                "transfer_funds",
			Description:         "Move money between accounts",
			RiskLevel:           RiskHigh,
			CanSimulate:         true,
			RequiredPermissions: []string{"payments:write"},
			ParameterSchema:     amountSchema("from_account", "to_account"),
		},
	}
}

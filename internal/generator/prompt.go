package generator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/triage-ai/palisade/services/plan_guard/internal/plan"
	"github.com/triage-ai/palisade/services/plan_guard/internal/registry"
)

const systemPrompt = `You are a financial planning assistant. You never execute anything.
Return exactly one JSON object of type "plan_action", version "1.0", with fields:
goal, assumptions[], needed_data[{name,tool,why}], legal_checks[{jurisdiction,act_name,since_date,why}],
risk_flags[], proposed_actions[{id,kind,tool,payload,preconditions,can_execute,rationale}].
kind is one of analysis, order, payment, document, task.
preconditions is a subset of law_ok, simulate_ok, limits_ok.
can_execute must be false. since_date uses YYYY-MM-DD. Use only the tools listed below.
Orders and payments must carry a numeric payload.amount.`

// buildPrompt renders the model input for one request.
func buildPrompt(req GenerateRequest, catalog []registry.ToolContract) (string, error) {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n[TOOLS]\n")
	for _, c := range catalog {
		fmt.Fprintf(&b, "- %s (risk %s", c.Name, c.RiskLevel)
		if c.CanSimulate {
			b.WriteString(", can simulate")
		}
		b.WriteString(")")
		if c.Description != "" {
			b.WriteString(": " + c.Description)
		}
		b.WriteString("\n")
	}

	in, err := json.MarshalIndent(map[string]any{
		"type":    plan.TypePlanAction,
		"version": plan.Version,
		"goal":    req.Goal,
		"context": req.Context,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal input: %w", err)
	}
	b.WriteString("\n[INPUT JSON]\n")
	b.Write(in)

	if req.Feedback != "" {
		b.WriteString("\n\n[PREVIOUS ATTEMPT REJECTED]\n")
		b.WriteString(req.Feedback)
		b.WriteString("\nReturn a corrected document.")
	}
	return b.String(), nil
}

package plan

import "encoding/json"

// MarshalJSON writes the action with its literal can_execute field.
func (a ProposedAction) MarshalJSON() ([]byte, error) {
	type alias ProposedAction
	out := alias(a)
	if out.Payload == nil {
		out.Payload = map[string]any{}
	}
	if out.Preconditions == nil {
		out.Preconditions = []CheckClass{}
	}
	return json.Marshal(struct {
		alias
		CanExecute bool `json:"can_execute"`
	}{out, a.canExecute})
}

// MarshalJSON writes the plan as a versioned plan_action document.
func (p PlanAction) MarshalJSON() ([]byte, error) {
	type alias PlanAction
	out := alias(p)
	out.Assumptions = nonNil(out.Assumptions)
	out.RiskFlags = nonNil(out.RiskFlags)
	if out.NeededData == nil {
		out.NeededData = []NeededData{}
	}
	if out.LegalChecks == nil {
		out.LegalChecks = []LegalCheck{}
	}
	if out.ProposedActions == nil {
		out.ProposedActions = []ProposedAction{}
	}
	return json.Marshal(struct {
		Type    string `json:"type"`
		Version string `json:"version"`
		alias
	}{TypePlanAction, Version, out})
}

// MarshalJSON writes the verification as a versioned plan_verification document.
func (v PlanVerification) MarshalJSON() ([]byte, error) {
	checks := v.Checks
	for _, c := range CheckClasses {
		slot := checks.slot(c)
		if slot.Evidence == nil {
			slot.Evidence = []Evidence{}
		}
	}
	return json.Marshal(struct {
		Type       string   `json:"type"`
		Version    string   `json:"version"`
		Checks     Checks   `json:"checks"`
		OpenIssues []string `json:"open_issues"`
	}{TypePlanVerification, Version, checks, nonNil(v.OpenIssues)})
}

// MarshalJSON writes the decision as a versioned decision document.
func (d Decision) MarshalJSON() ([]byte, error) {
	type alias Decision
	out := alias(d)
	out.ApprovedActions = nonNil(out.ApprovedActions)
	out.DeferredActions = nonNil(out.DeferredActions)
	out.RejectedActions = nonNil(out.RejectedActions)
	out.NextQuestions = nonNil(out.NextQuestions)
	return json.Marshal(struct {
		Type    string `json:"type"`
		Version string `json:"version"`
		alias
	}{TypeDecision, Version, out})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

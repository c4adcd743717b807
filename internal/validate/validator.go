package validate

import (
	"fmt"

	"github.com/triage-ai/palisade/services/plan_guard/internal/plan"
	"github.com/triage-ai/palisade/services/plan_guard/internal/registry"
)

// Validator turns untrusted candidate documents into strict plan types.
// Validation is fail-fast: fields are checked in a fixed order and the first
// violation is returned.
type Validator struct {
	registry registry.ToolRegistry
}

// New creates a Validator that resolves tool names against reg.
func New(reg registry.ToolRegistry) *Validator {
	return &Validator{registry: reg}
}

// Document is a validated document of any supported type.
type Document struct {
	Type         string
	Plan         *plan.PlanAction
	Verification *plan.PlanVerification
	Decision     *plan.Decision
}

// ValidateDocument dispatches on the document's type field. Decisions are
// validated without a plan, so action ids are not checked for membership.
func (v *Validator) ValidateDocument(raw []byte) (*Document, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	typ, err := requireString(obj, "", "type", true)
	if err != nil {
		return nil, err
	}
	switch typ {
	case plan.TypePlanAction:
		p, err := v.planAction(obj)
		if err != nil {
			return nil, err
		}
		return &Document{Type: typ, Plan: p}, nil
	case plan.TypePlanVerification:
		pv, err := planVerification(obj)
		if err != nil {
			return nil, err
		}
		return &Document{Type: typ, Verification: pv}, nil
	case plan.TypeDecision:
		d, err := decision(obj, nil)
		if err != nil {
			return nil, err
		}
		return &Document{Type: typ, Decision: d}, nil
	default:
		return nil, fieldErr("type", "unrecognized document type %q", typ)
	}
}

// ValidatePlanAction validates a candidate plan_action document.
func (v *Validator) ValidatePlanAction(raw []byte) (*plan.PlanAction, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	return v.planAction(obj)
}

// ValidatePlanVerification validates a plan_verification document.
func (v *Validator) ValidatePlanVerification(raw []byte) (*plan.PlanVerification, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	return planVerification(obj)
}

// ValidateDecision validates a decision document against the plan it decides.
// A nil plan skips the id membership check.
func (v *Validator) ValidateDecision(raw []byte, p *plan.PlanAction) (*plan.Decision, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	return decision(obj, p)
}

func (v *Validator) planAction(obj map[string]any) (*plan.PlanAction, error) {
	if err := checkEnvelope(obj, plan.TypePlanAction); err != nil {
		return nil, err
	}
	if err := rejectUnknown(obj, "",
		"type", "version", "goal", "assumptions", "needed_data",
		"legal_checks", "risk_flags", "proposed_actions",
	); err != nil {
		return nil, err
	}

	p := &plan.PlanAction{}
	var err error

	if p.Goal, err = requireString(obj, "", "goal", true); err != nil {
		return nil, err
	}
	if p.Assumptions, err = requireStringList(obj, "", "assumptions"); err != nil {
		return nil, err
	}
	if p.NeededData, err = v.neededData(obj); err != nil {
		return nil, err
	}
	if p.LegalChecks, err = legalChecks(obj); err != nil {
		return nil, err
	}
	if p.RiskFlags, err = requireStringList(obj, "", "risk_flags"); err != nil {
		return nil, err
	}
	if p.ProposedActions, err = v.proposedActions(obj); err != nil {
		return nil, err
	}
	return p, nil
}

func (v *Validator) neededData(obj map[string]any) ([]plan.NeededData, error) {
	arr, err := requireArray(obj, "", "needed_data")
	if err != nil {
		return nil, err
	}
	out := make([]plan.NeededData, 0, len(arr))
	for i, el := range arr {
		path := index("needed_data", i)
		m, err := elementObject(el, path)
		if err != nil {
			return nil, err
		}
		if err := rejectUnknown(m, path, "name", "tool", "why"); err != nil {
			return nil, err
		}
		var nd plan.NeededData
		if nd.Name, err = requireString(m, path, "name", true); err != nil {
			return nil, err
		}
		if nd.Tool, err = requireString(m, path, "tool", true); err != nil {
			return nil, err
		}
		if _, err := v.registry.Lookup(nd.Tool); err != nil {
			return nil, fieldErr(join(path, "tool"), "%v", err)
		}
		if nd.Why, err = requireString(m, path, "why", false); err != nil {
			return nil, err
		}
		out = append(out, nd)
	}
	return out, nil
}

func legalChecks(obj map[string]any) ([]plan.LegalCheck, error) {
	arr, err := requireArray(obj, "", "legal_checks")
	if err != nil {
		return nil, err
	}
	out := make([]plan.LegalCheck, 0, len(arr))
	for i, el := range arr {
		path := index("legal_checks", i)
		m, err := elementObject(el, path)
		if err != nil {
			return nil, err
		}
		if err := rejectUnknown(m, path, "jurisdiction", "act_name", "since_date", "why"); err != nil {
			return nil, err
		}
		var lc plan.LegalCheck
		if lc.Jurisdiction, err = requireString(m, path, "jurisdiction", true); err != nil {
			return nil, err
		}
		if lc.ActName, err = requireString(m, path, "act_name", true); err != nil {
			return nil, err
		}
		if lc.SinceDate, err = requireString(m, path, "since_date", true); err != nil {
			return nil, err
		}
		if err := checkDate(join(path, "since_date"), lc.SinceDate); err != nil {
			return nil, err
		}
		if lc.Why, err = requireString(m, path, "why", false); err != nil {
			return nil, err
		}
		out = append(out, lc)
	}
	return out, nil
}

func (v *Validator) proposedActions(obj map[string]any) ([]plan.ProposedAction, error) {
	arr, err := requireArray(obj, "", "proposed_actions")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(arr))
	out := make([]plan.ProposedAction, 0, len(arr))
	for i, el := range arr {
		path := index("proposed_actions", i)
		m, err := elementObject(el, path)
		if err != nil {
			return nil, err
		}
		if err := rejectUnknown(m, path,
			"id", "kind", "tool", "payload", "preconditions", "can_execute", "rationale",
		); err != nil {
			return nil, err
		}

		id, err := requireString(m, path, "id", true)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			return nil, fieldErr(join(path, "id"), "duplicate action id %q", id)
		}
		seen[id] = true

		kindStr, err := requireString(m, path, "kind", true)
		if err != nil {
			return nil, err
		}
		kind := plan.ActionKind(kindStr)
		if !kind.Valid() {
			return nil, fieldErr(join(path, "kind"), "unknown action kind %q", kindStr)
		}

		tool, err := requireString(m, path, "tool", true)
		if err != nil {
			return nil, err
		}
		if _, err := v.registry.Lookup(tool); err != nil {
			return nil, fieldErr(join(path, "tool"), "%v", err)
		}

		payload, err := requireObject(m, path, "payload")
		if err != nil {
			return nil, err
		}
		if err := v.registry.ValidatePayload(tool, payload); err != nil {
			return nil, fieldErr(join(path, "payload"), "%v", err)
		}

		pre, err := preconditions(m, path)
		if err != nil {
			return nil, err
		}

		if err := canExecuteFalse(m, path); err != nil {
			return nil, err
		}

		rationale, err := requireString(m, path, "rationale", false)
		if err != nil {
			return nil, err
		}

		out = append(out, plan.ProposedAction{
			ID:            id,
			Kind:          kind,
			Tool:          tool,
			Payload:       payload,
			Preconditions: pre,
			Rationale:     rationale,
		})
	}
	return out, nil
}

func preconditions(m map[string]any, path string) ([]plan.CheckClass, error) {
	list, err := requireStringList(m, path, "preconditions")
	if err != nil {
		return nil, err
	}
	field := join(path, "preconditions")
	seen := make(map[plan.CheckClass]bool, len(list))
	out := make([]plan.CheckClass, 0, len(list))
	for i, s := range list {
		c := plan.CheckClass(s)
		if !c.Valid() {
			return nil, fieldErr(index(field, i), "unknown precondition %q", s)
		}
		if seen[c] {
			return nil, fieldErr(index(field, i), "duplicate precondition %q", s)
		}
		seen[c] = true
		out = append(out, c)
	}
	return out, nil
}

// canExecuteFalse requires the literal false. A document asserting true is
// rejected rather than corrected.
func canExecuteFalse(m map[string]any, path string) error {
	field := join(path, "can_execute")
	v, ok := m["can_execute"]
	if !ok {
		return fieldErr(field, "required")
	}
	b, ok := v.(bool)
	if !ok {
		return fieldErr(field, "must be a boolean")
	}
	if b {
		return fieldErr(field, "must be false")
	}
	return nil
}

func planVerification(obj map[string]any) (*plan.PlanVerification, error) {
	if err := checkEnvelope(obj, plan.TypePlanVerification); err != nil {
		return nil, err
	}
	if err := rejectUnknown(obj, "", "type", "version", "checks", "open_issues"); err != nil {
		return nil, err
	}

	checks, err := requireObject(obj, "", "checks")
	if err != nil {
		return nil, err
	}
	names := make([]string, len(plan.CheckClasses))
	for i, c := range plan.CheckClasses {
		names[i] = string(c)
	}
	if err := rejectUnknown(checks, "checks", names...); err != nil {
		return nil, err
	}

	pv := plan.NewPlanVerification()
	for _, c := range plan.CheckClasses {
		path := join("checks", string(c))
		m, err := requireObject(checks, "checks", string(c))
		if err != nil {
			return nil, err
		}
		res, err := checkResult(m, path)
		if err != nil {
			return nil, err
		}
		if err := pv.Record(c, res); err != nil {
			return nil, fieldErr(path, "%v", err)
		}
	}

	issues, err := requireStringList(obj, "", "open_issues")
	if err != nil {
		return nil, err
	}
	pv.OpenIssues = issues
	return pv, nil
}

func checkResult(m map[string]any, path string) (plan.CheckResult, error) {
	if err := rejectUnknown(m, path, "status", "evidence", "notes"); err != nil {
		return plan.CheckResult{}, err
	}
	statusStr, err := requireString(m, path, "status", true)
	if err != nil {
		return plan.CheckResult{}, err
	}
	status, ok := plan.ParseCheckStatus(statusStr)
	if !ok {
		return plan.CheckResult{}, fieldErr(join(path, "status"), "unknown status %q", statusStr)
	}

	arr, err := requireArray(m, path, "evidence")
	if err != nil {
		return plan.CheckResult{}, err
	}
	evidence := make([]plan.Evidence, 0, len(arr))
	for i, el := range arr {
		epath := index(join(path, "evidence"), i)
		em, err := elementObject(el, epath)
		if err != nil {
			return plan.CheckResult{}, err
		}
		if err := rejectUnknown(em, epath, "source", "title", "date"); err != nil {
			return plan.CheckResult{}, err
		}
		var ev plan.Evidence
		if ev.Source, err = requireString(em, epath, "source", true); err != nil {
			return plan.CheckResult{}, err
		}
		if ev.Title, err = requireString(em, epath, "title", false); err != nil {
			return plan.CheckResult{}, err
		}
		if ev.Date, err = requireString(em, epath, "date", false); err != nil {
			return plan.CheckResult{}, err
		}
		if ev.Date != "" {
			if err := checkDate(join(epath, "date"), ev.Date); err != nil {
				return plan.CheckResult{}, err
			}
		}
		evidence = append(evidence, ev)
	}

	notes, err := requireString(m, path, "notes", false)
	if err != nil {
		return plan.CheckResult{}, err
	}
	return plan.CheckResult{Status: status, Evidence: evidence, Notes: notes}, nil
}

func decision(obj map[string]any, p *plan.PlanAction) (*plan.Decision, error) {
	if err := checkEnvelope(obj, plan.TypeDecision); err != nil {
		return nil, err
	}
	if err := rejectUnknown(obj, "",
		"type", "version", "summary", "approved_actions",
		"deferred_actions", "rejected_actions", "next_questions",
	); err != nil {
		return nil, err
	}

	d := &plan.Decision{}
	var err error
	if d.Summary, err = requireString(obj, "", "summary", true); err != nil {
		return nil, err
	}
	if d.ApprovedActions, err = requireStringList(obj, "", "approved_actions"); err != nil {
		return nil, err
	}
	if d.DeferredActions, err = requireStringList(obj, "", "deferred_actions"); err != nil {
		return nil, err
	}
	if d.RejectedActions, err = requireStringList(obj, "", "rejected_actions"); err != nil {
		return nil, err
	}
	if d.NextQuestions, err = requireStringList(obj, "", "next_questions"); err != nil {
		return nil, err
	}
	if err := CheckDecision(d, p); err != nil {
		return nil, err
	}
	return d, nil
}

// CheckDecision enforces the Decision invariants: the three id lists are
// pairwise disjoint, every id belongs to p (when p is non-nil), and
// next_questions is bounded.
func CheckDecision(d *plan.Decision, p *plan.PlanAction) error {
	if d.Summary == "" {
		return fieldErr("summary", "must not be empty")
	}
	if len(d.NextQuestions) > plan.MaxNextQuestions {
		return fieldErr("next_questions", "at most %d questions allowed, got %d",
			plan.MaxNextQuestions, len(d.NextQuestions))
	}

	var known map[string]bool
	if p != nil {
		known = make(map[string]bool, len(p.ProposedActions))
		for _, a := range p.ProposedActions {
			known[a.ID] = true
		}
	}

	owner := make(map[string]string)
	lists := []struct {
		name string
		ids  []string
	}{
		{"approved_actions", d.ApprovedActions},
		{"deferred_actions", d.DeferredActions},
		{"rejected_actions", d.RejectedActions},
	}
	for _, l := range lists {
		for i, id := range l.ids {
			field := index(l.name, i)
			if prev, ok := owner[id]; ok {
				if prev == l.name {
					return fieldErr(field, "duplicate action id %q", id)
				}
				return fieldErr(field, "action id %q already listed in %s", id, prev)
			}
			owner[id] = l.name
			if known != nil && !known[id] {
				return fieldErr(field, "action id %q is not in the plan", id)
			}
		}
	}
	return nil
}

// Describe renders err as feedback for the candidate generator.
func Describe(err error) string {
	if ve, ok := AsValidationError(err); ok {
		if ve.Field == "" {
			return ve.Reason
		}
		return fmt.Sprintf("field %s: %s", ve.Field, ve.Reason)
	}
	return err.Error()
}

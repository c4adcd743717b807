package plan

// Document type tags and the only supported schema version.
const (
	TypePlanAction       = "plan_action"
	TypePlanVerification = "plan_verification"
	TypeDecision         = "decision"

	Version = "1.0"
)

// ActionKind classifies what a proposed action does.
type ActionKind string

const (
	KindAnalysis ActionKind = "analysis"
	KindOrder    ActionKind = "order"
	KindPayment  ActionKind = "payment"
	KindDocument ActionKind = "document"
	KindTask     ActionKind = "task"
)

// Valid reports whether k is one of the fixed action kinds.
func (k ActionKind) Valid() bool {
	switch k {
	case KindAnalysis, KindOrder, KindPayment, KindDocument, KindTask:
		return true
	default:
		return false
	}
}

// MovesMoney reports whether actions of this kind transfer value.
// Orders and payments are the only kinds that are simulated and limit-checked.
func (k ActionKind) MovesMoney() bool {
	return k == KindOrder || k == KindPayment
}

// CheckClass names one of the three verification check classes.
// The same names are used as proposed action preconditions.
type CheckClass string

const (
	CheckLaw      CheckClass = "law_ok"
	CheckSimulate CheckClass = "simulate_ok"
	CheckLimits   CheckClass = "limits_ok"
)

// CheckClasses lists every check class in canonical order.
var CheckClasses = []CheckClass{CheckLaw, CheckSimulate, CheckLimits}

// Valid reports whether c is one of the three check classes.
func (c CheckClass) Valid() bool {
	switch c {
	case CheckLaw, CheckSimulate, CheckLimits:
		return true
	default:
		return false
	}
}

// NeededData describes data the plan wants fetched before acting.
type NeededData struct {
	Name string `json:"name"`
	Tool string `json:"tool"`
	Why  string `json:"why"`
}

// LegalCheck is a statute the plan claims it must be checked against.
type LegalCheck struct {
	Jurisdiction string `json:"jurisdiction"`
	ActName      string `json:"act_name"`
	SinceDate    string `json:"since_date"` // YYYY-MM-DD
	Why          string `json:"why"`
}

// ProposedAction is a single action the model wants to take.
//
// canExecute is unexported and never assigned: a ProposedAction cannot be
// made executable by anything in this module.
type ProposedAction struct {
	ID            string         `json:"id"`
	Kind          ActionKind     `json:"kind"`
	Tool          string         `json:"tool"`
	Payload       map[string]any `json:"payload"`
	Preconditions []CheckClass   `json:"preconditions"`
	Rationale     string         `json:"rationale"`

	canExecute bool
}

// CanExecute is always false.
func (a ProposedAction) CanExecute() bool { return a.canExecute }

// Requires reports whether the action lists c among its preconditions.
func (a ProposedAction) Requires(c CheckClass) bool {
	for _, p := range a.Preconditions {
		if p == c {
			return true
		}
	}
	return false
}

// PlanAction is a validated candidate plan.
type PlanAction struct {
	Goal            string           `json:"goal"`
	Assumptions     []string         `json:"assumptions"`
	NeededData      []NeededData     `json:"needed_data"`
	LegalChecks     []LegalCheck     `json:"legal_checks"`
	RiskFlags       []string         `json:"risk_flags"`
	ProposedActions []ProposedAction `json:"proposed_actions"`
}

// ActionIDs returns the proposed action ids in plan order.
func (p *PlanAction) ActionIDs() []string {
	ids := make([]string, len(p.ProposedActions))
	for i, a := range p.ProposedActions {
		ids[i] = a.ID
	}
	return ids
}

// RequiredChecks returns the check classes referenced by any action's
// preconditions, in canonical order.
func (p *PlanAction) RequiredChecks() []CheckClass {
	var out []CheckClass
	for _, c := range CheckClasses {
		for _, a := range p.ProposedActions {
			if a.Requires(c) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Requires reports whether any action lists c among its preconditions.
func (p *PlanAction) Requires(c CheckClass) bool {
	for _, a := range p.ProposedActions {
		if a.Requires(c) {
			return true
		}
	}
	return false
}

// Decision is the final disposition over a plan's proposed actions.
type Decision struct {
	Summary         string   `json:"summary"`
	ApprovedActions []string `json:"approved_actions"`
	DeferredActions []string `json:"deferred_actions"`
	RejectedActions []string `json:"rejected_actions"`
	NextQuestions   []string `json:"next_questions"`
}

// MaxNextQuestions bounds Decision.NextQuestions.
const MaxNextQuestions = 4

package plan

import "fmt"

// CheckStatus is the tri-state outcome of a verification check.
type CheckStatus int

const (
	StatusUnknown CheckStatus = iota
	StatusPass
	StatusFail
)

// String returns the wire name of the status.
func (s CheckStatus) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusPass:
		return "pass"
	case StatusFail:
		return "fail"
	default:
		return fmt.Sprintf("CheckStatus(%d)", int(s))
	}
}

// ParseCheckStatus maps a wire name back to a CheckStatus.
func ParseCheckStatus(s string) (CheckStatus, bool) {
	switch s {
	case "unknown":
		return StatusUnknown, true
	case "pass":
		return StatusPass, true
	case "fail":
		return StatusFail, true
	default:
		return StatusUnknown, false
	}
}

// MarshalText encodes the status as its wire name.
func (s CheckStatus) MarshalText() ([]byte, error) {
	switch s {
	case StatusUnknown, StatusPass, StatusFail:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("invalid check status %d", int(s))
	}
}

// UnmarshalText decodes a wire name.
func (s *CheckStatus) UnmarshalText(b []byte) error {
	v, ok := ParseCheckStatus(string(b))
	if !ok {
		return fmt.Errorf("invalid check status %q", string(b))
	}
	*s = v
	return nil
}

// Evidence is a citation backing a legal check.
type Evidence struct {
	Source string `json:"source"`
	Title  string `json:"title"`
	Date   string `json:"date"`
}

// CheckResult is the outcome of one check class.
type CheckResult struct {
	Status   CheckStatus `json:"status"`
	Evidence []Evidence  `json:"evidence"`
	Notes    string      `json:"notes"`
}

// Checks holds one result per check class.
type Checks struct {
	LawOK      CheckResult `json:"law_ok"`
	SimulateOK CheckResult `json:"simulate_ok"`
	LimitsOK   CheckResult `json:"limits_ok"`
}

// Get returns the result for class c.
func (c *Checks) Get(class CheckClass) CheckResult {
	switch class {
	case CheckLaw:
		return c.LawOK
	case CheckSimulate:
		return c.SimulateOK
	case CheckLimits:
		return c.LimitsOK
	default:
		return CheckResult{Status: StatusUnknown}
	}
}

func (c *Checks) slot(class CheckClass) *CheckResult {
	switch class {
	case CheckLaw:
		return &c.LawOK
	case CheckSimulate:
		return &c.SimulateOK
	case CheckLimits:
		return &c.LimitsOK
	default:
		return nil
	}
}

// PlanVerification is the result of checking a plan's preconditions.
type PlanVerification struct {
	Checks     Checks   `json:"checks"`
	OpenIssues []string `json:"open_issues"`

	assessed map[CheckClass]bool
}

// NewPlanVerification returns a verification with every check unknown.
func NewPlanVerification() *PlanVerification {
	return &PlanVerification{
		OpenIssues: []string{},
		assessed:   make(map[CheckClass]bool, len(CheckClasses)),
	}
}

// Record sets the result for class exactly once per verification run.
func (v *PlanVerification) Record(class CheckClass, result CheckResult) error {
	slot := v.Checks.slot(class)
	if slot == nil {
		return fmt.Errorf("Record: unknown check class %q", class)
	}
	if v.assessed == nil {
		v.assessed = make(map[CheckClass]bool, len(CheckClasses))
	}
	if v.assessed[class] {
		return fmt.Errorf("Record: %s already recorded", class)
	}
	v.assessed[class] = true
	*slot = result
	return nil
}

// AddIssue appends an open issue.
func (v *PlanVerification) AddIssue(issue string) {
	v.OpenIssues = append(v.OpenIssues, issue)
}

// AllPass reports whether every check class passed.
func (v *PlanVerification) AllPass() bool {
	for _, c := range CheckClasses {
		if v.Checks.Get(c).Status != StatusPass {
			return false
		}
	}
	return true
}

// Failed returns the check classes whose status is fail, in canonical order.
func (v *PlanVerification) Failed() []CheckClass {
	var out []CheckClass
	for _, c := range CheckClasses {
		if v.Checks.Get(c).Status == StatusFail {
			out = append(out, c)
		}
	}
	return out
}

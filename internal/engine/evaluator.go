package engine

import (
	"context"

	"github.com/triage-ai/palisade/services/plan_guard/internal/limits"
	"github.com/triage-ai/palisade/services/plan_guard/internal/plan"
)

// Check is the interface every verification check must implement.
// Implementations must respect context deadlines and return quickly.
type Check interface {
	// Name returns the check's unique identifier.
	Name() string

	// Class returns the check class this check resolves.
	Class() plan.CheckClass

	// Evaluate runs the check against the given request.
	// Must respect ctx deadline. Return early if ctx is cancelled.
	Evaluate(ctx context.Context, req *CheckRequest) (*plan.CheckResult, error)
}

// CheckRequest contains all the context a check needs.
// It is shared read-only across concurrently running checks.
type CheckRequest struct {
	UserID string
	Plan   *plan.PlanAction

	// Limits is the snapshot taken before fan-out. LimitsErr is set when
	// the snapshot could not be taken.
	Limits    limits.RiskLimits
	LimitsErr error
}

// VerifyRequest is the input to Engine.Verify.
type VerifyRequest struct {
	UserID string
	Plan   *plan.PlanAction
}

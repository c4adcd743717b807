package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/triage-ai/palisade/services/plan_guard/internal/limits"
	"github.com/triage-ai/palisade/services/plan_guard/internal/plan"
)

// Engine fans out the checks a plan requires in parallel and composes
// their results into a PlanVerification.
type Engine struct {
	checks  map[plan.CheckClass]Check
	limits  limits.Store
	timeout time.Duration
	logger  *zap.Logger
}

// NewEngine creates an engine with the given checks and timeout.
// At most one check per class is kept; later entries replace earlier ones.
func NewEngine(checks []Check, store limits.Store, timeout time.Duration, logger *zap.Logger) *Engine {
	byClass := make(map[plan.CheckClass]Check, len(checks))
	for _, c := range checks {
		byClass[c.Class()] = c
	}
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Engine{
		checks:  byClass,
		limits:  store,
		timeout: timeout,
		logger:  logger,
	}
}

// checkOutput holds a single check's result alongside its metadata.
type checkOutput struct {
	name   string
	class  plan.CheckClass
	result *plan.CheckResult
	err    error
}

// Verify runs every check class referenced by the plan's preconditions
// and returns the composed verification. Classes no action requires stay
// unknown and raise no issue.
//
// Each goroutine sends its result through a buffered channel. When the
// deadline fires, the classes still in flight resolve to unknown; nothing
// a late check sends afterwards is read.
func (e *Engine) Verify(ctx context.Context, req *VerifyRequest) *plan.PlanVerification {
	start := time.Now()
	v := plan.NewPlanVerification()

	required := req.Plan.RequiredChecks()
	if len(required) == 0 {
		return v
	}

	creq := &CheckRequest{UserID: req.UserID, Plan: req.Plan}
	if req.Plan.Requires(plan.CheckLimits) {
		if e.limits == nil {
			creq.LimitsErr = fmt.Errorf("no risk limit store configured")
		} else {
			creq.Limits, creq.LimitsErr = e.snapshotLimits(ctx, req.UserID)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ch := make(chan checkOutput, len(required))
	pending := make(map[plan.CheckClass]bool, len(required))
	results := make(map[plan.CheckClass]plan.CheckResult, len(required))

	for _, class := range required {
		c, ok := e.checks[class]
		if !ok {
			results[class] = unknown("no check configured for %s", class)
			continue
		}
		pending[class] = true
		go func(c Check) {
			out := checkOutput{name: c.Name(), class: c.Class()}
			defer func() {
				if r := recover(); r != nil {
					out.result, out.err = nil, fmt.Errorf("check panicked: %v", r)
				}
				ch <- out
			}()
			out.result, out.err = c.Evaluate(ctx, creq)
		}(c)
	}

	for len(pending) > 0 {
		select {
		case out := <-ch:
			delete(pending, out.class)
			results[out.class] = e.interpret(out)
		case <-ctx.Done():
			e.logger.Warn("check timeout exceeded, unresolved checks are unknown",
				zap.Duration("timeout", e.timeout),
				zap.Int("pending", len(pending)),
			)
			for _, class := range plan.CheckClasses {
				if pending[class] {
					results[class] = unknown("%s did not complete: %v", class, ctx.Err())
				}
			}
			pending = nil
		}
	}

	// Compose in canonical order so open issues do not depend on completion order.
	for _, class := range required {
		e.resolve(v, class, results[class])
	}

	e.logger.Debug("plan verified",
		zap.String("user_id", req.UserID),
		zap.Duration("latency", time.Since(start)),
		zap.Int("open_issues", len(v.OpenIssues)),
	)
	return v
}

// snapshotLimits reads the user's limits under the engine timeout. A store
// that does not answer in time leaves limits_ok unknown.
func (e *Engine) snapshotLimits(ctx context.Context, userID string) (limits.RiskLimits, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type snapshot struct {
		limits limits.RiskLimits
		err    error
	}
	ch := make(chan snapshot, 1)
	go func() {
		l, err := e.limits.GetLimits(ctx, userID)
		ch <- snapshot{l, err}
	}()

	select {
	case s := <-ch:
		return s.limits, s.err
	case <-ctx.Done():
		e.logger.Warn("risk limit snapshot timed out",
			zap.String("user_id", userID),
			zap.Duration("timeout", e.timeout),
		)
		return limits.RiskLimits{}, fmt.Errorf("risk limit snapshot: %w", ctx.Err())
	}
}

func (e *Engine) interpret(out checkOutput) plan.CheckResult {
	if out.err != nil {
		e.logger.Warn("check error",
			zap.String("check", out.name),
			zap.Error(out.err),
		)
		return unknown("check error: %v", out.err)
	}
	if out.result == nil {
		return unknown("%s returned no result", out.name)
	}
	switch out.result.Status {
	case plan.StatusPass, plan.StatusFail, plan.StatusUnknown:
		return *out.result
	default:
		return unknown("%s returned invalid status %d", out.name, int(out.result.Status))
	}
}

// resolve records a required class and raises an issue unless it passed.
func (e *Engine) resolve(v *plan.PlanVerification, class plan.CheckClass, r plan.CheckResult) {
	if err := v.Record(class, r); err != nil {
		e.logger.Error("verification result rejected", zap.String("class", string(class)), zap.Error(err))
		return
	}
	switch r.Status {
	case plan.StatusPass:
	case plan.StatusFail:
		v.AddIssue(fmt.Sprintf("%s failed: %s", class, r.Notes))
	default:
		v.AddIssue(fmt.Sprintf("%s unknown: %s", class, r.Notes))
	}
}

func unknown(format string, args ...any) plan.CheckResult {
	return plan.CheckResult{Status: plan.StatusUnknown, Notes: fmt.Sprintf(format, args...)}
}

package checks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/triage-ai/palisade/services/plan_guard/internal/engine"
	"github.com/triage-ai/palisade/services/plan_guard/internal/plan"
)

// LawResult is a legal collaborator's answer for one statute.
type LawResult struct {
	Status   plan.CheckStatus
	Evidence []plan.Evidence
	Notes    string
}

// LegalLookup checks a plan against one statute.
type LegalLookup interface {
	CheckLaw(ctx context.Context, jurisdiction, act, since string) (LawResult, error)
}

// LawCheck resolves law_ok by looking up every legal check the plan declares.
type LawCheck struct {
	lookup      LegalLookup
	callTimeout time.Duration
	concurrency int
	logger      *zap.Logger
}

func NewLawCheck(lookup LegalLookup, callTimeout time.Duration, concurrency int, logger *zap.Logger) *LawCheck {
	if callTimeout <= 0 {
		callTimeout = engine.DefaultCallTimeout
	}
	if concurrency <= 0 {
		concurrency = engine.DefaultLawConcurrency
	}
	return &LawCheck{lookup: lookup, callTimeout: callTimeout, concurrency: concurrency, logger: logger}
}

func (c *LawCheck) Name() string {
	return "legal_lookup"
}

func (c *LawCheck) Class() plan.CheckClass {
	return plan.CheckLaw
}

type lawOutcome struct {
	result LawResult
	err    error
}

func (c *LawCheck) Evaluate(ctx context.Context, req *engine.CheckRequest) (*plan.CheckResult, error) {
	entries := req.Plan.LegalChecks
	if len(entries) == 0 {
		return &plan.CheckResult{
			Status: plan.StatusUnknown,
			Notes:  "law_ok is required but the plan declares no legal checks",
		}, nil
	}

	outcomes := make([]lawOutcome, len(entries))
	var g errgroup.Group
	g.SetLimit(c.concurrency)

	for i, lc := range entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i].err = err
				return nil
			}
			callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
			outcomes[i].result, outcomes[i].err = c.lookup.CheckLaw(callCtx, lc.Jurisdiction, lc.ActName, lc.SinceDate)
			return nil
		})
	}
	_ = g.Wait()

	result := &plan.CheckResult{Status: plan.StatusPass}
	var failed, unresolved []string
	for i, out := range outcomes {
		act := fmt.Sprintf("%s %s", entries[i].Jurisdiction, entries[i].ActName)
		if out.err != nil {
			c.logger.Warn("legal lookup failed",
				zap.String("jurisdiction", entries[i].Jurisdiction),
				zap.String("act", entries[i].ActName),
				zap.Error(out.err),
			)
			unresolved = append(unresolved, act)
			continue
		}
		result.Evidence = append(result.Evidence, out.result.Evidence...)
		switch out.result.Status {
		case plan.StatusPass:
		case plan.StatusFail:
			failed = append(failed, act)
		default:
			unresolved = append(unresolved, act)
		}
	}

	switch {
	case len(failed) > 0:
		result.Status = plan.StatusFail
		result.Notes = "not compliant with: " + strings.Join(failed, ", ")
	case len(unresolved) > 0:
		result.Status = plan.StatusUnknown
		result.Notes = "could not confirm: " + strings.Join(unresolved, ", ")
	default:
		result.Notes = fmt.Sprintf("%d legal checks passed", len(entries))
	}
	return result, nil
}

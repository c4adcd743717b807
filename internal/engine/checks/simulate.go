package checks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/triage-ai/palisade/services/plan_guard/internal/engine"
	"github.com/triage-ai/palisade/services/plan_guard/internal/plan"
	"github.com/triage-ai/palisade/services/plan_guard/internal/registry"
)

// SimulationResult is a dry run of one tool call.
type SimulationResult struct {
	OK      bool
	Details string
}

// Simulator dry-runs a tool call without side effects.
type Simulator interface {
	Simulate(ctx context.Context, tool string, payload map[string]any) (SimulationResult, error)
}

// SimulateCheck resolves simulate_ok by dry-running every order and payment.
type SimulateCheck struct {
	sim         Simulator
	registry    registry.ToolRegistry
	callTimeout time.Duration
	logger      *zap.Logger
}

func NewSimulateCheck(sim Simulator, reg registry.ToolRegistry, callTimeout time.Duration, logger *zap.Logger) *SimulateCheck {
	if callTimeout <= 0 {
		callTimeout = engine.DefaultCallTimeout
	}
	return &SimulateCheck{sim: sim, registry: reg, callTimeout: callTimeout, logger: logger}
}

func (c *SimulateCheck) Name() string {
	return "simulation"
}

func (c *SimulateCheck) Class() plan.CheckClass {
	return plan.CheckSimulate
}

func (c *SimulateCheck) Evaluate(ctx context.Context, req *engine.CheckRequest) (*plan.CheckResult, error) {
	var unresolved []string
	simulated := 0

	for _, a := range req.Plan.ProposedActions {
		if !a.Kind.MovesMoney() {
			continue
		}
		simulated++

		contract, err := c.registry.Lookup(a.Tool)
		if err != nil {
			unresolved = append(unresolved, fmt.Sprintf("%s (%v)", a.ID, err))
			continue
		}
		if !contract.CanSimulate {
			unresolved = append(unresolved, fmt.Sprintf("%s (tool %s cannot be simulated)", a.ID, a.Tool))
			continue
		}

		res, err := c.simulate(ctx, a)
		if err != nil {
			c.logger.Warn("simulation failed",
				zap.String("action_id", a.ID),
				zap.String("tool", a.Tool),
				zap.Error(err),
			)
			unresolved = append(unresolved, fmt.Sprintf("%s (simulation error)", a.ID))
			continue
		}
		if !res.OK {
			notes := fmt.Sprintf("simulation of action %s failed", a.ID)
			if res.Details != "" {
				notes += ": " + res.Details
			}
			return &plan.CheckResult{Status: plan.StatusFail, Notes: notes}, nil
		}
	}

	switch {
	case simulated == 0:
		return &plan.CheckResult{Status: plan.StatusPass, Notes: "nothing to simulate"}, nil
	case len(unresolved) > 0:
		return &plan.CheckResult{
			Status: plan.StatusUnknown,
			Notes:  "could not simulate: " + strings.Join(unresolved, ", "),
		}, nil
	default:
		return &plan.CheckResult{
			Status: plan.StatusPass,
			Notes:  fmt.Sprintf("%d actions simulated successfully", simulated),
		}, nil
	}
}

func (c *SimulateCheck) simulate(ctx context.Context, a plan.ProposedAction) (SimulationResult, error) {
	if err := ctx.Err(); err != nil {
		return SimulationResult{}, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.sim.Simulate(callCtx, a.Tool, a.Payload)
}

package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/triage-ai/palisade/services/plan_guard/internal/engine"
	"github.com/triage-ai/palisade/services/plan_guard/internal/plan"
)

// LimitsCheck resolves limits_ok by comparing each order and payment amount
// with the risk limits snapshot in the request.
type LimitsCheck struct{}

func NewLimitsCheck() *LimitsCheck {
	return &LimitsCheck{}
}

func (c *LimitsCheck) Name() string {
	return "risk_limits"
}

func (c *LimitsCheck) Class() plan.CheckClass {
	return plan.CheckLimits
}

func (c *LimitsCheck) Evaluate(_ context.Context, req *engine.CheckRequest) (*plan.CheckResult, error) {
	if req.LimitsErr != nil {
		return &plan.CheckResult{
			Status: plan.StatusUnknown,
			Notes:  fmt.Sprintf("risk limits unavailable: %v", req.LimitsErr),
		}, nil
	}

	var unresolved []string
	for _, a := range req.Plan.ProposedActions {
		if !a.Kind.MovesMoney() {
			continue
		}
		amount, err := parseAmount(a.Payload["amount"])
		if err != nil {
			unresolved = append(unresolved, fmt.Sprintf("%s (%v)", a.ID, err))
			continue
		}

		limit := req.Limits.MaxTradeAmount
		if a.Kind == plan.KindPayment {
			limit = req.Limits.PaymentLimit()
		}
		if amount.GreaterThan(limit) {
			return &plan.CheckResult{
				Status: plan.StatusFail,
				Notes: fmt.Sprintf("action %s amount %s exceeds %s limit %s",
					a.ID, amount.String(), a.Kind, limit.String()),
			}, nil
		}
	}

	if len(unresolved) > 0 {
		return &plan.CheckResult{
			Status: plan.StatusUnknown,
			Notes:  "could not read amount: " + strings.Join(unresolved, ", "),
		}, nil
	}
	return &plan.CheckResult{Status: plan.StatusPass, Notes: "all amounts within limits"}, nil
}

// parseAmount reads a payload amount without rounding through float64
// where the source allows it.
func parseAmount(v any) (decimal.Decimal, error) {
	var (
		d   decimal.Decimal
		err error
	)
	switch x := v.(type) {
	case nil:
		return decimal.Decimal{}, fmt.Errorf("missing amount")
	case json.Number:
		d, err = decimal.NewFromString(x.String())
	case string:
		d, err = decimal.NewFromString(strings.TrimSpace(x))
	case float64:
		d = decimal.NewFromFloat(x)
	case int:
		d = decimal.NewFromInt(int64(x))
	case int64:
		d = decimal.NewFromInt(x)
	default:
		return decimal.Decimal{}, fmt.Errorf("amount has type %T", v)
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("non-numeric amount")
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("negative amount")
	}
	return d, nil
}

package checks

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/triage-ai/palisade/services/plan_guard/internal/engine"
	"github.com/triage-ai/palisade/services/plan_guard/internal/limits"
	"github.com/triage-ai/palisade/services/plan_guard/internal/plan"
)

func limitsReq(p *plan.PlanAction) *engine.CheckRequest {
	return &engine.CheckRequest{
		UserID: "u1",
		Plan:   p,
		Limits: limits.RiskLimits{
			UserID:           "u1",
			MaxTradeAmount:   decimal.NewFromInt(1000),
			MaxPaymentAmount: decimal.NewFromInt(250),
		},
	}
}

func TestLimitsCheck_WithinLimits(t *testing.T) {
	p := &plan.PlanAction{ProposedActions: []plan.ProposedAction{order("o1", "1000.00")}}
	res, err := NewLimitsCheck().Evaluate(context.Background(), limitsReq(p))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != plan.StatusPass {
		t.Fatalf("expected pass, got %v (%s)", res.Status, res.Notes)
	}
}

func TestLimitsCheck_OrderOverLimitNamesAction(t *testing.T) {
	p := &plan.PlanAction{ProposedActions: []plan.ProposedAction{order("o1", "100"), order("big", "50000")}}
	res, _ := NewLimitsCheck().Evaluate(context.Background(), limitsReq(p))
	if res.Status != plan.StatusFail {
		t.Fatalf("expected fail, got %v", res.Status)
	}
	if !strings.Contains(res.Notes, "big") {
		t.Fatalf("notes must name the violating action: %q", res.Notes)
	}
}

func TestLimitsCheck_PaymentUsesPaymentLimit(t *testing.T) {
	p := &plan.PlanAction{ProposedActions: []plan.ProposedAction{
		{ID: "p1", Kind: plan.KindPayment, Tool: "charge_customer", Payload: map[string]any{"amount": "300"}},
	}}
	res, _ := NewLimitsCheck().Evaluate(context.Background(), limitsReq(p))
	if res.Status != plan.StatusFail {
		t.Fatalf("expected fail against payment limit, got %v", res.Status)
	}
}

func TestLimitsCheck_PaymentFallsBackToTradeLimit(t *testing.T) {
	p := &plan.PlanAction{ProposedActions: []plan.ProposedAction{
		{ID: "p1", Kind: plan.KindPayment, Tool: "charge_customer", Payload: map[string]any{"amount": 300.0}},
	}}
	req := limitsReq(p)
	req.Limits.MaxPaymentAmount = decimal.Zero
	res, _ := NewLimitsCheck().Evaluate(context.Background(), req)
	if res.Status != plan.StatusPass {
		t.Fatalf("expected pass against trade limit, got %v (%s)", res.Status, res.Notes)
	}
}

func TestLimitsCheck_MissingAmountIsUnknown(t *testing.T) {
	p := &plan.PlanAction{ProposedActions: []plan.ProposedAction{
		{ID: "o1", Kind: plan.KindOrder, Tool: "place_order", Payload: map[string]any{"symbol": "VTI"}},
	}}
	res, _ := NewLimitsCheck().Evaluate(context.Background(), limitsReq(p))
	if res.Status != plan.StatusUnknown {
		t.Fatalf("expected unknown, got %v", res.Status)
	}
}

func TestLimitsCheck_NonNumericAmountIsUnknown(t *testing.T) {
	p := &plan.PlanAction{ProposedActions: []plan.ProposedAction{
		{ID: "o1", Kind: plan.KindOrder, Tool: "place_order", Payload: map[string]any{"amount": "lots"}},
	}}
	res, _ := NewLimitsCheck().Evaluate(context.Background(), limitsReq(p))
	if res.Status != plan.StatusUnknown {
		t.Fatalf("expected unknown, got %v", res.Status)
	}
}

func TestLimitsCheck_ViolationBeatsUnknown(t *testing.T) {
	p := &plan.PlanAction{ProposedActions: []plan.ProposedAction{
		{ID: "o1", Kind: plan.KindOrder, Tool: "place_order", Payload: map[string]any{"amount": "lots"}},
		order("o2", "5000"),
	}}
	res, _ := NewLimitsCheck().Evaluate(context.Background(), limitsReq(p))
	if res.Status != plan.StatusFail {
		t.Fatalf("expected fail, got %v", res.Status)
	}
}

func TestLimitsCheck_UnavailableLimitsIsUnknown(t *testing.T) {
	p := &plan.PlanAction{ProposedActions: []plan.ProposedAction{order("o1", "1")}}
	req := limitsReq(p)
	req.LimitsErr = errors.New("db down")
	res, _ := NewLimitsCheck().Evaluate(context.Background(), req)
	if res.Status != plan.StatusUnknown {
		t.Fatalf("expected unknown, got %v", res.Status)
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   any
		want string
		ok   bool
	}{
		{json.Number("12.50"), "12.5", true},
		{"  99 ", "99", true},
		{42.25, "42.25", true},
		{7, "7", true},
		{nil, "", false},
		{"-5", "", false},
		{true, "", false},
	}
	for _, tc := range cases {
		got, err := parseAmount(tc.in)
		if (err == nil) != tc.ok {
			t.Fatalf("parseAmount(%v): unexpected error state %v", tc.in, err)
		}
		if tc.ok && got.String() != tc.want {
			t.Fatalf("parseAmount(%v) = %s, want %s", tc.in, got.String(), tc.want)
		}
	}
}

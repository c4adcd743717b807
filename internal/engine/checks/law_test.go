package checks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/triage-ai/palisade/services/plan_guard/internal/engine"
	"github.com/triage-ai/palisade/services/plan_guard/internal/plan"
)

// stubLookup answers by act name.
type stubLookup struct {
	mu       sync.Mutex
	answers  map[string]LawResult
	errs     map[string]error
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *stubLookup) CheckLaw(ctx context.Context, _, act, _ string) (LawResult, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return LawResult{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[act]; err != nil {
		return LawResult{}, err
	}
	return s.answers[act], nil
}

func lawPlan(acts ...string) *plan.PlanAction {
	p := &plan.PlanAction{}
	for _, a := range acts {
		p.LegalChecks = append(p.LegalChecks, plan.LegalCheck{Jurisdiction: "US", ActName: a, SinceDate: "2020-01-01"})
	}
	return p
}

func passWith(source string) LawResult {
	return LawResult{Status: plan.StatusPass, Evidence: []plan.Evidence{{Source: source, Title: source + " title", Date: "2021-01-01"}}}
}

func TestLawCheck_AllPassCollectsEvidenceInOrder(t *testing.T) {
	lookup := &stubLookup{answers: map[string]LawResult{
		"A": passWith("a"), "B": passWith("b"), "C": passWith("c"),
	}}
	c := NewLawCheck(lookup, time.Second, 2, zap.NewNop())

	res, err := c.Evaluate(context.Background(), &engine.CheckRequest{Plan: lawPlan("A", "B", "C")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != plan.StatusPass {
		t.Fatalf("expected pass, got %v (%s)", res.Status, res.Notes)
	}
	if len(res.Evidence) != 3 || res.Evidence[0].Source != "a" || res.Evidence[2].Source != "c" {
		t.Fatalf("evidence not in input order: %+v", res.Evidence)
	}
}

func TestLawCheck_ExplicitFailWins(t *testing.T) {
	lookup := &stubLookup{
		answers: map[string]LawResult{"A": passWith("a"), "B": {Status: plan.StatusFail}},
		errs:    map[string]error{"C": errors.New("unreachable")},
	}
	c := NewLawCheck(lookup, time.Second, 4, zap.NewNop())

	res, _ := c.Evaluate(context.Background(), &engine.CheckRequest{Plan: lawPlan("A", "B", "C")})
	if res.Status != plan.StatusFail {
		t.Fatalf("expected fail, got %v", res.Status)
	}
}

func TestLawCheck_ErrorIsUnknown(t *testing.T) {
	lookup := &stubLookup{
		answers: map[string]LawResult{"A": passWith("a")},
		errs:    map[string]error{"B": errors.New("unreachable")},
	}
	c := NewLawCheck(lookup, time.Second, 4, zap.NewNop())

	res, _ := c.Evaluate(context.Background(), &engine.CheckRequest{Plan: lawPlan("A", "B")})
	if res.Status != plan.StatusUnknown {
		t.Fatalf("expected unknown, got %v", res.Status)
	}
}

func TestLawCheck_CallTimeoutIsUnknown(t *testing.T) {
	lookup := &stubLookup{answers: map[string]LawResult{"A": passWith("a")}, delay: 200 * time.Millisecond}
	c := NewLawCheck(lookup, 5*time.Millisecond, 4, zap.NewNop())

	res, _ := c.Evaluate(context.Background(), &engine.CheckRequest{Plan: lawPlan("A")})
	if res.Status != plan.StatusUnknown {
		t.Fatalf("expected unknown on timeout, got %v", res.Status)
	}
}

func TestLawCheck_NoLegalChecksIsUnknown(t *testing.T) {
	c := NewLawCheck(&stubLookup{}, time.Second, 4, zap.NewNop())
	res, _ := c.Evaluate(context.Background(), &engine.CheckRequest{Plan: lawPlan()})
	if res.Status != plan.StatusUnknown {
		t.Fatalf("expected unknown, got %v", res.Status)
	}
}

func TestLawCheck_ConcurrencyBounded(t *testing.T) {
	answers := map[string]LawResult{}
	acts := []string{"A", "B", "C", "D", "E", "F"}
	for _, a := range acts {
		answers[a] = passWith(a)
	}
	lookup := &stubLookup{answers: answers, delay: 20 * time.Millisecond}
	c := NewLawCheck(lookup, time.Second, 2, zap.NewNop())

	res, _ := c.Evaluate(context.Background(), &engine.CheckRequest{Plan: lawPlan(acts...)})
	if res.Status != plan.StatusPass {
		t.Fatalf("expected pass, got %v", res.Status)
	}
	if peak := lookup.peak.Load(); peak > 2 {
		t.Fatalf("expected at most 2 concurrent lookups, saw %d", peak)
	}
}

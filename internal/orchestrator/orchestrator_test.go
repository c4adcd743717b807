package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/triage-ai/palisade/services/plan_guard/internal/engine"
	"github.com/triage-ai/palisade/services/plan_guard/internal/engine/checks"
	"github.com/triage-ai/palisade/services/plan_guard/internal/generator"
	"github.com/triage-ai/palisade/services/plan_guard/internal/ledger"
	"github.com/triage-ai/palisade/services/plan_guard/internal/limits"
	"github.com/triage-ai/palisade/services/plan_guard/internal/plan"
	"github.com/triage-ai/palisade/services/plan_guard/internal/registry"
	"github.com/triage-ai/palisade/services/plan_guard/internal/validate"
)

const analysisPlan = `{
  "type": "plan_action", "version": "1.0",
  "goal": "review my portfolio",
  "assumptions": ["holdings are current"],
  "needed_data": [{"name": "holdings", "tool": "portfolio_analysis", "why": "baseline"}],
  "legal_checks": [],
  "risk_flags": [],
  "proposed_actions": [{
    "id": "a1", "kind": "analysis", "tool": "portfolio_analysis", "payload": {},
    "preconditions": ["simulate_ok", "limits_ok"], "can_execute": false,
    "rationale": "understand allocation"
  }]
}`

func orderPlan(amount string) string {
	return `{
  "type": "plan_action", "version": "1.0",
  "goal": "buy index fund",
  "assumptions": [],
  "needed_data": [],
  "legal_checks": [],
  "risk_flags": ["market_risk"],
  "proposed_actions": [{
    "id": "o1", "kind": "order", "tool": "place_order",
    "payload": {"symbol": "VTI", "side": "buy", "amount": ` + amount + `},
    "preconditions": ["simulate_ok", "limits_ok"], "can_execute": false,
    "rationale": "diversify"
  }]
}`
}

// recordingGenerator returns queued candidates and records every request.
type recordingGenerator struct {
	mu      sync.Mutex
	outputs []string
	errs    []error
	reqs    []generator.GenerateRequest
}

func (g *recordingGenerator) Generate(_ context.Context, req generator.GenerateRequest) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := len(g.reqs)
	g.reqs = append(g.reqs, req)
	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	if i < len(g.outputs) {
		return []byte(g.outputs[i]), nil
	}
	return nil, generator.ErrGeneratorUnavailable
}

// stubSimulator always answers the same way.
type stubSimulator struct {
	ok  bool
	err error
}

func (s stubSimulator) Simulate(context.Context, string, map[string]any) (checks.SimulationResult, error) {
	return checks.SimulationResult{OK: s.ok}, s.err
}

// failingLedger rejects every append.
type failingLedger struct{ n int }

func (l *failingLedger) Append(*ledger.ExecutionRecord) error { l.n++; return ledger.ErrBufferFull }
func (l *failingLedger) Failures() uint64                     { return uint64(l.n) }
func (l *failingLedger) Close()                               {}

type fixture struct {
	orch   *Orchestrator
	gen    *recordingGenerator
	ledger *ledger.MemoryLedger
}

func newFixture(t *testing.T, sim checks.Simulator, outputs ...string) *fixture {
	t.Helper()
	reg, err := registry.NewDefault()
	if err != nil {
		t.Fatal(err)
	}
	logger := zap.NewNop()
	eng := engine.NewEngine([]engine.Check{
		checks.NewLawCheck(stubLawNeverCalled{t}, time.Second, 2, logger),
		checks.NewSimulateCheck(sim, reg, time.Second, logger),
		checks.NewLimitsCheck(),
	}, limits.NewStaticStore(decimal.NewFromInt(1000), decimal.Zero), time.Second, logger)

	gen := &recordingGenerator{outputs: outputs}
	mem := ledger.NewMemoryLedger()
	return &fixture{
		orch:   New(gen, validate.New(reg), eng, mem, logger),
		gen:    gen,
		ledger: mem,
	}
}

type stubLawNeverCalled struct{ t *testing.T }

func (s stubLawNeverCalled) CheckLaw(context.Context, string, string, string) (checks.LawResult, error) {
	s.t.Error("legal lookup must not be called for plans without law_ok")
	return checks.LawResult{}, errors.New("unexpected")
}

func recordNames(records []ledger.ExecutionRecord) []string {
	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Name
	}
	return names
}

func assertNames(t *testing.T, got []ledger.ExecutionRecord, want ...string) {
	t.Helper()
	names := recordNames(got)
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("expected records %v, got %v", want, names)
	}
}

func TestRun_AnalysisPlanApproved(t *testing.T) {
	f := newFixture(t, stubSimulator{ok: true}, analysisPlan)
	out := f.orch.Run(context.Background(), Query{UserID: "u1", Goal: "review my portfolio"})

	if out.Phase != PhaseComplete {
		t.Fatalf("expected complete, got %s", out.Phase)
	}
	v := out.Verification
	if v.Checks.SimulateOK.Status != plan.StatusPass || v.Checks.LimitsOK.Status != plan.StatusPass {
		t.Fatalf("expected simulate and limits pass: %+v", v.Checks)
	}
	if v.Checks.LawOK.Status != plan.StatusUnknown {
		t.Fatalf("expected law unknown, got %v", v.Checks.LawOK.Status)
	}
	if len(out.Decision.ApprovedActions) != 1 || out.Decision.ApprovedActions[0] != "a1" {
		t.Fatalf("expected a1 approved, got %+v", out.Decision)
	}
	assertNames(t, f.ledger.Session(out.SessionID), ledger.NamePlan, ledger.NameVerify, ledger.NameDecide)
}

func TestRun_OrderOverLimitRejected(t *testing.T) {
	f := newFixture(t, stubSimulator{ok: true}, orderPlan("50000"))
	out := f.orch.Run(context.Background(), Query{UserID: "u1", Goal: "buy"})

	if out.Verification.Checks.LimitsOK.Status != plan.StatusFail {
		t.Fatalf("expected limits fail, got %v", out.Verification.Checks.LimitsOK.Status)
	}
	if !strings.Contains(out.Verification.Checks.LimitsOK.Notes, "o1") {
		t.Fatalf("limits note must name o1: %q", out.Verification.Checks.LimitsOK.Notes)
	}
	if len(out.Decision.RejectedActions) != 1 || out.Decision.RejectedActions[0] != "o1" {
		t.Fatalf("expected o1 rejected, got %+v", out.Decision)
	}
	if len(out.Decision.NextQuestions) == 0 {
		t.Fatal("expected follow-up questions")
	}
}

func TestRun_SimulatorErrorDefers(t *testing.T) {
	f := newFixture(t, stubSimulator{err: errors.New("simulator down")}, orderPlan("500"))
	out := f.orch.Run(context.Background(), Query{UserID: "u1", Goal: "buy"})

	if out.Verification.Checks.SimulateOK.Status != plan.StatusUnknown {
		t.Fatalf("expected simulate unknown, got %v", out.Verification.Checks.SimulateOK.Status)
	}
	if len(out.Decision.DeferredActions) != 1 || out.Decision.DeferredActions[0] != "o1" {
		t.Fatalf("expected o1 deferred, got %+v", out.Decision)
	}
	if len(out.Decision.ApprovedActions) != 0 {
		t.Fatal("unknown simulation must not approve the order")
	}
}

func TestRun_TwoMalformedCandidatesRejected(t *testing.T) {
	f := newFixture(t, stubSimulator{ok: true}, `{"type":"plan_action"`, `{"type":"decision","version":"1.0"}`)
	out := f.orch.Run(context.Background(), Query{UserID: "u1", Goal: "anything"})

	if out.Phase != PhaseComplete || out.Plan != nil {
		t.Fatalf("expected complete without a plan, got %s %+v", out.Phase, out.Plan)
	}
	if !strings.Contains(out.Decision.Summary, "generation failed") {
		t.Fatalf("summary must state generation failed: %q", out.Decision.Summary)
	}
	d := out.Decision
	if len(d.ApprovedActions)+len(d.DeferredActions)+len(d.RejectedActions) != 0 {
		t.Fatalf("rejection must not name actions: %+v", d)
	}

	records := f.ledger.Session(out.SessionID)
	assertNames(t, records, ledger.NamePlanValidationError, ledger.NamePlanValidationError, ledger.NameDecide)
	if len(f.gen.reqs) != 2 {
		t.Fatalf("expected exactly one regeneration, got %d calls", len(f.gen.reqs))
	}
}

func TestRun_RegenerationCarriesFeedback(t *testing.T) {
	bad := strings.Replace(analysisPlan, `"can_execute": false`, `"can_execute": true`, 1)
	f := newFixture(t, stubSimulator{ok: true}, bad, analysisPlan)
	out := f.orch.Run(context.Background(), Query{UserID: "u1", Goal: "review"})

	if out.Plan == nil {
		t.Fatal("expected the regenerated plan to be accepted")
	}
	if f.gen.reqs[0].Feedback != "" {
		t.Fatal("first attempt must carry no feedback")
	}
	if !strings.Contains(f.gen.reqs[1].Feedback, "can_execute") {
		t.Fatalf("feedback must name the failing field: %q", f.gen.reqs[1].Feedback)
	}
	assertNames(t, f.ledger.Session(out.SessionID),
		ledger.NamePlanValidationError, ledger.NamePlan, ledger.NameVerify, ledger.NameDecide)
}

func TestRun_GeneratorUnavailable(t *testing.T) {
	f := newFixture(t, stubSimulator{ok: true})
	f.gen.errs = []error{generator.ErrGeneratorUnavailable, generator.ErrGeneratorUnavailable}
	out := f.orch.Run(context.Background(), Query{UserID: "u1", Goal: "g"})

	if out.Plan != nil || out.Phase != PhaseComplete {
		t.Fatal("expected completion without a plan")
	}
	assertNames(t, f.ledger.Session(out.SessionID),
		ledger.NamePlanGenerationError, ledger.NamePlanGenerationError, ledger.NameDecide)
}

func TestRun_CancelledDefersEverything(t *testing.T) {
	f := newFixture(t, stubSimulator{ok: true}, analysisPlan)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := f.orch.Run(ctx, Query{UserID: "u1", Goal: "g"})
	if out.Phase != PhaseComplete {
		t.Fatalf("expected complete, got %s", out.Phase)
	}
	if len(out.Decision.ApprovedActions) != 0 {
		t.Fatal("a cancelled session must approve nothing")
	}
	assertNames(t, f.ledger.Session(out.SessionID), ledger.NameDecide)
}

// cancellingVerifier cancels the session while verification runs.
type cancellingVerifier struct{ cancel context.CancelFunc }

func (c cancellingVerifier) Verify(_ context.Context, _ *engine.VerifyRequest) *plan.PlanVerification {
	c.cancel()
	v := plan.NewPlanVerification()
	for _, class := range plan.CheckClasses {
		_ = v.Record(class, plan.CheckResult{Status: plan.StatusPass})
	}
	return v
}

func TestRun_CancelledDuringVerification(t *testing.T) {
	reg, _ := registry.NewDefault()
	mem := ledger.NewMemoryLedger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch := New(generator.NewStatic([]byte(analysisPlan)), validate.New(reg), cancellingVerifier{cancel}, mem, zap.NewNop())
	out := orch.Run(ctx, Query{UserID: "u1", Goal: "g"})

	if len(out.Decision.DeferredActions) != 1 || out.Decision.DeferredActions[0] != "a1" {
		t.Fatalf("expected a1 deferred, got %+v", out.Decision)
	}
	assertNames(t, mem.Session(out.SessionID), ledger.NamePlan, ledger.NameDecide)
}

func TestRun_LedgerFailureDoesNotAbort(t *testing.T) {
	reg, _ := registry.NewDefault()
	l := &failingLedger{}
	eng := engine.NewEngine([]engine.Check{checks.NewLimitsCheck()},
		limits.NewStaticStore(decimal.NewFromInt(1000), decimal.Zero), time.Second, zap.NewNop())
	orch := New(generator.NewStatic([]byte(analysisPlan)), validate.New(reg), eng, l, zap.NewNop())

	out := orch.Run(context.Background(), Query{UserID: "u1", Goal: "g"})
	if out.Phase != PhaseComplete || out.Decision == nil {
		t.Fatal("session must complete despite ledger failures")
	}
	if l.Failures() != 3 {
		t.Fatalf("expected 3 failed appends, got %d", l.Failures())
	}
}

func TestRun_CanExecuteAlwaysFalse(t *testing.T) {
	f := newFixture(t, stubSimulator{ok: true}, orderPlan("10"))
	out := f.orch.Run(context.Background(), Query{UserID: "u1", Goal: "buy"})

	for _, a := range out.Plan.ProposedActions {
		if a.CanExecute() {
			t.Fatalf("action %s is executable", a.ID)
		}
	}
	raw, err := json.Marshal(out.Plan)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"can_execute":false`) {
		t.Fatalf("serialized plan must carry can_execute false: %s", raw)
	}
}

func TestRun_ConcurrentSessionsDoNotInterleave(t *testing.T) {
	reg, _ := registry.NewDefault()
	mem := ledger.NewMemoryLedger()
	eng := engine.NewEngine([]engine.Check{checks.NewLimitsCheck()},
		limits.NewStaticStore(decimal.NewFromInt(1000), decimal.Zero), time.Second, zap.NewNop())
	orch := New(generator.NewStatic([]byte(analysisPlan)), validate.New(reg), eng, mem, zap.NewNop())

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = orch.Run(context.Background(), Query{UserID: "u", Goal: "g"}).SessionID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assertNames(t, mem.Session(id), ledger.NamePlan, ledger.NameVerify, ledger.NameDecide)
	}
}

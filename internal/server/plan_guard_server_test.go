package server

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/triage-ai/palisade/services/plan_guard/internal/auth"
	"github.com/triage-ai/palisade/services/plan_guard/internal/engine"
	"github.com/triage-ai/palisade/services/plan_guard/internal/engine/checks"
	"github.com/triage-ai/palisade/services/plan_guard/internal/generator"
	"github.com/triage-ai/palisade/services/plan_guard/internal/ledger"
	"github.com/triage-ai/palisade/services/plan_guard/internal/limits"
	"github.com/triage-ai/palisade/services/plan_guard/internal/orchestrator"
	"github.com/triage-ai/palisade/services/plan_guard/internal/plan"
	"github.com/triage-ai/palisade/services/plan_guard/internal/registry"
	"github.com/triage-ai/palisade/services/plan_guard/internal/validate"
)

const orderPlan = `{
  "type": "plan_action", "version": "1.0",
  "goal": "buy index fund",
  "assumptions": [], "needed_data": [], "legal_checks": [], "risk_flags": [],
  "proposed_actions": [
    {"id": "a1", "kind": "analysis", "tool": "portfolio_analysis", "payload": {},
     "preconditions": [], "can_execute": false, "rationale": "baseline"},
    {"id": "o1", "kind": "order", "tool": "place_order",
     "payload": {"symbol": "VTI", "side": "buy", "amount": 50000},
     "preconditions": ["limits_ok"], "can_execute": false, "rationale": "diversify"}
  ]
}`

// scopedAuthenticator grants a fixed scope set to any well-formed key.
type scopedAuthenticator struct{ scopes []string }

func (a scopedAuthenticator) Authenticate(ctx context.Context) (*auth.Caller, error) {
	if _, err := auth.ExtractBearerToken(ctx); err != nil {
		return nil, err
	}
	return &auth.Caller{ProjectID: "p1", Scopes: a.scopes}, nil
}

// setupTestServer creates a real gRPC server+client for integration testing.
func setupTestServer(t *testing.T, authenticator auth.Authenticator, candidates ...string) (*PlanGuardServiceClient, *ledger.MemoryLedger, func()) {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	reg, err := registry.NewDefault()
	if err != nil {
		t.Fatal(err)
	}
	eng := engine.NewEngine([]engine.Check{checks.NewLimitsCheck()},
		limits.NewStaticStore(decimal.NewFromInt(1000), decimal.Zero), 100*time.Millisecond, logger)

	raw := make([][]byte, len(candidates))
	for i, c := range candidates {
		raw[i] = []byte(c)
	}
	mem := ledger.NewMemoryLedger()
	v := validate.New(reg)
	orch := orchestrator.New(generator.NewStatic(raw...), v, eng, mem, logger)

	grpcServer := grpc.NewServer()
	RegisterPlanGuardServiceServer(grpcServer, NewPlanGuardServer(orch, v, authenticator, logger))

	lis, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		_ = grpcServer.Serve(lis)
	}()

	conn, err := grpc.NewClient(
		lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}

	cleanup := func() {
		_ = conn.Close()
		grpcServer.Stop()
	}

	return NewPlanGuardServiceClient(conn), mem, cleanup
}

func authCtx() context.Context {
	md := metadata.New(map[string]string{
		"authorization": "Bearer tsk_testkey1234",
	})
	return metadata.NewOutgoingContext(context.Background(), md)
}

func TestServer_PlanOverLimitRejected(t *testing.T) {
	client, mem, cleanup := setupTestServer(t, auth.NewStaticAuthenticator(), orderPlan)
	defer cleanup()

	resp, err := client.Plan(authCtx(), &PlanRequest{UserID: "u1", Goal: "buy index fund"})
	if err != nil {
		t.Fatal(err)
	}

	if resp.SessionID == "" {
		t.Fatal("expected non-empty session_id")
	}
	if resp.Phase != string(orchestrator.PhaseComplete) {
		t.Fatalf("expected complete, got %s", resp.Phase)
	}
	if resp.Verification.Checks.LimitsOK.Status != plan.StatusFail {
		t.Fatalf("expected limits fail, got %v", resp.Verification.Checks.LimitsOK.Status)
	}
	if len(resp.Decision.RejectedActions) != 1 || resp.Decision.RejectedActions[0] != "o1" {
		t.Fatalf("expected o1 rejected, got %+v", resp.Decision)
	}
	if len(resp.Decision.ApprovedActions) != 1 || resp.Decision.ApprovedActions[0] != "a1" {
		t.Fatalf("expected a1 approved, got %+v", resp.Decision)
	}
	if resp.LatencyMs <= 0 {
		t.Fatal("expected positive latency_ms")
	}
	if n := len(mem.Session(resp.SessionID)); n != 3 {
		t.Fatalf("expected 3 ledger records, got %d", n)
	}
}

func TestServer_PlanGenerationFailure(t *testing.T) {
	client, _, cleanup := setupTestServer(t, auth.NewStaticAuthenticator(), `not json`)
	defer cleanup()

	resp, err := client.Plan(authCtx(), &PlanRequest{UserID: "u1", Goal: "g"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Plan != nil || resp.Verification != nil {
		t.Fatal("expected no plan or verification")
	}
	if resp.Decision == nil || len(resp.Decision.NextQuestions) == 0 {
		t.Fatalf("expected a rejection decision, got %+v", resp.Decision)
	}
}

func TestServer_PlanRequiresGoalAndUser(t *testing.T) {
	client, _, cleanup := setupTestServer(t, auth.NewStaticAuthenticator(), orderPlan)
	defer cleanup()

	for _, req := range []*PlanRequest{{Goal: "g"}, {UserID: "u1"}} {
		_, err := client.Plan(authCtx(), req)
		if status.Code(err) != codes.InvalidArgument {
			t.Fatalf("expected InvalidArgument, got %v", err)
		}
	}
}

func TestServer_Unauthenticated(t *testing.T) {
	client, _, cleanup := setupTestServer(t, auth.NewStaticAuthenticator(), orderPlan)
	defer cleanup()

	_, err := client.Plan(context.Background(), &PlanRequest{UserID: "u1", Goal: "g"})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestServer_MissingScope(t *testing.T) {
	client, _, cleanup := setupTestServer(t, scopedAuthenticator{scopes: []string{auth.ScopeValidate}}, orderPlan)
	defer cleanup()

	_, err := client.Plan(authCtx(), &PlanRequest{UserID: "u1", Goal: "g"})
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
	if _, err := client.Validate(authCtx(), &ValidateRequest{Document: json.RawMessage(orderPlan)}); err != nil {
		t.Fatalf("validate scope should suffice for Validate: %v", err)
	}
}

func TestServer_ValidateValidDocument(t *testing.T) {
	client, _, cleanup := setupTestServer(t, auth.NewStaticAuthenticator())
	defer cleanup()

	resp, err := client.Validate(authCtx(), &ValidateRequest{Document: json.RawMessage(orderPlan)})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Valid || resp.Type != plan.TypePlanAction {
		t.Fatalf("expected valid plan_action, got %+v", resp)
	}
}

func TestServer_ValidateReportsFirstViolation(t *testing.T) {
	client, _, cleanup := setupTestServer(t, auth.NewStaticAuthenticator())
	defer cleanup()

	bad := strings.Replace(orderPlan, `"can_execute": false, "rationale": "diversify"`, `"can_execute": true, "rationale": "diversify"`, 1)
	resp, err := client.Validate(authCtx(), &ValidateRequest{Document: json.RawMessage(bad)})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Valid {
		t.Fatal("expected invalid document")
	}
	if resp.Field != "proposed_actions[1].can_execute" {
		t.Fatalf("unexpected field %q (%s)", resp.Field, resp.Reason)
	}
}

func TestServer_ValidateEmptyDocument(t *testing.T) {
	client, _, cleanup := setupTestServer(t, auth.NewStaticAuthenticator())
	defer cleanup()

	_, err := client.Validate(authCtx(), &ValidateRequest{})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestJSONCodec_Name(t *testing.T) {
	if (jsonCodec{}).Name() != "json" {
		t.Fatal("unexpected codec name")
	}
}

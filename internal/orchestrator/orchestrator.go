package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/triage-ai/palisade/services/plan_guard/internal/engine"
	"github.com/triage-ai/palisade/services/plan_guard/internal/generator"
	"github.com/triage-ai/palisade/services/plan_guard/internal/ledger"
	"github.com/triage-ai/palisade/services/plan_guard/internal/plan"
	"github.com/triage-ai/palisade/services/plan_guard/internal/validate"
)

// maxAttempts is the first candidate plus one regeneration.
const maxAttempts = 2

// Verifier computes a PlanVerification for a validated plan.
type Verifier interface {
	Verify(ctx context.Context, req *engine.VerifyRequest) *plan.PlanVerification
}

// Query is one user request for a plan.
type Query struct {
	UserID  string
	Goal    string
	Context map[string]any
}

// Outcome is the result of a completed session. Decision is always set;
// Plan and Verification are nil when the session ended before them.
type Outcome struct {
	SessionID    string
	Phase        Phase
	Plan         *plan.PlanAction
	Verification *plan.PlanVerification
	Decision     *plan.Decision
	Latency      time.Duration
}

// Orchestrator drives sessions through planning, verification and decision.
// Nothing it does executes a proposed action.
type Orchestrator struct {
	generator generator.Generator
	validator *validate.Validator
	verifier  Verifier
	ledger    ledger.Ledger
	logger    *zap.Logger
}

func New(gen generator.Generator, v *validate.Validator, verifier Verifier, l ledger.Ledger, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		generator: gen,
		validator: v,
		verifier:  verifier,
		ledger:    l,
		logger:    logger,
	}
}

// Run executes one planning session to completion. It never returns an
// error: every path ends in a well-formed Decision.
func (o *Orchestrator) Run(ctx context.Context, q Query) *Outcome {
	start := time.Now()
	s := newSession(q.UserID)
	log := o.logger.With(zap.String("session_id", s.ID), zap.String("user_id", q.UserID))

	if o.planning(ctx, s, q, log) {
		if o.verifying(ctx, s, log) {
			o.deciding(s, log)
		}
	}

	log.Info("session complete",
		zap.Int("approved", len(s.decision.ApprovedActions)),
		zap.Int("deferred", len(s.decision.DeferredActions)),
		zap.Int("rejected", len(s.decision.RejectedActions)),
		zap.Duration("latency", time.Since(start)),
	)
	return &Outcome{
		SessionID:    s.ID,
		Phase:        s.phase,
		Plan:         s.plan,
		Verification: s.verification,
		Decision:     s.decision,
		Latency:      time.Since(start),
	}
}

// planning obtains a valid plan, regenerating once with feedback.
// It reports whether the session should continue.
func (o *Orchestrator) planning(ctx context.Context, s *Session, q Query, log *zap.Logger) bool {
	input := marshal(map[string]any{"goal": q.Goal, "context": q.Context})
	feedback := ""

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			o.cancel(s, log)
			return false
		}

		raw, err := o.generator.Generate(ctx, generator.GenerateRequest{
			Goal:     q.Goal,
			Context:  q.Context,
			Feedback: feedback,
		})
		if err != nil {
			if ctx.Err() != nil {
				o.cancel(s, log)
				return false
			}
			log.Warn("plan generation failed", zap.Int("attempt", attempt), zap.Error(err))
			o.record(s, log, &ledger.ExecutionRecord{
				Name:      ledger.NamePlanGenerationError,
				Input:     input,
				Output:    marshal(map[string]any{"error": err.Error()}),
				Rationale: "candidate generator unavailable",
			})
			feedback = ""
			continue
		}

		p, err := o.validator.ValidatePlanAction(raw)
		if err != nil {
			feedback = validate.Describe(err)
			log.Info("candidate plan rejected", zap.Int("attempt", attempt), zap.String("reason", feedback))
			o.record(s, log, &ledger.ExecutionRecord{
				Name:      ledger.NamePlanValidationError,
				Input:     input,
				Output:    marshal(map[string]any{"error": feedback, "candidate": string(raw)}),
				Rationale: "candidate failed schema validation",
			})
			continue
		}

		s.plan = p
		o.record(s, log, &ledger.ExecutionRecord{
			Name:      ledger.NamePlan,
			Input:     input,
			Output:    marshal(p),
			RiskFlags: p.RiskFlags,
			Rationale: "plan generated and validated",
		})
		return o.advance(s, PhaseVerification, log)
	}

	s.decision = engine.RejectionDecision()
	o.complete(s, log, "no valid plan after regeneration")
	return false
}

func (o *Orchestrator) verifying(ctx context.Context, s *Session, log *zap.Logger) bool {
	if ctx.Err() != nil {
		o.cancel(s, log)
		return false
	}

	v := o.verifier.Verify(ctx, &engine.VerifyRequest{UserID: s.UserID, Plan: s.plan})
	if ctx.Err() != nil {
		o.cancel(s, log)
		return false
	}

	s.verification = v
	o.record(s, log, &ledger.ExecutionRecord{
		Name:      ledger.NameVerify,
		Input:     marshal(s.plan),
		Output:    marshal(v),
		RiskFlags: s.plan.RiskFlags,
		Rationale: "verification computed",
	})
	return o.advance(s, PhaseDecision, log)
}

func (o *Orchestrator) deciding(s *Session, log *zap.Logger) {
	d := engine.Decide(s.plan, s.verification)
	if err := validate.CheckDecision(d, s.plan); err != nil {
		log.Error("synthesized decision is malformed, deferring every action", zap.Error(err))
		d = engine.DeferAll(s.plan)
	}
	s.decision = d
	o.complete(s, log, "decision made")
}

// cancel completes the session with every action deferred.
func (o *Orchestrator) cancel(s *Session, log *zap.Logger) {
	log.Info("session cancelled", zap.String("phase", string(s.phase)))
	s.decision = engine.DeferAll(s.plan)
	o.complete(s, log, "session cancelled")
}

func (o *Orchestrator) complete(s *Session, log *zap.Logger, rationale string) {
	var flags []string
	input := "{}"
	if s.plan != nil {
		flags = s.plan.RiskFlags
		input = marshal(s.plan)
	}
	if s.verification != nil {
		input = marshal(s.verification)
	}
	o.record(s, log, &ledger.ExecutionRecord{
		Name:              ledger.NameDecide,
		Input:             input,
		Output:            marshal(s.decision),
		PermissionGranted: len(s.decision.ApprovedActions) > 0,
		RiskFlags:         flags,
		Rationale:         rationale,
	})
	o.advance(s, PhaseComplete, log)
}

func (o *Orchestrator) advance(s *Session, to Phase, log *zap.Logger) bool {
	if err := s.transition(to); err != nil {
		log.Error("session transition rejected", zap.Error(err))
		return false
	}
	return true
}

// record appends to the ledger. Failures are logged and never abort the session.
func (o *Orchestrator) record(s *Session, log *zap.Logger, r *ledger.ExecutionRecord) {
	r.RecordID = uuid.NewString()
	r.UserID = s.UserID
	r.SessionID = s.ID
	r.Timestamp = time.Now().UTC()
	if err := o.ledger.Append(r); err != nil {
		log.Warn("ledger append failed",
			zap.String("record", r.Name),
			zap.Uint64("ledger_failures_total", o.ledger.Failures()),
			zap.Error(err),
		)
	}
}

func marshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

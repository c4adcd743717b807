package server

import (
	"bytes"
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/triage-ai/palisade/services/plan_guard/internal/auth"
	"github.com/triage-ai/palisade/services/plan_guard/internal/orchestrator"
	"github.com/triage-ai/palisade/services/plan_guard/internal/validate"
)

// Planner runs one planning session.
type Planner interface {
	Run(ctx context.Context, q orchestrator.Query) *orchestrator.Outcome
}

// PlanGuardServer implements the PlanGuardService gRPC service.
type PlanGuardServer struct {
	planner   Planner
	validator *validate.Validator
	auth      auth.Authenticator
	logger    *zap.Logger
}

// NewPlanGuardServer creates a new PlanGuardServer with the given dependencies.
func NewPlanGuardServer(
	planner Planner,
	validator *validate.Validator,
	authenticator auth.Authenticator,
	logger *zap.Logger,
) *PlanGuardServer {
	return &PlanGuardServer{
		planner:   planner,
		validator: validator,
		auth:      authenticator,
		logger:    logger,
	}
}

// Plan implements the PlanGuardService.Plan RPC.
func (s *PlanGuardServer) Plan(ctx context.Context, req *PlanRequest) (*PlanResponse, error) {
	start := time.Now()

	caller, err := s.authorize(ctx, auth.ScopePlan)
	if err != nil {
		return nil, err
	}
	if req.UserID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}
	if req.Goal == "" {
		return nil, status.Error(codes.InvalidArgument, "goal is required")
	}

	out := s.planner.Run(ctx, orchestrator.Query{
		UserID:  req.UserID,
		Goal:    req.Goal,
		Context: req.Context,
	})

	s.logger.Info("plan served",
		zap.String("project_id", caller.ProjectID),
		zap.String("session_id", out.SessionID),
		zap.Int("approved", len(out.Decision.ApprovedActions)),
	)

	return &PlanResponse{
		SessionID:    out.SessionID,
		Phase:        string(out.Phase),
		Plan:         out.Plan,
		Verification: out.Verification,
		Decision:     out.Decision,
		LatencyMs:    float32(float64(time.Since(start)) / float64(time.Millisecond)),
	}, nil
}

// Validate implements the PlanGuardService.Validate RPC.
func (s *PlanGuardServer) Validate(ctx context.Context, req *ValidateRequest) (*ValidateResponse, error) {
	if _, err := s.authorize(ctx, auth.ScopeValidate); err != nil {
		return nil, err
	}
	if doc := bytes.TrimSpace(req.Document); len(doc) == 0 || bytes.Equal(doc, []byte("null")) {
		return nil, status.Error(codes.InvalidArgument, "document is required")
	}

	doc, err := s.validator.ValidateDocument(req.Document)
	if err != nil {
		ve, ok := validate.AsValidationError(err)
		if !ok {
			return nil, status.Errorf(codes.Internal, "validation failed: %v", err)
		}
		return &ValidateResponse{Valid: false, Field: ve.Field, Reason: ve.Reason}, nil
	}
	return &ValidateResponse{Valid: true, Type: doc.Type}, nil
}

func (s *PlanGuardServer) authorize(ctx context.Context, scope string) (*auth.Caller, error) {
	caller, err := auth.Require(ctx, s.auth, scope)
	switch {
	case err == nil:
		return caller, nil
	case errors.Is(err, auth.ErrForbidden):
		return nil, status.Errorf(codes.PermissionDenied, "missing scope %s", scope)
	default:
		return nil, status.Errorf(codes.Unauthenticated, "authentication failed: %v", err)
	}
}

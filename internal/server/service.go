package server

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"

	"github.com/triage-ai/palisade/services/plan_guard/internal/plan"
)

const (
	serviceName     = "triage.plan_guard.v1.PlanGuardService"
	planMethod      = "/" + serviceName + "/Plan"
	validateMethod  = "/" + serviceName + "/Validate"
	serviceMetadata = "plan_guard/v1/plan_guard.json"
)

// PlanRequest asks for a verified plan for one user goal.
type PlanRequest struct {
	UserID  string         `json:"user_id"`
	Goal    string         `json:"goal"`
	Context map[string]any `json:"context,omitempty"`
}

// PlanResponse carries the session's documents. Plan and Verification are
// absent when no valid plan was produced; Decision is always present.
type PlanResponse struct {
	SessionID    string                 `json:"session_id"`
	Phase        string                 `json:"phase"`
	Plan         *plan.PlanAction       `json:"plan,omitempty"`
	Verification *plan.PlanVerification `json:"verification,omitempty"`
	Decision     *plan.Decision         `json:"decision"`
	LatencyMs    float32                `json:"latency_ms"`
}

// ValidateRequest carries one document of any supported type.
type ValidateRequest struct {
	Document json.RawMessage `json:"document,omitempty"`
}

// ValidateResponse reports the first violation, if any.
type ValidateResponse struct {
	Valid  bool   `json:"valid"`
	Type   string `json:"type,omitempty"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// PlanGuardServiceServer is the server API for PlanGuardService.
type PlanGuardServiceServer interface {
	Plan(context.Context, *PlanRequest) (*PlanResponse, error)
	Validate(context.Context, *ValidateRequest) (*ValidateResponse, error)
}

// RegisterPlanGuardServiceServer registers srv on s.
func RegisterPlanGuardServiceServer(s grpc.ServiceRegistrar, srv PlanGuardServiceServer) {
	s.RegisterService(&PlanGuardServiceDesc, srv)
}

func planHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PlanRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PlanGuardServiceServer).Plan(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: planMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PlanGuardServiceServer).Plan(ctx, req.(*PlanRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func validateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ValidateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PlanGuardServiceServer).Validate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: validateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PlanGuardServiceServer).Validate(ctx, req.(*ValidateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// PlanGuardServiceDesc describes PlanGuardService for grpc.Server.
var PlanGuardServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PlanGuardServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Plan", Handler: planHandler},
		{MethodName: "Validate", Handler: validateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: serviceMetadata,
}

// PlanGuardServiceClient calls PlanGuardService with the JSON codec.
type PlanGuardServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewPlanGuardServiceClient(cc grpc.ClientConnInterface) *PlanGuardServiceClient {
	return &PlanGuardServiceClient{cc: cc}
}

func (c *PlanGuardServiceClient) Plan(ctx context.Context, in *PlanRequest, opts ...grpc.CallOption) (*PlanResponse, error) {
	out := new(PlanResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, planMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PlanGuardServiceClient) Validate(ctx context.Context, in *ValidateRequest, opts ...grpc.CallOption) (*ValidateResponse, error) {
	out := new(ValidateResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, validateMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/triage-ai/palisade/services/plan_guard/internal/engine/checks"
)

const simulatePath = "/v1/simulate"

// SimulationClient dry-runs tool calls against the simulation service.
type SimulationClient struct {
	http httpClient
}

func NewSimulationClient(baseURL string, timeout time.Duration) *SimulationClient {
	return &SimulationClient{http: newHTTPClient(baseURL, timeout)}
}

type simulateRequest struct {
	Tool    string         `json:"tool"`
	Payload map[string]any `json:"payload"`
}

type simulateResponse struct {
	OK      *bool  `json:"ok"`
	Details string `json:"details"`
}

func (c *SimulationClient) Simulate(ctx context.Context, tool string, payload map[string]any) (checks.SimulationResult, error) {
	var resp simulateResponse
	if err := c.http.postJSON(ctx, simulatePath, simulateRequest{Tool: tool, Payload: payload}, &resp); err != nil {
		return checks.SimulationResult{}, fmt.Errorf("Simulate: %w", err)
	}
	if resp.OK == nil {
		return checks.SimulationResult{}, fmt.Errorf("Simulate: response has no ok field")
	}
	return checks.SimulationResult{OK: *resp.OK, Details: resp.Details}, nil
}

// Unavailable stands in for a collaborator with no configured URL.
// Every call fails, so dependent checks resolve to unknown.
type Unavailable struct{}

func (Unavailable) CheckLaw(context.Context, string, string, string) (checks.LawResult, error) {
	return checks.LawResult{}, ErrNotConfigured
}

func (Unavailable) Simulate(context.Context, string, map[string]any) (checks.SimulationResult, error) {
	return checks.SimulationResult{}, ErrNotConfigured
}

package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/triage-ai/palisade/services/plan_guard/internal/engine/checks"
	"github.com/triage-ai/palisade/services/plan_guard/internal/plan"
)

const legalCheckPath = "/v1/check"

// LegalClient asks the legal lookup service whether a plan complies with a statute.
type LegalClient struct {
	http httpClient
}

func NewLegalClient(baseURL string, timeout time.Duration) *LegalClient {
	return &LegalClient{http: newHTTPClient(baseURL, timeout)}
}

type legalRequest struct {
	Jurisdiction string `json:"jurisdiction"`
	ActName      string `json:"act_name"`
	SinceDate    string `json:"since_date"`
}

type legalResponse struct {
	Status   *plan.CheckStatus `json:"status"`
	Evidence []plan.Evidence   `json:"evidence"`
	Notes    string            `json:"notes"`
}

func (c *LegalClient) CheckLaw(ctx context.Context, jurisdiction, act, since string) (checks.LawResult, error) {
	var resp legalResponse
	err := c.http.postJSON(ctx, legalCheckPath, legalRequest{
		Jurisdiction: jurisdiction,
		ActName:      act,
		SinceDate:    since,
	}, &resp)
	if err != nil {
		return checks.LawResult{}, fmt.Errorf("CheckLaw: %w", err)
	}
	if resp.Status == nil {
		return checks.LawResult{}, fmt.Errorf("CheckLaw: response has no status")
	}
	return checks.LawResult{Status: *resp.Status, Evidence: resp.Evidence, Notes: resp.Notes}, nil
}

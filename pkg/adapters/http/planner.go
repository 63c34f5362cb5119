package http

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/concierge/pkg/ports"
	"github.com/go-resty/resty/v2"
)

// PlannerClient implements ports.Planner over HTTP. It posts the
// ports.PlanRequest and returns the decoded JSON object untouched.
type PlannerClient struct {
	url    string
	client *resty.Client
}

// NewPlannerClient creates a planner client posting to url.
func NewPlannerClient(url string, client *resty.Client) *PlannerClient {
	if client == nil {
		client = resty.New()
	}
	return &PlannerClient{url: url, client: client}
}

// Plan implements ports.Planner.
func (p *PlannerClient) Plan(ctx context.Context, req ports.PlanRequest) (map[string]any, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(req).
		Post(p.url)
	if err != nil {
		return nil, fmt.Errorf("planner request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("planner request: %w", statusError(resp))
	}
	var out map[string]any
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("planner response: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("planner returned an empty body")
	}
	return out, nil
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/go-resty/resty/v2"
)

// IdempotencyHeader carries the invocation key to remote targets.
const IdempotencyHeader = "Idempotency-Key"

// Target is a ToolTarget backed by an HTTP endpoint. The request body is the
// ports.ToolRequest; the response body is a ports.ToolResponse.
//
// 2xx answers are taken as given (status defaults to succeeded), 4xx are
// permanent failures and 5xx or transport errors are transient. Retries are
// the broker's job, so the client itself never retries.
type Target struct {
	name   string
	url    string
	client *resty.Client
}

// NewTarget creates a target posting to url.
func NewTarget(name, url string, client *resty.Client) *Target {
	if client == nil {
		client = resty.New()
	}
	return &Target{name: name, url: url, client: client}
}

// NewClient creates a resty client for targets and planners.
// timeout bounds the whole exchange; zero leaves it to the context.
func NewClient(timeout time.Duration) *resty.Client {
	c := resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return c
}

// Invoke implements ports.ToolTarget.
func (t *Target) Invoke(ctx context.Context, req ports.ToolRequest) (ports.ToolResponse, error) {
	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader(IdempotencyHeader, req.IdempotencyKey).
		SetBody(req).
		Post(t.url)
	if err != nil {
		return ports.ToolResponse{}, &domain.ToolExecutionError{Tool: t.name, Transient: true, Err: err}
	}

	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		var out ports.ToolResponse
		if body := resp.Body(); len(body) > 0 {
			if err := json.Unmarshal(body, &out); err != nil {
				return ports.ToolResponse{}, &domain.ToolExecutionError{Tool: t.name, Transient: false, Err: fmt.Errorf("undecodable response: %w", err)}
			}
		}
		if out.Status == "" {
			out.Status = domain.ToolSucceeded
		}
		return out, nil
	case code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout:
		return ports.ToolResponse{}, &domain.ToolExecutionError{Tool: t.name, Transient: false, Err: statusError(resp)}
	default:
		return ports.ToolResponse{}, &domain.ToolExecutionError{Tool: t.name, Transient: true, Err: statusError(resp)}
	}
}

func statusError(resp *resty.Response) error {
	body := resp.String()
	if len(body) > 256 {
		body = body[:256]
	}
	if body == "" {
		return errors.New(resp.Status())
	}
	return fmt.Errorf("%s: %s", resp.Status(), body)
}

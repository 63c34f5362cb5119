package runtime

import (
	"context"
	"time"

	"github.com/aretw0/concierge/pkg/dialogue"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/pipeline"
	"github.com/aretw0/concierge/pkg/policy"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/aretw0/concierge/pkg/reducer"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// runTools evaluates and executes the candidate calls in order. The first
// call that is not allowed or does not succeed stops the batch.
func (o *Orchestrator) runTools(ctx context.Context, t *turn, calls []pipeline.CandidateCall, next *domain.ConversationState) (*domain.ConversationState, *domain.ToolResult) {
	if len(calls) == 0 {
		if pending, _ := next.Meta[domain.MetaPendingTool].(string); pending != "" {
			calls = []pipeline.CandidateCall{{Name: pending}}
		}
	}
	if len(calls) == 0 {
		if slot, ok := pipeline.FirstMissing(next, o.Policy.Required(t.vertical)); ok {
			next.NextAction = domain.ActionAsk
			t.reply.Missing = []string{string(slot)}
			t.reply.Text = pipeline.Question(string(slot))
		} else {
			next.NextAction = domain.ActionAnswer
		}
		return next, nil
	}
	if len(calls) > pipeline.MaxCalls {
		calls = calls[:pipeline.MaxCalls]
	}

	var (
		results []domain.ToolResult
		toolObs []reducer.Observation
		stalled *domain.ToolResult
	)
	for _, call := range calls {
		spec, _ := o.Policy.Spec(call.Name)
		inv := domain.NewInvocation(t.Key(), next.MetaInt(domain.MetaCycle), call.Name, o.buildArgs(spec, call.Args, next))

		start := time.Now()
		decision := o.Policy.Evaluate(inv, policy.Context{
			Vertical: t.vertical,
			Tier:     t.tier,
			Usage:    o.usage(ctx, t.WorkspaceID, spec.Class),
		})
		t.timed(domain.StagePolicy, start)

		if decision.Verdict == policy.NeedsMoreInfo {
			next.Meta[domain.MetaPendingTool] = call.Name
			next.NextAction = domain.ActionAsk
			t.reply.Missing = decision.Missing
			if len(decision.Missing) > 0 {
				t.reply.Text = pipeline.Question(decision.Missing[0])
			}
			break
		}
		if decision.Verdict == policy.Deny {
			o.logger.Info("tool call denied",
				"workspace_id", t.WorkspaceID,
				"conversation_id", t.ConversationID,
				"tool", call.Name,
				"reason", decision.Reason,
			)
			results = append(results, domain.Failed(call.Name, domain.ToolDenied, decision.Code, decision.Reason))
			next.NextAction = domain.ActionAnswer
			t.reply.ErrorCode = decision.Code
			t.reply.Text = deniedText(decision.Code)
			break
		}

		start = time.Now()
		tctx, span := tracer.Start(ctx, "tool", trace.WithAttributes(attribute.String("tool", call.Name)))
		res := o.Broker.Execute(tctx, inv)
		span.SetAttributes(attribute.String("status", string(res.Status)), attribute.Bool("cached", res.Cached))
		span.End()
		t.timed(domain.StageTools, start)

		// Replays were counted when they first ran.
		if spec.Class != "" && !res.Cached {
			o.countUsage(ctx, t.WorkspaceID, call.Name, spec.Class)
		}

		results = append(results, res)
		if !res.Succeeded() && (res.Code() == domain.CodeDeadline || ctx.Err() != nil) {
			stalled = &res
			break
		}
		toolObs = append(toolObs, reducer.ToolObservation{Result: res})
		if !res.Succeeded() {
			break
		}
	}
	t.reply.Results = results

	if len(toolObs) > 0 {
		start := time.Now()
		next, _ = o.Reducer.Apply(next, toolObs, t.now)
		t.timed(domain.StageReduce, start)
	}
	if stalled != nil {
		return o.stall(t, next, *stalled)
	}
	if len(toolObs) == 0 {
		return next, nil
	}

	last := toolObs[len(toolObs)-1].(reducer.ToolObservation).Result
	if last.Unavailable() {
		return o.unavailable(t, next, last)
	}
	if last.Succeeded() {
		delete(next.Meta, domain.MetaPendingTool)
		fired, tr := dialogue.Fire(next, domain.EventToolResult, map[string]any{"tool": last.Name, "status": string(last.Status)}, t.now)
		t.records = append(t.records, tr)
		return fired, &last
	}

	next.Meta[domain.MetaPendingTool] = last.Name
	t.reply.ErrorCode = last.Code()
	o.logger.Warn("tool call failed",
		"workspace_id", t.WorkspaceID,
		"conversation_id", t.ConversationID,
		"tool", last.Name,
		"status", last.Status,
		"code", last.Code(),
	)

	if next.MetaInt(domain.MetaToolFailures) >= o.settings.MaxToolFailures {
		fired, tr := dialogue.Fire(next, domain.EventHandoff, map[string]any{"reason": "tool_failures", "tool": last.Name}, t.now)
		t.records = append(t.records, tr)
		return fired, &last
	}
	if next.FSMState != domain.StateCheckout {
		next.NextAction = domain.ActionAnswer
	}
	return next, &last
}

// stall answers a turn whose deadline expired while a tool was still running.
// The call is not a failure: it stays pending and the next message retries
// it, usually from the idempotency cache.
func (o *Orchestrator) stall(t *turn, next *domain.ConversationState, res domain.ToolResult) (*domain.ConversationState, *domain.ToolResult) {
	o.logger.Warn("tool call outlived the turn",
		"workspace_id", t.WorkspaceID,
		"conversation_id", t.ConversationID,
		"tool", res.Name,
	)
	next.Meta[domain.MetaPendingTool] = res.Name
	next.NextAction = domain.ActionAsk
	t.reply.Fallback = true
	t.reply.ErrorCode = domain.CodeDeadline
	t.reply.Text, t.reply.Missing = pipeline.Stalled(next, o.Policy.Required(t.vertical))
	return next, &res
}

// unavailable drops the rejected date and time and asks for another one.
func (o *Orchestrator) unavailable(t *turn, next *domain.ConversationState, res domain.ToolResult) (*domain.ConversationState, *domain.ToolResult) {
	delete(next.Slots, domain.SlotDate)
	delete(next.Slots, domain.SlotTime)
	delete(next.Meta, domain.MetaPendingTool)
	next.NextAction = domain.ActionAsk
	t.reply.Text = pipeline.Unavailable
	if slot, ok := pipeline.FirstMissing(next, o.Policy.Required(t.vertical)); ok {
		t.reply.Missing = []string{string(slot)}
	}
	return next, &res
}

// buildArgs fills declared arguments from the proposal, then from slots.
// Undeclared proposal keys are dropped so the idempotency key only covers
// what the tool consumes.
func (o *Orchestrator) buildArgs(spec policy.ToolSpec, proposed map[string]any, state *domain.ConversationState) map[string]any {
	args := make(map[string]any)
	if len(spec.Args) == 0 {
		for k, v := range proposed {
			args[k] = v
		}
		return args
	}
	for _, field := range spec.Args {
		if v, ok := proposed[field.Name]; ok && v != nil && v != "" {
			args[field.Name] = o.normalizeArg(field.Name, v)
			continue
		}
		if name, ok := domain.ParseSlotName(field.Name); ok && state.Slots.Has(name) {
			args[field.Name] = state.Slots[name].Value
		}
	}
	return args
}

// normalizeArg canonicalizes slot-named string arguments. Invalid values are
// passed through for the policy engine to reject.
func (o *Orchestrator) normalizeArg(key string, v any) any {
	raw, ok := v.(string)
	if !ok {
		return v
	}
	name, ok := domain.ParseSlotName(key)
	if !ok {
		return v
	}
	if norm, err := o.Normalizer.Normalize(name, raw); err == nil {
		return norm
	}
	return v
}

func (o *Orchestrator) countUsage(ctx context.Context, workspaceID, tool string, class policy.ToolClass) {
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if _, err := o.Quota.Incr(qctx, ports.QuotaKey{WorkspaceID: workspaceID, Class: string(class)}); err != nil {
		o.logger.Warn("quota increment failed", "workspace_id", workspaceID, "tool", tool, "err", err)
	}
}

func (o *Orchestrator) usage(ctx context.Context, workspaceID string, class policy.ToolClass) map[policy.ToolClass]int {
	if class == "" {
		return nil
	}
	n, err := o.Quota.Usage(ctx, ports.QuotaKey{WorkspaceID: workspaceID, Class: string(class)})
	if err != nil {
		o.logger.Warn("quota read failed", "workspace_id", workspaceID, "class", class, "err", err)
		return nil
	}
	return map[policy.ToolClass]int{class: n}
}

func deniedText(code domain.ErrorCode) string {
	switch code {
	case domain.CodeRateLimited:
		return "You've reached the booking limit for now. Please try again later."
	case domain.CodeNotAllowed:
		return "Sorry, I can't help with that here."
	}
	return "Sorry, I couldn't do that with the details I have."
}

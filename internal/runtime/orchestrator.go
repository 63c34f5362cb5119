// Package runtime drives one conversation turn end to end: load, route,
// decide, gate, act, reduce and commit.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/aretw0/concierge/internal/logging"
	"github.com/aretw0/concierge/pkg/adapters/memory"
	"github.com/aretw0/concierge/pkg/canary"
	"github.com/aretw0/concierge/pkg/dialogue"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/pipeline"
	"github.com/aretw0/concierge/pkg/policy"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/aretw0/concierge/pkg/reducer"
	"github.com/aretw0/concierge/pkg/session"
	"github.com/aretw0/concierge/pkg/slots"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("concierge.runtime")

// commitTimeout bounds the final write, which runs even after the turn
// deadline so a finished tool call is never lost.
const commitTimeout = 5 * time.Second

const (
	conflictText = "Sorry, something changed while I was working on that. Please try again."
	genericText  = "Sorry, something went wrong on my side. Please try again."
)

// Policy is the subset of the policy engine used per turn.
type Policy interface {
	Evaluate(inv domain.ToolInvocation, pctx policy.Context) policy.Decision
	Spec(name string) (policy.ToolSpec, bool)
	Tools(vertical string) []domain.Tool
	Required(vertical string) []domain.SlotName
}

// Executor runs allowed tool invocations.
type Executor interface {
	Execute(ctx context.Context, inv domain.ToolInvocation) domain.ToolResult
}

// Settings tune the turn loop.
type Settings struct {
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold" validate:"gte=0,lte=1"`
	MaxFallbacks        int           `mapstructure:"max_fallbacks" validate:"gte=1"`
	MaxToolFailures     int           `mapstructure:"max_tool_failures" validate:"gte=1"`
	TurnTimeout         time.Duration `mapstructure:"turn_timeout"`
	DefaultTier         string        `mapstructure:"default_tier"`
}

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings {
	return Settings{
		ConfidenceThreshold: 0.6,
		MaxFallbacks:        3,
		MaxToolFailures:     2,
		TurnTimeout:         15 * time.Second,
		DefaultTier:         "free",
	}
}

// Deps are the components a turn is built from.
type Deps struct {
	Sessions   *session.Manager
	Router     *canary.Router
	Policy     Policy
	Broker     Executor
	Reducer    *reducer.Reducer
	Normalizer *slots.Normalizer
	Quota      ports.QuotaCounter
}

// Orchestrator runs turns. It is safe for concurrent use; turns for the
// same conversation are serialized only around load and commit.
type Orchestrator struct {
	Deps
	settings  Settings
	responder ports.Responder
	sink      ports.TelemetrySink
	hooks     domain.LifecycleHooks
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSettings replaces the turn settings.
func WithSettings(s Settings) Option {
	return func(o *Orchestrator) {
		o.settings = s
	}
}

// WithResponder sets the reply generator. Templates are used when unset
// or when it fails.
func WithResponder(r ports.Responder) Option {
	return func(o *Orchestrator) {
		o.responder = r
	}
}

// WithTelemetry sets the per-turn record sink.
func WithTelemetry(sink ports.TelemetrySink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// WithHooks sets lifecycle callbacks.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(o *Orchestrator) {
		o.hooks = hooks
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithClock sets the time source stamped on states and records.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an Orchestrator. Sessions, Router, Policy and Broker are required.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("runtime: sessions are required")
	case deps.Router == nil:
		return nil, errors.New("runtime: router is required")
	case deps.Policy == nil:
		return nil, errors.New("runtime: policy is required")
	case deps.Broker == nil:
		return nil, errors.New("runtime: broker is required")
	}
	if deps.Normalizer == nil {
		deps.Normalizer = slots.New()
	}
	if deps.Reducer == nil {
		deps.Reducer = reducer.New(deps.Normalizer)
	}
	if deps.Quota == nil {
		deps.Quota = memory.NewQuotaCounter(time.Hour)
	}

	o := &Orchestrator{
		Deps:      deps,
		settings:  DefaultSettings(),
		responder: pipeline.Templates{},
		logger:    logging.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Settings returns the active settings.
func (o *Orchestrator) Settings() Settings {
	return o.settings
}

// turn carries the per-attempt context of one HandleTurn call.
type turn struct {
	domain.Turn
	vertical string
	tier     string
	rec      *domain.TurnRecord
	now      time.Time
	reply    domain.Reply
	records  []domain.TransitionRecord
}

func (t *turn) timed(stage domain.Stage, start time.Time) {
	t.rec.Latency[stage] += time.Since(start)
}

// HandleTurn processes one inbound message.
//
// Every failure except an unreachable store yields a well-formed Reply.
// A commit conflict retries the whole turn once; tool calls replay from
// the idempotency cache on the retry.
func (o *Orchestrator) HandleTurn(ctx context.Context, in domain.Turn) (domain.Reply, error) {
	if in.WorkspaceID == "" || in.ConversationID == "" {
		return domain.Reply{}, fmt.Errorf("%w: workspace_id and conversation_id are required", domain.ErrInvalidTurn)
	}
	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = o.now()
	}

	if o.settings.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.settings.TurnTimeout)
		defer cancel()
	}
	ctx, span := tracer.Start(ctx, "turn", trace.WithAttributes(
		attribute.String("workspace_id", in.WorkspaceID),
		attribute.String("conversation_id", in.ConversationID),
	))
	defer span.End()

	rec := &domain.TurnRecord{
		TurnID:         uuid.NewString(),
		WorkspaceID:    in.WorkspaceID,
		ConversationID: in.ConversationID,
		Latency:        make(map[domain.Stage]time.Duration),
		Timestamp:      in.ReceivedAt,
	}

	reply, err := o.attempt(ctx, in, rec)
	if errors.Is(err, domain.ErrConflict) {
		o.logger.Info("turn conflicted, retrying",
			"workspace_id", in.WorkspaceID,
			"conversation_id", in.ConversationID,
		)
		rec.Retries++
		reply, err = o.attempt(ctx, in, rec)
		if errors.Is(err, domain.ErrConflict) {
			o.logger.Warn("turn conflicted twice",
				"workspace_id", in.WorkspaceID,
				"conversation_id", in.ConversationID,
				"err", err,
			)
			reply = domain.Reply{
				NextAction: domain.ActionAnswer,
				FSMState:   reply.FSMState,
				Route:      reply.Route,
				Text:       conflictText,
				ErrorCode:  domain.CodeConflict,
			}
			err = nil
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store unavailable")
		o.logger.Error("turn failed",
			"workspace_id", in.WorkspaceID,
			"conversation_id", in.ConversationID,
			"err", err,
		)
		return domain.Reply{}, err
	}

	rec.Route = reply.Route
	rec.NextAction = reply.NextAction
	rec.FSMState = reply.FSMState
	rec.ErrorCode = reply.ErrorCode
	rec.Fallback = reply.Fallback
	span.SetAttributes(
		attribute.String("route", string(reply.Route)),
		attribute.String("next_action", string(reply.NextAction)),
		attribute.String("fsm_state", string(reply.FSMState)),
	)
	o.emit(ctx, *rec)
	return reply, nil
}

// attempt runs the turn once. A *domain.ConflictError means the commit lost
// the race; any other error came from the store.
func (o *Orchestrator) attempt(ctx context.Context, in domain.Turn, rec *domain.TurnRecord) (domain.Reply, error) {
	t := &turn{Turn: in, rec: rec, now: o.now()}

	state, err := o.Sessions.LoadOrNew(ctx, in.Key(), t.now)
	if err != nil {
		return domain.Reply{}, err
	}
	t.vertical = in.Vertical
	if t.vertical == "" {
		t.vertical, _ = state.Meta[domain.MetaVertical].(string)
	}
	t.tier = in.Tier
	if t.tier == "" {
		t.tier = o.settings.DefaultTier
	}

	start := time.Now()
	decision := o.Router.Decide(in.ConversationID)
	t.timed(domain.StageRoute, start)
	rec.Route, rec.Bucket = decision.Route, decision.Bucket
	t.reply = domain.Reply{Route: decision.Route, FSMState: state.FSMState, NextAction: state.NextAction}

	if state.FSMState.Terminal() {
		next, tr := dialogue.Fire(state, domain.EventUserMsg, map[string]any{"text_len": len(in.Text)}, t.now)
		t.records = append(t.records, tr)
		return o.finish(ctx, t, state, next, nil)
	}

	start = time.Now()
	pctx, span := tracer.Start(ctx, "pipeline", trace.WithAttributes(attribute.String("route", string(decision.Route))))
	out, runErr := o.Router.Pipeline(decision.Route).Run(pctx, pipeline.Input{
		Turn:  in,
		State: state,
		Tools: o.Policy.Tools(t.vertical),
	})
	if runErr == nil {
		runErr = pipeline.Validate(decision.Route, out)
	}
	if runErr != nil {
		span.RecordError(runErr)
	}
	span.End()
	t.timed(domain.StagePipeline, start)
	rec.Confidence = out.Confidence

	if runErr != nil || out.Confidence < o.settings.ConfidenceThreshold {
		return o.fallback(ctx, t, state, runErr)
	}

	work := state.Clone()
	o.stamp(t, work)
	work.Meta[domain.MetaFallbacks] = 0

	start = time.Now()
	work, patch := o.Reducer.Apply(work, observe(out), t.now)
	t.timed(domain.StageReduce, start)
	if len(patch.Rejected) > 0 {
		o.logger.Debug("slot values rejected",
			"workspace_id", in.WorkspaceID,
			"conversation_id", in.ConversationID,
			"rejected", patch.Rejected,
		)
	}

	event := deriveEvent(work.FSMState, out.Intent)
	start = time.Now()
	payload := map[string]any{"intent": out.Intent, "route": string(decision.Route)}
	if len(out.Slots) > 0 {
		extracted := make(map[string]any, len(out.Slots))
		for k, v := range out.Slots {
			extracted[k] = v
		}
		payload["slots"] = extracted
	}
	next, tr := dialogue.Fire(work, event, payload, t.now)
	t.timed(domain.StageTransition, start)
	t.records = append(t.records, tr)

	var last *domain.ToolResult
	if toolPhase(next) {
		next, last = o.runTools(ctx, t, out.Calls, next)
	}
	return o.finish(ctx, t, state, next, last)
}

// fallback answers with the deterministic re-ask and never consults policy.
func (o *Orchestrator) fallback(ctx context.Context, t *turn, state *domain.ConversationState, cause error) (domain.Reply, error) {
	t.reply.Fallback = true
	if cause != nil {
		var sve *domain.SchemaValidationError
		if errors.As(cause, &sve) {
			t.reply.ErrorCode = domain.CodeSchemaValidation
		}
		o.logger.Warn("pipeline output discarded",
			"workspace_id", t.WorkspaceID,
			"conversation_id", t.ConversationID,
			"route", t.reply.Route,
			"err", cause,
		)
	} else {
		o.logger.Info("pipeline confidence below threshold",
			"workspace_id", t.WorkspaceID,
			"conversation_id", t.ConversationID,
			"route", t.reply.Route,
			"confidence", t.rec.Confidence,
		)
	}

	next := state.Clone()
	o.stamp(t, next)
	n := state.MetaInt(domain.MetaFallbacks) + 1
	next.Meta[domain.MetaFallbacks] = n

	if n >= o.settings.MaxFallbacks {
		fired, tr := dialogue.Fire(next, domain.EventHandoff, map[string]any{"reason": "max_fallbacks"}, t.now)
		t.records = append(t.records, tr)
		return o.finish(ctx, t, state, fired, nil)
	}

	text, missing := pipeline.Fallback(next, o.Policy.Required(t.vertical))
	next.NextAction = domain.ActionAsk
	next.UpdatedAt = t.now
	t.reply.Text = text
	t.reply.Missing = missing
	return o.finish(ctx, t, state, next, nil)
}

// finish renders the reply text and commits next against the loaded version.
func (o *Orchestrator) finish(ctx context.Context, t *turn, loaded, next *domain.ConversationState, last *domain.ToolResult) (domain.Reply, error) {
	if t.reply.Text == "" {
		t.reply.Text = o.respond(ctx, next, last)
	}
	t.reply.NextAction = next.NextAction
	t.reply.FSMState = next.FSMState

	if err := o.commit(ctx, t, next, loaded.Version); err != nil {
		t.reply.FSMState = loaded.FSMState
		return t.reply, err
	}
	return t.reply, nil
}

func (o *Orchestrator) commit(ctx context.Context, t *turn, next *domain.ConversationState, expected int64) error {
	start := time.Now()
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	_, err := o.Sessions.Commit(cctx, next, expected, t.records...)
	t.timed(domain.StageTransition, start)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrTransitionsLost):
		// The state is committed; only the audit trail is short.
		o.logger.Warn("turn committed without its transition records",
			"workspace_id", t.WorkspaceID,
			"conversation_id", t.ConversationID,
			"err", err,
		)
	case errors.Is(err, domain.ErrConflict):
		return err
	default:
		return fmt.Errorf("failed to commit turn: %w", err)
	}

	for _, r := range t.records {
		o.logger.Debug("transition applied",
			"workspace_id", r.WorkspaceID,
			"conversation_id", r.ConversationID,
			"event", r.Event,
			"from", r.PreviousState,
			"to", r.NewState,
			"accepted", r.Accepted,
		)
		if o.hooks.OnTransition != nil {
			o.hooks.OnTransition(ctx, r)
		}
	}
	return nil
}

func (o *Orchestrator) respond(ctx context.Context, state *domain.ConversationState, last *domain.ToolResult) string {
	text, err := o.responder.Respond(ctx, state, last)
	if err == nil && text != "" {
		return text
	}
	if err != nil {
		o.logger.Warn("responder failed, using templates",
			"workspace_id", state.WorkspaceID,
			"conversation_id", state.ConversationID,
			"err", err,
		)
	}
	text, err = pipeline.Templates{}.Respond(ctx, state, last)
	if err != nil || text == "" {
		return genericText
	}
	return text
}

func (o *Orchestrator) emit(ctx context.Context, rec domain.TurnRecord) {
	if o.sink != nil {
		o.sink.Record(ctx, rec)
	}
	if o.hooks.OnTurn != nil {
		o.hooks.OnTurn(ctx, rec)
	}
}

// stamp records per-conversation bookkeeping owned by the orchestrator.
func (o *Orchestrator) stamp(t *turn, s *domain.ConversationState) {
	s.Meta[domain.MetaLastRoute] = string(t.reply.Route)
	if _, ok := s.Meta[domain.MetaVertical]; !ok && t.vertical != "" {
		s.Meta[domain.MetaVertical] = t.vertical
	}
}

// observe converts pipeline output into reducer input. Slots are emitted in
// name order so the fold is deterministic.
func observe(out pipeline.Output) []reducer.Observation {
	obs := []reducer.Observation{reducer.IntentObservation{Intent: out.Intent}}
	names := make([]string, 0, len(out.Slots))
	for name := range out.Slots {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		obs = append(obs, reducer.SlotObservation{Name: name, Raw: out.Slots[name], Source: domain.SourceUser})
	}
	return obs
}

// deriveEvent maps an intent onto a dialogue event.
func deriveEvent(state domain.FSMState, intent string) domain.Event {
	if intent == pipeline.IntentHandoff {
		return domain.EventHandoff
	}
	if state == domain.StateConfirming {
		switch intent {
		case pipeline.IntentConfirm:
			return domain.EventConfirmOK
		case pipeline.IntentEdit:
			return domain.EventConfirmEdit
		case pipeline.IntentCancel:
			return domain.EventAbort
		}
	}
	return domain.EventUserMsg
}

// toolPhase reports whether tools run this turn. CHECKOUT resumes its
// pending tool on every message until it succeeds or hands off.
func toolPhase(s *domain.ConversationState) bool {
	if s.NextAction == domain.ActionToolCall {
		return true
	}
	return s.FSMState == domain.StateCheckout && s.NextAction != domain.ActionHandoff
}

package policy

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/schema"
	"github.com/aretw0/concierge/pkg/slots"
)

// Verdict is the outcome class of a policy decision.
type Verdict string

const (
	Allow         Verdict = "allow"
	Deny          Verdict = "deny"
	NeedsMoreInfo Verdict = "needs_more_info"
)

// Decision is the result of evaluating one invocation.
type Decision struct {
	Verdict Verdict          `json:"verdict"`
	Reason  string           `json:"reason,omitempty"`
	Code    domain.ErrorCode `json:"code,omitempty"`
	Missing []string         `json:"missing,omitempty"`
}

// Context carries the caller-supplied facts a decision depends on.
type Context struct {
	Vertical string
	Tier     string

	// Usage is the current-window count per tool class.
	Usage map[ToolClass]int
}

// Engine evaluates invocations against a Config.
type Engine struct {
	cfg        Config
	tools      map[string]ToolSpec
	normalizer *slots.Normalizer
}

// Option configures an Engine.
type Option func(*Engine)

// WithNormalizer sets the normalizer used for argument format checks.
func WithNormalizer(n *slots.Normalizer) Option {
	return func(e *Engine) {
		e.normalizer = n
	}
}

// New creates an Engine after validating cfg.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:        cfg,
		tools:      make(map[string]ToolSpec, len(cfg.Tools)),
		normalizer: slots.New(),
	}
	for _, t := range cfg.Tools {
		e.tools[t.Name] = t
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Spec returns the catalog entry for a tool.
func (e *Engine) Spec(name string) (ToolSpec, bool) {
	t, ok := e.tools[name]
	return t, ok
}

// Allowed reports whether a tool is enabled for the vertical.
func (e *Engine) Allowed(vertical, tool string) bool {
	v, ok := e.cfg.Verticals[vertical]
	return ok && slices.Contains(v.Tools, tool)
}

// Tools describes the tools enabled for a vertical.
func (e *Engine) Tools(vertical string) []domain.Tool {
	v := e.cfg.Verticals[vertical]
	out := make([]domain.Tool, 0, len(v.Tools))
	for _, name := range v.Tools {
		out = append(out, domain.Tool{Name: name, Description: e.tools[name].Description})
	}
	return out
}

// Required lists the slots a vertical collects, in asking order.
func (e *Engine) Required(vertical string) []domain.SlotName {
	return e.cfg.Verticals[vertical].Required
}

// AllToolNames returns every tool referenced by any vertical, sorted.
func (e *Engine) AllToolNames() []string {
	seen := make(map[string]bool)
	for _, v := range e.cfg.Verticals {
		for _, t := range v.Tools {
			seen[t] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Class returns the quota class of a tool.
func (e *Engine) Class(tool string) ToolClass {
	return e.tools[tool].Class
}

// Evaluate decides whether inv may run. Checks run in order: allow-list,
// arguments, then tier quota.
func (e *Engine) Evaluate(inv domain.ToolInvocation, pctx Context) Decision {
	if !e.Allowed(pctx.Vertical, inv.Name) {
		return Decision{
			Verdict: Deny,
			Code:    domain.CodeNotAllowed,
			Reason:  fmt.Sprintf("not_allowed: %s is not enabled for vertical %q", inv.Name, pctx.Vertical),
		}
	}
	spec := e.tools[inv.Name]

	if err := spec.Args.Validate(inv.Args); err != nil {
		if mistyped := schema.Mistyped(err); len(mistyped) > 0 {
			return Decision{
				Verdict: Deny,
				Code:    domain.CodeValidation,
				Reason:  "invalid_arguments: " + strings.Join(mistyped, ", "),
			}
		}
		missing := schema.Missing(err)
		return Decision{
			Verdict: NeedsMoreInfo,
			Code:    domain.CodeValidation,
			Reason:  "missing: " + strings.Join(missing, ", "),
			Missing: missing,
		}
	}

	if bad := e.badFormats(spec, inv.Args); len(bad) > 0 {
		return Decision{
			Verdict: NeedsMoreInfo,
			Code:    domain.CodeValidation,
			Reason:  "invalid_format: " + strings.Join(bad, ", "),
			Missing: bad,
		}
	}

	if limit, ok := e.limit(pctx.Tier, spec.Class); ok && pctx.Usage[spec.Class] >= limit {
		return Decision{
			Verdict: Deny,
			Code:    domain.CodeRateLimited,
			Reason:  fmt.Sprintf("quota_exceeded: %s usage %d of %d", spec.Class, pctx.Usage[spec.Class], limit),
		}
	}

	return Decision{Verdict: Allow}
}

// badFormats runs the slot normalizer over string args named after a canonical slot.
func (e *Engine) badFormats(spec ToolSpec, args map[string]any) []string {
	var bad []string
	for _, field := range spec.Args {
		raw, ok := args[field.Name].(string)
		if !ok || raw == "" {
			continue
		}
		name, ok := domain.ParseSlotName(field.Name)
		if !ok {
			continue
		}
		if _, err := e.normalizer.Normalize(name, raw); err != nil && errors.Is(err, slots.ErrInvalid) {
			bad = append(bad, field.Name)
		}
	}
	return bad
}

func (e *Engine) limit(tier string, class ToolClass) (int, bool) {
	classes, ok := e.cfg.Tiers[tier]
	if !ok {
		return 0, false
	}
	limit, ok := classes[class]
	return limit, ok
}

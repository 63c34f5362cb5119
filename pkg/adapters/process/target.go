// Package process runs local commands as tool targets.
//
// Arguments reach the command as environment variables, never as flags:
// each arg becomes CONCIERGE_ARG_<NAME>, scalars formatted with %v and
// composite values JSON encoded. The invocation identity travels in
// CONCIERGE_TOOL, CONCIERGE_WORKSPACE_ID, CONCIERGE_CONVERSATION_ID and
// CONCIERGE_IDEMPOTENCY_KEY.
//
// Exit status decides the outcome: 0 succeeds, ExitTempFail (75) is a
// transient failure and any other status is permanent. Stdout may carry a
// ports.ToolResponse, or a bare JSON object that becomes the payload.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
)

// ExitTempFail is the exit status that asks the broker to retry (EX_TEMPFAIL).
const ExitTempFail = 75

const envPrefix = "CONCIERGE_"

// Target is a ToolTarget backed by a local command.
type Target struct {
	name    string
	command string
	args    []string
	env     map[string]string
	dir     string
}

// Option configures a Target.
type Option func(*Target)

// WithEnv adds fixed environment variables.
func WithEnv(env map[string]string) Option {
	return func(t *Target) { t.env = env }
}

// WithDir sets the working directory of the command.
func WithDir(dir string) Option {
	return func(t *Target) { t.dir = dir }
}

// NewTarget creates a target running argv. argv[0] is the command.
func NewTarget(name string, argv []string, opts ...Option) (*Target, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("process target %s: empty command", name)
	}
	t := &Target{name: name, command: argv[0], args: argv[1:]}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Invoke implements ports.ToolTarget.
func (t *Target) Invoke(ctx context.Context, req ports.ToolRequest) (ports.ToolResponse, error) {
	cmd := exec.CommandContext(ctx, t.command, t.args...)
	cmd.Dir = t.dir
	cmd.Env = append(cmd.Environ(), t.environment(req)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ports.ToolResponse{}, &domain.ToolExecutionError{Tool: t.name, Transient: true, Err: ctx.Err()}
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// Could not start: a missing binary will not appear on retry.
			return ports.ToolResponse{}, &domain.ToolExecutionError{Tool: t.name, Transient: false, Err: err}
		}
		return ports.ToolResponse{}, &domain.ToolExecutionError{
			Tool:      t.name,
			Transient: exitErr.ExitCode() == ExitTempFail,
			Err:       fmt.Errorf("exit status %d: %s", exitErr.ExitCode(), tail(stderr.String())),
		}
	}

	out, err := decode(stdout.Bytes())
	if err != nil {
		return ports.ToolResponse{}, &domain.ToolExecutionError{Tool: t.name, Transient: false, Err: err}
	}
	return out, nil
}

func (t *Target) environment(req ports.ToolRequest) []string {
	env := []string{
		envPrefix + "TOOL=" + req.Name,
		envPrefix + "WORKSPACE_ID=" + req.WorkspaceID,
		envPrefix + "CONVERSATION_ID=" + req.ConversationID,
		envPrefix + "IDEMPOTENCY_KEY=" + req.IdempotencyKey,
	}
	for k, v := range t.env {
		env = append(env, k+"="+v)
	}
	for k, v := range req.Args {
		env = append(env, fmt.Sprintf("%sARG_%s=%s", envPrefix, strings.ToUpper(k), formatArg(v)))
	}
	return env
}

func formatArg(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string, bool, int, int64, float64:
		return fmt.Sprintf("%v", v)
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}

// decode reads stdout. Empty output is a bare success.
func decode(raw []byte) (ports.ToolResponse, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ports.ToolResponse{Status: domain.ToolSucceeded}, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return ports.ToolResponse{}, fmt.Errorf("stdout is not a JSON object: %w", err)
	}
	if _, ok := fields["status"]; !ok {
		return ports.ToolResponse{Status: domain.ToolSucceeded, Payload: fields}, nil
	}

	var out ports.ToolResponse
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return ports.ToolResponse{}, fmt.Errorf("undecodable tool response: %w", err)
	}
	if out.Status == "" {
		out.Status = domain.ToolSucceeded
	}
	return out, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 256 {
		return s[len(s)-256:]
	}
	return s
}

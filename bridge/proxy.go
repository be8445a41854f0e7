package bridge

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ToolProxy is a local stand-in for one remote tool. It caches the tool's
// descriptor from discovery and issues calls through the session it was
// discovered on. The schema is fixed at discovery time; only the description
// may be overridden.
type ToolProxy struct {
	session     *Session
	name        string
	description string
	schema      InputSchema

	containErrors bool
}

// Name returns the remote tool's name.
func (p *ToolProxy) Name() string {
	return p.name
}

// Description returns the exposed description, including any local override.
func (p *ToolProxy) Description() string {
	return p.description
}

// SetDescription overrides the exposed description. Empty text keeps the
// description reported by the server. The input schema is never overridden.
func (p *ToolProxy) SetDescription(text string) {
	if text != "" {
		p.description = text
	}
}

// Schema returns the tool's input schema as reported at discovery.
func (p *ToolProxy) Schema() InputSchema {
	return p.schema
}

// SetContainErrors selects the failure policy for Call. When true, validation
// and remote tool failures are returned as the result text instead of as
// errors, so a calling agent can read the failure and correct its input.
func (p *ToolProxy) SetContainErrors(contain bool) {
	p.containErrors = contain
}

// ContainsErrors reports the active failure policy.
func (p *ToolProxy) ContainsErrors() bool {
	return p.containErrors
}

// Call validates args against the cached schema, invokes the remote tool, and
// returns its flattened result. Failures eligible for containment (validation
// and remote tool errors) become the result text when the containment policy
// is on; configuration, not-found, and transport failures always propagate.
func (p *ToolProxy) Call(ctx context.Context, args map[string]any) (string, error) {
	correlationID := uuid.NewString()
	emitStart(StepEvent{
		CorrelationID: correlationID,
		Step:          "tool.call",
		ToolName:      p.name,
		Transport:     p.session.Transport(),
		Source:        p.session.Source(),
		Input:         args,
	})
	start := time.Now()

	value, err := p.applyPolicy(p.invoke(ctx, args))

	emitEnd(StepEvent{
		CorrelationID: correlationID,
		Step:          "tool.call",
		ToolName:      p.name,
		Transport:     p.session.Transport(),
		Source:        p.session.Source(),
		Output:        value,
		DurationMS:    time.Since(start).Milliseconds(),
		Success:       err == nil,
		ErrorText:     errText(err),
	})
	return value, err
}

// CallText parses a raw text payload into structured arguments using the
// cached schema, then calls the tool. A payload that does not parse or
// validate is treated the same as invalid structured arguments.
func (p *ToolProxy) CallText(ctx context.Context, text string) (string, error) {
	args, err := p.schema.ParseText(text)
	if err != nil {
		value, policyErr := p.applyPolicy(outcome{err: err})
		return value, policyErr
	}
	return p.Call(ctx, args)
}

// outcome carries one call's raw result through the policy boundary, so the
// containment decision is made exactly once.
type outcome struct {
	value string
	err   error
}

func (p *ToolProxy) invoke(ctx context.Context, args map[string]any) outcome {
	if err := p.schema.Validate(args); err != nil {
		return outcome{err: err}
	}
	value, err := p.session.invoke(ctx, p.name, args)
	return outcome{value: value, err: err}
}

func (p *ToolProxy) applyPolicy(result outcome) (string, error) {
	if result.err == nil {
		return result.value, nil
	}
	if p.containErrors && containable(result.err) {
		return result.err.Error(), nil
	}
	return "", result.err
}

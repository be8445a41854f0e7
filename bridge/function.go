package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Function exposes one remote MCP tool as a locally invokable unit. It owns
// the session it was built on; Close releases the connection and invalidates
// the function.
type Function struct {
	session *Session
	proxy   *ToolProxy

	closeOnce sync.Once
	closeErr  error
}

// NewMCPToolFunction resolves the transport from cfg, connects to the MCP
// server, discovers cfg.ToolName, and wraps it as a Function. The session is
// released before returning on any failure.
func NewMCPToolFunction(ctx context.Context, cfg ToolConfig, registry ServerRegistry, opts ...SessionOption) (*Function, error) {
	if cfg.ToolName == "" {
		return nil, newConfigError("mcp_tool_name is required")
	}

	spec, err := ResolveTransport(cfg, registry)
	if err != nil {
		return nil, err
	}

	session, err := Open(ctx, spec, opts...)
	if err != nil {
		return nil, err
	}

	proxy, err := session.DiscoverTool(ctx, cfg.ToolName)
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	proxy.SetDescription(cfg.Description)
	proxy.SetContainErrors(cfg.ContainErrors())

	return &Function{session: session, proxy: proxy}, nil
}

// Name returns the remote tool's name.
func (f *Function) Name() string {
	return f.proxy.Name()
}

// Description returns the exposed tool description.
func (f *Function) Description() string {
	return f.proxy.Description()
}

// Schema returns the tool's input schema as a JSON document.
func (f *Function) Schema() json.RawMessage {
	return f.proxy.Schema().JSON()
}

// Proxy returns the underlying tool proxy.
func (f *Function) Proxy() *ToolProxy {
	return f.proxy
}

// Session returns the session the function's tool was discovered on.
func (f *Function) Session() *Session {
	return f.session
}

// Invoke calls the tool with structured or serialized input. A structured
// object is used as-is; a string or raw JSON payload is parsed against the
// tool's schema. Structured input is never merged with parsed text: the first
// recognized form wins.
func (f *Function) Invoke(ctx context.Context, input any) (string, error) {
	switch typed := input.(type) {
	case nil:
		return f.proxy.Call(ctx, map[string]any{})
	case map[string]any:
		return f.proxy.Call(ctx, typed)
	case json.RawMessage:
		return f.proxy.CallText(ctx, string(typed))
	case []byte:
		return f.proxy.CallText(ctx, string(typed))
	case string:
		return f.proxy.CallText(ctx, typed)
	default:
		return f.proxy.applyPolicy(outcome{err: &ValidationError{
			Message: fmt.Sprintf("unsupported input type %T", input),
		}})
	}
}

// Close releases the underlying session. It is idempotent.
func (f *Function) Close() error {
	f.closeOnce.Do(func() {
		f.closeErr = f.session.Close()
	})
	return f.closeErr
}

// Package irisadapter exposes MCP bridge functions as iris tools so agents
// built on iris can call remote MCP tools directly.
package irisadapter

import (
	"context"
	"encoding/json"

	"github.com/petal-labs/iris/tools"

	"github.com/AnuradhaKaruppiah/oss-agentiq/bridge"
)

// FunctionTool adapts a bridge.Function to the iris tools.Tool interface.
type FunctionTool struct {
	fn *bridge.Function
}

// NewFunctionTool creates a new adapter for the given function.
func NewFunctionTool(fn *bridge.Function) *FunctionTool {
	return &FunctionTool{fn: fn}
}

// Name returns the remote tool's name.
func (t *FunctionTool) Name() string {
	return t.fn.Name()
}

// Description returns the exposed tool description.
func (t *FunctionTool) Description() string {
	return t.fn.Description()
}

// Schema returns the remote tool's input schema.
func (t *FunctionTool) Schema() tools.ToolSchema {
	return tools.ToolSchema{
		JSONSchema: t.fn.Schema(),
	}
}

// Call invokes the remote tool with JSON-encoded arguments.
func (t *FunctionTool) Call(ctx context.Context, args json.RawMessage) (any, error) {
	return t.fn.Invoke(ctx, args)
}

// Ensure interface compliance at compile time.
var _ tools.Tool = (*FunctionTool)(nil)

package bridge

import (
	"context"
	"sync"
)

// FunctionKindMCPTool is the built-in function kind backed by a remote MCP
// tool.
const FunctionKindMCPTool = "mcp_tool"

// Constructor builds a Function from one tool configuration.
type Constructor func(ctx context.Context, cfg ToolConfig, servers ServerRegistry) (*Function, error)

var (
	globalFunctions *FunctionRegistry
	globalOnce      sync.Once
)

// Functions returns the singleton function-kind registry. On first call it
// initializes the registry and registers the built-in kinds.
func Functions() *FunctionRegistry {
	globalOnce.Do(func() {
		globalFunctions = NewFunctionRegistry()
		registerBuiltins(globalFunctions)
	})
	return globalFunctions
}

func registerBuiltins(r *FunctionRegistry) {
	r.Register(FunctionKindMCPTool, func(ctx context.Context, cfg ToolConfig, servers ServerRegistry) (*Function, error) {
		return NewMCPToolFunction(ctx, cfg, servers)
	})
}

// FunctionRegistry maps function kind names to constructors. Kinds are
// registered explicitly at process startup, not as an import side effect.
type FunctionRegistry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	order        []string // preserves registration order
}

// NewFunctionRegistry returns an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{
		constructors: make(map[string]Constructor),
	}
}

// Register adds a constructor for a kind. Registering a kind again
// overwrites the previous constructor.
func (r *FunctionRegistry) Register(kind string, build Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.constructors[kind]; !exists {
		r.order = append(r.order, kind)
	}
	r.constructors[kind] = build
}

// Has reports whether the kind is registered.
func (r *FunctionRegistry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.constructors[kind]
	return ok
}

// Kinds returns all registered kinds in registration order.
func (r *FunctionRegistry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, len(r.order))
	copy(kinds, r.order)
	return kinds
}

// Build constructs a Function of the given kind. An unregistered kind is a
// ConfigError.
func (r *FunctionRegistry) Build(ctx context.Context, kind string, cfg ToolConfig, servers ServerRegistry) (*Function, error) {
	r.mu.RLock()
	build, ok := r.constructors[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, newConfigError("unknown function type %q", kind)
	}
	return build(ctx, cfg, servers)
}

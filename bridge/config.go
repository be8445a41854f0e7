// Package bridge connects to a remote MCP tool server, discovers a named
// tool, and exposes it as a locally invokable function with schema
// validation and a configurable failure-containment policy.
package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/AnuradhaKaruppiah/oss-agentiq/mcp"
)

// TransportKind selects one transport binding.
type TransportKind string

const (
	TransportStdio          TransportKind = "stdio"
	TransportSSE            TransportKind = "sse"
	TransportStreamableHTTP TransportKind = "streamable-http"
)

// ServerTypeMCP is the server type required of a referenced shared server.
const ServerTypeMCP = "mcp"

// ToolConfig declares one MCP-backed function. Transport parameters come
// either from a named shared server (Server) or from the inline fields; the
// two sources are mutually exclusive.
type ToolConfig struct {
	// Server references a shared server configuration by name.
	Server string

	// Inline transport fields.
	URL       string
	Transport TransportKind
	Command   string
	Args      []string
	Env       map[string]string

	// ToolName is the name of the tool served by the MCP server.
	ToolName string
	// Description, when set, overrides the description provided by the
	// server. The server's input schema is never overridden.
	Description string
	// ReturnException controls failure containment: when true (the default),
	// validation and remote-tool failures are returned as the result text
	// instead of being raised.
	ReturnException *bool
}

// ContainErrors resolves the effective containment policy.
func (c ToolConfig) ContainErrors() bool {
	if c.ReturnException == nil {
		return true
	}
	return *c.ReturnException
}

// ServerConfig is one shared server entry as read from the registry.
type ServerConfig struct {
	Type      string
	Transport TransportKind
	URL       string
	Command   string
	Args      []string
	Env       map[string]string
}

// ServerRegistry resolves shared server configurations by name. The bridge
// only reads it.
type ServerRegistry interface {
	Server(name string) (ServerConfig, bool)
}

// TransportSpec is the resolved transport parameter set. Exactly one variant
// is populated; it is immutable once resolved.
type TransportSpec struct {
	Kind TransportKind

	// Stdio variant.
	Command string
	Args    []string
	Env     map[string]string

	// SSE / streamable-HTTP variants.
	URL string
}

// Source describes the remote endpoint for messages and telemetry.
func (s TransportSpec) Source() string {
	if s.Kind == TransportStdio {
		if len(s.Args) == 0 {
			return s.Command
		}
		return s.Command + " " + strings.Join(s.Args, " ")
	}
	return s.URL
}

// Dial constructs the one concrete transport binding for this spec. The
// variant is selected here, once, at construction time.
func (s TransportSpec) Dial(ctx context.Context) (mcp.Transport, error) {
	switch s.Kind {
	case TransportStdio:
		return mcp.NewStdioTransport(ctx, mcp.StdioTransportConfig{
			Command: s.Command,
			Args:    s.Args,
			Env:     s.Env,
		})
	case TransportSSE:
		return mcp.NewSSETransport(ctx, mcp.SSETransportConfig{
			Endpoint: s.URL,
		})
	case TransportStreamableHTTP:
		return mcp.NewStreamableHTTPTransport(mcp.StreamableHTTPTransportConfig{
			Endpoint: s.URL,
		})
	default:
		return nil, fmt.Errorf("bridge: unsupported transport %q", s.Kind)
	}
}

// ResolveTransport produces exactly one TransportSpec from a tool
// configuration, taking parameters either from the referenced shared server
// or from the inline fields. All failures are ConfigError.
func ResolveTransport(cfg ToolConfig, registry ServerRegistry) (TransportSpec, error) {
	usingServerRef := strings.TrimSpace(cfg.Server) != ""
	usingDirect := cfg.URL != "" || cfg.Command != ""

	if !usingServerRef && !usingDirect {
		return TransportSpec{}, newConfigError("either server reference or direct configuration must be provided")
	}
	if usingServerRef && usingDirect {
		return TransportSpec{}, newConfigError("cannot use both server reference and direct configuration")
	}

	if usingServerRef {
		if cfg.URL != "" || cfg.Command != "" || cfg.Args != nil || cfg.Env != nil {
			return TransportSpec{}, newConfigError("direct configuration fields must not be set when using server reference")
		}
		if registry == nil {
			return TransportSpec{}, newConfigError("server %q referenced but no server registry is available", cfg.Server)
		}
		server, ok := registry.Server(cfg.Server)
		if !ok {
			return TransportSpec{}, newConfigError("server %q is not defined", cfg.Server)
		}
		if server.Type != ServerTypeMCP {
			return TransportSpec{}, newConfigError("server %q is not an MCP server", cfg.Server)
		}
		return validateSpec(TransportSpec{
			Kind:    server.Transport,
			URL:     server.URL,
			Command: server.Command,
			Args:    server.Args,
			Env:     server.Env,
		})
	}

	transport := cfg.Transport
	if transport == "" {
		transport = TransportSSE
	}
	return validateSpec(TransportSpec{
		Kind:    transport,
		URL:     cfg.URL,
		Command: cfg.Command,
		Args:    cfg.Args,
		Env:     cfg.Env,
	})
}

func validateSpec(spec TransportSpec) (TransportSpec, error) {
	switch spec.Kind {
	case TransportStdio:
		if spec.URL != "" {
			return TransportSpec{}, newConfigError("url must not be set when using stdio transport")
		}
		if strings.TrimSpace(spec.Command) == "" {
			return TransportSpec{}, newConfigError("command is required when using stdio transport")
		}
	case TransportSSE, TransportStreamableHTTP:
		if spec.Command != "" || spec.Args != nil || spec.Env != nil {
			return TransportSpec{}, newConfigError("command, args, and env must not be set when using %s transport", spec.Kind)
		}
		if strings.TrimSpace(spec.URL) == "" {
			return TransportSpec{}, newConfigError("url is required when using %s transport", spec.Kind)
		}
	default:
		return TransportSpec{}, newConfigError("invalid transport type %q", spec.Kind)
	}
	return spec, nil
}

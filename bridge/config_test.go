package bridge

import (
	"errors"
	"strings"
	"testing"
)

type fakeServerRegistry map[string]ServerConfig

func (r fakeServerRegistry) Server(name string) (ServerConfig, bool) {
	cfg, ok := r[name]
	return cfg, ok
}

func TestResolveTransportServerReference(t *testing.T) {
	registry := fakeServerRegistry{
		"date-service": {
			Type:      ServerTypeMCP,
			Transport: TransportStreamableHTTP,
			URL:       "http://localhost:9901/mcp",
		},
	}

	spec, err := ResolveTransport(ToolConfig{Server: "date-service"}, registry)
	if err != nil {
		t.Fatalf("ResolveTransport() error = %v", err)
	}
	if spec.Kind != TransportStreamableHTTP {
		t.Fatalf("spec.Kind = %q, want %q", spec.Kind, TransportStreamableHTTP)
	}
	if spec.URL != "http://localhost:9901/mcp" {
		t.Fatalf("spec.URL = %q, want server URL", spec.URL)
	}
	if spec.Source() != "http://localhost:9901/mcp" {
		t.Fatalf("spec.Source() = %q, want server URL", spec.Source())
	}
}

func TestResolveTransportInlineStdio(t *testing.T) {
	spec, err := ResolveTransport(ToolConfig{
		Transport: TransportStdio,
		Command:   "python",
		Args:      []string{"-m", "server"},
		Env:       map[string]string{"API_KEY": "secret"},
	}, nil)
	if err != nil {
		t.Fatalf("ResolveTransport() error = %v", err)
	}
	if spec.Kind != TransportStdio {
		t.Fatalf("spec.Kind = %q, want %q", spec.Kind, TransportStdio)
	}
	if spec.Command != "python" {
		t.Fatalf("spec.Command = %q, want python", spec.Command)
	}
	if got, want := spec.Source(), "python -m server"; got != want {
		t.Fatalf("spec.Source() = %q, want %q", got, want)
	}
}

func TestResolveTransportDefaultsToSSE(t *testing.T) {
	spec, err := ResolveTransport(ToolConfig{URL: "http://localhost:9901/sse"}, nil)
	if err != nil {
		t.Fatalf("ResolveTransport() error = %v", err)
	}
	if spec.Kind != TransportSSE {
		t.Fatalf("spec.Kind = %q, want %q", spec.Kind, TransportSSE)
	}
}

func TestResolveTransportErrors(t *testing.T) {
	registry := fakeServerRegistry{
		"good": {Type: ServerTypeMCP, Transport: TransportSSE, URL: "http://localhost/sse"},
		"rest": {Type: "rest", URL: "http://localhost/api"},
	}

	tests := []struct {
		name    string
		cfg     ToolConfig
		wantMsg string
	}{
		{
			name:    "neither source",
			cfg:     ToolConfig{},
			wantMsg: "either server reference or direct configuration",
		},
		{
			name:    "both sources",
			cfg:     ToolConfig{Server: "good", URL: "http://localhost/sse"},
			wantMsg: "cannot use both",
		},
		{
			name:    "server ref with stray env",
			cfg:     ToolConfig{Server: "good", Env: map[string]string{"K": "v"}},
			wantMsg: "must not be set when using server reference",
		},
		{
			name:    "unknown server",
			cfg:     ToolConfig{Server: "missing"},
			wantMsg: `server "missing" is not defined`,
		},
		{
			name:    "non-mcp server",
			cfg:     ToolConfig{Server: "rest"},
			wantMsg: `server "rest" is not an MCP server`,
		},
		{
			name:    "stdio with url",
			cfg:     ToolConfig{Transport: TransportStdio, Command: "python", URL: "http://localhost"},
			wantMsg: "url must not be set when using stdio",
		},
		{
			name:    "stdio without command",
			cfg:     ToolConfig{Transport: TransportStdio},
			wantMsg: "command is required when using stdio",
		},
		{
			name:    "sse with command",
			cfg:     ToolConfig{Transport: TransportSSE, URL: "http://localhost/sse", Command: "python"},
			wantMsg: "must not be set when using sse transport",
		},
		{
			name:    "http without url",
			cfg:     ToolConfig{Transport: TransportStreamableHTTP},
			wantMsg: "url is required when using streamable-http",
		},
		{
			name:    "invalid transport",
			cfg:     ToolConfig{Transport: "websocket", URL: "http://localhost"},
			wantMsg: `invalid transport type "websocket"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveTransport(tt.cfg, registry)
			if err == nil {
				t.Fatal("ResolveTransport() error = nil, want ConfigError")
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("ResolveTransport() error type = %T, want *ConfigError", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("error = %q, want substring %q", err.Error(), tt.wantMsg)
			}
			if !strings.HasPrefix(err.Error(), "bridge: ") {
				t.Fatalf("error = %q, want bridge prefix", err.Error())
			}
		})
	}
}

func TestResolveTransportServerRefWithoutRegistry(t *testing.T) {
	_, err := ResolveTransport(ToolConfig{Server: "good"}, nil)
	if err == nil {
		t.Fatal("ResolveTransport() error = nil, want ConfigError")
	}
	if !strings.Contains(err.Error(), "no server registry") {
		t.Fatalf("error = %q, want registry-missing message", err.Error())
	}
}

func TestToolConfigContainErrors(t *testing.T) {
	if got := (ToolConfig{}).ContainErrors(); !got {
		t.Fatal("ContainErrors() with unset ReturnException = false, want true (default)")
	}

	yes, no := true, false
	if got := (ToolConfig{ReturnException: &yes}).ContainErrors(); !got {
		t.Fatal("ContainErrors() with ReturnException=true = false, want true")
	}
	if got := (ToolConfig{ReturnException: &no}).ContainErrors(); got {
		t.Fatal("ContainErrors() with ReturnException=false = true, want false")
	}
}

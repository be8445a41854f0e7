package workflow

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AnuradhaKaruppiah/oss-agentiq/bridge"
)

const validConfigYAML = `
servers:
  date-service:
    type: mcp
    transport: streamable-http
    url: http://localhost:9901/mcp

functions:
  current_datetime:
    type: mcp_tool
    server: date-service
    mcp_tool_name: get_datetime
    description: Returns the current date and time
  weather:
    type: mcp_tool
    url: http://localhost:9902/sse
    mcp_tool_name: get_weather
    return_exception: false
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(validConfigYAML))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if got := cfg.FunctionNames(); len(got) != 2 || got[0] != "current_datetime" || got[1] != "weather" {
		t.Fatalf("FunctionNames() = %v, want sorted [current_datetime weather]", got)
	}

	server, ok := cfg.Server("date-service")
	if !ok {
		t.Fatal(`Server("date-service") not found`)
	}
	if server.Transport != bridge.TransportStreamableHTTP {
		t.Fatalf("server.Transport = %q, want streamable-http", server.Transport)
	}

	weather := cfg.Functions["weather"]
	if weather.ReturnException == nil || *weather.ReturnException {
		t.Fatalf("weather.ReturnException = %v, want false", weather.ReturnException)
	}
	if cfg.Functions["current_datetime"].ReturnException != nil {
		t.Fatal("current_datetime.ReturnException set, want nil (default)")
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{
			name: "unsupported server type",
			yaml: `
servers:
  api:
    type: rest
    url: http://localhost/api
`,
			wantMsg: `server "api": unsupported type "rest"`,
		},
		{
			name: "unknown function type",
			yaml: `
functions:
  f:
    type: shell_tool
    mcp_tool_name: x
`,
			wantMsg: `function "f": unknown type "shell_tool"`,
		},
		{
			name: "missing tool name",
			yaml: `
functions:
  f:
    type: mcp_tool
    url: http://localhost/sse
`,
			wantMsg: `function "f": mcp_tool_name is required`,
		},
		{
			name: "server ref and inline url",
			yaml: `
servers:
  s:
    type: mcp
    transport: sse
    url: http://localhost/sse
functions:
  f:
    type: mcp_tool
    server: s
    url: http://localhost/other
    mcp_tool_name: x
`,
			wantMsg: "cannot use both",
		},
		{
			name: "undefined server reference",
			yaml: `
functions:
  f:
    type: mcp_tool
    server: ghost
    mcp_tool_name: x
`,
			wantMsg: `server "ghost" is not defined`,
		},
		{
			name:    "malformed yaml",
			yaml:    `functions: [`,
			wantMsg: "parsing config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("ParseConfig() error = nil, want %q", tt.wantMsg)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("error = %q, want substring %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestServerExpandsEnv(t *testing.T) {
	t.Setenv("MCP_HOST", "env-host")
	t.Setenv("MCP_TOKEN", "sekrit")

	cfg, err := ParseConfig([]byte(`
servers:
  svc:
    type: mcp
    transport: stdio
    command: /usr/bin/${MCP_HOST}-server
    args: ["--token", "${MCP_TOKEN}"]
    env:
      TOKEN: ${MCP_TOKEN}
`))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	server, ok := cfg.Server("svc")
	if !ok {
		t.Fatal(`Server("svc") not found`)
	}
	if server.Command != "/usr/bin/env-host-server" {
		t.Fatalf("server.Command = %q, want env expansion", server.Command)
	}
	if len(server.Args) != 2 || server.Args[1] != "sekrit" {
		t.Fatalf("server.Args = %v, want expanded token", server.Args)
	}
	if server.Env["TOKEN"] != "sekrit" {
		t.Fatalf(`server.Env["TOKEN"] = %q, want sekrit`, server.Env["TOKEN"])
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	if err := os.WriteFile(path, []byte(validConfigYAML), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if len(cfg.Functions) != 2 {
		t.Fatalf("len(cfg.Functions) = %d, want 2", len(cfg.Functions))
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("LoadConfig() error = nil, want read failure")
	}
	if !strings.Contains(err.Error(), "reading workflow config") {
		t.Fatalf("error = %q, want reading-config message", err.Error())
	}
}

func TestBuildFunctionUnknownName(t *testing.T) {
	cfg, err := ParseConfig([]byte(validConfigYAML))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if _, err := cfg.BuildFunction(context.Background(), "ghost"); err == nil {
		t.Fatal("BuildFunction() error = nil, want unknown-function failure")
	}
}

// Package workflow loads declarative workflow configuration: shared MCP
// server definitions plus the functions built on them.
package workflow

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AnuradhaKaruppiah/oss-agentiq/bridge"
)

// Config is the declarative startup config shape.
type Config struct {
	Servers   map[string]ServerDeclaration   `yaml:"servers,omitempty"`
	Functions map[string]FunctionDeclaration `yaml:"functions,omitempty"`
}

// ServerDeclaration defines one shared MCP server.
type ServerDeclaration struct {
	Type      string            `yaml:"type"`
	Transport string            `yaml:"transport,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
}

// FunctionDeclaration defines one function backed by a remote MCP tool.
type FunctionDeclaration struct {
	Type            string            `yaml:"type"`
	Server          string            `yaml:"server,omitempty"`
	URL             string            `yaml:"url,omitempty"`
	Transport       string            `yaml:"transport,omitempty"`
	Command         string            `yaml:"command,omitempty"`
	Args            []string          `yaml:"args,omitempty"`
	Env             map[string]string `yaml:"env,omitempty"`
	ToolName        string            `yaml:"mcp_tool_name"`
	Description     string            `yaml:"description,omitempty"`
	ReturnException *bool             `yaml:"return_exception,omitempty"`
}

// LoadConfig reads and validates a workflow config file. Validation is
// eager: every declared function must resolve to exactly one transport, so a
// bad file fails at load, not first use.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path comes from an explicit CLI flag.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow config %q: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("workflow config %q: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig parses and validates raw YAML config bytes.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	for _, name := range sortedKeys(c.Servers) {
		server := c.Servers[name]
		if server.Type != bridge.ServerTypeMCP {
			return fmt.Errorf("server %q: unsupported type %q", name, server.Type)
		}
		probe := bridge.ToolConfig{Server: name}
		if _, err := bridge.ResolveTransport(probe, c); err != nil {
			return fmt.Errorf("server %q: %w", name, err)
		}
	}

	registered := bridge.Functions()
	for _, name := range sortedKeys(c.Functions) {
		fn := c.Functions[name]
		if !registered.Has(fn.Type) {
			return fmt.Errorf("function %q: unknown type %q", name, fn.Type)
		}
		if strings.TrimSpace(fn.ToolName) == "" {
			return fmt.Errorf("function %q: mcp_tool_name is required", name)
		}
		if _, err := bridge.ResolveTransport(fn.toolConfig(), c); err != nil {
			return fmt.Errorf("function %q: %w", name, err)
		}
	}
	return nil
}

// Server resolves a shared server declaration by name. It implements
// bridge.ServerRegistry.
func (c *Config) Server(name string) (bridge.ServerConfig, bool) {
	decl, ok := c.Servers[name]
	if !ok {
		return bridge.ServerConfig{}, false
	}
	return bridge.ServerConfig{
		Type:      decl.Type,
		Transport: bridge.TransportKind(strings.TrimSpace(decl.Transport)),
		URL:       expandEnvValue(decl.URL),
		Command:   expandEnvValue(decl.Command),
		Args:      expandStrings(decl.Args),
		Env:       expandStringMap(decl.Env),
	}, true
}

// FunctionNames returns declared function names in sorted order.
func (c *Config) FunctionNames() []string {
	return sortedKeys(c.Functions)
}

// BuildFunction constructs one declared function through the kind registry.
func (c *Config) BuildFunction(ctx context.Context, name string) (*bridge.Function, error) {
	decl, ok := c.Functions[name]
	if !ok {
		return nil, fmt.Errorf("function %q is not defined", name)
	}
	return bridge.Functions().Build(ctx, decl.Type, decl.toolConfig(), c)
}

func (d FunctionDeclaration) toolConfig() bridge.ToolConfig {
	return bridge.ToolConfig{
		Server:          strings.TrimSpace(d.Server),
		URL:             expandEnvValue(d.URL),
		Transport:       bridge.TransportKind(strings.TrimSpace(d.Transport)),
		Command:         expandEnvValue(d.Command),
		Args:            expandStrings(d.Args),
		Env:             expandStringMap(d.Env),
		ToolName:        strings.TrimSpace(d.ToolName),
		Description:     d.Description,
		ReturnException: d.ReturnException,
	}
}

func expandEnvValue(value string) string {
	return os.ExpandEnv(value)
}

func expandStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, value := range values {
		out[i] = expandEnvValue(value)
	}
	return out
}

func expandStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[key] = expandEnvValue(value)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

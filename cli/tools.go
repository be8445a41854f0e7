// Package cli implements the aiq command line interface.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AnuradhaKaruppiah/oss-agentiq/bridge"
	"github.com/AnuradhaKaruppiah/oss-agentiq/catalog"
)

// NewToolsCmd creates the "tools" command group.
func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Discover and call remote MCP tools",
	}
	cmd.PersistentFlags().String("store-path", "", "Path to SQLite catalog store (default: ~/.agentiq/catalog.db)")

	cmd.AddCommand(newToolsDiscoverCmd())
	cmd.AddCommand(newToolsListCmd())
	cmd.AddCommand(newToolsCallCmd())

	return cmd
}

func newToolsDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List an MCP server's tools and record them in the local catalog",
		Args:  cobra.NoArgs,
		RunE:  runToolsDiscover,
	}
	addTransportFlags(cmd)
	return cmd
}

func runToolsDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := transportConfigFromFlags(cmd)
	if err != nil {
		return err
	}

	spec, err := bridge.ResolveTransport(cfg, nil)
	if err != nil {
		return exitError(exitValidation, "%s", err)
	}

	session, err := bridge.Open(cmd.Context(), spec)
	if err != nil {
		return exitError(exitRuntime, "%s", err)
	}
	defer session.Close()

	store, err := resolveCatalogStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := catalog.Snapshot(cmd.Context(), store, session)
	if err != nil {
		return exitError(exitRuntime, "discovering tools: %v", err)
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tDESCRIPTION")
	for _, record := range records {
		fmt.Fprintf(writer, "%s\t%s\n", record.Name, firstLine(record.Description))
	}
	return writer.Flush()
}

func newToolsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tools recorded in the local catalog",
		Args:  cobra.NoArgs,
		RunE:  runToolsList,
	}
	cmd.Flags().String("server", "", "Only list tools recorded for this server source")
	return cmd
}

func runToolsList(cmd *cobra.Command, args []string) error {
	store, err := resolveCatalogStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	server, _ := cmd.Flags().GetString("server")
	var records []catalog.ToolRecord
	if server != "" {
		records, err = store.ListServer(cmd.Context(), server)
	} else {
		records, err = store.List(cmd.Context())
	}
	if err != nil {
		return exitError(exitRuntime, "listing tools: %v", err)
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "SERVER\tNAME\tDISCOVERED")
	for _, record := range records {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", record.Server, record.Name, record.DiscoveredAt.Format("2006-01-02 15:04:05"))
	}
	return writer.Flush()
}

func newToolsCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Call a tool on an MCP server",
		Args:  cobra.ExactArgs(1),
		RunE:  runToolsCall,
	}
	addTransportFlags(cmd)
	cmd.Flags().String("input", "{}", "Tool arguments as a JSON object")
	cmd.Flags().Bool("return-exception", false, "Return tool failures as output text instead of failing")
	return cmd
}

func runToolsCall(cmd *cobra.Command, args []string) error {
	toolName := strings.TrimSpace(args[0])

	cfg, err := transportConfigFromFlags(cmd)
	if err != nil {
		return err
	}
	cfg.ToolName = toolName
	returnException, _ := cmd.Flags().GetBool("return-exception")
	cfg.ReturnException = &returnException

	fn, err := bridge.NewMCPToolFunction(cmd.Context(), cfg, nil)
	if err != nil {
		var configErr *bridge.ConfigError
		if errors.As(err, &configErr) {
			return exitError(exitValidation, "%s", err)
		}
		return exitError(exitRuntime, "%s", err)
	}
	defer fn.Close()

	input, _ := cmd.Flags().GetString("input")
	if !json.Valid([]byte(input)) {
		return exitError(exitValidation, "--input must be a JSON object")
	}
	result, err := fn.Invoke(cmd.Context(), input)
	if err != nil {
		return exitError(exitRuntime, "%s", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), result)
	return nil
}

func addTransportFlags(cmd *cobra.Command) {
	cmd.Flags().String("url", "", "MCP server URL (sse/streamable-http transports)")
	cmd.Flags().String("transport", "", "Transport type: stdio | sse | streamable-http")
	cmd.Flags().String("command", "", "Command to run (stdio transport)")
	cmd.Flags().StringArray("arg", nil, "Command argument (repeatable, stdio transport)")
	cmd.Flags().StringArray("env", nil, "Environment variable KEY=VALUE (repeatable, stdio transport)")
}

func transportConfigFromFlags(cmd *cobra.Command) (bridge.ToolConfig, error) {
	url, _ := cmd.Flags().GetString("url")
	transport, _ := cmd.Flags().GetString("transport")
	command, _ := cmd.Flags().GetString("command")
	commandArgs, _ := cmd.Flags().GetStringArray("arg")
	envPairs, _ := cmd.Flags().GetStringArray("env")

	env, err := parseEnvPairs(envPairs)
	if err != nil {
		return bridge.ToolConfig{}, exitError(exitValidation, "%s", err)
	}

	return bridge.ToolConfig{
		URL:       url,
		Transport: bridge.TransportKind(transport),
		Command:   command,
		Args:      commandArgs,
		Env:       env,
	}, nil
}

func parseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid env pair %q (expected KEY=VALUE)", pair)
		}
		env[key] = value
	}
	return env, nil
}

func resolveCatalogStore(cmd *cobra.Command) (*catalog.SQLiteStore, error) {
	path, _ := cmd.Flags().GetString("store-path")
	if path == "" {
		defaultPath, err := catalog.DefaultSQLitePath()
		if err != nil {
			return nil, exitError(exitRuntime, "%s", err)
		}
		path = defaultPath
	}
	store, err := catalog.NewSQLiteStore(path)
	if err != nil {
		return nil, exitError(exitRuntime, "opening catalog store: %v", err)
	}
	return store, nil
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	return line
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"

	"github.com/AnuradhaKaruppiah/oss-agentiq/bridge"
	"github.com/AnuradhaKaruppiah/oss-agentiq/irisadapter"
	aiqotel "github.com/AnuradhaKaruppiah/oss-agentiq/otel"
	"github.com/AnuradhaKaruppiah/oss-agentiq/server"
	"github.com/AnuradhaKaruppiah/oss-agentiq/workflow"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve configured MCP tools over streamable HTTP",
		RunE:  runServe,
	}

	cmd.Flags().IntP("port", "p", 8080, "Listen port")
	cmd.Flags().String("host", "0.0.0.0", "Listen host")
	cmd.Flags().String("config", "", "Path to workflow YAML config (required)")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 60*time.Second, "HTTP write timeout")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")
	cmd.Flags().String("health-schedule", "*/5 * * * *", "Cron schedule (UTC) for upstream connection probes")
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP collector endpoint for traces (empty disables export)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	configPath, _ := cmd.Flags().GetString("config")
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")
	maxBody, _ := cmd.Flags().GetInt64("max-body")
	healthSchedule, _ := cmd.Flags().GetString("health-schedule")
	otlpEndpoint, _ := cmd.Flags().GetString("otlp-endpoint")

	if configPath == "" {
		return exitError(exitValidation, "--config is required")
	}

	cfg, err := workflow.LoadConfig(configPath)
	if err != nil {
		return exitError(exitValidation, "%s", err)
	}
	if len(cfg.Functions) == 0 {
		return exitError(exitValidation, "config declares no functions")
	}

	shutdownTracing, err := aiqotel.SetupTracing(cmd.Context(), aiqotel.TracingConfig{
		Endpoint: otlpEndpoint,
		Insecure: true,
	})
	if err != nil {
		return exitError(exitRuntime, "setting up tracing: %v", err)
	}
	defer func() {
		_ = shutdownTracing(context.Background())
	}()

	observer, err := aiqotel.NewBridgeObserver(
		otelapi.GetMeterProvider().Meter("agentiq/bridge"),
		otelapi.GetTracerProvider().Tracer("agentiq/bridge"),
	)
	if err != nil {
		return exitError(exitRuntime, "initializing bridge observability: %v", err)
	}
	bridge.SetObserver(observer)
	defer bridge.SetObserver(nil)

	logger := slog.Default()
	mcpServer := server.NewServer(server.Config{
		Name:    "agentiq",
		MaxBody: maxBody,
		Logger:  logger,
	})

	var pingers []bridge.Pinger
	for _, name := range cfg.FunctionNames() {
		fn, err := cfg.BuildFunction(cmd.Context(), name)
		if err != nil {
			return exitError(exitRuntime, "building function %q: %v", name, err)
		}
		defer fn.Close()

		if err := mcpServer.RegisterTool(irisadapter.NewFunctionTool(fn)); err != nil {
			return exitError(exitValidation, "%s", err)
		}
		pingers = append(pingers, fn.Session())
		fmt.Fprintf(cmd.OutOrStdout(), "Serving tool %q from %s\n", fn.Name(), fn.Session().Source())
	}

	healthChecker, err := bridge.NewHealthChecker(bridge.HealthCheckerConfig{
		Schedule: healthSchedule,
		Targets:  pingers,
		Logger:   logger,
	})
	if err != nil {
		return exitError(exitValidation, "invalid health schedule: %v", err)
	}
	if err := healthChecker.Start(); err != nil {
		return exitError(exitRuntime, "starting health checker: %v", err)
	}
	defer func() {
		_ = healthChecker.Stop(context.Background())
	}()

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mcpServer.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "MCP server listening on %s\n", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}

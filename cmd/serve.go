package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"net/http"

	"github.com/opalhq/opal-runtime/internal/agent"
	"github.com/opalhq/opal-runtime/internal/bus"
	"github.com/opalhq/opal-runtime/internal/config"
	"github.com/opalhq/opal-runtime/internal/providers"
	"github.com/opalhq/opal-runtime/internal/rpc"
	"github.com/opalhq/opal-runtime/internal/sessions"
	"github.com/opalhq/opal-runtime/internal/supervisor"
	"github.com/opalhq/opal-runtime/internal/tools"
)

var (
	metricsAddr string
	debugWSAddr string
)

const shutdownTimeout = 5 * time.Second

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the RPC Facade over stdio",
		Long:  "serve starts the line-delimited JSON-RPC 2.0 loop on stdin/stdout. All logging goes to stderr; stdout carries only protocol frames.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus /metrics on (disabled if empty)")
	cmd.Flags().StringVar(&debugWSAddr, "debug-ws-addr", "", "address to mirror agent/event notifications to over a debug websocket (disabled if empty)")
	return cmd
}

// runServe wires every component the RPC Facade depends on and blocks
// serving stdin until EOF or a termination signal, grounded on goclaw's
// cmd.runGateway wiring order (logging, config, providers, tools, then the
// transport loop) but rebuilt around one stdio Facade instead of a
// WebSocket gateway.
func runServe() error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if debugWSAddr != "" {
		cfg.Serve.DebugWSAddr = debugWSAddr
	}

	if stop, err := config.Watch(cfgPath, func(fresh *config.Config) {
		slog.Info("config file changed, applying in place", "path", cfgPath)
		cfg.ReplaceFrom(fresh)
	}); err == nil {
		defer stop()
	} else {
		slog.Debug("config hot-reload not active", "error", err)
	}

	workspace := cfg.WorkspacePath()
	if !filepath.IsAbs(workspace) {
		if abs, absErr := filepath.Abs(workspace); absErr == nil {
			workspace = abs
		}
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace %s: %w", workspace, err)
	}

	shutdownTracing, err := setupTracing(cfg)
	if err != nil {
		slog.Warn("tracing setup failed, continuing without spans", "error", err)
	} else {
		defer shutdownTracing()
	}

	reg := prometheus.NewRegistry()
	busMetrics := bus.NewMetrics(reg)
	supMetrics := supervisor.NewMetrics(reg)
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				slog.Error("metrics listener stopped", "error", err)
			}
		}()
		slog.Info("prometheus metrics listening", "addr", metricsAddr)
	}

	toolsReg := tools.NewRegistry()
	toolsReg.Register(tools.NewShellTool())
	toolsReg.Register(&tools.ReadFileTool{})
	toolsReg.Register(&tools.WriteFileTool{})
	toolsReg.Register(&tools.SubAgentTool{})
	toolsReg.Register(&tools.AskUserTool{})
	toolsReg.Register(&tools.AskParentTool{})

	policy := tools.NewPolicyEngine(cfg.Tools.Disabled)

	provider := providers.NewAnthropicProvider(cfg.Provider.APIKey, cfg.Agent.Model, 8192)

	debugBus := bus.NewDebugBus()

	engineCfg := agent.DefaultEngineConfig()
	if cfg.Agent.MaxRetries > 0 {
		engineCfg.MaxRetries = cfg.Agent.MaxRetries
	}
	if cfg.Agent.BaseDelayMs > 0 {
		engineCfg.BaseDelayMs = cfg.Agent.BaseDelayMs
	}
	if cfg.Agent.MaxDelayMs > 0 {
		engineCfg.MaxDelayMs = cfg.Agent.MaxDelayMs
	}
	if cfg.Agent.StallSeconds > 0 {
		engineCfg.StallSeconds = cfg.Agent.StallSeconds
	}
	if cfg.Agent.OverflowThreshold > 0 {
		engineCfg.OverflowThreshold = cfg.Agent.OverflowThreshold
	}
	if cfg.Agent.AutoCompactThreshold > 0 {
		engineCfg.AutoCompactThreshold = cfg.Agent.AutoCompactThreshold
	}
	if cfg.Agent.AutoCompactKeepFraction > 0 {
		engineCfg.AutoCompactKeepFraction = cfg.Agent.AutoCompactKeepFraction
	}
	if cfg.Agent.OverflowKeepFraction > 0 {
		engineCfg.OverflowKeepFraction = cfg.Agent.OverflowKeepFraction
	}
	if cfg.Agent.SubAgentTimeoutSeconds > 0 {
		engineCfg.SubAgentTimeoutSeconds = cfg.Agent.SubAgentTimeoutSeconds
	}

	sup := supervisor.New(supervisor.Deps{
		Provider:   provider,
		Registry:   toolsReg,
		Policy:     policy,
		EngineCfg:  engineCfg,
		DebugBus:   debugBus,
		BusMetrics: busMetrics,
		Metrics:    supMetrics,
	})

	store := sessions.NewStore(cfg.DataDirPath())

	facade := rpc.New(cfg, sup, store, debugBus, os.Stdout)
	facade.BindProvider(provider)

	if cfg.Serve.DebugWSAddr != "" {
		mirror := rpc.NewDebugMirror()
		facade.SetDebugMirror(mirror)
		go func() {
			if err := mirror.ListenAndServe(cfg.Serve.DebugWSAddr); err != nil {
				slog.Error("debug websocket mirror stopped", "error", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("opald serving", "workspace", workspace, "data_dir", cfg.DataDirPath())
	err = facade.Serve(ctx, os.Stdin)

	for _, id := range sup.List() {
		sup.Close(id)
	}
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// setupTracing wires go.opentelemetry.io/otel's stdouttrace exporter as
// the process TracerProvider when telemetry is enabled (SPEC_FULL §4.5),
// grounded on vellankikoti-kubilitics-os-emergent's internal/pkg/tracing
// Init shape. With telemetry disabled, otel's global no-op tracer stays in
// effect and internal/agent/tracing.go's spans cost nothing.
func setupTracing(cfg *config.Config) (func(), error) {
	if !cfg.Telemetry.Enabled {
		return func() {}, nil
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdouttrace exporter: %w", err)
	}
	serviceName := cfg.Telemetry.ServiceName
	if serviceName == "" {
		serviceName = "opald"
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		"",
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Warn("tracer provider shutdown error", "error", err)
		}
	}, nil
}

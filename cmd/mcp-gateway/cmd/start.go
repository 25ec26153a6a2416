package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"

	"github.com/fiberplane/mcp-gateway/internal/adapter/inbound/api"
	"github.com/fiberplane/mcp-gateway/internal/adapter/inbound/httptransport"
	"github.com/fiberplane/mcp-gateway/internal/adapter/inbound/oauthgw"
	"github.com/fiberplane/mcp-gateway/internal/adapter/inbound/proxygw"
	"github.com/fiberplane/mcp-gateway/internal/config"
	"github.com/fiberplane/mcp-gateway/internal/domain/health"
	"github.com/fiberplane/mcp-gateway/internal/service"
	"github.com/fiberplane/mcp-gateway/internal/telemetry"
)

var devMode bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the observability gateway",
	Long: `Start the MCP observability gateway.

The gateway proxies JSON-RPC traffic to the servers registered in its
storage directory, capturing every request, response, and SSE event for
later inspection through the management REST API at /api.

Examples:
  # Start with config file / env var settings
  mcp-gateway start

  # Start with a specific config file
  mcp-gateway --config /path/to/mcp-gateway.yaml start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, relaxed origin checks)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if devMode {
		cfg.DevMode = true
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if file := config.ConfigFileUsed(); file != "" {
		logger.Info("loaded config", "file", file)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	exitCode, runErr := run(ctx, cfg, logger)
	if runErr != nil {
		logger.Error("gateway exited with error", "error", runErr)
		os.Exit(exitCode)
	}
	logger.Info("mcp-gateway stopped")
	if exitCode != 0 {
		_ = os.Remove(pidPath)
		os.Exit(exitCode)
	}
	return nil
}

// run wires every component together and blocks until ctx is cancelled
// or the HTTP listener fails. Its int return is the process exit code:
// 1 or 2 alongside a non-nil error, 130 when ctx was cancelled by a
// shutdown signal, and 0 otherwise.
func run(ctx context.Context, cfg *config.GatewayConfig, logger *slog.Logger) (int, error) {
	server := httptransport.NewServer(
		httptransport.WithAddr(cfg.ListenAddr()),
		httptransport.WithLogger(logger),
		httptransport.WithAllowedOrigins(cfg.AllowedOrigins),
		httptransport.WithManagementToken(cfg.ManagementToken),
	)
	metrics := server.Metrics()

	telemetryProvider, err := telemetry.NewProvider(ctx, "mcp-gateway", os.Stderr)
	if err != nil {
		logger.Warn("failed to start telemetry provider, proceeding without tracing", "error", err)
		telemetryProvider = nil
	}
	defer func() {
		if err := telemetryProvider.Shutdown(context.Background()); err != nil {
			logger.Warn("error shutting down telemetry provider", "error", err)
		}
	}()

	gw, err := service.CreateGateway(ctx, service.CreateGatewayOptions{
		StorageDir: cfg.Storage.Dir,
		CaptureOptions: service.CaptureOptions{
			ChannelSize:   cfg.Capture.ChannelSize,
			BatchSize:     cfg.Capture.BatchSize,
			FlushInterval: parseDurationOr(cfg.Capture.FlushInterval, 200*time.Millisecond),
			SendTimeout:   parseDurationOr(cfg.Capture.SendTimeout, 25*time.Millisecond),
		},
		HealthMetrics: metrics,
	}, logger)
	if err != nil {
		return 1, fmt.Errorf("failed to create gateway: %w", err)
	}
	defer func() {
		if err := gw.Close(); err != nil {
			logger.Error("error during gateway shutdown", "error", err)
		}
	}()

	gw.Start(ctx, cfg.Health.IntervalMs, func(name string, rec health.Record) {
		logger.Info("server health transition", "server", name, "state", rec.State)
	})

	if err := registerCaptureGauges(telemetryProvider.Meter("mcp-gateway.capture"), gw.Capture); err != nil {
		logger.Warn("failed to register capture telemetry gauges", "error", err)
	}

	proxy := proxygw.NewProxy(gw.Registry, gw.Capture, logger, metrics, telemetryProvider.Tracer("mcp-gateway.proxy"))
	oauth := oauthgw.NewGateway(gw.Registry, logger)
	apiHandler := api.NewHandler(gw)
	healthChecker := httptransport.NewHealthChecker(gw.Storage, gw.Capture, Version)

	server.Configure(
		httptransport.WithHealthChecker(healthChecker),
		httptransport.WithProxyHandler(proxy.Handler()),
		httptransport.WithOAuthHandler(oauth.Handler()),
		httptransport.WithAPIHandler(apiHandler.Mux()),
	)

	logger.Info("starting mcp-gateway",
		"addr", cfg.ListenAddr(),
		"storage", cfg.Storage.Dir,
		"dev_mode", cfg.DevMode,
	)
	if cfg.ManagementToken != "" {
		logger.Info("management token ready, use ?token= or Authorization: Bearer on /api routes")
	}

	if err := server.Start(ctx); err != nil {
		if isAddrInUse(err) {
			return 2, fmt.Errorf("failed to bind %s: %w", cfg.ListenAddr(), err)
		}
		return 1, err
	}

	if ctx.Err() != nil {
		return 130, nil
	}
	return 0, nil
}

// registerCaptureGauges wires the capture engine's channel depth and
// drop counter into the otel meter as observable gauges, giving the
// otel/metric stdout exporter something to report alongside the
// Prometheus counters served at /metrics.
func registerCaptureGauges(meter metric.Meter, captureSvc *service.CaptureService) error {
	depth, err := meter.Int64ObservableGauge("mcp_gateway.capture.channel_depth",
		metric.WithDescription("current depth of the capture engine's record channel"))
	if err != nil {
		return err
	}
	dropped, err := meter.Int64ObservableGauge("mcp_gateway.capture.dropped_records",
		metric.WithDescription("total capture records dropped due to a full channel"))
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		o.ObserveInt64(depth, int64(captureSvc.ChannelDepth()))
		o.ObserveInt64(dropped, captureSvc.DroppedRecords())
		return nil
	}, depth, dropped)
	return err
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

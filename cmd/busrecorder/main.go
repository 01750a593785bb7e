// Package main implements the entry point for the bus recorder: a
// multi-topic data recorder that subscribes to streams on a NATS bus,
// aggregates them in per-topic buffers, and flushes them as time-series
// containers into a pluggable storage backend.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/busrecorder/config"
	"github.com/c360/busrecorder/control"
	"github.com/c360/busrecorder/metric"
	"github.com/c360/busrecorder/natsclient"
	"github.com/c360/busrecorder/pkg/retry"
	"github.com/c360/busrecorder/recorder"
	"github.com/c360/busrecorder/storage"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "busrecorder"
)

// Process exit codes
const (
	exitOK            = 0
	exitConfigError   = 1
	exitBackendError  = 2
	exitBusError      = 3
	exitInternalError = 4
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(exitInternalError)
		}
	}()

	os.Exit(run())
}

func run() int {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		return exitConfigError
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return exitOK
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return exitOK
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return exitConfigError
	}

	// CLI overrides
	if cliCfg.DeviceID != "" {
		cfg.Recorder.DeviceID = cliCfg.DeviceID
	}
	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Logging.Format = cliCfg.LogFormat
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("Configuration is valid", "config_path", cliCfg.ConfigPath)
		return exitOK
	}

	slog.Info("Starting bus recorder",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"device_id", cfg.Recorder.DeviceID,
		"storage_backend", cfg.Storage.Backend)

	ctx := context.Background()

	// Bus session
	busClient, err := connectBus(ctx, cfg, logger)
	if err != nil {
		slog.Error("Bus session failed", "error", err)
		return exitBusError
	}
	defer busClient.Close(context.Background())

	metricsRegistry := metric.NewMetricsRegistry()
	busClient.OnHealthChange(func(healthy bool) {
		if healthy {
			metricsRegistry.CoreMetrics().BusConnected.Set(1)
		} else {
			metricsRegistry.CoreMetrics().BusConnected.Set(0)
			metricsRegistry.CoreMetrics().BusReconnects.Inc()
		}
	})
	metricsRegistry.CoreMetrics().BusConnected.Set(1)

	// Storage backend
	backend, err := storage.NewBackend(cfg.Storage, busClient)
	if err != nil {
		slog.Error("Backend creation failed", "error", err)
		return exitBackendError
	}
	if err := retry.Do(ctx, retry.Quick(), func() error {
		return backend.Initialize(ctx)
	}); err != nil {
		slog.Error("Backend initialization failed",
			"backend", backend.BackendType(),
			"error", err)
		return exitBackendError
	}
	slog.Info("Storage backend initialized", "backend", backend.BackendType())

	// Recording core
	manager := recorder.NewManager(cfg, recorder.NewNATSBus(busClient), backend, metricsRegistry, logger)
	if err := manager.Start(ctx); err != nil {
		slog.Error("Failed to start flush workers", "error", err)
		return exitInternalError
	}

	// Control surface
	controlIface := control.New(
		control.NewNATSQueryable(busClient),
		manager,
		cfg.Recorder.DeviceID,
		cfg.Recorder.Control,
		logger,
	)
	if err := controlIface.Start(ctx); err != nil {
		slog.Error("Control interface failed", "error", err)
		return exitBusError
	}

	slog.Info("Bus recorder started",
		"control_key", controlIface.ControlKey(),
		"flush_workers", cfg.Recorder.Workers.FlushWorkers,
		"queue_capacity", cfg.Recorder.Workers.QueueCapacity)

	// Wait for shutdown signal
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()
	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	return shutdown(manager, controlIface, busClient, cliCfg.ShutdownTimeout)
}

// connectBus opens the NATS session per the bus configuration
func connectBus(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	url := "nats://localhost:4222"
	if len(cfg.Bus.ConnectEndpoints) > 0 {
		url = cfg.Bus.ConnectEndpoints[0]
	}

	client, err := natsclient.NewClient(url,
		natsclient.WithName(appName+"-"+cfg.Recorder.DeviceID),
		natsclient.WithLogger(slogAdapter{logger}),
	)
	if err != nil {
		return nil, fmt.Errorf("create bus client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to bus: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, fmt.Errorf("bus connection timeout: %w", err)
	}

	return client, nil
}

// shutdown stops the control surface first so no new sessions start, then
// drains the recording core, bounded by the shutdown deadline.
func shutdown(
	manager *recorder.Manager,
	controlIface *control.Interface,
	busClient *natsclient.Client,
	timeout time.Duration,
) int {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := controlIface.Stop(5 * time.Second); err != nil {
		slog.Warn("Control interface stop failed", "error", err)
	}

	if err := manager.Shutdown(shutdownCtx); err != nil {
		slog.Error("Recorder shutdown incomplete", "error", err)
		if err := busClient.Close(shutdownCtx); err != nil {
			slog.Warn("Bus close failed", "error", err)
		}
		return exitInternalError
	}

	if err := busClient.Close(shutdownCtx); err != nil {
		slog.Warn("Bus close failed", "error", err)
	}

	slog.Info("Bus recorder shutdown complete")
	return exitOK
}

// slogAdapter bridges slog to the natsclient logger interface
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Printf(format string, v ...any) {
	a.logger.Info(fmt.Sprintf(format, v...))
}

func (a slogAdapter) Errorf(format string, v ...any) {
	a.logger.Error(fmt.Sprintf(format, v...))
}

func (a slogAdapter) Debugf(format string, v ...any) {
	a.logger.Debug(fmt.Sprintf(format, v...))
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fyrsmithlabs/proctord/internal/bridge"
	"github.com/fyrsmithlabs/proctord/internal/config"
	"github.com/fyrsmithlabs/proctord/internal/hooks"
	httpserver "github.com/fyrsmithlabs/proctord/internal/http"
	"github.com/fyrsmithlabs/proctord/internal/logging"
	"github.com/fyrsmithlabs/proctord/internal/platform"
	"github.com/fyrsmithlabs/proctord/internal/proctor"
	"github.com/fyrsmithlabs/proctord/internal/questionbank"
	"github.com/fyrsmithlabs/proctord/internal/sessions"
	"github.com/fyrsmithlabs/proctord/internal/telemetry"
	"github.com/fyrsmithlabs/proctord/internal/violation"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the proctord daemon",
		Long: `Start the HTTP session API and connect to NATS and the interview platform.

Configuration is read from --config (default ~/.config/proctord/config.yaml)
and PROCTORD_* environment variables.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().StringVar(&hooksPath, "hooks", "", "path to hooks config file (JSON)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return err
	}
	return run(ctx, cfg)
}

// loggerConfig derives the logger settings from the daemon config.
func loggerConfig(cfg *config.Config) (*logging.Config, error) {
	lc := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging.level %q: %w", cfg.Logging.Level, err)
	}
	lc.Level = level
	lc.Format = cfg.Logging.Format
	lc.Output.OTEL = cfg.Observability.EnableTelemetry
	lc.Fields["version"] = version
	return lc, nil
}

// questionSource returns the default question supplier, and a watcher to run
// when hot reload is enabled. Both are nil when no bank is configured.
func questionSource(cfg config.QuestionBankConfig, logger *logging.Logger) (func() []proctor.Question, *questionbank.Watcher, error) {
	if cfg.Path == "" {
		return nil, nil, nil
	}
	if cfg.Watch {
		w, err := questionbank.NewWatcher(cfg.Path, nil, logger)
		if err != nil {
			return nil, nil, err
		}
		return func() []proctor.Question { return w.Current().Questions }, w, nil
	}
	bank, err := questionbank.LoadFile(cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	return func() []proctor.Question { return bank.Questions }, nil, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	lc, err := loggerConfig(cfg)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(lc, global.GetLoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "starting proctord",
		zap.String("version", version),
		zap.String("commit", gitCommit),
		zap.String("built", buildDate))

	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.String("reason", h.Error))
	}

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name("proctord"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	logger.Info(ctx, "connected to NATS", zap.String("url", cfg.NATS.URL))

	client, err := platform.New(cfg.Platform, logger)
	if err != nil {
		nc.Close()
		return err
	}

	var sink violation.AuditSink = client
	if cfg.Audit.Backend == "nats" {
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return fmt.Errorf("failed to open JetStream: %w", err)
		}
		as, err := bridge.NewAuditSink(ctx, js, cfg.NATS.AuditStream, cfg.NATS.SubjectPrefix)
		if err != nil {
			nc.Close()
			return err
		}
		sink = as
	}

	hookCfg, err := hooks.LoadConfigWithEnvOverride(hooksPath)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to load hooks config: %w", err)
	}
	hookManager := hooks.NewHookManager(hookCfg)
	hookManager.RegisterWebhook(&http.Client{Timeout: hookCfg.Timeout()})

	questions, watcher, err := questionSource(cfg.QuestionBank, logger)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to load question bank: %w", err)
	}

	devices := bridge.New(nc, cfg.NATS.SubjectPrefix, cfg.NATS.RequestTimeout.Duration(), logger)
	manager, err := sessions.NewManager(sessions.Options{
		Config: cfg,
		Devices: sessions.DeviceProviderFunc(func(id string) sessions.Device {
			return devices.Device(id)
		}),
		Platform:  client,
		AuditSink: sink,
		Hooks:     hookManager,
		Questions: questions,
		Logger:    logger,
	})
	if err != nil {
		nc.Close()
		return err
	}

	server, err := httpserver.NewServer(manager, logger.Underlying(), &httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		nc.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() { errCh <- manager.Run(runCtx) }()
	if watcher != nil {
		go func() { errCh <- watcher.Run(runCtx) }()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	case runErr = <-errCh:
		if runErr != nil {
			logger.Error(ctx, "component failed, shutting down", zap.Error(runErr))
		}
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer done()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("session shutdown: %w", err))
	}
	if err := nc.Drain(); err != nil {
		errs = append(errs, fmt.Errorf("nats drain: %w", err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}

	logger.Info(shutdownCtx, "proctord stopped")
	return errors.Join(append([]error{runErr}, errs...)...)
}

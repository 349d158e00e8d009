// shsh-exec - interpreter session and shell execution server
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/shsh-exec/internal/api"
	"github.com/ashureev/shsh-exec/internal/config"
	"github.com/ashureev/shsh-exec/internal/container"
	"github.com/ashureev/shsh-exec/internal/dispatch"
	"github.com/ashureev/shsh-exec/internal/healthgrpc"
	"github.com/ashureev/shsh-exec/internal/interpreter"
	"github.com/ashureev/shsh-exec/internal/metrics"
	"github.com/ashureev/shsh-exec/internal/middleware"
	"github.com/ashureev/shsh-exec/internal/shell"
	"github.com/ashureev/shsh-exec/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

type flags struct {
	envFile           string
	classifierProfile string
	port              string
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "shsh-exec",
		Short:         "Run code in persistent interpreter sessions and one-shot shell commands",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := run(cmd.Context(), f)
			if err != nil {
				slog.Error("Server failed", "error", err)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&f.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	cmd.Flags().StringVar(&f.classifierProfile, "classifier-profile", "", "YAML classifier profile (overrides CLASSIFIER_PROFILE)")
	cmd.Flags().StringVar(&f.port, "port", "", "HTTP port (overrides PORT)")
	return cmd
}

func loadConfig(f flags) (*config.Config, error) {
	if err := godotenv.Load(f.envFile); err != nil {
		slog.Info("No .env file found, using environment variables", "path", f.envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if f.port != "" {
		cfg.Port = f.port
	}
	if f.classifierProfile != "" {
		cfg.Interpreter.ClassifierProfile = f.classifierProfile
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// shellRunner is a dispatch.Runner that may hold resources.
type shellRunner interface {
	dispatch.Runner
	io.Closer
}

type nopCloser struct{ dispatch.Runner }

func (nopCloser) Close() error { return nil }

func newShellRunner(ctx context.Context, cfg *config.Config, logger *slog.Logger) (shellRunner, error) {
	switch cfg.Shell.Backend {
	case config.ShellBackendDocker:
		r, err := container.NewRunner(container.Config{
			Container: cfg.Shell.Container,
			Timeout:   cfg.Shell.Timeout,
			MaxOutput: cfg.Shell.MaxOutputBytes,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize docker runner: %w", err)
		}
		if err := r.Ready(ctx); err != nil {
			slog.Warn("Sandbox container not ready, commands will fail until it is", "container", cfg.Shell.Container, "error", err)
		}
		return r, nil
	default:
		return nopCloser{shell.NewLocalRunner(cfg.Shell.Path,
			shell.WithTimeout(cfg.Shell.Timeout),
			shell.WithMaxOutput(cfg.Shell.MaxOutputBytes),
			shell.WithLogger(logger),
		)}, nil
	}
}

func newRuleStore(ctx context.Context, path string, logger *slog.Logger) (*interpreter.RuleStore, error) {
	if path == "" {
		return interpreter.NewRuleStore(nil), nil
	}
	rs, err := interpreter.LoadRulesFile(path)
	if err != nil {
		return nil, err
	}
	rules := interpreter.NewRuleStore(rs)
	if _, err := interpreter.WatchProfile(ctx, path, rules, logger); err != nil {
		slog.Warn("Classifier profile hot reload disabled", "path", path, "error", err)
	}
	slog.Info("Classifier profile loaded", "path", path)
	return rules, nil
}

//nolint:gocognit,funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func run(parent context.Context, f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "shell_backend", cfg.Shell.Backend)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Execution history.
	var (
		repo     store.Repository
		history  api.HistoryReader
		dispOpts = []dispatch.Option{dispatch.WithLogger(logger)}
	)
	if cfg.History.Enabled {
		sqliteStore, err := store.NewSQLite(cfg.History.DBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		repo = sqliteStore
		defer func() {
			if closeErr := repo.Close(); closeErr != nil {
				slog.Error("Failed to close repository", "error", closeErr)
			}
		}()
		if err := repo.Ping(ctx); err != nil {
			return fmt.Errorf("database health check failed: %w", err)
		}
		slog.Info("Database connected", "path", cfg.History.DBPath)

		history = repo
		dispOpts = append(dispOpts, dispatch.WithRecorder(repo))
		store.StartRetentionWorker(ctx, repo, cfg.History.Retention)
	} else {
		slog.Info("Execution history disabled")
	}

	// Interpreter sessions.
	rules, err := newRuleStore(ctx, cfg.Interpreter.ClassifierProfile, logger)
	if err != nil {
		return fmt.Errorf("failed to load classifier profile: %w", err)
	}
	registry := interpreter.NewRegistry(
		interpreter.ExecSpawner{Command: cfg.Interpreter.Command},
		interpreter.Options{
			QuietPeriod: cfg.Interpreter.QuietPeriod,
			Timeout:     cfg.Interpreter.Timeout,
			QueueSize:   cfg.Interpreter.QueueSize,
			Classifier:  interpreter.NewClassifier(rules, logger),
			Denoiser:    interpreter.NewDenoiser(rules),
			Logger:      logger,
		},
	)
	slog.Info("Interpreter registry ready", "command", cfg.Interpreter.Command, "quiet_period", cfg.Interpreter.QuietPeriod)

	// One-shot shell.
	runner, err := newShellRunner(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := runner.Close(); closeErr != nil {
			slog.Error("Failed to close shell runner", "error", closeErr)
		}
	}()

	dispatcher := dispatch.New(registry, runner, dispOpts...)

	// Initialize handlers.
	handler := api.NewHandler(dispatcher, registry, history, logger)
	wsHandler := api.NewWebSocketHandler(dispatcher, cfg.CORSOrigins, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(metrics.Middleware)

	handler.RegisterRoutes(r)
	r.Get("/ws/service", wsHandler.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	// Long-running executions hold the response open, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 2)

	var healthSrv *healthgrpc.Server
	if cfg.GRPCPort != "" {
		healthSrv = healthgrpc.New(logger)
		go func() {
			if err := healthSrv.ListenAndServe(":" + cfg.GRPCPort); err != nil {
				errCh <- err
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Wait for shutdown signal.
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if healthSrv != nil {
		healthSrv.SetServing(false)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	registry.Close(shutdownCtx)
	if healthSrv != nil {
		healthSrv.Shutdown(shutdownCtx)
	}

	slog.Info("Server stopped successfully")
	return runErr
}

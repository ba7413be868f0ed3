// @title           Split Backend API
// @version         1.0.0
// @description     Connected-account onboarding and split-payment simulation backed by Stripe Connect
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  AdminKey
// @in                          header
// @name                        X-Admin-Key
// @description                 "Operator key for /api/v1/admin routes. 'Authorization: Bearer {key}' is accepted too."
//
// @tag.name         Accounts
// @tag.description  Connected-account endpoints used by the embedded onboarding page.
//
// @tag.name         Simulation
// @tag.description  Test-mode charge and transfer choreography.
//
// @tag.name         Admin
// @tag.description  Operator endpoints for the audit trail. Require the admin key.
//
// @tag.name         System
// @tag.description  Health, readiness and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics are served on a dedicated side-channel port (default: 9090) at GET /metrics, separate from the API listener. Configure it with SPLIT_TELEMETRY_METRICS_PROMETHEUS_PORT.

// Package main is the entry point for the split backend binary. It dispatches
// its subcommands (serve, archive, hash-key, version) with a plain switch on
// os.Args.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/split-connect/split-backend/internal/api"
	"github.com/split-connect/split-backend/internal/archive"
	"github.com/split-connect/split-backend/internal/audit"
	"github.com/split-connect/split-backend/internal/config"
	"github.com/split-connect/split-backend/internal/middleware"
	"github.com/split-connect/split-backend/internal/payments/stripeprovider"
	"github.com/split-connect/split-backend/internal/telemetry"

	// Import archive backends to register them
	_ "github.com/split-connect/split-backend/internal/archive/azure"
	_ "github.com/split-connect/split-backend/internal/archive/gcs"
	_ "github.com/split-connect/split-backend/internal/archive/local"
	_ "github.com/split-connect/split-backend/internal/archive/s3"
)

const usage = "Available commands: serve, archive, hash-key <key>, version"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run(args []string, stdout io.Writer) error {
	command := "serve"
	if len(args) > 0 {
		command = args[0]
	}

	// Commands that need no configuration
	switch command {
	case "version":
		fmt.Fprintf(stdout, "split-backend v%s\n", api.Version)
		return nil
	case "hash-key":
		if len(args) < 2 || args[1] == "" {
			return fmt.Errorf("usage: hash-key <key>")
		}
		hash, err := middleware.HashAdminKey(args[1])
		if err != nil {
			return fmt.Errorf("failed to hash key: %w", err)
		}
		fmt.Fprintln(stdout, hash)
		return nil
	case "serve", "archive":
	default:
		return fmt.Errorf("unknown command: %s\n%s", command, usage)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if command == "archive" {
		return runArchive(cfg, stdout)
	}
	return serve(cfg)
}

func serve(cfg *config.Config) error {
	if err := cfg.RequireStripe(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	recorder, err := newRecorder(cfg)
	if err != nil {
		return err
	}

	provider, err := stripeprovider.New(&cfg.Stripe, nil)
	if err != nil {
		return fmt.Errorf("failed to initialise payment provider: %w", err)
	}

	// A broken archive backend only disables the archive endpoint.
	backend, err := archive.New(cfg)
	if err != nil {
		slog.Warn("archive backend unavailable", "backend", cfg.Archive.DefaultBackend, "error", err)
		backend = nil
	}

	// Prometheus metrics live on their own port, off the public ingress path.
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	router, bgServices := api.NewRouter(cfg, api.Dependencies{
		Provider: provider,
		Recorder: recorder,
		Archive:  backend,
	})

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting server",
			"addr", cfg.Server.GetAddress(),
			"base_url", cfg.Server.BaseURL,
			"audit_path", cfg.Audit.Path,
			"audit_format", cfg.Audit.Format,
			"archive_backend", cfg.Archive.DefaultBackend,
			"tls", cfg.Security.TLS.Enabled)

		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Stop rate limiters and flush audit shippers once requests have drained
	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

// newRecorder opens the audit store and attaches the configured shippers.
func newRecorder(cfg *config.Config) (*audit.Recorder, error) {
	store, err := audit.NewStoreFromConfig(&cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	if err := store.CheckWritable(); err != nil {
		return nil, err
	}

	var opts []audit.RecorderOption
	if len(cfg.Audit.Shippers) > 0 {
		shipper, err := audit.NewMultiShipper(cfg.Audit.Shippers)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise audit shippers: %w", err)
		}
		if shipper.Len() > 0 {
			opts = append(opts, audit.WithShipper(shipper))
		}
	}
	return audit.NewRecorder(store, opts...), nil
}

// runArchive uploads one snapshot of the audit log and prints where it went.
func runArchive(cfg *config.Config, stdout io.Writer) error {
	store, err := audit.NewStoreFromConfig(&cfg.Audit)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	backend, err := archive.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialise archive backend: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := archive.Export(ctx, store, backend, cfg.Archive.Prefix, time.Now())
	if err != nil {
		return fmt.Errorf("archive failed: %w", err)
	}
	fmt.Fprintf(stdout, "archived %d entries to %s:%s (%d bytes, sha256 %s)\n",
		result.Entries, result.Backend, result.Key, result.Size, result.Checksum)
	return nil
}

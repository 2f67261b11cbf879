package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	v1 "github.com/storelink/catalog-console/cmd/catalog-console/api/v1"
	"github.com/storelink/catalog-console/internal/commerce"
	"github.com/storelink/catalog-console/internal/config"
	"github.com/storelink/catalog-console/internal/httpclient"
	"github.com/storelink/catalog-console/internal/settings"
	pkgsync "github.com/storelink/catalog-console/internal/sync"
	"github.com/storelink/catalog-console/internal/telemetry"
	"github.com/storelink/catalog-console/internal/versions"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the console API server",
	Long: `Start the console API server to serve catalog grids, view settings and
sync operations.

The server requires a configuration file (--config) that specifies the
commerce and MDM upstreams plus all other operational settings.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second // container-friendly shutdown time
	serverReadTimeout      = 10 * time.Second // enough for headers and small requests
	serverIdleTimeout      = 60 * time.Second // keep connections alive for reuse

	serviceName = "catalog-console"
)

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides config)")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		slog.Error("Failed to bind address flag", "error", err)
	}
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		slog.Error("Failed to bind config flag", "error", err)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
	}
}

// consoleDeps bundles everything built from configuration.
type consoleDeps struct {
	commerceClient *httpclient.DefaultClient
	mdmClient      *httpclient.DefaultClient
	store          settings.Store
	manager        *pkgsync.Manager
	telemetry      *telemetry.Telemetry
}

func (d *consoleDeps) close() {
	if d.manager != nil {
		d.manager.Close()
	}
	if d.telemetry != nil {
		if err := d.telemetry.Shutdown(context.Background()); err != nil {
			slog.Error("Failed to shut down telemetry", "error", err)
		}
	}
}

// buildDeps constructs the resource clients, the settings store and the sync
// manager from configuration. Shared by serve and the one-shot sync command.
func buildDeps(cfg *config.Config) (*consoleDeps, error) {
	tel, err := telemetry.New(serviceName, versions.GetVersionInfo().Version, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	clientMetrics, err := telemetry.NewClientMetrics(tel.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create client metrics: %w", err)
	}
	syncMetrics, err := telemetry.NewSyncMetrics(tel.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}

	clientOpts := func(u *config.UpstreamConfig) ([]httpclient.Option, error) {
		opts := []httpclient.Option{
			httpclient.WithRequestTimeout(cfg.Client.RequestTimeoutDuration(httpclient.DefaultRequestTimeout)),
			httpclient.WithMetrics(clientMetrics),
		}
		if cfg.Client.Retries > 0 {
			opts = append(opts, httpclient.WithRetries(cfg.Client.Retries))
		}
		if cfg.Client.CacheSize > 0 {
			opts = append(opts, httpclient.WithCacheSize(cfg.Client.CacheSize))
		}
		if cfg.Client.CacheTTL != "" {
			opts = append(opts, httpclient.WithCacheTTL("", cfg.Client.CacheTTLDuration(0)))
		}
		if cfg.Client.BreakerThreshold > 0 {
			opts = append(opts, httpclient.WithBreaker(
				cfg.Client.BreakerThreshold,
				cfg.Client.BreakerOpenForDuration(0),
			))
		}
		token, err := u.GetToken()
		if err != nil {
			return nil, err
		}
		if token != "" {
			opts = append(opts, httpclient.WithToken(token))
		}
		return opts, nil
	}

	commerceOpts, err := clientOpts(&cfg.Commerce)
	if err != nil {
		return nil, fmt.Errorf("failed to configure commerce client: %w", err)
	}
	commerceClient, err := httpclient.New(cfg.Commerce.BaseURL, commerceOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create commerce client: %w", err)
	}

	mdmOpts, err := clientOpts(&cfg.MDM)
	if err != nil {
		return nil, fmt.Errorf("failed to configure mdm client: %w", err)
	}
	mdmClient, err := httpclient.New(cfg.MDM.BaseURL, mdmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mdm client: %w", err)
	}

	var store settings.Store
	if cfg.SettingsFile != "" {
		store = settings.NewFileStore(cfg.SettingsFile)
		slog.Info("Using file-backed view settings store", "path", cfg.SettingsFile)
	} else {
		store = settings.NewMemoryStore()
		slog.Info("Using in-memory view settings store")
	}

	managerOpts := []pkgsync.Option{pkgsync.WithMetrics(syncMetrics)}
	if cfg.Sync.SourceRetries >= 0 {
		managerOpts = append(managerOpts, pkgsync.WithSourceRetries(cfg.Sync.SourceRetries))
	}
	manager := pkgsync.NewManager(commerce.NewMDMClient(mdmClient), managerOpts...)

	return &consoleDeps{
		commerceClient: commerceClient,
		mdmClient:      mdmClient,
		store:          store,
		manager:        manager,
		telemetry:      tel,
	}, nil
}

func loadServeConfig() (*config.Config, error) {
	configPath := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"commerce", cfg.Commerce.BaseURL,
		"mdm", cfg.MDM.BaseURL)
	return cfg, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}

	address := viper.GetString("address")
	if address == "" {
		address = cfg.GetAddress()
	}

	deps, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer deps.close()

	router := v1.NewServer(
		v1.Deps{
			Commerce: deps.commerceClient,
			Store:    deps.store,
			Sync:     deps.manager,
			Metrics:  deps.telemetry.Handler(),
		},
		v1.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			v1.LoggingMiddleware,
		),
	)

	// WriteTimeout stays zero: the sync event stream holds its response
	// open for the lifetime of a job.
	server := &http.Server{
		Addr:        address,
		Handler:     router,
		ReadTimeout: serverReadTimeout,
		IdleTimeout: serverIdleTimeout,
	}

	go func() {
		slog.Info("Server listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Server shutdown complete")
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/appliance-health/healthd/internal/api"
	"github.com/appliance-health/healthd/internal/bus"
	"github.com/appliance-health/healthd/internal/config"
	"github.com/appliance-health/healthd/internal/logging"
	"github.com/appliance-health/healthd/internal/migration"
	"github.com/appliance-health/healthd/internal/models"
	"github.com/appliance-health/healthd/internal/monitor"
	"github.com/appliance-health/healthd/internal/notifications"
	"github.com/appliance-health/healthd/internal/rules"
	"github.com/appliance-health/healthd/internal/storage"
	"github.com/appliance-health/healthd/internal/version"
)

const retentionInterval = time.Hour

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = config.DefaultPath
	}

	cfg, cfgErr := config.LoadOrDefault(configPath)

	undo := logging.Initialize(cfg.Logging.Level, cfg.Logging.Format)
	defer undo()
	defer logging.Sync()

	logger := logging.For("main")
	logger.Infof("Starting healthd %s...", version.Get())
	if cfgErr != nil {
		logger.Warnf("Using default configuration (%s): %v", configPath, cfgErr)
	} else {
		logger.Infof("Configuration loaded (config path: %s)", configPath)
	}

	if err := run(cfg, logger); err != nil {
		logger.Errorf("healthd stopped: %v", err)
		logging.Sync()
		os.Exit(1)
	}
}

func run(cfg *models.Config, logger *zap.SugaredLogger) error {
	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Infof("Database initialized (%s)", db.Driver())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	b := bus.New()
	dispatcher := notifications.NewDispatcher(db, cfg.Notifications.MaxPerHour, reg)

	// Channels declared in the config file, then the in-app fallback
	if _, err := migration.ImportChannels(db, cfg.Notifications.Channels, dispatcher.ValidateChannel); err != nil {
		logger.Warnf("Failed to import notification channels: %v", err)
	}
	if err := db.InitializeDefaultChannels(); err != nil {
		logger.Warnf("Failed to initialize default notification channels: %v", err)
	}

	registry := rules.NewRegistry(b, dispatcher, rules.Options{
		Disabled: disabledRules(cfg.Rules.Disabled, logger),
		Metrics:  rules.NewMetrics(reg),
	})
	if err := registry.EnsureAll(); err != nil {
		return fmt.Errorf("failed to build rules: %w", err)
	}
	logger.Infof("Rules registered on topics %v", b.Topics())

	mon := monitor.New(b, db, monitor.Options{StateFile: cfg.StateFile, Registerer: reg})
	if err := mon.Start(); err != nil {
		// The service stays up; the next ingested state starts a fresh cycle.
		logger.Warnf("Initial validation failed: %v", err)
	}

	apiServer := api.New(api.Deps{
		DB:         db,
		Monitor:    mon,
		Dispatcher: dispatcher,
		Registry:   registry,
		Gatherer:   reg,
		Auth:       cfg.Auth,
	})
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	server := &http.Server{
		Addr:         addr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Database.EventRetentionDays > 0 {
		go runEventRetention(ctx, db, cfg.Database.EventRetentionDays, logger)
	}

	// Start HTTP server
	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("Server listening on http://%s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	}

	logger.Infof("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Server forced to shutdown: %v", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warnf("Pending notifications abandoned: %v", err)
	}

	logger.Infof("Server stopped")
	return nil
}

func openDatabase(cfg models.DatabaseConfig) (*storage.DB, error) {
	if cfg.Driver == storage.DriverPostgres {
		return storage.Open(cfg.Driver, cfg.DSN)
	}

	// Ensure database directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	return storage.Open(cfg.Driver, cfg.Path)
}

// disabledRules resolves configured rule names, skipping unknown ones.
func disabledRules(names []string, logger *zap.SugaredLogger) map[rules.Type]bool {
	disabled := make(map[rules.Type]bool, len(names))
	for _, name := range names {
		t, err := rules.ParseType(name)
		if err != nil {
			logger.Warnf("Ignoring disabled rule %q: %v", name, err)
			continue
		}
		disabled[t] = true
		logger.Infof("Rule %s disabled", t)
	}
	return disabled
}

// runEventRetention deletes events older than the retention window at regular intervals
func runEventRetention(ctx context.Context, db *storage.DB, days int, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()

	prune := func() {
		cutoff := time.Now().UTC().AddDate(0, 0, -days)
		n, err := db.DeleteEventsBefore(cutoff)
		if err != nil {
			logger.Warnf("Event retention cleanup failed: %v", err)
			return
		}
		if n > 0 {
			logger.Infof("Deleted %d events older than %d days", n, days)
		}
	}

	prune()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

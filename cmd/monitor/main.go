package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/perpwatch/engine/internal/api"
	"github.com/perpwatch/engine/internal/config"
	"github.com/perpwatch/engine/internal/connection"
	"github.com/perpwatch/engine/internal/database"
	"github.com/perpwatch/engine/internal/engine"
	"github.com/perpwatch/engine/internal/journal"
	"github.com/perpwatch/engine/internal/leaderboard"
	"github.com/perpwatch/engine/internal/model"
	"github.com/perpwatch/engine/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/monitor.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// .env is optional; config values reference env vars via ${VAR}
	godotenv.Load()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting monitor",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"info_url", cfg.API.InfoURL,
		"leaderboard_url", cfg.Leaderboard.URL,
		"top_n", cfg.Leaderboard.TopN,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Create API client
	apiClient := api.NewClient(
		cfg.API.InfoURL,
		cfg.Leaderboard.URL,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	// Optional alert journal
	emit, journalStop := setupJournal(ctx, cfg, logger)

	// Subscription manager
	manager := connection.NewManager(connection.ManagerConfig{
		WSURL:          cfg.API.WSURL,
		BatchSize:      cfg.Subscriptions.BatchSize,
		BatchDelay:     cfg.Subscriptions.BatchDelay,
		ReconnectDelay: cfg.Subscriptions.ReconnectDelay,
		WriteTimeout:   cfg.Subscriptions.WriteTimeout,
		PingTimeout:    cfg.Subscriptions.PingTimeout,
		BufferSize:     cfg.Subscriptions.BufferSize,
	}, logger)

	// Leaderboard registry and engine
	registry := leaderboard.NewRegistry(apiClient, cfg.Leaderboard.TopN, logger)

	eng := engine.New(engine.Config{
		Source:          cfg.Instance.Source,
		RefreshInterval: cfg.Leaderboard.RefreshInterval,
		RefreshTimeout:  cfg.Leaderboard.Timeout,
		MinValueUSD:     cfg.Thresholds.MinValueUSD,
		MinLeverage:     cfg.Thresholds.MinLeverage,
		DedupCap:        cfg.Dedup.Cap,
		DedupRetain:     cfg.Dedup.Retain,
	}, apiClient, registry, manager, emit, logger)

	// Status and metrics server
	statusServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: createStatusHandler(eng, cfg.Metrics.Path),
	}

	go func() {
		logger.Info("starting status server", "port", cfg.Metrics.Port)
		if err := statusServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("status server error", "error", err)
		}
	}()

	if err := eng.Start(ctx); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("monitor running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Warn("engine shutdown error", "error", err)
	}
	journalStop(shutdownCtx)
	statusServer.Shutdown(shutdownCtx)

	logger.Info("monitor stopped")
}

// setupJournal wires the optional PostgreSQL alert journal. Returns
// the emit callback for the engine and a stop function. With no
// journal configured, alerts are log-only.
func setupJournal(ctx context.Context, cfg *config.MonitorConfig, logger *slog.Logger) (engine.AlertFunc, func(context.Context)) {
	if cfg.Journal.Database.Host == "" {
		logger.Info("alert journal disabled")
		return nil, func(context.Context) {}
	}

	logger.Info("connecting to alert journal",
		"host", cfg.Journal.Database.Host,
		"port", cfg.Journal.Database.Port,
		"database", cfg.Journal.Database.Name,
	)

	pool, err := database.Connect(ctx, cfg.Journal.Database)
	if err != nil {
		logger.Error("failed to connect to alert journal", "error", err)
		os.Exit(1)
	}

	alerts := make(chan model.AlertRecord, 1000)
	writer := journal.NewWriter(journal.WriterConfig{
		BatchSize:     cfg.Journal.BatchSize,
		FlushInterval: cfg.Journal.FlushInterval,
	}, alerts, pool, logger)

	if err := writer.Start(ctx); err != nil {
		logger.Error("failed to start alert journal", "error", err)
		os.Exit(1)
	}

	emit := func(alert model.AlertRecord) {
		select {
		case alerts <- alert:
		default:
			logger.Warn("journal buffer full, dropping alert", "id", alert.ID)
		}
	}

	stop := func(shutdownCtx context.Context) {
		if err := writer.Stop(shutdownCtx); err != nil {
			logger.Warn("journal shutdown error", "error", err)
		}
		pool.Close()
	}

	return emit, stop
}

// createStatusHandler serves health, debug and Prometheus endpoints.
func createStatusHandler(eng *engine.Engine, metricsPath string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		st := eng.Status()

		health := struct {
			Status string        `json:"status"`
			Engine engine.Status `json:"engine"`
		}{
			Status: "healthy",
			Engine: st,
		}

		switch {
		case !st.Running:
			health.Status = "unhealthy"
		case st.Degraded || st.Targets == 0:
			health.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/targets", func(w http.ResponseWriter, r *http.Request) {
		targets := eng.Targets()

		// Limit to first 100 for debugging
		limit := 100
		showing := targets
		if len(showing) > limit {
			showing = showing[:limit]
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"count":   len(targets),
			"showing": len(showing),
			"targets": showing,
		})
	})

	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	mux.Handle(metricsPath, promhttp.Handler())

	return mux
}

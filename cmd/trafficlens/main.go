// Package main provides the traffic counting service entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/trafficlens/trafficlens/internal/annotate"
	"github.com/trafficlens/trafficlens/internal/api"
	"github.com/trafficlens/trafficlens/internal/bus"
	"github.com/trafficlens/trafficlens/internal/config"
	"github.com/trafficlens/trafficlens/internal/database"
	"github.com/trafficlens/trafficlens/internal/detect"
	"github.com/trafficlens/trafficlens/internal/event"
	"github.com/trafficlens/trafficlens/internal/ingest"
	"github.com/trafficlens/trafficlens/internal/pipeline"
	"github.com/trafficlens/trafficlens/internal/retention"
	"github.com/trafficlens/trafficlens/internal/roi"
	"github.com/trafficlens/trafficlens/internal/snapshot"
	"github.com/trafficlens/trafficlens/internal/track"
)

func main() {
	// .env is optional; real environment wins.
	_ = godotenv.Load()

	configPath := os.Getenv("TRAFFICLENS_CONFIG")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(newLogHandler(cfg.Logging))
	slog.SetDefault(logger)

	slog.Info("Starting traffic counting service",
		"config", configPath,
		"source", cfg.Source.Type,
		"api", cfg.API.Bind,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		slog.Error("Failed to create data directory", "error", err)
		os.Exit(1)
	}

	// Database
	db, err := database.Open(database.DefaultConfig(cfg.Storage.DataDir))
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.NewMigrator(db).Run(ctx); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Embedded event bus
	eventBus, err := bus.New(bus.Config{Host: cfg.Bus.Host, Port: cfg.Bus.Port}, logger)
	if err != nil {
		slog.Error("Failed to start event bus", "error", err)
		os.Exit(1)
	}
	defer eventBus.Stop()

	// ROI model, falling back to the built-in default when unconfigured.
	model := roi.Load(cfg.ROI.Path)

	// Snapshot store
	store, err := snapshot.NewStore(cfg.Storage.SnapshotsDir)
	if err != nil {
		slog.Error("Failed to create snapshot store", "error", err)
		os.Exit(1)
	}

	events := event.NewService(db, eventBus)

	if cfg.Retention.MaxAgeHours > 0 {
		retainer := retention.NewWorker(events, cfg.Storage.SnapshotsDir, retention.Config{
			MaxAge:   time.Duration(cfg.Retention.MaxAgeHours) * time.Hour,
			Interval: time.Duration(cfg.Retention.SweepIntervalMinutes) * time.Minute,
		})
		go retainer.Run(ctx)
	}

	// WebSocket hub, fed from the event service and the bus.
	hub := api.NewHub()
	go hub.Run()

	sub := events.Subscribe()
	defer events.Unsubscribe(sub)
	go func() {
		for ev := range sub {
			hub.Broadcast(api.Message{Type: api.MessageTypeEvent, Data: ev})
		}
	}()

	if _, err := eventBus.Subscribe(bus.SubjectDetection, func(msg *nats.Msg) {
		hub.Broadcast(api.Message{Type: api.MessageTypeDetection, Data: json.RawMessage(msg.Data)})
	}); err != nil {
		slog.Warn("Detection stream bridge unavailable", "error", err)
	}
	if _, err := eventBus.Subscribe(bus.SubjectPipelineState, func(msg *nats.Msg) {
		hub.Broadcast(api.Message{Type: api.MessageTypePipelineState, Data: json.RawMessage(msg.Data)})
	}); err != nil {
		slog.Warn("Pipeline state bridge unavailable", "error", err)
	}

	detector := detect.NewClient(detect.ClientConfig{
		Address:       cfg.Detector.Address,
		Timeout:       time.Duration(cfg.Detector.TimeoutSeconds) * time.Second,
		MinConfidence: cfg.Detector.MinConfidence,
	})

	pipe := pipeline.New(
		pipeline.Config{
			FPS: cfg.Source.FPS,
			Tracker: track.Config{
				MaxDisappeared:    int64(cfg.Tracker.MaxDisappeared),
				IoUThreshold:      cfg.Tracker.IoUThreshold,
				DistanceThreshold: cfg.Tracker.DistanceThreshold,
			},
		},
		sourceFactory(cfg.Source),
		detector,
		model,
		annotate.Defaults(),
		store,
		events,
		eventBus,
	)
	if err := pipe.Start(ctx); err != nil {
		slog.Error("Failed to start pipeline", "error", err)
		os.Exit(1)
	}
	defer pipe.Stop()

	// Watch the config file; source and threshold changes need a restart,
	// but the log level follows live.
	if err := cfg.Watch(); err != nil {
		slog.Warn("Config watch unavailable", "error", err)
	}

	server := &http.Server{
		Addr:         cfg.API.Bind,
		Handler:      api.NewServer(events, hub, pipe, db, store.Dir()).Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Server starting", "address", cfg.API.Bind)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "error", err)
			cancel()
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	slog.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	slog.Info("Server stopped")
}

// sourceFactory returns a factory opening a fresh frame source per
// pipeline cycle.
func sourceFactory(cfg config.SourceConfig) pipeline.SourceFactory {
	return func() (ingest.Source, error) {
		switch cfg.Type {
		case "dir":
			return ingest.NewDirSource(cfg.Dir)
		case "url":
			return ingest.NewHTTPSource(cfg.URL), nil
		default:
			return nil, fmt.Errorf("unknown source type: %s", cfg.Type)
		}
	}
}

func newLogHandler(cfg config.LoggingConfig) slog.Handler {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.NewJSONHandler(os.Stdout, opts)
}

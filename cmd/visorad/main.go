// Package main is the visora daemon: multi-camera capture, segment
// recording, and the HTTP control API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/visora/visora/internal/api"
	"github.com/visora/visora/internal/bus"
	"github.com/visora/visora/internal/capture"
	"github.com/visora/visora/internal/config"
	"github.com/visora/visora/internal/database"
	"github.com/visora/visora/internal/recording"
	"github.com/visora/visora/internal/video"
)

const defaultConfigPath = "/data/config.yaml"

func main() {
	// Initialize structured logging
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	configPath := getEnv("CONFIG_PATH", defaultConfigPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "config_path", configPath, "error", err)
		os.Exit(1)
	}
	slog.Info("Starting visora",
		"config_path", configPath,
		"data_path", cfg.System.DataPath,
		"cameras", len(cfg.ListCameras()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, dir := range []string{cfg.System.DataPath, cfg.Storage.Path} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("Failed to create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	// Metadata database
	db, err := database.Open(database.DefaultConfig(cfg.System.DataPath))
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := recording.NewStore(db)
	if err := store.InitSchema(ctx); err != nil {
		slog.Error("Failed to initialize schema", "error", err)
		os.Exit(1)
	}

	// Embedded event bus
	eventBus, err := bus.New(bus.Config{Host: cfg.Bus.Host, Port: cfg.Bus.Port})
	if err != nil {
		slog.Error("Failed to start event bus", "error", err)
		os.Exit(1)
	}
	defer eventBus.Stop()

	// Capture workers
	cameras := capture.NewRegistry(video.DefaultSourceFactory, eventBus)
	for _, cam := range cfg.ListCameras() {
		if _, err := cameras.Add(ctx, cam); err != nil {
			slog.Warn("Failed to start camera", "camera_id", cam.ID, "error", err)
		}
	}
	defer cameras.StopAll()

	// Recorders and retention
	recorders := recording.NewRegistry(store, eventBus, cfg.Storage.Path, nil)
	if err := recorders.Start(ctx); err != nil {
		slog.Error("Failed to start recording registry", "error", err)
		os.Exit(1)
	}
	defer recorders.StopAll()

	for _, cam := range cfg.ListCameras() {
		if !cam.Enabled || !cam.Recording.Enabled {
			continue
		}
		rec, err := recorders.StartRecording(ctx, cam)
		if err != nil {
			slog.Warn("Failed to start recording", "camera_id", cam.ID, "error", err)
			continue
		}
		if err := cameras.Attach(cam.ID, rec); err != nil {
			slog.Warn("Failed to attach recorder", "camera_id", cam.ID, "error", err)
		}
	}

	monitor := recording.NewMonitor(store, eventBus, cfg.Storage)
	if err := monitor.Start(ctx); err != nil {
		slog.Error("Failed to start storage monitor", "error", err)
		os.Exit(1)
	}
	defer monitor.Stop()

	// React to config file edits by reconciling the camera set.
	cfg.OnChange(func(c *config.Config) {
		cameras.Sync(ctx, c.ListCameras())
	})
	if err := cfg.Watch(); err != nil {
		slog.Warn("Config watch unavailable", "error", err)
	}

	// HTTP API and WebSocket relay
	server := api.NewServer(cfg, cameras, recorders, store, monitor, eventBus)
	if err := server.Start(ctx); err != nil {
		slog.Error("Failed to start API server", "error", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	slog.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("API shutdown incomplete", "error", err)
	}
	cancel()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

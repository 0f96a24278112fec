package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/traceplay/replayd/api"
	"github.com/traceplay/replayd/config"
	"github.com/traceplay/replayd/hub"
	"github.com/traceplay/replayd/policy"
	"github.com/traceplay/replayd/replay"
	"github.com/traceplay/replayd/store"
	"github.com/traceplay/replayd/trajectory"
	"github.com/traceplay/replayd/vfs"
	"github.com/traceplay/replayd/ws"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting replayd...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Default events path: %s", cfg.EventsPath)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngineFromFile(ctx, cfg.PolicyPath)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize delivery channel and scheduler
	deliveryHub := hub.New()
	scheduler := replay.NewScheduler(deliveryHub, db, policyEngine, replay.Options{
		TickInterval: cfg.TickInterval,
		GracePeriod:  cfg.GracePeriod,
	})

	// Initialize handlers
	wsServer := ws.NewServer(cfg, deliveryHub)
	h := api.NewHandler(scheduler, db, wsServer, cfg)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Register routes
	h.RegisterRoutes(e)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Control surface started on port %d", cfg.HTTPPort)

	if cfg.Autostart {
		go autostartReplay(cfg, scheduler)
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down replayd...")

	scheduler.Stop()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("replayd stopped")
}

// autostartReplay starts a replay of the default events path shortly after
// boot, for headless recording runs where no orchestrator issues the start
// call.
func autostartReplay(cfg *config.Config, scheduler *replay.Scheduler) {
	time.Sleep(1 * time.Second)

	traj, err := trajectory.Load(cfg.EventsPath)
	if err != nil {
		log.Printf("ERROR: replay autostart failed to load %s: %v", cfg.EventsPath, err)
		return
	}
	manifest, warnings, err := trajectory.LoadManifest(cfg.ManifestPath)
	if err != nil {
		log.Printf("ERROR: replay autostart failed to load manifest: %v", err)
		return
	}
	warnings = append(warnings, trajectory.Resolve(traj, manifest)...)

	listing, err := vfs.LoadListing(cfg.WorkspacePath)
	if err != nil {
		log.Printf("ERROR: replay autostart failed to load workspace listing: %v", err)
		return
	}
	model := vfs.New()
	model.Seed(listing)

	snapshot, err := scheduler.Start(replay.StartRequest{
		TrajectoryPath: cfg.EventsPath,
		Trajectory:     traj,
		Model:          model,
		Speed:          cfg.Speed,
		Warnings:       warnings,
	})
	if err != nil {
		log.Printf("ERROR: replay autostart failed: %v", err)
		return
	}
	log.Printf("INFO: replay autostart: session %s (%s, speed %.2f)",
		snapshot.SessionID, cfg.EventsPath, cfg.Speed)
}

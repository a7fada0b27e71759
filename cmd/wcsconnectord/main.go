// wcsconnectord is the Warehouse Control System connector: it loads the PLC
// fleet and layout configuration, runs the command orchestration core, and
// serves it over HTTP/WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/wcsconnector/core/pkg/api"
	"github.com/wcsconnector/core/pkg/cleanup"
	"github.com/wcsconnector/core/pkg/config"
	"github.com/wcsconnector/core/pkg/gateway"
)

// shutdownGrace bounds how long the HTTP server waits for in-flight
// requests to finish once a shutdown signal arrives.
const shutdownGrace = 10 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	ginMode := getEnv("GIN_MODE", "release")
	gin.SetMode(ginMode)

	log.Printf("Starting wcsconnectord")
	log.Printf("HTTP Port: %s", httpPort)
	log.Printf("Config Directory: %s", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	gw, err := gateway.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize gateway: %v", err)
	}
	log.Println("✓ Devices registered")

	if err := gw.ActivateAll(ctx); err != nil {
		log.Printf("Warning: one or more devices failed to activate: %v", err)
	}

	if err := gw.Start(ctx); err != nil {
		log.Fatalf("Failed to start gateway: %v", err)
	}
	defer gw.Stop()
	log.Println("✓ Orchestration core started")

	if sink := gw.AuditSink(); sink != nil {
		retention := cleanup.NewService(cfg.Audit, sink)
		retention.Start(ctx)
		defer retention.Stop()
		log.Println("✓ Audit history retention sweep started")
	}

	server := api.NewServer(cfg, gw)

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on :%s", httpPort)
		log.Printf("Health check available at: http://localhost:%s/health", httpPort)
		serveErr <- server.Start(":" + httpPort)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	case <-ctx.Done():
		log.Println("Shutdown signal received, draining connections...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Warning: server shutdown did not complete cleanly: %v", err)
		}
	}

	log.Println("✓ Shutdown complete")
}

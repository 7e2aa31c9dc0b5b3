package main

import (
	"fmt"
	"log"
	"os"

	"github.com/mkurata/gh-lang-stats/internal/api"
	"github.com/mkurata/gh-lang-stats/internal/config"
	"github.com/mkurata/gh-lang-stats/internal/storage"
	"github.com/mkurata/gh-lang-stats/internal/storage/jsonfile"
	"github.com/mkurata/gh-lang-stats/internal/storage/postgres"
	"github.com/mkurata/gh-lang-stats/internal/storage/sqlite"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize storage
	var backend storage.Backend
	switch cfg.StorageType {
	case "postgres":
		backend, err = postgres.NewBackend(cfg.PostgresURL)
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL storage: %v", err)
		}
	case "sqlite":
		backend, err = sqlite.NewBackend(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite storage: %v", err)
		}
	default:
		backend, err = jsonfile.NewBackend(cfg.CacheDir)
		if err != nil {
			log.Fatalf("Failed to initialize JSON-file storage: %v", err)
		}
	}
	defer backend.Close()

	// Initialize handler
	handler, err := api.NewHandler(backend)
	if err != nil {
		log.Fatalf("Failed to initialize handler: %v", err)
	}

	// Setup routes
	router := api.SetupRoutes(handler)

	// Start server
	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	fmt.Printf("Starting API server on %s\n", addr)
	fmt.Printf("Storage type: %s\n", cfg.StorageType)

	if err := router.Run(addr); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		os.Exit(1)
	}
}

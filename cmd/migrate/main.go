package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"travel-time/internal/config"
	"travel-time/pkg/database"
	"travel-time/pkg/logging"
	"travel-time/pkg/metrics"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	configPath := flag.String("config", os.Getenv(config.ConfigPathEnvVar), "Path to the YAML configuration file")
	migrationsDir := flag.String("dir", "migrations", "Directory containing migration files")
	flag.Parse()

	if *direction != "up" && *direction != "down" {
		fmt.Fprintf(os.Stderr, "Invalid direction %q: must be up or down\n", *direction)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("tod-migrate", "1.0.0", logging.ParseLevel(cfg.Logging.Level))
	logger.SetFormat(cfg.Logging.Format)
	ctx := context.Background()

	// Connect to database
	db, err := database.NewPostgresDB(ctx, &database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, logger, metrics.NewCollector(cfg.Metrics.Namespace))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Println("Connected to database successfully")

	// Read migration file
	migrationFile := fmt.Sprintf("001_create_reference.%s.sql", *direction)
	migrationPath := filepath.Join(*migrationsDir, migrationFile)
	content, err := os.ReadFile(migrationPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read migration file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Running migration: %s\n", migrationPath)

	// Execute migration
	if _, err := db.ExecContext(ctx, "migration", string(content)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Migration completed successfully")
}

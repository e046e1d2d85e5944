package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"travel-time/internal/config"
	"travel-time/internal/repository"
	"travel-time/internal/services"
	"travel-time/pkg/database"
	"travel-time/pkg/logging"
	"travel-time/pkg/metrics"
	"travel-time/pkg/storage"
)

const version = "1.0.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the analysis and returns the process exit code
func run(args []string) int {
	// Parse command-line flags
	fs := flag.NewFlagSet("analyzer", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv(config.ConfigPathEnvVar), "Path to the YAML configuration file")
	vehicles := fs.String("vehicle", "", "Comma-separated vehicle classes, e.g. cars,trucks")
	months := fs.String("months", "", "Comma-separated three-letter months, e.g. mar,apr,may")
	year := fs.String("year", "", "Four-digit analysis year")
	percentile := fs.Float64("percentile", 0, "Percentile in (0,1), e.g. 0.8")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	config.Overrides{
		Vehicles:   *vehicles,
		Months:     *months,
		Year:       *year,
		Percentile: *percentile,
	}.Apply(cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration:\n%v\n", err)
		return 1
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("tod-analyzer", version, logging.ParseLevel(cfg.Logging.Level))
	logger.SetFormat(cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "[ANALYZER_START] Starting time-of-day analysis", logging.Fields{
		"version":    version,
		"year":       cfg.Analysis.Year,
		"months":     cfg.Analysis.Months,
		"vehicles":   cfg.Analysis.VehicleClasses,
		"percentile": cfg.Analysis.Percentile,
		"data_dir":   cfg.Paths.DataDir,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector(cfg.Metrics.Namespace)

	// Initialize reference store
	var refRepo repository.ReferenceRepository
	switch cfg.Reference.Store {
	case config.StorePostgres:
		dbConfig := &database.Config{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.Database,
			SSLMode:         cfg.Database.SSLMode,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		}
		db, err := database.NewPostgresDB(ctx, dbConfig, logger, metricsCollector)
		if err != nil {
			logger.Error(ctx, "[ANALYZER_ERROR] Failed to connect to reference database", logging.Fields{}, err)
			return 1
		}
		defer db.Close()
		refRepo = repository.NewPostgresReferenceRepository(db, logger)
	default:
		refRepo = repository.NewCSVReferenceRepository(cfg.Paths.PostedSpeedFile, cfg.Paths.ExclusionFile, logger)
	}

	// Initialize object store
	var store services.ObjectStore
	if cfg.Storage.Enabled {
		store = storage.NewS3Store(storage.Config{
			Endpoint:        cfg.Storage.Endpoint,
			Region:          cfg.Storage.Region,
			Bucket:          cfg.Storage.Bucket,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
		}, logger)
	}

	pipeline := services.NewPipelineService(cfg, refRepo, store, logger, metricsCollector)

	startTime := time.Now()
	results, runErr := pipeline.RunAll(ctx)

	// Print results
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("ANALYSIS COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	for _, r := range results {
		fmt.Printf("Vehicle Class:      %s\n", r.Vehicle)
		fmt.Printf("Period:             %s %s\n", r.Period, cfg.Analysis.Year)
		fmt.Printf("Run ID:             %s\n", r.RunID)
		fmt.Printf("Observations Read:  %d\n", r.Read)
		fmt.Printf("Observations Kept:  %d\n", r.Kept)
		reasons := make([]string, 0, len(r.Dropped))
		for reason := range r.Dropped {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			fmt.Printf("  Dropped (%s): %d\n", reason, r.Dropped[reason])
		}
		fmt.Printf("TMC Segments:       %d\n", r.Segments)
		fmt.Printf("Windows:            %d (%d empty)\n", r.Windows, r.EmptyWindows)
		fmt.Printf("Aggregate Records:  %d\n", r.Records)
		fmt.Printf("Output Directory:   %s\n", r.OutputDir)
		for _, path := range r.Outputs {
			fmt.Printf("  - %s\n", path)
		}
		if r.Uploaded > 0 {
			fmt.Printf("Uploaded Files:     %d\n", r.Uploaded)
		}
		fmt.Printf("Duration:           %v\n", r.Duration)
		fmt.Println(strings.Repeat("-", 80))
	}
	fmt.Printf("Total Duration:     %v\n", time.Since(startTime))

	if runErr != nil {
		fmt.Printf("\nErrors:\n")
		for _, e := range unwrapJoined(runErr) {
			fmt.Printf("  - %v\n", e)
		}
		logger.Error(ctx, "[ANALYZER_ERROR] Analysis finished with failures", logging.Fields{
			"successful_runs": len(results),
		}, runErr)
		return 1
	}

	logger.Info(ctx, "[ANALYZER_COMPLETE] Analysis completed successfully", logging.Fields{
		"runs":             len(results),
		"duration_seconds": time.Since(startTime).Seconds(),
	})
	return 0
}

// unwrapJoined splits an errors.Join result into its parts
func unwrapJoined(err error) []error {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		return joined.Unwrap()
	}
	return []error{err}
}

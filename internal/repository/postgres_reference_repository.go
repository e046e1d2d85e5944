package repository

import (
	"context"
	"fmt"
	"time"

	"travel-time/internal/models"
	"travel-time/pkg/database"
	"travel-time/pkg/logging"
)

// postgresReferenceRepository reads reference tables from PostgreSQL
type postgresReferenceRepository struct {
	db     *database.PostgresDB
	logger *logging.StructuredLogger
}

// NewPostgresReferenceRepository creates a repository over the
// tmc_posted_speeds and tmc_exclusions tables
func NewPostgresReferenceRepository(db *database.PostgresDB, logger *logging.StructuredLogger) ReferenceRepository {
	return &postgresReferenceRepository{
		db:     db,
		logger: logger,
	}
}

// LoadPostedSpeeds retrieves every posted speed
func (r *postgresReferenceRepository) LoadPostedSpeeds(ctx context.Context) (map[string]float64, error) {
	timer := time.Now()

	query := `
		SELECT tmc, posted_speed
		FROM tmc_posted_speeds
		WHERE posted_speed IS NOT NULL
		ORDER BY tmc
	`

	var records []models.PostedSpeedRecord
	if err := r.db.SelectContext(ctx, "list_posted_speeds", &records, query); err != nil {
		return nil, fmt.Errorf("failed to list posted speeds: %w", err)
	}

	speeds := make(map[string]float64, len(records))
	for _, rec := range records {
		speeds[rec.Tmc] = rec.PostedSpeed
	}

	r.logger.Debug(ctx, "[REPO_POSTED_SPEEDS] Posted speeds retrieved", logging.Fields{
		"segments":    len(speeds),
		"duration_ms": time.Since(timer).Milliseconds(),
	})
	return speeds, nil
}

// LoadExclusions retrieves the excluded TMCs
func (r *postgresReferenceRepository) LoadExclusions(ctx context.Context) (map[string]struct{}, error) {
	query := `
		SELECT tmc
		FROM tmc_exclusions
		ORDER BY tmc
	`

	var tmcs []string
	if err := r.db.SelectContext(ctx, "list_exclusions", &tmcs, query); err != nil {
		return nil, fmt.Errorf("failed to list exclusions: %w", err)
	}

	excluded := make(map[string]struct{}, len(tmcs))
	for _, tmc := range tmcs {
		excluded[tmc] = struct{}{}
	}

	r.logger.Debug(ctx, "[REPO_EXCLUSIONS] Exclusions retrieved", logging.Fields{
		"segments": len(excluded),
	})
	return excluded, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"travel-time/internal/models"
	"travel-time/pkg/logging"
)

// ReferenceRepository provides the per-run reference tables
type ReferenceRepository interface {
	// LoadPostedSpeeds returns the reference speed of every known TMC
	LoadPostedSpeeds(ctx context.Context) (map[string]float64, error)
	// LoadExclusions returns the TMCs removed from every output
	LoadExclusions(ctx context.Context) (map[string]struct{}, error)
}

// csvReferenceRepository reads the posted-speed and exclusion CSV files
type csvReferenceRepository struct {
	postedPath    string
	exclusionPath string
	logger        *logging.StructuredLogger
}

// NewCSVReferenceRepository creates a repository over flat reference files.
// An empty exclusionPath means nothing is excluded.
func NewCSVReferenceRepository(postedPath, exclusionPath string, logger *logging.StructuredLogger) ReferenceRepository {
	return &csvReferenceRepository{
		postedPath:    postedPath,
		exclusionPath: exclusionPath,
		logger:        logger,
	}
}

// LoadPostedSpeeds reads Tmc,PostedSpeed rows. Rows with an empty speed are
// skipped; a non-numeric speed aborts the load.
func (r *csvReferenceRepository) LoadPostedSpeeds(ctx context.Context) (map[string]float64, error) {
	f, err := openInput(r.postedPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	table, err := newCSVTable(r.postedPath, f)
	if err != nil {
		return nil, err
	}
	if err := table.require("Tmc", "PostedSpeed"); err != nil {
		return nil, err
	}

	speeds := make(map[string]float64)
	var blank []string
	duplicates := 0
	for {
		rec, line, err := table.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		tmc := table.field(rec, "Tmc")
		if tmc == "" {
			continue
		}
		speed, err := table.optionalFloat(rec, line, "PostedSpeed")
		if err != nil {
			return nil, err
		}
		if speed == nil {
			blank = append(blank, tmc)
			continue
		}
		if _, ok := speeds[tmc]; ok {
			duplicates++
			continue
		}
		speeds[tmc] = *speed
	}

	r.logger.Info(ctx, "[REFERENCE_POSTED] Posted speeds loaded", logging.Fields{
		"file":       r.postedPath,
		"segments":   len(speeds),
		"blank":      len(blank),
		"duplicates": duplicates,
	})
	if len(blank) > 0 {
		r.logger.Warn(ctx, "[REFERENCE_BLANK] TMCs without a posted speed; their observations are dropped", logging.Fields{
			"file":  r.postedPath,
			"count": len(blank),
			"tmcs":  blank,
		})
	}
	return speeds, nil
}

// LoadExclusions reads the Tmc column of the exclusion file
func (r *csvReferenceRepository) LoadExclusions(ctx context.Context) (map[string]struct{}, error) {
	excluded := make(map[string]struct{})
	if r.exclusionPath == "" {
		return excluded, nil
	}

	f, err := openInput(r.exclusionPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	table, err := newCSVTable(r.exclusionPath, f)
	if err != nil {
		return nil, err
	}
	if err := table.require("Tmc"); err != nil {
		return nil, err
	}

	for {
		rec, _, err := table.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if tmc := table.field(rec, "Tmc"); tmc != "" {
			excluded[tmc] = struct{}{}
		}
	}

	r.logger.Info(ctx, "[REFERENCE_EXCLUSIONS] Exclusions loaded", logging.Fields{
		"file":     r.exclusionPath,
		"segments": len(excluded),
	})
	return excluded, nil
}

// LoadReferenceData builds the immutable reference lookup for a run. When
// withSpeeds is false only exclusions are loaded; reference speeds then come
// from the observations themselves. A TMC both excluded and carrying a
// posted speed is excluded.
func LoadReferenceData(ctx context.Context, repo ReferenceRepository, withSpeeds bool, logger *logging.StructuredLogger) (*models.ReferenceData, error) {
	excluded, err := repo.LoadExclusions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load exclusions: %w", err)
	}

	speeds := map[string]float64{}
	if withSpeeds {
		speeds, err = repo.LoadPostedSpeeds(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load posted speeds: %w", err)
		}
	}

	var conflicts []string
	for tmc := range excluded {
		if _, ok := speeds[tmc]; ok {
			conflicts = append(conflicts, tmc)
			delete(speeds, tmc)
		}
	}
	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		logger.Warn(ctx, "[REFERENCE_CONFLICT] Excluded TMCs also have reference speeds; exclusion applied", logging.Fields{
			"count": len(conflicts),
			"tmcs":  conflicts,
		})
	}

	return &models.ReferenceData{Speeds: speeds, Excluded: excluded}, nil
}

// openInput opens a required input file, mapping absence to InputMissingError
func openInput(path string) (*os.File, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &models.InputMissingError{Path: path}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

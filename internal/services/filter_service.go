package services

import (
	"context"
	"fmt"
	"time"

	"travel-time/internal/config"
	"travel-time/internal/models"
	"travel-time/pkg/logging"
	"travel-time/pkg/metrics"
)

// Drop reasons, in the order the filter applies them
const (
	DropDateRange     = "date_range"
	DropExcluded      = "excluded"
	DropUnknown       = "unknown_segment"
	DropNoReference   = "no_reference"
	DropSpeedBounds   = "speed_bounds"
	DropReferenceBand = "reference_band"
)

var dropReasons = []string{DropDateRange, DropExcluded, DropUnknown, DropNoReference, DropSpeedBounds, DropReferenceBand}

// FilterOptions are the per-run filter parameters
type FilterOptions struct {
	Low             float64
	High            float64
	ReferenceSource string
	BandEnabled     bool
	BandLow         float64
	BandHigh        float64
	// Start and End bound the measurement date; End is exclusive. Zero
	// values leave that side unbounded.
	Start time.Time
	End   time.Time
	// Segments, when set, limits observations to the identified segments
	Segments map[string]struct{}
}

// FilterOptionsFromConfig derives filter options; the configured end date is
// inclusive of the whole day
func FilterOptionsFromConfig(cfg *config.Config) (FilterOptions, error) {
	opts := FilterOptions{
		Low:             cfg.Speed.Low,
		High:            cfg.Speed.High,
		ReferenceSource: cfg.Reference.Source,
		BandEnabled:     cfg.Reference.BandEnabled,
		BandLow:         cfg.Reference.BandLow,
		BandHigh:        cfg.Reference.BandHigh,
	}
	if cfg.Analysis.StartDate != "" {
		start, err := time.Parse(time.DateOnly, cfg.Analysis.StartDate)
		if err != nil {
			return opts, &models.ValidationError{Field: "analysis.start_date", Value: cfg.Analysis.StartDate, Message: "invalid date"}
		}
		opts.Start = start
	}
	if cfg.Analysis.EndDate != "" {
		end, err := time.Parse(time.DateOnly, cfg.Analysis.EndDate)
		if err != nil {
			return opts, &models.ValidationError{Field: "analysis.end_date", Value: cfg.Analysis.EndDate, Message: "invalid date"}
		}
		opts.End = end.AddDate(0, 0, 1)
	}
	return opts, nil
}

// ObservationSource streams raw observations
type ObservationSource interface {
	EachObservation(ctx context.Context, fn func(*models.RawObservation) error) (int, error)
}

// FilterResult contains per-source filter statistics
type FilterResult struct {
	Read     int
	Kept     int
	Dropped  map[string]int
	Duration time.Duration
}

// FilterService validates and enriches raw observations against the
// reference data of a run
type FilterService struct {
	ref     *models.ReferenceData
	opts    FilterOptions
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewFilterService creates a new filter service
func NewFilterService(ref *models.ReferenceData, opts FilterOptions, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *FilterService {
	return &FilterService{
		ref:     ref,
		opts:    opts,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Apply filters one observation. The returned reason is empty when the
// observation is kept.
func (s *FilterService) Apply(raw *models.RawObservation) (models.Observation, string) {
	if !s.opts.Start.IsZero() && raw.Timestamp.Before(s.opts.Start) {
		return models.Observation{}, DropDateRange
	}
	if !s.opts.End.IsZero() && !raw.Timestamp.Before(s.opts.End) {
		return models.Observation{}, DropDateRange
	}

	if s.ref.IsExcluded(raw.Tmc) {
		return models.Observation{}, DropExcluded
	}
	if s.opts.Segments != nil {
		if _, ok := s.opts.Segments[raw.Tmc]; !ok {
			return models.Observation{}, DropUnknown
		}
	}

	var (
		reference float64
		ok        bool
	)
	if s.opts.ReferenceSource == config.ReferenceObserved {
		if raw.ReferenceSpeed != nil {
			reference, ok = *raw.ReferenceSpeed, true
		}
	} else {
		reference, ok = s.ref.Speed(raw.Tmc)
	}
	if !ok {
		return models.Observation{}, DropNoReference
	}

	// NaN speeds fail both comparisons
	if !(raw.Speed > s.opts.Low && raw.Speed < s.opts.High) {
		return models.Observation{}, DropSpeedBounds
	}

	if s.opts.BandEnabled && !(reference > s.opts.BandLow && reference < s.opts.BandHigh) {
		return models.Observation{}, DropReferenceBand
	}

	obs := models.Observation{
		Tmc:            raw.Tmc,
		MinuteOfDay:    models.MinuteOfDay(raw.Timestamp),
		Speed:          raw.Speed,
		ReferenceSpeed: reference,
	}
	if raw.TravelTime != nil {
		obs.TravelTime = *raw.TravelTime
		obs.HasTravelTime = true
	}
	return obs, ""
}

// FilterSource streams one monthly source through the filter, appending kept
// observations to dst
func (s *FilterService) FilterSource(ctx context.Context, name, vehicle string, src ObservationSource, dst []models.Observation) ([]models.Observation, *FilterResult, error) {
	startTime := time.Now()

	s.logger.Info(ctx, "[FILTER_START] Filtering monthly observations", logging.Fields{
		"source": name,
		"stage":  "FILTER",
	})

	result := &FilterResult{Dropped: make(map[string]int, len(dropReasons))}
	read, err := src.EachObservation(ctx, func(raw *models.RawObservation) error {
		obs, reason := s.Apply(raw)
		if reason != "" {
			result.Dropped[reason]++
			return nil
		}
		dst = append(dst, obs)
		result.Kept++
		return nil
	})
	result.Read = read
	if err != nil {
		s.metrics.RecordSourceError("read_error")
		return dst, result, fmt.Errorf("failed to read %s: %w", name, err)
	}

	result.Duration = time.Since(startTime)
	s.metrics.ObservationsReadTotal.WithLabelValues(vehicle).Add(float64(read))

	fields := logging.Fields{
		"source":           name,
		"read":             result.Read,
		"kept":             result.Kept,
		"duration_seconds": result.Duration.Seconds(),
		"stage":            "FILTER_COMPLETE",
	}
	for _, reason := range dropReasons {
		s.metrics.RecordDropped(reason, result.Dropped[reason])
		fields["dropped_"+reason] = result.Dropped[reason]
	}
	s.logger.Info(ctx, "[FILTER_COMPLETE] Monthly observations filtered", fields)

	return dst, result, nil
}

package services

import (
	"context"
	"math"
	"sort"
	"time"

	"travel-time/internal/config"
	"travel-time/internal/models"
	"travel-time/pkg/logging"
	"travel-time/pkg/metrics"
)

// Percentile returns the linear-interpolation quantile of values at p in
// [0, 1], using position (n-1)*p. values is sorted in place. It returns NaN
// for an empty slice.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sort.Float64s(values)
	idx := p * float64(len(values)-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))
	if lower == upper {
		return values[lower]
	}
	return values[lower] + (values[upper]-values[lower])*(idx-float64(lower))
}

// SpeedPercentile converts the configured percentile into the quantile taken
// of speeds. A travel-time percentile p corresponds to the 1-p speed quantile.
func SpeedPercentile(p float64, basis string) float64 {
	if basis == config.BasisTravelTime {
		return 1 - p
	}
	return p
}

// AggregationService computes per-window percentile speeds
type AggregationService struct {
	speedP  float64
	timeP   float64
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewAggregationService creates an aggregator for percentile p under the
// given basis. Travel times are always taken at p itself.
func NewAggregationService(p float64, basis string, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *AggregationService {
	return &AggregationService{
		speedP:  SpeedPercentile(p, basis),
		timeP:   p,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Partition assigns each observation to its window in a single pass and
// returns, per window, the indices of its observations. Observations outside
// every window are not referenced.
func Partition(windows []models.TimeWindow, observations []models.Observation) [][]int {
	parts := make([][]int, len(windows))
	for i := range observations {
		if w := PartitionIndex(windows, observations[i].MinuteOfDay); w >= 0 {
			parts[w] = append(parts[w], i)
		}
	}
	return parts
}

type tmcGroup struct {
	speeds []float64
	times  []float64
	refs   []float64
}

// AggregateWindow groups the indexed observations by TMC and computes the
// percentile speed, travel time and congestion ratio of each. Records are
// sorted by TMC. A zero reference speed is a DataQualityError.
func (s *AggregationService) AggregateWindow(window models.TimeWindow, observations []models.Observation, indices []int) (models.WindowAggregate, error) {
	agg := models.WindowAggregate{Window: window}

	groups := make(map[string]*tmcGroup)
	for _, i := range indices {
		obs := &observations[i]
		g, ok := groups[obs.Tmc]
		if !ok {
			g = &tmcGroup{}
			groups[obs.Tmc] = g
		}
		g.speeds = append(g.speeds, obs.Speed)
		g.refs = append(g.refs, obs.ReferenceSpeed)
		if obs.HasTravelTime {
			g.times = append(g.times, obs.TravelTime)
		}
	}

	tmcs := make([]string, 0, len(groups))
	for tmc := range groups {
		tmcs = append(tmcs, tmc)
	}
	sort.Strings(tmcs)

	agg.Records = make([]models.AggregateRecord, 0, len(tmcs))
	for _, tmc := range tmcs {
		g := groups[tmc]
		speed := Percentile(g.speeds, s.speedP)
		reference := Percentile(g.refs, s.speedP)
		if reference == 0 {
			return agg, &models.DataQualityError{Tmc: tmc, Window: window.Label, Reason: "reference speed is zero"}
		}

		rec := models.AggregateRecord{
			Tmc:            tmc,
			Speed:          speed,
			ReferenceSpeed: reference,
			Ratio:          speed / reference,
			Observations:   len(g.speeds),
		}
		if len(g.times) > 0 {
			tt := Percentile(g.times, s.timeP)
			rec.TravelTime = &tt
		}
		agg.Records = append(agg.Records, rec)
	}
	return agg, nil
}

// AggregateAll aggregates every window over the pooled observations, in
// window order
func (s *AggregationService) AggregateAll(ctx context.Context, windows []models.TimeWindow, observations []models.Observation) ([]models.WindowAggregate, error) {
	startTime := time.Now()
	timer := s.metrics.StageTimer("aggregate")
	defer timer.ObserveDuration()

	parts := Partition(windows, observations)

	aggregates := make([]models.WindowAggregate, 0, len(windows))
	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n := len(parts[i])
		agg, err := s.AggregateWindow(w, observations, parts[i])
		if err != nil {
			s.logger.Error(ctx, "[AGGREGATE_ERROR] Window aggregation failed", logging.Fields{
				"window": w.Label,
			}, err)
			return nil, err
		}
		parts[i] = nil

		s.metrics.WindowsAggregatedTotal.Inc()
		s.metrics.AggregateRecordsTotal.Add(float64(len(agg.Records)))
		if len(agg.Records) == 0 {
			s.metrics.EmptyWindowsTotal.Inc()
			s.logger.Warn(ctx, "[AGGREGATE_EMPTY] Window has no observations", logging.Fields{
				"window": w.Label,
				"start":  models.ClockString(w.StartMinute),
				"end":    models.ClockString(w.EndMinute),
			})
		}

		s.logger.Debug(ctx, "[AGGREGATE_WINDOW] Window aggregated", logging.Fields{
			"window":       w.Label,
			"observations": n,
			"segments":     len(agg.Records),
		})
		aggregates = append(aggregates, agg)
	}

	s.logger.Info(ctx, "[AGGREGATE_COMPLETE] Windows aggregated", logging.Fields{
		"windows":          len(windows),
		"observations":     len(observations),
		"duration_seconds": time.Since(startTime).Seconds(),
		"stage":            "AGGREGATE_COMPLETE",
	})
	return aggregates, nil
}

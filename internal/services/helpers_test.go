package services

import (
	"context"
	"io"
	"testing"

	"travel-time/internal/models"
	"travel-time/pkg/logging"
	"travel-time/pkg/metrics"
)

func newTestLogger(w io.Writer) *logging.StructuredLogger {
	logger := logging.NewStructuredLogger("travel-time-test", "test", logging.DebugLevel)
	logger.SetOutput(w)
	return logger
}

func ptr(v float64) *float64 { return &v }

// sliceSource is an in-memory ObservationSource
type sliceSource []models.RawObservation

func (s sliceSource) EachObservation(ctx context.Context, fn func(*models.RawObservation) error) (int, error) {
	for i := range s {
		if err := fn(&s[i]); err != nil {
			return i + 1, err
		}
	}
	return len(s), nil
}

func hourWindow(label string, hour int) models.TimeWindow {
	return models.TimeWindow{Label: label, Display: label, StartMinute: hour * 60, EndMinute: (hour + 1) * 60, Kind: models.HourWindow}
}

func obsAt(tmc string, minute int, speed, reference float64) models.Observation {
	return models.Observation{Tmc: tmc, MinuteOfDay: minute, Speed: speed, ReferenceSpeed: reference}
}

func newTestCollector(t *testing.T) *metrics.Collector {
	t.Helper()
	return metrics.NewCollector("travel_time_test")
}

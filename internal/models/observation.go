package models

import (
	"strings"
	"time"
)

// timestampLayouts are the measurement_tstamp formats seen across dataset vintages
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"1/2/2006 15:04",
}

// ParseTimestamp parses a probe measurement timestamp at minute resolution
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, &ValidationError{
		Field:   "measurement_tstamp",
		Value:   value,
		Message: "invalid timestamp, expected YYYY-MM-DD HH:MM:SS",
	}
}

// RawObservation is a single probe reading as read from a monthly source file
type RawObservation struct {
	Tmc            string
	Timestamp      time.Time
	Speed          float64
	TravelTime     *float64 // seconds; nil when the vintage has no travel time
	ReferenceSpeed *float64 // nil when the vintage has no reference_speed column
}

// Observation is a filtered reading ready for windowing. The timestamp is
// reduced to minute of day since windows are time-of-day intervals.
type Observation struct {
	Tmc            string
	MinuteOfDay    int
	Speed          float64
	TravelTime     float64
	HasTravelTime  bool
	ReferenceSpeed float64
}

// MinuteOfDay returns the minute since midnight of ts
func MinuteOfDay(ts time.Time) int {
	return ts.Hour()*60 + ts.Minute()
}

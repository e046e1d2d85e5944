package models

import "fmt"

// MinutesPerDay is the exclusive upper bound of a window end
const MinutesPerDay = 24 * 60

// WindowKind describes how a window was configured
type WindowKind string

const (
	// HourWindow is a single-hour bucket [h, h+1)
	HourWindow WindowKind = "hour"
	// SubHourWindow lies inside one hour, [h:m, h:m+increment)
	SubHourWindow WindowKind = "subhour"
	// PeriodWindow spans several hours, e.g. AM or PM peak
	PeriodWindow WindowKind = "period"
)

// TimeWindow is a labelled half-open time-of-day interval [StartMinute, EndMinute)
type TimeWindow struct {
	Label       string     `json:"label"`
	Display     string     `json:"display"`
	StartMinute int        `json:"start_minute"`
	EndMinute   int        `json:"end_minute"`
	Kind        WindowKind `json:"kind"`
}

// Contains reports whether minuteOfDay falls inside the window
func (w TimeWindow) Contains(minuteOfDay int) bool {
	return minuteOfDay >= w.StartMinute && minuteOfDay < w.EndMinute
}

// Minutes returns the window length in minutes
func (w TimeWindow) Minutes() int {
	return w.EndMinute - w.StartMinute
}

// Column returns the label-prefixed output column name for a measure
func (w TimeWindow) Column(measure string) string {
	return w.Label + "_" + measure
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("%s[%s-%s)", w.Label, ClockString(w.StartMinute), ClockString(w.EndMinute))
}

// ClockString formats a minute of day as HH:MM; 1440 renders as 24:00
func ClockString(minuteOfDay int) string {
	return fmt.Sprintf("%02d:%02d", minuteOfDay/60, minuteOfDay%60)
}

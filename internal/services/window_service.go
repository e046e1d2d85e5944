package services

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"travel-time/internal/config"
	"travel-time/internal/models"
)

// MaxWindows bounds the number of windows of one run (5-minute windows over
// a full day)
const MaxWindows = 288

var labelPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// GenerateWindows resolves the window configuration into chronological,
// non-overlapping half-open windows.
func GenerateWindows(cfg config.WindowConfig) ([]models.TimeWindow, error) {
	var (
		windows []models.TimeWindow
		err     error
	)
	switch cfg.Mode {
	case config.WindowsTable:
		windows, err = tableWindows(cfg.Table)
	case config.WindowsGenerated:
		windows, err = generatedWindows(cfg)
	default:
		return nil, &models.ValidationError{Field: "windows.mode", Value: cfg.Mode, Message: "unknown window mode"}
	}
	if err != nil {
		return nil, err
	}

	if len(windows) == 0 {
		return nil, &models.ValidationError{Field: "windows", Message: "no windows configured"}
	}
	if len(windows) > MaxWindows {
		return nil, &models.ValidationError{Field: "windows", Value: strconv.Itoa(len(windows)), Message: fmt.Sprintf("more than %d windows", MaxWindows)}
	}
	return windows, checkWindows(windows)
}

func tableWindows(entries []config.WindowEntry) ([]models.TimeWindow, error) {
	windows := make([]models.TimeWindow, 0, len(entries))
	for i, e := range entries {
		field := fmt.Sprintf("windows.table[%d]", i)
		if !labelPattern.MatchString(e.Label) {
			return nil, &models.ValidationError{Field: field + ".label", Value: e.Label, Message: "label must be alphanumeric"}
		}
		if e.StartHour < 0 || e.StartHour > 23 || e.EndHour < 0 || e.EndHour > 24 {
			return nil, &models.ValidationError{Field: field, Value: e.Label, Message: "hours must be within the day"}
		}

		w := models.TimeWindow{
			Label:       e.Label,
			Display:     models.ClockString(e.StartHour * 60),
			StartMinute: e.StartHour * 60,
		}
		switch {
		case e.StartHour == e.EndHour:
			w.EndMinute = (e.StartHour + 1) * 60
			w.Kind = models.HourWindow
		case e.StartHour < e.EndHour:
			w.EndMinute = e.EndHour * 60
			w.Kind = models.PeriodWindow
		default:
			return nil, &models.ValidationError{Field: field, Value: e.Label, Message: "end_hour is before start_hour"}
		}
		windows = append(windows, w)
	}
	return windows, nil
}

func validIncrement(minutes int) bool {
	if minutes <= 0 {
		return false
	}
	if minutes < 60 {
		return 60%minutes == 0
	}
	return minutes%60 == 0
}

func generatedWindows(cfg config.WindowConfig) ([]models.TimeWindow, error) {
	if cfg.FirstHour < 0 || cfg.LastHour > 23 || cfg.FirstHour > cfg.LastHour {
		return nil, &models.ValidationError{Field: "windows.first_hour", Value: strconv.Itoa(cfg.FirstHour), Message: "first_hour must be within the day and not after last_hour"}
	}
	if !validIncrement(cfg.IncrementMinutes) {
		return nil, &models.ValidationError{Field: "windows.increment_minutes", Value: strconv.Itoa(cfg.IncrementMinutes), Message: "must divide 60 or be a multiple of 60"}
	}

	start, end := cfg.FirstHour*60, (cfg.LastHour+1)*60

	peaks := make([]config.PeakRange, len(cfg.PeakRanges))
	copy(peaks, cfg.PeakRanges)
	sort.Slice(peaks, func(i, j int) bool { return peaks[i].StartHour < peaks[j].StartHour })
	if len(peaks) > 0 && !validIncrement(cfg.PeakIncrementMinutes) {
		return nil, &models.ValidationError{Field: "windows.peak_increment_minutes", Value: strconv.Itoa(cfg.PeakIncrementMinutes), Message: "must divide 60 or be a multiple of 60"}
	}
	for i, p := range peaks {
		if p.StartHour >= p.EndHour {
			return nil, &models.ValidationError{Field: "windows.peak_ranges", Value: fmt.Sprintf("%d-%d", p.StartHour, p.EndHour), Message: "start_hour must be before end_hour"}
		}
		if i > 0 && p.StartHour < peaks[i-1].EndHour {
			return nil, &models.ValidationError{Field: "windows.peak_ranges", Value: fmt.Sprintf("%d-%d", p.StartHour, p.EndHour), Message: "peak ranges overlap"}
		}
	}

	// peakAt returns the peak range containing minute m, or the start of the
	// next peak after m (or end) as the boundary of a base-increment window
	peakAt := func(m int) (inPeak bool, boundary int) {
		for _, p := range peaks {
			ps, pe := p.StartHour*60, p.EndHour*60
			if m >= ps && m < pe {
				return true, pe
			}
			if ps > m {
				return false, ps
			}
		}
		return false, end
	}

	var windows []models.TimeWindow
	for m := start; m < end; {
		step := cfg.IncrementMinutes
		inPeak, boundary := peakAt(m)
		if inPeak {
			step = cfg.PeakIncrementMinutes
		}
		next := m + step
		if next > boundary {
			next = boundary
		}
		if next > end {
			next = end
		}

		windows = append(windows, models.TimeWindow{
			Label:       fmt.Sprintf("%02d%02d", m/60, m%60),
			Display:     models.ClockString(m),
			StartMinute: m,
			EndMinute:   next,
			Kind:        kindFor(next - m),
		})
		if len(windows) > MaxWindows {
			break
		}
		m = next
	}
	return windows, nil
}

func kindFor(minutes int) models.WindowKind {
	switch {
	case minutes < 60:
		return models.SubHourWindow
	case minutes == 60:
		return models.HourWindow
	default:
		return models.PeriodWindow
	}
}

// checkWindows enforces chronological order, no overlap and unique labels
func checkWindows(windows []models.TimeWindow) error {
	labels := make(map[string]bool, len(windows))
	for i, w := range windows {
		if w.StartMinute < 0 || w.EndMinute > models.MinutesPerDay || w.StartMinute >= w.EndMinute {
			return &models.ValidationError{Field: "windows", Value: w.String(), Message: "window must be a non-empty interval within the day"}
		}
		if labels[w.Label] {
			return &models.ValidationError{Field: "windows", Value: w.Label, Message: "duplicate window label"}
		}
		labels[w.Label] = true
		if i > 0 && w.StartMinute < windows[i-1].EndMinute {
			return &models.ValidationError{
				Field:   "windows",
				Value:   w.String(),
				Message: fmt.Sprintf("window overlaps or precedes %s", windows[i-1].String()),
			}
		}
	}
	return nil
}

// PartitionIndex returns the index of the window containing minuteOfDay, or
// -1. windows must be chronological and non-overlapping.
func PartitionIndex(windows []models.TimeWindow, minuteOfDay int) int {
	// first window whose end is after the minute
	i := sort.Search(len(windows), func(i int) bool { return windows[i].EndMinute > minuteOfDay })
	if i < len(windows) && windows[i].Contains(minuteOfDay) {
		return i
	}
	return -1
}

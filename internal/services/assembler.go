package services

import (
	"travel-time/internal/models"
)

// Assemble folds per-window aggregates into the wide per-segment table and
// the long time-series table. Wide rows follow segment order, skipping
// excluded segments; a segment without data in a window gets a nil value
// there. Long rows follow window order, then aggregate record order, and
// only carry segments that have a wide row.
// aggregates must align with windows.
func Assemble(segments []models.Segment, ref *models.ReferenceData, windows []models.TimeWindow, aggregates []models.WindowAggregate) (models.WideTable, models.LongTable) {
	wide := models.WideTable{Windows: windows}
	var long models.LongTable

	indexes := make([]map[string]*models.AggregateRecord, len(aggregates))
	total := 0
	for i := range aggregates {
		indexes[i] = aggregates[i].Index()
		total += len(aggregates[i].Records)
	}

	seen := make(map[string]bool, len(segments))
	wide.Rows = make([]models.WideRow, 0, len(segments))
	for _, seg := range segments {
		if ref.IsExcluded(seg.Tmc) || seen[seg.Tmc] {
			continue
		}
		seen[seg.Tmc] = true

		if speed, ok := ref.Speed(seg.Tmc); ok {
			posted := speed
			seg.PostedSpeed = &posted
		}

		row := models.WideRow{Segment: seg, Values: make([]*models.AggregateRecord, len(windows))}
		for i := range indexes {
			row.Values[i] = indexes[i][seg.Tmc]
		}
		wide.Rows = append(wide.Rows, row)
	}

	long.Rows = make([]models.LongRow, 0, total)
	for i := range aggregates {
		for _, rec := range aggregates[i].Records {
			if !seen[rec.Tmc] {
				continue
			}
			long.Rows = append(long.Rows, models.LongRow{Window: aggregates[i].Window, Record: rec})
		}
	}
	return wide, long
}

// SegmentSet returns the identified segment ids
func SegmentSet(segments []models.Segment) map[string]struct{} {
	set := make(map[string]struct{}, len(segments))
	for _, seg := range segments {
		set[seg.Tmc] = struct{}{}
	}
	return set
}

// IncludedSegments counts the segments that appear in the wide table
func IncludedSegments(segments []models.Segment, ref *models.ReferenceData) int {
	seen := make(map[string]bool, len(segments))
	for _, seg := range segments {
		if !ref.IsExcluded(seg.Tmc) {
			seen[seg.Tmc] = true
		}
	}
	return len(seen)
}

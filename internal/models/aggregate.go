package models

// AggregateRecord is the percentile summary of one segment in one window.
// Segments without observations in the window have no record at all.
type AggregateRecord struct {
	Tmc            string   `json:"Tmc"`
	Speed          float64  `json:"speed"`
	TravelTime     *float64 `json:"travel_time,omitempty"`
	ReferenceSpeed float64  `json:"reference_speed"`
	Ratio          float64  `json:"ratio"`
	Observations   int      `json:"observations"`
}

// WindowAggregate holds every record produced for one window, sorted by Tmc
type WindowAggregate struct {
	Window  TimeWindow
	Records []AggregateRecord
}

// Index returns the records keyed by Tmc
func (a *WindowAggregate) Index() map[string]*AggregateRecord {
	index := make(map[string]*AggregateRecord, len(a.Records))
	for i := range a.Records {
		index[a.Records[i].Tmc] = &a.Records[i]
	}
	return index
}

// Ratios returns the congestion ratios in record order
func (a *WindowAggregate) Ratios() []float64 {
	ratios := make([]float64, len(a.Records))
	for i, r := range a.Records {
		ratios[i] = r.Ratio
	}
	return ratios
}

// WideRow is one segment with one optional aggregate per window.
// Values[i] is nil when the segment had no data in window i.
type WideRow struct {
	Segment Segment
	Values  []*AggregateRecord
}

// WideTable has one row per included segment and three columns per window
type WideTable struct {
	Windows []TimeWindow
	Rows    []WideRow
}

// Header returns the static columns followed by <label>_speed, <label>_time
// and <label>_ratio for every window
func (t *WideTable) Header() []string {
	header := make([]string, 0, len(SegmentColumns)+3*len(t.Windows))
	header = append(header, SegmentColumns...)
	for _, w := range t.Windows {
		header = append(header, w.Column("speed"), w.Column("time"), w.Column("ratio"))
	}
	return header
}

// LongRow is one (segment, window) aggregate in time-series form
type LongRow struct {
	Window TimeWindow
	Record AggregateRecord
}

// LongColumns are the time-series output columns
var LongColumns = []string{"Tmc", "tod", "time", "speed", "travel_time", "ratio"}

// LongTable is the unpivoted time-series table in window order
type LongTable struct {
	Rows []LongRow
}

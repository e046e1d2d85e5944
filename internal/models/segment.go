package models

// Segment is one directional road segment from the TMC identification file.
// Optional numeric attributes are nil when the source cell is empty.
type Segment struct {
	Tmc             string   `json:"Tmc" db:"tmc"`
	Road            string   `json:"road"`
	Direction       string   `json:"direction"`
	County          string   `json:"county"`
	Length          *float64 `json:"length"`
	Lanes           *float64 `json:"lanes"`
	Route           string   `json:"SR"`
	AADT            *float64 `json:"aadt"`
	AADTSingle      *float64 `json:"aadt_singl"`
	AADTCombination *float64 `json:"aadt_combi"`
	PostedSpeed     *float64 `json:"PostedSpeed" db:"posted_speed"`
}

// SegmentColumns are the static output columns, in output order
var SegmentColumns = []string{
	"Tmc", "road", "direction", "county", "length", "lanes", "SR",
	"aadt", "aadt_singl", "aadt_combi", "PostedSpeed",
}

// Values returns the segment's static attributes aligned with SegmentColumns.
// Nil numeric attributes are returned as nil.
func (s *Segment) Values() []interface{} {
	return []interface{}{
		s.Tmc, s.Road, s.Direction, s.County,
		floatOrNil(s.Length), floatOrNil(s.Lanes), s.Route,
		floatOrNil(s.AADT), floatOrNil(s.AADTSingle), floatOrNil(s.AADTCombination),
		floatOrNil(s.PostedSpeed),
	}
}

func floatOrNil(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// PostedSpeedRecord is one row of the posted speed reference table
type PostedSpeedRecord struct {
	Tmc         string  `db:"tmc"`
	PostedSpeed float64 `db:"posted_speed"`
}

// ReferenceData is the immutable per-run reference lookup. Excluded TMCs are
// never present in Speeds.
type ReferenceData struct {
	Speeds   map[string]float64
	Excluded map[string]struct{}
}

// IsExcluded reports whether tmc is in the exclusion set
func (r *ReferenceData) IsExcluded(tmc string) bool {
	_, ok := r.Excluded[tmc]
	return ok
}

// Speed returns the reference speed for tmc and whether one is known
func (r *ReferenceData) Speed(tmc string) (float64, bool) {
	v, ok := r.Speeds[tmc]
	return v, ok
}

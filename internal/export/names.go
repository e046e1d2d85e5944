// Package export writes the analysis outputs: wide and time-series tables as
// CSV and Parquet, geometry-joined GeoJSON layers and the text report.
package export

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

// Names builds output paths for one run
type Names struct {
	Dir        string
	Period     string
	Year       string
	Vehicle    string
	Percentile float64
}

// PeriodLabel names the analysed months: the month itself for a single
// month, first-last when several months are pooled
func PeriodLabel(months []string) string {
	switch len(months) {
	case 0:
		return ""
	case 1:
		return months[0]
	default:
		return months[0] + "-" + months[len(months)-1]
	}
}

// PercentileLabel renders p as a whole percentile number, e.g. 0.8 -> 80
func PercentileLabel(p float64) string {
	return fmt.Sprintf("%d", int(math.Round(p*100)))
}

func (n Names) base() string {
	return strings.Join([]string{n.Period, n.Year, n.Vehicle}, "_")
}

// FolderName is the output folder of the run, e.g. mar2018 or mar-apr2018
func (n Names) FolderName() string {
	return n.Period + n.Year
}

// WideCSV returns <period>_<year>_<vehicle>_tmc_<pct>th_percentile_speed.csv
func (n Names) WideCSV() string {
	return filepath.Join(n.Dir, n.base()+"_tmc_"+PercentileLabel(n.Percentile)+"th_percentile_speed.csv")
}

// TimeSeriesCSV returns <period>_<year>_<vehicle>_tmc_timeseries.csv
func (n Names) TimeSeriesCSV() string {
	return filepath.Join(n.Dir, n.base()+"_tmc_timeseries.csv")
}

// TimeSeriesParquet returns <period>_<year>_<vehicle>_tmc_timeseries.parquet
func (n Names) TimeSeriesParquet() string {
	return filepath.Join(n.Dir, n.base()+"_tmc_timeseries.parquet")
}

// WideGeoJSON returns <period>_<year>_<vehicle>_travel_time_by_tod.geojson
func (n Names) WideGeoJSON() string {
	return filepath.Join(n.Dir, n.base()+"_travel_time_by_tod.geojson")
}

// TimeSeriesGeoJSON returns <period>_<year>_<vehicle>_timeseries.geojson
func (n Names) TimeSeriesGeoJSON() string {
	return filepath.Join(n.Dir, n.base()+"_timeseries.geojson")
}

// Report returns <period><year><vehicle>.txt
func (n Names) Report() string {
	return filepath.Join(n.Dir, n.Period+n.Year+n.Vehicle+".txt")
}

// ProjectionFor returns the .prj path that accompanies a geometry output
func ProjectionFor(geometryPath string) string {
	return strings.TrimSuffix(geometryPath, filepath.Ext(geometryPath)) + ".prj"
}

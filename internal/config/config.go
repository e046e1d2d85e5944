// Package config loads the analyzer configuration.
//
// Values are layered: struct defaults, then a YAML file, then mapped
// environment variables, then command-line overrides. The result is
// validated before any input is read.
package config

import (
	"strconv"
	"time"
)

// Congestion comparison modes. The two observed report variants disagree at
// threshold-exact ratios, so the mode is explicit.
const (
	// CompareStrict counts a segment as congested when ratio < threshold
	CompareStrict = "strict"
	// CompareInclusive counts a segment as congested when ratio <= threshold
	CompareInclusive = "inclusive"
)

// Percentile bases
const (
	// BasisSpeed applies the configured percentile to speeds directly
	BasisSpeed = "speed"
	// BasisTravelTime treats the percentile as a travel-time percentile and
	// evaluates speeds at 1 - p
	BasisTravelTime = "travel_time"
)

// Reference speed sources
const (
	ReferencePosted   = "posted"
	ReferenceObserved = "observed"
)

// Reference stores
const (
	StoreCSV      = "csv"
	StorePostgres = "postgres"
)

// Window modes
const (
	WindowsTable     = "table"
	WindowsGenerated = "generated"
)

// Config is the full analyzer configuration
type Config struct {
	Analysis   AnalysisConfig   `koanf:"analysis"`
	Speed      SpeedConfig      `koanf:"speed"`
	Reference  ReferenceConfig  `koanf:"reference"`
	Congestion CongestionConfig `koanf:"congestion"`
	Windows    WindowConfig     `koanf:"windows"`
	Paths      PathsConfig      `koanf:"paths"`
	Outputs    OutputConfig     `koanf:"outputs"`
	Database   DatabaseConfig   `koanf:"database"`
	Storage    StorageConfig    `koanf:"storage"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// AnalysisConfig selects the period, vehicle classes and statistic
type AnalysisConfig struct {
	Year            string   `koanf:"year" validate:"required,len=4,numeric"`
	Months          []string `koanf:"months" validate:"required,min=1,dive,oneof=jan feb mar apr may jun jul aug sep oct nov dec"`
	VehicleClasses  []string `koanf:"vehicle_classes" validate:"required,min=1,dive,required,alphanum"`
	PoolMonths      bool     `koanf:"pool_months"`
	StartDate       string   `koanf:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate         string   `koanf:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Percentile      float64  `koanf:"percentile" validate:"gt=0,lt=1"`
	PercentileBasis string   `koanf:"percentile_basis" validate:"oneof=speed travel_time"`
}

// SpeedConfig holds the exclusive outlier bounds on observed speed
type SpeedConfig struct {
	Low  float64 `koanf:"low" validate:"gte=0"`
	High float64 `koanf:"high" validate:"gtfield=Low"`
}

// ReferenceConfig selects where reference speeds come from
type ReferenceConfig struct {
	Source      string  `koanf:"source" validate:"oneof=posted observed"`
	Store       string  `koanf:"store" validate:"oneof=csv postgres"`
	BandEnabled bool    `koanf:"band_enabled"`
	BandLow     float64 `koanf:"band_low" validate:"gte=0"`
	BandHigh    float64 `koanf:"band_high" validate:"gte=0"`
}

// CongestionConfig holds the report thresholds
type CongestionConfig struct {
	Comparison string            `koanf:"comparison" validate:"oneof=strict inclusive"`
	Thresholds []ThresholdConfig `koanf:"thresholds" validate:"min=1,max=3,dive"`
}

// ThresholdConfig is one named congestion tier
type ThresholdConfig struct {
	Name  string  `koanf:"name" validate:"required,alphanum"`
	Ratio float64 `koanf:"ratio" validate:"gt=0"`
}

// WindowConfig describes the time-of-day windows
type WindowConfig struct {
	Mode                 string        `koanf:"mode" validate:"oneof=table generated"`
	Table                []WindowEntry `koanf:"table" validate:"dive"`
	FirstHour            int           `koanf:"first_hour" validate:"gte=0,lte=23"`
	LastHour             int           `koanf:"last_hour" validate:"gte=0,lte=23"`
	IncrementMinutes     int           `koanf:"increment_minutes" validate:"gte=0"`
	PeakIncrementMinutes int           `koanf:"peak_increment_minutes" validate:"gte=0"`
	PeakRanges           []PeakRange   `koanf:"peak_ranges" validate:"dive"`
}

// WindowEntry is one explicit (label, start hour, end hour) window.
// StartHour == EndHour denotes the single hour [h, h+1).
type WindowEntry struct {
	Label     string `koanf:"label" validate:"required,alphanum"`
	StartHour int    `koanf:"start_hour" validate:"gte=0,lte=23"`
	EndHour   int    `koanf:"end_hour" validate:"gte=0,lte=24"`
}

// PeakRange is an hour range [StartHour, EndHour) using the peak increment
type PeakRange struct {
	StartHour int `koanf:"start_hour" validate:"gte=0,lte=23"`
	EndHour   int `koanf:"end_hour" validate:"gte=1,lte=24"`
}

// PathsConfig holds input and output locations
type PathsConfig struct {
	DataDir         string `koanf:"data_dir" validate:"required"`
	WorkDir         string `koanf:"work_dir"`
	OutputDir       string `koanf:"output_dir" validate:"required"`
	PostedSpeedFile string `koanf:"posted_speed_file"`
	ExclusionFile   string `koanf:"exclusion_file"`
	SegmentFileName string `koanf:"segment_file_name" validate:"required"`
	GeometryFile    string `koanf:"geometry_file"`
	GeometryKey     string `koanf:"geometry_key" validate:"required"`
	ProjectionFile  string `koanf:"projection_file"`
}

// OutputConfig toggles the output artifacts
type OutputConfig struct {
	WideCSV           bool `koanf:"wide_csv"`
	TimeSeriesCSV     bool `koanf:"timeseries_csv"`
	TimeSeriesParquet bool `koanf:"timeseries_parquet"`
	Geometry          bool `koanf:"geometry"`
	Report            bool `koanf:"report"`
}

// DatabaseConfig configures the optional Postgres reference store
type DatabaseConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	User            string        `koanf:"user"`
	Password        string        `koanf:"password"`
	Database        string        `koanf:"database"`
	SSLMode         string        `koanf:"ssl_mode"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
}

// StorageConfig configures the optional S3-compatible archive bucket
type StorageConfig struct {
	Enabled         bool   `koanf:"enabled"`
	Endpoint        string `koanf:"endpoint"`
	Region          string `koanf:"region"`
	Bucket          string `koanf:"bucket"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	ArchivePrefix   string `koanf:"archive_prefix"`
	OutputPrefix    string `koanf:"output_prefix"`
	UploadOutputs   bool   `koanf:"upload_outputs"`
}

// MetricsConfig configures the end-of-run metrics textfile
type MetricsConfig struct {
	Namespace string `koanf:"namespace" validate:"required"`
	Textfile  string `koanf:"textfile"`
}

// LoggingConfig configures the structured logger
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// defaultConfig returns the hourly 5am-10pm analysis of the 80th percentile
// car speed used for the regional congestion maps.
func defaultConfig() *Config {
	return &Config{
		Analysis: AnalysisConfig{
			Year:            "2018",
			Months:          []string{"mar"},
			VehicleClasses:  []string{"cars"},
			PoolMonths:      true,
			Percentile:      0.80,
			PercentileBasis: BasisSpeed,
		},
		Speed: SpeedConfig{
			Low:  10,
			High: 75,
		},
		Reference: ReferenceConfig{
			Source:   ReferencePosted,
			Store:    StoreCSV,
			BandLow:  5,
			BandHigh: 90,
		},
		Congestion: CongestionConfig{
			Comparison: CompareStrict,
			Thresholds: []ThresholdConfig{
				{Name: "moderate", Ratio: 0.70},
				{Name: "severe", Ratio: 0.50},
			},
		},
		Windows: WindowConfig{
			Mode:                 WindowsTable,
			Table:                hourlyTable(5, 22),
			FirstHour:            5,
			LastHour:             22,
			IncrementMinutes:     60,
			PeakIncrementMinutes: 15,
		},
		Paths: PathsConfig{
			DataDir:         "downloads",
			WorkDir:         "work",
			OutputDir:       "output",
			PostedSpeedFile: "reference/tmc_posted_speed.csv",
			ExclusionFile:   "tmc_exclusions.csv",
			SegmentFileName: "TMC_Identification.csv",
			GeometryKey:     "Tmc",
		},
		Outputs: OutputConfig{
			WideCSV:       true,
			TimeSeriesCSV: true,
			Geometry:      false,
			Report:        true,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Database:        "travel_time",
			SSLMode:         "disable",
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Storage: StorageConfig{
			Region:       "auto",
			OutputPrefix: "output",
		},
		Metrics: MetricsConfig{
			Namespace: "travel_time",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// hourlyTable builds single-hour windows labelled 5am, 12pm, 1pm...
func hourlyTable(first, last int) []WindowEntry {
	entries := make([]WindowEntry, 0, last-first+1)
	for h := first; h <= last; h++ {
		entries = append(entries, WindowEntry{Label: HourLabel(h), StartHour: h, EndHour: h})
	}
	return entries
}

// HourLabel renders an hour of day the way the analysis labels its columns
func HourLabel(hour int) string {
	suffix := "am"
	if hour >= 12 {
		suffix = "pm"
	}
	h := hour % 12
	if h == 0 {
		h = 12
	}
	return strconv.Itoa(h) + suffix
}

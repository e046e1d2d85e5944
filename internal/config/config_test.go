package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"travel-time/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfigValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestDefaultHourlyTable(t *testing.T) {
	table := Default().Windows.Table
	if len(table) != 18 {
		t.Fatalf("table length = %d, want 18", len(table))
	}
	if table[0].Label != "5am" || table[7].Label != "12pm" || table[17].Label != "10pm" {
		t.Errorf("labels = %s %s %s", table[0].Label, table[7].Label, table[17].Label)
	}
}

func TestHourLabel(t *testing.T) {
	tests := map[int]string{0: "12am", 5: "5am", 11: "11am", 12: "12pm", 13: "1pm", 23: "11pm"}
	for hour, want := range tests {
		if got := HourLabel(hour); got != want {
			t.Errorf("HourLabel(%d) = %q, want %q", hour, got, want)
		}
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
analysis:
  year: "2019"
  months: [jan, feb]
  vehicle_classes: [trucks]
  percentile: 0.95
congestion:
  comparison: inclusive
  thresholds:
    - name: heavy
      ratio: 0.6
windows:
  mode: generated
  first_hour: 6
  last_hour: 9
  increment_minutes: 60
  peak_increment_minutes: 15
  peak_ranges:
    - start_hour: 7
      end_hour: 8
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.Analysis.Year != "2019" {
		t.Errorf("year = %q", cfg.Analysis.Year)
	}
	if strings.Join(cfg.Analysis.Months, ",") != "jan,feb" {
		t.Errorf("months = %v", cfg.Analysis.Months)
	}
	if cfg.Analysis.Percentile != 0.95 {
		t.Errorf("percentile = %v", cfg.Analysis.Percentile)
	}
	if cfg.Congestion.Comparison != CompareInclusive {
		t.Errorf("comparison = %q", cfg.Congestion.Comparison)
	}
	if len(cfg.Congestion.Thresholds) != 1 || cfg.Congestion.Thresholds[0].Name != "heavy" {
		t.Errorf("thresholds = %+v", cfg.Congestion.Thresholds)
	}
	if cfg.Windows.Mode != WindowsGenerated || len(cfg.Windows.PeakRanges) != 1 {
		t.Errorf("windows = %+v", cfg.Windows)
	}
	// untouched sections keep their defaults
	if cfg.Speed.Low != 10 || cfg.Speed.High != 75 {
		t.Errorf("speed bounds = %+v", cfg.Speed)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "analysis:\n  year: \"2019\"\n")
	t.Setenv("TT_YEAR", "2020")
	t.Setenv("TT_MONTHS", "Apr, may")
	t.Setenv("TT_PERCENTILE", "0.5")
	t.Setenv("TT_LOG_LEVEL", "debug")
	t.Setenv("TT_UNRELATED", "ignored")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Analysis.Year != "2020" {
		t.Errorf("year = %q, want env value", cfg.Analysis.Year)
	}
	if strings.Join(cfg.Analysis.Months, ",") != "apr,may" {
		t.Errorf("months = %v", cfg.Analysis.Months)
	}
	if cfg.Analysis.Percentile != 0.5 {
		t.Errorf("percentile = %v", cfg.Analysis.Percentile)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestOverrides_Apply(t *testing.T) {
	cfg := Default()
	Overrides{Vehicles: "trucks,all", Year: "2021", Percentile: 0.9}.Apply(cfg)

	if strings.Join(cfg.Analysis.VehicleClasses, ",") != "trucks,all" {
		t.Errorf("vehicles = %v", cfg.Analysis.VehicleClasses)
	}
	if cfg.Analysis.Year != "2021" || cfg.Analysis.Percentile != 0.9 {
		t.Errorf("analysis = %+v", cfg.Analysis)
	}
	if strings.Join(cfg.Analysis.Months, ",") != "mar" {
		t.Errorf("months should be untouched, got %v", cfg.Analysis.Months)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"percentile zero", func(c *Config) { c.Analysis.Percentile = 0 }, "analysis.percentile"},
		{"percentile one", func(c *Config) { c.Analysis.Percentile = 1 }, "analysis.percentile"},
		{"bad month", func(c *Config) { c.Analysis.Months = []string{"march"} }, "analysis.months[0]"},
		{"bad basis", func(c *Config) { c.Analysis.PercentileBasis = "median" }, "analysis.percentile_basis"},
		{"inverted speed bounds", func(c *Config) { c.Speed.High = 5 }, "speed.high"},
		{"too many thresholds", func(c *Config) {
			c.Congestion.Thresholds = []ThresholdConfig{{"a", 0.9}, {"b", 0.8}, {"c", 0.7}, {"d", 0.6}}
		}, "congestion.thresholds"},
		{"duplicate threshold", func(c *Config) {
			c.Congestion.Thresholds = []ThresholdConfig{{"a", 0.9}, {"a", 0.8}}
		}, "congestion.thresholds"},
		{"bad comparison", func(c *Config) { c.Congestion.Comparison = "loose" }, "congestion.comparison"},
		{"label with space", func(c *Config) { c.Windows.Table[0].Label = "5 am" }, "windows.table[0].label"},
		{"empty table", func(c *Config) { c.Windows.Table = nil }, "windows.table"},
		{"generated without increment", func(c *Config) {
			c.Windows.Mode = WindowsGenerated
			c.Windows.IncrementMinutes = 0
		}, "windows.increment_minutes"},
		{"band inverted", func(c *Config) {
			c.Reference.BandEnabled = true
			c.Reference.BandHigh = 1
		}, "reference.band_high"},
		{"posted without file", func(c *Config) { c.Paths.PostedSpeedFile = "" }, "paths.posted_speed_file"},
		{"postgres without host", func(c *Config) {
			c.Reference.Store = StorePostgres
			c.Database.Host = ""
		}, "database.host"},
		{"geometry without file", func(c *Config) { c.Outputs.Geometry = true }, "paths.geometry_file"},
		{"storage without bucket", func(c *Config) { c.Storage.Enabled = true }, "storage.bucket"},
		{"dates inverted", func(c *Config) {
			c.Analysis.StartDate = "2018-03-20"
			c.Analysis.EndDate = "2018-03-01"
		}, "analysis.end_date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !hasField(err, tt.field) {
				t.Errorf("error %q does not name field %q", err, tt.field)
			}
		})
	}
}

func hasField(err error, field string) bool {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		var verr *models.ValidationError
		return errors.As(err, &verr) && verr.Field == field
	}
	for _, e := range joined.Unwrap() {
		var verr *models.ValidationError
		if errors.As(e, &verr) && verr.Field == field {
			return true
		}
	}
	return false
}

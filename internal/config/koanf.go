package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the config files searched in order when no path
// is given explicitly.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/travel-time/config.yaml",
}

// ConfigPathEnvVar overrides the config file path
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from defaults, the YAML file at path (or the
// first file found when path is empty) and TT_* environment variables.
// The result is not validated; callers apply overrides and then Validate.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("TT_", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration
func Default() *Config {
	return defaultConfig()
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed as comma-separated lists when set from env
var sliceConfigPaths = []string{
	"analysis.months",
	"analysis.vehicle_classes",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := SplitList(strVal)
		if len(parts) == 0 {
			continue
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// SplitList splits a comma-separated list, trimming and lowercasing entries
// and dropping empty ones.
func SplitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envTransformFunc maps TT_* variables to config paths. Unmapped variables
// are skipped.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "TT_"))

	envMappings := map[string]string{
		"year":             "analysis.year",
		"months":           "analysis.months",
		"vehicles":         "analysis.vehicle_classes",
		"pool_months":      "analysis.pool_months",
		"start_date":       "analysis.start_date",
		"end_date":         "analysis.end_date",
		"percentile":       "analysis.percentile",
		"percentile_basis": "analysis.percentile_basis",

		"speed_low":  "speed.low",
		"speed_high": "speed.high",

		"reference_source": "reference.source",
		"reference_store":  "reference.store",

		"comparison": "congestion.comparison",

		"data_dir":          "paths.data_dir",
		"work_dir":          "paths.work_dir",
		"output_dir":        "paths.output_dir",
		"posted_speed_file": "paths.posted_speed_file",
		"exclusion_file":    "paths.exclusion_file",
		"geometry_file":     "paths.geometry_file",
		"projection_file":   "paths.projection_file",

		"db_host":     "database.host",
		"db_port":     "database.port",
		"db_user":     "database.user",
		"db_password": "database.password",
		"db_name":     "database.database",
		"db_sslmode":  "database.ssl_mode",

		"s3_enabled":    "storage.enabled",
		"s3_endpoint":   "storage.endpoint",
		"s3_region":     "storage.region",
		"s3_bucket":     "storage.bucket",
		"s3_access_key": "storage.access_key_id",
		"s3_secret_key": "storage.secret_access_key",
		"s3_upload":     "storage.upload_outputs",

		"metrics_textfile": "metrics.textfile",

		"log_level":  "logging.level",
		"log_format": "logging.format",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

// Overrides are command-line values applied on top of the loaded config.
// Zero values leave the config untouched.
type Overrides struct {
	Vehicles   string
	Months     string
	Year       string
	Percentile float64
}

// Apply writes the non-zero overrides into cfg
func (o Overrides) Apply(cfg *Config) {
	if v := SplitList(o.Vehicles); len(v) > 0 {
		cfg.Analysis.VehicleClasses = v
	}
	if m := SplitList(o.Months); len(m) > 0 {
		cfg.Analysis.Months = m
	}
	if o.Year != "" {
		cfg.Analysis.Year = o.Year
	}
	if o.Percentile != 0 {
		cfg.Analysis.Percentile = o.Percentile
	}
}

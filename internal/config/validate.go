package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"travel-time/internal/models"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// report koanf paths instead of Go field names
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("koanf"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks field constraints and the cross-field rules that struct
// tags cannot express. Every violation is reported as a
// *models.ValidationError joined into the returned error.
func (c *Config) Validate() error {
	var errs []error

	if err := getValidator().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			errs = append(errs, &models.ValidationError{
				Field:   strings.TrimPrefix(fe.Namespace(), "Config."),
				Value:   fmt.Sprint(fe.Value()),
				Message: describeTag(fe),
			})
		}
	}

	errs = append(errs, c.crossFieldErrors()...)
	return errors.Join(errs...)
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "lt":
		return fmt.Sprintf("must be less than %s", fe.Param())
	case "gtfield":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "datetime":
		return fmt.Sprintf("must match layout %s", fe.Param())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
		}
		return "failed " + fe.Tag()
	}
}

func (c *Config) crossFieldErrors() []error {
	var errs []error
	add := func(field, msg string, value interface{}) {
		v := ""
		if value != nil {
			v = fmt.Sprint(value)
		}
		errs = append(errs, &models.ValidationError{Field: field, Value: v, Message: msg})
	}

	a := c.Analysis
	if a.StartDate != "" && a.EndDate != "" && a.StartDate > a.EndDate {
		add("analysis.end_date", "must not be before start_date", a.EndDate)
	}

	if c.Reference.BandEnabled && c.Reference.BandHigh <= c.Reference.BandLow {
		add("reference.band_high", "must be greater than band_low", c.Reference.BandHigh)
	}
	if c.Reference.Source == ReferencePosted && c.Reference.Store == StoreCSV && c.Paths.PostedSpeedFile == "" {
		add("paths.posted_speed_file", "is required for posted reference speeds", "")
	}
	if c.Reference.Store == StorePostgres {
		if c.Database.Host == "" {
			add("database.host", "is required for the postgres reference store", "")
		}
		if c.Database.Database == "" {
			add("database.database", "is required for the postgres reference store", "")
		}
	}

	seen := make(map[string]bool, len(c.Congestion.Thresholds))
	for _, t := range c.Congestion.Thresholds {
		if seen[t.Name] {
			add("congestion.thresholds", "duplicate threshold name", t.Name)
		}
		seen[t.Name] = true
	}

	w := c.Windows
	switch w.Mode {
	case WindowsTable:
		if len(w.Table) == 0 {
			add("windows.table", "at least one window is required", nil)
		}
	case WindowsGenerated:
		if w.FirstHour > w.LastHour {
			add("windows.first_hour", "must not be after last_hour", w.FirstHour)
		}
		if w.IncrementMinutes <= 0 {
			add("windows.increment_minutes", "must be greater than 0", w.IncrementMinutes)
		}
		if len(w.PeakRanges) > 0 && w.PeakIncrementMinutes <= 0 {
			add("windows.peak_increment_minutes", "must be greater than 0 when peak ranges are set", w.PeakIncrementMinutes)
		}
		for _, pr := range w.PeakRanges {
			if pr.StartHour >= pr.EndHour {
				add("windows.peak_ranges", "start_hour must be before end_hour", fmt.Sprintf("%d-%d", pr.StartHour, pr.EndHour))
			}
		}
	}

	if c.Outputs.Geometry && c.Paths.GeometryFile == "" {
		add("paths.geometry_file", "is required when geometry output is enabled", "")
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		add("storage.bucket", "is required when object storage is enabled", "")
	}
	return errs
}

package models

import (
	"fmt"
)

// ValidationError represents a configuration or row value validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}

// InputMissingError reports a required source file that does not exist.
// The run for the affected vehicle class and period is aborted.
type InputMissingError struct {
	Path string
}

func (e *InputMissingError) Error() string {
	return fmt.Sprintf("required input missing: %s", e.Path)
}

// IsTransient returns false; re-running after the file appears is the retry
func (e *InputMissingError) IsTransient() bool {
	return false
}

// SchemaError reports an absent or unparseable column in a source file.
// Row is 1-based and counts the header; zero means the header itself.
type SchemaError struct {
	File    string
	Column  string
	Row     int
	Value   string
	Message string
}

func (e *SchemaError) Error() string {
	if e.Row == 0 {
		return fmt.Sprintf("%s: column %q: %s", e.File, e.Column, e.Message)
	}
	return fmt.Sprintf("%s:%d: column %q value %q: %s", e.File, e.Row, e.Column, e.Value, e.Message)
}

// IsTransient returns false as schema errors are permanent
func (e *SchemaError) IsTransient() bool {
	return false
}

// DataQualityError reports a segment whose data make a result undefined,
// such as a zero reference speed.
type DataQualityError struct {
	Tmc    string
	Window string
	Reason string
}

func (e *DataQualityError) Error() string {
	if e.Window == "" {
		return fmt.Sprintf("data quality: tmc %s: %s", e.Tmc, e.Reason)
	}
	return fmt.Sprintf("data quality: tmc %s window %s: %s", e.Tmc, e.Window, e.Reason)
}

// IsTransient returns false as data quality errors are permanent
func (e *DataQualityError) IsTransient() bool {
	return false
}

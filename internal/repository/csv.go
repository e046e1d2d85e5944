package repository

import (
	"encoding/csv"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	"travel-time/internal/models"
)

// csvTable reads a headed CSV file and resolves columns by name
type csvTable struct {
	file  string
	r     *csv.Reader
	index map[string]int
}

func newCSVTable(file string, rd io.Reader) (*csvTable, error) {
	r := csv.NewReader(rd)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, &models.SchemaError{File: file, Message: "file is empty"}
	}
	if err != nil {
		return nil, &models.SchemaError{File: file, Message: "failed to read header: " + err.Error()}
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		index[strings.TrimSpace(name)] = i
	}
	return &csvTable{file: file, r: r, index: index}, nil
}

// require returns a SchemaError for the first missing column
func (t *csvTable) require(columns ...string) error {
	for _, col := range columns {
		if !t.has(col) {
			return &models.SchemaError{File: t.file, Column: col, Message: "required column not found"}
		}
	}
	return nil
}

func (t *csvTable) has(column string) bool {
	_, ok := t.index[column]
	return ok
}

// first returns the first of the candidate column names present in the header
func (t *csvTable) first(candidates ...string) string {
	for _, c := range candidates {
		if t.has(c) {
			return c
		}
	}
	return ""
}

// next returns the next record and its line number, or io.EOF
func (t *csvTable) next() ([]string, int, error) {
	rec, err := t.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, io.EOF
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return nil, 0, &models.SchemaError{File: t.file, Row: perr.Line, Message: perr.Err.Error()}
		}
		return nil, 0, err
	}
	line, _ := t.r.FieldPos(0)
	return rec, line, nil
}

func (t *csvTable) field(rec []string, column string) string {
	i, ok := t.index[column]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// optionalFloat parses a numeric cell; empty cells yield nil
func (t *csvTable) optionalFloat(rec []string, line int, column string) (*float64, error) {
	raw := t.field(rec, column)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, &models.SchemaError{File: t.file, Column: column, Row: line, Value: raw, Message: "not numeric"}
	}
	return &v, nil
}

// floatOrNaN parses a numeric cell; empty cells yield NaN, which never
// satisfies a bounds check
func (t *csvTable) floatOrNaN(rec []string, line int, column string) (float64, error) {
	v, err := t.optionalFloat(rec, line, column)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return math.NaN(), nil
	}
	return *v, nil
}

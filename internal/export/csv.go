package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"travel-time/internal/models"
)

// csvReader is a header-indexed CSV input; header names are lowercased
type csvReader struct {
	r     *csv.Reader
	index map[string]int
}

func newCSVReader(r io.Reader, path string) (*csvReader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, &models.SchemaError{File: path, Message: "unreadable header: " + err.Error()}
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}
	return &csvReader{r: cr, index: index}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return formatFloat(x)
	default:
		return fmt.Sprint(x)
	}
}

// WideRecord flattens one wide row into its CSV cells; windows without data
// yield empty cells
func WideRecord(row *models.WideRow) []string {
	static := row.Segment.Values()
	record := make([]string, 0, len(static)+3*len(row.Values))
	for _, v := range static {
		record = append(record, formatValue(v))
	}
	for _, rec := range row.Values {
		if rec == nil {
			record = append(record, "", "", "")
			continue
		}
		record = append(record, formatFloat(rec.Speed), formatOptional(rec.TravelTime), formatFloat(rec.Ratio))
	}
	return record
}

// LongRecord flattens one time-series row into its CSV cells
func LongRecord(row *models.LongRow) []string {
	return []string{
		row.Record.Tmc,
		row.Window.Label,
		row.Window.Display,
		formatFloat(row.Record.Speed),
		formatOptional(row.Record.TravelTime),
		formatFloat(row.Record.Ratio),
	}
}

// writeCSV creates path and streams a header and records into it
func writeCSV(path string, header []string, each func(func([]string) error) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()

	bw := bufio.NewWriterSize(f, 1<<16)
	w := csv.NewWriter(bw)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := each(w.Write); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return bw.Flush()
}

// WriteWideCSV writes the per-segment table
func WriteWideCSV(path string, table *models.WideTable) error {
	return writeCSV(path, table.Header(), func(write func([]string) error) error {
		for i := range table.Rows {
			if err := write(WideRecord(&table.Rows[i])); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteLongCSV writes the time-series table
func WriteLongCSV(path string, table *models.LongTable) error {
	return writeCSV(path, models.LongColumns, func(write func([]string) error) error {
		for i := range table.Rows {
			if err := write(LongRecord(&table.Rows[i])); err != nil {
				return err
			}
		}
		return nil
	})
}

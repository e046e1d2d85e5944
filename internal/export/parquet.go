package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"travel-time/internal/models"
)

// TimeSeriesRow is the Parquet schema of the time-series table
type TimeSeriesRow struct {
	Tmc        string   `parquet:"Tmc"`
	Tod        string   `parquet:"tod"`
	Time       string   `parquet:"time"`
	Speed      float64  `parquet:"speed"`
	TravelTime *float64 `parquet:"travel_time,optional"`
	Ratio      float64  `parquet:"ratio"`
}

// parquetBatch is the number of rows handed to the writer at once
const parquetBatch = 8192

// WriteTimeSeriesParquet writes the time-series table as Parquet
func WriteTimeSeriesParquet(path string, table *models.LongTable) (err error) {
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

	writer := parquet.NewGenericWriter[TimeSeriesRow](f)
	batch := make([]TimeSeriesRow, 0, parquetBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := writer.Write(batch); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for i := range table.Rows {
		row := &table.Rows[i]
		batch = append(batch, TimeSeriesRow{
			Tmc:        row.Record.Tmc,
			Tod:        row.Window.Label,
			Time:       row.Window.Display,
			Speed:      row.Record.Speed,
			TravelTime: row.Record.TravelTime,
			Ratio:      row.Record.Ratio,
		})
		if len(batch) == parquetBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

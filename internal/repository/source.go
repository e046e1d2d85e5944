package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/zip"

	"travel-time/internal/models"
)

// Speed file columns
const (
	ColumnTmcCode        = "tmc_code"
	ColumnTimestamp      = "measurement_tstamp"
	ColumnSpeed          = "speed"
	ColumnTravelTime     = "travel_time_seconds"
	ColumnReferenceSpeed = "reference_speed"
)

// ctxCheckInterval is how many rows are read between context checks
const ctxCheckInterval = 1 << 16

// SourceName returns the dataset base name, e.g. mar2018cars
func SourceName(month, year, vehicle string) string {
	return month + year + vehicle
}

// MonthlySource is one month of probe data for one vehicle class, either a
// zip archive streamed in place or a directory of already extracted files.
type MonthlySource struct {
	Name        string
	Path        string
	segmentFile string
	archive     *zip.ReadCloser
}

// OpenMonthlySource locates <name>.zip in dir, falling back to an extracted
// <name>.csv. Neither being present is an InputMissingError.
func OpenMonthlySource(dir, name, segmentFile string) (*MonthlySource, error) {
	archivePath := filepath.Join(dir, name+".zip")
	if _, err := os.Stat(archivePath); err == nil {
		return OpenArchive(archivePath, name, segmentFile)
	}

	csvPath := filepath.Join(dir, name+".csv")
	if _, err := os.Stat(csvPath); err == nil {
		return &MonthlySource{Name: name, Path: dir, segmentFile: segmentFile}, nil
	}
	return nil, &models.InputMissingError{Path: archivePath}
}

// OpenArchive opens a monthly zip archive at an explicit path
func OpenArchive(archivePath, name, segmentFile string) (*MonthlySource, error) {
	rc, err := zip.OpenReader(archivePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &models.InputMissingError{Path: archivePath}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	return &MonthlySource{Name: name, Path: archivePath, segmentFile: segmentFile, archive: rc}, nil
}

// Close releases the archive
func (s *MonthlySource) Close() error {
	if s.archive == nil {
		return nil
	}
	return s.archive.Close()
}

// open returns a reader for a named entry of the source
func (s *MonthlySource) open(entry string) (io.ReadCloser, string, error) {
	if s.archive == nil {
		p := filepath.Join(s.Path, entry)
		f, err := openInput(p)
		return f, p, err
	}

	label := s.Path + "!" + entry
	for _, f := range s.archive.File {
		if path.Base(f.Name) != entry {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, label, fmt.Errorf("failed to open %s: %w", label, err)
		}
		return rc, label, nil
	}
	return nil, label, &models.InputMissingError{Path: label}
}

// ReadSegments reads the TMC identification table. Only the tmc column is
// required; attributes missing from a vintage are left empty.
func (s *MonthlySource) ReadSegments(ctx context.Context) ([]models.Segment, error) {
	rc, label, err := s.open(s.segmentFile)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	table, err := newCSVTable(label, rc)
	if err != nil {
		return nil, err
	}
	tmcCol := table.first("tmc", "Tmc")
	if tmcCol == "" {
		return nil, &models.SchemaError{File: label, Column: "tmc", Message: "required column not found"}
	}

	var segments []models.Segment
	for {
		rec, line, err := table.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		seg := models.Segment{
			Tmc:       table.field(rec, tmcCol),
			Road:      table.field(rec, "road"),
			Direction: table.field(rec, "direction"),
			County:    table.field(rec, "county"),
			Route:     table.field(rec, "route_numb"),
		}
		if seg.Tmc == "" {
			continue
		}

		numeric := []struct {
			column string
			dest   **float64
		}{
			{"miles", &seg.Length},
			{"thrulanes", &seg.Lanes},
			{"aadt", &seg.AADT},
			{"aadt_singl", &seg.AADTSingle},
			{"aadt_combi", &seg.AADTCombination},
		}
		for _, n := range numeric {
			v, err := table.optionalFloat(rec, line, n.column)
			if err != nil {
				return nil, err
			}
			*n.dest = v
		}
		segments = append(segments, seg)

		if len(segments)%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
	return segments, nil
}

// EachObservation streams the speed file, calling fn for every row. It
// returns the number of rows read.
func (s *MonthlySource) EachObservation(ctx context.Context, fn func(*models.RawObservation) error) (int, error) {
	rc, label, err := s.open(s.Name + ".csv")
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	table, err := newCSVTable(label, rc)
	if err != nil {
		return 0, err
	}
	if err := table.require(ColumnTmcCode, ColumnTimestamp, ColumnSpeed); err != nil {
		return 0, err
	}
	hasTravelTime := table.has(ColumnTravelTime)
	hasReference := table.has(ColumnReferenceSpeed)

	var (
		obs  models.RawObservation
		rows int
	)
	for {
		rec, line, err := table.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, err
		}
		rows++
		if rows%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return rows, err
			}
		}

		obs = models.RawObservation{Tmc: table.field(rec, ColumnTmcCode)}

		raw := table.field(rec, ColumnTimestamp)
		obs.Timestamp, err = models.ParseTimestamp(raw)
		if err != nil {
			return rows, &models.SchemaError{File: label, Column: ColumnTimestamp, Row: line, Value: raw, Message: "invalid timestamp"}
		}
		if obs.Speed, err = table.floatOrNaN(rec, line, ColumnSpeed); err != nil {
			return rows, err
		}
		if hasTravelTime {
			if obs.TravelTime, err = table.optionalFloat(rec, line, ColumnTravelTime); err != nil {
				return rows, err
			}
		}
		if hasReference {
			if obs.ReferenceSpeed, err = table.optionalFloat(rec, line, ColumnReferenceSpeed); err != nil {
				return rows, err
			}
		}

		if err := fn(&obs); err != nil {
			return rows, err
		}
	}
	return rows, nil
}

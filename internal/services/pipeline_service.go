package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"travel-time/internal/config"
	"travel-time/internal/export"
	"travel-time/internal/models"
	"travel-time/internal/repository"
	"travel-time/pkg/logging"
	"travel-time/pkg/metrics"
	"travel-time/pkg/storage"
)

// ObjectStore fetches monthly archives and publishes outputs
type ObjectStore interface {
	Download(ctx context.Context, key, destPath string) error
	UploadDir(ctx context.Context, prefix, dir string) (int, error)
}

// RunResult contains the statistics of one vehicle-class run
type RunResult struct {
	RunID        string
	Vehicle      string
	Period       string
	Months       []string
	Read         int
	Kept         int
	Dropped      map[string]int
	Segments     int
	Windows      int
	Records      int
	EmptyWindows int
	OutputDir    string
	Outputs      []string
	Uploaded     int
	Duration     time.Duration
}

// PipelineService runs the analysis for every configured vehicle class
type PipelineService struct {
	cfg     *config.Config
	refRepo repository.ReferenceRepository
	store   ObjectStore
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewPipelineService creates a new pipeline. store may be nil when archives
// are read from the local data directory.
func NewPipelineService(cfg *config.Config, refRepo repository.ReferenceRepository, store ObjectStore, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *PipelineService {
	return &PipelineService{
		cfg:     cfg,
		refRepo: refRepo,
		store:   store,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// MonthGroups returns the month sets analysed per vehicle class: all months
// together when pooling, otherwise one set per month
func MonthGroups(months []string, pool bool) [][]string {
	if pool {
		return [][]string{months}
	}
	groups := make([][]string, 0, len(months))
	for _, m := range months {
		groups = append(groups, []string{m})
	}
	return groups
}

// RunAll runs every (vehicle class, month group). A failed run is logged
// and does not stop the others; the returned error joins every failure.
func (s *PipelineService) RunAll(ctx context.Context) ([]*RunResult, error) {
	startTime := time.Now()

	windows, err := GenerateWindows(s.cfg.Windows)
	if err != nil {
		return nil, fmt.Errorf("invalid windows: %w", err)
	}

	ref, err := repository.LoadReferenceData(ctx, s.refRepo, s.cfg.Reference.Source == config.ReferencePosted, s.logger)
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "[PIPELINE_START] Starting analysis", logging.Fields{
		"year":       s.cfg.Analysis.Year,
		"months":     s.cfg.Analysis.Months,
		"vehicles":   s.cfg.Analysis.VehicleClasses,
		"percentile": s.cfg.Analysis.Percentile,
		"windows":    len(windows),
		"stage":      "INITIALIZATION",
	})

	var (
		results []*RunResult
		errs    []error
	)
	for _, vehicle := range s.cfg.Analysis.VehicleClasses {
		for _, months := range MonthGroups(s.cfg.Analysis.Months, s.cfg.Analysis.PoolMonths) {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				break
			}

			result, err := s.Run(ctx, ref, windows, vehicle, months)
			if err != nil {
				s.metrics.RecordRun("failure")
				errs = append(errs, fmt.Errorf("%s %s: %w", vehicle, export.PeriodLabel(months), err))
				continue
			}
			s.metrics.RecordRun("success")
			results = append(results, result)
		}
	}

	if path := s.cfg.Metrics.Textfile; path != "" {
		if err := s.metrics.WriteTextfile(path); err != nil {
			s.logger.Warn(ctx, "[METRICS_ERROR] Failed to write metrics textfile", logging.Fields{
				"path":  path,
				"error": err.Error(),
			})
		}
	}

	s.logger.Info(ctx, "[PIPELINE_COMPLETE] Analysis completed", logging.Fields{
		"runs":             len(results),
		"failed_runs":      len(errs),
		"duration_seconds": time.Since(startTime).Seconds(),
		"stage":            "COMPLETE",
	})
	return results, errors.Join(errs...)
}

// Run analyses one vehicle class over one month group and writes its
// outputs. Nothing is written when any input fails.
func (s *PipelineService) Run(ctx context.Context, ref *models.ReferenceData, windows []models.TimeWindow, vehicle string, months []string) (*RunResult, error) {
	startTime := time.Now()
	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	ctx = logging.WithVehicle(ctx, vehicle)

	result := &RunResult{
		RunID:   runID,
		Vehicle: vehicle,
		Period:  export.PeriodLabel(months),
		Months:  months,
		Dropped: make(map[string]int),
		Windows: len(windows),
	}

	runLog := s.logger.WithFields(logging.Fields{
		"period": result.Period,
		"year":   s.cfg.Analysis.Year,
	})
	runLog.Info(ctx, "[RUN_START] Starting vehicle class run", logging.Fields{
		"months": months,
		"stage":  "RUN",
	})

	layer, err := s.loadGeometry()
	if err != nil {
		runLog.Error(ctx, "[RUN_ERROR] Failed to read geometry layer", logging.Fields{
			"path": s.cfg.Paths.GeometryFile,
		}, err)
		return nil, err
	}

	segments, observations, err := s.collect(ctx, ref, vehicle, months, result)
	if err != nil {
		runLog.Error(ctx, "[RUN_ERROR] Failed to read inputs", logging.Fields{}, err)
		return nil, err
	}

	aggregator := NewAggregationService(s.cfg.Analysis.Percentile, s.cfg.Analysis.PercentileBasis, s.logger, s.metrics)
	aggregates, err := aggregator.AggregateAll(ctx, windows, observations)
	if err != nil {
		return nil, err
	}

	wide, long := Assemble(segments, ref, windows, aggregates)
	result.Segments = IncludedSegments(segments, ref)

	summaries := make([]WindowSummary, len(aggregates))
	for i := range aggregates {
		summaries[i] = Summarize(aggregates[i], result.Segments, s.cfg.Congestion.Thresholds, s.cfg.Congestion.Comparison)
		s.metrics.SegmentsWithData.WithLabelValues(vehicle, aggregates[i].Window.Label).Set(float64(summaries[i].Segments))
		result.Records += len(aggregates[i].Records)
		if len(aggregates[i].Records) == 0 {
			result.EmptyWindows++
		}
	}

	names := export.Names{
		Period:     result.Period,
		Year:       s.cfg.Analysis.Year,
		Vehicle:    vehicle,
		Percentile: s.cfg.Analysis.Percentile,
	}
	names.Dir = filepath.Join(s.cfg.Paths.OutputDir, names.FolderName())
	result.OutputDir = names.Dir

	header := ReportHeader{
		Vehicle:        vehicle,
		Period:         result.Period,
		Year:           s.cfg.Analysis.Year,
		TotalSegments:  result.Segments,
		ReferenceLabel: referenceLabel(s.cfg.Reference.Source),
	}
	outputs, err := s.writeOutputs(ctx, names, &wide, &long, layer, header, summaries)
	result.Outputs = outputs
	if err != nil {
		runLog.Error(ctx, "[EXPORT_ERROR] Failed to write outputs", logging.Fields{
			"output_dir": names.Dir,
		}, err)
		return nil, err
	}

	if s.store != nil && s.cfg.Storage.UploadOutputs {
		prefix := storage.JoinKey(s.cfg.Storage.OutputPrefix, names.FolderName())
		n, err := s.store.UploadDir(ctx, prefix, names.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to upload outputs: %w", err)
		}
		result.Uploaded = n
	}

	result.Duration = time.Since(startTime)
	runLog.Info(ctx, "[RUN_COMPLETE] Vehicle class run completed", logging.Fields{
		"observations":     result.Read,
		"kept":             result.Kept,
		"segments":         result.Segments,
		"records":          result.Records,
		"empty_windows":    result.EmptyWindows,
		"outputs":          len(result.Outputs),
		"duration_seconds": result.Duration.Seconds(),
		"stage":            "RUN_COMPLETE",
	})
	return result, nil
}

// collect reads the segment table of the first month and the filtered,
// pooled observations of every month. Observations of segments missing from
// the table are dropped.
func (s *PipelineService) collect(ctx context.Context, ref *models.ReferenceData, vehicle string, months []string, result *RunResult) ([]models.Segment, []models.Observation, error) {
	timer := s.metrics.StageTimer("filter")
	defer timer.ObserveDuration()

	opts, err := FilterOptionsFromConfig(s.cfg)
	if err != nil {
		return nil, nil, err
	}

	var (
		filter       *FilterService
		segments     []models.Segment
		observations []models.Observation
	)
	for i, month := range months {
		name := repository.SourceName(month, s.cfg.Analysis.Year, vehicle)
		src, cleanup, err := s.openSource(ctx, name)
		if err != nil {
			s.metrics.RecordSourceError("input_missing")
			return nil, nil, err
		}

		if i == 0 {
			segments, err = src.ReadSegments(ctx)
			if err != nil {
				src.Close()
				cleanup()
				s.metrics.RecordSourceError("schema_error")
				return nil, nil, err
			}
			opts.Segments = SegmentSet(segments)
			filter = NewFilterService(ref, opts, s.logger, s.metrics)
		}

		var fr *FilterResult
		observations, fr, err = filter.FilterSource(ctx, name, vehicle, src, observations)
		src.Close()
		cleanup()
		if err != nil {
			return nil, nil, err
		}

		result.Read += fr.Read
		result.Kept += fr.Kept
		for reason, n := range fr.Dropped {
			result.Dropped[reason] += n
		}
	}
	return segments, observations, nil
}

// openSource opens a monthly source, downloading its archive into the work
// directory first when an object store is configured. cleanup removes the
// downloaded copy.
func (s *PipelineService) openSource(ctx context.Context, name string) (*repository.MonthlySource, func(), error) {
	noop := func() {}
	if s.store == nil {
		src, err := repository.OpenMonthlySource(s.cfg.Paths.DataDir, name, s.cfg.Paths.SegmentFileName)
		return src, noop, err
	}

	workDir := s.cfg.Paths.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	dest := filepath.Join(workDir, name+".zip")
	key := storage.JoinKey(s.cfg.Storage.ArchivePrefix, name+".zip")
	if err := s.store.Download(ctx, key, dest); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, noop, &models.InputMissingError{Path: "s3://" + s.cfg.Storage.Bucket + "/" + key}
		}
		return nil, noop, fmt.Errorf("failed to download %s: %w", key, err)
	}
	cleanup := func() {
		if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
			s.logger.Warn(ctx, "[SOURCE_CLEANUP] Failed to remove downloaded archive", logging.Fields{
				"path":  dest,
				"error": err.Error(),
			})
		}
	}

	src, err := repository.OpenArchive(dest, name, s.cfg.Paths.SegmentFileName)
	if err != nil {
		cleanup()
		return nil, noop, err
	}
	return src, cleanup, nil
}

// loadGeometry reads the geometry layer and checks the projection file when
// geometry outputs are enabled. A nil layer disables them.
func (s *PipelineService) loadGeometry() (*export.GeometryLayer, error) {
	if !s.cfg.Outputs.Geometry {
		return nil, nil
	}
	layer, err := export.LoadGeometry(s.cfg.Paths.GeometryFile, s.cfg.Paths.GeometryKey)
	if err != nil {
		return nil, err
	}
	if prj := s.cfg.Paths.ProjectionFile; prj != "" {
		if _, err := os.Stat(prj); err != nil {
			if os.IsNotExist(err) {
				return nil, &models.InputMissingError{Path: prj}
			}
			return nil, fmt.Errorf("failed to stat projection file: %w", err)
		}
	}
	return layer, nil
}

// writeOutputs writes every enabled artifact and returns their paths
func (s *PipelineService) writeOutputs(ctx context.Context, names export.Names, wide *models.WideTable, long *models.LongTable, layer *export.GeometryLayer, header ReportHeader, summaries []WindowSummary) ([]string, error) {
	timer := s.metrics.StageTimer("export")
	defer timer.ObserveDuration()

	out := s.cfg.Outputs
	var written []string

	if out.WideCSV {
		path := names.WideCSV()
		if err := export.WriteWideCSV(path, wide); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	if out.TimeSeriesCSV {
		path := names.TimeSeriesCSV()
		if err := export.WriteLongCSV(path, long); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	if out.TimeSeriesParquet {
		path := names.TimeSeriesParquet()
		if err := export.WriteTimeSeriesParquet(path, long); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	if layer != nil {
		type geometryOutput struct {
			path string
			fc   export.FeatureCollection
		}
		targets := []geometryOutput{{names.WideGeoJSON(), layer.JoinWide(wide)}}
		if out.TimeSeriesCSV || out.TimeSeriesParquet {
			targets = append(targets, geometryOutput{names.TimeSeriesGeoJSON(), layer.JoinLong(long)})
		}
		for _, t := range targets {
			if err := export.WriteGeoJSON(t.path, t.fc); err != nil {
				return written, err
			}
			if err := export.CopyProjection(s.cfg.Paths.ProjectionFile, t.path); err != nil {
				return written, err
			}
			written = append(written, t.path)
			s.logger.Debug(ctx, "[EXPORT_GEOMETRY] Geometry layer joined", logging.Fields{
				"path":     t.path,
				"features": len(t.fc.Features),
			})
		}
	}

	if out.Report {
		path := names.Report()
		err := export.WriteReport(path, func(w io.Writer) error {
			return RenderReport(w, header, summaries, s.cfg.Congestion.Comparison)
		})
		if err != nil {
			return written, err
		}
		written = append(written, path)
	}

	s.logger.Info(ctx, "[EXPORT_COMPLETE] Outputs written", logging.Fields{
		"output_dir": names.Dir,
		"files":      len(written),
		"stage":      "EXPORT",
	})
	return written, nil
}

func referenceLabel(source string) string {
	if source == config.ReferenceObserved {
		return "reference speed"
	}
	return "posted speed"
}

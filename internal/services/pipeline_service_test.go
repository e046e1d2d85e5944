package services

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"

	"travel-time/internal/config"
	"travel-time/internal/models"
	"travel-time/internal/repository"
	"travel-time/pkg/storage"
)

const (
	segmentCSV = "tmc,road,direction,county,miles\nA,I-5,NORTHBOUND,Sacramento,0.5\nB,I-80,EASTBOUND,Placer,1.25\nX,US-50,EASTBOUND,El Dorado,2\nC,SR-99,SOUTHBOUND,Sutter,\n"
	marchCSV   = "tmc_code,measurement_tstamp,speed,travel_time_seconds\n" +
		"A,2018-03-01 06:10:00,30,60\n" +
		"A,2018-03-01 06:20:00,50,36\n" +
		"X,2018-03-01 06:00:00,40,180\n" +
		"A,2018-03-01 05:30:00,9,200\n"
	aprilCSV = "tmc_code,measurement_tstamp,speed,travel_time_seconds\n" +
		"A,2018-04-02 06:30:00,40,45\n" +
		"B,2018-04-02 07:15:00,20,225\n"
	layerGeoJSON = `{"type":"FeatureCollection","features":[` +
		`{"type":"Feature","geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]},"properties":{"Tmc":"B"}},` +
		`{"type":"Feature","geometry":{"type":"LineString","coordinates":[[1,1],[2,2]]},"properties":{"Tmc":"A"}},` +
		`{"type":"Feature","geometry":{"type":"LineString","coordinates":[[2,2],[3,3]]},"properties":{"Tmc":"Z"}}]}`
)

func writeTestFile(t *testing.T, path, body string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func writeTestArchive(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry: %v", err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("write entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close archive: %v", err)
	}
}

// pipelineFixture lays out a two-month data directory and reference files
func pipelineFixture(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	dataDir := filepath.Join(root, "downloads")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	writeTestArchive(t, filepath.Join(dataDir, "mar2018cars.zip"), map[string]string{
		"mar2018cars.csv":        marchCSV,
		"TMC_Identification.csv": segmentCSV,
	})
	writeTestFile(t, filepath.Join(dataDir, "apr2018cars.csv"), aprilCSV)

	cfg := config.Default()
	cfg.Analysis.Year = "2018"
	cfg.Analysis.Months = []string{"mar", "apr"}
	cfg.Analysis.VehicleClasses = []string{"cars"}
	cfg.Analysis.PoolMonths = true
	cfg.Analysis.Percentile = 0.5
	cfg.Windows = config.WindowConfig{
		Mode: config.WindowsTable,
		Table: []config.WindowEntry{
			{Label: "6am", StartHour: 6, EndHour: 6},
			{Label: "7am", StartHour: 7, EndHour: 7},
		},
	}
	cfg.Paths.DataDir = dataDir
	cfg.Paths.WorkDir = filepath.Join(root, "work")
	cfg.Paths.OutputDir = filepath.Join(root, "output")
	cfg.Paths.PostedSpeedFile = writeTestFile(t, filepath.Join(root, "reference", "posted.csv"), "Tmc,PostedSpeed\nA,50\nB,40\nX,60\nC,55\n")
	cfg.Paths.ExclusionFile = writeTestFile(t, filepath.Join(root, "reference", "exclusions.csv"), "Tmc\nX\n")
	cfg.Paths.GeometryFile = writeTestFile(t, filepath.Join(root, "layers", "tmc.geojson"), layerGeoJSON)
	cfg.Paths.ProjectionFile = writeTestFile(t, filepath.Join(root, "layers", "tmc.prj"), `GEOGCS["WGS 84"]`)
	cfg.Outputs = config.OutputConfig{WideCSV: true, TimeSeriesCSV: true, TimeSeriesParquet: true, Geometry: true, Report: true}
	cfg.Metrics.Textfile = filepath.Join(root, "metrics", "travel_time.prom")
	if err := os.MkdirAll(filepath.Dir(cfg.Metrics.Textfile), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return cfg
}

func newTestPipeline(t *testing.T, cfg *config.Config, store ObjectStore) *PipelineService {
	t.Helper()
	logger := newTestLogger(io.Discard)
	repo := repository.NewCSVReferenceRepository(cfg.Paths.PostedSpeedFile, cfg.Paths.ExclusionFile, logger)
	return NewPipelineService(cfg, repo, store, logger, newTestCollector(t))
}

func TestMonthGroups(t *testing.T) {
	months := []string{"mar", "apr", "may"}
	if got := MonthGroups(months, true); !reflect.DeepEqual(got, [][]string{months}) {
		t.Errorf("pooled = %v", got)
	}
	if got := MonthGroups(months, false); !reflect.DeepEqual(got, [][]string{{"mar"}, {"apr"}, {"may"}}) {
		t.Errorf("per month = %v", got)
	}
}

func TestPipelineService_RunAll(t *testing.T) {
	cfg := pipelineFixture(t)
	pipeline := newTestPipeline(t, cfg, nil)

	results, err := pipeline.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}

	r := results[0]
	if r.Period != "mar-apr" || r.RunID == "" {
		t.Errorf("result = %+v", r)
	}
	if r.Read != 6 || r.Kept != 4 {
		t.Errorf("read/kept = %d/%d, want 6/4", r.Read, r.Kept)
	}
	if r.Dropped[DropExcluded] != 1 || r.Dropped[DropSpeedBounds] != 1 {
		t.Errorf("dropped = %v", r.Dropped)
	}
	if r.Segments != 3 || r.Records != 2 || r.EmptyWindows != 0 {
		t.Errorf("segments/records/empty = %d/%d/%d, want 3/2/0", r.Segments, r.Records, r.EmptyWindows)
	}

	outDir := filepath.Join(cfg.Paths.OutputDir, "mar-apr2018")
	if r.OutputDir != outDir {
		t.Errorf("output dir = %s, want %s", r.OutputDir, outDir)
	}
	for _, name := range []string{
		"mar-apr_2018_cars_tmc_50th_percentile_speed.csv",
		"mar-apr_2018_cars_tmc_timeseries.csv",
		"mar-apr_2018_cars_tmc_timeseries.parquet",
		"mar-apr_2018_cars_travel_time_by_tod.geojson",
		"mar-apr_2018_cars_travel_time_by_tod.prj",
		"mar-apr_2018_cars_timeseries.geojson",
		"mar-apr_2018_cars_timeseries.prj",
		"mar-apr2018cars.txt",
	} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("missing output %s: %v", name, err)
		}
	}

	wide, err := os.ReadFile(filepath.Join(outDir, "mar-apr_2018_cars_tmc_50th_percentile_speed.csv"))
	if err != nil {
		t.Fatalf("read wide: %v", err)
	}
	if strings.Contains(string(wide), "\nX,") {
		t.Error("excluded segment in wide output")
	}
	if !strings.Contains(string(wide), "A,I-5,NORTHBOUND,Sacramento,0.5,,,,,,50,40,45,0.8,,,\n") {
		t.Errorf("wide output:\n%s", wide)
	}

	ts, err := os.ReadFile(filepath.Join(outDir, "mar-apr_2018_cars_tmc_timeseries.csv"))
	if err != nil {
		t.Fatalf("read time series: %v", err)
	}
	wantTS := "Tmc,tod,time,speed,travel_time,ratio\nA,6am,06:00,40,45,0.8\nB,7am,07:00,20,225,0.5\n"
	if string(ts) != wantTS {
		t.Errorf("time series =\n%s\nwant\n%s", ts, wantTS)
	}

	report, err := os.ReadFile(filepath.Join(outDir, "mar-apr2018cars.txt"))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	for _, want := range []string{
		"Total Number of TMC segments: 3\n",
		"Summary of Data for: 7am (07:00-08:00)\n",
		"  --- % of Total TMC segments with data: 33%\n",
		"under 70% of the posted speed (moderate): 1\n",
	} {
		if !strings.Contains(string(report), want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}

	prom, err := os.ReadFile(cfg.Metrics.Textfile)
	if err != nil {
		t.Fatalf("read metrics textfile: %v", err)
	}
	if !strings.Contains(string(prom), `travel_time_test_runs_total{outcome="success"} 1`) {
		t.Errorf("metrics textfile:\n%s", prom)
	}
}

func TestPipelineService_PerMonth(t *testing.T) {
	cfg := pipelineFixture(t)
	cfg.Analysis.PoolMonths = false
	cfg.Analysis.Months = []string{"mar"}
	cfg.Outputs = config.OutputConfig{TimeSeriesCSV: true}

	results, err := newTestPipeline(t, cfg, nil).RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}

	ts, err := os.ReadFile(filepath.Join(cfg.Paths.OutputDir, "mar2018", "mar_2018_cars_tmc_timeseries.csv"))
	if err != nil {
		t.Fatalf("read time series: %v", err)
	}
	// median of 30 and 50
	if !strings.Contains(string(ts), "A,6am,06:00,40,48,0.8\n") {
		t.Errorf("time series:\n%s", ts)
	}
	if results[0].EmptyWindows != 1 {
		t.Errorf("empty windows = %d, want 1", results[0].EmptyWindows)
	}
}

func TestPipelineService_MissingSource(t *testing.T) {
	cfg := pipelineFixture(t)
	cfg.Analysis.Months = []string{"mar", "jun"}
	cfg.Analysis.VehicleClasses = []string{"cars", "trucks"}

	results, err := newTestPipeline(t, cfg, nil).RunAll(context.Background())

	var missing *models.InputMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("error = %v, want *InputMissingError", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.OutputDir, "mar-jun2018")); !os.IsNotExist(err) {
		t.Errorf("outputs written for a failed run: %v", err)
	}
}

func TestPipelineService_SegmentsWithoutIdentification(t *testing.T) {
	cfg := pipelineFixture(t)
	root := filepath.Dir(cfg.Paths.DataDir)
	cfg.Paths.PostedSpeedFile = writeTestFile(t, filepath.Join(root, "reference", "posted.csv"),
		"Tmc,PostedSpeed\nA,50\nB,40\nX,60\nC,55\nQ1,50\nQ2,50\nQ3,50\nQ4,50\n")
	april := aprilCSV
	for _, tmc := range []string{"Q1", "Q2", "Q3", "Q4"} {
		april += tmc + ",2018-04-02 06:30:00,40,45\n"
	}
	writeTestFile(t, filepath.Join(cfg.Paths.DataDir, "apr2018cars.csv"), april)

	results, err := newTestPipeline(t, cfg, nil).RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	r := results[0]
	if r.Dropped[DropUnknown] != 4 || r.Kept != 4 || r.Segments != 3 {
		t.Errorf("dropped/kept/segments = %v/%d/%d", r.Dropped, r.Kept, r.Segments)
	}

	outDir := filepath.Join(cfg.Paths.OutputDir, "mar-apr2018")
	ts, err := os.ReadFile(filepath.Join(outDir, "mar-apr_2018_cars_tmc_timeseries.csv"))
	if err != nil {
		t.Fatalf("read time series: %v", err)
	}
	if strings.Contains(string(ts), "Q1,") {
		t.Errorf("unidentified segment in time series:\n%s", ts)
	}

	report, err := os.ReadFile(filepath.Join(outDir, "mar-apr2018cars.txt"))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if strings.Contains(string(report), "with data: 5\n") || !strings.Contains(string(report), "% of Total TMC segments with data: 33%\n") {
		t.Errorf("report:\n%s", report)
	}
}

func TestPipelineService_MissingGeometryWritesNothing(t *testing.T) {
	tests := []struct {
		name  string
		setup func(cfg *config.Config, root string)
		path  string
	}{
		{
			name:  "geometry layer",
			setup: func(cfg *config.Config, root string) { cfg.Paths.GeometryFile = filepath.Join(root, "missing.geojson") },
			path:  "missing.geojson",
		},
		{
			name:  "projection file",
			setup: func(cfg *config.Config, root string) { cfg.Paths.ProjectionFile = filepath.Join(root, "missing.prj") },
			path:  "missing.prj",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := pipelineFixture(t)
			root := filepath.Dir(cfg.Paths.DataDir)
			tt.setup(cfg, root)

			_, err := newTestPipeline(t, cfg, nil).RunAll(context.Background())
			var missing *models.InputMissingError
			if !errors.As(err, &missing) || missing.Path != filepath.Join(root, tt.path) {
				t.Fatalf("error = %v, want InputMissingError for %s", err, tt.path)
			}
			if _, err := os.Stat(filepath.Join(cfg.Paths.OutputDir, "mar-apr2018")); !os.IsNotExist(err) {
				t.Errorf("outputs written for a failed run: %v", err)
			}
		})
	}
}

type fakeStore struct {
	objects map[string]string
	uploads map[string]int
}

func (f *fakeStore) Download(ctx context.Context, key, destPath string) error {
	src, ok := f.objects[key]
	if !ok {
		return storage.ErrObjectNotFound
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(destPath, data, 0o644)
}

func (f *fakeStore) UploadDir(ctx context.Context, prefix, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	f.uploads[prefix] = len(entries)
	return len(entries), nil
}

func TestPipelineService_ObjectStore(t *testing.T) {
	cfg := pipelineFixture(t)
	cfg.Analysis.Months = []string{"mar"}
	cfg.Outputs = config.OutputConfig{WideCSV: true, Report: true}
	cfg.Storage.Enabled = true
	cfg.Storage.Bucket = "npmrds"
	cfg.Storage.ArchivePrefix = "archives"
	cfg.Storage.UploadOutputs = true

	store := &fakeStore{
		objects: map[string]string{"archives/mar2018cars.zip": filepath.Join(cfg.Paths.DataDir, "mar2018cars.zip")},
		uploads: map[string]int{},
	}
	results, err := newTestPipeline(t, cfg, store).RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}

	if store.uploads["output/mar2018"] != 2 || results[0].Uploaded != 2 {
		t.Errorf("uploads = %v, result uploaded = %d", store.uploads, results[0].Uploaded)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.WorkDir, "mar2018cars.zip")); !os.IsNotExist(err) {
		t.Error("downloaded archive was not removed")
	}

	cfg.Analysis.Months = []string{"may"}
	_, err = newTestPipeline(t, cfg, store).RunAll(context.Background())
	var missing *models.InputMissingError
	if !errors.As(err, &missing) || missing.Path != "s3://npmrds/archives/may2018cars.zip" {
		t.Errorf("error = %v, want InputMissingError for the bucket object", err)
	}
}

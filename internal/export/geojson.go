package export

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/twpayne/go-polyline"

	"travel-time/internal/models"
)

// Feature is a GeoJSON feature with its geometry kept verbatim
type Feature struct {
	Type       string                 `json:"type"`
	Geometry   json.RawMessage        `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// FeatureCollection is a GeoJSON feature collection
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// lineString is the geometry built from an encoded polyline
type lineString struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

// GeometryLayer is a segment geometry layer keyed by Tmc, in file order
type GeometryLayer struct {
	Key      string
	Features []Feature
}

// LoadGeometry reads a geometry layer. A .csv path is read as Tmc,polyline
// rows; anything else is read as a GeoJSON feature collection whose features
// carry the Tmc in property key.
func LoadGeometry(path, key string) (*GeometryLayer, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &models.InputMissingError{Path: path}
		}
		return nil, fmt.Errorf("failed to open geometry layer: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return readPolylineLayer(f, path, key)
	}
	return readGeoJSONLayer(f, path, key)
}

func readGeoJSONLayer(r io.Reader, path, key string) (*GeometryLayer, error) {
	var fc FeatureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, &models.SchemaError{File: path, Column: "features", Message: "invalid GeoJSON: " + err.Error()}
	}

	layer := &GeometryLayer{Key: key, Features: make([]Feature, 0, len(fc.Features))}
	for i, feat := range fc.Features {
		tmc, ok := feat.Properties[key].(string)
		if !ok || tmc == "" {
			return nil, &models.SchemaError{File: path, Column: key, Row: i + 1, Message: "feature has no key property"}
		}
		layer.Features = append(layer.Features, feat)
	}
	return layer, nil
}

func readPolylineLayer(r io.Reader, path, key string) (*GeometryLayer, error) {
	table, err := newCSVReader(r, path)
	if err != nil {
		return nil, err
	}
	tmcCol, ok := table.index[strings.ToLower(key)]
	if !ok {
		return nil, &models.SchemaError{File: path, Column: key, Message: "column not found"}
	}
	lineCol, ok := table.index["polyline"]
	if !ok {
		return nil, &models.SchemaError{File: path, Column: "polyline", Message: "column not found"}
	}

	layer := &GeometryLayer{Key: key}
	for row := 2; ; row++ {
		rec, err := table.r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &models.SchemaError{File: path, Row: row, Message: err.Error()}
		}
		if tmcCol >= len(rec) || lineCol >= len(rec) {
			return nil, &models.SchemaError{File: path, Row: row, Message: "short row"}
		}
		tmc := strings.TrimSpace(rec[tmcCol])
		if tmc == "" {
			continue
		}
		geometry, err := polylineGeometry(rec[lineCol])
		if err != nil {
			return nil, &models.SchemaError{File: path, Column: "polyline", Row: row, Value: rec[lineCol], Message: err.Error()}
		}
		layer.Features = append(layer.Features, Feature{
			Type:       "Feature",
			Geometry:   geometry,
			Properties: map[string]interface{}{key: tmc},
		})
	}
	return layer, nil
}

// polylineGeometry decodes an encoded polyline into a LineString.
// Polyline pairs are lat,lon; GeoJSON wants lon,lat.
func polylineGeometry(encoded string) (json.RawMessage, error) {
	coords, _, err := polyline.DecodeCoords([]byte(strings.TrimSpace(encoded)))
	if err != nil {
		return nil, fmt.Errorf("decode polyline: %w", err)
	}
	if len(coords) < 2 {
		return nil, fmt.Errorf("polyline has %d points, need at least 2", len(coords))
	}
	line := lineString{Type: "LineString", Coordinates: make([][]float64, len(coords))}
	for i, c := range coords {
		line.Coordinates[i] = []float64{c[1], c[0]}
	}
	return json.Marshal(line)
}

// tmcOf returns the key property of a feature
func (l *GeometryLayer) tmcOf(f *Feature) string {
	tmc, _ := f.Properties[l.Key].(string)
	return tmc
}

// merge copies the layer properties and overlays the table columns
func merge(layer map[string]interface{}, columns []string, values []interface{}) map[string]interface{} {
	props := make(map[string]interface{}, len(layer)+len(columns))
	for k, v := range layer {
		props[k] = v
	}
	for i, col := range columns {
		props[col] = values[i]
	}
	return props
}

func wideValues(row *models.WideRow) []interface{} {
	values := row.Segment.Values()
	for _, rec := range row.Values {
		if rec == nil {
			values = append(values, nil, nil, nil)
			continue
		}
		var tt interface{}
		if rec.TravelTime != nil {
			tt = *rec.TravelTime
		}
		values = append(values, rec.Speed, tt, rec.Ratio)
	}
	return values
}

func longValues(row *models.LongRow) []interface{} {
	var tt interface{}
	if row.Record.TravelTime != nil {
		tt = *row.Record.TravelTime
	}
	return []interface{}{row.Record.Tmc, row.Window.Label, row.Window.Display, row.Record.Speed, tt, row.Record.Ratio}
}

// JoinWide inner-joins the wide table onto the layer. Features keep layer
// order; layer features without a row and rows without a feature are dropped.
func (l *GeometryLayer) JoinWide(table *models.WideTable) FeatureCollection {
	rows := make(map[string]*models.WideRow, len(table.Rows))
	for i := range table.Rows {
		rows[table.Rows[i].Segment.Tmc] = &table.Rows[i]
	}

	header := table.Header()
	fc := FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, 0, len(rows))}
	for i := range l.Features {
		feat := &l.Features[i]
		row, ok := rows[l.tmcOf(feat)]
		if !ok {
			continue
		}
		fc.Features = append(fc.Features, Feature{
			Type:       "Feature",
			Geometry:   feat.Geometry,
			Properties: merge(feat.Properties, header, wideValues(row)),
		})
	}
	return fc
}

// JoinLong inner-joins the time-series table onto the layer, one feature per
// (segment, window) row. Features follow layer order, then window order.
func (l *GeometryLayer) JoinLong(table *models.LongTable) FeatureCollection {
	rows := make(map[string][]*models.LongRow)
	for i := range table.Rows {
		tmc := table.Rows[i].Record.Tmc
		rows[tmc] = append(rows[tmc], &table.Rows[i])
	}

	fc := FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, 0, len(table.Rows))}
	for i := range l.Features {
		feat := &l.Features[i]
		for _, row := range rows[l.tmcOf(feat)] {
			fc.Features = append(fc.Features, Feature{
				Type:       "Feature",
				Geometry:   feat.Geometry,
				Properties: merge(feat.Properties, models.LongColumns, longValues(row)),
			})
		}
	}
	return fc
}

// WriteGeoJSON writes a feature collection to path
func WriteGeoJSON(path string, fc FeatureCollection) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(fc); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// CopyProjection copies the projection file next to geometryPath with a .prj
// extension. An empty src is a no-op.
func CopyProjection(src, geometryPath string) error {
	if src == "" {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			return &models.InputMissingError{Path: src}
		}
		return fmt.Errorf("failed to read projection file: %w", err)
	}
	if err := os.WriteFile(ProjectionFor(geometryPath), data, 0o644); err != nil {
		return fmt.Errorf("failed to write projection file: %w", err)
	}
	return nil
}

// Package render builds the instructions the browser map needs to draw a converted shapefile.
package render

import (
	"fmt"
	"math"

	"github.com/paulmach/orb/geojson"
	"github.com/woozymasta/shpmap/internal/config"
	"github.com/woozymasta/shpmap/internal/geo"
)

// Fixed ids: a new load replaces the previous source and layer.
const (
	SourceID = "shapefile-data"
	LayerID  = "shapefile-layer"
)

// Layer mirrors the map library layer descriptor.
type Layer struct {
	ID     string                 `json:"id"`
	Type   string                 `json:"type"`
	Source string                 `json:"source"`
	Paint  map[string]interface{} `json:"paint"`
}

// Summary describes the converted data.
type Summary struct {
	Types      map[string]int `json:"types"`
	Features   int            `json:"features"`
	Points     int            `json:"points"`
	DiagonalKm float64        `json:"diagonalKm"`
}

// Plan is everything the client needs to render one load.
type Plan struct {
	Data     *geojson.FeatureCollection `json:"data"`
	Bounds   *[2][2]float64             `json:"bounds,omitempty"` // [[minLng, minLat], [maxLng, maxLat]]
	Layer    Layer                      `json:"layer"`
	Summary  Summary                    `json:"summary"`
	Name     string                     `json:"name"`
	Download string                     `json:"download"`
	Style    geo.Style                  `json:"style"`
	Padding  int                        `json:"padding"`
	MaxZoom  float64                    `json:"maxZoom,omitempty"`
}

// LayerFor returns the layer descriptor of a style category.
func LayerFor(style geo.Style, s config.Style) (Layer, error) {
	layer := Layer{ID: LayerID, Source: SourceID}

	switch style {
	case geo.PointStyle:
		layer.Type = "circle"
		layer.Paint = map[string]interface{}{
			"circle-radius":       s.PointRadius,
			"circle-color":        s.PointColor,
			"circle-stroke-color": s.PointStrokeColor,
			"circle-stroke-width": s.PointStrokeWidth,
		}
	case geo.LineStyle:
		layer.Type = "line"
		layer.Paint = map[string]interface{}{
			"line-width": s.LineWidth,
			"line-color": s.LineColor,
		}
	case geo.AreaStyle:
		layer.Type = "fill"
		layer.Paint = map[string]interface{}{
			"fill-color":         s.FillColor,
			"fill-opacity":       s.FillOpacity,
			"fill-outline-color": s.FillOutlineColor,
		}
	default:
		return Layer{}, fmt.Errorf("%w: style %q", geo.ErrUnsupportedGeometry, style)
	}

	return layer, nil
}

// Build classifies fc and computes its viewport. It fails with
// geo.ErrUnsupportedGeometry and never returns a partial plan.
func Build(name string, fc *geojson.FeatureCollection, cfg *config.Config) (*Plan, error) {
	style, err := geo.Classify(fc)
	if err != nil {
		return nil, err
	}

	layer, err := LayerFor(style, cfg.Style)
	if err != nil {
		return nil, err
	}

	bounds := geo.CollectionBounds(fc)

	plan := &Plan{
		Data:     fc,
		Layer:    layer,
		Name:     name,
		Download: geo.DownloadName(name),
		Style:    style,
		Padding:  cfg.Map.FitPadding,
		MaxZoom:  cfg.Map.MaxZoom,
		Summary:  summarize(fc, &bounds),
	}

	if box, ok := bounds.Bound(); ok {
		plan.Bounds = &[2][2]float64{
			{box.Min.Lon(), box.Min.Lat()},
			{box.Max.Lon(), box.Max.Lat()},
		}
	}

	return plan, nil
}

func summarize(fc *geojson.FeatureCollection, bounds *geo.Bounds) Summary {
	summary := Summary{
		Types:      make(map[string]int),
		Features:   len(fc.Features),
		Points:     bounds.Points(),
		DiagonalKm: math.Round(bounds.DiagonalMeters()/10) / 100,
	}

	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			summary.Types["null"]++
			continue
		}
		summary.Types[f.Geometry.GeoJSONType()]++
	}

	return summary
}

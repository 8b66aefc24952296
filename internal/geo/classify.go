package geo

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb/geojson"
)

// ErrUnsupportedGeometry is returned when no layer style fits the collection.
var ErrUnsupportedGeometry = errors.New("unsupported geometry")

// Style is the rendering category of a layer.
type Style string

const (
	PointStyle Style = "point-style"
	LineStyle  Style = "line-style"
	AreaStyle  Style = "area-style"
)

// StyleOf maps a geometry type to its layer style.
func StyleOf(t GeometryType) (Style, bool) {
	switch t {
	case Point, MultiPoint:
		return PointStyle, true
	case LineString, MultiLineString:
		return LineStyle, true
	case Polygon, MultiPolygon:
		return AreaStyle, true
	default:
		return "", false
	}
}

// Classify picks the layer style from the first feature of the collection.
// The rest of the collection is not inspected.
func Classify(fc *geojson.FeatureCollection) (Style, error) {
	if fc == nil || len(fc.Features) == 0 {
		return "", fmt.Errorf("%w: empty feature collection", ErrUnsupportedGeometry)
	}

	first := fc.Features[0]
	if first == nil || first.Geometry == nil {
		return "", fmt.Errorf("%w: first feature has no geometry", ErrUnsupportedGeometry)
	}

	tag := first.Geometry.GeoJSONType()
	style, ok := StyleOf(ParseGeometryType(tag))
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedGeometry, tag)
	}

	return style, nil
}

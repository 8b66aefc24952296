package shapefile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	shp "github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// LayerProperty names the property holding the source layer when an archive
// carries more than one shapefile.
const LayerProperty = "layer"

// readLayer appends the features of one layer to fc and returns how many were added.
func readLayer(ctx context.Context, layer layerFiles, tag string, fc *geojson.FeatureCollection) (count int, err error) {
	// go-shp indexes record slices straight from the headers and panics on truncated files
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: malformed shapefile: %v", ErrConversion, layer.name, r)
		}
	}()

	checkProjection(layer)

	reader, err := shp.Open(layer.shp)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %w", ErrConversion, layer.name, err)
	}
	defer func() { _ = reader.Close() }()

	var fields []shp.Field
	if layer.dbf != "" {
		fields = reader.Fields()
	}

	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return count, fmt.Errorf("convert %s: %w", layer.name, err)
		}

		_, shape := reader.Shape()
		geometry := toGeometry(shape)
		if geometry == nil {
			continue
		}

		feature := geojson.NewFeature(geometry)
		for i, field := range fields {
			feature.Properties[field.String()] = attributeValue(field, reader.Attribute(i))
		}
		if tag != "" {
			feature.Properties[LayerProperty] = tag
		}

		fc.Append(feature)
		count++
	}

	if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
		return count, fmt.Errorf("%w: read %s: %w", ErrConversion, layer.name, err)
	}

	return count, nil
}

// attributeValue types a raw DBF cell: numbers and logicals are decoded,
// blank numerics become null.
func attributeValue(field shp.Field, raw string) interface{} {
	value := strings.Trim(raw, " \x00")

	switch field.Fieldtype {
	case 'N', 'F':
		if value == "" {
			return nil
		}
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			return n
		}
	case 'L':
		switch strings.ToUpper(value) {
		case "T", "Y":
			return true
		case "F", "N":
			return false
		default:
			return nil
		}
	}

	return value
}

// toGeometry maps a shape to its GeoJSON geometry. Z and M values are dropped.
// Null and multipatch shapes yield nil.
func toGeometry(shape shp.Shape) orb.Geometry {
	switch s := shape.(type) {
	case *shp.Point:
		return orb.Point{s.X, s.Y}
	case *shp.PointZ:
		return orb.Point{s.X, s.Y}
	case *shp.PointM:
		return orb.Point{s.X, s.Y}
	case *shp.MultiPoint:
		return multiPoint(s.Points)
	case *shp.MultiPointZ:
		return multiPoint(s.Points)
	case *shp.MultiPointM:
		return multiPoint(s.Points)
	case *shp.PolyLine:
		return lines(s.Parts, s.Points)
	case *shp.PolyLineZ:
		return lines(s.Parts, s.Points)
	case *shp.PolyLineM:
		return lines(s.Parts, s.Points)
	case *shp.Polygon:
		return polygons(s.Parts, s.Points)
	case *shp.PolygonZ:
		return polygons(s.Parts, s.Points)
	case *shp.PolygonM:
		return polygons(s.Parts, s.Points)
	default:
		return nil
	}
}

func multiPoint(points []shp.Point) orb.MultiPoint {
	mp := make(orb.MultiPoint, len(points))
	for i, p := range points {
		mp[i] = orb.Point{p.X, p.Y}
	}
	return mp
}

// splitParts cuts the flat point array at the part offsets.
func splitParts(parts []int32, points []shp.Point) [][]orb.Point {
	result := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || end > int32(len(points)) {
			continue
		}

		part := make([]orb.Point, 0, end-start)
		for _, p := range points[start:end] {
			part = append(part, orb.Point{p.X, p.Y})
		}
		result = append(result, part)
	}
	return result
}

func lines(parts []int32, points []shp.Point) orb.Geometry {
	split := splitParts(parts, points)
	if len(split) == 1 {
		return orb.LineString(split[0])
	}

	mls := make(orb.MultiLineString, len(split))
	for i, part := range split {
		mls[i] = orb.LineString(part)
	}
	return mls
}

// polygons groups rings: every clockwise ring opens a polygon and each
// counter-clockwise ring becomes a hole of the smallest outer ring containing
// it, whatever the storage order. A hole no outer ring contains is kept as a
// polygon of its own. Rings are rewound to the GeoJSON right-hand rule.
func polygons(parts []int32, points []shp.Point) orb.Geometry {
	var (
		mp    orb.MultiPolygon
		holes []orb.Ring
	)

	for _, part := range splitParts(parts, points) {
		ring := orb.Ring(part)
		switch ring.Orientation() {
		case orb.CCW:
			holes = append(holes, ring)
			continue
		case orb.CW:
			orb.LineString(ring).Reverse()
		}
		mp = append(mp, orb.Polygon{ring})
	}

	for _, hole := range holes {
		i := containingRing(mp, hole)
		if i < 0 {
			// counter-clockwise is already the right-hand rule for an outer ring
			mp = append(mp, orb.Polygon{hole})
			continue
		}

		orb.LineString(hole).Reverse()
		mp[i] = append(mp[i], hole)
	}

	switch len(mp) {
	case 0:
		return orb.Polygon{}
	case 1:
		return mp[0]
	default:
		return mp
	}
}

// containingRing returns the index of the smallest outer ring enclosing hole, -1 if none does.
func containingRing(mp orb.MultiPolygon, hole orb.Ring) int {
	best, bestArea := -1, math.Inf(1)
	for i, poly := range mp {
		if !planar.RingContains(poly[0], hole[0]) {
			continue
		}
		if area := math.Abs(planar.Area(poly[0])); area < bestArea {
			best, bestArea = i, area
		}
	}

	return best
}

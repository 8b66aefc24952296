package geo

import (
	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const earthRadiusMeters = 6371000.0

// Bounds accumulates the smallest lng/lat rectangle enclosing every coordinate
// it was extended with. The zero value is empty and widens on each Extend.
type Bounds struct {
	bound  orb.Bound
	points int
}

// Extend widens the box to cover p.
func (b *Bounds) Extend(p orb.Point) {
	if b.points == 0 {
		b.bound = orb.Bound{Min: p, Max: p}
	} else {
		b.bound = b.bound.Extend(p)
	}
	b.points++
}

// ExtendGeometry walks the coordinate structure of g. Multi-line strings and
// polygons recurse into their members as line strings, multi-polygons recurse
// into their members as polygons. Other geometry kinds are ignored.
func (b *Bounds) ExtendGeometry(g orb.Geometry) {
	switch g := g.(type) {
	case orb.Point:
		b.Extend(g)
	case orb.MultiPoint:
		for _, p := range g {
			b.Extend(p)
		}
	case orb.LineString:
		for _, p := range g {
			b.Extend(p)
		}
	case orb.MultiLineString:
		for _, ls := range g {
			b.ExtendGeometry(ls)
		}
	case orb.Polygon:
		for _, ring := range g {
			b.ExtendGeometry(orb.LineString(ring))
		}
	case orb.MultiPolygon:
		for _, poly := range g {
			b.ExtendGeometry(poly)
		}
	}
}

// ExtendCollection extends the box with every feature geometry of fc.
func (b *Bounds) ExtendCollection(fc *geojson.FeatureCollection) {
	if fc == nil {
		return
	}

	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		b.ExtendGeometry(f.Geometry)
	}
}

// CollectionBounds returns the bounds of every feature in fc.
func CollectionBounds(fc *geojson.FeatureCollection) Bounds {
	var b Bounds
	b.ExtendCollection(fc)
	return b
}

// IsEmpty reports whether no coordinate was ever added.
// An empty box must not be used to fit a viewport.
func (b *Bounds) IsEmpty() bool {
	return b.points == 0
}

// Points returns how many coordinates were accumulated.
func (b *Bounds) Points() int {
	return b.points
}

// Bound returns the accumulated rectangle, false when empty.
func (b *Bounds) Bound() (orb.Bound, bool) {
	return b.bound, b.points > 0
}

// DiagonalMeters is the great-circle distance between the south-west and
// north-east corners.
func (b *Bounds) DiagonalMeters() float64 {
	if b.IsEmpty() {
		return 0
	}

	sw := s2.PointFromLatLng(s2.LatLngFromDegrees(b.bound.Min.Lat(), b.bound.Min.Lon()))
	ne := s2.PointFromLatLng(s2.LatLngFromDegrees(b.bound.Max.Lat(), b.bound.Max.Lon()))

	return sw.Distance(ne).Radians() * earthRadiusMeters
}

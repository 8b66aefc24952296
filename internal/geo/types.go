package geo

// GeometryType is one of the six GeoJSON geometry kinds a layer can be drawn from.
type GeometryType int

const (
	// Unsupported covers every type tag outside the closed set below,
	// including GeometryCollection and missing geometries.
	Unsupported GeometryType = iota
	Point
	MultiPoint
	LineString
	MultiLineString
	Polygon
	MultiPolygon
)

var geometryTypeNames = map[GeometryType]string{
	Point:           "Point",
	MultiPoint:      "MultiPoint",
	LineString:      "LineString",
	MultiLineString: "MultiLineString",
	Polygon:         "Polygon",
	MultiPolygon:    "MultiPolygon",
}

// ParseGeometryType matches the GeoJSON type tag exactly.
func ParseGeometryType(tag string) GeometryType {
	for t, name := range geometryTypeNames {
		if name == tag {
			return t
		}
	}

	return Unsupported
}

func (t GeometryType) String() string {
	if name, ok := geometryTypeNames[t]; ok {
		return name
	}

	return "Unsupported"
}

// Package geo handles GeoJSON data structures, geometry classification and bounds.
package geo

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"
)

const (
	// MediaType is the registered media type for GeoJSON documents (RFC 7946).
	MediaType = "application/geo+json"
	// Extension is appended to downloaded file names.
	Extension = ".geojson"

	fallbackName = "shapefile"
)

// Marshal serializes a feature collection to compact UTF-8 JSON.
func Marshal(fc *geojson.FeatureCollection) ([]byte, error) {
	if fc == nil {
		return nil, fmt.Errorf("marshal geojson: nil feature collection")
	}

	return json.Marshal(fc)
}

// Unmarshal parses a GeoJSON FeatureCollection document.
func Unmarshal(data []byte) (*geojson.FeatureCollection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal geojson: %w", err)
	}

	return fc, nil
}

// DownloadName derives the GeoJSON file name from the uploaded file name:
// the last extension is replaced with ".geojson", directories are dropped.
func DownloadName(name string) string {
	// browsers on windows may send the full client path
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == "/" {
		base = ""
	}

	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" {
		base = fallbackName
	}

	return base + Extension
}

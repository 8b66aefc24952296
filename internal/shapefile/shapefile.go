// Package shapefile converts ESRI shapefiles (bare .shp or zipped sets) to GeoJSON.
package shapefile

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
)

// ErrConversion wraps every failure caused by the uploaded content itself.
var ErrConversion = errors.New("conversion failure")

const (
	fileCode = 9994

	// DefaultMaxExtractSize bounds the uncompressed size of a zipped upload.
	DefaultMaxExtractSize int64 = 512 << 20
)

var zipMagic = []byte("PK\x03\x04")

// Converter turns uploaded bytes into a feature collection.
type Converter struct {
	// TempDir is where uploads are staged for the shapefile reader.
	// Empty means os.TempDir().
	TempDir string
	// MaxExtractSize caps the bytes extracted from a zip archive.
	MaxExtractSize int64
}

// New returns a converter with default limits.
func New(tempDir string) *Converter {
	return &Converter{
		TempDir:        tempDir,
		MaxExtractSize: DefaultMaxExtractSize,
	}
}

// Convert is a shortcut for a default Converter.
func Convert(ctx context.Context, name string, data []byte) (*geojson.FeatureCollection, error) {
	return New("").Convert(ctx, name, data)
}

// Convert detects the upload kind from its content and converts it.
// The name is only used for logging and to name a bare .shp layer.
func (c *Converter) Convert(ctx context.Context, name string, data []byte) (*geojson.FeatureCollection, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrConversion)
	}

	dir, err := os.MkdirTemp(c.TempDir, "shpmap-*")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Error().Err(err).Str("path", dir).Msg("Failed to remove staging dir")
		}
	}()

	var layers []layerFiles

	switch {
	case bytes.HasPrefix(data, zipMagic):
		layers, err = c.extractZip(data, dir)
	case isShp(data):
		layers, err = stageShp(name, data, dir)
	default:
		err = fmt.Errorf("%w: %s is neither a zip archive nor a .shp file", ErrConversion, name)
	}
	if err != nil {
		return nil, err
	}

	if len(layers) == 0 {
		return nil, fmt.Errorf("%w: no .shp file found in %s", ErrConversion, name)
	}

	fc := geojson.NewFeatureCollection()
	for _, layer := range layers {
		tag := ""
		if len(layers) > 1 {
			tag = layer.name
		}

		count, err := readLayer(ctx, layer, tag, fc)
		if err != nil {
			return nil, err
		}

		log.Debug().
			Str("file", name).
			Str("layer", layer.name).
			Int("features", count).
			Msg("Shapefile layer converted")
	}

	return fc, nil
}

// layerFiles are the staged sidecar files of one shapefile layer.
type layerFiles struct {
	name string
	shp  string
	dbf  string
	prj  string
}

func isShp(data []byte) bool {
	return len(data) >= 100 && binary.BigEndian.Uint32(data[:4]) == fileCode
}

func stageShp(name string, data []byte, dir string) ([]layerFiles, error) {
	base := layerName(name)
	path := filepath.Join(dir, base+".shp")

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("stage %s: %w", name, err)
	}

	return []layerFiles{{name: base, shp: path}}, nil
}

func layerName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == "/" {
		return "layer"
	}

	return base
}

// checkProjection warns about projected coordinate systems: coordinates are
// passed through untouched and will not be longitude/latitude.
func checkProjection(layer layerFiles) {
	if layer.prj == "" {
		return
	}

	wkt, err := os.ReadFile(layer.prj)
	if err != nil {
		log.Warn().Err(err).Str("layer", layer.name).Msg("Failed to read projection file")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(string(wkt))), "GEOGCS") {
		log.Warn().
			Str("layer", layer.name).
			Msg("Layer uses a projected coordinate system, coordinates are not reprojected")
	}
}

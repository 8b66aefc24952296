package shapefile

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

var sidecars = map[string]bool{
	".shp": true,
	".dbf": true,
	".prj": true,
}

// extractZip stages the shapefile members of the archive in dir and returns
// one layer per .shp member, in archive order.
func (c *Converter) extractZip(data []byte, dir string) ([]layerFiles, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: read zip: %w", ErrConversion, err)
	}

	limit := c.MaxExtractSize
	if limit <= 0 {
		limit = DefaultMaxExtractSize
	}

	var (
		order     []string
		layers    = make(map[string]*layerFiles)
		extracted int64
	)

	for i, member := range zr.File {
		if member.FileInfo().IsDir() || strings.HasPrefix(member.Name, "__MACOSX/") {
			continue
		}

		ext := strings.ToLower(path.Ext(member.Name))
		if !sidecars[ext] {
			continue
		}

		// members of one layer share the archive path without extension
		key := strings.TrimSuffix(member.Name, path.Ext(member.Name))
		layer, ok := layers[key]
		if !ok {
			layer = &layerFiles{name: path.Base(key)}
			layers[key] = layer
		}

		// staged names never come from the archive to keep them inside dir
		target := filepath.Join(dir, fmt.Sprintf("%d%s", i, ext))
		n, err := extractMember(member, target, limit-extracted)
		if err != nil {
			return nil, err
		}
		extracted += n

		switch ext {
		case ".shp":
			layer.shp = target
			order = append(order, key)
		case ".dbf":
			layer.dbf = target
		case ".prj":
			layer.prj = target
		}
	}

	result := make([]layerFiles, 0, len(order))
	for _, key := range order {
		layer := layers[key]
		if err := alignSidecars(layer); err != nil {
			return nil, err
		}
		result = append(result, *layer)
	}

	log.Trace().Int("layers", len(result)).Int64("bytes", extracted).Msg("Zip archive extracted")

	return result, nil
}

func extractMember(member *zip.File, target string, remaining int64) (int64, error) {
	rc, err := member.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %w", ErrConversion, member.Name, err)
	}
	defer func() { _ = rc.Close() }()

	out, err := os.Create(target)
	if err != nil {
		return 0, fmt.Errorf("stage %s: %w", member.Name, err)
	}
	defer func() { _ = out.Close() }()

	n, err := io.Copy(out, io.LimitReader(rc, remaining+1))
	if err != nil {
		return n, fmt.Errorf("%w: extract %s: %w", ErrConversion, member.Name, err)
	}
	if n > remaining {
		return n, fmt.Errorf("%w: %s exceeds the extraction limit", ErrConversion, member.Name)
	}

	return n, nil
}

// alignSidecars renames the staged .dbf next to the .shp, the reader looks
// for attributes by sharing the base name.
func alignSidecars(layer *layerFiles) error {
	if layer.dbf == "" {
		return nil
	}

	want := strings.TrimSuffix(layer.shp, ".shp") + ".dbf"
	if layer.dbf == want {
		return nil
	}

	if err := os.Rename(layer.dbf, want); err != nil {
		return fmt.Errorf("stage %s attributes: %w", layer.name, err)
	}
	layer.dbf = want

	return nil
}

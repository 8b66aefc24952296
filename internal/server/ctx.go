package server

import (
	"context"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/shpmap/assets"
	"github.com/woozymasta/shpmap/internal/cache"
	"github.com/woozymasta/shpmap/internal/config"
	"github.com/woozymasta/shpmap/internal/loader"
	"github.com/woozymasta/shpmap/internal/metrics"
	"github.com/woozymasta/shpmap/internal/shapefile"
)

// Converter turns uploaded bytes into a feature collection.
type Converter interface {
	Convert(ctx context.Context, name string, data []byte) (*geojson.FeatureCollection, error)
}

// ServerContext holds dependencies for request handlers.
type ServerContext struct {
	Config    *config.Config
	Converter Converter
	Tracker   *loader.Tracker
	Cache     *cache.Cache
	Metrics   *metrics.Metrics
	IndexHTML []byte
	Favicon   []byte
}

// NewServerContext wires the handlers dependencies. Cache and metrics may be nil.
func NewServerContext(cfg *config.Config, conversionCache *cache.Cache, m *metrics.Metrics) *ServerContext {
	converter := shapefile.New(cfg.Upload.TempDir)
	converter.MaxExtractSize = cfg.Upload.ExtractLimit

	log.Info().
		Int64("max_upload", cfg.Upload.MaxSize).
		Bool("cache", conversionCache != nil).
		Bool("metrics", m != nil).
		Msg("Server context initialized successfully")

	return &ServerContext{
		Config:    cfg,
		Converter: converter,
		Tracker:   loader.NewTracker(),
		Cache:     conversionCache,
		Metrics:   m,
		IndexHTML: assets.Index,
		Favicon:   assets.Favicon,
	}
}

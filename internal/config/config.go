// Package config handles configuration loading and shared data structures.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the root configuration file structure.
type Config struct {
	Attribution string `yaml:"attribution,omitempty" json:"attribution,omitempty"`
	Map         Map    `yaml:"map" json:"map"`
	Style       Style  `yaml:"style" json:"style"`
	Upload      Upload `yaml:"upload" json:"-"`
	Cache       Cache  `yaml:"cache" json:"-"`
}

// Map holds the initial viewport of the browser map.
type Map struct {
	StyleURL   string     `yaml:"style_url" json:"styleUrl"`
	Center     [2]float64 `yaml:"center" json:"center"` // [lng, lat]
	Zoom       float64    `yaml:"zoom" json:"zoom"`
	MaxZoom    float64    `yaml:"max_zoom,omitempty" json:"maxZoom,omitempty"` // fit bounds never zooms past it
	FitPadding int        `yaml:"fit_padding" json:"fitPadding"`               // pixels
}

// Style holds the paint options of the converted layer.
type Style struct {
	PointRadius      float64 `yaml:"point_radius" json:"pointRadius"`
	PointColor       string  `yaml:"point_color" json:"pointColor"`
	PointStrokeColor string  `yaml:"point_stroke_color" json:"pointStrokeColor"`
	PointStrokeWidth float64 `yaml:"point_stroke_width" json:"pointStrokeWidth"`
	LineWidth        float64 `yaml:"line_width" json:"lineWidth"`
	LineColor        string  `yaml:"line_color" json:"lineColor"`
	FillColor        string  `yaml:"fill_color" json:"fillColor"`
	FillOpacity      float64 `yaml:"fill_opacity" json:"fillOpacity"`
	FillOutlineColor string  `yaml:"fill_outline_color" json:"fillOutlineColor"`
}

// Upload limits what the server accepts.
type Upload struct {
	TempDir      string `yaml:"temp_dir,omitempty"`
	MaxSize      int64  `yaml:"max_size,omitempty"`      // bytes of the uploaded file
	ExtractLimit int64  `yaml:"extract_limit,omitempty"` // uncompressed bytes of a zip upload
}

// Cache configures the optional Redis conversion cache.
type Cache struct {
	RedisURL string        `yaml:"redis_url,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty"`
}

// Default returns the configuration used when no file is present.
// Center and fill opacity accept zero, so their defaults are only set here.
func Default() *Config {
	cfg := &Config{
		Map:   Map{Center: [2]float64{-3.7038, 40.4168}},
		Style: Style{FillOpacity: 0.5},
	}
	cfg.Normalize()
	return cfg
}

// Load reads and parses the YAML configuration file from the specified path
// on top of the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Debug().Str("path", path).Msg("Configuration file not found, using defaults")
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Normalize fills unset values with defaults. Zero is a valid center and
// fill opacity, so those are left alone.
func (c *Config) Normalize() {
	if c.Map.StyleURL == "" {
		c.Map.StyleURL = "https://demotiles.maplibre.org/style.json"
	}
	if c.Map.Zoom <= 0 {
		c.Map.Zoom = 5
	}
	if c.Map.FitPadding <= 0 {
		c.Map.FitPadding = 20
	}

	s := &c.Style
	if s.PointRadius <= 0 {
		s.PointRadius = 5
	}
	if s.PointColor == "" {
		s.PointColor = "#ff0000"
	}
	if s.PointStrokeColor == "" {
		s.PointStrokeColor = "#000000"
	}
	if s.PointStrokeWidth <= 0 {
		s.PointStrokeWidth = 1
	}
	if s.LineWidth <= 0 {
		s.LineWidth = 2
	}
	if s.LineColor == "" {
		s.LineColor = "#0000ff"
	}
	if s.FillColor == "" {
		s.FillColor = "#00ff00"
	}
	if s.FillOutlineColor == "" {
		s.FillOutlineColor = "#000000"
	}

	if c.Upload.MaxSize <= 0 {
		c.Upload.MaxSize = 64 << 20
	}
	if c.Upload.ExtractLimit <= 0 {
		c.Upload.ExtractLimit = 512 << 20
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 24 * time.Hour
	}
}

// Validate rejects values the map client cannot use.
func (c *Config) Validate() error {
	if c.Style.FillOpacity < 0 || c.Style.FillOpacity > 1 {
		return fmt.Errorf("style.fill_opacity must be within [0, 1], got %v", c.Style.FillOpacity)
	}

	for name, color := range map[string]string{
		"point_color":        c.Style.PointColor,
		"point_stroke_color": c.Style.PointStrokeColor,
		"line_color":         c.Style.LineColor,
		"fill_color":         c.Style.FillColor,
		"fill_outline_color": c.Style.FillOutlineColor,
	} {
		if _, err := ParseHexColor(color); err != nil {
			return fmt.Errorf("style.%s: %w", name, err)
		}
	}

	lng, lat := c.Map.Center[0], c.Map.Center[1]
	if lng < -180 || lng > 180 || lat < -90 || lat > 90 {
		return fmt.Errorf("map.center out of range: %v", c.Map.Center)
	}

	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"

	"github.com/woozymasta/shpmap/internal/config"
	"github.com/woozymasta/shpmap/internal/geo"
	"github.com/woozymasta/shpmap/internal/logger"
	"github.com/woozymasta/shpmap/internal/preview"
	"github.com/woozymasta/shpmap/internal/render"
	"github.com/woozymasta/shpmap/internal/shapefile"

	"github.com/jessevdk/go-flags"
	"github.com/paulmach/orb/geojson"
	"gopkg.in/yaml.v3"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	Input   string `short:"i" long:"in"      description:"Input shapefile (.shp or .zip)" required:"true"`
	Output  string `short:"o" long:"out"     description:"Output file path, '-' for stdout. Defaults to <input>.geojson"`
	Format  string `short:"f" long:"format"  description:"Output format" choice:"json" choice:"yaml" default:"json"`
	Preview string `short:"p" long:"preview" description:"Also write a WebP thumbnail to this path"`
	Size    int    `short:"s" long:"size"    description:"Thumbnail edge in pixels" default:"256"`
	Config  string `short:"c" long:"config"  description:"Configuration file providing the thumbnail style" default:"config.yaml"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	opts.Logger.Setup()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts Options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	data, err := os.ReadFile(opts.Input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	fc, err := shapefile.Convert(ctx, filepath.Base(opts.Input), data)
	if err != nil {
		return err
	}

	style, err := geo.Classify(fc)
	if err != nil {
		return err
	}

	outputData, err := encode(fc, opts.Format)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	output := opts.Output
	if output == "" {
		output = filepath.Join(filepath.Dir(opts.Input), geo.DownloadName(opts.Input))
		if opts.Format == "yaml" {
			output = output[:len(output)-len(geo.Extension)] + ".yaml"
		}
	}

	if output == "-" {
		if _, err := os.Stdout.Write(outputData); err != nil {
			return err
		}
	} else if err := os.WriteFile(output, outputData, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	if opts.Preview != "" {
		if err := writePreview(opts, fc); err != nil {
			return err
		}
	}

	printSummary(os.Stderr, fc, style, output)
	return nil
}

// encode renders the collection as GeoJSON or as its YAML equivalent.
func encode(fc *geojson.FeatureCollection, format string) ([]byte, error) {
	if format != "yaml" {
		return json.MarshalIndent(fc, "", "  ")
	}

	raw, err := geo.Marshal(fc)
	if err != nil {
		return nil, err
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	return yaml.Marshal(doc)
}

func writePreview(opts Options, fc *geojson.FeatureCollection) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	img, err := preview.Render(fc, cfg.Style, opts.Size)
	if err != nil {
		return fmt.Errorf("render preview: %w", err)
	}

	f, err := os.Create(opts.Preview)
	if err != nil {
		return err
	}

	if err := preview.EncodeWebP(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode preview: %w", err)
	}

	return f.Close()
}

func printSummary(w io.Writer, fc *geojson.FeatureCollection, style geo.Style, output string) {
	cfg := config.Default()
	plan, err := render.Build(output, fc, cfg)
	if err != nil {
		return
	}

	types := make([]string, 0, len(plan.Summary.Types))
	for t := range plan.Summary.Types {
		types = append(types, t)
	}
	sort.Strings(types)

	fmt.Fprintf(w, "Successfully converted %d features to %s (style: %s)\n", plan.Summary.Features, output, style)
	for _, t := range types {
		fmt.Fprintf(w, "  %-16s %d\n", t, plan.Summary.Types[t])
	}
	if plan.Bounds != nil {
		b := plan.Bounds
		fmt.Fprintf(w, "  bounds           [%g, %g] - [%g, %g], diagonal %.1f km\n", b[0][0], b[0][1], b[1][0], b[1][1], plan.Summary.DiagonalKm)
	}
}

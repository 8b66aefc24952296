// Package preview rasterizes a feature collection into a small thumbnail.
package preview

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"io"
	"math"

	"github.com/chai2010/webp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/woozymasta/shpmap/internal/config"
	"github.com/woozymasta/shpmap/internal/geo"
	"golang.org/x/image/vector"
)

// ErrEmpty is returned when the collection has no coordinate to draw.
var ErrEmpty = errors.New("nothing to draw")

const (
	// DefaultSize is the thumbnail edge in pixels.
	DefaultSize = 256
	// MaxSize caps requested thumbnail edges.
	MaxSize = 2048

	margin      = 8
	circleSteps = 16
)

var background = color.RGBA{R: 0xf4, G: 0xf4, B: 0xf0, A: 0xff}

// Render draws every feature of fc on a size x size image, framed on the
// collection bounds in web mercator.
func Render(fc *geojson.FeatureCollection, style config.Style, size int) (*image.RGBA, error) {
	if size <= 0 {
		size = DefaultSize
	}
	if size > MaxSize {
		size = MaxSize
	}

	bounds := geo.CollectionBounds(fc)
	box, ok := bounds.Bound()
	if !ok {
		return nil, ErrEmpty
	}

	c := newCanvas(size, box)
	draw.Draw(c.img, c.img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	p := newPalette(style)
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		c.geometry(f.Geometry, style, p)
	}

	return c.img, nil
}

// EncodeWebP writes img as a lossy WebP.
func EncodeWebP(w io.Writer, img image.Image) error {
	return webp.Encode(w, img, &webp.Options{Lossless: false, Quality: 85})
}

type palette struct {
	point, pointStroke, line, fill, outline color.Color
}

func newPalette(s config.Style) palette {
	parse := func(hex string, alpha float64) color.Color {
		c, err := config.ParseHexColor(hex)
		if err != nil {
			c = color.RGBA{A: 0xff}
		}
		return color.NRGBA{R: c.R, G: c.G, B: c.B, A: uint8(math.Round(alpha * 0xff))}
	}

	return palette{
		point:       parse(s.PointColor, 1),
		pointStroke: parse(s.PointStrokeColor, 1),
		line:        parse(s.LineColor, 1),
		fill:        parse(s.FillColor, s.FillOpacity),
		outline:     parse(s.FillOutlineColor, 1),
	}
}

type canvas struct {
	img  *image.RGBA
	z    *vector.Rasterizer
	proj projector
}

func newCanvas(size int, box orb.Bound) *canvas {
	return &canvas{
		img:  image.NewRGBA(image.Rect(0, 0, size, size)),
		z:    vector.NewRasterizer(size, size),
		proj: newProjector(box, size),
	}
}

func (c *canvas) geometry(g orb.Geometry, s config.Style, p palette) {
	switch g := g.(type) {
	case orb.Point:
		c.dot(g, s.PointRadius+s.PointStrokeWidth, p.pointStroke)
		c.dot(g, s.PointRadius, p.point)
	case orb.MultiPoint:
		for _, pt := range g {
			c.geometry(pt, s, p)
		}
	case orb.LineString:
		c.stroke(g, s.LineWidth, p.line)
	case orb.MultiLineString:
		for _, ls := range g {
			c.geometry(ls, s, p)
		}
	case orb.Polygon:
		c.fill(g, p.fill)
		for _, ring := range g {
			c.stroke(orb.LineString(ring), 1, p.outline)
		}
	case orb.MultiPolygon:
		for _, poly := range g {
			c.geometry(poly, s, p)
		}
	}
}

func (c *canvas) paint(col color.Color) {
	c.z.DrawOp = draw.Over
	c.z.Draw(c.img, c.img.Bounds(), image.NewUniform(col), image.Point{})
	c.z.Reset(c.img.Bounds().Dx(), c.img.Bounds().Dy())
}

// fill draws all rings as sub-paths of one shape so that holes wound in
// the opposite direction cancel out.
func (c *canvas) fill(poly orb.Polygon, col color.Color) {
	drawn := false
	for _, ring := range poly {
		if len(ring) < 3 {
			continue
		}

		x, y := c.proj.project(ring[0])
		c.z.MoveTo(x, y)
		for _, pt := range ring[1:] {
			x, y = c.proj.project(pt)
			c.z.LineTo(x, y)
		}
		c.z.ClosePath()
		drawn = true
	}

	if drawn {
		c.paint(col)
	}
}

// stroke approximates a line of the given pixel width with one quad per segment.
func (c *canvas) stroke(ls orb.LineString, width float64, col color.Color) {
	if len(ls) < 2 {
		return
	}

	half := float32(math.Max(width, 1) / 2)
	for i := 1; i < len(ls); i++ {
		ax, ay := c.proj.project(ls[i-1])
		bx, by := c.proj.project(ls[i])

		dx, dy := bx-ax, by-ay
		length := float32(math.Hypot(float64(dx), float64(dy)))
		if length == 0 {
			continue
		}
		nx, ny := -dy/length*half, dx/length*half

		c.z.MoveTo(ax+nx, ay+ny)
		c.z.LineTo(bx+nx, by+ny)
		c.z.LineTo(bx-nx, by-ny)
		c.z.LineTo(ax-nx, ay-ny)
		c.z.ClosePath()
	}

	c.paint(col)
}

func (c *canvas) dot(pt orb.Point, radius float64, col color.Color) {
	if radius <= 0 {
		return
	}

	cx, cy := c.proj.project(pt)
	r := float32(radius)
	for i := 0; i <= circleSteps; i++ {
		a := 2 * math.Pi * float64(i) / circleSteps
		x := cx + r*float32(math.Cos(a))
		y := cy + r*float32(math.Sin(a))
		if i == 0 {
			c.z.MoveTo(x, y)
		} else {
			c.z.LineTo(x, y)
		}
	}
	c.z.ClosePath()

	c.paint(col)
}

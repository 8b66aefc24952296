package preview

import (
	"math"

	"github.com/paulmach/orb"
)

// maxLat is the web mercator latitude limit.
const maxLat = 85.05112878

// projector maps lng/lat to pixels, fitting the box inside the image with
// a fixed margin and keeping the aspect ratio.
type projector struct {
	minX, maxY float64
	scale      float64
	offX, offY float64
}

func mercator(pt orb.Point) (x, y float64) {
	lat := math.Max(-maxLat, math.Min(maxLat, pt.Lat()))
	x = pt.Lon() * math.Pi / 180
	y = math.Log(math.Tan(math.Pi/4 + lat*math.Pi/360))
	return x, y
}

func newProjector(box orb.Bound, size int) projector {
	minX, minY := mercator(box.Min)
	maxX, maxY := mercator(box.Max)

	usable := float64(size - 2*margin)
	if usable <= 0 {
		usable = float64(size)
	}

	spanX, spanY := maxX-minX, maxY-minY
	scale := math.Inf(1)
	if spanX > 0 {
		scale = usable / spanX
	}
	if spanY > 0 {
		scale = math.Min(scale, usable/spanY)
	}
	if math.IsInf(scale, 1) {
		// a single location: any scale keeps it centered
		scale = 1
	}

	return projector{
		minX:  minX,
		maxY:  maxY,
		scale: scale,
		offX:  (float64(size) - spanX*scale) / 2,
		offY:  (float64(size) - spanY*scale) / 2,
	}
}

func (p projector) project(pt orb.Point) (float32, float32) {
	x, y := mercator(pt)
	return float32(p.offX + (x-p.minX)*p.scale), float32(p.offY + (p.maxY-y)*p.scale)
}

package bounds

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
)

const (
	tileSize = 256.0
	MinZoom  = 0.0
	MaxZoom  = 22.0
)

// Calculate returns the box spanned by the point features, or nil when there
// are none. Features without a point geometry are skipped.
//
// Each axis is widened with an if/else-if: a coordinate that is both below
// the current minimum and above the current maximum in the same step only
// moves the minimum. Callers rely on the existing output, so the quirk is
// kept.
func Calculate(features []*geojson.Feature) *orb.Bound {
	points := make([]orb.Point, 0, len(features))
	for _, f := range features {
		if f == nil {
			continue
		}
		if p, ok := f.Geometry.(orb.Point); ok {
			points = append(points, p)
		}
	}
	return FromPoints(points)
}

func FromPoints(points []orb.Point) *orb.Bound {
	if len(points) == 0 {
		return nil
	}
	first := points[0]
	b := orb.Bound{Min: first, Max: first}
	for _, p := range points {
		extend(&b, p)
	}
	return &b
}

func extend(b *orb.Bound, p orb.Point) {
	lon, lat := p[0], p[1]
	if lon < b.Min[0] {
		b.Min[0] = lon
	} else if lon > b.Max[0] {
		b.Max[0] = lon
	}
	if lat < b.Min[1] {
		b.Min[1] = lat
	} else if lat > b.Max[1] {
		b.Max[1] = lat
	}
}

type Viewport struct {
	Width  int
	Height int
}

// FitZoom returns the Web Mercator zoom at which b fits inside the viewport
// minus padding pixels on every side. Degenerate boxes yield MaxZoom.
func FitZoom(b orb.Bound, vp Viewport, padding int) float64 {
	w := float64(vp.Width - 2*padding)
	h := float64(vp.Height - 2*padding)
	if w <= 0 || h <= 0 {
		return MinZoom
	}

	m := project.Bound(b, project.WGS84.ToMercator)
	dx := m.Max[0] - m.Min[0]
	dy := m.Max[1] - m.Min[1]
	if dx <= 0 && dy <= 0 {
		return MaxZoom
	}

	world := 2 * math.Pi * orb.EarthRadius
	zoom := MaxZoom
	if dx > 0 {
		zoom = math.Min(zoom, math.Log2(w*world/(tileSize*dx)))
	}
	if dy > 0 {
		zoom = math.Min(zoom, math.Log2(h*world/(tileSize*dy)))
	}
	if math.IsNaN(zoom) || zoom < MinZoom {
		return MinZoom
	}
	return zoom
}

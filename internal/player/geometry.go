package player

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Bounds is [[minX,minY],[maxX,maxY]].
type Bounds [2][2]float64

// Center returns the midpoint of the box.
func (b Bounds) Center() [2]float64 {
	return [2]float64{(b[0][0] + b[1][0]) / 2, (b[0][1] + b[1][1]) / 2}
}

// BoundsOf folds every finite coordinate of every feature into a bounding
// box. It returns nil when the collection holds no finite coordinate.
func BoundsOf(fc *geojson.FeatureCollection) *Bounds {
	if fc == nil {
		return nil
	}
	var acc boundsFold
	for _, f := range fc.Features {
		if f != nil {
			acc.geometry(f.Geometry)
		}
	}
	if !acc.seen {
		return nil
	}
	return &Bounds{{acc.minX, acc.minY}, {acc.maxX, acc.maxY}}
}

type boundsFold struct {
	seen                   bool
	minX, minY, maxX, maxY float64
}

func (a *boundsFold) geometry(g orb.Geometry) {
	switch g := g.(type) {
	case orb.Point:
		a.point(g)
	case orb.MultiPoint:
		a.points(g)
	case orb.LineString:
		a.points(g)
	case orb.Ring:
		a.points(g)
	case orb.MultiLineString:
		for _, ls := range g {
			a.points(ls)
		}
	case orb.Polygon:
		for _, r := range g {
			a.points(r)
		}
	case orb.MultiPolygon:
		for _, p := range g {
			a.geometry(p)
		}
	case orb.Collection:
		for _, c := range g {
			a.geometry(c)
		}
	case orb.Bound:
		a.point(g.Min)
		a.point(g.Max)
	}
}

func (a *boundsFold) points(ps []orb.Point) {
	for _, p := range ps {
		a.point(p)
	}
}

func (a *boundsFold) point(p orb.Point) {
	x, y := p[0], p[1]
	if !isFinite(x) || !isFinite(y) {
		return
	}
	if !a.seen {
		a.minX, a.maxX, a.minY, a.maxY = x, x, y, y
		a.seen = true
		return
	}
	a.minX = min(a.minX, x)
	a.maxX = max(a.maxX, x)
	a.minY = min(a.minY, y)
	a.maxY = max(a.maxY, y)
}

// LineMidpoint returns the midpoint between the first and last coordinate.
// Interior vertices are ignored on purpose: marker and label placement depend
// on this exact approximation.
func LineMidpoint(coords []orb.Point) ([2]float64, bool) {
	if len(coords) < 2 {
		return [2]float64{}, false
	}
	first, last := coords[0], coords[len(coords)-1]
	return [2]float64{(first[0] + last[0]) / 2, (first[1] + last[1]) / 2}, true
}

// lineCoords returns the vertex sequence of a line geometry. Multi-lines are
// flattened in order. Other geometry kinds are not lines.
func lineCoords(g orb.Geometry) ([]orb.Point, bool) {
	switch g := g.(type) {
	case orb.LineString:
		return g, true
	case orb.MultiLineString:
		var out []orb.Point
		for _, ls := range g {
			out = append(out, ls...)
		}
		return out, true
	default:
		return nil, false
	}
}

// Package geometry holds the planar helpers for stall polygons and detection boxes
// coordinates are image pixels with y growing downward
package geometry

import (
	"errors"
	"math"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/r2"
)

// Polygon is a simple polygon; vertex order may be either winding
type Polygon []r2.Point

// Errors returned by Validate
var (
	ErrTooFewVertices = errors.New("polygon needs at least 3 vertices")
	ErrZeroArea       = errors.New("polygon has zero area")
	ErrNotFinite      = errors.New("polygon has a non finite coordinate")
)

// FromPairs builds a Polygon from [x,y] pairs
func FromPairs(pts [][2]float64) Polygon {
	p := make(Polygon, len(pts))
	for i, xy := range pts {
		p[i] = r2.Point{X: xy[0], Y: xy[1]}
	}
	return p
}

// Pairs returns the vertices as [x,y] pairs
func (p Polygon) Pairs() [][2]float64 {
	out := make([][2]float64, len(p))
	for i, v := range p {
		out[i] = [2]float64{v.X, v.Y}
	}
	return out
}

// Validate checks vertex count, finiteness and area
func (p Polygon) Validate() error {
	if len(p) < 3 {
		return ErrTooFewVertices
	}
	for _, v := range p {
		if math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsInf(v.X, 0) || math.IsInf(v.Y, 0) {
			return ErrNotFinite
		}
	}
	if p.Area() == 0 {
		return ErrZeroArea
	}
	return nil
}

// Area is the absolute shoelace area
func (p Polygon) Area() float64 {
	if len(p) < 3 {
		return 0
	}
	var s float64
	for i := range p {
		j := (i + 1) % len(p)
		s += p[i].Cross(p[j])
	}
	return math.Abs(s) / 2
}

// Bounds returns the axis aligned bounding rectangle
func (p Polygon) Bounds() r2.Rect {
	return r2.RectFromPoints(p...)
}

// Centroid is the vertex mean, used for label placement and lane ordering
func (p Polygon) Centroid() r2.Point {
	var c r2.Point
	if len(p) == 0 {
		return c
	}
	for _, v := range p {
		c = c.Add(v)
	}
	return c.Mul(1 / float64(len(p)))
}

// Equal reports vertex-wise equality
func (p Polygon) Equal(q Polygon) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// Contains reports whether pt is inside p (even-odd rule)
func (p Polygon) Contains(pt r2.Point) bool {
	in := false
	for i, j := 0, len(p)-1; i < len(p); j, i = i, i+1 {
		a, b := p[i], p[j]
		if (a.Y > pt.Y) != (b.Y > pt.Y) && pt.X < (b.X-a.X)*(pt.Y-a.Y)/(b.Y-a.Y)+a.X {
			in = !in
		}
	}
	return in
}

// Box builds a rectangle from corner coordinates in any order
func Box(x1, y1, x2, y2 float64) r2.Rect {
	return r2.RectFromPoints(r2.Point{X: x1, Y: y1}, r2.Point{X: x2, Y: y2})
}

// Footprint drops the top trimTop fraction of b, leaving the ground contact band
// trimTop is clamped to [0,1)
func Footprint(b r2.Rect, trimTop float64) r2.Rect {
	if b.IsEmpty() {
		return b
	}
	trimTop = math.Max(0, math.Min(trimTop, 0.999))
	top := b.Y.Lo + trimTop*b.Y.Length()
	return r2.Rect{X: b.X, Y: r1.Interval{Lo: top, Hi: b.Y.Hi}}
}

// ClipRect clips p against r (Sutherland-Hodgman); the result may be empty
func ClipRect(p Polygon, r r2.Rect) Polygon {
	if len(p) < 3 || r.IsEmpty() {
		return nil
	}
	type edge struct {
		inside func(r2.Point) bool
		cross  func(a, b r2.Point) r2.Point
	}
	atX := func(x float64) func(a, b r2.Point) r2.Point {
		return func(a, b r2.Point) r2.Point {
			t := (x - a.X) / (b.X - a.X)
			return r2.Point{X: x, Y: a.Y + t*(b.Y-a.Y)}
		}
	}
	atY := func(y float64) func(a, b r2.Point) r2.Point {
		return func(a, b r2.Point) r2.Point {
			t := (y - a.Y) / (b.Y - a.Y)
			return r2.Point{X: a.X + t*(b.X-a.X), Y: y}
		}
	}
	edges := [4]edge{
		{func(q r2.Point) bool { return q.X >= r.X.Lo }, atX(r.X.Lo)},
		{func(q r2.Point) bool { return q.X <= r.X.Hi }, atX(r.X.Hi)},
		{func(q r2.Point) bool { return q.Y >= r.Y.Lo }, atY(r.Y.Lo)},
		{func(q r2.Point) bool { return q.Y <= r.Y.Hi }, atY(r.Y.Hi)},
	}

	out := append(Polygon(nil), p...)
	for _, e := range edges {
		in := out
		out = make(Polygon, 0, len(in)+4)
		for i := range in {
			cur, prev := in[i], in[(i+len(in)-1)%len(in)]
			curIn, prevIn := e.inside(cur), e.inside(prev)
			switch {
			case curIn && prevIn:
				out = append(out, cur)
			case curIn && !prevIn:
				out = append(out, e.cross(prev, cur), cur)
			case !curIn && prevIn:
				out = append(out, e.cross(prev, cur))
			}
		}
		if len(out) == 0 {
			return nil
		}
	}
	return out
}

// OverlapRatio is area(p ∩ r) / area(p), in [0,1]
func OverlapRatio(p Polygon, r r2.Rect) float64 {
	a := p.Area()
	if a == 0 {
		return 0
	}
	ratio := ClipRect(p, r).Area() / a
	return math.Min(1, math.Max(0, ratio))
}

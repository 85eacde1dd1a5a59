// SPDX-License-Identifier: MIT

// Package geom provides the logical-point geometry types shared by the
// capture source, zoom controller, and screenshot path: points, sizes,
// and rectangles with top-left origin.
package geom

// Point is a 2-D coordinate in logical (CSS-equivalent) points.
type Point struct {
	X, Y float64
}

// Size is a width/height pair in logical points.
type Size struct {
	W, H float64
}

// Rect is an axis-aligned rectangle with top-left origin, in logical points.
type Rect struct {
	Origin Point
	Size   Size
}

// NewRect builds a Rect from raw coordinates.
func NewRect(x, y, w, h float64) Rect {
	return Rect{Origin: Point{X: x, Y: y}, Size: Size{W: w, H: h}}
}

func (r Rect) MinX() float64 { return r.Origin.X }
func (r Rect) MinY() float64 { return r.Origin.Y }
func (r Rect) MaxX() float64 { return r.Origin.X + r.Size.W }
func (r Rect) MaxY() float64 { return r.Origin.Y + r.Size.H }
func (r Rect) CenterX() float64 { return r.Origin.X + r.Size.W/2 }
func (r Rect) CenterY() float64 { return r.Origin.Y + r.Size.H/2 }
func (r Rect) Center() Point    { return Point{X: r.CenterX(), Y: r.CenterY()} }

// Contains reports whether other lies entirely within r.
func (r Rect) Contains(other Rect) bool {
	return other.MinX() >= r.MinX() && other.MaxX() <= r.MaxX() &&
		other.MinY() >= r.MinY() && other.MaxY() <= r.MaxY()
}

// ContainsPoint reports whether p lies within r (inclusive).
func (r Rect) ContainsPoint(p Point) bool {
	return p.X >= r.MinX() && p.X <= r.MaxX() && p.Y >= r.MinY() && p.Y <= r.MaxY()
}

// Shrink returns r inset by frac on each edge (frac=0.1 ⇒ a rect covering
// the central 80% on each axis... actually 1-2*frac of each dimension),
// used for the zoom controller's "10% margin per edge" hard guarantee.
func (r Rect) Shrink(frac float64) Rect {
	dw := r.Size.W * frac
	dh := r.Size.H * frac
	return Rect{
		Origin: Point{X: r.Origin.X + dw, Y: r.Origin.Y + dh},
		Size:   Size{W: r.Size.W - 2*dw, H: r.Size.H - 2*dh},
	}
}

// Clamp restricts v to [lo, hi], swapping the bounds if lo > hi.
func Clamp(v, lo, hi float64) float64 {
	if lo > hi {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampPoint restricts p to lie within r.
func ClampPoint(p Point, r Rect) Point {
	return Point{
		X: Clamp(p.X, r.MinX(), r.MaxX()),
		Y: Clamp(p.Y, r.MinY(), r.MaxY()),
	}
}

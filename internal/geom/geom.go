// Package geom holds the axis-aligned rectangle primitives used by the
// placement engine and the validity test every candidate goes through.
package geom

import (
	"fmt"
	"math"
)

// Box is an axis-aligned rectangle with X1 <= X2 and Y1 <= Y2.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// At returns the box of size w x h anchored at (x, y).
func At(x, y, w, h float64) Box {
	return Box{X1: x, Y1: y, X2: x + w, Y2: y + h}
}

func (b Box) Width() float64  { return b.X2 - b.X1 }
func (b Box) Height() float64 { return b.Y2 - b.Y1 }
func (b Box) Area() float64   { return b.Width() * b.Height() }

// Region is the placement boundary for one run.
type Region struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// Validate rejects empty or inverted regions.
func (r Region) Validate() error {
	if math.IsNaN(r.MinX) || math.IsNaN(r.MinY) || math.IsNaN(r.MaxX) || math.IsNaN(r.MaxY) {
		return fmt.Errorf("region has NaN bounds")
	}
	if !(r.MinX < r.MaxX) {
		return fmt.Errorf("region min_x %g must be < max_x %g", r.MinX, r.MaxX)
	}
	if !(r.MinY < r.MaxY) {
		return fmt.Errorf("region min_y %g must be < max_y %g", r.MinY, r.MaxY)
	}
	return nil
}

func (r Region) Width() float64  { return r.MaxX - r.MinX }
func (r Region) Height() float64 { return r.MaxY - r.MinY }

// Contains reports whether b lies inside r, edges included.
func (r Region) Contains(b Box) bool {
	return r.MinX <= b.X1 && b.X1 <= b.X2 && b.X2 <= r.MaxX &&
		r.MinY <= b.Y1 && b.Y1 <= b.Y2 && b.Y2 <= r.MaxY
}

// IntersectionArea is zero for boxes that only share an edge or a corner.
func IntersectionArea(a, b Box) float64 {
	w := math.Min(a.X2, b.X2) - math.Max(a.X1, b.X1)
	if w <= 0 {
		return 0
	}
	h := math.Min(a.Y2, b.Y2) - math.Max(a.Y1, b.Y1)
	if h <= 0 {
		return 0
	}
	return w * h
}

// Overlaps reports a strictly positive intersection area.
func Overlaps(a, b Box) bool {
	return IntersectionArea(a, b) > 0
}

// Valid reports whether box is inside region and overlaps neither an
// obstacle nor an already placed box. Flush contact is allowed.
func Valid(box Box, region Region, obstacles, placed []Box) bool {
	if !region.Contains(box) {
		return false
	}
	for _, o := range obstacles {
		if Overlaps(box, o) {
			return false
		}
	}
	for _, p := range placed {
		if Overlaps(box, p) {
			return false
		}
	}
	return true
}

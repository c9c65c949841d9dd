package placement

import (
	"context"
	"math"

	"stallplan/internal/geom"
)

// DefaultGridStep is the scanner increment in hall units.
const DefaultGridStep = 0.5

// DefaultGridBudget caps boxes examined by the scheduler's grid stage per
// unit. A 1000x1000 hall at the default step is about four million boxes.
const DefaultGridBudget = 1 << 20

// tolerance absorbs float error when the last grid line lands on the
// upper bound (e.g. 9.5 + 0.5 == 10 computed as 9.999999...).
const tolerance = 1e-9

// gridLines is the number of positions lo, lo+step, ... <= hi.
func gridLines(lo, hi, step float64) int {
	if step <= 0 || hi < lo-tolerance {
		return 0
	}
	return int(math.Floor((hi-lo)/step+tolerance)) + 1
}

// GridIterations is the number of boxes on the grid, saturating at
// math.MaxInt. A scan cursor that reaches it has seen every box.
func GridIterations(spec CategorySpec, region geom.Region, step float64) int {
	nx := gridSpan(region.MinX, region.MaxX-spec.Width, step)
	ny := gridSpan(region.MinY, region.MaxY-spec.Height, step)
	if n := nx * ny; n < math.MaxInt {
		return int(n)
	}
	return math.MaxInt
}

// gridSpan is gridLines in float64 so huge regions cannot overflow.
func gridSpan(lo, hi, step float64) float64 {
	if step <= 0 || hi < lo-tolerance {
		return 0
	}
	return math.Floor((hi-lo)/step+tolerance) + 1
}

// ScanFrom walks the region on a fixed step, x outer and y inner, from grid
// index start and returns the first valid box. budget caps the number of
// boxes examined (0 means no cap); ctx is checked once per column.
//
// next is the first index not yet rejected: resuming from it returns the
// same box as a scan from 0 as long as placed has only grown since. next
// reaching GridIterations means the grid holds no valid box.
func ScanFrom(ctx context.Context, spec CategorySpec, region geom.Region, obstacles, placed []geom.Box, step float64, budget, start int) (box geom.Box, next int, ok bool) {
	maxX := region.MaxX - spec.Width
	maxY := region.MaxY - spec.Height
	nx := gridLines(region.MinX, maxX, step)
	ny := gridLines(region.MinY, maxY, step)
	total := GridIterations(spec, region, step)
	if ny == 0 || start >= total {
		return geom.Box{}, total, false
	}
	examined := 0
	for i := start / ny; i < nx; i++ {
		j := 0
		if i == start/ny {
			j = start % ny
		}
		if ctx.Err() != nil {
			return geom.Box{}, i*ny + j, false
		}
		x := math.Min(region.MinX+float64(i)*step, maxX)
		for ; j < ny; j++ {
			if budget > 0 && examined >= budget {
				return geom.Box{}, i*ny + j, false
			}
			examined++
			y := math.Min(region.MinY+float64(j)*step, maxY)
			cand := geom.At(x, y, spec.Width, spec.Height)
			if geom.Valid(cand, region, obstacles, placed) {
				return cand, i*ny + j + 1, true
			}
		}
	}
	return geom.Box{}, total, false
}

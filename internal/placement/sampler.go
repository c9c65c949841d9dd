package placement

import (
	"math/rand/v2"

	"stallplan/internal/geom"
)

// DefaultMaxAttempts bounds the random sampler per unit.
const DefaultMaxAttempts = 10000

// NewRand returns a deterministic generator for seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Sample draws up to maxAttempts uniform positions for spec's footprint and
// returns the first valid box. It fails immediately when the footprint does
// not fit the region.
func Sample(spec CategorySpec, region geom.Region, obstacles, placed []geom.Box, rng *rand.Rand, maxAttempts int) (geom.Box, bool) {
	if rng == nil || maxAttempts <= 0 {
		return geom.Box{}, false
	}
	spanX := region.MaxX - spec.Width - region.MinX
	spanY := region.MaxY - spec.Height - region.MinY
	if spanX < 0 || spanY < 0 {
		return geom.Box{}, false
	}
	for i := 0; i < maxAttempts; i++ {
		x := region.MinX + rng.Float64()*spanX
		y := region.MinY + rng.Float64()*spanY
		box := geom.At(x, y, spec.Width, spec.Height)
		if geom.Valid(box, region, obstacles, placed) {
			return box, true
		}
	}
	return geom.Box{}, false
}

package placement

import "stallplan/internal/geom"

// Adapter turns the oracle's normalized candidates into hall-space boxes.
//
// Candidates are examined in their original order. The adapter remembers,
// per category, how far it has scanned: the placed set only grows during a
// run, so a candidate that was committed or rejected can never become valid
// later and is not validated again.
type Adapter struct {
	candidates []Candidate
	region     geom.Region
	next       map[int]int
}

func NewAdapter(candidates []Candidate, region geom.Region) *Adapter {
	return &Adapter{candidates: candidates, region: region, next: map[int]int{}}
}

// Denormalize maps a candidate to the box of the given category footprint.
func Denormalize(c Candidate, region geom.Region, spec CategorySpec) geom.Box {
	x := region.MinX + c.NormX*region.Width()
	y := region.MinY + c.NormY*region.Height()
	return geom.At(x, y, spec.Width, spec.Height)
}

// Next returns the first remaining valid candidate box for spec.
func (a *Adapter) Next(spec CategorySpec, obstacles, placed []geom.Box) (geom.Box, bool) {
	for i := a.next[spec.ID]; i < len(a.candidates); i++ {
		c := a.candidates[i]
		if c.CategoryID != spec.ID {
			continue
		}
		box := Denormalize(c, a.region, spec)
		if geom.Valid(box, a.region, obstacles, placed) {
			a.next[spec.ID] = i + 1
			return box, true
		}
	}
	a.next[spec.ID] = len(a.candidates)
	return geom.Box{}, false
}

package floorplan

import (
	"math"
	"math/big"

	"github.com/google/uuid"

	"stallplan/internal/geom"
	"stallplan/internal/placement"
)

// Units converts editor coordinates to hall units: divide by Scale and
// round to Precision decimals.
type Units struct {
	Scale     float64 `yaml:"scale" json:"scale"`
	Precision int     `yaml:"precision" json:"precision"`
}

func DefaultUnits() Units { return Units{Scale: 4, Precision: 2} }

func (u Units) ToHall(v float64) float64 {
	p := math.Pow10(u.Precision)
	return math.Round(v/u.Scale*p) / p
}

func (u Units) ToDocument(v float64) float64 { return v * u.Scale }

// Hall is a document in hall units.
type Hall struct {
	Region    geom.Region
	Obstacles []geom.Box
}

// Hall converts doc into the placement region and its obstacles. Every
// shape is an obstacle. Shapes drawn with negative extents are normalised.
func (u Units) Hall(doc Document) Hall {
	h := Hall{
		Region: geom.Region{
			MaxX: u.ToHall(doc.HallArea.Width),
			MaxY: u.ToHall(doc.HallArea.Height),
		},
		Obstacles: make([]geom.Box, 0, len(doc.Shapes)),
	}
	for _, s := range doc.Shapes {
		x1, y1 := u.ToHall(s.X), u.ToHall(s.Y)
		x2, y2 := x1+u.ToHall(s.Width), y1+u.ToHall(s.Height)
		h.Obstacles = append(h.Obstacles, geom.Box{
			X1: math.Min(x1, x2), Y1: math.Min(y1, y2),
			X2: math.Max(x1, x2), Y2: math.Max(y1, y2),
		})
	}
	return h
}

// NewShapeID returns the first 13 decimal digits of a random UUID read as
// an unsigned integer.
func NewShapeID() string {
	u := uuid.New()
	s := new(big.Int).SetBytes(u[:]).String()
	if len(s) > 13 {
		s = s[:13]
	}
	return s
}

// Merge returns a copy of doc with one rectangle appended per placed stall.
// Positions and sizes are written back in editor units. newID defaults to
// NewShapeID.
func (u Units) Merge(doc Document, stalls []placement.PlacedStall, tiers []Tier, newID func() string) Document {
	if newID == nil {
		newID = NewShapeID
	}
	out := doc.Clone()
	for _, st := range stalls {
		out.Shapes = append(out.Shapes, Shape{
			ID:       newID(),
			Type:     "rectangle",
			X:        u.ToDocument(st.Box.X1),
			Y:        u.ToDocument(st.Box.Y1),
			Width:    u.ToDocument(st.Box.Width()),
			Height:   u.ToDocument(st.Box.Height()),
			Points:   []float64{},
			Category: "stall",
			Tier:     tierName(tiers, st.CategoryID),
		})
	}
	return out
}

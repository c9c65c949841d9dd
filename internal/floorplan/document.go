// Package floorplan converts between the floor-plan documents exchanged
// with the web editor and the hall space the placement engine works in.
//
// A document carries the hall size and every drawn shape in editor units.
// All shapes are obstacles. Placed stalls are appended as rectangles tagged
// with their tier; the original shapes are written back untouched.
package floorplan

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidDocument wraps every decoding or validation failure.
var ErrInvalidDocument = errors.New("invalid floor plan")

type HallArea struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Shape is one drawn element. Shapes decoded from a document keep their
// original fields and are re-encoded as they came in.
type Shape struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Width    float64   `json:"width"`
	Height   float64   `json:"height"`
	Points   []float64 `json:"points"`
	Category string    `json:"category,omitempty"`
	Tier     string    `json:"tier,omitempty"`

	raw map[string]json.RawMessage
}

type plainShape Shape

func (s *Shape) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return errors.New("shape must be an object")
	}
	for key, dst := range map[string]*float64{"x": &s.X, "y": &s.Y, "width": &s.Width, "height": &s.Height} {
		v, ok := raw[key]
		if !ok {
			return fmt.Errorf("shape missing %q", key)
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("shape %q: %w", key, err)
		}
	}
	for key, dst := range map[string]*string{"id": &s.ID, "type": &s.Type, "category": &s.Category, "tier": &s.Tier} {
		if v, ok := raw[key]; ok {
			// non-string ids are kept only in raw
			_ = json.Unmarshal(v, dst)
		}
	}
	s.raw = raw
	return nil
}

func (s Shape) MarshalJSON() ([]byte, error) {
	if s.raw != nil {
		return json.Marshal(s.raw)
	}
	p := plainShape(s)
	if p.Points == nil {
		p.Points = []float64{}
	}
	return json.Marshal(p)
}

// Document is the editor's floor plan.
type Document struct {
	HallArea HallArea `json:"hallArea"`
	Shapes   []Shape  `json:"shapes"`
}

// ParseDocument decodes and validates a floor plan.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (d Document) Validate() error {
	w, h := d.HallArea.Width, d.HallArea.Height
	if !(w > 0) || !(h > 0) || math.IsInf(w, 0) || math.IsInf(h, 0) {
		return fmt.Errorf("%w: hallArea must have positive width and height, got %gx%g", ErrInvalidDocument, w, h)
	}
	return nil
}

// Clone copies the shape slice so merging never aliases the caller's
// document.
func (d Document) Clone() Document {
	out := Document{HallArea: d.HallArea, Shapes: make([]Shape, len(d.Shapes))}
	copy(out.Shapes, d.Shapes)
	return out
}

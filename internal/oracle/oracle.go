// Package oracle provides the predictive stage of the placement pipeline.
//
// An Oracle is called once per run with the feature vector of the requested
// tiers and answers with an ordered list of normalized candidate positions.
// The placement engine treats the list as opaque suggestions.
package oracle

import (
	"context"

	"stallplan/internal/placement"
)

type Oracle interface {
	Predict(ctx context.Context, features []float64) ([]placement.Candidate, error)
}

// Func adapts a plain function to Oracle.
type Func func(ctx context.Context, features []float64) ([]placement.Candidate, error)

func (f Func) Predict(ctx context.Context, features []float64) ([]placement.Candidate, error) {
	return f(ctx, features)
}

// None never suggests anything; every unit falls through to sampling.
type None struct{}

func (None) Predict(context.Context, []float64) ([]placement.Candidate, error) {
	return nil, nil
}

// Features concatenates (count, width, height) for each category in the
// given order. The order must match the one the model was trained on.
func Features(categories []placement.CategorySpec) []float64 {
	out := make([]float64, 0, 3*len(categories))
	for _, c := range categories {
		out = append(out, float64(c.Required), c.Width, c.Height)
	}
	return out
}

// Decode turns per-slot predictions into candidates, keeping slot order.
// Class 0 is the empty slot. Slots without at least an (x, y) pair are
// skipped.
func Decode(classes []int, coords [][]float64) []placement.Candidate {
	n := len(classes)
	if len(coords) < n {
		n = len(coords)
	}
	out := make([]placement.Candidate, 0, n)
	for i := 0; i < n; i++ {
		if classes[i] <= 0 || len(coords[i]) < 2 {
			continue
		}
		out = append(out, placement.Candidate{
			CategoryID: classes[i],
			NormX:      coords[i][0],
			NormY:      coords[i][1],
		})
	}
	return out
}

package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"stallplan/internal/placement"
)

// Static replays a fixed candidate list regardless of the features.
type Static struct {
	Candidates []placement.Candidate
}

func (s Static) Predict(context.Context, []float64) ([]placement.Candidate, error) {
	out := make([]placement.Candidate, len(s.Candidates))
	copy(out, s.Candidates)
	return out, nil
}

// LoadStatic reads a JSON array of candidates.
func LoadStatic(path string) (Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Static{}, err
	}
	var cands []placement.Candidate
	if err := json.Unmarshal(data, &cands); err != nil {
		return Static{}, fmt.Errorf("decode candidates %s: %w", path, err)
	}
	return Static{Candidates: cands}, nil
}

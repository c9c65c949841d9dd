package floorplan

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"stallplan/internal/placement"
)

// Tier maps a stall category to the labels used by the editor. Label keys
// the user inputs ("Platinum"); Name tags generated shapes ("platinum").
type Tier struct {
	ID    int    `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
	Name  string `yaml:"name" json:"name"`
}

// DefaultTiers are the four sponsorship tiers, highest first.
func DefaultTiers() []Tier {
	return []Tier{
		{ID: 1, Label: "Platinum", Name: "platinum"},
		{ID: 2, Label: "Gold", Name: "gold"},
		{ID: 3, Label: "Silver", Name: "silver"},
		{ID: 4, Label: "Bronze", Name: "bronze"},
	}
}

// TierInput is what the user asks for in one tier, in hall units.
type TierInput struct {
	Count  int     `json:"count" minimum:"0" maximum:"1000000"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Inputs is keyed by tier label.
type Inputs map[string]TierInput

// ParseInputs decodes the userInputs form value.
func ParseInputs(data []byte) (Inputs, error) {
	var in Inputs
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: user inputs: %v", ErrInvalidDocument, err)
	}
	return in, nil
}

// Categories returns one spec per tier in tier order, which is also the
// order of the oracle feature vector. Tiers missing from in are zero.
// Labels that match no tier are rejected.
func Categories(tiers []Tier, in Inputs) ([]placement.CategorySpec, error) {
	known := make(map[string]bool, len(tiers))
	for _, t := range tiers {
		known[t.Label] = true
	}
	var unknown []string
	for label := range in {
		if !known[label] {
			unknown = append(unknown, label)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: unknown tier %s", ErrInvalidDocument, strings.Join(unknown, ", "))
	}
	out := make([]placement.CategorySpec, 0, len(tiers))
	for _, t := range tiers {
		ti := in[t.Label]
		out = append(out, placement.CategorySpec{
			ID:       t.ID,
			Label:    t.Label,
			Width:    ti.Width,
			Height:   ti.Height,
			Required: ti.Count,
		})
	}
	return out, nil
}

// Schedulable drops tiers the user left out entirely (no count, no size).
// Everything else goes to the scheduler, which validates it.
func Schedulable(categories []placement.CategorySpec) []placement.CategorySpec {
	out := make([]placement.CategorySpec, 0, len(categories))
	for _, c := range categories {
		if c.Required == 0 && c.Width == 0 && c.Height == 0 {
			continue
		}
		out = append(out, c)
	}
	return out
}

func tierName(tiers []Tier, id int) string {
	for _, t := range tiers {
		if t.ID == id {
			return t.Name
		}
	}
	return "unknown"
}

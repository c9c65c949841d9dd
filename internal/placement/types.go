// Package placement assigns non-overlapping boxes to categorized stalls
// inside a region with fixed obstacles.
//
// Each required unit goes through a fallback chain: the oracle adapter
// (predicted positions), the random sampler, then the grid scanner. The
// first box that passes geom.Valid is committed and never moved again.
// Units that exhaust all three stages are recorded as failures; a run
// never errors because space ran out.
package placement

import (
	"fmt"
	"math"

	"stallplan/internal/geom"
)

// Stage names the strategy that produced a placement.
type Stage string

const (
	StageOracle  Stage = "oracle"
	StageSampler Stage = "sampler"
	StageGrid    Stage = "grid"
)

// CategorySpec describes one stall category (a pricing tier in the
// reference domain).
type CategorySpec struct {
	ID       int     `json:"id"`
	Label    string  `json:"label,omitempty"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Required int     `json:"required"`
}

// Area is the footprint used to order categories.
func (c CategorySpec) Area() float64 { return c.Width * c.Height }

func (c CategorySpec) Validate() error {
	if !(c.Width > 0) || math.IsInf(c.Width, 0) {
		return &ConfigError{Field: fmt.Sprintf("category %d width", c.ID), Message: fmt.Sprintf("must be > 0, got %g", c.Width)}
	}
	if !(c.Height > 0) || math.IsInf(c.Height, 0) {
		return &ConfigError{Field: fmt.Sprintf("category %d height", c.ID), Message: fmt.Sprintf("must be > 0, got %g", c.Height)}
	}
	if c.Required < 0 {
		return &ConfigError{Field: fmt.Sprintf("category %d required", c.ID), Message: fmt.Sprintf("must be >= 0, got %d", c.Required)}
	}
	return nil
}

// Candidate is one oracle suggestion in normalized region coordinates.
// Values outside [0,1] are allowed and simply fail validation.
type Candidate struct {
	CategoryID int     `json:"category_id"`
	NormX      float64 `json:"norm_x"`
	NormY      float64 `json:"norm_y"`
}

// PlacedStall is a committed placement.
type PlacedStall struct {
	Box        geom.Box `json:"box"`
	CategoryID int      `json:"category_id"`
	Stage      Stage    `json:"stage"`
}

// Fulfillment compares placed against required units for one category.
type Fulfillment struct {
	CategoryID int    `json:"category_id"`
	Label      string `json:"label,omitempty"`
	Required   int    `json:"required"`
	Placed     int    `json:"placed"`
}

func (f Fulfillment) Complete() bool { return f.Placed >= f.Required }

// Failure records a unit that no stage could place. Unit is zero-based
// within its category.
type Failure struct {
	CategoryID int `json:"category_id"`
	Unit       int `json:"unit"`
}

// Result of one scheduling run. Fulfillment is in scheduling order.
type Result struct {
	Stalls      []PlacedStall `json:"stalls"`
	Fulfillment []Fulfillment `json:"fulfillment"`
	Failures    []Failure     `json:"failures,omitempty"`
}

// Complete reports whether every required unit was placed.
func (r Result) Complete() bool {
	for _, f := range r.Fulfillment {
		if !f.Complete() {
			return false
		}
	}
	return true
}

// Placed returns the number of stalls placed for a category.
func (r Result) Placed(categoryID int) int {
	for _, f := range r.Fulfillment {
		if f.CategoryID == categoryID {
			return f.Placed
		}
	}
	return 0
}

// ConfigError rejects a run before any placement attempt.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

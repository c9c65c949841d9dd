package placement

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"stallplan/internal/geom"
)

// DefaultMaxStalls caps the total number of units one run may require.
const DefaultMaxStalls = 10000

// Options tune one scheduling run. Zero values select the defaults.
type Options struct {
	// MaxAttempts bounds the random sampler per unit.
	MaxAttempts int
	// GridStep is the grid scanner increment.
	GridStep float64
	// GridBudget caps boxes examined by the grid scanner per unit; 0 selects
	// DefaultGridBudget.
	GridBudget int
	// MaxStalls caps the total number of required units in one run; 0
	// selects DefaultMaxStalls.
	MaxStalls int
	// Rand drives the sampler. Nil seeds a generator from the clock.
	Rand *rand.Rand

	DisableOracle  bool
	DisableSampler bool
	DisableGrid    bool
}

func (o Options) withDefaults() (Options, error) {
	if o.MaxAttempts < 0 {
		return o, &ConfigError{Field: "max_attempts", Message: fmt.Sprintf("must be >= 0, got %d", o.MaxAttempts)}
	}
	if o.GridStep < 0 {
		return o, &ConfigError{Field: "grid_step", Message: fmt.Sprintf("must be > 0, got %g", o.GridStep)}
	}
	if o.GridBudget < 0 {
		return o, &ConfigError{Field: "grid_budget", Message: fmt.Sprintf("must be >= 0, got %d", o.GridBudget)}
	}
	if o.MaxStalls < 0 {
		return o, &ConfigError{Field: "max_stalls", Message: fmt.Sprintf("must be >= 0, got %d", o.MaxStalls)}
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.GridStep == 0 {
		o.GridStep = DefaultGridStep
	}
	if o.GridBudget == 0 {
		o.GridBudget = DefaultGridBudget
	}
	if o.MaxStalls == 0 {
		o.MaxStalls = DefaultMaxStalls
	}
	if o.Rand == nil {
		o.Rand = NewRand(uint64(time.Now().UnixNano()))
	}
	return o, nil
}

// CheckTotal rejects runs that require more than limit units in total.
// limit <= 0 selects DefaultMaxStalls.
func CheckTotal(categories []CategorySpec, limit int) error {
	if limit <= 0 {
		limit = DefaultMaxStalls
	}
	total := 0
	for _, c := range categories {
		if c.Required > limit-total {
			return &ConfigError{Field: "required", Message: fmt.Sprintf("more than %d stalls requested", limit)}
		}
		total += c.Required
	}
	return nil
}

// Scheduler runs the fallback chain for every required unit.
type Scheduler struct {
	Options Options
	Logger  *log.Logger
}

func New(opts Options) *Scheduler {
	return &Scheduler{Options: opts}
}

// Order sorts categories by footprint area, largest first. Ties keep their
// input order.
func Order(categories []CategorySpec) []CategorySpec {
	sorted := make([]CategorySpec, len(categories))
	copy(sorted, categories)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Area() > sorted[j].Area()
	})
	return sorted
}

// Validate checks the inputs of a run without placing anything.
func Validate(categories []CategorySpec, region geom.Region) error {
	if err := region.Validate(); err != nil {
		return &ConfigError{Field: "region", Message: err.Error()}
	}
	seen := make(map[int]bool, len(categories))
	for _, c := range categories {
		if err := c.Validate(); err != nil {
			return err
		}
		if seen[c.ID] {
			return &ConfigError{Field: "category id", Message: fmt.Sprintf("duplicate id %d", c.ID)}
		}
		seen[c.ID] = true
	}
	return nil
}

// Place schedules every required unit. It returns a *ConfigError before any
// attempt when the inputs are invalid, and the partial result together with
// ctx.Err() when the context ends mid-run. Running out of space is never an
// error: inspect Result.Fulfillment.
func (s *Scheduler) Place(ctx context.Context, categories []CategorySpec, region geom.Region, obstacles []geom.Box, candidates []Candidate) (Result, error) {
	if err := Validate(categories, region); err != nil {
		return Result{}, err
	}
	opts, err := s.Options.withDefaults()
	if err != nil {
		return Result{}, err
	}
	if err := CheckTotal(categories, opts.MaxStalls); err != nil {
		return Result{}, err
	}
	sorted := Order(categories)

	res := Result{Fulfillment: make([]Fulfillment, len(sorted))}
	for i, c := range sorted {
		res.Fulfillment[i] = Fulfillment{CategoryID: c.ID, Label: c.Label, Required: c.Required}
	}
	var placed []geom.Box
	adapter := NewAdapter(candidates, region)

	for i, c := range sorted {
		// Rejected grid positions stay rejected because placed only grows, so
		// each unit resumes the scan where the previous one stopped. Once the
		// whole grid is spent the rest of the category is recorded as failed.
		cells := GridIterations(c, region, opts.GridStep)
		cursor := 0
		for unit := 0; unit < c.Required; unit++ {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			box, stage, ok := s.placeUnit(ctx, opts, adapter, c, region, obstacles, placed, &cursor)
			if !ok {
				res.Failures = append(res.Failures, Failure{CategoryID: c.ID, Unit: unit})
				s.debugf("category %d unit %d: no valid position", c.ID, unit)
				if !opts.DisableGrid && cursor >= cells && ctx.Err() == nil {
					for rest := unit + 1; rest < c.Required; rest++ {
						res.Failures = append(res.Failures, Failure{CategoryID: c.ID, Unit: rest})
					}
					s.debugf("category %d: grid exhausted, skipping %d units", c.ID, c.Required-unit-1)
					break
				}
				continue
			}
			placed = append(placed, box)
			res.Stalls = append(res.Stalls, PlacedStall{Box: box, CategoryID: c.ID, Stage: stage})
			res.Fulfillment[i].Placed++
			s.debugf("category %d unit %d: placed via %s at (%.2f, %.2f)", c.ID, unit, stage, box.X1, box.Y1)
		}
	}
	return res, nil
}

func (s *Scheduler) placeUnit(ctx context.Context, opts Options, adapter *Adapter, c CategorySpec, region geom.Region, obstacles, placed []geom.Box, cursor *int) (geom.Box, Stage, bool) {
	if !opts.DisableOracle {
		if box, ok := adapter.Next(c, obstacles, placed); ok {
			return box, StageOracle, true
		}
	}
	if !opts.DisableSampler {
		if box, ok := Sample(c, region, obstacles, placed, opts.Rand, opts.MaxAttempts); ok {
			return box, StageSampler, true
		}
	}
	if !opts.DisableGrid {
		box, next, ok := ScanFrom(ctx, c, region, obstacles, placed, opts.GridStep, opts.GridBudget, *cursor)
		*cursor = next
		if ok {
			return box, StageGrid, true
		}
	}
	return geom.Box{}, "", false
}

func (s *Scheduler) debugf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Debugf(format, args...)
	}
}

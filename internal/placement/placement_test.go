package placement

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stallplan/internal/geom"
)

var hall = geom.Region{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}

func gridOnly() Options {
	return Options{DisableOracle: true, DisableSampler: true}
}

func assertNoOverlap(t *testing.T, region geom.Region, obstacles []geom.Box, stalls []PlacedStall) {
	t.Helper()
	for i, a := range stalls {
		assert.True(t, region.Contains(a.Box), "stall %d outside region: %+v", i, a.Box)
		for _, o := range obstacles {
			assert.Zero(t, geom.IntersectionArea(a.Box, o), "stall %d overlaps obstacle %+v", i, o)
		}
		for j := i + 1; j < len(stalls); j++ {
			assert.Zero(t, geom.IntersectionArea(a.Box, stalls[j].Box), "stalls %d and %d overlap", i, j)
		}
	}
}

func TestPlace_GridFillsEmptyRegion(t *testing.T) {
	s := New(gridOnly())
	res, err := s.Place(context.Background(), []CategorySpec{{ID: 1, Width: 2, Height: 2, Required: 4}}, hall, nil, nil)
	require.NoError(t, err)

	require.Len(t, res.Stalls, 4)
	assertNoOverlap(t, hall, nil, res.Stalls)
	for _, st := range res.Stalls {
		assert.Equal(t, StageGrid, st.Stage)
	}
	// x outer, y inner: the first column fills bottom-up.
	assert.Equal(t, geom.Box{X1: 0, Y1: 0, X2: 2, Y2: 2}, res.Stalls[0].Box)
	assert.Equal(t, geom.Box{X1: 0, Y1: 2, X2: 2, Y2: 4}, res.Stalls[1].Box)
	assert.Equal(t, []Fulfillment{{CategoryID: 1, Required: 4, Placed: 4}}, res.Fulfillment)
	assert.True(t, res.Complete())
}

func TestPlace_RegionFullyBlocked(t *testing.T) {
	region := geom.Region{MinX: 0, MinY: 0, MaxX: 5, MaxY: 5}
	obstacles := []geom.Box{{X1: 0, Y1: 0, X2: 5, Y2: 5}}
	s := New(Options{Rand: NewRand(1), MaxAttempts: 100})

	res, err := s.Place(context.Background(), []CategorySpec{{ID: 1, Width: 1, Height: 1, Required: 1}}, region, obstacles, nil)
	require.NoError(t, err)

	assert.Empty(t, res.Stalls)
	assert.Equal(t, []Fulfillment{{CategoryID: 1, Required: 1, Placed: 0}}, res.Fulfillment)
	assert.Equal(t, []Failure{{CategoryID: 1, Unit: 0}}, res.Failures)
	assert.False(t, res.Complete())
}

func TestPlace_OracleCandidateWins(t *testing.T) {
	candidates := []Candidate{{CategoryID: 1, NormX: 0.1, NormY: 0.1}}
	// sampler and grid disabled: success can only come from the oracle stage
	s := New(Options{DisableSampler: true, DisableGrid: true})

	res, err := s.Place(context.Background(), []CategorySpec{{ID: 1, Width: 1, Height: 1, Required: 1}}, hall, nil, candidates)
	require.NoError(t, err)

	require.Len(t, res.Stalls, 1)
	assert.Equal(t, StageOracle, res.Stalls[0].Stage)
	assert.InDelta(t, 1.0, res.Stalls[0].Box.X1, 1e-9)
	assert.InDelta(t, 1.0, res.Stalls[0].Box.Y1, 1e-9)
	assert.InDelta(t, 2.0, res.Stalls[0].Box.X2, 1e-9)
	assert.InDelta(t, 2.0, res.Stalls[0].Box.Y2, 1e-9)
}

func TestPlace_LargestFootprintFirst(t *testing.T) {
	categories := []CategorySpec{
		{ID: 2, Width: 1, Height: 1, Required: 1},
		{ID: 1, Width: 4, Height: 4, Required: 1},
	}
	s := New(Options{Rand: NewRand(7)})

	res, err := s.Place(context.Background(), categories, hall, nil, nil)
	require.NoError(t, err)

	require.Len(t, res.Stalls, 2)
	assert.Equal(t, 1, res.Stalls[0].CategoryID)
	assert.Equal(t, 2, res.Stalls[1].CategoryID)
	assert.Equal(t, 1, res.Fulfillment[0].CategoryID)
	assertNoOverlap(t, hall, nil, res.Stalls)
}

func TestOrder_StableOnTies(t *testing.T) {
	sorted := Order([]CategorySpec{
		{ID: 1, Width: 2, Height: 2},
		{ID: 2, Width: 1, Height: 4},
		{ID: 3, Width: 4, Height: 4},
		{ID: 4, Width: 4, Height: 1},
	})
	ids := make([]int, len(sorted))
	for i, c := range sorted {
		ids[i] = c.ID
	}
	assert.Equal(t, []int{3, 1, 2, 4}, ids)
}

func TestPlace_MixedWorkloadInvariants(t *testing.T) {
	region := geom.Region{MinX: 0, MinY: 0, MaxX: 40, MaxY: 25}
	obstacles := []geom.Box{
		{X1: 0, Y1: 0, X2: 3, Y2: 25},
		{X1: 18, Y1: 10, X2: 22, Y2: 14},
	}
	categories := []CategorySpec{
		{ID: 1, Width: 6, Height: 4, Required: 6},
		{ID: 2, Width: 4, Height: 4, Required: 8},
		{ID: 3, Width: 3, Height: 2, Required: 12},
		{ID: 4, Width: 2, Height: 2, Required: 20},
	}
	candidates := []Candidate{
		{CategoryID: 1, NormX: 0.1, NormY: 0.1},
		{CategoryID: 1, NormX: 0.1, NormY: 0.1},
		{CategoryID: 3, NormX: 0.95, NormY: 0.95},
		{CategoryID: 4, NormX: -0.2, NormY: 0.5},
		{CategoryID: 4, NormX: 0.5, NormY: 0.5},
	}
	s := New(Options{Rand: NewRand(42)})

	res, err := s.Place(context.Background(), categories, region, obstacles, candidates)
	require.NoError(t, err)
	assertNoOverlap(t, region, obstacles, res.Stalls)

	placed := 0
	for _, f := range res.Fulfillment {
		placed += f.Placed
	}
	assert.Equal(t, len(res.Stalls), placed)
	assert.Equal(t, 46-placed, len(res.Failures))
}

func TestPlace_PartialFulfillmentContinues(t *testing.T) {
	region := geom.Region{MinX: 0, MinY: 0, MaxX: 4, MaxY: 4}
	categories := []CategorySpec{
		{ID: 1, Width: 4, Height: 2, Required: 3},
		{ID: 2, Width: 5, Height: 5, Required: 2},
		{ID: 3, Width: 1, Height: 1, Required: 1},
	}
	res, err := New(gridOnly()).Place(context.Background(), categories, region, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Placed(2), "category larger than the region")
	assert.Equal(t, 2, res.Placed(1))
	assert.Equal(t, 0, res.Placed(3), "region full after category 1")
	assert.Len(t, res.Failures, 4)
	assertNoOverlap(t, region, nil, res.Stalls)
}

func TestPlace_ZeroRequired(t *testing.T) {
	res, err := New(Options{}).Place(context.Background(), []CategorySpec{{ID: 9, Width: 1, Height: 1}}, hall, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Stalls)
	assert.Equal(t, []Fulfillment{{CategoryID: 9}}, res.Fulfillment)
	assert.True(t, res.Complete())
}

func TestPlace_ConfigErrors(t *testing.T) {
	cases := map[string]struct {
		categories []CategorySpec
		region     geom.Region
		opts       Options
	}{
		"zero width":       {[]CategorySpec{{ID: 1, Width: 0, Height: 1, Required: 1}}, hall, Options{}},
		"negative height":  {[]CategorySpec{{ID: 1, Width: 1, Height: -1, Required: 1}}, hall, Options{}},
		"negative count":   {[]CategorySpec{{ID: 1, Width: 1, Height: 1, Required: -1}}, hall, Options{}},
		"duplicate id":     {[]CategorySpec{{ID: 1, Width: 1, Height: 1}, {ID: 1, Width: 2, Height: 2}}, hall, Options{}},
		"inverted region":  {[]CategorySpec{{ID: 1, Width: 1, Height: 1}}, geom.Region{MinX: 5, MaxX: 1, MaxY: 1}, Options{}},
		"negative step":    {[]CategorySpec{{ID: 1, Width: 1, Height: 1}}, hall, Options{GridStep: -1}},
		"negative budget":  {[]CategorySpec{{ID: 1, Width: 1, Height: 1}}, hall, Options{GridBudget: -1}},
		"negative attempt": {[]CategorySpec{{ID: 1, Width: 1, Height: 1}}, hall, Options{MaxAttempts: -1}},
		"negative limit":   {[]CategorySpec{{ID: 1, Width: 1, Height: 1}}, hall, Options{MaxStalls: -1}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(tc.opts).Place(context.Background(), tc.categories, tc.region, nil, nil)
			var cfgErr *ConfigError
			require.Error(t, err)
			assert.True(t, errors.As(err, &cfgErr), "want *ConfigError, got %T", err)
		})
	}
}

func TestPlace_RejectsOversizedTotal(t *testing.T) {
	res, err := New(Options{}).Place(context.Background(), []CategorySpec{{ID: 1, Width: 5, Height: 5, Required: 1 << 40}}, hall, nil, nil)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr), "want *ConfigError, got %v", err)
	assert.Equal(t, "required", cfgErr.Field)
	assert.Nil(t, res.Fulfillment)

	split := []CategorySpec{{ID: 1, Width: 1, Height: 1, Required: 3}, {ID: 2, Width: 1, Height: 1, Required: 3}}
	_, err = New(Options{MaxStalls: 5}).Place(context.Background(), split, hall, nil, nil)
	assert.True(t, errors.As(err, &cfgErr), "sum across categories counts")

	assert.NoError(t, CheckTotal(split, 6))
	assert.Error(t, CheckTotal([]CategorySpec{{ID: 1, Required: DefaultMaxStalls + 1}}, 0))
}

func TestPlace_BlockedHallStopsAfterGridMiss(t *testing.T) {
	region := geom.Region{MinX: 0, MinY: 0, MaxX: 200, MaxY: 200}
	obstacles := []geom.Box{{X1: 0, Y1: 0, X2: 200, Y2: 200}}
	categories := []CategorySpec{{ID: 1, Width: 1, Height: 1, Required: DefaultMaxStalls}}

	start := time.Now()
	res, err := New(Options{Rand: NewRand(3)}).Place(context.Background(), categories, region, obstacles, nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)

	assert.Empty(t, res.Stalls)
	assert.Equal(t, []Fulfillment{{CategoryID: 1, Required: DefaultMaxStalls}}, res.Fulfillment)
	require.Len(t, res.Failures, DefaultMaxStalls)
	assert.Equal(t, Failure{CategoryID: 1, Unit: DefaultMaxStalls - 1}, res.Failures[DefaultMaxStalls-1])
}

func TestPlace_GridResumesAcrossUnits(t *testing.T) {
	opts := gridOnly()
	opts.GridBudget = 1
	res, err := New(opts).Place(context.Background(), []CategorySpec{{ID: 1, Width: 2, Height: 2, Required: 5}}, hall, nil, nil)
	require.NoError(t, err)

	// units 1-3 each reject one overlapping row; unit 4 reaches y=2
	require.Len(t, res.Stalls, 2)
	assert.Equal(t, geom.Box{X1: 0, Y1: 0, X2: 2, Y2: 2}, res.Stalls[0].Box)
	assert.Equal(t, geom.Box{X1: 0, Y1: 2, X2: 2, Y2: 4}, res.Stalls[1].Box)
	assert.Equal(t, []Failure{{CategoryID: 1, Unit: 1}, {CategoryID: 1, Unit: 2}, {CategoryID: 1, Unit: 3}}, res.Failures)
}

func TestPlace_BudgetedGridExhaustsLargeBlockedHall(t *testing.T) {
	// 2000x2000 at step 0.5 is ~16M boxes, 16 budgets of 1<<20
	region := geom.Region{MinX: 0, MinY: 0, MaxX: 2000, MaxY: 2000}
	obstacles := []geom.Box{{X1: 0, Y1: 0, X2: 2000, Y2: 2000}}
	opts := Options{Rand: NewRand(5), DisableSampler: true}

	start := time.Now()
	res, err := New(opts).Place(context.Background(), []CategorySpec{{ID: 4, Width: 1, Height: 1, Required: 1000}}, region, obstacles, nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 30*time.Second)
	assert.Len(t, res.Failures, 1000)
	assert.Empty(t, res.Stalls)
}

func TestPlace_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := New(gridOnly()).Place(ctx, []CategorySpec{{ID: 1, Width: 1, Height: 1, Required: 2}}, hall, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []Fulfillment{{CategoryID: 1, Required: 2}}, res.Fulfillment)
}

func TestAdapter_ResumesAfterCommittedCandidate(t *testing.T) {
	candidates := []Candidate{
		{CategoryID: 2, NormX: 0.0, NormY: 0.0},
		{CategoryID: 1, NormX: 0.1, NormY: 0.1},
		{CategoryID: 1, NormX: 1.5, NormY: 0.1},
		{CategoryID: 1, NormX: 0.5, NormY: 0.5},
	}
	a := NewAdapter(candidates, hall)
	spec := CategorySpec{ID: 1, Width: 1, Height: 1}

	first, ok := a.Next(spec, nil, nil)
	require.True(t, ok)
	assert.InDelta(t, 1.0, first.X1, 1e-9)

	second, ok := a.Next(spec, nil, []geom.Box{first})
	require.True(t, ok)
	assert.InDelta(t, 5.0, second.X1, 1e-9)

	_, ok = a.Next(spec, nil, []geom.Box{first, second})
	assert.False(t, ok)

	// other categories keep their own position
	other, ok := a.Next(CategorySpec{ID: 2, Width: 1, Height: 1}, nil, []geom.Box{first, second})
	require.True(t, ok)
	assert.Equal(t, geom.Box{X1: 0, Y1: 0, X2: 1, Y2: 1}, other)
}

func TestAdapter_MatchesFullRescan(t *testing.T) {
	candidates := []Candidate{
		{CategoryID: 1, NormX: 0.2, NormY: 0.2},
		{CategoryID: 1, NormX: 0.25, NormY: 0.25},
		{CategoryID: 1, NormX: 0.6, NormY: 0.2},
		{CategoryID: 1, NormX: 0.2, NormY: 0.6},
	}
	spec := CategorySpec{ID: 1, Width: 2, Height: 2}
	a := NewAdapter(candidates, hall)
	var placed []geom.Box
	for {
		got, ok := a.Next(spec, nil, placed)
		want, wantOK := rescan(candidates, spec, placed)
		require.Equal(t, wantOK, ok)
		if !ok {
			break
		}
		assert.Equal(t, want, got)
		placed = append(placed, got)
	}
	assert.Len(t, placed, 3)
}

func rescan(candidates []Candidate, spec CategorySpec, placed []geom.Box) (geom.Box, bool) {
	for _, c := range candidates {
		if c.CategoryID != spec.ID {
			continue
		}
		box := Denormalize(c, hall, spec)
		if geom.Valid(box, hall, nil, placed) {
			return box, true
		}
	}
	return geom.Box{}, false
}

func TestSample_DeterministicWithSeed(t *testing.T) {
	spec := CategorySpec{ID: 1, Width: 2, Height: 3}
	a, okA := Sample(spec, hall, nil, nil, NewRand(11), 10)
	b, okB := Sample(spec, hall, nil, nil, NewRand(11), 10)
	require.True(t, okA)
	require.True(t, okB)
	assert.Equal(t, a, b)
	assert.True(t, hall.Contains(a))
}

func TestSample_Terminates(t *testing.T) {
	blocked := []geom.Box{{X1: 0, Y1: 0, X2: 10, Y2: 10}}
	_, ok := Sample(CategorySpec{ID: 1, Width: 1, Height: 1}, hall, blocked, nil, NewRand(1), 1000)
	assert.False(t, ok)

	_, ok = Sample(CategorySpec{ID: 1, Width: 11, Height: 1}, hall, nil, nil, NewRand(1), 1000)
	assert.False(t, ok, "footprint wider than region")

	_, ok = Sample(CategorySpec{ID: 1, Width: 1, Height: 1}, hall, nil, nil, nil, 1000)
	assert.False(t, ok, "no random source")
}

func scan(ctx context.Context, spec CategorySpec, region geom.Region, obstacles, placed []geom.Box, step float64, budget int) (geom.Box, bool) {
	box, _, ok := ScanFrom(ctx, spec, region, obstacles, placed, step, budget, 0)
	return box, ok
}

func TestScan_Deterministic(t *testing.T) {
	obstacles := []geom.Box{{X1: 0, Y1: 0, X2: 3, Y2: 10}}
	placed := []geom.Box{{X1: 3, Y1: 0, X2: 5, Y2: 4}}
	spec := CategorySpec{ID: 1, Width: 2, Height: 2}

	first, ok := scan(context.Background(), spec, hall, obstacles, placed, 0.5, 0)
	require.True(t, ok)
	for i := 0; i < 3; i++ {
		again, ok := scan(context.Background(), spec, hall, obstacles, placed, 0.5, 0)
		require.True(t, ok)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, geom.Box{X1: 3, Y1: 4, X2: 5, Y2: 6}, first)
}

func TestScan_ReachesUpperBound(t *testing.T) {
	// only the top-right corner is free
	obstacles := []geom.Box{
		{X1: 0, Y1: 0, X2: 10, Y2: 8.5},
		{X1: 0, Y1: 8.5, X2: 8.5, Y2: 10},
	}
	box, ok := scan(context.Background(), CategorySpec{ID: 1, Width: 1.5, Height: 1.5}, hall, obstacles, nil, 0.5, 0)
	require.True(t, ok)
	assert.Equal(t, geom.Box{X1: 8.5, Y1: 8.5, X2: 10, Y2: 10}, box)
}

func TestScan_BudgetAndIterations(t *testing.T) {
	spec := CategorySpec{ID: 1, Width: 2, Height: 2}
	assert.Equal(t, 17*17, GridIterations(spec, hall, 0.5))
	assert.Equal(t, 0, GridIterations(CategorySpec{Width: 11, Height: 1}, hall, 0.5))
	huge := geom.Region{MaxX: 1e300, MaxY: 1e300}
	assert.Equal(t, math.MaxInt, GridIterations(spec, huge, 0.5))

	obstacles := []geom.Box{{X1: 0, Y1: 0, X2: 2, Y2: 2}}
	_, ok := scan(context.Background(), spec, hall, obstacles, nil, 0.5, 1)
	assert.False(t, ok, "budget of one box stops at the blocked origin")

	_, ok = scan(context.Background(), spec, hall, []geom.Box{{X1: 0, Y1: 0, X2: 10, Y2: 10}}, nil, 0.5, 0)
	assert.False(t, ok, "exhausts the grid")
}

func TestScanFrom_MatchesFreshScan(t *testing.T) {
	obstacles := []geom.Box{{X1: 0, Y1: 0, X2: 4, Y2: 7}}
	spec := CategorySpec{ID: 1, Width: 2, Height: 2}
	var placed []geom.Box
	cursor := 0
	for {
		got, next, ok := ScanFrom(context.Background(), spec, hall, obstacles, placed, 0.5, 7, cursor)
		cursor = next
		if !ok {
			if cursor >= GridIterations(spec, hall, 0.5) {
				break
			}
			continue
		}
		want, wantOK := scan(context.Background(), spec, hall, obstacles, placed, 0.5, 0)
		require.True(t, wantOK)
		require.Equal(t, want, got)
		placed = append(placed, got)
	}
	_, ok := scan(context.Background(), spec, hall, obstacles, placed, 0.5, 0)
	assert.False(t, ok, "cursor reached the end only when the grid is full")
	assert.NotEmpty(t, placed)
}

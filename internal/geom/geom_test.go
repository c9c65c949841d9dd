package geom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegionValidate(t *testing.T) {
	require.NoError(t, Region{0, 0, 10, 10}.Validate())
	assert.Error(t, Region{0, 0, 0, 10}.Validate())
	assert.Error(t, Region{0, 5, 10, 1}.Validate())
	assert.Error(t, Region{math.NaN(), 0, 10, 10}.Validate())
}

func TestIntersectionArea(t *testing.T) {
	a := Box{0, 0, 2, 2}
	assert.Equal(t, 1.0, IntersectionArea(a, Box{1, 1, 3, 3}))
	assert.Equal(t, 4.0, IntersectionArea(a, a))
	// shared edge and shared corner
	assert.Zero(t, IntersectionArea(a, Box{2, 0, 4, 2}))
	assert.Zero(t, IntersectionArea(a, Box{2, 2, 3, 3}))
	assert.Zero(t, IntersectionArea(a, Box{5, 5, 6, 6}))
}

func TestValidBoundaryInclusive(t *testing.T) {
	region := Region{0, 0, 10, 10}
	assert.True(t, Valid(Box{0, 0, 10, 10}, region, nil, nil))
	assert.True(t, Valid(Box{8, 8, 10, 10}, region, nil, nil))
	assert.False(t, Valid(Box{8.5, 8, 10.5, 10}, region, nil, nil))
	assert.False(t, Valid(Box{-0.1, 0, 1, 1}, region, nil, nil))
}

func TestValidObstaclesAndPlaced(t *testing.T) {
	region := Region{0, 0, 10, 10}
	obstacles := []Box{{0, 0, 5, 5}}
	placed := []Box{{5, 5, 7, 7}}

	assert.True(t, Valid(Box{5, 0, 7, 2}, region, obstacles, placed), "flush against obstacle")
	assert.True(t, Valid(Box{7, 5, 9, 7}, region, obstacles, placed), "flush against placed")
	assert.False(t, Valid(Box{4, 4, 6, 6}, region, obstacles, nil))
	assert.False(t, Valid(Box{6, 6, 8, 8}, region, nil, placed))
}

func TestValidRejectsNaN(t *testing.T) {
	assert.False(t, Valid(Box{math.NaN(), 0, 1, 1}, Region{0, 0, 10, 10}, nil, nil))
}

func TestAt(t *testing.T) {
	b := At(1, 2, 3, 4)
	assert.Equal(t, Box{1, 2, 4, 6}, b)
	assert.Equal(t, 12.0, b.Area())
}

package interval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnionMergesOverlappingAndAdjacent(t *testing.T) {
	got := Union([]Interval{
		{Start: 0, End: 100},
		{Start: 50, End: 200},
		{Start: 300, End: 400},
		{Start: 401, End: 410}, // adjacent to the previous range
	})
	assert.Equal(t, []Interval{
		{Start: 0, End: 200},
		{Start: 300, End: 410},
	}, got)
}

func TestUnionIdempotentAndCommutative(t *testing.T) {
	a := []Interval{{Start: 10, End: 20}, {Start: 0, End: 5}}
	b := []Interval{{Start: 0, End: 5}, {Start: 10, End: 20}}

	ua := Union(a)
	ub := Union(b)
	assert.Equal(t, ua, ub)
	assert.Equal(t, ua, Union(ua))
}

func TestUnionProducesDisjointSortedIntervals(t *testing.T) {
	got := Union([]Interval{{Start: 5, End: 10}, {Start: 0, End: 3}, {Start: 20, End: 25}})
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].End < got[i].Start, "intervals must be disjoint and sorted")
	}
}

func TestIntersectionManyTwoFragments(t *testing.T) {
	// two fragments [[0,100]] and [[50,200]] -> [[50,100]] is the only synced
	got := IntersectionMany([][]Interval{
		{{Start: 0, End: 100}},
		{{Start: 50, End: 200}},
	})
	assert.Equal(t, []Interval{{Start: 50, End: 100}}, got)
}

func TestIntersectionManyEmptyWhenDisjoint(t *testing.T) {
	got := IntersectionMany([][]Interval{
		{{Start: 0, End: 10}},
		{{Start: 20, End: 30}},
	})
	assert.Empty(t, got)
}

func TestIntersectionManySingleList(t *testing.T) {
	got := IntersectionMany([][]Interval{
		{{Start: 0, End: 10}, {Start: 20, End: 30}},
	})
	assert.Equal(t, []Interval{{Start: 0, End: 10}, {Start: 20, End: 30}}, got)
}

func TestDifference(t *testing.T) {
	got := Difference(
		[]Interval{{Start: 0, End: 100}},
		[]Interval{{Start: 20, End: 40}},
	)
	assert.Equal(t, []Interval{{Start: 0, End: 19}, {Start: 41, End: 100}}, got)
}

func TestDifferenceNoOverlap(t *testing.T) {
	got := Difference(
		[]Interval{{Start: 0, End: 10}},
		[]Interval{{Start: 20, End: 30}},
	)
	assert.Equal(t, []Interval{{Start: 0, End: 10}}, got)
}

func TestTruncateClampsAndDrops(t *testing.T) {
	got := Truncate([]Interval{
		{Start: 0, End: 50},
		{Start: 40, End: 100},
		{Start: 200, End: 300},
	}, 60)
	assert.Equal(t, []Interval{
		{Start: 0, End: 50},
		{Start: 40, End: 60},
	}, got)
}

func TestUnionEmptyInput(t *testing.T) {
	assert.Nil(t, Union(nil))
}

package timeset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func interval(start, end string) Interval {
	s, e := at(start), at(end)
	return Interval{Start: &s, End: &e}
}

func TestCanonicalSingletons(t *testing.T) {
	assert.True(t, All.IsAll())
	assert.True(t, Empty.IsEmpty())
	assert.Same(t, All, Empty.Negate())
	assert.Same(t, Empty, All.Negate())
	assert.Same(t, All, All.Union(Single(at("2020-01-01T00:00:00Z"))))
	assert.Same(t, Empty, Empty.Intersect(All))
}

func TestUnionMergesOverlappingAndAdjacent(t *testing.T) {
	a := Of(interval("2020-01-01T00:00:00Z", "2020-06-01T00:00:00Z"))
	b := Of(interval("2020-03-01T00:00:00Z", "2020-09-01T00:00:00Z"))

	union := a.Union(b)
	require.Len(t, union.Intervals(), 1)
	assert.Equal(t, at("2020-01-01T00:00:00Z"), *union.Intervals()[0].Start)
	assert.Equal(t, at("2020-09-01T00:00:00Z"), *union.Intervals()[0].End)

	// Adjacent at millisecond granularity merges too.
	end := at("2020-01-31T23:59:59.999Z")
	c := Of(Interval{Start: ptr(at("2020-01-01T00:00:00Z")), End: &end})
	d := Of(interval("2020-02-01T00:00:00Z", "2020-03-01T00:00:00Z"))
	merged := c.Union(d)
	assert.Len(t, merged.Intervals(), 1)
}

func ptr(t time.Time) *time.Time { return &t }

func TestIntersect(t *testing.T) {
	a := Of(interval("2020-01-01T00:00:00Z", "2020-06-01T00:00:00Z"))
	b := Of(interval("2020-03-01T00:00:00Z", "2020-09-01T00:00:00Z"))

	both := a.Intersect(b)
	require.Len(t, both.Intervals(), 1)
	assert.Equal(t, at("2020-03-01T00:00:00Z"), *both.Intervals()[0].Start)
	assert.Equal(t, at("2020-06-01T00:00:00Z"), *both.Intervals()[0].End)

	disjoint := a.Intersect(Of(interval("2021-01-01T00:00:00Z", "2021-02-01T00:00:00Z")))
	assert.True(t, disjoint.IsEmpty())
}

func TestNegateRoundTrips(t *testing.T) {
	set := Of(
		interval("2020-01-01T00:00:00Z", "2020-06-01T00:00:00Z"),
		interval("2021-01-01T00:00:00Z", "2021-06-01T00:00:00Z"),
	)
	negated := set.Negate()
	require.Len(t, negated.Intervals(), 3)
	assert.Nil(t, negated.Intervals()[0].Start)
	assert.Nil(t, negated.Intervals()[2].End)

	back := negated.Negate()
	assert.Equal(t, set.Intervals(), back.Intervals())
}

func TestAlgebraLaws(t *testing.T) {
	sets := []*Set{
		Empty,
		All,
		Single(at("2020-05-05T12:00:00Z")),
		GreaterThan(at("2020-01-01T00:00:00Z")),
		LessThanOrEqual(at("2021-01-01T00:00:00Z")),
		Of(
			interval("2019-01-01T00:00:00Z", "2019-03-01T00:00:00Z"),
			interval("2020-01-01T00:00:00Z", "2020-03-01T00:00:00Z"),
		),
	}
	probes := []time.Time{
		at("2018-06-01T00:00:00Z"),
		at("2019-02-01T00:00:00Z"),
		at("2020-01-01T00:00:00Z"),
		at("2020-05-05T12:00:00Z"),
		at("2022-01-01T00:00:00Z"),
	}

	equalByProbes := func(t *testing.T, a, b *Set) {
		t.Helper()
		for _, p := range probes {
			assert.Equal(t, a.Contains(p), b.Contains(p), "probe %s", p)
		}
	}

	for _, a := range sets {
		for _, b := range sets {
			equalByProbes(t, a.Union(b), b.Union(a))
			equalByProbes(t, a.Intersect(b), b.Intersect(a))
			equalByProbes(t, a.Difference(a.Difference(b)), a.Intersect(b))
		}
		assert.True(t, a.Union(a.Negate()).IsAll())
		assert.True(t, a.Intersect(a.Negate()).IsEmpty())
	}
}

func TestInternalIntervalsAreDisjointAndNonAdjacent(t *testing.T) {
	set := Of(
		interval("2020-01-01T00:00:00Z", "2020-02-01T00:00:00Z"),
		interval("2020-02-01T00:00:00.001Z", "2020-03-01T00:00:00Z"),
		interval("2020-06-01T00:00:00Z", "2020-07-01T00:00:00Z"),
	)
	intervals := set.Intervals()
	require.Len(t, intervals, 2, "adjacent intervals must merge")
	for i := 1; i < len(intervals); i++ {
		gap := intervals[i].Start.Sub(*intervals[i-1].End)
		assert.Greater(t, gap, Granularity)
	}
}

func TestBoundBuilders(t *testing.T) {
	base := at("2020-06-01T00:00:00Z")

	assert.False(t, GreaterThan(base).Contains(base))
	assert.True(t, GreaterThan(base).Contains(base.Add(time.Millisecond)))
	assert.True(t, GreaterThanOrEqual(base).Contains(base))
	assert.False(t, LessThan(base).Contains(base))
	assert.True(t, LessThan(base).Contains(base.Add(-time.Millisecond)))
	assert.True(t, LessThanOrEqual(base).Contains(base))

	single := Single(base)
	assert.True(t, single.Contains(base))
	assert.False(t, single.Contains(base.Add(time.Millisecond)))
}

// Package timeset implements a set of time values represented as a
// minimal union of possibly-unbounded intervals with closed bounds at
// millisecond granularity. It backs the rollover index-expression
// optimizer: filters over a rollover timestamp field reduce to a Set,
// which then expands to the concrete indices worth searching.
package timeset

import (
	"strings"
	"time"
)

// Granularity is the resolution of bound arithmetic. Two intervals whose
// bounds differ by exactly one Granularity are adjacent and merge.
const Granularity = time.Millisecond

// Interval is one closed interval. A nil bound is unbounded on that side.
type Interval struct {
	Start *time.Time
	End   *time.Time
}

func (iv Interval) empty() bool {
	return iv.Start != nil && iv.End != nil && iv.Start.After(*iv.End)
}

func (iv Interval) contains(t time.Time) bool {
	if iv.Start != nil && t.Before(*iv.Start) {
		return false
	}
	if iv.End != nil && t.After(*iv.End) {
		return false
	}
	return true
}

// Set is an immutable set of times. The zero value is the empty set.
// Internal intervals are sorted, pairwise non-overlapping, and
// non-adjacent.
type Set struct {
	intervals []Interval
}

// All and Empty are the canonical full and empty sets.
var (
	All   = &Set{intervals: []Interval{{}}}
	Empty = &Set{}
)

func truncate(t time.Time) time.Time { return t.Truncate(Granularity) }

// Of builds a normalized Set from arbitrary intervals.
func Of(intervals ...Interval) *Set {
	kept := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.Start != nil {
			s := truncate(*iv.Start)
			iv.Start = &s
		}
		if iv.End != nil {
			e := truncate(*iv.End)
			iv.End = &e
		}
		if !iv.empty() {
			kept = append(kept, iv)
		}
	}
	return canonical(normalize(kept))
}

// Single is the set containing exactly t.
func Single(t time.Time) *Set {
	tt := truncate(t)
	return &Set{intervals: []Interval{{Start: &tt, End: &tt}}}
}

// GreaterThan is (t, +inf), i.e. [t+1ms, +inf) at our granularity.
func GreaterThan(t time.Time) *Set {
	s := truncate(t).Add(Granularity)
	return &Set{intervals: []Interval{{Start: &s}}}
}

// GreaterThanOrEqual is [t, +inf).
func GreaterThanOrEqual(t time.Time) *Set {
	s := truncate(t)
	return &Set{intervals: []Interval{{Start: &s}}}
}

// LessThan is (-inf, t), i.e. (-inf, t-1ms].
func LessThan(t time.Time) *Set {
	e := truncate(t).Add(-Granularity)
	return &Set{intervals: []Interval{{End: &e}}}
}

// LessThanOrEqual is (-inf, t].
func LessThanOrEqual(t time.Time) *Set {
	e := truncate(t)
	return &Set{intervals: []Interval{{End: &e}}}
}

func canonical(intervals []Interval) *Set {
	if len(intervals) == 0 {
		return Empty
	}
	if len(intervals) == 1 && intervals[0].Start == nil && intervals[0].End == nil {
		return All
	}
	return &Set{intervals: intervals}
}

// normalize sorts and merges overlapping or adjacent intervals.
func normalize(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}
	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && startBefore(sorted[j], sorted[j-1]); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	merged := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if overlapsOrAdjacent(*last, iv) {
			if last.End != nil && (iv.End == nil || iv.End.After(*last.End)) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

func startBefore(a, b Interval) bool {
	if a.Start == nil {
		return b.Start != nil
	}
	if b.Start == nil {
		return false
	}
	return a.Start.Before(*b.Start)
}

// overlapsOrAdjacent assumes a starts no later than b.
func overlapsOrAdjacent(a, b Interval) bool {
	if a.End == nil || b.Start == nil {
		return true
	}
	return !a.End.Add(Granularity).Before(*b.Start)
}

// IsEmpty reports whether the set contains no times.
func (s *Set) IsEmpty() bool { return len(s.intervals) == 0 }

// IsAll reports whether the set contains every time.
func (s *Set) IsAll() bool {
	return len(s.intervals) == 1 && s.intervals[0].Start == nil && s.intervals[0].End == nil
}

// Contains reports membership of t.
func (s *Set) Contains(t time.Time) bool {
	t = truncate(t)
	for _, iv := range s.intervals {
		if iv.contains(t) {
			return true
		}
	}
	return false
}

// Intervals returns a copy of the internal intervals, sorted ascending.
func (s *Set) Intervals() []Interval {
	out := make([]Interval, len(s.intervals))
	copy(out, s.intervals)
	return out
}

// Union returns s ∪ o.
func (s *Set) Union(o *Set) *Set {
	if s.IsAll() || o.IsAll() {
		return All
	}
	if s.IsEmpty() {
		return canonical(normalize(o.intervals))
	}
	if o.IsEmpty() {
		return canonical(normalize(s.intervals))
	}
	return canonical(normalize(append(append([]Interval{}, s.intervals...), o.intervals...)))
}

// Intersect returns s ∩ o.
func (s *Set) Intersect(o *Set) *Set {
	if s.IsEmpty() || o.IsEmpty() {
		return Empty
	}
	if s.IsAll() {
		return canonical(normalize(o.intervals))
	}
	if o.IsAll() {
		return canonical(normalize(s.intervals))
	}
	var out []Interval
	for _, a := range s.intervals {
		for _, b := range o.intervals {
			iv := Interval{Start: laterStart(a.Start, b.Start), End: earlierEnd(a.End, b.End)}
			if !iv.empty() {
				out = append(out, iv)
			}
		}
	}
	return canonical(normalize(out))
}

// Negate returns the complement of s.
func (s *Set) Negate() *Set {
	if s.IsEmpty() {
		return All
	}
	if s.IsAll() {
		return Empty
	}
	var out []Interval
	var cursor *time.Time // start bound of the next gap; nil = -inf
	for _, iv := range s.intervals {
		if iv.Start != nil {
			end := iv.Start.Add(-Granularity)
			gap := Interval{Start: cursor, End: &end}
			if !gap.empty() {
				out = append(out, gap)
			}
		}
		if iv.End == nil {
			cursor = nil
			return canonical(normalize(out))
		}
		next := iv.End.Add(Granularity)
		cursor = &next
	}
	out = append(out, Interval{Start: cursor})
	return canonical(normalize(out))
}

// Difference returns s - o.
func (s *Set) Difference(o *Set) *Set {
	return s.Intersect(o.Negate())
}

func laterStart(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil || a.After(*b) {
		return a
	}
	return b
}

func earlierEnd(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil || a.Before(*b) {
		return a
	}
	return b
}

// String renders the set for logs and test failures.
func (s *Set) String() string {
	if s.IsEmpty() {
		return "∅"
	}
	var b strings.Builder
	for i, iv := range s.intervals {
		if i > 0 {
			b.WriteString(" ∪ ")
		}
		b.WriteByte('[')
		if iv.Start == nil {
			b.WriteString("-inf")
		} else {
			b.WriteString(iv.Start.UTC().Format(time.RFC3339Nano))
		}
		b.WriteString(", ")
		if iv.End == nil {
			b.WriteString("+inf")
		} else {
			b.WriteString(iv.End.UTC().Format(time.RFC3339Nano))
		}
		b.WriteByte(']')
	}
	return b.String()
}

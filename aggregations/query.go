package aggregations

import (
	"fmt"
	"strings"
)

// Delimiters used to build sub-aggregation keys: parent query names are
// joined with ":"; nested paths keep their "." separators.
const (
	subAggKeyDelimiter = ":"
	filteredKeySuffix  = ":filtered"
	missingKeySuffix   = ":missing"
)

// Computation is one numeric metric computed per bucket.
type Computation struct {
	// Name is the response key for the computed value.
	Name string
	// SourceFieldInIndex is the dotted index path the metric reads.
	SourceFieldInIndex string
	// Function is the datastore metric: sum, avg, min, max, cardinality.
	Function string
	// EmptyBucketValue is substituted when a bucket has no value.
	EmptyBucketValue any
}

// Clause returns the metric aggregation clause.
func (c Computation) Clause() map[string]any {
	return map[string]any{c.Function: map[string]any{"field": c.SourceFieldInIndex}}
}

// NestedSubAggregation is a sub-aggregation over a nested list field.
type NestedSubAggregation struct {
	// NestedPathInIndex is the full dotted path of the nested field.
	NestedPathInIndex string
	Query             *Query
}

// Query describes one aggregation request: groupings, computed metrics,
// and recursively nested sub-aggregations. Immutable once built.
type Query struct {
	Name string

	// Filter is the compiled query clause restricting the documents
	// aggregated, or nil.
	Filter map[string]any

	// PageSize is the number of buckets requested. Zero means the
	// caller needs no buckets at all and no aggregation is emitted.
	PageSize int

	// AfterKeys/AfterValues hold the decoded pagination cursor for
	// composite aggregations.
	AfterKeys   []string
	AfterValues []any

	Groupings       []Grouping
	Computations    []Computation
	SubAggregations map[string]*NestedSubAggregation

	// NeedsDocCount is set when the count of documents per bucket was
	// requested.
	NeedsDocCount bool
	// NeedsDocCountError additionally requests the terms aggregation's
	// doc-count error bound, needed to report count accuracy.
	NeedsDocCountError bool

	Adapter Adapter
}

// Adapter turns one aggregation query into datastore agg clauses.
type Adapter interface {
	// BuildAggs returns the aggs entries for the query. Keys are fully
	// prefixed with the parent names. An empty map means nothing to
	// request.
	BuildAggs(q *Query, parentNames []string) (map[string]any, error)
}

// GroupingKeys returns the keys of the query's groupings in order.
func (q *Query) GroupingKeys() []string {
	keys := make([]string, len(q.Groupings))
	for i, g := range q.Groupings {
		keys[i] = g.Key()
	}
	return keys
}

// BuildAggs renders the query under its adapter.
func (q *Query) BuildAggs(parentNames []string) (map[string]any, error) {
	if q.PageSize == 0 {
		return nil, nil
	}
	if q.Adapter == nil {
		return nil, fmt.Errorf("aggregation query %q has no grouping adapter", q.Name)
	}
	return q.Adapter.BuildAggs(q, parentNames)
}

// innerAggs builds the shared inner payload of a bucket: computations
// plus nested sub-aggregations. parentNames tracks the ancestry for
// sub-aggregation key prefixes.
func innerAggs(q *Query, parentNames []string) (map[string]any, error) {
	aggs := make(map[string]any)
	for _, comp := range q.Computations {
		aggs[comp.Name] = comp.Clause()
	}
	for _, path := range sortedSubAggPaths(q) {
		sub := q.SubAggregations[path]
		key := subAggKey(parentNames, sub.NestedPathInIndex)
		// The sub-query's filter wraps outside the nested clause (it
		// applies in the parent document scope), so the inner build runs
		// without it.
		unfiltered := *sub.Query
		unfiltered.Filter = nil
		subAggs, err := unfiltered.BuildAggs(append(append([]string{}, parentNames...), sub.Query.Name))
		if err != nil {
			return nil, err
		}
		nested := map[string]any{
			"nested": map[string]any{"path": sub.NestedPathInIndex},
		}
		if len(subAggs) > 0 {
			nested["aggs"] = subAggs
		}
		if sub.Query.Filter != nil {
			// The sub-aggregation filter applies to the parent scope
			// before descending into the nested documents.
			aggs[key+filteredKeySuffix] = map[string]any{
				"filter": sub.Query.Filter,
				"aggs":   map[string]any{key: nested},
			}
			continue
		}
		aggs[key] = nested
	}
	return aggs, nil
}

func subAggKey(parentNames []string, nestedPath string) string {
	parts := append(append([]string{}, parentNames...), nestedPath)
	return strings.Join(parts, subAggKeyDelimiter)
}

func sortedSubAggPaths(q *Query) []string {
	paths := make([]string, 0, len(q.SubAggregations))
	for p := range q.SubAggregations {
		paths = append(paths, p)
	}
	for i := 1; i < len(paths); i++ {
		for j := i; j > 0 && paths[j] < paths[j-1]; j-- {
			paths[j], paths[j-1] = paths[j-1], paths[j]
		}
	}
	return paths
}

package aggregations

import "fmt"

// CompositeAdapter expresses groupings as a composite aggregation, the
// only datastore primitive with deterministic bucket pagination. It is
// the default for top-level aggregations.
type CompositeAdapter struct{}

// CanGroup reports whether every grouping of the query is expressible as
// a composite source.
func (CompositeAdapter) CanGroup(q *Query) bool {
	for _, g := range q.Groupings {
		if !g.SupportsComposite() {
			return false
		}
	}
	return true
}

func (a CompositeAdapter) BuildAggs(q *Query, parentNames []string) (map[string]any, error) {
	if len(q.Groupings) == 0 {
		return ungroupedAggs(q, parentNames)
	}

	inner, err := innerAggs(q, parentNames)
	if err != nil {
		return nil, err
	}

	sources := make([]any, len(q.Groupings))
	for i, g := range q.Groupings {
		sources[i] = map[string]any{g.Key(): g.CompositeSource()}
	}
	composite := map[string]any{
		"size":    q.PageSize,
		"sources": sources,
	}

	if len(q.AfterKeys) > 0 {
		after, err := compositeAfter(q)
		if err != nil {
			return nil, err
		}
		composite["after"] = after
	}

	clause := map[string]any{"composite": composite}
	if len(inner) > 0 {
		clause["aggs"] = inner
	}
	return wrapInFilter(q, map[string]any{q.Name: clause}), nil
}

// compositeAfter converts the decoded cursor into the composite after
// key, validating that the cursor was produced by the same groupings.
func compositeAfter(q *Query) (map[string]any, error) {
	keys := q.GroupingKeys()
	if len(keys) != len(q.AfterKeys) {
		return nil, invalidCursorError(q)
	}
	after := make(map[string]any, len(keys))
	for i, key := range keys {
		if q.AfterKeys[i] != key {
			return nil, invalidCursorError(q)
		}
		after[key] = q.AfterValues[i]
	}
	return after, nil
}

func invalidCursorError(q *Query) error {
	return &InvalidCursorError{Message: fmt.Sprintf(
		"`after` is not a valid cursor for the current `grouped_by` fields of `%s`", q.Name)}
}

// InvalidCursorError reports an after cursor whose keys do not match the
// query's current groupings. User-facing.
type InvalidCursorError struct {
	Message string
}

func (e *InvalidCursorError) Error() string { return e.Message }

// ungroupedAggs places metrics and sub-aggregations directly as sibling
// aggregations when there is nothing to bucket on. Metric keys get the
// query-name prefix; sub-aggregation keys are already fully prefixed.
func ungroupedAggs(q *Query, parentNames []string) (map[string]any, error) {
	out := make(map[string]any)
	for _, comp := range q.Computations {
		out[q.Name+subAggKeyDelimiter+comp.Name] = comp.Clause()
	}
	subs := &Query{Name: q.Name, PageSize: q.PageSize, SubAggregations: q.SubAggregations}
	subAggs, err := innerAggs(subs, parentNames)
	if err != nil {
		return nil, err
	}
	for key, clause := range subAggs {
		out[key] = clause
	}
	return wrapInFilter(q, out), nil
}

// wrapInFilter applies the query's filter around already-built aggs.
func wrapInFilter(q *Query, aggs map[string]any) map[string]any {
	if q.Filter == nil || len(aggs) == 0 {
		return aggs
	}
	return map[string]any{
		q.Name + filteredKeySuffix: map[string]any{
			"filter": q.Filter,
			"aggs":   aggs,
		},
	}
}

package msearch

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastigraph/elastigraph/aggregations"
	"github.com/elastigraph/elastigraph/schema"
	"github.com/elastigraph/elastigraph/search"
)

func plannedQuery(t *testing.T, aggName string) *search.Query {
	t.Helper()
	p, err := search.NewPaginator(nil, nil, nil, nil, []string{"id"}, 50, 500)
	require.NoError(t, err)
	q := &search.Query{
		Type: "Widget",
		IndexDefinitions: []*schema.IndexDefinition{
			{Name: "widgets", QueryCluster: "main"},
		},
		Sort:        []search.SortClause{{FieldInIndex: "id"}},
		Paginator:   p,
		ClusterName: "main",
	}
	if aggName != "" {
		q.Aggregations = map[string]*aggregations.Query{
			aggName: {
				Name:     aggName,
				PageSize: 10,
				Groupings: []aggregations.Grouping{
					aggregations.TermGrouping{KeyName: aggName, FieldInIndex: aggName},
				},
				NeedsDocCount: true,
				Adapter:       aggregations.CompositeAdapter{},
			},
		}
	}
	return q.Finalize()
}

func TestMergeCombinesEquivalentQueries(t *testing.T) {
	bySize := plannedQuery(t, "by_size")
	byColor := plannedQuery(t, "by_color")

	o := &Optimizer{Log: logr.Discard()}
	batch := o.Merge([]*search.Query{bySize, byColor})
	require.Len(t, batch.Queries, 1, "same shape merges into one submission")

	merged := batch.Queries[0]
	require.Len(t, merged.Aggregations, 2)
	assert.Contains(t, merged.Aggregations, "1_by_size")
	assert.Contains(t, merged.Aggregations, "2_by_color")
	assert.Equal(t, "1_by_size", merged.Aggregations["1_by_size"].Name)
}

func TestMergeKeepsDistinctShapesApart(t *testing.T) {
	a := plannedQuery(t, "by_size")
	b := plannedQuery(t, "by_color")
	c := b.Clone()
	c.Filters = []map[string]any{{"name": map[string]any{"equal_to_any_of": []any{"x"}}}}

	o := &Optimizer{Log: logr.Discard()}
	batch := o.Merge([]*search.Query{a, b, c})
	assert.Len(t, batch.Queries, 2)
}

func TestUnmergeSplitsAggregations(t *testing.T) {
	bySize := plannedQuery(t, "by_size")
	byColor := plannedQuery(t, "by_color")

	o := &Optimizer{Log: logr.Discard()}
	batch := o.Merge([]*search.Query{bySize, byColor})
	require.Len(t, batch.Queries, 1)
	merged := batch.Queries[0]

	response := &search.Response{
		Status: 200,
		Aggregations: map[string]any{
			"1_by_size": map[string]any{
				"buckets": []any{
					map[string]any{"key": map[string]any{"by_size": "L"}, "doc_count": float64(3)},
				},
			},
			"2_by_color": map[string]any{
				"buckets": []any{
					map[string]any{"key": map[string]any{"by_color": "red"}, "doc_count": float64(5)},
				},
			},
		},
	}

	split, err := batch.Unmerge(map[*search.Query]*search.Response{merged: response})
	require.NoError(t, err)
	require.Len(t, split, 2)

	sizeResp := split[bySize]
	require.NotNil(t, sizeResp)
	assert.Contains(t, sizeResp.Aggregations, "by_size")
	assert.NotContains(t, sizeResp.Aggregations, "by_color")
	assert.NotContains(t, sizeResp.Aggregations, "1_by_size")

	colorResp := split[byColor]
	require.NotNil(t, colorResp)
	assert.Contains(t, colorResp.Aggregations, "by_color")
}

func TestUnmergeStripsNestedPrefixes(t *testing.T) {
	bySize := plannedQuery(t, "by_size")
	byColor := plannedQuery(t, "by_color")

	o := &Optimizer{Log: logr.Discard()}
	batch := o.Merge([]*search.Query{bySize, byColor})
	merged := batch.Queries[0]

	response := &search.Response{
		Status: 200,
		Aggregations: map[string]any{
			"1_by_size:filtered": map[string]any{
				"doc_count": float64(9),
				"1_by_size": map[string]any{
					"buckets": []any{
						map[string]any{
							"key":              map[string]any{"by_size": "L"},
							"doc_count":        float64(3),
							"1_by_size:parts": map[string]any{"doc_count": float64(7)},
						},
					},
				},
			},
			"2_by_color": map[string]any{"buckets": []any{}},
		},
	}

	split, err := batch.Unmerge(map[*search.Query]*search.Response{merged: response})
	require.NoError(t, err)

	sizeAggs := split[bySize].Aggregations
	wrapper, ok := sizeAggs["by_size:filtered"].(map[string]any)
	require.True(t, ok)
	inner := wrapper["by_size"].(map[string]any)
	bucket := inner["buckets"].([]any)[0].(map[string]any)
	assert.Contains(t, bucket, "by_size:parts", "nested sub-aggregation keys lose the prefix too")
}

func TestUnmergeMissingResponseIsStructuralError(t *testing.T) {
	bySize := plannedQuery(t, "by_size")

	o := &Optimizer{Log: logr.Discard()}
	batch := o.Merge([]*search.Query{bySize})

	_, err := batch.Unmerge(map[*search.Query]*search.Response{})
	assert.Error(t, err)
}

func TestMergeUnmergeRoundTripEquivalence(t *testing.T) {
	// Optimizer law: running merged queries and splitting responses is
	// indistinguishable from running each query alone.
	queries := []*search.Query{
		plannedQuery(t, "by_size"),
		plannedQuery(t, "by_color"),
		plannedQuery(t, ""),
	}

	o := &Optimizer{Log: logr.Discard()}
	batch := o.Merge(queries)

	responses := make(map[*search.Query]*search.Response, len(batch.Queries))
	for _, merged := range batch.Queries {
		aggs := make(map[string]any)
		for name := range merged.Aggregations {
			aggs[name] = map[string]any{"buckets": []any{}}
		}
		responses[merged] = &search.Response{Status: 200, Aggregations: aggs}
	}

	split, err := batch.Unmerge(responses)
	require.NoError(t, err)
	require.Len(t, split, len(queries))
	for _, q := range queries {
		resp := split[q]
		require.NotNil(t, resp)
		assert.Len(t, resp.Aggregations, len(q.Aggregations))
		for name := range q.Aggregations {
			assert.Contains(t, resp.Aggregations, name)
		}
	}
}

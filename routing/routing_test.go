package routing

import (
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastigraph/elastigraph/aggregations"
	"github.com/elastigraph/elastigraph/schema"
	"github.com/elastigraph/elastigraph/search"
)

const testArtifacts = `
types:
  - name: Widget
    category: indexed_document
    fields:
      - {name: id, type: ID}
      - {name: name, type: String}
      - {name: workspace_id, type: ID}
      - {name: created_at, type: DateTime}
indices:
  - name: widgets
    type: Widget
    rollover: {frequency: yearly, timestamp_field: created_at}
    routing_field: workspace_id
    ignored_routing_values: [W_HOT]
    query_cluster: main
`

func testOptimizer(t *testing.T) (*Optimizer, *schema.Registry) {
	t.Helper()
	registry, err := schema.Load([]byte(testArtifacts))
	require.NoError(t, err)
	return &Optimizer{Registry: registry, Log: logr.Discard()}, registry
}

func routedQuery(t *testing.T, registry *schema.Registry, filters ...map[string]any) *search.Query {
	t.Helper()
	p, err := search.NewPaginator(nil, nil, nil, nil, []string{"id"}, 50, 500)
	require.NoError(t, err)
	return (&search.Query{
		Type:             "Widget",
		IndexDefinitions: registry.IndicesFor("Widget"),
		Filters:          filters,
		Sort:             []search.SortClause{{FieldInIndex: "id"}},
		Paginator:        p,
		ClusterName:      "main",
		Deadline:         time.Now().Add(time.Minute),
	}).Finalize()
}

func withAggs(q *search.Query) *search.Query {
	clone := q.Clone()
	clone.Aggregations = map[string]*aggregations.Query{
		"by_name": {
			Name:     "by_name",
			PageSize: 10,
			Groupings: []aggregations.Grouping{
				aggregations.TermGrouping{KeyName: "name", FieldInIndex: "name"},
			},
			Adapter: aggregations.CompositeAdapter{},
		},
	}
	return clone
}

func TestRoutingValuesFromEqualityFilter(t *testing.T) {
	o, registry := testOptimizer(t)
	q := routedQuery(t, registry, map[string]any{
		"workspace_id": map[string]any{"equal_to_any_of": []any{"W2", "W1"}},
	})

	optimized := o.Optimize(q)
	assert.Equal(t, []string{"W1", "W2"}, optimized.RoutingValues, "sorted")
	assert.False(t, optimized.NoResultsPossible)
}

func TestRoutingUnrestrictedWithoutFilter(t *testing.T) {
	o, registry := testOptimizer(t)
	optimized := o.Optimize(routedQuery(t, registry))
	assert.Nil(t, optimized.RoutingValues)
}

func TestRoutingIgnoredValueDisablesRestriction(t *testing.T) {
	o, registry := testOptimizer(t)
	q := routedQuery(t, registry, map[string]any{
		"workspace_id": map[string]any{"equal_to_any_of": []any{"W_HOT", "W2"}},
	})

	optimized := o.Optimize(q)
	assert.Nil(t, optimized.RoutingValues,
		"documents with ignored routing values are routed by id, so no shard restriction is safe")
}

func TestRoutingEmptySetWithoutAggregationsBypassesDatastore(t *testing.T) {
	o, registry := testOptimizer(t)
	q := routedQuery(t, registry,
		map[string]any{"workspace_id": map[string]any{"equal_to_any_of": []any{"W1"}}},
		map[string]any{"workspace_id": map[string]any{"equal_to_any_of": []any{"W2"}}},
	)

	optimized := o.Optimize(q)
	assert.True(t, optimized.NoResultsPossible)
}

func TestRoutingEmptySetWithAggregationsFallsBackToOneValue(t *testing.T) {
	o, registry := testOptimizer(t)
	q := withAggs(routedQuery(t, registry,
		map[string]any{"workspace_id": map[string]any{"equal_to_any_of": []any{"W1"}}},
		map[string]any{"workspace_id": map[string]any{"equal_to_any_of": []any{"W2"}}},
	))

	optimized := o.Optimize(q)
	assert.False(t, optimized.NoResultsPossible,
		"the aggregation response skeleton requires searching at least one shard")
	assert.Len(t, optimized.RoutingValues, 1)
}

func TestIndexExpressionFromTimestampFilter(t *testing.T) {
	o, registry := testOptimizer(t)
	q := routedQuery(t, registry, map[string]any{
		"created_at": map[string]any{
			"gte": "2020-06-01T00:00:00Z",
			"lt":  "2022-02-01T00:00:00Z",
		},
	})

	optimized := o.Optimize(q)
	assert.Equal(t, "widgets_rollover__2020,widgets_rollover__2021,widgets_rollover__2022",
		optimized.IndexExpression)
}

func TestIndexExpressionUnboundedFallsBackToWildcard(t *testing.T) {
	o, registry := testOptimizer(t)

	t.Run("no timestamp filter", func(t *testing.T) {
		optimized := o.Optimize(routedQuery(t, registry))
		assert.Equal(t, "widgets_rollover__*", optimized.IndexExpression)
	})

	t.Run("half-open range", func(t *testing.T) {
		q := routedQuery(t, registry, map[string]any{
			"created_at": map[string]any{"gte": "2020-01-01T00:00:00Z"},
		})
		optimized := o.Optimize(q)
		assert.Equal(t, "widgets_rollover__*", optimized.IndexExpression)
	})
}

func TestIndexExpressionEmptyTimeSet(t *testing.T) {
	o, registry := testOptimizer(t)
	contradiction := map[string]any{
		"created_at": map[string]any{
			"gte": "2022-01-01T00:00:00Z",
			"lt":  "2020-01-01T00:00:00Z",
		},
	}

	t.Run("without aggregations the query is empty", func(t *testing.T) {
		optimized := o.Optimize(routedQuery(t, registry, contradiction))
		assert.True(t, optimized.NoResultsPossible)
	})

	t.Run("with aggregations one concrete index is forced", func(t *testing.T) {
		optimized := o.Optimize(withAggs(routedQuery(t, registry, contradiction)))
		assert.False(t, optimized.NoResultsPossible)
		assert.Equal(t, "widgets_rollover__1970", optimized.IndexExpression)
	})
}

func TestOptimizeDoesNotMutateInput(t *testing.T) {
	o, registry := testOptimizer(t)
	q := routedQuery(t, registry, map[string]any{
		"workspace_id": map[string]any{"equal_to_any_of": []any{"W2"}},
	})

	optimized := o.Optimize(q)
	assert.NotSame(t, q, optimized)
	assert.Nil(t, q.RoutingValues)
	assert.Equal(t, []string{"W2"}, optimized.RoutingValues)
}

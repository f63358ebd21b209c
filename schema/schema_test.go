package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testArtifacts = `
types:
  - name: Widget
    category: indexed_document
    default_sort:
      - {field: created_at, direction: desc}
    fields:
      - {name: id, type: ID}
      - {name: name, type: String}
      - {name: description, name_in_index: description_in_es, type: String}
      - {name: workspace_id, type: ID}
      - {name: created_at, type: DateTime}
      - {name: cost, type: Int, source: WidgetCurrency}
      - {name: options, type: WidgetOptions}
      - {name: parts, type: Part, list: true, nested: true}
      - {name: tags, type: String, list: true}
      - name: workspace
        type: WidgetWorkspace
        relation: {foreign_key: workspace_id, location: parent}
  - name: WidgetOptions
    category: object
    fields:
      - {name: color, name_in_index: rgb_color, type: String}
      - {name: size, type: String}
  - name: Part
    category: object
    fields:
      - {name: part_id, type: ID}
      - {name: name, type: String}
  - name: WidgetWorkspace
    category: indexed_document
    fields:
      - {name: id, type: ID}
      - {name: name, type: String}
indices:
  - name: widgets
    type: Widget
    rollover: {frequency: yearly, timestamp_field: created_at}
    routing_field: workspace_id
    ignored_routing_values: [W1]
    query_cluster: main
  - name: widget_workspaces
    type: WidgetWorkspace
derived:
  - source_type: Widget
    target_type: WidgetWorkspace
    id_source: workspace_id
    script_id: widget_workspace_update_v1
script_ids:
  index_data_update: elastigraph_index_data_update_v1
  derived_index_update: elastigraph_derived_index_update_v1
json_schemas:
  Widget:
    1:
      type: object
      required: [id, name]
      properties:
        id: {type: string}
        name: {type: string}
`

func loadTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Load([]byte(testArtifacts))
	require.NoError(t, err)
	return r
}

func TestRegistryLookups(t *testing.T) {
	r := loadTestRegistry(t)

	widget, ok := r.Type("Widget")
	require.True(t, ok)
	assert.Equal(t, CategoryIndexedDocument, widget.Category)
	assert.True(t, widget.HasSourcedFields())

	description, ok := widget.Field("description")
	require.True(t, ok)
	assert.Equal(t, "description_in_es", description.NameInIndex)

	byIndexName, ok := widget.FieldByIndexName("description_in_es")
	require.True(t, ok)
	assert.Same(t, description, byIndexName)

	cost, ok := widget.Field("cost")
	require.True(t, ok)
	assert.True(t, cost.SourcedFrom())

	assert.True(t, r.IndexedType("Widget"))
	assert.False(t, r.IndexedType("WidgetOptions"))

	indices := r.IndicesFor("Widget")
	require.Len(t, indices, 1)
	assert.Equal(t, "widgets", indices[0].Name)
	assert.Equal(t, []string{"workspace_id"}, r.RoutingFieldPaths(indices))

	derived := r.DerivedTypesFor("Widget")
	require.Len(t, derived, 1)
	assert.Equal(t, TypeRef("WidgetWorkspace"), derived[0].TargetType)

	scriptID, err := r.ScriptID(ScriptKeyIndexDataUpdate)
	require.NoError(t, err)
	assert.Equal(t, "elastigraph_index_data_update_v1", scriptID)

	assert.Equal(t, []int{1}, r.JSONSchemaVersions("Widget"))
}

func TestLoadRejectsBadArtifacts(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{
			name: "indexed type without index",
			yaml: `
types:
  - name: Widget
    category: indexed_document
    fields:
      - {name: id, type: ID}
`,
		},
		{
			name: "index referencing unknown type",
			yaml: `
indices:
  - {name: widgets, type: Widget}
`,
		},
		{
			name: "unknown rollover frequency",
			yaml: `
types:
  - name: Widget
    category: indexed_document
    fields: [{name: id, type: ID}]
indices:
  - name: widgets
    type: Widget
    rollover: {frequency: fortnightly, timestamp_field: created_at}
`,
		},
		{
			name: "derived type without id_source",
			yaml: `
types:
  - name: Widget
    category: indexed_document
    fields: [{name: id, type: ID}]
indices:
  - {name: widgets, type: Widget}
derived:
  - {source_type: Widget, target_type: Widget}
`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load([]byte(tc.yaml))
			require.Error(t, err)
			var cfgErr *ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestTypeRefDerivedNames(t *testing.T) {
	ref := TypeRef("Widget")
	assert.Equal(t, TypeRef("WidgetAggregation"), ref.Aggregation())
	assert.Equal(t, TypeRef("WidgetGroupedBy"), ref.GroupedBy())
	assert.Equal(t, TypeRef("WidgetAggregatedValues"), ref.AggregatedValues())
	assert.Equal(t, TypeRef("WidgetFilterInput"), ref.FilterInput())
	assert.Equal(t, TypeRef("WidgetSubAggregation"), ref.SubAggregation())
}

func TestRolloverIndexNaming(t *testing.T) {
	def := &IndexDefinition{
		Name:     "widgets",
		Rollover: &RolloverPolicy{Frequency: RolloverYearly, TimestampField: "created_at"},
	}

	ts, err := time.Parse(time.RFC3339, "1995-04-23T00:23:45Z")
	require.NoError(t, err)
	assert.Equal(t, "widgets_rollover__1995", def.ConcreteIndexFor(ts))
	assert.Equal(t, "widgets_rollover__*", def.WildcardExpression())

	base, period, err := ParseConcreteIndexName("widgets_rollover__1995", RolloverYearly)
	require.NoError(t, err)
	assert.Equal(t, "widgets", base)
	assert.Equal(t, 1995, period.Year())
}

func TestConcreteIndicesBetween(t *testing.T) {
	def := &IndexDefinition{
		Name:     "widgets",
		Rollover: &RolloverPolicy{Frequency: RolloverMonthly, TimestampField: "created_at"},
	}
	from, _ := time.Parse(time.RFC3339, "2020-11-15T00:00:00Z")
	until, _ := time.Parse(time.RFC3339, "2021-01-02T00:00:00Z")

	names := def.ConcreteIndicesBetween(from, until)
	assert.Equal(t, []string{
		"widgets_rollover__2020-11",
		"widgets_rollover__2020-12",
		"widgets_rollover__2021-01",
	}, names)
}

func TestRolloverFrequencyTruncate(t *testing.T) {
	ts, _ := time.Parse(time.RFC3339, "2020-06-15T13:45:30Z")
	assert.Equal(t, "2020-06-15T13:00:00Z", RolloverHourly.Truncate(ts).Format(time.RFC3339))
	assert.Equal(t, "2020-06-15T00:00:00Z", RolloverDaily.Truncate(ts).Format(time.RFC3339))
	assert.Equal(t, "2020-06-01T00:00:00Z", RolloverMonthly.Truncate(ts).Format(time.RFC3339))
	assert.Equal(t, "2020-01-01T00:00:00Z", RolloverYearly.Truncate(ts).Format(time.RFC3339))
}

func TestRoutingValueIgnored(t *testing.T) {
	def := &IndexDefinition{Name: "widgets", RoutingField: "workspace_id", IgnoredRoutingValues: []string{"W1"}}
	assert.True(t, def.RoutingValueIgnored("W1"))
	assert.False(t, def.RoutingValueIgnored("W2"))
	assert.True(t, def.HasCustomRouting())
}

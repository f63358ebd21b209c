package planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/graphql-go/graphql"

	"github.com/elastigraph/elastigraph/aggregations"
	"github.com/elastigraph/elastigraph/filtering"
	"github.com/elastigraph/elastigraph/schema"
	"github.com/elastigraph/elastigraph/search"
)

// Aggregation-node field names.
const (
	fieldGroupedBy        = "grouped_by"
	fieldAggregatedValues = "aggregated_values"
	fieldSubAggregations  = "sub_aggregations"
	fieldCount            = "count"
	fieldCountDetail      = "count_detail"

	fieldAsDayOfWeek = "as_day_of_week"
	fieldAsTimeOfDay = "as_time_of_day"
)

// Script id keys for script-term groupings, resolved through the schema
// artifacts.
const (
	ScriptKeyDayOfWeek = "grouping_day_of_week"
	ScriptKeyTimeOfDay = "grouping_time_of_day"
)

// ConflictingGroupingSelectionsError reports an aggregation connection
// selecting both nodes and edges; the two could request different
// groupings for one datastore aggregation.
type ConflictingGroupingSelectionsError struct {
	FieldName string
}

func (e *ConflictingGroupingSelectionsError) Error() string {
	return fmt.Sprintf("`%s` selects both `nodes` and `edges`; select one or the other", e.FieldName)
}

// PlanAggregations builds the query for an aggregation-connection root
// field over the given indexed type.
func (p *Planner) PlanAggregations(params graphql.ResolveParams, typeName schema.TypeRef) (*search.Query, error) {
	t, ok := p.Registry.Type(typeName)
	if !ok {
		return nil, fmt.Errorf("unknown indexed type %s", typeName)
	}
	sel := lookahead(params)

	q := &search.Query{
		Type:             typeName,
		IndexDefinitions: p.Registry.IndicesFor(typeName),
		ClusterName:      p.clusterFor(typeName),
		Deadline:         time.Now().Add(p.RequestTimeout),
	}
	if err := p.applyFilters(q, t, sel.Args["filter"]); err != nil {
		return nil, err
	}
	q.Sort = search.BuildSort(nil, t.DefaultSortFields)

	node, err := aggregationNode(sel)
	if err != nil {
		return nil, err
	}

	aggQuery, err := p.buildAggregationQuery(sel.Name, t, node, sel.Args, true)
	if err != nil {
		return nil, err
	}
	if aggQuery != nil {
		q.Aggregations = map[string]*aggregations.Query{aggQuery.Name: aggQuery}
	}
	return q.Finalize(), nil
}

// aggregationNode finds the bucket selection under nodes or edges.node,
// rejecting conflicting shapes.
func aggregationNode(sel *Selection) (*Selection, error) {
	nodes, hasNodes := sel.Child(fieldNodes)
	edges, hasEdges := sel.Child(fieldEdges)
	if hasNodes && hasEdges {
		return nil, &ConflictingGroupingSelectionsError{FieldName: sel.Name}
	}
	if hasNodes {
		return nodes, nil
	}
	if hasEdges {
		if node, ok := edges.Child(fieldNode); ok {
			return node, nil
		}
	}
	return nil, nil
}

// buildAggregationQuery turns one aggregation bucket selection into an
// aggregation query. The result is never nil; a page size of zero
// yields a query that emits no aggs clause.
func (p *Planner) buildAggregationQuery(name string, t *schema.Type, node *Selection, args map[string]any, topLevel bool) (*aggregations.Query, error) {
	aggQuery := &aggregations.Query{Name: name}

	pageSize := p.DefaultPageSize
	if first := intArg(args, "first"); first != nil {
		pageSize = *first
	}
	if pageSize < 0 {
		pageSize = 0
	}
	if p.MaxPageSize > 0 && pageSize > p.MaxPageSize {
		pageSize = p.MaxPageSize
	}
	aggQuery.PageSize = pageSize

	if after := cursorArg(args, "after"); after != nil {
		if *after == search.SingletonCursor {
			// Nothing follows the one-and-only bucket; the empty page is
			// synthesized without a datastore aggregation.
			aggQuery.PageSize = 0
		} else {
			decoded, err := search.DecodeCursor(*after)
			if err != nil {
				return nil, err
			}
			aggQuery.AfterKeys = decoded.Keys
			aggQuery.AfterValues = decoded.Values
		}
	}

	if aggQuery.PageSize == 0 {
		// No buckets wanted: the search body carries no aggs clause and
		// the empty page is synthesized client-side.
		aggQuery.Adapter = aggregations.CompositeAdapter{}
		return aggQuery, nil
	}

	if node != nil {
		if groupedBy, ok := node.Child(fieldGroupedBy); ok {
			groupings, err := p.buildGroupings(t, groupedBy, nil, nil)
			if err != nil {
				return nil, err
			}
			aggQuery.Groupings = groupings
		}
		if values, ok := node.Child(fieldAggregatedValues); ok {
			computations, err := p.buildComputations(t, values, nil, nil)
			if err != nil {
				return nil, err
			}
			aggQuery.Computations = computations
		}
		if node.HasChild(fieldCount) {
			aggQuery.NeedsDocCount = true
		}
		if detail, ok := node.Child(fieldCountDetail); ok {
			aggQuery.NeedsDocCount = true
			if detail.HasChild("exact_value") || detail.HasChild("upper_bound") {
				aggQuery.NeedsDocCountError = true
			}
		}
		if subAggs, ok := node.Child(fieldSubAggregations); ok {
			built, err := p.buildSubAggregations(t, subAggs, nil)
			if err != nil {
				return nil, err
			}
			aggQuery.SubAggregations = built
		}
	}

	composite := aggregations.CompositeAdapter{}
	if topLevel && composite.CanGroup(aggQuery) {
		aggQuery.Adapter = composite
	} else {
		aggQuery.Adapter = aggregations.NonCompositeAdapter{}
	}
	return aggQuery, nil
}

// buildGroupings walks a grouped_by selection, descending through object
// fields, and produces groupings in selection order.
func (p *Planner) buildGroupings(t *schema.Type, sel *Selection, gqlPath, idxPath []string) ([]aggregations.Grouping, error) {
	var out []aggregations.Grouping
	for _, child := range sel.Children() {
		field, ok := t.Field(child.Name)
		if !ok {
			p.Log.V(1).Info("ignoring unknown grouped_by field", "type", t.Name, "field", child.Name)
			continue
		}
		keyPath := append(append([]string{}, gqlPath...), child.Name)
		fieldPath := append(append([]string{}, idxPath...), field.NameInIndex)

		if childType, isObject := p.Registry.Type(field.Type); isObject && childType.Category == schema.CategoryObject && !child.IsLeaf() {
			nested, err := p.buildGroupings(childType, child, keyPath, fieldPath)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
			continue
		}

		grouping, err := p.buildLeafGrouping(child, keyPath, fieldPath)
		if err != nil {
			return nil, err
		}
		out = append(out, grouping...)
	}
	return out, nil
}

func (p *Planner) buildLeafGrouping(sel *Selection, keyPath, fieldPath []string) ([]aggregations.Grouping, error) {
	key := strings.Join(keyPath, ".")
	indexField := strings.Join(fieldPath, ".")

	// Date sub-selections produce script-term groupings; one per
	// selected projection.
	if sel.HasChild(fieldAsDayOfWeek) || sel.HasChild(fieldAsTimeOfDay) {
		var out []aggregations.Grouping
		for _, projection := range []string{fieldAsDayOfWeek, fieldAsTimeOfDay} {
			child, ok := sel.Child(projection)
			if !ok {
				continue
			}
			scriptKey := ScriptKeyDayOfWeek
			if projection == fieldAsTimeOfDay {
				scriptKey = ScriptKeyTimeOfDay
			}
			scriptID, err := p.Registry.ScriptID(scriptKey)
			if err != nil {
				return nil, err
			}
			params := map[string]any{
				"field":     indexField,
				"offset_ms": offsetMilliseconds(child.Args["offset"]),
				"time_zone": timeZoneArg(child.Args),
			}
			if interval, ok := child.Args["interval"].(string); ok {
				params["interval"] = strings.ToLower(interval)
			}
			out = append(out, aggregations.ScriptTermGrouping{
				KeyName:  key + "." + projection,
				ScriptID: scriptID,
				Params:   params,
			})
		}
		return out, nil
	}

	if unit, ok := truncationUnit(sel.Args); ok {
		interval, err := calendarInterval(unit)
		if err != nil {
			return nil, err
		}
		return []aggregations.Grouping{aggregations.DateHistogramGrouping{
			KeyName:          key,
			FieldInIndex:     indexField,
			CalendarInterval: interval,
			TimeZone:         timeZoneArg(sel.Args),
			Offset:           offsetString(sel.Args["offset"]),
			Format:           "strict_date_time",
		}}, nil
	}

	return []aggregations.Grouping{aggregations.TermGrouping{KeyName: key, FieldInIndex: indexField}}, nil
}

// truncationUnit reads the truncation_unit argument, falling back to the
// legacy granularity name.
func truncationUnit(args map[string]any) (string, bool) {
	if u, ok := args["truncation_unit"].(string); ok {
		return u, true
	}
	if u, ok := args["granularity"].(string); ok {
		return u, true
	}
	return "", false
}

func calendarInterval(unit string) (string, error) {
	switch strings.ToUpper(unit) {
	case "YEAR":
		return "year", nil
	case "QUARTER":
		return "quarter", nil
	case "MONTH":
		return "month", nil
	case "WEEK":
		return "week", nil
	case "DAY":
		return "day", nil
	case "HOUR":
		return "hour", nil
	case "MINUTE":
		return "minute", nil
	}
	return "", fmt.Errorf("unsupported date truncation unit %q", unit)
}

// timeZoneArg defaults to UTC when the argument is absent, which keeps
// script params and histogram boundaries deterministic.
func timeZoneArg(args map[string]any) string {
	if tz, ok := args["time_zone"].(string); ok && tz != "" {
		return tz
	}
	return "UTC"
}

// offsetString renders an {amount, unit} offset argument as the
// datastore offset shorthand, e.g. "3d".
func offsetString(raw any) string {
	amount, unit, ok := offsetParts(raw)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%d%s", amount, unitAbbreviation(unit))
}

func offsetMilliseconds(raw any) int64 {
	amount, unit, ok := offsetParts(raw)
	if !ok {
		return 0
	}
	switch strings.ToUpper(unit) {
	case "WEEK":
		return int64(amount) * 7 * 24 * 3600 * 1000
	case "DAY":
		return int64(amount) * 24 * 3600 * 1000
	case "HOUR":
		return int64(amount) * 3600 * 1000
	case "MINUTE":
		return int64(amount) * 60 * 1000
	case "SECOND":
		return int64(amount) * 1000
	case "MILLISECOND":
		return int64(amount)
	}
	return 0
}

func offsetParts(raw any) (int, string, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return 0, "", false
	}
	amount, ok := toInt(m["amount"])
	if !ok {
		return 0, "", false
	}
	unit, ok := m["unit"].(string)
	if !ok {
		return 0, "", false
	}
	return amount, unit, true
}

func unitAbbreviation(unit string) string {
	switch strings.ToUpper(unit) {
	case "WEEK":
		return "w"
	case "DAY":
		return "d"
	case "HOUR":
		return "h"
	case "MINUTE":
		return "m"
	case "SECOND":
		return "s"
	case "MILLISECOND":
		return "ms"
	}
	return strings.ToLower(unit)
}

// buildComputations walks an aggregated_values selection: each leaf is a
// metric-function field whose index name is the datastore function.
func (p *Planner) buildComputations(t *schema.Type, sel *Selection, gqlPath, idxPath []string) ([]aggregations.Computation, error) {
	var out []aggregations.Computation
	for _, child := range sel.Children() {
		field, ok := t.Field(child.Name)
		if !ok {
			p.Log.V(1).Info("ignoring unknown aggregated_values field", "type", t.Name, "field", child.Name)
			continue
		}
		keyPath := append(append([]string{}, gqlPath...), child.Name)
		fieldPath := append(append([]string{}, idxPath...), field.NameInIndex)

		valuesType, ok := p.Registry.Type(field.Type.AggregatedValues())
		if !ok {
			// Not a numeric leaf; descend into the object.
			if childType, isObject := p.Registry.Type(field.Type); isObject && !child.IsLeaf() {
				nested, err := p.buildComputations(childType, child, keyPath, fieldPath)
				if err != nil {
					return nil, err
				}
				out = append(out, nested...)
			}
			continue
		}

		for _, fn := range child.Children() {
			fnField, ok := valuesType.Field(fn.Name)
			if !ok {
				continue
			}
			out = append(out, aggregations.Computation{
				Name:               strings.Join(keyPath, ".") + "." + fn.Name,
				SourceFieldInIndex: strings.Join(fieldPath, "."),
				Function:           fnField.NameInIndex,
				EmptyBucketValue:   emptyBucketValue(fnField.NameInIndex),
			})
		}
	}
	return out, nil
}

// emptyBucketValue is what a bucket with no documents reports: additive
// metrics default to zero, extremal ones to null.
func emptyBucketValue(function string) any {
	switch function {
	case "sum", "cardinality", "value_count":
		return 0
	}
	return nil
}

// buildSubAggregations walks a sub_aggregations selection; each child is
// a connection over a nested list field.
func (p *Planner) buildSubAggregations(t *schema.Type, sel *Selection, idxPath []string) (map[string]*aggregations.NestedSubAggregation, error) {
	out := make(map[string]*aggregations.NestedSubAggregation)
	for _, child := range sel.Children() {
		field, ok := t.Field(child.Name)
		if !ok {
			p.Log.V(1).Info("ignoring unknown sub_aggregation field", "type", t.Name, "field", child.Name)
			continue
		}
		if !field.List || !field.Nested {
			return nil, fmt.Errorf("sub_aggregations field %q is not a nested list", child.Name)
		}
		nestedPath := strings.Join(append(append([]string{}, idxPath...), field.NameInIndex), ".")

		elementType, ok := p.Registry.Type(field.Type)
		if !ok {
			return nil, fmt.Errorf("sub_aggregations field %q has unknown element type %s", child.Name, field.Type)
		}

		node, err := aggregationNode(child)
		if err != nil {
			return nil, err
		}
		subQuery, err := p.buildAggregationQuery(child.Name, elementType, node, child.Args, false)
		if err != nil {
			return nil, err
		}
		if subQuery == nil {
			continue
		}
		if rawFilter, ok := child.Args["filter"].(map[string]any); ok {
			translated, err := filtering.TranslateNames(p.Registry, elementType.Name, rawFilter)
			if err != nil {
				return nil, err
			}
			compiler := &filtering.Compiler{Registry: p.Registry, Log: p.Log}
			clause, err := compiler.Compile(elementType.Name, translated)
			if err != nil {
				return nil, err
			}
			subQuery.Filter = clause
		}
		out[nestedPath] = &aggregations.NestedSubAggregation{
			NestedPathInIndex: nestedPath,
			Query:             subQuery,
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

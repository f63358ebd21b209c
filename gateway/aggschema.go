package gateway

import (
	"fmt"

	"github.com/graphql-go/graphql"

	"github.com/elastigraph/elastigraph/schema"
)

// Aggregation-side schema generation. Shaped aggregation responses are
// plain nested maps keyed by GraphQL names, so these types rely on the
// default map resolver throughout.

func (sg *SchemaGenerator) aggregationNodeType(t *schema.Type) (*graphql.Object, error) {
	cacheKey := string(t.Name.Aggregation())
	if cached, ok := sg.typeCache[cacheKey]; ok {
		obj, ok := cached.(*graphql.Object)
		if !ok {
			return nil, fmt.Errorf("cached aggregation type for %s is not an object", t.Name)
		}
		return obj, nil
	}

	fields := graphql.Fields{
		"count":        &graphql.Field{Type: graphql.Int},
		"count_detail": &graphql.Field{Type: sg.countDetailType()},
	}
	obj := graphql.NewObject(graphql.ObjectConfig{
		Name: cacheKey,
		Fields: (graphql.FieldsThunk)(func() graphql.Fields {
			return fields
		}),
	})
	sg.typeCache[cacheKey] = obj

	if groupedBy := sg.groupedByType(t); groupedBy != nil {
		fields["grouped_by"] = &graphql.Field{Type: groupedBy}
	}
	if values := sg.aggregatedValuesType(t); values != nil {
		fields["aggregated_values"] = &graphql.Field{Type: values}
	}
	subAggs, err := sg.subAggregationsType(t)
	if err != nil {
		return nil, err
	}
	if subAggs != nil {
		fields["sub_aggregations"] = &graphql.Field{Type: subAggs}
	}
	return obj, nil
}

func (sg *SchemaGenerator) countDetailType() *graphql.Object {
	const cacheKey = "AggregationCountDetail"
	if cached, ok := sg.typeCache[cacheKey]; ok {
		return cached.(*graphql.Object)
	}
	obj := graphql.NewObject(graphql.ObjectConfig{
		Name: cacheKey,
		Fields: graphql.Fields{
			"approximate_value": &graphql.Field{Type: graphql.Int},
			"exact_value":       &graphql.Field{Type: graphql.Int},
			"upper_bound":       &graphql.Field{Type: graphql.Int},
		},
	})
	sg.typeCache[cacheKey] = obj
	return obj
}

// groupedByType exposes every scalar, non-list field as a grouping
// dimension; DateTime fields additionally take truncation arguments.
func (sg *SchemaGenerator) groupedByType(t *schema.Type) *graphql.Object {
	cacheKey := string(t.Name.GroupedBy())
	if cached, ok := sg.typeCache[cacheKey]; ok {
		return cached.(*graphql.Object)
	}

	fields := graphql.Fields{}
	for _, field := range t.Fields() {
		if field.List || field.Relation != nil {
			continue
		}
		if child, ok := sg.registry.Type(field.Type); ok && child.Category == schema.CategoryObject {
			if nested := sg.groupedByType(child); nested != nil {
				fields[field.NameInGraphQL] = &graphql.Field{Type: nested}
			}
			continue
		}
		scalar, ok := scalarOutput(field.Type)
		if !ok {
			continue
		}
		gqlField := &graphql.Field{Type: scalar}
		if field.Type == "DateTime" || field.Type == "Date" {
			gqlField.Args = graphql.FieldConfigArgument{
				"truncation_unit": &graphql.ArgumentConfig{Type: sg.truncationUnitEnum()},
				"granularity":     &graphql.ArgumentConfig{Type: sg.truncationUnitEnum()},
				"offset":          &graphql.ArgumentConfig{Type: sg.groupingOffsetInput()},
				"time_zone":       &graphql.ArgumentConfig{Type: graphql.String},
			}
		}
		fields[field.NameInGraphQL] = gqlField
	}
	if len(fields) == 0 {
		return nil
	}
	obj := graphql.NewObject(graphql.ObjectConfig{Name: cacheKey, Fields: fields})
	sg.typeCache[cacheKey] = obj
	return obj
}

func (sg *SchemaGenerator) truncationUnitEnum() *graphql.Enum {
	const cacheKey = "DateGroupingTruncationUnitInput"
	if cached, ok := sg.inputCache[cacheKey]; ok {
		return cached.(*graphql.Enum)
	}
	values := graphql.EnumValueConfigMap{}
	for _, unit := range []string{"YEAR", "QUARTER", "MONTH", "WEEK", "DAY", "HOUR", "MINUTE"} {
		values[unit] = &graphql.EnumValueConfig{Value: unit}
	}
	enum := graphql.NewEnum(graphql.EnumConfig{Name: cacheKey, Values: values})
	sg.inputCache[cacheKey] = enum
	return enum
}

func (sg *SchemaGenerator) groupingOffsetInput() *graphql.InputObject {
	const cacheKey = "DateGroupingOffsetInput"
	if cached, ok := sg.inputCache[cacheKey]; ok {
		return cached.(*graphql.InputObject)
	}
	units := graphql.EnumValueConfigMap{}
	for _, unit := range []string{"WEEK", "DAY", "HOUR", "MINUTE", "SECOND", "MILLISECOND"} {
		units[unit] = &graphql.EnumValueConfig{Value: unit}
	}
	input := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: cacheKey,
		Fields: graphql.InputObjectConfigFieldMap{
			"amount": &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.Int)},
			"unit": &graphql.InputObjectFieldConfig{
				Type: graphql.NewNonNull(graphql.NewEnum(graphql.EnumConfig{
					Name:   "DateGroupingOffsetUnitInput",
					Values: units,
				})),
			},
		},
	})
	sg.inputCache[cacheKey] = input
	return input
}

// aggregatedValuesType mirrors the registry's *AggregatedValues
// companion types: fields exist only where the artifacts define metric
// functions for the underlying scalar.
func (sg *SchemaGenerator) aggregatedValuesType(t *schema.Type) *graphql.Object {
	cacheKey := string(t.Name.AggregatedValues())
	if cached, ok := sg.typeCache[cacheKey]; ok {
		return cached.(*graphql.Object)
	}

	fields := graphql.Fields{}
	for _, field := range t.Fields() {
		if field.Relation != nil {
			continue
		}
		if child, ok := sg.registry.Type(field.Type); ok && child.Category == schema.CategoryObject && !field.List {
			if nested := sg.aggregatedValuesType(child); nested != nil {
				fields[field.NameInGraphQL] = &graphql.Field{Type: nested}
			}
			continue
		}
		companion, ok := sg.registry.Type(field.Type.AggregatedValues())
		if !ok {
			continue
		}
		fields[field.NameInGraphQL] = &graphql.Field{Type: sg.metricFunctionsType(companion)}
	}
	if len(fields) == 0 {
		return nil
	}
	obj := graphql.NewObject(graphql.ObjectConfig{Name: cacheKey, Fields: fields})
	sg.typeCache[cacheKey] = obj
	return obj
}

func (sg *SchemaGenerator) metricFunctionsType(companion *schema.Type) *graphql.Object {
	cacheKey := string(companion.Name)
	if cached, ok := sg.typeCache[cacheKey]; ok {
		return cached.(*graphql.Object)
	}
	fields := graphql.Fields{}
	for _, fn := range companion.Fields() {
		scalar, ok := scalarOutput(fn.Type)
		if !ok {
			scalar = graphql.Float
		}
		fields[fn.NameInGraphQL] = &graphql.Field{Type: scalar}
	}
	obj := graphql.NewObject(graphql.ObjectConfig{Name: cacheKey, Fields: fields})
	sg.typeCache[cacheKey] = obj
	return obj
}

// subAggregationsType exposes a sub-aggregation connection per nested
// list field.
func (sg *SchemaGenerator) subAggregationsType(t *schema.Type) (*graphql.Object, error) {
	cacheKey := string(t.Name.SubAggregation()) + "s"
	if cached, ok := sg.typeCache[cacheKey]; ok {
		return cached.(*graphql.Object), nil
	}

	fields := graphql.Fields{}
	for _, field := range t.Fields() {
		if !field.List || !field.Nested {
			continue
		}
		elementType, ok := sg.registry.Type(field.Type)
		if !ok {
			continue
		}
		nodeType, err := sg.aggregationNodeType(elementType)
		if err != nil {
			return nil, err
		}
		connection := graphql.NewObject(graphql.ObjectConfig{
			Name: string(t.Name) + camelCase(field.NameInGraphQL) + "SubAggregationConnection",
			Fields: graphql.Fields{
				"nodes":     &graphql.Field{Type: graphql.NewList(nodeType)},
				"page_info": &graphql.Field{Type: sg.pageInfoType},
			},
		})
		fields[field.NameInGraphQL] = &graphql.Field{
			Type: connection,
			Args: graphql.FieldConfigArgument{
				"filter": &graphql.ArgumentConfig{Type: sg.filterInputType(elementType)},
				"first":  &graphql.ArgumentConfig{Type: graphql.Int},
			},
		}
	}
	if len(fields) == 0 {
		return nil, nil
	}
	obj := graphql.NewObject(graphql.ObjectConfig{Name: cacheKey, Fields: fields})
	sg.typeCache[cacheKey] = obj
	return obj, nil
}

// camelCase converts snake_case to CamelCase for generated type names.
func camelCase(name string) string {
	out := make([]rune, 0, len(name))
	upper := true
	for _, r := range name {
		if r == '_' {
			upper = true
			continue
		}
		if upper && r >= 'a' && r <= 'z' {
			r = r - 'a' + 'A'
		}
		upper = false
		out = append(out, r)
	}
	return string(out)
}

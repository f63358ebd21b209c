package gateway

import (
	"fmt"
	"strings"

	"github.com/graphql-go/graphql"

	"github.com/elastigraph/elastigraph/schema"
)

// SchemaGenerator generates the executable GraphQL schema from the
// schema registry: one document connection field and one aggregation
// connection field per indexed type, with filter inputs and sort enums
// derived from the type's fields.
type SchemaGenerator struct {
	registry  *schema.Registry
	resolvers *resolverBuilder

	typeCache  map[string]graphql.Output
	inputCache map[string]graphql.Input

	pageInfoType *graphql.Object
}

// NewSchemaGenerator creates a new schema generator.
func NewSchemaGenerator(registry *schema.Registry, resolvers *resolverBuilder) *SchemaGenerator {
	sg := &SchemaGenerator{
		registry:   registry,
		resolvers:  resolvers,
		typeCache:  make(map[string]graphql.Output),
		inputCache: make(map[string]graphql.Input),
	}
	sg.pageInfoType = sg.createPageInfoType()
	return sg
}

// Generate generates the complete GraphQL schema.
func (sg *SchemaGenerator) Generate() (graphql.Schema, error) {
	queryFields := graphql.Fields{}

	for _, t := range sg.registry.IndexedTypes() {
		if t.Category != schema.CategoryIndexedDocument {
			continue
		}
		docField, err := sg.generateDocumentsField(t)
		if err != nil {
			return graphql.Schema{}, fmt.Errorf("failed to generate query field for %s: %w", t.Name, err)
		}
		queryFields[documentsFieldName(t.Name)] = docField

		aggField, err := sg.generateAggregationsField(t)
		if err != nil {
			return graphql.Schema{}, fmt.Errorf("failed to generate aggregations field for %s: %w", t.Name, err)
		}
		queryFields[aggregationsFieldName(t.Name)] = aggField
	}

	rootQuery := graphql.ObjectConfig{Name: "Query", Fields: queryFields}
	return graphql.NewSchema(graphql.SchemaConfig{Query: graphql.NewObject(rootQuery)})
}

// documentsFieldName turns "Widget" into "widgets".
func documentsFieldName(name schema.TypeRef) string {
	return snakeCase(string(name)) + "s"
}

// aggregationsFieldName turns "Widget" into "widget_aggregations".
func aggregationsFieldName(name schema.TypeRef) string {
	return snakeCase(string(name)) + "_aggregations"
}

func (sg *SchemaGenerator) generateDocumentsField(t *schema.Type) (*graphql.Field, error) {
	docType, err := sg.documentType(t)
	if err != nil {
		return nil, err
	}
	obj, ok := docType.(*graphql.Object)
	if !ok {
		return nil, fmt.Errorf("document type for %s is not an object", t.Name)
	}

	edgeType := graphql.NewObject(graphql.ObjectConfig{
		Name: string(t.Name) + "Edge",
		Fields: graphql.Fields{
			"node":   &graphql.Field{Type: obj},
			"cursor": &graphql.Field{Type: graphql.String},
		},
	})
	connectionType := graphql.NewObject(graphql.ObjectConfig{
		Name: string(t.Name) + "Connection",
		Fields: graphql.Fields{
			"nodes":            &graphql.Field{Type: graphql.NewList(obj)},
			"edges":            &graphql.Field{Type: graphql.NewList(edgeType)},
			"page_info":        &graphql.Field{Type: sg.pageInfoType},
			"total_edge_count": &graphql.Field{Type: graphql.Int},
		},
	})

	return &graphql.Field{
		Type:    connectionType,
		Args:    sg.connectionArguments(t, true),
		Resolve: sg.resolvers.documentsResolver(t.Name),
	}, nil
}

func (sg *SchemaGenerator) generateAggregationsField(t *schema.Type) (*graphql.Field, error) {
	nodeType, err := sg.aggregationNodeType(t)
	if err != nil {
		return nil, err
	}

	edgeType := graphql.NewObject(graphql.ObjectConfig{
		Name: string(t.Name) + "AggregationEdge",
		Fields: graphql.Fields{
			"node":   &graphql.Field{Type: nodeType},
			"cursor": &graphql.Field{Type: graphql.String},
		},
	})
	connectionType := graphql.NewObject(graphql.ObjectConfig{
		Name: string(t.Name) + "AggregationConnection",
		Fields: graphql.Fields{
			"nodes":     &graphql.Field{Type: graphql.NewList(nodeType)},
			"edges":     &graphql.Field{Type: graphql.NewList(edgeType)},
			"page_info": &graphql.Field{Type: sg.pageInfoType},
		},
	})

	return &graphql.Field{
		Type:    connectionType,
		Args:    sg.connectionArguments(t, false),
		Resolve: sg.resolvers.aggregationsResolver(t.Name),
	}, nil
}

func (sg *SchemaGenerator) connectionArguments(t *schema.Type, sortable bool) graphql.FieldConfigArgument {
	args := graphql.FieldConfigArgument{
		"filter": &graphql.ArgumentConfig{Type: sg.filterInputType(t)},
		"first":  &graphql.ArgumentConfig{Type: graphql.Int},
		"after":  &graphql.ArgumentConfig{Type: graphql.String},
		"last":   &graphql.ArgumentConfig{Type: graphql.Int},
		"before": &graphql.ArgumentConfig{Type: graphql.String},
	}
	if sortable {
		if sortEnum := sg.sortEnum(t); sortEnum != nil {
			args["order_by"] = &graphql.ArgumentConfig{Type: graphql.NewList(sortEnum)}
		}
	}
	return args
}

// documentType converts a registry type into a GraphQL object whose
// field resolvers read index-named keys out of the hit source.
func (sg *SchemaGenerator) documentType(t *schema.Type) (graphql.Output, error) {
	cacheKey := string(t.Name)
	if cached, ok := sg.typeCache[cacheKey]; ok {
		return cached, nil
	}

	fields := graphql.Fields{}
	obj := graphql.NewObject(graphql.ObjectConfig{
		Name: string(t.Name),
		Fields: (graphql.FieldsThunk)(func() graphql.Fields {
			return fields
		}),
	})
	sg.typeCache[cacheKey] = obj

	for _, field := range t.Fields() {
		gqlType, err := sg.fieldOutputType(field)
		if err != nil {
			return nil, fmt.Errorf("failed to convert field %s.%s: %w", t.Name, field.NameInGraphQL, err)
		}
		fields[field.NameInGraphQL] = &graphql.Field{
			Type:    gqlType,
			Resolve: sourceFieldResolver(field.NameInIndex),
		}
	}
	return obj, nil
}

func (sg *SchemaGenerator) fieldOutputType(field *schema.Field) (graphql.Output, error) {
	var base graphql.Output
	if scalar, ok := scalarOutput(field.Type); ok {
		base = scalar
	} else if child, ok := sg.registry.Type(field.Type); ok {
		switch child.Category {
		case schema.CategoryEnum:
			base = graphql.String
		case schema.CategoryObject, schema.CategoryIndexedDocument:
			t, err := sg.documentType(child)
			if err != nil {
				return nil, err
			}
			base = t
		default:
			base = graphql.String
		}
	} else {
		base = graphql.String
	}
	if field.List {
		return graphql.NewList(base), nil
	}
	return base, nil
}

func scalarOutput(ref schema.TypeRef) (graphql.Output, bool) {
	switch ref {
	case "ID":
		return graphql.ID, true
	case "String", "DateTime", "Date", "LocalTime":
		return graphql.String, true
	case "Int", "JsonSafeLong":
		return graphql.Int, true
	case "Float":
		return graphql.Float, true
	case "Boolean":
		return graphql.Boolean, true
	}
	return nil, false
}

// filterInputType generates the recursive filter input for a type:
// sub-field filters plus the logical connectives.
func (sg *SchemaGenerator) filterInputType(t *schema.Type) graphql.Input {
	cacheKey := string(t.Name.FilterInput())
	if cached, ok := sg.inputCache[cacheKey]; ok {
		return cached
	}

	fields := graphql.InputObjectConfigFieldMap{}
	input := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: cacheKey,
		Fields: (graphql.InputObjectConfigFieldMapThunk)(func() graphql.InputObjectConfigFieldMap {
			return fields
		}),
	})
	sg.inputCache[cacheKey] = input

	fields["not"] = &graphql.InputObjectFieldConfig{Type: input}
	fields["any_of"] = &graphql.InputObjectFieldConfig{Type: graphql.NewList(input)}
	fields["all_of"] = &graphql.InputObjectFieldConfig{Type: graphql.NewList(input)}

	for _, field := range t.Fields() {
		if field.Relation != nil {
			continue
		}
		fields[field.NameInGraphQL] = &graphql.InputObjectFieldConfig{
			Type: sg.fieldFilterInput(field),
		}
	}
	return input
}

func (sg *SchemaGenerator) fieldFilterInput(field *schema.Field) graphql.Input {
	if child, ok := sg.registry.Type(field.Type); ok && child.Category == schema.CategoryObject {
		inner := sg.filterInputType(child)
		if field.List {
			return sg.listFilterInput(string(field.Type), inner)
		}
		return inner
	}

	scalarName := string(field.Type)
	inner := sg.scalarFilterInput(scalarName)
	if field.List {
		return sg.listFilterInput(scalarName, inner)
	}
	return inner
}

// scalarFilterInput provides the leaf operators for one scalar kind.
func (sg *SchemaGenerator) scalarFilterInput(scalarName string) graphql.Input {
	cacheKey := scalarName + "FilterInput"
	if cached, ok := sg.inputCache[cacheKey]; ok {
		return cached
	}
	scalar, ok := scalarOutput(schema.TypeRef(scalarName))
	if !ok {
		scalar = graphql.String
	}
	fields := graphql.InputObjectConfigFieldMap{
		"equal_to_any_of": &graphql.InputObjectFieldConfig{Type: graphql.NewList(scalar)},
	}
	switch scalarName {
	case "Int", "Float", "JsonSafeLong", "DateTime", "Date", "LocalTime":
		for _, op := range []string{"gt", "gte", "lt", "lte"} {
			fields[op] = &graphql.InputObjectFieldConfig{Type: scalar}
		}
	case "String", "ID":
		fields["matches"] = &graphql.InputObjectFieldConfig{Type: graphql.String}
		fields["contains"] = &graphql.InputObjectFieldConfig{Type: graphql.String}
	}
	input := graphql.NewInputObject(graphql.InputObjectConfig{Name: cacheKey, Fields: fields})
	sg.inputCache[cacheKey] = input
	return input
}

// listFilterInput adds the list predicates around an element filter.
func (sg *SchemaGenerator) listFilterInput(elementName string, element graphql.Input) graphql.Input {
	cacheKey := elementName + "ListFilterInput"
	if cached, ok := sg.inputCache[cacheKey]; ok {
		return cached
	}
	input := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: cacheKey,
		Fields: graphql.InputObjectConfigFieldMap{
			"any_satisfy": &graphql.InputObjectFieldConfig{Type: element},
			"count":       &graphql.InputObjectFieldConfig{Type: sg.scalarFilterInput("Int")},
		},
	})
	sg.inputCache[cacheKey] = input
	return input
}

// sortEnum builds the order_by enum: one _ASC/_DESC pair per sortable
// leaf field.
func (sg *SchemaGenerator) sortEnum(t *schema.Type) *graphql.Enum {
	values := graphql.EnumValueConfigMap{}
	for _, field := range t.Fields() {
		if field.List || field.Relation != nil {
			continue
		}
		if _, isScalar := scalarOutput(field.Type); !isScalar {
			continue
		}
		values[field.NameInGraphQL+"_ASC"] = &graphql.EnumValueConfig{Value: field.NameInGraphQL + "_ASC"}
		values[field.NameInGraphQL+"_DESC"] = &graphql.EnumValueConfig{Value: field.NameInGraphQL + "_DESC"}
	}
	if len(values) == 0 {
		return nil
	}
	return graphql.NewEnum(graphql.EnumConfig{
		Name:   string(t.Name) + "SortOrderInput",
		Values: values,
	})
}

func (sg *SchemaGenerator) createPageInfoType() *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "PageInfo",
		Fields: graphql.Fields{
			"has_next_page":     &graphql.Field{Type: graphql.Boolean},
			"has_previous_page": &graphql.Field{Type: graphql.Boolean},
			"start_cursor":      &graphql.Field{Type: graphql.String},
			"end_cursor":        &graphql.Field{Type: graphql.String},
		},
	})
}

// snakeCase converts a CamelCase type name to snake_case.
func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

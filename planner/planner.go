package planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/graphql-go/graphql"

	"github.com/elastigraph/elastigraph/filtering"
	"github.com/elastigraph/elastigraph/schema"
	"github.com/elastigraph/elastigraph/search"
)

// Connection field names shared by document and aggregation root fields.
const (
	fieldNodes          = "nodes"
	fieldEdges          = "edges"
	fieldNode           = "node"
	fieldCursor         = "cursor"
	fieldPageInfo       = "page_info"
	fieldTotalEdgeCount = "total_edge_count"
	fieldTypename       = "__typename"
)

// Planner walks a GraphQL selection tree and produces one immutable
// datastore query per indexed root field.
type Planner struct {
	Registry *schema.Registry
	Log      logr.Logger

	DefaultPageSize int
	MaxPageSize     int

	// RequestTimeout becomes each query's client-side deadline.
	RequestTimeout time.Duration
}

// PlanDocuments builds the query for a document-connection root field.
func (p *Planner) PlanDocuments(params graphql.ResolveParams, typeName schema.TypeRef) (*search.Query, error) {
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

	userSort, err := p.parseOrderBy(t, sel.Args["order_by"])
	if err != nil {
		return nil, err
	}
	q.Sort = search.BuildSort(userSort, t.DefaultSortFields)

	paginator, err := p.buildPaginator(sel.Args, q.SortKeys())
	if err != nil {
		return nil, err
	}
	q.Paginator = paginator

	p.applyConnectionSelections(q, t, sel)
	return q.Finalize(), nil
}

// applyConnectionSelections inspects which connection fields were
// selected and derives source-field projection and count flags.
func (p *Planner) applyConnectionSelections(q *search.Query, t *schema.Type, sel *Selection) {
	fields := make(map[string]bool)

	if nodes, ok := sel.Child(fieldNodes); ok {
		q.IndividualDocsNeeded = true
		p.collectSourceFields(t, nodes, nil, fields)
	}
	if edges, ok := sel.Child(fieldEdges); ok {
		if edges.HasChild(fieldCursor) {
			q.IndividualDocsNeeded = true
		}
		if node, ok := edges.Child(fieldNode); ok {
			q.IndividualDocsNeeded = true
			p.collectSourceFields(t, node, nil, fields)
		}
	}
	if pageInfo, ok := sel.Child(fieldPageInfo); ok {
		for _, name := range []string{"has_next_page", "has_previous_page", "start_cursor", "end_cursor"} {
			if pageInfo.HasChild(name) {
				q.IndividualDocsNeeded = true
			}
		}
	}
	if sel.HasChild(fieldTotalEdgeCount) {
		q.TotalDocumentCountNeeded = true
	}

	q.RequestedFields = sortedFieldSet(fields)
}

// collectSourceFields gathers the index fields backing a document
// selection, including relation support fields.
func (p *Planner) collectSourceFields(t *schema.Type, sel *Selection, prefix []string, out map[string]bool) {
	if t.Category.Abstract() {
		// Subtype dispatch needs the stored type name no matter what
		// else was selected.
		out[dotted(prefix, fieldTypename)] = true
	}
	for _, child := range sel.Children() {
		if child.Name == fieldTypename {
			// Concrete object types answer __typename statically.
			continue
		}
		field, ok := t.Field(child.Name)
		if !ok {
			continue
		}

		if field.Relation != nil {
			switch field.Relation.Location {
			case schema.RelationForeignKeyOnParent:
				out[dotted(prefix, field.Relation.ForeignKey)] = true
			case schema.RelationForeignKeyOnChild:
				out[dotted(prefix, search.IDFieldName)] = true
			case schema.RelationSelfReferential:
				out[dotted(prefix, field.Relation.ForeignKey)] = true
				out[dotted(prefix, search.IDFieldName)] = true
			}
			continue
		}

		childType, isObject := p.Registry.Type(field.Type)
		if isObject && !child.IsLeaf() && (childType.Category == schema.CategoryObject || childType.Category.Abstract()) {
			childPrefix := append(append([]string{}, prefix...), field.NameInIndex)
			p.collectSourceFields(childType, child, childPrefix, out)
			continue
		}
		out[dotted(prefix, field.NameInIndex)] = true
	}
}

// applyFilters translates the user filter, decides on the
// incomplete-document exclusion, and compiles the final clause.
func (p *Planner) applyFilters(q *search.Query, t *schema.Type, rawFilter any) error {
	var filters []map[string]any

	if rawFilter != nil {
		expr, ok := rawFilter.(map[string]any)
		if !ok {
			return fmt.Errorf("filter argument has unexpected type %T", rawFilter)
		}
		translated, err := filtering.TranslateNames(p.Registry, t.Name, expr)
		if err != nil {
			return err
		}
		if len(translated) > 0 {
			filters = append(filters, translated)
		}
	}

	if t.HasSourcedFields() && couldIncludeIncompleteDocs(p.Registry, t.Name, filters) {
		filters = append(filters, map[string]any{
			schema.SourcesFieldName: map[string]any{
				"equal_to_any_of": []any{schema.SelfSource},
			},
		})
	}

	compiler := &filtering.Compiler{Registry: p.Registry, Log: p.Log}
	clause, err := compiler.CompileAll(t.Name, filters)
	if err != nil {
		return err
	}
	q.Filters = filters
	q.Filter = clause
	return nil
}

func couldIncludeIncompleteDocs(registry *schema.Registry, typeName schema.TypeRef, filters []map[string]any) bool {
	for _, f := range filters {
		if !filtering.CouldMatchIncompleteDocs(registry, typeName, f) {
			return false
		}
	}
	return true
}

// parseOrderBy converts order_by enum values ("name_ASC", "cost_DESC")
// into sort clauses on index fields.
func (p *Planner) parseOrderBy(t *schema.Type, raw any) ([]search.SortClause, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		list = []any{raw}
	}
	var clauses []search.SortClause
	for _, item := range list {
		value, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("order_by value has unexpected type %T", item)
		}
		name, descending, err := splitOrderBy(value)
		if err != nil {
			return nil, err
		}
		field, ok := t.Field(name)
		if !ok {
			return nil, fmt.Errorf("order_by references unknown field %q", name)
		}
		clauses = append(clauses, search.SortClause{FieldInIndex: field.NameInIndex, Descending: descending})
	}
	return clauses, nil
}

func splitOrderBy(value string) (string, bool, error) {
	switch {
	case strings.HasSuffix(value, "_ASC"):
		return strings.TrimSuffix(value, "_ASC"), false, nil
	case strings.HasSuffix(value, "_DESC"):
		return strings.TrimSuffix(value, "_DESC"), true, nil
	}
	return "", false, fmt.Errorf("order_by value %q has no direction suffix", value)
}

func (p *Planner) buildPaginator(args map[string]any, sortKeys []string) (*search.Paginator, error) {
	return search.NewPaginator(
		intArg(args, "first"),
		cursorArg(args, "after"),
		intArg(args, "last"),
		cursorArg(args, "before"),
		sortKeys,
		p.DefaultPageSize,
		p.MaxPageSize,
	)
}

func (p *Planner) clusterFor(typeName schema.TypeRef) string {
	for _, def := range p.Registry.IndicesFor(typeName) {
		return def.QueryCluster
	}
	return ""
}

func intArg(args map[string]any, name string) *int {
	switch v := args[name].(type) {
	case int:
		return &v
	case float64:
		n := int(v)
		return &n
	}
	return nil
}

func cursorArg(args map[string]any, name string) *search.Cursor {
	if s, ok := args[name].(string); ok {
		c := search.Cursor(s)
		return &c
	}
	return nil
}

func dotted(prefix []string, name string) string {
	if len(prefix) == 0 {
		return name
	}
	return strings.Join(prefix, ".") + "." + name
}

func sortedFieldSet(fields map[string]bool) []string {
	out := make([]string, 0, len(fields))
	for f := range fields {
		out = append(out, f)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

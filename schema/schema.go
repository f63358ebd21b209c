package schema

import (
	"fmt"
	"strings"
)

// SelfSource is the distinguished value of the __sources field recorded on
// documents whose own event has been indexed (as opposed to documents that
// only exist because a related type pushed sourced fields into them).
const SelfSource = "__self"

// SourcesFieldName is the hidden index field tracking which event sources
// have contributed to a document.
const SourcesFieldName = "__sources"

// CountsFieldName is the hidden index field holding per-list-field
// cardinalities (see indexer list-count accumulation).
const CountsFieldName = "__counts"

// ListCountsFieldPathSeparator separates path segments in __counts keys.
// A distinct separator keeps count keys unambiguous next to regular
// dotted field paths.
const ListCountsFieldPathSeparator = "|"

// TypeRef is the canonical name of a schema type. Comparable by value.
type TypeRef string

func (t TypeRef) String() string { return string(t) }

// Derived-name variants. The GraphQL surface exposes several companion
// types per indexed type; their names are always derived the same way.
func (t TypeRef) Aggregation() TypeRef      { return t + "Aggregation" }
func (t TypeRef) GroupedBy() TypeRef        { return t + "GroupedBy" }
func (t TypeRef) AggregatedValues() TypeRef { return t + "AggregatedValues" }
func (t TypeRef) FilterInput() TypeRef      { return t + "FilterInput" }
func (t TypeRef) SubAggregation() TypeRef   { return t + "SubAggregation" }

// Category classifies a schema type.
type Category string

const (
	CategoryObject             Category = "object"
	CategoryIndexedDocument    Category = "indexed_document"
	CategoryIndexedAggregation Category = "indexed_aggregation"
	CategoryScalar             Category = "scalar"
	CategoryEnum               Category = "enum"
	CategoryUnion              Category = "union"
	CategoryInterface          Category = "interface"
)

// Abstract reports whether subtype dispatch is needed at query time, in
// which case __typename must always be fetched.
func (c Category) Abstract() bool {
	return c == CategoryUnion || c == CategoryInterface
}

// RelationLocation says where the foreign key of a relation lives.
type RelationLocation string

const (
	// RelationForeignKeyOnParent: the parent document holds the id of the
	// related document.
	RelationForeignKeyOnParent RelationLocation = "parent"
	// RelationForeignKeyOnChild: the related document holds the id of the
	// parent.
	RelationForeignKeyOnChild RelationLocation = "child"
	// RelationSelfReferential: both sides live on the same type.
	RelationSelfReferential RelationLocation = "self"
)

// Relation describes a traversal from one indexed type to another.
type Relation struct {
	ForeignKey string
	Location   RelationLocation
}

// Field is one field of a schema type. The GraphQL name and the index
// name frequently differ; all datastore-facing code must use NameInIndex.
type Field struct {
	NameInGraphQL string
	NameInIndex   string
	Type          TypeRef

	// List reports that the field holds a list of Type.
	List bool
	// Nested reports that a list-of-objects field uses the nested mapping
	// type (queried through a nested clause) rather than a flattened
	// object mapping.
	Nested bool

	// Source names the related type whose events populate this field.
	// Empty for fields populated by the document's own events.
	Source string

	// Function is set on the fields of *AggregatedValues types and names
	// the metric aggregation to run (sum, avg, min, max, cardinality).
	Function string

	// Relation is set on fields that traverse to another indexed type.
	Relation *Relation
}

// SourcedFrom reports whether the field's value arrives via updates from
// another type's events.
func (f *Field) SourcedFrom() bool {
	return f.Source != "" && f.Source != SelfSource
}

// Type is one schema type with its fields in declaration order.
type Type struct {
	Name     TypeRef
	Category Category

	fields      map[string]*Field
	fieldsByIdx map[string]*Field
	fieldOrder  []string

	// Subtypes lists the concrete member types of a union or interface.
	Subtypes []TypeRef

	// DefaultSortFields are the index sort fields applied when a query
	// specifies no order_by, before the id tiebreaker.
	DefaultSortFields []SortField
}

// SortField pairs an index field name with a direction.
type SortField struct {
	FieldInIndex string
	Descending   bool
}

// Field looks a field up by its GraphQL name.
func (t *Type) Field(name string) (*Field, bool) {
	f, ok := t.fields[name]
	return f, ok
}

// FieldByIndexName looks a field up by its datastore name. Used by code
// operating on filter expressions whose keys have already been translated
// to index names.
func (t *Type) FieldByIndexName(name string) (*Field, bool) {
	f, ok := t.fieldsByIdx[name]
	return f, ok
}

// Fields returns the type's fields in declaration order.
func (t *Type) Fields() []*Field {
	out := make([]*Field, 0, len(t.fieldOrder))
	for _, name := range t.fieldOrder {
		out = append(out, t.fields[name])
	}
	return out
}

// HasSourcedFields reports whether any field of the type is populated
// from another type's events. Queries against such types must consider
// excluding incomplete documents.
func (t *Type) HasSourcedFields() bool {
	for _, name := range t.fieldOrder {
		if t.fields[name].SourcedFrom() {
			return true
		}
	}
	return false
}

func (t *Type) addField(f *Field) error {
	if strings.Contains(f.NameInIndex, ListCountsFieldPathSeparator) {
		return fmt.Errorf("%w: field %s.%s index name contains reserved separator %q",
			ErrInvalidArgumentValue, t.Name, f.NameInGraphQL, ListCountsFieldPathSeparator)
	}
	if t.fields == nil {
		t.fields = make(map[string]*Field)
		t.fieldsByIdx = make(map[string]*Field)
	}
	if _, dup := t.fields[f.NameInGraphQL]; dup {
		return &ConfigError{Message: fmt.Sprintf("duplicate field %s on type %s", f.NameInGraphQL, t.Name)}
	}
	t.fields[f.NameInGraphQL] = f
	t.fieldsByIdx[f.NameInIndex] = f
	t.fieldOrder = append(t.fieldOrder, f.NameInGraphQL)
	return nil
}

package schema

import "fmt"

// Script id keys published by the schema artifacts. The values are the
// stored-script ids the indexer references in scripted updates.
const (
	ScriptKeyIndexDataUpdate    = "index_data_update"
	ScriptKeyDerivedIndexUpdate = "derived_index_update"
)

// DerivedTypeDefinition describes a type whose index is maintained
// entirely by scripted updates fired from another type's events.
type DerivedTypeDefinition struct {
	SourceType TypeRef
	TargetType TypeRef

	// IDSource is the dotted record path resolved against the source
	// event's record to obtain the derived document id(s).
	IDSource string

	// RoutingValueSource and RolloverTimestampValueSource are resolved
	// against the prepared record to place the derived document.
	RoutingValueSource           string
	RolloverTimestampValueSource string

	ScriptID string
}

// Registry answers schema metadata lookups in O(1). It is built once from
// the frozen artifacts and never mutated afterwards; it may be shared
// freely across goroutines.
type Registry struct {
	types           map[TypeRef]*Type
	typeOrder       []TypeRef
	indicesByType   map[TypeRef][]*IndexDefinition
	indexByName     map[string]*IndexDefinition
	typeByIndex     map[string]TypeRef
	derivedBySource map[TypeRef][]*DerivedTypeDefinition
	scriptIDs       map[string]string
	jsonSchemas     map[TypeRef]map[int]map[string]any
}

// Type returns the named type.
func (r *Registry) Type(name TypeRef) (*Type, bool) {
	t, ok := r.types[name]
	return t, ok
}

// Field returns the named field of the named type.
func (r *Registry) Field(typeName TypeRef, fieldName string) (*Field, bool) {
	t, ok := r.types[typeName]
	if !ok {
		return nil, false
	}
	return t.Field(fieldName)
}

// IndexedTypes returns every type backed by at least one index, in
// artifact declaration order.
func (r *Registry) IndexedTypes() []*Type {
	var out []*Type
	for _, name := range r.typeOrder {
		if len(r.indicesByType[name]) > 0 {
			out = append(out, r.types[name])
		}
	}
	return out
}

// IndexedType reports whether the named type is backed by an index.
func (r *Registry) IndexedType(name TypeRef) bool {
	return len(r.indicesByType[name]) > 0
}

// IndicesFor returns the index definitions backing a type.
func (r *Registry) IndicesFor(name TypeRef) []*IndexDefinition {
	return r.indicesByType[name]
}

// Index returns the index definition with the given (base) name.
func (r *Registry) Index(name string) (*IndexDefinition, bool) {
	d, ok := r.indexByName[name]
	return d, ok
}

// TypeForIndex returns the type an index backs.
func (r *Registry) TypeForIndex(indexName string) (TypeRef, bool) {
	t, ok := r.typeByIndex[indexName]
	return t, ok
}

// RoutingFieldPaths returns the distinct custom routing field paths of
// the given indices, in index order. Indices without custom routing
// contribute nothing.
func (r *Registry) RoutingFieldPaths(indices []*IndexDefinition) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, idx := range indices {
		if idx.RoutingField == "" || seen[idx.RoutingField] {
			continue
		}
		seen[idx.RoutingField] = true
		paths = append(paths, idx.RoutingField)
	}
	return paths
}

// DerivedTypesFor returns the derived-type definitions sourced from the
// given type's events.
func (r *Registry) DerivedTypesFor(source TypeRef) []*DerivedTypeDefinition {
	return r.derivedBySource[source]
}

// ScriptID resolves a script id key from the artifacts.
func (r *Registry) ScriptID(key string) (string, error) {
	id, ok := r.scriptIDs[key]
	if !ok {
		return "", &ConfigError{Message: fmt.Sprintf("no script id registered under %q", key)}
	}
	return id, nil
}

// JSONSchemaVersions lists the available record schema versions for a
// type, ascending.
func (r *Registry) JSONSchemaVersions(name TypeRef) []int {
	versions := make([]int, 0, len(r.jsonSchemas[name]))
	for v := range r.jsonSchemas[name] {
		versions = append(versions, v)
	}
	for i := 1; i < len(versions); i++ {
		for j := i; j > 0 && versions[j] < versions[j-1]; j-- {
			versions[j], versions[j-1] = versions[j-1], versions[j]
		}
	}
	return versions
}

// JSONSchema returns the record schema for (type, version).
func (r *Registry) JSONSchema(name TypeRef, version int) (map[string]any, bool) {
	s, ok := r.jsonSchemas[name][version]
	return s, ok
}

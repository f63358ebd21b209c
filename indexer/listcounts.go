package indexer

import (
	"github.com/elastigraph/elastigraph/schema"
)

// listCounts computes the __counts map for a record: list-field dotted
// paths (with "|" separators) mapped to their cardinality.
//
// Accumulation rules:
//   - nil list elements and nil leaf scalars are not counted;
//   - nested-object lists contribute only their own count (their
//     children's counts live in each nested document's own __counts);
//   - plain object lists contribute their own count plus the summed
//     counts of every list-valued descendant across elements.
//
// Returns nil when the type declares no list fields at all, so the
// __counts field is omitted entirely.
func listCounts(registry *schema.Registry, typeName schema.TypeRef, record map[string]any) map[string]int {
	t, ok := registry.Type(typeName)
	if !ok || !hasListFields(registry, t, make(map[schema.TypeRef]bool)) {
		return nil
	}
	counts := make(map[string]int)
	accumulateCounts(registry, t, record, "", counts)
	return counts
}

func hasListFields(registry *schema.Registry, t *schema.Type, visiting map[schema.TypeRef]bool) bool {
	if visiting[t.Name] {
		return false
	}
	visiting[t.Name] = true
	defer delete(visiting, t.Name)
	for _, f := range t.Fields() {
		if f.List {
			return true
		}
		if child, ok := registry.Type(f.Type); ok && child.Category == schema.CategoryObject {
			if hasListFields(registry, child, visiting) {
				return true
			}
		}
	}
	return false
}

func accumulateCounts(registry *schema.Registry, t *schema.Type, record map[string]any, prefix string, counts map[string]int) {
	for _, field := range t.Fields() {
		key := field.NameInIndex
		path := key
		if prefix != "" {
			path = prefix + schema.ListCountsFieldPathSeparator + key
		}
		value := record[field.NameInGraphQL]

		if field.List {
			elements, _ := value.([]any)
			n := 0
			for _, el := range elements {
				if el != nil {
					n++
				}
			}
			counts[path] += n

			if field.Nested {
				// Nested documents carry their own __counts.
				continue
			}
			if elementType, ok := registry.Type(field.Type); ok && elementType.Category == schema.CategoryObject {
				// Flattened object lists fold their descendants' list
				// counts into the parent document.
				for _, el := range elements {
					if m, ok := el.(map[string]any); ok {
						accumulateCounts(registry, elementType, m, path, counts)
					}
				}
			}
			continue
		}

		if childType, ok := registry.Type(field.Type); ok && childType.Category == schema.CategoryObject {
			if m, ok := value.(map[string]any); ok {
				accumulateCounts(registry, childType, m, path, counts)
			}
		}
	}
}

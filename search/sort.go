package search

import "github.com/elastigraph/elastigraph/schema"

// IDFieldName is the canonical document id field, always appended as the
// final sort tiebreaker so pagination is total-ordered.
const IDFieldName = "id"

// SortClause is one sort criterion on an index field.
type SortClause struct {
	FieldInIndex string
	Descending   bool
}

func (s SortClause) direction(reversed bool) string {
	if s.Descending != reversed {
		return "desc"
	}
	return "asc"
}

// BuildSort resolves the effective sort: the user's sorts if any,
// otherwise the type's defaults, always followed by the id tiebreaker.
// A user sort on a key already present earlier is dropped rather than
// duplicated.
func BuildSort(user []SortClause, defaults []schema.SortField) []SortClause {
	clauses := user
	if len(clauses) == 0 {
		clauses = make([]SortClause, 0, len(defaults))
		for _, d := range defaults {
			clauses = append(clauses, SortClause{FieldInIndex: d.FieldInIndex, Descending: d.Descending})
		}
	}

	seen := make(map[string]bool, len(clauses)+1)
	out := make([]SortClause, 0, len(clauses)+1)
	for _, c := range clauses {
		if seen[c.FieldInIndex] {
			continue
		}
		seen[c.FieldInIndex] = true
		out = append(out, c)
	}
	if !seen[IDFieldName] {
		out = append(out, SortClause{FieldInIndex: IDFieldName})
	}
	return out
}

// renderSort produces the search-body sort list. reversed flips every
// direction, used when paginating backwards.
func renderSort(clauses []SortClause, reversed bool) []any {
	out := make([]any, len(clauses))
	for i, c := range clauses {
		out[i] = map[string]any{c.FieldInIndex: map[string]any{"order": c.direction(reversed)}}
	}
	return out
}

// sortKeys returns the field names of the clauses in order, for cursor
// validation.
func sortKeys(clauses []SortClause) []string {
	keys := make([]string, len(clauses))
	for i, c := range clauses {
		keys[i] = c.FieldInIndex
	}
	return keys
}

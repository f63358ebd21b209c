package filtering

// Occurrence names within a datastore bool query.
const (
	occurMust    = "must"
	occurFilter  = "filter"
	occurShould  = "should"
	occurMustNot = "must_not"
)

// MatchNoneClause is the canonical always-false query clause.
func MatchNoneClause() map[string]any {
	return map[string]any{"match_none": map[string]any{}}
}

// boolBuilder accumulates clauses for one bool query while a filter
// expression is compiled. Render produces the final JSON shape.
type boolBuilder struct {
	clauses map[string][]map[string]any

	// ranges indexes range clauses by field so later bounds on the same
	// field deep-merge instead of appending a second clause. Keeping one
	// range clause per field preserves any_satisfy semantics on lists.
	ranges map[string]map[string]any
}

func newBoolBuilder() *boolBuilder {
	return &boolBuilder{
		clauses: make(map[string][]map[string]any),
		ranges:  make(map[string]map[string]any),
	}
}

func (b *boolBuilder) add(occurrence string, clause map[string]any) {
	b.clauses[occurrence] = append(b.clauses[occurrence], clause)
}

// addRangeBound merges one range bound (gt/gte/lt/lte or other range
// params) into the field's single range clause.
func (b *boolBuilder) addRangeBound(occurrence, field, operator string, value any) {
	existing, ok := b.ranges[occurrence+"\x00"+field]
	if !ok {
		existing = make(map[string]any)
		b.ranges[occurrence+"\x00"+field] = existing
		b.add(occurrence, map[string]any{"range": map[string]any{field: existing}})
	}
	existing[operator] = value
}

// markAlwaysFalse replaces accumulated state with the canonical
// always-false filter.
func (b *boolBuilder) markAlwaysFalse() {
	b.clauses = map[string][]map[string]any{occurFilter: {MatchNoneClause()}}
	b.ranges = make(map[string]map[string]any)
}

func (b *boolBuilder) alwaysFalse() bool {
	fs := b.clauses[occurFilter]
	if len(fs) != 1 {
		return false
	}
	_, ok := fs[0]["match_none"]
	return ok && len(b.clauses[occurMust]) == 0 && len(b.clauses[occurShould]) == 0 && len(b.clauses[occurMustNot]) == 0
}

func (b *boolBuilder) empty() bool {
	for _, list := range b.clauses {
		if len(list) > 0 {
			return false
		}
	}
	return true
}

// requiredMatchingClauses counts clauses that each must independently
// match a document. Used to validate any_satisfy on scalar lists.
func (b *boolBuilder) requiredMatchingClauses() int {
	n := len(b.clauses[occurMust]) + len(b.clauses[occurFilter]) + len(b.clauses[occurMustNot])
	if len(b.clauses[occurShould]) > 0 && n > 0 {
		// A should group alongside required clauses is itself one more
		// required match.
		n++
	}
	return n
}

// render returns the {"bool": …} clause, or nil when no clauses
// accumulated (always-true).
func (b *boolBuilder) render() map[string]any {
	if b.empty() {
		return nil
	}
	body := make(map[string]any, len(b.clauses)+1)
	for occurrence, list := range b.clauses {
		if len(list) == 0 {
			continue
		}
		rendered := make([]any, len(list))
		for i, c := range list {
			rendered[i] = c
		}
		body[occurrence] = rendered
	}
	if len(b.clauses[occurShould]) > 0 {
		// should with sibling must/filter is not implicitly required;
		// always say what we mean.
		body["minimum_should_match"] = 1
	}
	return map[string]any{"bool": body}
}

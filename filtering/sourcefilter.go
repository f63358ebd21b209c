package filtering

import "github.com/elastigraph/elastigraph/schema"

// Types with fields sourced from other types' events accumulate
// "incomplete" documents: created by a related event before their own
// event arrived, with null in every self-populated field. Queries against
// such types AND in an exclusion filter on __sources — unless the user's
// filter already provably excludes incomplete documents, in which case
// the extra clause is dead weight on every shard.
//
// CouldMatchIncompleteDocs is that proof. It answers whether any document
// whose self-populated fields are all null could satisfy the expression
// (keyed by index names). The analysis errs toward true: correctness
// beats efficiency, so "don't know" means "keep the exclusion filter".
func CouldMatchIncompleteDocs(registry *schema.Registry, typeName schema.TypeRef, expr map[string]any) bool {
	return couldMatch(registry, typeName, expr)
}

func couldMatch(registry *schema.Registry, typeName schema.TypeRef, expr map[string]any) bool {
	for key, value := range expr {
		if emptyExpression(value) {
			continue
		}
		switch {
		case key == keyNot:
			sub, ok := value.(map[string]any)
			if !ok {
				return true
			}
			// An incomplete document matches not(X) exactly when X is
			// not guaranteed to match every incomplete document.
			if mustMatch(registry, typeName, sub) {
				return false
			}
		case key == keyAnyOf:
			if !anyBranch(value, func(sub map[string]any) bool {
				return couldMatch(registry, typeName, sub)
			}) {
				return false
			}
		case key == keyAllOf:
			if !allBranches(value, func(sub map[string]any) bool {
				return couldMatch(registry, typeName, sub)
			}) {
				return false
			}
		default:
			if !fieldCouldMatch(registry, typeName, key, value) {
				return false
			}
		}
	}
	return true
}

// mustMatch reports whether every incomplete document satisfies the
// expression. False means "cannot prove", never "provably not".
func mustMatch(registry *schema.Registry, typeName schema.TypeRef, expr map[string]any) bool {
	for key, value := range expr {
		if emptyExpression(value) {
			continue
		}
		switch {
		case key == keyNot:
			sub, ok := value.(map[string]any)
			if !ok {
				return false
			}
			if couldMatch(registry, typeName, sub) {
				return false
			}
		case key == keyAnyOf:
			if !anyBranch(value, func(sub map[string]any) bool {
				return mustMatch(registry, typeName, sub)
			}) {
				return false
			}
		case key == keyAllOf:
			if !allBranches(value, func(sub map[string]any) bool {
				return mustMatch(registry, typeName, sub)
			}) {
				return false
			}
		default:
			if !fieldMustMatch(registry, typeName, key, value) {
				return false
			}
		}
	}
	return true
}

func fieldCouldMatch(registry *schema.Registry, typeName schema.TypeRef, key string, value any) bool {
	field := fieldByIndexName(registry, typeName, key)
	sub, ok := value.(map[string]any)
	if !ok {
		return true
	}
	if field == nil || field.SourcedFrom() {
		// Foreign-sourced fields carry values on incomplete documents,
		// so no predicate on them can exclude those documents. Unknown
		// keys get the conservative answer.
		return !filterUnsatisfiable(sub)
	}

	// Self-populated field: null on incomplete documents.
	for op, operand := range sub {
		if emptyExpression(operand) {
			continue
		}
		switch op {
		case "equal_to_any_of":
			list, ok := operand.([]any)
			if !ok {
				return true
			}
			if len(list) == 0 {
				// Matches no document at all; the exclusion filter is
				// redundant.
				return false
			}
			// A non-empty list keeps the exclusion filter, whether or
			// not it includes null.
		case "gt", "gte", "lt", "lte", "matches", "contains":
			// A null never satisfies a range or text predicate.
			return false
		case keyCount:
			countSub, ok := operand.(map[string]any)
			if ok && !countPredicateMatchesZero(countSub) {
				return false
			}
		case keyAnySatisfy:
			// An empty list has no satisfying element.
			return false
		default:
			if !fieldCouldMatch(registry, field.Type, op, operand) {
				return false
			}
		}
	}
	return true
}

func fieldMustMatch(registry *schema.Registry, typeName schema.TypeRef, key string, value any) bool {
	field := fieldByIndexName(registry, typeName, key)
	sub, ok := value.(map[string]any)
	if !ok {
		return false
	}
	if field == nil || field.SourcedFrom() {
		return false
	}
	for op, operand := range sub {
		if emptyExpression(operand) {
			continue
		}
		switch op {
		case "equal_to_any_of":
			list, ok := operand.([]any)
			if !ok || !containsNull(list) {
				return false
			}
		case keyCount:
			countSub, ok := operand.(map[string]any)
			if !ok || !countPredicateMatchesZero(countSub) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// filterUnsatisfiable spots the one easily-provable contradiction:
// equal_to_any_of with an empty list.
func filterUnsatisfiable(expr map[string]any) bool {
	for op, operand := range expr {
		if op == "equal_to_any_of" {
			if list, ok := operand.([]any); ok && len(list) == 0 {
				return true
			}
		}
	}
	return false
}

func fieldByIndexName(registry *schema.Registry, typeName schema.TypeRef, key string) *schema.Field {
	t, ok := registry.Type(typeName)
	if !ok {
		return nil
	}
	f, _ := t.FieldByIndexName(key)
	return f
}

func containsNull(list []any) bool {
	for _, v := range list {
		if v == nil {
			return true
		}
	}
	return false
}

func anyBranch(value any, pred func(map[string]any) bool) bool {
	list, ok := value.([]any)
	if !ok {
		return true
	}
	for _, element := range list {
		sub, ok := element.(map[string]any)
		if !ok {
			return true
		}
		if pred(sub) {
			return true
		}
	}
	return false
}

func allBranches(value any, pred func(map[string]any) bool) bool {
	list, ok := value.([]any)
	if !ok {
		return true
	}
	for _, element := range list {
		sub, ok := element.(map[string]any)
		if !ok {
			continue
		}
		if !pred(sub) {
			return false
		}
	}
	return true
}

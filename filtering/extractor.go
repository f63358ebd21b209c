package filtering

import (
	"strings"
	"time"

	"github.com/elastigraph/elastigraph/timeset"
)

// The value-set extractor answers "which values of field X could a
// document matching this filter have?". It powers shard-routing
// restriction (string value sets) and rollover index pruning (time
// sets). The two share one traversal over a small algebra; the negate
// flag flips union and intersection at every step (De Morgan), and any
// predicate the extractor cannot reason about degrades to the
// unrestricted set, never the empty one.

type setOps[S any] struct {
	all       S
	empty     S
	union     func(S, S) S
	intersect func(S, S) S
	// leaf interprets one operator applied to the target field.
	// Implementations must be conservative: when in doubt, return all.
	leaf func(op string, value any, negate bool) S
}

// ExtractValueSet computes the set of values the target field (dotted
// index path) can hold in documents matching the expression. The
// expression must already be keyed by index names (see TranslateNames).
func ExtractValueSet(expr map[string]any, targetPath string) ValueSet {
	ops := setOps[ValueSet]{
		all:       AllValues,
		empty:     NoValues,
		union:     func(a, b ValueSet) ValueSet { return a.Union(b) },
		intersect: func(a, b ValueSet) ValueSet { return a.Intersect(b) },
		leaf:      routingLeaf,
	}
	return extract(ops, expr, strings.Split(targetPath, "."), 0, false)
}

// ExtractTimeSet computes the set of timestamps the target field can
// hold in documents matching the expression.
func ExtractTimeSet(expr map[string]any, targetPath string) *timeset.Set {
	ops := setOps[*timeset.Set]{
		all:       timeset.All,
		empty:     timeset.Empty,
		union:     func(a, b *timeset.Set) *timeset.Set { return a.Union(b) },
		intersect: func(a, b *timeset.Set) *timeset.Set { return a.Intersect(b) },
		leaf:      timeLeaf,
	}
	return extract(ops, expr, strings.Split(targetPath, "."), 0, false)
}

func extract[S any](ops setOps[S], expr map[string]any, target []string, depth int, negate bool) S {
	combine := ops.intersect
	identity := ops.all
	if negate {
		combine = ops.union
		identity = ops.empty
	}

	result := identity
	first := true
	accumulate := func(s S) {
		if first {
			result = s
			first = false
		} else {
			result = combine(result, s)
		}
	}

	for key, value := range expr {
		switch {
		case emptyExpression(value):
			// Vacuously true; true contributes all to an AND and its
			// negation contributes nothing to an OR.
			accumulate(identity)
		case key == keyNot:
			sub, ok := value.(map[string]any)
			if !ok {
				accumulate(ops.all)
				continue
			}
			accumulate(extract(ops, sub, target, depth, !negate))
		case key == keyAnyOf:
			accumulate(extractAnyOf(ops, value, target, depth, negate))
		case key == keyAllOf:
			list, ok := value.([]any)
			if !ok {
				accumulate(ops.all)
				continue
			}
			branch := identity
			for _, element := range list {
				sub, ok := element.(map[string]any)
				if !ok {
					branch = combine(branch, ops.all)
					continue
				}
				branch = combine(branch, extract(ops, sub, target, depth, negate))
			}
			accumulate(branch)
		case key == keyAnySatisfy:
			sub, ok := value.(map[string]any)
			if !ok {
				accumulate(ops.all)
				continue
			}
			accumulate(extract(ops, sub, target, depth, negate))
		case leafOperators[key]:
			if depth == len(target) {
				accumulate(ops.leaf(key, value, negate))
			} else {
				accumulate(ops.all)
			}
		default:
			sub, isMap := value.(map[string]any)
			if isMap && depth < len(target) && key == target[depth] {
				accumulate(extract(ops, sub, target, depth+1, negate))
			} else {
				// A predicate on some other field cannot restrict the
				// target either way.
				accumulate(ops.all)
			}
		}
	}
	return result
}

func extractAnyOf[S any](ops setOps[S], value any, target []string, depth int, negate bool) S {
	// De Morgan: a negated disjunction combines with intersection.
	combine := ops.union
	identity := ops.empty
	if negate {
		combine = ops.intersect
		identity = ops.all
	}
	list, ok := value.([]any)
	if !ok {
		return ops.all
	}
	result := identity
	for _, element := range list {
		sub, ok := element.(map[string]any)
		if !ok {
			return ops.all
		}
		result = combine(result, extract(ops, sub, target, depth, negate))
	}
	return result
}

func routingLeaf(op string, value any, negate bool) ValueSet {
	if op != "equal_to_any_of" {
		return AllValues
	}
	list, ok := value.([]any)
	if !ok {
		return AllValues
	}
	values := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			// A null (or otherwise non-string) equality value defeats
			// routing restriction.
			return AllValues
		}
		values = append(values, s)
	}
	set := ConcreteValueSet(values...)
	if negate {
		return set.Negate()
	}
	return set
}

func timeLeaf(op string, value any, negate bool) *timeset.Set {
	var set *timeset.Set
	switch op {
	case "equal_to_any_of":
		list, ok := value.([]any)
		if !ok {
			return timeset.All
		}
		set = timeset.Empty
		for _, v := range list {
			t, ok := parseTime(v)
			if !ok {
				return timeset.All
			}
			set = set.Union(timeset.Single(t))
		}
	case "gt", "gte", "lt", "lte":
		t, ok := parseTime(value)
		if !ok {
			return timeset.All
		}
		switch op {
		case "gt":
			set = timeset.GreaterThan(t)
		case "gte":
			set = timeset.GreaterThanOrEqual(t)
		case "lt":
			set = timeset.LessThan(t)
		case "lte":
			set = timeset.LessThanOrEqual(t)
		}
	default:
		return timeset.All
	}
	if negate {
		return set.Negate()
	}
	return set
}

func parseTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case time.Time:
		return v, true
	}
	return time.Time{}, false
}

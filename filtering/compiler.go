package filtering

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-logr/logr"

	"github.com/elastigraph/elastigraph/schema"
)

// Connective and predicate keys understood by the compiler. Any other key
// is either a schema field name or an unknown element ignored for forward
// compatibility.
const (
	keyNot        = "not"
	keyAnyOf      = "any_of"
	keyAllOf      = "all_of"
	keyAnySatisfy = "any_satisfy"
	keyCount      = "count"
)

var leafOperators = map[string]bool{
	"equal_to_any_of": true,
	"gt":              true,
	"gte":             true,
	"lt":              true,
	"lte":             true,
	"matches":         true,
	"contains":        true,
}

// Compiler translates filter expression trees into datastore boolean
// queries. It is stateless and safe for concurrent use.
type Compiler struct {
	Registry *schema.Registry
	Log      logr.Logger
}

// pathContext tracks where in the schema a sub-expression applies.
type pathContext struct {
	typeName schema.TypeRef
	field    *schema.Field

	// path is the full dotted index path from the search root.
	path []string
	// countScope is the index path within the enclosing document scope;
	// it resets when descending through a nested list because nested
	// documents carry their own __counts field.
	countScope []string
}

func (ctx pathContext) dotted() string { return strings.Join(ctx.path, ".") }

func (ctx pathContext) countsField() string {
	prefix := ctx.path[:len(ctx.path)-len(ctx.countScope)]
	field := schema.CountsFieldName + "." + strings.Join(ctx.countScope, schema.ListCountsFieldPathSeparator)
	if len(prefix) == 0 {
		return field
	}
	return strings.Join(prefix, ".") + "." + field
}

// Compile translates one filter expression (keyed by index field names;
// see TranslateNames) rooted at the given type into a query clause, or
// nil when the expression is vacuously true.
func (c *Compiler) Compile(typeName schema.TypeRef, expr map[string]any) (map[string]any, error) {
	b := newBoolBuilder()
	if err := c.process(b, pathContext{typeName: typeName}, expr); err != nil {
		return nil, err
	}
	return b.render(), nil
}

// CompileAll ANDs several filter expressions into one clause.
func (c *Compiler) CompileAll(typeName schema.TypeRef, exprs []map[string]any) (map[string]any, error) {
	b := newBoolBuilder()
	for _, expr := range exprs {
		if err := c.process(b, pathContext{typeName: typeName}, expr); err != nil {
			return nil, err
		}
	}
	return b.render(), nil
}

func (c *Compiler) process(b *boolBuilder, ctx pathContext, expr map[string]any) error {
	for _, key := range sortedKeys(expr) {
		value := expr[key]
		if emptyExpression(value) && key != keyAnyOf && key != keyAllOf {
			continue
		}
		var err error
		switch {
		case key == keyNot:
			err = c.processNot(b, ctx, value)
		case key == keyAnyOf:
			err = c.processAnyOf(b, ctx, value)
		case key == keyAllOf:
			err = c.processAllOf(b, ctx, value)
		case key == keyAnySatisfy:
			err = c.processAnySatisfy(b, ctx, value)
		case key == keyCount:
			err = c.processCount(b, ctx, value)
		case leafOperators[key]:
			err = c.processOperator(b, ctx, key, value)
		default:
			err = c.processSubField(b, ctx, key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) processNot(b *boolBuilder, ctx pathContext, value any) error {
	sub, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("not expects an object, got %T", value)
	}
	inner := newBoolBuilder()
	if err := c.process(inner, ctx, sub); err != nil {
		return err
	}
	switch {
	case inner.empty():
		// not(true) is false.
		b.markAlwaysFalse()
	case inner.alwaysFalse():
		// not(false) is true; contribute nothing.
	default:
		rendered := inner.render()
		if lifted, ok := liftDoubleNegation(rendered); ok {
			b.add(occurFilter, lifted)
		} else {
			b.add(occurMustNot, rendered)
		}
	}
	return nil
}

// liftDoubleNegation collapses not(not(x)) to x when the inner bool holds
// nothing but a single must_not clause.
func liftDoubleNegation(clause map[string]any) (map[string]any, bool) {
	boolBody, ok := clause["bool"].(map[string]any)
	if !ok || len(boolBody) != 1 {
		return nil, false
	}
	mustNot, ok := boolBody[occurMustNot].([]any)
	if !ok || len(mustNot) != 1 {
		return nil, false
	}
	lifted, ok := mustNot[0].(map[string]any)
	return lifted, ok
}

func (c *Compiler) processAnyOf(b *boolBuilder, ctx pathContext, value any) error {
	list, ok := asList(value)
	if !ok {
		return fmt.Errorf("any_of expects a list, got %T", value)
	}
	if len(list) == 0 {
		b.markAlwaysFalse()
		return nil
	}
	var branches []any
	for _, element := range list {
		sub, ok := element.(map[string]any)
		if !ok {
			return fmt.Errorf("any_of expects a list of objects, got %T", element)
		}
		inner := newBoolBuilder()
		if err := c.process(inner, ctx, sub); err != nil {
			return err
		}
		if inner.empty() {
			// One vacuously-true branch makes the whole disjunction true.
			return nil
		}
		if inner.alwaysFalse() {
			continue
		}
		branches = append(branches, inner.render())
	}
	if len(branches) == 0 {
		b.markAlwaysFalse()
		return nil
	}
	b.add(occurFilter, map[string]any{"bool": map[string]any{
		occurShould:            branches,
		"minimum_should_match": 1,
	}})
	return nil
}

func (c *Compiler) processAllOf(b *boolBuilder, ctx pathContext, value any) error {
	list, ok := asList(value)
	if !ok {
		return fmt.Errorf("all_of expects a list, got %T", value)
	}
	for _, element := range list {
		sub, ok := element.(map[string]any)
		if !ok {
			return fmt.Errorf("all_of expects a list of objects, got %T", element)
		}
		if err := c.process(b, ctx, sub); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) processAnySatisfy(b *boolBuilder, ctx pathContext, value any) error {
	sub, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("any_satisfy expects an object, got %T", value)
	}
	if ctx.field == nil || !ctx.field.List {
		return fmt.Errorf("any_satisfy applied outside a list field at %q", ctx.dotted())
	}

	if ctx.field.Nested {
		elementCtx := pathContext{typeName: ctx.field.Type, path: ctx.path}
		inner := newBoolBuilder()
		if err := c.process(inner, elementCtx, sub); err != nil {
			return err
		}
		rendered := inner.render()
		if rendered == nil {
			return nil
		}
		b.add(occurFilter, map[string]any{"nested": map[string]any{
			"path":  ctx.dotted(),
			"query": rendered,
		}})
		return nil
	}

	// Scalar list: clauses apply to the list field directly and are
	// inlined. More than one required matching clause would let each
	// clause match a different element, which is not what any_satisfy
	// promises, so we reject it.
	inner := newBoolBuilder()
	if err := c.process(inner, ctx, sub); err != nil {
		return err
	}
	if inner.requiredMatchingClauses() > 1 {
		return &QueryValidationError{Message: fmt.Sprintf(
			"`any_satisfy: %s` is not supported because it produces multiple clauses that must all match, and the datastore would allow each clause to match a different list element",
			ctx.field.NameInGraphQL)}
	}
	for occurrence, clauses := range inner.clauses {
		for _, clause := range clauses {
			b.add(occurrence, clause)
		}
	}
	return nil
}

func (c *Compiler) processCount(b *boolBuilder, ctx pathContext, value any) error {
	sub, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("count expects an object, got %T", value)
	}
	if ctx.field == nil || !ctx.field.List {
		return fmt.Errorf("count applied outside a list field at %q", ctx.dotted())
	}
	if len(sub) == 0 {
		return nil
	}

	field := ctx.countsField()
	predicate := newBoolBuilder()
	for _, op := range sortedKeys(sub) {
		if !leafOperators[op] {
			c.Log.V(1).Info("ignoring unknown count predicate", "operator", op, "field", ctx.dotted())
			continue
		}
		if err := c.applyOperator(predicate, field, op, sub[op]); err != nil {
			return err
		}
	}
	rendered := predicate.render()
	if rendered == nil {
		return nil
	}

	if countPredicateMatchesZero(sub) {
		// A document with no values has no __counts entry at all; a
		// predicate satisfiable by zero must also accept the missing
		// field.
		b.add(occurFilter, map[string]any{"bool": map[string]any{
			occurShould: []any{
				rendered,
				map[string]any{"bool": map[string]any{
					occurMustNot: []any{map[string]any{"exists": map[string]any{"field": field}}},
				}},
			},
			"minimum_should_match": 1,
		}})
		return nil
	}
	b.add(occurFilter, rendered)
	return nil
}

// countPredicateMatchesZero evaluates the count predicate against 0.
func countPredicateMatchesZero(predicate map[string]any) bool {
	for op, value := range predicate {
		switch op {
		case "gt":
			if f, ok := toFloat(value); !ok || 0 <= f {
				return false
			}
		case "gte":
			if f, ok := toFloat(value); !ok || 0 < f {
				return false
			}
		case "lt":
			if f, ok := toFloat(value); !ok || 0 >= f {
				return false
			}
		case "lte":
			if f, ok := toFloat(value); !ok || 0 > f {
				return false
			}
		case "equal_to_any_of":
			list, _ := asList(value)
			found := false
			for _, v := range list {
				if f, ok := toFloat(v); ok && f == 0 {
					found = true
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

func (c *Compiler) processSubField(b *boolBuilder, ctx pathContext, key string, value any) error {
	sub, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("filter on field %s expects an object, got %T", key, value)
	}

	var field *schema.Field
	if parent, ok := c.Registry.Type(ctx.typeName); ok {
		field, _ = parent.FieldByIndexName(key)
	}
	if field == nil {
		if !strings.HasPrefix(key, "__") {
			c.Log.V(1).Info("ignoring unknown filter key", "type", ctx.typeName, "key", key)
			return nil
		}
		// Hidden index fields (__sources and friends) have no schema
		// entry; filter them by their raw name.
		childCtx := pathContext{
			path:       append(append([]string{}, ctx.path...), key),
			countScope: append(append([]string{}, ctx.countScope...), key),
		}
		return c.process(b, childCtx, sub)
	}

	childCtx := pathContext{
		typeName:   field.Type,
		field:      field,
		path:       append(append([]string{}, ctx.path...), field.NameInIndex),
		countScope: append(append([]string{}, ctx.countScope...), field.NameInIndex),
	}
	return c.process(b, childCtx, sub)
}

func (c *Compiler) processOperator(b *boolBuilder, ctx pathContext, op string, value any) error {
	if len(ctx.path) == 0 {
		return fmt.Errorf("operator %s applied at the filter root", op)
	}
	return c.applyOperator(b, ctx.dotted(), op, value)
}

func (c *Compiler) applyOperator(b *boolBuilder, field, op string, value any) error {
	switch op {
	case "equal_to_any_of":
		list, ok := asList(value)
		if !ok {
			return fmt.Errorf("equal_to_any_of on %s expects a list, got %T", field, value)
		}
		c.applyEqualToAnyOf(b, field, list)
	case "gt", "gte", "lt", "lte":
		b.addRangeBound(occurFilter, field, op, value)
	case "matches":
		b.add(occurMust, map[string]any{"match": map[string]any{field: value}})
	case "contains":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("contains on %s expects a string, got %T", field, value)
		}
		b.add(occurFilter, map[string]any{"wildcard": map[string]any{
			field: map[string]any{"value": "*" + s + "*"},
		}})
	default:
		c.Log.V(1).Info("ignoring unknown filter operator", "operator", op, "field", field)
	}
	return nil
}

func (c *Compiler) applyEqualToAnyOf(b *boolBuilder, field string, values []any) {
	var concrete []any
	hasNull := false
	for _, v := range values {
		if v == nil {
			hasNull = true
		} else {
			concrete = append(concrete, v)
		}
	}
	switch {
	case len(values) == 0:
		// equal_to_any_of: [] matches nothing.
		b.markAlwaysFalse()
	case hasNull && len(concrete) == 0:
		b.add(occurFilter, map[string]any{"bool": map[string]any{
			occurMustNot: []any{map[string]any{"exists": map[string]any{"field": field}}},
		}})
	case hasNull:
		b.add(occurFilter, map[string]any{"bool": map[string]any{
			occurShould: []any{
				map[string]any{"terms": map[string]any{field: concrete}},
				map[string]any{"bool": map[string]any{
					occurMustNot: []any{map[string]any{"exists": map[string]any{"field": field}}},
				}},
			},
			"minimum_should_match": 1,
		}})
	default:
		b.add(occurFilter, map[string]any{"terms": map[string]any{field: concrete}})
	}
}

// emptyExpression reports values the spec treats as vacuously true.
func emptyExpression(value any) bool {
	if value == nil {
		return true
	}
	if m, ok := value.(map[string]any); ok {
		return len(m) == 0
	}
	return false
}

func asList(value any) ([]any, bool) {
	list, ok := value.([]any)
	return list, ok
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	}
	return 0, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

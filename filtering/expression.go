package filtering

import (
	"fmt"

	"github.com/elastigraph/elastigraph/schema"
)

// TranslateNames rewrites a filter expression keyed by GraphQL field
// names into the equivalent expression keyed by index field names. The
// result is the canonical "filter hash" attached to a datastore query:
// everything downstream (bool compilation, value-set extraction, query
// shape comparison) operates on index names.
//
// Connective, predicate, and operator keys pass through untranslated, as
// do keys already naming hidden index fields (the __-prefixed ones).
// Unknown keys pass through untouched; the compiler logs and ignores
// them.
func TranslateNames(registry *schema.Registry, typeName schema.TypeRef, expr map[string]any) (map[string]any, error) {
	if expr == nil {
		return nil, nil
	}
	out := make(map[string]any, len(expr))
	for key, value := range expr {
		switch {
		case key == keyNot, key == keyAnySatisfy, key == keyCount:
			sub, ok := value.(map[string]any)
			if !ok && value != nil {
				return nil, fmt.Errorf("%s expects an object, got %T", key, value)
			}
			// any_satisfy descends into the list element type; count's
			// operand is an operator-only predicate so the type is moot.
			translated, err := TranslateNames(registry, typeName, sub)
			if err != nil {
				return nil, err
			}
			out[key] = anyOrNil(translated, value)
		case key == keyAnyOf, key == keyAllOf:
			list, ok := value.([]any)
			if !ok && value != nil {
				return nil, fmt.Errorf("%s expects a list, got %T", key, value)
			}
			outList := make([]any, 0, len(list))
			for _, element := range list {
				sub, ok := element.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("%s expects a list of objects, got %T", key, element)
				}
				translated, err := TranslateNames(registry, typeName, sub)
				if err != nil {
					return nil, err
				}
				outList = append(outList, translated)
			}
			out[key] = outList
		case leafOperators[key]:
			out[key] = value
		default:
			field, ok := lookupField(registry, typeName, key)
			if !ok {
				out[key] = value
				continue
			}
			sub, isMap := value.(map[string]any)
			if !isMap {
				out[field.NameInIndex] = value
				continue
			}
			translated, err := TranslateNames(registry, field.Type, sub)
			if err != nil {
				return nil, err
			}
			out[field.NameInIndex] = anyOrNil(translated, value)
		}
	}
	return out, nil
}

func lookupField(registry *schema.Registry, typeName schema.TypeRef, name string) (*schema.Field, bool) {
	t, ok := registry.Type(typeName)
	if !ok {
		return nil, false
	}
	return t.Field(name)
}

// anyOrNil keeps explicit nils distinguishable from empty maps.
func anyOrNil(translated map[string]any, original any) any {
	if original == nil {
		return nil
	}
	return translated
}

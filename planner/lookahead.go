package planner

import (
	"strconv"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
)

// Selection is one node of the resolved lookahead tree: the requested
// field, its coerced arguments, and its child selections with fragment
// spreads and inline fragments flattened in.
type Selection struct {
	Name     string
	Args     map[string]any
	children map[string]*Selection
	order    []string
}

// Child returns the named child selection.
func (s *Selection) Child(name string) (*Selection, bool) {
	c, ok := s.children[name]
	return c, ok
}

// Children returns child selections in query order.
func (s *Selection) Children() []*Selection {
	out := make([]*Selection, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.children[name])
	}
	return out
}

// HasChild reports whether the named field was selected.
func (s *Selection) HasChild(name string) bool {
	_, ok := s.children[name]
	return ok
}

// IsLeaf reports whether the selection has no sub-selections.
func (s *Selection) IsLeaf() bool { return len(s.children) == 0 }

// lookahead builds the selection tree for the field being resolved.
func lookahead(params graphql.ResolveParams) *Selection {
	root := &Selection{Name: params.Info.FieldName, Args: params.Args, children: make(map[string]*Selection)}
	for _, fieldAST := range params.Info.FieldASTs {
		if fieldAST.SelectionSet != nil {
			mergeSelectionSet(root, fieldAST.SelectionSet, params.Info)
		}
	}
	return root
}

func mergeSelectionSet(parent *Selection, set *ast.SelectionSet, info graphql.ResolveInfo) {
	for _, sel := range set.Selections {
		switch node := sel.(type) {
		case *ast.Field:
			name := node.Name.Value
			child, ok := parent.children[name]
			if !ok {
				child = &Selection{
					Name:     name,
					Args:     argumentValues(node.Arguments, info.VariableValues),
					children: make(map[string]*Selection),
				}
				parent.children[name] = child
				parent.order = append(parent.order, name)
			}
			if node.SelectionSet != nil {
				mergeSelectionSet(child, node.SelectionSet, info)
			}
		case *ast.FragmentSpread:
			def, ok := info.Fragments[node.Name.Value].(*ast.FragmentDefinition)
			if ok && def.SelectionSet != nil {
				mergeSelectionSet(parent, def.SelectionSet, info)
			}
		case *ast.InlineFragment:
			if node.SelectionSet != nil {
				mergeSelectionSet(parent, node.SelectionSet, info)
			}
		}
	}
}

func argumentValues(args []*ast.Argument, variables map[string]any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]any, len(args))
	for _, arg := range args {
		out[arg.Name.Value] = astValue(arg.Value, variables)
	}
	return out
}

// astValue coerces an AST literal into plain Go values, resolving
// variables from the request.
func astValue(value ast.Value, variables map[string]any) any {
	switch v := value.(type) {
	case *ast.Variable:
		return variables[v.Name.Value]
	case *ast.IntValue:
		n, err := strconv.Atoi(v.Value)
		if err != nil {
			return v.Value
		}
		return n
	case *ast.FloatValue:
		f, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			return v.Value
		}
		return f
	case *ast.StringValue:
		return v.Value
	case *ast.BooleanValue:
		return v.Value
	case *ast.EnumValue:
		return v.Value
	case *ast.ListValue:
		out := make([]any, len(v.Values))
		for i, item := range v.Values {
			out[i] = astValue(item, variables)
		}
		return out
	case *ast.ObjectValue:
		out := make(map[string]any, len(v.Fields))
		for _, field := range v.Fields {
			out[field.Name.Value] = astValue(field.Value, variables)
		}
		return out
	}
	return nil
}

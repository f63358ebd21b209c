package filtering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateNamesRewritesToIndexNames(t *testing.T) {
	r := testRegistry(t)

	translated := translate(t, r, map[string]any{
		"description": map[string]any{"equal_to_any_of": []any{"def"}},
	})
	assert.Equal(t, map[string]any{
		"description_in_es": map[string]any{"equal_to_any_of": []any{"def"}},
	}, translated)
}

func TestTranslateNamesDescendsConnectivesAndLists(t *testing.T) {
	r := testRegistry(t)

	translated := translate(t, r, map[string]any{
		"not": map[string]any{
			"any_of": []any{
				map[string]any{"description": map[string]any{"equal_to_any_of": []any{"a"}}},
				map[string]any{"nested_options": map[string]any{
					"any_satisfy": map[string]any{"color": map[string]any{"equal_to_any_of": []any{"red"}}},
				}},
			},
		},
	})
	assert.Equal(t, map[string]any{
		"not": map[string]any{
			"any_of": []any{
				map[string]any{"description_in_es": map[string]any{"equal_to_any_of": []any{"a"}}},
				map[string]any{"nested_options": map[string]any{
					"any_satisfy": map[string]any{"rgb_color": map[string]any{"equal_to_any_of": []any{"red"}}},
				}},
			},
		},
	}, translated)
}

func compile(t *testing.T, expr map[string]any) map[string]any {
	t.Helper()
	c := testCompiler(t)
	clause, err := c.Compile("Widget", translate(t, c.Registry, expr))
	require.NoError(t, err)
	return clause
}

func TestCompileTermsFilter(t *testing.T) {
	clause := compile(t, map[string]any{
		"description": map[string]any{"equal_to_any_of": []any{"def"}},
	})
	assert.Equal(t, map[string]any{
		"bool": map[string]any{
			"filter": []any{
				map[string]any{"terms": map[string]any{"description_in_es": []any{"def"}}},
			},
		},
	}, clause)
}

func TestCompileEmptyExpressionsAreVacuouslyTrue(t *testing.T) {
	c := testCompiler(t)
	for _, expr := range []map[string]any{
		nil,
		{},
		{"name": nil},
		{"name": map[string]any{}},
	} {
		clause, err := c.Compile("Widget", expr)
		require.NoError(t, err)
		assert.Nil(t, clause)
	}
}

func TestCompileAnySatisfyNestedList(t *testing.T) {
	clause := compile(t, map[string]any{
		"nested_options": map[string]any{
			"any_satisfy": map[string]any{"color": map[string]any{"equal_to_any_of": []any{"red"}}},
		},
	})
	assert.Equal(t, map[string]any{
		"bool": map[string]any{
			"filter": []any{
				map[string]any{"nested": map[string]any{
					"path": "nested_options",
					"query": map[string]any{
						"bool": map[string]any{
							"filter": []any{
								map[string]any{"terms": map[string]any{"nested_options.rgb_color": []any{"red"}}},
							},
						},
					},
				}},
			},
		},
	}, clause)
}

func TestCompileAnySatisfyScalarListInlines(t *testing.T) {
	clause := compile(t, map[string]any{
		"tags": map[string]any{
			"any_satisfy": map[string]any{"equal_to_any_of": []any{"alpha", "beta"}},
		},
	})
	assert.Equal(t, map[string]any{
		"bool": map[string]any{
			"filter": []any{
				map[string]any{"terms": map[string]any{"tags": []any{"alpha", "beta"}}},
			},
		},
	}, clause)
}

func TestCompileAnySatisfyRangeCoalescesIntoOneClause(t *testing.T) {
	// gt and lt on the same list field must land in one range clause;
	// as two clauses each could match a different element.
	c := testCompiler(t)
	clause, err := c.Compile("Widget", map[string]any{
		"tags": map[string]any{
			"any_satisfy": map[string]any{"gt": "a", "lt": "f"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"bool": map[string]any{
			"filter": []any{
				map[string]any{"range": map[string]any{"tags": map[string]any{"gt": "a", "lt": "f"}}},
			},
		},
	}, clause)
}

func TestCompileAnySatisfyRejectsMultipleRequiredClauses(t *testing.T) {
	c := testCompiler(t)
	_, err := c.Compile("Widget", map[string]any{
		"tags": map[string]any{
			"any_satisfy": map[string]any{
				"equal_to_any_of": []any{"alpha"},
				"contains":        "bet",
			},
		},
	})
	require.Error(t, err)
	var vErr *QueryValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestCompileAnyOf(t *testing.T) {
	t.Run("empty list is always false", func(t *testing.T) {
		clause := compile(t, map[string]any{"any_of": []any{}})
		assert.Equal(t, map[string]any{
			"bool": map[string]any{
				"filter": []any{map[string]any{"match_none": map[string]any{}}},
			},
		}, clause)
	})

	t.Run("not of empty any_of is always true", func(t *testing.T) {
		clause := compile(t, map[string]any{"not": map[string]any{"any_of": []any{}}})
		assert.Nil(t, clause)
	})

	t.Run("branches become should clauses", func(t *testing.T) {
		clause := compile(t, map[string]any{
			"any_of": []any{
				map[string]any{"name": map[string]any{"equal_to_any_of": []any{"a"}}},
				map[string]any{"cost": map[string]any{"gt": 5}},
			},
		})
		boolBody := clause["bool"].(map[string]any)
		outer := boolBody["filter"].([]any)[0].(map[string]any)["bool"].(map[string]any)
		assert.Len(t, outer["should"], 2)
		assert.Equal(t, 1, outer["minimum_should_match"])
	})

	t.Run("vacuously true branch makes the whole disjunction true", func(t *testing.T) {
		clause := compile(t, map[string]any{
			"any_of": []any{
				map[string]any{"name": map[string]any{"equal_to_any_of": []any{"a"}}},
				map[string]any{},
			},
		})
		assert.Nil(t, clause)
	})
}

func TestCompileNot(t *testing.T) {
	t.Run("wraps in must_not", func(t *testing.T) {
		clause := compile(t, map[string]any{
			"not": map[string]any{"name": map[string]any{"equal_to_any_of": []any{"a"}}},
		})
		boolBody := clause["bool"].(map[string]any)
		require.Len(t, boolBody["must_not"], 1)
	})

	t.Run("double negation collapses", func(t *testing.T) {
		clause := compile(t, map[string]any{
			"not": map[string]any{
				"not": map[string]any{"name": map[string]any{"equal_to_any_of": []any{"a"}}},
			},
		})
		assert.Equal(t, map[string]any{
			"bool": map[string]any{
				"filter": []any{
					map[string]any{"bool": map[string]any{
						"filter": []any{map[string]any{"terms": map[string]any{"name": []any{"a"}}}},
					}},
				},
			},
		}, clause)
	})

	t.Run("not of empty contributes nothing", func(t *testing.T) {
		clause := compile(t, map[string]any{"not": map[string]any{}})
		assert.Nil(t, clause)
	})
}

func TestCompileEqualToAnyOfNullHandling(t *testing.T) {
	t.Run("only null means field missing", func(t *testing.T) {
		clause := compile(t, map[string]any{
			"name": map[string]any{"equal_to_any_of": []any{nil}},
		})
		inner := clause["bool"].(map[string]any)["filter"].([]any)[0].(map[string]any)
		assert.Contains(t, inner, "bool")
	})

	t.Run("mixed null and values", func(t *testing.T) {
		clause := compile(t, map[string]any{
			"name": map[string]any{"equal_to_any_of": []any{"a", nil}},
		})
		inner := clause["bool"].(map[string]any)["filter"].([]any)[0].(map[string]any)["bool"].(map[string]any)
		assert.Len(t, inner["should"], 2)
	})

	t.Run("empty list is always false", func(t *testing.T) {
		clause := compile(t, map[string]any{
			"name": map[string]any{"equal_to_any_of": []any{}},
		})
		assert.Equal(t, map[string]any{
			"bool": map[string]any{
				"filter": []any{map[string]any{"match_none": map[string]any{}}},
			},
		}, clause)
	})
}

func TestCompileRangeBoundsCoalesce(t *testing.T) {
	clause := compile(t, map[string]any{
		"cost": map[string]any{"gte": 10, "lt": 100},
	})
	assert.Equal(t, map[string]any{
		"bool": map[string]any{
			"filter": []any{
				map[string]any{"range": map[string]any{"cost": map[string]any{"gte": 10, "lt": 100}}},
			},
		},
	}, clause)
}

func TestCompileCountPredicate(t *testing.T) {
	t.Run("positive count compiles to the counts field", func(t *testing.T) {
		clause := compile(t, map[string]any{
			"tags": map[string]any{"count": map[string]any{"gt": 2}},
		})
		assert.Equal(t, map[string]any{
			"bool": map[string]any{
				"filter": []any{
					map[string]any{"bool": map[string]any{
						"filter": []any{
							map[string]any{"range": map[string]any{"__counts.tags": map[string]any{"gt": 2}}},
						},
					}},
				},
			},
		}, clause)
	})

	t.Run("count matching zero includes the missing-field case", func(t *testing.T) {
		clause := compile(t, map[string]any{
			"tags": map[string]any{"count": map[string]any{"lt": 1}},
		})
		outer := clause["bool"].(map[string]any)["filter"].([]any)[0].(map[string]any)["bool"].(map[string]any)
		require.Len(t, outer["should"], 2)
		assert.Equal(t, 1, outer["minimum_should_match"])

		missing := outer["should"].([]any)[1].(map[string]any)["bool"].(map[string]any)
		assert.Equal(t, []any{
			map[string]any{"exists": map[string]any{"field": "__counts.tags"}},
		}, missing["must_not"])
	})

	t.Run("count on a list inside an object list uses pipe separators", func(t *testing.T) {
		clause := compile(t, map[string]any{
			"release_notes": map[string]any{
				"attachments": map[string]any{"count": map[string]any{"gte": 1}},
			},
		})
		rendered := clause["bool"].(map[string]any)["filter"].([]any)[0].(map[string]any)
		inner := rendered["bool"].(map[string]any)["filter"].([]any)[0].(map[string]any)
		assert.Contains(t, inner["range"], "__counts.release_notes|attachments")
	})
}

func TestCompileMatchesAndContains(t *testing.T) {
	clause := compile(t, map[string]any{
		"name": map[string]any{"matches": "blue widget"},
	})
	boolBody := clause["bool"].(map[string]any)
	assert.Equal(t, []any{
		map[string]any{"match": map[string]any{"name": "blue widget"}},
	}, boolBody["must"])

	clause = compile(t, map[string]any{
		"name": map[string]any{"contains": "lue"},
	})
	boolBody = clause["bool"].(map[string]any)
	assert.Equal(t, []any{
		map[string]any{"wildcard": map[string]any{"name": map[string]any{"value": "*lue*"}}},
	}, boolBody["filter"])
}

func TestCompileHiddenFieldsPassThrough(t *testing.T) {
	clause := compile(t, map[string]any{
		"__sources": map[string]any{"equal_to_any_of": []any{"__self"}},
	})
	assert.Equal(t, map[string]any{
		"bool": map[string]any{
			"filter": []any{
				map[string]any{"terms": map[string]any{"__sources": []any{"__self"}}},
			},
		},
	}, clause)
}

func TestCompileUnknownKeysAreIgnored(t *testing.T) {
	clause := compile(t, map[string]any{
		"name":          map[string]any{"equal_to_any_of": []any{"a"}},
		"never_heard_of": map[string]any{"equal_to_any_of": []any{"b"}},
	})
	boolBody := clause["bool"].(map[string]any)
	assert.Len(t, boolBody["filter"], 1)
}

func TestCompileAllOf(t *testing.T) {
	clause := compile(t, map[string]any{
		"all_of": []any{
			map[string]any{"name": map[string]any{"equal_to_any_of": []any{"a"}}},
			map[string]any{"cost": map[string]any{"gt": 1}},
		},
	})
	boolBody := clause["bool"].(map[string]any)
	assert.Len(t, boolBody["filter"], 2)
}

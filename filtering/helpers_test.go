package filtering

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/elastigraph/elastigraph/schema"
)

const testArtifacts = `
types:
  - name: Widget
    category: indexed_document
    fields:
      - {name: id, type: ID}
      - {name: name, type: String}
      - {name: description, name_in_index: description_in_es, type: String}
      - {name: cost, type: Int}
      - {name: created_at, type: DateTime}
      - {name: tags, type: String, list: true}
      - {name: nested_options, type: Options, list: true, nested: true}
      - {name: release_notes, type: Note, list: true}
      - {name: size, type: Int, source: WidgetSizer}
  - name: Options
    category: object
    fields:
      - {name: color, name_in_index: rgb_color, type: String}
      - {name: weight, type: Int}
  - name: Note
    category: object
    fields:
      - {name: author, type: String}
      - {name: attachments, type: String, list: true}
indices:
  - {name: widgets, type: Widget}
`

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	r, err := schema.Load([]byte(testArtifacts))
	require.NoError(t, err)
	return r
}

func testCompiler(t *testing.T) *Compiler {
	t.Helper()
	return &Compiler{Registry: testRegistry(t), Log: logr.Discard()}
}

// translate runs the name-translation stage over a GraphQL-named
// expression.
func translate(t *testing.T, r *schema.Registry, expr map[string]any) map[string]any {
	t.Helper()
	translated, err := TranslateNames(r, "Widget", expr)
	require.NoError(t, err)
	return translated
}

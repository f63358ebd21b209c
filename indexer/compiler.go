package indexer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-logr/logr"

	"github.com/elastigraph/elastigraph/schema"
)

// Compiler turns incoming events into idempotent datastore update
// operations: one primary upsert plus zero or more scripted updates for
// derived indices.
type Compiler struct {
	Registry *schema.Registry
	Log      logr.Logger

	// RetryOnConflict is the optimistic-concurrency retry budget on
	// scripted updates.
	RetryOnConflict int
}

// Compile validates the event and produces its update operations. A
// validation failure returns a FailedEventError carrying the operations
// that would have been produced.
func (c *Compiler) Compile(event *Event) ([]Operation, error) {
	if err := event.validateEnvelope(); err != nil {
		return nil, &FailedEventError{Event: event, Message: err.Error()}
	}
	typeName := schema.TypeRef(event.Type)
	if !c.Registry.IndexedType(typeName) {
		return nil, &FailedEventError{Event: event, Message: fmt.Sprintf("type %s is not indexed", event.Type)}
	}

	validationErr := c.validateRecord(event, typeName)

	operations, err := c.compileOperations(event, typeName)
	if err != nil {
		return nil, &FailedEventError{Event: event, Operations: operations, Message: err.Error()}
	}
	if validationErr != nil {
		return nil, &FailedEventError{Event: event, Operations: operations, Message: validationErr.Error()}
	}
	return operations, nil
}

// validateRecord checks the record against the best available JSON
// schema for (type, json_schema_version).
func (c *Compiler) validateRecord(event *Event, typeName schema.TypeRef) error {
	versions := c.Registry.JSONSchemaVersions(typeName)
	if len(versions) == 0 {
		// No schemas registered; treated as schemaless input.
		return nil
	}
	version := closestVersion(versions, event.JSONSchemaVersion)
	if version != event.JSONSchemaVersion {
		c.Log.Info("no exact JSON schema version for event; using closest",
			"event", event.Description(),
			"requested", event.JSONSchemaVersion,
			"selected", version)
	}

	raw, _ := c.Registry.JSONSchema(typeName, version)
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("schema for %s v%d is not serializable: %w", typeName, version, err)
	}
	var compiled openapi3.Schema
	if err := compiled.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("schema for %s v%d failed to compile: %w", typeName, version, err)
	}

	if err := compiled.VisitJSON(event.Record, openapi3.MultiErrors()); err != nil {
		return fmt.Errorf("record does not conform to JSON schema v%d: %s", version, sanitizeSchemaError(err))
	}
	return nil
}

// closestVersion prefers an exact match, then the nearest version with
// ties going to the higher one. versions must be sorted ascending.
func closestVersion(versions []int, want int) int {
	best := versions[0]
	bestDistance := distance(best, want)
	for _, v := range versions[1:] {
		d := distance(v, want)
		if d < bestDistance || (d == bestDistance && v > best) {
			best = v
			bestDistance = d
		}
	}
	return best
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// sanitizeSchemaError renders validation failures with field paths and
// violated constraints only; record values must never leak into error
// channels.
func sanitizeSchemaError(err error) string {
	var parts []string
	var collect func(error)
	collect = func(err error) {
		switch e := err.(type) {
		case openapi3.MultiError:
			for _, sub := range e {
				collect(sub)
			}
		case *openapi3.SchemaError:
			pointer := "/" + strings.Join(e.JSONPointer(), "/")
			parts = append(parts, fmt.Sprintf("%s violates %q", pointer, e.SchemaField))
		default:
			parts = append(parts, "record is invalid")
		}
	}
	collect(err)
	sort.Strings(parts)
	return strings.Join(dedupeStrings(parts), "; ")
}

func dedupeStrings(in []string) []string {
	out := in[:0]
	var last string
	for i, s := range in {
		if i == 0 || s != last {
			out = append(out, s)
		}
		last = s
	}
	return out
}

// compileOperations builds the primary upsert and all derived-index
// updates.
func (c *Compiler) compileOperations(event *Event, typeName schema.TypeRef) ([]Operation, error) {
	var operations []Operation

	primary, err := c.compilePrimary(event, typeName)
	if err != nil {
		return operations, err
	}
	operations = append(operations, primary...)

	for _, derived := range c.Registry.DerivedTypesFor(typeName) {
		ops, err := c.compileDerived(event, derived)
		if err != nil {
			return operations, err
		}
		operations = append(operations, ops...)
	}
	return operations, nil
}

func (c *Compiler) compilePrimary(event *Event, typeName schema.TypeRef) ([]Operation, error) {
	record := c.prepareRecord(event, typeName)
	if counts := listCounts(c.Registry, typeName, event.Record); counts != nil {
		record[schema.CountsFieldName] = counts
	}

	var operations []Operation
	for _, def := range c.Registry.IndicesFor(typeName) {
		index, err := resolveConcreteIndex(def, record, "")
		if err != nil {
			return nil, err
		}
		routing, err := resolveRouting(def, record, event.ID, "")
		if err != nil {
			return nil, err
		}
		operations = append(operations, &PrimaryUpsert{
			Index:   index,
			DocID:   event.ID,
			Routing: routing,
			Version: event.Version,
			Record:  record,
		})
	}
	return operations, nil
}

func (c *Compiler) compileDerived(event *Event, derived *schema.DerivedTypeDefinition) ([]Operation, error) {
	ids := derivedIDs(event.Record, derived.IDSource)
	if len(ids) == 0 {
		// No id value on this event; the derived document simply is not
		// touched.
		return nil, nil
	}

	scriptID := derived.ScriptID
	if scriptID == "" {
		var err error
		scriptID, err = c.Registry.ScriptID(schema.ScriptKeyDerivedIndexUpdate)
		if err != nil {
			return nil, err
		}
	}

	prepared := c.prepareRecord(event, schema.TypeRef(event.Type))
	var operations []Operation
	for _, def := range c.Registry.IndicesFor(derived.TargetType) {
		index, err := resolveConcreteIndex(def, prepared, derived.RolloverTimestampValueSource)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			routing := id
			if derived.RoutingValueSource != "" {
				if v, ok := stringValueAt(prepared, derived.RoutingValueSource); ok {
					routing = v
				}
			}
			if def.RoutingValueIgnored(routing) {
				routing = id
			}
			if !def.HasCustomRouting() {
				routing = ""
			}
			params := map[string]any{
				"id":      id,
				"version": event.Version,
				"data":    event.Record,
			}
			if counts := listCounts(c.Registry, schema.TypeRef(event.Type), event.Record); counts != nil {
				params[schema.CountsFieldName] = counts
			}
			operations = append(operations, &ScriptedUpdate{
				Index:           index,
				DocID:           id,
				Routing:         routing,
				ScriptID:        scriptID,
				Params:          params,
				RetryOnConflict: c.RetryOnConflict,
			})
		}
	}
	return operations, nil
}

// prepareRecord builds the indexed form of the record: field keys
// translated to their index names, plus the id and source-tracking
// metadata. Routing and rollover sources resolve against this form, not
// the raw record.
func (c *Compiler) prepareRecord(event *Event, typeName schema.TypeRef) map[string]any {
	record := c.translateRecord(event.Record, typeName)
	record["id"] = event.ID
	record[schema.SourcesFieldName] = []any{schema.SelfSource}
	return record
}

func (c *Compiler) translateRecord(record map[string]any, typeName schema.TypeRef) map[string]any {
	out := make(map[string]any, len(record)+2)
	t, known := c.Registry.Type(typeName)
	for key, value := range record {
		if !known {
			out[key] = value
			continue
		}
		field, ok := t.Field(key)
		if !ok {
			out[key] = value
			continue
		}
		out[field.NameInIndex] = c.translateValue(value, field)
	}
	return out
}

func (c *Compiler) translateValue(value any, field *schema.Field) any {
	childType, isObject := c.Registry.Type(field.Type)
	if !isObject || childType.Category != schema.CategoryObject {
		return value
	}
	switch v := value.(type) {
	case map[string]any:
		return c.translateRecord(v, field.Type)
	case []any:
		out := make([]any, len(v))
		for i, el := range v {
			if m, ok := el.(map[string]any); ok {
				out[i] = c.translateRecord(m, field.Type)
			} else {
				out[i] = el
			}
		}
		return out
	}
	return value
}

// derivedIDs resolves the id source to its unique, usable ids. A list
// value produces one operation per distinct id.
func derivedIDs(record map[string]any, idSource string) []string {
	switch v := valueAt(record, idSource).(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return []string{v}
	case []any:
		seen := make(map[string]bool, len(v))
		var ids []string
		for _, item := range v {
			s, ok := item.(string)
			if !ok || strings.TrimSpace(s) == "" {
				continue
			}
			if !seen[s] {
				seen[s] = true
				ids = append(ids, s)
			}
		}
		return ids
	}
	return nil
}

// resolveConcreteIndex applies rollover resolution using the timestamp
// field (or an explicit source path for derived targets).
func resolveConcreteIndex(def *schema.IndexDefinition, record map[string]any, timestampSource string) (string, error) {
	if def.Rollover == nil {
		return def.Name, nil
	}
	source := timestampSource
	if source == "" {
		source = def.Rollover.TimestampField
	}
	raw, ok := valueAt(record, source).(string)
	if !ok {
		return "", fmt.Errorf("rollover timestamp at %q is missing or not a string", source)
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return "", fmt.Errorf("rollover timestamp at %q is not a valid timestamp", source)
	}
	return def.ConcreteIndexFor(ts), nil
}

// resolveRouting resolves the shard-routing value for an index, falling
// back to the document id when the configured value is ignored.
func resolveRouting(def *schema.IndexDefinition, record map[string]any, docID, routingSource string) (string, error) {
	if !def.HasCustomRouting() {
		return "", nil
	}
	source := routingSource
	if source == "" {
		source = def.RoutingField
	}
	value, ok := stringValueAt(record, source)
	if !ok {
		return "", fmt.Errorf("custom routing value at %q is missing, empty, or whitespace", source)
	}
	if def.RoutingValueIgnored(value) {
		return docID, nil
	}
	return value, nil
}

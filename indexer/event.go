package indexer

import (
	"fmt"
	"strings"
)

// Event is one incoming indexing event.
type Event struct {
	Op      string         `json:"op"`
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Version int64          `json:"version"`
	Record  map[string]any `json:"record"`

	// JSONSchemaVersion names the schema the publisher validated the
	// record against.
	JSONSchemaVersion int `json:"json_schema_version"`

	// LatencyTimestamps optionally carries upstream processing
	// timestamps for end-to-end latency metrics.
	LatencyTimestamps map[string]string `json:"latency_timestamps,omitempty"`
}

// Description identifies the event in logs and errors without exposing
// record contents.
func (e *Event) Description() string {
	return fmt.Sprintf("%s:%s@v%d", e.Type, e.ID, e.Version)
}

// validateEnvelope checks the event fields that do not require a record
// schema.
func (e *Event) validateEnvelope() error {
	var problems []string
	if e.ID == "" {
		problems = append(problems, "id is missing")
	}
	if e.Type == "" {
		problems = append(problems, "type is missing")
	}
	if e.Version < 1 {
		problems = append(problems, fmt.Sprintf("version %d is out of range [1, 2^63-1]", e.Version))
	}
	if e.Record == nil {
		problems = append(problems, "record is missing")
	}
	if len(problems) > 0 {
		return fmt.Errorf("malformed event: %s", strings.Join(problems, "; "))
	}
	return nil
}

// valueAt resolves a dotted path against a record. Returns nil when any
// step is missing.
func valueAt(record map[string]any, path string) any {
	var current any = record
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[segment]
	}
	return current
}

// stringValueAt resolves a dotted path to a usable string id or routing
// value: present, non-empty, and not whitespace-only.
func stringValueAt(record map[string]any, path string) (string, bool) {
	s, ok := valueAt(record, path).(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

package indexer

import "strings"

// Outcome categorizes one datastore response to an update operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeNoop    Outcome = "noop"
	OutcomeFailure Outcome = "failure"
)

// noopPreamble is emitted by the update scripts when they decide the
// update should not apply (e.g. an out-of-order event). Legacy script
// versions signal it by throwing, which surfaces as a 5xx whose message
// starts with this preamble.
const noopPreamble = "update was a no-op:"

// Operation is one datastore update produced for an event: a primary
// upsert or a scripted update. The closed set of implementations lives
// in this file.
type Operation interface {
	// DocumentID is the target document id.
	DocumentID() string
	// Destination returns the concrete index and routing value.
	Destination() (index, routing string)
	// BulkLines renders the operation's bulk-API header and body.
	BulkLines() (header, body map[string]any)
	// Categorize classifies the per-item bulk response.
	Categorize(status int, item map[string]any) Outcome
}

// PrimaryUpsert indexes the event's own document with external
// versioning: the datastore keeps whichever version is highest, making
// replays and reordering idempotent.
type PrimaryUpsert struct {
	Index   string
	DocID   string
	Routing string
	Version int64
	Record  map[string]any
}

func (op *PrimaryUpsert) DocumentID() string { return op.DocID }

func (op *PrimaryUpsert) Destination() (string, string) { return op.Index, op.Routing }

func (op *PrimaryUpsert) BulkLines() (map[string]any, map[string]any) {
	meta := map[string]any{
		"_id":          op.DocID,
		"_index":       op.Index,
		"version":      op.Version,
		"version_type": "external",
	}
	if op.Routing != "" {
		meta["routing"] = op.Routing
	}
	return map[string]any{"index": meta}, op.Record
}

func (op *PrimaryUpsert) Categorize(status int, item map[string]any) Outcome {
	if status == 409 {
		// Version conflict: an equal-or-newer version is already
		// indexed.
		return OutcomeNoop
	}
	if status >= 200 && status < 300 {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

// ScriptedUpdate applies a stored script with scripted_upsert, used for
// derived-index maintenance and fields sourced from related types.
type ScriptedUpdate struct {
	Index           string
	DocID           string
	Routing         string
	ScriptID        string
	Params          map[string]any
	RetryOnConflict int
}

func (op *ScriptedUpdate) DocumentID() string { return op.DocID }

func (op *ScriptedUpdate) Destination() (string, string) { return op.Index, op.Routing }

func (op *ScriptedUpdate) BulkLines() (map[string]any, map[string]any) {
	meta := map[string]any{
		"_id":               op.DocID,
		"_index":            op.Index,
		"retry_on_conflict": op.RetryOnConflict,
	}
	if op.Routing != "" {
		meta["routing"] = op.Routing
	}
	body := map[string]any{
		"script": map[string]any{
			"id":     op.ScriptID,
			"params": op.Params,
		},
		"scripted_upsert": true,
		"upsert":          map[string]any{},
	}
	return map[string]any{"update": meta}, body
}

func (op *ScriptedUpdate) Categorize(status int, item map[string]any) Outcome {
	if status >= 200 && status < 300 {
		if result, _ := item["result"].(string); result == "noop" {
			return OutcomeNoop
		}
		return OutcomeSuccess
	}
	if status == 409 {
		return OutcomeNoop
	}
	if status >= 500 && noopSignaled(item) {
		// Legacy scripts signal no-op by throwing with a recognizable
		// message. Newer scripts return result=noop instead; prefer
		// that and keep this as the fallback.
		return OutcomeNoop
	}
	return OutcomeFailure
}

func noopSignaled(item map[string]any) bool {
	err, ok := item["error"].(map[string]any)
	if !ok {
		return false
	}
	for _, key := range []string{"reason", "caused_by"} {
		switch v := err[key].(type) {
		case string:
			if strings.Contains(v, noopPreamble) {
				return true
			}
		case map[string]any:
			if reason, ok := v["reason"].(string); ok && strings.Contains(reason, noopPreamble) {
				return true
			}
		}
	}
	return false
}

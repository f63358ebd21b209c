package aggregations

// A Grouping is one dimension documents are bucketed on. The planner
// builds one per grouped_by selection; adapters turn them into clauses.
type Grouping interface {
	// Key is the response key for this grouping: the GraphQL selection
	// path joined by ".".
	Key() string

	// SupportsComposite reports whether the grouping can be expressed as
	// a composite aggregation source.
	SupportsComposite() bool

	// CompositeSource returns the composite source clause, including
	// missing_bucket so documents lacking the field still participate.
	CompositeSource() map[string]any

	// NonCompositeClause returns the standalone aggregation clause.
	NonCompositeClause(size int, showDocCountError bool) map[string]any

	// MissingField returns the index field a sibling missing-bucket
	// aggregation should target, or "" when the grouping has no single
	// backing field.
	MissingField() string

	// InnerMeta returns response-decoding hints for this grouping's
	// layer: key_path and merge_into_bucket.
	InnerMeta() map[string]any
}

// TermGrouping groups on the exact values of one index field.
type TermGrouping struct {
	KeyName      string
	FieldInIndex string
}

func (g TermGrouping) Key() string             { return g.KeyName }
func (g TermGrouping) SupportsComposite() bool { return true }
func (g TermGrouping) MissingField() string    { return g.FieldInIndex }

func (g TermGrouping) CompositeSource() map[string]any {
	return map[string]any{"terms": map[string]any{
		"field":          g.FieldInIndex,
		"missing_bucket": true,
	}}
}

func (g TermGrouping) NonCompositeClause(size int, showDocCountError bool) map[string]any {
	terms := map[string]any{
		"field": g.FieldInIndex,
		"size":  size,
		// depth_first avoids a datastore bug when children aggregations
		// are stacked under terms.
		"collect_mode": "depth_first",
	}
	if showDocCountError {
		terms["show_term_doc_count_error"] = true
	}
	return map[string]any{"terms": terms}
}

func (g TermGrouping) InnerMeta() map[string]any {
	return map[string]any{"key_path": []any{"key"}}
}

// MultiTermGrouping groups on the combination of several index fields.
type MultiTermGrouping struct {
	KeyName       string
	FieldsInIndex []string
}

func (g MultiTermGrouping) Key() string             { return g.KeyName }
func (g MultiTermGrouping) SupportsComposite() bool { return false }
func (g MultiTermGrouping) MissingField() string    { return "" }

func (g MultiTermGrouping) CompositeSource() map[string]any { return nil }

func (g MultiTermGrouping) NonCompositeClause(size int, showDocCountError bool) map[string]any {
	terms := make([]any, len(g.FieldsInIndex))
	for i, f := range g.FieldsInIndex {
		terms[i] = map[string]any{"field": f, "missing": missingValuePlaceholder}
	}
	clause := map[string]any{
		"terms":        terms,
		"size":         size,
		"collect_mode": "depth_first",
	}
	if showDocCountError {
		clause["show_term_doc_count_error"] = true
	}
	return map[string]any{"multi_terms": clause}
}

func (g MultiTermGrouping) InnerMeta() map[string]any {
	return map[string]any{"key_path": []any{"key"}}
}

// missingValuePlaceholder stands in for absent values in multi_terms
// buckets, which cannot use missing_bucket.
const missingValuePlaceholder = "\u0000__missing__"

// ScriptTermGrouping groups on a server-side script's output, e.g.
// "as day of week" or "as time of day".
type ScriptTermGrouping struct {
	KeyName  string
	ScriptID string
	Params   map[string]any
}

func (g ScriptTermGrouping) Key() string             { return g.KeyName }
func (g ScriptTermGrouping) SupportsComposite() bool { return false }
func (g ScriptTermGrouping) MissingField() string    { return "" }

func (g ScriptTermGrouping) CompositeSource() map[string]any { return nil }

func (g ScriptTermGrouping) NonCompositeClause(size int, showDocCountError bool) map[string]any {
	clause := map[string]any{
		"script": map[string]any{
			"id":     g.ScriptID,
			"params": g.Params,
		},
		"size":         size,
		"collect_mode": "depth_first",
	}
	if showDocCountError {
		clause["show_term_doc_count_error"] = true
	}
	return map[string]any{"terms": clause}
}

func (g ScriptTermGrouping) InnerMeta() map[string]any {
	return map[string]any{"key_path": []any{"key"}}
}

// DateHistogramGrouping buckets on calendar or fixed time intervals.
type DateHistogramGrouping struct {
	KeyName      string
	FieldInIndex string

	// Exactly one of CalendarInterval and FixedInterval is set.
	CalendarInterval string
	FixedInterval    string

	TimeZone string
	// Offset shifts bucket boundaries, e.g. "3d".
	Offset string
	Format string
}

func (g DateHistogramGrouping) Key() string             { return g.KeyName }
func (g DateHistogramGrouping) SupportsComposite() bool { return true }
func (g DateHistogramGrouping) MissingField() string    { return g.FieldInIndex }

func (g DateHistogramGrouping) intervalParams() map[string]any {
	params := map[string]any{"field": g.FieldInIndex}
	if g.CalendarInterval != "" {
		params["calendar_interval"] = g.CalendarInterval
	} else {
		params["fixed_interval"] = g.FixedInterval
	}
	if g.Format != "" {
		params["format"] = g.Format
	}
	if g.Offset != "" {
		params["offset"] = g.Offset
	}
	if g.TimeZone != "" {
		params["time_zone"] = g.TimeZone
	}
	return params
}

func (g DateHistogramGrouping) CompositeSource() map[string]any {
	params := g.intervalParams()
	params["missing_bucket"] = true
	return map[string]any{"date_histogram": params}
}

func (g DateHistogramGrouping) NonCompositeClause(size int, showDocCountError bool) map[string]any {
	params := g.intervalParams()
	params["min_doc_count"] = 1
	return map[string]any{"date_histogram": params}
}

func (g DateHistogramGrouping) InnerMeta() map[string]any {
	return map[string]any{
		"key_path": []any{"key_as_string"},
		// Date histograms report exact counts; normalize the bucket
		// shape so decoding can treat every layer alike.
		"merge_into_bucket": map[string]any{"doc_count_error_upper_bound": 0},
	}
}

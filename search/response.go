package search

import "encoding/json"

// Response is one decoded search response within a multi-search reply.
type Response struct {
	Took         int64          `json:"took"`
	TimedOut     bool           `json:"timed_out"`
	Status       int            `json:"status"`
	Shards       ShardCounts    `json:"_shards"`
	Hits         Hits           `json:"hits"`
	Aggregations map[string]any `json:"aggregations"`
	Error        map[string]any `json:"error"`
}

// ShardCounts is the per-response shard accounting.
type ShardCounts struct {
	Total      int64            `json:"total"`
	Successful int64            `json:"successful"`
	Skipped    int64            `json:"skipped"`
	Failed     int64            `json:"failed"`
	Failures   []map[string]any `json:"failures"`
}

// Hits is the hit envelope.
type Hits struct {
	Total HitsTotal `json:"total"`
	Hits  []Hit     `json:"hits"`
}

// HitsTotal carries the (possibly lower-bounded) total match count.
type HitsTotal struct {
	Value    int64  `json:"value"`
	Relation string `json:"relation"`
}

// Hit is one matched document.
type Hit struct {
	ID     string          `json:"_id"`
	Index  string          `json:"_index"`
	Sort   []any           `json:"sort"`
	Source json.RawMessage `json:"_source"`
}

// SourceMap decodes the hit source lazily.
func (h *Hit) SourceMap() (map[string]any, error) {
	if len(h.Source) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(h.Source, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Cursor encodes the hit's sort values under the query's sort keys.
func (h *Hit) Cursor(sortKeys []string) (Cursor, error) {
	return EncodeCursor(sortKeys, h.Sort)
}

// EmptyResponse synthesizes the response used for queries that bypass
// the datastore entirely.
func EmptyResponse() *Response {
	return &Response{Status: 200, Hits: Hits{Total: HitsTotal{Relation: "eq"}}}
}

// MsearchResponse is the top-level multi-search reply.
type MsearchResponse struct {
	Took      int64       `json:"took"`
	Responses []*Response `json:"responses"`
}

package aggregations

import (
	"fmt"
	"sort"
	"strings"
)

// Bucket is one decoded aggregation bucket after flattening. Key maps
// grouping keys to their values; a nil value records a missing-bucket
// membership.
type Bucket struct {
	Key           map[string]any
	DocCount      int64
	DocCountError int64
	// Metrics holds the computed values keyed by computation name.
	Metrics map[string]any
	// Sub holds untouched sub-aggregation payloads for recursive
	// decoding.
	Sub map[string]any
}

// CompositePage is the decoded result of a composite aggregation.
type CompositePage struct {
	Buckets []Bucket
	// AfterKey is the cursor for the next page, nil on the last page.
	AfterKey map[string]any
}

// DecodeComposite decodes the response body of a composite aggregation
// built by CompositeAdapter.
func DecodeComposite(q *Query, payload map[string]any) (*CompositePage, error) {
	payload = unwrapFilter(q, payload)
	page := &CompositePage{}
	rawBuckets, _ := payload["buckets"].([]any)
	for _, raw := range rawBuckets {
		b, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("composite bucket for %q has unexpected shape %T", q.Name, raw)
		}
		key, _ := b["key"].(map[string]any)
		page.Buckets = append(page.Buckets, decodeBucket(q, key, b))
	}
	if after, ok := payload["after_key"].(map[string]any); ok {
		page.AfterKey = after
	}
	return page, nil
}

// FlattenNonComposite decodes a non-composite aggregation tree into a
// flat bucket list, walking layers via the meta hints the build phase
// attached. Buckets are ordered by descending doc count then ascending
// stringified key values, truncated to the layer size.
func FlattenNonComposite(q *Query, name string, container map[string]any) ([]Bucket, error) {
	payload, ok := unwrapFilter(q, container)[name].(map[string]any)
	if !ok {
		return nil, nil
	}
	missing, _ := unwrapFilter(q, container)[name+missingKeySuffix].(map[string]any)

	buckets, err := flattenLayer(q, payload, missing, map[string]any{})
	if err != nil {
		return nil, err
	}
	sortBuckets(buckets)
	if size := layerSize(payload); size > 0 && len(buckets) > size {
		buckets = buckets[:size]
	}
	return buckets, nil
}

func flattenLayer(q *Query, payload, missing map[string]any, keyAcc map[string]any) ([]Bucket, error) {
	meta, _ := payload["meta"].(map[string]any)
	if meta == nil {
		return nil, fmt.Errorf("aggregation layer for %q is missing its meta", q.Name)
	}
	groupingKey := firstString(meta["grouping_fields"])
	keyPath := anySlice(meta["key_path"])
	mergeInto, _ := meta["merge_into_bucket"].(map[string]any)

	var out []Bucket
	rawBuckets := bucketsAt(payload, meta)
	for _, raw := range rawBuckets {
		b, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		key := copyKey(keyAcc)
		key[groupingKey] = extractKeyValue(b, keyPath)
		for k, v := range mergeInto {
			if _, present := b[k]; !present {
				b[k] = v
			}
		}
		flattened, err := descendOrEmit(q, b, key)
		if err != nil {
			return nil, err
		}
		out = append(out, flattened...)
	}

	if missing != nil {
		if count, ok := toInt64(missing["doc_count"]); ok && count > 0 {
			key := copyKey(keyAcc)
			key[groupingKey] = nil
			flattened, err := descendOrEmit(q, missing, key)
			if err != nil {
				return nil, err
			}
			out = append(out, flattened...)
		}
	}
	return out, nil
}

// descendOrEmit recurses into the next grouping layer if the bucket
// contains one, and otherwise emits the bucket itself.
func descendOrEmit(q *Query, bucket map[string]any, key map[string]any) ([]Bucket, error) {
	for name, value := range bucket {
		child, ok := value.(map[string]any)
		if !ok || strings.HasSuffix(name, missingKeySuffix) {
			continue
		}
		if _, hasMeta := child["meta"].(map[string]any); !hasMeta {
			continue
		}
		childMissing, _ := bucket[name+missingKeySuffix].(map[string]any)
		return flattenLayer(q, child, childMissing, key)
	}
	return []Bucket{decodeBucket(q, key, bucket)}, nil
}

func decodeBucket(q *Query, key map[string]any, payload map[string]any) Bucket {
	b := Bucket{
		Key:     key,
		Metrics: make(map[string]any),
		Sub:     make(map[string]any),
	}
	b.DocCount, _ = toInt64(payload["doc_count"])
	b.DocCountError, _ = toInt64(payload["doc_count_error_upper_bound"])

	computed := make(map[string]Computation, len(q.Computations))
	for _, comp := range q.Computations {
		computed[comp.Name] = comp
	}
	for name, value := range payload {
		comp, isMetric := computed[name]
		if isMetric {
			b.Metrics[name] = metricValue(value, comp)
			continue
		}
		if sub, ok := value.(map[string]any); ok {
			b.Sub[name] = sub
		}
	}
	return b
}

func metricValue(payload any, comp Computation) any {
	m, ok := payload.(map[string]any)
	if !ok {
		return comp.EmptyBucketValue
	}
	if v, ok := m["value"]; ok && v != nil {
		return v
	}
	return comp.EmptyBucketValue
}

// sortBuckets orders by descending doc count, then ascending
// lexicographic key values.
func sortBuckets(buckets []Bucket) {
	sort.SliceStable(buckets, func(i, j int) bool {
		if buckets[i].DocCount != buckets[j].DocCount {
			return buckets[i].DocCount > buckets[j].DocCount
		}
		return keyString(buckets[i].Key) < keyString(buckets[j].Key)
	})
}

func keyString(key map[string]any) string {
	names := make([]string, 0, len(key))
	for name := range key {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s=%v\x00", name, key[name])
	}
	return b.String()
}

// unwrapFilter steps through the filter wrapper when the query has one.
func unwrapFilter(q *Query, container map[string]any) map[string]any {
	if q.Filter == nil {
		return container
	}
	if wrapped, ok := container[q.Name+filteredKeySuffix].(map[string]any); ok {
		return wrapped
	}
	return container
}

func bucketsAt(payload map[string]any, meta map[string]any) []any {
	node := any(payload)
	for _, step := range anySlice(meta["buckets_path"]) {
		name, ok := step.(string)
		if !ok {
			return nil
		}
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = m[name]
	}
	list, _ := node.([]any)
	return list
}

func layerSize(payload map[string]any) int {
	meta, _ := payload["meta"].(map[string]any)
	if meta == nil {
		return 0
	}
	size, _ := toInt64(meta["size"])
	return int(size)
}

func extractKeyValue(bucket map[string]any, keyPath []any) any {
	var value any
	for _, step := range keyPath {
		name, ok := step.(string)
		if !ok {
			return nil
		}
		if value == nil {
			value = bucket[name]
		} else if m, ok := value.(map[string]any); ok {
			value = m[name]
		}
	}
	return value
}

func copyKey(key map[string]any) map[string]any {
	out := make(map[string]any, len(key)+1)
	for k, v := range key {
		out[k] = v
	}
	return out
}

func firstString(value any) string {
	for _, v := range anySlice(value) {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func anySlice(value any) []any {
	list, _ := value.([]any)
	return list
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}

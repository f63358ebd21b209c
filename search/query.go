package search

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/elastigraph/elastigraph/aggregations"
	"github.com/elastigraph/elastigraph/schema"
)

// Query is one planned datastore search: the output of the planner and
// the unit the optimizer and dispatcher operate on. It is immutable
// after construction; Clone the query to derive a variant. Hash and
// serialized body are memoized, which is safe because the inputs never
// change.
type Query struct {
	// Type is the indexed type the query targets.
	Type schema.TypeRef

	// IndexDefinitions are the indices searched.
	IndexDefinitions []*schema.IndexDefinition

	// IndexExpression is the concrete index expression for the msearch
	// header, set by the routing optimizer. Empty means "derive the
	// default expression from IndexDefinitions".
	IndexExpression string

	// RoutingValues restricts the shards searched. nil means
	// unrestricted.
	RoutingValues []string

	// NoResultsPossible is set when routing analysis proved the query
	// can match nothing; such queries bypass the datastore.
	NoResultsPossible bool

	// Filters are the translated filter expressions (index-named), ANDed
	// together. Kept alongside the compiled clause for value-set
	// analysis.
	Filters []map[string]any

	// Filter is the compiled boolean query clause, or nil.
	Filter map[string]any

	Sort      []SortClause
	Paginator *Paginator

	// RequestedFields are the index fields the resolver needs from each
	// hit's source.
	RequestedFields []string

	// IndividualDocsNeeded is false when only hit counts or aggregations
	// were selected.
	IndividualDocsNeeded bool

	// TotalDocumentCountNeeded tracks total_edge_count selection.
	TotalDocumentCountNeeded bool

	Aggregations map[string]*aggregations.Query

	// ClusterName is the datastore cluster this query must run on.
	ClusterName string

	// Deadline is the absolute client-side deadline; time.Time carries a
	// monotonic reading when obtained from time.Now.
	Deadline time.Time

	memo *queryMemo
}

type queryMemo struct {
	bodyOnce  sync.Once
	body      map[string]any
	bodyErr   error
	hashOnce  sync.Once
	hash      string
	shapeOnce sync.Once
	shape     string
}

// Finalize prepares the query's memo space. The planner calls it once;
// Clone re-arms it on the copy.
func (q *Query) Finalize() *Query {
	q.memo = &queryMemo{}
	return q
}

// Clone returns a mutable shallow copy with fresh memo state. Aggregation
// maps are copied one level deep so callers can swap entries.
func (q *Query) Clone() *Query {
	clone := *q
	clone.memo = &queryMemo{}
	clone.Aggregations = make(map[string]*aggregations.Query, len(q.Aggregations))
	for name, agg := range q.Aggregations {
		clone.Aggregations[name] = agg
	}
	return &clone
}

// SearchBody renders (and memoizes) the search request body.
func (q *Query) SearchBody() (map[string]any, error) {
	q.memo.bodyOnce.Do(func() {
		q.memo.body, q.memo.bodyErr = q.buildBody()
	})
	return q.memo.body, q.memo.bodyErr
}

func (q *Query) buildBody() (map[string]any, error) {
	body := make(map[string]any)

	size := 0
	if q.IndividualDocsNeeded && q.Paginator != nil && !q.Paginator.ShortCircuitsToEmpty() {
		size = q.Paginator.RequestedSize()
	}
	body["size"] = size

	if q.IndividualDocsNeeded && len(q.RequestedFields) > 0 {
		body["_source"] = map[string]any{"includes": append([]string{}, q.RequestedFields...)}
	} else {
		body["_source"] = false
	}

	if size > 0 {
		body["sort"] = renderSort(q.Sort, q.Paginator.SearchesInReverse())
		if after := q.Paginator.SearchAfterValues(); len(after) > 0 {
			body["search_after"] = after
		}
	}

	body["track_total_hits"] = q.TotalDocumentCountNeeded

	if q.Filter != nil {
		body["query"] = q.Filter
	}

	aggs := make(map[string]any)
	for _, name := range sortedAggNames(q.Aggregations) {
		agg := q.Aggregations[name]
		built, err := agg.BuildAggs([]string{agg.Name})
		if err != nil {
			return nil, err
		}
		for key, clause := range built {
			aggs[key] = clause
		}
	}
	if len(aggs) > 0 {
		body["aggs"] = aggs
	}

	return body, nil
}

// MsearchHeader renders the multi-search header line for the query.
func (q *Query) MsearchHeader() map[string]any {
	header := map[string]any{"index": q.EffectiveIndexExpression()}
	if len(q.RoutingValues) > 0 {
		header["routing"] = strings.Join(q.RoutingValues, ",")
	}
	return header
}

// EffectiveIndexExpression is the routing-optimized expression when set,
// and the full wildcard union of the index definitions otherwise.
func (q *Query) EffectiveIndexExpression() string {
	if q.IndexExpression != "" {
		return q.IndexExpression
	}
	parts := make([]string, len(q.IndexDefinitions))
	for i, def := range q.IndexDefinitions {
		parts[i] = def.WildcardExpression()
	}
	return strings.Join(parts, ",")
}

// SortKeys exposes the ordered sort field names for cursor encoding.
func (q *Query) SortKeys() []string { return sortKeys(q.Sort) }

// HasAggregations reports whether any aggregation query will emit
// clauses.
func (q *Query) HasAggregations() bool {
	for _, agg := range q.Aggregations {
		if agg.PageSize > 0 {
			return true
		}
	}
	return false
}

// Hash is a structural content hash of the full query, usable as a map
// key surrogate.
func (q *Query) Hash() string {
	q.memo.hashOnce.Do(func() {
		q.memo.hash = q.fingerprint(true)
	})
	return q.memo.hash
}

// ShapeHash is the hash of the query with its aggregations cleared: two
// queries with equal ShapeHash are datastore-equivalent apart from their
// aggregations, and the optimizer may merge them.
func (q *Query) ShapeHash() string {
	q.memo.shapeOnce.Do(func() {
		q.memo.shape = q.fingerprint(false)
	})
	return q.memo.shape
}

func (q *Query) fingerprint(includeAggs bool) string {
	routing := q.RoutingValues
	if routing == nil {
		routing = []string{"\x00unrestricted"}
	}
	var searchAfter []any
	reversed := false
	if q.Paginator != nil {
		searchAfter = q.Paginator.SearchAfterValues()
		reversed = q.Paginator.SearchesInReverse()
	}
	record := map[string]any{
		"type":         string(q.Type),
		"index":        q.EffectiveIndexExpression(),
		"routing":      routing,
		"cluster":      q.ClusterName,
		"filters":      q.Filters,
		"sort":         renderSort(q.Sort, reversed),
		"search_after": searchAfter,
		"size":         q.pageSizeForFingerprint(),
		"docs_needed":  q.IndividualDocsNeeded,
		"total_count":  q.TotalDocumentCountNeeded,
		"fields":       q.RequestedFields,
		"no_results":   q.NoResultsPossible,
	}
	if includeAggs {
		record["aggregations"] = aggNamesForFingerprint(q.Aggregations)
	}
	data, err := json.Marshal(record)
	if err != nil {
		// All inputs are JSON-safe by construction.
		data = []byte(fmt.Sprintf("%v", record))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (q *Query) pageSizeForFingerprint() int {
	if q.Paginator == nil {
		return 0
	}
	if q.Paginator.ShortCircuitsToEmpty() {
		return 0
	}
	return q.Paginator.RequestedSize()
}

// aggNamesForFingerprint distinguishes aggregation sets without
// serializing full agg trees; names plus page sizes are sufficient for
// the full-query hash.
func aggNamesForFingerprint(aggs map[string]*aggregations.Query) map[string]int {
	out := make(map[string]int, len(aggs))
	for name, agg := range aggs {
		out[name] = agg.PageSize
	}
	return out
}

func sortedAggNames(aggs map[string]*aggregations.Query) []string {
	names := make([]string, 0, len(aggs))
	for name := range aggs {
		names = append(names, name)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return names
}

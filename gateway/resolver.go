package gateway

import (
	"fmt"
	"strings"

	"github.com/graphql-go/graphql"

	"github.com/elastigraph/elastigraph/aggregations"
	"github.com/elastigraph/elastigraph/msearch"
	"github.com/elastigraph/elastigraph/planner"
	"github.com/elastigraph/elastigraph/routing"
	"github.com/elastigraph/elastigraph/schema"
	"github.com/elastigraph/elastigraph/search"
)

// resolverBuilder creates resolvers that plan, optimize, dispatch, and
// shape one datastore query per root field.
type resolverBuilder struct {
	planner    *planner.Planner
	routing    *routing.Optimizer
	optimizer  *msearch.Optimizer
	dispatcher *msearch.Dispatcher
}

func newResolverBuilder(p *planner.Planner, r *routing.Optimizer, o *msearch.Optimizer, d *msearch.Dispatcher) *resolverBuilder {
	return &resolverBuilder{planner: p, routing: r, optimizer: o, dispatcher: d}
}

// execute runs the standard pipeline for one planned query.
func (rb *resolverBuilder) execute(params graphql.ResolveParams, q *search.Query) (*search.Response, error) {
	q = rb.routing.Optimize(q)
	batch := rb.optimizer.Merge([]*search.Query{q})
	responses, err := rb.dispatcher.Dispatch(params.Context, batch.Queries)
	if err != nil {
		return nil, err
	}
	responses, err = batch.Unmerge(responses)
	if err != nil {
		return nil, err
	}
	resp, ok := responses[q]
	if !ok {
		return nil, fmt.Errorf("no response produced for query; this is a bug")
	}
	return resp, nil
}

func (rb *resolverBuilder) documentsResolver(typeName schema.TypeRef) graphql.FieldResolveFn {
	return func(params graphql.ResolveParams) (any, error) {
		q, err := rb.planner.PlanDocuments(params, typeName)
		if err != nil {
			return nil, err
		}
		resp, err := rb.execute(params, q)
		if err != nil {
			return nil, err
		}
		return shapeDocuments(q, resp)
	}
}

func (rb *resolverBuilder) aggregationsResolver(typeName schema.TypeRef) graphql.FieldResolveFn {
	return func(params graphql.ResolveParams) (any, error) {
		q, err := rb.planner.PlanAggregations(params, typeName)
		if err != nil {
			return nil, err
		}
		resp, err := rb.execute(params, q)
		if err != nil {
			return nil, err
		}
		return shapeAggregations(q, resp)
	}
}

// shapeDocuments converts a search response into the connection value
// the generated schema resolves against.
func shapeDocuments(q *search.Query, resp *search.Response) (map[string]any, error) {
	hits := resp.Hits.Hits

	desired := 0
	reversed := false
	if q.Paginator != nil {
		desired = q.Paginator.DesiredPageSize()
		reversed = q.Paginator.SearchesInReverse()
	}
	hasMore := len(hits) > desired
	if hasMore {
		hits = hits[:desired]
	}
	if reversed {
		reverseHits(hits)
	}

	sortKeys := q.SortKeys()
	nodes := make([]any, 0, len(hits))
	edges := make([]any, 0, len(hits))
	var startCursor, endCursor *search.Cursor
	for i, hit := range hits {
		source, err := hit.SourceMap()
		if err != nil {
			return nil, fmt.Errorf("failed to decode hit %s: %w", hit.ID, err)
		}
		if _, ok := source[search.IDFieldName]; !ok {
			source[search.IDFieldName] = hit.ID
		}

		cursor := search.SingletonCursor
		if len(hits) > 1 || hasMore || hasBoundary(q.Paginator) {
			cursor, err = hit.Cursor(sortKeys)
			if err != nil {
				return nil, err
			}
		}
		if i == 0 {
			startCursor = &cursor
		}
		if i == len(hits)-1 {
			c := cursor
			endCursor = &c
		}

		nodes = append(nodes, source)
		edges = append(edges, map[string]any{"node": source, "cursor": string(cursor)})
	}

	hasNext, hasPrevious := pageFlags(q.Paginator, hasMore, reversed)
	pageInfo := map[string]any{
		"has_next_page":     hasNext,
		"has_previous_page": hasPrevious,
	}
	if startCursor != nil {
		pageInfo["start_cursor"] = string(*startCursor)
	}
	if endCursor != nil {
		pageInfo["end_cursor"] = string(*endCursor)
	}

	return map[string]any{
		"nodes":            nodes,
		"edges":            edges,
		"page_info":        pageInfo,
		"total_edge_count": resp.Hits.Total.Value,
	}, nil
}

func hasBoundary(p *search.Paginator) bool {
	return p != nil && (p.After != nil || p.Before != nil)
}

func pageFlags(p *search.Paginator, hasMore, reversed bool) (hasNext, hasPrevious bool) {
	if p == nil {
		return false, false
	}
	if reversed {
		return p.Before != nil, hasMore
	}
	return hasMore, p.After != nil
}

func reverseHits(hits []search.Hit) {
	for i, j := 0, len(hits)-1; i < j; i, j = i+1, j-1 {
		hits[i], hits[j] = hits[j], hits[i]
	}
}

// shapeAggregations converts an aggregation response into the
// aggregation connection value: nested maps keyed by GraphQL names.
func shapeAggregations(q *search.Query, resp *search.Response) (map[string]any, error) {
	emptyPage := map[string]any{
		"nodes": []any{},
		"edges": []any{},
		"page_info": map[string]any{
			"has_next_page":     false,
			"has_previous_page": false,
		},
	}

	var aggQuery *aggregations.Query
	for _, agg := range q.Aggregations {
		aggQuery = agg
	}
	if aggQuery == nil || aggQuery.PageSize == 0 || resp.Aggregations == nil {
		return emptyPage, nil
	}

	var buckets []aggregations.Bucket
	var afterKey map[string]any
	if _, composite := aggQuery.Adapter.(aggregations.CompositeAdapter); composite && len(aggQuery.Groupings) > 0 {
		payload, ok := topLevelAggPayload(resp.Aggregations, aggQuery.Name)
		if !ok {
			return emptyPage, nil
		}
		page, err := aggregations.DecodeComposite(aggQuery, payload)
		if err != nil {
			return nil, err
		}
		buckets = page.Buckets
		afterKey = page.AfterKey
	} else if len(aggQuery.Groupings) > 0 {
		var err error
		buckets, err = aggregations.FlattenNonComposite(aggQuery, aggQuery.Name, resp.Aggregations)
		if err != nil {
			return nil, err
		}
	} else {
		// Ungrouped: one synthetic bucket carries the metrics and the
		// hit count.
		buckets = []aggregations.Bucket{ungroupedBucket(aggQuery, resp)}
	}

	nodes := make([]any, 0, len(buckets))
	edges := make([]any, 0, len(buckets))
	var endCursor *search.Cursor
	for _, bucket := range buckets {
		node, err := shapeBucket(aggQuery, bucket)
		if err != nil {
			return nil, err
		}
		cursor, err := bucketCursor(aggQuery, bucket, len(buckets))
		if err != nil {
			return nil, err
		}
		c := cursor
		endCursor = &c
		nodes = append(nodes, node)
		edges = append(edges, map[string]any{"node": node, "cursor": string(cursor)})
	}

	pageInfo := map[string]any{
		"has_next_page":     afterKey != nil,
		"has_previous_page": aggQuery.AfterKeys != nil,
	}
	if endCursor != nil {
		pageInfo["end_cursor"] = string(*endCursor)
	}

	return map[string]any{
		"nodes":     nodes,
		"edges":     edges,
		"page_info": pageInfo,
	}, nil
}

// topLevelAggPayload finds an aggregation's response entry, stepping
// through the filter wrapper when present.
func topLevelAggPayload(aggs map[string]any, name string) (map[string]any, bool) {
	if payload, ok := aggs[name].(map[string]any); ok {
		return payload, true
	}
	if wrapper, ok := aggs[name+":filtered"].(map[string]any); ok {
		payload, ok := wrapper[name].(map[string]any)
		return payload, ok
	}
	return nil, false
}

func ungroupedBucket(q *aggregations.Query, resp *search.Response) aggregations.Bucket {
	bucket := aggregations.Bucket{
		Key:      map[string]any{},
		DocCount: resp.Hits.Total.Value,
		Metrics:  make(map[string]any),
		Sub:      make(map[string]any),
	}
	for _, comp := range q.Computations {
		bucket.Metrics[comp.Name] = comp.EmptyBucketValue
		if payload, ok := resp.Aggregations[q.Name+":"+comp.Name].(map[string]any); ok {
			if v, ok := payload["value"]; ok && v != nil {
				bucket.Metrics[comp.Name] = v
			}
		}
	}
	for key, value := range resp.Aggregations {
		if sub, ok := value.(map[string]any); ok && strings.HasPrefix(key, q.Name+":") {
			bucket.Sub[key] = sub
		}
	}
	return bucket
}

// shapeBucket builds the aggregation node for one bucket.
func shapeBucket(q *aggregations.Query, bucket aggregations.Bucket) (map[string]any, error) {
	node := map[string]any{}

	if len(bucket.Key) > 0 {
		node["grouped_by"] = nestDotted(bucket.Key)
	}
	if q.NeedsDocCount || q.NeedsDocCountError {
		node["count"] = bucket.DocCount
		detail := map[string]any{
			"approximate_value": bucket.DocCount,
			"upper_bound":       bucket.DocCount + bucket.DocCountError,
		}
		if bucket.DocCountError == 0 {
			detail["exact_value"] = bucket.DocCount
		}
		node["count_detail"] = detail
	}
	if len(bucket.Metrics) > 0 {
		node["aggregated_values"] = nestDotted(bucket.Metrics)
	}

	if len(q.SubAggregations) > 0 {
		shaped, err := shapeSubAggregations(q, bucket)
		if err != nil {
			return nil, err
		}
		node["sub_aggregations"] = shaped
	}
	return node, nil
}

func shapeSubAggregations(q *aggregations.Query, bucket aggregations.Bucket) (map[string]any, error) {
	out := map[string]any{}
	for _, sub := range q.SubAggregations {
		subQ := sub.Query
		key := q.Name + ":" + sub.NestedPathInIndex

		payload, _ := bucket.Sub[key].(map[string]any)
		if payload == nil {
			if wrapper, ok := bucket.Sub[key+":filtered"].(map[string]any); ok {
				payload, _ = wrapper[key].(map[string]any)
			}
		}
		fieldName := sub.NestedPathInIndex[strings.LastIndex(sub.NestedPathInIndex, ".")+1:]
		if payload == nil {
			out[fieldName] = map[string]any{"nodes": []any{}}
			continue
		}

		var nodes []any
		if len(subQ.Groupings) > 0 {
			buckets, err := aggregations.FlattenNonComposite(subQ, subQ.Name, payload)
			if err != nil {
				return nil, err
			}
			for _, b := range buckets {
				node, err := shapeBucket(subQ, b)
				if err != nil {
					return nil, err
				}
				nodes = append(nodes, node)
			}
		} else {
			docCount, _ := payload["doc_count"].(float64)
			b := aggregations.Bucket{
				Key:      map[string]any{},
				DocCount: int64(docCount),
				Metrics:  map[string]any{},
				Sub:      payload,
			}
			node, err := shapeBucket(subQ, b)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		}
		out[fieldName] = map[string]any{"nodes": nodes}
	}
	return out, nil
}

// bucketCursor encodes a bucket's grouping values; a one-element page
// gets the singleton cursor.
func bucketCursor(q *aggregations.Query, bucket aggregations.Bucket, pageLen int) (search.Cursor, error) {
	keys := q.GroupingKeys()
	if pageLen == 1 && q.AfterKeys == nil {
		return search.SingletonCursor, nil
	}
	values := make([]any, len(keys))
	for i, key := range keys {
		values[i] = bucket.Key[key]
	}
	return search.EncodeCursor(keys, values)
}

// nestDotted converts {"a.b": v} into {"a": {"b": v}}.
func nestDotted(flat map[string]any) map[string]any {
	out := map[string]any{}
	for path, value := range flat {
		segments := strings.Split(path, ".")
		current := out
		for i, segment := range segments {
			if i == len(segments)-1 {
				current[segment] = value
				break
			}
			next, ok := current[segment].(map[string]any)
			if !ok {
				next = map[string]any{}
				current[segment] = next
			}
			current = next
		}
	}
	return out
}

// sourceFieldResolver reads one index-named field out of a hit source.
func sourceFieldResolver(nameInIndex string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		source, ok := p.Source.(map[string]any)
		if !ok {
			return nil, nil
		}
		return source[nameInIndex], nil
	}
}

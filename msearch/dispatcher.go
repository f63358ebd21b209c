package msearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/elastigraph/elastigraph/search"
)

// Dispatcher fans a query batch out to its datastore clusters: one
// multi-search per cluster, all clusters in parallel. This is the only
// concurrency point in the whole query pipeline, bounded by the number
// of clusters the batch touches.
type Dispatcher struct {
	Client Client
	Log    logr.Logger
}

// Dispatch runs every query and returns the response for each. Queries
// proven empty by the routing optimizer never reach the datastore.
func (d *Dispatcher) Dispatch(ctx context.Context, queries []*search.Query) (map[*search.Query]*search.Response, error) {
	results := make(map[*search.Query]*search.Response, len(queries))

	byCluster := make(map[string][]*search.Query)
	for _, q := range queries {
		if q.NoResultsPossible || (q.Paginator != nil && q.Paginator.ShortCircuitsToEmpty() && !q.HasAggregations() && !q.TotalDocumentCountNeeded) {
			results[q] = search.EmptyResponse()
			continue
		}
		byCluster[q.ClusterName] = append(byCluster[q.ClusterName], q)
	}
	if len(byCluster) == 0 {
		return results, nil
	}

	timeout, err := batchTimeout(queries)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type clusterResult struct {
		cluster    string
		queries    []*search.Query
		serverTook int64
		responses  []*search.Response
	}

	started := time.Now()
	clusterResults := make([]*clusterResult, 0, len(byCluster))
	g, gctx := errgroup.WithContext(ctx)
	for cluster, clusterQueries := range byCluster {
		result := &clusterResult{cluster: cluster, queries: clusterQueries}
		clusterResults = append(clusterResults, result)
		g.Go(func() error {
			body, err := encodeBatch(result.queries)
			if err != nil {
				return err
			}
			resp, err := d.Client.Msearch(gctx, result.cluster, body)
			if err != nil {
				if gctx.Err() == context.DeadlineExceeded {
					return &RequestExceededDeadlineError{Message: fmt.Sprintf(
						"datastore request to cluster %q exceeded the deadline", result.cluster)}
				}
				return err
			}
			if len(resp.Responses) != len(result.queries) {
				return fmt.Errorf("cluster %q returned %d responses for %d queries",
					result.cluster, len(resp.Responses), len(result.queries))
			}
			result.serverTook = resp.Took
			result.responses = resp.Responses
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	clientDuration := time.Since(started)
	var serverTook int64
	var failures []QueryFailure
	for _, result := range clusterResults {
		if result.serverTook > serverTook {
			serverTook = result.serverTook
		}
		for i, resp := range result.responses {
			q := result.queries[i]
			if resp.Error != nil {
				if err := classifyResponseError(resp); err != nil {
					return nil, err
				}
				failures = append(failures, QueryFailure{
					Cluster: result.cluster,
					Index:   q.EffectiveIndexExpression(),
					Status:  resp.Status,
					Error:   resp.Error,
				})
				continue
			}
			if resp.Shards.Failed > 0 {
				// Partial data on an otherwise-successful response:
				// worth an operator's attention, not a query failure.
				d.Log.Info("datastore response reported shard failures",
					"cluster", result.cluster,
					"index", q.EffectiveIndexExpression(),
					"failed", resp.Shards.Failed,
					"total", resp.Shards.Total)
			}
			results[q] = resp
		}
	}
	if len(failures) > 0 {
		return nil, &SearchFailedError{Failures: failures}
	}

	d.Log.V(1).Info("datastore msearch batch complete",
		"queries", len(queries),
		"clusters", len(byCluster),
		"client_duration_ms", clientDuration.Milliseconds(),
		"server_took_ms", serverTook)
	return results, nil
}

// batchTimeout derives the client-side timeout from the earliest query
// deadline. A server-side timeout is deliberately not used; it is
// unreliable for multi-search.
func batchTimeout(queries []*search.Query) (time.Duration, error) {
	var earliest time.Time
	for _, q := range queries {
		if q.Deadline.IsZero() {
			continue
		}
		if earliest.IsZero() || q.Deadline.Before(earliest) {
			earliest = q.Deadline
		}
	}
	if earliest.IsZero() {
		// No deadline given; fall back to a generous ceiling.
		return 30 * time.Second, nil
	}
	remaining := time.Until(earliest)
	if remaining <= 0 {
		return 0, &RequestExceededDeadlineError{Message: "query deadline passed before the datastore was contacted"}
	}
	return remaining, nil
}

// classifyResponseError maps known datastore errors to public error
// types. Returns nil when the error should be aggregated instead.
func classifyResponseError(resp *search.Response) error {
	if containsErrorType(resp.Error, "too_many_buckets_exception") {
		max := findMaxBuckets(resp.Error)
		return &ExecutionError{Message: fmt.Sprintf(
			"aggregation query produced too many buckets (limit %d); reduce grouping cardinality or page size", max)}
	}
	return nil
}

// containsErrorType searches the error and its caused_by/root_cause
// nesting for the given datastore error type.
func containsErrorType(err map[string]any, want string) bool {
	if t, ok := err["type"].(string); ok && strings.Contains(t, want) {
		return true
	}
	if caused, ok := err["caused_by"].(map[string]any); ok {
		if containsErrorType(caused, want) {
			return true
		}
	}
	if roots, ok := err["root_cause"].([]any); ok {
		for _, root := range roots {
			if m, ok := root.(map[string]any); ok && containsErrorType(m, want) {
				return true
			}
		}
	}
	return false
}

func findMaxBuckets(err map[string]any) int64 {
	if v, ok := err["max_buckets"].(float64); ok {
		return int64(v)
	}
	if caused, ok := err["caused_by"].(map[string]any); ok {
		return findMaxBuckets(caused)
	}
	if roots, ok := err["root_cause"].([]any); ok {
		for _, root := range roots {
			if m, ok := root.(map[string]any); ok {
				if v := findMaxBuckets(m); v > 0 {
					return v
				}
			}
		}
	}
	return 0
}

// encodeBatch renders the alternating header/body NDJSON body.
func encodeBatch(queries []*search.Query) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, q := range queries {
		if err := enc.Encode(q.MsearchHeader()); err != nil {
			return nil, err
		}
		body, err := q.SearchBody()
		if err != nil {
			return nil, err
		}
		if err := enc.Encode(body); err != nil {
			return nil, err
		}
	}
	return &buf, nil
}

package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/go-logr/logr"
)

// BulkClient is the narrow datastore surface the applier needs.
type BulkClient interface {
	Bulk(ctx context.Context, cluster string, body io.Reader) (*BulkResponse, error)
}

// BulkResponse is the decoded bulk reply.
type BulkResponse struct {
	Took   int64 `json:"took"`
	Errors bool  `json:"errors"`
	// Items holds one entry per operation, keyed by action ("index" or
	// "update").
	Items []map[string]map[string]any `json:"items"`
}

// Result pairs an operation with its categorized outcome.
type Result struct {
	Operation Operation
	Outcome   Outcome
	// Item is the raw per-operation response, kept for failure
	// reporting.
	Item map[string]any
}

// Applier submits compiled operations in one bulk request per call and
// categorizes each item. Failures are returned, not retried; retry
// policy belongs to the caller's queue.
type Applier struct {
	Client BulkClient
	Log    logr.Logger
}

// Apply runs the operations against the named cluster.
func (a *Applier) Apply(ctx context.Context, cluster string, operations []Operation) ([]Result, error) {
	if len(operations) == 0 {
		return nil, nil
	}

	body, err := encodeBulk(operations)
	if err != nil {
		return nil, err
	}
	resp, err := a.Client.Bulk(ctx, cluster, body)
	if err != nil {
		return nil, fmt.Errorf("bulk request to cluster %q failed: %w", cluster, err)
	}
	if len(resp.Items) != len(operations) {
		return nil, fmt.Errorf("cluster %q returned %d bulk items for %d operations",
			cluster, len(resp.Items), len(operations))
	}

	results := make([]Result, len(operations))
	for i, op := range operations {
		item, status := bulkItem(resp.Items[i])
		outcome := op.Categorize(status, item)
		if outcome == OutcomeFailure {
			index, _ := op.Destination()
			a.Log.Info("update operation failed",
				"cluster", cluster,
				"index", index,
				"doc_id", op.DocumentID(),
				"status", status)
		}
		results[i] = Result{Operation: op, Outcome: outcome, Item: item}
	}
	return results, nil
}

func encodeBulk(operations []Operation) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, op := range operations {
		header, body := op.BulkLines()
		if err := enc.Encode(header); err != nil {
			return nil, err
		}
		if err := enc.Encode(body); err != nil {
			return nil, err
		}
	}
	return &buf, nil
}

// bulkItem unwraps the single-action envelope of a bulk item.
func bulkItem(item map[string]map[string]any) (map[string]any, int) {
	for _, payload := range item {
		status := 0
		if s, ok := payload["status"].(float64); ok {
			status = int(s)
		}
		return payload, status
	}
	return map[string]any{}, 0
}

// ElasticsearchBulkClient adapts go-elasticsearch clients, one per
// cluster, mirroring the msearch client shape.
type ElasticsearchBulkClient struct {
	clusters map[string]*elasticsearch.Client
}

// NewElasticsearchBulkClient wraps the given per-cluster clients.
func NewElasticsearchBulkClient(clusters map[string]*elasticsearch.Client) *ElasticsearchBulkClient {
	return &ElasticsearchBulkClient{clusters: clusters}
}

func (c *ElasticsearchBulkClient) Bulk(ctx context.Context, cluster string, body io.Reader) (*BulkResponse, error) {
	client, ok := c.clusters[cluster]
	if !ok {
		return nil, fmt.Errorf("no datastore client configured for cluster %q", cluster)
	}
	resp, err := client.Bulk(body, client.Bulk.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return nil, fmt.Errorf("bulk request returned status %d", resp.StatusCode)
	}
	var decoded BulkResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode bulk response: %w", err)
	}
	return &decoded, nil
}

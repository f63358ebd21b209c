package msearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"

	"github.com/elastigraph/elastigraph/search"
)

// Client is the narrow datastore surface the dispatcher consumes. One
// implementation per datastore flavor; all must be safe for concurrent
// use.
type Client interface {
	// Msearch submits an NDJSON multi-search body to the named cluster.
	Msearch(ctx context.Context, cluster string, body io.Reader) (*search.MsearchResponse, error)

	// ClusterHealth passes through the cluster health endpoint, consumed
	// by the external health component.
	ClusterHealth(ctx context.Context, cluster string) (map[string]any, error)
}

// ElasticsearchClient adapts go-elasticsearch clients, one per named
// cluster.
type ElasticsearchClient struct {
	clusters map[string]*elasticsearch.Client
}

// NewElasticsearchClient wraps the given per-cluster clients.
func NewElasticsearchClient(clusters map[string]*elasticsearch.Client) *ElasticsearchClient {
	return &ElasticsearchClient{clusters: clusters}
}

func (c *ElasticsearchClient) clientFor(cluster string) (*elasticsearch.Client, error) {
	client, ok := c.clusters[cluster]
	if !ok {
		return nil, fmt.Errorf("no datastore client configured for cluster %q", cluster)
	}
	return client, nil
}

func (c *ElasticsearchClient) Msearch(ctx context.Context, cluster string, body io.Reader) (*search.MsearchResponse, error) {
	client, err := c.clientFor(cluster)
	if err != nil {
		return nil, err
	}

	resp, err := client.Msearch(body, client.Msearch.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("msearch against cluster %q failed: %w", cluster, err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, fmt.Errorf("msearch against cluster %q returned status %d", cluster, resp.StatusCode)
	}

	var decoded search.MsearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode msearch response from cluster %q: %w", cluster, err)
	}
	return &decoded, nil
}

func (c *ElasticsearchClient) ClusterHealth(ctx context.Context, cluster string) (map[string]any, error) {
	client, err := c.clientFor(cluster)
	if err != nil {
		return nil, err
	}

	resp, err := client.Cluster.Health(client.Cluster.Health.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("cluster health for %q failed: %w", cluster, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode cluster health from %q: %w", cluster, err)
	}
	return decoded, nil
}

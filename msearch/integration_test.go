package msearch

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/elastigraph/elastigraph/search"
)

// Integration coverage against a real Elasticsearch container. Opt in
// with ELASTIGRAPH_INTEGRATION=1; everything else in this package runs
// without Docker.
func startElasticsearch(t *testing.T) *elasticsearch.Client {
	t.Helper()
	if os.Getenv("ELASTIGRAPH_INTEGRATION") == "" {
		t.Skip("set ELASTIGRAPH_INTEGRATION=1 to run integration tests")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "docker.elastic.co/elasticsearch/elasticsearch:8.11.0",
		ExposedPorts: []string{"9200/tcp"},
		Env: map[string]string{
			"discovery.type":         "single-node",
			"xpack.security.enabled": "false",
			"ES_JAVA_OPTS":           "-Xms512m -Xmx512m",
		},
		WaitingFor: wait.ForHTTP("/").
			WithPort("9200").
			WithStartupTimeout(180 * time.Second).
			WithPollInterval(2 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9200")
	require.NoError(t, err)

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{fmt.Sprintf("http://%s:%s", host, port.Port())},
	})
	require.NoError(t, err)
	return client
}

func TestMsearchRoundTrip(t *testing.T) {
	es := startElasticsearch(t)
	ctx := context.Background()

	// Index two documents and make them searchable.
	for i, doc := range []string{
		`{"id": "w1", "name": "alpha", "size": "L"}`,
		`{"id": "w2", "name": "beta", "size": "S"}`,
	} {
		resp, err := es.Index("widgets", strings.NewReader(doc),
			es.Index.WithDocumentID(fmt.Sprintf("w%d", i+1)),
			es.Index.WithContext(ctx))
		require.NoError(t, err)
		resp.Body.Close()
	}
	refresh, err := es.Indices.Refresh(es.Indices.Refresh.WithIndex("widgets"))
	require.NoError(t, err)
	refresh.Body.Close()

	client := NewElasticsearchClient(map[string]*elasticsearch.Client{"main": es})

	body := strings.Join([]string{
		`{"index":"widgets"}`,
		`{"query":{"terms":{"size.keyword":["L"]}},"size":10,"track_total_hits":true}`,
		`{"index":"widgets"}`,
		`{"size":10,"track_total_hits":true}`,
	}, "\n") + "\n"

	resp, err := client.Msearch(ctx, "main", strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, resp.Responses, 2)
	assert.Equal(t, int64(1), resp.Responses[0].Hits.Total.Value)
	assert.Equal(t, int64(2), resp.Responses[1].Hits.Total.Value)

	health, err := client.ClusterHealth(ctx, "main")
	require.NoError(t, err)
	assert.NotEmpty(t, health["status"])
}

func TestDispatcherAgainstRealDatastore(t *testing.T) {
	es := startElasticsearch(t)
	ctx := context.Background()

	resp, err := es.Index("widgets", strings.NewReader(`{"id": "w1", "name": "alpha"}`),
		es.Index.WithDocumentID("w1"), es.Index.WithContext(ctx))
	require.NoError(t, err)
	resp.Body.Close()
	refresh, err := es.Indices.Refresh(es.Indices.Refresh.WithIndex("widgets"))
	require.NoError(t, err)
	refresh.Body.Close()

	d := &Dispatcher{
		Client: NewElasticsearchClient(map[string]*elasticsearch.Client{"main": es}),
		Log:    logr.Discard(),
	}

	q := plannedQuery(t, "")
	clone := q.Clone()
	clone.IndexDefinitions[0].Name = "widgets"
	// Dynamic mapping indexes id as text; sort on its keyword subfield.
	clone.Sort = []search.SortClause{{FieldInIndex: "id.keyword"}}
	clone.IndividualDocsNeeded = true
	clone.RequestedFields = []string{"id", "name"}
	clone.TotalDocumentCountNeeded = true
	clone.Deadline = time.Now().Add(30 * time.Second)

	results, err := d.Dispatch(ctx, []*search.Query{clone})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[clone].Hits.Total.Value)
	require.Len(t, results[clone].Hits.Hits, 1)
}

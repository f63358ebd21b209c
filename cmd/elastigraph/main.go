package main

import (
	"net/http"
	"os"
	"strings"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/go-logr/zapr"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/elastigraph/elastigraph/gateway"
	"github.com/elastigraph/elastigraph/msearch"
	"github.com/elastigraph/elastigraph/schema"
)

func main() {
	// Local development reads settings from .env; in deployed
	// environments the variables are injected directly.
	_ = godotenv.Load()

	zapLog, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer zapLog.Sync()
	log := zapr.NewLogger(zapLog)

	artifactsPath := envOr("SCHEMA_ARTIFACTS_PATH", "config/schema_artifacts.yaml")
	registry, err := schema.LoadFile(artifactsPath)
	if err != nil {
		log.Error(err, "failed to load schema artifacts", "path", artifactsPath)
		os.Exit(1)
	}

	clusters, err := buildClusterClients()
	if err != nil {
		log.Error(err, "failed to build datastore clients")
		os.Exit(1)
	}

	api, err := gateway.New(registry, msearch.NewElasticsearchClient(clusters), gateway.Config{
		RequestTimeout: envDuration("REQUEST_TIMEOUT", 30*time.Second),
	}, log)
	if err != nil {
		log.Error(err, "failed to build gateway")
		os.Exit(1)
	}

	addr := envOr("ADDR", ":8080")
	mux := http.NewServeMux()
	mux.Handle("/graphql", api)
	log.Info("serving graphql", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error(err, "server exited")
		os.Exit(1)
	}
}

// buildClusterClients creates one client per configured cluster.
// CLUSTERS lists cluster names; each cluster's URL comes from
// ELASTICSEARCH_URL_<NAME>. With no CLUSTERS set, a single "main"
// cluster reads ELASTICSEARCH_URL.
func buildClusterClients() (map[string]*elasticsearch.Client, error) {
	clusters := map[string]*elasticsearch.Client{}
	names := strings.Split(envOr("CLUSTERS", "main"), ",")
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		url := os.Getenv("ELASTICSEARCH_URL_" + strings.ToUpper(name))
		if url == "" {
			url = envOr("ELASTICSEARCH_URL", "http://localhost:9200")
		}
		client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{url}})
		if err != nil {
			return nil, err
		}
		clusters[name] = client
	}
	return clusters, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envDuration(name string, fallback time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/graphql-go/graphql"

	"github.com/elastigraph/elastigraph/msearch"
	"github.com/elastigraph/elastigraph/planner"
	"github.com/elastigraph/elastigraph/routing"
	"github.com/elastigraph/elastigraph/schema"
)

// Config holds the gateway's tunables.
type Config struct {
	DefaultPageSize int
	MaxPageSize     int
	RequestTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultPageSize == 0 {
		c.DefaultPageSize = 50
	}
	if c.MaxPageSize == 0 {
		c.MaxPageSize = 500
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	return c
}

// API is the GraphQL gateway: an http.Handler serving the schema
// generated from the registry, executing queries through the planner,
// optimizer, and dispatcher pipeline.
type API struct {
	registry *schema.Registry
	schema   graphql.Schema
	log      logr.Logger
}

// New builds the gateway for a registry and datastore client.
func New(registry *schema.Registry, client msearch.Client, config Config, log logr.Logger) (*API, error) {
	config = config.withDefaults()

	p := &planner.Planner{
		Registry:        registry,
		Log:             log.WithName("planner"),
		DefaultPageSize: config.DefaultPageSize,
		MaxPageSize:     config.MaxPageSize,
		RequestTimeout:  config.RequestTimeout,
	}
	resolvers := newResolverBuilder(
		p,
		&routing.Optimizer{Registry: registry, Log: log.WithName("routing")},
		&msearch.Optimizer{Log: log.WithName("optimizer")},
		&msearch.Dispatcher{Client: client, Log: log.WithName("dispatcher")},
	)

	generator := NewSchemaGenerator(registry, resolvers)
	gqlSchema, err := generator.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema: %w", err)
	}

	return &API{registry: registry, schema: gqlSchema, log: log}, nil
}

// Schema exposes the generated schema, e.g. for SDL export.
func (api *API) Schema() graphql.Schema { return api.schema }

type graphqlRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

// ServeHTTP implements http.Handler.
func (api *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req graphqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	requestID := uuid.NewString()
	started := time.Now()
	result := graphql.Do(graphql.Params{
		Schema:         api.schema,
		RequestString:  req.Query,
		OperationName:  req.OperationName,
		VariableValues: req.Variables,
		Context:        r.Context(),
	})
	api.log.V(1).Info("graphql request complete",
		"request_id", requestID,
		"operation", req.OperationName,
		"errors", len(result.Errors),
		"duration_ms", time.Since(started).Milliseconds())

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		api.log.Error(err, "failed to write graphql response", "request_id", requestID)
	}
}

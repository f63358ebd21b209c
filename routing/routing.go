// Package routing narrows a planned query's shard and index fan-out.
// From the query's filters it derives (a) the set of shard-routing
// values worth sending and (b) the minimal concrete index expression for
// rollover indices, using the filtering value-set algebra and the
// timeset interval algebra.
package routing

import (
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/elastigraph/elastigraph/filtering"
	"github.com/elastigraph/elastigraph/schema"
	"github.com/elastigraph/elastigraph/search"
	"github.com/elastigraph/elastigraph/timeset"
)

// maxEnumeratedIndices bounds per-index expansion of a time set into
// concrete index names; beyond it the wildcard expression is cheaper for
// the datastore to parse than a huge index list is to ship.
const maxEnumeratedIndices = 50

// fallbackRoutingValue is searched when filters prove no routing value
// can match but the query carries aggregations: the response must still
// have a valid aggregation skeleton, which requires searching at least
// one shard.
const fallbackRoutingValue = "0"

// Optimizer computes routing values and index expressions.
type Optimizer struct {
	Registry *schema.Registry
	Log      logr.Logger
}

// Optimize returns a copy of the query with RoutingValues,
// IndexExpression, and NoResultsPossible populated.
func (o *Optimizer) Optimize(q *search.Query) *search.Query {
	out := q.Clone()

	o.optimizeRouting(out)
	if !out.NoResultsPossible {
		o.optimizeIndexExpression(out)
	}
	return out
}

func (o *Optimizer) optimizeRouting(q *search.Query) {
	paths := o.Registry.RoutingFieldPaths(q.IndexDefinitions)
	if len(paths) == 0 {
		q.RoutingValues = nil
		return
	}

	// A document only need match one path's routing field for its shard
	// to be worth searching, so sets from different paths union.
	combined := filtering.NoValues
	for _, path := range paths {
		combined = combined.Union(valueSetForPath(q.Filters, path))
	}

	if combined.Unrestricted() {
		q.RoutingValues = nil
		return
	}
	values, _ := combined.ConcreteValues()
	if len(values) == 0 {
		if q.HasAggregations() {
			q.RoutingValues = []string{fallbackRoutingValue}
			return
		}
		q.NoResultsPossible = true
		q.RoutingValues = nil
		return
	}

	// Ignored routing values route by document id instead, so their
	// documents can live on any shard.
	for _, def := range q.IndexDefinitions {
		for _, v := range values {
			if def.RoutingValueIgnored(v) {
				q.RoutingValues = nil
				return
			}
		}
	}

	sort.Strings(values)
	q.RoutingValues = values
}

// valueSetForPath intersects the value sets of the query's ANDed filter
// expressions for one routing field path.
func valueSetForPath(filters []map[string]any, path string) filtering.ValueSet {
	set := filtering.AllValues
	for _, f := range filters {
		set = set.Intersect(filtering.ExtractValueSet(f, path))
	}
	return set
}

func (o *Optimizer) optimizeIndexExpression(q *search.Query) {
	var parts []string
	anyIncluded := false
	for _, def := range q.IndexDefinitions {
		exprs := o.expressionsForIndex(q, def)
		if len(exprs) > 0 {
			anyIncluded = true
			parts = append(parts, exprs...)
		}
	}

	if !anyIncluded {
		if q.HasAggregations() && len(q.IndexDefinitions) > 0 {
			// Aggregation responses need a real index to produce their
			// skeleton; searching one arbitrary concrete period is the
			// cheapest way to get one.
			def := q.IndexDefinitions[0]
			q.IndexExpression = def.ConcreteIndexFor(time.Unix(0, 0).UTC())
			return
		}
		q.NoResultsPossible = true
		return
	}
	q.IndexExpression = strings.Join(parts, ",")
}

func (o *Optimizer) expressionsForIndex(q *search.Query, def *schema.IndexDefinition) []string {
	if def.Rollover == nil {
		return []string{def.Name}
	}

	allowed := timeset.All
	for _, f := range q.Filters {
		allowed = allowed.Intersect(filtering.ExtractTimeSet(f, def.Rollover.TimestampField))
	}

	if allowed.IsEmpty() {
		return nil
	}
	if allowed.IsAll() {
		return []string{def.WildcardExpression()}
	}

	var names []string
	for _, iv := range allowed.Intervals() {
		if iv.Start == nil || iv.End == nil {
			// Unbounded on either side cannot enumerate.
			return []string{def.WildcardExpression()}
		}
		names = append(names, def.ConcreteIndicesBetween(*iv.Start, *iv.End)...)
		if len(names) > maxEnumeratedIndices {
			o.Log.V(1).Info("index enumeration too large, falling back to wildcard",
				"index", def.Name, "count", len(names))
			return []string{def.WildcardExpression()}
		}
	}
	return dedupe(names)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

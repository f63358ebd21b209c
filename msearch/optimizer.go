package msearch

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"github.com/elastigraph/elastigraph/aggregations"
	"github.com/elastigraph/elastigraph/search"
)

// Optimizer reduces a batch of planned queries to fewer datastore
// submissions by merging queries that are datastore-equivalent apart
// from their aggregations.
type Optimizer struct {
	Log logr.Logger
}

// MergedBatch is the result of merging: the deduplicated queries to
// dispatch plus the bookkeeping to split responses back per original.
type MergedBatch struct {
	// Queries are the queries to actually submit.
	Queries []*search.Query

	groups []*mergeGroup
}

type mergeGroup struct {
	merged    *search.Query
	originals []*search.Query
	// prefixes[i] was prepended to every aggregation name of
	// originals[i] inside merged.
	prefixes []string
}

// Merge partitions queries by shape and merges each partition into one
// query whose aggregations map unions the originals' under unique name
// prefixes.
func (o *Optimizer) Merge(queries []*search.Query) *MergedBatch {
	batch := &MergedBatch{}
	groupsByShape := make(map[string]*mergeGroup)

	for _, q := range queries {
		shape := q.ShapeHash()
		group, ok := groupsByShape[shape]
		if !ok {
			group = &mergeGroup{}
			groupsByShape[shape] = group
			batch.groups = append(batch.groups, group)
		}
		group.originals = append(group.originals, q)
	}

	for _, group := range batch.groups {
		if len(group.originals) == 1 {
			group.merged = group.originals[0]
			group.prefixes = []string{""}
		} else {
			group.merged = mergeGroupQueries(group)
			o.Log.V(1).Info("merged datastore-equivalent queries",
				"count", len(group.originals))
		}
		batch.Queries = append(batch.Queries, group.merged)
	}
	return batch
}

func mergeGroupQueries(group *mergeGroup) *search.Query {
	merged := group.originals[0].Clone()
	merged.Aggregations = make(map[string]*aggregations.Query)
	group.prefixes = make([]string, len(group.originals))

	for i, original := range group.originals {
		prefix := fmt.Sprintf("%d_", i+1)
		group.prefixes[i] = prefix
		for name, agg := range original.Aggregations {
			prefixed := *agg
			prefixed.Name = prefix + name
			merged.Aggregations[prefix+name] = &prefixed
		}
	}
	return merged
}

// Unmerge splits responses keyed by merged query back out per original
// query. Every original must be accounted for; a missing entry is a
// structural bug that would otherwise hang response assembly upstream.
func (b *MergedBatch) Unmerge(responses map[*search.Query]*search.Response) (map[*search.Query]*search.Response, error) {
	out := make(map[*search.Query]*search.Response, len(responses))
	for _, group := range b.groups {
		resp, ok := responses[group.merged]
		if !ok {
			return nil, fmt.Errorf("no datastore response for a merged query covering %d originals", len(group.originals))
		}
		if len(group.originals) == 1 {
			out[group.originals[0]] = resp
			continue
		}
		for i, original := range group.originals {
			out[original] = splitResponse(resp, original, group.prefixes[i])
		}
	}

	for _, group := range b.groups {
		for _, original := range group.originals {
			if _, ok := out[original]; !ok {
				return nil, fmt.Errorf("query response splitting dropped a query; this is a bug")
			}
		}
	}
	return out, nil
}

// splitResponse retains only the aggregation entries belonging to the
// original query, stripping the merge prefix from every (possibly
// nested) key.
func splitResponse(resp *search.Response, original *search.Query, prefix string) *search.Response {
	split := *resp
	split.Aggregations = make(map[string]any)
	for key, payload := range resp.Aggregations {
		stripped, ok := stripPrefix(key, prefix)
		if !ok {
			continue
		}
		if _, belongs := original.Aggregations[aggregationRootOf(stripped)]; !belongs {
			continue
		}
		split.Aggregations[stripped] = stripPrefixDeep(payload, prefix)
	}
	return &split
}

// aggregationRootOf reduces a response key like "by_size:filtered" or
// "by_size:parts:missing" to the owning aggregation name.
func aggregationRootOf(key string) string {
	if i := strings.Index(key, ":"); i >= 0 {
		return key[:i]
	}
	return key
}

func stripPrefix(key, prefix string) (string, bool) {
	if prefix == "" {
		return key, true
	}
	if strings.HasPrefix(key, prefix) {
		return key[len(prefix):], true
	}
	return "", false
}

// stripPrefixDeep renames nested aggregation keys (sub-aggregation
// entries repeat the parent query name) throughout the payload.
func stripPrefixDeep(value any, prefix string) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, child := range v {
			newKey := key
			if stripped, ok := stripPrefix(key, prefix); ok {
				newKey = stripped
			}
			out[newKey] = stripPrefixDeep(child, prefix)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = stripPrefixDeep(child, prefix)
		}
		return out
	default:
		return v
	}
}

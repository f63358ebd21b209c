package msearch

import (
	"fmt"
	"strings"
)

// InvalidMergeError reports an attempt to merge queries that disagree on
// something other than their aggregations. Indicates a planner bug.
type InvalidMergeError struct {
	Message string
}

func (e *InvalidMergeError) Error() string { return "invalid query merge: " + e.Message }

// RequestExceededDeadlineError is returned when the batch deadline has
// already passed before (or while) contacting the datastore.
type RequestExceededDeadlineError struct {
	Message string
}

func (e *RequestExceededDeadlineError) Error() string { return e.Message }

// ExecutionError is a user-facing query execution failure, surfaced in
// the GraphQL errors array rather than as a 500.
type ExecutionError struct {
	Message string
}

func (e *ExecutionError) Error() string { return e.Message }

// QueryFailure is one failed response within a multi-search batch. The
// request body is intentionally not carried; it may embed filter values.
type QueryFailure struct {
	Cluster string
	Index   string
	Status  int
	Error   map[string]any
}

// SearchFailedError aggregates datastore-reported failures that map to
// no known public error.
type SearchFailedError struct {
	Failures []QueryFailure
}

func (e *SearchFailedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("cluster %s index %s status %d: %v",
			f.Cluster, f.Index, f.Status, f.Error["type"])
	}
	return fmt.Sprintf("datastore search failed (%d of batch): %s",
		len(e.Failures), strings.Join(parts, "; "))
}

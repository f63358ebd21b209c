package indexer

import "fmt"

// FailedEventError reports an event that failed validation. It carries
// the event and the operations that would have been produced so the
// caller can route everything to its dead-letter channel. The message is
// sanitized: it names paths and type constraints, never record values.
type FailedEventError struct {
	Event      *Event
	Operations []Operation
	Message    string
}

func (e *FailedEventError) Error() string {
	return fmt.Sprintf("event %s could not be indexed: %s", e.Event.Description(), e.Message)
}

package filtering

// QueryValidationError reports a filter the user wrote that the gateway
// cannot faithfully execute. It is surfaced in the GraphQL errors array.
type QueryValidationError struct {
	Message string
}

func (e *QueryValidationError) Error() string { return e.Message }

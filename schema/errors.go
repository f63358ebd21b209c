package schema

import "errors"

// ConfigError reports invalid schema artifacts. It is surfaced at load
// time; a process with a ConfigError never starts serving.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return "schema config error: " + e.Message }

// ErrInvalidArgumentValue flags an internal precondition violation, such
// as a reserved delimiter appearing inside a field path. Callers treat it
// as a server-side bug, not user input.
var ErrInvalidArgumentValue = errors.New("invalid argument value")

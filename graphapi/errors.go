package graphapi

import "fmt"

// ConfigurationError reports a malformed or incomplete request or preset.
// It is the caller's mistake and is never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

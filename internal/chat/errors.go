package chat

import (
	"fmt"
)

// ConfigError reports a missing or malformed credential at construction time.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// ValidationError reports an operation attempted in an invalid state.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Reason)
}

// BatchError aborts batch processing when a dispatch fails mid-batch.
// Responses produced for earlier items in the batch are discarded.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch aborted at item %d: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrPlanRequired        = errors.New("paid plan required")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrCancelled           = errors.New("job cancelled")
	ErrStorage             = errors.New("storage failure")
	ErrUnknownTool         = errors.New("unknown tool")
	ErrNoResult            = errors.New("no result in provider output")
)

// ConfigurationError reports that no active provider exists for a tool.
type ConfigurationError struct {
	Tool ToolID
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("no active provider configured for tool %q", e.Tool)
}

// ValidationError reports a missing or malformed tool input. It is raised
// before any provider is contacted and is never retried.
type ValidationError struct {
	Tool    ToolID
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Tool, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Tool, e.Field, e.Message)
}

// ProviderError wraps a single adapter failure.
type ProviderError struct {
	ProviderID   string
	ProviderType string
	StatusCode   int
	Err          error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s provider %s: status %d: %v", e.ProviderType, e.ProviderID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s provider %s: %v", e.ProviderType, e.ProviderID, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AggregateProviderError is returned when every candidate for a tool failed.
// Only the last error is kept; each adapter logs its own failure.
type AggregateProviderError struct {
	Tool     ToolID
	Attempts int
	Last     error
}

func (e *AggregateProviderError) Error() string {
	last := "none"
	if e.Last != nil {
		last = e.Last.Error()
	}
	return "All providers failed. Last error: " + last
}

func (e *AggregateProviderError) Unwrap() error { return e.Last }

// StorageError reports that a result could not be materialized.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// NewValidationError is a shorthand used by tool validators.
func NewValidationError(tool ToolID, field, msg string) error {
	return &ValidationError{Tool: tool, Field: field, Message: msg}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsConfiguration reports whether err carries a ConfigurationError.
func IsConfiguration(err error) bool {
	var c *ConfigurationError
	return errors.As(err, &c)
}

package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrTransport indicates that an upstream source could not be reached or
	// answered with a non-success status (including timeouts).
	ErrTransport = errors.New("transport failure")

	// ErrStructural indicates that an upstream response or an uploaded file
	// did not have the expected document shape.
	ErrStructural = errors.New("structural failure")

	// ErrCancelled indicates that an operation was cancelled before completion.
	ErrCancelled = errors.New("cancelled")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmptyInput indicates that there was nothing to parse.
	ErrEmptyInput = errors.New("empty input")

	// ErrSourceDisabled indicates that a source was used while disabled.
	ErrSourceDisabled = errors.New("source disabled")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// ExternalAPIError provides details about a failed call to an external API.
// A StatusCode of zero means no response was received (network error or timeout).
type ExternalAPIError struct {
	Source     string
	Endpoint   string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ExternalAPIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s %s request failed: %s", e.Source, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

// Unwrap exposes both ErrTransport and the underlying cause to errors.Is.
func (e *ExternalAPIError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrTransport}
	}
	return []error{ErrTransport, e.Cause}
}

// StructuralError reports a response or file whose shape did not match
// the expected document.
type StructuralError struct {
	Source   string
	Expected string
	Got      string
	Cause    error
}

// Error implements the error interface.
func (e *StructuralError) Error() string {
	switch {
	case e.Cause != nil && e.Got != "":
		return fmt.Sprintf("%s: expected %s, got %s: %v", e.Source, e.Expected, e.Got, e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("%s: expected %s: %v", e.Source, e.Expected, e.Cause)
	default:
		return fmt.Sprintf("%s: expected %s, got %s", e.Source, e.Expected, e.Got)
	}
}

// Unwrap exposes both ErrStructural and the underlying cause to errors.Is.
func (e *StructuralError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrStructural}
	}
	return []error{ErrStructural, e.Cause}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewExternalAPIError creates a new ExternalAPIError.
func NewExternalAPIError(source, endpoint string, statusCode int, message string, cause error) *ExternalAPIError {
	return &ExternalAPIError{
		Source:     source,
		Endpoint:   endpoint,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}

// NewStructuralError creates a new StructuralError.
func NewStructuralError(source, expected, got string, cause error) *StructuralError {
	return &StructuralError{
		Source:   source,
		Expected: expected,
		Got:      got,
		Cause:    cause,
	}
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsStructural reports whether err is a structural failure.
func IsStructural(err error) bool {
	return errors.Is(err, ErrStructural)
}

// IsCancelled reports whether err stems from a cancelled operation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

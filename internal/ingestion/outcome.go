package ingestion

import (
	"errors"

	"github.com/helixir/reference-ingestion/internal/domain"
)

// Outcome classifies how an import ended, for user-facing messages and the
// outcome metric label.
type Outcome string

// Import outcomes.
const (
	// OutcomeOK means every record was imported without issues.
	OutcomeOK Outcome = "ok"

	// OutcomeDegraded means the import completed but some records carry
	// issues that need review.
	OutcomeDegraded Outcome = "degraded"

	// OutcomeFailedTransport means the source could not be reached.
	OutcomeFailedTransport Outcome = "failed_transport"

	// OutcomeFailedStructural means the source returned something that was
	// not the expected document.
	OutcomeFailedStructural Outcome = "failed_structural"

	// OutcomeCancelled means the caller stopped the import.
	OutcomeCancelled Outcome = "cancelled"

	// OutcomeInvalidInput means the request was rejected before any work.
	OutcomeInvalidInput Outcome = "invalid_input"

	// OutcomeFailed covers any other error.
	OutcomeFailed Outcome = "failed"
)

// Failed reports whether the outcome means nothing was imported.
func (o Outcome) Failed() bool {
	return o != OutcomeOK && o != OutcomeDegraded
}

// ClassifyError maps an import error to its outcome. A nil error is
// OutcomeOK; callers upgrade it to OutcomeDegraded when issues exist.
func ClassifyError(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case domain.IsCancelled(err):
		return OutcomeCancelled
	case domain.IsTransport(err):
		return OutcomeFailedTransport
	case domain.IsStructural(err):
		return OutcomeFailedStructural
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrSourceDisabled):
		return OutcomeInvalidInput
	default:
		return OutcomeFailed
	}
}

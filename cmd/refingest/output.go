package main

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/helixir/reference-ingestion/internal/ingestion"
)

// Exit codes
const (
	ExitSuccess      = 0   // Success
	ExitError        = 1   // General error (invalid arguments, runtime failure)
	ExitConfigError  = 2   // Configuration could not be loaded or is invalid
	ExitInvalidInput = 3   // Rejected request (bad ids, empty term, source disabled)
	ExitTransport    = 4   // Source unreachable or returned an error status
	ExitStructural   = 5   // Source or file content could not be interpreted
	ExitCancelled    = 130 // Interrupted
)

// exitCode maps an error to the process exit code.
func exitCode(err error) int {
	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		return ExitConfigError
	}
	switch ingestion.ClassifyError(err) {
	case ingestion.OutcomeOK, ingestion.OutcomeDegraded:
		return ExitSuccess
	case ingestion.OutcomeCancelled:
		return ExitCancelled
	case ingestion.OutcomeFailedTransport:
		return ExitTransport
	case ingestion.OutcomeFailedStructural:
		return ExitStructural
	case ingestion.OutcomeInvalidInput:
		return ExitInvalidInput
	default:
		return ExitError
	}
}

// SearchResponse is the output of the search command.
type SearchResponse struct {
	Term     string `json:"term"`
	Count    int    `json:"count"`
	IDs      []int  `json:"ids,omitempty"`
	Requests int    `json:"requests,omitempty"`
}

// ImportResponse is the output of the import commands.
type ImportResponse struct {
	*ingestion.Import
	Message string `json:"summary"`
}

// DiffResponse is the output of the diff command.
type DiffResponse struct {
	Added   []int `json:"added"`
	Removed []int `json:"removed"`
}

// outputJSON writes a value as JSON to w.
func outputJSON(w io.Writer, v any, compact bool) error {
	enc := json.NewEncoder(w)
	if !compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

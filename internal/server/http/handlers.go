package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/helixir/reference-ingestion/internal/domain"
	"github.com/helixir/reference-ingestion/internal/ingestion"
	"github.com/helixir/reference-ingestion/internal/papersources/pubmed"
)

// Request size and validation constants.
const (
	maxTermLength         = 10000
	maxIDsPerRequest      = 100000
	maxRequestBodySize    = 1 << 20  // 1 MB limit for JSON request bodies
	defaultMaxUploadBytes = 32 << 20 // 32 MB limit for RIS uploads
)

// importSearchRequest is the JSON request body for a search import.
type importSearchRequest struct {
	Term string `json:"term"`
}

// importIDsRequest is the JSON request body for an id import.
type importIDsRequest struct {
	IDs []int `json:"ids"`
}

// diffRequest is the JSON request body for comparing two saved id lists.
type diffRequest struct {
	OldIDs []int `json:"old_ids"`
	NewIDs []int `json:"new_ids"`
}

// importSearch handles POST /imports/search.
// It resolves the term to ids and fetches every record.
func (s *Server) importSearch(w http.ResponseWriter, r *http.Request) {
	var req importSearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	term, ok := validTerm(w, req.Term)
	if !ok {
		return
	}

	imp, err := s.importer.ImportSearch(r.Context(), term)
	writeImport(w, imp, err)
}

// importIDs handles POST /imports/ids.
func (s *Server) importIDs(w http.ResponseWriter, r *http.Request) {
	var req importIDsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.IDs) > maxIDsPerRequest {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("ids must have at most %d entries", maxIDsPerRequest))
		return
	}

	imp, err := s.importer.ImportIDs(r.Context(), req.IDs)
	writeImport(w, imp, err)
}

// importRIS handles POST /imports/ris. The request body is the RIS file.
func (s *Server) importRIS(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body := http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	// An oversized upload is rejected before parsing starts.
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	imp, err := s.importer.ImportRIS(r.Context(), bytes.NewReader(data))
	writeImport(w, imp, err)
}

// countSearch handles GET /searches/count?term=.
func (s *Server) countSearch(w http.ResponseWriter, r *http.Request) {
	if s.counter == nil {
		writeError(w, http.StatusServiceUnavailable, "literature search is not configured")
		return
	}
	term, ok := validTerm(w, r.URL.Query().Get("term"))
	if !ok {
		return
	}

	count, err := s.counter.Count(r.Context(), term)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Term: term, Count: count})
}

// diffSearch handles POST /searches/diff.
// It reports the ids added and removed between two runs of a saved search.
func (s *Server) diffSearch(w http.ResponseWriter, r *http.Request) {
	var req diffRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	diff := pubmed.Diff(req.OldIDs, req.NewIDs)
	writeJSON(w, http.StatusOK, diffResponse{
		Added:   diff.Added.Sorted(),
		Removed: diff.Removed.Sorted(),
	})
}

// decodeJSON reads a bounded JSON body into v, writing a 413 error response
// when the body is too large and a 400 on any other failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	return true
}

// validTerm trims term and checks its length, writing a 400 error response
// when it is unusable.
func validTerm(w http.ResponseWriter, term string) (string, bool) {
	term = strings.TrimSpace(term)
	if term == "" {
		writeError(w, http.StatusBadRequest, "term is required")
		return "", false
	}
	if len(term) > maxTermLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("term must be at most %d characters", maxTermLength))
		return "", false
	}
	return term, true
}

// writeImport writes the import with a status derived from its outcome. The
// body always carries the outcome and summary so that clients can show the
// same message as the CLI.
func writeImport(w http.ResponseWriter, imp *ingestion.Import, err error) {
	if imp == nil {
		writeDomainError(w, err)
		return
	}

	resp := importResponse{Import: imp, Summary: imp.Summary()}
	status := importStatus(imp, err)
	if err != nil && status < http.StatusInternalServerError {
		resp.Error = err.Error()
	}
	writeJSON(w, status, resp)
}

// importStatus maps an import outcome to an HTTP status code.
func importStatus(imp *ingestion.Import, err error) int {
	switch imp.Outcome {
	case ingestion.OutcomeOK, ingestion.OutcomeDegraded:
		return http.StatusOK
	case ingestion.OutcomeInvalidInput:
		if errors.Is(err, domain.ErrSourceDisabled) {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadRequest
	case ingestion.OutcomeFailedStructural:
		// A malformed upload is the client's document; a malformed
		// E-utilities response is the upstream's.
		if imp.Kind == ingestion.KindRIS {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadGateway
	case ingestion.OutcomeFailedTransport:
		return http.StatusBadGateway
	case ingestion.OutcomeCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError maps domain errors to appropriate HTTP status codes and
// writes a JSON error response. Internal error details are not leaked to
// clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrSourceDisabled):
		writeError(w, http.StatusServiceUnavailable, "source disabled")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrCancelled):
		writeError(w, http.StatusServiceUnavailable, "operation cancelled")
	case errors.Is(err, domain.ErrTransport), errors.Is(err, domain.ErrStructural):
		writeError(w, http.StatusBadGateway, "upstream source failed")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

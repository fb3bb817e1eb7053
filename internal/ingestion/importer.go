// Package ingestion wires the bibliographic sources into imports: a search
// term resolved and fetched from the literature database, an explicit id
// list fetched directly, or an uploaded RIS file.
package ingestion

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/reference-ingestion/internal/domain"
	"github.com/helixir/reference-ingestion/internal/observability"
	"github.com/helixir/reference-ingestion/internal/papersources"
)

// Kind identifies the import path.
type Kind string

// Import kinds.
const (
	KindSearch Kind = "search"
	KindIDs    Kind = "ids"
	KindRIS    Kind = "ris"
)

// maxListedIDs bounds the record ids quoted in an import summary.
const maxListedIDs = 20

// RISParser parses an RIS upload. *ris.Parser satisfies it.
type RISParser interface {
	Parse(r io.Reader) (*domain.Batch, error)
}

// Import is the result of one import. On failure References is empty unless
// partial results were requested and the import was cancelled.
type Import struct {
	ID         uuid.UUID          `json:"id"`
	Kind       Kind               `json:"kind"`
	Term       string             `json:"term,omitempty"`
	IDs        []int              `json:"ids,omitempty"`
	References []domain.Reference `json:"references"`
	Issues     []domain.Issue     `json:"issues,omitempty"`
	Requests   int                `json:"requests"`
	Outcome    Outcome            `json:"outcome"`
	StartedAt  time.Time          `json:"started_at"`
	Duration   time.Duration      `json:"duration"`
}

// Degraded returns true if any record-level issue was recorded.
func (imp *Import) Degraded() bool {
	return len(imp.Issues) > 0
}

// Summary returns a one-line description of the outcome for end users.
func (imp *Import) Summary() string {
	switch imp.Outcome {
	case OutcomeOK:
		return fmt.Sprintf("imported %d references", len(imp.References))
	case OutcomeDegraded:
		ids := (&domain.Batch{Issues: imp.Issues}).IssueRecordIDs()
		listed := ids
		if len(listed) > maxListedIDs {
			listed = listed[:maxListedIDs]
		}
		msg := fmt.Sprintf("imported %d references, %d need review: %s",
			len(imp.References), len(ids), strings.Join(listed, ", "))
		if len(ids) > len(listed) {
			msg += fmt.Sprintf(" and %d more", len(ids)-len(listed))
		}
		return msg
	case OutcomeCancelled:
		if len(imp.References) > 0 {
			return fmt.Sprintf("import cancelled, %d references gathered before cancellation", len(imp.References))
		}
		return "import cancelled, nothing changed"
	case OutcomeFailedTransport:
		return "import failed, source unreachable, nothing changed"
	case OutcomeFailedStructural:
		return "import failed, source returned an unexpected document, nothing changed"
	case OutcomeInvalidInput:
		return "import rejected, invalid request"
	default:
		return "import failed, nothing changed"
	}
}

// Importer runs imports against the configured sources. Any source may be nil,
// in which case imports that need it fail with domain.ErrSourceDisabled.
type Importer struct {
	searcher papersources.IDSearcher
	fetcher  papersources.RecordFetcher
	ris      RISParser
	metrics  *observability.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// NewImporter creates an Importer. The metrics parameter may be nil.
func NewImporter(
	searcher papersources.IDSearcher,
	fetcher papersources.RecordFetcher,
	ris RISParser,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Importer {
	return &Importer{
		searcher: searcher,
		fetcher:  fetcher,
		ris:      ris,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// ImportSearch resolves term to ids and fetches every record. The returned
// Import is never nil; on error it carries the outcome and whatever was
// gathered under the partial-results setting of the sources.
func (i *Importer) ImportSearch(ctx context.Context, term string) (*Import, error) {
	ctx, imp, logger := i.begin(ctx, KindSearch)
	imp.Term = term

	if i.searcher == nil || i.fetcher == nil {
		return i.finish(logger, imp, nil, fmt.Errorf("%w: literature search is not configured", domain.ErrSourceDisabled))
	}

	result, err := i.searcher.Search(ctx, term)
	imp.Requests += result.Requests
	imp.IDs = result.IDs
	if err != nil {
		return i.finish(logger, imp, nil, fmt.Errorf("search: %w", err))
	}
	i.metrics.RecordSearchResults(len(result.IDs))
	logger.Info().Int("ids", len(result.IDs)).Msg("search resolved")

	return i.fetch(ctx, logger, imp, result.IDs)
}

// ImportIDs fetches the records for ids.
func (i *Importer) ImportIDs(ctx context.Context, ids []int) (*Import, error) {
	ctx, imp, logger := i.begin(ctx, KindIDs)
	imp.IDs = ids

	if i.fetcher == nil {
		return i.finish(logger, imp, nil, fmt.Errorf("%w: record fetch is not configured", domain.ErrSourceDisabled))
	}
	if len(ids) == 0 {
		return i.finish(logger, imp, nil, domain.NewValidationError("ids", "at least one id is required"))
	}
	for _, id := range ids {
		if id <= 0 {
			return i.finish(logger, imp, nil, domain.NewValidationError("ids", "invalid id "+strconv.Itoa(id)))
		}
	}

	return i.fetch(ctx, logger, imp, ids)
}

// ImportRIS parses an RIS upload. A structurally invalid file imports
// nothing.
func (i *Importer) ImportRIS(ctx context.Context, r io.Reader) (*Import, error) {
	ctx, imp, logger := i.begin(ctx, KindRIS)

	if i.ris == nil {
		return i.finish(logger, imp, nil, fmt.Errorf("%w: RIS parsing is not configured", domain.ErrSourceDisabled))
	}
	if err := ctx.Err(); err != nil {
		return i.finish(logger, imp, nil, fmt.Errorf("%w: ris import: %w", domain.ErrCancelled, context.Cause(ctx)))
	}

	batch, err := i.ris.Parse(r)
	if err != nil {
		return i.finish(logger, imp, nil, fmt.Errorf("parse ris: %w", err))
	}
	return i.finish(logger, imp, batch, nil)
}

func (i *Importer) fetch(ctx context.Context, logger zerolog.Logger, imp *Import, ids []int) (*Import, error) {
	batch, err := i.fetcher.Fetch(ctx, ids)
	if err != nil {
		return i.finish(logger, imp, batch, fmt.Errorf("fetch: %w", err))
	}
	return i.finish(logger, imp, batch, nil)
}

func (i *Importer) begin(ctx context.Context, kind Kind) (context.Context, *Import, zerolog.Logger) {
	imp := &Import{
		ID:         uuid.New(),
		Kind:       kind,
		References: []domain.Reference{},
		StartedAt:  i.now(),
	}
	ctx = observability.WithImport(ctx, imp.ID.String(), string(kind))
	logger := observability.LoggerWithContext(ctx, i.logger)

	i.metrics.RecordImportStarted(string(kind))
	logger.Info().Msg("import started")
	return ctx, imp, logger
}

// finish records the outcome of imp. batch may be non-nil alongside err when
// a source returned partial results.
func (i *Importer) finish(logger zerolog.Logger, imp *Import, batch *domain.Batch, err error) (*Import, error) {
	if batch != nil {
		imp.References = append(imp.References, batch.References...)
		imp.Issues = append(imp.Issues, batch.Issues...)
		imp.Requests += batch.Requests
	}
	imp.Duration = i.now().Sub(imp.StartedAt)

	imp.Outcome = ClassifyError(err)
	if imp.Outcome == OutcomeOK && imp.Degraded() {
		imp.Outcome = OutcomeDegraded
	}

	for _, issue := range imp.Issues {
		i.metrics.RecordIssue(string(issue.Kind))
	}

	kind := string(imp.Kind)
	if err != nil {
		i.metrics.RecordImportFailed(kind, string(imp.Outcome), imp.Duration.Seconds())
		logger.Error().
			Err(err).
			Str("outcome", string(imp.Outcome)).
			Int("references", len(imp.References)).
			Int("requests", imp.Requests).
			Dur("duration", imp.Duration).
			Msg("import failed")
		return imp, err
	}

	i.metrics.RecordImportCompleted(kind, string(imp.Outcome), len(imp.References), imp.Duration.Seconds())
	logger.Info().
		Str("outcome", string(imp.Outcome)).
		Int("references", len(imp.References)).
		Int("issues", len(imp.Issues)).
		Int("requests", imp.Requests).
		Dur("duration", imp.Duration).
		Msg("import completed")
	return imp, nil
}

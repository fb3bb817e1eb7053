package papersources

import (
	"context"

	"github.com/helixir/reference-ingestion/internal/domain"
)

// SearchResult is the outcome of one search call.
type SearchResult struct {
	// IDs are the matching ids in upstream order. Nil when the search failed,
	// unless partial results were requested.
	IDs []int

	// Requests is the number of id-page requests this call issued.
	Requests int
}

// IDSearcher resolves a search term to the ordered list of matching record
// identifiers.
type IDSearcher interface {
	// Count returns the total number of records matching term.
	Count(ctx context.Context, term string) (int, error)

	// Search returns every matching id in upstream order. A returned error
	// means the list is incomplete and must not be used. The request count
	// is reported either way.
	Search(ctx context.Context, term string) (SearchResult, error)
}

// RecordFetcher retrieves full records for a list of identifiers.
type RecordFetcher interface {
	// Fetch returns one reference per parsed record, in input order, along
	// with any record-level issues and the number of requests the call
	// issued. Transport and structural failures abort the whole call; the
	// returned batch then carries no references.
	Fetch(ctx context.Context, ids []int) (*domain.Batch, error)
}

package pubmed

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/helixir/reference-ingestion/internal/domain"
	"github.com/helixir/reference-ingestion/internal/observability"
	"github.com/helixir/reference-ingestion/internal/papersources"
)

const esearchEndpoint = "esearch"

// IDPage is one page of search results.
type IDPage struct {
	// Offset is the retstart of the page.
	Offset int

	// IDs are the PMIDs of the page in upstream order.
	IDs []int

	// Total is the match count reported by the count probe.
	Total int
}

// SearchClient resolves a search term to the PMIDs it matches.
type SearchClient struct {
	eutils
	requests      atomic.Int64
	countRequests atomic.Int64
}

// Compile-time check that SearchClient implements IDSearcher.
var _ papersources.IDSearcher = (*SearchClient)(nil)

// NewSearchClient creates a search client with the given configuration.
func NewSearchClient(cfg Config, logger zerolog.Logger) *SearchClient {
	cfg.applyDefaults()
	return NewSearchClientWithHTTPClient(cfg, newHTTPClient(cfg), logger)
}

// NewSearchClientWithHTTPClient creates a search client with a custom HTTP client.
// This is useful for testing with mock servers.
func NewSearchClientWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient, logger zerolog.Logger) *SearchClient {
	cfg.applyDefaults()
	return &SearchClient{
		eutils: eutils{
			config:     cfg,
			httpClient: httpClient,
			logger:     observability.WithSourceContext(logger, sourceName, esearchEndpoint).With().Str("client", "search").Logger(),
		},
	}
}

// RequestCount returns the number of id-page requests issued so far. The
// count probe that precedes every search is reported by CountRequests.
func (c *SearchClient) RequestCount() int {
	return int(c.requests.Load())
}

// CountRequests returns the number of count-only requests issued so far.
func (c *SearchClient) CountRequests() int {
	return int(c.countRequests.Load())
}

// Count returns the number of records matching term. A phrase that PubMed
// cannot find yields zero, not an error.
func (c *SearchClient) Count(ctx context.Context, term string) (int, error) {
	if err := c.validate(term); err != nil {
		return 0, err
	}

	c.countRequests.Add(1)
	result, err := c.esearch(ctx, url.Values{
		"term":    {term},
		"rettype": {"count"},
	})
	if err != nil {
		return 0, fmt.Errorf("esearch count: %w", err)
	}

	if result.ErrorList != nil && len(result.ErrorList.PhraseNotFound) > 0 {
		c.logger.Info().
			Strs("phrases", result.ErrorList.PhraseNotFound).
			Msg("search phrase not found")
		return 0, nil
	}

	count, err := strconv.Atoi(strings.TrimSpace(result.Count))
	if err != nil || count < 0 {
		return 0, fmt.Errorf("esearch count: %w",
			domain.NewStructuralError(sourceName, "integer <Count>", strconv.Quote(result.Count), err))
	}
	return count, nil
}

// Walk issues the count probe and then requests every page of ids in order,
// handing each page to fn before requesting the next. It stops at the first
// error, including one returned by fn. The context is checked between pages.
func (c *SearchClient) Walk(ctx context.Context, term string, fn func(page IDPage) error) error {
	var requests int
	return c.walk(ctx, term, &requests, fn)
}

// walk is Walk with the id-page requests of this call added to *requests.
func (c *SearchClient) walk(ctx context.Context, term string, requests *int, fn func(page IDPage) error) error {
	total, err := c.Count(ctx, term)
	if err != nil {
		return err
	}

	logger := observability.WithSearchContext(c.logger, term, c.config.Database)
	pageSize := c.config.PageSize
	for offset := 0; offset < total; offset += pageSize {
		if ctx.Err() != nil {
			return fmt.Errorf("esearch stopped at offset %d of %d: %w", offset, total, cancelled(ctx, esearchEndpoint))
		}

		*requests++
		ids, err := c.page(ctx, term, offset, pageSize)
		if err != nil {
			return fmt.Errorf("esearch page %d: %w", offset/pageSize+1, err)
		}

		logger.Debug().
			Int("offset", offset).
			Int("ids", len(ids)).
			Int("total", total).
			Msg("fetched id page")

		if err := fn(IDPage{Offset: offset, IDs: ids, Total: total}); err != nil {
			return err
		}
	}
	return nil
}

// Search returns all PMIDs matching term in upstream order together with the
// number of id-page requests it issued. Ids are not deduplicated. On error no
// ids are returned, except that a cancelled search returns the ids gathered
// so far when Config.AllowPartial is set.
func (c *SearchClient) Search(ctx context.Context, term string) (papersources.SearchResult, error) {
	var result papersources.SearchResult
	err := c.walk(ctx, term, &result.Requests, func(page IDPage) error {
		if result.IDs == nil {
			result.IDs = make([]int, 0, page.Total)
		}
		result.IDs = append(result.IDs, page.IDs...)
		return nil
	})
	if err != nil {
		if !c.config.AllowPartial || !domain.IsCancelled(err) {
			result.IDs = nil
		}
		return result, err
	}
	if result.IDs == nil {
		result.IDs = []int{}
	}

	observability.WithSearchContext(c.logger, term, c.config.Database).Info().
		Int("ids", len(result.IDs)).
		Int("requests", result.Requests).
		Msg("search completed")

	return result, nil
}

// Diff compares two id lists. See the package-level Diff.
func (c *SearchClient) Diff(oldIDs, newIDs []int) IDDiff {
	return Diff(oldIDs, newIDs)
}

func (c *SearchClient) validate(term string) error {
	if c.config.Offline {
		return fmt.Errorf("%w: pubmed search is unavailable offline", domain.ErrSourceDisabled)
	}
	if strings.TrimSpace(term) == "" {
		return domain.NewValidationError("term", "must not be empty")
	}
	return nil
}

func (c *SearchClient) page(ctx context.Context, term string, offset, size int) ([]int, error) {
	c.requests.Add(1)
	result, err := c.esearch(ctx, url.Values{
		"term":     {term},
		"retmax":   {strconv.Itoa(size)},
		"retstart": {strconv.Itoa(offset)},
	})
	if err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(result.IDList.IDs))
	for _, raw := range result.IDList.IDs {
		id, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, domain.NewStructuralError(sourceName, "integer <Id>", strconv.Quote(raw), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *SearchClient) esearch(ctx context.Context, form url.Values) (*ESearchResult, error) {
	body, err := c.post(ctx, esearchEndpoint, form)
	if err != nil {
		return nil, err
	}
	if err := checkRoot(body, "eSearchResult"); err != nil {
		return nil, err
	}

	var result ESearchResult
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, domain.NewStructuralError(sourceName, "<eSearchResult>", "undecodable body", err)
	}
	if msg := strings.TrimSpace(result.Error); msg != "" {
		return nil, domain.NewStructuralError(sourceName, "<eSearchResult> without <ERROR>", strconv.Quote(msg), nil)
	}
	return &result, nil
}

// IDSet is an unordered set of PMIDs.
type IDSet map[int]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids []int) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Contains reports whether id is in the set.
func (s IDSet) Contains(id int) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in ascending order.
func (s IDSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// IDDiff is the difference between two runs of a saved search.
type IDDiff struct {
	Added   IDSet
	Removed IDSet
}

// Empty reports whether the two runs matched the same ids.
func (d IDDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Diff returns the ids present only in newIDs (Added) and only in oldIDs
// (Removed). Order and duplicates in the inputs do not matter.
func Diff(oldIDs, newIDs []int) IDDiff {
	oldSet, newSet := NewIDSet(oldIDs), NewIDSet(newIDs)
	diff := IDDiff{Added: IDSet{}, Removed: IDSet{}}
	for id := range newSet {
		if !oldSet.Contains(id) {
			diff.Added[id] = struct{}{}
		}
	}
	for id := range oldSet {
		if !newSet.Contains(id) {
			diff.Removed[id] = struct{}{}
		}
	}
	return diff
}

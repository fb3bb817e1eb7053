package ingestion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/reference-ingestion/internal/domain"
	"github.com/helixir/reference-ingestion/internal/observability"
	"github.com/helixir/reference-ingestion/internal/papersources"
	"github.com/helixir/reference-ingestion/internal/papersources/pubmed"
	"github.com/helixir/reference-ingestion/internal/ris"
)

type fakeSearcher struct {
	ids   []int
	err   error
	terms []string
}

func (f *fakeSearcher) Count(_ context.Context, _ string) (int, error) {
	return len(f.ids), f.err
}

func (f *fakeSearcher) Search(_ context.Context, term string) (papersources.SearchResult, error) {
	f.terms = append(f.terms, term)
	if f.err != nil {
		return papersources.SearchResult{Requests: 2}, f.err
	}
	return papersources.SearchResult{IDs: f.ids, Requests: 2}, nil
}

type fakeFetcher struct {
	issues  map[int]domain.Issue
	err     error
	partial int
	calls   [][]int
}

func (f *fakeFetcher) Fetch(_ context.Context, ids []int) (*domain.Batch, error) {
	f.calls = append(f.calls, ids)

	batch := &domain.Batch{References: []domain.Reference{}}
	for _, id := range ids {
		batch.References = append(batch.References, domain.NewReference(domain.Reference{
			ExternalID: domain.IntPtr(id),
			Title:      fmt.Sprintf("Reference %d", id),
		}))
		if issue, ok := f.issues[id]; ok {
			batch.Issues = append(batch.Issues, issue)
		}
	}
	batch.Requests = 1
	if f.err != nil {
		if f.partial == 0 {
			return &domain.Batch{References: []domain.Reference{}, Requests: 1}, f.err
		}
		batch.References = batch.References[:f.partial]
		return batch, f.err
	}
	return batch, nil
}

func newTestImporter(searcher *fakeSearcher, fetcher *fakeFetcher) (*Importer, *observability.Metrics) {
	metrics := observability.NewMetricsWithRegistry("refingest", prometheus.NewRegistry())
	imp := NewImporter(searcher, fetcher, ris.NewParser(nil, zerolog.Nop()), metrics, zerolog.Nop())

	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	imp.now = func() time.Time {
		clock = clock.Add(250 * time.Millisecond)
		return clock
	}
	return imp, metrics
}

func TestImportSearch(t *testing.T) {
	searcher := &fakeSearcher{ids: []int{11, 12, 13}}
	fetcher := &fakeFetcher{}
	importer, metrics := newTestImporter(searcher, fetcher)

	imp, err := importer.ImportSearch(context.Background(), "crispr")
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, imp.ID)
	assert.Equal(t, KindSearch, imp.Kind)
	assert.Equal(t, "crispr", imp.Term)
	assert.Equal(t, []int{11, 12, 13}, imp.IDs)
	assert.Equal(t, []string{"crispr"}, searcher.terms)
	assert.Equal(t, [][]int{{11, 12, 13}}, fetcher.calls)
	require.Len(t, imp.References, 3)
	assert.Equal(t, 11, *imp.References[0].ExternalID)
	assert.Equal(t, 3, imp.Requests)
	assert.Equal(t, OutcomeOK, imp.Outcome)
	assert.Equal(t, 250*time.Millisecond, imp.Duration)
	assert.Equal(t, "imported 3 references", imp.Summary())

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ImportsStarted.WithLabelValues("search")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ImportsCompleted.WithLabelValues("search", "ok")))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.ReferencesProduced.WithLabelValues("search")))
}

func TestImportSearch_Degraded(t *testing.T) {
	fetcher := &fakeFetcher{issues: map[int]domain.Issue{
		12: {RecordID: "12", Kind: domain.IssueDegradedField, Message: "record has no title"},
	}}
	importer, metrics := newTestImporter(&fakeSearcher{ids: []int{11, 12}}, fetcher)

	imp, err := importer.ImportSearch(context.Background(), "crispr")
	require.NoError(t, err)

	assert.True(t, imp.Degraded())
	assert.Equal(t, OutcomeDegraded, imp.Outcome)
	assert.Len(t, imp.References, 2)
	assert.Equal(t, "imported 2 references, 1 need review: 12", imp.Summary())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RecordIssues.WithLabelValues("degraded_field")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ImportsCompleted.WithLabelValues("search", "degraded")))
}

func TestImportSearch_SearchFailure(t *testing.T) {
	searchErr := domain.NewExternalAPIError("PubMed", "esearch", 503, "unavailable", nil)
	fetcher := &fakeFetcher{}
	importer, metrics := newTestImporter(&fakeSearcher{err: searchErr}, fetcher)

	imp, err := importer.ImportSearch(context.Background(), "crispr")
	require.Error(t, err)
	assert.True(t, domain.IsTransport(err))
	assert.Contains(t, err.Error(), "search: ")

	require.NotNil(t, imp)
	assert.Empty(t, imp.References)
	assert.Empty(t, fetcher.calls, "nothing is fetched after a failed search")
	assert.Equal(t, 2, imp.Requests, "requests issued before the failure are still counted")
	assert.Equal(t, OutcomeFailedTransport, imp.Outcome)
	assert.Equal(t, "import failed, source unreachable, nothing changed", imp.Summary())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ImportsFailed.WithLabelValues("search", "failed_transport")))
}

func TestImportSearch_FetchFailure(t *testing.T) {
	fetchErr := domain.NewStructuralError("PubMed", "<PubmedArticleSet>", "<html>", nil)
	importer, _ := newTestImporter(&fakeSearcher{ids: []int{1, 2}}, &fakeFetcher{err: fetchErr})

	imp, err := importer.ImportSearch(context.Background(), "crispr")
	require.Error(t, err)
	assert.True(t, domain.IsStructural(err))
	assert.Empty(t, imp.References)
	assert.Equal(t, 3, imp.Requests)
	assert.Equal(t, OutcomeFailedStructural, imp.Outcome)
}

func TestImportSearch_PartialOnCancellation(t *testing.T) {
	cancelErr := fmt.Errorf("%w: efetch: %w", domain.ErrCancelled, context.Canceled)
	importer, _ := newTestImporter(&fakeSearcher{ids: []int{1, 2, 3}}, &fakeFetcher{err: cancelErr, partial: 2})

	imp, err := importer.ImportSearch(context.Background(), "crispr")
	require.Error(t, err)
	assert.True(t, domain.IsCancelled(err))
	assert.Len(t, imp.References, 2)
	assert.Equal(t, OutcomeCancelled, imp.Outcome)
	assert.Equal(t, "import cancelled, 2 references gathered before cancellation", imp.Summary())
}

func TestImportSearch_NotConfigured(t *testing.T) {
	importer := NewImporter(nil, nil, nil, nil, zerolog.Nop())

	imp, err := importer.ImportSearch(context.Background(), "crispr")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceDisabled)
	assert.Equal(t, OutcomeInvalidInput, imp.Outcome)
}

func TestImportIDs(t *testing.T) {
	t.Run("fetches ids", func(t *testing.T) {
		fetcher := &fakeFetcher{}
		importer, _ := newTestImporter(&fakeSearcher{}, fetcher)

		imp, err := importer.ImportIDs(context.Background(), []int{7, 8})
		require.NoError(t, err)
		assert.Equal(t, KindIDs, imp.Kind)
		assert.Len(t, imp.References, 2)
		assert.Equal(t, 1, imp.Requests)
	})

	t.Run("rejects empty list", func(t *testing.T) {
		fetcher := &fakeFetcher{}
		importer, _ := newTestImporter(&fakeSearcher{}, fetcher)

		imp, err := importer.ImportIDs(context.Background(), nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Equal(t, OutcomeInvalidInput, imp.Outcome)
		assert.Empty(t, fetcher.calls)
	})

	t.Run("rejects non-positive ids", func(t *testing.T) {
		importer, _ := newTestImporter(&fakeSearcher{}, &fakeFetcher{})

		_, err := importer.ImportIDs(context.Background(), []int{5, 0})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid id 0")
	})
}

func TestImportIDs_ConcurrentImportsCountOwnRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		var b strings.Builder
		b.WriteString("<PubmedArticleSet>")
		for _, id := range strings.Split(r.PostForm.Get("id"), ",") {
			fmt.Fprintf(&b, `<PubmedArticle><MedlineCitation><PMID Version="1">%s</PMID><Article><ArticleTitle>Title %s</ArticleTitle></Article></MedlineCitation></PubmedArticle>`, id, id)
		}
		b.WriteString("</PubmedArticleSet>")
		w.Write([]byte(b.String()))
	}))
	defer server.Close()

	fetcher := pubmed.NewFetchClient(pubmed.Config{
		BaseURL:   server.URL,
		RateLimit: 1000,
		BurstSize: 1000,
		BatchSize: 1,
	}, zerolog.Nop())
	importer := NewImporter(nil, fetcher, nil, nil, zerolog.Nop())

	sizes := []int{1, 4, 2, 6}
	imports := make([]*Import, len(sizes))
	var wg sync.WaitGroup
	for i, n := range sizes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int, n)
			for j := range ids {
				ids[j] = 100*(i+1) + j
			}
			imp, err := importer.ImportIDs(context.Background(), ids)
			assert.NoError(t, err)
			imports[i] = imp
		}()
	}
	wg.Wait()

	for i, n := range sizes {
		require.NotNil(t, imports[i])
		assert.Len(t, imports[i].References, n)
		assert.Equal(t, n, imports[i].Requests, "import of %d ids", n)
	}
	assert.Equal(t, 13, fetcher.RequestCount())
}

func TestImportIDs_OfflineFetchClient(t *testing.T) {
	fetcher := pubmed.NewFetchClient(pubmed.Config{Offline: true}, zerolog.Nop())
	importer := NewImporter(nil, fetcher, nil, nil, zerolog.Nop())

	imp, err := importer.ImportIDs(context.Background(), []int{101, 102})
	require.NoError(t, err)
	require.Len(t, imp.References, 2)
	assert.Equal(t, 101, *imp.References[0].ExternalID)
	assert.Equal(t, 0, imp.Requests)
	assert.Equal(t, OutcomeOK, imp.Outcome)
}

func TestImportRIS(t *testing.T) {
	input := "TY  - JOUR\nTI  - First\nPY  - 2020\nT2  - J Biol\nER  - \n" +
		"TY  - GEN\nID  - gen-1\nTI  - Second\nPY  - 2021\nER  - \n"

	importer, metrics := newTestImporter(&fakeSearcher{}, &fakeFetcher{})

	imp, err := importer.ImportRIS(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, KindRIS, imp.Kind)
	require.Len(t, imp.References, 2)
	assert.Equal(t, "J Biol 2020", imp.References[0].Citation)
	assert.Equal(t, ris.NoCitation, imp.References[1].Citation)
	assert.Equal(t, OutcomeDegraded, imp.Outcome)
	assert.Equal(t, "imported 2 references, 1 need review: gen-1", imp.Summary())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RecordIssues.WithLabelValues("unrecognized_type")))
}

func TestImportRIS_StructuralFailure(t *testing.T) {
	importer, _ := newTestImporter(&fakeSearcher{}, &fakeFetcher{})

	imp, err := importer.ImportRIS(context.Background(), strings.NewReader("TY  - JOUR\nTI  - unterminated\n"))
	require.Error(t, err)
	assert.True(t, domain.IsStructural(err))
	assert.Empty(t, imp.References)
	assert.Equal(t, OutcomeFailedStructural, imp.Outcome)
}

func TestImportRIS_Cancelled(t *testing.T) {
	importer, _ := newTestImporter(&fakeSearcher{}, &fakeFetcher{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	imp, err := importer.ImportRIS(ctx, strings.NewReader("TY  - JOUR\nER  - \n"))
	require.Error(t, err)
	assert.True(t, domain.IsCancelled(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "import cancelled, nothing changed", imp.Summary())
}

func TestImport_SummaryTruncatesIDs(t *testing.T) {
	imp := &Import{Outcome: OutcomeDegraded, References: make([]domain.Reference, 30)}
	for i := range 25 {
		imp.Issues = append(imp.Issues, domain.Issue{RecordID: fmt.Sprint(i + 1), Kind: domain.IssueDegradedField})
	}

	summary := imp.Summary()
	assert.True(t, strings.HasPrefix(summary, "imported 30 references, 25 need review: 1, 2, 3"))
	assert.True(t, strings.HasSuffix(summary, "20 and 5 more"))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{name: "nil", err: nil, want: OutcomeOK},
		{name: "transport", err: domain.NewExternalAPIError("PubMed", "efetch", 0, "timeout", context.DeadlineExceeded), want: OutcomeFailedTransport},
		{name: "structural", err: domain.NewStructuralError("RIS", "ER tag", "end of input", nil), want: OutcomeFailedStructural},
		{name: "cancelled", err: fmt.Errorf("%w: esearch: %w", domain.ErrCancelled, context.Canceled), want: OutcomeCancelled},
		{name: "validation", err: domain.NewValidationError("term", "must not be empty"), want: OutcomeInvalidInput},
		{name: "disabled", err: fmt.Errorf("%w: offline", domain.ErrSourceDisabled), want: OutcomeInvalidInput},
		{name: "other", err: errors.New("boom"), want: OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
			assert.Equal(t, tt.err != nil, tt.want.Failed())
		})
	}
}

package pubmed

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/reference-ingestion/internal/domain"
	"github.com/helixir/reference-ingestion/internal/observability"
	"github.com/helixir/reference-ingestion/internal/papersources"
)

const (
	efetchEndpoint = "efetch"

	// OfflineCitation is the citation of every stub reference produced in
	// offline mode.
	OfflineCitation = "[Offline]"
)

// FetchClient retrieves PubMed records for a list of PMIDs.
type FetchClient struct {
	eutils
	parser   *RecordParser
	requests atomic.Int64
}

// Compile-time check that FetchClient implements RecordFetcher.
var _ papersources.RecordFetcher = (*FetchClient)(nil)

// NewFetchClient creates a fetch client with the given configuration.
func NewFetchClient(cfg Config, logger zerolog.Logger) *FetchClient {
	cfg.applyDefaults()
	return NewFetchClientWithHTTPClient(cfg, newHTTPClient(cfg), logger)
}

// NewFetchClientWithHTTPClient creates a fetch client with a custom HTTP client.
// This is useful for testing with mock servers.
func NewFetchClientWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient, logger zerolog.Logger) *FetchClient {
	cfg.applyDefaults()
	return &FetchClient{
		eutils: eutils{
			config:     cfg,
			httpClient: httpClient,
			logger:     observability.WithSourceContext(logger, sourceName, efetchEndpoint).With().Str("client", "fetch").Logger(),
		},
		parser: NewRecordParser(logger),
	}
}

// RequestCount returns the number of efetch requests issued so far.
func (c *FetchClient) RequestCount() int {
	return int(c.requests.Load())
}

// Fetch retrieves the records for ids in chunks of Config.BatchSize, one
// request per chunk. References are returned in chunk order and, within a
// chunk, in the order PubMed returned them. The batch records how many efetch
// requests this call issued, including on failure. Any transport or
// structural failure aborts the whole fetch and the batch carries no
// references. A cancelled fetch keeps the completed leading chunks only when
// Config.AllowPartial is set.
func (c *FetchClient) Fetch(ctx context.Context, ids []int) (*domain.Batch, error) {
	if len(ids) == 0 {
		return &domain.Batch{References: []domain.Reference{}}, nil
	}
	if c.config.Offline {
		return offlineBatch(ids), nil
	}

	chunks := chunkIDs(ids, c.config.BatchSize)
	results := make([]*domain.Batch, len(chunks))

	var (
		requests atomic.Int64
		err      error
	)
	if c.config.Workers > 1 && len(chunks) > 1 {
		err = c.fetchConcurrent(ctx, chunks, results, &requests)
	} else {
		err = c.fetchSequential(ctx, chunks, results, &requests)
	}

	if err != nil {
		failed := &domain.Batch{References: []domain.Reference{}}
		if c.config.AllowPartial && domain.IsCancelled(err) {
			failed = joinLeading(results)
		}
		failed.Requests = int(requests.Load())
		return failed, err
	}

	batch := joinLeading(results)
	batch.Requests = int(requests.Load())
	c.logger.Info().
		Int("ids", len(ids)).
		Int("references", len(batch.References)).
		Int("issues", len(batch.Issues)).
		Int("chunks", len(chunks)).
		Int("requests", batch.Requests).
		Msg("fetch completed")

	return batch, nil
}

func (c *FetchClient) fetchSequential(ctx context.Context, chunks [][]int, results []*domain.Batch, requests *atomic.Int64) error {
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			return fmt.Errorf("efetch stopped before chunk %d of %d: %w", i+1, len(chunks), cancelled(ctx, efetchEndpoint))
		}
		batch, err := c.fetchChunk(ctx, i, chunk, requests)
		if err != nil {
			return err
		}
		results[i] = batch
	}
	return nil
}

// fetchConcurrent runs up to Config.Workers chunk requests at a time. Each
// worker writes only its own slot of results, so chunk order is kept.
func (c *FetchClient) fetchConcurrent(ctx context.Context, chunks [][]int, results []*domain.Batch, requests *atomic.Int64) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Workers)

	for i, chunk := range chunks {
		g.Go(func() error {
			if gctx.Err() != nil {
				return fmt.Errorf("efetch stopped before chunk %d of %d: %w", i+1, len(chunks), cancelled(gctx, efetchEndpoint))
			}
			batch, err := c.fetchChunk(gctx, i, chunk, requests)
			if err != nil {
				return err
			}
			results[i] = batch
			return nil
		})
	}
	return g.Wait()
}

func (c *FetchClient) fetchChunk(ctx context.Context, index int, ids []int, requests *atomic.Int64) (*domain.Batch, error) {
	c.requests.Add(1)
	requests.Add(1)

	body, err := c.post(ctx, efetchEndpoint, url.Values{
		"retmode": {"xml"},
		"id":      {joinIDs(ids)},
	})
	if err != nil {
		return nil, fmt.Errorf("efetch chunk %d: %w", index+1, err)
	}

	batch, err := c.parser.ParseDocument(body)
	if err != nil {
		return nil, fmt.Errorf("efetch chunk %d: %w", index+1, err)
	}

	c.logger.Debug().
		Int("chunk", index+1).
		Int("ids", len(ids)).
		Int("references", len(batch.References)).
		Msg("fetched chunk")

	return batch, nil
}

// chunkIDs splits ids into consecutive chunks of at most size ids.
func chunkIDs(ids []int, size int) [][]int {
	chunks := make([][]int, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

// joinLeading concatenates results up to the first missing chunk.
func joinLeading(results []*domain.Batch) *domain.Batch {
	out := &domain.Batch{References: []domain.Reference{}}
	for _, b := range results {
		if b == nil {
			break
		}
		out.Append(b)
	}
	return out
}

// offlineBatch returns one stub reference per id without touching the network.
func offlineBatch(ids []int) *domain.Batch {
	refs := make([]domain.Reference, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, domain.NewReference(domain.Reference{
			ExternalID: domain.IntPtr(id),
			Title:      fmt.Sprintf("Offline reference %d", id),
			Citation:   OfflineCitation,
		}))
	}
	return &domain.Batch{References: refs}
}

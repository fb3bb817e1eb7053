package pubmed

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/reference-ingestion/internal/domain"
	"github.com/helixir/reference-ingestion/internal/papersources"
)

const (
	// DefaultBaseURL is the base URL for NCBI E-utilities API.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultDatabase is the Entrez database queried by both clients.
	DefaultDatabase = "pubmed"

	// DefaultRateLimit is the rate limit without an API key (3 requests/second).
	DefaultRateLimit = 3.0

	// KeyedRateLimit is the rate limit NCBI grants to requests carrying an API key.
	KeyedRateLimit = 10.0

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = papersources.DefaultTimeout

	// DefaultPageSize is the number of ids requested per esearch page.
	DefaultPageSize = 5000

	// DefaultBatchSize is the maximum number of ids per efetch request.
	DefaultBatchSize = 1000

	// MaxResultsLimit is the maximum retmax accepted by esearch.
	MaxResultsLimit = 10000

	// DefaultUserAgent identifies this client to NCBI.
	DefaultUserAgent = "Helixir-ReferenceIngestion/1.0 (mailto:support@helixir.io)"

	// sourceName is the human-readable name for this source.
	sourceName = "PubMed"

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 256 << 20

	// maxErrorBody bounds how much of an error body is kept in the error message.
	maxErrorBody = 512
)

// Config holds the configuration shared by SearchClient and FetchClient.
type Config struct {
	// BaseURL is the base URL for the E-utilities API.
	// Defaults to DefaultBaseURL if empty.
	BaseURL string

	// Database is the Entrez database name. Defaults to "pubmed".
	Database string

	// APIKey is the NCBI API key. It is attached to every request and raises
	// the default rate limit. Optional.
	APIKey string

	// Timeout is the per-request timeout. A timeout fails the whole call.
	// Defaults to DefaultTimeout if zero.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	// Defaults to DefaultRateLimit, or KeyedRateLimit when APIKey is set.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	// Defaults to the rate limit rounded down.
	BurstSize int

	// PageSize is the number of ids requested per esearch page.
	// Defaults to DefaultPageSize; capped at MaxResultsLimit.
	PageSize int

	// BatchSize is the maximum number of ids per efetch request.
	// Defaults to DefaultBatchSize; capped at MaxResultsLimit.
	BatchSize int

	// MaxRetries is the number of extra attempts after a 429, a 5xx or a
	// network error. Zero, the default, makes the first failure fatal.
	MaxRetries int

	// RetryDelay is the base delay between retries. Defaults to one second.
	RetryDelay time.Duration

	// Workers bounds the number of concurrent efetch requests.
	// Values below 2 fetch sequentially.
	Workers int

	// Offline makes FetchClient return stub references without any network
	// access and makes SearchClient refuse to run.
	Offline bool

	// AllowPartial returns the results gathered so far, together with the
	// cancellation error, when the context is cancelled mid-operation.
	AllowPartial bool

	// UserAgent is sent with every request. Defaults to DefaultUserAgent.
	UserAgent string

	// Observer receives one callback per HTTP request. Optional.
	Observer papersources.RequestObserver
}

// applyDefaults applies default values to the config.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
		if c.APIKey != "" {
			c.RateLimit = KeyedRateLimit
		}
	}
	if c.BurstSize == 0 {
		c.BurstSize = max(int(c.RateLimit), 1)
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.PageSize > MaxResultsLimit {
		c.PageSize = MaxResultsLimit
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchSize > MaxResultsLimit {
		c.BatchSize = MaxResultsLimit
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
}

// newHTTPClient builds the rate-limited transport for cfg. Unless MaxRetries
// is set, a failed request fails the enclosing search or fetch.
func newHTTPClient(cfg Config) *papersources.HTTPClient {
	return papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Source:     sourceName,
		Timeout:    cfg.Timeout,
		RateLimit:  cfg.RateLimit,
		BurstSize:  cfg.BurstSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		UserAgent:  cfg.UserAgent,
		Observer:   cfg.Observer,
	})
}

// eutils issues E-utilities requests and classifies their failures.
type eutils struct {
	config     Config
	httpClient *papersources.HTTPClient
	logger     zerolog.Logger
}

// post sends form to <BaseURL>/<endpoint>.fcgi and returns the body of a
// 200 response. Transport failures are returned as *domain.ExternalAPIError;
// a cancelled context yields domain.ErrCancelled.
func (e *eutils) post(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	form.Set("db", e.config.Database)
	if e.config.APIKey != "" {
		form.Set("api_key", e.config.APIKey)
	}

	start := time.Now()
	resp, err := e.httpClient.PostForm(ctx, e.config.BaseURL+"/"+endpoint+".fcgi", endpoint, form)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx, endpoint)
		}
		return nil, domain.NewExternalAPIError(sourceName, endpoint, 0, err.Error(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewExternalAPIError(sourceName, endpoint, resp.StatusCode, truncate(body, maxErrorBody), nil)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx, endpoint)
		}
		return nil, domain.NewExternalAPIError(sourceName, endpoint, 0, "failed to read response", err)
	}

	e.logger.Debug().
		Int("bytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("e-utilities request completed")

	return body, nil
}

func cancelled(ctx context.Context, what string) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrCancelled, what, context.Cause(ctx))
}

func truncate(body []byte, n int) string {
	s := strings.TrimSpace(string(body))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// checkRoot reports a structural error unless the document's root element
// is named want.
func checkRoot(data []byte, want string) error {
	root, err := firstElement(xml.NewDecoder(bytes.NewReader(data)))
	if err != nil {
		return domain.NewStructuralError(sourceName, "<"+want+">", "", err)
	}
	if root.Name.Local != want {
		return domain.NewStructuralError(sourceName, "<"+want+">", "<"+root.Name.Local+">", nil)
	}
	return nil
}

package papersources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Wait(t *testing.T) {
	t.Run("anonymous NCBI pace holds the fourth request", func(t *testing.T) {
		rl := NewRateLimiter(3, 3)
		ctx := context.Background()

		start := time.Now()
		for i := 0; i < 3; i++ {
			require.NoError(t, rl.Wait(ctx))
		}
		assert.Less(t, time.Since(start), 100*time.Millisecond, "the burst should not wait")

		require.NoError(t, rl.Wait(ctx))
		assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond,
			"the fourth request should wait about a third of a second")
	})

	t.Run("cancelled context fails immediately", func(t *testing.T) {
		rl := NewRateLimiter(3, 1)
		require.NoError(t, rl.Wait(context.Background()))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := rl.Wait(ctx)
		require.Error(t, err)
	})

	t.Run("deadline before the next token fails without waiting", func(t *testing.T) {
		rl := NewRateLimiter(0.5, 1)
		require.NoError(t, rl.Wait(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		err := rl.Wait(ctx)
		require.Error(t, err)
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	})
}

// pace issues n form posts through client and returns how long they took.
func pace(t *testing.T, client *HTTPClient, serverURL string, n int) time.Duration {
	t.Helper()
	start := time.Now()
	for i := 0; i < n; i++ {
		resp, err := client.PostForm(context.Background(), serverURL, "esearch", url.Values{"term": {"asthma"}})
		require.NoError(t, err)
		resp.Body.Close()
	}
	return time.Since(start)
}

func TestHTTPClient_EUtilitiesPacing(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(`<eSearchResult><Count>1</Count></eSearchResult>`))
	}))
	defer server.Close()

	t.Run("three per second without an API key", func(t *testing.T) {
		requests.Store(0)
		client := NewHTTPClient(HTTPClientConfig{Source: "PubMed", RateLimit: 3, BurstSize: 3})

		assert.GreaterOrEqual(t, pace(t, client, server.URL, 4), 250*time.Millisecond,
			"one request past the burst should wait about a third of a second")
		assert.Equal(t, int32(4), requests.Load())
	})

	t.Run("ten per second with an API key", func(t *testing.T) {
		requests.Store(0)
		client := NewHTTPClient(HTTPClientConfig{Source: "PubMed", RateLimit: 10, BurstSize: 10})

		assert.Less(t, pace(t, client, server.URL, 10), 250*time.Millisecond,
			"a keyed client should send its whole burst at once")
		assert.Equal(t, int32(10), requests.Load())

		fresh := NewHTTPClient(HTTPClientConfig{Source: "PubMed", RateLimit: 10, BurstSize: 10})
		assert.GreaterOrEqual(t, pace(t, fresh, server.URL, 12), 150*time.Millisecond,
			"two requests past the burst should wait about a fifth of a second")
	})

	t.Run("retries wait for the limiter too", func(t *testing.T) {
		var attempts atomic.Int32
		flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if attempts.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer flaky.Close()

		client := NewHTTPClient(HTTPClientConfig{
			RateLimit:  3,
			BurstSize:  1,
			MaxRetries: 1,
			RetryDelay: time.Millisecond,
		})

		elapsed := pace(t, client, flaky.URL, 1)
		assert.Equal(t, int32(2), attempts.Load())
		assert.GreaterOrEqual(t, elapsed, 250*time.Millisecond)
	})
}

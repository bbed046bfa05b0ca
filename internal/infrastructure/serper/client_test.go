package serper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pricelens/backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var flipkart = domain.Marketplace{Name: "Flipkart", Domain: "flipkart.com"}

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		APIKey:       "test-api-key",
		BaseURL:      baseURL,
		Country:      "in",
		Language:     "en",
		Rate:         1000,
		Burst:        100,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}, nil)
}

func TestNewClient(t *testing.T) {
	client := NewClient(Config{APIKey: "test-api-key"}, nil)

	assert.NotNil(t, client)
	assert.Equal(t, "test-api-key", client.apiKey)
	assert.Equal(t, DefaultBaseURL, client.baseURL)
	assert.NotNil(t, client.httpClient)
	assert.NotNil(t, client.rateLimiter)
	assert.Equal(t, 500*time.Millisecond, client.retryBackoff)
}

func TestBackoff(t *testing.T) {
	client := NewClient(Config{}, nil)

	tests := []struct {
		retry    int
		expected time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, 1000 * time.Millisecond},
		{3, 2000 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.expected.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, client.backoff(tt.retry))
		})
	}
}

func TestSearch_Shopping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/shopping", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-api-key", r.Header.Get("X-API-KEY"))

		var payload searchPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Samsung Galaxy M34 5G site:flipkart.com", payload.Q)
		assert.Equal(t, "in", payload.GL)
		assert.Equal(t, "en", payload.HL)
		assert.Equal(t, 25, payload.Num)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(searchResponse{
			Shopping: []shoppingResult{
				{Title: "Samsung Galaxy M34 5G (Midnight Blue, 128 GB)", Link: "https://www.flipkart.com/hi/samsung-m34/p/itm1", Price: "₹18,999"},
				{Title: "Samsung Galaxy M34 5G", Link: "https://www.google.com/shopping/product/1", Price: "₹17,999"},
			},
			Organic: []organicResult{
				{Title: "Galaxy M34 5G - Flipkart", Link: "https://dl.flipkart.com/m34", Snippet: "Buy at ₹18,499. Free delivery"},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	candidates, err := client.Search(context.Background(), domain.SearchRequest{Query: "Samsung Galaxy M34 5G", Marketplace: flipkart})

	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "Flipkart", candidates[0].Marketplace)
	assert.Equal(t, "₹18,999", candidates[0].RawPrice)
	assert.Equal(t, "https://www.flipkart.com/samsung-m34/p/itm1", candidates[0].URL)
	assert.Equal(t, "Buy at ₹18,499. Free delivery", candidates[1].RawPrice)
}

func TestSearch_FallsBackToWebSearch(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/shopping" {
			json.NewEncoder(w).Encode(searchResponse{})
			return
		}
		json.NewEncoder(w).Encode(searchResponse{
			Organic: []organicResult{
				{Title: "Samsung Galaxy M34 5G", Link: "https://www.flipkart.com/m34", Snippet: "₹18,999 ₹24,499 24% off"},
				{Title: "Samsung Galaxy M34 5G review", Link: "https://www.gsmarena.com/m34", Snippet: "Review"},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	candidates, err := client.Search(context.Background(), domain.SearchRequest{Query: "Samsung Galaxy M34 5G", Marketplace: flipkart})

	require.NoError(t, err)
	mu.Lock()
	assert.Equal(t, []string{"/shopping", "/search"}, paths)
	mu.Unlock()
	require.Len(t, candidates, 1)
	assert.Equal(t, "https://www.flipkart.com/m34", candidates[0].URL)
}

func TestSearch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(searchResponse{
			Shopping: []shoppingResult{{Title: "Galaxy M34", Link: "https://www.flipkart.com/m34", Price: "₹18,999"}},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	candidates, err := client.Search(context.Background(), domain.SearchRequest{Query: "Galaxy M34", Marketplace: flipkart})

	require.NoError(t, err)
	assert.Len(t, candidates, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearch_RateLimited(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	candidates, err := client.Search(context.Background(), domain.SearchRequest{Query: "Galaxy M34", Marketplace: flipkart})

	assert.Nil(t, candidates)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.ErrorIs(t, err, domain.ErrSearchProvider)
	// No web-search fallback after rate limiting
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearch_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"Unauthorized."}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Search(context.Background(), domain.SearchRequest{Query: "Galaxy M34", Marketplace: flipkart})

	assert.ErrorIs(t, err, domain.ErrSearchProvider)
	// One shopping call, one web-search call
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearch_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Search(context.Background(), domain.SearchRequest{Query: "Galaxy M34", Marketplace: flipkart})

	assert.ErrorIs(t, err, domain.ErrSearchProvider)
}

func TestSearch_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	client.retryBackoff = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Search(ctx, domain.SearchRequest{Query: "Galaxy M34", Marketplace: flipkart})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

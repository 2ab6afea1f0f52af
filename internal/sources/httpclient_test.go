package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-agent-service/internal/domain"
)

func newFastClient(source string) *HTTPClient {
	return NewHTTPClient(HTTPClientConfig{
		Source:    source,
		Timeout:   5 * time.Second,
		RateLimit: 100,
		BurstSize: 100,
	}, nil)
}

func TestNewHTTPClient(t *testing.T) {
	t.Run("creates client with custom config", func(t *testing.T) {
		cfg := HTTPClientConfig{
			Source:       "Test",
			Timeout:      15 * time.Second,
			RateLimit:    5,
			BurstSize:    3,
			UserAgent:    "TestAgent/1.0",
			APIKey:       "test-key",
			APIKeyHeader: "X-Api-Key",
		}

		client := NewHTTPClient(cfg, nil)

		require.NotNil(t, client)
		assert.Equal(t, 15*time.Second, client.client.Timeout)
		assert.Equal(t, cfg.UserAgent, client.config.UserAgent)
		assert.Equal(t, cfg.APIKeyHeader, client.config.APIKeyHeader)
	})

	t.Run("applies default values", func(t *testing.T) {
		client := NewHTTPClient(HTTPClientConfig{}, nil)

		assert.Equal(t, DefaultTimeout, client.client.Timeout)
		assert.Equal(t, "research-agent-service/1.0", client.config.UserAgent)
		assert.Equal(t, float64(5), client.config.RateLimit)
		assert.Equal(t, 5, client.config.BurstSize)
	})

	t.Run("fractional rate keeps a burst of one", func(t *testing.T) {
		client := NewHTTPClient(HTTPClientConfig{RateLimit: 0.5}, nil)
		assert.Equal(t, 1, client.config.BurstSize)
	})
}

func TestHTTPClient_Do(t *testing.T) {
	t.Run("sets user agent and api key", func(t *testing.T) {
		var ua, key string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ua = r.Header.Get("User-Agent")
			key = r.Header.Get("X-Api-Key")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			UserAgent:    "TestAgent/2.0",
			APIKey:       "secret",
			APIKeyHeader: "X-Api-Key",
			RateLimit:    100,
		}, nil)

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, "TestAgent/2.0", ua)
		assert.Equal(t, "secret", key)
	})

	t.Run("does not retry server errors", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		var dst map[string]any
		err := newFastClient("Test").GetJSON(context.Background(), "search", server.URL, &dst)
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("canceled context stops the rate limiter wait", func(t *testing.T) {
		client := NewHTTPClient(HTTPClientConfig{RateLimit: 0.001, BurstSize: 1}, nil)
		require.True(t, client.rateLimiter.Allow())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://127.0.0.1:1", nil)
		require.NoError(t, err)

		_, err = client.Do(req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate limiter wait")
	})
}

func TestHTTPClient_GetJSON(t *testing.T) {
	t.Run("decodes a successful response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/json", r.Header.Get("Accept"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"name":"ok","count":3}`))
		}))
		defer server.Close()

		var dst struct {
			Name  string `json:"name"`
			Count int    `json:"count"`
		}
		require.NoError(t, newFastClient("Test").GetJSON(context.Background(), "search", server.URL, &dst))
		assert.Equal(t, "ok", dst.Name)
		assert.Equal(t, 3, dst.Count)
	})

	t.Run("maps 429 to rate limit error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		var dst map[string]any
		err := newFastClient("NewsAPI").GetJSON(context.Background(), "everything", server.URL, &dst)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrRateLimited))

		var rlErr *domain.RateLimitError
		require.True(t, errors.As(err, &rlErr))
		assert.Equal(t, "NewsAPI", rlErr.Source)
		assert.Equal(t, 7*time.Second, rlErr.RetryAfter)
	})

	t.Run("maps other statuses to external api error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
		}))
		defer server.Close()

		var dst map[string]any
		err := newFastClient("HackerNews").GetJSON(context.Background(), "search", server.URL, &dst)

		var apiErr *domain.ExternalAPIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "HackerNews", apiErr.Source)
		assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
		assert.Len(t, apiErr.Message, 1024)
	})

	t.Run("empty error body uses status text", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		var dst map[string]any
		err := newFastClient("Test").GetJSON(context.Background(), "search", server.URL, &dst)

		var apiErr *domain.ExternalAPIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "Not Found", apiErr.Message)
	})

	t.Run("malformed body is an external api error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"broken":`))
		}))
		defer server.Close()

		var dst map[string]any
		err := newFastClient("Test").GetJSON(context.Background(), "search", server.URL, &dst)

		var apiErr *domain.ExternalAPIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "malformed response body", apiErr.Message)
		assert.NotNil(t, apiErr.Cause)
	})

	t.Run("deadline surfaces as context error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		var dst map[string]any
		err := newFastClient("Test").GetJSON(ctx, "search", server.URL, &dst)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{name: "missing", header: "", want: 0},
		{name: "seconds", header: "30", want: 30 * time.Second},
		{name: "zero", header: "0", want: 0},
		{name: "garbage", header: "soon", want: 0},
		{name: "past date", header: "Mon, 02 Jan 2006 15:04:05 GMT", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{}}
			if tt.header != "" {
				resp.Header.Set("Retry-After", tt.header)
			}
			assert.Equal(t, tt.want, retryAfter(resp))
		})
	}
}

func TestRequestErrorType(t *testing.T) {
	assert.Equal(t, "timeout", requestErrorType(context.DeadlineExceeded))
	assert.Equal(t, "canceled", requestErrorType(context.Canceled))
	assert.Equal(t, "network", requestErrorType(errors.New("connection refused")))
}

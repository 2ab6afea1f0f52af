package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/helixir/research-agent-service/internal/domain"
)

// TestSQLInjection_TopicField verifies that SQL injection payloads are stored
// verbatim as opaque data and never cause a 500.
func TestSQLInjection_TopicField(t *testing.T) {
	payloads := []struct {
		name  string
		topic string
	}{
		{"drop table", "'; DROP TABLE research_topics; --"},
		{"boolean tautology", "1 OR 1=1"},
		{"union select", "' UNION SELECT * FROM users --"},
		{"bobby tables", "Robert'); DROP TABLE students;--"},
		{"comment injection", "topic/* comment */"},
		{"batch separator", "topic\nGO\nDROP TABLE research_topics"},
	}

	for _, tc := range payloads {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()

			rr := postTopic(t, f.srv, tc.topic)
			if rr.Code != http.StatusCreated {
				t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
			}

			resp := decode[submitTopicResponse](t, rr)
			stored, err := f.gateway.GetTopic(context.Background(), resp.ID)
			if err != nil {
				t.Fatalf("get topic: %v", err)
			}
			if stored.Topic != strings.TrimSpace(tc.topic) {
				t.Errorf("expected topic stored verbatim, got %q", stored.Topic)
			}
		})
	}
}

// TestXSSPayload_TopicField verifies that HTML payloads round-trip as JSON
// strings and are never served as HTML.
func TestXSSPayload_TopicField(t *testing.T) {
	f := newFixture()
	payload := `<script>alert("xss")</script>`

	rr := postTopic(t, f.srv, payload)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}

	rr = serveHTTP(f.srv, httptest.NewRequest(http.MethodGet, "/research/1", nil))
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
	if strings.Contains(rr.Body.String(), "<script>") {
		t.Errorf("expected HTML to be escaped in JSON, got %s", rr.Body.String())
	}
}

// TestRequestBodyLimit verifies oversized bodies are truncated and rejected.
func TestRequestBodyLimit(t *testing.T) {
	f := newFixture()
	body := `{"topic":"` + strings.Repeat("a", maxRequestBodySize+10) + `"}`

	rr := serveHTTP(f.srv, httptest.NewRequest(http.MethodPost, "/research", strings.NewReader(body)))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

// TestResponseSanitization verifies that infrastructure error text never
// reaches the client.
func TestResponseSanitization(t *testing.T) {
	sensitiveErrors := []struct {
		name      string
		err       error
		forbidden []string
	}{
		{
			name:      "postgres connection refused",
			err:       fmt.Errorf("pgx: connection refused to 10.0.0.5:5432"),
			forbidden: []string{"pgx", "connection refused", "10.0.0.5", "5432"},
		},
		{
			name:      "authentication failure",
			err:       fmt.Errorf("password authentication failed for user \"research_user\""),
			forbidden: []string{"password", "research_user"},
		},
		{
			name:      "kafka broker",
			err:       fmt.Errorf("publish job for topic 1: dial tcp 10.0.1.20:9092: i/o timeout"),
			forbidden: []string{"10.0.1.20", "9092", "dial tcp"},
		},
	}

	for _, tc := range sensitiveErrors {
		t.Run(tc.name, func(t *testing.T) {
			srv := NewServer(Config{}, failingService{err: tc.err}, stubHealth{status: "healthy"}, zerolog.Nop())

			for _, req := range []*http.Request{
				httptest.NewRequest(http.MethodPost, "/research", strings.NewReader(`{"topic":"x"}`)),
				httptest.NewRequest(http.MethodGet, "/research", nil),
				httptest.NewRequest(http.MethodGet, "/research/1", nil),
			} {
				rr := serveHTTP(srv, req)
				if rr.Code != http.StatusInternalServerError {
					t.Errorf("%s %s: expected 500, got %d", req.Method, req.URL.Path, rr.Code)
				}
				for _, fragment := range tc.forbidden {
					if strings.Contains(rr.Body.String(), fragment) {
						t.Errorf("response body contains sensitive fragment %q: %s", fragment, rr.Body.String())
					}
				}
			}
		})
	}
}

func TestWriteDomainError_StatusMapping(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedBody   string
	}{
		{"not found", domain.NewNotFoundError("topic", "1"), http.StatusNotFound, "research topic not found"},
		{"validation", domain.NewValidationError("topic", "must not be empty"), http.StatusBadRequest, "topic must not be empty"},
		{"bare invalid input", fmt.Errorf("wrap: %w", domain.ErrInvalidInput), http.StatusBadRequest, "invalid input"},
		{"already exists", domain.ErrAlreadyExists, http.StatusConflict, "resource already exists"},
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests, "rate limited"},
		{"unavailable", domain.ErrServiceUnavailable, http.StatusServiceUnavailable, "service unavailable"},
		{"internal", errors.New("FATAL: relation \"research_topics\" does not exist"), http.StatusInternalServerError, "internal server error"},
	}

	srv := NewServer(Config{}, failingService{}, stubHealth{}, zerolog.Nop())
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			srv.writeDomainError(rr, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)

			if rr.Code != tc.expectedStatus {
				t.Errorf("expected status %d, got %d", tc.expectedStatus, rr.Code)
			}
			resp := decode[map[string]string](t, rr)
			if resp["error"] != tc.expectedBody {
				t.Errorf("expected error %q, got %q", tc.expectedBody, resp["error"])
			}
		})
	}
}

func TestWriteDomainError_NilIsNoop(t *testing.T) {
	srv := NewServer(Config{}, failingService{}, stubHealth{}, zerolog.Nop())
	rr := httptest.NewRecorder()
	srv.writeDomainError(rr, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	if rr.Body.Len() != 0 {
		t.Errorf("expected no body, got %s", rr.Body.String())
	}
}

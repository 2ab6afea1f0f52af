package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/helixir/research-agent-service/internal/domain"
)

// Pagination and request limits.
const (
	defaultPageSize    = 50
	maxPageSize        = 100
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

// submitTopicRequest is the JSON body of POST /research.
type submitTopicRequest struct {
	Topic *string `json:"topic"`
}

// submitTopic handles POST /research.
func (s *Server) submitTopic(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req submitTopicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.Topic == nil {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}

	resp, err := s.service.Submit(r.Context(), *req.Topic)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, submitTopicResponse{
		ID:     resp.ID,
		Status: string(resp.Status),
	})
}

// listTopics handles GET /research.
func (s *Server) listTopics(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := parsePaginationParams(w, r)
	if !ok {
		return
	}

	filter := domain.TopicFilter{
		Status: domain.TopicStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	}

	topics, total, err := s.service.ListTopics(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	summaries := make([]topicSummaryResponse, len(topics))
	for i, t := range topics {
		summaries[i] = domainTopicToSummary(t)
	}
	writeJSON(w, http.StatusOK, listTopicsResponse{
		Topics:     summaries,
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
	})
}

// getTopicDetails handles GET /research/{topicID}.
func (s *Server) getTopicDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTopicID(w, r)
	if !ok {
		return
	}

	details, err := s.service.GetDetails(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domainDetailsToResponse(details))
}

// getTopicLogs handles GET /research/{topicID}/logs.
func (s *Server) getTopicLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTopicID(w, r)
	if !ok {
		return
	}

	logs, err := s.service.ListLogs(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domainLogsToResponse(logs))
}

// getTopicResults handles GET /research/{topicID}/results.
func (s *Server) getTopicResults(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTopicID(w, r)
	if !ok {
		return
	}

	results, err := s.service.ListResults(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domainResultsToResponse(results))
}

// writeDomainError maps domain errors to HTTP status codes. Internal error
// details are logged, never returned to clients.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "research topic not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Field+" "+ve.Message)
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		s.logger.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseTopicID reads the {topicID} path parameter, writing a 400 response if
// it is not a positive integer. The raw value is not echoed back.
func parseTopicID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "topicID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "topic id must be a positive integer")
		return 0, false
	}
	return id, true
}

// parsePaginationParams extracts limit and offset, applying default and
// maximum bounds to limit.
func parsePaginationParams(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()

	limit = defaultPageSize
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return 0, 0, false
		}
		limit = parsed
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if v := q.Get("offset"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = parsed
	}

	return limit, offset, true
}

package httpserver

import (
	"time"

	"github.com/helixir/research-agent-service/internal/domain"
)

type submitTopicResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

type topicSummaryResponse struct {
	ID        int64     `json:"id"`
	Topic     string    `json:"topic"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type listTopicsResponse struct {
	Topics     []topicSummaryResponse `json:"topics"`
	TotalCount int64                  `json:"total_count"`
	Limit      int                    `json:"limit"`
	Offset     int                    `json:"offset"`
}

type workflowLogResponse struct {
	ID              int64     `json:"id"`
	Attempt         int       `json:"attempt"`
	StepNumber      int       `json:"step_number"`
	StepName        string    `json:"step_name"`
	Status          string    `json:"status"`
	LogMessage      string    `json:"log_message"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

type researchResultResponse struct {
	ID             int64     `json:"id"`
	ArticleTitle   string    `json:"article_title"`
	ArticleURL     string    `json:"article_url"`
	ArticleSummary string    `json:"article_summary"`
	Keywords       []string  `json:"keywords"`
	SourceAPI      string    `json:"source_api"`
	CreatedAt      time.Time `json:"created_at"`
}

type topicDetailsResponse struct {
	ID              int64                    `json:"id"`
	Topic           string                   `json:"topic"`
	Status          string                   `json:"status"`
	Attempt         int                      `json:"attempt"`
	CreatedAt       time.Time                `json:"created_at"`
	UpdatedAt       time.Time                `json:"updated_at"`
	WorkflowLogs    []workflowLogResponse    `json:"workflow_logs"`
	ResearchResults []researchResultResponse `json:"research_results"`
}

func domainTopicToSummary(t *domain.ResearchTopic) topicSummaryResponse {
	return topicSummaryResponse{
		ID:        t.ID,
		Topic:     t.Topic,
		Status:    string(t.Status),
		CreatedAt: t.CreatedAt,
	}
}

func domainLogsToResponse(logs []domain.WorkflowLog) []workflowLogResponse {
	out := make([]workflowLogResponse, len(logs))
	for i, l := range logs {
		out[i] = workflowLogResponse{
			ID:              l.ID,
			Attempt:         l.Attempt,
			StepNumber:      l.StepNumber,
			StepName:        l.StepName,
			Status:          string(l.Status),
			LogMessage:      l.Message,
			ExecutionTimeMs: l.ExecutionTimeMs,
			CreatedAt:       l.CreatedAt,
		}
	}
	return out
}

func domainResultsToResponse(results []domain.ResearchResult) []researchResultResponse {
	out := make([]researchResultResponse, len(results))
	for i, r := range results {
		keywords := r.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		out[i] = researchResultResponse{
			ID:             r.ID,
			ArticleTitle:   r.Title,
			ArticleURL:     r.URL,
			ArticleSummary: r.Summary,
			Keywords:       keywords,
			SourceAPI:      r.SourceAPI,
			CreatedAt:      r.CreatedAt,
		}
	}
	return out
}

func domainDetailsToResponse(d *domain.TopicDetails) topicDetailsResponse {
	return topicDetailsResponse{
		ID:              d.Topic.ID,
		Topic:           d.Topic.Topic,
		Status:          string(d.Topic.Status),
		Attempt:         d.Topic.Attempt,
		CreatedAt:       d.Topic.CreatedAt,
		UpdatedAt:       d.Topic.UpdatedAt,
		WorkflowLogs:    domainLogsToResponse(d.Logs),
		ResearchResults: domainResultsToResponse(d.Results),
	}
}

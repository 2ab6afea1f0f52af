// Package domain provides domain models and business logic for the research agent service.
package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// TopicStatus represents the lifecycle states of a research topic.
// These values must match the database enum topic_status.
type TopicStatus string

const (
	TopicStatusPending    TopicStatus = "pending"
	TopicStatusProcessing TopicStatus = "processing"
	TopicStatusCompleted  TopicStatus = "completed"
	TopicStatusFailed     TopicStatus = "failed"
)

// IsTerminal returns true if the status represents a final state that will not change.
func (s TopicStatus) IsTerminal() bool {
	switch s {
	case TopicStatusCompleted, TopicStatusFailed:
		return true
	default:
		return false
	}
}

// IsValid reports whether s is a known topic status.
func (s TopicStatus) IsValid() bool {
	switch s {
	case TopicStatusPending, TopicStatusProcessing, TopicStatusCompleted, TopicStatusFailed:
		return true
	default:
		return false
	}
}

// LogStatus represents the outcome recorded for a single workflow step.
// These values must match the database enum log_status.
type LogStatus string

const (
	LogStatusPending   LogStatus = "pending"
	LogStatusCompleted LogStatus = "completed"
	LogStatusFailed    LogStatus = "failed"
)

// Topic length bounds, measured in characters after trimming.
const (
	MinTopicLength = 1
	MaxTopicLength = 500
)

// NormalizeTopic trims surrounding whitespace from a topic.
func NormalizeTopic(topic string) string {
	return strings.TrimSpace(topic)
}

// BoundTopic trims a topic and checks only the storage bound. Empty topics
// pass: they are accepted at submission and fail at the input parsing step.
func BoundTopic(topic string) (string, error) {
	normalized := NormalizeTopic(topic)
	if utf8.RuneCountInString(normalized) > MaxTopicLength {
		return "", NewValidationError("topic", "must be at most 500 characters")
	}
	return normalized, nil
}

// ValidateTopic checks that a topic is non-empty and within length bounds
// after trimming. It returns the normalized topic.
func ValidateTopic(topic string) (string, error) {
	normalized, err := BoundTopic(topic)
	if err != nil {
		return "", err
	}
	if utf8.RuneCountInString(normalized) < MinTopicLength {
		return "", NewValidationError("topic", "must not be empty")
	}
	return normalized, nil
}

// ResearchTopic is a user-submitted research subject and its processing state.
type ResearchTopic struct {
	ID          int64       `json:"id"`
	Topic       string      `json:"topic"`
	Status      TopicStatus `json:"status"`
	Attempt     int         `json:"attempt"`
	HeartbeatAt *time.Time  `json:"heartbeat_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// IsStale reports whether a processing topic has not reported progress since
// staleBefore and may be reclaimed.
func (t *ResearchTopic) IsStale(staleBefore time.Time) bool {
	if t.Status != TopicStatusProcessing {
		return false
	}
	last := t.UpdatedAt
	if t.HeartbeatAt != nil {
		last = *t.HeartbeatAt
	}
	return last.Before(staleBefore)
}

// WorkflowLog is the execution record of one step of one attempt.
type WorkflowLog struct {
	ID              int64     `json:"id"`
	TopicID         int64     `json:"topic_id"`
	Attempt         int       `json:"attempt"`
	StepNumber      int       `json:"step_number"`
	StepName        string    `json:"step_name"`
	Status          LogStatus `json:"status"`
	Message         string    `json:"message"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// ResearchResult is one processed article persisted for a topic attempt.
type ResearchResult struct {
	ID        int64     `json:"id"`
	TopicID   int64     `json:"topic_id"`
	Attempt   int       `json:"attempt"`
	Position  int       `json:"position"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Summary   string    `json:"summary"`
	Keywords  []string  `json:"keywords"`
	SourceAPI string    `json:"source_api"`
	CreatedAt time.Time `json:"created_at"`
}

// RawArticle is an article as returned by a content source, before aggregation.
type RawArticle struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Text   string `json:"text"`
	Source string `json:"source"`
}

// ResultCandidate is an aggregated article ready to be persisted.
type ResultCandidate struct {
	Title     string
	URL       string
	Summary   string
	Keywords  []string
	SourceAPI string
}

// ToResult converts a candidate into a result row for the given topic attempt.
func (c ResultCandidate) ToResult(topicID int64, attempt, position int) ResearchResult {
	keywords := make([]string, len(c.Keywords))
	copy(keywords, c.Keywords)
	return ResearchResult{
		TopicID:   topicID,
		Attempt:   attempt,
		Position:  position,
		Title:     c.Title,
		URL:       c.URL,
		Summary:   c.Summary,
		Keywords:  keywords,
		SourceAPI: c.SourceAPI,
	}
}

// TopicDetails bundles a topic with its latest attempt's logs and results.
type TopicDetails struct {
	Topic   *ResearchTopic
	Logs    []WorkflowLog
	Results []ResearchResult
}

// TopicFilter holds filter criteria for listing topics.
type TopicFilter struct {
	Status TopicStatus
	Limit  int
	Offset int
}

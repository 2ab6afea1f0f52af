// Package repotest provides an in-memory repository.Gateway for tests of the
// packages built on top of the persistence layer.
//
// The in-memory gateway mirrors the Postgres gateway's semantics: claims are
// compare-and-swap, bookkeeping writes are fenced on the attempt and
// SaveResults is all-or-nothing.
package repotest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/helixir/research-agent-service/internal/domain"
	"github.com/helixir/research-agent-service/internal/repository"
)

// Compile-time interface verification.
var (
	_ repository.Gateway     = (*Gateway)(nil)
	_ repository.TopicLister = (*Gateway)(nil)
	_ repository.Maintenance = (*Gateway)(nil)
)

type attemptKey struct {
	topicID int64
	attempt int
}

// Gateway is an in-memory repository.Gateway. It is safe for concurrent use.
type Gateway struct {
	mu      sync.Mutex
	now     func() time.Time
	nextID  int64
	nextLog int64
	topics  map[int64]*domain.ResearchTopic
	logs    map[attemptKey][]domain.WorkflowLog
	results map[attemptKey][]domain.ResearchResult
	writes  int

	// SaveResultsErr, when non-nil, fails SaveResults after the fence as a
	// mid-transaction error would. No rows are written.
	SaveResultsErr error

	// ClaimErr, when non-nil, is returned by ClaimTopic.
	ClaimErr error

	// MaintenanceLocked makes FindRecoverable and PurgeFinished report that
	// another instance holds the lock.
	MaintenanceLocked bool
}

// NewGateway creates an empty gateway using the real clock.
func NewGateway() *Gateway {
	return &Gateway{
		now:     time.Now,
		topics:  make(map[int64]*domain.ResearchTopic),
		logs:    make(map[attemptKey][]domain.WorkflowLog),
		results: make(map[attemptKey][]domain.ResearchResult),
	}
}

// SetNow replaces the gateway clock.
func (g *Gateway) SetNow(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// Writes returns the number of successful bookkeeping writes: log appends,
// result saves and terminal transitions.
func (g *Gateway) Writes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.writes
}

// Put stores topic as-is, overwriting any topic with the same ID.
func (g *Gateway) Put(topic domain.ResearchTopic) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if topic.ID > g.nextID {
		g.nextID = topic.ID
	}
	t := topic
	g.topics[t.ID] = &t
}

// CreateTopic inserts a new pending topic.
func (g *Gateway) CreateTopic(_ context.Context, topic string) (*domain.ResearchTopic, error) {
	normalized, err := domain.BoundTopic(topic)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	now := g.now()
	t := &domain.ResearchTopic{
		ID:        g.nextID,
		Topic:     normalized,
		Status:    domain.TopicStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	g.topics[t.ID] = t
	return copyTopic(t), nil
}

// ClaimTopic starts a new attempt on a pending or stale processing topic.
func (g *Gateway) ClaimTopic(_ context.Context, id int64, staleBefore time.Time) (repository.ClaimResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ClaimErr != nil {
		return repository.ClaimResult{}, g.ClaimErr
	}

	t, ok := g.topics[id]
	if !ok {
		return repository.ClaimResult{Outcome: repository.ClaimNotFound}, nil
	}
	if t.Status.IsTerminal() {
		return repository.ClaimResult{Outcome: repository.ClaimTerminal, Topic: copyTopic(t)}, nil
	}
	if t.Status == domain.TopicStatusProcessing && !t.IsStale(staleBefore) {
		return repository.ClaimResult{Outcome: repository.ClaimBusy, Topic: copyTopic(t)}, nil
	}

	now := g.now()
	t.Status = domain.TopicStatusProcessing
	t.Attempt++
	t.HeartbeatAt = &now
	t.UpdatedAt = now
	return repository.ClaimResult{Outcome: repository.ClaimAcquired, Topic: copyTopic(t)}, nil
}

// AppendLog records a settled step for a live attempt.
func (g *Gateway) AppendLog(_ context.Context, log *domain.WorkflowLog) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fence(log.TopicID, log.Attempt); err != nil {
		return err
	}
	if err := g.appendLog(log); err != nil {
		return err
	}
	g.writes++
	return nil
}

// SaveResults replaces the results of an attempt.
func (g *Gateway) SaveResults(_ context.Context, topicID int64, attempt int, results []domain.ResearchResult) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fence(topicID, attempt); err != nil {
		return err
	}
	if g.SaveResultsErr != nil {
		return domain.NewPersistenceError("save_results", g.SaveResultsErr)
	}

	now := g.now()
	rows := make([]domain.ResearchResult, len(results))
	for i, r := range results {
		r.TopicID = topicID
		r.Attempt = attempt
		r.Position = i
		r.CreatedAt = now
		r.ID = int64(i + 1)
		rows[i] = r
	}
	g.results[attemptKey{topicID, attempt}] = rows
	g.writes++
	return nil
}

// CompleteTopic appends the final log and marks the attempt completed.
func (g *Gateway) CompleteTopic(_ context.Context, topicID int64, attempt int, log *domain.WorkflowLog) error {
	return g.finish(topicID, attempt, domain.TopicStatusCompleted, log)
}

// FailTopic appends the failing step's log and marks the attempt failed.
func (g *Gateway) FailTopic(_ context.Context, topicID int64, attempt int, log *domain.WorkflowLog) error {
	return g.finish(topicID, attempt, domain.TopicStatusFailed, log)
}

func (g *Gateway) finish(topicID int64, attempt int, status domain.TopicStatus, log *domain.WorkflowLog) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fence(topicID, attempt); err != nil {
		return err
	}
	if log != nil {
		if err := g.appendLog(log); err != nil {
			return err
		}
	}
	t := g.topics[topicID]
	now := g.now()
	t.Status = status
	t.HeartbeatAt = &now
	t.UpdatedAt = now
	g.writes++
	return nil
}

// GetTopic retrieves a topic by ID.
func (g *Gateway) GetTopic(_ context.Context, id int64) (*domain.ResearchTopic, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.topics[id]
	if !ok {
		return nil, domain.NewNotFoundError("topic", fmt.Sprint(id))
	}
	return copyTopic(t), nil
}

// ListLogs returns the logs of one attempt ordered by step number.
func (g *Gateway) ListLogs(_ context.Context, topicID int64, attempt int) ([]domain.WorkflowLog, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	logs := append([]domain.WorkflowLog(nil), g.logs[attemptKey{topicID, attempt}]...)
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].StepNumber < logs[j].StepNumber })
	return logs, nil
}

// ListResults returns the results of one attempt ordered by position.
func (g *Gateway) ListResults(_ context.Context, topicID int64, attempt int) ([]domain.ResearchResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.ResearchResult(nil), g.results[attemptKey{topicID, attempt}]...), nil
}

// ListTopics lists topics newest first.
func (g *Gateway) ListTopics(_ context.Context, filter domain.TopicFilter) ([]*domain.ResearchTopic, int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var matched []*domain.ResearchTopic
	for _, t := range g.topics {
		if filter.Status == "" || t.Status == filter.Status {
			matched = append(matched, copyTopic(t))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := int64(len(matched))
	offset := filter.Offset
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

// FindRecoverable lists stale processing topics and old pending topics.
func (g *Gateway) FindRecoverable(_ context.Context, staleBefore, pendingBefore time.Time, limit int) ([]repository.RecoverableTopic, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.MaintenanceLocked {
		return nil, false, nil
	}

	var found []*domain.ResearchTopic
	for _, t := range g.topics {
		switch {
		case t.IsStale(staleBefore):
			found = append(found, t)
		case t.Status == domain.TopicStatusPending && t.UpdatedAt.Before(pendingBefore):
			found = append(found, t)
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if !found[i].UpdatedAt.Equal(found[j].UpdatedAt) {
			return found[i].UpdatedAt.Before(found[j].UpdatedAt)
		}
		return found[i].ID < found[j].ID
	})
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}

	out := make([]repository.RecoverableTopic, len(found))
	for i, t := range found {
		out[i] = repository.RecoverableTopic{ID: t.ID, Status: t.Status}
	}
	return out, true, nil
}

// PurgeFinished deletes terminal topics last updated before before.
func (g *Gateway) PurgeFinished(_ context.Context, before time.Time) (int64, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.MaintenanceLocked {
		return 0, false, nil
	}

	var deleted int64
	for id, t := range g.topics {
		if t.Status.IsTerminal() && t.UpdatedAt.Before(before) {
			delete(g.topics, id)
			for key := range g.logs {
				if key.topicID == id {
					delete(g.logs, key)
				}
			}
			for key := range g.results {
				if key.topicID == id {
					delete(g.results, key)
				}
			}
			deleted++
		}
	}
	return deleted, true, nil
}

// fence refreshes the heartbeat and fails when the attempt lost ownership.
// Callers hold g.mu.
func (g *Gateway) fence(topicID int64, attempt int) error {
	t, ok := g.topics[topicID]
	if !ok || t.Attempt != attempt || t.Status != domain.TopicStatusProcessing {
		return repository.ErrAttemptSuperseded
	}
	now := g.now()
	t.HeartbeatAt = &now
	return nil
}

// appendLog enforces one entry per step per attempt. Callers hold g.mu.
func (g *Gateway) appendLog(log *domain.WorkflowLog) error {
	key := attemptKey{log.TopicID, log.Attempt}
	for _, existing := range g.logs[key] {
		if existing.StepNumber == log.StepNumber {
			return domain.NewAlreadyExistsError("workflow_log", fmt.Sprintf("%d/%d/%d", log.TopicID, log.Attempt, log.StepNumber))
		}
	}
	g.nextLog++
	entry := *log
	entry.ID = g.nextLog
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = g.now()
	}
	g.logs[key] = append(g.logs[key], entry)
	log.ID = entry.ID
	return nil
}

func copyTopic(t *domain.ResearchTopic) *domain.ResearchTopic {
	c := *t
	if t.HeartbeatAt != nil {
		hb := *t.HeartbeatAt
		c.HeartbeatAt = &hb
	}
	return &c
}

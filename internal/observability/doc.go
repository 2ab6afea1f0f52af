// Package observability provides logging and metrics support for the
// research agent service.
//
// Loggers are zerolog instances created from configuration with NewLogger and
// enriched per component with logger.With().Str("component", ...). Topic
// processing adds topic_id and attempt fields through WithTopicContext, and
// request-scoped identifiers travel in the context (WithRequestID,
// WithWorkerID, WithTopic) so that FromContext can rebuild an enriched logger.
//
// Metrics are Prometheus collectors registered through promauto. A nil
// *Metrics is accepted everywhere and records nothing.
//
// Standard fields:
//
//   - topic_id: research topic identifier
//   - attempt: orchestration attempt number
//   - step_number, step_name: workflow step
//   - source: content source name (Wikipedia, NewsAPI, ...)
//   - worker_id: worker pool member
//   - request_id: HTTP request identifier
//   - workflow_id, workflow_run_id: Temporal execution, for the temporal queue backend
package observability

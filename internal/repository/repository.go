// Package repository provides data access interfaces and implementations
// for the Research Agent Service.
//
// # Overview
//
// Three pgx repositories own one table each:
//
//   - TopicRepository: research topics and their status machine
//   - WorkflowLogRepository: per-step execution logs
//   - ResultRepository: processed research results
//
// PgGateway composes them into the Gateway consumed by the workflow
// orchestrator, running multi-statement operations in a single transaction.
//
// # Attempts
//
// Every claim of a topic increments its attempt counter. Logs and results are
// tagged with the attempt that wrote them and reads return the latest attempt
// only. Writes for an attempt are fenced on (id, attempt, status='processing')
// so a superseded worker cannot overwrite the state of a newer attempt.
//
// # Error Handling
//
// All methods return domain-specific errors from the domain package.
// Database errors are wrapped with context using fmt.Errorf with %w.
//
//   - domain.ErrNotFound: Resource does not exist
//   - domain.ErrAlreadyExists: Unique constraint violation
//   - domain.ErrInvalidInput: Invalid parameters provided
//   - ErrAttemptSuperseded: The attempt no longer owns the topic
//
// # Transactions
//
// Repositories accept DBTX so they can run against the pool or inside a
// transaction obtained from database.DB.WithTransaction:
//
//	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    return NewPgResultRepository(tx).ReplaceAttempt(ctx, topicID, attempt, results)
//	})
package repository

import (
	"errors"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/research-agent-service/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// ErrAttemptSuperseded is returned when a write is fenced out because the
// topic has been reclaimed by a newer attempt or has already finished.
var ErrAttemptSuperseded = errors.New("attempt superseded")

// PostgreSQL error codes used for constraint violation detection.
const (
	pgUniqueViolation     = "23505" // unique_violation
	pgForeignKeyViolation = "23503" // foreign_key_violation
)

// Filter pagination defaults and limits.
const (
	defaultFilterLimit = 100
	maxFilterLimit     = 1000
)

// psql builds PostgreSQL statements with $n placeholders.
var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// applyPaginationDefaults normalizes limit and offset values for filter queries.
// It clamps limit to [1, maxFilterLimit] and ensures offset >= 0.
func applyPaginationDefaults(limit, offset *int) {
	if *limit <= 0 {
		*limit = defaultFilterLimit
	}
	if *limit > maxFilterLimit {
		*limit = maxFilterLimit
	}
	if *offset < 0 {
		*offset = 0
	}
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// isPgUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isPgUniqueViolation(err error) bool {
	return pgErrorCode(err) == pgUniqueViolation
}

// isPgForeignKeyViolation checks if the error is a PostgreSQL foreign key violation.
func isPgForeignKeyViolation(err error) bool {
	return pgErrorCode(err) == pgForeignKeyViolation
}

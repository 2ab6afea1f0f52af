package workflow

import (
	"context"
	"errors"
	"net"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/research-agent-service/internal/domain"
)

// Sentinel errors used to classify step failures.
var (
	// ErrValidation marks a topic that fails input parsing.
	ErrValidation = errors.New("validation failed")

	// ErrAdapter marks a content source failure.
	ErrAdapter = errors.New("content source failure")

	// ErrAggregationInvariant marks aggregator input that violates an invariant.
	ErrAggregationInvariant = errors.New("aggregation invariant violated")

	// ErrPersistence marks a storage failure. It matches domain.PersistenceError.
	ErrPersistence = domain.ErrPersistence
)

// ErrorClass is the user-visible category of a step failure.
type ErrorClass string

const (
	ClassValidation  ErrorClass = "validation"
	ClassAdapter     ErrorClass = "adapter"
	ClassAggregation ErrorClass = "aggregation"
	ClassPersistence ErrorClass = "persistence"
	ClassTransient   ErrorClass = "transient"
	ClassInternal    ErrorClass = "internal"
)

// maxCauseLength bounds the cause text written to workflow logs.
const maxCauseLength = 200

// Retryable Postgres SQLSTATEs: serialization failure, deadlock, too many
// connections and admin shutdown. Class 08 (connection exception) is
// matched by prefix.
var transientPgCodes = map[string]bool{
	"40001": true,
	"40P01": true,
	"53300": true,
	"57P01": true,
}

// Classify maps err to an ErrorClass.
//
// Classification priority:
//  1. Taxonomy sentinels: validation, aggregation, persistence, adapter
//  2. Transient conditions: deadlines, network errors, retryable database errors
//  3. Default: internal
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, domain.ErrInvalidInput):
		return ClassValidation
	case errors.Is(err, ErrAggregationInvariant):
		return ClassAggregation
	case errors.Is(err, ErrPersistence):
		return ClassPersistence
	}

	var apiErr *domain.ExternalAPIError
	if errors.Is(err, ErrAdapter) || errors.Is(err, domain.ErrRateLimited) || errors.As(err, &apiErr) {
		return ClassAdapter
	}

	if isTransient(err) {
		return ClassTransient
	}
	return ClassInternal
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrServiceUnavailable) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientPgCodes[pgErr.Code] || strings.HasPrefix(pgErr.Code, "08")
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// failureMessage renders the log text for a failed step: "<class>: <cause>".
// Only the first line of the cause is kept.
func failureMessage(class ErrorClass, err error) string {
	return string(class) + ": " + shortCause(err)
}

func shortCause(err error) string {
	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		return vErr.Field + " " + vErr.Message
	}

	cause := err.Error()
	if i := strings.IndexByte(cause, '\n'); i >= 0 {
		cause = cause[:i]
	}
	cause = strings.TrimSpace(cause)
	if utf8.RuneCountInString(cause) > maxCauseLength {
		runes := []rune(cause)
		cause = string(runes[:maxCauseLength-3]) + "..."
	}
	return cause
}

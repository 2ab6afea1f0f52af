package database

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-agent-service/internal/config"
)

func newMockDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return NewFromPool(mock, time.Second, zerolog.Nop()), mock
}

func TestHealthStatus_JSON(t *testing.T) {
	t.Run("error field is omitted when empty", func(t *testing.T) {
		data, err := json.Marshal(HealthStatus{Status: "healthy", MaxConns: 10})
		require.NoError(t, err)
		assert.NotContains(t, string(data), `"error"`)
		assert.Contains(t, string(data), `"max_conns":10`)
	})

	t.Run("error field is present when set", func(t *testing.T) {
		data, err := json.Marshal(HealthStatus{Status: "unhealthy", Error: "connection refused"})
		require.NoError(t, err)
		assert.Contains(t, string(data), `"error":"connection refused"`)
	})
}

func TestDB_Health(t *testing.T) {
	t.Run("healthy when ping succeeds", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectPing()

		health := db.Health(context.Background())
		assert.Equal(t, "healthy", health.Status)
		assert.Empty(t, health.Error)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unhealthy when ping fails", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		health := db.Health(context.Background())
		assert.Equal(t, "unhealthy", health.Status)
		assert.Equal(t, "connection refused", health.Error)
	})

	t.Run("mock pool exposes no pgxpool", func(t *testing.T) {
		db, _ := newMockDB(t)
		assert.Nil(t, db.Pool())
	})
}

func TestDB_WithTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM research_results").
			WithArgs(int64(1)).
			WillReturnResult(pgxmock.NewResult("DELETE", 2))
		mock.ExpectCommit()

		err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, "DELETE FROM research_results WHERE topic_id = $1", int64(1))
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back and returns the callback error", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := db.WithTransaction(ctx, func(tx pgx.Tx) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back and re-panics", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		assert.PanicsWithValue(t, "kaboom", func() {
			_ = db.WithTransaction(ctx, func(tx pgx.Tx) error { panic("kaboom") })
		})
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure is wrapped", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

		err := db.WithTransaction(ctx, func(tx pgx.Tx) error { return nil })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to begin transaction")
	})

	t.Run("commit failure is wrapped", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

		err := db.WithTransaction(ctx, func(tx pgx.Tx) error { return nil })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to commit transaction")
	})

	t.Run("transaction context carries the timeout", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectCommit()

		err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, time.Second, db.txTimeout)
	})
}

func TestDB_WithAdvisoryLock(t *testing.T) {
	ctx := context.Background()

	t.Run("runs callback when lock acquired", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT pg_try_advisory_xact_lock").
			WithArgs(int64(42)).
			WillReturnRows(pgxmock.NewRows([]string{"pg_try_advisory_xact_lock"}).AddRow(true))
		mock.ExpectCommit()

		called := false
		ran, err := db.WithAdvisoryLock(ctx, 42, func(tx pgx.Tx) error {
			called = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, ran)
		assert.True(t, called)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("skips callback when lock is held elsewhere", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT pg_try_advisory_xact_lock").
			WithArgs(int64(42)).
			WillReturnRows(pgxmock.NewRows([]string{"pg_try_advisory_xact_lock"}).AddRow(false))
		mock.ExpectCommit()

		ran, err := db.WithAdvisoryLock(ctx, 42, func(tx pgx.Tx) error {
			t.Fatal("callback must not run")
			return nil
		})
		require.NoError(t, err)
		assert.False(t, ran)
	})

	t.Run("lock query failure rolls back", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT pg_try_advisory_xact_lock").
			WithArgs(int64(42)).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		ran, err := db.WithAdvisoryLock(ctx, 42, func(tx pgx.Tx) error { return nil })
		require.Error(t, err)
		assert.False(t, ran)
		assert.Contains(t, err.Error(), "acquire advisory lock 42")
	})
}

func TestDB_DBTXPassthrough(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)

	mock.ExpectExec("UPDATE research_topics").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	tag, err := db.Exec(ctx, "UPDATE research_topics SET status = 'pending'")
	require.NoError(t, err)
	assert.Equal(t, int64(3), tag.RowsAffected())

	mock.ExpectQuery("SELECT 1").
		WillReturnRows(pgxmock.NewRows([]string{"n"}).AddRow(1))
	var n int
	require.NoError(t, db.QueryRow(ctx, "SELECT 1").Scan(&n))
	assert.Equal(t, 1, n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_UnreachableHost(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping network test in short mode")
	}

	cfg := &config.DatabaseConfig{
		Host:           "127.0.0.1",
		Port:           1,
		User:           "research",
		Name:           "research_agent",
		SSLMode:        "disable",
		MaxConns:       1,
		MinConns:       0,
		ConnectTimeout: time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := New(ctx, cfg, zerolog.Nop())
	assert.Error(t, err)
	assert.Nil(t, db)
}

func TestDB_CloseNilPool(t *testing.T) {
	assert.NotPanics(t, func() {
		(&DB{}).Close()
	})
}

// setupTestDB connects to a local database described by the default config.
// Tests using it are skipped when nothing is listening.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Host:              "localhost",
		Port:              5432,
		Name:              "research_agent",
		User:              "research",
		Password:          "password",
		SSLMode:           "disable",
		MaxConns:          5,
		MinConns:          1,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    5 * time.Second,
	}

	db, err := New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to database: %v", err)
	}
	return db
}

package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

// MigrationsTable records the applied schema version of the research tables.
const MigrationsTable = "research_schema_migrations"

// ErrDirtySchema is returned when a previous migration failed halfway and the
// version must be forced before migrating again.
var ErrDirtySchema = errors.New("schema is dirty")

// migrationEngine is the part of *migrate.Migrate the Migrator drives.
type migrationEngine interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Close() (error, error)
}

// Migrator applies the SQL files under a migrations directory to the
// research schema.
type Migrator struct {
	engine migrationEngine
	sqlDB  *sql.DB
	path   string
	logger zerolog.Logger
}

// NewMigrator opens a migrator over db's pool reading migrationsPath.
func NewMigrator(db *DB, migrationsPath string, logger zerolog.Logger) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if db.raw == nil {
		return nil, fmt.Errorf("database pool not initialized")
	}
	if migrationsPath == "" {
		return nil, fmt.Errorf("migrations path is required")
	}
	if _, err := os.Stat(migrationsPath); err != nil {
		return nil, fmt.Errorf("migrations path validation failed: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(db.raw)
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{
		MigrationsTable: MigrationsTable,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	engine, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	m := newMigrator(engine, migrationsPath, logger)
	m.sqlDB = sqlDB
	return m, nil
}

func newMigrator(engine migrationEngine, path string, logger zerolog.Logger) *Migrator {
	return &Migrator{
		engine: engine,
		path:   path,
		logger: logger.With().
			Str("component", "migrator").
			Str("migrations_path", path).
			Str("migrations_table", MigrationsTable).
			Logger(),
	}
}

// Path returns the migrations directory.
func (m *Migrator) Path() string {
	return m.path
}

// Up applies every pending migration.
func (m *Migrator) Up() error {
	return m.run("up", func() error { return m.engine.Up() })
}

// Down rolls back every migration, dropping the research tables.
func (m *Migrator) Down() error {
	return m.run("down", func() error { return m.engine.Down() })
}

// Steps applies n migrations forward, or -n backward when n is negative.
// Stepping past the newest or oldest migration is not an error.
func (m *Migrator) Steps(n int) error {
	return m.run(fmt.Sprintf("steps %+d", n), func() error {
		err := m.engine.Steps(n)
		if errors.Is(err, os.ErrNotExist) {
			return migrate.ErrNoChange
		}
		return err
	})
}

// Version returns the applied schema version and whether it is dirty.
func (m *Migrator) Version() (uint, bool, error) {
	return m.engine.Version()
}

// Force records version as applied and clean without running any SQL.
func (m *Migrator) Force(version int) error {
	before := m.current()
	if err := m.engine.Force(version); err != nil {
		return fmt.Errorf("failed to force schema version %d: %w", version, err)
	}
	m.logger.Warn().
		Str("from_version", before).
		Int("to_version", version).
		Msg("schema version forced")
	return nil
}

// run refuses to migrate a dirty schema, then logs the version transition.
func (m *Migrator) run(op string, apply func() error) error {
	version, dirty, err := m.engine.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("migrate %s: %w at version %d, force a version first", op, ErrDirtySchema, version)
	}
	before := m.current()

	m.logger.Info().Str("op", op).Str("from_version", before).Msg("migrating schema")
	if err := apply(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info().Str("op", op).Str("version", before).Msg("schema already up to date")
			return nil
		}
		return fmt.Errorf("migrate %s: %w", op, err)
	}

	m.logger.Info().
		Str("op", op).
		Str("from_version", before).
		Str("to_version", m.current()).
		Msg("schema migrated")
	return nil
}

// current describes the applied version for logs.
func (m *Migrator) current() string {
	version, dirty, err := m.engine.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return "none"
	case err != nil:
		return "unknown"
	case dirty:
		return fmt.Sprintf("%d (dirty)", version)
	default:
		return fmt.Sprintf("%d", version)
	}
}

// Close releases the migration source and the database handle.
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.engine.Close()
	if m.sqlDB != nil {
		if err := m.sqlDB.Close(); err != nil && dbErr == nil {
			dbErr = err
		}
	}

	var errs []error
	if sourceErr != nil {
		errs = append(errs, fmt.Errorf("close migration source: %w", sourceErr))
	}
	if dbErr != nil {
		errs = append(errs, fmt.Errorf("close migration database: %w", dbErr))
	}
	return errors.Join(errs...)
}

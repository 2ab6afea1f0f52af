// Package main provides a CLI tool for applying the research schema migrations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-agent-service/internal/config"
	"github.com/helixir/research-agent-service/internal/database"
	"github.com/helixir/research-agent-service/internal/observability"
)

const connectTimeout = 30 * time.Second

var errNoAction = errors.New("no action specified")

// action is the single migration operation requested on the command line.
type action struct {
	kind    string // up, down, steps, version or force
	steps   int
	version int
	path    string
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	act, err := parseAction(args, os.Stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}).With().Str("component", "migrate").Logger()

	path := cfg.Database.MigrationPath
	if act.path != "" {
		path = act.path
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, path, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := apply(migrator, act, logger); err != nil {
		return err
	}
	logVersion(migrator, logger)
	return nil
}

// parseAction reads the flags in args and requires exactly one action.
func parseAction(args []string, usage io.Writer) (action, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(usage)

	up := fs.Bool("up", false, "Run all pending migrations")
	down := fs.Bool("down", false, "Roll back all migrations")
	steps := fs.Int("steps", 0, "Run N migration steps (positive=up, negative=down)")
	version := fs.Bool("version", false, "Print the current migration version")
	force := fs.Int("force", -1, "Force set migration version (use to recover from a failed migration)")
	path := fs.String("path", "", "Override the migrations directory path")

	if err := fs.Parse(args); err != nil {
		return action{}, err
	}

	var chosen []action
	if *up {
		chosen = append(chosen, action{kind: "up"})
	}
	if *down {
		chosen = append(chosen, action{kind: "down"})
	}
	if *steps != 0 {
		chosen = append(chosen, action{kind: "steps", steps: *steps})
	}
	if *version {
		chosen = append(chosen, action{kind: "version"})
	}
	if *force >= 0 {
		chosen = append(chosen, action{kind: "force", version: *force})
	}

	switch len(chosen) {
	case 0:
		fs.Usage()
		fmt.Fprintln(usage, "\nPlease specify one of: -up, -down, -steps N, -version, -force V")
		return action{}, errNoAction
	case 1:
		act := chosen[0]
		act.path = *path
		return act, nil
	default:
		return action{}, fmt.Errorf("specify only one action at a time")
	}
}

// migrator is the subset of *database.Migrator driven by the CLI.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Version() (uint, bool, error)
}

func apply(m migrator, act action, logger zerolog.Logger) error {
	switch act.kind {
	case "up":
		logger.Info().Msg("running all pending migrations")
		if err := m.Up(); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		logger.Warn().Msg("rolling back all migrations")
		if err := m.Down(); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
	case "steps":
		logger.Info().Int("steps", act.steps).Msg("running migration steps")
		if err := m.Steps(act.steps); err != nil {
			return fmt.Errorf("migrate steps: %w", err)
		}
	case "force":
		logger.Warn().Int("version", act.version).Msg("forcing migration version")
		if err := m.Force(act.version); err != nil {
			return fmt.Errorf("force version: %w", err)
		}
	case "version":
	default:
		return errNoAction
	}
	return nil
}

func logVersion(m migrator, logger zerolog.Logger) {
	v, dirty, err := m.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	logger.Info().Uint("version", v).Bool("dirty", dirty).Msg("current migration version")
}

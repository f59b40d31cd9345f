package migrations

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/uptrace/bun"

	"ms-commerce/internal/logger"
)

// Options configures a migration run.
type Options struct {
	// Dir holds the versioned .sql migration files.
	Dir string
	// SeedData applies the dev seed migrations on top of the schema.
	SeedData bool
	// SchemaVersion is the last schema-only migration. Versions above it
	// are seed data and are skipped unless SeedData is set.
	SchemaVersion uint
}

func DefaultOptions() Options {
	return Options{
		Dir:           "./migrations",
		SeedData:      false,
		SchemaVersion: 1,
	}
}

// Runner applies versioned migrations against the service database.
type Runner struct {
	db       *bun.DB
	log      *logger.Logger
	options  Options
	migrator *migrate.Migrate
}

func NewRunner(db *bun.DB, log *logger.Logger, opts Options) *Runner {
	if opts.Dir == "" {
		opts.Dir = DefaultOptions().Dir
	}
	if opts.SchemaVersion == 0 {
		opts.SchemaVersion = DefaultOptions().SchemaVersion
	}
	return &Runner{
		db:      db,
		log:     log,
		options: opts,
	}
}

func (r *Runner) init() error {
	if r.migrator != nil {
		return nil
	}

	if _, err := os.Stat(r.options.Dir); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory does not exist: %s", r.options.Dir)
	}

	driver, err := postgres.WithInstance(r.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres migration driver: %w", err)
	}

	migrator, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", r.options.Dir),
		"postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	r.migrator = migrator
	return nil
}

// RunMigrations brings the schema up to date. Seed migrations only run
// when Options.SeedData is set.
func (r *Runner) RunMigrations() error {
	if err := r.init(); err != nil {
		return err
	}

	version, dirty, err := r.migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("get migration version: %w", err)
	}
	if dirty {
		r.log.Warn("DATABASE", fmt.Sprintf("Schema version %d is dirty, forcing clean state", version))
		if err := r.migrator.Force(int(version)); err != nil {
			return fmt.Errorf("fix dirty migration: %w", err)
		}
	}

	if r.options.SeedData {
		r.log.Info("DATABASE", "Running all migrations including seed data")
		err = r.migrator.Up()
	} else {
		r.log.Info("DATABASE", fmt.Sprintf("Running schema migrations up to version %d", r.options.SchemaVersion))
		err = r.migrator.Migrate(r.options.SchemaVersion)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	if version, _, err := r.migrator.Version(); err == nil {
		r.log.Info("DATABASE", fmt.Sprintf("Schema at version %d", version))
	}
	return nil
}

// MigrateUp applies every pending migration.
func (r *Runner) MigrateUp() error {
	if err := r.init(); err != nil {
		return err
	}
	if err := r.migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateDown rolls back all migrations.
func (r *Runner) MigrateDown() error {
	if err := r.init(); err != nil {
		return err
	}
	if err := r.migrator.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// MigrateTo moves the schema to an exact version, up or down.
func (r *Runner) MigrateTo(version uint) error {
	if err := r.init(); err != nil {
		return err
	}
	if err := r.migrator.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration to version %d failed: %w", version, err)
	}
	return nil
}

// Close frees the migrator's source and database handles.
func (r *Runner) Close() error {
	if r.migrator == nil {
		return nil
	}
	sourceErr, databaseErr := r.migrator.Close()
	if sourceErr != nil {
		return fmt.Errorf("close migrator source: %w", sourceErr)
	}
	if databaseErr != nil {
		return fmt.Errorf("close migrator database: %w", databaseErr)
	}
	return nil
}

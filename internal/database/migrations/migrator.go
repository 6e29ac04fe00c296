package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed sql/*.sql
var files embed.FS

type Migrator struct {
	db     *sql.DB
	m      *migrate.Migrate
	logger *slog.Logger
}

type Status struct {
	Version uint
	Dirty   bool
}

func New(dsn string, logger *slog.Logger) (*Migrator, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(files, "sql")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}

	return &Migrator{db: db, m: m, logger: logger.With("component", "migrator")}, nil
}

// Up applies steps migrations, or every pending one when steps is zero.
func (mg *Migrator) Up(steps int) error {
	var err error
	if steps > 0 {
		err = mg.m.Steps(steps)
	} else {
		err = mg.m.Up()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		mg.logger.Info("No migrations to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}
	mg.logger.Info("Migrations applied successfully")
	return nil
}

// Down rolls back steps migrations, one when steps is zero.
func (mg *Migrator) Down(steps int) error {
	if steps <= 0 {
		steps = 1
	}
	err := mg.m.Steps(-steps)
	if errors.Is(err, migrate.ErrNoChange) {
		mg.logger.Info("No migrations to rollback")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration down failed: %w", err)
	}
	mg.logger.Info("Migrations rolled back successfully", "steps", steps)
	return nil
}

func (mg *Migrator) Status() (Status, error) {
	version, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("failed to get version: %w", err)
	}
	return Status{Version: version, Dirty: dirty}, nil
}

func (mg *Migrator) Force(version int) error {
	if err := mg.m.Force(version); err != nil {
		return fmt.Errorf("force migration failed: %w", err)
	}
	mg.logger.Warn("Migration version forced", "version", version)
	return nil
}

func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}

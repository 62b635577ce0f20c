package backends

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/developer-mesh/fontedit/pkg/observability"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate brings the schema of the font database at dsn up to date and
// returns its version. Migrations run on their own connection, which is
// closed before returning.
func Migrate(ctx context.Context, driver, dsn string, logger observability.Logger) (uint, error) {
	logger = observability.OrNoop(logger).WithPrefix("sql-migrate")

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return 0, fmt.Errorf("failed to open database for migrations: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return 0, fmt.Errorf("failed to connect for migrations: %w", err)
	}

	var dbDriver database.Driver
	switch driver {
	case "postgres":
		dbDriver, err = postgres.WithInstance(db, &postgres.Config{})
	case "sqlite3":
		dbDriver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	default:
		_ = db.Close()
		return 0, fmt.Errorf("no migrations for database driver %q", driver)
	}
	if err != nil {
		_ = db.Close()
		return 0, fmt.Errorf("failed to create %s migration driver: %w", driver, err)
	}

	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		_ = dbDriver.Close()
		return 0, fmt.Errorf("failed to read migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, driver, dbDriver)
	if err != nil {
		_ = source.Close()
		_ = dbDriver.Close()
		return 0, fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	done := make(chan error, 1)
	go func() {
		done <- m.Up()
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		m.GracefulStop <- true
		<-done
		return 0, fmt.Errorf("migration interrupted: %w", ctx.Err())
	}

	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Debug("Schema is up to date", nil)
	case err != nil:
		return 0, fmt.Errorf("failed to apply migrations: %w", err)
	default:
		logger.Info("Applied schema migrations", nil)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}

package migrations

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var sqlMigrations embed.FS

func newPostgresMigrator(dsn string) (*migrate.Migrate, error) {
	src, err := iofs.New(sqlMigrations, "sql")
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// PostgresUp applies all pending migrations.
func PostgresUp(dsn string) error {
	m, err := newPostgresMigrator(dsn)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// PostgresDown rolls back the given number of migrations.
func PostgresDown(dsn string, steps int) error {
	m, err := newPostgresMigrator(dsn)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Steps(-steps); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// PostgresVersion reports the current schema version and dirty flag.
func PostgresVersion(dsn string) (uint, bool, error) {
	m, err := newPostgresMigrator(dsn)
	if err != nil {
		return 0, false, err
	}
	defer m.Close()
	v, dirty, err := m.Version()
	if err == migrate.ErrNilVersion {
		return 0, false, nil
	}
	return v, dirty, err
}

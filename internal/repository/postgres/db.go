// Package postgres implements the gateway's optional Postgres persistence.
package postgres

import (
	"zkdpp/pkg/config"
	"zkdpp/pkg/errors"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens a pooled connection using the database settings.
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// NewMigrator binds golang-migrate to an open database and a migrations source URL
// such as file://migrations.
func NewMigrator(db *sqlx.DB, sourceURL string) (*migrate.Migrate, error) {
	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create migration driver")
	}
	m, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create migrate instance")
	}
	return m, nil
}

// MigrateUp applies pending migrations. No pending migration is not an error.
func MigrateUp(db *sqlx.DB, sourceURL string) error {
	m, err := NewMigrator(db, sourceURL)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migration failed")
	}
	return nil
}

package db

import (
	"database/sql"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/SplitFi/go-oasis/service/logger"
)

// CoreMigrations is the directory of the core schema inside Migrations
const CoreMigrations = "migrations/core"

//go:embed migrations
var Migrations embed.FS

// RunMigration returns a migrator for the migrations in dir after applying all of them
func RunMigration(client *sql.DB, dir string) (*migrate.Migrate, error) {
	src, err := iofs.New(Migrations, dir)
	if err != nil {
		return nil, err
	}

	driver, err := postgres.WithInstance(client, &postgres.Config{})
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, err
	}

	version, dirty, _ := m.Version()
	logger.For(nil).Infof("migrated %s to version %d (dirty=%t)", dir, version, dirty)

	return m, nil
}

// RunMigrations applies every migration in dir
func RunMigrations(client *sql.DB, dir string) error {
	_, err := RunMigration(client, dir)
	return err
}

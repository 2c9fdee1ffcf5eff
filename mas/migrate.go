package mas

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate brings the catalogue schema up to the latest version.
func (c *Catalogue) Migrate() error {
	m, err := c.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close the catalogue connection too
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("mas: migration up failed: %w", err)
	}
	return nil
}

// SchemaVersion is the applied migration version; 0 before any migration.
func (c *Catalogue) SchemaVersion() (uint, bool, error) {
	m, err := c.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (c *Catalogue) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("mas: migrations source: %w", err)
	}

	var driver database.Driver
	switch c.driver {
	case DriverSQLite:
		driver, err = sqlite.WithInstance(c.db, &sqlite.Config{})
	case DriverPostgres:
		driver, err = postgres.WithInstance(c.db, &postgres.Config{})
	}
	if err != nil {
		return nil, fmt.Errorf("mas: %s migration driver: %w", c.driver, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, c.driver, driver)
	if err != nil {
		return nil, fmt.Errorf("mas: create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{logger: c.logger}
	return m, nil
}

// migrateLogger implements migrate.Logger on top of zap.
type migrateLogger struct {
	logger *zap.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Sugar().Infof("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

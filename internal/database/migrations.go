package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"table-orders/internal/config"
	"table-orders/internal/logger"
)

//go:embed migrations
var migrationFiles embed.FS

// Direction selects whether migrations are applied or rolled back
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// RunMigrations applies or rolls back the PostgreSQL schema
func (db *DB) RunMigrations(direction Direction) error {
	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	driver, err := migratepgx.WithInstance(sqlDB, &migratepgx.Config{})
	if err != nil {
		sqlDB.Close()
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := newMigrate(config.DriverPostgres, "pgx5", driver)
	if err != nil {
		return err
	}
	// Closing the migrate instance closes sqlDB, which leaves the pool open.
	defer m.Close()

	return apply(m, direction, db.logger)
}

// RunSQLMigrations applies or rolls back the schema of a mysql or sqlite database
func RunSQLMigrations(db *sqlx.DB, driverName string, direction Direction, log *logger.Logger) error {
	driver, err := sqlMigrationDriver(db.DB, driverName)
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// Not closed: the migrate driver would close the shared handle.
	m, err := newMigrate(driverName, driverName, driver)
	if err != nil {
		return err
	}

	return apply(m, direction, log)
}

func sqlMigrationDriver(db *sql.DB, driverName string) (migratedb.Driver, error) {
	switch driverName {
	case config.DriverMySQL:
		return migratemysql.WithInstance(db, &migratemysql.Config{})
	case config.DriverSQLite:
		return migratesqlite.WithInstance(db, &migratesqlite.Config{})
	default:
		return nil, fmt.Errorf("no migrations for driver %q", driverName)
	}
}

func newMigrate(dialect, databaseName string, driver migratedb.Driver) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationFiles, "migrations/"+dialect)
	if err != nil {
		return nil, fmt.Errorf("failed to open migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, databaseName, driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

func apply(m *migrate.Migrate, direction Direction, log *logger.Logger) error {
	var err error
	switch direction {
	case Up:
		err = m.Up()
	case Down:
		err = m.Steps(-1)
	default:
		return fmt.Errorf("unknown migration direction %q", direction)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Info("migration_skipped", "Schema is up to date", "startup", nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to migrate %s: %w", direction, err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	log.Info("migration_applied", fmt.Sprintf("Migrated %s", direction), "startup",
		map[string]interface{}{"version": version, "dirty": dirty})
	return nil
}

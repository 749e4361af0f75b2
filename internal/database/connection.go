package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"table-orders/internal/config"
	"table-orders/internal/logger"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger *logger.Logger
}

// New creates a new database connection
func New(cfg *config.Config, log *logger.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if cfg.Database.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	}
	if cfg.Database.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.Database.MinConns)
	}
	if cfg.Database.MaxConnLife > 0 {
		poolConfig.MaxConnLifetime = cfg.Database.MaxConnLife
	}
	if cfg.Database.MaxConnIdle > 0 {
		poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdle
	}

	var pool *pgxpool.Pool
	err = withRetries(cfg.Database.ConnectRetries, log, func() error {
		p, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &DB{
		Pool:   pool,
		logger: log,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Ping tests the database connection
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// OpenSQL opens a database/sql handle for the mysql and sqlite drivers
func OpenSQL(cfg *config.Config, log *logger.Logger) (*sqlx.DB, error) {
	driverName, dsn, err := sqlDriver(cfg)
	if err != nil {
		return nil, err
	}

	var db *sqlx.DB
	err = withRetries(cfg.Database.ConnectRetries, log, func() error {
		d, err := sqlx.Open(driverName, dsn)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.PingContext(ctx); err != nil {
			d.Close()
			return err
		}
		db = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch cfg.Database.Driver {
	case config.DriverSQLite:
		// An in-memory database lives and dies with its connection, and sqlite
		// serializes writers anyway.
		db.SetMaxOpenConns(1)
	default:
		if cfg.Database.MaxConns > 0 {
			db.SetMaxOpenConns(cfg.Database.MaxConns)
		}
		if cfg.Database.MinConns > 0 {
			db.SetMaxIdleConns(cfg.Database.MinConns)
		}
		db.SetConnMaxLifetime(cfg.Database.MaxConnLife)
		db.SetConnMaxIdleTime(cfg.Database.MaxConnIdle)
	}

	return db, nil
}

// sqlDriver resolves the database/sql driver name and a DSN with the options
// the stores rely on.
func sqlDriver(cfg *config.Config) (string, string, error) {
	switch cfg.Database.Driver {
	case config.DriverMySQL:
		mc, err := mysql.ParseDSN(cfg.Database.DSN)
		if err != nil {
			return "", "", fmt.Errorf("failed to parse mysql dsn: %w", err)
		}
		mc.ParseTime = true
		mc.MultiStatements = true
		return "mysql", mc.FormatDSN(), nil
	case config.DriverSQLite:
		return "sqlite", withSQLitePragmas(cfg.Database.DSN), nil
	default:
		return "", "", fmt.Errorf("driver %q is not served by database/sql", cfg.Database.Driver)
	}
}

func withSQLitePragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func withRetries(attempts int, log *logger.Logger, connect func() error) error {
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = connect(); err == nil {
			return nil
		}

		if i < attempts-1 {
			waitTime := time.Duration(i+1) * 2 * time.Second
			log.Error("db_connection_failed",
				fmt.Sprintf("Failed to connect to database, retrying in %v", waitTime),
				"startup", err, nil)
			time.Sleep(waitTime)
		}
	}

	return fmt.Errorf("failed to connect to database after %d attempts: %w", attempts, err)
}

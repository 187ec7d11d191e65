// Package database opens the durable store and applies the schema.
//
// MySQL is the production backend; SQLite serves local development and tests.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/digkill/genstudio/internal/config"
)

// Dialect names the SQL flavour of an open connection.
type Dialect string

const (
	MySQL  Dialect = "mysql"
	SQLite Dialect = "sqlite"
)

// OnConflictDoNothing returns the INSERT suffix that leaves an existing row
// with the same key untouched. Any other error, truncation included, still
// fails the statement, which INSERT IGNORE would downgrade to a warning.
// Rows affected is 1 for an insert and 0 for a kept row.
func (d Dialect) OnConflictDoNothing(key string) string {
	if d == SQLite {
		return " ON CONFLICT(" + key + ") DO NOTHING"
	}
	return " ON DUPLICATE KEY UPDATE " + key + " = " + key
}

// Connect opens the backend selected by cfg.DBDriver.
func Connect(cfg config.Config) (*sql.DB, Dialect, error) {
	switch Dialect(cfg.DBDriver) {
	case MySQL:
		db, err := OpenMySQL(cfg.MySQLDSN)
		return db, MySQL, err
	case SQLite:
		db, err := OpenSQLite(cfg.SQLitePath)
		return db, SQLite, err
	default:
		return nil, "", fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
}

// OpenMySQL opens the MySQL connection with sensible pooling defaults.
func OpenMySQL(dsn string) (*sql.DB, error) {
	normalized, err := normalizeMySQLDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", normalized)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetConnMaxLifetime(time.Minute * 5)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := ping(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

// normalizeMySQLDSN forces parseTime and UTC so DATETIME columns scan into
// time.Time consistently.
func normalizeMySQLDSN(dsn string) (string, error) {
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	parsed.ParseTime = true
	parsed.Loc = time.UTC
	return parsed.FormatDSN(), nil
}

// OpenSQLite opens (and creates if needed) a SQLite database file.
// SQLite allows a single writer, so the pool is pinned to one connection.
func OpenSQLite(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := ping(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(context.Background(), pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

func ping(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	return db.PingContext(ctx)
}

// Migrate runs the bootstrap schema to ensure required tables exist.
// Statements run one at a time so the MySQL DSN never needs multiStatements.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	statements, ok := schemas[dialect]
	if !ok {
		return fmt.Errorf("no schema for dialect %q", dialect)
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

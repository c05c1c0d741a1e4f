package db

import (
	"context"
	"embed"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Connect opens a pooled connection and checks that the database answers.
// Supported drivers: postgres (lib/pq), pgx, sqlite3.
func Connect(driverName, dsn string) (*sqlx.DB, error) {
	if _, err := schemaFile(driverName); err != nil {
		return nil, err
	}
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	if driverName == "sqlite3" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate applies the schema for the connection's dialect. It is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	name, err := schemaFile(db.DriverName())
	if err != nil {
		return err
	}
	schema, err := migrations.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	for _, stmt := range strings.Split(string(schema), ";\n") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

func schemaFile(driverName string) (string, error) {
	switch driverName {
	case "postgres", "pgx":
		return "migrations/postgres.sql", nil
	case "sqlite3":
		return "migrations/sqlite.sql", nil
	}
	return "", fmt.Errorf("unsupported database driver %q", driverName)
}

package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

type Sqlite struct {
	Db *sql.DB
}

func New(dsn string) (*Sqlite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, err
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// WAL lets readers proceed while the store writes
	_, _ = db.Exec(`PRAGMA journal_mode=WAL;`)

	// Wait up to 5s if locked
	_, _ = db.Exec(`PRAGMA busy_timeout = 5000;`)

	return &Sqlite{
		Db: db,
	}, nil
}

func (s *Sqlite) Ping(ctx context.Context) error {
	return s.Db.PingContext(ctx)
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Sqlite) Migrate() error {
	for _, stmt := range strings.Split(schema, ";\n") {
		st := strings.TrimSpace(stmt)
		if st == "" {
			continue
		}
		if _, err := s.Db.Exec(st); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sqlite) Close() error {
	return s.Db.Close()
}

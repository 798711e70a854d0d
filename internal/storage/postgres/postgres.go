package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"strings"

	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schema string

type Postgres struct {
	Db *sql.DB
}

func New(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{
		Db: db,
	}, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.Db.PingContext(ctx)
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Postgres) Migrate() error {
	for _, stmt := range strings.Split(schema, ";") {
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

func (s *Postgres) Close() error {
	return s.Db.Close()
}

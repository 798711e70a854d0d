// Package sqlstore is the durable message store: the message table, the
// ordered change log the hub replays from, and the participant directory.
// One implementation serves SQLite and PostgreSQL; only placeholders differ.
package sqlstore

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ageniuscoder/internchat/backend/internal/apperr"
	"github.com/ageniuscoder/internchat/backend/internal/model"
)

type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// Publisher receives every committed change event, in log order.
type Publisher interface {
	Publish(ev model.Event)
}

// IDGenerator hands out time-ordered message ids.
type IDGenerator interface {
	Generate() int64
}

type Store struct {
	db      *sql.DB
	dialect Dialect
	ids     IDGenerator
	log     *logrus.Entry
	now     func() time.Time

	// mu serializes writes so that events reach the publisher in the same
	// order as their log positions.
	mu  sync.Mutex
	pub Publisher
}

func New(db *sql.DB, dialect Dialect, ids IDGenerator, log *logrus.Entry) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		ids:     ids,
		log:     log,
		now:     time.Now,
	}
}

// SetPublisher attaches the hub. Events committed before this call are only
// reachable through replay.
func (s *Store) SetPublisher(p Publisher) {
	s.mu.Lock()
	s.pub = p
	s.mu.Unlock()
}

// rebind rewrites ? placeholders for the target dialect.
func (s *Store) rebind(q string) string {
	if s.dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) exec(ctx context.Context, q queryer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, q queryer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, q queryer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.rebind(query), args...)
}

// write runs fn in a transaction under the write lock and publishes the
// events it produced once the transaction commits.
func (s *Store) write(ctx context.Context, op string, fn func(tx *sql.Tx) ([]model.Event, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Unavailable(err, op)
	}
	defer tx.Rollback()

	events, err := fn(tx)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Unavailable(err, op+": commit")
	}

	for _, ev := range events {
		s.log.WithFields(logrus.Fields{
			"op":   op,
			"seq":  ev.Seq,
			"kind": ev.Kind,
		}).Debug("event committed")
		if s.pub != nil {
			s.pub.Publish(ev)
		}
	}
	return nil
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/ageniuscoder/internchat/backend/internal/apperr"
	"github.com/ageniuscoder/internchat/backend/internal/model"
)

const floorKey = "event_floor"

func (s *Store) appendEvent(ctx context.Context, tx *sql.Tx, kind model.EventKind, m *model.Message, lo, hi string) (model.Event, error) {
	ev := model.Event{
		Kind:   kind,
		PeerLo: lo,
		PeerHi: hi,
		At:     fromMillis(millis(s.now())),
	}
	var payload []byte
	var messageID int64
	if m != nil {
		snapshot := m.Clone()
		ev.Message = &snapshot
		messageID = m.ID
		b, err := json.Marshal(snapshot)
		if err != nil {
			return ev, errors.Wrap(err, "encode event payload")
		}
		payload = b
	}

	row := s.queryRow(ctx, tx, `INSERT INTO events (kind, message_id, peer_lo, peer_hi, payload, at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING seq`,
		string(kind), messageID, lo, hi, string(payload), millis(ev.At))
	if err := row.Scan(&ev.Seq); err != nil {
		return ev, apperr.Unavailable(err, "append event")
	}
	return ev, nil
}

func scanEvent(row scanner) (model.Event, error) {
	var (
		ev      model.Event
		kind    string
		payload string
		at      int64
	)
	if err := row.Scan(&ev.Seq, &kind, &ev.PeerLo, &ev.PeerHi, &payload, &at); err != nil {
		return ev, err
	}
	ev.Kind = model.EventKind(kind)
	ev.At = fromMillis(at)
	if payload != "" {
		var m model.Message
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return ev, errors.Wrapf(err, "decode event %d", ev.Seq)
		}
		ev.Message = &m
	}
	return ev, nil
}

// Head is the position of the newest event in the log, or zero.
func (s *Store) Head(ctx context.Context) (int64, error) {
	var head int64
	row := s.queryRow(ctx, s.db, `SELECT COALESCE(MAX(seq), 0) FROM events`)
	if err := row.Scan(&head); err != nil {
		return 0, apperr.Unavailable(err, "event head")
	}
	return head, nil
}

// Floor is the highest position removed by compaction. Cursors below it can
// no longer be replayed exactly.
func (s *Store) Floor(ctx context.Context) (int64, error) {
	var floor int64
	row := s.queryRow(ctx, s.db, `SELECT val FROM meta WHERE name=?`, floorKey)
	err := row.Scan(&floor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, apperr.Unavailable(err, "event floor")
	}
	return floor, nil
}

// EventsSince returns the events of topic with after < seq <= upTo, in log
// order.
func (s *Store) EventsSince(ctx context.Context, topic model.Topic, after, upTo int64) ([]model.Event, error) {
	q := `SELECT seq, kind, peer_lo, peer_hi, payload, at FROM events WHERE seq > ? AND seq <= ?`
	args := []any{after, upTo}
	switch topic.Kind {
	case model.TopicConversation:
		q += ` AND peer_lo=? AND peer_hi=?`
		args = append(args, topic.PeerLo, topic.PeerHi)
	case model.TopicViewer:
		q += ` AND (peer_lo=? OR peer_hi=?)`
		args = append(args, topic.Viewer, topic.Viewer)
	default:
		return nil, errors.Errorf("unknown topic kind %q", topic.Kind)
	}
	q += ` ORDER BY seq ASC`

	rows, err := s.query(ctx, s.db, q, args...)
	if err != nil {
		return nil, apperr.Unavailable(err, "events since")
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, apperr.Unavailable(err, "events since: scan")
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CompactEvents drops events recorded before the cutoff, always keeping the
// newest one so the head never moves backwards, and raises the floor.
func (s *Store) CompactEvents(ctx context.Context, before time.Time) (int64, error) {
	var removed int64
	err := s.write(ctx, "compact_events", func(tx *sql.Tx) ([]model.Event, error) {
		var upTo sql.NullInt64
		row := s.queryRow(ctx, tx, `SELECT MAX(seq) FROM events WHERE at < ? AND seq < (SELECT MAX(seq) FROM events)`,
			millis(before))
		if err := row.Scan(&upTo); err != nil {
			return nil, apperr.Unavailable(err, "compact: bound")
		}
		if !upTo.Valid {
			return nil, nil
		}
		res, err := s.exec(ctx, tx, `DELETE FROM events WHERE seq <= ?`, upTo.Int64)
		if err != nil {
			return nil, apperr.Unavailable(err, "compact: delete")
		}
		removed, _ = res.RowsAffected()

		_, err = s.exec(ctx, tx, `INSERT INTO meta (name, val) VALUES (?, ?)
			ON CONFLICT (name) DO UPDATE SET val = CASE WHEN excluded.val > meta.val THEN excluded.val ELSE meta.val END`,
			floorKey, upTo.Int64)
		if err != nil {
			return nil, apperr.Unavailable(err, "compact: floor")
		}
		return nil, nil
	})
	return removed, err
}

package sqlstore

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/ageniuscoder/internchat/backend/internal/apperr"
	"github.com/ageniuscoder/internchat/backend/internal/delivery"
	"github.com/ageniuscoder/internchat/backend/internal/model"
)

const messageColumns = `id, client_id, sender_id, receiver_id, content_kind, content_text,
	content_url, content_name, status, reactions, version, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (model.Message, error) {
	var (
		m         model.Message
		kind      string
		status    int64
		reactions string
		created   int64
	)
	err := row.Scan(&m.ID, &m.ClientID, &m.SenderID, &m.ReceiverID, &kind, &m.Content.Text,
		&m.Content.URL, &m.Content.Name, &status, &reactions, &m.Version, &created)
	if err != nil {
		return m, err
	}
	m.Content.Kind = model.ContentKind(kind)
	m.Status = model.Status(status)
	m.CreatedAt = fromMillis(created)
	m.Reactions = model.Reactions{}
	if reactions != "" {
		if err := json.Unmarshal([]byte(reactions), &m.Reactions); err != nil {
			return m, errors.Wrapf(err, "decode reactions of message %d", m.ID)
		}
	}
	return m, nil
}

func encodeReactions(r model.Reactions) (string, error) {
	b, err := json.Marshal(r.Normalize())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Store) getMessage(ctx context.Context, q queryer, id int64) (model.Message, error) {
	row := s.queryRow(ctx, q, `SELECT `+messageColumns+` FROM messages WHERE id=?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return m, errors.Wrapf(apperr.ErrNotFound, "message %d", id)
	}
	if err != nil {
		return m, apperr.Unavailable(err, "get message")
	}
	return m, nil
}

// Get returns one message by id.
func (s *Store) Get(ctx context.Context, id int64) (model.Message, error) {
	return s.getMessage(ctx, s.db, id)
}

// Append durably stores a new message from sender to receiver in the
// status the delivery lifecycle starts at and emits an inserted event. A repeated clientID from the same sender
// returns the stored message and emits nothing.
func (s *Store) Append(ctx context.Context, sender, receiver string, content model.Content, clientID string) (model.Message, error) {
	var out model.Message
	if sender == "" || receiver == "" || sender == receiver {
		return out, errors.Wrapf(apperr.ErrInvalidPeer, "sender %q receiver %q", sender, receiver)
	}
	if err := content.Validate(); err != nil {
		return out, errors.Wrap(apperr.ErrInvalidContent, err.Error())
	}

	err := s.write(ctx, "append", func(tx *sql.Tx) ([]model.Event, error) {
		if clientID != "" {
			row := s.queryRow(ctx, tx, `SELECT `+messageColumns+` FROM messages WHERE sender_id=? AND client_id=?`, sender, clientID)
			existing, err := scanMessage(row)
			if err == nil {
				out = existing
				return nil, nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return nil, apperr.Unavailable(err, "append: lookup client id")
			}
		}

		var known int
		row := s.queryRow(ctx, tx, `SELECT COUNT(1) FROM participants WHERE id IN (?, ?)`, sender, receiver)
		if err := row.Scan(&known); err != nil {
			return nil, apperr.Unavailable(err, "append: check participants")
		}
		if known != 2 {
			return nil, errors.Wrapf(apperr.ErrInvalidPeer, "unknown participant in (%s, %s)", sender, receiver)
		}

		lo, hi := model.Pair(sender, receiver)
		m := model.Message{
			ID:         s.ids.Generate(),
			ClientID:   clientID,
			SenderID:   sender,
			ReceiverID: receiver,
			Content:    content,
			Status:     delivery.OnAppend(),
			Reactions:  model.Reactions{},
			Version:    1,
			CreatedAt:  fromMillis(millis(s.now())),
		}
		_, err := s.exec(ctx, tx, `INSERT INTO messages (id, client_id, sender_id, receiver_id, peer_lo, peer_hi,
			content_kind, content_text, content_url, content_name, status, reactions, version, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.ClientID, m.SenderID, m.ReceiverID, lo, hi,
			string(m.Content.Kind), m.Content.Text, m.Content.URL, m.Content.Name,
			int64(m.Status), "{}", m.Version, millis(m.CreatedAt))
		if err != nil {
			return nil, apperr.Unavailable(err, "append: insert")
		}

		ev, err := s.appendEvent(ctx, tx, model.EventInserted, &m, lo, hi)
		if err != nil {
			return nil, err
		}
		out = m
		return []model.Event{ev}, nil
	})
	return out, err
}

// UpdateStatus advances a message to status. Setting the current status
// again is a no-op; anything that does not move forward fails with
// ErrInvalidTransition.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status model.Status) (model.Message, error) {
	var out model.Message
	if !status.Valid() {
		return out, errors.Wrapf(apperr.ErrInvalidTransition, "unknown status %d", status)
	}
	err := s.write(ctx, "update_status", func(tx *sql.Tx) ([]model.Event, error) {
		res, err := s.exec(ctx, tx, `UPDATE messages SET status=?, version=version+1 WHERE id=? AND status<?`,
			int64(status), id, int64(status))
		if err != nil {
			return nil, apperr.Unavailable(err, "update status")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, apperr.Unavailable(err, "update status: rows affected")
		}

		m, err := s.getMessage(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out = m
		if n == 0 {
			if m.Status == status {
				return nil, nil
			}
			return nil, errors.Wrapf(apperr.ErrInvalidTransition, "message %d: %s -> %s", id, m.Status, status)
		}

		lo, hi := model.Pair(m.SenderID, m.ReceiverID)
		ev, err := s.appendEvent(ctx, tx, model.EventUpdated, &m, lo, hi)
		if err != nil {
			return nil, err
		}
		return []model.Event{ev}, nil
	})
	return out, err
}

// UpdateReactions replaces the whole reaction map of a message.
func (s *Store) UpdateReactions(ctx context.Context, id int64, reactions model.Reactions) (model.Message, error) {
	return s.setReactions(ctx, id, -1, reactions)
}

// SwapReactions replaces the reaction map only if the message is still at
// expectedVersion, failing with ErrVersionConflict otherwise.
func (s *Store) SwapReactions(ctx context.Context, id, expectedVersion int64, reactions model.Reactions) (model.Message, error) {
	return s.setReactions(ctx, id, expectedVersion, reactions)
}

func (s *Store) setReactions(ctx context.Context, id, expectedVersion int64, reactions model.Reactions) (model.Message, error) {
	var out model.Message
	encoded, err := encodeReactions(reactions)
	if err != nil {
		return out, errors.Wrap(err, "encode reactions")
	}
	err = s.write(ctx, "update_reactions", func(tx *sql.Tx) ([]model.Event, error) {
		var res sql.Result
		var err error
		if expectedVersion < 0 {
			res, err = s.exec(ctx, tx, `UPDATE messages SET reactions=?, version=version+1 WHERE id=?`, encoded, id)
		} else {
			res, err = s.exec(ctx, tx, `UPDATE messages SET reactions=?, version=version+1 WHERE id=? AND version=?`,
				encoded, id, expectedVersion)
		}
		if err != nil {
			return nil, apperr.Unavailable(err, "update reactions")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, apperr.Unavailable(err, "update reactions: rows affected")
		}

		m, err := s.getMessage(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, errors.Wrapf(apperr.ErrVersionConflict, "message %d at version %d, expected %d", id, m.Version, expectedVersion)
		}
		out = m

		lo, hi := model.Pair(m.SenderID, m.ReceiverID)
		ev, err := s.appendEvent(ctx, tx, model.EventUpdated, &m, lo, hi)
		if err != nil {
			return nil, err
		}
		return []model.Event{ev}, nil
	})
	return out, err
}

// Page is one slice of a conversation. Next resumes right after the last
// message returned; it is set even when the page is short so a caller can
// poll the tail with it.
type Page struct {
	Messages []model.Message `json:"messages"`
	Next     string          `json:"next_cursor,omitempty"`
	HasMore  bool            `json:"has_more"`
}

type pageCursor struct {
	CreatedAt int64 `json:"t"`
	ID        int64 `json:"id,string"`
}

func encodeCursor(m model.Message) string {
	b, _ := json.Marshal(pageCursor{CreatedAt: millis(m.CreatedAt), ID: m.ID})
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(c string) (pageCursor, error) {
	var pc pageCursor
	b, err := base64.RawURLEncoding.DecodeString(c)
	if err != nil {
		return pc, errors.Wrap(err, "decode cursor")
	}
	if err := json.Unmarshal(b, &pc); err != nil {
		return pc, errors.Wrap(err, "decode cursor")
	}
	return pc, nil
}

// Query lists the conversation of the unordered pair (a, b) in
// (created_at, id) order, starting after cursor. A limit of zero or less
// returns everything.
func (s *Store) Query(ctx context.Context, a, b, cursor string, limit int) (Page, error) {
	var page Page
	lo, hi := model.Pair(a, b)

	q := `SELECT ` + messageColumns + ` FROM messages WHERE peer_lo=? AND peer_hi=?`
	args := []any{lo, hi}
	if cursor != "" {
		pc, err := decodeCursor(cursor)
		if err != nil {
			return page, err
		}
		q += ` AND (created_at > ? OR (created_at = ? AND id > ?))`
		args = append(args, pc.CreatedAt, pc.CreatedAt, pc.ID)
	}
	q += ` ORDER BY created_at ASC, id ASC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit+1)
	}

	rows, err := s.query(ctx, s.db, q, args...)
	if err != nil {
		return page, apperr.Unavailable(err, "query conversation")
	}
	defer rows.Close()

	page.Messages = make([]model.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return page, apperr.Unavailable(err, "query conversation: scan")
		}
		page.Messages = append(page.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return page, apperr.Unavailable(err, "query conversation: rows")
	}

	if limit > 0 && len(page.Messages) > limit {
		page.Messages = page.Messages[:limit]
		page.HasMore = true
	}
	if n := len(page.Messages); n > 0 {
		page.Next = encodeCursor(page.Messages[n-1])
	} else {
		page.Next = cursor
	}
	return page, nil
}

// Undelivered lists inbound messages of receiver still waiting in sent.
func (s *Store) Undelivered(ctx context.Context, receiver string) ([]model.Message, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+messageColumns+` FROM messages
		WHERE receiver_id=? AND status<? ORDER BY created_at ASC, id ASC`,
		receiver, int64(model.StatusDelivered))
	if err != nil {
		return nil, apperr.Unavailable(err, "undelivered")
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, apperr.Unavailable(err, "undelivered: scan")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PurgeConversation deletes every message of the pair together with the
// pair's change history, and leaves one purged event behind.
func (s *Store) PurgeConversation(ctx context.Context, a, b string) (int64, error) {
	var deleted int64
	lo, hi := model.Pair(a, b)
	err := s.write(ctx, "purge_conversation", func(tx *sql.Tx) ([]model.Event, error) {
		res, err := s.exec(ctx, tx, `DELETE FROM messages WHERE peer_lo=? AND peer_hi=?`, lo, hi)
		if err != nil {
			return nil, apperr.Unavailable(err, "purge conversation")
		}
		deleted, _ = res.RowsAffected()
		if _, err := s.exec(ctx, tx, `DELETE FROM events WHERE peer_lo=? AND peer_hi=?`, lo, hi); err != nil {
			return nil, apperr.Unavailable(err, "purge conversation: events")
		}
		ev, err := s.appendEvent(ctx, tx, model.EventPurged, nil, lo, hi)
		if err != nil {
			return nil, err
		}
		return []model.Event{ev}, nil
	})
	return deleted, err
}

// PurgeParticipant deletes every message the participant sent or received,
// the history of those conversations and the participant record, and records
// the id as removed so it is not recreated. One purged event is emitted per
// conversation that existed.
func (s *Store) PurgeParticipant(ctx context.Context, id string) (int64, error) {
	var deleted int64
	err := s.write(ctx, "purge_participant", func(tx *sql.Tx) ([]model.Event, error) {
		rows, err := s.query(ctx, tx, `SELECT DISTINCT peer_lo, peer_hi FROM messages WHERE peer_lo=? OR peer_hi=?`, id, id)
		if err != nil {
			return nil, apperr.Unavailable(err, "purge participant: pairs")
		}
		var pairs [][2]string
		for rows.Next() {
			var p [2]string
			if err := rows.Scan(&p[0], &p[1]); err != nil {
				rows.Close()
				return nil, apperr.Unavailable(err, "purge participant: scan")
			}
			pairs = append(pairs, p)
		}
		rows.Close()

		res, err := s.exec(ctx, tx, `DELETE FROM messages WHERE sender_id=? OR receiver_id=?`, id, id)
		if err != nil {
			return nil, apperr.Unavailable(err, "purge participant: messages")
		}
		deleted, _ = res.RowsAffected()
		if _, err := s.exec(ctx, tx, `DELETE FROM events WHERE peer_lo=? OR peer_hi=?`, id, id); err != nil {
			return nil, apperr.Unavailable(err, "purge participant: events")
		}
		if _, err := s.exec(ctx, tx, `DELETE FROM participants WHERE id=?`, id); err != nil {
			return nil, apperr.Unavailable(err, "purge participant: profile")
		}
		if _, err := s.exec(ctx, tx, `INSERT INTO removed_participants (id, removed_at) VALUES (?, ?)
			ON CONFLICT (id) DO NOTHING`, id, millis(s.now())); err != nil {
			return nil, apperr.Unavailable(err, "purge participant: tombstone")
		}

		events := make([]model.Event, 0, len(pairs))
		for _, p := range pairs {
			ev, err := s.appendEvent(ctx, tx, model.EventPurged, nil, p[0], p[1])
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
		}
		return events, nil
	})
	return deleted, err
}

// Conversations summarizes every conversation viewer takes part in, most
// recent first.
func (s *Store) Conversations(ctx context.Context, viewer string) ([]model.ConversationSummary, error) {
	rows, err := s.query(ctx, s.db, `SELECT peer_lo, peer_hi, MAX(created_at) AS last_at FROM messages
		WHERE peer_lo=? OR peer_hi=? GROUP BY peer_lo, peer_hi ORDER BY last_at DESC`, viewer, viewer)
	if err != nil {
		return nil, apperr.Unavailable(err, "conversations")
	}
	var peers []string
	for rows.Next() {
		var lo, hi string
		var lastAt int64
		if err := rows.Scan(&lo, &hi, &lastAt); err != nil {
			rows.Close()
			return nil, apperr.Unavailable(err, "conversations: scan")
		}
		if lo == viewer {
			peers = append(peers, hi)
		} else {
			peers = append(peers, lo)
		}
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, apperr.Unavailable(err, "conversations: rows")
	}

	out := make([]model.ConversationSummary, 0, len(peers))
	for _, peer := range peers {
		sum := model.ConversationSummary{Peer: model.Participant{ID: peer}}
		p, err := s.GetParticipant(ctx, peer)
		switch {
		case err == nil:
			sum.Peer = p
		case !errors.Is(err, apperr.ErrNotFound):
			return nil, err
		}

		lo, hi := model.Pair(viewer, peer)
		row := s.queryRow(ctx, s.db, `SELECT `+messageColumns+` FROM messages WHERE peer_lo=? AND peer_hi=?
			ORDER BY created_at DESC, id DESC LIMIT 1`, lo, hi)
		last, err := scanMessage(row)
		switch {
		case err == nil:
			sum.LastMessage = &last
		case !errors.Is(err, sql.ErrNoRows):
			return nil, apperr.Unavailable(err, "conversations: last message")
		}

		row = s.queryRow(ctx, s.db, `SELECT COUNT(1) FROM messages WHERE sender_id=? AND receiver_id=? AND status<?`,
			peer, viewer, int64(model.StatusRead))
		if err := row.Scan(&sum.Unread); err != nil {
			return nil, apperr.Unavailable(err, "conversations: unread")
		}
		out = append(out, sum)
	}
	return out, nil
}

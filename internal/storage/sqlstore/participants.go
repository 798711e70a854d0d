package sqlstore

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/ageniuscoder/internchat/backend/internal/apperr"
	"github.com/ageniuscoder/internchat/backend/internal/model"
)

// UpsertParticipant records or refreshes a profile from verified claims.
// The original creation time is kept. A participant that was removed stays
// removed and fails with ErrRemoved.
func (s *Store) UpsertParticipant(ctx context.Context, p model.Participant) (model.Participant, error) {
	if p.ID == "" || !p.Role.Valid() {
		return p, errors.Wrapf(apperr.ErrInvalidPeer, "participant %q role %q", p.ID, p.Role)
	}
	var removed int
	row := s.queryRow(ctx, s.db, `SELECT COUNT(1) FROM removed_participants WHERE id=?`, p.ID)
	if err := row.Scan(&removed); err != nil {
		return p, apperr.Unavailable(err, "upsert participant: removed")
	}
	if removed > 0 {
		return p, errors.Wrapf(apperr.ErrRemoved, "participant %s", p.ID)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	_, err := s.exec(ctx, s.db, `INSERT INTO participants (id, role, full_name, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET role=excluded.role, full_name=excluded.full_name`,
		p.ID, string(p.Role), p.FullName, millis(p.CreatedAt))
	if err != nil {
		return p, apperr.Unavailable(err, "upsert participant")
	}
	return s.GetParticipant(ctx, p.ID)
}

func (s *Store) GetParticipant(ctx context.Context, id string) (model.Participant, error) {
	var (
		p       model.Participant
		role    string
		created int64
	)
	row := s.queryRow(ctx, s.db, `SELECT id, role, full_name, created_at FROM participants WHERE id=?`, id)
	err := row.Scan(&p.ID, &role, &p.FullName, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return p, errors.Wrapf(apperr.ErrNotFound, "participant %s", id)
	}
	if err != nil {
		return p, apperr.Unavailable(err, "get participant")
	}
	p.Role = model.Role(role)
	p.CreatedAt = fromMillis(created)
	return p, nil
}

// ListParticipants returns the profiles with the given role, or every
// profile when role is empty, ordered by name. A non-empty name keeps only
// profiles whose full name contains it, ignoring case.
func (s *Store) ListParticipants(ctx context.Context, role model.Role, name string) ([]model.Participant, error) {
	q := `SELECT id, role, full_name, created_at FROM participants WHERE 1=1`
	var args []any
	if role != "" {
		q += ` AND role=?`
		args = append(args, string(role))
	}
	if name != "" {
		q += ` AND LOWER(full_name) LIKE ?`
		args = append(args, "%"+strings.ToLower(name)+"%")
	}
	q += ` ORDER BY full_name ASC, id ASC`

	rows, err := s.query(ctx, s.db, q, args...)
	if err != nil {
		return nil, apperr.Unavailable(err, "list participants")
	}
	defer rows.Close()

	out := make([]model.Participant, 0)
	for rows.Next() {
		var p model.Participant
		var r string
		var created int64
		if err := rows.Scan(&p.ID, &r, &p.FullName, &created); err != nil {
			return nil, apperr.Unavailable(err, "list participants: scan")
		}
		p.Role = model.Role(r)
		p.CreatedAt = fromMillis(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

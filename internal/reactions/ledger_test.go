package reactions

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ageniuscoder/internchat/backend/internal/apperr"
	"github.com/ageniuscoder/internchat/backend/internal/logging"
	"github.com/ageniuscoder/internchat/backend/internal/model"
	"github.com/ageniuscoder/internchat/backend/internal/snowflake"
	"github.com/ageniuscoder/internchat/backend/internal/storage/sqlite"
	"github.com/ageniuscoder/internchat/backend/internal/storage/sqlstore"
)

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	conn, err := sqlite.New("file:" + filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.Migrate())
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	s := sqlstore.New(conn.Db, sqlstore.SQLite, node, logging.Discard())

	ctx := context.Background()
	for _, p := range []model.Participant{
		{ID: "admin", Role: model.RoleAdmin},
		{ID: "alice", Role: model.RoleIntern},
	} {
		_, err := s.UpsertParticipant(ctx, p)
		require.NoError(t, err)
	}
	return s
}

func TestToggleTwiceRestores(t *testing.T) {
	s := newStore(t)
	l := NewLedger(s, logging.Discard())
	ctx := context.Background()

	m, err := s.Append(ctx, "admin", "alice", model.Text("hi"), "")
	require.NoError(t, err)

	on, err := l.Toggle(ctx, m.ID, "👍", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.Reactions{"👍": {"alice"}}, on.Reactions)

	off, err := l.Toggle(ctx, m.ID, "👍", "alice")
	require.NoError(t, err)
	assert.Empty(t, off.Reactions)
	assert.Greater(t, off.Version, on.Version)
}

func TestConcurrentTogglesBothPersist(t *testing.T) {
	s := newStore(t)
	l := NewLedger(s, logging.Discard())
	ctx := context.Background()

	m, err := s.Append(ctx, "admin", "alice", model.Text("vote"), "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, actor := range []string{"admin", "alice"} {
		wg.Add(1)
		go func(i int, actor string) {
			defer wg.Done()
			_, errs[i] = l.Toggle(ctx, m.ID, "🎉", actor)
		}(i, actor)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "alice"}, got.Reactions["🎉"])
}

// racingStore loses the first n swaps to a concurrent writer.
type racingStore struct {
	msg   model.Message
	loses int
	swaps int
}

func (r *racingStore) Get(context.Context, int64) (model.Message, error) { return r.msg.Clone(), nil }

func (r *racingStore) SwapReactions(_ context.Context, _ int64, version int64, next model.Reactions) (model.Message, error) {
	r.swaps++
	if r.loses > 0 {
		r.loses--
		r.msg.Reactions = r.msg.Reactions.Toggle("🔥", "bob")
		r.msg.Version++
		return r.msg, errors.Wrap(apperr.ErrVersionConflict, "raced")
	}
	if version != r.msg.Version {
		return r.msg, apperr.ErrVersionConflict
	}
	r.msg.Reactions = next
	r.msg.Version++
	return r.msg, nil
}

func TestToggleRetriesOnConflict(t *testing.T) {
	store := &racingStore{msg: model.Message{ID: 1, Version: 1, Reactions: model.Reactions{}}, loses: 1}
	l := NewLedger(store, logging.Discard())

	m, err := l.Toggle(context.Background(), 1, "👍", "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, store.swaps)
	assert.Equal(t, model.Reactions{"👍": {"alice"}, "🔥": {"bob"}}, m.Reactions, "the concurrent writer's toggle is kept")
}

func TestToggleGivesUp(t *testing.T) {
	store := &racingStore{msg: model.Message{ID: 1, Version: 1}, loses: 100}
	l := NewLedger(store, logging.Discard())

	_, err := l.Toggle(context.Background(), 1, "👍", "alice")
	assert.True(t, errors.Is(err, apperr.ErrVersionConflict))
	assert.Equal(t, defaultAttempts, store.swaps)
}

func TestToggleRejectsNonEmoji(t *testing.T) {
	l := NewLedger(&racingStore{}, logging.Discard())
	_, err := l.Toggle(context.Background(), 1, "lol", "alice")
	assert.True(t, errors.Is(err, apperr.ErrInvalidContent))
}

package session

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ageniuscoder/internchat/backend/internal/apperr"
	"github.com/ageniuscoder/internchat/backend/internal/chat"
	"github.com/ageniuscoder/internchat/backend/internal/delivery"
	"github.com/ageniuscoder/internchat/backend/internal/logging"
	"github.com/ageniuscoder/internchat/backend/internal/model"
	"github.com/ageniuscoder/internchat/backend/internal/presence"
	"github.com/ageniuscoder/internchat/backend/internal/reactions"
	"github.com/ageniuscoder/internchat/backend/internal/snowflake"
	"github.com/ageniuscoder/internchat/backend/internal/storage/sqlite"
	"github.com/ageniuscoder/internchat/backend/internal/storage/sqlstore"
)

const (
	waitFor = 3 * time.Second
	tick    = 20 * time.Millisecond
)

var (
	admin = model.Participant{ID: "admin", Role: model.RoleAdmin, FullName: "Nikunj"}
	alice = model.Participant{ID: "alice", Role: model.RoleIntern, FullName: "Alice"}
	bob   = model.Participant{ID: "bob", Role: model.RoleIntern, FullName: "Bob"}
)

type harness struct {
	t     *testing.T
	store *sqlstore.Store
	deps  *Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn, err := sqlite.New("file:" + filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	require.NoError(t, conn.Migrate())

	log := logging.Discard()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	store := sqlstore.New(conn.Db, sqlstore.SQLite, node, log)
	hub := chat.NewHub(store, log, nil, 64)
	store.SetPublisher(hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		conn.Close()
	})

	for _, p := range []model.Participant{admin, alice, bob} {
		_, err := store.UpsertParticipant(context.Background(), p)
		require.NoError(t, err)
	}

	return &harness{
		t:     t,
		store: store,
		deps: &Deps{
			Store:     store,
			Hub:       hub,
			Tracker:   delivery.NewTracker(store, log, nil),
			Ledger:    reactions.NewLedger(store, log),
			Presence:  presence.NewMemory(),
			Log:       log,
			ReadWatch: 50 * time.Millisecond,
		},
	}
}

func (h *harness) viewer(self model.Participant) (*Viewer, *recorder) {
	rec := &recorder{}
	v := NewViewer(h.deps, self, rec.sink)
	v.Start(context.Background())
	h.t.Cleanup(v.Close)
	return v, rec
}

func (h *harness) status(id int64) model.Status {
	m, err := h.store.Get(context.Background(), id)
	require.NoError(h.t, err)
	return m.Status
}

type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) sink(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder) count(match func(Update) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.updates {
		if match(u) {
			n++
		}
	}
	return n
}

func (r *recorder) readIDs() map[int64]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[int64]bool{}
	for _, u := range r.updates {
		if u.Kind == UpdateMessage && u.Message != nil && u.Message.Status == model.StatusRead {
			out[u.Message.ID] = true
		}
	}
	return out
}

func TestOpeningConversationReadsAllUnread(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	aliceV, aliceRec := h.viewer(alice)
	require.NoError(t, aliceV.SelectConversation(ctx, "admin"))

	var ids []int64
	for i := 0; i < 5; i++ {
		m, err := aliceV.Send(ctx, model.Text("question"))
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	adminV, _ := h.viewer(admin)
	require.NoError(t, adminV.SelectConversation(ctx, "alice"))

	require.Eventually(t, func() bool {
		for _, id := range ids {
			if h.status(id) != model.StatusRead {
				return false
			}
		}
		return true
	}, waitFor, tick)

	require.Eventually(t, func() bool {
		seen := aliceRec.readIDs()
		for _, id := range ids {
			if !seen[id] {
				return false
			}
		}
		return true
	}, waitFor, tick, "the sender observes every read")

	for _, m := range aliceV.Messages() {
		assert.Equal(t, model.StatusRead, m.Status)
	}
	assert.Len(t, adminV.Messages(), 5)
}

func TestInboxDeliversWhileConversationClosed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	adminV, adminRec := h.viewer(admin)
	aliceV, _ := h.viewer(alice)
	require.NoError(t, aliceV.SelectConversation(ctx, "admin"))

	m, err := aliceV.Send(ctx, model.Text("are you there?"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.status(m.ID) == model.StatusDelivered }, waitFor, tick)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, model.StatusDelivered, h.status(m.ID), "not read until opened")
	assert.Positive(t, adminRec.count(func(u Update) bool { return u.Kind == UpdateInbox && u.Peer == "alice" }))

	require.NoError(t, adminV.SelectConversation(ctx, "alice"))
	require.Eventually(t, func() bool { return h.status(m.ID) == model.StatusRead }, waitFor, tick)
}

func TestInboxCatchesUpOnStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	m, err := h.store.Append(ctx, "alice", "admin", model.Text("sent while you were away"), "")
	require.NoError(t, err)

	h.viewer(admin)
	require.Eventually(t, func() bool { return h.status(m.ID) == model.StatusDelivered }, waitFor, tick)
}

func TestNewMessageFromActivePeerIsReadAtOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	adminV, _ := h.viewer(admin)
	require.NoError(t, adminV.SelectConversation(ctx, "alice"))

	m, err := h.store.Append(ctx, "alice", "admin", model.Text("hello"), "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.status(m.ID) == model.StatusRead }, waitFor, tick)
	require.Eventually(t, func() bool {
		msgs := adminV.Messages()
		return len(msgs) == 1 && msgs[0].Status == model.StatusRead
	}, waitFor, tick)
}

func TestOptimisticSendIsReconciled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	aliceV, rec := h.viewer(alice)
	require.NoError(t, aliceV.SelectConversation(ctx, "admin"))

	m, err := aliceV.Send(ctx, model.ParseContent("[IMAGE] https://x/y.png"))
	require.NoError(t, err)
	assert.Equal(t, model.KindImage, m.Content.Kind)
	assert.NotEmpty(t, m.ClientID)

	assert.Equal(t, 1, rec.count(func(u Update) bool {
		return u.Kind == UpdateMessage && u.Message.Provisional() && u.Message.ClientID == m.ClientID &&
			u.Message.Status == model.StatusPending
	}))

	// the echo from the subscription must not add a second entry
	time.Sleep(100 * time.Millisecond)
	msgs := aliceV.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, m.ID, msgs[0].ID)
	assert.False(t, msgs[0].Provisional())
}

type failingAppend struct {
	Store
}

func (failingAppend) Append(context.Context, string, string, model.Content, string) (model.Message, error) {
	return model.Message{}, apperr.Unavailable(errors.New("connection refused"), "append")
}

func TestFailedSendWithdrawsDraft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deps.Store = failingAppend{Store: h.store}

	aliceV, rec := h.viewer(alice)
	require.NoError(t, aliceV.SelectConversation(ctx, "admin"))

	_, err := aliceV.Send(ctx, model.Text("lost"))
	assert.True(t, errors.Is(err, apperr.ErrStorageUnavailable))
	assert.Empty(t, aliceV.Messages())
	assert.Equal(t, 1, rec.count(func(u Update) bool { return u.Kind == UpdateRemoved }))
	assert.Equal(t, 1, rec.count(func(u Update) bool { return u.Kind == UpdateNotice }))
}

func TestSwitchingPeersDiscardsState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.store.Append(ctx, "alice", "admin", model.Text("from alice"), "")
	require.NoError(t, err)
	fromBob, err := h.store.Append(ctx, "bob", "admin", model.Text("from bob"), "")
	require.NoError(t, err)

	adminV, _ := h.viewer(admin)
	require.NoError(t, adminV.SelectConversation(ctx, "alice"))
	require.Len(t, adminV.Messages(), 1)

	require.NoError(t, adminV.SelectConversation(ctx, "bob"))
	msgs := adminV.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, fromBob.ID, msgs[0].ID)
	assert.Equal(t, "bob", adminV.ActivePeer())

	late, err := h.store.Append(ctx, "alice", "admin", model.Text("still there?"), "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.status(late.ID) == model.StatusDelivered }, waitFor, tick)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, adminV.Messages(), 1)
	assert.Equal(t, model.StatusDelivered, h.status(late.ID))

	require.NoError(t, adminV.SelectConversation(ctx, ""))
	assert.Empty(t, adminV.Messages())
	assert.Equal(t, "", adminV.ActivePeer())
}

// flakyStatus fails the first n status writes.
type flakyStatus struct {
	delivery.StatusStore
	failures atomic.Int32
}

func (f *flakyStatus) UpdateStatus(ctx context.Context, id int64, status model.Status) (model.Message, error) {
	if f.failures.Add(-1) >= 0 {
		return model.Message{}, apperr.Unavailable(errors.New("timeout"), "update status")
	}
	return f.StatusStore.UpdateStatus(ctx, id, status)
}

func TestReadWatcherRetriesFailedTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	m, err := h.store.Append(ctx, "alice", "admin", model.Text("retry me"), "")
	require.NoError(t, err)
	_, err = h.store.UpdateStatus(ctx, m.ID, model.StatusDelivered)
	require.NoError(t, err)

	flaky := &flakyStatus{StatusStore: h.store}
	flaky.failures.Store(3)
	h.deps.Tracker = delivery.NewTracker(flaky, logging.Discard(), nil)

	adminV, _ := h.viewer(admin)
	require.NoError(t, adminV.SelectConversation(ctx, "alice"))
	require.Eventually(t, func() bool { return h.status(m.ID) == model.StatusRead }, waitFor, tick)
}

func TestRolePolicy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	aliceV, _ := h.viewer(alice)
	err := aliceV.SelectConversation(ctx, "bob")
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	err = aliceV.SelectConversation(ctx, "nobody")
	assert.True(t, errors.Is(err, apperr.ErrInvalidPeer))
	assert.True(t, errors.Is(aliceV.ClearConversation(ctx, "admin"), apperr.ErrForbidden))
	assert.True(t, errors.Is(aliceV.DeleteParticipant(ctx, "bob"), apperr.ErrForbidden))

	_, err = aliceV.Send(ctx, model.Text("nobody is listening"))
	assert.True(t, errors.Is(err, apperr.ErrInvalidPeer))
	_, err = aliceV.Send(ctx, model.Text(""))
	assert.True(t, errors.Is(err, apperr.ErrInvalidContent))
}

func TestSendRateLimit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deps.SendRate = rate.Every(time.Hour)
	h.deps.SendBurst = 2

	aliceV, _ := h.viewer(alice)
	require.NoError(t, aliceV.SelectConversation(ctx, "admin"))
	for i := 0; i < 2; i++ {
		_, err := aliceV.Send(ctx, model.Text("spam"))
		require.NoError(t, err)
	}
	_, err := aliceV.Send(ctx, model.Text("spam"))
	assert.True(t, errors.Is(err, apperr.ErrRateLimited))
}

func TestClearConversationReachesOpenSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	adminV, _ := h.viewer(admin)
	aliceV, aliceRec := h.viewer(alice)
	require.NoError(t, aliceV.SelectConversation(ctx, "admin"))
	require.NoError(t, adminV.SelectConversation(ctx, "alice"))

	_, err := aliceV.Send(ctx, model.Text("one"))
	require.NoError(t, err)
	_, err = adminV.Send(ctx, model.Text("two"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(aliceV.Messages()) == 2 }, waitFor, tick)

	require.NoError(t, adminV.ClearConversation(ctx, "alice"))
	require.Eventually(t, func() bool { return len(aliceV.Messages()) == 0 }, waitFor, tick)
	require.Eventually(t, func() bool { return len(adminV.Messages()) == 0 }, waitFor, tick)
	assert.Positive(t, aliceRec.count(func(u Update) bool { return u.Kind == UpdateCleared && u.Peer == "admin" }))
}

func TestDeleteParticipant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.store.Append(ctx, "alice", "admin", model.Text("bye"), "")
	require.NoError(t, err)

	adminV, _ := h.viewer(admin)
	require.NoError(t, adminV.SelectConversation(ctx, "alice"))
	require.NoError(t, adminV.DeleteParticipant(ctx, "alice"))

	assert.Equal(t, "", adminV.ActivePeer())
	_, err = h.store.GetParticipant(ctx, "alice")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.True(t, errors.Is(adminV.DeleteParticipant(ctx, "alice"), apperr.ErrNotFound))
	assert.True(t, errors.Is(adminV.DeleteParticipant(ctx, "admin"), apperr.ErrInvalidPeer))
}

func TestToggleReactionReachesPeer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	adminV, _ := h.viewer(admin)
	aliceV, _ := h.viewer(alice)
	bobV, _ := h.viewer(bob)
	require.NoError(t, adminV.SelectConversation(ctx, "alice"))
	require.NoError(t, aliceV.SelectConversation(ctx, "admin"))

	m, err := adminV.Send(ctx, model.Text("ship it?"))
	require.NoError(t, err)

	got, err := aliceV.ToggleReaction(ctx, m.ID, "👍")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, got.Reactions["👍"])

	require.Eventually(t, func() bool {
		for _, msg := range adminV.Messages() {
			if msg.ID == m.ID && msg.Reactions.Has("👍", "alice") {
				return true
			}
		}
		return false
	}, waitFor, tick)

	_, err = bobV.ToggleReaction(ctx, m.ID, "👍")
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "outsiders cannot see the message")
}

func TestCloseStopsEverything(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	adminV := NewViewer(h.deps, admin, nil)
	adminV.Start(ctx)
	require.NoError(t, adminV.SelectConversation(ctx, "alice"))

	online, err := h.deps.Presence.IsOnline(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, online)

	adminV.Close()
	adminV.Close()
	online, err = h.deps.Presence.IsOnline(ctx, "admin")
	require.NoError(t, err)
	assert.False(t, online)

	m, err := h.store.Append(ctx, "alice", "admin", model.Text("anyone?"), "")
	require.NoError(t, err)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, model.StatusSent, h.status(m.ID))
}

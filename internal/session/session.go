// Package session holds what one logged-in viewer sees: the open
// conversation with its read watcher and optimistic sends, and the
// viewer-wide inbox that marks inbound messages delivered. Each async
// completion checks the generation it was started under and is dropped if
// the viewer has moved on.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ageniuscoder/internchat/backend/internal/attachments"
	"github.com/ageniuscoder/internchat/backend/internal/chat"
	"github.com/ageniuscoder/internchat/backend/internal/delivery"
	"github.com/ageniuscoder/internchat/backend/internal/model"
	"github.com/ageniuscoder/internchat/backend/internal/presence"
	"github.com/ageniuscoder/internchat/backend/internal/reactions"
	"github.com/ageniuscoder/internchat/backend/internal/storage/sqlstore"
)

// Store is the part of the message store a session reads and writes.
type Store interface {
	Append(ctx context.Context, sender, receiver string, content model.Content, clientID string) (model.Message, error)
	Get(ctx context.Context, id int64) (model.Message, error)
	Query(ctx context.Context, a, b, cursor string, limit int) (sqlstore.Page, error)
	Head(ctx context.Context) (int64, error)
	Undelivered(ctx context.Context, receiver string) ([]model.Message, error)
	PurgeConversation(ctx context.Context, a, b string) (int64, error)
	PurgeParticipant(ctx context.Context, id string) (int64, error)
	GetParticipant(ctx context.Context, id string) (model.Participant, error)
}

// Deps are the process-wide services every viewer session shares.
type Deps struct {
	Store    Store
	Hub      *chat.Hub
	Tracker  *delivery.Tracker
	Ledger   *reactions.Ledger
	Uploader *attachments.Uploader
	Presence presence.Tracker
	Log      *logrus.Entry

	ReadWatch time.Duration
	SendRate  rate.Limit
	SendBurst int
}

func (d *Deps) readWatch() time.Duration {
	if d.ReadWatch <= 0 {
		return 3 * time.Second
	}
	return d.ReadWatch
}

const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 5 * time.Second
)

func nextBackoff(b time.Duration) time.Duration {
	b *= 2
	if b > maxBackoff {
		return maxBackoff
	}
	return b
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// marker issues status transitions for one viewer and remembers what the
// store confirmed, so the conversation and the inbox reacting to the same
// event do not both write.
type marker struct {
	tracker *delivery.Tracker

	mu   sync.Mutex
	done map[int64]model.Status
}

func newMarker(t *delivery.Tracker) *marker {
	return &marker{tracker: t, done: make(map[int64]model.Status)}
}

// mark advances id to target. ok is false when a previous call already got
// it there.
func (mk *marker) mark(ctx context.Context, id int64, target model.Status) (m model.Message, ok bool, err error) {
	mk.mu.Lock()
	if s, seen := mk.done[id]; seen && !s.Before(target) {
		mk.mu.Unlock()
		return m, false, nil
	}
	mk.mu.Unlock()

	m, err = mk.tracker.Advance(ctx, id, target)
	if err != nil {
		return m, false, err
	}
	mk.mu.Lock()
	if m.Status.Before(target) {
		// concurrently deleted or never stored; let the next sweep retry
		mk.mu.Unlock()
		return m, false, nil
	}
	if cur := mk.done[id]; cur.Before(m.Status) {
		mk.done[id] = m.Status
	}
	mk.mu.Unlock()
	return m, true, nil
}

// markAll advances every id in ids to target in one batch and returns the
// records that reached it. Ids a previous call already got there are skipped.
// The first storage failure is returned; the remaining ids are still tried.
func (mk *marker) markAll(ctx context.Context, ids []int64, target model.Status) ([]model.Message, error) {
	mk.mu.Lock()
	todo := make([]int64, 0, len(ids))
	for _, id := range ids {
		if s, seen := mk.done[id]; seen && !s.Before(target) {
			continue
		}
		todo = append(todo, id)
	}
	mk.mu.Unlock()
	if len(todo) == 0 {
		return nil, nil
	}

	written, err := mk.tracker.AdvanceAll(ctx, todo, target)
	out := make([]model.Message, 0, len(written))
	mk.mu.Lock()
	for _, m := range written {
		if m.Status.Before(target) {
			continue
		}
		if cur := mk.done[m.ID]; cur.Before(m.Status) {
			mk.done[m.ID] = m.Status
		}
		out = append(out, m)
	}
	mk.mu.Unlock()
	return out, err
}

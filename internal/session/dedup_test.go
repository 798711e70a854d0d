package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ageniuscoder/internchat/backend/internal/delivery"
	"github.com/ageniuscoder/internchat/backend/internal/logging"
	"github.com/ageniuscoder/internchat/backend/internal/model"
)

func TestAppliedForgetsOldestKey(t *testing.T) {
	a := newApplied()
	k := model.DedupKey{MessageID: 1, Kind: model.EventUpdated, Status: model.StatusRead, Version: 2}
	assert.True(t, a.first(k))
	assert.False(t, a.first(k))

	for i := 0; i < dedupWindow; i++ {
		a.first(model.DedupKey{MessageID: int64(100 + i), Kind: model.EventInserted})
	}
	assert.True(t, a.first(k), "pushed out of the window")
	assert.Len(t, a.keys, dedupWindow)
}

func TestInboxAppliesRepeatedChangeOnce(t *testing.T) {
	log := logging.Discard()
	deps := &Deps{Tracker: delivery.NewTracker(nil, log, nil), Log: log}
	rec := &recorder{}
	in := newInbox("admin", deps, newMarker(deps.Tracker), rec.sink, func() string { return "" })

	m := model.Message{ID: 7, SenderID: "admin", ReceiverID: "alice", Status: model.StatusDelivered, Version: 2}
	ctx := context.Background()
	in.apply(ctx, model.Event{Seq: 4, Kind: model.EventUpdated, Message: &m})
	in.apply(ctx, model.Event{Seq: 5, Kind: model.EventUpdated, Message: &m})

	reacted := m
	reacted.Version = 3
	reacted.Reactions = model.Reactions{"👍": {"alice"}}
	in.apply(ctx, model.Event{Seq: 6, Kind: model.EventUpdated, Message: &reacted})

	inbox := func(u Update) bool { return u.Kind == UpdateInbox }
	assert.Equal(t, 2, rec.count(inbox), "the same change is applied once; a newer version is not")
}

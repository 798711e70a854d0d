package session

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ageniuscoder/internchat/backend/internal/chat"
	"github.com/ageniuscoder/internchat/backend/internal/delivery"
	"github.com/ageniuscoder/internchat/backend/internal/model"
)

// Inbox follows every conversation of one viewer, whichever is open, and
// moves inbound messages to delivered, or to read when they come from the
// active peer.
type Inbox struct {
	viewer string
	deps   *Deps
	mark   *marker
	sink   Sink
	log    *logrus.Entry
	// active reports the peer of the open conversation.
	active func() string

	cursor int64
	seen   *applied
}

func newInbox(viewer string, deps *Deps, mark *marker, sink Sink, active func() string) *Inbox {
	return &Inbox{
		viewer: viewer,
		deps:   deps,
		mark:   mark,
		sink:   sink,
		log:    deps.Log.WithFields(logrus.Fields{"viewer": viewer, "part": "inbox"}),
		active: active,
		seen:   newApplied(),
	}
}

// Run marks what arrived while the viewer was away, then follows the viewer
// topic until ctx ends.
func (in *Inbox) Run(ctx context.Context) {
	backoff := minBackoff
	for {
		head, err := in.deps.Store.Head(ctx)
		if err == nil {
			err = in.catchUp(ctx)
		}
		if err == nil {
			in.cursor = head
			break
		}
		if ctx.Err() != nil {
			return
		}
		in.log.WithError(err).Warn("inbox start failed")
		if !sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}

	backoff = minBackoff
	for {
		sub, err := in.deps.Hub.Subscribe(ctx, in.viewer, model.ViewerTopic(in.viewer), in.cursor)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			in.log.WithError(err).Warn("subscribe failed")
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		for ev := range sub.Events() {
			in.apply(ctx, ev)
			backoff = minBackoff
		}

		err = sub.Err()
		if ctx.Err() != nil || err == nil || errors.Is(err, chat.ErrReplaced) {
			return
		}
		in.log.WithError(err).WithField("cursor", in.cursor).Info("inbox subscription lost, reconnecting")
		if !sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

// catchUp marks every inbound message still waiting in sent.
func (in *Inbox) catchUp(ctx context.Context) error {
	msgs, err := in.deps.Store.Undelivered(ctx, in.viewer)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		in.observe(ctx, m)
	}
	return nil
}

func (in *Inbox) apply(ctx context.Context, ev model.Event) {
	if ev.Seq <= in.cursor {
		return
	}
	in.cursor = ev.Seq

	switch ev.Kind {
	case model.EventInserted, model.EventUpdated:
		if !in.seen.first(ev.DedupKey()) {
			return
		}
		m := ev.Message.Clone()
		in.sink(Update{Kind: UpdateInbox, Peer: m.Peer(in.viewer), Message: &m})
		in.observe(ctx, m)
	case model.EventPurged:
		peer := ev.PeerLo
		if peer == in.viewer {
			peer = ev.PeerHi
		}
		in.sink(Update{Kind: UpdateCleared, Peer: peer})
	case model.EventReset:
		if err := in.catchUp(ctx); err != nil {
			in.log.WithError(err).Warn("catch-up after reset failed")
		}
	}
}

func (in *Inbox) observe(ctx context.Context, m model.Message) {
	target, ok := delivery.ForObserver(in.viewer, in.active(), m)
	if !ok {
		return
	}
	if _, _, err := in.mark.mark(ctx, m.ID, target); err != nil {
		// the conversation sweep or the next start retries
		in.log.WithError(err).WithFields(logrus.Fields{"message_id": m.ID, "target": target}).
			Debug("inbox transition failed")
	}
}

package chat

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ageniuscoder/internchat/backend/internal/model"
)

// FromHead subscribes to live events only, skipping replay.
const FromHead int64 = -1

// ErrReplaced ends a subscription that a newer one for the same viewer and
// topic took over. It is not worth reconnecting after.
var ErrReplaced = errors.New("subscription replaced")

// EventSource is the durable change log subscriptions catch up from.
type EventSource interface {
	Head(ctx context.Context) (int64, error)
	Floor(ctx context.Context) (int64, error)
	EventsSince(ctx context.Context, topic model.Topic, after, upTo int64) ([]model.Event, error)
}

type registration struct {
	sub  *Subscription
	head chan int64
}

// Hub fans committed store events out to live subscriptions. A single
// goroutine (Run) owns the subscription table and the head position, so an
// event is either in a new subscription's replay range or delivered to it
// live, never neither.
type Hub struct {
	src     EventSource
	log     *logrus.Entry
	metrics *Metrics
	buffer  int

	register   chan registration
	unregister chan *Subscription
	publish    chan model.Event

	started chan struct{}
	done    chan struct{}
	once    sync.Once

	// owned by Run
	head int64
	subs map[string]*Subscription
}

func NewHub(src EventSource, log *logrus.Entry, metrics *Metrics, buffer int) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Hub{
		src:        src,
		log:        log,
		metrics:    metrics,
		buffer:     buffer,
		register:   make(chan registration),
		unregister: make(chan *Subscription),
		publish:    make(chan model.Event, 1024),
		started:    make(chan struct{}),
		done:       make(chan struct{}),
		subs:       make(map[string]*Subscription),
	}
}

// Run serves the hub until ctx ends, then closes every subscription.
func (h *Hub) Run(ctx context.Context) error {
	head, err := h.src.Head(ctx)
	if err != nil {
		return errors.Wrap(err, "hub: read head")
	}
	h.head = head
	close(h.started)
	h.log.WithField("head", head).Info("hub running")

	defer func() {
		h.once.Do(func() { close(h.done) })
		for key, sub := range h.subs {
			delete(h.subs, key)
			sub.end(nil)
		}
		h.metrics.setLive(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-h.register:
			key := r.sub.Topic.Key()
			if old, ok := h.subs[key]; ok {
				old.end(ErrReplaced)
				h.log.WithFields(logrus.Fields{"topic": key, "sub": old.ID}).Debug("subscription replaced")
			}
			h.subs[key] = r.sub
			h.metrics.setLive(len(h.subs))
			r.head <- h.head
		case sub := <-h.unregister:
			key := sub.Topic.Key()
			if cur, ok := h.subs[key]; ok && cur == sub {
				delete(h.subs, key)
				h.metrics.setLive(len(h.subs))
			}
			sub.end(nil)
		case ev := <-h.publish:
			h.fanout(ev)
		}
	}
}

func (h *Hub) fanout(ev model.Event) {
	if ev.Seq > h.head {
		h.head = ev.Seq
	}
	h.metrics.published.Inc()
	for key, sub := range h.subs {
		if !sub.Topic.Matches(ev) {
			continue
		}
		select {
		case sub.live <- ev:
			h.metrics.delivered.Inc()
		default:
			// slow subscriber: drop it, it resumes from its cursor
			delete(h.subs, key)
			sub.end(errLost)
			h.metrics.dropped.Inc()
			h.metrics.setLive(len(h.subs))
			h.log.WithFields(logrus.Fields{"topic": key, "sub": sub.ID, "seq": ev.Seq}).
				Warn("dropped slow subscriber")
		}
	}
}

// Publish hands a committed event to the hub. It is the store's publisher
// and must be called in log order.
func (h *Hub) Publish(ev model.Event) {
	select {
	case h.publish <- ev:
	case <-h.done:
	}
}

// Subscribe opens the live subscription of viewer on topic, replacing any
// previous one with the same key. Events after cursor that are still in the
// log are replayed first; cursor FromHead skips replay. If cursor is older
// than the retained log, the first event is a reset and the caller must
// reload its state from a query. The subscription lives until Close, until
// ctx ends, or until the hub drops it.
func (h *Hub) Subscribe(ctx context.Context, viewer string, topic model.Topic, cursor int64) (*Subscription, error) {
	topic.Viewer = viewer
	sub := newSubscription(h, topic, h.buffer)

	select {
	case <-h.started:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, errLost
	}

	r := registration{sub: sub, head: make(chan int64, 1)}
	select {
	case h.register <- r:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, errLost
	}
	head := <-r.head

	h.log.WithFields(logrus.Fields{
		"viewer": viewer,
		"topic":  topic.Key(),
		"cursor": cursor,
		"head":   head,
		"sub":    sub.ID,
	}).Debug("subscribed")

	go sub.pump(ctx, cursor, head)
	return sub, nil
}

func (h *Hub) remove(sub *Subscription) {
	select {
	case h.unregister <- sub:
	case <-h.done:
		sub.end(nil)
	}
}

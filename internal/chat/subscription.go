package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ageniuscoder/internchat/backend/internal/apperr"
	"github.com/ageniuscoder/internchat/backend/internal/model"
)

var errLost = errors.Wrap(apperr.ErrSubscriptionLost, "dropped by hub")

// Subscription is one viewer's live feed on a topic. Events arrive on
// Events in log order; the channel closes when the subscription ends and
// Err then says why. Delivery is at least once.
type Subscription struct {
	ID    string
	Topic model.Topic

	hub  *Hub
	live chan model.Event
	out  chan model.Event
	quit chan struct{}

	mu     sync.Mutex
	ended  bool
	err    error
	cursor int64
}

func newSubscription(h *Hub, topic model.Topic, buffer int) *Subscription {
	return &Subscription{
		ID:    uuid.NewString(),
		Topic: topic,
		hub:   h,
		live:  make(chan model.Event, buffer),
		out:   make(chan model.Event),
		quit:  make(chan struct{}),
	}
}

func (s *Subscription) Events() <-chan model.Event { return s.out }

// Err is nil after Close or hub shutdown, ErrReplaced after a newer
// subscription took over, and wraps ErrSubscriptionLost or
// ErrStorageUnavailable when the caller should reconnect from Cursor.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cursor is the log position of the last event handed to the consumer.
func (s *Subscription) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Subscription) Close() {
	s.stop(nil)
	s.hub.remove(s)
}

// end is called by the hub goroutine once the subscription is out of its
// table. It closes the live channel exactly once.
func (s *Subscription) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	if s.err == nil {
		s.err = err
	}
	close(s.live)
}

func (s *Subscription) stop(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.quit:
		return
	default:
	}
	if s.err == nil {
		s.err = err
	}
	close(s.quit)
}

// emit hands ev to the consumer. The cursor moves before the handoff so a
// consumer that has received ev never reads an older position, and moves
// back if the handoff does not happen.
func (s *Subscription) emit(ctx context.Context, ev model.Event) bool {
	s.mu.Lock()
	prev := s.cursor
	if ev.Seq > s.cursor {
		s.cursor = ev.Seq
	}
	s.mu.Unlock()

	select {
	case s.out <- ev:
		return true
	case <-s.quit:
	case <-ctx.Done():
	}
	s.mu.Lock()
	if s.cursor == ev.Seq {
		s.cursor = prev
	}
	s.mu.Unlock()
	return false
}

func (s *Subscription) pump(ctx context.Context, cursor, head int64) {
	defer close(s.out)
	defer func() {
		if ctx.Err() != nil {
			s.Close()
		}
	}()

	log := s.hub.log.WithFields(logrus.Fields{"sub": s.ID, "topic": s.Topic.Key()})
	s.mu.Lock()
	s.cursor = cursor
	if cursor == FromHead {
		s.cursor = head
	}
	s.mu.Unlock()

	if cursor != FromHead && cursor < head {
		replayed, ok := s.replay(ctx, log, cursor, head)
		if !ok {
			return
		}
		s.hub.metrics.replayed.Add(float64(replayed))
	}

	last := s.Cursor()
	for {
		select {
		case ev, ok := <-s.live:
			if !ok {
				return
			}
			if ev.Seq <= last {
				continue
			}
			if !s.emit(ctx, ev) {
				return
			}
			last = ev.Seq
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Subscription) replay(ctx context.Context, log *logrus.Entry, cursor, head int64) (int, bool) {
	start := time.Now()
	floor, err := s.hub.src.Floor(ctx)
	if err != nil {
		s.fail(log, err)
		return 0, false
	}
	if cursor < floor {
		log.WithFields(logrus.Fields{"cursor": cursor, "floor": floor}).Info("cursor behind retained log, resetting")
		ok := s.emit(ctx, model.Event{Seq: head, Kind: model.EventReset, At: time.Now().UTC()})
		return 0, ok
	}

	events, err := s.hub.src.EventsSince(ctx, s.Topic, cursor, head)
	if err != nil {
		s.fail(log, err)
		return 0, false
	}
	for _, ev := range events {
		if !s.emit(ctx, ev) {
			return 0, false
		}
	}
	// an empty replay still moves the cursor to head
	s.mu.Lock()
	if head > s.cursor {
		s.cursor = head
	}
	s.mu.Unlock()
	log.WithFields(logrus.Fields{"from": cursor, "to": head, "events": len(events), "took": time.Since(start)}).
		Debug("replayed")
	return len(events), true
}

func (s *Subscription) fail(log *logrus.Entry, err error) {
	log.WithError(err).Warn("subscription replay failed")
	s.stop(err)
	s.hub.remove(s)
}

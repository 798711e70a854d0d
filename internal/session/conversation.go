package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ageniuscoder/internchat/backend/internal/apperr"
	"github.com/ageniuscoder/internchat/backend/internal/chat"
	"github.com/ageniuscoder/internchat/backend/internal/model"
)

// Conversation is the viewer's view of the one conversation that is open.
type Conversation struct {
	viewer string
	deps   *Deps
	mark   *marker
	sink   Sink
	log    *logrus.Entry
	base   context.Context

	mu     sync.Mutex
	gen    uint64
	peer   string
	cache  *cache
	seen   *applied
	cursor int64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newConversation(base context.Context, viewer string, deps *Deps, mark *marker, sink Sink) *Conversation {
	return &Conversation{
		viewer: viewer,
		deps:   deps,
		mark:   mark,
		sink:   sink,
		log:    deps.Log.WithFields(logrus.Fields{"viewer": viewer, "part": "conversation"}),
		base:   base,
		cache:  newCache(),
		seen:   newApplied(),
	}
}

// ActivePeer is the peer whose conversation is open, or "".
func (c *Conversation) ActivePeer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// Messages snapshots the local list: confirmed messages in order, then
// optimistic ones.
func (c *Conversation) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.list()
}

// Activate opens the conversation with peer: it drops the previous one,
// loads the history, marks what the peer sent as read and starts following
// the conversation and sweeping it for unread messages.
func (c *Conversation) Activate(ctx context.Context, peer string) error {
	c.mu.Lock()
	c.stopLocked()
	c.gen++
	g := c.gen
	c.peer = peer
	c.cache = newCache()
	c.seen = newApplied()
	c.cursor = 0
	runCtx, cancel := context.WithCancel(c.base)
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.load(ctx, g); err != nil {
		c.mu.Lock()
		if c.gen == g {
			c.stopLocked()
			c.peer = ""
		}
		c.mu.Unlock()
		return err
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.follow(runCtx, g)
	}()
	go func() {
		defer c.wg.Done()
		c.watch(runCtx, g)
	}()
	return nil
}

// Deactivate closes the open conversation, if any, and discards its state.
func (c *Conversation) Deactivate() {
	c.mu.Lock()
	c.stopLocked()
	c.gen++
	c.peer = ""
	c.cache = newCache()
	c.mu.Unlock()
}

// wait blocks until the goroutines of every closed generation have exited.
func (c *Conversation) wait() { c.wg.Wait() }

func (c *Conversation) stopLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Conversation) current(g uint64) bool {
	return c.gen == g
}

// load replaces the local list with the stored history. The log head is read
// before the query so the subscription replays anything the query missed.
func (c *Conversation) load(ctx context.Context, g uint64) error {
	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()

	head, err := c.deps.Store.Head(ctx)
	if err != nil {
		return err
	}
	page, err := c.deps.Store.Query(ctx, c.viewer, peer, "", 0)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if !c.current(g) {
		c.mu.Unlock()
		return nil
	}
	c.cache.reset(page.Messages)
	if head > c.cursor {
		c.cursor = head
	}
	list := c.cache.list()
	c.mu.Unlock()

	c.sink(Update{Kind: UpdateHistory, Peer: peer, Messages: list})
	c.sweep(ctx, g)
	return nil
}

// follow keeps a conversation subscription open for generation g,
// reconnecting from the last applied position when it is lost.
func (c *Conversation) follow(ctx context.Context, g uint64) {
	backoff := minBackoff
	for {
		c.mu.Lock()
		if !c.current(g) {
			c.mu.Unlock()
			return
		}
		cursor, peer := c.cursor, c.peer
		c.mu.Unlock()

		sub, err := c.deps.Hub.Subscribe(ctx, c.viewer, model.ConversationTopic(c.viewer, peer), cursor)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.WithError(err).Warn("subscribe failed")
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		for ev := range sub.Events() {
			c.apply(ctx, g, ev)
			backoff = minBackoff
		}

		err = sub.Err()
		if ctx.Err() != nil || err == nil || errors.Is(err, chat.ErrReplaced) {
			return
		}
		c.log.WithError(err).WithField("cursor", sub.Cursor()).Info("conversation subscription lost, reconnecting")
		if !sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func (c *Conversation) apply(ctx context.Context, g uint64, ev model.Event) {
	c.mu.Lock()
	if !c.current(g) {
		c.mu.Unlock()
		return
	}
	if ev.Seq > c.cursor {
		c.cursor = ev.Seq
	}
	peer := c.peer

	switch ev.Kind {
	case model.EventInserted, model.EventUpdated:
		if !c.seen.first(ev.DedupKey()) {
			c.mu.Unlock()
			return
		}
		m := ev.Message.Clone()
		changed := c.cache.apply(m)
		c.mu.Unlock()
		if changed {
			c.sink(Update{Kind: UpdateMessage, Peer: peer, Message: &m})
		}
		if m.SenderID == peer && m.ReceiverID == c.viewer && m.Status.Before(model.StatusRead) {
			c.markRead(ctx, g, []int64{m.ID})
		}
	case model.EventPurged:
		c.cache.clear()
		c.mu.Unlock()
		c.sink(Update{Kind: UpdateCleared, Peer: peer})
	case model.EventReset:
		c.mu.Unlock()
		if err := c.load(ctx, g); err != nil {
			c.log.WithError(err).Warn("reload after reset failed")
			c.notice(err)
		}
	default:
		c.mu.Unlock()
	}
}

// watch re-sweeps the local list for unread peer messages until g ends.
func (c *Conversation) watch(ctx context.Context, g uint64) {
	t := time.NewTicker(c.deps.readWatch())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.sweep(ctx, g)
		}
	}
}

func (c *Conversation) sweep(ctx context.Context, g uint64) {
	c.mu.Lock()
	if !c.current(g) {
		c.mu.Unlock()
		return
	}
	ids := c.cache.unread(c.viewer, c.peer)
	c.mu.Unlock()
	if len(ids) > 0 {
		c.markRead(ctx, g, ids)
	}
}

func (c *Conversation) markRead(ctx context.Context, g uint64, ids []int64) {
	read, err := c.mark.markAll(ctx, ids, model.StatusRead)
	if err != nil {
		// left for the next sweep
		c.log.WithError(err).WithField("messages", len(ids)).Debug("mark read failed")
	}
	for _, m := range read {
		c.mu.Lock()
		if !c.current(g) {
			c.mu.Unlock()
			return
		}
		changed := c.cache.apply(m)
		peer := c.peer
		c.mu.Unlock()
		if changed {
			c.sink(Update{Kind: UpdateMessage, Peer: peer, Message: &m})
		}
	}
}

// Send appends content to the open conversation. An optimistic pending copy
// is shown at once and replaced by the stored record, or withdrawn if the
// store refuses it.
func (c *Conversation) Send(ctx context.Context, content model.Content) (model.Message, error) {
	c.mu.Lock()
	if c.peer == "" {
		c.mu.Unlock()
		return model.Message{}, errors.Wrap(apperr.ErrInvalidPeer, "no conversation open")
	}
	g, peer := c.gen, c.peer
	draft := model.Message{
		ClientID:   uuid.NewString(),
		SenderID:   c.viewer,
		ReceiverID: peer,
		Content:    content,
		Status:     model.StatusPending,
		Reactions:  model.Reactions{},
		CreatedAt:  time.Now().UTC(),
	}
	c.cache.apply(draft)
	c.mu.Unlock()
	c.sink(Update{Kind: UpdateMessage, Peer: peer, Message: &draft})

	m, err := c.deps.Store.Append(ctx, c.viewer, peer, content, draft.ClientID)

	c.mu.Lock()
	if !c.current(g) {
		c.mu.Unlock()
		return m, err
	}
	if err != nil {
		c.cache.drop(draft.ClientID)
		c.mu.Unlock()
		c.sink(Update{Kind: UpdateRemoved, Peer: peer, ClientID: draft.ClientID})
		return m, err
	}
	changed := c.cache.apply(m)
	c.mu.Unlock()
	if changed {
		c.sink(Update{Kind: UpdateMessage, Peer: peer, Message: &m})
	}
	return m, nil
}

// observe folds a message the viewer changed through another path, such as
// a reaction toggle, into the open conversation.
func (c *Conversation) observe(m model.Message) {
	c.mu.Lock()
	lo, hi := model.Pair(c.viewer, c.peer)
	mlo, mhi := model.Pair(m.SenderID, m.ReceiverID)
	if c.peer == "" || lo != mlo || hi != mhi {
		c.mu.Unlock()
		return
	}
	changed := c.cache.apply(m)
	peer := c.peer
	c.mu.Unlock()
	if changed {
		c.sink(Update{Kind: UpdateMessage, Peer: peer, Message: &m})
	}
}

func (c *Conversation) notice(err error) {
	c.sink(Update{Kind: UpdateNotice, Notice: err.Error()})
}

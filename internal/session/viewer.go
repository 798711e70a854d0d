package session

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ageniuscoder/internchat/backend/internal/apperr"
	"github.com/ageniuscoder/internchat/backend/internal/model"
)

// Viewer is everything one logged-in participant's connection needs: the
// open conversation, the inbox and the commands the presentation layer
// issues.
type Viewer struct {
	Self model.Participant

	deps    *Deps
	conv    *Conversation
	inbox   *Inbox
	limiter *rate.Limiter
	sink    Sink
	log     *logrus.Entry

	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	done    chan struct{}
	once    sync.Once
}

// NewViewer builds the session of self. Nothing runs until Start.
func NewViewer(deps *Deps, self model.Participant, sink Sink) *Viewer {
	if sink == nil {
		sink = discard
	}
	ctx, cancel := context.WithCancel(context.Background())
	mark := newMarker(deps.Tracker)
	limit, burst := deps.SendRate, deps.SendBurst
	if limit <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	v := &Viewer{
		Self:    self,
		deps:    deps,
		limiter: rate.NewLimiter(limit, burst),
		sink:    sink,
		log:     deps.Log.WithField("viewer", self.ID),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	v.conv = newConversation(ctx, self.ID, deps, mark, sink)
	v.inbox = newInbox(self.ID, deps, mark, sink, v.conv.ActivePeer)
	return v
}

// Start runs the inbox and marks the viewer online.
func (v *Viewer) Start(ctx context.Context) {
	if !v.started.CompareAndSwap(false, true) {
		return
	}
	if v.deps.Presence != nil {
		if err := v.deps.Presence.Online(ctx, v.Self.ID); err != nil {
			v.log.WithError(err).Warn("presence online failed")
		}
	}
	go func() {
		defer close(v.done)
		v.inbox.Run(v.ctx)
	}()
	v.log.Debug("viewer session started")
}

// Close stops every goroutine of the session. It is safe to call twice.
func (v *Viewer) Close() {
	v.once.Do(func() {
		v.conv.Deactivate()
		v.cancel()
		if !v.started.Load() {
			v.conv.wait()
			return
		}
		<-v.done
		v.conv.wait()
		if v.deps.Presence != nil {
			if err := v.deps.Presence.Offline(context.Background(), v.Self.ID); err != nil {
				v.log.WithError(err).Warn("presence offline failed")
			}
		}
		v.log.Debug("viewer session closed")
	})
}

func (v *Viewer) ActivePeer() string { return v.conv.ActivePeer() }

func (v *Viewer) Messages() []model.Message { return v.conv.Messages() }

// SelectConversation opens the conversation with peer; an empty peer closes
// the open one.
func (v *Viewer) SelectConversation(ctx context.Context, peer string) error {
	if peer == "" {
		v.conv.Deactivate()
		return nil
	}
	if _, err := CheckPeer(ctx, v.deps.Store, v.Self, peer); err != nil {
		return err
	}
	if err := v.conv.Activate(ctx, peer); err != nil {
		return v.surface(err)
	}
	return nil
}

// Send posts content to the open conversation.
func (v *Viewer) Send(ctx context.Context, content model.Content) (model.Message, error) {
	if err := content.Validate(); err != nil {
		return model.Message{}, errors.Wrap(apperr.ErrInvalidContent, err.Error())
	}
	if !v.limiter.Allow() {
		return model.Message{}, errors.Wrap(apperr.ErrRateLimited, "slow down")
	}
	m, err := v.conv.Send(ctx, content)
	if err != nil {
		return m, v.surface(err)
	}
	return m, nil
}

// ToggleReaction flips the viewer's emoji on a message of one of its
// conversations.
func (v *Viewer) ToggleReaction(ctx context.Context, messageID int64, emoji string) (model.Message, error) {
	m, err := v.deps.Store.Get(ctx, messageID)
	if err != nil {
		return m, v.surface(err)
	}
	if !CanSee(v.Self, m) {
		return model.Message{}, errors.Wrapf(apperr.ErrNotFound, "message %d", messageID)
	}
	m, err = v.deps.Ledger.Toggle(ctx, messageID, emoji, v.Self.ID)
	if err != nil {
		return m, v.surface(err)
	}
	v.conv.observe(m)
	return m, nil
}

// ClearConversation deletes every message between the viewer and peer.
func (v *Viewer) ClearConversation(ctx context.Context, peer string) error {
	if err := RequireAdmin(v.Self); err != nil {
		return err
	}
	if peer == "" || peer == v.Self.ID {
		return errors.Wrapf(apperr.ErrInvalidPeer, "peer %q", peer)
	}
	n, err := v.deps.Store.PurgeConversation(ctx, v.Self.ID, peer)
	if err != nil {
		return v.surface(err)
	}
	v.log.WithFields(logrus.Fields{"peer": peer, "deleted": n}).Info("conversation cleared")
	return nil
}

// DeleteParticipant removes peer with every message it sent or received.
func (v *Viewer) DeleteParticipant(ctx context.Context, peer string) error {
	if err := RequireAdmin(v.Self); err != nil {
		return err
	}
	if peer == "" || peer == v.Self.ID {
		return errors.Wrapf(apperr.ErrInvalidPeer, "peer %q", peer)
	}
	if _, err := v.deps.Store.GetParticipant(ctx, peer); err != nil {
		return err
	}
	n, err := v.deps.Store.PurgeParticipant(ctx, peer)
	if err != nil {
		return v.surface(err)
	}
	if v.conv.ActivePeer() == peer {
		v.conv.Deactivate()
	}
	v.log.WithFields(logrus.Fields{"peer": peer, "deleted": n}).Info("participant deleted")
	return nil
}

// UploadAttachment stores a blob and returns the content to send for it.
func (v *Viewer) UploadAttachment(ctx context.Context, name string, r io.Reader) (model.Content, error) {
	if v.deps.Uploader == nil {
		return model.Content{}, errors.New("attachments are not configured")
	}
	c, err := v.deps.Uploader.Upload(ctx, name, r)
	if err != nil {
		return c, v.surface(err)
	}
	return c, nil
}

// surface reports transient failures to the viewer as a notice and returns
// err unchanged.
func (v *Viewer) surface(err error) error {
	if apperr.Transient(err) {
		v.sink(Update{Kind: UpdateNotice, Notice: err.Error()})
	}
	return err
}

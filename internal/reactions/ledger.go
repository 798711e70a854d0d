// Package reactions applies emoji toggles to a message without losing
// concurrent contributions: every write is conditional on the version read.
package reactions

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ageniuscoder/internchat/backend/internal/apperr"
	"github.com/ageniuscoder/internchat/backend/internal/model"
)

const defaultAttempts = 8

type Store interface {
	Get(ctx context.Context, id int64) (model.Message, error)
	SwapReactions(ctx context.Context, id, expectedVersion int64, reactions model.Reactions) (model.Message, error)
}

type Ledger struct {
	store    Store
	log      *logrus.Entry
	attempts int
}

func NewLedger(store Store, log *logrus.Entry) *Ledger {
	return &Ledger{store: store, log: log, attempts: defaultAttempts}
}

// Toggle flips actor's emoji on message id and returns the stored result.
// A lost race re-reads the message and tries again.
func (l *Ledger) Toggle(ctx context.Context, id int64, emoji, actor string) (model.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if !model.Text(emoji).EmojiOnly() {
		return model.Message{}, errors.Wrapf(apperr.ErrInvalidContent, "not an emoji: %q", emoji)
	}
	if actor == "" {
		return model.Message{}, errors.Wrap(apperr.ErrInvalidPeer, "empty actor")
	}

	var lastErr error
	for attempt := 1; attempt <= l.attempts; attempt++ {
		cur, err := l.store.Get(ctx, id)
		if err != nil {
			return cur, err
		}
		next := cur.Reactions.Toggle(emoji, actor)
		m, err := l.store.SwapReactions(ctx, id, cur.Version, next)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, apperr.ErrVersionConflict) {
			return m, err
		}
		lastErr = err
		l.log.WithFields(logrus.Fields{"message_id": id, "attempt": attempt}).Debug("reaction toggle raced, retrying")
		if ctx.Err() != nil {
			return m, ctx.Err()
		}
	}
	return model.Message{}, errors.Wrapf(lastErr, "toggle reaction on message %d: gave up after %d attempts", id, l.attempts)
}

package session

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ageniuscoder/internchat/backend/internal/apperr"
	"github.com/ageniuscoder/internchat/backend/internal/model"
)

// ParticipantGetter looks up profiles for the role checks.
type ParticipantGetter interface {
	GetParticipant(ctx context.Context, id string) (model.Participant, error)
}

// CheckPeer resolves peerID and verifies self may converse with it. An
// unknown peer is ErrInvalidPeer; a role mismatch is ErrForbidden.
func CheckPeer(ctx context.Context, store ParticipantGetter, self model.Participant, peerID string) (model.Participant, error) {
	if peerID == "" || peerID == self.ID {
		return model.Participant{}, errors.Wrapf(apperr.ErrInvalidPeer, "peer %q", peerID)
	}
	peer, err := store.GetParticipant(ctx, peerID)
	if errors.Is(err, apperr.ErrNotFound) {
		return peer, errors.Wrapf(apperr.ErrInvalidPeer, "unknown peer %s", peerID)
	}
	if err != nil {
		return peer, err
	}
	if !self.CanMessage(peer) {
		return peer, errors.Wrapf(apperr.ErrForbidden, "%s %s may not message %s %s", self.Role, self.ID, peer.Role, peer.ID)
	}
	return peer, nil
}

// RequireAdmin guards the destructive commands.
func RequireAdmin(self model.Participant) error {
	if self.Role != model.RoleAdmin {
		return errors.Wrap(apperr.ErrForbidden, "admin only")
	}
	return nil
}

// CanSee reports whether self may read or react to m.
func CanSee(self model.Participant, m model.Message) bool {
	return m.Involves(self.ID)
}

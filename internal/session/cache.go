package session

import (
	"sort"

	"github.com/ageniuscoder/internchat/backend/internal/model"
)

// cache is a conversation's local message list. Confirmed messages are keyed
// by id and only replaced by a newer version; optimistic copies are keyed by
// client id until the confirmed record carrying that client id arrives.
type cache struct {
	byID    map[int64]model.Message
	pending map[string]model.Message
}

func newCache() *cache {
	return &cache{
		byID:    make(map[int64]model.Message),
		pending: make(map[string]model.Message),
	}
}

// apply merges m and reports whether the visible list changed.
func (c *cache) apply(m model.Message) bool {
	if m.Provisional() {
		if m.ClientID == "" {
			return false
		}
		c.pending[m.ClientID] = m.Clone()
		return true
	}
	changed := false
	if m.ClientID != "" {
		if _, ok := c.pending[m.ClientID]; ok {
			delete(c.pending, m.ClientID)
			changed = true
		}
	}
	if cur, ok := c.byID[m.ID]; ok && cur.Version >= m.Version {
		return changed
	}
	c.byID[m.ID] = m.Clone()
	return true
}

func (c *cache) drop(clientID string) bool {
	if _, ok := c.pending[clientID]; !ok {
		return false
	}
	delete(c.pending, clientID)
	return true
}

func (c *cache) reset(msgs []model.Message) {
	c.byID = make(map[int64]model.Message, len(msgs))
	for _, m := range msgs {
		c.byID[m.ID] = m.Clone()
	}
	for id, p := range c.pending {
		for _, m := range msgs {
			if m.ClientID == id && m.SenderID == p.SenderID {
				delete(c.pending, id)
				break
			}
		}
	}
}

func (c *cache) clear() {
	c.byID = make(map[int64]model.Message)
	c.pending = make(map[string]model.Message)
}

// list returns confirmed messages in (created_at, id) order followed by the
// optimistic ones in send order.
func (c *cache) list() []model.Message {
	out := make([]model.Message, 0, len(c.byID)+len(c.pending))
	for _, m := range c.byID {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })

	pending := make([]model.Message, 0, len(c.pending))
	for _, m := range c.pending {
		pending = append(pending, m.Clone())
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		}
		return pending[i].ClientID < pending[j].ClientID
	})
	return append(out, pending...)
}

// unread lists confirmed messages from peer to viewer that are not read yet.
func (c *cache) unread(viewer, peer string) []int64 {
	var ids []int64
	for id, m := range c.byID {
		if m.SenderID == peer && m.ReceiverID == viewer && m.Status.Before(model.StatusRead) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Package model holds the records shared by the store, the hub and the
// sessions: messages, their delivery status and content, reactions, the
// change events the store emits and the topics subscribers listen on.
package model

import "time"

// Message is one chat message between two participants.
type Message struct {
	ID         int64     `json:"id,string"`
	ClientID   string    `json:"client_id,omitempty"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    Content   `json:"content"`
	Status     Status    `json:"status"`
	Reactions  Reactions `json:"reactions"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
}

// Provisional reports whether m is an optimistic local copy that the store
// has not confirmed yet.
func (m Message) Provisional() bool { return m.ID == 0 }

// Peer returns the other participant of m from viewer's point of view.
func (m Message) Peer(viewer string) string {
	if m.SenderID == viewer {
		return m.ReceiverID
	}
	return m.SenderID
}

// Involves reports whether id is the sender or the receiver of m.
func (m Message) Involves(id string) bool {
	return m.SenderID == id || m.ReceiverID == id
}

// Less orders messages by (created_at, id).
func (m Message) Less(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// Clone copies m including its reaction sets.
func (m Message) Clone() Message {
	m.Reactions = m.Reactions.Clone()
	return m
}

// Pair returns the conversation key of two participants: the ids in
// ascending order, so (a, b) and (b, a) name the same conversation.
func Pair(a, b string) (lo, hi string) {
	if a <= b {
		return a, b
	}
	return b, a
}

package model

import "time"

// EventKind names what happened to the message log.
type EventKind string

const (
	EventInserted EventKind = "inserted"
	EventUpdated  EventKind = "updated"
	// EventPurged clears every message between PeerLo and PeerHi.
	EventPurged EventKind = "purged"
	// EventReset tells a subscriber its cursor predates the retained log and
	// its state must be reloaded from a query.
	EventReset EventKind = "reset"
)

// Event is one entry of the store's change log. Seq is the log position and
// doubles as the subscription cursor.
type Event struct {
	Seq     int64     `json:"seq"`
	Kind    EventKind `json:"kind"`
	Message *Message  `json:"message,omitempty"`
	PeerLo  string    `json:"peer_lo,omitempty"`
	PeerHi  string    `json:"peer_hi,omitempty"`
	At      time.Time `json:"at"`
}

// DedupKey identifies a change for idempotent apply: the same message, kind
// and resulting status is applied once. Version tells reaction updates that
// leave the status alone apart.
type DedupKey struct {
	MessageID int64
	Kind      EventKind
	Status    Status
	Version   int64
}

func (e Event) DedupKey() DedupKey {
	k := DedupKey{Kind: e.Kind}
	if e.Message != nil {
		k.MessageID = e.Message.ID
		k.Status = e.Message.Status
		k.Version = e.Message.Version
	}
	return k
}

// TopicKind distinguishes the two subscription scopes.
type TopicKind string

const (
	TopicConversation TopicKind = "conversation"
	TopicViewer       TopicKind = "viewer"
)

// Topic is what a subscription listens on. A conversation topic selects
// events of one pair; a viewer topic selects every event the viewer takes
// part in.
type Topic struct {
	Kind   TopicKind
	Viewer string
	PeerLo string
	PeerHi string
}

func ConversationTopic(viewer, peer string) Topic {
	lo, hi := Pair(viewer, peer)
	return Topic{Kind: TopicConversation, Viewer: viewer, PeerLo: lo, PeerHi: hi}
}

func ViewerTopic(viewer string) Topic {
	return Topic{Kind: TopicViewer, Viewer: viewer}
}

// Key is unique per (viewer, topic) and is what the hub deduplicates live
// subscriptions on.
func (t Topic) Key() string {
	if t.Kind == TopicConversation {
		return t.Viewer + "|dm:" + t.PeerLo + ":" + t.PeerHi
	}
	return t.Viewer + "|viewer"
}

// Matches reports whether e belongs to t. Reset events are addressed to a
// single subscription and never match a topic.
func (t Topic) Matches(e Event) bool {
	if e.Kind == EventReset {
		return false
	}
	lo, hi := e.PeerLo, e.PeerHi
	if e.Message != nil && lo == "" {
		lo, hi = Pair(e.Message.SenderID, e.Message.ReceiverID)
	}
	switch t.Kind {
	case TopicConversation:
		return lo == t.PeerLo && hi == t.PeerHi
	case TopicViewer:
		return lo == t.Viewer || hi == t.Viewer
	}
	return false
}

package session

import "github.com/ageniuscoder/internchat/backend/internal/model"

type UpdateKind string

const (
	// UpdateHistory carries the full message list of the open conversation.
	UpdateHistory UpdateKind = "history"
	// UpdateMessage carries one added or changed message of the open
	// conversation, optimistic copies included.
	UpdateMessage UpdateKind = "message"
	// UpdateRemoved withdraws the optimistic copy with ClientID.
	UpdateRemoved UpdateKind = "removed"
	// UpdateInbox carries a message of any of the viewer's conversations.
	UpdateInbox UpdateKind = "inbox"
	UpdateCleared UpdateKind = "cleared"
	// UpdateNotice is a dismissible error for the viewer.
	UpdateNotice UpdateKind = "notice"
)

// Update is what a session pushes to the presentation layer.
type Update struct {
	Kind     UpdateKind      `json:"type"`
	Peer     string          `json:"peer,omitempty"`
	Message  *model.Message  `json:"message,omitempty"`
	Messages []model.Message `json:"messages,omitempty"`
	ClientID string          `json:"client_id,omitempty"`
	Notice   string          `json:"notice,omitempty"`
}

// Sink receives updates. It is called from session goroutines and must not
// block.
type Sink func(Update)

func discard(Update) {}

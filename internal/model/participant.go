package model

import "time"

// Role is what a participant may do. Interns talk only to admins.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleIntern Role = "intern"
)

func (r Role) Valid() bool { return r == RoleAdmin || r == RoleIntern }

// Participant is a profile known to the store. Identity itself is issued by
// the auth provider; this record only mirrors its claims.
type Participant struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at"`
}

// CanMessage reports whether p may start or continue a conversation with o.
func (p Participant) CanMessage(o Participant) bool {
	if p.ID == o.ID {
		return false
	}
	if p.Role == RoleIntern {
		return o.Role == RoleAdmin
	}
	return p.Role == RoleAdmin
}

// ConversationSummary is one row of a viewer's conversation list.
type ConversationSummary struct {
	Peer        Participant `json:"peer"`
	LastMessage *Message    `json:"last_message,omitempty"`
	Unread      int         `json:"unread"`
}

package model

import (
	"encoding/json"
	"fmt"
)

// Status is the delivery state of a message. The zero value is StatusPending
// and the numeric order is the lifecycle order.
type Status uint8

const (
	StatusPending Status = iota
	StatusSent
	StatusDelivered
	StatusRead
)

var statusNames = [...]string{"pending", "sent", "delivered", "read"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Valid reports whether s is one of the four known states.
func (s Status) Valid() bool { return s <= StatusRead }

// Before reports whether s comes strictly earlier in the lifecycle than o.
func (s Status) Before(o Status) bool { return s < o }

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusRead }

// ParseStatus maps a wire name back to a Status.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return StatusPending, fmt.Errorf("unknown status %q", name)
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

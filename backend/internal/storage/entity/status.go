package entity

import (
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Status is the lifecycle state of an invitation.
//
// The zero value is not a valid status. Pending is the only non-terminal
// state; every transition goes from pending to exactly one terminal state.
type Status uint8

const (
	// StatusPending is the initial state of every invitation.
	StatusPending Status = iota + 1
	// StatusAccepted is set when a user redeemed the share code.
	StatusAccepted
	// StatusDeclined is set when the recipient declined.
	StatusDeclined
	// StatusExpired is set by the expiry sweeper.
	StatusExpired
	// StatusCancelled is set when a list manager revoked the invitation.
	StatusCancelled
)

// AllStatuses lists every valid status.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusAccepted, StatusDeclined, StatusExpired, StatusCancelled}
}

// ParseStatus parses the persisted lowercase name.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses() {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", errUnknownStatus, s)
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAccepted:
		return "accepted"
	case StatusDeclined:
		return "declined"
	case StatusExpired:
		return "expired"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// IsValid reports whether s is one of the declared statuses.
func (s Status) IsValid() bool {
	return s >= StatusPending && s <= StatusCancelled
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPending:
		return false
	case StatusAccepted, StatusDeclined, StatusExpired, StatusCancelled:
		return true
	default:
		return true
	}
}

// CanTransitionTo reports whether s -> next is a legal transition.
func (s Status) CanTransitionTo(next Status) bool {
	if s != StatusPending {
		return false
	}
	switch next {
	case StatusAccepted, StatusDeclined, StatusExpired, StatusCancelled:
		return true
	case StatusPending:
		return false
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("%w: %d", errUnknownStatus, uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// JSONSchema implements the jsonschema custom schema hook; status is stored
// as its name.
func (Status) JSONSchema() *jsonschema.Schema {
	enum := make([]any, 0, 5)
	for _, st := range AllStatuses() {
		enum = append(enum, st.String())
	}
	return &jsonschema.Schema{Type: "string", Enum: enum, Description: "Invitation lifecycle state"}
}

//

var errUnknownStatus = errors.New("unknown invitation status")

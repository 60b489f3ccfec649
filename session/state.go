package session

import (
	"errors"
	"fmt"

	"github.com/habedi/docvault/client"
)

// Kind is the phase of the session state machine.
type Kind int

const (
	Unauthenticated Kind = iota
	Authenticating
	Authenticated
	RefreshFailed
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case RefreshFailed:
		return "refresh_failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// State is one observable value of the session. User is set only when Kind is
// Authenticated; Reason only when Kind is RefreshFailed.
type State struct {
	Kind   Kind
	User   *client.User
	Reason error
}

func (s State) String() string {
	switch s.Kind {
	case Authenticated:
		if s.User != nil {
			return fmt.Sprintf("authenticated as %s", s.User.Username)
		}
	case RefreshFailed:
		if s.Reason != nil {
			return fmt.Sprintf("refresh failed: %v", s.Reason)
		}
	}
	return s.Kind.String()
}

// ErrIllegalTransition is returned when an operation would move the session
// along an edge the state machine does not have.
var ErrIllegalTransition = errors.New("illegal session state transition")

var transitions = map[Kind][]Kind{
	Unauthenticated: {Unauthenticated, Authenticating, Authenticated},
	Authenticating:  {Unauthenticated, Authenticated},
	Authenticated:   {Unauthenticated, Authenticating, Authenticated, RefreshFailed},
	RefreshFailed:   {Unauthenticated, Authenticating, RefreshFailed},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Kind) bool {
	for _, k := range transitions[from] {
		if k == to {
			return true
		}
	}
	return false
}

package browser

import (
	"fmt"

	"github.com/JakeFAU/fly-screenshotter/internal/screenshot"
)

// State is the lifecycle position of a Session.
type State int

// Session states. Every state may move to StateClosed.
const (
	StateUninitialized State = iota
	StateLaunched
	StateNavigated
	StateSettled
	StateCaptured
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLaunched:
		return "launched"
	case StateNavigated:
		return "navigated"
	case StateSettled:
		return "settled"
	case StateCaptured:
		return "captured"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// next is the only forward transition allowed out of each state.
var next = map[State]State{
	StateUninitialized: StateLaunched,
	StateLaunched:      StateNavigated,
	StateNavigated:     StateSettled,
	StateSettled:       StateCaptured,
}

func checkTransition(from, to State) error {
	if to == StateClosed {
		return nil
	}
	if want, ok := next[from]; ok && want == to {
		return nil
	}
	return fmt.Errorf("%w: cannot move from %s to %s", screenshot.ErrInvalidState, from, to)
}

package connection

import "fmt"

// State is the lifecycle state of a Manager.
type State int

const (
	Disconnected State = iota
	Discovering
	Connecting
	Initializing
	Connected
	Failed
)

var stateNames = [...]string{
	Disconnected: "disconnected",
	Discovering:  "discovering",
	Connecting:   "connecting",
	Initializing: "initializing",
	Connected:    "connected",
	Failed:       "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// CanTransition reports whether moving from s to next is allowed. Every state may drop to
// Disconnected or Failed; otherwise the only path is
// Disconnected -> Discovering|Connecting -> Initializing -> Connected.
func (s State) CanTransition(next State) bool {
	if next == s {
		return false
	}
	if next == Disconnected || next == Failed {
		return true
	}
	switch s {
	case Disconnected:
		return next == Discovering || next == Connecting
	case Connecting:
		return next == Initializing
	case Initializing:
		return next == Connected
	}
	return false
}

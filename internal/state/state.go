// Package state defines lifecycle states of the player and transitions
// between them.
package state

import "errors"

// ErrInvalidState is returned if event cannot be handled in current state.
var ErrInvalidState = errors.New("invalid state")

// State identifies one of the possible states player can be in.
type State uint

const (
	// Uninitialized means that setup was never called.
	Uninitialized State = iota
	// Ready means that sink is open and worker is suspended.
	Ready
	// Playing means that worker drains the queue into the sink.
	Playing
	// Released means that all resources are released.
	Released
)

// Event triggers the state change.
type Event uint

// Events are imperative verbs.
const (
	Setup Event = iota
	Play
	Pause
	Stop
	Release
)

// Transition returns the state reached by handling event. ErrInvalidState
// is returned and state is kept if event is not allowed.
func Transition(s State, e Event) (State, error) {
	switch e {
	case Setup:
		return Ready, nil
	case Release:
		return Released, nil
	}

	switch s {
	case Ready, Playing:
		switch e {
		case Play:
			return Playing, nil
		case Pause, Stop:
			return Ready, nil
		}
	}
	return s, ErrInvalidState
}

// Active returns true if sink is open in this state.
func (s State) Active() bool {
	return s == Ready || s == Playing
}

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "state.Uninitialized"
	case Ready:
		return "state.Ready"
	case Playing:
		return "state.Playing"
	case Released:
		return "state.Released"
	default:
		return "state.Unknown"
	}
}

func (e Event) String() string {
	switch e {
	case Setup:
		return "event.Setup"
	case Play:
		return "event.Play"
	case Pause:
		return "event.Pause"
	case Stop:
		return "event.Stop"
	case Release:
		return "event.Release"
	default:
		return "event.Unknown"
	}
}

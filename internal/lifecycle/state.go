package lifecycle

import (
	"errors"
	"fmt"
	"slices"
)

// State is the availability of the master key.
type State int

const (
	Absent State = iota
	Deriving
	Available
	Error
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Deriving:
		return "deriving"
	case Available:
		return "available"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	Absent:    {Deriving, Available},
	Deriving:  {Available, Error, Absent},
	Available: {Absent},
	Error:     {Deriving, Available, Absent},
}

func canTransition(from, to State) bool {
	return from == to || slices.Contains(transitions[from], to)
}

var (
	// ErrBusy is returned when a derivation or rotation is already running.
	ErrBusy = errors.New("key derivation already in progress")
	// ErrNoSession is returned by session operations on a manager without a session scope.
	ErrNoSession = errors.New("no session scope configured")
)

// ErrNoTransition indicates the operation is not allowed in the current state.
type ErrNoTransition struct {
	From, To State
}

func (e *ErrNoTransition) Error() string {
	return fmt.Sprintf("no transition from %s to %s", e.From, e.To)
}

package searchserver

import (
	"errors"
	"fmt"
)

// State is a test instance lifecycle state.
type State int

const (
	Created State = iota
	Starting
	Healthy
	InUse
	Stopping
	Stopped
	Failed
)

var stateNames = [...]string{"created", "starting", "healthy", "in_use", "stopping", "stopped", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// ErrInvalidTransition is returned for a transition the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid instance state transition")

// transitions lists the allowed successors of each state. A never-started
// instance may be stopped directly; a failed one still gets torn down.
var transitions = map[State][]State{
	Created:  {Starting, Stopped},
	Starting: {Healthy, Failed},
	Healthy:  {InUse, Stopping, Failed},
	InUse:    {InUse, Healthy, Stopping, Failed},
	Failed:   {Stopping},
	Stopping: {Stopped},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

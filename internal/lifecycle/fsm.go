// Package lifecycle drives a scan run through its states: the live
// Init/Diag/Scan/Stop/Done machine around a sensor, and the linear
// Init/Load/Process/Save/Shutdown pipeline used for offline replay.
package lifecycle

// State is a live run state.
type State int

const (
	StateInit State = iota
	StateDiag
	StateScan
	StateStop
	StateDone
	StateError
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateDiag:
		return "Diag"
	case StateScan:
		return "Scan"
	case StateStop:
		return "Stop"
	case StateDone:
		return "Done"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the state has no outbound transitions.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// Event drives Transition. Any string is accepted; unknown events leave the
// state unchanged.
type Event string

const (
	EventDiagOK   Event = "diag_ok"
	EventDiagFail Event = "diag_fail"
	EventStart    Event = "start"
	EventStop     Event = "stop"
	EventError    Event = "error"

	// EventDone is fired once the shutdown sequence has run.
	EventDone Event = "done"
)

type edge struct {
	from State
	ev   Event
}

var table = map[edge]State{
	{StateInit, EventDiagOK}:   StateDiag,
	{StateInit, EventDiagFail}: StateError,
	{StateDiag, EventStart}:    StateScan,
	{StateScan, EventStop}:     StateStop,
}

// Transition is total: it returns the next state for every (state, event)
// pair. Done and Error are terminal. Otherwise "error" always leads to
// Error, any other event moves Stop to Done, and pairs missing from the
// table leave the state unchanged.
func Transition(s State, ev Event) State {
	if s.Terminal() {
		return s
	}
	if ev == EventError {
		return StateError
	}
	if s == StateStop {
		return StateDone
	}
	if next, ok := table[edge{s, ev}]; ok {
		return next
	}
	return s
}

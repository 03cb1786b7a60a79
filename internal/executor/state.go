// Package executor owns the per-configuration run state machine and the scan
// loop that drives the search pipeline.
//
// Valid state graph, per configuration:
//
//	IDLE ──► DUE ──► RUNNING ──► COMPLETED ──► IDLE
//	          │          │
//	          │          └─────► FAILED ─────► IDLE
//	          └────────────────────────────── IDLE   (claim lost / deactivated)
//
// COMPLETED and FAILED are terminal for one run; the configuration then
// returns to IDLE to await its next due instant.
package executor

import "fmt"

// State is a configuration's position in the run lifecycle.
type State string

const (
	StateIdle      State = "IDLE"
	StateDue       State = "DUE"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[State][]State{
	StateIdle:      {StateDue},
	StateDue:       {StateRunning, StateIdle},
	StateRunning:   {StateCompleted, StateFailed},
	StateCompleted: {StateIdle},
	StateFailed:    {StateIdle},
}

// ParseState converts a raw string to a State, returning an error for
// unknown values.
func ParseState(s string) (State, error) {
	st := State(s)
	switch st {
	case StateIdle, StateDue, StateRunning, StateCompleted, StateFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown run state %q", s)
}

// CanTransition returns true when moving from → to is permitted by the run
// state machine.
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for the per-run terminal states.
func IsTerminal(s State) bool {
	return s == StateCompleted || s == StateFailed
}

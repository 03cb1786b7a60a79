package executor

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{"idle becomes due", StateIdle, StateDue, true},
		{"due starts running", StateDue, StateRunning, true},
		{"due backs off to idle on lost claim", StateDue, StateIdle, true},
		{"running completes", StateRunning, StateCompleted, true},
		{"running fails", StateRunning, StateFailed, true},
		{"completed returns to idle", StateCompleted, StateIdle, true},
		{"failed returns to idle", StateFailed, StateIdle, true},

		{"idle cannot run directly", StateIdle, StateRunning, false},
		{"idle cannot complete", StateIdle, StateCompleted, false},
		{"due cannot complete without running", StateDue, StateCompleted, false},
		{"due cannot fail without running", StateDue, StateFailed, false},
		{"running cannot return to due", StateRunning, StateDue, false},
		{"running cannot return to idle directly", StateRunning, StateIdle, false},
		{"completed cannot restart", StateCompleted, StateRunning, false},
		{"completed cannot fail afterwards", StateCompleted, StateFailed, false},
		{"failed cannot restart", StateFailed, StateRunning, false},
		{"failed cannot complete afterwards", StateFailed, StateCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTerminalStatesOnlyReturnToIdle(t *testing.T) {
	all := []State{StateIdle, StateDue, StateRunning, StateCompleted, StateFailed}
	for _, terminal := range []State{StateCompleted, StateFailed} {
		for _, to := range all {
			if to == StateIdle || to == terminal {
				continue
			}
			if CanTransition(terminal, to) {
				t.Errorf("terminal state %s must not transition to %s", terminal, to)
			}
		}
	}
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		state State
		want  bool
	}{
		{StateIdle, false},
		{StateDue, false},
		{StateRunning, false},
		{StateCompleted, true},
		{StateFailed, true},
	}
	for _, tt := range tests {
		if got := IsTerminal(tt.state); got != tt.want {
			t.Errorf("IsTerminal(%s) = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestParseState(t *testing.T) {
	tests := []struct {
		input   string
		want    State
		wantErr bool
	}{
		{"IDLE", StateIdle, false},
		{"DUE", StateDue, false},
		{"RUNNING", StateRunning, false},
		{"COMPLETED", StateCompleted, false},
		{"FAILED", StateFailed, false},
		{"running", "", true},
		{"", "", true},
		{"DONE", "", true},
	}
	for _, tt := range tests {
		got, err := ParseState(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseState(%q) expected error, got %v", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseState(%q) unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseState(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

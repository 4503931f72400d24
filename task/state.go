package task

import (
	"fmt"

	"github.com/samber/lo"
)

// ProcessingState is the lifecycle state of a task.
type ProcessingState int32

const (
	Invalid ProcessingState = iota
	Initialize
	AutoDiagnostic
	Calibrate
	Run
	Stop
	Failure
	numStates
)

var stateNames = [numStates]string{"Invalid", "Initialize", "AutoDiagnostic", "Calibrate", "Run", "Stop", "Failure"}

// StateNames lists every state name, indexed by state.
func StateNames() []string { return stateNames[:] }

func (s ProcessingState) String() string {
	if s < 0 || s >= numStates {
		return fmt.Sprintf("ProcessingState(%d)", int32(s))
	}
	return stateNames[s]
}

// IsActive reports whether data is processed in this state.
func (s ProcessingState) IsActive() bool {
	return s == AutoDiagnostic || s == Calibrate || s == Run
}

// IsNormal reports whether s is a state a task may be asked to stay in.
func (s ProcessingState) IsNormal() bool {
	return s >= Initialize && s <= Stop
}

// ParseProcessingState returns the state named name.
func ParseProcessingState(name string) (ProcessingState, error) {
	idx := lo.IndexOf(stateNames[:], name)
	if idx < 0 {
		return Invalid, fmt.Errorf("task: unknown processing state %q", name)
	}
	return ProcessingState(idx), nil
}

// transitions gives, for a goal state (row) and the current state (column), the next state to
// enter. Active states go through Stop and Initialize before reaching another active state.
var transitions = [numStates][numStates]ProcessingState{
	Invalid:        {Invalid, Invalid, Invalid, Invalid, Invalid, Invalid, Invalid},
	Initialize:     {Initialize, Initialize, Stop, Stop, Stop, Initialize, Initialize},
	AutoDiagnostic: {Initialize, AutoDiagnostic, Stop, Stop, Stop, Initialize, Initialize},
	Calibrate:      {Initialize, Calibrate, Stop, Calibrate, Stop, Initialize, Initialize},
	Run:            {Initialize, Run, Stop, Stop, Run, Initialize, Initialize},
	Stop:           {Initialize, Stop, Stop, Stop, Stop, Stop, Initialize},
	Failure:        {Failure, Failure, Failure, Failure, Failure, Failure, Failure},
}

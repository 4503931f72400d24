package task

import (
	"fmt"

	"github.com/fogfactory/sidecar/parameter"
)

// Control is a message steering a task rather than carrying data. Controls are processed
// ahead of queued data.
type Control interface {
	control()
}

// ParametersChange applies a batch of parameter edits.
type ParametersChange struct {
	Request parameter.Request
}

// ProcessingStateChange asks the task to reach State.
type ProcessingStateChange struct {
	State ProcessingState
}

// RecordingStateChange starts or stops recording of the task's input data.
type RecordingStateChange struct {
	On   bool
	Path string
}

// ClearStats resets the input statistics.
type ClearStats struct{}

// Shutdown asks the task to release its resources.
type Shutdown struct{}

// Timeout is the expiration of the task's alarm timer.
type Timeout struct{}

func (ParametersChange) control()      {}
func (ProcessingStateChange) control() {}
func (RecordingStateChange) control()  {}
func (ClearStats) control()            {}
func (Shutdown) control()              {}
func (Timeout) control()               {}

func (c ParametersChange) String() string {
	return fmt.Sprintf("ParametersChange(%d)", len(c.Request.Changes))
}

func (c ProcessingStateChange) String() string {
	return "ProcessingStateChange(" + c.State.String() + ")"
}

func (c RecordingStateChange) String() string {
	if !c.On {
		return "RecordingStateChange(off)"
	}
	return "RecordingStateChange(" + c.Path + ")"
}

func (ClearStats) String() string { return "ClearStats" }
func (Shutdown) String() string   { return "Shutdown" }
func (Timeout) String() string    { return "Timeout" }

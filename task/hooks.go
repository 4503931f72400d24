package task

import (
	"github.com/fogfactory/sidecar/message"
	"github.com/fogfactory/sidecar/status"
)

// StateHooks is called by the state machine on each state entered on the way to a goal.
// A non-nil error sends the task to Failure.
type StateHooks interface {
	EnterInitialize() error
	EnterAutoDiagnostic() error
	EnterCalibrate() error
	EnterRun() error
	EnterStop() error
}

// NopHooks accepts every state.
type NopHooks struct{}

func (NopHooks) EnterInitialize() error     { return nil }
func (NopHooks) EnterAutoDiagnostic() error { return nil }
func (NopHooks) EnterCalibrate() error      { return nil }
func (NopHooks) EnterRun() error            { return nil }
func (NopHooks) EnterStop() error           { return nil }

// The interfaces below are optional; hooks implement the ones they need.

// ParameterChangeBracket is notified around the application of a parameter batch.
type ParameterChangeBracket interface {
	BeginParameterChanges()
	EndParameterChanges()
}

// StatsClearer resets statistics of its own on ClearStats.
type StatsClearer interface {
	ClearStats()
}

// RecordingHandler handles RecordingStateChange.
type RecordingHandler interface {
	RecordingStateChanged(RecordingStateChange) error
}

// ShutdownHandler handles Shutdown.
type ShutdownHandler interface {
	Shutdown()
}

// AlarmHandler handles Timeout.
type AlarmHandler interface {
	ProcessAlarm() error
}

// DemandSource adds a reason of its own for the task to keep using data.
type DemandSource interface {
	UsingData() bool
}

// StatusReporter adds fields to the task status.
type StatusReporter interface {
	ReportStatus(status.Sink)
}

// DataDeliverer receives the data messages accepted by a task.
type DataDeliverer interface {
	DeliverData(msg *message.Message, slot int) error
}

// ControlDeliverer takes over control messages, typically to queue them. It must end up
// calling Task.ProcessControl.
type ControlDeliverer interface {
	DeliverControl(Control) error
}

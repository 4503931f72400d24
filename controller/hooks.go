package controller

import (
	"fmt"

	"github.com/fogfactory/sidecar/message"
	"github.com/fogfactory/sidecar/status"
	"github.com/fogfactory/sidecar/task"
	"go.uber.org/zap"
)

// taskHooks plugs a Controller into its task: state transitions go to the algorithm and
// incoming messages go to the controller queue.
type taskHooks struct {
	c *Controller
}

func (h *taskHooks) algorithm() (Algorithm, error) {
	if h.c.algorithm == nil {
		return nil, ErrNoAlgorithm
	}
	return h.c.algorithm, nil
}

func (h *taskHooks) EnterInitialize() error {
	alg, err := h.algorithm()
	if err != nil {
		return err
	}
	return alg.Reset()
}

func (h *taskHooks) EnterAutoDiagnostic() error {
	alg, err := h.algorithm()
	if err != nil {
		return err
	}
	return alg.BeginAutoDiag()
}

func (h *taskHooks) EnterCalibrate() error {
	alg, err := h.algorithm()
	if err != nil {
		return err
	}
	return alg.BeginCalibration()
}

func (h *taskHooks) EnterRun() error {
	alg, err := h.algorithm()
	if err != nil {
		return err
	}
	return alg.BeginRun()
}

func (h *taskHooks) EnterStop() error {
	alg, err := h.algorithm()
	if err != nil {
		return err
	}
	return alg.Stop()
}

func (h *taskHooks) DeliverData(msg *message.Message, slot int) error {
	if err := h.c.queue.Put(item{data: msg, slot: slot}); err != nil {
		return fmt.Errorf("%w: %s", ErrClosed, h.c.Name())
	}
	return nil
}

func (h *taskHooks) DeliverControl(ctrl task.Control) error {
	if err := h.c.queue.PutUrgent(item{ctrl: ctrl}); err != nil {
		return fmt.Errorf("%w: %s", ErrClosed, h.c.Name())
	}
	return nil
}

func (h *taskHooks) BeginParameterChanges() {
	if o, ok := h.c.algorithm.(ParameterObserver); ok {
		o.BeginParameterChanges()
	}
}

func (h *taskHooks) EndParameterChanges() {
	if o, ok := h.c.algorithm.(ParameterObserver); ok {
		o.EndParameterChanges()
	}
}

func (h *taskHooks) ClearStats() {
	h.c.stats.reset()
	if s, ok := h.c.algorithm.(StatsClearer); ok {
		s.ClearStats()
	}
}

// ProcessAlarm runs the algorithm alarm handler only while the controller is active.
func (h *taskHooks) ProcessAlarm() error {
	if !h.c.IsActive() {
		return nil
	}
	p, ok := h.c.algorithm.(AlarmProcessor)
	if !ok {
		return nil
	}
	h.c.Metrics().Alarm(h.c.Name())
	return p.ProcessAlarm()
}

func (h *taskHooks) RecordingStateChanged(rc task.RecordingStateChange) error {
	return h.c.setRecording(rc)
}

// Shutdown runs on the processing goroutine. The goroutine exits once the queue is
// deactivated.
func (h *taskHooks) Shutdown() {
	if err := h.c.shutdown(); err != nil {
		h.c.log.Warn("algorithm shutdown failed", zap.Error(err))
	}
	h.c.queue.Deactivate()
}

// UsingData keeps the controller fed while recording is enabled.
func (h *taskHooks) UsingData() bool {
	return h.c.recordingEnabled.Get()
}

func (h *taskHooks) ReportStatus(sink status.Sink) {
	c := h.c
	avg, lo, hi := c.stats.snapshot()
	sink.Set("algorithmName", c.algorithmName)
	sink.Set("recordingEnabled", c.recordingEnabled.Get())
	sink.Set("recordingOn", c.recording.Load())
	sink.Set("recordingQueueCount", c.recordingQueueCount())
	sink.Set("averageProcessingTime", avg)
	sink.Set("minimumProcessingTime", lo)
	sink.Set("maximumProcessingTime", hi)
	sink.Set("queued", c.queue.Len())
	sink.Set("timerSecs", c.TimerSecs())
	if r, ok := c.algorithm.(StatusReporter); ok {
		r.ReportStatus(sink)
	}
}

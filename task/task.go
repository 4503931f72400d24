// Package task implements the lifecycle shared by every pipeline stage: the processing state
// machine, demand tracking across channels, parameters, input statistics and status.
package task

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fogfactory/sidecar/channel"
	"github.com/fogfactory/sidecar/internal/metrics"
	"github.com/fogfactory/sidecar/message"
	"github.com/fogfactory/sidecar/parameter"
	"github.com/fogfactory/sidecar/status"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Task is a pipeline stage. It is the recipient of its input channels and the sender of
// its output channels.
type Task struct {
	name    string
	index   int
	log     *zap.Logger
	metrics *metrics.Metrics

	hooks     StateHooks
	deliverer DataDeliverer

	inputs  channel.Channels
	outputs channel.Channels
	stats   []*InputStats

	transitionMu sync.Mutex
	state        atomic.Int32
	lastState    atomic.Int32
	failPending  atomic.Bool

	errMu   sync.RWMutex
	errText string

	usingData atomic.Bool

	params          *parameter.Registry
	alwaysUsingData *parameter.Value[bool]
	stateParam      *parameter.Value[int]
}

// Option configures a Task.
type Option func(*Task)

func WithLogger(log *zap.Logger) Option     { return func(t *Task) { t.log = log } }
func WithMetrics(m *metrics.Metrics) Option { return func(t *Task) { t.metrics = m } }
func WithHooks(hooks StateHooks) Option     { return func(t *Task) { t.hooks = hooks } }
func WithDeliverer(d DataDeliverer) Option  { return func(t *Task) { t.deliverer = d } }
func WithIndex(index int) Option            { return func(t *Task) { t.index = index } }
func AlwaysUsingData(always bool) Option    { return func(t *Task) { _ = t.alwaysUsingData.SetOriginal(always) } }

// New returns a task in the Invalid state. It has to be initialized with
// EnterState(Initialize) once wired.
func New(name string, opts ...Option) *Task {
	t := &Task{
		name:            name,
		log:             zap.NewNop(),
		hooks:           NopHooks{},
		params:          parameter.NewRegistry(),
		alwaysUsingData: parameter.NewBool("alwaysUsingData", false, parameter.WithLabel("Always Using Data"), parameter.Advanced()),
		stateParam:      parameter.NewEnum("processingState", StateNames(), int(Invalid), parameter.WithLabel("Processing State")),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With(zap.String("task", name))
	t.alwaysUsingData.OnChange(func(bool) { t.UpdateUsingData() })
	// an edited processingState is a state request; publishState writes back the current state
	t.stateParam.OnChange(func(v int) {
		if goal := ProcessingState(v); goal != t.State() {
			_ = t.EnterState(goal)
		}
	})
	// the registry is empty, names cannot collide
	_ = t.params.Register(t.alwaysUsingData, t.stateParam)
	return t
}

func (t *Task) Name() string                    { return t.name }
func (t *Task) Index() int                      { return t.index }
func (t *Task) Logger() *zap.Logger             { return t.log }
func (t *Task) Metrics() *metrics.Metrics       { return t.metrics }
func (t *Task) Parameters() *parameter.Registry { return t.params }
func (t *Task) Inputs() channel.Channels        { return t.inputs }
func (t *Task) Outputs() channel.Channels       { return t.outputs }

// Base returns t. Types embedding a Task use it to expose the underlying task.
func (t *Task) Base() *Task { return t }

// Close releases nothing; embedding types override it.
func (t *Task) Close() error { return nil }

// AddInput subscribes the task to ch and returns the input slot assigned to it.
func (t *Task) AddInput(ch *channel.Channel) int {
	slot := len(t.inputs)
	t.inputs = append(t.inputs, ch)
	t.stats = append(t.stats, newInputStats())
	ch.AddRecipient(t, slot)
	return slot
}

// AddOutput makes the task the sender of ch.
func (t *Task) AddOutput(ch *channel.Channel) {
	t.outputs = append(t.outputs, ch)
	ch.SetSender(t)
}

// Output returns the output channel named name, or nil.
func (t *Task) Output(name string) *channel.Channel {
	return t.outputs.At(t.outputs.Find(name))
}

// InputStats returns the statistics of an input slot.
func (t *Task) InputStats(slot int) (InputSnapshot, bool) {
	if slot < 0 || slot >= len(t.stats) {
		return InputSnapshot{}, false
	}
	return t.stats[slot].Snapshot(), true
}

// ResetStats zeroes the statistics of every input.
func (t *Task) ResetStats() {
	for _, s := range t.stats {
		s.Reset()
	}
}

// PutInChannel accepts a data message on an input slot. Messages arriving in Failure are
// counted and dropped.
func (t *Task) PutInChannel(msg *message.Message, slot int) error {
	if slot < 0 || slot >= len(t.stats) {
		return fmt.Errorf("%w: %s has no slot %d", ErrInvalidSlot, t.name, slot)
	}
	size := msg.Size()
	t.stats[slot].record(msg.Header().Sequence, size)
	t.metrics.Received(t.name, slot, size)

	if t.State() == Failure {
		t.metrics.Dropped(t.name, metrics.DropFailure)
		return nil
	}
	if t.deliverer == nil {
		return fmt.Errorf("%w: %s", ErrNoDataHandler, t.name)
	}
	return t.deliverer.DeliverData(msg, slot)
}

// PutControl hands ctrl to the task's ControlDeliverer when it has one, or processes it
// right away.
func (t *Task) PutControl(ctrl Control) error {
	if cd, ok := t.deliverer.(ControlDeliverer); ok {
		return cd.DeliverControl(ctrl)
	}
	return t.ProcessControl(ctrl)
}

// ProcessControl executes a control message.
func (t *Task) ProcessControl(ctrl Control) error {
	t.log.Debug("processing control", zap.Any("control", ctrl))
	switch c := ctrl.(type) {
	case ParametersChange:
		return t.applyParameters(c.Request)
	case ProcessingStateChange:
		return t.EnterState(c.State)
	case RecordingStateChange:
		if h, ok := t.hooks.(RecordingHandler); ok {
			return t.check(h.RecordingStateChanged(c))
		}
		return nil
	case ClearStats:
		t.ResetStats()
		if h, ok := t.hooks.(StatsClearer); ok {
			h.ClearStats()
		}
		return nil
	case Shutdown:
		if h, ok := t.hooks.(ShutdownHandler); ok {
			h.Shutdown()
		}
		return nil
	case Timeout:
		if h, ok := t.hooks.(AlarmHandler); ok {
			return t.check(h.ProcessAlarm())
		}
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnknownControl, ctrl)
	}
}

// check sends the task to Failure when err is not nil.
func (t *Task) check(err error) error {
	if err != nil {
		t.SetError(err.Error())
	}
	return err
}

func (t *Task) applyParameters(req parameter.Request) error {
	bracket, _ := t.hooks.(ParameterChangeBracket)
	if bracket != nil {
		bracket.BeginParameterChanges()
	}
	err := t.params.Apply(req)
	if bracket != nil {
		bracket.EndParameterChanges()
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, parameter.ErrInvalidValue) {
		t.SetError(err.Error())
		return err
	}
	t.log.Warn("parameter change ignored", zap.Error(err))
	return err
}

// State returns the current processing state.
func (t *Task) State() ProcessingState { return ProcessingState(t.state.Load()) }

// LastProcessingState returns the last normal state requested.
func (t *Task) LastProcessingState() ProcessingState { return ProcessingState(t.lastState.Load()) }

// IsActive reports whether the task is in a data processing state.
func (t *Task) IsActive() bool { return t.State().IsActive() }

// ErrorText returns the reason of the last failure, empty when none.
func (t *Task) ErrorText() string {
	t.errMu.RLock()
	defer t.errMu.RUnlock()
	return t.errText
}

func (t *Task) setErrorText(text string) {
	t.errMu.Lock()
	t.errText = text
	t.errMu.Unlock()
}

// ClearError forgets the last failure reason.
func (t *Task) ClearError() { t.setErrorText("") }

// SetError records text and sends the task to Failure. The first reason is kept until the
// error is cleared. When a transition is in progress the failure is applied by the
// transition once the current hook returns.
func (t *Task) SetError(text string) {
	t.log.Error("task failure", zap.String("error", text))
	t.errMu.Lock()
	if t.errText == "" {
		t.errText = text
	}
	t.errMu.Unlock()
	t.failPending.Store(true)
	t.applyPendingFailure()
}

func (t *Task) applyPendingFailure() {
	for t.failPending.Load() {
		if !t.transitionMu.TryLock() {
			return
		}
		if t.failPending.Swap(false) {
			t.enterFailure()
			t.publishState()
		}
		t.transitionMu.Unlock()
		t.UpdateUsingData()
	}
}

// EnterState walks the transition table from the current state to goal, calling the hook
// of every state on the way. A failing hook, or an unreachable goal, leaves the task in
// Failure. From Failure only Initialize is accepted.
func (t *Task) EnterState(goal ProcessingState) error {
	t.transitionMu.Lock()
	err := t.enterState(goal)
	t.transitionMu.Unlock()
	t.UpdateUsingData()
	t.applyPendingFailure()
	return err
}

// EnterLastProcessingState clears the error and re-enters the last normal state requested.
func (t *Task) EnterLastProcessingState() error {
	t.ClearError()
	last := t.LastProcessingState()
	if last == Invalid {
		last = Initialize
	}
	if t.State() == Failure && last != Initialize {
		if err := t.EnterState(Initialize); err != nil {
			return err
		}
	}
	return t.EnterState(last)
}

func (t *Task) enterState(goal ProcessingState) error {
	current := t.State()
	t.log.Info("entering state", zap.Stringer("current", current), zap.Stringer("goal", goal))
	if goal == Failure {
		if t.ErrorText() == "" {
			t.setErrorText("Unknown")
		}
		t.enterFailure()
		t.publishState()
		return nil
	}
	if current == Failure && goal != Initialize {
		return fmt.Errorf("%w: %s to %s, Initialize first", ErrInvalidTransition, current, goal)
	}
	if goal.IsNormal() {
		t.lastState.Store(int32(goal))
	}

	var err error
	for current != goal {
		next := transitions[goal][current]
		if err = t.enter(next); err != nil {
			break
		}
		if t.failPending.Swap(false) {
			err = fmt.Errorf("%w: %s", ErrFailureRequested, t.ErrorText())
			break
		}
		t.setState(next)
		current = next
	}
	if err != nil {
		if t.ErrorText() == "" {
			t.setErrorText(err.Error())
		}
		t.log.Error("transition failed", zap.Stringer("goal", goal), zap.Error(err))
		t.enterFailure()
	}
	t.publishState()
	return err
}

func (t *Task) enter(next ProcessingState) error {
	var err error
	switch next {
	case Initialize:
		t.ResetStats()
		t.ClearError()
		err = t.hooks.EnterInitialize()
	case AutoDiagnostic:
		t.ResetStats()
		err = t.hooks.EnterAutoDiagnostic()
	case Calibrate:
		t.ResetStats()
		err = t.hooks.EnterCalibrate()
	case Run:
		t.ResetStats()
		err = t.hooks.EnterRun()
	case Stop:
		err = t.hooks.EnterStop()
	default:
		return fmt.Errorf("%w: no path to %s", ErrInvalidTransition, next)
	}
	if err != nil {
		return fmt.Errorf("task: entering %s: %w", next, err)
	}
	return nil
}

// enterFailure visits Stop unless already there, then settles in Failure.
func (t *Task) enterFailure() {
	current := t.State()
	if current == Failure {
		return
	}
	if current != Stop {
		if err := t.hooks.EnterStop(); err != nil {
			t.log.Warn("stop hook failed on the way to failure", zap.Error(err))
		}
	}
	t.setState(Failure)
}

func (t *Task) setState(s ProcessingState) {
	t.state.Store(int32(s))
	t.metrics.Transition(t.name, s.String())
	t.log.Debug("state entered", zap.Stringer("state", s))
}

func (t *Task) publishState() {
	_ = t.stateParam.SetValue(int(t.State()))
}

// IsUsingData reports whether the task output is consumed, or the task wants data anyway.
func (t *Task) IsUsingData() bool { return t.usingData.Load() }

// SetUsingData is called by downstream recipients. true is taken as is; false makes the
// task recompute its demand from its outputs. A change is propagated to the senders of the
// task's inputs, and becoming active resets the input statistics.
func (t *Task) SetUsingData(usingData bool) {
	if !usingData {
		usingData = t.calculateUsingData()
	}
	if t.usingData.Swap(usingData) == usingData {
		return
	}
	if usingData {
		t.ResetStats()
	}
	t.metrics.SetUsingData(t.name, usingData)
	t.log.Debug("using data changed", zap.Bool("usingData", usingData))
	t.inputs.UpdateSendersUsingData(usingData)
}

// UpdateUsingData recomputes the demand of the task.
func (t *Task) UpdateUsingData() { t.SetUsingData(false) }

func (t *Task) calculateUsingData() bool {
	if t.alwaysUsingData.Get() || t.State() == AutoDiagnostic || t.outputs.AreAnyRecipientsUsingData() {
		return true
	}
	if d, ok := t.hooks.(DemandSource); ok {
		return d.UsingData()
	}
	return false
}

// FillStatus writes the task report to sink.
func (t *Task) FillStatus(sink status.Sink) {
	sink.Set("name", t.name)
	sink.Set("index", t.index)
	sink.Set("processingState", t.State())
	sink.Set("error", t.ErrorText())
	sink.Set("usingData", t.IsUsingData())
	sink.Set("hasParameters", t.params.Len() > 0)
	sink.Set("outputs", t.outputs.Names())

	snaps := lo.Map(t.stats, func(s *InputStats, _ int) InputSnapshot { return s.Snapshot() })
	for i, snap := range snaps {
		in := status.Prefixed(sink, "inputs."+t.inputs[i].Name())
		in.Set("messages", snap.Messages)
		in.Set("bytes", snap.Bytes)
		in.Set("drops", snap.Drops)
		in.Set("dupes", snap.Dupes)
		in.Set("messageRate", snap.MessageRate)
		in.Set("byteRate", snap.ByteRate)
	}
	sink.Set("messages", lo.SumBy(snaps, func(s InputSnapshot) uint64 { return s.Messages }))

	if r, ok := t.hooks.(StatusReporter); ok {
		r.ReportStatus(sink)
	}
}

func (t *Task) String() string {
	return fmt.Sprintf("Task(%s, %s)", t.name, t.State())
}

// Package controller hosts an Algorithm inside a pipeline task. A Controller queues the
// messages it receives and processes them on its own goroutine, control messages first, and
// maps task state transitions onto the algorithm hooks.
package controller

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fogfactory/sidecar/internal/logging"
	"github.com/fogfactory/sidecar/internal/metrics"
	"github.com/fogfactory/sidecar/internal/queue"
	"github.com/fogfactory/sidecar/message"
	"github.com/fogfactory/sidecar/parameter"
	"github.com/fogfactory/sidecar/task"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CloseReason tells CloseWith who is closing the controller.
type CloseReason int

const (
	// CloseThreadExit is used by the processing goroutine once it stopped on its own, after
	// the algorithm was shut down.
	CloseThreadExit CloseReason = iota
	// CloseExternal stops the processing goroutine, then shuts the algorithm down.
	CloseExternal
)

type item struct {
	data  *message.Message
	slot  int
	ctrl  task.Control
	reply chan error
}

// Controller is a task running an Algorithm.
type Controller struct {
	*task.Task

	log           *zap.Logger
	level         zap.AtomicLevel
	algorithmName string
	algorithm     Algorithm

	queue   *queue.Queue[item]
	started atomic.Bool
	done    chan struct{}

	procMu     sync.RWMutex
	processors []Processor
	sequences  []atomic.Uint32

	logLevel            *parameter.Value[int]
	recordingEnabled    *parameter.Value[bool]
	recordingCompressed *parameter.Value[bool]

	recMu     sync.Mutex
	recorders []*Recorder
	recording atomic.Bool

	timerMu   sync.Mutex
	timerSecs int
	stopTimer context.CancelFunc
	timerDone chan struct{}

	stats processingStats

	shutdownOnce sync.Once
	shutdownErr  error
	shutDown     atomic.Bool
}

// New returns a controller without an algorithm. Wire its channels, then call OpenAndInit.
func New(name string, opts ...task.Option) *Controller {
	c := &Controller{
		queue: queue.New[item](),
		done:  make(chan struct{}),
		level: zap.NewAtomicLevelAt(zapcore.InfoLevel),
	}
	c.logLevel = parameter.NewEnum("logLevel", logging.Levels, lo.IndexOf(logging.Levels, "info"),
		parameter.WithLabel("Log Level"), parameter.Advanced())
	c.recordingEnabled = parameter.NewBool("recordingEnabled", false, parameter.WithLabel("Recording Enabled"))
	c.recordingCompressed = parameter.NewBool("recordingCompressed", false,
		parameter.WithLabel("Compress Recordings"), parameter.Advanced())

	hooks := &taskHooks{c: c}
	opts = append(slices.Clone(opts), task.WithHooks(hooks), task.WithDeliverer(hooks))
	c.Task = task.New(name, opts...)
	c.log = logging.WithLevel(c.Task.Logger(), c.level)

	c.logLevel.OnChange(func(idx int) {
		lvl, err := logging.ParseLevel(logging.Levels[idx])
		if err == nil {
			c.level.SetLevel(lvl)
		}
	})
	c.recordingEnabled.OnChange(func(bool) { c.UpdateUsingData() })
	// names are unique among the task built-ins
	_ = c.Parameters().Register(c.logLevel, c.recordingEnabled, c.recordingCompressed)
	return c
}

func (c *Controller) Logger() *zap.Logger   { return c.log }
func (c *Controller) AlgorithmName() string { return c.algorithmName }
func (c *Controller) Algorithm() Algorithm  { return c.algorithm }
func (c *Controller) IsRecording() bool     { return c.recording.Load() }

// OpenAndInit loads algorithmName from the Default registry. See Open.
func (c *Controller) OpenAndInit(algorithmName string) error {
	return c.Open(Default, algorithmName)
}

// Open creates the algorithm named algorithmName from reg, runs its Startup hook and starts
// the processing goroutine. On failure the controller is left in Failure.
func (c *Controller) Open(reg *Registry, algorithmName string) error {
	c.log.Info("opening", zap.String("algorithm", algorithmName))
	c.algorithmName = algorithmName
	c.sequences = make([]atomic.Uint32, len(c.Outputs()))

	factory, ok := reg.Lookup(algorithmName)
	if !ok {
		c.SetError("Failed to load algorithm")
		return fmt.Errorf("%w: %q is not registered", ErrAlgorithmLoadFailed, algorithmName)
	}
	alg, err := factory(c, c.log.Named(algorithmName))
	if err != nil {
		c.SetError("Failed to load algorithm")
		return fmt.Errorf("%w: %s: %w", ErrAlgorithmLoadFailed, algorithmName, err)
	}
	c.algorithm = alg

	if err := alg.Startup(); err != nil {
		c.SetError("Failed to start algorithm")
		return fmt.Errorf("%w: %s: %w", ErrAlgorithmStartupFailed, algorithmName, err)
	}

	c.started.Store(true)
	go c.serve()
	return nil
}

func (c *Controller) serve() {
	defer close(c.done)
	c.log.Info("processing started")
	for {
		it, err := c.queue.Get()
		if err != nil {
			break
		}
		c.processItem(it)
	}
	c.log.Info("processing stopped")
	if c.shutDown.Load() {
		_ = c.CloseWith(CloseThreadExit)
	}
}

func (c *Controller) processItem(it item) {
	if it.ctrl == nil {
		c.processData(it.data, it.slot)
		return
	}
	err := c.ProcessControl(it.ctrl)
	if err != nil {
		c.log.Warn("control failed", zap.Any("control", it.ctrl), zap.Error(err))
	}
	if it.reply != nil {
		it.reply <- err
	}
}

func (c *Controller) processData(msg *message.Message, slot int) {
	if !c.IsActive() {
		c.Metrics().Dropped(c.Name(), metrics.DropInactive)
		return
	}
	proc := c.processor(slot)
	if proc == nil {
		c.Metrics().Dropped(c.Name(), metrics.DropNoRoute)
		c.log.Warn("no processor for input", zap.Int("slot", slot))
		return
	}

	start := time.Now()
	err := proc(msg)
	elapsed := time.Since(start)
	c.stats.add(elapsed)
	c.Metrics().Processed(c.Name(), elapsed)
	if err != nil {
		c.log.Error("failed to process message", zap.Int("slot", slot), zap.Error(err))
		c.SetError("Failed to process message: " + err.Error())
	}
}

// Apply queues ctrl ahead of pending data and waits until the processing goroutine has
// executed it. A controller without a running algorithm returns ErrNoAlgorithm.
func (c *Controller) Apply(ctx context.Context, ctrl task.Control) error {
	if !c.started.Load() {
		return fmt.Errorf("%w: %s", ErrNoAlgorithm, c.Name())
	}
	reply := make(chan error, 1)
	if err := c.queue.PutUrgent(item{ctrl: ctrl, reply: reply}); err != nil {
		return fmt.Errorf("%w: %s", ErrClosed, c.Name())
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectProcessingStateChange queues a request to reach state.
func (c *Controller) InjectProcessingStateChange(state task.ProcessingState) error {
	return c.PutControl(task.ProcessingStateChange{State: state})
}

// Send stamps native with the next sequence number of output channel index and delivers it.
func (c *Controller) Send(native message.Native, index int) error {
	if index < 0 || index >= len(c.sequences) {
		return fmt.Errorf("%w: output %d of %s", ErrNoSuchChannel, index, c.Name())
	}
	h := native.Meta()
	h.Sequence = c.sequences[index].Add(1)
	h.Emitted = time.Now().UTC()
	return c.SendAsIs(message.MakeNative(native), index)
}

// SendByName sends native on the output channel called name.
func (c *Controller) SendByName(native message.Native, name string) error {
	index := c.Outputs().Find(name)
	if index < 0 {
		return fmt.Errorf("%w: output %q of %s", ErrNoSuchChannel, name, c.Name())
	}
	return c.Send(native, index)
}

// SendAsIs delivers msg on output channel index without touching its header. Data is
// recorded first when recording is on.
func (c *Controller) SendAsIs(msg *message.Message, index int) error {
	ch := c.Outputs().At(index)
	if ch == nil {
		return fmt.Errorf("%w: output %d of %s", ErrNoSuchChannel, index, c.Name())
	}
	if c.recording.Load() {
		if err := c.record(msg, index); err != nil {
			c.SetError("Failed to record data")
			return err
		}
	}
	n, err := ch.Deliver(msg)
	c.Metrics().Delivered(ch.Name(), n)
	return err
}

// SetTimerSecs arms the alarm timer with a period of secs seconds. 0 disarms it.
func (c *Controller) SetTimerSecs(secs int) {
	c.SetTimer(time.Duration(secs) * time.Second)
}

// SetTimer arms the alarm timer. Every period a Timeout control is queued and, while the
// controller is active, handed to the algorithm. A period <= 0 disarms the timer.
func (c *Controller) SetTimer(period time.Duration) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	c.disarmLocked()
	c.timerSecs = int(period / time.Second)
	if period <= 0 {
		return
	}
	c.log.Info("starting alarm timer", zap.Duration("period", period))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.stopTimer, c.timerDone = cancel, done
	go func() {
		defer close(done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.PutControl(task.Timeout{}); err != nil {
					c.log.Info("alarm timer stopped", zap.Error(err))
					return
				}
			}
		}
	}()
}

// TimerSecs returns the alarm period in whole seconds.
func (c *Controller) TimerSecs() int {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	return c.timerSecs
}

func (c *Controller) disarmLocked() {
	if c.stopTimer == nil {
		return
	}
	c.stopTimer()
	<-c.timerDone
	c.stopTimer, c.timerDone = nil, nil
}

// Close stops the controller from the outside. See CloseWith.
func (c *Controller) Close() error {
	return c.CloseWith(CloseExternal)
}

// CloseWith releases the controller. With CloseExternal the queue is deactivated, the
// processing goroutine joined and the algorithm shut down. With CloseThreadExit the
// algorithm was already shut down by a Shutdown control.
func (c *Controller) CloseWith(reason CloseReason) error {
	c.log.Info("closing", zap.Int("reason", int(reason)))
	c.timerMu.Lock()
	c.disarmLocked()
	c.timerMu.Unlock()

	var err error
	if reason == CloseExternal {
		c.queue.Deactivate()
		if c.started.Load() {
			<-c.done
		}
		err = c.shutdown()
	}
	c.stopRecordings()
	return err
}

// Done is closed once the processing goroutine has exited.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) shutdown() error {
	c.shutdownOnce.Do(func() {
		c.shutDown.Store(true)
		if c.algorithm != nil {
			c.log.Info("shutting down algorithm")
			c.shutdownErr = c.algorithm.Shutdown()
		}
	})
	return c.shutdownErr
}

// Package stream wires controllers into a processing pipeline and drives them as a whole.
//
// A Stream is assembled in three steps: Add creates the stages, Connect and Input wire
// their channels, then Open loads the algorithm of every stage. Channels must be wired
// before a stage is opened.
package stream

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/fogfactory/sidecar/channel"
	"github.com/fogfactory/sidecar/controller"
	"github.com/fogfactory/sidecar/internal/metrics"
	"github.com/fogfactory/sidecar/message"
	"github.com/fogfactory/sidecar/status"
	"github.com/fogfactory/sidecar/task"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Stream is a set of controllers and the channels linking them.
type Stream struct {
	name     string
	id       uuid.UUID
	log      *zap.Logger
	metrics  *metrics.Metrics
	registry *controller.Registry

	mu       sync.RWMutex
	stages   []*controller.Controller
	channels map[string]*channel.Channel
	input    *channel.Channel

	// demand of the first stage for injected messages
	usingData atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

type Option func(*Stream)

// WithLogger sets the parent logger of every stage.
func WithLogger(log *zap.Logger) Option { return func(s *Stream) { s.log = log } }

// WithMetrics sets the collectors shared by every stage.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Stream) { s.metrics = m } }

// WithRegistry sets where algorithms are looked up. It defaults to controller.Default.
func WithRegistry(reg *controller.Registry) Option { return func(s *Stream) { s.registry = reg } }

func New(name string, opts ...Option) *Stream {
	s := &Stream{
		name:     name,
		id:       uuid.New(),
		log:      zap.NewNop(),
		registry: controller.Default,
		channels: make(map[string]*channel.Channel),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named(name).With(zap.Stringer("instance", s.id))
	return s
}

func (s *Stream) Name() string  { return s.name }
func (s *Stream) ID() uuid.UUID { return s.id }

// Add creates a stage called name.
func (s *Stream) Add(name string, opts ...task.Option) (*controller.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stageLocked(name) != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateStage, name)
	}
	opts = append([]task.Option{
		task.WithLogger(s.log.Named(name)),
		task.WithMetrics(s.metrics),
		task.WithIndex(len(s.stages)),
	}, opts...)
	c := controller.New(name, opts...)
	s.stages = append(s.stages, c)
	return c, nil
}

// Stage returns the stage called name, or nil.
func (s *Stream) Stage(name string) *controller.Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stageLocked(name)
}

func (s *Stream) stageLocked(name string) *controller.Controller {
	c, _ := lo.Find(s.stages, func(c *controller.Controller) bool { return c.Name() == name })
	return c
}

// Stages returns the stages in the order they were added.
func (s *Stream) Stages() []*controller.Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.stages)
}

// Connect links the output channel called name of stage from to the given stages. The
// channel is created on first use; connecting it again fans it out to more stages.
func (s *Stream) Connect(from, name string, info *message.TypeInfo, to ...string) (*channel.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sender := s.stageLocked(from)
	if sender == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, from)
	}
	ch, ok := s.channels[name]
	switch {
	case !ok:
		ch = channel.New(name, info)
		sender.AddOutput(ch)
		s.channels[name] = ch
	case ch.TypeInfo().Key != info.Key:
		return nil, fmt.Errorf("%w: %s carries %s, not %s", ErrTypeConflict, name, ch.TypeInfo(), info)
	case ch.Sender() != channel.Sender(sender.Task):
		return nil, fmt.Errorf("%w: %s already has a sender", ErrDuplicateStage, name)
	}
	return ch, s.subscribeLocked(ch, to)
}

func (s *Stream) subscribeLocked(ch *channel.Channel, to []string) error {
	for _, name := range to {
		recipient := s.stageLocked(name)
		if recipient == nil {
			return fmt.Errorf("%w: %s", ErrUnknownStage, name)
		}
		recipient.AddInput(ch)
	}
	return nil
}

// Input creates the channel Inject feeds, going to the given stages.
func (s *Stream) Input(name string, info *message.TypeInfo, to ...string) (*channel.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[name]; ok {
		return nil, fmt.Errorf("%w: channel %s exists", ErrInvalid, name)
	}
	ch := channel.New(name, info)
	ch.SetSender(&source{s: s, ch: ch})
	if err := s.subscribeLocked(ch, to); err != nil {
		return nil, err
	}
	s.channels[name] = ch
	s.input = ch
	return ch, nil
}

// Tap adds fn as a recipient of the channel called name. A tap always wants data.
func (s *Stream) Tap(name string, fn func(*message.Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[name]
	if !ok {
		return fmt.Errorf("%w: no channel %s", ErrInvalid, name)
	}
	ch.AddRecipient(tap{name: s.name + ".tap." + name, fn: fn}, 0)
	ch.UpdateSenderUsingData(true)
	return nil
}

// Channel returns the channel called name, or nil.
func (s *Stream) Channel(name string) *channel.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels[name]
}

// Open loads algorithm into stage.
func (s *Stream) Open(stage, algorithm string) error {
	c := s.Stage(stage)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}
	return c.Open(s.registry, algorithm)
}

// UpdateUsingData recomputes the demand of every stage, consumers first.
func (s *Stream) UpdateUsingData() {
	stages := s.Stages()
	for _, c := range slices.Backward(stages) {
		c.UpdateUsingData()
	}
}

// IsUsingData reports whether a stage wants the injected messages.
func (s *Stream) IsUsingData() bool { return s.usingData.Load() }

// Inject delivers msg on the input channel. It is dropped when no stage wants it.
func (s *Stream) Inject(msg *message.Message) error {
	s.mu.RLock()
	input := s.input
	s.mu.RUnlock()
	if input == nil {
		return ErrNoInput
	}
	_, err := input.Deliver(msg)
	return err
}

// Put queues ctrl on every stage.
func (s *Stream) Put(ctrl task.Control) error {
	return errors.Join(lo.Map(s.Stages(), func(c *controller.Controller, _ int) error { return c.PutControl(ctrl) })...)
}

// Apply hands ctrl to every stage, consumers first, waiting for each stage to process it.
func (s *Stream) Apply(ctx context.Context, ctrl task.Control) error {
	var errs []error
	for _, c := range slices.Backward(s.Stages()) {
		if err := c.Apply(ctx, ctrl); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// SetProcessingState moves every stage to state.
func (s *Stream) SetProcessingState(ctx context.Context, state task.ProcessingState) error {
	return s.Apply(ctx, task.ProcessingStateChange{State: state})
}

// Status returns the report of every stage, stamped with the stream name and instance.
func (s *Stream) Status() []*status.Snapshot {
	return lo.Map(s.Stages(), func(c *controller.Controller, _ int) *status.Snapshot {
		snap := status.NewSnapshot()
		snap.Set("stream", s.name)
		snap.Set("instance", s.id.String())
		c.FillStatus(snap)
		return snap
	})
}

// Close closes every stage concurrently.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		var g errgroup.Group
		for _, c := range s.Stages() {
			g.Go(c.Close)
		}
		s.closeErr = g.Wait()
		s.log.Info("closed")
	})
	return s.closeErr
}

// source is the sender of the input channel.
type source struct {
	s  *Stream
	ch *channel.Channel
}

func (src *source) SetUsingData(usingData bool) {
	if !usingData {
		usingData = src.ch.AreAnyRecipientsUsingData()
	}
	src.s.usingData.Store(usingData)
}

type tap struct {
	name string
	fn   func(*message.Message)
}

func (t tap) Name() string      { return t.name }
func (t tap) IsUsingData() bool { return true }

func (t tap) PutInChannel(msg *message.Message, _ int) error {
	t.fn(msg)
	return nil
}

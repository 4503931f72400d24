package controller

import (
	"fmt"
	"slices"
	"sync"

	"github.com/fogfactory/sidecar/status"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Algorithm is the processing unit hosted by a Controller. The Begin hooks and Stop are
// called on the matching state transitions; an error sends the controller to Failure.
//
// Startup runs once, before the processing goroutine starts. It is where an algorithm
// registers its processors and parameters.
type Algorithm interface {
	Startup() error
	Shutdown() error
	Reset() error
	BeginAutoDiag() error
	BeginCalibration() error
	BeginRun() error
	Stop() error
}

// Nop implements Algorithm with hooks that do nothing. Embed it to only write the hooks
// an algorithm cares about.
type Nop struct{}

func (Nop) Startup() error          { return nil }
func (Nop) Shutdown() error         { return nil }
func (Nop) Reset() error            { return nil }
func (Nop) BeginAutoDiag() error    { return nil }
func (Nop) BeginCalibration() error { return nil }
func (Nop) BeginRun() error         { return nil }
func (Nop) Stop() error             { return nil }

// ParameterObserver brackets each batch of parameter changes.
type ParameterObserver interface {
	BeginParameterChanges()
	EndParameterChanges()
}

// AlarmProcessor receives the alarm timer expirations while the controller is active.
type AlarmProcessor interface {
	ProcessAlarm() error
}

type StatsClearer interface {
	ClearStats()
}

type RecordingObserver interface {
	RecordingStarted()
	RecordingStopped()
}

// StatusReporter adds algorithm fields to the controller status.
type StatusReporter interface {
	ReportStatus(status.Sink)
}

// Factory creates an algorithm bound to c. log is the controller logger, named after the
// algorithm.
type Factory func(c *Controller, log *zap.Logger) (Algorithm, error)

// Registry maps algorithm names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Default is the registry algorithm packages register into from their init functions.
var Default = NewRegistry()

// Register binds name to f in the Default registry. It panics when name is taken.
func Register(name string, f Factory) {
	if err := Default.Register(name, f); err != nil {
		panic(err)
	}
}

func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateAlgorithm, name)
	}
	r.factories[name] = f
	return nil
}

func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.factories)
	slices.Sort(names)
	return names
}

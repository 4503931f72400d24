// Package workpool spreads the windows of a message over worker goroutines and waits for
// all of them before the message moves on.
//
// Requests cycle through three queues: idle requests wait to be reused, pending requests
// wait for a worker, finished requests wait for the submitter's barrier.
package workpool

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fogfactory/sidecar/internal/queue"
	gometrics "github.com/hashicorp/go-metrics"
	"go.uber.org/zap"
)

var (
	MetricSubmitted       = []string{"workpool", "submitted", "count"}
	MetricBarrierWait     = []string{"workpool", "barrier", "wait", "ms"}
	MetricReconfigured    = []string{"workpool", "reconfigured", "count"}
	MetricIdleRequests    = []string{"workpool", "idle", "requests"}
	MetricRunningWorkers  = []string{"workpool", "workers"}
	MetricActivationError = []string{"workpool", "activation", "error", "count"}
)

// Config sizes a pool.
type Config struct {
	Workers int
	FFTSize int
	// Kernel is the kernel spectrum shared by every request, FFTSize values long.
	Kernel []complex128
}

func (c Config) validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("%w: %d workers", ErrInvalidConfig, c.Workers)
	case c.FFTSize < 1:
		return fmt.Errorf("%w: fft size %d", ErrInvalidConfig, c.FFTSize)
	case len(c.Kernel) != c.FFTSize:
		return fmt.Errorf("%w: kernel of %d values for fft size %d", ErrInvalidConfig, len(c.Kernel), c.FFTSize)
	}
	return nil
}

// Stats is a snapshot of the pool queues.
type Stats struct {
	Idle     int
	Pending  int
	Finished int
	Created  int
	Workers  int
}

// Pool is a bounded set of workers. Acquire, Submit, Barrier, Release and Reconfigure are
// meant to be called by a single submitting goroutine.
type Pool struct {
	name  string
	log   *zap.Logger
	sink  gometrics.MetricSink
	limit int

	idle     *queue.Queue[*WorkRequest]
	pending  *queue.Queue[*WorkRequest]
	finished *queue.Queue[*WorkRequest]

	// guarded by the pending queue lock
	restart    bool
	restartCfg Config

	cfg     Config
	threads *WorkerThreads
	created atomic.Int64
	workers atomic.Int32
}

// Option configures a Pool.
type Option func(*Pool)

func WithLogger(log *zap.Logger) Option { return func(p *Pool) { p.log = log } }

// WithMetricSink sets where the pool reports its metrics.
func WithMetricSink(sink gometrics.MetricSink) Option { return func(p *Pool) { p.sink = sink } }

// WithWorkerLimit caps the goroutines of the underlying ants pool. Starting more workers than
// the limit yields a degraded pool.
func WithWorkerLimit(limit int) Option { return func(p *Pool) { p.limit = limit } }

// New starts a pool. A degraded start returns the pool along with an error wrapping
// ErrWorkerPoolActivationFailed.
func New(name string, cfg Config, opts ...Option) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	p := &Pool{
		name:     name,
		log:      zap.NewNop(),
		sink:     &gometrics.BlackholeSink{},
		idle:     queue.New[*WorkRequest](),
		pending:  queue.New[*WorkRequest](),
		finished: queue.New[*WorkRequest](),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(zap.String("pool", name))
	if err := p.startWorkers(); err != nil {
		if p.threads == nil {
			return nil, err
		}
		return p, err
	}
	return p, nil
}

func (p *Pool) labels() []gometrics.Label {
	return []gometrics.Label{{Name: "pool", Value: p.name}}
}

func (p *Pool) Config() Config { return p.cfg }

// Acquire returns an idle request, or a new one when none is idle.
func (p *Pool) Acquire() *WorkRequest {
	if r, ok := p.idle.TryGet(); ok {
		return r
	}
	p.created.Add(1)
	return NewWorkRequest(p.cfg.Kernel, p.cfg.FFTSize)
}

// Release returns requests to the idle queue.
func (p *Pool) Release(reqs ...*WorkRequest) {
	for _, r := range reqs {
		// the idle queue is never deactivated
		_ = p.idle.Put(r)
	}
}

// Submit hands r to the workers.
func (p *Pool) Submit(r *WorkRequest) error {
	if err := p.pending.Put(r); err != nil {
		return fmt.Errorf("%w: %s", ErrPoolClosed, p.name)
	}
	p.sink.IncrCounterWithLabels(MetricSubmitted, 1, p.labels())
	return nil
}

// Barrier waits until n requests are finished and returns them. It only returns early when
// the pool is closed, with the requests finished so far.
func (p *Pool) Barrier(n int) ([]*WorkRequest, error) {
	start := time.Now()
	done := make([]*WorkRequest, 0, n)
	for len(done) < n {
		r, err := p.finished.Get()
		if err != nil {
			return done, fmt.Errorf("%w: %s: %d of %d requests finished", ErrPoolClosed, p.name, len(done), n)
		}
		done = append(done, r)
	}
	p.sink.AddSampleWithLabels(MetricBarrierWait, float32(time.Since(start).Seconds()*1000), p.labels())
	return done, nil
}

// RequestRestart records that the pool must be rebuilt with cfg before the next batch. It may
// be called from any goroutine; the latest cfg wins.
func (p *Pool) RequestRestart(cfg Config) {
	p.pending.Locked(func() {
		p.restart = true
		p.restartCfg = cfg
	})
}

// RestartIfNeeded applies a pending restart request. It reports whether the pool was rebuilt.
func (p *Pool) RestartIfNeeded() (bool, error) {
	var restart bool
	var cfg Config
	p.pending.Locked(func() {
		restart, cfg = p.restart, p.restartCfg
		p.restart = false
	})
	if !restart {
		return false, nil
	}
	return true, p.Reconfigure(cfg)
}

// Reconfigure drains and rebuilds the pool: workers are stopped once their current request
// is done, pending and finished requests go back to idle, every idle request is rebuilt for
// cfg and the workers restart.
func (p *Pool) Reconfigure(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	p.log.Info("reconfiguring", zap.Int("workers", cfg.Workers), zap.Int("fftSize", cfg.FFTSize))
	p.stopWorkers()
	p.cfg = cfg
	reqs := p.idle.Drain()
	for _, r := range reqs {
		r.Reconfigure(cfg.Kernel, cfg.FFTSize)
	}
	p.Release(reqs...)
	p.sink.IncrCounterWithLabels(MetricReconfigured, 1, p.labels())
	p.sink.SetGaugeWithLabels(MetricIdleRequests, float32(len(reqs)), p.labels())
	return p.startWorkers()
}

func (p *Pool) startWorkers() error {
	threads, err := StartWorkerThreads(p.cfg.Workers, p.limit, p.pending, p.finished, p.log)
	p.threads = threads
	if threads != nil {
		p.workers.Store(int32(threads.Len()))
	}
	if err != nil {
		p.sink.IncrCounterWithLabels(MetricActivationError, 1, p.labels())
		p.log.Error("worker activation failed", zap.Error(err))
	}
	p.sink.SetGaugeWithLabels(MetricRunningWorkers, float32(p.Workers()), p.labels())
	return err
}

func (p *Pool) stopWorkers() {
	p.pending.Deactivate()
	p.joinWorkers()
	p.pending.Activate()
	p.Release(p.pending.Drain()...)
	p.Release(p.finished.Drain()...)
}

func (p *Pool) joinWorkers() {
	if p.threads != nil {
		p.threads.Wait()
		p.threads = nil
	}
	p.workers.Store(0)
}

// Workers returns the number of running workers.
func (p *Pool) Workers() int { return int(p.workers.Load()) }

// Close stops the workers and wakes a goroutine blocked in Barrier.
func (p *Pool) Close() error {
	p.pending.Deactivate()
	p.finished.Deactivate()
	p.joinWorkers()
	p.log.Info("closed", zap.Int64("created", p.created.Load()))
	return nil
}

func (p *Pool) Stats() Stats {
	return Stats{
		Idle:     p.idle.Len(),
		Pending:  p.pending.Len(),
		Finished: p.finished.Len(),
		Created:  int(p.created.Load()),
		Workers:  p.Workers(),
	}
}

// Package matchedfilter correlates Video messages with a reference pulse in the frequency
// domain. Each message is cut into windows of fftSize complex samples that are filtered in
// parallel by a workpool.
package matchedfilter

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/fogfactory/sidecar/controller"
	"github.com/fogfactory/sidecar/message"
	"github.com/fogfactory/sidecar/parameter"
	"github.com/fogfactory/sidecar/status"
	"github.com/fogfactory/sidecar/workpool"
	"go.uber.org/zap"
)

// Name is the algorithm name in the controller registry.
const Name = "MatchedFilter"

const (
	defaultFFTSize    = 1024
	defaultNumWorkers = 4
)

var (
	ErrInvalidKernel = errors.New("matchedfilter: invalid kernel")
	ErrNoWorkers     = errors.New("matchedfilter: no worker running")
	ErrFilterStart   = errors.New("matchedfilter: filterStart is too large")
)

func init() {
	controller.Register(Name, Factory())
}

// Factory returns a factory for filters whose worker pools are built with opts.
func Factory(opts ...workpool.Option) controller.Factory {
	return func(c *controller.Controller, log *zap.Logger) (controller.Algorithm, error) {
		return New(c, log, opts...), nil
	}
}

// Filter is the matched filter algorithm.
type Filter struct {
	controller.Nop
	c    *controller.Controller
	log  *zap.Logger
	opts []workpool.Option

	fftSize     *parameter.Value[int]
	numWorkers  *parameter.Value[int]
	filterStart *parameter.Value[int]
	filterSpan  *parameter.Value[int]
	kernel      *parameter.Value[string]

	pool     *workpool.Pool
	dispatch workpool.Dispatch[*job]

	// set when a parameter the pool depends on changed during the current batch
	poolChanged atomic.Bool

	filtered atomic.Int64
	windows  atomic.Int64
}

// job is one message going through the pool.
type job struct {
	in          *message.Video
	out         []int16
	start, span int
	fftSize     int
	windows     int
}

func New(c *controller.Controller, log *zap.Logger, opts ...workpool.Option) *Filter {
	f := &Filter{
		c:    c,
		log:  log,
		opts: opts,
		fftSize: parameter.NewPositiveInt("fftSize", defaultFFTSize,
			parameter.WithLabel("Size of FFT for filtering (best if power of 2)")),
		numWorkers: parameter.NewPositiveInt("numWorkers", defaultNumWorkers,
			parameter.WithLabel("Number of worker threads"), parameter.Advanced()),
		filterStart: parameter.NewInt("filterStart", 0,
			parameter.WithLabel("First complex sample to filter (-1 for last)")),
		filterSpan: parameter.NewInt("filterSpan", 0,
			parameter.WithLabel("Number of complex samples to filter (< 1 = size + value)")),
		kernel: parameter.NewString("kernel", "1",
			parameter.WithLabel("Reference pulse taps, comma separated")),
	}
	markChanged := func() { f.poolChanged.Store(true) }
	f.fftSize.OnChange(func(int) { markChanged() })
	f.numWorkers.OnChange(func(int) { markChanged() })
	f.kernel.OnChange(func(string) { markChanged() })
	f.dispatch, _ = workpool.NewDispatch(split, func(j *job) *job { return j })
	return f
}

func split(j *job, submit func(workpool.Window)) {
	j.windows = workpool.Windows(j.in.Samples, j.out, j.start, j.span, j.fftSize, submit)
}

func (f *Filter) Startup() error {
	if err := f.c.Parameters().Register(f.fftSize, f.numWorkers, f.filterStart, f.filterSpan, f.kernel); err != nil {
		return err
	}
	cfg, err := f.config()
	if err != nil {
		return err
	}
	opts := append([]workpool.Option{workpool.WithLogger(f.log)}, f.opts...)
	f.pool, err = workpool.New(f.c.Name(), cfg, opts...)
	switch {
	case f.pool == nil:
		return err
	case err != nil:
		f.log.Warn("worker pool degraded", zap.Error(err))
	}
	return controller.RegisterProcessor(f.c, f.process)
}

func (f *Filter) Shutdown() error {
	if f.pool == nil {
		return nil
	}
	return f.pool.Close()
}

// EndParameterChanges asks for a single pool restart per batch, applied before the next message.
func (f *Filter) EndParameterChanges() {
	if !f.poolChanged.Swap(false) {
		return
	}
	cfg, err := f.config()
	if err != nil {
		f.c.SetError(err.Error())
		return
	}
	f.pool.RequestRestart(cfg)
}

func (f *Filter) BeginParameterChanges() {}

func (f *Filter) ClearStats() {
	f.filtered.Store(0)
	f.windows.Store(0)
}

func (f *Filter) ReportStatus(sink status.Sink) {
	sink.Set("fftSize", f.fftSize.Get())
	sink.Set("filtered", f.filtered.Load())
	sink.Set("windows", f.windows.Load())
	if f.pool != nil {
		stats := f.pool.Stats()
		sink.Set("workers", stats.Workers)
		sink.Set("idleRequests", stats.Idle)
		sink.Set("createdRequests", stats.Created)
	}
}

func (f *Filter) config() (workpool.Config, error) {
	taps, err := ParseKernel(f.kernel.Get())
	if err != nil {
		return workpool.Config{}, err
	}
	fftSize := f.fftSize.Get()
	if len(taps) > fftSize {
		f.log.Warn("kernel longer than the fft, extra taps ignored", zap.Int("taps", len(taps)), zap.Int("fftSize", fftSize))
	}
	return workpool.Config{
		Workers: f.numWorkers.Get(),
		FFTSize: fftSize,
		Kernel:  workpool.KernelSpectrum(taps, fftSize),
	}, nil
}

func (f *Filter) process(in *message.Video) error {
	restarted, err := f.pool.RestartIfNeeded()
	if err != nil {
		f.log.Warn("worker pool restart", zap.Error(err))
	}
	if restarted {
		f.log.Info("worker pool restarted", zap.Int("workers", f.pool.Workers()), zap.Int("fftSize", f.pool.Config().FFTSize))
	}
	if f.pool.Workers() == 0 {
		return ErrNoWorkers
	}

	start, span, err := NormalizeRange(f.filterStart.Get(), f.filterSpan.Get(), in.Complex())
	if err != nil {
		return err
	}
	j := &job{
		in:      in,
		out:     slices.Clone(in.Samples),
		start:   start,
		span:    span,
		fftSize: f.pool.Config().FFTSize,
	}
	if _, err := workpool.Run(f.pool, j, f.dispatch); err != nil {
		return err
	}
	f.filtered.Add(1)
	f.windows.Add(int64(j.windows))
	return f.c.Send(in.Derive(f.c.Name(), j.out), 0)
}

// ParseKernel reads comma separated real taps.
func ParseKernel(s string) ([]complex128, error) {
	fields := strings.Split(s, ",")
	taps := make([]complex128, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidKernel, s, err)
		}
		taps = append(taps, complex(v, 0))
	}
	if !slices.ContainsFunc(taps, func(t complex128) bool { return t != 0 }) {
		return nil, fmt.Errorf("%w: %q has no non-zero tap", ErrInvalidKernel, s)
	}
	return taps, nil
}

// NormalizeRange resolves a (start, span) pair against a message of size complex samples.
// A negative start counts from the end, a span below 1 is added to the remaining size.
func NormalizeRange(start, span, size int) (int, int, error) {
	if start < 0 {
		start += size
	}
	if start < 0 || start >= size {
		return 0, 0, fmt.Errorf("%w: %d for %d samples", ErrFilterStart, start, size)
	}
	if span < 1 {
		span += size - start
	}
	return start, max(0, min(span, size-start)), nil
}

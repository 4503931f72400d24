package matchedfilter_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fogfactory/sidecar/algorithms/matchedfilter"
	"github.com/fogfactory/sidecar/channel"
	"github.com/fogfactory/sidecar/controller"
	"github.com/fogfactory/sidecar/message"
	"github.com/fogfactory/sidecar/parameter"
	"github.com/fogfactory/sidecar/status"
	"github.com/fogfactory/sidecar/task"
	"github.com/fogfactory/sidecar/workpool"
	gometrics "github.com/hashicorp/go-metrics"
	"github.com/maxatome/go-testdeep/td"
	"github.com/samber/lo"
)

type sink struct {
	got chan *message.Message
}

func (s *sink) Name() string      { return "sink" }
func (s *sink) IsUsingData() bool { return true }

func (s *sink) PutInChannel(msg *message.Message, _ int) error {
	s.got <- msg
	return nil
}

func (s *sink) next(t *testing.T) *message.Video {
	t.Helper()
	select {
	case msg := <-s.got:
		v, err := message.NativeAs[*message.Video](msg)
		td.Require(t).CmpNoError(err)
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

type fixture struct {
	c       *controller.Controller
	in      *channel.Channel
	out     *sink
	metrics *gometrics.InmemSink
}

// InitFilter opens a running matched filter with params applied as original values.
func InitFilter(t *testing.T, params ...parameter.Change) *fixture {
	t.Helper()
	f := &fixture{
		in:      channel.New("rx", message.VideoType),
		out:     &sink{got: make(chan *message.Message, 16)},
		metrics: gometrics.NewInmemSink(time.Minute, time.Minute),
	}
	f.c = controller.New("mf")
	f.c.AddInput(f.in)
	output := channel.New("output", message.VideoType)
	f.c.AddOutput(output)
	output.AddRecipient(f.out, 0)

	reg := controller.NewRegistry()
	td.Require(t).CmpNoError(reg.Register(matchedfilter.Name, matchedfilter.Factory(workpool.WithMetricSink(f.metrics))))
	td.Require(t).CmpNoError(f.c.Open(reg, matchedfilter.Name))
	t.Cleanup(func() { _ = f.c.Close() })

	if len(params) > 0 {
		td.Require(t).CmpNoError(f.apply(t, task.ParametersChange{Request: parameter.Request{Changes: params, Original: true}}))
	}
	td.Require(t).CmpNoError(f.apply(t, task.ProcessingStateChange{State: task.Run}))
	return f
}

func (f *fixture) apply(t *testing.T, ctrl task.Control) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return f.c.Apply(ctx, ctrl)
}

func (f *fixture) filter(t *testing.T, samples []int16) *message.Video {
	t.Helper()
	_, err := f.in.Deliver(message.MakeNative(message.NewVideo("rx", samples)))
	td.Require(t).CmpNoError(err)
	return f.out.next(t)
}

func (f *fixture) counter(key []string) int {
	total := 0
	for _, interval := range f.metrics.Data() {
		for name, v := range interval.Counters {
			if strings.HasPrefix(name, strings.Join(key, ".")) {
				total += v.Count
			}
		}
	}
	return total
}

func (f *fixture) status() map[string]any {
	snap := status.NewSnapshot()
	f.c.FillStatus(snap)
	return snap.Map()
}

// pulse returns n interleaved I/Q samples.
func pulse(n int) []int16 {
	return lo.FlatMap(lo.Range(n), func(i, _ int) []int16 { return []int16{int16(10 * (i + 1)), int16(i)} })
}

func TestFilter(t *testing.T) {
	t.Run("identity_kernel", func(t *testing.T) {
		// Arrange
		f := InitFilter(t, parameter.Change{Name: "fftSize", Value: 4})
		samples := pulse(10)

		// Act
		out := f.filter(t, samples)

		// Assert
		td.Cmp(t, out.Samples, samples)
		td.Cmp(t, out.Producer, "mf")
		td.Cmp(t, f.status(), td.SuperMapOf(map[string]any{
			"algorithmName": matchedfilter.Name,
			"fftSize":       4,
			"filtered":      int64(1),
			"windows":       int64(3),
		}, nil))
	})

	t.Run("correlates_each_window", func(t *testing.T) {
		// Arrange
		f := InitFilter(t,
			parameter.Change{Name: "fftSize", Value: 4},
			parameter.Change{Name: "kernel", Value: "0, 2"},
		)

		// Act
		out := f.filter(t, pulse(8))

		// Assert
		td.Cmp(t, out.Samples, []int16{
			20, 1, 30, 2, 40, 3, 10, 0,
			60, 5, 70, 6, 80, 7, 50, 4,
		}, "each window advanced by one sample, circularly")
	})

	t.Run("samples_outside_span_unchanged", func(t *testing.T) {
		// Arrange
		f := InitFilter(t,
			parameter.Change{Name: "fftSize", Value: 4},
			parameter.Change{Name: "kernel", Value: "0,1"},
			parameter.Change{Name: "filterStart", Value: 2},
			parameter.Change{Name: "filterSpan", Value: 4},
		)
		samples := pulse(8)

		// Act
		out := f.filter(t, samples)

		// Assert
		td.Cmp(t, out.Samples[:4], samples[:4])
		td.Cmp(t, out.Samples[4:12], []int16{40, 3, 50, 4, 60, 5, 30, 2})
		td.Cmp(t, out.Samples[12:], samples[12:])
	})

	t.Run("parameter_batch_restarts_once", func(t *testing.T) {
		// Arrange
		f := InitFilter(t, parameter.Change{Name: "fftSize", Value: 4})
		f.filter(t, pulse(4))
		before := f.counter(workpool.MetricReconfigured)

		// Act
		err := f.apply(t, task.ParametersChange{Request: parameter.Request{Changes: []parameter.Change{
			{Name: "fftSize", Value: 8},
			{Name: "numWorkers", Value: 2},
			{Name: "kernel", Value: "3"},
		}}})
		samples := pulse(16)
		out := f.filter(t, samples)

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, out.Samples, samples)
		td.Cmp(t, f.counter(workpool.MetricReconfigured)-before, 1)
		td.Cmp(t, f.status(), td.SuperMapOf(map[string]any{"fftSize": 8, "workers": 2, "windows": int64(1 + 2)}, nil))
	})

	t.Run("bad_kernel_fails_task", func(t *testing.T) {
		f := InitFilter(t)

		err := f.apply(t, task.ParametersChange{Request: parameter.Request{Changes: []parameter.Change{{Name: "kernel", Value: "a,b"}}}})

		td.CmpNoError(t, err)
		td.Cmp(t, f.c.State(), task.Failure)
		td.Cmp(t, f.c.ErrorText(), td.Contains("invalid kernel"))
	})

	t.Run("start_too_large_fails_task", func(t *testing.T) {
		f := InitFilter(t, parameter.Change{Name: "filterStart", Value: 100})
		_, err := f.in.Deliver(message.MakeNative(message.NewVideo("rx", pulse(4))))
		td.CmpNoError(t, err)

		deadline := time.Now().Add(2 * time.Second)
		for f.c.State() != task.Failure && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}

		td.Cmp(t, f.c.State(), task.Failure)
		td.Cmp(t, f.c.ErrorText(), td.Contains("filterStart is too large"))
	})
}

func TestParseKernel(t *testing.T) {
	taps, err := matchedfilter.ParseKernel(" 1, -0.5,2")
	td.CmpNoError(t, err)
	td.Cmp(t, taps, []complex128{1, -0.5, 2})

	_, err = matchedfilter.ParseKernel("1,x")
	td.CmpErrorIs(t, err, matchedfilter.ErrInvalidKernel)

	_, err = matchedfilter.ParseKernel("0,0")
	td.CmpErrorIs(t, err, matchedfilter.ErrInvalidKernel)
}

func TestNormalizeRange(t *testing.T) {
	for _, tc := range []struct {
		name                string
		start, span, size   int
		wantStart, wantSpan int
		wantErr             bool
	}{
		{name: "whole_message", start: 0, span: 0, size: 10, wantStart: 0, wantSpan: 10},
		{name: "from_end", start: -2, span: 0, size: 10, wantStart: 8, wantSpan: 2},
		{name: "negative_span", start: 1, span: -3, size: 10, wantStart: 1, wantSpan: 6},
		{name: "span_clamped", start: 4, span: 50, size: 10, wantStart: 4, wantSpan: 6},
		{name: "start_too_large", start: 10, size: 10, wantErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			start, span, err := matchedfilter.NormalizeRange(tc.start, tc.span, tc.size)
			if tc.wantErr {
				td.CmpErrorIs(t, err, matchedfilter.ErrFilterStart)
				return
			}
			td.CmpNoError(t, err)
			td.Cmp(t, []int{start, span}, []int{tc.wantStart, tc.wantSpan})
		})
	}
}

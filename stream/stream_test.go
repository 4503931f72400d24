package stream_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fogfactory/sidecar/controller"
	"github.com/fogfactory/sidecar/message"
	"github.com/fogfactory/sidecar/parameter"
	"github.com/fogfactory/sidecar/status"
	"github.com/fogfactory/sidecar/stream"
	"github.com/fogfactory/sidecar/task"
	"github.com/goccy/go-yaml"
	"github.com/maxatome/go-testdeep/td"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

func InitStream(t *testing.T, yaml string) *stream.Stream {
	t.Helper()
	desc, err := stream.LoadDescription(strings.NewReader(yaml))
	td.Require(t).CmpNoError(err)
	s, err := stream.Build(context.Background(), desc, message.Builtin())
	td.Require(t).CmpNoError(err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

const fanOut = `
name: fan
input: {channel: raw, type: Video, to: [a]}
tasks:
  - name: a
    algorithm: Scale
    outputs:
      - {channel: left, type: Video, to: [b]}
      - {channel: left, type: Video, to: [c]}
  - name: b
    algorithm: Scale
    params: {gain: 2}
  - name: c
    algorithm: Scale
    alwaysUsingData: true
    params:
      gain: -1
      heartbeatMillis: 0
`

func TestLoadDescription(t *testing.T) {
	for _, tc := range []struct {
		name string
		yaml string
		err  error
	}{
		{name: "not_yaml", yaml: "name: [", err: stream.ErrInvalid},
		{name: "no_task", yaml: "name: x", err: stream.ErrInvalid},
		{name: "unnamed_stream", yaml: "tasks: [{name: a, algorithm: Scale}]", err: stream.ErrInvalid},
		{name: "missing_algorithm", yaml: "name: x\ntasks: [{name: a}]", err: stream.ErrInvalid},
		{name: "duplicate_task", yaml: "name: x\ntasks: [{name: a, algorithm: Scale}, {name: a, algorithm: Scale}]", err: stream.ErrDuplicateStage},
		{name: "unknown_target", yaml: "name: x\ntasks:\n  - {name: a, algorithm: Scale, outputs: [{channel: o, type: Video, to: [z]}]}", err: stream.ErrUnknownStage},
		{name: "unknown_input_target", yaml: "name: x\ninput: {channel: i, type: Video, to: [z]}\ntasks: [{name: a, algorithm: Scale}]", err: stream.ErrUnknownStage},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := stream.LoadDescription(strings.NewReader(tc.yaml))
			td.CmpErrorIs(t, err, tc.err)
		})
	}

	t.Run("keeps_parameter_order", func(t *testing.T) {
		desc, err := stream.LoadDescription(strings.NewReader(fanOut))
		td.Require(t).CmpNoError(err)
		td.Cmp(t, lo.Map(desc.Tasks[2].Params, func(item yaml.MapItem, _ int) any { return item.Key }), []any{"gain", "heartbeatMillis"})
	})
}

func TestBuild(t *testing.T) {
	t.Run("wires_and_configures", func(t *testing.T) {
		// Arrange
		s := InitStream(t, fanOut)

		// Assert
		td.Cmp(t, lo.Map(s.Stages(), func(c *controller.Controller, _ int) string { return c.Name() }), []string{"a", "b", "c"})
		td.Cmp(t, s.Channel("left").Recipients().Len(), 2, "one channel fanned out")
		td.Cmp(t, s.Stage("c").Index(), 2)
		gain, ok := s.Stage("b").Parameters().Lookup("gain")
		td.Require(t).True(ok)
		td.Cmp(t, gain.Describe().Original, 2.0)
		td.Cmp(t, s.Stage("c").TimerSecs(), 0)
		td.CmpTrue(t, s.IsUsingData(), "c always wants data")
		td.CmpTrue(t, s.Stage("a").IsUsingData())
		td.CmpFalse(t, s.Stage("b").IsUsingData())
	})

	t.Run("unknown_type", func(t *testing.T) {
		desc, err := stream.LoadDescription(strings.NewReader("name: x\ntasks:\n  - {name: a, algorithm: Scale, outputs: [{channel: o, type: Radar}]}"))
		td.Require(t).CmpNoError(err)

		_, err = stream.Build(context.Background(), desc, message.Builtin())

		td.CmpErrorIs(t, err, stream.ErrInvalid)
	})

	t.Run("unknown_algorithm", func(t *testing.T) {
		desc, err := stream.LoadDescription(strings.NewReader("name: x\ntasks: [{name: a, algorithm: Nope}]"))
		td.Require(t).CmpNoError(err)

		s, err := stream.Build(context.Background(), desc, message.Builtin())

		td.CmpErrorIs(t, err, controller.ErrAlgorithmLoadFailed)
		td.CmpNil(t, s)
	})

	t.Run("unknown_parameter", func(t *testing.T) {
		desc, err := stream.LoadDescription(strings.NewReader("name: x\ntasks: [{name: a, algorithm: Scale, params: {volume: 3}}]"))
		td.Require(t).CmpNoError(err)

		_, err = stream.Build(context.Background(), desc, message.Builtin(), stream.WithRegistry(controller.Default))

		td.CmpError(t, err)
		td.Cmp(t, err.Error(), td.Contains("volume"))
	})

	t.Run("failure_closes_opened_stages", func(t *testing.T) {
		// Arrange
		var shutdowns atomic.Int32
		reg := controller.NewRegistry()
		td.Require(t).CmpNoError(reg.Register("Counting", func(*controller.Controller, *zap.Logger) (controller.Algorithm, error) {
			return &counting{shutdowns: &shutdowns}, nil
		}))
		desc, err := stream.LoadDescription(strings.NewReader("name: x\ntasks: [{name: a, algorithm: Counting}, {name: b, algorithm: Nope}]"))
		td.Require(t).CmpNoError(err)

		// Act
		s, err := stream.Build(context.Background(), desc, message.Builtin(), stream.WithRegistry(reg))

		// Assert
		td.CmpErrorIs(t, err, controller.ErrAlgorithmLoadFailed)
		td.CmpNil(t, s)
		td.Cmp(t, shutdowns.Load(), int32(1))
	})
}

type counting struct {
	controller.Nop
	shutdowns *atomic.Int32
}

func (c *counting) Shutdown() error {
	c.shutdowns.Add(1)
	return nil
}

func TestStream(t *testing.T) {
	t.Run("fan_out_and_demand", func(t *testing.T) {
		// Arrange
		s := InitStream(t, fanOut)
		ctx := context.Background()
		td.Require(t).CmpNoError(s.SetProcessingState(ctx, task.Run))
		inject := func() {
			t.Helper()
			td.Require(t).CmpNoError(s.Inject(message.MakeNative(message.NewVideo("src", []int16{3, 4}))))
		}

		// Act
		inject()

		// Assert
		eventually(t, func() bool { return field(s, "c", "scaled") == int64(1) })
		td.Cmp(t, field(s, "b", "scaled"), int64(0), "b does not use data")

		// Act
		err := s.Stage("b").Apply(ctx, task.ParametersChange{Request: parameter.Request{
			Changes: []parameter.Change{{Name: "alwaysUsingData", Value: true}},
		}})
		td.Require(t).CmpNoError(err)
		inject()

		// Assert
		eventually(t, func() bool {
			return field(s, "b", "scaled") == int64(1) && field(s, "c", "scaled") == int64(2)
		})
		td.Cmp(t, s.Channel("left").Stats().Delivered, td.Gte(uint64(2)))
	})

	t.Run("connect_errors", func(t *testing.T) {
		s := stream.New("manual")
		_, err := s.Add("a")
		td.Require(t).CmpNoError(err)
		_, err = s.Add("b")
		td.Require(t).CmpNoError(err)

		_, err = s.Add("a")
		td.CmpErrorIs(t, err, stream.ErrDuplicateStage)

		_, err = s.Connect("z", "x", message.VideoType, "a")
		td.CmpErrorIs(t, err, stream.ErrUnknownStage)

		_, err = s.Connect("a", "x", message.VideoType, "b")
		td.CmpNoError(t, err)

		_, err = s.Connect("a", "x", &message.TypeInfo{Key: message.KeyUser, Name: "Other"})
		td.CmpErrorIs(t, err, stream.ErrTypeConflict)

		_, err = s.Connect("b", "x", message.VideoType)
		td.CmpErrorIs(t, err, stream.ErrDuplicateStage, "a channel has a single sender")

		td.CmpErrorIs(t, s.Inject(message.MakeNative(message.NewVideo("src", nil))), stream.ErrNoInput)
		td.CmpNoError(t, s.Close())
	})

	t.Run("status", func(t *testing.T) {
		s := InitStream(t, fanOut)

		snaps := s.Status()

		td.Require(t).Len(snaps, 3)
		for i, snap := range snaps {
			td.Cmp(t, snap.Map(), td.SuperMapOf(map[string]any{
				"stream":        "fan",
				"instance":      s.ID().String(),
				"index":         i,
				"algorithmName": "Scale",
			}, nil))
		}
	})

	t.Run("shutdown_broadcast", func(t *testing.T) {
		s := InitStream(t, fanOut)

		td.CmpNoError(t, s.Put(task.Shutdown{}))

		for _, c := range s.Stages() {
			select {
			case <-c.Done():
			case <-time.After(2 * time.Second):
				t.Fatalf("%s still running", c.Name())
			}
		}
		td.CmpNoError(t, s.Close())
		td.CmpNoError(t, s.Close(), "idempotent")
	})
}

func field(s *stream.Stream, stage, key string) any {
	snap := status.NewSnapshot()
	s.Stage(stage).FillStatus(snap)
	v, _ := snap.Get(key)
	return v
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

package status_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fogfactory/sidecar/status"
	"github.com/maxatome/go-testdeep/td"
)

func TestSnapshot(t *testing.T) {
	t.Run("ordered_and_normalized", func(t *testing.T) {
		// Arrange
		s := status.NewSnapshot()

		// Act
		s.Set("name", "filter")
		s.Set("avg", 1500*time.Millisecond)
		s.Set("inputs", []string{"a", "b"})
		status.Prefixed(s, "algorithm").Set("windows", uint(3))
		s.Set("name", "filter2")

		// Assert
		td.Cmp(t, s.Keys(), []string{"name", "avg", "inputs", "algorithm.windows"})
		td.Cmp(t, s.Map(), map[string]any{
			"name":              "filter2",
			"avg":               1.5,
			"inputs":            []any{"a", "b"},
			"algorithm.windows": uint64(3),
		})
	})

	t.Run("protobuf_round_trip", func(t *testing.T) {
		// Arrange
		s := status.NewSnapshot()
		s.Set("name", "filter")
		s.Set("usingData", true)
		s.Set("messages", int64(12))

		// Act
		data, err := s.Marshal()
		td.Require(t).CmpNoError(err)
		got, err := status.Unmarshal(data)

		// Assert
		td.CmpNoError(t, err)
		// protobuf Struct numbers are doubles
		td.Cmp(t, got.Map(), map[string]any{"name": "filter", "usingData": true, "messages": 12.0})
	})
}

func TestEmitter(t *testing.T) {
	// Arrange
	var published atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	collect := func() []*status.Snapshot { return []*status.Snapshot{status.NewSnapshot()} }
	publish := status.PublisherFunc(func(_ context.Context, s []*status.Snapshot) error {
		if published.Add(int32(len(s))) >= 3 {
			cancel()
		}
		return nil
	})
	done := make(chan struct{})

	// Act
	go func() {
		defer close(done)
		status.NewEmitter(time.Millisecond, collect, publish, nil).Run(ctx)
	}()

	// Assert
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("emitter did not stop")
	}
	td.CmpGte(t, published.Load(), int32(3))
}

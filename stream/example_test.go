package stream_test

import (
	"context"
	"fmt"
	"strings"
	"time"

	_ "github.com/fogfactory/sidecar/algorithms/matchedfilter"
	_ "github.com/fogfactory/sidecar/algorithms/scale"
	"github.com/fogfactory/sidecar/message"
	"github.com/fogfactory/sidecar/stream"
	"github.com/fogfactory/sidecar/task"
)

/*
This file builds a two stage stream from its YAML description: a gain stage feeding a
matched filter, whose output is tapped.
*/

const demo = `
name: demo
input: {channel: raw, type: Video, to: [gain]}
tasks:
  - name: gain
    algorithm: Scale
    params: {gain: 2}
    outputs:
      - {channel: scaled, type: Video, to: [filter]}
  - name: filter
    algorithm: MatchedFilter
    params:
      fftSize: 4
      kernel: "0,1"
    outputs:
      - {channel: filtered, type: Video}
`

func ExampleBuild() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	desc, err := stream.LoadDescription(strings.NewReader(demo))
	if err != nil {
		panic(err)
	}
	s, err := stream.Build(ctx, desc, message.Builtin())
	if err != nil {
		panic(err)
	}
	defer s.Close()

	out := make(chan *message.Video, 1)
	_ = s.Tap("filtered", func(msg *message.Message) {
		v, _ := message.NativeAs[*message.Video](msg)
		out <- v
	})
	if err := s.SetProcessingState(ctx, task.Run); err != nil {
		panic(err)
	}

	// the filter advances each 4 sample window by one sample
	_ = s.Inject(message.MakeNative(message.NewVideo("radar", []int16{1, 0, 2, 0, 3, 0, 4, 0})))
	v := <-out
	fmt.Println(v.Producer, v.Samples)

	// Output:
	// filter [4 0 6 0 8 0 2 0]
}

// Package benchmark profiles the matched filter worker pool outside of a pipeline.
package benchmark

import (
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/fogfactory/sidecar/workpool"
	"github.com/samber/lo"
)

type sweep struct {
	input, output []int16
}

// Profile writes a CPU profile named filter_{date}_fft{fftSize}_{workers}.prof while
// filtering rounds sweeps of samples complex samples, once per worker count. Timings go to w.
//
// use pprof to read the file (go install github.com/google/pprof@latest).
func Profile(w io.Writer, fftSize, samples, rounds int, workers ...int) (string, error) {
	f, err := os.Create(fmt.Sprintf("filter_%s_fft%d_%s.prof",
		strings.ReplaceAll(time.Now().Truncate(time.Second).Format(time.DateTime), " ", "-"),
		fftSize,
		strings.Join(lo.Map(workers, func(item, _ int) string { return fmt.Sprint(item) }), "-")))
	if err != nil {
		return "", err
	}
	defer f.Close()

	taps := lo.Times(fftSize/4, func(i int) complex128 { return complex(float64(i%7), float64(i%3)) })
	kernel := workpool.KernelSpectrum(taps, fftSize)
	sweeps := lo.Times(rounds, func(_ int) *sweep {
		in := lo.Times(2*samples, func(_ int) int16 { return int16(rand.IntN(2000) - 1000) })
		return &sweep{input: in, output: make([]int16, len(in))}
	})
	dispatch, err := workpool.NewDispatch(
		func(s *sweep, submit func(workpool.Window)) {
			workpool.Windows(s.input, s.output, 0, samples, fftSize, submit)
		},
		func(s *sweep) *sweep { return s },
	)
	if err != nil {
		return "", err
	}

	if err := pprof.StartCPUProfile(f); err != nil {
		return "", err
	}
	defer pprof.StopCPUProfile()

	for _, n := range workers {
		pool, err := workpool.New("profile", workpool.Config{Workers: n, FFTSize: fftSize, Kernel: kernel})
		if err != nil {
			return "", err
		}
		start := time.Now()
		for range workpool.Pipe(pool, lo.SliceToChannel(0, sweeps), dispatch, nil) {
		}
		fmt.Fprintf(w, "(workers %d: %s)\n", n, time.Since(start))
		_ = pool.Close()
	}

	// sequential equivalent
	r := workpool.NewWorkRequest(kernel, fftSize)
	start := time.Now()
	for _, s := range sweeps {
		workpool.Windows(s.input, s.output, 0, samples, fftSize, func(win workpool.Window) {
			r.Begin(win)
			r.Process()
		})
	}
	fmt.Fprintf(w, "(seq: %s)\n", time.Since(start))
	fmt.Fprintf(w, "profile:%s\n", f.Name())

	// pprof -http=:8080 $file
	return f.Name(), nil
}

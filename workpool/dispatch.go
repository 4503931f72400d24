package workpool

import (
	"errors"
	"fmt"
)

// Split cuts a parent into windows, calling submit once per window.
type Split[Parent any] func(parent Parent, submit func(Window))

// Merge builds the result of a parent once all its windows are filtered.
type Merge[Parent any] func(parent Parent) Parent

// Dispatch combines Split and Merge since they are linked: parent -(Split)-> [windows...] -(Merge)-> parent
type Dispatch[Parent any] struct {
	split Split[Parent]
	merge Merge[Parent]
}

// NewDispatch creates a Dispatch from Split and Merge functions.
func NewDispatch[Parent any](split Split[Parent], merge Merge[Parent]) (Dispatch[Parent], error) {
	result := Dispatch[Parent]{split, merge}
	return result, result.Validate()
}

// Validate checks that both functions are set.
func (d Dispatch[Parent]) Validate() error {
	if d.merge == nil || d.split == nil {
		var p Parent
		return fmt.Errorf("%w for %T (split set: %t, merge set: %t)", ErrInvalidDispatcher, p, d.split != nil, d.merge != nil)
	}
	return nil
}

// Run submits every window of parent to p, waits for all of them at the barrier, then merges.
// The requests are back in the idle queue when Run returns.
func Run[Parent any](p *Pool, parent Parent, d Dispatch[Parent]) (Parent, error) {
	if err := d.Validate(); err != nil {
		return parent, err
	}

	var submitted int
	var submitErr error
	d.split(parent, func(w Window) {
		if submitErr != nil {
			return
		}
		r := p.Acquire()
		r.Begin(w)
		if submitErr = p.Submit(r); submitErr != nil {
			p.Release(r)
			return
		}
		submitted++
	})

	done, err := p.Barrier(submitted)
	p.Release(done...)
	if err := errors.Join(submitErr, err); err != nil {
		return parent, err
	}
	return d.merge(parent), nil
}

// Windows calls submit for consecutive windows of size complex samples covering span samples
// from start. The last window may be shorter.
func Windows(input, output []int16, start, span, size int, submit func(Window)) int {
	n := 0
	for offset := start; offset < start+span; offset += size {
		submit(Window{Input: input, Output: output, Offset: offset, Count: min(size, start+span-offset)})
		n++
	}
	return n
}

// Pipe runs every parent read from in through the pool, in order, and sends the merged
// results on the returned channel. Parents failing with err are passed to onError and
// dropped. The returned channel is closed once in is closed and drained.
func Pipe[Parent any](p *Pool, in <-chan Parent, d Dispatch[Parent], onError func(Parent, error)) <-chan Parent {
	out := make(chan Parent)
	go func() {
		defer close(out)
		for parent := range in {
			result, err := Run(p, parent, d)
			if err != nil {
				if onError != nil {
					onError(parent, err)
				}
				continue
			}
			out <- result
		}
	}()
	return out
}

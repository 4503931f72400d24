package workpool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fogfactory/sidecar/internal/queue"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// WorkerThreads runs worker loops on an ants pool. Each loop takes requests from pending,
// processes them and puts them in finished, until pending is deactivated.
type WorkerThreads struct {
	pool    *ants.Pool
	wg      sync.WaitGroup
	started int
}

// StartWorkerThreads starts n worker loops on a pool of limit goroutines, limit <= 0
// meaning n. When only some loops start, the returned set is usable and the error wraps
// ErrWorkerPoolActivationFailed. When none starts, only the error is returned.
func StartWorkerThreads(n, limit int, pending, finished *queue.Queue[*WorkRequest], log *zap.Logger) (*WorkerThreads, error) {
	if limit <= 0 {
		limit = n
	}
	pool, err := ants.NewPool(limit,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) { log.Error("worker panic", zap.Any("panic", v)) }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWorkerPoolActivationFailed, err)
	}

	w := &WorkerThreads{pool: pool}
	var errs []error
	for id := range n {
		w.wg.Add(1)
		err := pool.Submit(func() {
			defer w.wg.Done()
			work(id, pending, finished, log)
		})
		if err != nil {
			w.wg.Done()
			errs = append(errs, err)
			continue
		}
		w.started++
	}

	switch {
	case w.started == 0:
		pool.Release()
		return nil, fmt.Errorf("%w: no worker started: %w", ErrWorkerPoolActivationFailed, errors.Join(errs...))
	case w.started < n:
		return w, fmt.Errorf("%w: %d of %d workers started: %w", ErrWorkerPoolActivationFailed, w.started, n, errors.Join(errs...))
	}
	return w, nil
}

// Len returns the number of running worker loops.
func (w *WorkerThreads) Len() int { return w.started }

// Wait joins every worker loop, then releases the ants pool. Loops only stop once the
// pending queue is deactivated.
func (w *WorkerThreads) Wait() {
	w.wg.Wait()
	w.pool.Release()
}

func work(id int, pending, finished *queue.Queue[*WorkRequest], log *zap.Logger) {
	log = log.With(zap.Int("worker", id))
	log.Debug("worker started")
	for {
		r, err := pending.Get()
		if err != nil {
			log.Debug("worker stopped")
			return
		}
		process(r, log)
		if err := finished.Put(r); err != nil {
			log.Debug("finished queue closed", zap.Error(err))
			return
		}
	}
}

// process runs r, keeping a panic from losing the request.
func process(r *WorkRequest, log *zap.Logger) {
	defer func() {
		if v := recover(); v != nil {
			log.Error("work request panic", zap.Any("panic", v), zap.Int("offset", r.Window().Offset))
		}
	}()
	r.Process()
}

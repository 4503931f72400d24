package workpool

import "errors"

var (
	// ErrWorkerPoolActivationFailed reports that some or all worker loops did not start.
	ErrWorkerPoolActivationFailed = errors.New("workpool: worker activation failed")
	ErrInvalidConfig              = errors.New("workpool: invalid config")
	ErrInvalidDispatcher          = errors.New("workpool: invalid dispatcher")
	ErrPoolClosed                 = errors.New("workpool: closed")
)

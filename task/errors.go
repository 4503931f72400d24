package task

import "errors"

var (
	// ErrInvalidTransition is returned when a goal state cannot be reached. The task is left
	// in Failure, or stays there when the goal was not Initialize.
	ErrInvalidTransition = errors.New("task: invalid transition")
	ErrUnknownControl    = errors.New("task: unknown control")
	ErrNoDataHandler     = errors.New("task: no data handler")
	ErrInvalidSlot       = errors.New("task: invalid input slot")
	// ErrFailureRequested marks a transition interrupted by SetError.
	ErrFailureRequested = errors.New("task: failure requested")
)

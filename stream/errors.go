package stream

import "errors"

var (
	ErrDuplicateStage = errors.New("stream: duplicate stage")
	ErrUnknownStage   = errors.New("stream: unknown stage")
	ErrTypeConflict   = errors.New("stream: channel type conflict")
	ErrNoInput        = errors.New("stream: no input channel")
	ErrInvalid        = errors.New("stream: invalid description")
)

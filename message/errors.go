package message

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedEnvelope is returned when a wire buffer has a bad preamble or a truncated body.
	ErrMalformedEnvelope = errors.New("message: malformed envelope")
	// ErrUnknownType is returned when no decoder is registered for the embedded type key.
	ErrUnknownType = errors.New("message: unknown type")
	// ErrTypeMismatch is returned when a message is not of the expected type.
	ErrTypeMismatch = errors.New("message: type mismatch")
	// ErrEncodingUnavailable is returned when a message has no form to work from.
	ErrEncodingUnavailable = errors.New("message: encoding unavailable")
	// ErrDuplicateType is returned when registering a type key or name twice.
	ErrDuplicateType = errors.New("message: duplicate type")
	// ErrShortBuffer is returned when a body ends before all its fields were read.
	ErrShortBuffer = fmt.Errorf("%w: short buffer", ErrMalformedEnvelope)
)

package message

import (
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds the body size accepted by ReadFrame.
const MaxFrameSize = 64 << 20

// ReadFrame reads one complete envelope from r. It returns io.EOF when r ends cleanly
// between envelopes.
func ReadFrame(r io.Reader) ([]byte, error) {
	var pre [PreambleSize]byte
	if _, err := io.ReadFull(r, pre[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated preamble", ErrShortBuffer)
		}
		return nil, err
	}
	p, err := ParsePreamble(pre[:])
	if err != nil {
		return nil, err
	}
	if p.BodySize > MaxFrameSize {
		return nil, fmt.Errorf("%w: body of %d bytes", ErrMalformedEnvelope, p.BodySize)
	}
	frame := make([]byte, PreambleSize+int(p.BodySize))
	copy(frame, pre[:])
	if _, err := io.ReadFull(r, frame[PreambleSize:]); err != nil {
		return nil, fmt.Errorf("%w: truncated body: %v", ErrShortBuffer, err)
	}
	return frame, nil
}

// ReadAll decodes every envelope of r until it ends.
func ReadAll(reg *Registry, r io.Reader) ([]*Message, error) {
	var msgs []*Message
	for {
		frame, err := ReadFrame(r)
		if errors.Is(err, io.EOF) {
			return msgs, nil
		}
		if err != nil {
			return msgs, err
		}
		msg, err := FromWire(reg, frame)
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, msg)
	}
}

package message

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Native is the in-memory form of a message type.
type Native interface {
	// TypeInfo must not dereference the receiver: it is called on nil values to learn a type key.
	TypeInfo() *TypeInfo
	Meta() *Header
	// WriteBody appends the type fields at the current version.
	WriteBody(w *Writer) error
}

// Sizer is implemented by natives able to estimate their encoded size without encoding.
type Sizer interface {
	Size() int
}

// Message holds a native form, an encoded form, or both. The missing form is computed on
// demand, once, and then shared by every holder. A Message must not be modified once handed
// to a Channel.
type Message struct {
	info   *TypeInfo
	header Header

	// native side, published through nativeOnce
	nativeOnce sync.Once
	native     Native
	nativeErr  error
	env        *envelope

	// encoded side, double-checked publish
	encMu   sync.Mutex
	encoded atomic.Pointer[[]byte]

	dups atomic.Int32
}

// MakeNative wraps an in-memory object. The encoded form is computed on first use.
func MakeNative(native Native) *Message {
	if native == nil {
		return &Message{}
	}
	return &Message{
		info:   native.TypeInfo(),
		header: *native.Meta(),
		native: native,
	}
}

// FromWire parses an envelope. The native form is only built when requested.
func FromWire(reg *Registry, data []byte) (*Message, error) {
	env, err := parseEnvelope(reg, data)
	if err != nil {
		return nil, err
	}
	m := &Message{info: env.info, header: env.header, env: &env}
	m.encoded.Store(&data)
	return m, nil
}

// TypeInfo returns the type of the message, nil for an empty message.
func (m *Message) TypeInfo() *TypeInfo { return m.info }

// TypeKey returns the wire key of the message type.
func (m *Message) TypeKey() TypeKey {
	if m.info == nil {
		return KeyInvalid
	}
	return m.info.Key
}

// Header returns a copy of the message header. It never needs the native form.
func (m *Message) Header() Header { return m.header }

// Encoded returns the envelope bytes in host order. The first caller encodes, everybody else
// reads the published buffer. The returned slice must not be modified.
func (m *Message) Encoded() ([]byte, error) {
	if p := m.encoded.Load(); p != nil {
		return *p, nil
	}
	m.encMu.Lock()
	defer m.encMu.Unlock()
	if p := m.encoded.Load(); p != nil {
		return *p, nil
	}
	native, err := m.Native()
	if err != nil {
		return nil, err
	}
	data, err := Marshal(native, NativeOrder)
	if err != nil {
		return nil, err
	}
	m.encoded.Store(&data)
	return data, nil
}

// Native returns the in-memory form, decoding the envelope on first call.
func (m *Message) Native() (Native, error) {
	m.nativeOnce.Do(func() {
		switch {
		case m.native != nil:
		case m.env != nil:
			m.native, m.nativeErr = m.env.materialize()
			m.env = nil
		default:
			m.nativeErr = ErrEncodingUnavailable
		}
	})
	return m.native, m.nativeErr
}

// NativeAs returns the in-memory form of m as a T.
func NativeAs[T Native](m *Message) (T, error) {
	var zero T
	native, err := m.Native()
	if err != nil {
		return zero, err
	}
	typed, ok := native.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %v is not a %T", ErrTypeMismatch, m.info, zero)
	}
	return typed, nil
}

// Size returns the encoded size when known, else the native estimate, else 0.
func (m *Message) Size() int {
	if p := m.encoded.Load(); p != nil {
		return len(*p)
	}
	// wire messages always have an encoded form, so native is only read for MakeNative ones
	if s, ok := m.native.(Sizer); ok {
		return s.Size()
	}
	return 0
}

// Duplicate returns a handle for one more holder of the message. Bytes are never copied.
func (m *Message) Duplicate() *Message {
	m.dups.Add(1)
	return m
}

// Duplicates returns how many extra handles were given out.
func (m *Message) Duplicates() int {
	return int(m.dups.Load())
}

// Package parameter holds the runtime parameters a task exposes for remote editing.
//
// A parameter has a current value and an original value: the value it had when the task
// was configured. Editing changes the current value only; a change request flagged as
// original rewrites both.
package parameter

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnknownParameter   = errors.New("parameter: unknown")
	ErrInvalidValue       = errors.New("parameter: invalid value")
	ErrDuplicateParameter = errors.New("parameter: duplicate")
)

// Description is the published form of a parameter.
type Description struct {
	Name      string
	Label     string
	Type      string
	Min       any
	Max       any
	EnumNames []string
	Value     any
	Original  any
	Advanced  bool
	Editable  bool
}

// Param is the type-erased view of a parameter used by registries and change requests.
type Param interface {
	Name() string
	Label() string
	Describe() Description
	// Set converts and validates v, then makes it the current value.
	Set(v any) error
	// SetOriginal sets both the current and the original values.
	SetOriginal(v any) error
	IsOriginal() bool
}

// Option tunes the metadata of a parameter.
type Option func(*meta)

// WithLabel sets the human readable label. It defaults to the name.
func WithLabel(label string) Option { return func(m *meta) { m.label = label } }

// Advanced hides the parameter from basic editors.
func Advanced() Option { return func(m *meta) { m.advanced = true } }

// ReadOnly marks the parameter as not editable. Set still works for the owner.
func ReadOnly() Option { return func(m *meta) { m.readOnly = true } }

type meta struct {
	name     string
	label    string
	advanced bool
	readOnly bool
}

func (m *meta) Name() string  { return m.name }
func (m *meta) Label() string { return m.label }

// Value is a typed parameter.
type Value[T comparable] struct {
	meta
	kind      string
	convert   func(any) (T, error)
	validate  func(T) error
	min, max  any
	enumNames []string

	mu        sync.RWMutex
	value     T
	original  T
	observers []func(T)
}

func newValue[T comparable](name, kind string, value T, convert func(any) (T, error), opts []Option) *Value[T] {
	v := &Value[T]{
		meta:     meta{name: name, label: name},
		kind:     kind,
		convert:  convert,
		value:    value,
		original: value,
	}
	for _, opt := range opts {
		opt(&v.meta)
	}
	return v
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Original returns the original value.
func (v *Value[T]) Original() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.original
}

// OnChange registers fn, called with the new value every time the current value changes.
func (v *Value[T]) OnChange(fn func(T)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.observers = append(v.observers, fn)
}

// SetValue validates and stores a typed value.
func (v *Value[T]) SetValue(value T) error {
	return v.store(value, false)
}

func (v *Value[T]) Set(raw any) error {
	value, err := v.convert(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidValue, v.name, err)
	}
	return v.store(value, false)
}

func (v *Value[T]) SetOriginal(raw any) error {
	value, err := v.convert(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidValue, v.name, err)
	}
	return v.store(value, true)
}

// Reset restores the original value.
func (v *Value[T]) Reset() {
	_ = v.store(v.Original(), false)
}

func (v *Value[T]) IsOriginal() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value == v.original
}

func (v *Value[T]) store(value T, original bool) error {
	if v.validate != nil {
		if err := v.validate(value); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidValue, v.name, err)
		}
	}
	v.mu.Lock()
	changed := v.value != value
	v.value = value
	if original {
		v.original = value
	}
	observers := v.observers
	v.mu.Unlock()

	if changed {
		for _, fn := range observers {
			fn(value)
		}
	}
	return nil
}

func (v *Value[T]) Describe() Description {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return Description{
		Name:      v.name,
		Label:     v.label,
		Type:      v.kind,
		Min:       v.min,
		Max:       v.max,
		EnumNames: v.enumNames,
		Value:     v.value,
		Original:  v.original,
		Advanced:  v.advanced,
		Editable:  !v.readOnly,
	}
}

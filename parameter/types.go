package parameter

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// NewBool returns a boolean parameter.
func NewBool(name string, value bool, opts ...Option) *Value[bool] {
	return newValue(name, "bool", value, toBool, opts)
}

// NewInt returns an integer parameter.
func NewInt(name string, value int, opts ...Option) *Value[int] {
	return newValue(name, "int", value, toInt, opts)
}

// NewPositiveInt returns an integer parameter refusing values below 1.
func NewPositiveInt(name string, value int, opts ...Option) *Value[int] {
	v := newValue(name, "positiveInt", value, toInt, opts)
	v.min = 1
	v.validate = func(i int) error {
		if i < 1 {
			return fmt.Errorf("%d is not positive", i)
		}
		return nil
	}
	return v
}

// NewRangedInt returns an integer parameter bound to [low, high].
func NewRangedInt(name string, value, low, high int, opts ...Option) *Value[int] {
	v := newValue(name, "rangedInt", value, toInt, opts)
	v.min, v.max = low, high
	v.validate = func(i int) error {
		if i < low || i > high {
			return fmt.Errorf("%d out of [%d, %d]", i, low, high)
		}
		return nil
	}
	return v
}

// NewFloat returns a floating point parameter.
func NewFloat(name string, value float64, opts ...Option) *Value[float64] {
	return newValue(name, "double", value, toFloat, opts)
}

// NewRangedFloat returns a floating point parameter bound to [low, high].
func NewRangedFloat(name string, value, low, high float64, opts ...Option) *Value[float64] {
	v := newValue(name, "rangedDouble", value, toFloat, opts)
	v.min, v.max = low, high
	v.validate = func(f float64) error {
		if f < low || f > high {
			return fmt.Errorf("%g out of [%g, %g]", f, low, high)
		}
		return nil
	}
	return v
}

// NewString returns a string parameter.
func NewString(name, value string, opts ...Option) *Value[string] {
	return newValue(name, "string", value, toString, opts)
}

// NewEnum returns a parameter holding an index into names. It accepts either an index or a name.
func NewEnum(name string, names []string, value int, opts ...Option) *Value[int] {
	v := newValue(name, "enum", value, func(raw any) (int, error) {
		if s, ok := raw.(string); ok {
			if idx := lo.IndexOf(names, s); idx >= 0 {
				return idx, nil
			}
			if idx := lo.IndexOf(lo.Map(names, func(n string, _ int) string { return strings.ToLower(n) }), strings.ToLower(s)); idx >= 0 {
				return idx, nil
			}
		}
		return toInt(raw)
	}, opts)
	v.enumNames = names
	v.min, v.max = 0, len(names)-1
	v.validate = func(i int) error {
		if i < 0 || i >= len(names) {
			return fmt.Errorf("index %d out of %d names", i, len(names))
		}
		return nil
	}
	return v
}

// EnumName returns the name of the current value of an enum parameter.
func EnumName(v *Value[int]) string {
	idx := v.Get()
	if idx < 0 || idx >= len(v.enumNames) {
		return strconv.Itoa(idx)
	}
	return v.enumNames[idx]
}

func toBool(raw any) (bool, error) {
	switch x := raw.(type) {
	case bool:
		return x, nil
	case string:
		return strconv.ParseBool(x)
	}
	i, err := toInt(raw)
	if err != nil {
		return false, err
	}
	return i != 0, nil
}

func toInt(raw any) (int, error) {
	switch x := raw.(type) {
	case int:
		return x, nil
	case int8:
		return int(x), nil
	case int16:
		return int(x), nil
	case int32:
		return int(x), nil
	case int64:
		return int(x), nil
	case uint:
		return int(x), nil
	case uint8:
		return int(x), nil
	case uint16:
		return int(x), nil
	case uint32:
		return int(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int", x)
		}
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("%g is not an integer", x)
		}
		return int(x), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(x))
	}
	return 0, fmt.Errorf("cannot use %T as an integer", raw)
}

func toFloat(raw any) (float64, error) {
	switch x := raw.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	i, err := toInt(raw)
	if err != nil {
		return 0, fmt.Errorf("cannot use %T as a float", raw)
	}
	return float64(i), nil
}

func toString(raw any) (string, error) {
	if s, ok := raw.(string); ok {
		return s, nil
	}
	if s, ok := raw.(fmt.Stringer); ok {
		return s.String(), nil
	}
	return fmt.Sprint(raw), nil
}

package parameter_test

import (
	"testing"

	"github.com/fogfactory/sidecar/parameter"
	"github.com/maxatome/go-testdeep/td"
)

func TestValue(t *testing.T) {
	t.Run("conversions", func(t *testing.T) {
		// Arrange
		count := parameter.NewInt("count", 1)
		gain := parameter.NewFloat("gain", 1)
		enabled := parameter.NewBool("enabled", false)
		mode := parameter.NewEnum("mode", []string{"Off", "Fast", "Slow"}, 0)

		// Act
		errs := []error{
			count.Set(uint64(12)),
			gain.Set("2.5"),
			enabled.Set("true"),
			mode.Set("slow"),
		}

		// Assert
		td.Cmp(t, errs, []error{nil, nil, nil, nil})
		td.Cmp(t, count.Get(), 12)
		td.Cmp(t, gain.Get(), 2.5)
		td.CmpTrue(t, enabled.Get())
		td.Cmp(t, parameter.EnumName(mode), "Slow")
	})

	t.Run("validation", func(t *testing.T) {
		size := parameter.NewPositiveInt("size", 4)
		span := parameter.NewRangedInt("span", 5, 0, 10)

		td.CmpErrorIs(t, size.Set(0), parameter.ErrInvalidValue)
		td.CmpErrorIs(t, span.Set(11), parameter.ErrInvalidValue)
		td.CmpErrorIs(t, span.Set(1.5), parameter.ErrInvalidValue)
		td.CmpErrorIs(t, span.Set([]int{1}), parameter.ErrInvalidValue)
		td.Cmp(t, size.Get(), 4, "value kept after a failed set")
		td.Cmp(t, span.Get(), 5)
	})

	t.Run("original_values", func(t *testing.T) {
		// Arrange
		gain := parameter.NewRangedFloat("gain", 1, 0, 10, parameter.WithLabel("Gain"), parameter.Advanced())

		// Act
		td.CmpNoError(t, gain.Set(3))
		changed := gain.IsOriginal()
		td.CmpNoError(t, gain.SetOriginal(4))

		// Assert
		td.CmpFalse(t, changed)
		td.CmpTrue(t, gain.IsOriginal())
		td.Cmp(t, gain.Describe(), parameter.Description{
			Name:     "gain",
			Label:    "Gain",
			Type:     "rangedDouble",
			Min:      0.0,
			Max:      10.0,
			Value:    4.0,
			Original: 4.0,
			Advanced: true,
			Editable: true,
		})
	})

	t.Run("observers_on_change_only", func(t *testing.T) {
		// Arrange
		size := parameter.NewPositiveInt("size", 4, parameter.ReadOnly())
		var seen []int
		size.OnChange(func(v int) { seen = append(seen, v) })

		// Act
		td.CmpNoError(t, size.SetValue(8))
		td.CmpNoError(t, size.SetValue(8))
		size.Reset()

		// Assert
		td.Cmp(t, seen, []int{8, 4})
		td.CmpFalse(t, size.Describe().Editable)
	})
}

func TestRegistry(t *testing.T) {
	newRegistry := func(t *testing.T) (*parameter.Registry, *parameter.Value[int], *parameter.Value[string]) {
		reg := parameter.NewRegistry()
		size := parameter.NewPositiveInt("size", 4)
		name := parameter.NewString("name", "a")
		td.Require(t).CmpNoError(reg.Register(size, name))
		return reg, size, name
	}

	t.Run("duplicates_refused", func(t *testing.T) {
		reg, _, _ := newRegistry(t)
		err := reg.Register(parameter.NewBool("other", true), parameter.NewBool("size", true))
		td.CmpErrorIs(t, err, parameter.ErrDuplicateParameter)
		td.Cmp(t, reg.Names(), []string{"size", "name"}, "nothing added on failure")
	})

	t.Run("apply_continues_after_failures", func(t *testing.T) {
		// Arrange
		reg, size, name := newRegistry(t)

		// Act
		err := reg.Apply(parameter.Request{Changes: []parameter.Change{
			{Name: "missing", Value: 1},
			{Name: "size", Value: -1},
			{Name: "name", Value: "b"},
		}})

		// Assert
		td.CmpErrorIs(t, err, parameter.ErrUnknownParameter)
		td.CmpErrorIs(t, err, parameter.ErrInvalidValue)
		td.Cmp(t, size.Get(), 4)
		td.Cmp(t, name.Get(), "b")
		td.Cmp(t, reg.Changed(), []parameter.Description{name.Describe()})
	})

	t.Run("apply_original", func(t *testing.T) {
		reg, size, _ := newRegistry(t)
		td.CmpNoError(t, reg.Apply(parameter.Request{Original: true, Changes: []parameter.Change{{Name: "size", Value: 16}}}))
		td.Cmp(t, size.Original(), 16)
		td.CmpEmpty(t, reg.Changed())
	})

	t.Run("unregister", func(t *testing.T) {
		reg, _, _ := newRegistry(t)
		td.CmpTrue(t, reg.Unregister("size"))
		td.CmpFalse(t, reg.Unregister("size"))
		_, ok := reg.Lookup("size")
		td.CmpFalse(t, ok)
		td.Cmp(t, reg.Len(), 1)
		td.CmpLen(t, reg.Describe(), 1)
	})
}

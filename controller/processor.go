package controller

import (
	"fmt"

	"github.com/fogfactory/sidecar/message"
	"go.uber.org/zap"
)

// Processor handles the data messages of one input slot.
type Processor func(*message.Message) error

// RegisterProcessor installs fn on the first input channel carrying messages of type M. A
// controller without inputs gets fn on slot 0.
func RegisterProcessor[M message.Native](c *Controller, fn func(M) error) error {
	var zero M
	info := zero.TypeInfo()
	inputs := c.Inputs()
	if len(inputs) == 0 {
		return c.addProcessor(0, info, typed(fn))
	}
	for slot, ch := range inputs {
		if ch.TypeInfo().Key == info.Key {
			return c.addProcessor(slot, info, typed(fn))
		}
	}
	return fmt.Errorf("%w: no %s input on %s", ErrNoSuchChannel, info.Name, c.Name())
}

// RegisterProcessorByName installs fn on the input channel called name.
func RegisterProcessorByName[M message.Native](c *Controller, name string, fn func(M) error) error {
	slot := c.Inputs().Find(name)
	if slot < 0 {
		return fmt.Errorf("%w: input %q of %s", ErrNoSuchChannel, name, c.Name())
	}
	return RegisterProcessorAt(c, slot, fn)
}

// RegisterProcessorAt installs fn on input slot.
func RegisterProcessorAt[M message.Native](c *Controller, slot int, fn func(M) error) error {
	var zero M
	ch := c.Inputs().At(slot)
	if ch == nil {
		return fmt.Errorf("%w: input %d of %s", ErrNoSuchChannel, slot, c.Name())
	}
	if info := zero.TypeInfo(); ch.TypeInfo().Key != info.Key {
		return fmt.Errorf("%w: input %q carries %s, not %s", message.ErrTypeMismatch, ch.Name(), ch.TypeInfo(), info)
	}
	return c.addProcessor(slot, zero.TypeInfo(), typed(fn))
}

func typed[M message.Native](fn func(M) error) Processor {
	return func(msg *message.Message) error {
		native, err := message.NativeAs[M](msg)
		if err != nil {
			return err
		}
		return fn(native)
	}
}

func (c *Controller) addProcessor(slot int, info *message.TypeInfo, p Processor) error {
	c.procMu.Lock()
	defer c.procMu.Unlock()
	for len(c.processors) <= slot {
		c.processors = append(c.processors, nil)
	}
	if c.processors[slot] != nil {
		return fmt.Errorf("%w: slot %d of %s", ErrProcessorExists, slot, c.Name())
	}
	c.log.Debug("processor installed", zap.Int("slot", slot), zap.Stringer("type", info))
	c.processors[slot] = p
	return nil
}

// RemoveProcessor uninstalls the processor of slot.
func (c *Controller) RemoveProcessor(slot int) {
	c.procMu.Lock()
	defer c.procMu.Unlock()
	if slot >= 0 && slot < len(c.processors) {
		c.processors[slot] = nil
	}
}

func (c *Controller) processor(slot int) Processor {
	c.procMu.RLock()
	defer c.procMu.RUnlock()
	if slot < 0 || slot >= len(c.processors) {
		return nil
	}
	return c.processors[slot]
}

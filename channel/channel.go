// Package channel links the output of one task to the inputs of others.
package channel

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/fogfactory/sidecar/message"
	"github.com/samber/lo"
)

// Recipient is the receiving end of a channel: a task input.
type Recipient interface {
	Name() string
	// PutInChannel hands msg to the recipient's input slot.
	PutInChannel(msg *message.Message, slot int) error
	// IsUsingData reports whether the recipient still wants data.
	IsUsingData() bool
}

// Sender is the producing end of a channel.
type Sender interface {
	// SetUsingData tells the sender whether someone downstream consumes its data.
	SetUsingData(bool)
}

// Target is one (recipient, input slot) pair of a RecipientList.
type Target struct {
	Recipient Recipient
	Slot      int
}

// RecipientList is the fan-out list of a channel. It only grows, and only during assembly.
type RecipientList struct {
	targets []Target
}

// Add appends a target. The same pair may be added more than once and then receives each
// message once per registration.
func (rl *RecipientList) Add(recipient Recipient, slot int) {
	rl.targets = append(rl.targets, Target{Recipient: recipient, Slot: slot})
}

// Targets returns the registered targets.
func (rl *RecipientList) Targets() []Target { return rl.targets }

// Len returns the number of registered targets.
func (rl *RecipientList) Len() int { return len(rl.targets) }

// AreAnyUsingData reports whether at least one target wants data.
func (rl *RecipientList) AreAnyUsingData() bool {
	return lo.SomeBy(rl.targets, func(tg Target) bool { return tg.Recipient.IsUsingData() })
}

// Deliver hands msg to every target using data: the first gets msg itself, the others a
// duplicated handle. It returns how many targets received the message; 0 means it was dropped.
func (rl *RecipientList) Deliver(msg *message.Message) (int, error) {
	active := lo.Filter(rl.targets, func(tg Target, _ int) bool { return tg.Recipient.IsUsingData() })
	var errs []error
	for i, tg := range active {
		handle := msg
		if i > 0 {
			handle = msg.Duplicate()
		}
		if err := tg.Recipient.PutInChannel(handle, tg.Slot); err != nil {
			errs = append(errs, fmt.Errorf("channel: delivery to %s[%d]: %w", tg.Recipient.Name(), tg.Slot, err))
		}
	}
	return len(active), errors.Join(errs...)
}

// Stats counts what happened to the messages delivered on a channel.
type Stats struct {
	Delivered  uint64
	Duplicated uint64
	Dropped    uint64
}

// Channel is a named, typed, one-way link from a sender to its recipients. The same Channel is
// referenced by the sender's outputs and by each recipient's inputs.
type Channel struct {
	name       string
	typeInfo   *message.TypeInfo
	sender     Sender
	recipients *RecipientList

	delivered  atomic.Uint64
	duplicated atomic.Uint64
	dropped    atomic.Uint64
}

// New returns a channel carrying messages of typeInfo.
func New(name string, typeInfo *message.TypeInfo) *Channel {
	return &Channel{name: name, typeInfo: typeInfo, recipients: &RecipientList{}}
}

func (c *Channel) Name() string                       { return c.name }
func (c *Channel) TypeInfo() *message.TypeInfo        { return c.typeInfo }
func (c *Channel) Recipients() *RecipientList         { return c.recipients }
func (c *Channel) Sender() Sender                     { return c.sender }
func (c *Channel) SetSender(sender Sender)            { c.sender = sender }
func (c *Channel) AddRecipient(r Recipient, slot int) { c.recipients.Add(r, slot) }

// Deliver sends msg to the recipients using data and returns how many received it.
// Messages of another type are refused.
func (c *Channel) Deliver(msg *message.Message) (int, error) {
	if c.typeInfo != nil && msg.TypeKey() != c.typeInfo.Key {
		return 0, fmt.Errorf("%w: channel %s carries %v, got %v", message.ErrTypeMismatch, c.name, c.typeInfo, msg.TypeInfo())
	}
	n, err := c.recipients.Deliver(msg)
	if n == 0 {
		c.dropped.Add(1)
		return 0, err
	}
	c.delivered.Add(1)
	c.duplicated.Add(uint64(n - 1))
	return n, err
}

// AreAnyRecipientsUsingData reports whether a recipient wants the data of this channel.
func (c *Channel) AreAnyRecipientsUsingData() bool {
	return c.recipients.AreAnyUsingData()
}

// UpdateSenderUsingData forwards the demand state of one recipient to the sender.
func (c *Channel) UpdateSenderUsingData(usingData bool) {
	if c.sender != nil {
		c.sender.SetUsingData(usingData)
	}
}

// Stats returns the channel counters.
func (c *Channel) Stats() Stats {
	return Stats{
		Delivered:  c.delivered.Load(),
		Duplicated: c.duplicated.Load(),
		Dropped:    c.dropped.Load(),
	}
}

func (c *Channel) String() string {
	return fmt.Sprintf("%s<%v>", c.name, c.typeInfo)
}

// Channels is the ordered input or output collection of a task.
type Channels []*Channel

// Find returns the index of the channel named name, -1 if absent.
func (cs Channels) Find(name string) int {
	_, idx, ok := lo.FindIndexOf(cs, func(c *Channel) bool { return c.name == name })
	if !ok {
		return -1
	}
	return idx
}

// At returns the channel at index i, nil when out of range.
func (cs Channels) At(i int) *Channel {
	if i < 0 || i >= len(cs) {
		return nil
	}
	return cs[i]
}

// UpdateSendersUsingData forwards a demand state to the sender of every channel.
func (cs Channels) UpdateSendersUsingData(usingData bool) {
	for _, c := range cs {
		c.UpdateSenderUsingData(usingData)
	}
}

// AreAnyRecipientsUsingData reports whether any channel has a recipient using data.
func (cs Channels) AreAnyRecipientsUsingData() bool {
	return lo.SomeBy(cs, func(c *Channel) bool { return c.AreAnyRecipientsUsingData() })
}

// Names returns the channel names in order.
func (cs Channels) Names() []string {
	return lo.Map(cs, func(c *Channel, _ int) string { return c.name })
}

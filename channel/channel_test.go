package channel_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/fogfactory/sidecar/channel"
	"github.com/fogfactory/sidecar/message"
	"github.com/maxatome/go-testdeep/td"
	"github.com/samber/lo"
)

type received struct {
	msg  *message.Message
	slot int
}

// fakeTask records every message put in its inputs.
type fakeTask struct {
	name      string
	usingData bool
	fail      error

	mu       sync.Mutex
	received []received
	demand   []bool
}

func (f *fakeTask) Name() string      { return f.name }
func (f *fakeTask) IsUsingData() bool { return f.usingData }
func (f *fakeTask) PutInChannel(msg *message.Message, slot int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, received{msg: msg, slot: slot})
	return f.fail
}
func (f *fakeTask) SetUsingData(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.demand = append(f.demand, v)
}

func newVideoMessage() *message.Message {
	return message.MakeNative(message.NewVideo("test", []int16{1, 2}))
}

func TestChannelDeliver(t *testing.T) {
	t.Run("fan_out_without_over_copy", func(t *testing.T) {
		// Arrange
		ch := channel.New("out", message.VideoType)
		recipients := lo.Times(3, func(i int) *fakeTask { return &fakeTask{name: "r", usingData: true} })
		for i, r := range recipients {
			ch.AddRecipient(r, i)
		}
		msg := newVideoMessage()

		// Act
		n, err := ch.Deliver(msg)

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, n, 3)
		td.Cmp(t, msg.Duplicates(), 2, "one move and two duplications")
		for i, r := range recipients {
			td.Cmp(t, r.received, []received{{msg: msg, slot: i}})
		}
		td.Cmp(t, ch.Stats(), channel.Stats{Delivered: 1, Duplicated: 2})
	})

	t.Run("demand_elision", func(t *testing.T) {
		// Arrange
		ch := channel.New("out", message.VideoType)
		idle := []*fakeTask{{name: "a"}, {name: "b"}}
		for _, r := range idle {
			ch.AddRecipient(r, 0)
		}
		msg := newVideoMessage()

		// Act
		_, err := ch.Deliver(msg)

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, idle, td.ArrayEach(td.Smuggle(func(f *fakeTask) int { return len(f.received) }, 0)))
		td.Cmp(t, msg.Duplicates(), 0)
		td.Cmp(t, ch.Stats().Dropped, uint64(1))
	})

	t.Run("only_active_recipients", func(t *testing.T) {
		// Arrange
		ch := channel.New("out", message.VideoType)
		active, idle := &fakeTask{name: "active", usingData: true}, &fakeTask{name: "idle"}
		ch.AddRecipient(idle, 0)
		ch.AddRecipient(active, 1)
		msg := newVideoMessage()

		// Act
		_, err := ch.Deliver(msg)

		// Assert
		td.CmpNoError(t, err)
		td.CmpLen(t, active.received, 1)
		td.CmpLen(t, idle.received, 0)
		td.Cmp(t, msg.Duplicates(), 0, "the single active recipient gets the original")
	})

	t.Run("duplicate_registrations_kept", func(t *testing.T) {
		// Arrange
		ch := channel.New("out", message.VideoType)
		r := &fakeTask{name: "twice", usingData: true}
		ch.AddRecipient(r, 0)
		ch.AddRecipient(r, 0)

		// Act
		_, err := ch.Deliver(newVideoMessage())

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, ch.Recipients().Len(), 2)
		td.CmpLen(t, r.received, 2)
	})

	t.Run("type_mismatch_refused", func(t *testing.T) {
		ch := channel.New("out", &message.TypeInfo{Key: message.KeyUser, Name: "Other"})
		r := &fakeTask{name: "r", usingData: true}
		ch.AddRecipient(r, 0)

		_, err := ch.Deliver(newVideoMessage())

		td.CmpErrorIs(t, err, message.ErrTypeMismatch)
		td.CmpLen(t, r.received, 0)
	})

	t.Run("recipient_errors_joined", func(t *testing.T) {
		boom := errors.New("boom")
		ch := channel.New("out", message.VideoType)
		ch.AddRecipient(&fakeTask{name: "a", usingData: true, fail: boom}, 0)
		ok := &fakeTask{name: "b", usingData: true}
		ch.AddRecipient(ok, 0)

		_, err := ch.Deliver(newVideoMessage())

		td.CmpErrorIs(t, err, boom)
		td.CmpLen(t, ok.received, 1, "a failing recipient does not stop the others")
	})
}

func TestChannelsDemand(t *testing.T) {
	// Arrange
	sender := &fakeTask{name: "sender"}
	consumer := &fakeTask{name: "consumer"}
	first, second := channel.New("first", message.VideoType), channel.New("second", message.VideoType)
	first.SetSender(sender)
	second.SetSender(sender)
	second.AddRecipient(consumer, 0)
	outputs := channel.Channels{first, second}

	// Act & Assert
	td.CmpFalse(t, outputs.AreAnyRecipientsUsingData())
	consumer.usingData = true
	td.CmpTrue(t, outputs.AreAnyRecipientsUsingData())

	outputs.UpdateSendersUsingData(true)
	td.Cmp(t, sender.demand, []bool{true, true})

	td.Cmp(t, outputs.Find("second"), 1)
	td.Cmp(t, outputs.Find("missing"), -1)
	td.CmpNil(t, outputs.At(5))
	td.Cmp(t, outputs.Names(), []string{"first", "second"})
}

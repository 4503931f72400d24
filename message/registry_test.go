package message_test

import (
	"encoding/binary"
	"testing"

	"github.com/fogfactory/sidecar/message"
	"github.com/maxatome/go-testdeep/td"
)

// videoBodyV1 encodes a Video envelope whose body claims the given version, with the v1 field layout.
func videoBodyV1(version uint16, samples []int16) []byte {
	w := message.NewWriter(binary.BigEndian, make([]byte, message.PreambleSize))
	w.Uint16(uint16(message.KeyVideo))
	w.Uint16(version)
	w.Text("legacy")
	w.Uint32(9)
	w.Int64(0)
	w.Int64(0)
	w.Uint32(5)    // MsgDesc
	w.Uint32(2048) // ShaftEncoding
	w.Float64(1.5) // RangeMin
	w.Float64(2.5) // RangeFactor
	w.Int16s(samples)
	buf := w.Bytes()
	binary.BigEndian.PutUint16(buf[0:], message.Magic)
	binary.BigEndian.PutUint16(buf[2:], 0x0000)
	binary.BigEndian.PutUint32(buf[4:], uint32(len(buf)-message.PreambleSize))
	return buf
}

func TestVersionedLoaders(t *testing.T) {
	reg := message.Builtin()

	t.Run("older_version_decoded", func(t *testing.T) {
		// Arrange
		data := videoBodyV1(1, []int16{7, 8})

		// Act
		msg, err := message.FromWire(reg, data)
		td.Require(t).CmpNoError(err)
		v, err := message.NativeAs[*message.Video](msg)

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, v, td.Struct(&message.Video{
			MsgDesc:       5,
			ShaftEncoding: 2048,
			RangeMin:      1.5,
			RangeFactor:   2.5,
			Samples:       []int16{7, 8},
		}, td.StructFields{"Header": td.Ignore()}))
		td.Cmp(t, v.Producer, "legacy")
		td.Cmp(t, v.Sequence, uint32(9))
	})

	t.Run("unknown_older_version_uses_closest_newer", func(t *testing.T) {
		// version 0 was never registered, version 1 is the closest newer one
		msg, err := message.FromWire(reg, videoBodyV1(0, []int16{1, 1}))
		td.Require(t).CmpNoError(err)
		v, err := message.NativeAs[*message.Video](msg)
		td.CmpNoError(t, err)
		td.Cmp(t, v.ShaftEncoding, uint32(2048))
	})

	t.Run("future_version_uses_newest", func(t *testing.T) {
		lr := message.NewLoaderRegistry(
			message.VersionedLoader{Version: 3, Load: func(message.Native, *message.Reader) error { return nil }},
			message.VersionedLoader{Version: 1, Load: func(message.Native, *message.Reader) error { return message.ErrTypeMismatch }},
		)
		td.Cmp(t, lr.Current(), uint16(3))
		td.CmpNoError(t, lr.Loader(9)(nil, nil))
		td.CmpNoError(t, lr.Loader(2)(nil, nil))
		td.CmpErrorIs(t, lr.Loader(1)(nil, nil), message.ErrTypeMismatch)
	})
}

func TestRegistry(t *testing.T) {
	t.Run("duplicate_key", func(t *testing.T) {
		reg := message.Builtin()
		err := reg.Register(&message.TypeInfo{
			Key:     message.KeyVideo,
			Name:    "Other",
			New:     message.VideoType.New,
			Loaders: message.VideoType.Loaders,
		})
		td.CmpErrorIs(t, err, message.ErrDuplicateType)
	})

	t.Run("lookup_by_name", func(t *testing.T) {
		reg := InitRegistry(t)
		info, ok := reg.LookupName("Video")
		td.CmpTrue(t, ok)
		td.CmpShallow(t, info, message.VideoType)
		td.Cmp(t, reg.Names(), []string{"Counted", "Video"})
	})

	t.Run("sequence_numbers_increase", func(t *testing.T) {
		a := message.NewVideo("p", nil)
		b := message.NewVideo("p", nil)
		td.Cmp(t, b.Sequence, a.Sequence+1)
	})
}

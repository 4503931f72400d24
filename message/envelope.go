package message

import (
	"encoding/binary"
	"fmt"
)

const (
	// Magic opens every envelope. It reads the same in both byte orders.
	Magic uint16 = 0xAAAA
	// PreambleSize is the size of the fixed envelope prefix.
	PreambleSize = 8

	flagBigEndian    uint16 = 0x0000
	flagLittleEndian uint16 = 0xFFFF
)

// Preamble is the decoded fixed prefix of an envelope.
type Preamble struct {
	Order    ByteOrder
	BodySize uint32
}

// ParsePreamble decodes the first PreambleSize bytes of data.
func ParsePreamble(data []byte) (Preamble, error) {
	if len(data) < PreambleSize {
		return Preamble{}, fmt.Errorf("%w: %d bytes, preamble needs %d", ErrMalformedEnvelope, len(data), PreambleSize)
	}
	// magic and flag are palindromic, any order reads them
	if magic := binary.BigEndian.Uint16(data[0:2]); magic != Magic {
		return Preamble{}, fmt.Errorf("%w: bad magic 0x%04X", ErrMalformedEnvelope, magic)
	}
	var order ByteOrder
	switch flag := binary.BigEndian.Uint16(data[2:4]); flag {
	case flagBigEndian:
		order = binary.BigEndian
	case flagLittleEndian:
		order = binary.LittleEndian
	default:
		return Preamble{}, fmt.Errorf("%w: bad byte order flag 0x%04X", ErrMalformedEnvelope, flag)
	}
	return Preamble{Order: order, BodySize: order.Uint32(data[4:8])}, nil
}

func putPreamble(dst []byte, order ByteOrder, bodySize uint32) {
	flag := flagBigEndian
	if order.Uint16([]byte{0x01, 0x00}) == 1 {
		flag = flagLittleEndian
	}
	order.PutUint16(dst[0:2], Magic)
	order.PutUint16(dst[2:4], flag)
	order.PutUint32(dst[4:8], bodySize)
}

// Marshal encodes native into a complete envelope written in the given byte order.
func Marshal(native Native, order ByteOrder) ([]byte, error) {
	info := native.TypeInfo()
	w := NewWriter(order, make([]byte, PreambleSize, 256))
	w.Uint16(uint16(info.Key))
	w.Uint16(info.Loaders.Current())
	native.Meta().write(w)
	if err := native.WriteBody(w); err != nil {
		return nil, fmt.Errorf("message: encoding %s: %w", info.Name, err)
	}
	buf := w.Bytes()
	putPreamble(buf[:PreambleSize], order, uint32(len(buf)-PreambleSize))
	return buf, nil
}

// envelope is a parsed but not yet materialized wire buffer.
type envelope struct {
	order   ByteOrder
	info    *TypeInfo
	version uint16
	header  Header
	fields  []byte
}

func parseEnvelope(reg *Registry, data []byte) (envelope, error) {
	pre, err := ParsePreamble(data)
	if err != nil {
		return envelope{}, err
	}
	if uint64(len(data)-PreambleSize) != uint64(pre.BodySize) {
		return envelope{}, fmt.Errorf("%w: body size %d, got %d bytes", ErrMalformedEnvelope, pre.BodySize, len(data)-PreambleSize)
	}
	r := NewReader(pre.Order, data[PreambleSize:])
	key := TypeKey(r.Uint16())
	version := r.Uint16()
	if err := r.Err(); err != nil {
		return envelope{}, err
	}
	info, ok := reg.Lookup(key)
	if !ok {
		return envelope{}, fmt.Errorf("%w: key %d", ErrUnknownType, key)
	}
	env := envelope{order: pre.Order, info: info, version: version}
	env.header.read(r)
	if err := r.Err(); err != nil {
		return envelope{}, err
	}
	env.fields = data[len(data)-r.Remaining():]
	return env, nil
}

func (env envelope) materialize() (Native, error) {
	obj := env.info.New()
	*obj.Meta() = env.header
	r := NewReader(env.order, env.fields)
	if err := env.info.Loaders.Loader(env.version)(obj, r); err != nil {
		return nil, fmt.Errorf("message: loading %s v%d: %w", env.info.Name, env.version, err)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("message: loading %s v%d: %w", env.info.Name, env.version, err)
	}
	return obj, nil
}

package message

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// ByteOrder reads and appends multi-byte fields. binary.BigEndian and binary.LittleEndian satisfy it.
type ByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// NativeOrder is the byte order of the running host. Messages are always encoded with it.
var NativeOrder = nativeOrder()

func nativeOrder() ByteOrder {
	var b [2]byte
	binary.NativeEndian.PutUint16(b[:], 0x0102)
	if b[0] == 0x02 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Writer appends fields to a buffer in a fixed byte order.
type Writer struct {
	order ByteOrder
	buf   []byte
}

// NewWriter returns a Writer appending to buf.
func NewWriter(order ByteOrder, buf []byte) *Writer {
	return &Writer{order: order, buf: buf}
}

// Bytes returns the buffer written so far.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far, including the initial buffer.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) Uint8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) Uint16(v uint16) { w.buf = w.order.AppendUint16(w.buf, v) }
func (w *Writer) Uint32(v uint32) { w.buf = w.order.AppendUint32(w.buf, v) }
func (w *Writer) Uint64(v uint64) { w.buf = w.order.AppendUint64(w.buf, v) }
func (w *Writer) Int16(v int16)   { w.Uint16(uint16(v)) }
func (w *Writer) Int32(v int32)   { w.Uint32(uint32(v)) }
func (w *Writer) Int64(v int64)   { w.Uint64(uint64(v)) }

func (w *Writer) Float32(v float32) { w.Uint32(math.Float32bits(v)) }
func (w *Writer) Float64(v float64) { w.Uint64(math.Float64bits(v)) }

func (w *Writer) Bool(v bool) {
	if v {
		w.Uint8(1)
		return
	}
	w.Uint8(0)
}

// Text writes a u32 length followed by the raw bytes.
func (w *Writer) Text(v string) {
	w.Uint32(uint32(len(v)))
	w.buf = append(w.buf, v...)
}

// Time writes nanoseconds since the Unix epoch, 0 for the zero time.
func (w *Writer) Time(v time.Time) {
	if v.IsZero() {
		w.Int64(0)
		return
	}
	w.Int64(v.UnixNano())
}

// Int16s writes a u32 count followed by the samples.
func (w *Writer) Int16s(v []int16) {
	w.Uint32(uint32(len(v)))
	for _, s := range v {
		w.Int16(s)
	}
}

// Reader consumes fields written by a Writer. The first failure sticks: later reads
// return zero values and Err reports it.
type Reader struct {
	order binary.ByteOrder
	buf   []byte
	off   int
	err   error
}

// NewReader returns a Reader over buf.
func NewReader(order binary.ByteOrder, buf []byte) *Reader {
	return &Reader{order: order, buf: buf}
}

// Err returns the first read failure.
func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, r.off, r.Remaining())
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) Uint8() uint8 {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Uint16() uint16 {
	b := r.next(2)
	if b == nil {
		return 0
	}
	return r.order.Uint16(b)
}

func (r *Reader) Uint32() uint32 {
	b := r.next(4)
	if b == nil {
		return 0
	}
	return r.order.Uint32(b)
}

func (r *Reader) Uint64() uint64 {
	b := r.next(8)
	if b == nil {
		return 0
	}
	return r.order.Uint64(b)
}

func (r *Reader) Int16() int16 { return int16(r.Uint16()) }
func (r *Reader) Int32() int32 { return int32(r.Uint32()) }
func (r *Reader) Int64() int64 { return int64(r.Uint64()) }

func (r *Reader) Float32() float32 { return math.Float32frombits(r.Uint32()) }
func (r *Reader) Float64() float64 { return math.Float64frombits(r.Uint64()) }

func (r *Reader) Bool() bool { return r.Uint8() != 0 }

func (r *Reader) Text() string {
	n := r.Uint32()
	b := r.next(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}

func (r *Reader) Time() time.Time {
	n := r.Int64()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (r *Reader) Int16s() []int16 {
	n := int(r.Uint32())
	if r.err == nil && r.Remaining() < 2*n {
		r.err = fmt.Errorf("%w: %d samples announced, %d bytes left", ErrShortBuffer, n, r.Remaining())
	}
	if r.err != nil {
		return nil
	}
	out := make([]int16, n)
	for i := range out {
		out[i] = r.Int16()
	}
	return out
}

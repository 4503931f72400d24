package message

import "time"

// Header carries the identity of a message: who produced it, its per-type sequence number
// and its timestamps.
type Header struct {
	Producer string
	Sequence uint32
	Created  time.Time
	Emitted  time.Time
}

// NewHeader stamps a header for a new message of type info.
func NewHeader(producer string, info *TypeInfo) Header {
	return Header{
		Producer: producer,
		Sequence: info.NextSequence(),
		Created:  time.Now().UTC(),
	}
}

func (h *Header) write(w *Writer) {
	w.Text(h.Producer)
	w.Uint32(h.Sequence)
	w.Time(h.Created)
	w.Time(h.Emitted)
}

func (h *Header) read(r *Reader) {
	h.Producer = r.Text()
	h.Sequence = r.Uint32()
	h.Created = r.Time()
	h.Emitted = r.Time()
}

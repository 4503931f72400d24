package message

import "fmt"

// VideoType describes Video messages.
//
// Version 1 bodies predate the IRIG time and PRF encoding fields.
var VideoType = &TypeInfo{
	Key:  KeyVideo,
	Name: "Video",
	New:  func() Native { return new(Video) },
	Loaders: NewLoaderRegistry(
		VersionedLoader{Version: 1, Load: loadVideoV1},
		VersionedLoader{Version: 2, Load: loadVideoV2},
	),
}

// Video is one radar pulse: receiver metadata followed by interleaved I/Q samples.
type Video struct {
	Header
	MsgDesc       uint32
	ShaftEncoding uint32
	PRFEncoding   uint32
	IRIGTime      float64
	RangeMin      float64
	RangeFactor   float64
	Samples       []int16
}

// NewVideo builds a Video with a fresh header.
func NewVideo(producer string, samples []int16) *Video {
	return &Video{
		Header:      NewHeader(producer, VideoType),
		RangeFactor: 1,
		Samples:     samples,
	}
}

// Derive builds a new Video produced by producer, copying the metadata of v but not its samples.
func (v *Video) Derive(producer string, samples []int16) *Video {
	out := *v
	out.Header = NewHeader(producer, VideoType)
	out.Samples = samples
	return &out
}

func (*Video) TypeInfo() *TypeInfo { return VideoType }
func (v *Video) Meta() *Header     { return &v.Header }

// Complex returns the number of I/Q pairs.
func (v *Video) Complex() int { return len(v.Samples) / 2 }

// Size estimates the encoded size of v.
func (v *Video) Size() int {
	return PreambleSize + 4 + 4 + len(v.Producer) + 4 + 16 + 12 + 24 + 4 + 2*len(v.Samples)
}

func (v *Video) WriteBody(w *Writer) error {
	if len(v.Samples)%2 != 0 {
		return fmt.Errorf("video: odd sample count %d, samples are I/Q pairs", len(v.Samples))
	}
	w.Uint32(v.MsgDesc)
	w.Uint32(v.ShaftEncoding)
	w.Uint32(v.PRFEncoding)
	w.Float64(v.IRIGTime)
	w.Float64(v.RangeMin)
	w.Float64(v.RangeFactor)
	w.Int16s(v.Samples)
	return nil
}

func loadVideoV1(obj Native, r *Reader) error {
	v, ok := obj.(*Video)
	if !ok {
		return fmt.Errorf("%w: %T is not a *Video", ErrTypeMismatch, obj)
	}
	v.MsgDesc = r.Uint32()
	v.ShaftEncoding = r.Uint32()
	v.RangeMin = r.Float64()
	v.RangeFactor = r.Float64()
	v.Samples = r.Int16s()
	return r.Err()
}

func loadVideoV2(obj Native, r *Reader) error {
	v, ok := obj.(*Video)
	if !ok {
		return fmt.Errorf("%w: %T is not a *Video", ErrTypeMismatch, obj)
	}
	v.MsgDesc = r.Uint32()
	v.ShaftEncoding = r.Uint32()
	v.PRFEncoding = r.Uint32()
	v.IRIGTime = r.Float64()
	v.RangeMin = r.Float64()
	v.RangeFactor = r.Float64()
	v.Samples = r.Int16s()
	return r.Err()
}

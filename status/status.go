// Package status collects the periodic state reports of pipeline tasks.
package status

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Sink receives the fields of a status report.
type Sink interface {
	Set(key string, value any)
}

// Snapshot is a status report keeping its fields in insertion order.
type Snapshot struct {
	keys   []string
	values map[string]any
}

// NewSnapshot returns an empty report.
func NewSnapshot() *Snapshot {
	return &Snapshot{values: make(map[string]any)}
}

// Set stores a field. Values are normalized to types a protobuf Struct can hold.
func (s *Snapshot) Set(key string, value any) {
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = normalize(value)
}

// Get returns the value of a field.
func (s *Snapshot) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Keys returns the field names in insertion order.
func (s *Snapshot) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Map returns a copy of the fields.
func (s *Snapshot) Map() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// ToProto converts the report into a protobuf Struct.
func (s *Snapshot) ToProto() (*structpb.Struct, error) {
	return structpb.NewStruct(s.values)
}

// Marshal encodes the report as a protobuf Struct.
func (s *Snapshot) Marshal() ([]byte, error) {
	st, err := s.ToProto()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	return proto.Marshal(st)
}

// Unmarshal decodes a report encoded by Marshal. Field order is not preserved.
func Unmarshal(data []byte) (*Snapshot, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	s := NewSnapshot()
	for k, v := range st.AsMap() {
		s.Set(k, v)
	}
	return s, nil
}

type prefixed struct {
	sink   Sink
	prefix string
}

func (p prefixed) Set(key string, value any) { p.sink.Set(p.prefix+"."+key, value) }

// Prefixed returns a Sink storing every field of sink under "prefix.".
func Prefixed(sink Sink, prefix string) Sink {
	return prefixed{sink: sink, prefix: prefix}
}

func normalize(value any) any {
	switch v := value.(type) {
	case nil, bool, string, int, int32, int64, uint32, uint64, float32, float64:
		return v
	case uint:
		return uint64(v)
	case int16:
		return int64(v)
	case uint16:
		return uint64(v)
	case time.Duration:
		return v.Seconds()
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = normalize(s)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, s := range v {
			out[k] = normalize(s)
		}
		return out
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(value)
}

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fogfactory/sidecar/message"
	"github.com/fogfactory/sidecar/parameter"
	"github.com/fogfactory/sidecar/task"
	"github.com/goccy/go-yaml"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Description is the YAML form of a stream:
//
//	name: demo
//	input: {channel: raw, type: Video, to: [gain]}
//	tasks:
//	  - name: gain
//	    algorithm: Scale
//	    params: {gain: 2}
//	    outputs:
//	      - {channel: scaled, type: Video, to: [filter]}
//	  - name: filter
//	    algorithm: MatchedFilter
type Description struct {
	Name  string            `yaml:"name"`
	Input *Endpoint         `yaml:"input"`
	Tasks []TaskDescription `yaml:"tasks"`
}

// Endpoint is a channel and the stages it feeds.
type Endpoint struct {
	Channel string   `yaml:"channel"`
	Type    string   `yaml:"type"`
	To      []string `yaml:"to"`
}

type TaskDescription struct {
	Name            string        `yaml:"name"`
	Algorithm       string        `yaml:"algorithm"`
	AlwaysUsingData bool          `yaml:"alwaysUsingData"`
	Params          yaml.MapSlice `yaml:"params"`
	Outputs         []Endpoint    `yaml:"outputs"`
}

// LoadDescription decodes and checks a YAML description.
func LoadDescription(r io.Reader) (*Description, error) {
	var desc Description
	if err := yaml.NewDecoder(r).Decode(&desc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return &desc, nil
}

// Validate checks that every stage is named, has an algorithm and that channels only name
// known stages.
func (d *Description) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, fmt.Errorf("%w: missing name", ErrInvalid))
	}
	if len(d.Tasks) == 0 {
		errs = append(errs, fmt.Errorf("%w: no task", ErrInvalid))
	}
	names := lo.Map(d.Tasks, func(t TaskDescription, _ int) string { return t.Name })
	for _, dup := range lo.FindDuplicates(names) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateStage, dup))
	}
	checkTargets := func(e Endpoint) {
		for _, to := range lo.Without(e.To, names...) {
			errs = append(errs, fmt.Errorf("%w: %s, fed by %s", ErrUnknownStage, to, e.Channel))
		}
	}
	if d.Input != nil {
		checkTargets(*d.Input)
	}
	for i, t := range d.Tasks {
		if t.Name == "" || t.Algorithm == "" {
			errs = append(errs, fmt.Errorf("%w: task %d needs a name and an algorithm", ErrInvalid, i))
		}
		lo.ForEach(t.Outputs, func(e Endpoint, _ int) { checkTargets(e) })
	}
	return errors.Join(errs...)
}

func (t TaskDescription) changes() []parameter.Change {
	return lo.Map(t.Params, func(item yaml.MapItem, _ int) parameter.Change {
		return parameter.Change{Name: fmt.Sprint(item.Key), Value: item.Value}
	})
}

// Build assembles, opens and configures the stream described by desc. Message type names
// are resolved in types. Stages are left in their initial state; parameters are applied as
// original values. On failure every stage built so far is closed.
func Build(ctx context.Context, desc *Description, types *message.Registry, opts ...Option) (_ *Stream, err error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	s := New(desc.Name, opts...)
	defer func() {
		if err != nil {
			err = errors.Join(err, s.Close())
		}
	}()

	lookup := func(name string) (*message.TypeInfo, error) {
		info, ok := types.LookupName(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown message type %q", ErrInvalid, name)
		}
		return info, nil
	}

	for _, t := range desc.Tasks {
		if _, err := s.Add(t.Name, task.AlwaysUsingData(t.AlwaysUsingData)); err != nil {
			return nil, err
		}
	}
	if in := desc.Input; in != nil {
		info, err := lookup(in.Type)
		if err != nil {
			return nil, err
		}
		if _, err := s.Input(in.Channel, info, in.To...); err != nil {
			return nil, err
		}
	}
	for _, t := range desc.Tasks {
		for _, out := range t.Outputs {
			info, err := lookup(out.Type)
			if err != nil {
				return nil, err
			}
			if _, err := s.Connect(t.Name, out.Channel, info, out.To...); err != nil {
				return nil, err
			}
		}
	}
	for _, t := range desc.Tasks {
		if err := s.Open(t.Name, t.Algorithm); err != nil {
			return nil, err
		}
		if len(t.Params) == 0 {
			continue
		}
		ctrl := task.ParametersChange{Request: parameter.Request{Changes: t.changes(), Original: true}}
		if err := s.Stage(t.Name).Apply(ctx, ctrl); err != nil {
			return nil, fmt.Errorf("%s: %w", t.Name, err)
		}
	}
	s.UpdateUsingData()
	s.log.Info("built", zap.Int("stages", len(desc.Tasks)))
	return s, nil
}

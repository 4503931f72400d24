// Package scale multiplies the samples of Video messages by a gain.
package scale

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/fogfactory/sidecar/controller"
	"github.com/fogfactory/sidecar/message"
	"github.com/fogfactory/sidecar/parameter"
	"github.com/fogfactory/sidecar/status"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const Name = "Scale"

func init() {
	controller.Register(Name, New)
}

// Scale applies gain to every I/Q value and logs a heartbeat on each alarm.
type Scale struct {
	controller.Nop
	c   *controller.Controller
	log *zap.Logger

	enabled   *parameter.Value[bool]
	gain      *parameter.Value[float64]
	heartbeat *parameter.Value[int]

	scaled     atomic.Int64
	heartbeats atomic.Int64
}

func New(c *controller.Controller, log *zap.Logger) (controller.Algorithm, error) {
	return &Scale{
		c:       c,
		log:     log,
		enabled: parameter.NewBool("enabled", true, parameter.WithLabel("Enabled")),
		gain:    parameter.NewRangedFloat("gain", 1, -1000, 1000, parameter.WithLabel("Gain")),
		heartbeat: parameter.NewRangedInt("heartbeatMillis", 30000, 0, 3600000,
			parameter.WithLabel("Heartbeat period in ms (0 disables)"), parameter.Advanced()),
	}, nil
}

func (s *Scale) Startup() error {
	if err := s.c.Parameters().Register(s.enabled, s.gain, s.heartbeat); err != nil {
		return err
	}
	s.heartbeat.OnChange(s.arm)
	s.arm(s.heartbeat.Get())
	return controller.RegisterProcessor(s.c, s.process)
}

func (s *Scale) arm(ms int) {
	s.c.SetTimer(time.Duration(ms) * time.Millisecond)
}

func (s *Scale) process(in *message.Video) error {
	samples := in.Samples
	if s.enabled.Get() {
		gain := s.gain.Get()
		samples = lo.Map(in.Samples, func(v int16, _ int) int16 { return clamp(float64(v) * gain) })
		s.scaled.Add(1)
	}
	return s.c.Send(in.Derive(s.c.Name(), samples), 0)
}

func clamp(v float64) int16 {
	return int16(max(math.MinInt16, min(math.MaxInt16, math.Round(v))))
}

func (s *Scale) ProcessAlarm() error {
	n := s.heartbeats.Add(1)
	s.log.Info("heartbeat", zap.Int64("count", n), zap.Int64("scaled", s.scaled.Load()))
	return nil
}

func (s *Scale) ClearStats() {
	s.scaled.Store(0)
	s.heartbeats.Store(0)
}

func (s *Scale) ReportStatus(sink status.Sink) {
	sink.Set("gain", s.gain.Get())
	sink.Set("scaled", s.scaled.Load())
	sink.Set("heartbeats", s.heartbeats.Load())
}

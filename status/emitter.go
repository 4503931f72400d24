package status

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Collector gathers the current reports.
type Collector func() []*Snapshot

// Publisher hands reports to whatever transports them.
type Publisher interface {
	Publish(ctx context.Context, snapshots []*Snapshot) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, snapshots []*Snapshot) error

func (f PublisherFunc) Publish(ctx context.Context, snapshots []*Snapshot) error {
	return f(ctx, snapshots)
}

// Emitter collects and publishes reports at a fixed period.
type Emitter struct {
	period  time.Duration
	collect Collector
	publish Publisher
	log     *zap.Logger
}

// NewEmitter returns an emitter. A nil logger discards logs.
func NewEmitter(period time.Duration, collect Collector, publish Publisher, log *zap.Logger) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{period: period, collect: collect, publish: publish, log: log}
}

// Run emits until ctx is done. Publishing failures are logged, not fatal.
func (e *Emitter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.publish.Publish(ctx, e.collect()); err != nil {
				e.log.Warn("status publish failed", zap.Error(err))
			}
		}
	}
}

// LogPublisher logs every report at debug level with its encoded size.
func LogPublisher(log *zap.Logger) Publisher {
	return PublisherFunc(func(_ context.Context, snapshots []*Snapshot) error {
		for _, s := range snapshots {
			data, err := s.Marshal()
			if err != nil {
				return err
			}
			name, _ := s.Get("name")
			state, _ := s.Get("processingState")
			log.Debug("status", zap.Any("task", name), zap.Any("state", state), zap.Int("bytes", len(data)))
		}
		return nil
	})
}

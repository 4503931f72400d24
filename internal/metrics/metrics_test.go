package metrics_test

import (
	"testing"
	"time"

	"github.com/fogfactory/sidecar/internal/metrics"
	"github.com/maxatome/go-testdeep/td"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	t.Run("nil_is_noop", func(t *testing.T) {
		var m *metrics.Metrics
		td.CmpNotPanic(t, func() {
			m.Received("t", 0, 10)
			m.Dropped("t", metrics.DropFailure)
			m.Delivered("c", 2)
			m.Transition("t", "Run")
			m.SetUsingData("t", true)
			m.Processed("t", time.Millisecond)
			m.Alarm("t")
		})
	})

	t.Run("delivery_outcomes", func(t *testing.T) {
		// Arrange
		m := metrics.New(prometheus.NewRegistry())

		// Act
		m.Delivered("out", 3)
		m.Delivered("out", 0)
		m.Received("sink", 1, 128)

		// Assert
		td.Cmp(t, testutil.ToFloat64(m.ChannelDelivered.WithLabelValues("out")), 1.0)
		td.Cmp(t, testutil.ToFloat64(m.ChannelDuplicated.WithLabelValues("out")), 2.0)
		td.Cmp(t, testutil.ToFloat64(m.ChannelElided.WithLabelValues("out")), 1.0)
		td.Cmp(t, testutil.ToFloat64(m.BytesReceived.WithLabelValues("sink", "1")), 128.0)
	})
}

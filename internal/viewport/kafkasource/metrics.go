package kafkasource

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metricSet struct {
	msgs     *prometheus.CounterVec
	proc     prometheus.Histogram
	lagGauge prometheus.Gauge
}

func newMetricSet(r prometheus.Registerer) *metricSet {
	m := &metricSet{
		msgs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "viewport_feed_msgs_total",
				Help: "Viewport feed messages by result.",
			},
			[]string{"result"},
		),
		proc: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "viewport_feed_processing_seconds",
				Help:    "Processing time for one viewport message.",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
		),
		lagGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "viewport_feed_lag_seconds",
				Help: "Approximate lag: now - message.timestamp.",
			},
		),
	}
	if r != nil {
		r.MustRegister(m.msgs, m.proc, m.lagGauge)
	}
	return m
}

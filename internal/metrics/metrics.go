// Package metrics exposes Prometheus counters and gauges for the core
// pipeline: ticks processed, bars finalized, signals emitted, sink
// flush failures and queue depth.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the collectors the pipeline drives. Unlike the
// teacher's package-level vars registered in init(), each instance owns
// its own collectors and registers them against an injected registerer
// — so tests and multiple pipeline instances in one process don't
// collide on Prometheus's default registry.
type Metrics struct {
	ticksProcessed  prometheus.Counter
	barsFinalized   prometheus.Counter
	signalsEmitted  prometheus.Counter
	sinkFlushFailed *prometheus.CounterVec
	queueDepth      prometheus.Gauge
}

// New creates and registers the collectors against reg. A nil reg
// registers against prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ticksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickcore_ticks_processed_total",
			Help: "Enriched ticks processed by the pipeline.",
		}),
		barsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickcore_bars_finalized_total",
			Help: "Bars finalized across all instruments and intervals.",
		}),
		signalsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickcore_signals_emitted_total",
			Help: "Signal events emitted by the signal engine.",
		}),
		sinkFlushFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickcore_sink_flush_failed_total",
			Help: "Sink flush failures, by sink component.",
		}, []string{"component"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tickcore_queue_depth",
			Help: "Current depth of the tick ingestion queue.",
		}),
	}
	reg.MustRegister(m.ticksProcessed, m.barsFinalized, m.signalsEmitted, m.sinkFlushFailed, m.queueDepth)
	return m
}

func (m *Metrics) TicksProcessed()  { m.ticksProcessed.Inc() }
func (m *Metrics) BarsFinalized()   { m.barsFinalized.Inc() }
func (m *Metrics) SignalsEmitted()  { m.signalsEmitted.Inc() }
func (m *Metrics) QueueDepth(n int) { m.queueDepth.Set(float64(n)) }

func (m *Metrics) SinkFlushFailed(component string) {
	m.sinkFlushFailed.WithLabelValues(component).Inc()
}

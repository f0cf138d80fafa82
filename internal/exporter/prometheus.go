package exporter

import (
	"context"
	"time"

	"sync-profile/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromSink exposes published statistics as Prometheus gauges. A metric with
// no value removes its series instead of reporting a placeholder.
type PromSink struct {
	frequency *prometheus.GaugeVec
	timeDiff  *prometheus.GaugeVec
}

func NewPromSink(reg prometheus.Registerer) *PromSink {
	factory := promauto.With(reg)
	return &PromSink{
		frequency: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "syncprofile_source_frequency_hz",
			Help: "Update frequency statistics per source",
		}, []string{"source", "stat"}),
		timeDiff: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "syncprofile_pair_time_diff_seconds",
			Help: "Signed update time difference statistics per source pair",
		}, []string{"pair", "stat"}),
	}
}

func (p *PromSink) Name() string { return "prometheus" }

func (p *PromSink) Publish(_ context.Context, m models.Metric) error {
	vec := p.frequency
	if m.Kind == models.KindTimeDiff {
		vec = p.timeDiff
	}
	if m.Value == nil {
		vec.DeleteLabelValues(m.Subject, m.Stat)
		return nil
	}
	vec.WithLabelValues(m.Subject, m.Stat).Set(*m.Value)
	return nil
}

// PipelineMetrics instruments event handling and publication.
type PipelineMetrics struct {
	eventsTotal    *prometheus.CounterVec
	eventsRejected *prometheus.CounterVec
	updateDuration prometheus.Histogram
	queueLength    prometheus.Gauge
	dropped        prometheus.Counter
	sinkErrors     *prometheus.CounterVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)
	return &PipelineMetrics{
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "syncprofile_events_total",
			Help: "Update events accepted per source",
		}, []string{"source"}),
		eventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "syncprofile_events_rejected_total",
			Help: "Update events rejected or discarded",
		}, []string{"reason"}),
		updateDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "syncprofile_update_duration_seconds",
			Help:    "Time spent recomputing statistics for one event",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		queueLength: factory.NewGauge(prometheus.GaugeOpts{
			Name: "syncprofile_publish_queue_length",
			Help: "Metrics waiting for delivery to sinks",
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "syncprofile_publish_dropped_total",
			Help: "Metrics dropped because the publish queue was full",
		}),
		sinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "syncprofile_sink_errors_total",
			Help: "Failed metric deliveries per sink",
		}, []string{"sink"}),
	}
}

func (p *PipelineMetrics) EventAccepted(source string) {
	p.eventsTotal.WithLabelValues(source).Inc()
}

func (p *PipelineMetrics) EventRejected(reason string) {
	p.eventsRejected.WithLabelValues(reason).Inc()
}

func (p *PipelineMetrics) ObserveUpdate(d time.Duration) {
	p.updateDuration.Observe(d.Seconds())
}

func (p *PipelineMetrics) MetricDropped() {
	p.dropped.Inc()
}

func (p *PipelineMetrics) SinkFailed(sink string) {
	p.sinkErrors.WithLabelValues(sink).Inc()
}

func (p *PipelineMetrics) QueueLength(n int) {
	p.queueLength.Set(float64(n))
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tributary"

// PrometheusCollector exposes a Collector's counters as Prometheus metrics.
// Values are read from a Snapshot on every scrape, so the Collector stays
// the single source of truth.
type PrometheusCollector struct {
	source *Collector

	runsStarted  *prometheus.Desc
	runsEnded    *prometheus.Desc
	events       *prometheus.Desc
	parseErrors  *prometheus.Desc
	bytes        *prometheus.Desc
	streamErrors *prometheus.Desc
	publishes    *prometheus.Desc
}

// NewPrometheusCollector wraps c for registration with a prometheus.Registerer.
func NewPrometheusCollector(c *Collector) *PrometheusCollector {
	constLabels := prometheus.Labels{}
	if c != nil && c.endpoint != "" {
		constLabels["endpoint"] = c.endpoint
	}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, constLabels)
	}
	return &PrometheusCollector{
		source:       c,
		runsStarted:  desc("runs_started_total", "Runs started."),
		runsEnded:    desc("runs_ended_total", "Runs ended, by terminal phase.", "phase"),
		events:       desc("events_total", "Stream events folded, by event type.", "type"),
		parseErrors:  desc("parse_errors_total", "Malformed stream lines skipped."),
		bytes:        desc("stream_bytes_total", "Bytes read from event streams."),
		streamErrors: desc("stream_errors_total", "Fatal stream errors, by kind.", "kind"),
		publishes:    desc("adapter_publish_total", "Run-finished notifications, by result.", "result"),
	}
}

// Describe implements prometheus.Collector.
func (p *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.runsStarted
	ch <- p.runsEnded
	ch <- p.events
	ch <- p.parseErrors
	ch <- p.bytes
	ch <- p.streamErrors
	ch <- p.publishes
}

// Collect implements prometheus.Collector.
func (p *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	s := p.source.Snapshot()

	counter := func(desc *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
	}

	counter(p.runsStarted, s.RunsStarted)
	counter(p.runsEnded, s.RunsFinished, "finished")
	counter(p.runsEnded, s.RunsFailed, "failed")
	counter(p.runsEnded, s.RunsAborted, "aborted")
	for eventType, n := range s.EventsByType {
		counter(p.events, n, eventType)
	}
	counter(p.parseErrors, s.ParseErrors)
	counter(p.bytes, s.BytesReceived)
	counter(p.streamErrors, s.TransportErrors, "transport")
	counter(p.streamErrors, s.ReadErrors, "read")
	counter(p.streamErrors, s.IdleTimeouts, "idle_timeout")
	counter(p.publishes, s.AdapterPublishSuccess, "success")
	counter(p.publishes, s.AdapterPublishFailure, "failure")
}

// Register registers a PrometheusCollector for c with reg.
// An already registered collector is not an error.
func Register(reg prometheus.Registerer, c *Collector) error {
	err := reg.Register(NewPrometheusCollector(c))
	if err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

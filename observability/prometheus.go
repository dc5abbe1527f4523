// Package observability exports index metrics to Prometheus.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements vectorize.MetricsCollector.
type PrometheusCollector struct {
	opLatency *prometheus.HistogramVec
	records   *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	plans     *prometheus.CounterVec
	replayed  prometheus.Counter
}

// NewPrometheusCollector creates the collector and registers its metrics
// with reg. A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &PrometheusCollector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vectorize_operation_latency_seconds",
			Help:    "Latency of index operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vectorize_records_total",
			Help: "Records applied, deleted or returned, by operation",
		}, []string{"op"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vectorize_rejected_records_total",
			Help: "Records rejected by insert and upsert",
		}, []string{"op"}),
		plans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vectorize_query_plans_total",
			Help: "Candidate strategies chosen by queries",
		}, []string{"plan"}),
		replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vectorize_journal_replayed_entries_total",
			Help: "Journal entries replayed on recovery",
		}),
	}

	reg.MustRegister(c.opLatency, c.records, c.rejected, c.plans, c.replayed)
	return c
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *PrometheusCollector) observe(op string, d time.Duration, err error) {
	c.opLatency.WithLabelValues(op, status(err)).Observe(d.Seconds())
}

// RecordInsert implements vectorize.MetricsCollector.
func (c *PrometheusCollector) RecordInsert(count, rejected int, d time.Duration, err error) {
	c.observe("insert", d, err)
	c.records.WithLabelValues("insert").Add(float64(count))
	c.rejected.WithLabelValues("insert").Add(float64(rejected))
}

// RecordUpsert implements vectorize.MetricsCollector.
func (c *PrometheusCollector) RecordUpsert(count, rejected int, d time.Duration, err error) {
	c.observe("upsert", d, err)
	c.records.WithLabelValues("upsert").Add(float64(count))
	c.rejected.WithLabelValues("upsert").Add(float64(rejected))
}

// RecordDelete implements vectorize.MetricsCollector.
func (c *PrometheusCollector) RecordDelete(deleted int, d time.Duration, err error) {
	c.observe("delete", d, err)
	c.records.WithLabelValues("delete").Add(float64(deleted))
}

// RecordQuery implements vectorize.MetricsCollector.
func (c *PrometheusCollector) RecordQuery(_, matches int, d time.Duration, err error) {
	c.observe("query", d, err)
	c.records.WithLabelValues("query").Add(float64(matches))
}

// RecordQueryPlan implements vectorize.MetricsCollector.
func (c *PrometheusCollector) RecordQueryPlan(plan string, _ int) {
	c.plans.WithLabelValues(plan).Inc()
}

// RecordJournal implements vectorize.MetricsCollector.
func (c *PrometheusCollector) RecordJournal(_ int, d time.Duration, err error) {
	c.observe("journal", d, err)
}

// RecordSnapshot implements vectorize.MetricsCollector.
func (c *PrometheusCollector) RecordSnapshot(records int, d time.Duration, err error) {
	c.observe("snapshot", d, err)
	c.records.WithLabelValues("snapshot").Add(float64(records))
}

// RecordReplay implements vectorize.MetricsCollector.
func (c *PrometheusCollector) RecordReplay(entries int, d time.Duration, err error) {
	c.observe("replay", d, err)
	c.replayed.Add(float64(entries))
}

// Package prometheus exports countrydb operation metrics to Prometheus.
//
//	c := prometheus.New(prom.DefaultRegisterer)
//	db, _ := countrydb.Open(ctx, dir, countrydb.WithMetricsCollector(c))
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/countrydb"
)

// Namespace prefixes every metric name.
const Namespace = "countrydb"

// Collector implements countrydb.MetricsCollector with Prometheus metrics.
type Collector struct {
	opLatency    *prometheus.HistogramVec
	results      *prometheus.CounterVec
	neighbors    prometheus.Histogram
	tableEntries prometheus.Gauge
	scannedTotal prometheus.Counter
}

var _ countrydb.MetricsCollector = (*Collector)(nil)

// New creates a Collector and registers its metrics with reg. A nil reg
// leaves the metrics unregistered.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_latency_seconds",
			Help:      "Latency of countrydb operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "query_results_total",
			Help:      "Queries by operation and outcome (hit, miss, error).",
		}, []string{"op", "result"}),
		neighbors: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "resolved_neighbors",
			Help:      "Neighbors resolved per border query.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16},
		}),
		tableEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "table_entries",
			Help:      "Keys in the served table after the last successful ingest.",
		}),
		scannedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "scanned_entries_total",
			Help:      "Entries yielded by scans.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.opLatency, c.results, c.neighbors, c.tableEntries, c.scannedTotal)
	}
	return c
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func result(found bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case found:
		return "hit"
	default:
		return "miss"
	}
}

// RecordIngest implements countrydb.MetricsCollector.
func (c *Collector) RecordIngest(entries int64, d time.Duration, err error) {
	c.opLatency.WithLabelValues("ingest", status(err)).Observe(d.Seconds())
	if err == nil {
		c.tableEntries.Set(float64(entries))
	}
}

// RecordLookup implements countrydb.MetricsCollector.
func (c *Collector) RecordLookup(found bool, d time.Duration, err error) {
	c.opLatency.WithLabelValues("lookup", status(err)).Observe(d.Seconds())
	c.results.WithLabelValues("lookup", result(found, err)).Inc()
}

// RecordResolve implements countrydb.MetricsCollector.
func (c *Collector) RecordResolve(found bool, neighbors int, d time.Duration, err error) {
	c.opLatency.WithLabelValues("resolve", status(err)).Observe(d.Seconds())
	c.results.WithLabelValues("resolve", result(found, err)).Inc()
	if found && err == nil {
		c.neighbors.Observe(float64(neighbors))
	}
}

// RecordScan implements countrydb.MetricsCollector.
func (c *Collector) RecordScan(entries int, d time.Duration, err error) {
	c.opLatency.WithLabelValues("scan", status(err)).Observe(d.Seconds())
	c.scannedTotal.Add(float64(entries))
}

package countrydb

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; see
// metrics/prometheus for a Prometheus implementation.
type MetricsCollector interface {
	// RecordIngest is called after each ingest, including skipped ones.
	// entries is the number of keys in the published table.
	RecordIngest(entries int64, duration time.Duration, err error)

	// RecordLookup is called after each point lookup.
	RecordLookup(found bool, duration time.Duration, err error)

	// RecordResolve is called after each border resolution.
	// neighbors is the number of resolved neighbors.
	RecordResolve(found bool, neighbors int, duration time.Duration, err error)

	// RecordScan is called when a scan finishes or is abandoned.
	RecordScan(entries int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordIngest(int64, time.Duration, error)      {}
func (NoopMetricsCollector) RecordLookup(bool, time.Duration, error)       {}
func (NoopMetricsCollector) RecordResolve(bool, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordScan(int, time.Duration, error)          {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	IngestCount       atomic.Int64
	IngestErrors      atomic.Int64
	IngestEntries     atomic.Int64
	LookupCount       atomic.Int64
	LookupHits        atomic.Int64
	LookupErrors      atomic.Int64
	LookupTotalNanos  atomic.Int64
	ResolveCount      atomic.Int64
	ResolveErrors     atomic.Int64
	ResolveNeighbors  atomic.Int64
	ResolveTotalNanos atomic.Int64
	ScanCount         atomic.Int64
	ScanEntries       atomic.Int64
	ScanErrors        atomic.Int64
}

// RecordIngest implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIngest(entries int64, duration time.Duration, err error) {
	b.IngestCount.Add(1)
	if err != nil {
		b.IngestErrors.Add(1)
		return
	}
	b.IngestEntries.Store(entries)
}

// RecordLookup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLookup(found bool, duration time.Duration, err error) {
	b.LookupCount.Add(1)
	b.LookupTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.LookupErrors.Add(1)
	}
	if found {
		b.LookupHits.Add(1)
	}
}

// RecordResolve implements MetricsCollector.
func (b *BasicMetricsCollector) RecordResolve(found bool, neighbors int, duration time.Duration, err error) {
	b.ResolveCount.Add(1)
	b.ResolveTotalNanos.Add(duration.Nanoseconds())
	b.ResolveNeighbors.Add(int64(neighbors))
	if err != nil {
		b.ResolveErrors.Add(1)
	}
}

// RecordScan implements MetricsCollector.
func (b *BasicMetricsCollector) RecordScan(entries int, duration time.Duration, err error) {
	b.ScanCount.Add(1)
	b.ScanEntries.Add(int64(entries))
	if err != nil {
		b.ScanErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		IngestCount:      b.IngestCount.Load(),
		IngestErrors:     b.IngestErrors.Load(),
		IngestEntries:    b.IngestEntries.Load(),
		LookupCount:      b.LookupCount.Load(),
		LookupHits:       b.LookupHits.Load(),
		LookupErrors:     b.LookupErrors.Load(),
		LookupAvgNanos:   avg(b.LookupTotalNanos.Load(), b.LookupCount.Load()),
		ResolveCount:     b.ResolveCount.Load(),
		ResolveErrors:    b.ResolveErrors.Load(),
		ResolveNeighbors: b.ResolveNeighbors.Load(),
		ResolveAvgNanos:  avg(b.ResolveTotalNanos.Load(), b.ResolveCount.Load()),
		ScanCount:        b.ScanCount.Load(),
		ScanEntries:      b.ScanEntries.Load(),
		ScanErrors:       b.ScanErrors.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	IngestCount      int64
	IngestErrors     int64
	IngestEntries    int64
	LookupCount      int64
	LookupHits       int64
	LookupErrors     int64
	LookupAvgNanos   int64
	ResolveCount     int64
	ResolveErrors    int64
	ResolveNeighbors int64
	ResolveAvgNanos  int64
	ScanCount        int64
	ScanEntries      int64
	ScanErrors       int64
}

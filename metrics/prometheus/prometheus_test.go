package prometheus

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/countrydb"
	"github.com/hupe1980/countrydb/ingest"
	ctestutil "github.com/hupe1980/countrydb/testutil"
)

func TestCollector_Records(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	c := New(reg)

	c.RecordIngest(4, time.Millisecond, nil)
	c.RecordIngest(0, time.Millisecond, errors.New("boom"))
	c.RecordLookup(true, time.Microsecond, nil)
	c.RecordLookup(false, time.Microsecond, nil)
	c.RecordLookup(false, time.Microsecond, errors.New("boom"))
	c.RecordResolve(true, 2, time.Microsecond, nil)
	c.RecordScan(10, time.Millisecond, nil)

	assert.Equal(t, 4.0, testutil.ToFloat64(c.tableEntries))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.results.WithLabelValues("lookup", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.results.WithLabelValues("lookup", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.results.WithLabelValues("lookup", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.results.WithLabelValues("resolve", "hit")))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.scannedTotal))

	expected := `
# HELP countrydb_table_entries Keys in the served table after the last successful ingest.
# TYPE countrydb_table_entries gauge
countrydb_table_entries 4
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "countrydb_table_entries"))

	n, err := testutil.GatherAndCount(reg, "countrydb_operation_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestCollector_WithDB(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	ctx := context.Background()
	src := ingest.BytesSource("test", ctestutil.Batch(ctestutil.GermanyFrance()...))
	db, err := countrydb.Open(ctx, t.TempDir(), countrydb.WithSource(src), countrydb.WithMetricsCollector(c))
	require.NoError(t, err)
	defer db.Close()

	_, _, err = db.Lookup(ctx, "DEU")
	require.NoError(t, err)
	_, _, err = db.ResolveWithBorders(ctx, "Germany")
	require.NoError(t, err)

	assert.Equal(t, 4.0, testutil.ToFloat64(c.tableEntries))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.results.WithLabelValues("lookup", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.results.WithLabelValues("resolve", "hit")))
}

func TestCollector_NilRegisterer(t *testing.T) {
	c := New(nil)
	assert.NotPanics(t, func() { c.RecordLookup(true, time.Microsecond, nil) })
}

//go:build unix

package countrydb

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/hupe1980/countrydb/ingest"
	"github.com/hupe1980/countrydb/table"
	"github.com/hupe1980/countrydb/testutil"
)

// holdBuildLock takes the directory lock the way a running build does.
func holdBuildLock(t *testing.T, dir string) func() {
	t.Helper()
	f, err := os.OpenFile(filepath.Join(dir, table.LockFileName), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	require.NoError(t, unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB))
	var once sync.Once
	return func() {
		once.Do(func() {
			_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
			_ = f.Close()
		})
	}
}

func TestDB_ScanHonorsContextWhileLocked(t *testing.T) {
	dir := t.TempDir()
	db := openWith(t, dir, germanyFrance())

	release := holdBuildLock(t, dir)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	var scanErr error
	for _, err := range db.Scan(ctx) {
		scanErr = err
	}
	assert.ErrorIs(t, scanErr, context.DeadlineExceeded)

	// Lookups use the open handles and are not blocked by the lock.
	_, found, err := db.Lookup(context.Background(), "DEU")
	require.NoError(t, err)
	assert.True(t, found)

	release()
	assert.Len(t, scanAll(t, db), 4)
}

func TestDB_ScanAfterRebuild(t *testing.T) {
	db := openWith(t, t.TempDir(), germanyFrance())
	ctx := context.Background()

	next, stop := iter.Pull2(db.Scan(ctx))
	defer stop()
	first, err, ok := next()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, "DEU", first.Key)

	other := ingest.BytesSource("other", testutil.Batch(testutil.Country("ITA", "Italy")))
	_, err = db.Ingest(ctx, other, WithForceRebuild())
	require.NoError(t, err)

	// The running scan keeps its own handle on the previous generation.
	second, err, ok := next()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, "FRA", second.Key)

	keys := []string{}
	for _, e := range scanAll(t, db) {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"ITA", "Italy"}, keys)
}

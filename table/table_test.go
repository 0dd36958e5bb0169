package table

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hupe1980/countrydb/blobstore"
	"github.com/hupe1980/countrydb/internal/cache"
	"github.com/hupe1980/countrydb/internal/fs"
	"github.com/hupe1980/countrydb/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTable(t *testing.T, dir string, pairs [][2]string, opts ...BuilderOption) BuildResult {
	t.Helper()
	b := NewBuilder(dir, opts...)
	for _, p := range pairs {
		require.NoError(t, b.Add([]byte(p[0]), []byte(p[1])))
	}
	res, err := b.Finish(context.Background(), Meta{Codec: "msgpack", Source: "test"})
	require.NoError(t, err)
	return res
}

func manyPairs(n int) [][2]string {
	pairs := make([][2]string, 0, n)
	for i := n - 1; i >= 0; i-- {
		pairs = append(pairs, [2]string{fmt.Sprintf("key-%05d", i), fmt.Sprintf("value-%d-%s", i, bytes.Repeat([]byte("x"), i%50))})
	}
	return pairs
}

func collect(t *testing.T, r *Reader) []Entry {
	t.Helper()
	var out []Entry
	for e, err := range r.All() {
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestBuilder_RoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			dir := t.TempDir()
			pairs := manyPairs(2000)
			res := buildTable(t, dir, pairs, WithCompression(c), WithBlockSize(512))
			assert.Equal(t, int64(2000), res.Entries)
			assert.Greater(t, res.Blocks, 1)

			r, err := OpenFile(context.Background(), dir, WithVerifyChecksums(true))
			require.NoError(t, err)
			defer r.Close()

			assert.Equal(t, int64(2000), r.Len())
			assert.Equal(t, c.String(), r.Meta().Compression)
			assert.Equal(t, "msgpack", r.Meta().Codec)

			for _, p := range pairs {
				v, ok, err := r.Get([]byte(p[0]))
				require.NoError(t, err)
				require.True(t, ok, p[0])
				assert.Equal(t, p[1], string(v))
			}

			for _, k := range []string{"", "a", "key-", "key-02000", "key-00001x", "zzz"} {
				_, ok, err := r.Get([]byte(k))
				require.NoError(t, err)
				assert.False(t, ok, k)
			}
		})
	}
}

func TestBuilder_FirstWriteWins(t *testing.T) {
	dir := t.TempDir()
	res := buildTable(t, dir, [][2]string{
		{"DEU", "first"},
		{"FRA", "france"},
		{"DEU", "second"},
		{"DEU", "third"},
	})
	assert.Equal(t, int64(2), res.Entries)
	assert.Equal(t, int64(2), res.Duplicates)

	r, err := OpenFile(context.Background(), dir)
	require.NoError(t, err)
	defer r.Close()

	v, ok, err := r.Get([]byte("DEU"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", string(v))
	assert.Equal(t, int64(2), r.Meta().Duplicates)
}

func TestBuilder_Deterministic(t *testing.T) {
	pairs := manyPairs(500)
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			a, b := t.TempDir(), t.TempDir()
			buildTable(t, a, pairs, WithCompression(c))
			buildTable(t, b, pairs, WithCompression(c))

			da, err := os.ReadFile(filepath.Join(a, FileName))
			require.NoError(t, err)
			db, err := os.ReadFile(filepath.Join(b, FileName))
			require.NoError(t, err)
			assert.Equal(t, da, db)
		})
	}
}

func TestReader_AllAscendingAndRestartable(t *testing.T) {
	dir := t.TempDir()
	buildTable(t, dir, manyPairs(300), WithBlockSize(256))

	r, err := OpenFile(context.Background(), dir)
	require.NoError(t, err)
	defer r.Close()

	first := collect(t, r)
	require.Len(t, first, 301)
	assert.Equal(t, MetaKey, first[0].Key)
	for i := 1; i < len(first); i++ {
		assert.Negative(t, bytes.Compare(first[i-1].Key, first[i].Key))
	}

	// Early exit and a fresh traversal restart from the beginning.
	n := 0
	for range r.All() {
		n++
		if n == 10 {
			break
		}
	}
	assert.Equal(t, first, collect(t, r))

	meta, err := DecodeMeta(first[0].Value)
	require.NoError(t, err)
	assert.Equal(t, r.Meta(), meta)
}

func TestReader_Sentinel(t *testing.T) {
	dir := t.TempDir()
	buildTable(t, dir, nil)

	r, err := OpenFile(context.Background(), dir)
	require.NoError(t, err)
	defer r.Close()

	v, ok, err := r.Get(MetaKey)
	require.NoError(t, err)
	require.True(t, ok)
	meta, err := DecodeMeta(v)
	require.NoError(t, err)
	assert.Equal(t, int64(0), meta.Entries)
	assert.Equal(t, "test", meta.Source)
	assert.Len(t, collect(t, r), 1)
}

func TestReader_CloneAndCache(t *testing.T) {
	dir := t.TempDir()
	buildTable(t, dir, manyPairs(200), WithBlockSize(256))
	lru := cache.NewLRU(1<<20, nil)

	r, err := OpenFile(context.Background(), dir, WithBlockCache(lru))
	require.NoError(t, err)
	c, err := r.Clone()
	require.NoError(t, err)

	_, ok, err := r.Get([]byte("key-00042"))
	require.NoError(t, err)
	require.True(t, ok)

	// The first handle goes away; the clone still reads through the shared cache.
	require.NoError(t, r.Close())
	_, _, err = r.Get([]byte("key-00042"))
	assert.ErrorIs(t, err, ErrClosed)

	v, ok, err := c.Get([]byte("key-00042"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(v), "value-42")
	assert.Equal(t, int64(1), lru.Stats().Hits)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestReader_OpenBlob(t *testing.T) {
	dir := t.TempDir()
	buildTable(t, dir, manyPairs(50), WithCompression(CompressionLZ4))
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)

	store := blobstore.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "tables/countries.tbl", data))

	r, err := OpenBlob(context.Background(), store, "tables/countries.tbl")
	require.NoError(t, err)
	defer r.Close()

	v, ok, err := r.Get([]byte("key-00007"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(v), "value-7")

	_, err = OpenBlob(context.Background(), store, "missing")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestReader_Corruption(t *testing.T) {
	dir := t.TempDir()
	buildTable(t, dir, manyPairs(100), WithBlockSize(256))
	path := filepath.Join(dir, FileName)
	orig, err := os.ReadFile(path)
	require.NoError(t, err)

	write := func(t *testing.T, data []byte) {
		t.Helper()
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}

	t.Run("Missing", func(t *testing.T) {
		_, err := OpenFile(context.Background(), t.TempDir())
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("Truncated", func(t *testing.T) {
		write(t, orig[:len(orig)-10])
		_, err := OpenFile(context.Background(), dir)
		assert.ErrorIs(t, err, ErrCorrupt)

		write(t, orig[:20])
		_, err = OpenFile(context.Background(), dir)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("BadMagic", func(t *testing.T) {
		bad := bytes.Clone(orig)
		bad[len(bad)-1] ^= 0xff
		write(t, bad)
		_, err := OpenFile(context.Background(), dir)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("MetadataChecksum", func(t *testing.T) {
		bad := bytes.Clone(orig)
		bad[len(bad)-footerSize-3] ^= 0xff
		write(t, bad)
		_, err := OpenFile(context.Background(), dir)
		var ce *ChecksumError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "metadata", ce.Section)
		assert.Contains(t, err.Error(), "checksum mismatch")
	})

	t.Run("DataBlock", func(t *testing.T) {
		bad := bytes.Clone(orig)
		bad[10] ^= 0xff
		write(t, bad)

		// Lazy open succeeds, the damaged block is detected on read.
		r, err := OpenFile(context.Background(), dir)
		require.NoError(t, err)
		_, _, err = r.Get([]byte("key-00000"))
		assert.ErrorIs(t, err, ErrCorrupt)

		var sawErr bool
		for _, err := range r.All() {
			if err != nil {
				sawErr = true
			}
		}
		assert.True(t, sawErr)
		require.NoError(t, r.Close())

		_, err = OpenFile(context.Background(), dir, WithVerifyChecksums(true))
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestBuilder_FailuresLeaveNoTable(t *testing.T) {
	cases := map[string]fs.Fault{
		"write":  {FailAfterBytes: 100},
		"sync":   {FailAfterBytes: -1, FailOnSync: true},
		"close":  {FailAfterBytes: -1, FailOnClose: true},
		"rename": {FailAfterBytes: -1, FailOnRename: true},
	}
	for name, fault := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			ffs := fs.NewFaultyFS(nil)
			ffs.AddRule(FileName+tmpSuffix, fault)

			b := NewBuilder(dir, WithFileSystem(ffs))
			for _, p := range manyPairs(200) {
				require.NoError(t, b.Add([]byte(p[0]), []byte(p[1])))
			}
			_, err := b.Finish(context.Background(), Meta{})
			require.Error(t, err)

			_, err = os.Stat(filepath.Join(dir, FileName))
			assert.True(t, errors.Is(err, os.ErrNotExist), "table must not be visible")
			_, err = os.Stat(filepath.Join(dir, FileName+tmpSuffix))
			assert.True(t, errors.Is(err, os.ErrNotExist), "temp file must be removed")
		})
	}
}

func TestBuilder_FailureKeepsPreviousTable(t *testing.T) {
	dir := t.TempDir()
	buildTable(t, dir, [][2]string{{"DEU", "old"}})

	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(FileName+tmpSuffix, fs.Fault{FailAfterBytes: -1, FailOnRename: true})
	b := NewBuilder(dir, WithFileSystem(ffs))
	require.NoError(t, b.Add([]byte("DEU"), []byte("new")))
	_, err := b.Finish(context.Background(), Meta{})
	require.ErrorIs(t, err, fs.ErrInjected)

	r, err := OpenFile(context.Background(), dir)
	require.NoError(t, err)
	defer r.Close()
	v, ok, err := r.Get([]byte("DEU"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "old", string(v))
}

func TestBuilder_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("Keys", func(t *testing.T) {
		b := NewBuilder(dir)
		assert.ErrorIs(t, b.Add(nil, []byte("v")), ErrEmptyKey)
		assert.ErrorIs(t, b.Add(MetaKey, []byte("v")), ErrReservedKey)
		assert.ErrorIs(t, b.Add([]byte("\x00other"), nil), ErrReservedKey)
		assert.Equal(t, 0, b.Len())
	})

	t.Run("MemoryLimit", func(t *testing.T) {
		rc := resource.NewController(resource.Config{MemoryLimitBytes: 16})
		b := NewBuilder(dir, WithResourceController(rc))
		require.NoError(t, b.Add([]byte("DEU"), []byte("12345")))
		assert.ErrorIs(t, b.Add([]byte("FRA"), []byte("1234567890")), resource.ErrMemoryLimitExceeded)
		assert.Equal(t, int64(8), rc.MemoryUsage())
		b.Abort()
		assert.Equal(t, int64(0), rc.MemoryUsage())
		assert.ErrorIs(t, b.Add([]byte("X"), nil), ErrFinished)
	})

	t.Run("Canceled", func(t *testing.T) {
		b := NewBuilder(dir)
		require.NoError(t, b.Add([]byte("DEU"), nil))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := b.Finish(ctx, Meta{})
		assert.ErrorIs(t, err, context.Canceled)
		_, err = b.Finish(context.Background(), Meta{})
		assert.ErrorIs(t, err, ErrFinished)
	})

	t.Run("Locked", func(t *testing.T) {
		unlock, err := lockExclusive(dir)
		require.NoError(t, err)
		b := NewBuilder(dir)
		_, err = b.Finish(context.Background(), Meta{})
		assert.ErrorIs(t, err, ErrLocked)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, err = OpenFile(ctx, dir)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		require.NoError(t, unlock())
	})
}

func TestReader_CloneContext(t *testing.T) {
	dir := t.TempDir()
	buildTable(t, dir, manyPairs(10))

	r, err := OpenFile(context.Background(), dir)
	require.NoError(t, err)

	unlock, err := lockExclusive(dir)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = r.CloneContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NoError(t, unlock())

	c, err := r.CloneContext(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	require.NoError(t, r.Close())
	_, err = r.Clone()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWriter_OutOfOrder(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, WriterOptions{})
	require.NoError(t, w.Add([]byte("b"), nil))
	assert.ErrorIs(t, w.Add([]byte("a"), nil), ErrOutOfOrder)
	assert.ErrorIs(t, w.Add([]byte("b"), nil), ErrOutOfOrder)
	_, err := w.Finish(Meta{})
	require.NoError(t, err)
	_, err = w.Finish(Meta{})
	assert.ErrorIs(t, err, ErrFinished)
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCompression("snappy")
	assert.Error(t, err)
}

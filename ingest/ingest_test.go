package ingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/countrydb/blobstore"
	"github.com/hupe1980/countrydb/codec"
	"github.com/hupe1980/countrydb/record"
	"github.com/hupe1980/countrydb/resource"
	"github.com/hupe1980/countrydb/testutil"
)

type pair struct {
	key, value string
}

func run(t *testing.T, in *Ingestor, batch string) ([]pair, Stats, error) {
	t.Helper()
	var pairs []pair
	stats, err := in.Run(context.Background(), strings.NewReader(batch), func(k, v []byte) error {
		pairs = append(pairs, pair{string(k), string(v)})
		return nil
	})
	return pairs, stats, err
}

// failingCodec rejects documents whose code is "BAD".
type failingCodec struct{ codec.Msgpack }

func (c failingCodec) Marshal(v any) ([]byte, error) {
	if m, ok := v.(map[string]any); ok && m["cca3"] == "BAD" {
		return nil, errors.New("boom")
	}
	return c.Msgpack.Marshal(v)
}

func TestRun_DerivesBothKeys(t *testing.T) {
	pairs, stats, err := run(t, New(), string(testutil.Batch(testutil.GermanyFrance()...)))
	require.NoError(t, err)

	require.Len(t, pairs, 4)
	assert.Equal(t, []string{"Germany", "DEU", "France", "FRA"},
		[]string{pairs[0].key, pairs[1].key, pairs[2].key, pairs[3].key})
	assert.Equal(t, pairs[0].value, pairs[1].value)
	assert.Equal(t, pairs[2].value, pairs[3].value)
	assert.NotEqual(t, pairs[0].value, pairs[2].value)

	assert.Equal(t, int64(2), stats.Records)
	assert.Equal(t, int64(4), stats.Emitted)
	assert.Zero(t, stats.Skipped)
	assert.Zero(t, stats.Dropped)

	rec, err := record.Decode(codec.Default, []byte(pairs[1].value))
	require.NoError(t, err)
	assert.Equal(t, "Germany", rec.Name())
	assert.Equal(t, []string{"POL", "FRA", "ZZZ"}, rec.Borders())
}

func TestRun_PartialAndMissingKeys(t *testing.T) {
	batch := `[
		{"name": {"common": "Atlantis"}},
		{"cca3": "ATL"},
		{"name": {"common": ""}, "cca3": 42},
		{"name": "flat", "other": true},
		{"name": {"common": "\u0000hidden"}, "cca3": "HID"}
	]`
	pairs, stats, err := run(t, New(), batch)
	require.NoError(t, err)

	keys := make([]string, len(pairs))
	for i, p := range pairs {
		keys[i] = p.key
	}
	assert.Equal(t, []string{"Atlantis", "ATL", "HID"}, keys)
	assert.Equal(t, int64(5), stats.Records)
	assert.Equal(t, int64(2), stats.Skipped)
	assert.True(t, stats.SkippedRecords.Contains(2))
	assert.True(t, stats.SkippedRecords.Contains(3))
}

func TestRun_NumbersPreserved(t *testing.T) {
	pairs, _, err := run(t, New(), `[{"cca3":"NUM","population":83240525,"area":357114.5}]`)
	require.NoError(t, err)
	require.Len(t, pairs, 1)

	rec, err := record.Decode(codec.Default, []byte(pairs[0].value))
	require.NoError(t, err)
	v, _ := rec.Lookup("/population")
	assert.Equal(t, int64(83240525), v)
	v, _ = rec.Lookup("/area")
	assert.Equal(t, 357114.5, v)
}

func TestRun_Lenient(t *testing.T) {
	batch := `[{"cca3":"AAA"}, 17, {"cca3":"BAD"}, {"cca3":"CCC"}]`
	pairs, stats, err := run(t, New(WithCodec(failingCodec{})), batch)
	require.NoError(t, err)

	require.Len(t, pairs, 2)
	assert.Equal(t, "AAA", pairs[0].key)
	assert.Equal(t, "CCC", pairs[1].key)
	assert.Equal(t, int64(2), stats.Dropped)
	assert.Equal(t, []uint32{1, 2}, stats.DroppedRecords.ToArray())
}

func TestRun_Strict(t *testing.T) {
	batch := `[{"cca3":"AAA"}, {"cca3":"BAD"}, {"cca3":"CCC"}]`
	pairs, _, err := run(t, New(WithCodec(failingCodec{}), WithStrict(true)), batch)

	var encErr *EncodeError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, 1, encErr.Ordinal)
	assert.Len(t, pairs, 1)

	_, _, err = run(t, New(WithStrict(true)), `[{"cca3":"AAA"}, "text"]`)
	require.ErrorAs(t, err, &encErr)
	assert.ErrorIs(t, err, errNotObject)
}

func TestRun_Malformed(t *testing.T) {
	for name, batch := range map[string]string{
		"Empty":        "",
		"Object":       `{"cca3":"DEU"}`,
		"Scalar":       `42`,
		"Truncated":    `[{"cca3":"DEU"},`,
		"BadElement":   `[{"cca3":}]`,
		"Unterminated": `[{"cca3":"DEU"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := run(t, New(), batch)
			assert.ErrorIs(t, err, ErrMalformedBatch)
		})
	}
}

func TestRun_ConcatenatedArrays(t *testing.T) {
	pairs, stats, err := run(t, New(), `[{"cca3":"AAA"}] [{"cca3":"BBB"}]`+"\n"+`[]`)
	require.NoError(t, err)
	assert.Len(t, pairs, 2)
	assert.Equal(t, int64(2), stats.Records)
}

func TestRun_CustomPaths(t *testing.T) {
	in := New(WithKeyPaths(KeyPaths{Name: "/title", Code: "/id/iso", Borders: "/adj"}))
	pairs, _, err := run(t, in, `[{"title":"X","id":{"iso":"XXX"}}]`)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, "X", pairs[0].key)
	assert.Equal(t, "XXX", pairs[1].key)

	_, _, err = run(t, New(WithKeyPaths(KeyPaths{Name: "title"})), `[]`)
	assert.ErrorIs(t, err, record.ErrInvalidPath)
}

func TestRun_EmitErrorAborts(t *testing.T) {
	sentinel := errors.New("full")
	calls := 0
	_, err := New().Run(context.Background(), bytes.NewReader(testutil.Batch(testutil.GermanyFrance()...)), func(k, v []byte) error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Run(ctx, bytes.NewReader(testutil.Batch(testutil.GermanyFrance()...)), func(k, v []byte) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func readSource(t *testing.T, src Source) string {
	t.Helper()
	rc, err := src.Open(context.Background())
	require.NoError(t, err)
	defer func() { require.NoError(t, rc.Close()) }()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(rc)
	require.NoError(t, err)
	return buf.String()
}

func TestSources(t *testing.T) {
	batch := testutil.Batch(testutil.GermanyFrance()...)

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "countries.json")
		require.NoError(t, os.WriteFile(path, batch, 0o644))
		src := FileSource(path)
		assert.Equal(t, string(batch), readSource(t, src))
		assert.Equal(t, "file:"+path, src.Name())

		_, err := FileSource(path + ".missing").Open(context.Background())
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("Reader", func(t *testing.T) {
		assert.Equal(t, string(batch), readSource(t, ReaderSource("r", bytes.NewReader(batch))))
	})

	t.Run("Bytes", func(t *testing.T) {
		src := BytesSource("b", batch)
		assert.Equal(t, readSource(t, src), readSource(t, src))
	})

	t.Run("Blob", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		require.NoError(t, store.Put(context.Background(), "data/countries.json", batch))
		assert.Equal(t, string(batch), readSource(t, BlobSource(store, "data/countries.json")))

		_, err := BlobSource(store, "nope").Open(context.Background())
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("Concat", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		ctx := context.Background()
		require.NoError(t, store.Put(ctx, "parts/b.json", testutil.Batch(testutil.Country("BBB", "Bravo"))))
		require.NoError(t, store.Put(ctx, "parts/a.json", testutil.Batch(testutil.Country("AAA", "Alpha"))))
		require.NoError(t, store.Put(ctx, "parts/", nil))
		require.NoError(t, store.Put(ctx, "other/c.json", testutil.Batch(testutil.Country("CCC", "Charlie"))))

		rc, err := ConcatSource(store, "parts/").Open(ctx)
		require.NoError(t, err)
		defer rc.Close()

		var keys []string
		stats, err := New().Run(ctx, rc, func(k, v []byte) error {
			keys = append(keys, string(k))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"Alpha", "AAA", "Bravo", "BBB"}, keys)
		assert.Equal(t, int64(2), stats.Records)

		_, err = ConcatSource(store, "missing/").Open(ctx)
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("Throttle", func(t *testing.T) {
		rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 1 << 30})
		src := Throttle(BytesSource("b", batch), rc)
		assert.Equal(t, string(batch), readSource(t, src))
		assert.Equal(t, "b", src.Name())

		plain := BytesSource("b", batch)
		assert.Equal(t, plain, Throttle(plain, nil))
	})
}

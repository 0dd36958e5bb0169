package testutil

import (
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountries(t *testing.T) {
	rng := NewRNG(4711)

	docs := rng.Countries(100)
	require.Len(t, docs, 100)

	codes := map[string]bool{}
	for _, d := range docs {
		c := d["cca3"].(string)
		assert.Len(t, c, 3)
		assert.False(t, codes[c], "duplicate code %s", c)
		codes[c] = true
		assert.NotEmpty(t, d["name"].(map[string]any)["common"])
	}
}

func TestReset(t *testing.T) {
	rng := NewRNG(4711)
	a := rng.Countries(10)
	rng.Reset()
	b := rng.Countries(10)
	assert.Equal(t, a, b)
	assert.Equal(t, int64(4711), rng.Seed())
}

func TestBatch(t *testing.T) {
	var out []map[string]any
	require.NoError(t, gojson.Unmarshal(Batch(GermanyFrance()...), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "DEU", out[0]["cca3"])
	assert.Equal(t, "[]", string(Batch()))
	assert.Equal(t, `[1,"x"]`, string(BatchOf(1, "x")))
}

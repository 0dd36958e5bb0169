package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDoc() map[string]any {
	return map[string]any{
		"name":       map[string]any{"common": "Germany", "official": "Federal Republic of Germany"},
		"cca3":       "DEU",
		"borders":    []any{"AUT", "BEL", "CHE"},
		"population": int64(83240525),
		"area":       357114.5,
		"landlocked": false,
		"capital":    nil,
	}
}

func TestCodecs_RoundTrip(t *testing.T) {
	for _, c := range []Codec{Msgpack{}, JSON{}, GoJSON{}} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Marshal(sampleDoc())
			require.NoError(t, err)

			var got map[string]any
			require.NoError(t, c.Unmarshal(data, &got))
			assert.Equal(t, sampleDoc(), got)

			var tree any
			require.NoError(t, c.Unmarshal(data, &tree))
			assert.IsType(t, map[string]any{}, tree)
		})
	}
}

func TestCodecs_Deterministic(t *testing.T) {
	for _, c := range []Codec{Msgpack{}, JSON{}, GoJSON{}} {
		t.Run(c.Name(), func(t *testing.T) {
			first := MustMarshal(c, sampleDoc())
			for i := 0; i < 20; i++ {
				assert.Equal(t, first, MustMarshal(c, sampleDoc()))
			}
		})
	}
}

func TestMsgpack_Errors(t *testing.T) {
	c := Msgpack{}

	_, err := c.Marshal(map[string]any{"ch": make(chan int)})
	assert.ErrorIs(t, err, ErrUnsupportedType)

	data := MustMarshal(c, sampleDoc())

	var m map[string]any
	assert.Error(t, c.Unmarshal(data[:len(data)/2], &m), "truncated value")
	assert.ErrorIs(t, c.Unmarshal(append(data, 0xc0), &m), ErrTrailingBytes)

	arr := MustMarshal(c, []any{"a"})
	assert.ErrorIs(t, c.Unmarshal(arr, &m), ErrTypeMismatch)

	var s struct{}
	assert.ErrorIs(t, c.Unmarshal(data, &s), ErrUnsupportedType)
}

func TestByName(t *testing.T) {
	for _, name := range []string{"msgpack", "json", "go-json"} {
		c, ok := ByName(name)
		require.True(t, ok)
		assert.Equal(t, name, c.Name())
	}
	_, ok := ByName("cbor")
	assert.False(t, ok)
	assert.Equal(t, "msgpack", Default.Name())
}

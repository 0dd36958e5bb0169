package codec

import (
	"bytes"

	gojson "github.com/goccy/go-json"
)

// GoJSON is a JSON codec backed by github.com/goccy/go-json.
type GoJSON struct{}

// Marshal encodes the value to JSON.
func (GoJSON) Marshal(v any) ([]byte, error) { return gojson.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (GoJSON) Unmarshal(data []byte, v any) error {
	switch v.(type) {
	case *any, *map[string]any:
		dec := gojson.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var tree any
		if err := dec.Decode(&tree); err != nil {
			return err
		}
		return assign(Normalize(tree), v)
	default:
		return gojson.Unmarshal(data, v)
	}
}

// Name returns the unique name of the codec ("go-json").
func (GoJSON) Name() string { return "go-json" }

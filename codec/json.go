package codec

import (
	"bytes"
	"encoding/json"
)

// JSON is the standard-library JSON codec.
//
// Map keys are emitted in sorted order, so encoding is deterministic.
// Decoding into *any or *map[string]any preserves integers as int64.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error {
	switch v.(type) {
	case *any, *map[string]any:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var tree any
		if err := dec.Decode(&tree); err != nil {
			return err
		}
		return assign(Normalize(tree), v)
	default:
		return json.Unmarshal(data, v)
	}
}

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Package codec centralizes record encoding.
//
// Tables are self-describing: the codec name is stored in the table
// metadata and readers select the matching codec with ByName. Changing the
// default codec therefore never breaks existing tables.
//
// Decoding into *any or *map[string]any yields a canonical value tree
// regardless of codec: objects are map[string]any, arrays []any, integral
// numbers int64, other numbers float64.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrUnsupportedType is returned when a value cannot be encoded.
	ErrUnsupportedType = errors.New("codec: unsupported type")
	// ErrTypeMismatch is returned when decoded data does not fit the target.
	ErrTypeMismatch = errors.New("codec: type mismatch")
)

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use and deterministic:
// equal values encode to equal bytes.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "msgpack":
		return Msgpack{}, true
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// MustMarshal is a helper for tests and fixtures.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}

// Default is the codec used for newly built tables.
var Default Codec = Msgpack{}

// Normalize converts a decoded JSON value tree into canonical form:
// json.Number becomes int64 when integral and in range, float64 otherwise.
func Normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		return normalizeNumber(t)
	case map[string]any:
		for k, e := range t {
			t[k] = Normalize(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = Normalize(e)
		}
		return t
	default:
		return v
	}
}

func normalizeNumber(n json.Number) any {
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(n.String(), 64); err == nil {
		return f
	}
	return n.String()
}

// assign stores a decoded value tree into v.
func assign(tree any, v any) error {
	switch p := v.(type) {
	case *any:
		*p = tree
		return nil
	case *map[string]any:
		m, ok := tree.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: expected object, got %T", ErrTypeMismatch, tree)
		}
		*p = m
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

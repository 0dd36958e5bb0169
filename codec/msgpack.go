package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/tinylib/msgp/msgp"
)

// ErrTrailingBytes is returned when a msgpack value is followed by extra data.
var ErrTrailingBytes = errors.New("codec: trailing bytes after value")

// Msgpack is a compact, self-describing binary codec backed by
// github.com/tinylib/msgp.
//
// Map keys are written in sorted order so that equal documents encode to
// identical bytes. Values that implement msgp.Marshaler are delegated to.
type Msgpack struct{}

// Marshal encodes the value to MessagePack.
func (Msgpack) Marshal(v any) ([]byte, error) {
	return appendValue(make([]byte, 0, 256), v)
}

// Unmarshal decodes MessagePack data into v.
func (Msgpack) Unmarshal(data []byte, v any) error {
	if u, ok := v.(msgp.Unmarshaler); ok {
		rest, err := u.UnmarshalMsg(data)
		if err != nil {
			return err
		}
		if len(rest) > 0 {
			return ErrTrailingBytes
		}
		return nil
	}
	tree, rest, err := msgp.ReadIntfBytes(data)
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return ErrTrailingBytes
	}
	return assign(canonical(tree), v)
}

// Name returns the unique name of the codec ("msgpack").
func (Msgpack) Name() string { return "msgpack" }

func appendValue(b []byte, v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return msgp.AppendNil(b), nil
	case bool:
		return msgp.AppendBool(b, t), nil
	case string:
		return msgp.AppendString(b, t), nil
	case []byte:
		return msgp.AppendBytes(b, t), nil
	case int:
		return msgp.AppendInt64(b, int64(t)), nil
	case int32:
		return msgp.AppendInt64(b, int64(t)), nil
	case int64:
		return msgp.AppendInt64(b, t), nil
	case uint32:
		return msgp.AppendUint64(b, uint64(t)), nil
	case uint64:
		return msgp.AppendUint64(b, t), nil
	case float32:
		return msgp.AppendFloat64(b, float64(t)), nil
	case float64:
		return msgp.AppendFloat64(b, t), nil
	case json.Number:
		return appendValue(b, normalizeNumber(t))
	case []any:
		b = msgp.AppendArrayHeader(b, uint32(len(t)))
		for _, e := range t {
			var err error
			if b, err = appendValue(b, e); err != nil {
				return nil, err
			}
		}
		return b, nil
	case []string:
		b = msgp.AppendArrayHeader(b, uint32(len(t)))
		for _, e := range t {
			b = msgp.AppendString(b, e)
		}
		return b, nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		b = msgp.AppendMapHeader(b, uint32(len(t)))
		for _, k := range keys {
			b = msgp.AppendString(b, k)
			var err error
			if b, err = appendValue(b, t[k]); err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
		}
		return b, nil
	case msgp.Marshaler:
		return t.MarshalMsg(b)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

// canonical maps the msgp decoding of numbers onto int64/float64.
func canonical(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = canonical(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = canonical(e)
		}
		return t
	case uint64:
		if t <= 1<<63-1 {
			return int64(t)
		}
		return t
	case float32:
		return float64(t)
	default:
		return v
	}
}

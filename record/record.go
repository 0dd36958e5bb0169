// Package record defines the country document model and field-path access.
//
// A Record is a decoded document. Keys used by the table (display name,
// short code) and neighbor references (border codes) are extracted with
// JSON-pointer paths such as "/name/common".
package record

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/countrydb/codec"
)

// Default field paths.
const (
	NamePath    = "/name/common"
	CodePath    = "/cca3"
	BordersPath = "/borders"
)

// ErrInvalidPath is returned for malformed field paths.
var ErrInvalidPath = errors.New("record: invalid field path")

// Record is a decoded country document.
type Record struct {
	fields map[string]any
}

// New wraps a document. The map is retained, not copied.
func New(fields map[string]any) *Record {
	if fields == nil {
		fields = map[string]any{}
	}
	return &Record{fields: fields}
}

// Decode decodes a serialized record with the given codec.
func Decode(c codec.Codec, data []byte) (*Record, error) {
	var m map[string]any
	if err := c.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return New(m), nil
}

// Encode serializes the record with the given codec.
func (r *Record) Encode(c codec.Codec) ([]byte, error) {
	return c.Marshal(r.fields)
}

// Fields returns the underlying document.
func (r *Record) Fields() map[string]any { return r.fields }

// Lookup returns the value at a JSON-pointer path.
func (r *Record) Lookup(path string) (any, bool) {
	return Pointer(r.fields, path)
}

// String returns the string at path, or "" if absent or not a string.
func (r *Record) String(path string) string {
	v, ok := r.Lookup(path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Strings returns the string elements of the array at path.
// Non-string elements are skipped.
func (r *Record) Strings(path string) []string {
	v, ok := r.Lookup(path)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Name returns the display name ("/name/common").
func (r *Record) Name() string { return r.String(NamePath) }

// Code returns the canonical short code ("/cca3").
func (r *Record) Code() string { return r.String(CodePath) }

// Borders returns the neighbor codes ("/borders") in document order.
func (r *Record) Borders() []string { return r.Strings(BordersPath) }

// MarshalJSON renders the record as its document.
func (r *Record) MarshalJSON() ([]byte, error) {
	return codec.GoJSON{}.Marshal(r.fields)
}

// WithNeighbors is a record together with its resolved neighbors.
// Neighbors preserves the order of the border list; unresolvable codes are absent.
type WithNeighbors struct {
	Record    *Record   `json:"record"`
	Neighbors []*Record `json:"neighbors"`
}

// ValidatePath checks that path is a JSON pointer ("" or starting with "/").
func ValidatePath(path string) error {
	if path != "" && !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return nil
}

// Pointer resolves a JSON pointer (RFC 6901) against a decoded document.
func Pointer(doc any, path string) (any, bool) {
	if path == "" {
		return doc, true
	}
	if !strings.HasPrefix(path, "/") {
		return nil, false
	}
	cur := doc
	for _, tok := range strings.Split(path[1:], "/") {
		tok = strings.ReplaceAll(strings.ReplaceAll(tok, "~1", "/"), "~0", "~")
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[tok]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(tok)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

package table

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

// Meta describes a published table. It is stored in the meta section and
// as the value of MetaKey.
type Meta struct {
	Version     uint32 // on-disk format version
	Codec       string // record codec name (codec.ByName)
	Compression string
	BlockSize   int
	Entries     int64 // data keys, excluding MetaKey
	Records     int64 // source records seen by the ingestor
	Dropped     int64 // records dropped because they failed to encode
	Skipped     int64 // records without any key
	Duplicates  int64 // pairs discarded by first-write-wins
	Source      string
}

// MarshalMsg implements msgp.Marshaler. Fields are written in a fixed
// order so the encoding is deterministic.
func (m *Meta) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendMapHeader(b, 10)
	b = msgp.AppendString(b, "version")
	b = msgp.AppendUint32(b, m.Version)
	b = msgp.AppendString(b, "codec")
	b = msgp.AppendString(b, m.Codec)
	b = msgp.AppendString(b, "compression")
	b = msgp.AppendString(b, m.Compression)
	b = msgp.AppendString(b, "block_size")
	b = msgp.AppendInt(b, m.BlockSize)
	b = msgp.AppendString(b, "entries")
	b = msgp.AppendInt64(b, m.Entries)
	b = msgp.AppendString(b, "records")
	b = msgp.AppendInt64(b, m.Records)
	b = msgp.AppendString(b, "dropped")
	b = msgp.AppendInt64(b, m.Dropped)
	b = msgp.AppendString(b, "skipped")
	b = msgp.AppendInt64(b, m.Skipped)
	b = msgp.AppendString(b, "duplicates")
	b = msgp.AppendInt64(b, m.Duplicates)
	b = msgp.AppendString(b, "source")
	b = msgp.AppendString(b, m.Source)
	return b, nil
}

// UnmarshalMsg implements msgp.Unmarshaler. Unknown fields are skipped.
func (m *Meta) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		var field []byte
		field, b, err = msgp.ReadMapKeyZC(b)
		if err != nil {
			return nil, err
		}
		switch string(field) {
		case "version":
			m.Version, b, err = msgp.ReadUint32Bytes(b)
		case "codec":
			m.Codec, b, err = msgp.ReadStringBytes(b)
		case "compression":
			m.Compression, b, err = msgp.ReadStringBytes(b)
		case "block_size":
			m.BlockSize, b, err = msgp.ReadIntBytes(b)
		case "entries":
			m.Entries, b, err = msgp.ReadInt64Bytes(b)
		case "records":
			m.Records, b, err = msgp.ReadInt64Bytes(b)
		case "dropped":
			m.Dropped, b, err = msgp.ReadInt64Bytes(b)
		case "skipped":
			m.Skipped, b, err = msgp.ReadInt64Bytes(b)
		case "duplicates":
			m.Duplicates, b, err = msgp.ReadInt64Bytes(b)
		case "source":
			m.Source, b, err = msgp.ReadStringBytes(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return nil, fmt.Errorf("meta field %q: %w", field, err)
		}
	}
	return b, nil
}

// DecodeMeta decodes a Meta value, rejecting trailing bytes.
func DecodeMeta(b []byte) (Meta, error) {
	var m Meta
	rest, err := m.UnmarshalMsg(b)
	if err != nil {
		return Meta{}, fmt.Errorf("%w: meta: %v", ErrCorrupt, err)
	}
	if len(rest) != 0 {
		return Meta{}, corruptf("meta: trailing bytes")
	}
	return m, nil
}

var (
	_ msgp.Marshaler   = (*Meta)(nil)
	_ msgp.Unmarshaler = (*Meta)(nil)
)

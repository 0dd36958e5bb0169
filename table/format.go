package table

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	// FileName is the name of the published table inside its directory.
	FileName = "countries.tbl"
	// LockFileName is the advisory lock guarding a table directory.
	LockFileName = "LOCK"

	tmpSuffix = ".tmp"

	// FormatVersion is the on-disk format version written by this package.
	FormatVersion uint32 = 1

	// DefaultBlockSize is the target uncompressed size of a data block.
	DefaultBlockSize = 4 << 10

	footerSize       = 48
	blockHeaderSize  = 8
	blockTrailerSize = 4

	magic uint32 = 0x31425443 // "CTB1"
)

// MetaKey is the sentinel key written by every build. Its value is the
// encoded Meta of the table.
var MetaKey = []byte("\x00countrydb:meta")

// IsReserved reports whether key lies in the reserved key space (leading 0x00).
func IsReserved(key []byte) bool {
	return len(key) > 0 && key[0] == 0x00
}

var (
	// ErrCorrupt is returned when a table fails an integrity check.
	ErrCorrupt = errors.New("table: corrupt table")
	// ErrClosed is returned when using a closed Reader.
	ErrClosed = errors.New("table: reader is closed")
	// ErrOutOfOrder is returned when Writer keys are not strictly ascending.
	ErrOutOfOrder = errors.New("table: keys out of order")
	// ErrLocked is returned when another builder holds the table directory.
	ErrLocked = errors.New("table: directory is locked by another builder")
	// ErrReservedKey is returned when adding a key from the reserved space.
	ErrReservedKey = errors.New("table: reserved key")
	// ErrEmptyKey is returned when adding an empty key.
	ErrEmptyKey = errors.New("table: empty key")
	// ErrFinished is returned when using a Builder or Writer after Finish.
	ErrFinished = errors.New("table: already finished")
)

// ChecksumError reports a CRC mismatch in a table section.
type ChecksumError struct {
	Section  string
	Offset   int64
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("table: checksum mismatch in %s at offset %d: expected %08x, got %08x",
		e.Section, e.Offset, e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error { return ErrCorrupt }

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

// Compression selects the data block compression algorithm.
type Compression uint8

const (
	// CompressionNone stores blocks uncompressed.
	CompressionNone Compression = iota
	// CompressionLZ4 uses LZ4 block compression (fast).
	CompressionLZ4
	// CompressionZSTD uses ZSTD (better ratio).
	CompressionZSTD
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("table: unknown compression %q", s)
	}
}

// footer locates the metadata sections. Sections are contiguous:
// index, then bloom, then meta, then the footer itself.
type footer struct {
	indexOff uint64
	indexLen uint32
	bloomOff uint64
	bloomLen uint32
	metaOff  uint64
	metaLen  uint32
	checksum uint32
	version  uint32
}

func (f footer) marshal() []byte {
	b := make([]byte, footerSize)
	binary.LittleEndian.PutUint64(b[0:], f.indexOff)
	binary.LittleEndian.PutUint32(b[8:], f.indexLen)
	binary.LittleEndian.PutUint64(b[12:], f.bloomOff)
	binary.LittleEndian.PutUint32(b[20:], f.bloomLen)
	binary.LittleEndian.PutUint64(b[24:], f.metaOff)
	binary.LittleEndian.PutUint32(b[32:], f.metaLen)
	binary.LittleEndian.PutUint32(b[36:], f.checksum)
	binary.LittleEndian.PutUint32(b[40:], f.version)
	binary.LittleEndian.PutUint32(b[44:], magic)
	return b
}

func parseFooter(b []byte, fileSize int64) (footer, error) {
	if len(b) != footerSize {
		return footer{}, corruptf("short footer")
	}
	if binary.LittleEndian.Uint32(b[44:]) != magic {
		return footer{}, corruptf("bad magic")
	}
	f := footer{
		indexOff: binary.LittleEndian.Uint64(b[0:]),
		indexLen: binary.LittleEndian.Uint32(b[8:]),
		bloomOff: binary.LittleEndian.Uint64(b[12:]),
		bloomLen: binary.LittleEndian.Uint32(b[20:]),
		metaOff:  binary.LittleEndian.Uint64(b[24:]),
		metaLen:  binary.LittleEndian.Uint32(b[32:]),
		checksum: binary.LittleEndian.Uint32(b[36:]),
		version:  binary.LittleEndian.Uint32(b[40:]),
	}
	if f.version != FormatVersion {
		return footer{}, corruptf("unsupported format version %d", f.version)
	}
	end := uint64(fileSize - footerSize)
	if f.bloomOff != f.indexOff+uint64(f.indexLen) ||
		f.metaOff != f.bloomOff+uint64(f.bloomLen) ||
		f.metaOff+uint64(f.metaLen) != end {
		return footer{}, corruptf("section offsets out of range")
	}
	return f, nil
}

// blockHandle is one index entry.
type blockHandle struct {
	lastKey []byte
	offset  uint64
	size    uint64 // on-disk size including header and trailer
}

func appendIndex(dst []byte, handles []blockHandle) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(handles)))
	for _, h := range handles {
		dst = binary.AppendUvarint(dst, uint64(len(h.lastKey)))
		dst = append(dst, h.lastKey...)
		dst = binary.AppendUvarint(dst, h.offset)
		dst = binary.AppendUvarint(dst, h.size)
	}
	return dst
}

func parseIndex(b []byte, dataEnd uint64) ([]blockHandle, error) {
	n, m := binary.Uvarint(b)
	if m <= 0 || n > uint64(len(b)) {
		return nil, corruptf("index header")
	}
	b = b[m:]
	handles := make([]blockHandle, 0, n)
	var next uint64
	for i := uint64(0); i < n; i++ {
		klen, m := binary.Uvarint(b)
		if m <= 0 || klen > uint64(len(b)-m) {
			return nil, corruptf("index entry %d", i)
		}
		key := b[m : m+int(klen)]
		b = b[m+int(klen):]

		off, m1 := binary.Uvarint(b)
		if m1 <= 0 {
			return nil, corruptf("index entry %d offset", i)
		}
		size, m2 := binary.Uvarint(b[m1:])
		if m2 <= 0 {
			return nil, corruptf("index entry %d size", i)
		}
		b = b[m1+m2:]

		if off != next || size < blockHeaderSize+blockTrailerSize || off+size > dataEnd {
			return nil, corruptf("index entry %d out of range", i)
		}
		if i > 0 && bytes.Compare(handles[i-1].lastKey, key) >= 0 {
			return nil, corruptf("index keys out of order")
		}
		next = off + size
		handles = append(handles, blockHandle{lastKey: key, offset: off, size: size})
	}
	if next != dataEnd {
		return nil, corruptf("index does not cover data region")
	}
	return handles, nil
}

package table

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/hupe1980/countrydb/internal/bloom"
)

// WriterOptions configures a Writer.
type WriterOptions struct {
	BlockSize   int
	Compression Compression
	// ExpectedKeys sizes the bloom filter; 0 uses a small default.
	ExpectedKeys int
}

// Writer streams strictly ascending key/value pairs into the table format.
// It is not safe for concurrent use.
type Writer struct {
	w    io.Writer
	opts WriterOptions

	offset  uint64
	block   []byte   // current raw block entries
	offsets []uint32 // entry offsets within block
	lastKey []byte
	handles []blockHandle
	bloom   *bloom.Filter
	scratch []byte
	entries int64
	done    bool
}

// NewWriter creates a Writer on w.
func NewWriter(w io.Writer, opts WriterOptions) *Writer {
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	expected := opts.ExpectedKeys
	if expected <= 0 {
		expected = 1024
	}
	return &Writer{
		w:     w,
		opts:  opts,
		block: make([]byte, 0, opts.BlockSize+opts.BlockSize/4),
		bloom: bloom.New(expected),
	}
}

// Add appends a pair. Keys must be non-empty and strictly ascending.
func (w *Writer) Add(key, value []byte) error {
	if w.done {
		return ErrFinished
	}
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if w.lastKey != nil && bytes.Compare(w.lastKey, key) >= 0 {
		return fmt.Errorf("%w: %q after %q", ErrOutOfOrder, key, w.lastKey)
	}

	w.offsets = append(w.offsets, uint32(len(w.block)))
	w.block = binary.AppendUvarint(w.block, uint64(len(key)))
	w.block = binary.AppendUvarint(w.block, uint64(len(value)))
	w.block = append(w.block, key...)
	w.block = append(w.block, value...)

	w.lastKey = append(w.lastKey[:0], key...)
	w.bloom.Add(key)
	w.entries++

	if len(w.block) >= w.opts.BlockSize {
		return w.flushBlock()
	}
	return nil
}

// Entries returns the number of pairs added so far.
func (w *Writer) Entries() int64 { return w.entries }

// Blocks returns the number of data blocks written so far.
func (w *Writer) Blocks() int { return len(w.handles) }

func (w *Writer) flushBlock() error {
	if len(w.offsets) == 0 {
		return nil
	}
	for _, off := range w.offsets {
		w.block = binary.LittleEndian.AppendUint32(w.block, off)
	}
	w.block = binary.LittleEndian.AppendUint32(w.block, uint32(len(w.offsets)))

	var err error
	w.scratch, err = encodeBlock(w.scratch[:0], w.block, w.opts.Compression)
	if err != nil {
		return err
	}
	if err := w.write(w.scratch); err != nil {
		return err
	}

	w.handles = append(w.handles, blockHandle{
		lastKey: bytes.Clone(w.lastKey),
		offset:  w.offset - uint64(len(w.scratch)),
		size:    uint64(len(w.scratch)),
	})
	w.block = w.block[:0]
	w.offsets = w.offsets[:0]
	return nil
}

func (w *Writer) write(p []byte) error {
	n, err := w.w.Write(p)
	w.offset += uint64(n)
	if err != nil {
		return err
	}
	if n != len(p) {
		return io.ErrShortWrite
	}
	return nil
}

// Finish flushes the last block and writes the index, bloom, meta and
// footer sections. It returns the total number of bytes written.
func (w *Writer) Finish(meta Meta) (int64, error) {
	if w.done {
		return 0, ErrFinished
	}
	w.done = true
	if err := w.flushBlock(); err != nil {
		return 0, err
	}

	index := appendIndex(nil, w.handles)

	var bloomBuf bytes.Buffer
	if _, err := w.bloom.WriteTo(&bloomBuf); err != nil {
		return 0, err
	}

	metaBuf, err := meta.MarshalMsg(nil)
	if err != nil {
		return 0, err
	}

	ft := footer{
		indexOff: w.offset,
		indexLen: uint32(len(index)),
		version:  FormatVersion,
	}
	ft.bloomOff = ft.indexOff + uint64(ft.indexLen)
	ft.bloomLen = uint32(bloomBuf.Len())
	ft.metaOff = ft.bloomOff + uint64(ft.bloomLen)
	ft.metaLen = uint32(len(metaBuf))

	crc := crc32.NewIEEE()
	for _, section := range [][]byte{index, bloomBuf.Bytes(), metaBuf} {
		_, _ = crc.Write(section)
		if err := w.write(section); err != nil {
			return 0, err
		}
	}
	ft.checksum = crc.Sum32()

	if err := w.write(ft.marshal()); err != nil {
		return 0, err
	}
	return int64(w.offset), nil
}

package table

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"iter"
	"sort"
	"sync/atomic"

	"github.com/hupe1980/countrydb/blobstore"
	"github.com/hupe1980/countrydb/internal/bloom"
	"github.com/hupe1980/countrydb/internal/cache"
)

// Entry is a key/value pair yielded by Reader.All. Both slices are owned
// by the caller.
type Entry struct {
	Key   []byte
	Value []byte
}

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	// Cache holds decompressed blocks. It may be shared by handles of the
	// same table.
	Cache *cache.LRU
	// VerifyChecksums walks every data block at open time.
	VerifyChecksums bool
	// Name identifies the table in cache keys and errors.
	Name string
}

// ReaderOption configures a Reader.
type ReaderOption func(*ReaderOptions)

// WithBlockCache shares a block cache between handles.
func WithBlockCache(c *cache.LRU) ReaderOption {
	return func(o *ReaderOptions) { o.Cache = c }
}

// WithVerifyChecksums enables full block verification at open time.
func WithVerifyChecksums(enabled bool) ReaderOption {
	return func(o *ReaderOptions) { o.VerifyChecksums = enabled }
}

// WithName sets the table name used in cache keys and errors.
func WithName(name string) ReaderOption {
	return func(o *ReaderOptions) { o.Name = name }
}

// Reader is a read-only handle (store handle) over one table. Get and All
// may be called concurrently; Close must not race with them.
type Reader struct {
	blob        blobstore.Blob
	data        []byte // non-nil when the blob is memory-mapped
	opts        ReaderOptions
	id          string
	compression Compression
	index       []blockHandle
	bloom       *bloom.Filter
	meta        Meta
	dataEnd     uint64
	reopen      func(ctx context.Context) (*Reader, error)
	closed      atomic.Bool
}

// Open validates the table in blob and returns a handle that owns blob.
// On error blob is closed.
func Open(blob blobstore.Blob, optFns ...ReaderOption) (_ *Reader, err error) {
	defer func() {
		if err != nil {
			_ = blob.Close()
		}
	}()

	opts := ReaderOptions{Name: FileName}
	for _, fn := range optFns {
		fn(&opts)
	}

	r := &Reader{blob: blob, opts: opts}
	if m, ok := blob.(blobstore.Mappable); ok {
		if r.data, err = m.Bytes(); err != nil {
			return nil, err
		}
	}

	size := blob.Size()
	if size < footerSize {
		return nil, corruptf("%s: file too small (%d bytes)", opts.Name, size)
	}
	fb, err := r.readAt(size-footerSize, footerSize)
	if err != nil {
		return nil, err
	}
	ft, err := parseFooter(fb, size)
	if err != nil {
		return nil, err
	}

	sections, err := r.readAt(int64(ft.indexOff), int(size-footerSize)-int(ft.indexOff))
	if err != nil {
		return nil, err
	}
	if got := crc32.ChecksumIEEE(sections); got != ft.checksum {
		return nil, &ChecksumError{Section: "metadata", Offset: int64(ft.indexOff), Expected: ft.checksum, Actual: got}
	}

	idx := sections[:ft.indexLen]
	bl := sections[ft.indexLen : ft.indexLen+ft.bloomLen]
	mb := sections[ft.indexLen+ft.bloomLen:]

	if r.meta, err = DecodeMeta(mb); err != nil {
		return nil, err
	}
	if r.compression, err = ParseCompression(r.meta.Compression); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	// The index keeps sub-slices; detach them from a mapping we may unmap.
	if r.index, err = parseIndex(bytes.Clone(idx), ft.indexOff); err != nil {
		return nil, err
	}
	if r.bloom, err = bloom.Read(bytes.NewReader(bl)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	r.dataEnd = ft.indexOff
	r.id = fmt.Sprintf("%s#%08x", opts.Name, ft.checksum)

	if opts.VerifyChecksums {
		for i := range r.index {
			if _, err := r.readBlock(i, false); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

// Meta returns the table metadata.
func (r *Reader) Meta() Meta { return r.meta }

// Len returns the number of data keys (excluding MetaKey).
func (r *Reader) Len() int64 { return r.meta.Entries }

// Blocks returns the number of data blocks.
func (r *Reader) Blocks() int { return len(r.index) }

// ID identifies the table generation (name and metadata checksum).
func (r *Reader) ID() string { return r.id }

// Clone opens a new independent handle on the same table.
func (r *Reader) Clone() (*Reader, error) {
	return r.CloneContext(context.Background())
}

// CloneContext is Clone with a context bounding the wait for a running
// build to release the directory lock.
func (r *Reader) CloneContext(ctx context.Context) (*Reader, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	if r.reopen == nil {
		return nil, errors.New("table: reader cannot be cloned")
	}
	return r.reopen(ctx)
}

// Close releases the underlying blob. It is idempotent.
func (r *Reader) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.blob.Close()
}

// Get returns the value stored under key. found is false when the key is
// absent; err is reserved for I/O failures and corruption.
func (r *Reader) Get(key []byte) (value []byte, found bool, err error) {
	if r.closed.Load() {
		return nil, false, ErrClosed
	}
	if len(key) == 0 || !r.bloom.MayContain(key) {
		return nil, false, nil
	}
	i := sort.Search(len(r.index), func(i int) bool {
		return bytes.Compare(r.index[i].lastKey, key) >= 0
	})
	if i == len(r.index) {
		return nil, false, nil
	}
	block, err := r.readBlock(i, true)
	if err != nil {
		return nil, false, err
	}
	v, ok, err := searchBlock(block, key)
	if err != nil || !ok {
		return nil, false, err
	}
	return bytes.Clone(v), true, nil
}

// All returns a lazy, ascending traversal of every entry including
// MetaKey. Each call starts a fresh traversal. Iteration stops after the
// first error.
func (r *Reader) All() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for i := range r.index {
			if r.closed.Load() {
				yield(Entry{}, ErrClosed)
				return
			}
			block, err := r.readBlock(i, true)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			n, err := blockCount(block)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for j := 0; j < n; j++ {
				k, v, err := blockEntry(block, j)
				if err != nil {
					yield(Entry{}, err)
					return
				}
				if !yield(Entry{Key: bytes.Clone(k), Value: bytes.Clone(v)}, nil) {
					return
				}
			}
		}
	}
}

func (r *Reader) readAt(off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+int64(n) > r.blob.Size() {
		return nil, corruptf("%s: read [%d,+%d) out of range", r.opts.Name, off, n)
	}
	if r.data != nil {
		return r.data[off : off+int64(n)], nil
	}
	buf := make([]byte, n)
	if _, err := r.blob.ReadAt(buf, off); err != nil && !(errors.Is(err, io.EOF) && off+int64(n) == r.blob.Size()) {
		return nil, err
	}
	return buf, nil
}

func (r *Reader) readBlock(i int, useCache bool) ([]byte, error) {
	h := r.index[i]
	key := cache.Key{Table: r.id, Offset: h.offset}
	if useCache {
		if b, ok := r.opts.Cache.Get(key); ok {
			return b, nil
		}
	}
	stored, err := r.readAt(int64(h.offset), int(h.size))
	if err != nil {
		return nil, err
	}
	raw, err := decodeBlock(stored, r.compression, int64(h.offset))
	if err != nil {
		return nil, err
	}
	if useCache && r.opts.Cache != nil {
		if r.data != nil {
			// Cached blocks must not alias this handle's mapping.
			raw = bytes.Clone(raw)
		}
		r.opts.Cache.Set(key, raw)
	}
	return raw, nil
}

func blockCount(block []byte) (int, error) {
	if len(block) < 4 {
		return 0, corruptf("block trailer")
	}
	n := int(binary.LittleEndian.Uint32(block[len(block)-4:]))
	if n == 0 || 4+4*n > len(block) {
		return 0, corruptf("block entry count %d", n)
	}
	return n, nil
}

func blockEntry(block []byte, i int) (key, value []byte, err error) {
	n, err := blockCount(block)
	if err != nil {
		return nil, nil, err
	}
	entriesEnd := len(block) - 4 - 4*n
	off := int(binary.LittleEndian.Uint32(block[entriesEnd+4*i:]))
	if off >= entriesEnd {
		return nil, nil, corruptf("block entry %d offset", i)
	}
	b := block[off:entriesEnd]
	klen, m1 := binary.Uvarint(b)
	if m1 <= 0 {
		return nil, nil, corruptf("block entry %d key length", i)
	}
	vlen, m2 := binary.Uvarint(b[m1:])
	if m2 <= 0 {
		return nil, nil, corruptf("block entry %d value length", i)
	}
	b = b[m1+m2:]
	if klen > uint64(len(b)) || vlen > uint64(len(b))-klen {
		return nil, nil, corruptf("block entry %d truncated", i)
	}
	return b[:klen], b[klen : klen+vlen], nil
}

func searchBlock(block, key []byte) ([]byte, bool, error) {
	n, err := blockCount(block)
	if err != nil {
		return nil, false, err
	}
	var searchErr error
	i := sort.Search(n, func(i int) bool {
		k, _, err := blockEntry(block, i)
		if err != nil {
			searchErr = err
			return true
		}
		return bytes.Compare(k, key) >= 0
	})
	if searchErr != nil {
		return nil, false, searchErr
	}
	if i == n {
		return nil, false, nil
	}
	k, v, err := blockEntry(block, i)
	if err != nil {
		return nil, false, err
	}
	if !bytes.Equal(k, key) {
		return nil, false, nil
	}
	return v, true, nil
}

// OpenFile opens the table published in dir. It waits for a running
// build to release the directory lock, or until ctx is done. A missing
// table reports an error satisfying errors.Is(err, blobstore.ErrNotFound).
func OpenFile(ctx context.Context, dir string, optFns ...ReaderOption) (*Reader, error) {
	unlock, err := lockShared(ctx, dir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = unlock() }()

	store := blobstore.NewLocalStore(dir)
	blob, err := store.Open(ctx, FileName)
	if err != nil {
		return nil, err
	}
	r, err := Open(blob, optFns...)
	if err != nil {
		return nil, err
	}
	r.reopen = func(ctx context.Context) (*Reader, error) {
		return OpenFile(ctx, dir, optFns...)
	}
	return r, nil
}

// OpenBlob opens a table stored in any BlobStore (e.g. S3).
func OpenBlob(ctx context.Context, store blobstore.BlobStore, name string, optFns ...ReaderOption) (*Reader, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	opts := append([]ReaderOption{WithName(name)}, optFns...)
	r, err := Open(blob, opts...)
	if err != nil {
		return nil, err
	}
	r.reopen = func(ctx context.Context) (*Reader, error) {
		return OpenBlob(ctx, store, name, optFns...)
	}
	return r, nil
}

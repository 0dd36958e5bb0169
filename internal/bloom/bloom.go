// Package bloom provides the Bloom filter persisted inside every table.
//
// A negative answer is definitive, so point lookups for absent keys can
// skip the index and data blocks entirely:
//   - MayContain == false: key is not in the table
//   - MayContain == true: key may be in the table, the block must be read
package bloom

import (
	"encoding/binary"
	"errors"
	"io"
	"math"

	"github.com/bits-and-blooms/bitset"
)

// ErrCorrupted indicates the serialized filter is invalid.
var ErrCorrupted = errors.New("bloom: corrupted filter data")

const maxHashes = 16

// Filter is a Bloom filter over byte-string keys.
type Filter struct {
	bits  *bitset.BitSet
	m     uint64 // number of bits
	k     uint32 // number of hash functions
	count uint32
}

// Size computes the bit count and hash count for n elements at the given
// false positive rate. For 1% this is ~10 bits per element and k=7.
func Size(n int, fpr float64) (m uint64, k uint32) {
	if n <= 0 {
		n = 1
	}
	if fpr <= 0 || fpr >= 1 {
		fpr = 0.01
	}
	ln2Sq := math.Ln2 * math.Ln2
	bits := -float64(n) * math.Log(fpr) / ln2Sq

	m = ((uint64(bits) + 63) / 64) * 64
	if m < 64 {
		m = 64
	}
	k = uint32(math.Ceil(bits / float64(n) * math.Ln2))
	k = min(max(k, 1), maxHashes)
	return m, k
}

// New creates a filter sized for n elements at ~1% false positive rate.
func New(n int) *Filter {
	m, k := Size(n, 0.01)
	return &Filter{bits: bitset.New(uint(m)), m: m, k: k}
}

// Add inserts a key.
func (f *Filter) Add(key []byte) {
	h1, h2 := hash(key)
	for i := uint32(0); i < f.k; i++ {
		f.bits.Set(uint((h1 + uint64(i)*h2) % f.m))
	}
	f.count++
}

// MayContain reports whether key may have been added.
func (f *Filter) MayContain(key []byte) bool {
	h1, h2 := hash(key)
	for i := uint32(0); i < f.k; i++ {
		if !f.bits.Test(uint((h1 + uint64(i)*h2) % f.m)) {
			return false
		}
	}
	return true
}

// Count returns the number of keys added.
func (f *Filter) Count() uint32 { return f.count }

// WriteTo serializes the filter: [m u64][k u32][count u32][bitset].
func (f *Filter) WriteTo(w io.Writer) (int64, error) {
	var hdr [16]byte
	binary.LittleEndian.PutUint64(hdr[0:8], f.m)
	binary.LittleEndian.PutUint32(hdr[8:12], f.k)
	binary.LittleEndian.PutUint32(hdr[12:16], f.count)
	n, err := w.Write(hdr[:])
	if err != nil {
		return int64(n), err
	}
	bn, err := f.bits.WriteTo(w)
	return int64(n) + bn, err
}

// Read deserializes a filter written by WriteTo.
func Read(r io.Reader) (*Filter, error) {
	var hdr [16]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	f := &Filter{
		m:     binary.LittleEndian.Uint64(hdr[0:8]),
		k:     binary.LittleEndian.Uint32(hdr[8:12]),
		count: binary.LittleEndian.Uint32(hdr[12:16]),
		bits:  &bitset.BitSet{},
	}
	if f.m < 64 || f.m%64 != 0 || f.k < 1 || f.k > maxHashes {
		return nil, ErrCorrupted
	}
	if _, err := f.bits.ReadFrom(r); err != nil {
		return nil, errors.Join(ErrCorrupted, err)
	}
	if uint64(f.bits.Len()) < f.m {
		return nil, ErrCorrupted
	}
	return f, nil
}

// hash computes two FNV-1a variants for double hashing.
func hash(key []byte) (h1, h2 uint64) {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)
	h1 = offset
	for _, c := range key {
		h1 ^= uint64(c)
		h1 *= prime
	}
	h2 = offset ^ 0x5555555555555555
	for i := len(key) - 1; i >= 0; i-- {
		h2 ^= uint64(key[i])
		h2 *= prime
	}
	return h1, h2 | 1
}

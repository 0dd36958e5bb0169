// Package table implements the immutable sorted key-value table: the
// Builder that sorts, merges and atomically publishes it, the Writer that
// lays out its blocks, and the Reader (store handle) that serves point
// lookups and ordered scans.
//
// # File Layout
//
//	[data block 0] ... [data block n-1] [index] [bloom] [meta] [footer]
//
// Data blocks hold entries in ascending key order:
//
//	entry:   uvarint(len(key)) uvarint(len(value)) key value
//	block:   entry* u32(offset)* u32(count)
//	on disk: u32(rawLen) u32(storedLen, 0 = uncompressed) payload u32(crc32)
//
// The index stores the last key of every block, so a lookup is a binary
// search over the index followed by a binary search inside one block.
//
// The footer (48 bytes, little-endian) locates the index, bloom filter and
// metadata sections and carries a CRC32 over all three. Every table
// contains the reserved sentinel key MetaKey; its absence marks a table as
// uninitialized.
//
// Builds are deterministic: identical input produces byte-identical files.
package table

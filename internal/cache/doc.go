// Package cache provides an LRU cache for decompressed table blocks.
//
// Blocks of a published table never change, so cached entries need no
// invalidation for the lifetime of the table generation. The cache is
// safe for concurrent use and may be shared by every handle of one
// generation. Memory is charged to a resource.Controller when one is given;
// if the controller refuses, the block is simply not cached.
package cache

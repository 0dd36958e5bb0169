// Package mmap provides read-only memory-mapped file access.
//
// Table files are immutable once published, so a read-only shared mapping
// gives every handle zero-copy access to data blocks:
//
//	m, err := mmap.Open("countries.tbl")
//	if err != nil { ... }
//	defer m.Close()
//
//	data := m.Bytes()
//
// On platforms without mmap support the file is read into memory instead.
// The slice returned by Bytes is invalid after Close.
package mmap

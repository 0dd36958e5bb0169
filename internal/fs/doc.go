// Package fs provides filesystem abstractions for testability and fault injection.
//
//   - [LocalFS]: production implementation using the os package
//   - [FaultyFS]: test utility that fails writes, syncs, closes or renames
//
// The table builder writes through a [FileSystem] so that crash and
// interruption scenarios can be simulated without touching real disks:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".tmp", fs.Fault{FailAfterBytes: 1024})
//
// The package intentionally has no context.Context parameters. Local
// filesystem calls are not interruptible at the syscall level.
package fs

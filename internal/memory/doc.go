// Package memory validates and applies batches of map/unmap requests
// against a process's page-table state and the frame registry.
//
// A batch is all-or-nothing: a validation pass rejects the whole batch
// before anything mutates, and the execution pass stages frame allocations
// first so a mid-batch allocation failure unwinds without touching the
// mapping set. Concurrent batches against the same process serialize on
// that process's mapping lock; batches against different processes proceed
// independently.
//
// The package also owns the 64-bit wire encoding of a map entry used by the
// syscall ABI.
package memory

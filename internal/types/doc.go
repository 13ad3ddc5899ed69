// Package types defines the primitives shared by every kernel component.
//
// These are the vocabulary of the resource-authorization core:
//   - Handle: opaque process identifier (0 addresses the calling process)
//   - SizeClass: physical page granularity (4 KiB, 2 MiB, 2 GiB)
//   - Flags: page protection bits (readable, writable, executable)
//   - Segment: a contiguous mapped range reported by memory queries
//
// The package also carries the error taxonomy every public operation
// reports from: permission denial, invalid parameters, and resource
// exhaustion are recoverable and surfaced to the caller; a reference to
// an unregistered process is an internal consistency fault and aborts
// only the offending operation.
package types

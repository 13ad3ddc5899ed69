// Package syscall is the routing layer between the architecture-neutral
// typed calls handed over by the architecture layer and the kernel
// components that execute them.
//
// The dispatcher performs the authorization check for calls that target
// another process, invokes exactly one component operation, and translates
// the component result into the bit-level return convention: a 64-bit word
// where values at or above FirstError encode the error taxonomy and
// anything below is the success payload. The dispatcher itself mutates no
// resource.
package syscall

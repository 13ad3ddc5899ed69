// Package kernel owns the explicit kernel context: the process table, the
// capability table, the frame registry, the memory mapper, and the
// scheduler, created once at boot and threaded through every component
// call. There are no package-level mutable singletons.
//
// The context exposes the register/deregister pair the external
// process-management component drives, implements full termination
// teardown (mappings released, capability set invalidated, quantum
// expired), and publishes kernel events on a bounded stream for
// observability consumers.
package kernel

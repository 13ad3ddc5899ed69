// Package http exposes the kernel's introspection and control surface:
// process registration for the external loader, per-process memory and
// capability queries, scheduler and registry statistics, and a typed
// syscall execution endpoint for drivers and tests.
//
// All authorization and mutation semantics live in the kernel core; these
// handlers only translate JSON to typed calls and back.
package http

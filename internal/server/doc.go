// Package server wires the kernel context to its introspection surface:
// the gin router, middleware stack, metrics exposition, and the WebSocket
// event stream. The kernel itself is built here once at boot and owns all
// resource state; the server only routes into it.
package server

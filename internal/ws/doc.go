// Package ws streams kernel events to WebSocket clients.
//
// The kernel publishes state changes (process registration, termination,
// committed map batches, quantum donations) on a bounded channel; a single
// broadcast loop fans them out to every connected client. Slow clients are
// dropped rather than allowed to stall the stream.
package ws

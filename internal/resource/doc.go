// Package resource is the global bookkeeping of physical memory frames.
//
// The registry carves a configured physical budget into frames of three size
// classes and tracks, for every live frame, which processes own a mapping to
// it and under what protection. A frame gains a second owner only through an
// explicit sharing grant validated against the capability table, and a frame
// number is never recycled while any owner remains, which structurally
// prevents use-after-free across processes.
//
// Allocation enforces both the global budget and a per-process soft quota.
package resource

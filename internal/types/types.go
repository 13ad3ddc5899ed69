package types

import (
	"errors"
	"fmt"
)

// Handle identifies a process. Zero is the reserved sentinel meaning "the
// calling process"; a handle is never reused while any capability or mapping
// still references it.
type Handle uint64

// Self is the zero handle, resolved by the dispatcher to the caller.
const Self Handle = 0

// IsSelf reports whether the handle is the calling-process sentinel.
func (h Handle) IsSelf() bool { return h == Self }

func (h Handle) String() string { return fmt.Sprintf("process-%d", uint64(h)) }

// SizeClass is the granularity of a physical frame.
type SizeClass uint8

const (
	// SizeNone marks an unmap request; it is not a valid frame size.
	SizeNone SizeClass = iota
	Size4K
	Size2M
	Size2G
)

// Bytes returns the frame size in bytes, or 0 for SizeNone.
func (s SizeClass) Bytes() uint64 {
	switch s {
	case Size4K:
		return 4 << 10
	case Size2M:
		return 2 << 20
	case Size2G:
		return 2 << 30
	default:
		return 0
	}
}

// Valid reports whether the class names an actual frame size.
func (s SizeClass) Valid() bool { return s >= Size4K && s <= Size2G }

func (s SizeClass) String() string {
	switch s {
	case SizeNone:
		return "none"
	case Size4K:
		return "4KiB"
	case Size2M:
		return "2MiB"
	case Size2G:
		return "2GiB"
	default:
		return "invalid"
	}
}

// Flags are page protection bits.
type Flags uint8

const (
	FlagReadable Flags = 1 << iota
	FlagWritable
	FlagExecutable
)

// Readable reports the read bit.
func (f Flags) Readable() bool { return f&FlagReadable != 0 }

// Writable reports the write bit.
func (f Flags) Writable() bool { return f&FlagWritable != 0 }

// Executable reports the execute bit.
func (f Flags) Executable() bool { return f&FlagExecutable != 0 }

func (f Flags) String() string {
	buf := [3]byte{'-', '-', '-'}
	if f.Readable() {
		buf[0] = 'r'
	}
	if f.Writable() {
		buf[1] = 'w'
	}
	if f.Executable() {
		buf[2] = 'x'
	}
	return string(buf[:])
}

// Segment is a contiguous mapped virtual range reported by memory queries.
// Segments returned together never overlap and are sorted ascending by Addr.
type Segment struct {
	Addr  uint64 `json:"addr"`
	Len   uint64 `json:"len"`
	Flags Flags  `json:"flags"`
}

// End returns the first address past the segment.
func (s Segment) End() uint64 { return s.Addr + s.Len }

// Error taxonomy. Every public kernel operation reports failure through one
// of these; callers discriminate with errors.Is.
var (
	// ErrPermissionDenied is an authorization failure.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidParameter is malformed or incompatible input; the operation
	// performs no partial mutation.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrOutOfMemory means no physical memory remains, or a per-process
	// quota would be exceeded.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrQuotaExceeded means a scheduler allocation went past the
	// per-process quantum cap.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrNoSuchProcess marks a reference to a handle with no live process
	// record. Inside the kernel this is a consistency fault: it halts the
	// offending operation with a diagnostic and never silently corrupts
	// state.
	ErrNoSuchProcess = errors.New("no such process")
)

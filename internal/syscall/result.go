package syscall

import (
	"errors"

	"github.com/exokit-os/exocore/internal/types"
)

// Result is the raw 64-bit return word of a system call. Values at or
// above FirstError encode an error; everything below is a success payload
// (usually 0, or a count for queries).
type Result uint64

// FirstError is the smallest word that encodes an error. The top 4096
// values of the result space are reserved for the error taxonomy.
const FirstError Result = ^Result(0) - 4095

// Error words, allocated upward from FirstError.
const (
	ResInvalidParameter Result = FirstError + iota
	ResPermissionDenied
	ResOutOfMemory
	ResQuotaExceeded
	ResNoSuchProcess
)

// OK is the plain success word.
const OK Result = 0

// IsError reports whether the word encodes an error.
func (r Result) IsError() bool { return r >= FirstError }

func (r Result) String() string {
	switch r {
	case ResInvalidParameter:
		return "invalid-parameter"
	case ResPermissionDenied:
		return "permission-denied"
	case ResOutOfMemory:
		return "out-of-memory"
	case ResQuotaExceeded:
		return "quota-exceeded"
	case ResNoSuchProcess:
		return "no-such-process"
	}
	if r.IsError() {
		return "unknown-error"
	}
	return "ok"
}

// FromError translates a component error into its result word. A nil
// error is OK; errors outside the taxonomy report as ResInvalidParameter.
func FromError(err error) Result {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, types.ErrPermissionDenied):
		return ResPermissionDenied
	case errors.Is(err, types.ErrOutOfMemory):
		return ResOutOfMemory
	case errors.Is(err, types.ErrQuotaExceeded):
		return ResQuotaExceeded
	case errors.Is(err, types.ErrNoSuchProcess):
		return ResNoSuchProcess
	default:
		return ResInvalidParameter
	}
}

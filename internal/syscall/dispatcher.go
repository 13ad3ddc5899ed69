package syscall

import (
	"time"

	"github.com/exokit-os/exocore/internal/capability"
	"github.com/exokit-os/exocore/internal/memory"
	"github.com/exokit-os/exocore/internal/types"
)

// Call is one decoded, architecture-neutral system call. The set is closed;
// the dispatcher's switch over it is exhaustive.
type Call interface {
	isCall()
	// Name labels the call for logging and metrics.
	Name() string
}

// Terminate ends the target process (the zero handle terminates the
// caller). Self-termination never returns to the caller; terminating
// another process requires the terminate permission over it.
type Terminate struct {
	Target types.Handle
}

// MapMemory applies a batch of map/unmap entries to the target process's
// address space (the zero handle targets the caller).
type MapMemory struct {
	Target  types.Handle
	Entries []memory.Entry
}

// GetMemory queries the caller's mapped segments. It never fails: at most
// cap(Buf) segments are written and the true count is returned.
type GetMemory struct {
	Buf []types.Segment
}

// SchedAllocate grants the caller a fresh quantum.
type SchedAllocate struct {
	Duration uint64
}

// SchedYield transfers the caller's remaining quantum to Target, or to the
// free scheduling pool when Target is nil.
type SchedYield struct {
	Target *types.Handle
}

func (Terminate) isCall()     {}
func (MapMemory) isCall()     {}
func (GetMemory) isCall()     {}
func (SchedAllocate) isCall() {}
func (SchedYield) isCall()    {}

func (Terminate) Name() string     { return "terminate" }
func (MapMemory) Name() string     { return "map_memory" }
func (GetMemory) Name() string     { return "get_memory" }
func (SchedAllocate) Name() string { return "sched_allocate" }
func (SchedYield) Name() string    { return "sched_yield" }

// Kernel is the execution surface the dispatcher routes into.
type Kernel interface {
	Terminate(target types.Handle) error
	MapMemory(caller, target types.Handle, entries []memory.Entry) error
	MemorySegments(process types.Handle, buf []types.Segment) int
	AllocateQuantum(process types.Handle, duration uint64) error
	YieldQuantum(process types.Handle, target *types.Handle) error
}

// Checker is the capability lookup the dispatcher authorizes with.
type Checker interface {
	Check(process types.Handle, perm capability.Permission) bool
}

// Observer sees every dispatched call, its outcome, and how long it took.
// Optional.
type Observer interface {
	ObserveSyscall(call string, result Result, elapsed time.Duration)
}

// Dispatcher routes typed calls into kernel components. It authorizes
// cross-process termination against the capability table and performs no
// resource mutation of its own.
type Dispatcher struct {
	kernel   Kernel
	caps     Checker
	observer Observer
}

// NewDispatcher creates a dispatcher. The observer may be nil.
func NewDispatcher(kernel Kernel, caps Checker, observer Observer) *Dispatcher {
	return &Dispatcher{kernel: kernel, caps: caps, observer: observer}
}

// Dispatch executes one call on behalf of caller and returns the raw
// result word.
func (d *Dispatcher) Dispatch(caller types.Handle, call Call) Result {
	start := time.Now()
	res := d.dispatch(caller, call)
	if d.observer != nil {
		d.observer.ObserveSyscall(call.Name(), res, time.Since(start))
	}
	return res
}

func (d *Dispatcher) dispatch(caller types.Handle, call Call) Result {
	switch c := call.(type) {
	case Terminate:
		target := c.Target
		if target.IsSelf() {
			target = caller
		}
		if target != caller && !d.caps.Check(caller, capability.Terminate(target)) {
			return ResPermissionDenied
		}
		return FromError(d.kernel.Terminate(target))

	case MapMemory:
		target := c.Target
		if target.IsSelf() {
			target = caller
		}
		return FromError(d.kernel.MapMemory(caller, target, c.Entries))

	case GetMemory:
		return Result(d.kernel.MemorySegments(caller, c.Buf))

	case SchedAllocate:
		return FromError(d.kernel.AllocateQuantum(caller, c.Duration))

	case SchedYield:
		return FromError(d.kernel.YieldQuantum(caller, c.Target))

	default:
		return ResInvalidParameter
	}
}

package kernel

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/exokit-os/exocore/internal/capability"
	"github.com/exokit-os/exocore/internal/logging"
	"github.com/exokit-os/exocore/internal/memory"
	"github.com/exokit-os/exocore/internal/resource"
	"github.com/exokit-os/exocore/internal/sched"
	"github.com/exokit-os/exocore/internal/types"
)

// Config bounds the kernel at boot.
type Config struct {
	Memory resource.Config
	Sched  sched.Config
	// EventBuffer bounds the event stream; events beyond it are dropped.
	EventBuffer int
}

// Event is one observable kernel state change.
type Event struct {
	ID      string       `json:"id"`
	Type    string       `json:"type"`
	Process types.Handle `json:"process"`
	Detail  string       `json:"detail,omitempty"`
	Time    time.Time    `json:"time"`
}

// Process is one live process record.
type Process struct {
	Handle     types.Handle `json:"handle"`
	RegisterAt time.Time    `json:"registered_at"`
}

// Kernel is the resource-authorization core: it decides, for every
// privileged operation a process requests, whether it is permitted, and
// mutates page-table state on the process's behalf.
type Kernel struct {
	BootID string

	caps   *capability.Table
	frames *resource.Registry
	mapper *memory.Mapper
	sched  *sched.Scheduler

	mu    sync.RWMutex
	procs map[types.Handle]Process

	events chan Event
	log    *logging.Logger
}

// shareAuth adapts the capability table to the registry's sharing check:
// a sharing grant exists when either side may map the other's memory.
type shareAuth struct{ caps *capability.Table }

func (a shareAuth) MayShare(first, second types.Handle) bool {
	return a.caps.Check(first, capability.MapMemoryOf(second)) ||
		a.caps.Check(second, capability.MapMemoryOf(first))
}

// mapAuth adapts the capability table to the mapper's cross-process check.
type mapAuth struct{ caps *capability.Table }

func (a mapAuth) MayMapFor(caller, target types.Handle) bool {
	return a.caps.Check(caller, capability.MapMemoryOf(target))
}

// New boots a kernel context. It lives until shutdown; nothing tears it
// down earlier.
func New(cfg Config, log *logging.Logger) *Kernel {
	if log == nil {
		log = logging.NewDefault()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	caps := capability.NewTable()
	frames := resource.New(cfg.Memory, shareAuth{caps: caps})
	k := &Kernel{
		BootID: uuid.New().String(),
		caps:   caps,
		frames: frames,
		mapper: memory.NewMapper(frames, mapAuth{caps: caps}),
		sched:  sched.New(cfg.Sched),
		procs:  make(map[types.Handle]Process),
		events: make(chan Event, cfg.EventBuffer),
		log:    log,
	}
	log.Info("kernel booted",
		zap.String("boot_id", k.BootID),
		zap.Uint64("memory_bytes", cfg.Memory.TotalBytes),
		zap.Uint64("quantum_cap", cfg.Sched.QuantumCap),
	)
	return k
}

// Capabilities exposes the capability table.
func (k *Kernel) Capabilities() *capability.Table { return k.caps }

// Frames exposes the frame registry.
func (k *Kernel) Frames() *resource.Registry { return k.frames }

// Mapper exposes the memory mapper.
func (k *Kernel) Mapper() *memory.Mapper { return k.mapper }

// Scheduler exposes the scheduler.
func (k *Kernel) Scheduler() *sched.Scheduler { return k.sched }

// Events is the kernel's bounded event stream. Single consumer; events
// overflowing the buffer are dropped.
func (k *Kernel) Events() <-chan Event { return k.events }

func (k *Kernel) emit(typ string, process types.Handle, detail string) {
	ev := Event{
		ID:      uuid.New().String(),
		Type:    typ,
		Process: process,
		Detail:  detail,
		Time:    time.Now(),
	}
	select {
	case k.events <- ev:
	default:
	}
}

// Register installs a process record, its capability set, an empty mapping
// set, and its scheduling record. Driven by the external process-management
// component at spawn.
func (k *Kernel) Register(handle types.Handle, initial []capability.Permission) error {
	if handle.IsSelf() {
		return fmt.Errorf("register: %w: zero handle is reserved", types.ErrInvalidParameter)
	}
	k.mu.Lock()
	if _, ok := k.procs[handle]; ok {
		k.mu.Unlock()
		return fmt.Errorf("register %s: %w: already registered", handle, types.ErrInvalidParameter)
	}
	k.procs[handle] = Process{Handle: handle, RegisterAt: time.Now()}
	k.mu.Unlock()

	if err := k.caps.Register(handle, initial); err != nil {
		k.dropProc(handle)
		return err
	}
	if err := k.mapper.Register(handle); err != nil {
		k.caps.Deregister(handle)
		k.dropProc(handle)
		return err
	}
	if err := k.sched.Register(handle); err != nil {
		k.mapper.Deregister(handle)
		k.caps.Deregister(handle)
		k.dropProc(handle)
		return err
	}

	k.log.Info("process registered", zap.Uint64("handle", uint64(handle)), zap.Int("permissions", len(initial)))
	k.emit("process_registered", handle, "")
	return nil
}

func (k *Kernel) dropProc(handle types.Handle) {
	k.mu.Lock()
	delete(k.procs, handle)
	k.mu.Unlock()
}

// Deregister tears a process down without an authorization check. Driven
// by the external process-management component.
func (k *Kernel) Deregister(handle types.Handle) error {
	return k.teardown(handle, "process_deregistered")
}

// Terminate releases every mapping the target owns, invalidates its
// capability set, and expires its quantum. Authorization happens in the
// dispatcher; by the time this runs the call is permitted.
func (k *Kernel) Terminate(target types.Handle) error {
	return k.teardown(target, "process_terminated")
}

func (k *Kernel) teardown(handle types.Handle, event string) error {
	k.mu.Lock()
	_, ok := k.procs[handle]
	if !ok {
		k.mu.Unlock()
		return fmt.Errorf("teardown %s: %w", handle, types.ErrNoSuchProcess)
	}
	delete(k.procs, handle)
	k.mu.Unlock()

	// Order matters: mappings release frames back to the registry before
	// the capability set dies, and the scheduler gives remaining time back
	// to the pool last.
	k.mapper.Deregister(handle)
	k.caps.Deregister(handle)
	k.sched.Terminate(handle)

	k.log.Info("process torn down", zap.Uint64("handle", uint64(handle)), zap.String("event", event))
	k.emit(event, handle, "")
	return nil
}

// Registered reports whether a live process record exists for handle.
func (k *Kernel) Registered(handle types.Handle) bool {
	k.mu.RLock()
	_, ok := k.procs[handle]
	k.mu.RUnlock()
	return ok
}

// Processes lists the live process records.
func (k *Kernel) Processes() []Process {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]Process, 0, len(k.procs))
	for _, p := range k.procs {
		out = append(out, p)
	}
	return out
}

// MapMemory applies a map batch on behalf of caller.
func (k *Kernel) MapMemory(caller, target types.Handle, entries []memory.Entry) error {
	err := k.mapper.Map(caller, target, entries)
	if err == nil {
		k.emit("map_committed", target, fmt.Sprintf("%d entries", len(entries)))
	}
	return err
}

// MemorySegments answers the get-memory query for a process.
func (k *Kernel) MemorySegments(process types.Handle, buf []types.Segment) int {
	return k.mapper.Segments(process, buf)
}

// AllocateQuantum grants a process scheduling time.
func (k *Kernel) AllocateQuantum(process types.Handle, duration uint64) error {
	return k.sched.AllocateQuantum(process, duration)
}

// YieldQuantum transfers the caller's remaining time.
func (k *Kernel) YieldQuantum(process types.Handle, target *types.Handle) error {
	err := k.sched.YieldQuantum(process, target)
	if err == nil && target != nil {
		k.emit("quantum_donated", process, target.String())
	}
	return err
}

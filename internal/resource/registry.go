package resource

import (
	"fmt"
	"sync"

	"github.com/exokit-os/exocore/internal/types"
)

// Frame identifies one physical frame: a number within its size class.
type Frame struct {
	Number uint64          `json:"number"`
	Class  types.SizeClass `json:"class"`
}

func (f Frame) String() string { return fmt.Sprintf("frame-%d/%s", f.Number, f.Class) }

// Owner is one (process, protection) tuple holding a mapping to a frame.
type Owner struct {
	Process types.Handle `json:"process"`
	Flags   types.Flags  `json:"flags"`
}

// ShareAuthorizer answers whether a sharing grant exists between two
// processes. The capability table satisfies it through the kernel context.
type ShareAuthorizer interface {
	MayShare(a, b types.Handle) bool
}

// Config bounds the registry.
type Config struct {
	// TotalBytes is the physical memory budget carved into frames.
	TotalBytes uint64
	// ProcessQuotaBytes is the soft per-process cap; zero disables it.
	ProcessQuotaBytes uint64
}

// Stats is a point-in-time view of the registry for introspection.
type Stats struct {
	TotalBytes  uint64           `json:"total_bytes"`
	UsedBytes   uint64           `json:"used_bytes"`
	LiveFrames  map[string]int   `json:"live_frames"`
	SharedCount int              `json:"shared_frames"`
	PerProcess  map[string]uint64 `json:"per_process_bytes"`
}

// Registry tracks every live frame and its owners.
//
// Frame numbers are handed out monotonically per size class and recycled
// through a free list only once the last owner releases, so a number never
// refers to two different uses while a mapping can still reach it.
type Registry struct {
	mu   sync.Mutex
	auth ShareAuthorizer

	totalBytes uint64
	quotaBytes uint64
	usedBytes  uint64

	next   map[types.SizeClass]uint64
	free   map[types.SizeClass][]uint64
	owners map[Frame]map[types.Handle]types.Flags
	// perProc charges each owner the full frame size while it owns it.
	perProc map[types.Handle]uint64
}

// New creates a registry over the configured physical budget.
func New(cfg Config, auth ShareAuthorizer) *Registry {
	return &Registry{
		auth:       auth,
		totalBytes: cfg.TotalBytes,
		quotaBytes: cfg.ProcessQuotaBytes,
		next:       make(map[types.SizeClass]uint64),
		free:       make(map[types.SizeClass][]uint64),
		owners:     make(map[Frame]map[types.Handle]types.Flags),
		perProc:    make(map[types.Handle]uint64),
	}
}

// AllocateFrames returns exactly count previously-unused frames of the
// requested class, owned by process, or fails without allocating anything.
func (r *Registry) AllocateFrames(process types.Handle, count int, class types.SizeClass) ([]Frame, error) {
	if count <= 0 || !class.Valid() {
		return nil, fmt.Errorf("allocate %d %s frames: %w", count, class, types.ErrInvalidParameter)
	}
	need := uint64(count) * class.Bytes()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.usedBytes+need > r.totalBytes {
		return nil, fmt.Errorf("allocate %d %s frames: %w", count, class, types.ErrOutOfMemory)
	}
	if r.quotaBytes != 0 && r.perProc[process]+need > r.quotaBytes {
		return nil, fmt.Errorf("allocate %d %s frames for %s: process quota: %w", count, class, process, types.ErrOutOfMemory)
	}

	frames := make([]Frame, 0, count)
	for i := 0; i < count; i++ {
		var num uint64
		if fl := r.free[class]; len(fl) > 0 {
			num = fl[len(fl)-1]
			r.free[class] = fl[:len(fl)-1]
		} else {
			num = r.next[class]
			r.next[class]++
		}
		f := Frame{Number: num, Class: class}
		r.owners[f] = map[types.Handle]types.Flags{process: 0}
		frames = append(frames, f)
	}
	r.usedBytes += need
	r.perProc[process] += need
	return frames, nil
}

// RecordShare adds second as an owner of frame. It requires an explicit
// sharing capability between the pair, in either direction, and charges the
// new owner the frame size against its quota.
func (r *Registry) RecordShare(frame Frame, first, second types.Handle) error {
	if r.auth == nil || !r.auth.MayShare(first, second) {
		return fmt.Errorf("share %s between %s and %s: %w", frame, first, second, types.ErrPermissionDenied)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	own, live := r.owners[frame]
	if !live {
		return fmt.Errorf("share %s: frame not live: %w", frame, types.ErrInvalidParameter)
	}
	if _, ok := own[first]; !ok {
		return fmt.Errorf("share %s: %s is not an owner: %w", frame, first, types.ErrPermissionDenied)
	}
	if _, ok := own[second]; ok {
		return nil
	}
	size := frame.Class.Bytes()
	if r.quotaBytes != 0 && r.perProc[second]+size > r.quotaBytes {
		return fmt.Errorf("share %s with %s: process quota: %w", frame, second, types.ErrOutOfMemory)
	}
	own[second] = own[first]
	r.perProc[second] += size
	return nil
}

// SetProtection updates the protection recorded for one owner of a frame.
// Called by the mapper when a batch commits a protection change.
func (r *Registry) SetProtection(frame Frame, process types.Handle, flags types.Flags) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	own, live := r.owners[frame]
	if !live {
		return fmt.Errorf("protect %s: frame not live: %w", frame, types.ErrInvalidParameter)
	}
	if _, ok := own[process]; !ok {
		return fmt.Errorf("protect %s: %s is not an owner: %w", frame, process, types.ErrPermissionDenied)
	}
	own[process] = flags
	return nil
}

// Release removes process as an owner of frame. Once no owners remain the
// frame number returns to the free pool of its class.
func (r *Registry) Release(process types.Handle, frame Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	own, live := r.owners[frame]
	if !live {
		return
	}
	if _, ok := own[process]; !ok {
		return
	}
	delete(own, process)
	size := frame.Class.Bytes()
	if r.perProc[process] >= size {
		r.perProc[process] -= size
	}
	if len(own) == 0 {
		delete(r.owners, frame)
		r.free[frame.Class] = append(r.free[frame.Class], frame.Number)
		r.usedBytes -= size
	}
}

// Owners returns the owner tuples of a live frame, or nil.
func (r *Registry) Owners(frame Frame) []Owner {
	r.mu.Lock()
	defer r.mu.Unlock()
	own, live := r.owners[frame]
	if !live {
		return nil
	}
	out := make([]Owner, 0, len(own))
	for h, fl := range own {
		out = append(out, Owner{Process: h, Flags: fl})
	}
	return out
}

// UsedBy returns the bytes currently charged to a process.
func (r *Registry) UsedBy(process types.Handle) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.perProc[process]
}

// Stats returns a snapshot for introspection and metrics.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := make(map[string]int)
	shared := 0
	for f, own := range r.owners {
		live[f.Class.String()]++
		if len(own) > 1 {
			shared++
		}
	}
	per := make(map[string]uint64, len(r.perProc))
	for h, b := range r.perProc {
		if b > 0 {
			per[h.String()] = b
		}
	}
	return Stats{
		TotalBytes:  r.totalBytes,
		UsedBytes:   r.usedBytes,
		LiveFrames:  live,
		SharedCount: shared,
		PerProcess:  per,
	}
}

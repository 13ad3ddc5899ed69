package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/exokit-os/exocore/internal/resource"
	"github.com/exokit-os/exocore/internal/types"
)

// MapAuthorizer answers whether caller may mutate target's address space.
// The kernel context backs it with the capability table.
type MapAuthorizer interface {
	MayMapFor(caller, target types.Handle) bool
}

// Mapping is one live virtual-to-physical association.
type Mapping struct {
	Frame resource.Frame  `json:"frame"`
	Class types.SizeClass `json:"class"`
	Flags types.Flags     `json:"flags"`
}

// space is one process's mapping set. Its lock serializes whole batches so
// concurrent Map calls against the same process cannot interleave.
type space struct {
	mu   sync.Mutex
	maps map[uint64]Mapping
}

// Mapper applies validated map/unmap batches to per-process mapping sets.
type Mapper struct {
	mu     sync.RWMutex
	spaces map[types.Handle]*space
	frames *resource.Registry
	auth   MapAuthorizer
}

// NewMapper creates a mapper over the given frame registry.
func NewMapper(frames *resource.Registry, auth MapAuthorizer) *Mapper {
	return &Mapper{
		spaces: make(map[types.Handle]*space),
		frames: frames,
		auth:   auth,
	}
}

// Register creates an empty mapping set for a process.
func (m *Mapper) Register(process types.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.spaces[process]; ok {
		return fmt.Errorf("mapper register %s: %w: already registered", process, types.ErrInvalidParameter)
	}
	m.spaces[process] = &space{maps: make(map[uint64]Mapping)}
	return nil
}

// Deregister tears down every mapping the process owns and drops its set.
func (m *Mapper) Deregister(process types.Handle) {
	m.mu.Lock()
	sp, ok := m.spaces[process]
	delete(m.spaces, process)
	m.mu.Unlock()
	if !ok {
		return
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	for addr, mp := range sp.maps {
		m.frames.Release(process, mp.Frame)
		delete(sp.maps, addr)
	}
}

func (m *Mapper) space(process types.Handle) (*space, bool) {
	m.mu.RLock()
	sp, ok := m.spaces[process]
	m.mu.RUnlock()
	return sp, ok
}

// op is the net effect of a batch on one virtual address after
// last-write-wins resolution.
type op struct {
	class types.SizeClass
	flags types.Flags
	unmap bool
}

// Map validates and applies a batch of entries against process's mapping
// set. The batch is all-or-nothing: any validation failure discards it
// untouched, and an allocation failure during execution unwinds every frame
// the batch had claimed.
func (m *Mapper) Map(caller, process types.Handle, entries []Entry) error {
	if process != caller && (m.auth == nil || !m.auth.MayMapFor(caller, process)) {
		return fmt.Errorf("map for %s by %s: %w", process, caller, types.ErrPermissionDenied)
	}
	sp, ok := m.space(process)
	if !ok {
		return fmt.Errorf("map for %s: %w", process, types.ErrNoSuchProcess)
	}

	sp.mu.Lock()
	defer sp.mu.Unlock()

	ops, err := sp.validate(entries)
	if err != nil {
		return err
	}
	return m.commit(sp, process, ops)
}

// validate performs the whole-batch check against the pre-call state and
// resolves same-address entries (later entries win when compatible).
func (sp *space) validate(entries []Entry) (map[uint64]op, error) {
	ops := make(map[uint64]op)
	for _, e := range entries {
		if e.Unmap() {
			if e.Addr%types.Size4K.Bytes() != 0 {
				return nil, fmt.Errorf("%s: misaligned: %w", e, types.ErrInvalidParameter)
			}
			if _, present := sp.maps[e.Addr]; !present {
				return nil, fmt.Errorf("%s: no present mapping: %w", e, types.ErrInvalidParameter)
			}
			// An unmap supersedes any earlier entry at this address.
			ops[e.Addr] = op{unmap: true}
			continue
		}

		if !e.Class.Valid() || e.Count < 1 || e.Count > MaxEntryCount {
			return nil, fmt.Errorf("%s: %w", e, types.ErrInvalidParameter)
		}
		if e.Addr%e.Class.Bytes() != 0 {
			return nil, fmt.Errorf("%s: misaligned for %s: %w", e, e.Class, types.ErrInvalidParameter)
		}
		size := e.Class.Bytes()
		for i := 0; i < e.Count; i++ {
			addr := e.Addr + uint64(i)*size
			if prev, seen := ops[addr]; seen && !prev.unmap && prev.class != e.Class {
				return nil, fmt.Errorf("%s: incompatible with earlier entry at %#x: %w", e, addr, types.ErrInvalidParameter)
			}
			// A present mapping keeps its size class; changing it takes an
			// unmap-then-remap across separate calls. An earlier unmap in
			// this batch does not soften that: the later entry wins and the
			// unmap becomes a no-op for this address.
			if cur, present := sp.maps[addr]; present && cur.Class != e.Class {
				return nil, fmt.Errorf("%s: size class of present mapping is %s: %w", e, cur.Class, types.ErrInvalidParameter)
			}
			ops[addr] = op{class: e.Class, flags: e.Flags}
		}
	}
	if err := sp.checkOverlap(ops); err != nil {
		return nil, err
	}
	return ops, nil
}

func rangesOverlap(a, alen, b, blen uint64) bool {
	return a < b+blen && b < a+alen
}

// checkOverlap rejects map pages whose range intersects a present mapping
// or another batch page of a different size class. Equal starts were
// already resolved entry by entry; pages of one class are aligned, so two
// distinct starts of the same class never intersect.
func (sp *space) checkOverlap(ops map[uint64]op) error {
	for addr, o := range ops {
		if o.unmap {
			continue
		}
		size := o.class.Bytes()
		for cur, mp := range sp.maps {
			if cur != addr && rangesOverlap(addr, size, cur, mp.Class.Bytes()) {
				return fmt.Errorf("map %#x %s: overlaps present mapping at %#x: %w",
					addr, o.class, cur, types.ErrInvalidParameter)
			}
		}
		for other, oo := range ops {
			if other == addr || oo.unmap || oo.class == o.class {
				continue
			}
			if rangesOverlap(addr, size, other, oo.class.Bytes()) {
				return fmt.Errorf("map %#x %s: overlaps batch entry at %#x: %w",
					addr, o.class, other, types.ErrInvalidParameter)
			}
		}
	}
	return nil
}

// commit stages every frame allocation before touching the mapping set, so
// an out-of-memory failure leaves the set identical to the pre-call state.
// A protection bookkeeping failure mid-batch is a consistency fault: it
// halts the batch with a diagnostic instead of continuing on corrupt state.
func (m *Mapper) commit(sp *space, process types.Handle, ops map[uint64]op) error {
	addrs := make([]uint64, 0, len(ops))
	for addr := range ops {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	staged := make(map[uint64]resource.Frame)
	for _, addr := range addrs {
		o := ops[addr]
		if o.unmap {
			continue
		}
		if _, present := sp.maps[addr]; present {
			continue // protection update, no allocation
		}
		frames, err := m.frames.AllocateFrames(process, 1, o.class)
		if err != nil {
			for _, fr := range staged {
				m.frames.Release(process, fr)
			}
			return fmt.Errorf("map %#x: %w", addr, err)
		}
		staged[addr] = frames[0]
	}

	for _, addr := range addrs {
		if !ops[addr].unmap {
			continue
		}
		cur := sp.maps[addr]
		delete(sp.maps, addr)
		m.frames.Release(process, cur.Frame)
	}

	for _, addr := range addrs {
		o := ops[addr]
		if o.unmap {
			continue
		}
		if cur, present := sp.maps[addr]; present {
			cur.Flags = o.flags
			sp.maps[addr] = cur
			if err := m.frames.SetProtection(cur.Frame, process, o.flags); err != nil {
				return fmt.Errorf("map %#x: protection bookkeeping: %w", addr, err)
			}
			continue
		}
		fr := staged[addr]
		sp.maps[addr] = Mapping{Frame: fr, Class: o.class, Flags: o.flags}
		if err := m.frames.SetProtection(fr, process, o.flags); err != nil {
			return fmt.Errorf("map %#x: protection bookkeeping: %w", addr, err)
		}
	}
	return nil
}

// Lookup returns the mapping at one virtual address.
func (m *Mapper) Lookup(process types.Handle, addr uint64) (Mapping, bool) {
	sp, ok := m.space(process)
	if !ok {
		return Mapping{}, false
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	mp, present := sp.maps[addr]
	return mp, present
}

// Segments writes the process's mapped segments into buf, ascending and
// non-overlapping, coalescing adjacent ranges with identical protection.
// It never fails: at most len(buf) segments are written and the true total
// is returned, which may exceed len(buf).
func (m *Mapper) Segments(process types.Handle, buf []types.Segment) int {
	sp, ok := m.space(process)
	if !ok {
		return 0
	}
	sp.mu.Lock()
	addrs := make([]uint64, 0, len(sp.maps))
	for addr := range sp.maps {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	var segs []types.Segment
	for _, addr := range addrs {
		mp := sp.maps[addr]
		size := mp.Class.Bytes()
		if n := len(segs); n > 0 && segs[n-1].End() == addr && segs[n-1].Flags == mp.Flags {
			segs[n-1].Len += size
			continue
		}
		segs = append(segs, types.Segment{Addr: addr, Len: size, Flags: mp.Flags})
	}
	sp.mu.Unlock()

	copy(buf, segs)
	return len(segs)
}

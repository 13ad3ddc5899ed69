package capability

import (
	"fmt"
	"sync"

	"github.com/exokit-os/exocore/internal/types"
)

// Kind enumerates the permission classes. The set is closed: adding a kind
// means updating every authorization switch, which the compiler surfaces.
type Kind uint8

const (
	// KindAny is the wildcard class, only meaningful as the Class of a
	// grant permission. It is the zero value so an unparameterized grant
	// capability covers every class.
	KindAny Kind = iota
	KindTerminate
	KindMapMemoryOf
	KindGrant
	KindReadUnowned
	KindWriteUnowned
	KindSpawnProcess
	KindDeviceAccess
	KindNetworkAccess
	KindDiskRead
	KindDiskWrite
)

func (k Kind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindTerminate:
		return "terminate"
	case KindMapMemoryOf:
		return "map-memory-of"
	case KindGrant:
		return "grant"
	case KindReadUnowned:
		return "read-unowned"
	case KindWriteUnowned:
		return "write-unowned"
	case KindSpawnProcess:
		return "spawn-process"
	case KindDeviceAccess:
		return "device-access"
	case KindNetworkAccess:
		return "network-access"
	case KindDiskRead:
		return "disk-read"
	case KindDiskWrite:
		return "disk-write"
	default:
		return "invalid"
	}
}

// DeviceKind parameterizes KindDeviceAccess.
type DeviceKind uint8

const (
	DeviceNone DeviceKind = iota
	DeviceSerial
	DeviceFramebuffer
	DeviceTimer
	DeviceInterruptController
)

// Permission is one authorization token. Target is the process the
// permission governs; the zero handle makes the permission ungoverned, i.e.
// it covers every process. Class narrows a grant permission to one
// permission class and is KindAny everywhere else. Device parameterizes
// device-access permissions only.
//
// Permission is a value type and a valid map key.
type Permission struct {
	Kind   Kind         `json:"kind"`
	Target types.Handle `json:"target,omitempty"`
	Class  Kind         `json:"class,omitempty"`
	Device DeviceKind   `json:"device,omitempty"`
}

func (p Permission) String() string {
	if p.Kind == KindGrant {
		return fmt.Sprintf("grant(%s)@%d", p.Class, p.Target)
	}
	return fmt.Sprintf("%s@%d", p.Kind, p.Target)
}

// ungoverned returns the form of p that covers every process.
func (p Permission) ungoverned() Permission {
	p.Target = types.Self
	return p
}

// Terminate returns the permission to terminate target.
func Terminate(target types.Handle) Permission {
	return Permission{Kind: KindTerminate, Target: target}
}

// MapMemoryOf returns the permission to mutate target's address space. It
// also acts as the sharing capability between two processes.
func MapMemoryOf(target types.Handle) Permission {
	return Permission{Kind: KindMapMemoryOf, Target: target}
}

// GrantOf returns the "may grant" capability for one permission class over
// one grantee. Zero class or target widens to any.
func GrantOf(class Kind, target types.Handle) Permission {
	return Permission{Kind: KindGrant, Class: class, Target: target}
}

// DeviceAccess returns the permission to drive one device kind.
func DeviceAccess(device DeviceKind) Permission {
	return Permission{Kind: KindDeviceAccess, Device: device}
}

// AllPermissions returns the full ungoverned set the loader installs on the
// boot process.
func AllPermissions() []Permission {
	return []Permission{
		{Kind: KindTerminate},
		{Kind: KindMapMemoryOf},
		{Kind: KindGrant},
		{Kind: KindReadUnowned},
		{Kind: KindWriteUnowned},
		{Kind: KindSpawnProcess},
		{Kind: KindDeviceAccess, Device: DeviceSerial},
		{Kind: KindDeviceAccess, Device: DeviceFramebuffer},
		{Kind: KindDeviceAccess, Device: DeviceTimer},
		{Kind: KindDeviceAccess, Device: DeviceInterruptController},
		{Kind: KindNetworkAccess},
		{Kind: KindDiskRead},
		{Kind: KindDiskWrite},
	}
}

// entry is the held flag plus the bookkeeping revocation needs.
type entry struct {
	grantedBy types.Handle
}

// set is one process's capability set. Mutated only through the table.
type set struct {
	mu    sync.RWMutex
	perms map[Permission]entry
}

func newSet(initial []Permission, grantedBy types.Handle) *set {
	s := &set{perms: make(map[Permission]entry, len(initial))}
	for _, p := range initial {
		s.perms[p] = entry{grantedBy: grantedBy}
	}
	return s
}

func (s *set) holds(p Permission) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.perms[p]; ok {
		return true
	}
	_, ok := s.perms[p.ungoverned()]
	return ok
}

// Table is the global capability store, one set per registered process.
// The outer lock guards the handle map; each set carries its own lock so
// checks against different processes do not contend.
type Table struct {
	mu   sync.RWMutex
	sets map[types.Handle]*set
}

// NewTable creates an empty capability table.
func NewTable() *Table {
	return &Table{sets: make(map[types.Handle]*set)}
}

// Register installs a fresh capability set for handle. The initial
// permissions are recorded as self-granted so the process may revoke them.
func (t *Table) Register(handle types.Handle, initial []Permission) error {
	if handle.IsSelf() {
		return fmt.Errorf("register: %w: zero handle is reserved", types.ErrInvalidParameter)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sets[handle]; ok {
		return fmt.Errorf("register %s: %w: handle already registered", handle, types.ErrInvalidParameter)
	}
	t.sets[handle] = newSet(initial, handle)
	return nil
}

// Deregister invalidates a process's capability set.
func (t *Table) Deregister(handle types.Handle) {
	t.mu.Lock()
	delete(t.sets, handle)
	t.mu.Unlock()
}

// Registered reports whether handle has a live capability set.
func (t *Table) Registered(handle types.Handle) bool {
	t.mu.RLock()
	_, ok := t.sets[handle]
	t.mu.RUnlock()
	return ok
}

func (t *Table) lookup(handle types.Handle) (*set, bool) {
	t.mu.RLock()
	s, ok := t.sets[handle]
	t.mu.RUnlock()
	return s, ok
}

// Check reports whether process holds permission, matching either the exact
// parameterized form or its ungoverned form. Pure lookup, no side effects.
func (t *Table) Check(process types.Handle, perm Permission) bool {
	s, ok := t.lookup(process)
	if !ok {
		return false
	}
	return s.holds(perm)
}

// holdsGrantFor reports whether granter may grant permissions of the given
// class to grantee: an exact, class-widened, target-widened, or fully
// ungoverned grant capability all qualify.
func (t *Table) holdsGrantFor(granter types.Handle, class Kind, grantee types.Handle) bool {
	s, ok := t.lookup(granter)
	if !ok {
		return false
	}
	return s.holds(GrantOf(class, grantee)) || s.holds(GrantOf(KindAny, grantee))
}

// Grant adds perm to grantee's set. It succeeds only when granter already
// holds perm (or its ungoverned form) and holds a grant capability covering
// perm's class and the grantee.
func (t *Table) Grant(granter, grantee types.Handle, perm Permission) error {
	gs, ok := t.lookup(grantee)
	if !ok {
		return fmt.Errorf("grant %s to %s: %w", perm, grantee, types.ErrNoSuchProcess)
	}
	if !t.Check(granter, perm) {
		return fmt.Errorf("grant %s: granter %s does not hold it: %w", perm, granter, types.ErrPermissionDenied)
	}
	if !t.holdsGrantFor(granter, perm.Kind, grantee) {
		return fmt.Errorf("grant %s: granter %s may not grant: %w", perm, granter, types.ErrPermissionDenied)
	}
	gs.mu.Lock()
	if _, held := gs.perms[perm]; !held {
		gs.perms[perm] = entry{grantedBy: granter}
	}
	gs.mu.Unlock()
	return nil
}

// Revoke removes perm from grantee's set. Revocation is always allowed over
// permissions the revoker originally granted and for self-revocation;
// otherwise the revoker needs a grant capability covering the permission.
// Revoking a permission that is not held is a no-op.
func (t *Table) Revoke(revoker, grantee types.Handle, perm Permission) error {
	gs, ok := t.lookup(grantee)
	if !ok {
		return fmt.Errorf("revoke %s from %s: %w", perm, grantee, types.ErrNoSuchProcess)
	}
	// Consult the revoker's set before locking the grantee's: holding two
	// set locks at once would invert order against the symmetric revoke.
	mayRevoke := revoker == grantee || t.holdsGrantFor(revoker, perm.Kind, grantee)

	gs.mu.Lock()
	defer gs.mu.Unlock()
	e, held := gs.perms[perm]
	if !held {
		return nil
	}
	if !mayRevoke && e.grantedBy != revoker {
		return fmt.Errorf("revoke %s from %s by %s: %w", perm, grantee, revoker, types.ErrPermissionDenied)
	}
	delete(gs.perms, perm)
	return nil
}

// Snapshot returns a copy of a process's held permissions, for
// introspection. Order is unspecified.
func (t *Table) Snapshot(process types.Handle) []Permission {
	s, ok := t.lookup(process)
	if !ok {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Permission, 0, len(s.perms))
	for p := range s.perms {
		out = append(out, p)
	}
	return out
}

package sched

import (
	"fmt"
	"sync"

	"github.com/exokit-os/exocore/internal/types"
)

// State is a process's position in the scheduling state machine.
type State uint8

const (
	StateIdle State = iota
	StateReady
	StateRunning
	StateExpired
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateExpired:
		return "expired"
	case StateTerminated:
		return "terminated"
	default:
		return "invalid"
	}
}

// QuantumState tracks what happened to a process's time allocation.
type QuantumState uint8

const (
	QuantumActive QuantumState = iota
	QuantumDonated
	QuantumExpired
)

func (q QuantumState) String() string {
	switch q {
	case QuantumActive:
		return "active"
	case QuantumDonated:
		return "donated"
	case QuantumExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// Quantum is one process's time allocation record.
type Quantum struct {
	Owner     types.Handle `json:"owner"`
	Remaining uint64       `json:"remaining"`
	State     QuantumState `json:"state"`
	// DonatedTo names the beneficiary when State is QuantumDonated; the
	// zero handle means the time went back to the free pool.
	DonatedTo types.Handle `json:"donated_to,omitempty"`
}

type procState struct {
	state   State
	quantum Quantum
	seq     uint64 // allocation order, FIFO tie-break
}

// Config bounds the scheduler.
type Config struct {
	// QuantumCap is the most remaining time one process may hold through
	// allocation. Donations may push a beneficiary past the cap; the cap
	// bounds allocation, conservation governs transfer.
	QuantumCap uint64
	// DefaultQuantum is granted at registration. Zero registers the
	// process idle with no time.
	DefaultQuantum uint64
}

// Stats is a point-in-time scheduler view.
type Stats struct {
	ContextSwitches uint64 `json:"context_switches"`
	Preemptions     uint64 `json:"preemptions"`
	Donations       uint64 `json:"donations"`
	PoolTicks       uint64 `json:"pool_ticks"`
	ReadyDepth      int    `json:"ready_depth"`
	Processes       int    `json:"processes"`
}

// Scheduler transfers CPU quantums between processes on one core set.
type Scheduler struct {
	mu      sync.Mutex
	cfg     Config
	procs   map[types.Handle]*procState
	ready   []types.Handle // FIFO by allocation order
	current types.Handle   // zero when no process runs
	pool    uint64         // ticks returned to the free scheduling pool
	seq     uint64

	contextSwitches uint64
	preemptions     uint64
	donations       uint64
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	return &Scheduler{
		cfg:   cfg,
		procs: make(map[types.Handle]*procState),
	}
}

// Register creates the scheduling record for a process, granting the
// default allocation when configured.
func (s *Scheduler) Register(process types.Handle) error {
	if process.IsSelf() {
		return fmt.Errorf("sched register: %w: zero handle is reserved", types.ErrInvalidParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.procs[process]; ok {
		return fmt.Errorf("sched register %s: %w: already registered", process, types.ErrInvalidParameter)
	}
	ps := &procState{
		state:   StateIdle,
		quantum: Quantum{Owner: process, State: QuantumExpired},
	}
	s.procs[process] = ps
	if s.cfg.DefaultQuantum > 0 {
		s.creditLocked(ps, process, s.cfg.DefaultQuantum)
	}
	return nil
}

// creditLocked adds time to a process's quantum and makes it ready.
func (s *Scheduler) creditLocked(ps *procState, process types.Handle, ticks uint64) {
	ps.quantum.Remaining += ticks
	ps.quantum.State = QuantumActive
	if ps.state == StateIdle || ps.state == StateExpired {
		ps.state = StateReady
		s.enqueueLocked(process, ps)
	}
}

func (s *Scheduler) enqueueLocked(process types.Handle, ps *procState) {
	s.seq++
	ps.seq = s.seq
	s.ready = append(s.ready, process)
}

// AllocateQuantum grants process a fresh quantum of the given duration,
// bounded by the per-process cap.
func (s *Scheduler) AllocateQuantum(process types.Handle, duration uint64) error {
	if duration == 0 {
		return fmt.Errorf("allocate quantum for %s: zero duration: %w", process, types.ErrInvalidParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.procs[process]
	if !ok {
		return fmt.Errorf("allocate quantum: %w", types.ErrNoSuchProcess)
	}
	if s.cfg.QuantumCap != 0 && ps.quantum.Remaining+duration > s.cfg.QuantumCap {
		return fmt.Errorf("allocate quantum for %s: cap %d: %w", process, s.cfg.QuantumCap, types.ErrQuotaExceeded)
	}
	s.creditLocked(ps, process, duration)
	return nil
}

// YieldQuantum transfers the caller's remaining time to target when one is
// named and runnable, otherwise to the free scheduling pool. The caller
// transitions to Ready; control returns to the scheduler, never to the
// caller until rescheduled.
func (s *Scheduler) YieldQuantum(process types.Handle, target *types.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.procs[process]
	if !ok {
		return fmt.Errorf("yield: %w", types.ErrNoSuchProcess)
	}

	remaining := ps.quantum.Remaining
	ps.quantum.Remaining = 0

	if target != nil {
		if ts, runnable := s.procs[*target]; runnable && ts.state != StateTerminated {
			s.creditLocked(ts, *target, remaining)
			ps.quantum.State = QuantumDonated
			ps.quantum.DonatedTo = *target
			s.donations++
		} else {
			s.pool += remaining
			ps.quantum.State = QuantumExpired
			ps.quantum.DonatedTo = types.Self
		}
	} else {
		s.pool += remaining
		ps.quantum.State = QuantumExpired
		ps.quantum.DonatedTo = types.Self
	}

	if s.current == process {
		s.current = types.Self
	}
	if ps.state != StateReady {
		ps.state = StateReady
		s.enqueueLocked(process, ps)
	}
	return nil
}

// ScheduleNext picks the oldest ready process holding time and marks it
// running. The second return is false when nothing is runnable.
func (s *Scheduler) ScheduleNext() (types.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < len(s.ready); i++ {
		h := s.ready[i]
		ps, ok := s.procs[h]
		if !ok || ps.state != StateReady || ps.quantum.Remaining == 0 {
			continue
		}
		s.ready = append(s.ready[:i], s.ready[i+1:]...)
		ps.state = StateRunning
		s.current = h
		s.contextSwitches++
		return h, true
	}
	return types.Self, false
}

// Tick burns elapsed ticks off the running quantum. When it exhausts, the
// process is preempted into Expired and must allocate again before it can
// run.
func (s *Scheduler) Tick(elapsed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.IsSelf() {
		return
	}
	ps, ok := s.procs[s.current]
	if !ok {
		s.current = types.Self
		return
	}
	if elapsed >= ps.quantum.Remaining {
		ps.quantum.Remaining = 0
		ps.quantum.State = QuantumExpired
		ps.state = StateExpired
		s.current = types.Self
		s.preemptions++
		return
	}
	ps.quantum.Remaining -= elapsed
}

// Terminate expires a process's quantum, returning any remaining time to
// the free pool, and drops its scheduling record.
func (s *Scheduler) Terminate(process types.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.procs[process]
	if !ok {
		return
	}
	s.pool += ps.quantum.Remaining
	ps.quantum.Remaining = 0
	ps.quantum.State = QuantumExpired
	ps.state = StateTerminated
	delete(s.procs, process)
	for i, h := range s.ready {
		if h == process {
			s.ready = append(s.ready[:i], s.ready[i+1:]...)
			break
		}
	}
	if s.current == process {
		s.current = types.Self
	}
}

// ProcessState returns a process's scheduling state and quantum record.
func (s *Scheduler) ProcessState(process types.Handle) (State, Quantum, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.procs[process]
	if !ok {
		return StateIdle, Quantum{}, false
	}
	return ps.state, ps.quantum, true
}

// TotalRemaining sums every live quantum plus the free pool. Donation moves
// time between the terms, so the total is conserved across yields.
func (s *Scheduler) TotalRemaining() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.pool
	for _, ps := range s.procs {
		total += ps.quantum.Remaining
	}
	return total
}

// Stats returns a snapshot for introspection and metrics.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	depth := 0
	for _, h := range s.ready {
		if ps, ok := s.procs[h]; ok && ps.state == StateReady {
			depth++
		}
	}
	return Stats{
		ContextSwitches: s.contextSwitches,
		Preemptions:     s.preemptions,
		Donations:       s.donations,
		PoolTicks:       s.pool,
		ReadyDepth:      depth,
		Processes:       len(s.procs),
	}
}

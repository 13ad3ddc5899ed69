package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exokit-os/exocore/internal/types"
)

const (
	procA types.Handle = 1
	procB types.Handle = 2
	procC types.Handle = 3
)

func newTestScheduler(t *testing.T, cfg Config, procs ...types.Handle) *Scheduler {
	t.Helper()
	s := New(cfg)
	for _, p := range procs {
		require.NoError(t, s.Register(p))
	}
	return s
}

func TestRegisterGrantsDefaultQuantum(t *testing.T) {
	s := newTestScheduler(t, Config{QuantumCap: 100, DefaultQuantum: 10}, procA)

	state, q, ok := s.ProcessState(procA)
	require.True(t, ok)
	assert.Equal(t, StateReady, state)
	assert.Equal(t, uint64(10), q.Remaining)
	assert.Equal(t, QuantumActive, q.State)
}

func TestRegisterWithoutDefaultIsIdle(t *testing.T) {
	s := newTestScheduler(t, Config{QuantumCap: 100}, procA)

	state, q, ok := s.ProcessState(procA)
	require.True(t, ok)
	assert.Equal(t, StateIdle, state)
	assert.Equal(t, uint64(0), q.Remaining)

	_, runnable := s.ScheduleNext()
	assert.False(t, runnable)
}

func TestRegisterRejectsZeroAndDuplicate(t *testing.T) {
	s := New(Config{})
	assert.ErrorIs(t, s.Register(types.Self), types.ErrInvalidParameter)
	require.NoError(t, s.Register(procA))
	assert.ErrorIs(t, s.Register(procA), types.ErrInvalidParameter)
}

func TestAllocateQuantumCap(t *testing.T) {
	s := newTestScheduler(t, Config{QuantumCap: 50}, procA)

	require.NoError(t, s.AllocateQuantum(procA, 30))
	require.NoError(t, s.AllocateQuantum(procA, 20))

	err := s.AllocateQuantum(procA, 1)
	assert.ErrorIs(t, err, types.ErrQuotaExceeded)

	_, q, _ := s.ProcessState(procA)
	assert.Equal(t, uint64(50), q.Remaining, "failed allocation must not change the quantum")
}

func TestAllocateQuantumValidation(t *testing.T) {
	s := newTestScheduler(t, Config{QuantumCap: 50}, procA)
	assert.ErrorIs(t, s.AllocateQuantum(procA, 0), types.ErrInvalidParameter)
	assert.ErrorIs(t, s.AllocateQuantum(procB, 10), types.ErrNoSuchProcess)
}

func TestScheduleNextIsFIFO(t *testing.T) {
	s := newTestScheduler(t, Config{QuantumCap: 100, DefaultQuantum: 10}, procA, procB, procC)

	for _, want := range []types.Handle{procA, procB, procC} {
		got, ok := s.ScheduleNext()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := s.ScheduleNext()
	assert.False(t, ok, "nothing ready once all three run")
}

func TestYieldToNamedTargetTransfersTime(t *testing.T) {
	s := newTestScheduler(t, Config{QuantumCap: 100}, procA, procB)
	require.NoError(t, s.AllocateQuantum(procA, 10))
	require.NoError(t, s.AllocateQuantum(procB, 5))

	before := s.TotalRemaining()

	target := procB
	require.NoError(t, s.YieldQuantum(procA, &target))

	stateA, qA, _ := s.ProcessState(procA)
	assert.Equal(t, StateReady, stateA)
	assert.Equal(t, uint64(0), qA.Remaining)
	assert.Equal(t, QuantumDonated, qA.State)
	assert.Equal(t, procB, qA.DonatedTo)

	_, qB, _ := s.ProcessState(procB)
	assert.Equal(t, uint64(15), qB.Remaining)

	assert.Equal(t, before, s.TotalRemaining(), "donation conserves total time")
	assert.Equal(t, uint64(1), s.Stats().Donations)
}

func TestYieldWithoutTargetGoesToPool(t *testing.T) {
	s := newTestScheduler(t, Config{QuantumCap: 100}, procA)
	require.NoError(t, s.AllocateQuantum(procA, 10))

	require.NoError(t, s.YieldQuantum(procA, nil))

	_, q, _ := s.ProcessState(procA)
	assert.Equal(t, uint64(0), q.Remaining)
	assert.Equal(t, QuantumExpired, q.State)
	assert.Equal(t, uint64(10), s.Stats().PoolTicks)
	assert.Equal(t, uint64(10), s.TotalRemaining())
}

func TestYieldToTerminatedTargetGoesToPool(t *testing.T) {
	s := newTestScheduler(t, Config{QuantumCap: 100}, procA, procB)
	require.NoError(t, s.AllocateQuantum(procA, 10))
	s.Terminate(procB)

	target := procB
	require.NoError(t, s.YieldQuantum(procA, &target))

	_, q, _ := s.ProcessState(procA)
	assert.Equal(t, QuantumExpired, q.State)
	assert.Equal(t, uint64(10), s.Stats().PoolTicks)
}

func TestYieldMayPushBeneficiaryPastCap(t *testing.T) {
	s := newTestScheduler(t, Config{QuantumCap: 50}, procA, procB)
	require.NoError(t, s.AllocateQuantum(procA, 50))
	require.NoError(t, s.AllocateQuantum(procB, 50))

	target := procB
	require.NoError(t, s.YieldQuantum(procA, &target))

	_, q, _ := s.ProcessState(procB)
	assert.Equal(t, uint64(100), q.Remaining, "the cap bounds allocation, not donation")
}

func TestConservationAcrossYieldChain(t *testing.T) {
	s := newTestScheduler(t, Config{QuantumCap: 1000}, procA, procB, procC)
	require.NoError(t, s.AllocateQuantum(procA, 100))
	require.NoError(t, s.AllocateQuantum(procB, 200))
	require.NoError(t, s.AllocateQuantum(procC, 300))
	require.Equal(t, uint64(600), s.TotalRemaining())

	b, c := procB, procC
	require.NoError(t, s.YieldQuantum(procA, &b))
	require.NoError(t, s.YieldQuantum(procB, &c))
	require.NoError(t, s.YieldQuantum(procC, nil))

	assert.Equal(t, uint64(600), s.TotalRemaining())
	assert.Equal(t, uint64(600), s.Stats().PoolTicks, "the chain drained everything into the pool")
}

func TestTickPreemptsOnExhaustion(t *testing.T) {
	s := newTestScheduler(t, Config{QuantumCap: 100}, procA)
	require.NoError(t, s.AllocateQuantum(procA, 10))

	h, ok := s.ScheduleNext()
	require.True(t, ok)
	require.Equal(t, procA, h)

	s.Tick(4)
	state, q, _ := s.ProcessState(procA)
	assert.Equal(t, StateRunning, state)
	assert.Equal(t, uint64(6), q.Remaining)

	s.Tick(6)
	state, q, _ = s.ProcessState(procA)
	assert.Equal(t, StateExpired, state)
	assert.Equal(t, uint64(0), q.Remaining)
	assert.Equal(t, QuantumExpired, q.State)
	assert.Equal(t, uint64(1), s.Stats().Preemptions)

	// Expired processes need a fresh allocation before running again.
	_, ok = s.ScheduleNext()
	require.False(t, ok)
	require.NoError(t, s.AllocateQuantum(procA, 5))
	h, ok = s.ScheduleNext()
	require.True(t, ok)
	assert.Equal(t, procA, h)
}

func TestTerminateReturnsTimeToPool(t *testing.T) {
	s := newTestScheduler(t, Config{QuantumCap: 100}, procA, procB)
	require.NoError(t, s.AllocateQuantum(procA, 40))
	require.NoError(t, s.AllocateQuantum(procB, 20))
	require.Equal(t, uint64(60), s.TotalRemaining())

	s.Terminate(procA)

	_, _, ok := s.ProcessState(procA)
	assert.False(t, ok)
	assert.Equal(t, uint64(40), s.Stats().PoolTicks)
	assert.Equal(t, uint64(60), s.TotalRemaining(), "termination conserves total time")

	// The terminated process left the ready queue.
	h, runnable := s.ScheduleNext()
	require.True(t, runnable)
	assert.Equal(t, procB, h)
}

func TestYieldAfterRunningRequeues(t *testing.T) {
	s := newTestScheduler(t, Config{QuantumCap: 100}, procA, procB)
	require.NoError(t, s.AllocateQuantum(procA, 10))
	require.NoError(t, s.AllocateQuantum(procB, 10))

	h, ok := s.ScheduleNext()
	require.True(t, ok)
	require.Equal(t, procA, h)

	target := procB
	require.NoError(t, s.YieldQuantum(procA, &target))

	// procB was already ready and now runs; procA sits ready with no time.
	h, ok = s.ScheduleNext()
	require.True(t, ok)
	assert.Equal(t, procB, h)

	stateA, _, _ := s.ProcessState(procA)
	assert.Equal(t, StateReady, stateA)
}

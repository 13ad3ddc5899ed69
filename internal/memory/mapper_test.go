package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exokit-os/exocore/internal/resource"
	"github.com/exokit-os/exocore/internal/types"
)

const (
	procA types.Handle = 1
	procB types.Handle = 2
)

// authPairs authorizes the caller/target pairs it lists.
type authPairs map[[2]types.Handle]bool

func (a authPairs) MayMapFor(caller, target types.Handle) bool { return a[[2]types.Handle{caller, target}] }
func (a authPairs) MayShare(x, y types.Handle) bool            { return true }

func newTestMapper(t *testing.T, totalBytes uint64, auth MapAuthorizer) *Mapper {
	t.Helper()
	reg := resource.New(resource.Config{TotalBytes: totalBytes}, authPairs{})
	m := NewMapper(reg, auth)
	require.NoError(t, m.Register(procA))
	require.NoError(t, m.Register(procB))
	return m
}

func TestMapSinglePage(t *testing.T) {
	m := newTestMapper(t, 1<<20, nil)
	rw := types.FlagReadable | types.FlagWritable

	err := m.Map(procA, procA, []Entry{{Addr: 0x1000, Count: 1, Class: types.Size4K, Flags: rw}})
	require.NoError(t, err)

	mp, present := m.Lookup(procA, 0x1000)
	require.True(t, present)
	assert.Equal(t, types.Size4K, mp.Class)
	assert.Equal(t, rw, mp.Flags)

	var buf [4]types.Segment
	n := m.Segments(procA, buf[:])
	require.Equal(t, 1, n)
	assert.Equal(t, types.Segment{Addr: 0x1000, Len: types.Size4K.Bytes(), Flags: rw}, buf[0])
}

func TestMapThenUnmapRoundTrip(t *testing.T) {
	m := newTestMapper(t, 1<<20, nil)

	require.NoError(t, m.Map(procA, procA, []Entry{{Addr: 0x1000, Count: 2, Class: types.Size4K, Flags: types.FlagReadable}}))
	require.NoError(t, m.Map(procA, procA, []Entry{
		{Addr: 0x1000, Class: types.SizeNone},
		{Addr: 0x2000, Class: types.SizeNone},
	}))

	assert.Equal(t, 0, m.Segments(procA, make([]types.Segment, 4)))
	_, present := m.Lookup(procA, 0x1000)
	assert.False(t, present)
}

func TestMapBatchValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
	}{
		{
			name:    "misaligned for class",
			entries: []Entry{{Addr: 0x2000, Count: 1, Class: types.Size2M, Flags: types.FlagReadable}},
		},
		{
			name: "incompatible same-address entries",
			entries: []Entry{
				{Addr: 0x200000, Count: 1, Class: types.Size4K, Flags: types.FlagReadable},
				{Addr: 0x200000, Count: 1, Class: types.Size2M, Flags: types.FlagReadable},
			},
		},
		{
			name:    "unmap without present mapping",
			entries: []Entry{{Addr: 0x3000, Class: types.SizeNone}},
		},
		{
			name:    "zero count",
			entries: []Entry{{Addr: 0x1000, Count: 0, Class: types.Size4K, Flags: types.FlagReadable}},
		},
		{
			name:    "count over entry limit",
			entries: []Entry{{Addr: 0x1000, Count: MaxEntryCount + 1, Class: types.Size4K, Flags: types.FlagReadable}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMapper(t, 1<<30, nil)
			err := m.Map(procA, procA, tt.entries)
			require.ErrorIs(t, err, types.ErrInvalidParameter)

			// Nothing from the failed batch may be visible.
			assert.Equal(t, 0, m.Segments(procA, make([]types.Segment, 8)))
		})
	}
}

func TestMapBatchAtomicAroundValidPrefix(t *testing.T) {
	m := newTestMapper(t, 1<<30, nil)

	// The first entry alone would succeed; the second poisons the batch.
	err := m.Map(procA, procA, []Entry{
		{Addr: 0x1000, Count: 1, Class: types.Size4K, Flags: types.FlagReadable},
		{Addr: 0x200000, Count: 1, Class: types.Size2M, Flags: types.FlagReadable},
		{Addr: 0x200000, Count: 1, Class: types.Size4K, Flags: types.FlagReadable},
	})
	require.ErrorIs(t, err, types.ErrInvalidParameter)

	_, present := m.Lookup(procA, 0x1000)
	assert.False(t, present, "no entry of a failed batch may commit")
}

func TestMapLastWriteWinsForCompatibleDuplicates(t *testing.T) {
	m := newTestMapper(t, 1<<20, nil)

	err := m.Map(procA, procA, []Entry{
		{Addr: 0x1000, Count: 1, Class: types.Size4K, Flags: types.FlagReadable | types.FlagWritable},
		{Addr: 0x1000, Count: 1, Class: types.Size4K, Flags: types.FlagReadable},
	})
	require.NoError(t, err)

	mp, present := m.Lookup(procA, 0x1000)
	require.True(t, present)
	assert.Equal(t, types.FlagReadable, mp.Flags, "the later entry decides the final protection")
}

func TestMapProtectionUpdateKeepsFrame(t *testing.T) {
	m := newTestMapper(t, 1<<20, nil)

	require.NoError(t, m.Map(procA, procA, []Entry{{Addr: 0x1000, Count: 1, Class: types.Size4K, Flags: types.FlagReadable}}))
	before, _ := m.Lookup(procA, 0x1000)

	require.NoError(t, m.Map(procA, procA, []Entry{{Addr: 0x1000, Count: 1, Class: types.Size4K, Flags: types.FlagReadable | types.FlagWritable}}))
	after, present := m.Lookup(procA, 0x1000)
	require.True(t, present)
	assert.Equal(t, before.Frame, after.Frame, "protection changes reuse the backing frame")
	assert.Equal(t, types.FlagReadable|types.FlagWritable, after.Flags)
}

func TestMapRejectsClassChangeOfPresentMapping(t *testing.T) {
	m := newTestMapper(t, 1<<30, nil)

	require.NoError(t, m.Map(procA, procA, []Entry{{Addr: 0x200000, Count: 1, Class: types.Size4K, Flags: types.FlagReadable}}))
	err := m.Map(procA, procA, []Entry{{Addr: 0x200000, Count: 1, Class: types.Size2M, Flags: types.FlagReadable}})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestMapRejectsOverlapWithPresentMapping(t *testing.T) {
	tests := []struct {
		name    string
		present Entry
		overlap Entry
	}{
		{
			name:    "small page inside large mapping",
			present: Entry{Addr: 0x200000, Count: 1, Class: types.Size2M, Flags: types.FlagReadable},
			overlap: Entry{Addr: 0x201000, Count: 1, Class: types.Size4K, Flags: types.FlagReadable},
		},
		{
			name:    "large page over small mapping",
			present: Entry{Addr: 0x201000, Count: 1, Class: types.Size4K, Flags: types.FlagReadable},
			overlap: Entry{Addr: 0x200000, Count: 1, Class: types.Size2M, Flags: types.FlagReadable},
		},
		{
			name:    "page run reaching into large mapping",
			present: Entry{Addr: 0x200000, Count: 1, Class: types.Size2M, Flags: types.FlagReadable},
			overlap: Entry{Addr: 0x1fe000, Count: 3, Class: types.Size4K, Flags: types.FlagReadable},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMapper(t, 1<<24, nil)
			require.NoError(t, m.Map(procA, procA, []Entry{tt.present}))

			err := m.Map(procA, procA, []Entry{tt.overlap})
			require.ErrorIs(t, err, types.ErrInvalidParameter)

			// The present mapping stands alone; nothing overlapping landed.
			var buf [4]types.Segment
			require.Equal(t, 1, m.Segments(procA, buf[:]))
			assert.Equal(t, tt.present.Addr, buf[0].Addr)
			assert.Equal(t, tt.present.Class.Bytes(), buf[0].Len)
		})
	}
}

func TestMapRejectsOverlapWithinBatch(t *testing.T) {
	m := newTestMapper(t, 1<<24, nil)

	err := m.Map(procA, procA, []Entry{
		{Addr: 0x200000, Count: 1, Class: types.Size2M, Flags: types.FlagReadable},
		{Addr: 0x201000, Count: 1, Class: types.Size4K, Flags: types.FlagReadable},
	})
	require.ErrorIs(t, err, types.ErrInvalidParameter)
	assert.Equal(t, 0, m.Segments(procA, make([]types.Segment, 4)))
}

func TestMapAllowsDisjointMixedClasses(t *testing.T) {
	m := newTestMapper(t, 1<<24, nil)

	require.NoError(t, m.Map(procA, procA, []Entry{
		{Addr: 0x200000, Count: 1, Class: types.Size2M, Flags: types.FlagReadable},
		{Addr: 0x400000, Count: 2, Class: types.Size4K, Flags: types.FlagReadable},
	}))

	var buf [4]types.Segment
	assert.Equal(t, 2, m.Segments(procA, buf[:]))
}

func TestSegmentsNeverOverlap(t *testing.T) {
	m := newTestMapper(t, 1<<24, nil)

	require.NoError(t, m.Map(procA, procA, []Entry{{Addr: 0x200000, Count: 1, Class: types.Size2M, Flags: types.FlagReadable}}))
	_ = m.Map(procA, procA, []Entry{{Addr: 0x201000, Count: 1, Class: types.Size4K, Flags: types.FlagReadable | types.FlagWritable}})

	var buf [8]types.Segment
	n := m.Segments(procA, buf[:])
	for i := 1; i < n; i++ {
		assert.GreaterOrEqual(t, buf[i].Addr, buf[i-1].End(),
			"segment %d starts inside segment %d", i, i-1)
	}
}

func TestMapHaltsOnProtectionBookkeepingFault(t *testing.T) {
	reg := resource.New(resource.Config{TotalBytes: 1 << 20}, authPairs{})
	m := NewMapper(reg, nil)
	require.NoError(t, m.Register(procA))
	require.NoError(t, m.Map(procA, procA, []Entry{{Addr: 0x1000, Count: 1, Class: types.Size4K, Flags: types.FlagReadable}}))

	// Pull the frame out from under the mapping to corrupt the bookkeeping.
	mp, present := m.Lookup(procA, 0x1000)
	require.True(t, present)
	reg.Release(procA, mp.Frame)

	err := m.Map(procA, procA, []Entry{{Addr: 0x1000, Count: 1, Class: types.Size4K, Flags: types.FlagReadable | types.FlagWritable}})
	require.Error(t, err, "a consistency fault must surface, not pass silently")
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestMapAllocationFailureUnwinds(t *testing.T) {
	// Room for two 4KiB frames only.
	m := newTestMapper(t, 2*types.Size4K.Bytes(), nil)

	err := m.Map(procA, procA, []Entry{{Addr: 0x1000, Count: 3, Class: types.Size4K, Flags: types.FlagReadable}})
	require.ErrorIs(t, err, types.ErrOutOfMemory)

	assert.Equal(t, 0, m.Segments(procA, make([]types.Segment, 4)))

	// Every claimed frame must have been returned.
	require.NoError(t, m.Map(procA, procA, []Entry{{Addr: 0x1000, Count: 2, Class: types.Size4K, Flags: types.FlagReadable}}))
}

func TestMapForOtherProcessNeedsAuthorization(t *testing.T) {
	entries := []Entry{{Addr: 0x1000, Count: 1, Class: types.Size4K, Flags: types.FlagReadable}}

	m := newTestMapper(t, 1<<20, authPairs{})
	err := m.Map(procA, procB, entries)
	require.ErrorIs(t, err, types.ErrPermissionDenied)
	assert.Equal(t, 0, m.Segments(procB, make([]types.Segment, 4)))

	m = newTestMapper(t, 1<<20, authPairs{{procA, procB}: true})
	require.NoError(t, m.Map(procA, procB, entries))
	_, present := m.Lookup(procB, 0x1000)
	assert.True(t, present)
}

func TestMapUnknownProcess(t *testing.T) {
	m := newTestMapper(t, 1<<20, nil)
	err := m.Map(types.Handle(9), types.Handle(9), []Entry{{Addr: 0x1000, Count: 1, Class: types.Size4K, Flags: types.FlagReadable}})
	assert.ErrorIs(t, err, types.ErrNoSuchProcess)
}

func TestSegmentsCoalescesAndTruncates(t *testing.T) {
	m := newTestMapper(t, 1<<20, nil)
	r := types.FlagReadable

	require.NoError(t, m.Map(procA, procA, []Entry{
		{Addr: 0x1000, Count: 2, Class: types.Size4K, Flags: r},
		{Addr: 0x3000, Count: 1, Class: types.Size4K, Flags: r | types.FlagWritable},
		{Addr: 0x8000, Count: 1, Class: types.Size4K, Flags: r},
	}))

	var buf [8]types.Segment
	n := m.Segments(procA, buf[:])
	require.Equal(t, 3, n)
	assert.Equal(t, types.Segment{Addr: 0x1000, Len: 2 * types.Size4K.Bytes(), Flags: r}, buf[0])
	assert.Equal(t, types.Segment{Addr: 0x3000, Len: types.Size4K.Bytes(), Flags: r | types.FlagWritable}, buf[1])
	assert.Equal(t, types.Segment{Addr: 0x8000, Len: types.Size4K.Bytes(), Flags: r}, buf[2])

	// A short buffer still reports the true total.
	var short [1]types.Segment
	assert.Equal(t, 3, m.Segments(procA, short[:]))
	assert.Equal(t, uint64(0x1000), short[0].Addr)
}

func TestDeregisterReleasesFrames(t *testing.T) {
	reg := resource.New(resource.Config{TotalBytes: 1 << 20}, authPairs{})
	m := NewMapper(reg, nil)
	require.NoError(t, m.Register(procA))

	require.NoError(t, m.Map(procA, procA, []Entry{{Addr: 0x1000, Count: 2, Class: types.Size4K, Flags: types.FlagReadable}}))
	require.Equal(t, 2*types.Size4K.Bytes(), reg.UsedBy(procA))

	m.Deregister(procA)
	assert.Equal(t, uint64(0), reg.UsedBy(procA))
	assert.Equal(t, uint64(0), reg.Stats().UsedBytes)
}

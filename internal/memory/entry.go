package memory

import (
	"fmt"

	"github.com/exokit-os/exocore/internal/types"
)

// Entry is one map or unmap request. Class SizeNone marks an unmap, in
// which case Count and Flags are ignored.
type Entry struct {
	Addr  uint64          `json:"addr"`
	Count int             `json:"count"`
	Class types.SizeClass `json:"class"`
	Flags types.Flags     `json:"flags"`
}

// Unmap reports whether the entry tears a mapping down.
func (e Entry) Unmap() bool { return e.Class == types.SizeNone }

func (e Entry) String() string {
	if e.Unmap() {
		return fmt.Sprintf("unmap %#x", e.Addr)
	}
	return fmt.Sprintf("map %#x x%d %s %s", e.Addr, e.Count, e.Class, e.Flags)
}

// Wire layout of an entry, little-endian 64-bit word:
//
//	bits 63-57  adjacent-page count (7 bits)
//	bits 56-12  page-aligned address (45 bits)
//	bits 11-0   flags: bit0 readable, bit1 writable, bit2 executable,
//	            bits 3-4 size class (00 unmap, 01 4KiB, 10 2MiB, 11 2GiB)
const (
	entryCountShift = 57
	entryCountMask  = 0x7F
	entryAddrMask   = ((uint64(1) << 45) - 1) << 12
	entryFlagsMask  = 0x7
	entryClassShift = 3
	entryClassMask  = 0x3
)

// MaxEntryCount is the largest adjacent-page count one entry can carry.
const MaxEntryCount = entryCountMask

// EncodeEntry packs an entry into its wire form. Address bits outside the
// 45-bit page-aligned field are dropped.
func EncodeEntry(e Entry) uint64 {
	w := uint64(e.Count&entryCountMask) << entryCountShift
	w |= e.Addr & entryAddrMask
	w |= uint64(e.Flags) & entryFlagsMask
	w |= (uint64(e.Class) & entryClassMask) << entryClassShift
	return w
}

// DecodeEntry unpacks a wire word. It performs no validation beyond the
// field split; the mapper's validation pass owns that.
func DecodeEntry(w uint64) Entry {
	return Entry{
		Addr:  w & entryAddrMask,
		Count: int((w >> entryCountShift) & entryCountMask),
		Class: types.SizeClass((w >> entryClassShift) & entryClassMask),
		Flags: types.Flags(w & entryFlagsMask),
	}
}

// DecodeEntries unpacks a raw entry buffer as handed over by the
// architecture layer.
func DecodeEntries(words []uint64) []Entry {
	out := make([]Entry, len(words))
	for i, w := range words {
		out[i] = DecodeEntry(w)
	}
	return out
}

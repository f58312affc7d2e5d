// Package slotpage implements the on-page layout for variable-length
// records: a fixed header, a slot directory that grows up from the
// header, and a payload region that grows down from the end of the page.
//
// A SlottedPage wraps a raw page buffer (len(buf) is always the
// configured page size) and provides slot-level operations over it. The
// layout is:
//
//	[0:2]   SlotCount      (uint16 LE)
//	[2:4]   FirstFreeSlot  (uint16 LE) — hint index for slot reuse
//	[4:8]   DataStart      (uint32 LE) — payload region start, grows down
//	[8:12]  FreeSpace      (uint32 LE)
//	[12:12+8*SlotCount]    Slot directory (8 bytes per slot)
//	... free space ...
//	[DataStart:PageSize]   Record payloads grow downward
//
// Each slot-directory entry is a single 64-bit word encoding either
// empty (all zero), a live payload (offset, size, redirect-target bit),
// or a redirect to a TID on another page.
package slotpage

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	slotCountOff     = 0
	firstFreeSlotOff = slotCountOff + 2     // 2
	dataStartOff     = firstFreeSlotOff + 2 // 4
	freeSpaceOff     = dataStartOff + 4     // 8

	// HeaderSize is the byte width of the fixed page header.
	HeaderSize = freeSpaceOff + 4 // 12

	// SlotSize is the byte width of one slot-directory entry.
	SlotSize = 8
)

// ErrNoSpace is returned by Allocate/Relocate when a page cannot
// accommodate the requested payload even after compaction, surfaced for
// the caller (normally an SP-segment) to retry on a fresh page or via
// redirection.
var ErrNoSpace = errors.New("slotpage: no space on page")

// TID is a tuple identifier: the 48-bit segment-local page index in its
// high bits, the 16-bit slot index in its low bits —
// (page_local_index:u48 << 16) | slot_index:u16.
type TID uint64

// NewTID composes a TID from a segment-local page index and a slot index.
func NewTID(pageLocal uint64, slot uint16) TID {
	return TID(pageLocal<<16 | uint64(slot))
}

// PageLocal returns the segment-local page index encoded in a TID.
func (t TID) PageLocal() uint64 { return uint64(t) >> 16 }

// Slot returns the slot index encoded in a TID.
func (t TID) Slot() uint16 { return uint16(t) }

func (t TID) String() string { return fmt.Sprintf("(%d,%d)", t.PageLocal(), t.Slot()) }

// ── Slot word encoding ────────────────────────────────────────────────────

const (
	redirectFlagBit     = uint64(1) << 63
	redirectTargetBit   = uint64(1) << 62
	sizeShift           = 40
	sizeMask            = uint64(0x3FFFFF)     // 22 bits (61..40), below the redirect-target bit
	offsetMask          = uint64(0xFFFFFFFFFF) // 40 bits
	redirectPayloadMask = redirectFlagBit - 1  // low 63 bits
)

func encodeLive(offset uint64, size uint32, isRedirectTarget bool) uint64 {
	w := (uint64(size) & sizeMask) << sizeShift
	w |= offset & offsetMask
	if isRedirectTarget {
		w |= redirectTargetBit
	}
	return w
}

// encodeRedirect packs a TID into a redirect slot word. Only the low 63
// bits of the TID survive: bit 63 of the slot word is the redirect flag
// itself, so a TID's own top bit is not recoverable from a redirect slot.
func encodeRedirect(target TID) uint64 {
	return redirectFlagBit | (uint64(target) & redirectPayloadMask)
}

func isRedirectWord(w uint64) bool { return w&redirectFlagBit != 0 }
func isRedirectTargetWord(w uint64) bool {
	return !isRedirectWord(w) && w&redirectTargetBit != 0
}
func sizeOfWord(w uint64) uint32   { return uint32((w >> sizeShift) & sizeMask) }
func offsetOfWord(w uint64) uint64 { return w & offsetMask }
func redirectTIDOf(w uint64) TID   { return TID(w & redirectPayloadMask) }

// ── SlottedPage ───────────────────────────────────────────────────────────

// SlottedPage wraps a raw page buffer and provides slot-level operations.
type SlottedPage struct {
	buf      []byte
	pageSize int
}

// WrapSlottedPage wraps an existing page buffer.
func WrapSlottedPage(buf []byte) *SlottedPage {
	return &SlottedPage{buf: buf, pageSize: len(buf)}
}

// InitSlottedPage initialises a page buffer as an empty slotted page.
func InitSlottedPage(buf []byte) *SlottedPage {
	binary.LittleEndian.PutUint16(buf[slotCountOff:], 0)
	binary.LittleEndian.PutUint16(buf[firstFreeSlotOff:], 0)
	binary.LittleEndian.PutUint32(buf[dataStartOff:], uint32(len(buf)))
	binary.LittleEndian.PutUint32(buf[freeSpaceOff:], uint32(len(buf)-HeaderSize))
	return WrapSlottedPage(buf)
}

// SlotCount returns the number of slot-directory entries currently in use.
func (sp *SlottedPage) SlotCount() uint16 {
	return binary.LittleEndian.Uint16(sp.buf[slotCountOff:])
}

func (sp *SlottedPage) setSlotCount(n uint16) {
	binary.LittleEndian.PutUint16(sp.buf[slotCountOff:], n)
}

// FirstFreeSlot is a hint index for the next empty slot to try reusing.
func (sp *SlottedPage) FirstFreeSlot() uint16 {
	return binary.LittleEndian.Uint16(sp.buf[firstFreeSlotOff:])
}

func (sp *SlottedPage) setFirstFreeSlot(v uint16) {
	binary.LittleEndian.PutUint16(sp.buf[firstFreeSlotOff:], v)
}

// DataStart is the offset where the compact payload region begins.
func (sp *SlottedPage) DataStart() uint32 {
	return binary.LittleEndian.Uint32(sp.buf[dataStartOff:])
}

func (sp *SlottedPage) setDataStart(v uint32) {
	binary.LittleEndian.PutUint32(sp.buf[dataStartOff:], v)
}

// FreeSpace is the total byte count not currently committed to a live
// slot or its directory entry.
func (sp *SlottedPage) FreeSpace() uint32 {
	return binary.LittleEndian.Uint32(sp.buf[freeSpaceOff:])
}

func (sp *SlottedPage) setFreeSpace(v uint32) {
	binary.LittleEndian.PutUint32(sp.buf[freeSpaceOff:], v)
}

// slotDirEnd returns the byte offset just past the last slot entry.
func (sp *SlottedPage) slotDirEnd() uint32 {
	return uint32(HeaderSize) + uint32(sp.SlotCount())*uint32(SlotSize)
}

// FragmentedFreeSpace is the contiguous gap between the slot directory
// and the payload region — the space usable without compaction.
func (sp *SlottedPage) FragmentedFreeSpace() uint32 {
	return sp.DataStart() - sp.slotDirEnd()
}

func (sp *SlottedPage) getSlotWord(slotID uint16) uint64 {
	return binary.LittleEndian.Uint64(sp.buf[HeaderSize+int(slotID)*SlotSize:])
}

func (sp *SlottedPage) setSlotWord(slotID uint16, w uint64) {
	binary.LittleEndian.PutUint64(sp.buf[HeaderSize+int(slotID)*SlotSize:], w)
}

// IsEmpty reports whether a slot carries neither a live record nor a
// redirect — the all-zero slot word.
func (sp *SlottedPage) IsEmpty(slotID uint16) bool { return sp.getSlotWord(slotID) == 0 }

// IsRedirect reports whether a slot stores a redirect to another TID.
func (sp *SlottedPage) IsRedirect(slotID uint16) bool {
	return isRedirectWord(sp.getSlotWord(slotID))
}

// RedirectTarget returns the TID a redirect slot points at. Only valid
// when IsRedirect is true.
func (sp *SlottedPage) RedirectTarget(slotID uint16) TID {
	return redirectTIDOf(sp.getSlotWord(slotID))
}

// IsRedirectTarget reports whether a live slot is the far end of some
// other page's redirect (its payload carries an 8-byte back-reference
// prefix that SP-segment skips on read/write).
func (sp *SlottedPage) IsRedirectTarget(slotID uint16) bool {
	return isRedirectTargetWord(sp.getSlotWord(slotID))
}

// SlotPayloadSize returns a live slot's payload size in bytes.
func (sp *SlottedPage) SlotPayloadSize(slotID uint16) uint32 {
	return sizeOfWord(sp.getSlotWord(slotID))
}

// SlotOffset returns a live slot's payload offset within the page.
func (sp *SlottedPage) SlotOffset(slotID uint16) uint64 {
	return offsetOfWord(sp.getSlotWord(slotID))
}

// Payload returns the byte range backing a live slot's payload,
// including the redirect-target back-reference prefix if present.
func (sp *SlottedPage) Payload(slotID uint16) []byte {
	w := sp.getSlotWord(slotID)
	off := offsetOfWord(w)
	size := sizeOfWord(w)
	return sp.buf[off : off+uint64(size)]
}

// SetRedirect overwrites a slot to redirect to target.
func (sp *SlottedPage) SetRedirect(slotID uint16, target TID) {
	sp.setSlotWord(slotID, encodeRedirect(target))
}

// MarkRedirectTarget flips a live slot's is_redirect_target bit without
// disturbing its offset or size.
func (sp *SlottedPage) MarkRedirectTarget(slotID uint16, v bool) {
	w := sp.getSlotWord(slotID)
	sp.setSlotWord(slotID, encodeLive(offsetOfWord(w), sizeOfWord(w), v))
}

// Bytes returns the underlying page buffer.
func (sp *SlottedPage) Bytes() []byte { return sp.buf }

// ── Page operations ───────────────────────────────────────────────────────

// Allocate reserves a new slot holding size bytes of payload and returns
// its slot index. It compacts the page first if the request only fits
// in the page's total free space, not its contiguous fragment.
func (sp *SlottedPage) Allocate(size uint32) (uint16, error) {
	if uint64(size)+uint64(SlotSize) > uint64(sp.FreeSpace()) {
		return 0, ErrNoSpace
	}
	if uint64(size)+uint64(SlotSize) > uint64(sp.FragmentedFreeSpace()) {
		sp.Compactify()
	}

	slotCount := sp.SlotCount()
	ffsIdx := sp.FirstFreeSlot()
	if ffsIdx != slotCount {
		w := sp.getSlotWord(ffsIdx)
		if sizeOfWord(w) >= size {
			sp.setSlotWord(ffsIdx, encodeLive(offsetOfWord(w), size, false))
			sp.setFreeSpace(sp.FreeSpace() - size)
			sp.setFirstFreeSlot(slotCount)
			return ffsIdx, nil
		}
	}

	if ffsIdx == slotCount {
		sp.setFirstFreeSlot(slotCount + 1)
	}
	sp.setFreeSpace(sp.FreeSpace() - uint32(SlotSize))
	slotCount++
	sp.setSlotCount(slotCount)
	dataStart := sp.DataStart() - size
	sp.setDataStart(dataStart)
	sp.setFreeSpace(sp.FreeSpace() - size)
	sp.setSlotWord(slotCount-1, encodeLive(uint64(dataStart), size, false))
	return slotCount - 1, nil
}

// Relocate grows or shrinks an existing slot's payload. Shrinking never
// moves the payload; growth reuses fragmented space when available, else
// compacts first. The slot's is_redirect_target bit survives the move.
func (sp *SlottedPage) Relocate(slotID uint16, newSize uint32) error {
	w := sp.getSlotWord(slotID)
	curSize := sizeOfWord(w)
	curOffset := offsetOfWord(w)
	isTarget := isRedirectTargetWord(w)

	if uint64(newSize) > uint64(sp.FreeSpace())+uint64(curSize) {
		return ErrNoSpace
	}
	if newSize <= curSize {
		sp.setFreeSpace(sp.FreeSpace() + (curSize - newSize))
		sp.setSlotWord(slotID, encodeLive(curOffset, newSize, isTarget))
		return nil
	}

	keep := curSize
	if newSize < keep {
		keep = newSize
	}
	if newSize > sp.FragmentedFreeSpace() {
		tmp := make([]byte, keep)
		copy(tmp, sp.buf[curOffset:curOffset+uint64(keep)])
		sp.setSlotWord(slotID, 0)
		sp.Compactify()
		dataStart := sp.DataStart() - newSize
		sp.setDataStart(dataStart)
		sp.setFreeSpace(sp.FreeSpace() - newSize + curSize)
		copy(sp.buf[uint64(dataStart):uint64(dataStart)+uint64(keep)], tmp)
		sp.setSlotWord(slotID, encodeLive(uint64(dataStart), newSize, isTarget))
		return nil
	}

	dataStart := sp.DataStart() - newSize
	sp.setDataStart(dataStart)
	sp.setFreeSpace(sp.FreeSpace() - newSize + curSize)
	copy(sp.buf[uint64(dataStart):uint64(dataStart)+uint64(keep)], sp.buf[curOffset:curOffset+uint64(keep)])
	sp.setSlotWord(slotID, encodeLive(uint64(dataStart), newSize, isTarget))
	return nil
}

// Erase clears a slot. If it held the topmost payload (offset ==
// data_start), data_start and slot_count retreat past it and any
// directly-preceding already-empty slots, cascading the reclaim;
// otherwise the payload bytes are simply returned to free space. A
// redirect slot has no payload to reclaim either way.
func (sp *SlottedPage) Erase(slotID uint16) {
	w := sp.getSlotWord(slotID)
	isRedirect := isRedirectWord(w)

	var last bool
	var size uint32
	if !isRedirect {
		size = sizeOfWord(w)
		last = offsetOfWord(w) == uint64(sp.DataStart())
	}

	slotCount := sp.SlotCount()
	if last {
		slotCount--
		sp.setDataStart(sp.DataStart() + size)
		sp.setFreeSpace(sp.FreeSpace() + size + uint32(SlotSize))

		i := int(slotID) - 1
		for i >= 0 && sp.getSlotWord(uint16(i)) == 0 {
			sp.setFreeSpace(sp.FreeSpace() + uint32(SlotSize))
			slotCount--
			i--
		}
		slotID = uint16(i + 1)
	} else if !isRedirect {
		sp.setFreeSpace(sp.FreeSpace() + size)
	}
	sp.setSlotCount(slotCount)
	sp.setSlotWord(slotID, 0)

	ffs := uint32(slotID)
	if ffs > uint32(sp.SlotCount()) {
		ffs = uint32(sp.SlotCount())
	}
	sp.setFirstFreeSlot(uint16(ffs))
}

// Compactify rewrites every live, non-redirect slot's payload
// contiguously at the top of the page in directory order, reclaiming
// all fragmentation between the directory and the payload region.
// Redirect slots carry no payload and are left untouched.
func (sp *SlottedPage) Compactify() {
	tmp := make([]byte, sp.pageSize)
	copy(tmp, sp.buf)

	slotCount := sp.SlotCount()
	dataStart := uint32(sp.pageSize)
	for i := uint16(0); i < slotCount; i++ {
		w := sp.getSlotWord(i)
		if w == 0 || isRedirectWord(w) {
			continue
		}
		size := sizeOfWord(w)
		off := offsetOfWord(w)
		isTarget := isRedirectTargetWord(w)
		dataStart -= size
		copy(sp.buf[dataStart:dataStart+size], tmp[off:off+uint64(size)])
		sp.setSlotWord(i, encodeLive(uint64(dataStart), size, isTarget))
	}
	sp.setDataStart(dataStart)
}

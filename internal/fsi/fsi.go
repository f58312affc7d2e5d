// Package fsi implements the free-space inventory segment: a coarse,
// nibble-per-data-page bitmap letting an SP-segment find a page with
// enough room for a new record without scanning every data page itself.
// The encoding is linear and lossy — nibble = free_bytes/(page_size/16) —
// so a decoded value is exact only to a bucket; Find compensates by
// requiring the bucket to strictly exceed the request.
package fsi

import (
	"fmt"

	"pagedb/internal/segment"
)

// FSI tracks free space for the data pages of one table-like data
// segment, storing its own bitmap pages in a segment of its own.
type FSI struct {
	base      segment.Base
	pageSize  int
	allocated uint64 // number of FSI pages allocated so far
}

// New constructs an FSI backed by segment id over pages of pageSize bytes.
func New(id segment.ID, pages segment.PageSource, pageSize int) *FSI {
	return &FSI{base: segment.NewBase(id, pages), pageSize: pageSize}
}

// nibblesPerPage is how many data-page nibbles one FSI page holds.
func (f *FSI) nibblesPerPage() uint64 { return uint64(f.pageSize) * 2 }

func encodeFreeSpace(pageSize int, free uint32) uint8 {
	bucket := uint32(pageSize / 16)
	return uint8(free / bucket)
}

func decodeFreeSpace(pageSize int, nibble uint8) uint32 {
	bucket := uint32(pageSize / 16)
	return uint32(nibble) * bucket
}

func getUpperNibble(b byte) uint8 { return uint8(b >> 4) }
func getLowerNibble(b byte) uint8 { return uint8(b & 0x0F) }

// ensurePage allocates fresh, zeroed FSI pages until index i exists.
func (f *FSI) ensurePage(i uint64) error {
	for f.allocated <= i {
		frame, err := f.base.Pages.AllocatePage(f.base.ID)
		if err != nil {
			return fmt.Errorf("fsi: allocate page %d: %w", f.allocated, err)
		}
		f.base.Pages.UnfixPage(frame, true)
		f.allocated++
	}
	return nil
}

// Update records free's current free byte count for data page dataPage
// (a local page index within the data segment the FSI is tracking).
func (f *FSI) Update(dataPage uint64, free uint32) error {
	i := dataPage / f.nibblesPerPage()
	j := dataPage % f.nibblesPerPage()

	if err := f.ensurePage(i); err != nil {
		return err
	}
	frame, err := f.base.Pages.FixPage(f.base.PID(i), true)
	if err != nil {
		return fmt.Errorf("fsi: fix page %d: %w", i, err)
	}
	buf := frame.Bytes()
	byteIdx := j / 2
	old := buf[byteIdx]
	newNibble := encodeFreeSpace(f.pageSize, free)
	if j%2 == 0 {
		buf[byteIdx] = (newNibble << 4) | getLowerNibble(old)
	} else {
		buf[byteIdx] = (getUpperNibble(old) << 4) | newNibble
	}
	f.base.Pages.UnfixPage(frame, true)
	return nil
}

// Find returns the first data page, among the dataPageCount pages
// currently allocated, whose decoded free-space bucket strictly
// exceeds required+slotSize, and whether one was found. slotSize is the
// caller's slot-word width, added to required so the candidate page has
// room for the new slot directory entry, not just the payload.
func (f *FSI) Find(dataPageCount uint64, required uint32, slotSize uint32) (uint64, bool, error) {
	threshold := required + slotSize
	perPage := f.nibblesPerPage()

	for i := uint64(0); i*perPage < dataPageCount; i++ {
		if i >= f.allocated {
			break
		}
		frame, err := f.base.Pages.FixPage(f.base.PID(i), false)
		if err != nil {
			return 0, false, fmt.Errorf("fsi: fix page %d: %w", i, err)
		}
		buf := frame.Bytes()

		var limit uint64 = perPage
		if remaining := dataPageCount - i*perPage; remaining < limit {
			limit = remaining
		}
		for j := uint64(0); j < limit; j++ {
			b := buf[j/2]
			var fs uint32
			if j%2 == 0 {
				fs = decodeFreeSpace(f.pageSize, getUpperNibble(b))
			} else {
				fs = decodeFreeSpace(f.pageSize, getLowerNibble(b))
			}
			if fs > threshold {
				f.base.Pages.UnfixPage(frame, false)
				return i*perPage + j, true, nil
			}
		}
		f.base.Pages.UnfixPage(frame, false)
	}
	return 0, false, nil
}

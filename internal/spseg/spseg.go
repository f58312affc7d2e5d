// Package spseg implements the slotted-page segment (SP-segment): a
// record abstraction built on top of internal/slotpage and internal/fsi,
// giving callers stable tuple ids (TIDs) and transparent one-hop
// redirection when a record's growth outstrips its home page. One-hop
// indirection keeps TIDs stable under growth without page-level
// reorganisation and without unbounded pointer chains.
package spseg

import (
	"encoding/binary"
	"fmt"

	"pagedb/internal/fsi"
	"pagedb/internal/segment"
	"pagedb/internal/slotpage"
)

// Segment implements TID-addressed records over one data segment plus
// its own FSI companion segment.
type Segment struct {
	base segment.Base
	fsi  *fsi.FSI

	pageSize int

	allocatedPages uint64
}

// New constructs an SP-segment. dataSeg is the segment id the record
// pages themselves live in; fsiSeg is a distinct segment id used for
// the FSI's own bitmap pages (the FSI is a segment in its own right).
func New(dataSeg, fsiSeg segment.ID, pages segment.PageSource, pageSize int) *Segment {
	return &Segment{
		base:     segment.NewBase(dataSeg, pages),
		fsi:      fsi.New(fsiSeg, pages, pageSize),
		pageSize: pageSize,
	}
}

func tidBackref(tid slotpage.TID) [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(tid))
	return b
}

func readBackref(buf []byte) slotpage.TID {
	return slotpage.TID(binary.LittleEndian.Uint64(buf))
}

// newDataPage allocates and initialises a fresh, empty data page,
// bumping the segment's allocated-page counter.
func (s *Segment) newDataPage() (segment.Frame, uint64, error) {
	f, err := s.base.Pages.AllocatePage(s.base.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("spseg: allocate data page: %w", err)
	}
	slotpage.InitSlottedPage(f.Bytes())
	local := f.PageID().Local()
	if local >= s.allocatedPages {
		s.allocatedPages = local + 1
	}
	return f, local, nil
}

// Allocate reserves space for a new size-byte record and returns its
// TID. The FSI supplies a first-fit candidate page; on a miss a
// brand-new page is allocated.
func (s *Segment) Allocate(size uint32) (slotpage.TID, error) {
	pageLocal, ok, err := s.fsi.Find(s.allocatedPages, size, slotpage.SlotSize)
	if err != nil {
		return 0, err
	}

	if ok {
		frame, err := s.base.Pages.FixPage(s.base.PID(pageLocal), true)
		if err != nil {
			return 0, fmt.Errorf("spseg: fix page %d: %w", pageLocal, err)
		}
		sp := slotpage.WrapSlottedPage(frame.Bytes())
		slotID, err := sp.Allocate(size)
		if err != nil {
			s.base.Pages.UnfixPage(frame, false)
			return 0, err
		}
		free := sp.FreeSpace()
		s.base.Pages.UnfixPage(frame, true)
		if err := s.fsi.Update(pageLocal, free); err != nil {
			return 0, err
		}
		return slotpage.NewTID(pageLocal, slotID), nil
	}

	frame, local, err := s.newDataPage()
	if err != nil {
		return 0, err
	}
	sp := slotpage.WrapSlottedPage(frame.Bytes())
	slotID, err := sp.Allocate(size)
	if err != nil {
		s.base.Pages.UnfixPage(frame, true)
		return 0, err
	}
	free := sp.FreeSpace()
	s.base.Pages.UnfixPage(frame, true)
	if err := s.fsi.Update(local, free); err != nil {
		return 0, err
	}
	return slotpage.NewTID(local, slotID), nil
}

// Read copies up to len(out) bytes of tid's current payload into out,
// following a redirect and skipping the back-reference prefix
// transparently, and returns the number of bytes copied. Reading an
// empty slot returns 0 bytes and no error.
func (s *Segment) Read(tid slotpage.TID, out []byte) (int, error) {
	frame, err := s.base.Pages.FixPage(s.base.PID(tid.PageLocal()), false)
	if err != nil {
		return 0, fmt.Errorf("spseg: fix page %d: %w", tid.PageLocal(), err)
	}
	defer s.base.Pages.UnfixPage(frame, false)

	sp := slotpage.WrapSlottedPage(frame.Bytes())
	if sp.IsEmpty(tid.Slot()) {
		return 0, nil
	}

	if sp.IsRedirect(tid.Slot()) {
		target := sp.RedirectTarget(tid.Slot())
		tframe, err := s.base.Pages.FixPage(s.base.PID(target.PageLocal()), false)
		if err != nil {
			return 0, fmt.Errorf("spseg: fix redirect target %s: %w", target, err)
		}
		defer s.base.Pages.UnfixPage(tframe, false)
		tp := slotpage.WrapSlottedPage(tframe.Bytes())
		body := tp.Payload(target.Slot())[8:]
		n := copy(out, body)
		return n, nil
	}

	payload := sp.Payload(tid.Slot())
	if sp.IsRedirectTarget(tid.Slot()) {
		payload = payload[8:]
	}
	n := copy(out, payload)
	return n, nil
}

// Write overwrites tid's current payload with buf, truncated to the
// slot's current size (mirroring Read), following a redirect
// transparently.
func (s *Segment) Write(tid slotpage.TID, buf []byte) error {
	frame, err := s.base.Pages.FixPage(s.base.PID(tid.PageLocal()), true)
	if err != nil {
		return fmt.Errorf("spseg: fix page %d: %w", tid.PageLocal(), err)
	}
	defer s.base.Pages.UnfixPage(frame, true)

	sp := slotpage.WrapSlottedPage(frame.Bytes())
	if sp.IsEmpty(tid.Slot()) {
		return fmt.Errorf("spseg: write to empty slot %s", tid)
	}

	if sp.IsRedirect(tid.Slot()) {
		target := sp.RedirectTarget(tid.Slot())
		tframe, err := s.base.Pages.FixPage(s.base.PID(target.PageLocal()), true)
		if err != nil {
			return fmt.Errorf("spseg: fix redirect target %s: %w", target, err)
		}
		defer s.base.Pages.UnfixPage(tframe, true)
		tp := slotpage.WrapSlottedPage(tframe.Bytes())
		copy(tp.Payload(target.Slot())[8:], buf)
		return nil
	}

	payload := sp.Payload(tid.Slot())
	if sp.IsRedirectTarget(tid.Slot()) {
		payload = payload[8:]
	}
	copy(payload, buf)
	return nil
}

// Resize grows or shrinks tid's record to newLen bytes: in-place
// relocation when the home (or redirect-target) page can accommodate
// it, otherwise a fresh redirect hop. A redirect target is never
// resized directly — callers always address records via the front TID,
// so redirect chains stay exactly one hop deep.
func (s *Segment) Resize(tid slotpage.TID, newLen uint32) error {
	frame, err := s.base.Pages.FixPage(s.base.PID(tid.PageLocal()), true)
	if err != nil {
		return fmt.Errorf("spseg: fix page %d: %w", tid.PageLocal(), err)
	}
	sp := slotpage.WrapSlottedPage(frame.Bytes())

	if !sp.IsRedirect(tid.Slot()) {
		if err := sp.Relocate(tid.Slot(), newLen); err == nil {
			free := sp.FreeSpace()
			s.base.Pages.UnfixPage(frame, true)
			return s.fsi.Update(tid.PageLocal(), free)
		}
		// Doesn't fit even after compaction: move to a fresh redirect
		// target elsewhere. The target's payload starts with an 8-byte
		// back-reference to the front TID, then the user bytes.
		existing := make([]byte, sp.SlotPayloadSize(tid.Slot()))
		payload := sp.Payload(tid.Slot())
		if sp.IsRedirectTarget(tid.Slot()) {
			payload = payload[8:]
		}
		copy(existing, payload)
		s.base.Pages.UnfixPage(frame, false)

		targetTID, err := s.Allocate(newLen + 8)
		if err != nil {
			return err
		}
		if err := s.writeRedirectTargetBody(targetTID, tid, existing); err != nil {
			return err
		}

		frame, err = s.base.Pages.FixPage(s.base.PID(tid.PageLocal()), true)
		if err != nil {
			return fmt.Errorf("spseg: re-fix page %d: %w", tid.PageLocal(), err)
		}
		slotpage.WrapSlottedPage(frame.Bytes()).SetRedirect(tid.Slot(), targetTID)
		s.base.Pages.UnfixPage(frame, true)
		return nil
	}

	// tid is itself a redirect: try relocating the target in place first.
	target := sp.RedirectTarget(tid.Slot())
	s.base.Pages.UnfixPage(frame, false)

	tframe, err := s.base.Pages.FixPage(s.base.PID(target.PageLocal()), true)
	if err != nil {
		return fmt.Errorf("spseg: fix redirect target %s: %w", target, err)
	}
	tp := slotpage.WrapSlottedPage(tframe.Bytes())
	if err := tp.Relocate(target.Slot(), newLen+8); err == nil {
		free := tp.FreeSpace()
		s.base.Pages.UnfixPage(tframe, true)
		return s.fsi.Update(target.PageLocal(), free)
	}

	existing := make([]byte, tp.SlotPayloadSize(target.Slot())-8)
	copy(existing, tp.Payload(target.Slot())[8:])
	s.base.Pages.UnfixPage(tframe, false)

	newTargetTID, err := s.Allocate(newLen + 8)
	if err != nil {
		return err
	}
	if err := s.writeRedirectTargetBody(newTargetTID, tid, existing); err != nil {
		return err
	}

	if err := s.eraseSlot(target); err != nil {
		return err
	}

	frame, err = s.base.Pages.FixPage(s.base.PID(tid.PageLocal()), true)
	if err != nil {
		return fmt.Errorf("spseg: re-fix page %d: %w", tid.PageLocal(), err)
	}
	slotpage.WrapSlottedPage(frame.Bytes()).SetRedirect(tid.Slot(), newTargetTID)
	s.base.Pages.UnfixPage(frame, true)
	return nil
}

// writeRedirectTargetBody marks targetTID's slot as a redirect target
// and writes the 8-byte back-reference to origin followed by body.
func (s *Segment) writeRedirectTargetBody(targetTID, origin slotpage.TID, body []byte) error {
	frame, err := s.base.Pages.FixPage(s.base.PID(targetTID.PageLocal()), true)
	if err != nil {
		return fmt.Errorf("spseg: fix new target page %d: %w", targetTID.PageLocal(), err)
	}
	sp := slotpage.WrapSlottedPage(frame.Bytes())
	sp.MarkRedirectTarget(targetTID.Slot(), true)
	payload := sp.Payload(targetTID.Slot())
	ref := tidBackref(origin)
	copy(payload[:8], ref[:])
	copy(payload[8:], body)
	s.base.Pages.UnfixPage(frame, true)
	return nil
}

// eraseSlot erases one slot and updates its page's FSI entry, without
// interpreting whether it is a redirect or a redirect target — used
// internally once the caller has already resolved which slot to drop.
func (s *Segment) eraseSlot(t slotpage.TID) error {
	frame, err := s.base.Pages.FixPage(s.base.PID(t.PageLocal()), true)
	if err != nil {
		return fmt.Errorf("spseg: fix page %d: %w", t.PageLocal(), err)
	}
	sp := slotpage.WrapSlottedPage(frame.Bytes())
	sp.Erase(t.Slot())
	free := sp.FreeSpace()
	s.base.Pages.UnfixPage(frame, true)
	return s.fsi.Update(t.PageLocal(), free)
}

// Erase removes tid's record. For a redirect, the target slot is erased
// first (and its FSI updated) before the redirect slot itself.
func (s *Segment) Erase(tid slotpage.TID) error {
	frame, err := s.base.Pages.FixPage(s.base.PID(tid.PageLocal()), false)
	if err != nil {
		return fmt.Errorf("spseg: fix page %d: %w", tid.PageLocal(), err)
	}
	sp := slotpage.WrapSlottedPage(frame.Bytes())
	isRedirect := sp.IsRedirect(tid.Slot())
	var target slotpage.TID
	if isRedirect {
		target = sp.RedirectTarget(tid.Slot())
	}
	s.base.Pages.UnfixPage(frame, false)

	if isRedirect {
		if err := s.eraseSlot(target); err != nil {
			return err
		}
	}
	return s.eraseSlot(tid)
}

package spseg

import (
	"bytes"
	"testing"

	"pagedb/internal/buffer"
	"pagedb/internal/segment"
	"pagedb/internal/slotpage"
)

func newTestManager(t *testing.T, pageSize, pageCount int) *buffer.Manager {
	t.Helper()
	dir := t.TempDir()
	return buffer.NewManager(buffer.Config{PageSize: pageSize, PageCount: pageCount, Dir: dir})
}

func TestAllocateReadWrite(t *testing.T) {
	m := newTestManager(t, 512, 32)
	defer m.Close()
	seg := New(1, 2, m, 512)

	payload := []byte("hello, slotted page")
	tid, err := seg.Allocate(uint32(len(payload)))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := seg.Write(tid, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out := make([]byte, len(payload))
	n, err := seg.Read(tid, out)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != len(payload) || !bytes.Equal(out, payload) {
		t.Fatalf("Read = %q (%d bytes), want %q", out, n, payload)
	}
}

// TestResizeForcesRedirect allocates a record on a small page, then grows
// it past the page's remaining capacity so it must relocate via a
// redirect: the TID never changes, the
// original prefix survives, and erase frees both the redirect and the
// target.
func TestResizeForcesRedirect(t *testing.T) {
	m := newTestManager(t, 512, 32)
	defer m.Close()
	seg := New(1, 2, m, 512)

	original := bytes.Repeat([]byte{0xAB}, 100)
	tid, err := seg.Allocate(uint32(len(original)))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := seg.Write(tid, original); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// A filler record leaves the home page too full for the grow to
	// relocate in place, so Resize has to hop to another page.
	filler, err := seg.Allocate(300)
	if err != nil {
		t.Fatalf("Allocate filler: %v", err)
	}
	if filler.PageLocal() != tid.PageLocal() {
		t.Fatalf("filler landed on page %d, want %d (same page as the record)", filler.PageLocal(), tid.PageLocal())
	}

	grown := make([]byte, 400)
	copy(grown, original)
	if err := seg.Resize(tid, uint32(len(grown))); err != nil {
		t.Fatalf("Resize: %v", err)
	}

	frame, err := m.FixPage(segment.NewPageID(1, tid.PageLocal()), false)
	if err != nil {
		t.Fatalf("FixPage: %v", err)
	}
	isRedirect := slotpage.WrapSlottedPage(frame.Bytes()).IsRedirect(tid.Slot())
	m.UnfixPage(frame, false)
	if !isRedirect {
		t.Fatal("slot is not a redirect after an overflowing Resize")
	}
	if err := seg.Write(tid, grown); err != nil {
		t.Fatalf("Write after resize: %v", err)
	}

	out := make([]byte, len(grown))
	n, err := seg.Read(tid, out)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != len(grown) || !bytes.Equal(out, grown) {
		t.Fatalf("Read after grow mismatched (n=%d)", n)
	}

	if err := seg.Erase(tid); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	n, err = seg.Read(tid, out)
	if err != nil {
		t.Fatalf("Read after erase: %v", err)
	}
	if n != 0 {
		t.Fatalf("Read after erase returned %d bytes, want 0 (empty slot)", n)
	}
}

func TestBackrefRoundTrip(t *testing.T) {
	tid := slotpage.NewTID(7, 3)
	ref := tidBackref(tid)
	if got := readBackref(ref[:]); got != tid {
		t.Fatalf("readBackref(tidBackref(%v)) = %v, want %v", tid, got, tid)
	}
}

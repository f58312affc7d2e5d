package slotpage

import "testing"

func newPage(size int) *SlottedPage {
	return InitSlottedPage(make([]byte, size))
}

func TestAllocateAndPayload(t *testing.T) {
	sp := newPage(256)
	id, err := sp.Allocate(32)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	copy(sp.Payload(id), []byte("0123456789abcdef0123456789abcdef"))
	if got := string(sp.Payload(id)); got != "0123456789abcdef0123456789abcdef" {
		t.Fatalf("Payload = %q", got)
	}
	if sp.SlotCount() != 1 {
		t.Fatalf("SlotCount = %d, want 1", sp.SlotCount())
	}
}

func TestAllocateNoSpace(t *testing.T) {
	sp := newPage(64)
	if _, err := sp.Allocate(1000); err != ErrNoSpace {
		t.Fatalf("Allocate huge payload: err = %v, want ErrNoSpace", err)
	}
}

func TestAllocateForcesCompaction(t *testing.T) {
	sp := newPage(256)
	a, _ := sp.Allocate(40)
	b, _ := sp.Allocate(40)
	c, _ := sp.Allocate(40)
	bMarker := bytesRepeat('b', 40)
	cMarker := bytesRepeat('c', 40)
	copy(sp.Payload(b), bMarker)
	copy(sp.Payload(c), cMarker)

	sp.Erase(a) // a is not topmost: its hole fragments the page.

	fragBefore := sp.FragmentedFreeSpace()
	totalBefore := sp.FreeSpace()
	if fragBefore >= totalBefore {
		t.Fatalf("test setup invalid: fragmented (%d) >= total (%d), won't force compaction", fragBefore, totalBefore)
	}

	// 110 bytes fits in total free space but not in the unfragmented
	// gap, so Allocate must compact before it can succeed.
	id, err := sp.Allocate(110)
	if err != nil {
		t.Fatalf("Allocate(110): %v", err)
	}
	if got := sp.SlotPayloadSize(id); got != 110 {
		t.Fatalf("SlotPayloadSize = %d, want 110", got)
	}

	// b and c must have survived the compaction with their bytes intact.
	if got := sp.Payload(b); string(got) != string(bMarker) {
		t.Fatalf("slot b payload corrupted by compaction: %q", got)
	}
	if got := sp.Payload(c); string(got) != string(cMarker) {
		t.Fatalf("slot c payload corrupted by compaction: %q", got)
	}
}

func bytesRepeat(c byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = c
	}
	return b
}

func TestRelocateShrinkAndGrow(t *testing.T) {
	sp := newPage(256)
	id, err := sp.Allocate(50)
	if err != nil {
		t.Fatal(err)
	}
	payload := sp.Payload(id)
	for i := range payload {
		payload[i] = byte(i)
	}

	freeBefore := sp.FreeSpace()
	if err := sp.Relocate(id, 20); err != nil {
		t.Fatalf("shrink Relocate: %v", err)
	}
	if sp.FreeSpace() != freeBefore+30 {
		t.Fatalf("FreeSpace after shrink = %d, want %d", sp.FreeSpace(), freeBefore+30)
	}
	shrunk := sp.Payload(id)
	for i := 0; i < 20; i++ {
		if shrunk[i] != byte(i) {
			t.Fatalf("shrunk payload[%d] = %d, want %d", i, shrunk[i], i)
		}
	}

	if err := sp.Relocate(id, 100); err != nil {
		t.Fatalf("grow Relocate: %v", err)
	}
	grown := sp.Payload(id)
	if len(grown) != 100 {
		t.Fatalf("len(grown) = %d, want 100", len(grown))
	}
	for i := 0; i < 20; i++ {
		if grown[i] != byte(i) {
			t.Fatalf("grown payload[%d] = %d, want %d (prefix must survive growth)", i, grown[i], i)
		}
	}
}

func TestEraseReclaimsTopmostAndCascades(t *testing.T) {
	sp := newPage(256)
	a, _ := sp.Allocate(20)
	b, _ := sp.Allocate(20)
	c, _ := sp.Allocate(20)

	before := sp.FreeSpace()
	sp.Erase(c) // c is topmost: data_start and slot_count both retreat.
	if sp.SlotCount() != 2 {
		t.Fatalf("SlotCount after erasing topmost = %d, want 2", sp.SlotCount())
	}
	if sp.FreeSpace() != before+20+uint32(SlotSize) {
		t.Fatalf("FreeSpace after erasing topmost = %d, want %d", sp.FreeSpace(), before+20+uint32(SlotSize))
	}

	sp.Erase(b) // b is now topmost too; a remains live.
	if sp.IsEmpty(a) {
		t.Fatal("slot a unexpectedly empty")
	}
	if sp.SlotCount() != 1 {
		t.Fatalf("SlotCount = %d, want 1", sp.SlotCount())
	}

	// An emptied slot directly below the topmost one is reclaimed with it.
	x, _ := sp.Allocate(20)
	y, _ := sp.Allocate(20)
	sp.Erase(x) // x is not topmost: its slot stays in the directory, empty.
	if sp.SlotCount() != 3 {
		t.Fatalf("SlotCount after erasing non-topmost = %d, want 3", sp.SlotCount())
	}
	sp.Erase(y) // y is topmost: the reclaim cascades through x's empty slot.
	if sp.SlotCount() != 1 {
		t.Fatalf("SlotCount after cascading erase = %d, want 1", sp.SlotCount())
	}
	if want := uint32(256 - HeaderSize - SlotSize - 20); sp.FreeSpace() != want {
		t.Fatalf("FreeSpace after cascading erase = %d, want %d", sp.FreeSpace(), want)
	}
}

func TestRedirectSlotRoundTrip(t *testing.T) {
	sp := newPage(128)
	target := NewTID(7, 3)
	id, err := sp.Allocate(16)
	if err != nil {
		t.Fatal(err)
	}
	sp.SetRedirect(id, target)
	if !sp.IsRedirect(id) {
		t.Fatal("slot not reported as redirect after SetRedirect")
	}
	if got := sp.RedirectTarget(id); got != target {
		t.Fatalf("RedirectTarget = %v, want %v", got, target)
	}

	// Erasing a redirect slot must not touch payload free space, since
	// a redirect carries none.
	before := sp.FreeSpace()
	sp.Erase(id)
	if sp.FreeSpace() != before {
		t.Fatalf("FreeSpace changed on redirect erase: %d -> %d", before, sp.FreeSpace())
	}
}

func TestMarkRedirectTarget(t *testing.T) {
	sp := newPage(128)
	id, _ := sp.Allocate(16)
	sp.MarkRedirectTarget(id, true)
	if !sp.IsRedirectTarget(id) {
		t.Fatal("IsRedirectTarget = false after marking")
	}
	if sp.SlotPayloadSize(id) != 16 {
		t.Fatalf("SlotPayloadSize changed by marking: %d", sp.SlotPayloadSize(id))
	}
}

func TestWrapSeesInitState(t *testing.T) {
	buf := make([]byte, 256)
	InitSlottedPage(buf)
	sp := WrapSlottedPage(buf)
	if sp.SlotCount() != 0 {
		t.Fatalf("SlotCount = %d, want 0", sp.SlotCount())
	}
	if sp.DataStart() != 256 {
		t.Fatalf("DataStart = %d, want 256", sp.DataStart())
	}
	if sp.FreeSpace() != 256-HeaderSize {
		t.Fatalf("FreeSpace = %d, want %d", sp.FreeSpace(), 256-HeaderSize)
	}
}

package fsi

import (
	"testing"

	"pagedb/internal/buffer"
)

func newTestManager(t *testing.T, pageSize, pageCount int) *buffer.Manager {
	t.Helper()
	dir := t.TempDir()
	return buffer.NewManager(buffer.Config{PageSize: pageSize, PageCount: pageCount, Dir: dir})
}

func TestUpdateThenFind(t *testing.T) {
	m := newTestManager(t, 256, 32)
	defer m.Close()
	f := New(1, m, 256)

	// bucket size = pageSize/16 = 16 bytes; page 0 nearly full, page 1 roomy.
	if err := f.Update(0, 10); err != nil {
		t.Fatalf("Update(0): %v", err)
	}
	if err := f.Update(1, 200); err != nil {
		t.Fatalf("Update(1): %v", err)
	}

	id, ok, err := f.Find(2, 100, 8)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !ok || id != 1 {
		t.Fatalf("Find(100) = (%d, %v), want (1, true)", id, ok)
	}

	if _, ok, err := f.Find(2, 1000, 8); err != nil {
		t.Fatalf("Find: %v", err)
	} else if ok {
		t.Fatal("Find(1000) unexpectedly found a page")
	}
}

func TestUpdateOverwritesOnlyItsOwnNibble(t *testing.T) {
	// Two adjacent data pages (0 and 1) pack into the high/low nibbles
	// of the same FSI byte; writing one must not disturb the other.
	m := newTestManager(t, 256, 32)
	defer m.Close()
	f := New(2, m, 256)

	if err := f.Update(0, 240); err != nil {
		t.Fatal(err)
	}
	if err := f.Update(1, 16); err != nil {
		t.Fatal(err)
	}
	if err := f.Update(0, 32); err != nil {
		t.Fatal(err)
	}

	id, ok, err := f.Find(2, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || id != 0 {
		t.Fatalf("Find after rewrite = (%d, %v), want (0, true)", id, ok)
	}

	// Page 0's rewrite (32/16 = 2) must leave page 1's nibble (16/16 = 1).
	frame, err := m.FixPage(f.base.PID(0), false)
	if err != nil {
		t.Fatal(err)
	}
	b := frame.Bytes()[0]
	m.UnfixPage(frame, false)
	if b != 0x21 {
		t.Fatalf("FSI byte 0 = %#x, want 0x21 (page 0 nibble 2, page 1 nibble 1)", b)
	}
}

func TestFindAcrossFSIPageBoundary(t *testing.T) {
	// nibblesPerPage for a 64-byte page is 128; force a data page index
	// that lands in the second FSI page.
	m := newTestManager(t, 64, 64)
	defer m.Close()
	f := New(3, m, 64)

	dataPage := uint64(200) // 200 / 128 = FSI page 1
	if err := f.Update(dataPage, 60); err != nil {
		t.Fatalf("Update(%d): %v", dataPage, err)
	}

	id, ok, err := f.Find(dataPage+1, 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || id != dataPage {
		t.Fatalf("Find = (%d, %v), want (%d, true)", id, ok, dataPage)
	}
}
